package tree

import (
	"encoding/json"

	clone "github.com/huandu/go-clone"
	"github.com/pkg/errors"
)

const RootID = "root"

var (
	ErrNotFound    = errors.New("node not found")
	ErrDuplicateID = errors.New("duplicate node id")
	ErrRootDelete  = errors.New("cannot delete the root node")
)

// Tree is the single owning handle to a brain root node. Everything else
// reaches nodes through its lookup and traversal methods and must not hold on
// to node pointers across a store save, since a save replaces the tree.
//
// Tree is not safe for concurrent use. store.Store serializes access.
type Tree struct {
	root *Node
}

// New wraps an existing root node.
func New(root *Node) *Tree {
	return &Tree{root: root}
}

// NewEmpty returns a tree that only holds a root node.
func NewEmpty() *Tree {
	return &Tree{root: NewNode(RootID, KindRoot, "")}
}

func (t *Tree) Root() *Node {
	return t.root
}

// FindByID searches depth-first and returns the first match, or nil.
func (t *Tree) FindByID(id string) *Node {
	if t == nil || t.root == nil {
		return nil
	}
	return findByID(t.root, id)
}

func findByID(n *Node, id string) *Node {
	if n.ID == id {
		return n
	}
	for _, c := range n.Children {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

// DeleteByID removes the node and its subtree. It reports whether a node was
// removed. The root itself cannot be removed.
func (t *Tree) DeleteByID(id string) bool {
	if t == nil || t.root == nil || t.root.ID == id {
		return false
	}
	return deleteByID(t.root, id)
}

func deleteByID(n *Node, id string) bool {
	if n.RemoveChild(id) {
		return true
	}
	for _, c := range n.Children {
		if deleteByID(c, id) {
			return true
		}
	}
	return false
}

// CollectAll returns every node in pre-order. The result is a fresh slice on
// every call.
func (t *Tree) CollectAll() []*Node {
	var ret []*Node
	t.Walk(func(n *Node, _ int) bool {
		ret = append(ret, n)
		return true
	})
	return ret
}

// DirectChild returns the child of parent with the given id, without
// descending further.
func (t *Tree) DirectChild(parent *Node, id string) *Node {
	return parent.Child(id)
}

// Walk visits nodes in pre-order. Returning false from fn skips the subtree
// of the visited node.
func (t *Tree) Walk(fn func(n *Node, depth int) bool) {
	if t == nil || t.root == nil {
		return
	}
	walk(t.root, 0, fn)
}

func walk(n *Node, depth int, fn func(*Node, int) bool) {
	if !fn(n, depth) {
		return
	}
	for _, c := range n.Children {
		walk(c, depth+1, fn)
	}
}

// AddChild appends n under the node with parentID.
func (t *Tree) AddChild(parentID string, n *Node) error {
	parent := t.FindByID(parentID)
	if parent == nil {
		return errors.Wrapf(ErrNotFound, "parent %q", parentID)
	}
	if t.FindByID(n.ID) != nil {
		return errors.Wrapf(ErrDuplicateID, "node %q", n.ID)
	}
	parent.Append(n)
	return nil
}

// Len returns the number of nodes including the root.
func (t *Tree) Len() int {
	count := 0
	t.Walk(func(*Node, int) bool {
		count++
		return true
	})
	return count
}

// Clone returns a deep copy that shares no nodes with t.
func (t *Tree) Clone() *Tree {
	if t == nil || t.root == nil {
		return NewEmpty()
	}
	return &Tree{root: clone.Clone(t.root).(*Node)}
}

// Validate checks the structural invariants: a root of kind Root, no other
// Root nodes, and ids unique across the tree.
func (t *Tree) Validate() error {
	if t == nil || t.root == nil {
		return errors.New("tree has no root")
	}
	if t.root.Kind != KindRoot {
		return errors.Errorf("root node %q has kind %s", t.root.ID, t.root.Kind)
	}
	seen := map[string]struct{}{}
	var err error
	t.Walk(func(n *Node, depth int) bool {
		if err != nil {
			return false
		}
		if depth > 0 && n.Kind == KindRoot {
			err = errors.Errorf("nested root node %q", n.ID)
			return false
		}
		if _, ok := seen[n.ID]; ok {
			err = errors.Wrapf(ErrDuplicateID, "node %q", n.ID)
			return false
		}
		seen[n.ID] = struct{}{}
		return true
	})
	return err
}

func (t *Tree) MarshalJSON() ([]byte, error) {
	if t.root == nil {
		return []byte("null"), nil
	}
	return json.Marshal(t.root)
}

func (t *Tree) UnmarshalJSON(b []byte) error {
	var root Node
	if err := json.Unmarshal(b, &root); err != nil {
		return err
	}
	t.root = &root
	return nil
}

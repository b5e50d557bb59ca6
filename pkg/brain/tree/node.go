package tree

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Kind is the structural role of a node in the brain tree.
type Kind int

const (
	KindRoot Kind = iota
	KindOperator
	KindHolder
	KindStream
	KindLeaf
)

var kindNames = map[Kind]string{
	KindRoot:     "ROOT",
	KindOperator: "OPERATOR",
	KindHolder:   "HOLDER",
	KindStream:   "STREAM",
	KindLeaf:     "LEAF",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "UNKNOWN"
}

func (k Kind) MarshalText() ([]byte, error) {
	s, ok := kindNames[k]
	if !ok {
		return nil, errors.Errorf("unknown node kind %d", int(k))
	}
	return []byte(s), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	s := strings.ToUpper(strings.TrimSpace(string(b)))
	// older brain files spell streams "STEAM"
	if s == "STEAM" {
		s = "STREAM"
	}
	for kind, name := range kindNames {
		if name == s {
			*k = kind
			return nil
		}
	}
	return errors.Errorf("unknown node kind %q", string(b))
}

// Node is a single element of the brain tree. Children are owned exclusively
// by their parent and keep insertion order.
type Node struct {
	ID       string  `json:"id"`
	Kind     Kind    `json:"kind"`
	Content  string  `json:"content"`
	Children []*Node `json:"children"`
}

func NewNode(id string, kind Kind, content string) *Node {
	return &Node{ID: id, Kind: kind, Content: content}
}

// MarshalJSON always emits a children array so that empty holders survive a
// round trip unchanged.
func (n *Node) MarshalJSON() ([]byte, error) {
	type alias Node
	a := alias(*n)
	if a.Children == nil {
		a.Children = []*Node{}
	}
	return json.Marshal(a)
}

// Child returns the direct child with the given id, or nil.
func (n *Node) Child(id string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Append adds c as the last child of n.
func (n *Node) Append(c *Node) {
	n.Children = append(n.Children, c)
}

// RemoveChild detaches the direct child with the given id.
func (n *Node) RemoveChild(id string) bool {
	for i, c := range n.Children {
		if c.ID == id {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
			return true
		}
	}
	return false
}

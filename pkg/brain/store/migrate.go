package store

import (
	"fmt"

	"github.com/go-go-golems/pocketbrain/pkg/brain/tree"
	"github.com/google/uuid"
)

// Well-known node ids. The presence of these ids is the schema version of a
// brain file.
const (
	IDRoot          = tree.RootID
	IDChatHistory   = "chatHistory"
	IDMemoryHistory = "memoryHistory"
	IDModelState    = "modelState"
	IDSystemLogs    = "systemLogs"
	IDSavedTTS      = "savedTTS"

	legacyIDModelState = "modelSate"

	SystemLogsContent     = `{"title":"System Logs","sessions":[]}`
	MemoryCategoryContent = `{"messages":[]}`
)

// MemoryCategories are the Stream nodes kept under memoryHistory.
var MemoryCategories = []string{
	"family",
	"friends",
	"work",
	"health",
	"education",
	"entertainment",
	"other",
}

type holderSpec struct {
	id      string
	kind    tree.Kind
	content string
}

var wellKnownHolders = []holderSpec{
	{IDChatHistory, tree.KindHolder, ""},
	{IDMemoryHistory, tree.KindHolder, ""},
	{IDModelState, tree.KindHolder, ""},
	{IDSystemLogs, tree.KindHolder, SystemLogsContent},
	{IDSavedTTS, tree.KindHolder, ""},
}

// Migrate makes sure every well-known holder and memory category exists.
// Existing nodes and their content are left alone, so running it twice is a
// no-op. It reports whether the tree changed.
func Migrate(t *tree.Tree) bool {
	changed := false
	root := t.Root()

	if legacy := t.FindByID(legacyIDModelState); legacy != nil && t.FindByID(IDModelState) == nil {
		legacy.ID = IDModelState
		changed = true
	}

	for _, h := range wellKnownHolders {
		if t.FindByID(h.id) != nil {
			continue
		}
		root.Append(tree.NewNode(h.id, h.kind, h.content))
		changed = true
	}

	memory := t.FindByID(IDMemoryHistory)
	for _, category := range MemoryCategories {
		if t.FindByID(category) != nil {
			continue
		}
		memory.Append(tree.NewNode(category, tree.KindStream, MemoryCategoryContent))
		changed = true
	}

	return changed
}

// Repair fixes structural defects of a decoded tree in place and returns a
// description of each fix. Content is never dropped: duplicate ids are
// renamed rather than removed.
func Repair(t *tree.Tree) []string {
	var fixes []string
	root := t.Root()
	if root == nil {
		*t = *tree.NewEmpty()
		return []string{"missing root replaced"}
	}
	if root.ID == "" {
		root.ID = tree.RootID
		fixes = append(fixes, "root id restored")
	}
	if root.Kind != tree.KindRoot {
		fixes = append(fixes, fmt.Sprintf("root kind %s set to ROOT", root.Kind))
		root.Kind = tree.KindRoot
	}

	seen := map[string]struct{}{}
	t.Walk(func(n *tree.Node, depth int) bool {
		if depth > 0 && n.Kind == tree.KindRoot {
			n.Kind = tree.KindHolder
			fixes = append(fixes, fmt.Sprintf("nested root %q demoted to HOLDER", n.ID))
		}
		if n.ID == "" {
			n.ID = uuid.NewString()
			fixes = append(fixes, fmt.Sprintf("empty id replaced with %q", n.ID))
		}
		if _, ok := seen[n.ID]; ok {
			old := n.ID
			n.ID = old + "-" + uuid.NewString()
			fixes = append(fixes, fmt.Sprintf("duplicate id %q renamed to %q", old, n.ID))
		}
		seen[n.ID] = struct{}{}
		return true
	})
	return fixes
}

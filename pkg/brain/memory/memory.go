// Package memory manages the long-term memory categories stored as Stream
// nodes under the memoryHistory holder.
package memory

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-go-golems/pocketbrain/pkg/brain/store"
	"github.com/go-go-golems/pocketbrain/pkg/brain/tree"
	"github.com/google/uuid"
	"github.com/iancoleman/strcase"
	"github.com/pkg/errors"
)

var ErrUnknownCategory = errors.New("unknown memory category")

type Entry struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"createdAt"`
}

type content struct {
	Messages []Entry `json:"messages"`
}

type Manager struct {
	backend store.Backend
	now     func() time.Time
}

func New(backend store.Backend) *Manager {
	return &Manager{backend: backend, now: time.Now}
}

// Categories lists the known category ids.
func Categories() []string {
	return append([]string(nil), store.MemoryCategories...)
}

// NormalizeCategory maps user input such as "Family" or " WORK " to a
// category id.
func NormalizeCategory(name string) (string, error) {
	id := strcase.ToSnake(strings.TrimSpace(name))
	for _, c := range store.MemoryCategories {
		if c == id {
			return c, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownCategory, "%q", name)
}

func categoryNode(t *tree.Tree, category string) (*tree.Node, error) {
	n := t.DirectChild(t.FindByID(store.IDMemoryHistory), category)
	if n == nil {
		return nil, errors.Wrapf(tree.ErrNotFound, "memory category %q", category)
	}
	return n, nil
}

func decode(n *tree.Node) (*content, error) {
	var c content
	if strings.TrimSpace(n.Content) == "" {
		return &c, nil
	}
	if err := json.Unmarshal([]byte(n.Content), &c); err != nil {
		return nil, errors.Wrapf(err, "memory category %s", n.ID)
	}
	return &c, nil
}

func encode(n *tree.Node, c *content) error {
	if c.Messages == nil {
		c.Messages = []Entry{}
	}
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	n.Content = string(b)
	return nil
}

// Get returns the entries of a category, oldest first.
func (m *Manager) Get(category string) ([]Entry, error) {
	id, err := NormalizeCategory(category)
	if err != nil {
		return nil, err
	}
	var ret []Entry
	err = m.backend.View(func(t *tree.Tree) error {
		n, err := categoryNode(t, id)
		if err != nil {
			return err
		}
		c, err := decode(n)
		if err != nil {
			return err
		}
		ret = c.Messages
		return nil
	})
	return ret, err
}

// Append adds text to a category and returns the new entry.
func (m *Manager) Append(ctx context.Context, category string, text string) (Entry, error) {
	id, err := NormalizeCategory(category)
	if err != nil {
		return Entry{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Entry{}, errors.New("memory text is empty")
	}
	entry := Entry{ID: uuid.NewString(), Text: text, CreatedAt: m.now().UnixMilli()}
	err = m.mutate(ctx, id, func(c *content) {
		c.Messages = append(c.Messages, entry)
	})
	return entry, err
}

// Set replaces all entries of a category.
func (m *Manager) Set(ctx context.Context, category string, entries []Entry) error {
	id, err := NormalizeCategory(category)
	if err != nil {
		return err
	}
	return m.mutate(ctx, id, func(c *content) {
		c.Messages = append([]Entry(nil), entries...)
	})
}

// Remove deletes a single entry. It reports whether the entry existed.
func (m *Manager) Remove(ctx context.Context, category string, entryID string) (bool, error) {
	id, err := NormalizeCategory(category)
	if err != nil {
		return false, err
	}
	found := false
	err = m.mutate(ctx, id, func(c *content) {
		for i, e := range c.Messages {
			if e.ID == entryID {
				c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
				found = true
				return
			}
		}
	})
	return found, err
}

// Clear empties a category.
func (m *Manager) Clear(ctx context.Context, category string) error {
	return m.Set(ctx, category, nil)
}

func (m *Manager) mutate(ctx context.Context, category string, fn func(c *content)) error {
	return m.backend.Update(ctx, func(t *tree.Tree) error {
		n, err := categoryNode(t, category)
		if err != nil {
			return err
		}
		c, err := decode(n)
		if err != nil {
			return err
		}
		fn(c)
		return encode(n, c)
	})
}

package conversation

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/go-go-golems/pocketbrain/pkg/brain/store"
	"github.com/go-go-golems/pocketbrain/pkg/brain/tree"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrConversationNotFound = errors.New("conversation not found")

// Record is the content of a conversation leaf under chatHistory.
type Record struct {
	Title         string     `json:"title"`
	Timestamp     int64      `json:"timestamp"`
	Conversations []*Message `json:"conversations"`
}

type Summary struct {
	ID           string
	Title        string
	Timestamp    time.Time
	MessageCount int
}

// Index exposes the conversations stored in the brain tree. It keeps no
// cache: every read is derived from the tree held by the store, which is
// itself reloaded from disk after every write.
type Index struct {
	backend store.Backend
	now     func() time.Time
	logger  zerolog.Logger
}

type IndexOption func(*Index)

func WithIndexClock(now func() time.Time) IndexOption {
	return func(i *Index) {
		i.now = now
	}
}

func NewIndex(backend store.Backend, options ...IndexOption) *Index {
	ret := &Index{
		backend: backend,
		now:     time.Now,
		logger:  log.With().Str("component", "conversation-index").Logger(),
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func decodeRecord(n *tree.Node) (*Record, error) {
	var r Record
	if err := json.Unmarshal([]byte(n.Content), &r); err != nil {
		return nil, errors.Wrapf(err, "conversation %s", n.ID)
	}
	return &r, nil
}

func chatHistory(t *tree.Tree) (*tree.Node, error) {
	n := t.FindByID(store.IDChatHistory)
	if n == nil {
		return nil, errors.Wrap(tree.ErrNotFound, store.IDChatHistory)
	}
	return n, nil
}

// List returns summaries of all conversations, newest first.
func (i *Index) List(ctx context.Context) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ret []Summary
	err := i.backend.View(func(t *tree.Tree) error {
		holder, err := chatHistory(t)
		if err != nil {
			return err
		}
		for _, n := range holder.Children {
			if n.Kind != tree.KindLeaf {
				continue
			}
			r, err := decodeRecord(n)
			if err != nil {
				i.logger.Warn().Err(err).Str("id", n.ID).Msg("Skipping unreadable conversation")
				continue
			}
			ret = append(ret, Summary{
				ID:           n.ID,
				Title:        r.Title,
				Timestamp:    time.UnixMilli(r.Timestamp),
				MessageCount: len(r.Conversations),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(ret, func(a, b int) bool {
		return ret[a].Timestamp.After(ret[b].Timestamp)
	})
	return ret, nil
}

// Get returns the stored record of a conversation.
func (i *Index) Get(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ret *Record
	err := i.backend.View(func(t *tree.Tree) error {
		holder, err := chatHistory(t)
		if err != nil {
			return err
		}
		n := t.DirectChild(holder, id)
		if n == nil {
			return errors.Wrapf(ErrConversationNotFound, "%q", id)
		}
		ret, err = decodeRecord(n)
		return err
	})
	return ret, err
}

// Upsert overwrites the conversation with the given id in place, or appends
// a new leaf when id is empty or unknown. It returns the id of the written
// node.
func (i *Index) Upsert(ctx context.Context, id string, messages []*Message, title string) (string, error) {
	if messages == nil {
		messages = []*Message{}
	}
	b, err := json.Marshal(&Record{
		Title:         title,
		Timestamp:     i.now().UnixMilli(),
		Conversations: messages,
	})
	if err != nil {
		return "", errors.Wrap(err, "could not encode conversation")
	}

	written := id
	err = i.backend.Update(ctx, func(t *tree.Tree) error {
		holder, err := chatHistory(t)
		if err != nil {
			return err
		}
		if id != "" {
			if n := t.DirectChild(holder, id); n != nil {
				n.Content = string(b)
				return nil
			}
		}
		written = uuid.NewString()
		holder.Append(tree.NewNode(written, tree.KindLeaf, string(b)))
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "could not save conversation")
	}
	i.logger.Debug().Str("id", written).Int("messages", len(messages)).Msg("Saved conversation")
	return written, nil
}

// Delete removes a conversation. It reports whether it existed.
func (i *Index) Delete(ctx context.Context, id string) (bool, error) {
	found := false
	err := i.backend.Update(ctx, func(t *tree.Tree) error {
		holder, err := chatHistory(t)
		if err != nil {
			return err
		}
		found = holder.RemoveChild(id)
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, "could not delete conversation")
	}
	return found, nil
}

package conversation

import (
	"context"
	"sync"

	clone "github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrMessageNotFound = errors.New("message not found")

// Chat is the conversation currently open in a session. It owns the message
// list; the brain tree only ever holds its JSON projection, written by Save.
//
// All methods are safe for concurrent use: the generation pipeline updates
// the streaming message from its own goroutines.
type Chat struct {
	index  *Index
	logger zerolog.Logger

	mu       sync.RWMutex
	id       string
	title    string
	messages []*Message
}

func NewChat(index *Index) *Chat {
	return &Chat{
		index:  index,
		logger: log.With().Str("component", "chat").Logger(),
	}
}

// ID is the conversation node id, empty until the first save.
func (c *Chat) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

func (c *Chat) Title() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.title
}

func (c *Chat) SetTitle(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.title = title
}

// Messages returns deep copies of the current messages.
func (c *Chat) Messages() []*Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneMessages(c.messages)
}

func (c *Chat) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Message returns a copy of the message with the given id.
func (c *Chat) Message(id string) (*Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m := c.find(id); m != nil {
		return clone.Clone(m).(*Message), true
	}
	return nil, false
}

func (c *Chat) find(id string) *Message {
	for _, m := range c.messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (c *Chat) Append(messages ...*Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, messages...)
}

// Update applies fn to the message with the given id under the chat lock.
func (c *Chat) Update(id string, fn func(m *Message)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.find(id)
	if m == nil {
		return errors.Wrapf(ErrMessageNotFound, "%q", id)
	}
	fn(m)
	return nil
}

// DeleteMessage removes a message from the in-memory list.
func (c *Chat) DeleteMessage(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, m := range c.messages {
		if m.ID == id {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			return true
		}
	}
	return false
}

// TruncateAfter drops every message after the one with the given id.
func (c *Chat) TruncateAfter(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, m := range c.messages {
		if m.ID == id {
			c.messages = c.messages[:i+1]
			return true
		}
	}
	return false
}

// Reset starts a new, unsaved conversation.
func (c *Chat) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = ""
	c.title = ""
	c.messages = nil
}

// Load replaces the current conversation with a stored one.
func (c *Chat) Load(ctx context.Context, id string) error {
	r, err := c.index.Get(ctx, id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
	c.title = r.Title
	c.messages = r.Conversations
	c.logger.Debug().Str("id", id).Int("messages", len(r.Conversations)).Msg("Loaded conversation")
	return nil
}

// EnsureTitle generates a title from the first user message once the chat
// has at least one exchange. It reports whether a title was set.
func (c *Chat) EnsureTitle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.title != "" || len(c.messages) < 2 {
		return false
	}
	for _, m := range c.messages {
		if m.Role == RoleUser && m.Text != "" {
			c.title = TitleFromText(m.Text)
			return true
		}
	}
	return false
}

// Save writes the conversation through the index. Empty chats are not
// stored.
func (c *Chat) Save(ctx context.Context) error {
	c.mu.RLock()
	id, title, messages := c.id, c.title, cloneMessages(c.messages)
	c.mu.RUnlock()

	if len(messages) == 0 {
		return nil
	}
	if title == "" {
		title = DefaultTitle
	}
	written, err := c.index.Upsert(ctx, id, messages, title)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.id = written
	c.mu.Unlock()
	return nil
}

// Delete removes a stored conversation, resetting the chat when it is the
// current one.
func (c *Chat) Delete(ctx context.Context, id string) (bool, error) {
	found, err := c.index.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if id == c.ID() {
		c.Reset()
	}
	return found, nil
}

// LatestCode returns the code canvas of the newest assistant message that
// has one.
func (c *Chat) LatestCode() []CodeBlock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		m := c.messages[i]
		if m.Role == RoleAssistant && len(m.CodeCanvas) > 0 {
			return append([]CodeBlock(nil), m.CodeCanvas...)
		}
	}
	return nil
}

func cloneMessages(messages []*Message) []*Message {
	ret := make([]*Message, 0, len(messages))
	for _, m := range messages {
		ret = append(ret, clone.Clone(m).(*Message))
	}
	return ret
}

package engine

import (
	"context"

	"github.com/invopop/jsonschema"
)

// Engine streams a model response for a request. Implementations push
// chunks on out until the response is complete, ctx is cancelled, or an
// error occurs. Engines never close out; the caller owns it.
type Engine interface {
	GenerateStreaming(ctx context.Context, req Request, out chan<- Chunk) error
}

// Loader is implemented by engines that need an explicit model load before
// the first request.
type Loader interface {
	IsLoaded() bool
	Load(ctx context.Context) error
}

// Stopper is implemented by engines holding resources outside ctx that
// must be released when a generation is cancelled.
type Stopper interface {
	Stop() error
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolDefinition represents a tool that can be called by AI models
type ToolDefinition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

type Request struct {
	MessageID string `json:"message_id,omitempty"`
	// Prompt is the fully rendered prompt for completion-style models.
	Prompt string `json:"prompt"`
	// Messages carries the same history for chat-style models.
	Messages []Message       `json:"messages,omitempty"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
}

// ChatMessages returns the chat history, falling back to the rendered
// prompt as a single user turn.
func (r Request) ChatMessages() []Message {
	if len(r.Messages) > 0 {
		return r.Messages
	}
	return []Message{{Role: "user", Content: r.Prompt}}
}

type ToolCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Chunk is one unit of model output: either a token or a tool call.
type Chunk struct {
	Token    string    `json:"token,omitempty"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
}

// Send pushes c on out unless ctx is done first.
func Send(ctx context.Context, out chan<- Chunk, c Chunk) error {
	select {
	case out <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

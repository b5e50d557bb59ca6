package engine

import (
	"context"
)

// CallbackFunc is the shape of engines that report output through callbacks
// instead of a channel.
type CallbackFunc func(ctx context.Context, req Request, onToken func(string), onToolCalled func(ToolCall)) error

type callbackEngine struct {
	fn CallbackFunc
}

// FromCallbacks adapts a callback-style engine to Engine. Output produced
// after ctx is done is dropped.
func FromCallbacks(fn CallbackFunc) Engine {
	return &callbackEngine{fn: fn}
}

func (c *callbackEngine) GenerateStreaming(ctx context.Context, req Request, out chan<- Chunk) error {
	onToken := func(token string) {
		_ = Send(ctx, out, Chunk{Token: token})
	}
	onToolCalled := func(call ToolCall) {
		_ = Send(ctx, out, Chunk{ToolCall: &call})
	}
	if err := c.fn(ctx, req, onToken, onToolCalled); err != nil {
		return err
	}
	return ctx.Err()
}

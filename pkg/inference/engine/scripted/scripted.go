// Package scripted provides a deterministic engine that replays a fixed
// sequence of chunks. It backs the tests and the offline demo mode.
package scripted

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-go-golems/pocketbrain/pkg/inference/engine"
)

type Engine struct {
	Chunks []engine.Chunk
	// Delay is slept between chunks.
	Delay time.Duration
	// Err is returned after all chunks were sent.
	Err error
	// Hold keeps the stream open after the last chunk until ctx is done.
	Hold bool
	// NeedsLoad makes the engine report IsLoaded false until Load is called.
	NeedsLoad bool

	loaded  atomic.Bool
	stopped atomic.Int32

	mu       sync.Mutex
	requests []engine.Request
}

var _ engine.Engine = (*Engine)(nil)
var _ engine.Loader = (*Engine)(nil)
var _ engine.Stopper = (*Engine)(nil)

// Tokens builds an engine emitting each string as one token.
func Tokens(tokens ...string) *Engine {
	chunks := make([]engine.Chunk, 0, len(tokens))
	for _, t := range tokens {
		chunks = append(chunks, engine.Chunk{Token: t})
	}
	return &Engine{Chunks: chunks}
}

// WithToolCall appends a tool call chunk.
func (e *Engine) WithToolCall(name string, arguments string) *Engine {
	e.Chunks = append(e.Chunks, engine.Chunk{ToolCall: &engine.ToolCall{Name: name, Arguments: arguments}})
	return e
}

func (e *Engine) GenerateStreaming(ctx context.Context, req engine.Request, out chan<- engine.Chunk) error {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()

	for _, c := range e.Chunks {
		if e.Delay > 0 {
			select {
			case <-time.After(e.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := engine.Send(ctx, out, c); err != nil {
			return err
		}
	}
	if e.Err != nil {
		return e.Err
	}
	if e.Hold {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (e *Engine) IsLoaded() bool {
	return !e.NeedsLoad || e.loaded.Load()
}

func (e *Engine) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.loaded.Store(true)
	return nil
}

func (e *Engine) Stop() error {
	e.stopped.Add(1)
	return nil
}

// Stops returns how often Stop was called.
func (e *Engine) Stops() int {
	return int(e.stopped.Load())
}

// Requests returns the requests seen so far.
func (e *Engine) Requests() []engine.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]engine.Request(nil), e.requests...)
}

// Echo returns an engine that answers with the last user message, after a
// short think block. It is the offline demo engine.
func Echo() engine.Engine {
	return engine.FromCallbacks(func(ctx context.Context, req engine.Request, onToken func(string), _ func(engine.ToolCall)) error {
		msgs := req.ChatMessages()
		last := msgs[len(msgs)-1].Content
		onToken("<think>")
		onToken("echoing the user")
		onToken("</think>")
		for _, w := range strings.SplitAfter(last, " ") {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			onToken(w)
		}
		return nil
	})
}

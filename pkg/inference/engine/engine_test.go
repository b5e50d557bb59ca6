package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, e Engine, ctx context.Context, req Request) ([]Chunk, error) {
	t.Helper()
	out := make(chan Chunk, 16)
	err := e.GenerateStreaming(ctx, req, out)
	close(out)
	var chunks []Chunk
	for c := range out {
		chunks = append(chunks, c)
	}
	return chunks, err
}

func TestFromCallbacksForwardsTokensAndToolCalls(t *testing.T) {
	e := FromCallbacks(func(ctx context.Context, req Request, onToken func(string), onToolCalled func(ToolCall)) error {
		onToken("hel")
		onToken("lo")
		onToolCalled(ToolCall{Name: "time.now", Arguments: "{}"})
		return nil
	})

	chunks, err := collect(t, e, context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "hel", chunks[0].Token)
	assert.Equal(t, "lo", chunks[1].Token)
	require.NotNil(t, chunks[2].ToolCall)
	assert.Equal(t, "time.now", chunks[2].ToolCall.Name)
}

func TestFromCallbacksPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	e := FromCallbacks(func(context.Context, Request, func(string), func(ToolCall)) error {
		return boom
	})
	_, err := collect(t, e, context.Background(), Request{})
	assert.ErrorIs(t, err, boom)
}

func TestFromCallbacksDropsOutputAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := FromCallbacks(func(ctx context.Context, req Request, onToken func(string), _ func(ToolCall)) error {
		cancel()
		// unbuffered send would block forever without the ctx check
		onToken("late")
		return nil
	})

	out := make(chan Chunk)
	err := e.GenerateStreaming(ctx, Request{}, out)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChatMessagesFallsBackToPrompt(t *testing.T) {
	r := Request{Prompt: "User: hi"}
	assert.Equal(t, []Message{{Role: "user", Content: "User: hi"}}, r.ChatMessages())

	r.Messages = []Message{{Role: "system", Content: "s"}}
	assert.Equal(t, "system", r.ChatMessages()[0].Role)
}

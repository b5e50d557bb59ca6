package openai

import (
	"context"
	"io"
	"sort"

	"github.com/go-go-golems/pocketbrain/pkg/inference/engine"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

// OpenAIEngine streams chat completions from any OpenAI-compatible endpoint.
type OpenAIEngine struct {
	client *go_openai.Client
	model  string
}

var _ engine.Engine = (*OpenAIEngine)(nil)

func NewOpenAIEngine(apiKey string, baseURL string, model string) (*OpenAIEngine, error) {
	if model == "" {
		return nil, errors.New("no model specified")
	}
	config := go_openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIEngine{
		client: go_openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

func (e *OpenAIEngine) GenerateStreaming(ctx context.Context, req engine.Request, out chan<- engine.Chunk) error {
	creq := MakeCompletionRequest(e.model, req)
	log.Debug().Str("model", e.model).Int("messages", len(creq.Messages)).Int("tools", len(creq.Tools)).Msg("OpenAI stream started")

	stream, err := e.client.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		return errors.Wrap(err, "could not start openai stream")
	}
	defer stream.Close()

	merger := NewToolCallMerger()
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return errors.Wrap(err, "openai stream")
		}
		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta
		if delta.Content != "" {
			if err := engine.Send(ctx, out, engine.Chunk{Token: delta.Content}); err != nil {
				return err
			}
		}
		merger.AddToolCalls(delta.ToolCalls)
	}

	for _, call := range merger.GetToolCalls() {
		tc := &engine.ToolCall{Name: call.Function.Name, Arguments: call.Function.Arguments}
		if err := engine.Send(ctx, out, engine.Chunk{ToolCall: tc}); err != nil {
			return err
		}
	}
	return nil
}

func MakeCompletionRequest(model string, req engine.Request) go_openai.ChatCompletionRequest {
	var messages []go_openai.ChatCompletionMessage
	for _, m := range req.ChatMessages() {
		messages = append(messages, go_openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	var tools []go_openai.Tool
	for _, t := range req.Tools {
		tools = append(tools, go_openai.Tool{
			Type: go_openai.ToolTypeFunction,
			Function: &go_openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return go_openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		Tools:    tools,
	}
}

// ToolCallMerger accumulates streamed tool call deltas by index.
type ToolCallMerger struct {
	toolCalls map[int]go_openai.ToolCall
}

func NewToolCallMerger() *ToolCallMerger {
	return &ToolCallMerger{
		toolCalls: make(map[int]go_openai.ToolCall),
	}
}

func (tcm *ToolCallMerger) AddToolCalls(toolCalls []go_openai.ToolCall) {
	for _, call := range toolCalls {
		index := 0
		if call.Index != nil {
			index = *call.Index
		}
		if existing, found := tcm.toolCalls[index]; found {
			existing.Function.Name += call.Function.Name
			existing.Function.Arguments += call.Function.Arguments
			tcm.toolCalls[index] = existing
		} else {
			tcm.toolCalls[index] = call
		}
	}
}

// GetToolCalls returns the merged calls ordered by index.
func (tcm *ToolCallMerger) GetToolCalls() []go_openai.ToolCall {
	indices := make([]int, 0, len(tcm.toolCalls))
	for i := range tcm.toolCalls {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	result := make([]go_openai.ToolCall, 0, len(indices))
	for _, i := range indices {
		result = append(result, tcm.toolCalls[i])
	}
	return result
}

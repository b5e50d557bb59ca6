package ollama

import (
	"context"
	"sync/atomic"

	"github.com/go-go-golems/pocketbrain/pkg/inference/engine"
	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// OllamaEngine streams chat responses from a local Ollama server. The server
// address comes from OLLAMA_HOST.
type OllamaEngine struct {
	client  *api.Client
	model   string
	options map[string]interface{}
	loaded  atomic.Bool
}

var _ engine.Engine = (*OllamaEngine)(nil)
var _ engine.Loader = (*OllamaEngine)(nil)

func NewOllamaEngine(model string, options map[string]interface{}) (*OllamaEngine, error) {
	if model == "" {
		return nil, errors.New("no model specified")
	}
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, errors.Wrap(err, "could not create ollama client")
	}
	return &OllamaEngine{client: client, model: model, options: options}, nil
}

func (e *OllamaEngine) IsLoaded() bool {
	return e.loaded.Load()
}

// Load asks the server to load the model by sending an empty chat.
func (e *OllamaEngine) Load(ctx context.Context) error {
	stream := false
	req := &api.ChatRequest{Model: e.model, Messages: []api.Message{}, Stream: &stream}
	err := e.client.Chat(ctx, req, func(api.ChatResponse) error { return nil })
	if err != nil {
		return errors.Wrapf(err, "could not load model %s", e.model)
	}
	e.loaded.Store(true)
	return nil
}

func (e *OllamaEngine) GenerateStreaming(ctx context.Context, req engine.Request, out chan<- engine.Chunk) error {
	messages := []api.Message{}
	for _, m := range req.ChatMessages() {
		messages = append(messages, api.Message{Role: m.Role, Content: m.Content})
	}
	stream := true
	creq := &api.ChatRequest{
		Model:    e.model,
		Messages: messages,
		Stream:   &stream,
		Options:  e.options,
	}
	log.Debug().Str("model", e.model).Int("messages", len(messages)).Msg("Ollama stream started")

	err := e.client.Chat(ctx, creq, func(resp api.ChatResponse) error {
		if resp.Done {
			return nil
		}
		if resp.Message.Content == "" {
			return nil
		}
		return engine.Send(ctx, out, engine.Chunk{Token: resp.Message.Content})
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrap(err, "ollama chat")
	}
	e.loaded.Store(true)
	return nil
}

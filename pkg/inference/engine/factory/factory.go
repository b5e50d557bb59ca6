package factory

import (
	"os"
	"strings"

	"github.com/go-go-golems/pocketbrain/pkg/inference/engine"
	"github.com/go-go-golems/pocketbrain/pkg/inference/engine/ollama"
	"github.com/go-go-golems/pocketbrain/pkg/inference/engine/openai"
	"github.com/go-go-golems/pocketbrain/pkg/inference/engine/scripted"
	"github.com/pkg/errors"
)

const (
	KindScripted = "scripted"
	KindOllama   = "ollama"
	KindOpenAI   = "openai"
)

type Settings struct {
	Kind    string
	Model   string
	BaseURL string
	APIKey  string
}

// SupportedKinds returns the engine kinds NewEngine accepts.
func SupportedKinds() []string {
	return []string{KindScripted, KindOllama, KindOpenAI}
}

// NewEngine creates an engine for s.Kind. An empty kind selects the offline
// scripted echo engine.
func NewEngine(s Settings) (engine.Engine, error) {
	kind := strings.ToLower(strings.TrimSpace(s.Kind))
	switch kind {
	case "", KindScripted:
		return scripted.Echo(), nil
	case KindOllama:
		if s.BaseURL != "" {
			if err := os.Setenv("OLLAMA_HOST", s.BaseURL); err != nil {
				return nil, errors.Wrap(err, "could not set OLLAMA_HOST")
			}
		}
		return ollama.NewOllamaEngine(s.Model, nil)
	case KindOpenAI:
		if s.APIKey == "" {
			return nil, errors.New("missing api key for openai engine")
		}
		return openai.NewOpenAIEngine(s.APIKey, s.BaseURL, s.Model)
	default:
		return nil, errors.Errorf("unsupported engine kind %q", s.Kind)
	}
}

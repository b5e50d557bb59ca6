package factory

import (
	"testing"

	"github.com/go-go-golems/pocketbrain/pkg/inference/engine/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngineDefaultsToScripted(t *testing.T) {
	e, err := NewEngine(Settings{})
	require.NoError(t, err)
	assert.NotNil(t, e)
}

func TestNewEngineOpenAI(t *testing.T) {
	e, err := NewEngine(Settings{Kind: "OpenAI", Model: "gpt-4o-mini", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &openai.OpenAIEngine{}, e)
}

func TestNewEngineOpenAIWithoutKey(t *testing.T) {
	_, err := NewEngine(Settings{Kind: KindOpenAI, Model: "m"})
	assert.Error(t, err)
}

func TestNewEngineUnknownKind(t *testing.T) {
	e, err := NewEngine(Settings{Kind: "llamafile"})
	assert.Nil(t, e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported engine kind")
}

func TestSupportedKinds(t *testing.T) {
	assert.ElementsMatch(t, []string{KindScripted, KindOllama, KindOpenAI}, SupportedKinds())
}

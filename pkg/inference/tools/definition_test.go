package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testContextKey string

type testInput struct {
	Value int `json:"value"`
}

func TestToolFuncExecute_SupportsContextAndInputSignature(t *testing.T) {
	key := testContextKey("tool-test-key")
	def, err := NewToolFromFunc("ctx_input_tool", "test",
		func(ctx context.Context, in testInput) (int, error) {
			if ctx.Value(key) != "ok" {
				return 0, nil
			}
			return in.Value + 1, nil
		})
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), key, "ok")
	out, err := def.Function.ExecuteWithContext(ctx, []byte(`{"value":41}`))
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestNewToolFromFuncRejectsBadSignatures(t *testing.T) {
	_, err := NewToolFromFunc("x", "", 42)
	assert.Error(t, err)
	_, err = NewToolFromFunc("x", "", func(a, b int) int { return a + b })
	assert.Error(t, err)
	_, err = NewToolFromFunc("x", "", func() (int, int) { return 0, 0 })
	assert.Error(t, err)
}

func TestNewToolFromFuncReflectsSchema(t *testing.T) {
	def, err := NewToolFromFunc("t", "d", func(in MemoryRememberInput) (string, error) { return in.Text, nil })
	require.NoError(t, err)

	b, err := json.Marshal(def.Parameters)
	require.NoError(t, err)
	var schema map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &schema))

	assert.Equal(t, "object", schema["type"])
	assert.NotContains(t, schema, "$schema")
	props := schema["properties"].(map[string]interface{})
	assert.Contains(t, props, "category")
	assert.Contains(t, props, "text")
	assert.ElementsMatch(t, []interface{}{"category", "text"}, schema["required"])
}

func TestBuildDefinition(t *testing.T) {
	defs := BuildDefinition(PluginTool{
		Plugin:      "weather",
		ToolName:    "forecast",
		Description: "Weather forecast",
		Args: map[string]interface{}{
			"city":   "Paris",
			"days":   3,
			"lat":    48.8,
			"metric": true,
			"note":   nil,
		},
	})
	require.Len(t, defs, 1)

	b, err := json.Marshal(defs)
	require.NoError(t, err)
	assert.JSONEq(t, `[{
		"type": "function",
		"function": {
			"name": "forecast",
			"description": "Weather forecast",
			"parameters": {
				"type": "object",
				"properties": {
					"city": {"type": "string"},
					"days": {"type": "number"},
					"lat": {"type": "number"},
					"metric": {"type": "boolean"},
					"note": {"type": "string"}
				},
				"required": ["city", "days", "lat", "metric"]
			}
		}
	}]`, string(b))
}

func TestWireName(t *testing.T) {
	assert.Equal(t, "memory_recall", WireName("memory.recall"))
	assert.Equal(t, "time_now", (ToolDefinition{Name: "time.now"}).ToEngine().Name)
}

func TestValidateArgs(t *testing.T) {
	def := PluginTool{ToolName: "forecast", Args: map[string]interface{}{"city": "Paris", "days": 1}}.Definition()

	assert.NoError(t, ValidateArgs(def, map[string]interface{}{"city": "Lyon", "days": 2}))

	err := ValidateArgs(def, map[string]interface{}{"city": 5})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "forecast", verr.Tool)
	assert.GreaterOrEqual(t, len(verr.Problems), 2)
}

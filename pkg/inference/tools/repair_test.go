package tools

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepair(t *testing.T) {
	tests := []struct {
		name     string
		fallback string
		payload  string
		want     Call
	}{
		{
			name:    "tool_calls array takes first entry",
			payload: `{"tool_calls":[{"name":"search","arguments":{"q":"x"}},{"name":"other","arguments":{}}]}`,
			want:    Call{Tool: "search", Args: map[string]interface{}{"q": "x"}},
		},
		{
			name:    "tool_calls arguments as json string",
			payload: `{"tool_calls":[{"name":"search","arguments":"{\"q\":\"y\"}"}]}`,
			want:    Call{Tool: "search", Args: map[string]interface{}{"q": "y"}},
		},
		{
			name:     "tool_calls entry without name uses fallback",
			fallback: "selected",
			payload:  `{"tool_calls":[{"arguments":{"a":1}}]}`,
			want:     Call{Tool: "selected", Args: map[string]interface{}{"a": float64(1)}},
		},
		{
			name:    "flat tool and args",
			payload: `{"tool":"time.now","args":{"timezone":"UTC"}}`,
			want:    Call{Tool: "time.now", Args: map[string]interface{}{"timezone": "UTC"}},
		},
		{
			name:     "anything else is wrapped",
			fallback: "memory.recall",
			payload:  `{"category":"work"}`,
			want:     Call{Tool: "memory.recall", Args: map[string]interface{}{"category": "work"}},
		},
		{
			name:     "empty tool_calls array is wrapped",
			fallback: "x",
			payload:  `{"tool_calls":[]}`,
			want:     Call{Tool: "x", Args: map[string]interface{}{"tool_calls": []interface{}{}}},
		},
		{
			name:     "empty payload",
			fallback: "time.now",
			payload:  "  ",
			want:     Call{Tool: "time.now", Args: map[string]interface{}{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Repair(tt.fallback, tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRepairRejectsNonDocuments(t *testing.T) {
	for _, payload := range []string{`not json`, `[1,2]`, `"text"`, `null`, `{"a":`} {
		_, err := Repair("t", payload)
		require.Error(t, err, payload)
		var repairErr *RepairError
		assert.True(t, errors.As(err, &repairErr), payload)
	}
}

package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Call is the canonical tool invocation after repair.
type Call struct {
	Tool string                 `json:"tool"`
	Args map[string]interface{} `json:"args"`
}

// RepairError is returned when a tool payload is not a JSON document.
type RepairError struct {
	Payload string
	Err     error
}

func (e *RepairError) Error() string {
	return fmt.Sprintf("tool call parsing failed: %v", e.Err)
}

func (e *RepairError) Unwrap() error {
	return e.Err
}

// payload shapes, tried in order
type toolCallsPayload struct {
	ToolCalls []struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"tool_calls"`
}

type flatPayload struct {
	Tool *string         `json:"tool"`
	Args json.RawMessage `json:"args"`
}

// Repair normalizes a model's tool payload. The accepted shapes are a
// tool_calls array (first entry wins), a flat {tool, args} object, or any
// other object, which becomes the args of fallbackName. An empty payload
// counts as an empty object.
func Repair(fallbackName string, rawArgs string) (Call, error) {
	payload := strings.TrimSpace(rawArgs)
	if payload == "" {
		payload = "{}"
	}

	var root map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &root); err != nil {
		return Call{}, &RepairError{Payload: rawArgs, Err: err}
	}
	if root == nil {
		return Call{}, &RepairError{Payload: rawArgs, Err: fmt.Errorf("payload is null")}
	}

	if _, ok := root["tool_calls"]; ok {
		var tc toolCallsPayload
		if err := json.Unmarshal([]byte(payload), &tc); err == nil && len(tc.ToolCalls) > 0 {
			first := tc.ToolCalls[0]
			name := strings.TrimSpace(first.Name)
			if name == "" {
				name = fallbackName
			}
			return Call{Tool: name, Args: decodeArguments(first.Arguments)}, nil
		}
	}

	if _, hasTool := root["tool"]; hasTool {
		if _, hasArgs := root["args"]; hasArgs {
			var flat flatPayload
			if err := json.Unmarshal([]byte(payload), &flat); err == nil && flat.Tool != nil {
				if args, ok := decodeObject(flat.Args); ok {
					return Call{Tool: *flat.Tool, Args: args}, nil
				}
			}
		}
	}

	args := map[string]interface{}{}
	if err := json.Unmarshal([]byte(payload), &args); err != nil {
		return Call{}, &RepairError{Payload: rawArgs, Err: err}
	}
	return Call{Tool: fallbackName, Args: args}, nil
}

// decodeArguments accepts an object or a JSON string holding an object.
// Anything else yields empty args.
func decodeArguments(raw json.RawMessage) map[string]interface{} {
	if args, ok := decodeObject(raw); ok {
		return args
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if args, ok := decodeObject(json.RawMessage(s)); ok {
			return args
		}
	}
	return map[string]interface{}{}
}

func decodeObject(raw json.RawMessage) (map[string]interface{}, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var args map[string]interface{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, false
	}
	return args, true
}

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/go-go-golems/pocketbrain/pkg/inference/engine"
	"github.com/iancoleman/strcase"
	"github.com/invopop/jsonschema"
	"github.com/rs/zerolog/log"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ToolDefinition represents a tool that can be called by AI models
type ToolDefinition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
	// Plugin is the handle passed to the Runner. Built-in tools leave it empty.
	Plugin   string    `json:"plugin,omitempty"`
	Function *ToolFunc `json:"-"`
}

// WireName is the name offered to models, which reject dots in function
// names: "memory.recall" becomes "memory_recall".
func WireName(name string) string {
	return strcase.ToSnake(name)
}

func (d ToolDefinition) ToEngine() engine.ToolDefinition {
	return engine.ToolDefinition{
		Name:        WireName(d.Name),
		Description: d.Description,
		Parameters:  d.Parameters,
	}
}

// ToolFunc wraps a Go function taking (Input) or (context.Context, Input).
type ToolFunc struct {
	fn        reflect.Value
	withCtx   bool
	inputType reflect.Type
}

var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
var errorType = reflect.TypeOf((*error)(nil)).Elem()

// NewToolFromFunc creates a ToolDefinition from a Go function. The
// parameters schema is reflected from the input struct.
func NewToolFromFunc(name, description string, fn interface{}) (*ToolDefinition, error) {
	funcType := reflect.TypeOf(fn)
	if funcType == nil || funcType.Kind() != reflect.Func {
		return nil, fmt.Errorf("provided value is not a function")
	}
	if funcType.NumOut() == 0 || funcType.NumOut() > 2 {
		return nil, fmt.Errorf("function must return (result) or (result, error)")
	}
	if funcType.NumOut() == 2 && !funcType.Out(1).Implements(errorType) {
		return nil, fmt.Errorf("second return value must be an error")
	}

	tf := &ToolFunc{fn: reflect.ValueOf(fn)}
	switch funcType.NumIn() {
	case 0:
	case 1:
		if funcType.In(0) == contextType {
			tf.withCtx = true
		} else {
			tf.inputType = funcType.In(0)
		}
	case 2:
		if funcType.In(0) != contextType {
			return nil, fmt.Errorf("two-arg tool function must be (context.Context, Input)")
		}
		tf.withCtx = true
		tf.inputType = funcType.In(1)
	default:
		return nil, fmt.Errorf("function must take (Input) or (context.Context, Input)")
	}

	return &ToolDefinition{
		Name:        name,
		Description: description,
		Parameters:  reflectSchema(tf.inputType),
		Function:    tf,
	}, nil
}

func reflectSchema(inputType reflect.Type) *jsonschema.Schema {
	if inputType == nil {
		return &jsonschema.Schema{Type: "object", Properties: orderedmap.New[string, *jsonschema.Schema]()}
	}
	reflector := jsonschema.Reflector{
		// Expand definitions inline instead of using $refs
		DoNotReference: true,
		Anonymous:      true,
	}
	schema := reflector.Reflect(reflect.New(inputType).Elem().Interface())
	schema.Version = ""
	if schema.Type == "" && schema.Ref == "" {
		schema.Type = "object"
	}
	return schema
}

// ExecuteWithContext decodes args into the input type and calls the function.
func (tf *ToolFunc) ExecuteWithContext(ctx context.Context, args []byte) (interface{}, error) {
	var in []reflect.Value
	if tf.withCtx {
		in = append(in, reflect.ValueOf(ctx))
	}
	if tf.inputType != nil {
		input := reflect.New(tf.inputType)
		if len(args) > 0 {
			if err := json.Unmarshal(args, input.Interface()); err != nil {
				return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
			}
		}
		in = append(in, input.Elem())
	}
	log.Debug().Int("args_len", len(args)).Bool("with_ctx", tf.withCtx).Msg("tools: executing function")
	return extractResults(tf.fn.Call(in))
}

func extractResults(results []reflect.Value) (interface{}, error) {
	result := results[0].Interface()
	if len(results) == 1 || results[1].IsNil() {
		return result, nil
	}
	return result, results[1].Interface().(error)
}

// PluginTool is a tool declared by an external plugin. Args maps each
// argument name to a sample value whose type drives the schema.
type PluginTool struct {
	Plugin      string                 `json:"plugin"`
	ToolName    string                 `json:"toolName"`
	Description string                 `json:"description"`
	Args        map[string]interface{} `json:"args"`
}

// FunctionDefinition is the wire shape of a tool handed to the model.
type FunctionDefinition struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

type FunctionSpec struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

// BuildParameters maps each declared argument to a primitive schema type.
// Arguments with a non-nil sample value are required.
func BuildParameters(args map[string]interface{}) *jsonschema.Schema {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	properties := orderedmap.New[string, *jsonschema.Schema]()
	required := []string{}
	for _, k := range keys {
		v := args[k]
		properties.Set(k, &jsonschema.Schema{Type: primitiveType(v)})
		if v != nil {
			required = append(required, k)
		}
	}
	return &jsonschema.Schema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

func primitiveType(v interface{}) string {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return "number"
	case bool:
		return "boolean"
	default:
		return "string"
	}
}

// Definition turns a plugin tool into a registry entry.
func (p PluginTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        p.ToolName,
		Description: p.Description,
		Parameters:  BuildParameters(p.Args),
		Plugin:      p.Plugin,
	}
}

// BuildDefinition returns the single-entry function list the model expects.
func BuildDefinition(tool PluginTool) []FunctionDefinition {
	def := tool.Definition()
	return []FunctionDefinition{{
		Type: "function",
		Function: FunctionSpec{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
		},
	}}
}

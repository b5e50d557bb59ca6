package tools

import (
	"context"
	"encoding/json"
)

// Result is the raw payload handed back by a tool. A payload with an
// "error" key is a failure; anything else is a success.
type Result map[string]interface{}

// Failure returns the failure message, if any.
func (r Result) Failure() (string, bool) {
	v, ok := r["error"]
	if !ok {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	b, _ := json.Marshal(v)
	return string(b), true
}

// Runner executes a repaired call inside the plugin identified by plugin.
// onResult is called at most once, possibly from another goroutine after Run
// has returned nil.
type Runner interface {
	Run(ctx context.Context, plugin string, call Call, onResult func(Result)) error
}

// Error codes carried in failure results.
const (
	CodeParseFailed   = "parse_failed"
	CodeNotFound      = "not_found"
	CodeNotAllowed    = "not_allowed"
	CodeInvalidArgs   = "invalid_args"
	CodeExecution     = "execution_failed"
	CodeNoResult      = "no_result"
	CodeToolsDisabled = "tools_disabled"
)

// ErrorResult builds the failure shape {ok:false, error:code, meta}.
func ErrorResult(code string, meta map[string]interface{}) Result {
	if meta == nil {
		meta = map[string]interface{}{}
	}
	return Result{"ok": false, "error": code, "meta": meta}
}

// FuncRunner runs tools registered with a Go function.
type FuncRunner struct {
	registry ToolRegistry
}

var _ Runner = (*FuncRunner)(nil)

func NewFuncRunner(registry ToolRegistry) *FuncRunner {
	return &FuncRunner{registry: registry}
}

func (f *FuncRunner) Run(ctx context.Context, _ string, call Call, onResult func(Result)) error {
	def, err := f.registry.GetTool(call.Tool)
	if err != nil || def.Function == nil {
		onResult(ErrorResult(CodeNotFound, map[string]interface{}{"tool": call.Tool}))
		return nil
	}
	args, err := json.Marshal(call.Args)
	if err != nil {
		onResult(ErrorResult(CodeInvalidArgs, map[string]interface{}{"tool": call.Tool, "message": err.Error()}))
		return nil
	}
	out, err := def.Function.ExecuteWithContext(ctx, args)
	if err != nil {
		onResult(ErrorResult(CodeExecution, map[string]interface{}{"tool": call.Tool, "message": err.Error()}))
		return nil
	}
	onResult(Result{"ok": true, "result": out})
	return nil
}

package tools

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/pocketbrain/pkg/inference/engine"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Outcome is the result of one tool execution.
type Outcome struct {
	Call     Call
	Result   Result
	Duration time.Duration
	// Err is set when the call could not be repaired or the runner failed.
	Err error
}

// Failed reports whether the tool produced an error payload.
func (o Outcome) Failed() bool {
	if o.Err != nil {
		return true
	}
	_, failed := o.Result.Failure()
	return failed
}

// ErrorMessage returns the message attached to a failed outcome.
func (o Outcome) ErrorMessage() string {
	if msg, ok := o.Result.Failure(); ok {
		return msg
	}
	if o.Err != nil {
		return o.Err.Error()
	}
	return ""
}

// Output is the JSON rendering of the result payload.
func (o Outcome) Output() string {
	b, err := json.Marshal(o.Result)
	if err != nil {
		return ""
	}
	return string(b)
}

// Orchestrator repairs, validates and runs model tool calls.
type Orchestrator struct {
	registry *InMemoryToolRegistry
	runner   Runner
	config   ToolConfig
	logger   zerolog.Logger

	mu       sync.RWMutex
	selected string
}

type OrchestratorOption func(*Orchestrator)

func WithRunner(r Runner) OrchestratorOption {
	return func(o *Orchestrator) {
		o.runner = r
	}
}

func WithConfig(c ToolConfig) OrchestratorOption {
	return func(o *Orchestrator) {
		o.config = c
	}
}

// NewOrchestrator creates an orchestrator over registry. Without
// WithRunner, registered Go functions are run in process.
func NewOrchestrator(registry *InMemoryToolRegistry, options ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		config:   DefaultToolConfig(),
		logger:   log.With().Str("component", "tools").Logger(),
	}
	for _, opt := range options {
		opt(o)
	}
	if o.runner == nil {
		o.runner = NewFuncRunner(registry)
	}
	return o
}

func (o *Orchestrator) Config() ToolConfig {
	return o.config
}

func (o *Orchestrator) Registry() *InMemoryToolRegistry {
	return o.registry
}

// SelectTool pins a tool. Its name becomes the fallback for unnamed calls
// and it is the only tool offered to the model.
func (o *Orchestrator) SelectTool(name string) error {
	resolved, ok := o.registry.Resolve(name)
	if !ok {
		return errors.Wrap(ErrToolNotFound, name)
	}
	name = resolved
	if !o.config.IsToolAllowed(name) {
		return errors.Errorf("tool not allowed: %s", name)
	}
	o.mu.Lock()
	o.selected = name
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) ClearTool() {
	o.mu.Lock()
	o.selected = ""
	o.mu.Unlock()
}

func (o *Orchestrator) Selected() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.selected
}

// Definitions returns the tools to hand to the model.
func (o *Orchestrator) Definitions() []engine.ToolDefinition {
	if !o.config.Enabled {
		return nil
	}
	selected := o.Selected()
	var ret []engine.ToolDefinition
	for _, def := range o.registry.ListTools() {
		if selected != "" && def.Name != selected {
			continue
		}
		if !o.config.IsToolAllowed(def.Name) {
			continue
		}
		ret = append(ret, def.ToEngine())
	}
	return ret
}

// Execute repairs the raw payload and runs the resulting call, then waits
// for the runner's result until ctx or the execution timeout ends. Failures
// are reported in the outcome, never as a panic or a lost call.
func (o *Orchestrator) Execute(ctx context.Context, rawName string, rawArgs string) Outcome {
	start := time.Now()
	finish := func(out Outcome) Outcome {
		out.Duration = time.Since(start)
		ev := o.logger.Debug()
		if out.Failed() {
			ev = o.logger.Warn().Str("error", out.ErrorMessage())
		}
		ev.Str("tool", out.Call.Tool).Dur("duration", out.Duration).Msg("Tool executed")
		return out
	}

	if !o.config.Enabled {
		return finish(Outcome{Call: Call{Tool: rawName}, Result: ErrorResult(CodeToolsDisabled, nil)})
	}

	fallback := strings.TrimSpace(rawName)
	if fallback == "" {
		fallback = o.Selected()
	}
	call, err := Repair(fallback, rawArgs)
	if err != nil {
		return finish(Outcome{
			Call:   Call{Tool: fallback},
			Result: ErrorResult(CodeParseFailed, map[string]interface{}{"message": err.Error()}),
			Err:    err,
		})
	}

	if name, ok := o.registry.Resolve(call.Tool); ok {
		call.Tool = name
	}
	if !o.config.IsToolAllowed(call.Tool) {
		return finish(Outcome{Call: call, Result: ErrorResult(CodeNotAllowed, map[string]interface{}{"tool": call.Tool})})
	}
	def, err := o.registry.GetTool(call.Tool)
	if err != nil {
		return finish(Outcome{Call: call, Result: ErrorResult(CodeNotFound, map[string]interface{}{"tool": call.Tool})})
	}
	if o.config.StrictArgs {
		if err := ValidateArgs(*def, call.Args); err != nil {
			meta := map[string]interface{}{"tool": call.Tool, "message": err.Error()}
			return finish(Outcome{Call: call, Result: ErrorResult(CodeInvalidArgs, meta)})
		}
	}

	runCtx := ctx
	if o.config.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.config.ExecutionTimeout)
		defer cancel()
	}

	// runners may answer after Run has returned; only the first result counts
	var once sync.Once
	results := make(chan Result, 1)
	err = o.runner.Run(runCtx, def.Plugin, call, func(r Result) {
		once.Do(func() { results <- r })
	})
	if err != nil {
		return finish(Outcome{
			Call:   call,
			Result: ErrorResult(CodeExecution, map[string]interface{}{"tool": call.Tool, "message": err.Error()}),
			Err:    errors.Wrapf(err, "running tool %s", call.Tool),
		})
	}

	select {
	case r := <-results:
		return finish(Outcome{Call: call, Result: r})
	case <-runCtx.Done():
		select {
		case r := <-results:
			return finish(Outcome{Call: call, Result: r})
		default:
		}
		meta := map[string]interface{}{"tool": call.Tool, "message": runCtx.Err().Error()}
		return finish(Outcome{Call: call, Result: ErrorResult(CodeNoResult, meta)})
	}
}

// Package pipeline runs one streaming generation: it builds the prompt,
// drives the model stream, classifies tokens into visible and thought text,
// publishes batched snapshots, runs tool calls, and finalizes the in-flight
// message whether the run completes, fails, or is cancelled.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/pocketbrain/pkg/brain/applog"
	"github.com/go-go-golems/pocketbrain/pkg/conversation"
	"github.com/go-go-golems/pocketbrain/pkg/events"
	"github.com/go-go-golems/pocketbrain/pkg/helpers"
	"github.com/go-go-golems/pocketbrain/pkg/inference/engine"
	"github.com/go-go-golems/pocketbrain/pkg/inference/state"
	"github.com/go-go-golems/pocketbrain/pkg/inference/tools"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchInterval = 300 * time.Millisecond
	MaxThoughtSaveChars  = 6000
	MaxThinkDisplayChars = 16000

	CancelledByUser   = "Generation cancelled by user"
	EmptyResponseText = "Error: Empty response received"

	chunkBuffer = 64
)

// GenerationError is returned when the model stream fails.
type GenerationError struct {
	MessageID string
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation of %s failed: %v", e.MessageID, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

type OutcomeKind int

const (
	OutcomeFinalized OutcomeKind = iota
	OutcomeCancelled
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeFinalized:
		return "finalized"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome is the terminal result of a run.
type Outcome struct {
	Kind    OutcomeKind
	Text    string
	Thought string
	Metrics conversation.DecodingMetrics
	Tools   []tools.Outcome
	Err     error
}

// Messages is where the pipeline writes the in-flight message.
type Messages interface {
	Update(id string, fn func(m *conversation.Message)) error
}

// Journal records run milestones in the system log.
type Journal interface {
	Log(ctx context.Context, level applog.Level, message string, details map[string]string) error
}

type Input struct {
	MessageID string
	ChatID    string
	// Role of the in-flight message, assistant or tool.
	Role       conversation.Role
	Prompt     string
	History    []*conversation.Message
	Regenerate bool
	Messages   Messages
}

type Pipeline struct {
	engine   engine.Engine
	machine  *state.Machine
	prompts  *PromptBuilder
	sink     events.EventSink
	tools    *tools.Orchestrator
	journal  Journal
	interval time.Duration
	model    string
	now      func() time.Time
	logger   zerolog.Logger
}

type Option func(*Pipeline)

func WithSink(sink events.EventSink) Option {
	return func(p *Pipeline) {
		p.sink = sink
	}
}

func WithTools(o *tools.Orchestrator) Option {
	return func(p *Pipeline) {
		p.tools = o
	}
}

func WithJournal(j Journal) Option {
	return func(p *Pipeline) {
		p.journal = j
	}
}

func WithBatchInterval(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithModelName(name string) Option {
	return func(p *Pipeline) {
		p.model = name
	}
}

func WithPromptBuilder(b *PromptBuilder) Option {
	return func(p *Pipeline) {
		p.prompts = b
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

func New(eng engine.Engine, machine *state.Machine, options ...Option) (*Pipeline, error) {
	if eng == nil {
		return nil, errors.New("no engine")
	}
	p := &Pipeline{
		engine:   eng,
		machine:  machine,
		sink:     events.NewNullSink(),
		interval: DefaultBatchInterval,
		now:      time.Now,
		logger:   log.With().Str("component", "pipeline").Logger(),
	}
	for _, o := range options {
		o(p)
	}
	if p.machine == nil {
		p.machine = state.NewMachine(p.sink)
	}
	if p.prompts == nil {
		b, err := NewPromptBuilder()
		if err != nil {
			return nil, err
		}
		p.prompts = b
	}
	return p, nil
}

func (p *Pipeline) Machine() *state.Machine {
	return p.machine
}

// run is the per-generation state.
type run struct {
	in      Input
	meta    events.EventMetadata
	kind    string
	metrics *metricsRecorder
	cls     *Classifier
	logger  zerolog.Logger

	toolsMu  sync.Mutex
	outcomes []tools.Outcome
}

// Run executes one generation. It always returns an outcome; cancellation
// of ctx finalizes with the partial output.
func (p *Pipeline) Run(ctx context.Context, in Input) Outcome {
	if in.Messages == nil {
		in.Messages = nopMessages{}
	}
	if in.Role == "" {
		in.Role = conversation.RoleAssistant
	}
	r := &run{
		in: in,
		meta: events.EventMetadata{
			MessageID: in.MessageID,
			ChatID:    in.ChatID,
			RunID:     helpers.CorrelationIDFromContext(ctx),
			Model:     p.model,
		},
		kind:    DecodeNormal,
		metrics: newMetricsRecorder(p.now),
		cls:     &Classifier{},
		logger:  helpers.RunLogger(ctx, p.logger).With().Str("message_id", in.MessageID).Logger(),
	}
	if in.Regenerate {
		r.kind = DecodeRegenerate
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Msg("Pipeline panicked")
			p.machine.Reset()
			panic(rec)
		}
	}()

	p.setState(r, state.DecodingStream(in.MessageID, r.metrics.start, state.StagePreparingPrompt))
	p.publish(events.NewStartEvent(r.meta))

	useTools := p.tools != nil && p.tools.Config().Enabled
	if useTools {
		p.setState(r, state.DecodingTool(in.MessageID))
		p.record(ctx, r, applog.LevelInfo, "Tools enabled for generation", nil)
	}

	p.setState(r, state.DecodingStream(in.MessageID, r.metrics.start, state.StageEncodingInput))
	req, err := p.prompts.Build(in.Prompt, in.History)
	if err != nil {
		return p.fail(ctx, r, err)
	}
	req.MessageID = in.MessageID
	if useTools {
		req.Tools = p.tools.Definitions()
	}

	if loader, ok := p.engine.(engine.Loader); ok && !loader.IsLoaded() {
		p.setState(r, state.DecodingStream(in.MessageID, r.metrics.start, state.StageLoadingModel))
		p.record(ctx, r, applog.LevelInfo, "Loading model for generation", nil)
		if err := loader.Load(ctx); err != nil {
			if ctx.Err() != nil {
				return p.cancel(ctx, r)
			}
			return p.fail(ctx, r, errors.Wrap(err, "could not load model"))
		}
	}

	p.setState(r, state.DecodingStream(in.MessageID, r.metrics.start, state.StageDecoding))
	err = p.decode(ctx, r, req, useTools)
	r.cls.Flush()
	// journal writes stay off the token path
	if r.metrics.gotTTFT {
		p.record(context.WithoutCancel(ctx), r, applog.LevelInfo, "First token received", map[string]string{
			"ttftMs": strconv.FormatInt(r.metrics.ttft.Milliseconds(), 10),
		})
	}

	switch {
	case ctx.Err() != nil:
		return p.cancel(ctx, r)
	case err != nil:
		return p.fail(ctx, r, err)
	}
	return p.finalize(ctx, r)
}

// decode runs the producer, consumer, ticker and tool tasks until the
// stream ends and every tool task has returned.
func (p *Pipeline) decode(ctx context.Context, r *run, req engine.Request, useTools bool) error {
	chunks := make(chan engine.Chunk, chunkBuffer)
	decodeDone := make(chan struct{})
	b := newBatcher(p.interval, func(s Snapshot) { p.pushSnapshot(r, s) })

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(chunks)
		if stopper, ok := p.engine.(engine.Stopper); ok {
			stop := context.AfterFunc(ctx, func() {
				if err := stopper.Stop(); err != nil {
					r.logger.Warn().Err(err).Msg("Could not stop model stream")
				}
			})
			defer stop()
		}
		err := p.engine.GenerateStreaming(gctx, req, chunks)
		if err != nil && ctx.Err() == nil {
			return &GenerationError{MessageID: r.in.MessageID, Err: err}
		}
		return err
	})

	g.Go(func() error {
		defer close(decodeDone)
		for c := range chunks {
			if c.ToolCall != nil {
				call := *c.ToolCall
				if !useTools {
					r.logger.Warn().Str("tool", call.Name).Msg("Ignoring tool call, tools are disabled")
					continue
				}
				g.Go(func() error {
					p.runTool(gctx, r, call)
					return nil
				})
				continue
			}
			if c.Token == "" {
				continue
			}
			if r.metrics.token() {
				p.setState(r, state.Generating(r.in.MessageID, true))
			}
			r.cls.Feed(c.Token)
			b.store(Snapshot{Visible: r.cls.Visible(), Thought: r.cls.Thought()})
		}
		return nil
	})

	g.Go(func() error {
		b.run(gctx, decodeDone)
		return nil
	})

	return g.Wait()
}

func (p *Pipeline) runTool(ctx context.Context, r *run, call engine.ToolCall) {
	id := r.in.MessageID
	p.setState(r, state.ExecutingTool(call.Name, id))
	p.publish(events.NewToolCallEvent(r.meta, events.ToolCall{Name: call.Name, Arguments: call.Arguments}))
	p.record(ctx, r, applog.LevelInfo, "Tool called during generation", map[string]string{
		"toolName":   call.Name,
		"argsLength": strconv.Itoa(len(call.Arguments)),
	})

	out := p.tools.Execute(ctx, call.Name, call.Arguments)

	result := events.ToolResult{Name: out.Call.Tool, Result: out.Output()}
	if out.Failed() {
		result.Error = out.ErrorMessage()
		p.record(ctx, r, applog.LevelError, "Tool execution error", map[string]string{
			"toolName": out.Call.Tool,
			"error":    result.Error,
		})
	} else {
		p.record(ctx, r, applog.LevelInfo, "Tool executed successfully", map[string]string{
			"toolName": out.Call.Tool,
		})
	}
	p.publish(events.NewToolResultEvent(r.meta, result))

	plugin := ""
	if def, err := p.tools.Registry().GetTool(out.Call.Tool); err == nil {
		plugin = def.Plugin
	}
	p.updateMessage(r, func(m *conversation.Message) {
		if m.Tool == nil {
			m.Tool = &conversation.RunningTool{}
		}
		m.Tool.ToolName = out.Call.Tool
		m.Tool.PluginName = plugin
		m.Tool.ToolPreview = call.Arguments
		if out.Failed() {
			m.Tool.Error = out.ErrorMessage()
		} else {
			m.Tool.ToolOutput = out.Output()
		}
	})

	r.toolsMu.Lock()
	r.outcomes = append(r.outcomes, out)
	r.toolsMu.Unlock()

	if ctx.Err() == nil {
		p.setState(r, state.DecodingStream(id, r.metrics.start, state.StageDecoding))
	}
}

func (p *Pipeline) pushSnapshot(r *run, s Snapshot) {
	thought := lastRunes(s.Thought, MaxThinkDisplayChars)
	p.updateMessage(r, func(m *conversation.Message) {
		m.Text = s.Visible
		m.Thought = thought
	})
	p.publish(events.NewSnapshotEvent(r.meta, s.Visible, thought))
}

func (p *Pipeline) finalize(ctx context.Context, r *run) Outcome {
	p.setState(r, state.DecodingStream(r.in.MessageID, r.metrics.start, state.StageRendering))

	text, thought := ResolveReasoning(r.cls.Raw(), r.cls.Visible(), r.cls.Thought())
	if strings.TrimSpace(text) == "" && r.in.Role != conversation.RoleTool {
		text = EmptyResponseText
	}
	out := p.writeFinal(r, OutcomeFinalized, text, thought)

	p.record(ctx, r, applog.LevelInfo, "Text generation completed", map[string]string{
		"totalDurationMs": strconv.FormatInt(out.Metrics.DurationMs, 10),
		"totalTokens":     strconv.Itoa(out.Metrics.TotalTokens),
		"outputLength":    strconv.Itoa(len(out.Text)),
		"hasThought":      strconv.FormatBool(out.Thought != ""),
		"tokensPerSecond": strconv.FormatFloat(out.Metrics.TokensPerSecond, 'f', 2, 64),
	})
	p.publish(events.NewFinalEvent(r.meta, out.Text, out.Thought, timing(out.Metrics)))
	p.setState(r, state.Idle())
	return out
}

// cancel finalizes with the partial buffers and always ends in Idle.
func (p *Pipeline) cancel(ctx context.Context, r *run) Outcome {
	defer p.machine.Reset()

	r.logger.Debug().Msg("Streaming cancelled")
	// ctx is already done; the system log write must not depend on it.
	logCtx := context.WithoutCancel(ctx)
	p.record(logCtx, r, applog.LevelWarn, "Text generation cancelled", map[string]string{
		"tokensGenerated": strconv.Itoa(r.metrics.tokens),
		"partialLength":   strconv.Itoa(len(r.cls.Visible())),
	})

	out := p.writeFinal(r, OutcomeCancelled, r.cls.Visible(), r.cls.Thought())
	if r.in.Role == conversation.RoleTool {
		p.updateMessage(r, func(m *conversation.Message) {
			m.Text = CancelledByUser
			if m.Tool == nil {
				m.Tool = &conversation.RunningTool{}
			}
			m.Tool.Error = CancelledByUser
		})
	}
	out.Err = ctx.Err()
	p.publish(events.NewInterruptEvent(r.meta, out.Text))
	p.setState(r, state.Cancelled(r.in.MessageID))
	return out
}

func (p *Pipeline) fail(ctx context.Context, r *run, err error) Outcome {
	r.logger.Error().Err(err).Msg("Streaming failed")
	p.record(ctx, r, applog.LevelError, "Text generation failed", map[string]string{
		"error":           err.Error(),
		"errorType":       fmt.Sprintf("%T", errors.Cause(err)),
		"tokensGenerated": strconv.Itoa(r.metrics.tokens),
	})

	out := p.writeFinal(r, OutcomeFailed, r.cls.Visible(), r.cls.Thought())
	out.Err = err
	p.publish(events.NewErrorEvent(r.meta, err, out.Text))
	p.setState(r, state.Failed("Streaming failed", true, err))
	return out
}

// writeFinal stores the final text, thought, code canvases and metrics on
// the in-flight message.
func (p *Pipeline) writeFinal(r *run, kind OutcomeKind, text string, thought string) Outcome {
	if strings.TrimSpace(thought) == "" {
		thought = ""
	}
	thought = firstRunes(thought, MaxThoughtSaveChars)
	metrics := r.metrics.finish(r.kind, r.in.ChatID, p.model)
	canvases := ExtractCodeCanvases(text)

	p.updateMessage(r, func(m *conversation.Message) {
		m.Text = text
		m.Thought = thought
		m.CodeCanvas = canvases
		m.DecodingMetrics = &metrics
	})

	r.toolsMu.Lock()
	outcomes := append([]tools.Outcome(nil), r.outcomes...)
	r.toolsMu.Unlock()

	return Outcome{Kind: kind, Text: text, Thought: thought, Metrics: metrics, Tools: outcomes}
}

func (p *Pipeline) setState(r *run, s state.State) {
	if err := p.machine.Set(s); err != nil {
		r.logger.Debug().Err(err).Msg("Skipping state transition")
	}
}

func (p *Pipeline) publish(ev events.Event) {
	if err := p.sink.PublishEvent(ev); err != nil {
		p.logger.Warn().Err(err).Str("type", string(ev.Type())).Msg("Could not publish event")
	}
}

func (p *Pipeline) updateMessage(r *run, fn func(m *conversation.Message)) {
	if err := r.in.Messages.Update(r.in.MessageID, fn); err != nil {
		r.logger.Warn().Err(err).Msg("Could not update message")
	}
}

func (p *Pipeline) record(ctx context.Context, r *run, level applog.Level, message string, details map[string]string) {
	if p.journal == nil {
		return
	}
	if details == nil {
		details = map[string]string{}
	}
	details["messageId"] = r.in.MessageID
	if err := p.journal.Log(ctx, level, message, details); err != nil {
		r.logger.Warn().Err(err).Str("entry", message).Msg("Could not write system log")
	}
}

func timing(m conversation.DecodingMetrics) *events.Timing {
	return &events.Timing{
		TTFTMs:          m.TTFTMs,
		DurationMs:      m.DurationMs,
		TotalTokens:     m.TotalTokens,
		TokensPerSecond: m.TokensPerSecond,
	}
}

func firstRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func lastRunes(s string, n int) string {
	count := 0
	for pos := len(s); pos > 0; {
		if count == n {
			return s[pos:]
		}
		pos--
		for pos > 0 && !utf8RuneStart(s[pos]) {
			pos--
		}
		count++
	}
	return s
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

type nopMessages struct{}

func (nopMessages) Update(string, func(m *conversation.Message)) error {
	return nil
}

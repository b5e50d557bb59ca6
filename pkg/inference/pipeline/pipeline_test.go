package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/pocketbrain/pkg/brain/applog"
	"github.com/go-go-golems/pocketbrain/pkg/conversation"
	"github.com/go-go-golems/pocketbrain/pkg/events"
	"github.com/go-go-golems/pocketbrain/pkg/inference/engine/scripted"
	"github.com/go-go-golems/pocketbrain/pkg/inference/state"
	"github.com/go-go-golems/pocketbrain/pkg/inference/tools"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
	onType map[events.EventType]chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{onType: map[events.EventType]chan struct{}{}}
}

// waitFor returns a channel closed when the first event of type t arrives.
func (r *recordingSink) waitFor(t events.EventType) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan struct{})
	r.onType[t] = ch
	return ch
}

func (r *recordingSink) PublishEvent(ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if ch, ok := r.onType[ev.Type()]; ok {
		close(ch)
		delete(r.onType, ev.Type())
	}
	return nil
}

func (r *recordingSink) ofType(t events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ret []events.Event
	for _, ev := range r.events {
		if ev.Type() == t {
			ret = append(ret, ev)
		}
	}
	return ret
}

type recordingJournal struct {
	mu      sync.Mutex
	entries []string
}

func (j *recordingJournal) Log(_ context.Context, _ applog.Level, message string, _ map[string]string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, message)
	return nil
}

func (j *recordingJournal) count(message string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, e := range j.entries {
		if e == message {
			n++
		}
	}
	return n
}

type harness struct {
	chat    *conversation.Chat
	msg     *conversation.Message
	sink    *recordingSink
	journal *recordingJournal
	machine *state.Machine
}

func newHarness(role conversation.Role) *harness {
	h := &harness{
		chat:    conversation.NewChat(nil),
		msg:     conversation.NewMessage(role, ""),
		sink:    newRecordingSink(),
		journal: &recordingJournal{},
	}
	h.chat.Append(conversation.NewMessage(conversation.RoleUser, "hi"), h.msg)
	h.machine = state.NewMachine(nil)
	return h
}

func (h *harness) pipeline(t *testing.T, eng *scripted.Engine, options ...Option) *Pipeline {
	t.Helper()
	options = append([]Option{
		WithSink(h.sink),
		WithJournal(h.journal),
		WithBatchInterval(5 * time.Millisecond),
		WithModelName("scripted"),
	}, options...)
	p, err := New(eng, h.machine, options...)
	require.NoError(t, err)
	return p
}

func (h *harness) input() Input {
	return Input{
		MessageID: h.msg.ID,
		ChatID:    "chat-1",
		Role:      h.msg.Role,
		Prompt:    "hi",
		Messages:  h.chat,
	}
}

func (h *harness) message(t *testing.T) *conversation.Message {
	t.Helper()
	m, ok := h.chat.Message(h.msg.ID)
	require.True(t, ok)
	return m
}

func TestRunFinalizesMessage(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(conversation.RoleAssistant)
	eng := scripted.Tokens("Hel", "lo <thi", "nk>reason", "ing</thi", "nk> done\n\n```py\nprint(1)\n```")
	p := h.pipeline(t, eng)

	out := p.Run(context.Background(), h.input())
	require.Equal(t, OutcomeFinalized, out.Kind, "%v", out.Err)
	assert.Equal(t, "reasoning", out.Thought)
	assert.True(t, strings.HasPrefix(out.Text, "Hello  done"))
	assert.Equal(t, 5, out.Metrics.TotalTokens)
	assert.Equal(t, DecodeNormal, out.Metrics.Type)
	assert.Equal(t, "chat-1", out.Metrics.ChatID)

	m := h.message(t)
	assert.Equal(t, out.Text, m.Text)
	assert.Equal(t, "reasoning", m.Thought)
	assert.Equal(t, []conversation.CodeBlock{{Language: "py", Code: "print(1)"}}, m.CodeCanvas)
	require.NotNil(t, m.DecodingMetrics)
	assert.Equal(t, "scripted", m.DecodingMetrics.ModelName)

	assert.Equal(t, state.KindIdle, h.machine.Current().Kind)
	require.Len(t, h.sink.ofType(events.EventTypeFinal), 1)
	assert.Len(t, h.sink.ofType(events.EventTypeStart), 1)
	assert.Equal(t, 1, h.journal.count("First token received"))
	assert.Equal(t, 1, h.journal.count("Text generation completed"))

	req := eng.Requests()
	require.Len(t, req, 1)
	assert.Equal(t, h.msg.ID, req[0].MessageID)
}

func TestRunRegenerateTagsMetrics(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(conversation.RoleAssistant)
	in := h.input()
	in.Regenerate = true
	out := h.pipeline(t, scripted.Tokens("again")).Run(context.Background(), in)
	assert.Equal(t, DecodeRegenerate, out.Metrics.Type)
}

func TestRunEmptyResponse(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(conversation.RoleAssistant)
	out := h.pipeline(t, scripted.Tokens("<think>only thinking</think>")).Run(context.Background(), h.input())

	require.Equal(t, OutcomeFinalized, out.Kind)
	assert.Equal(t, EmptyResponseText, out.Text)
	assert.Equal(t, "only thinking", out.Thought)
	assert.Equal(t, EmptyResponseText, h.message(t).Text)
}

func TestRunPublishesSnapshots(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(conversation.RoleAssistant)
	eng := scripted.Tokens("one ", "two ", "three")
	eng.Delay = 10 * time.Millisecond
	out := h.pipeline(t, eng).Run(context.Background(), h.input())
	require.Equal(t, OutcomeFinalized, out.Kind)

	snaps := h.sink.ofType(events.EventTypeSnapshot)
	require.NotEmpty(t, snaps)
	last := ""
	for _, ev := range snaps {
		s := ev.(*events.EventSnapshot)
		assert.True(t, strings.HasPrefix(s.Visible, last), "snapshots only grow")
		assert.NotEqual(t, last, s.Visible)
		last = s.Visible
	}
}

// steppingClock advances by step on every reading.
type steppingClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *steppingClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ret := c.t
	c.t = c.t.Add(c.step)
	return ret
}

func TestRunMeasuresDecodingMetrics(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(conversation.RoleAssistant)
	clock := &steppingClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), step: 250 * time.Millisecond}
	out := h.pipeline(t, scripted.Tokens("a", "b", "c", "d"), WithClock(clock.now)).Run(context.Background(), h.input())
	require.Equal(t, OutcomeFinalized, out.Kind, "%v", out.Err)

	// one reading at start, one at the first token, one when finishing
	assert.Equal(t, clock.t.Add(-3*clock.step), out.Metrics.StartedAt)
	assert.Equal(t, int64(250), out.Metrics.TTFTMs)
	assert.Equal(t, int64(500), out.Metrics.DurationMs)
	assert.Equal(t, 4, out.Metrics.TotalTokens)
	assert.InDelta(t, 8.0, out.Metrics.TokensPerSecond, 1e-9)

	require.NotNil(t, h.message(t).DecodingMetrics)
	assert.Equal(t, out.Metrics, *h.message(t).DecodingMetrics)
}

func TestRunPublishesNoSnapshotAfterFinal(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(conversation.RoleAssistant)
	eng := scripted.Tokens("one ", "two ", "three ", "four")
	eng.Delay = 3 * time.Millisecond
	out := h.pipeline(t, eng, WithBatchInterval(time.Millisecond)).Run(context.Background(), h.input())
	require.Equal(t, OutcomeFinalized, out.Kind)

	h.sink.mu.Lock()
	recorded := append([]events.Event(nil), h.sink.events...)
	h.sink.mu.Unlock()

	require.NotEmpty(t, recorded)
	assert.Equal(t, events.EventTypeFinal, recorded[len(recorded)-1].Type())
	finals := 0
	for _, ev := range recorded {
		if ev.Type() == events.EventTypeFinal {
			finals++
		}
		if ev.Type() == events.EventTypeSnapshot {
			assert.Zero(t, finals, "snapshot published after the final event")
		}
	}
	assert.Equal(t, 1, finals)
}

func TestRunCancelKeepsPartialText(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(conversation.RoleAssistant)
	eng := scripted.Tokens("partial ", "<think>half a thought")
	eng.Hold = true
	p := h.pipeline(t, eng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	snapshot := h.sink.waitFor(events.EventTypeSnapshot)
	done := make(chan Outcome, 1)
	go func() {
		done <- p.Run(ctx, h.input())
	}()

	select {
	case <-snapshot:
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot published")
	}
	cancel()

	var out Outcome
	select {
	case out = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	assert.Equal(t, OutcomeCancelled, out.Kind)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Equal(t, "partial ", out.Text)
	assert.Equal(t, "half a thought", out.Thought)
	assert.Equal(t, "partial ", h.message(t).Text)
	assert.Equal(t, state.KindIdle, h.machine.Current().Kind)
	assert.Len(t, h.sink.ofType(events.EventTypeInterrupt), 1)
	assert.Empty(t, h.sink.ofType(events.EventTypeFinal))
	assert.Equal(t, 1, h.journal.count("First token received"))
	assert.Eventually(t, func() bool { return eng.Stops() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRunCancelToolMessage(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(conversation.RoleTool)
	eng := scripted.Tokens("x")
	eng.Hold = true
	p := h.pipeline(t, eng)

	ctx, cancel := context.WithCancel(context.Background())
	snapshot := h.sink.waitFor(events.EventTypeSnapshot)
	done := make(chan Outcome, 1)
	go func() {
		done <- p.Run(ctx, h.input())
	}()
	<-snapshot
	cancel()
	out := <-done

	assert.Equal(t, OutcomeCancelled, out.Kind)
	m := h.message(t)
	assert.Equal(t, CancelledByUser, m.Text)
	require.NotNil(t, m.Tool)
	assert.Equal(t, CancelledByUser, m.Tool.Error)
}

func TestRunEngineErrorFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(conversation.RoleAssistant)
	boom := errors.New("backend crashed")
	eng := scripted.Tokens("half ")
	eng.Err = boom
	out := h.pipeline(t, eng).Run(context.Background(), h.input())

	require.Equal(t, OutcomeFailed, out.Kind)
	assert.ErrorIs(t, out.Err, boom)
	var genErr *GenerationError
	require.True(t, errors.As(out.Err, &genErr))
	assert.Equal(t, h.msg.ID, genErr.MessageID)

	assert.Equal(t, "half ", h.message(t).Text)
	cur := h.machine.Current()
	assert.Equal(t, state.KindError, cur.Kind)
	assert.True(t, cur.Retryable)
	assert.Len(t, h.sink.ofType(events.EventTypeError), 1)
	assert.Equal(t, 1, h.journal.count("Text generation failed"))
}

func TestRunLoadsModelFirst(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(conversation.RoleAssistant)
	eng := scripted.Tokens("ok")
	eng.NeedsLoad = true

	stages, unsubscribe := h.machine.Subscribe(32)
	out := h.pipeline(t, eng).Run(context.Background(), h.input())
	unsubscribe()

	require.Equal(t, OutcomeFinalized, out.Kind)
	assert.True(t, eng.IsLoaded())

	var seen []state.Stage
	for s := range stages {
		if s.Kind == state.KindDecodingStream {
			seen = append(seen, s.Stage)
		}
	}
	assert.Contains(t, seen, state.StageLoadingModel)
	assert.Equal(t, 1, h.journal.count("Loading model for generation"))
}

type upperInput struct {
	Text string `json:"text"`
}

func TestRunExecutesToolCalls(t *testing.T) {
	defer goleak.VerifyNone(t)

	registry := tools.NewInMemoryToolRegistry()
	def, err := tools.NewToolFromFunc("text.upper", "Uppercase text", func(in upperInput) (string, error) {
		return strings.ToUpper(in.Text), nil
	})
	require.NoError(t, err)
	require.NoError(t, registry.RegisterTool(def.Name, *def))
	orchestrator := tools.NewOrchestrator(registry)

	h := newHarness(conversation.RoleTool)
	eng := scripted.Tokens("Calling ").WithToolCall("text_upper", `{"text":"shout"}`)
	out := h.pipeline(t, eng, WithTools(orchestrator)).Run(context.Background(), h.input())

	require.Equal(t, OutcomeFinalized, out.Kind, "%v", out.Err)
	require.Len(t, out.Tools, 1)
	assert.False(t, out.Tools[0].Failed(), out.Tools[0].ErrorMessage())
	assert.Equal(t, "text.upper", out.Tools[0].Call.Tool)

	m := h.message(t)
	require.NotNil(t, m.Tool)
	assert.Equal(t, "text.upper", m.Tool.ToolName)
	assert.Contains(t, m.Tool.ToolOutput, "SHOUT")
	assert.Empty(t, m.Tool.Error)

	assert.Len(t, h.sink.ofType(events.EventTypeToolCall), 1)
	results := h.sink.ofType(events.EventTypeToolResult)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].(*events.EventToolResult).ToolResult.Error)

	req := eng.Requests()
	require.Len(t, req, 1)
	require.Len(t, req[0].Tools, 1)
	assert.Equal(t, "text_upper", req[0].Tools[0].Name)
	assert.Equal(t, state.KindIdle, h.machine.Current().Kind)
}

func TestRunReportsUnknownTool(t *testing.T) {
	defer goleak.VerifyNone(t)

	orchestrator := tools.NewOrchestrator(tools.NewInMemoryToolRegistry())
	h := newHarness(conversation.RoleTool)
	eng := scripted.Tokens("x").WithToolCall("missing", `{}`)
	out := h.pipeline(t, eng, WithTools(orchestrator)).Run(context.Background(), h.input())

	require.Equal(t, OutcomeFinalized, out.Kind)
	require.Len(t, out.Tools, 1)
	assert.True(t, out.Tools[0].Failed())
	assert.Equal(t, tools.CodeNotFound, h.message(t).Tool.Error)
}

func TestRunIgnoresToolCallsWhenDisabled(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(conversation.RoleAssistant)
	eng := scripted.Tokens("answer").WithToolCall("anything", `{}`)
	out := h.pipeline(t, eng).Run(context.Background(), h.input())

	require.Equal(t, OutcomeFinalized, out.Kind)
	assert.Empty(t, out.Tools)
	assert.Empty(t, h.sink.ofType(events.EventTypeToolCall))
}

func TestRuneCaps(t *testing.T) {
	assert.Equal(t, "héll", firstRunes("héllo", 4))
	assert.Equal(t, "héllo", firstRunes("héllo", 10))
	assert.Equal(t, "llö", lastRunes("hellö", 3))
	assert.Equal(t, "hellö", lastRunes("hellö", 10))
	assert.Equal(t, "", lastRunes("abc", 0))
}

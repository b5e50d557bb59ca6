package events

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

type EventType string

const (
	// EventTypeStart is published once per generation, before the first token.
	EventTypeStart EventType = "start"
	// EventTypeSnapshot carries the batched visible/thought buffers.
	EventTypeSnapshot EventType = "snapshot"
	EventTypeFinal    EventType = "final"

	EventTypeToolCall   EventType = "tool-call"
	EventTypeToolResult EventType = "tool-result"

	EventTypeError     EventType = "error"
	EventTypeInterrupt EventType = "interrupt"

	// EventTypeState mirrors session state transitions for UIs.
	EventTypeState EventType = "state"

	EventTypeLog EventType = "log"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

// EventMetadata identifies the generation an event belongs to.
type EventMetadata struct {
	MessageID string                 `json:"message_id" yaml:"message_id" mapstructure:"message_id"`
	ChatID    string                 `json:"chat_id,omitempty" yaml:"chat_id,omitempty" mapstructure:"chat_id"`
	RunID     string                 `json:"run_id,omitempty" yaml:"run_id,omitempty" mapstructure:"run_id"`
	Model     string                 `json:"model,omitempty" yaml:"model,omitempty" mapstructure:"model"`
	Extra     map[string]interface{} `json:"extra,omitempty" yaml:"extra,omitempty" mapstructure:"extra"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", em.MessageID)
	if em.ChatID != "" {
		e.Str("chat_id", em.ChatID)
	}
	if em.RunID != "" {
		e.Str("run_id", em.RunID)
	}
	if em.Model != "" {
		e.Str("model", em.Model)
	}
	if len(em.Extra) > 0 {
		e.Dict("extra", zerolog.Dict().Fields(em.Extra))
	}
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta,omitempty"`

	// set when the event was decoded by NewEventFromJson
	payload []byte
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

var _ Event = &EventImpl{}

type EventStart struct {
	EventImpl
}

func NewStartEvent(metadata EventMetadata) *EventStart {
	return &EventStart{
		EventImpl: EventImpl{Type_: EventTypeStart, Metadata_: metadata},
	}
}

// EventSnapshot is the batched view of the streaming buffers. Visible and
// Thought are complete texts so far, not deltas.
type EventSnapshot struct {
	EventImpl
	Visible string `json:"visible"`
	Thought string `json:"thought,omitempty"`
}

func NewSnapshotEvent(metadata EventMetadata, visible string, thought string) *EventSnapshot {
	return &EventSnapshot{
		EventImpl: EventImpl{Type_: EventTypeSnapshot, Metadata_: metadata},
		Visible:   visible,
		Thought:   thought,
	}
}

// Timing is the decoding metrics of a finished generation.
type Timing struct {
	TTFTMs          int64   `json:"ttft_ms"`
	DurationMs      int64   `json:"duration_ms"`
	TotalTokens     int     `json:"total_tokens"`
	TokensPerSecond float64 `json:"tokens_per_second"`
}

type EventFinal struct {
	EventImpl
	Text    string  `json:"text"`
	Thought string  `json:"thought,omitempty"`
	Timing  *Timing `json:"timing,omitempty"`
}

func NewFinalEvent(metadata EventMetadata, text string, thought string, timing *Timing) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{Type_: EventTypeFinal, Metadata_: metadata},
		Text:      text,
		Thought:   thought,
		Timing:    timing,
	}
}

type EventInterrupt struct {
	EventImpl
	Text string `json:"text"`
}

func NewInterruptEvent(metadata EventMetadata, text string) *EventInterrupt {
	return &EventInterrupt{
		EventImpl: EventImpl{Type_: EventTypeInterrupt, Metadata_: metadata},
		Text:      text,
	}
}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
	Text        string `json:"text,omitempty"`
}

func NewErrorEvent(metadata EventMetadata, err error, partial string) *EventError {
	return &EventError{
		EventImpl:   EventImpl{Type_: EventTypeError, Metadata_: metadata},
		ErrorString: err.Error(),
		Text:        partial,
	}
}

type ToolCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type EventToolCall struct {
	EventImpl
	ToolCall ToolCall `json:"tool_call"`
}

func NewToolCallEvent(metadata EventMetadata, toolCall ToolCall) *EventToolCall {
	return &EventToolCall{
		EventImpl: EventImpl{Type_: EventTypeToolCall, Metadata_: metadata},
		ToolCall:  toolCall,
	}
}

type ToolResult struct {
	Name   string `json:"name"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

type EventToolResult struct {
	EventImpl
	ToolResult ToolResult `json:"tool_result"`
}

func NewToolResultEvent(metadata EventMetadata, toolResult ToolResult) *EventToolResult {
	return &EventToolResult{
		EventImpl:  EventImpl{Type_: EventTypeToolResult, Metadata_: metadata},
		ToolResult: toolResult,
	}
}

// EventState is published on every session state change.
type EventState struct {
	EventImpl
	State     string `json:"state"`
	Stage     string `json:"stage,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func NewStateEvent(metadata EventMetadata, state string) *EventState {
	return &EventState{
		EventImpl: EventImpl{Type_: EventTypeState, Metadata_: metadata},
		State:     state,
	}
}

type EventLog struct {
	EventImpl
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

func NewLogEvent(metadata EventMetadata, level string, message string, fields map[string]interface{}) *EventLog {
	return &EventLog{
		EventImpl: EventImpl{Type_: EventTypeLog, Metadata_: metadata},
		Level:     level,
		Message:   message,
		Fields:    fields,
	}
}

// NewEventFromJson decodes a published event into its concrete type.
func NewEventFromJson(b []byte) (Event, error) {
	var e *EventImpl
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("empty event payload")
	}
	e.payload = b

	var (
		ret Event
		ok  bool
	)
	switch e.Type_ {
	case EventTypeStart:
		ret, ok = decodeAs[EventStart](e)
	case EventTypeSnapshot:
		ret, ok = decodeAs[EventSnapshot](e)
	case EventTypeFinal:
		ret, ok = decodeAs[EventFinal](e)
	case EventTypeInterrupt:
		ret, ok = decodeAs[EventInterrupt](e)
	case EventTypeError:
		ret, ok = decodeAs[EventError](e)
	case EventTypeToolCall:
		ret, ok = decodeAs[EventToolCall](e)
	case EventTypeToolResult:
		ret, ok = decodeAs[EventToolResult](e)
	case EventTypeState:
		ret, ok = decodeAs[EventState](e)
	case EventTypeLog:
		ret, ok = decodeAs[EventLog](e)
	default:
		return e, nil
	}
	if !ok {
		return nil, fmt.Errorf("could not decode %s event", e.Type_)
	}
	return ret, nil
}

// decodeAs works for every event struct that embeds EventImpl.
func decodeAs[T any, PT interface {
	*T
	Event
	setPayload([]byte)
}](e Event) (Event, bool) {
	ret, ok := ToTypedEvent[T](e)
	if !ok || ret == nil {
		return nil, false
	}
	PT(ret).setPayload(e.Payload())
	return PT(ret), true
}

func (e *EventImpl) setPayload(b []byte) {
	e.payload = b
}

func ToTypedEvent[T any](e Event) (*T, bool) {
	var ret *T
	err := json.Unmarshal(e.Payload(), &ret)
	if err != nil {
		return nil, false
	}
	return ret, true
}

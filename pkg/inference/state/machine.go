package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-go-golems/pocketbrain/pkg/events"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrInferenceRunning indicates a run is already in progress.
	ErrInferenceRunning = errors.New("inference already running")
	// ErrInferenceNotRunning indicates no run is currently active.
	ErrInferenceNotRunning = errors.New("inference not running")
	// ErrInvalidTransition is returned by Set for an edge the machine does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Machine holds the observable session state and the single-run guard.
// Subscribers receive every state change; a slow subscriber only misses
// intermediate states, never the latest one. State events reach the sink in
// transition order, so a sink must not call Set or Reset itself.
type Machine struct {
	sink   events.EventSink
	logger zerolog.Logger

	// publishMu orders sink publication; it is taken before mu.
	publishMu sync.Mutex

	mu      sync.Mutex
	current State
	subs    map[int]chan State
	nextSub int

	running bool
	cancel  context.CancelFunc
}

func NewMachine(sink events.EventSink) *Machine {
	if sink == nil {
		sink = events.NewNullSink()
	}
	return &Machine{
		sink:    sink,
		logger:  log.With().Str("component", "session-state").Logger(),
		current: Idle(),
		subs:    map[int]chan State{},
	}
}

func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Set moves to s if the transition is allowed.
func (m *Machine) Set(s State) error {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.mu.Lock()
	from := m.current
	if !canTransition(from, s) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, s)
	}
	m.apply(s)
	m.mu.Unlock()

	m.publish(s)
	return nil
}

// Reset forces the machine back to Idle.
func (m *Machine) Reset() {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.mu.Lock()
	m.apply(Idle())
	m.mu.Unlock()
	m.publish(Idle())
}

func (m *Machine) apply(s State) {
	m.logger.Debug().Str("from", m.current.String()).Str("to", s.String()).Msg("State transition")
	m.current = s
	for _, ch := range m.subs {
		select {
		case ch <- s:
		default:
			// drop the oldest pending state to make room for the newest
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

func (m *Machine) publish(s State) {
	ev := events.NewStateEvent(events.EventMetadata{MessageID: s.MessageID}, string(s.Kind))
	ev.Stage = string(s.Stage)
	ev.ToolName = s.ToolName
	ev.Message = s.Message
	ev.Retryable = s.Retryable
	if err := m.sink.PublishEvent(ev); err != nil {
		m.logger.Warn().Err(err).Msg("Could not publish state event")
	}
}

// Subscribe returns a channel of state changes and a function to stop the
// subscription.
func (m *Machine) Subscribe(buffer int) (<-chan State, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan State, buffer)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}

// StartRun marks a generation as running. Returns ErrInferenceRunning if
// one is already active.
func (m *Machine) StartRun(cancel context.CancelFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrInferenceRunning
	}
	m.running = true
	m.cancel = cancel
	return nil
}

// FinishRun clears the running flag and cancel handle.
func (m *Machine) FinishRun() {
	m.mu.Lock()
	m.running = false
	m.cancel = nil
	m.mu.Unlock()
}

// IsRunning reports whether a generation is active.
func (m *Machine) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// CancelRun triggers the stored cancel function if a run is active.
func (m *Machine) CancelRun() error {
	m.mu.Lock()
	cancel := m.cancel
	running := m.running
	m.mu.Unlock()
	if !running || cancel == nil {
		return ErrInferenceNotRunning
	}
	cancel()
	return nil
}

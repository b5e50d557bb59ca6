package events

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// StreamPrinter writes the growth of snapshot events to w as plain deltas,
// so that a terminal shows the answer as it is produced. Thought text is
// printed once, prefixed, when ShowThoughts is set.
type StreamPrinter struct {
	w            io.Writer
	ShowThoughts bool

	mu      sync.Mutex
	printed map[string]string
	thought map[string]int
}

func NewStreamPrinter(w io.Writer) *StreamPrinter {
	return &StreamPrinter{
		w:       w,
		printed: map[string]string{},
		thought: map[string]int{},
	}
}

func (p *StreamPrinter) PublishEvent(ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := ev.Metadata().MessageID
	switch e := ev.(type) {
	case *EventSnapshot:
		if p.ShowThoughts && len(e.Thought) > p.thought[id] {
			if p.thought[id] == 0 {
				if _, err := fmt.Fprint(p.w, "\n[thinking] "); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprint(p.w, e.Thought[p.thought[id]:]); err != nil {
				return err
			}
			p.thought[id] = len(e.Thought)
		}
		prev := p.printed[id]
		if len(e.Visible) > len(prev) && strings.HasPrefix(e.Visible, prev) {
			if _, err := fmt.Fprint(p.w, e.Visible[len(prev):]); err != nil {
				return err
			}
			p.printed[id] = e.Visible
		}

	case *EventToolCall:
		v_, err := yaml.Marshal(e.ToolCall)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(p.w, "\n[tool call]\n%s", v_); err != nil {
			return err
		}

	case *EventToolResult:
		v_, err := yaml.Marshal(e.ToolResult)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(p.w, "[tool result]\n%s", v_); err != nil {
			return err
		}

	case *EventFinal:
		prev := p.printed[id]
		rest := e.Text
		switch {
		case strings.HasPrefix(e.Text, prev):
			rest = e.Text[len(prev):]
		case prev != "":
			// the final answer was re-derived and differs from the stream
			rest = "\n" + e.Text
		}
		delete(p.printed, id)
		delete(p.thought, id)
		if _, err := fmt.Fprint(p.w, rest); err != nil {
			return err
		}
		if !strings.HasSuffix(e.Text, "\n") {
			if _, err := fmt.Fprintln(p.w); err != nil {
				return err
			}
		}

	case *EventInterrupt:
		delete(p.printed, id)
		delete(p.thought, id)
		if _, err := fmt.Fprintln(p.w, "\n[interrupted]"); err != nil {
			return err
		}

	case *EventError:
		delete(p.printed, id)
		delete(p.thought, id)
		if _, err := fmt.Fprintf(p.w, "\n[error] %s\n", e.ErrorString); err != nil {
			return err
		}
	}
	return nil
}

var _ EventSink = (*StreamPrinter)(nil)

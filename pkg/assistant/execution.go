package assistant

import (
	"context"

	"github.com/go-go-golems/pocketbrain/pkg/inference/pipeline"
)

// ExecutionHandle tracks one generation started by SendMessage or
// Regenerate. The run finishes once the pipeline has returned its Outcome
// and the chat has been saved.
type ExecutionHandle struct {
	ChatID    string
	MessageID string
	RunID     string

	stop context.CancelFunc
	done chan struct{}

	// written once, before done is closed
	out pipeline.Outcome
	err error
}

func newExecutionHandle(chatID, messageID, runID string, stop context.CancelFunc) *ExecutionHandle {
	return &ExecutionHandle{
		ChatID:    chatID,
		MessageID: messageID,
		RunID:     runID,
		stop:      stop,
		done:      make(chan struct{}),
	}
}

// complete records the run's result. Only a failed outcome or a save error
// becomes the handle's error; a cancelled run keeps its partial outcome and
// reports no error.
func (h *ExecutionHandle) complete(out pipeline.Outcome, saveErr error) {
	h.out = out
	if out.Kind == pipeline.OutcomeFailed {
		h.err = out.Err
	}
	if h.err == nil {
		h.err = saveErr
	}
	close(h.done)
}

// Cancel asks the pipeline to stop. Calling it after the run finished, or
// more than once, does nothing.
func (h *ExecutionHandle) Cancel() {
	if h != nil && h.stop != nil {
		h.stop()
	}
}

// Wait returns the run's Outcome once the chat has been saved.
func (h *ExecutionHandle) Wait() (pipeline.Outcome, error) {
	<-h.done
	return h.out, h.err
}

func (h *ExecutionHandle) Done() <-chan struct{} {
	return h.done
}

func (h *ExecutionHandle) IsRunning() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

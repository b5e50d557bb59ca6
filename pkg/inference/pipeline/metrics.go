package pipeline

import (
	"sync"
	"time"

	"github.com/go-go-golems/pocketbrain/pkg/conversation"
)

const (
	DecodeNormal     = "NORMAL"
	DecodeRegenerate = "REGENERATE"
)

// metricsRecorder measures one generation. token is only called by the
// stream consumer; finish runs after the consumer has stopped.
type metricsRecorder struct {
	now     func() time.Time
	start   time.Time
	ttft    time.Duration
	once    sync.Once
	tokens  int
	gotTTFT bool
}

func newMetricsRecorder(now func() time.Time) *metricsRecorder {
	return &metricsRecorder{now: now, start: now()}
}

// token counts a token and reports whether it was the first one.
func (m *metricsRecorder) token() bool {
	m.tokens++
	first := false
	m.once.Do(func() {
		m.ttft = m.now().Sub(m.start)
		m.gotTTFT = true
		first = true
	})
	return first
}

func (m *metricsRecorder) finish(kind string, chatID string, model string) conversation.DecodingMetrics {
	duration := m.now().Sub(m.start)
	ret := conversation.DecodingMetrics{
		Type:        kind,
		ChatID:      chatID,
		ModelName:   model,
		StartedAt:   m.start,
		DurationMs:  duration.Milliseconds(),
		TotalTokens: m.tokens,
	}
	if m.gotTTFT {
		ret.TTFTMs = m.ttft.Milliseconds()
	}
	if duration > 0 {
		ret.TokensPerSecond = float64(m.tokens) / duration.Seconds()
	}
	return ret
}

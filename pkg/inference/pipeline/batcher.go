package pipeline

import (
	"context"
	"sync/atomic"
	"time"
)

// Snapshot is an immutable view of the streaming buffers.
type Snapshot struct {
	Visible string
	Thought string
}

func (s *Snapshot) empty() bool {
	return s == nil || (s.Visible == "" && s.Thought == "")
}

// batcher publishes the latest snapshot on a fixed tick. The stream
// consumer swaps in new snapshots; the tick loop only reads them.
type batcher struct {
	interval time.Duration
	latest   atomic.Pointer[Snapshot]
	publish  func(Snapshot)
}

func newBatcher(interval time.Duration, publish func(Snapshot)) *batcher {
	return &batcher{interval: interval, publish: publish}
}

func (b *batcher) store(s Snapshot) {
	b.latest.Store(&s)
}

// run ticks until stop is closed or ctx is done. It never publishes after
// returning.
func (b *batcher) run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	var last *Snapshot
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s := b.latest.Load()
			if s == last || s.empty() {
				continue
			}
			last = s
			b.publish(*s)
		}
	}
}

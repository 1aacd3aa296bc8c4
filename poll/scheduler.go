package poll

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

// Scheduler periodically runs a fetch while the push path is unavailable.
// Polling is a silent fallback: a failed tick is logged and swallowed, and
// never stops subsequent ticks.
type Scheduler struct {
	mu       sync.Mutex
	interval time.Duration
	stop     chan struct{}
}

func New(interval time.Duration) *Scheduler {
	return &Scheduler{interval: interval}
}

// Start arms the ticker. A no-op when already running, so the caller may
// re-arm freely whenever the push path reports not-joined.
func (s *Scheduler) Start(ctx context.Context, tick func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	stop := make(chan struct{})
	s.stop = stop

	go s.run(ctx, tick, stop)
}

// Stop disarms the ticker. A no-op when not running. Any tick already in
// flight completes; its result is merged by the commutative store rule.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return
	}
	close(s.stop)
	s.stop = nil
}

// Running reports whether the ticker is armed.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

func (s *Scheduler) run(ctx context.Context, tick func(ctx context.Context) error, stop chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		glog.V(5).Infof("poll: scheduler exited")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			ticks.Inc()
			if err := tick(ctx); err != nil {
				failures.Inc()
				glog.Warningf("poll: tick error: %v", err)
			}
		}
	}
}

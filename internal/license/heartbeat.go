package license

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// HeartbeatRunner is the part of the validator the scheduler drives.
type HeartbeatRunner interface {
	Heartbeat(ctx context.Context) HeartbeatResult
	LastHeartbeat() (time.Time, bool)
	Now() time.Time
}

// HeartbeatScheduler sends a heartbeat at start-up when the last one is older
// than the interval, then once per interval until the context ends.
type HeartbeatScheduler struct {
	runner   HeartbeatRunner
	interval time.Duration
	logger   *slog.Logger

	mu         sync.RWMutex
	lastResult *HeartbeatResult
	lastRun    time.Time
}

// NewHeartbeatScheduler creates a scheduler. A non-positive interval falls back to seven days.
func NewHeartbeatScheduler(runner HeartbeatRunner, interval time.Duration, logger *slog.Logger) *HeartbeatScheduler {
	if interval <= 0 {
		interval = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HeartbeatScheduler{
		runner:   runner,
		interval: interval,
		logger:   logger.With(slog.String("component", "heartbeat_scheduler")),
	}
}

// Run blocks until ctx is done.
func (s *HeartbeatScheduler) Run(ctx context.Context) error {
	if s.Due() {
		s.beat(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.beat(ctx)
		case <-ctx.Done():
			s.logger.Debug("Heartbeat scheduler stopped")
			return nil
		}
	}
}

// Due reports whether a stored activation has gone an interval without a heartbeat.
func (s *HeartbeatScheduler) Due() bool {
	last, ok := s.runner.LastHeartbeat()
	if !ok {
		return false
	}
	return s.runner.Now().Sub(last) >= s.interval
}

// LastResult returns the most recent heartbeat outcome and when it ran.
func (s *HeartbeatScheduler) LastResult() (HeartbeatResult, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastResult == nil {
		return HeartbeatResult{}, time.Time{}, false
	}
	return *s.lastResult, s.lastRun, true
}

func (s *HeartbeatScheduler) beat(ctx context.Context) {
	result := s.runner.Heartbeat(ctx)

	s.mu.Lock()
	s.lastResult = &result
	s.lastRun = s.runner.Now()
	s.mu.Unlock()

	s.logger.Debug("Scheduled heartbeat finished",
		slog.String("outcome", string(result.Outcome)),
		slog.String("reason", result.Reason))
}

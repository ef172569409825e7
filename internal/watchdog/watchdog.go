// Package watchdog detects a stalled delivery pipeline by watching the
// time since the last successfully sent realtime measurement. It has no
// other coupling to the pipeline. Time is always injectable for tests.
package watchdog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrRestartRequested is returned by Run when delivery has stalled past
// the allowed gap. The caller owns the actual restart: shut down
// transports, then replace the process image.
var ErrRestartRequested = errors.New("delivery stalled; restart requested")

const (
	pollInterval  = 5 * time.Second
	minAllowedGap = 10 * time.Second
	gapSlack      = 5 * time.Second
)

// AllowedGap computes the grace period for a given window duration. Two
// full windows plus slack must pass without a delivered realtime
// measurement before the pipeline counts as stalled.
func AllowedGap(window time.Duration) time.Duration {
	gap := 2*window + gapSlack
	if gap < minAllowedGap {
		return minAllowedGap
	}
	return gap
}

// Monitor tracks delivery progress. RecordSuccess is called from the
// sampling loop; Run polls on its own goroutine.
type Monitor struct {
	allowedGap time.Duration
	connected  func() bool
	logger     *slog.Logger

	mu            sync.Mutex
	lastSuccess   time.Time
	everSucceeded bool
}

// New creates a monitor for the given window duration. connected reports
// whether the transport link is currently believed up; while it returns
// false the check is skipped, since a broker or backend outage is
// absorbed by the offline queues and a restart would not help.
func New(window time.Duration, connected func() bool, logger *slog.Logger) *Monitor {
	return &Monitor{
		allowedGap: AllowedGap(window),
		connected:  connected,
		logger:     logger,
	}
}

// RecordSuccess notes a successfully delivered realtime measurement.
func (m *Monitor) RecordSuccess(at time.Time) {
	m.mu.Lock()
	m.lastSuccess = at
	m.everSucceeded = true
	m.mu.Unlock()
}

// LastSuccess returns the most recent recorded delivery, if any.
func (m *Monitor) LastSuccess() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSuccess, m.everSucceeded
}

// Stalled reports whether delivery has stalled as of now. Until the
// first success the check always passes: a restart loop during initial
// backend downtime would never let the process get that first success.
func (m *Monitor) Stalled(now time.Time) bool {
	m.mu.Lock()
	last := m.lastSuccess
	ever := m.everSucceeded
	m.mu.Unlock()

	if !ever {
		return false
	}
	if !m.connected() {
		return false
	}
	return now.Sub(last) > m.allowedGap
}

// Run polls until ctx is cancelled or delivery stalls. A stall returns
// ErrRestartRequested; cancellation returns ctx.Err().
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if m.Stalled(now) {
				last, _ := m.LastSuccess()
				m.logger.Error("no realtime delivery within allowed gap",
					"last_success", last.Format(time.RFC3339),
					"allowed_gap", m.allowedGap)
				return ErrRestartRequested
			}
		}
	}
}

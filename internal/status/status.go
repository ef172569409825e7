// Package status provides a thread-safe status tracker for the agent.
// It is designed to be read by HTTP handlers and LED drivers.
package status

import (
	"sync"
	"time"
)

// Config contains agent configuration for display.
type Config struct {
	DeviceName    string
	DeviceID      string
	Broker        string
	HTTPAddr      string
	WindowSeconds float64
	NoiseFloor    float64
}

// Counts accumulates delivery statistics since startup.
type Counts struct {
	RealtimeSent  int
	ThresholdSent int
	Heartbeats    int
	HTTPQueued    int
	MQTTBuffered  int
	ReadErrors    int
}

// Snapshot is a point-in-time view of agent state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	LastPeak      float64
	LastSample    float64
	Counts        Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Registered    bool

	LastRealtimeSuccess time.Time

	HTTPQueueDepth    int
	DurableQueueDepth int

	Config Config
}

// Uptime returns the duration since the agent started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable agent state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets the latest readings and counters.
// Called from the sampling loop on every window close.
func (t *Tracker) Update(lastPeak, lastSample float64, counts Counts) {
	t.mu.Lock()
	t.snap.LastPeak = lastPeak
	t.snap.LastSample = lastSample
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetRegistered records whether the device holds a backend identity.
func (t *Tracker) SetRegistered(registered bool) {
	t.mu.Lock()
	t.snap.Registered = registered
	t.mu.Unlock()
}

// SetLastRealtimeSuccess records the last successful realtime delivery.
func (t *Tracker) SetLastRealtimeSuccess(at time.Time) {
	t.mu.Lock()
	t.snap.LastRealtimeSuccess = at
	t.mu.Unlock()
}

// SetQueueDepths records the current backlog of both offline queues.
func (t *Tracker) SetQueueDepths(httpDepth, durableDepth int) {
	t.mu.Lock()
	t.snap.HTTPQueueDepth = httpDepth
	t.snap.DurableQueueDepth = durableDepth
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the agent state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

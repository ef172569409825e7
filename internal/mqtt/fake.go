package mqtt

import (
	"sync"

	"github.com/muteq/mute-agent/internal/queue"
)

// Published is one recorded state publish.
type Published struct {
	Type    queue.MessageType
	Payload []byte
}

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	// States contains all state publishes in order.
	States []Published

	// Availability contains the online/offline markers in order.
	Availability []bool

	// PublishError, if set, is returned by PublishState.
	PublishError error

	// ConnectedState controls the return value of Connected.
	ConnectedState bool

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{ConnectedState: true}
}

// PublishState records the measurement.
func (f *FakePublisher) PublishState(t queue.MessageType, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.States = append(f.States, Published{Type: t, Payload: payload})
	return nil
}

// PublishAvailability records the marker.
func (f *FakePublisher) PublishAvailability(online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Availability = append(f.Availability, online)
	return nil
}

// Connected reports the configured connection state.
func (f *FakePublisher) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ConnectedState
}

// SetConnected changes the reported connection state.
func (f *FakePublisher) SetConnected(up bool) {
	f.mu.Lock()
	f.ConnectedState = up
	f.mu.Unlock()
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// StatesOf returns the recorded payloads for one message type.
func (f *FakePublisher) StatesOf(t queue.MessageType) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, s := range f.States {
		if s.Type == t {
			out = append(out, s.Payload)
		}
	}
	return out
}

// Reset clears recorded messages.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.States = nil
	f.Availability = nil
	f.PublishError = nil
	f.Closed = false
}

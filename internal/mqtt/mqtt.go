// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/muteq/mute-agent/internal/queue"
)

// Availability payloads understood by Home Assistant.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// StateTopic returns the topic carrying measurements of the given type.
func StateTopic(deviceID string, t queue.MessageType) string {
	return fmt.Sprintf("muteq/%s/noise/%s", deviceID, t)
}

// AvailabilityTopic returns the topic carrying the online/offline marker.
func AvailabilityTopic(deviceID string) string {
	return fmt.Sprintf("muteq/%s/availability", deviceID)
}

// DiscoveryTopic returns the Home Assistant discovery topic for one sensor.
func DiscoveryTopic(deviceID string, t queue.MessageType) string {
	return fmt.Sprintf("homeassistant/sensor/%s_%s/config", deviceID, t)
}

// Publisher publishes measurements to the local broker.
type Publisher interface {
	// PublishState sends one measurement payload to the state topic for t.
	// Returns error if publishing fails; the caller decides whether to
	// buffer the payload for later.
	PublishState(t queue.MessageType, payload []byte) error

	// PublishAvailability marks the device online or offline.
	PublishAvailability(online bool) error

	// Connected reports whether the broker connection is currently up.
	Connected() bool

	// Close marks the device offline and disconnects from the broker.
	Close() error
}

// RealtimePayload is the windowed peak published every window.
type RealtimePayload struct {
	Value float64 `json:"value"`
}

// ThresholdPayload is published only for windows whose peak crossed the
// configured noise floor.
type ThresholdPayload struct {
	Peak   float64 `json:"peak"`
	Latest float64 `json:"latest"`
}

// FormatRealtime builds the realtime state payload.
func FormatRealtime(value float64) ([]byte, error) {
	return json.Marshal(RealtimePayload{Value: value})
}

// FormatThreshold builds the threshold state payload.
func FormatThreshold(peak, latest float64) ([]byte, error) {
	return json.Marshal(ThresholdPayload{Peak: peak, Latest: latest})
}

// discoveryDevice groups both sensors under one Home Assistant device.
type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version"`
}

type discoveryConfig struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	StateTopic        string          `json:"state_topic"`
	AvailabilityTopic string          `json:"availability_topic"`
	ValueTemplate     string          `json:"value_template"`
	UnitOfMeasurement string          `json:"unit_of_measurement"`
	DeviceClass       string          `json:"device_class"`
	StateClass        string          `json:"state_class"`
	Device            discoveryDevice `json:"device"`
}

// FormatDiscovery builds the retained Home Assistant discovery payload
// for the sensor of the given type.
func FormatDiscovery(deviceID, deviceName, version string, t queue.MessageType) ([]byte, error) {
	label := "Noise Realtime"
	template := "{{ value_json.value }}"
	if t == queue.Threshold {
		label = "Noise Threshold"
		template = "{{ value_json.peak }}"
	}

	cfg := discoveryConfig{
		Name:              fmt.Sprintf("%s %s", deviceName, label),
		UniqueID:          fmt.Sprintf("%s_%s", deviceID, t),
		StateTopic:        StateTopic(deviceID, t),
		AvailabilityTopic: AvailabilityTopic(deviceID),
		ValueTemplate:     template,
		UnitOfMeasurement: "dB",
		DeviceClass:       "sound_pressure",
		StateClass:        "measurement",
		Device: discoveryDevice{
			Identifiers:  []string{deviceID},
			Name:         deviceName,
			Manufacturer: "MUTEq",
			Model:        "MUTE Client",
			SWVersion:    version,
		},
	}
	return json.Marshal(cfg)
}

package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	LastPeakDB          float64    `json:"last_peak_db"`
	LastSampleDB        float64    `json:"last_sample_db"`
	Registered          bool       `json:"registered"`
	UptimeSeconds       int64      `json:"uptime_seconds"`
	StartTime           string     `json:"start_time"`
	Timestamp           string     `json:"timestamp"`
	LastRealtimeSuccess string     `json:"last_realtime_success,omitempty"`
	MQTT                MQTTStatus `json:"mqtt"`
	Queues              QueuesJSON `json:"queues"`
	Counts              CountsJSON `json:"counts"`
	Config              ConfigJSON `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// QueuesJSON reports the backlog of both offline queues.
type QueuesJSON struct {
	HTTPRetry   int `json:"http_retry"`
	MQTTDurable int `json:"mqtt_durable"`
}

// CountsJSON is the JSON representation of delivery counters.
type CountsJSON struct {
	RealtimeSent  int `json:"realtime_sent"`
	ThresholdSent int `json:"threshold_sent"`
	Heartbeats    int `json:"heartbeats"`
	HTTPQueued    int `json:"http_queued"`
	MQTTBuffered  int `json:"mqtt_buffered"`
	ReadErrors    int `json:"read_errors"`
}

// ConfigJSON is the JSON representation of agent config.
type ConfigJSON struct {
	DeviceName    string  `json:"device_name"`
	DeviceID      string  `json:"device_id,omitempty"`
	Broker        string  `json:"broker"`
	HTTPAddr      string  `json:"http_addr"`
	WindowSeconds float64 `json:"window_seconds"`
	NoiseFloor    float64 `json:"minimum_noise_level"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		LastPeakDB:    snap.LastPeak,
		LastSampleDB:  snap.LastSample,
		Registered:    snap.Registered,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Queues: QueuesJSON{
			HTTPRetry:   snap.HTTPQueueDepth,
			MQTTDurable: snap.DurableQueueDepth,
		},
		Counts: CountsJSON{
			RealtimeSent:  snap.Counts.RealtimeSent,
			ThresholdSent: snap.Counts.ThresholdSent,
			Heartbeats:    snap.Counts.Heartbeats,
			HTTPQueued:    snap.Counts.HTTPQueued,
			MQTTBuffered:  snap.Counts.MQTTBuffered,
			ReadErrors:    snap.Counts.ReadErrors,
		},
		Config: ConfigJSON{
			DeviceName:    snap.Config.DeviceName,
			DeviceID:      snap.Config.DeviceID,
			Broker:        snap.Config.Broker,
			HTTPAddr:      snap.Config.HTTPAddr,
			WindowSeconds: snap.Config.WindowSeconds,
			NoiseFloor:    snap.Config.NoiseFloor,
		},
	}
	if !snap.LastRealtimeSuccess.IsZero() {
		inner.LastRealtimeSuccess = snap.LastRealtimeSuccess.UTC().Format(time.RFC3339)
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

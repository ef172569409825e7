package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/muteq/mute-agent/internal/backend"
	"github.com/muteq/mute-agent/internal/config"
	"github.com/muteq/mute-agent/internal/led"
	"github.com/muteq/mute-agent/internal/mqtt"
	"github.com/muteq/mute-agent/internal/queue"
	"github.com/muteq/mute-agent/internal/spl"
	"github.com/muteq/mute-agent/internal/status"
	"github.com/muteq/mute-agent/internal/watchdog"
	"github.com/muteq/mute-agent/internal/window"
)

// ingester is the slice of the HTTP client the loop needs.
type ingester interface {
	Send(ctx context.Context, eventType string, payload []byte, timestampISO string) backend.Outcome
	Enqueue(eventType string, payload []byte, timestampISO string)
	QueueDepth() int
}

// agent wires the sampling loop to its collaborators. publisher, store,
// tracker, monitor, and indicator may be nil; the loop degrades to the
// paths that remain.
type agent struct {
	cfg       config.Config
	source    spl.Source
	client    ingester
	publisher mqtt.Publisher
	store     *queue.Store
	tracker   *status.Tracker
	monitor   *watchdog.Monitor
	indicator led.Indicator
	logger    *slog.Logger

	counts          status.Counts
	firstSendLogged bool
	lastHeartbeat   time.Time
	lastSample      float64
	lastPeak        float64
}

// loop runs the sampling/aggregation loop until ctx is cancelled or the
// watchdog requests a restart. tick drives sampling; time is injectable
// for tests.
func (a *agent) loop(ctx context.Context, now func() time.Time, tick <-chan time.Time, watchdogErr <-chan error) error {
	agg := window.NewAggregator(windowDuration(a.cfg), a.cfg.MinimumNoiseLevel, now())

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("shutting down")
			return nil

		case err := <-watchdogErr:
			return err

		case <-tick:
			t := now()
			value, err := a.source.Read()
			if err != nil {
				a.counts.ReadErrors++
				a.logger.Debug("sensor read failed", "error", err)
			} else {
				a.lastSample = value
				agg.Observe(value, t)
			}

			if measurements := agg.Tick(t); len(measurements) > 0 {
				for _, m := range measurements {
					a.deliver(ctx, m, t)
				}
				a.refreshStatus()
			}

			a.maybeHeartbeat(ctx, t)
		}
	}
}

func (a *agent) deliver(ctx context.Context, m window.Measurement, now time.Time) {
	ts := m.Timestamp.UTC().Format(time.RFC3339)

	switch m.Kind {
	case window.KindRealtime:
		a.lastPeak = m.Peak
		payload := a.measurementJSON(ts, m.Peak, m.Peak)

		switch a.client.Send(ctx, "realtime", payload, ts) {
		case backend.Success:
			a.counts.RealtimeSent++
			if a.monitor != nil {
				a.monitor.RecordSuccess(now)
			}
			if a.tracker != nil {
				a.tracker.SetLastRealtimeSuccess(now)
			}
			if !a.firstSendLogged {
				a.firstSendLogged = true
				a.logger.Info("first realtime measurement delivered", "peak_db", m.Peak)
			} else {
				a.logger.Debug("realtime measurement delivered", "peak_db", m.Peak)
			}
		case backend.Retryable:
			a.client.Enqueue("realtime", payload, ts)
			a.counts.HTTPQueued++
			a.logger.Debug("realtime send failed; queued for retry", "peak_db", m.Peak)
		case backend.NonRetryable:
			a.logger.Warn("realtime send rejected", "peak_db", m.Peak)
		}

		if state, err := mqtt.FormatRealtime(m.Peak); err == nil {
			a.publishOrBuffer(queue.Realtime, state)
		}

	case window.KindThreshold:
		payload := a.measurementJSON(ts, m.Latest, m.Peak)

		switch a.client.Send(ctx, "threshold", payload, ts) {
		case backend.Success:
			a.counts.ThresholdSent++
			a.logger.Info("threshold event delivered", "peak_db", m.Peak, "latest_db", m.Latest)
		case backend.Retryable:
			a.client.Enqueue("threshold", payload, ts)
			a.counts.HTTPQueued++
			a.logger.Warn("threshold send failed; queued for retry", "peak_db", m.Peak)
		case backend.NonRetryable:
			a.logger.Warn("threshold send rejected", "peak_db", m.Peak)
		}

		if state, err := mqtt.FormatThreshold(m.Peak, m.Latest); err == nil {
			a.publishOrBuffer(queue.Threshold, state)
		}
	}
}

// publishOrBuffer sends a state payload to the broker, falling back to
// the durable offline queue so the message survives broker downtime and
// process restarts.
func (a *agent) publishOrBuffer(t queue.MessageType, payload []byte) {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.PublishState(t, payload); err == nil {
		return
	}
	if a.store == nil {
		a.logger.Warn("mqtt publish failed and no offline queue configured", "msg_type", t)
		return
	}
	topic := mqtt.StateTopic(a.cfg.AssignedDeviceID, t)
	if err := a.store.Enqueue(topic, payload, t); err != nil {
		a.logger.Error("buffer mqtt message", "msg_type", t, "error", err)
		return
	}
	a.counts.MQTTBuffered++
}

// maybeHeartbeat sends the periodic heartbeat on the HTTP path. A
// successful heartbeat also refreshes the MQTT availability marker. The
// interval restarts regardless of outcome so a dead backend is probed at
// the heartbeat cadence, not on every window.
func (a *agent) maybeHeartbeat(ctx context.Context, now time.Time) {
	if !a.lastHeartbeat.IsZero() && now.Sub(a.lastHeartbeat) < heartbeatInterval {
		return
	}
	a.lastHeartbeat = now

	ts := now.UTC().Format(time.RFC3339)
	payload, err := json.Marshal(heartbeatPayload{deviceMeta: a.meta(), Timestamp: ts})
	if err != nil {
		a.logger.Error("build heartbeat payload", "error", err)
		return
	}

	switch a.client.Send(ctx, "heartbeat", payload, ts) {
	case backend.Success:
		a.counts.Heartbeats++
		a.logger.Debug("heartbeat sent")
		if a.publisher != nil && a.publisher.Connected() {
			if err := a.publisher.PublishAvailability(true); err != nil {
				a.logger.Warn("refresh availability", "error", err)
			}
		}
	case backend.Retryable:
		a.client.Enqueue("heartbeat", payload, ts)
		a.counts.HTTPQueued++
		a.logger.Warn("heartbeat send failed; queued for retry")
	case backend.NonRetryable:
		a.logger.Warn("heartbeat rejected")
	}
}

// refreshStatus pushes current state to the tracker and LED. Called on
// window close rather than every sample so the durable queue is not
// opened ten times a second just to read its depth.
func (a *agent) refreshStatus() {
	connected := a.publisher != nil && a.publisher.Connected()

	if a.tracker != nil {
		a.tracker.Update(a.lastPeak, a.lastSample, a.counts)
		a.tracker.SetMQTTConnected(connected)

		durable := 0
		if a.store != nil {
			if d, err := a.store.Depth(); err == nil {
				durable = d
			}
		}
		a.tracker.SetQueueDepths(a.client.QueueDepth(), durable)
	}

	if a.indicator != nil {
		if err := a.indicator.Set(connected); err != nil {
			a.logger.Debug("set status led", "error", err)
		}
	}
}

// deviceMeta is carried on every ingest payload so the backend can
// attribute measurements without a device lookup.
type deviceMeta struct {
	DeviceID           string   `json:"device_id"`
	DeviceName         string   `json:"device_name"`
	Address            string   `json:"address"`
	Lat                *float64 `json:"lat"`
	Lon                *float64 `json:"lon"`
	Country            string   `json:"country"`
	EnvironmentProfile string   `json:"environment_profile"`
	CustomUsage        string   `json:"custom_usage"`
}

type measurementPayload struct {
	deviceMeta
	Timestamp         string  `json:"timestamp"`
	NoiseValue        float64 `json:"noise_value"`
	PeakValue         float64 `json:"peak_value"`
	MinimumNoiseLevel float64 `json:"minimum_noise_level"`
}

type heartbeatPayload struct {
	deviceMeta
	Timestamp string `json:"timestamp"`
}

func (a *agent) meta() deviceMeta {
	return deviceMeta{
		DeviceID:           a.cfg.AssignedDeviceID,
		DeviceName:         a.cfg.DeviceName,
		Address:            a.cfg.Location.Address,
		Lat:                a.cfg.Location.Lat,
		Lon:                a.cfg.Location.Lon,
		Country:            a.cfg.Location.Country,
		EnvironmentProfile: a.cfg.EnvironmentProfile,
		CustomUsage:        a.cfg.CustomEnvironmentLabel,
	}
}

func (a *agent) measurementJSON(ts string, noise, peak float64) []byte {
	payload, err := json.Marshal(measurementPayload{
		deviceMeta:        a.meta(),
		Timestamp:         ts,
		NoiseValue:        noise,
		PeakValue:         peak,
		MinimumNoiseLevel: a.cfg.MinimumNoiseLevel,
	})
	if err != nil {
		a.logger.Error("build measurement payload", "error", err)
		return nil
	}
	return payload
}

func windowDuration(cfg config.Config) time.Duration {
	return time.Duration(cfg.TimeWindowSeconds * float64(time.Second))
}

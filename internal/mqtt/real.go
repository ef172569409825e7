package mqtt

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/muteq/mute-agent/internal/queue"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Options configures a connection to the local broker.
type Options struct {
	Server   string
	Port     int
	Username string
	Password string
	TLS      bool

	DeviceID   string
	DeviceName string
	Version    string

	// Store is flushed on every (re)connect, after discovery and
	// availability are announced.
	Store  *queue.Store
	Logger *slog.Logger
}

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client   paho.Client
	deviceID string
	logger   *slog.Logger
}

// NewRealPublisher creates a publisher connected to the configured broker.
// The paho client keeps reconnecting on its own; every successful connect
// re-announces discovery and availability and drains the offline queue.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	scheme := "tcp"
	if opts.TLS {
		scheme = "ssl"
	}
	broker := fmt.Sprintf("%s://%s:%d", scheme, opts.Server, opts.Port)

	p := &RealPublisher{deviceID: opts.DeviceID, logger: opts.Logger}

	clientOpts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("MUTE_" + sanitizeClientID(opts.DeviceName)).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(AvailabilityTopic(opts.DeviceID), PayloadOffline, 1, true).
		SetOnConnectHandler(func(c paho.Client) {
			p.onConnect(opts)
		}).
		SetConnectionLostHandler(func(c paho.Client, err error) {
			opts.Logger.Warn("mqtt connection lost", "error", err)
		})

	p.client = paho.NewClient(clientOpts)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		// The client keeps retrying in the background; measurements go
		// to the offline queue until the first connect succeeds.
		opts.Logger.Warn("mqtt broker not reachable yet", "broker", broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		opts.Logger.Warn("mqtt connect failed; retrying in background", "broker", broker, "error", err)
	}
	return p, nil
}

// onConnect re-establishes broker-side state: retained discovery configs,
// the online marker, then any backlog accumulated while offline.
func (p *RealPublisher) onConnect(opts Options) {
	opts.Logger.Info("mqtt connected", "device_id", opts.DeviceID)

	for _, t := range []queue.MessageType{queue.Realtime, queue.Threshold} {
		payload, err := FormatDiscovery(opts.DeviceID, opts.DeviceName, opts.Version, t)
		if err != nil {
			opts.Logger.Error("build discovery payload", "msg_type", t, "error", err)
			continue
		}
		if err := p.publish(DiscoveryTopic(opts.DeviceID, t), payload, true); err != nil {
			opts.Logger.Warn("publish discovery", "msg_type", t, "error", err)
		}
	}

	if err := p.PublishAvailability(true); err != nil {
		opts.Logger.Warn("publish availability", "error", err)
	}

	if opts.Store != nil {
		if err := opts.Store.Flush(func(topic string, payload []byte) error {
			return p.publish(topic, payload, false)
		}); err != nil {
			opts.Logger.Error("flush offline queue", "error", err)
		}
	}
}

// PublishState sends one measurement. QoS 1, not retained: stale noise
// readings must not reappear as current state after a broker restart.
func (p *RealPublisher) PublishState(t queue.MessageType, payload []byte) error {
	return p.publish(StateTopic(p.deviceID, t), payload, false)
}

// PublishAvailability marks the device online or offline, retained.
func (p *RealPublisher) PublishAvailability(online bool) error {
	state := PayloadOffline
	if online {
		state = PayloadOnline
	}
	return p.publish(AvailabilityTopic(p.deviceID), []byte(state), true)
}

func (p *RealPublisher) publish(topic string, payload []byte, retained bool) error {
	token := p.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Connected reports whether the broker connection is currently up.
func (p *RealPublisher) Connected() bool {
	return p.client.IsConnectionOpen()
}

// Close publishes the offline marker best-effort and disconnects.
func (p *RealPublisher) Close() error {
	if p.Connected() {
		if err := p.PublishAvailability(false); err != nil {
			p.logger.Warn("publish offline marker", "error", err)
		}
	}
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

// sanitizeClientID keeps the broker-facing client ID to a safe charset.
func sanitizeClientID(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}

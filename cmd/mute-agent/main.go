// Command mute-agent samples a sound level meter and delivers windowed
// noise measurements to the MUTEq backend and a local MQTT broker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/muteq/mute-agent/internal/backend"
	"github.com/muteq/mute-agent/internal/config"
	"github.com/muteq/mute-agent/internal/led"
	"github.com/muteq/mute-agent/internal/mqtt"
	"github.com/muteq/mute-agent/internal/queue"
	"github.com/muteq/mute-agent/internal/signer"
	"github.com/muteq/mute-agent/internal/spl"
	"github.com/muteq/mute-agent/internal/status"
	"github.com/muteq/mute-agent/internal/watchdog"
	"github.com/muteq/mute-agent/internal/web"
)

const clientVersion = "0.0.26"

const (
	sampleInterval       = 100 * time.Millisecond
	heartbeatInterval    = 90 * time.Second
	availabilityInterval = 60 * time.Second
	pruneInterval        = time.Hour
	registrationRetry    = 10 * time.Second
)

func main() {
	configPath := pflag.String("config", config.DefaultPath, "Path to the agent config file")
	queuePath := pflag.String("queue", "mute_queue.db", "Path to the durable offline queue database")
	httpAddr := pflag.String("http", ":8080", "HTTP status address (empty to disable)")
	ledPin := pflag.Int("led-pin", led.DefaultPin, "BCM pin for the status LED (0 to disable)")
	debug := pflag.Bool("debug", false, "Force debug logging")
	printReading := pflag.Bool("print-reading", false, "Read one sample, print it, and exit")
	pflag.Parse()

	// .env is optional; real deployments set variables in the unit file.
	_ = godotenv.Load()

	err := run(*configPath, *queuePath, *httpAddr, *ledPin, *debug, *printReading)
	if errors.Is(err, watchdog.ErrRestartRequested) {
		restart()
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath, queuePath, httpAddr string, ledPin int, debug, printReading bool) error {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, needsRegistration, err := config.Load(configPath)
	if err != nil {
		logger.Warn("config unreadable; starting from defaults", "path", configPath, "error", err)
	}
	cfg = config.ApplyEnv(cfg)
	setLevel(level, cfg.LogLevel, debug)

	secretPath := os.Getenv("MUTE_SECRET_PATH")
	if secretPath == "" {
		secretPath = signer.DefaultSecretPath
	}
	secret, err := signer.LoadSecret(secretPath)
	if err != nil {
		return fmt.Errorf("load shared secret: %w", err)
	}
	sig, err := signer.New(secret)
	if err != nil {
		return fmt.Errorf("init signer: %w", err)
	}

	source, err := openSource(cfg)
	if err != nil {
		return fmt.Errorf("open sensor: %w", err)
	}
	defer source.Close()

	if printReading {
		value, err := source.Read()
		if err != nil {
			return fmt.Errorf("read sensor: %w", err)
		}
		fmt.Printf("%.1f dB\n", value)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := config.BackendPool(cfg)
	client := backend.New(sig, pool, cfg.BackendPreferenceIndex, logger)

	if needsRegistration {
		id, err := registerLoop(ctx, client, cfg, logger)
		if err != nil {
			return err
		}
		cfg.AssignedDeviceID = id.DeviceID
		cfg.DeviceToken = id.DeviceToken
		if err := config.Persist(configPath, cfg); err != nil {
			logger.Error("persist config after registration", "error", err)
		}
	}
	client.SetIdentity(backend.Identity{DeviceID: cfg.AssignedDeviceID, DeviceToken: cfg.DeviceToken})

	tracker := status.NewTracker(time.Now(), status.Config{
		DeviceName:    cfg.DeviceName,
		DeviceID:      cfg.AssignedDeviceID,
		Broker:        fmt.Sprintf("%s:%d", cfg.MQTTServer, cfg.MQTTPort),
		HTTPAddr:      httpAddr,
		WindowSeconds: cfg.TimeWindowSeconds,
		NoiseFloor:    cfg.MinimumNoiseLevel,
	})
	tracker.SetRegistered(true)

	var store *queue.Store
	var publisher mqtt.Publisher
	if cfg.MQTTEnabled {
		store, err = queue.Open(queuePath, logger)
		if err != nil {
			return fmt.Errorf("open offline queue: %w", err)
		}
		real, err := mqtt.NewRealPublisher(mqtt.Options{
			Server:     cfg.MQTTServer,
			Port:       cfg.MQTTPort,
			Username:   cfg.MQTTUser,
			Password:   cfg.MQTTPass,
			TLS:        cfg.MQTTTLS,
			DeviceID:   cfg.AssignedDeviceID,
			DeviceName: cfg.DeviceName,
			Version:    clientVersion,
			Store:      store,
			Logger:     logger,
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		publisher = real
		defer publisher.Close()
	}

	connected := func() bool { return publisher != nil && publisher.Connected() }
	monitor := watchdog.New(windowDuration(cfg), connected, logger)

	var indicator led.Indicator
	if ledPin > 0 {
		real, err := led.NewRealIndicator(ledPin)
		if err != nil {
			logger.Warn("status led unavailable", "pin", ledPin, "error", err)
		} else {
			indicator = real
			defer real.Close()
		}
	}

	if httpAddr != "" {
		srv := web.New(httpAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info("http status server listening", "addr", httpAddr)
	}

	go client.RunRetryWorker(ctx)
	if store != nil {
		go pruneLoop(ctx, store, logger)
	}
	if publisher != nil {
		go availabilityLoop(ctx, publisher)
	}

	watchdogErr := make(chan error, 1)
	go func() {
		if err := monitor.Run(ctx); errors.Is(err, watchdog.ErrRestartRequested) {
			watchdogErr <- err
		}
	}()

	a := &agent{
		cfg:       cfg,
		source:    source,
		client:    client,
		publisher: publisher,
		store:     store,
		tracker:   tracker,
		monitor:   monitor,
		indicator: indicator,
		logger:    logger,
	}

	logger.Info("agent started",
		"device_id", cfg.AssignedDeviceID,
		"window_s", cfg.TimeWindowSeconds,
		"noise_floor_db", cfg.MinimumNoiseLevel,
		"backends", len(pool),
		"mqtt_enabled", cfg.MQTTEnabled)

	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	return a.loop(ctx, time.Now, ticker.C, watchdogErr)
}

// registerLoop blocks until the backend hands out an identity or ctx is
// cancelled. Registration failure is expected on first boot in the field
// (no uplink yet), so it retries forever at a fixed interval.
func registerLoop(ctx context.Context, client *backend.Client, cfg config.Config, logger *slog.Logger) (backend.Identity, error) {
	reg := backend.Registration{
		DeviceName:             cfg.DeviceName,
		EnvironmentProfile:     cfg.EnvironmentProfile,
		CustomEnvironmentLabel: cfg.CustomEnvironmentLabel,
		ClientVersion:          clientVersion,
	}
	for {
		if id, ok := client.Register(ctx, reg); ok {
			logger.Info("device registered", "device_id", id.DeviceID)
			return id, nil
		}
		logger.Warn("registration failed; retrying", "retry_in", registrationRetry)
		select {
		case <-ctx.Done():
			return backend.Identity{}, ctx.Err()
		case <-time.After(registrationRetry):
		}
	}
}

func openSource(cfg config.Config) (spl.Source, error) {
	if cfg.Serial.Enabled {
		return spl.NewSerialReader(cfg.Serial.Port, cfg.Serial.Baudrate)
	}
	return spl.NewUSBReader(cfg.USBPath)
}

// pruneLoop drops expired queued messages on a fixed cadence so the
// durable queue stays bounded even if the broker never comes back.
func pruneLoop(ctx context.Context, store *queue.Store, logger *slog.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := store.Prune(); err != nil {
				logger.Error("prune offline queue", "error", err)
			}
		}
	}
}

// availabilityLoop re-publishes the retained online marker while the
// connection is up, so a broker that lost retained state converges.
func availabilityLoop(ctx context.Context, publisher mqtt.Publisher) {
	ticker := time.NewTicker(availabilityInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if publisher.Connected() {
				publisher.PublishAvailability(true)
			}
		}
	}
}

func setLevel(level *slog.LevelVar, cfgLevel string, debug bool) {
	if debug {
		level.Set(slog.LevelDebug)
		return
	}
	switch strings.ToUpper(strings.TrimSpace(cfgLevel)) {
	case "DEBUG":
		level.Set(slog.LevelDebug)
	case "WARNING", "WARN":
		level.Set(slog.LevelWarn)
	case "ERROR":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

// restart replaces the running process image with a fresh invocation of
// the same binary and arguments.
func restart() {
	exe, err := os.Executable()
	if err == nil {
		slog.Info("restarting", "exe", exe)
		err = syscall.Exec(exe, os.Args, os.Environ())
	}
	slog.Error("restart failed", "error", err)
	os.Exit(1)
}

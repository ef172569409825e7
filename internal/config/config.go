// Package config loads, validates, and persists the agent configuration.
// Device/network parameters may be overridden by environment variables at
// startup; overrides are resolved before the core starts.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DefaultPath is where the persistent volume mounts the agent config.
const DefaultPath = "/config/config_client.json"

// Location describes where the device is installed. Carried as metadata
// on every ingest payload.
type Location struct {
	Address string   `json:"address"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
	Country string   `json:"country"`
}

// Serial configures the optional serial-line SPL meter. When disabled the
// agent reads the USB meter instead.
type Serial struct {
	Enabled  bool   `json:"enabled"`
	Port     string `json:"port"`
	Baudrate int    `json:"baudrate"`
}

// Config is the persisted agent configuration. Unknown keys in the file
// are dropped on the next persist.
type Config struct {
	ConfigVersion          int      `json:"config_version"`
	DeviceName             string   `json:"device_name"`
	AssignedDeviceID       string   `json:"assigned_device_id"`
	DeviceToken            string   `json:"device_token"`
	Location               Location `json:"location"`
	EnvironmentProfile     string   `json:"environment_profile"`
	CustomEnvironmentLabel string   `json:"custom_environment_label"`
	BackendPreferenceIndex int      `json:"backend_preference_index"`
	BackendFailover        []string `json:"backend_failover"`
	USBPath                string   `json:"usb_path"`
	Serial                 Serial   `json:"serial"`
	MQTTEnabled            bool     `json:"mqtt_enabled"`
	MQTTServer             string   `json:"mqtt_server"`
	MQTTPort               int      `json:"mqtt_port"`
	MQTTUser               string   `json:"mqtt_user"`
	MQTTPass               string   `json:"mqtt_pass"`
	MQTTTLS                bool     `json:"mqtt_tls"`
	MinimumNoiseLevel      float64  `json:"minimum_noise_level"`
	TimeWindowSeconds      float64  `json:"time_window_seconds"`
	LogLevel               string   `json:"log_level"`
}

// Defaults returns the baseline configuration used when the config file is
// absent, unreadable, or missing keys.
func Defaults() Config {
	return Config{
		ConfigVersion:      2,
		DeviceName:         "MUTEq Sensor",
		EnvironmentProfile: "traffic_roadside",
		BackendFailover:    []string{"https://dash.muteq.eu"},
		Serial:             Serial{Baudrate: 115200},
		MQTTPort:           1883,
		MinimumNoiseLevel:  80.0,
		TimeWindowSeconds:  2.0,
		LogLevel:           "INFO",
	}
}

// Load reads the config file at path, merged over defaults. The second
// return value reports whether the device still needs registration
// (missing file, unreadable file, or absent identity).
func Load(path string) (Config, bool, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, true, nil
		}
		return cfg, true, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		// An unparseable file falls back to defaults and re-registers
		// rather than blocking the agent on operator intervention.
		return Defaults(), true, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg = Validate(cfg)
	needsRegistration := cfg.AssignedDeviceID == "" || cfg.DeviceToken == ""
	return cfg, needsRegistration, nil
}

// Persist writes the config back to disk. Called after registration so the
// acquired identity and rotation preference survive restarts.
func Persist(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("save config to %s: %w", path, err)
	}
	return nil
}

// Validate applies minimal sanitization and defaults. It never fails;
// bad values are replaced, not rejected.
func Validate(cfg Config) Config {
	cfg.DeviceName = sanitizeDeviceName(cfg.DeviceName)
	cfg.AssignedDeviceID = strings.TrimSpace(cfg.AssignedDeviceID)
	cfg.DeviceToken = strings.TrimSpace(cfg.DeviceToken)
	if cfg.MQTTPort <= 0 {
		cfg.MQTTPort = 1883
	}
	if cfg.BackendPreferenceIndex < 0 {
		cfg.BackendPreferenceIndex = 0
	}
	if cfg.MinimumNoiseLevel <= 0 {
		cfg.MinimumNoiseLevel = Defaults().MinimumNoiseLevel
	}
	if cfg.TimeWindowSeconds <= 0 {
		cfg.TimeWindowSeconds = Defaults().TimeWindowSeconds
	}
	if cfg.Serial.Baudrate <= 0 {
		cfg.Serial.Baudrate = Defaults().Serial.Baudrate
	}
	cfg.BackendFailover = cleanPool(cfg.BackendFailover)
	if len(cfg.BackendFailover) == 0 {
		cfg.BackendFailover = Defaults().BackendFailover
	}
	return cfg
}

// ApplyEnv overlays environment overrides onto cfg. Recognized variables:
// LOCAL_MQTT_ENABLED, LOCAL_MQTT_SERVER, LOCAL_MQTT_PORT, LOCAL_MQTT_USER,
// LOCAL_MQTT_PASS, LOCAL_MQTT_TLS.
func ApplyEnv(cfg Config) Config {
	if v, ok := os.LookupEnv("LOCAL_MQTT_ENABLED"); ok {
		cfg.MQTTEnabled = parseBool(v)
	}
	if v, ok := os.LookupEnv("LOCAL_MQTT_SERVER"); ok {
		cfg.MQTTServer = v
	}
	if v, ok := os.LookupEnv("LOCAL_MQTT_PORT"); ok {
		if port, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.MQTTPort = port
		}
	}
	if v, ok := os.LookupEnv("LOCAL_MQTT_USER"); ok {
		cfg.MQTTUser = v
	}
	if v, ok := os.LookupEnv("LOCAL_MQTT_PASS"); ok {
		cfg.MQTTPass = v
	}
	if v, ok := os.LookupEnv("LOCAL_MQTT_TLS"); ok {
		cfg.MQTTTLS = parseBool(v)
	}
	return cfg
}

// BackendPool builds the ordered backend base-URL list. The
// MUTE_BACKEND_URLS environment variable (comma-separated) replaces the
// configured pool entirely; trailing slashes are stripped either way.
func BackendPool(cfg Config) []string {
	if env := os.Getenv("MUTE_BACKEND_URLS"); env != "" {
		pool := cleanPool(strings.Split(env, ","))
		if len(pool) > 0 {
			return pool
		}
	}
	pool := cleanPool(cfg.BackendFailover)
	if len(pool) == 0 {
		pool = Defaults().BackendFailover
	}
	return pool
}

func cleanPool(urls []string) []string {
	var cleaned []string
	for _, url := range urls {
		if v := strings.TrimRight(strings.TrimSpace(url), "/"); v != "" {
			cleaned = append(cleaned, v)
		}
	}
	return cleaned
}

func sanitizeDeviceName(name string) string {
	clean := strings.TrimSpace(name)
	if clean == "" {
		clean = Defaults().DeviceName
	}
	if len(clean) > 64 {
		clean = clean[:64]
	}
	return clean
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

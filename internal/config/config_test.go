package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, needsReg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !needsReg {
		t.Error("missing file should trigger registration")
	}
	if cfg.DeviceName != "MUTEq Sensor" {
		t.Errorf("expected default device name, got %q", cfg.DeviceName)
	}
	if cfg.TimeWindowSeconds != 2.0 {
		t.Errorf("expected default window 2.0s, got %v", cfg.TimeWindowSeconds)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config_client.json")
	os.WriteFile(path, []byte(`{
		"device_name": "  Roadside 01  ",
		"assigned_device_id": "dev-42",
		"device_token": "tok-42",
		"backend_preference_index": 1,
		"backend_failover": ["https://a.example/", " https://b.example "]
	}`), 0o600)

	cfg, needsReg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if needsReg {
		t.Error("complete identity should not trigger registration")
	}
	if cfg.DeviceName != "Roadside 01" {
		t.Errorf("expected trimmed device name, got %q", cfg.DeviceName)
	}
	if cfg.MinimumNoiseLevel != 80.0 {
		t.Errorf("expected default noise floor preserved, got %v", cfg.MinimumNoiseLevel)
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.BackendFailover) != 2 || cfg.BackendFailover[0] != want[0] || cfg.BackendFailover[1] != want[1] {
		t.Errorf("expected cleaned pool %v, got %v", want, cfg.BackendFailover)
	}
}

func TestLoadCorruptFileFallsBackAndReregisters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config_client.json")
	os.WriteFile(path, []byte("{not json"), 0o600)

	cfg, needsReg, err := Load(path)
	if err == nil {
		t.Error("expected parse error to be reported")
	}
	if !needsReg {
		t.Error("corrupt file should trigger registration")
	}
	if cfg.DeviceName != "MUTEq Sensor" {
		t.Errorf("expected defaults after corrupt file, got %q", cfg.DeviceName)
	}
}

func TestPersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config_client.json")
	cfg := Defaults()
	cfg.AssignedDeviceID = "dev-7"
	cfg.DeviceToken = "tok-7"
	cfg.BackendPreferenceIndex = 2

	if err := Persist(path, cfg); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	got, needsReg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if needsReg {
		t.Error("persisted identity should not trigger registration")
	}
	if got.AssignedDeviceID != "dev-7" || got.DeviceToken != "tok-7" {
		t.Errorf("identity not preserved: %+v", got)
	}
	if got.BackendPreferenceIndex != 2 {
		t.Errorf("preference index not preserved, got %d", got.BackendPreferenceIndex)
	}
}

func TestValidateRepairsBadValues(t *testing.T) {
	cfg := Config{
		DeviceName:             "",
		MQTTPort:               -1,
		BackendPreferenceIndex: -3,
		MinimumNoiseLevel:      0,
		TimeWindowSeconds:      0,
		BackendFailover:        []string{"", "  "},
	}
	got := Validate(cfg)
	if got.DeviceName != "MUTEq Sensor" {
		t.Errorf("expected default device name, got %q", got.DeviceName)
	}
	if got.MQTTPort != 1883 {
		t.Errorf("expected port repaired to 1883, got %d", got.MQTTPort)
	}
	if got.BackendPreferenceIndex != 0 {
		t.Errorf("expected preference index repaired to 0, got %d", got.BackendPreferenceIndex)
	}
	if got.MinimumNoiseLevel != 80.0 || got.TimeWindowSeconds != 2.0 {
		t.Errorf("expected thresholds repaired, got %v / %v", got.MinimumNoiseLevel, got.TimeWindowSeconds)
	}
	if len(got.BackendFailover) != 1 || got.BackendFailover[0] != "https://dash.muteq.eu" {
		t.Errorf("expected default pool, got %v", got.BackendFailover)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("LOCAL_MQTT_ENABLED", "yes")
	t.Setenv("LOCAL_MQTT_SERVER", "broker.lan")
	t.Setenv("LOCAL_MQTT_PORT", "8883")
	t.Setenv("LOCAL_MQTT_TLS", "true")

	cfg := ApplyEnv(Defaults())
	if !cfg.MQTTEnabled {
		t.Error("expected MQTT enabled from env")
	}
	if cfg.MQTTServer != "broker.lan" {
		t.Errorf("expected server override, got %q", cfg.MQTTServer)
	}
	if cfg.MQTTPort != 8883 {
		t.Errorf("expected port override, got %d", cfg.MQTTPort)
	}
	if !cfg.MQTTTLS {
		t.Error("expected TLS enabled from env")
	}
}

func TestBackendPoolEnvOverride(t *testing.T) {
	cfg := Defaults()
	cfg.BackendFailover = []string{"https://cfg.example"}

	t.Setenv("MUTE_BACKEND_URLS", "https://x.example/, https://y.example")
	pool := BackendPool(cfg)
	if len(pool) != 2 || pool[0] != "https://x.example" || pool[1] != "https://y.example" {
		t.Errorf("expected env pool, got %v", pool)
	}

	t.Setenv("MUTE_BACKEND_URLS", "")
	pool = BackendPool(cfg)
	if len(pool) != 1 || pool[0] != "https://cfg.example" {
		t.Errorf("expected config pool, got %v", pool)
	}
}

package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.json")
}

func writeTestConfig(t *testing.T, path string, cfg *Config) {
	t.Helper()
	if err := Save(path, cfg); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
}

func TestLoad_WritesDefaults(t *testing.T) {
	path := tempConfigPath(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if cfg.MaxConcurrent != 4 || cfg.LogLevel != "info" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.Safety.AllowRedOverride {
		t.Error("red override must be disabled by default")
	}
	if _, ok := cfg.Limits["router"]["feed_mm_min"]; !ok {
		t.Errorf("expected sample router limits, got %v", cfg.Limits)
	}
	if cfg.IntegritySweep.Days != 2 || cfg.IntegritySweep.Schedule == "" {
		t.Errorf("unexpected sweep defaults %+v", cfg.IntegritySweep)
	}
}

func TestLoad_DeletedModeStaysDeleted(t *testing.T) {
	path := tempConfigPath(t)
	cfg := defaults()
	cfg.Limits = map[string]map[string]Limit{"saw": {"depth_mm": {Warn: 30, Max: 40}}}
	writeTestConfig(t, path, cfg)

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := loaded.Limits["router"]; ok {
		t.Error("sample limits must not be merged into an existing file")
	}
	if loaded.Limits["saw"]["depth_mm"].Max != 40 {
		t.Errorf("unexpected limits %v", loaded.Limits)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := tempConfigPath(t)
	cfg := defaults()
	cfg.CAM.BaseURL = "http://file"
	writeTestConfig(t, path, cfg)

	t.Setenv("RUNGOV_DATA_DIR", "/srv/rungov")
	t.Setenv("RUNGOV_CAM_URL", "http://env")
	t.Setenv("RUNGOV_CAM_TOKEN", "env-token")
	t.Setenv("RUNGOV_REDIS_ADDR", "redis:6379")
	t.Setenv("RUNGOV_POSTGRES_DSN", "postgres://env")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tg-env")

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.DataDir != "/srv/rungov" || loaded.CAM.BaseURL != "http://env" || loaded.CAM.Token != "env-token" {
		t.Errorf("env overrides not applied: %+v", loaded)
	}
	if loaded.Redis.Addr != "redis:6379" || loaded.Postgres.DSN != "postgres://env" || loaded.Telegram.Token != "tg-env" {
		t.Errorf("env overrides not applied: %+v", loaded)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := tempConfigPath(t)
	if err := os.WriteFile(path, []byte("{"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestSave_ReloadRoundTrip(t *testing.T) {
	path := tempConfigPath(t)

	original := defaults()
	original.DataDir = "/tmp/test-data"
	original.LogLevel = "debug"
	original.Safety.AllowRedOverride = true
	original.Limits = map[string]map[string]Limit{"laser": {"power_w": {Warn: 80, Max: 100}}}
	original.PolicyDir = "/etc/rungov/policy"
	original.CAM.BaseURL = "http://cam:9000"
	original.CAM.Token = "cam-secret"
	original.Telegram.ChatID = -1001234
	original.HTTP.RateLimitFailClosed = true

	writeTestConfig(t, path, original)

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.DataDir != original.DataDir || loaded.LogLevel != original.LogLevel {
		t.Errorf("top-level mismatch: %+v", loaded)
	}
	if !loaded.Safety.AllowRedOverride {
		t.Error("safety.allow_red_override lost")
	}
	if loaded.Limits["laser"]["power_w"] != (Limit{Warn: 80, Max: 100}) {
		t.Errorf("limits mismatch: %v", loaded.Limits)
	}
	if loaded.CAM.BaseURL != original.CAM.BaseURL || loaded.CAM.Token != original.CAM.Token {
		t.Errorf("cam mismatch: %+v", loaded.CAM)
	}
	if loaded.Telegram.ChatID != -1001234 {
		t.Errorf("telegram.chat_id mismatch: %d", loaded.Telegram.ChatID)
	}
	if !loaded.HTTP.RateLimitFailClosed {
		t.Error("http.rate_limit_fail_closed lost")
	}
}

func TestSave_AtomicWrite(t *testing.T) {
	path := tempConfigPath(t)
	if err := Save(path, defaults()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file should not exist after successful save")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Errorf("saved file is not valid JSON: %v", err)
	}
}

func TestListValues(t *testing.T) {
	cfg := defaults()
	cfg.CAM.Token = "cam-token-1234"
	cfg.Redis.Password = "redis-pass-5678"

	masked, err := ListValues(cfg, true)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}
	if masked["cam.token"] != "***1234" || masked["redis.password"] != "***5678" {
		t.Errorf("secrets not masked: %v / %v", masked["cam.token"], masked["redis.password"])
	}
	if masked["http.listen"] != "127.0.0.1:8080" {
		t.Errorf("expected http.listen, got %v", masked["http.listen"])
	}
	if masked["max_concurrent"] != float64(4) {
		t.Errorf("expected max_concurrent=4, got %v", masked["max_concurrent"])
	}

	plain, err := ListValues(cfg, false)
	if err != nil {
		t.Fatal(err)
	}
	if plain["cam.token"] != "cam-token-1234" {
		t.Errorf("expected unmasked cam.token, got %v", plain["cam.token"])
	}
}

func TestGetValue(t *testing.T) {
	path := tempConfigPath(t)
	cfg := defaults()
	cfg.Limits = map[string]map[string]Limit{"saw": {"depth_mm": {Warn: 30, Max: 40}}}
	writeTestConfig(t, path, cfg)

	v, err := GetValue(path, "limits.saw.depth_mm.max")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != float64(40) {
		t.Errorf("expected 40, got %v (%T)", v, v)
	}

	_, err = GetValue(path, "nonexistent.key")
	if err == nil || err.Error() != "unknown config key: nonexistent.key" {
		t.Errorf("unexpected error %v", err)
	}
}

func TestSetValue(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, defaults())

	tests := []struct {
		key, value string
		want       any
	}{
		{"log_level", "debug", "debug"},
		{"max_concurrent", "16", float64(16)},
		{"safety.allow_red_override", "true", true},
		{"limits.saw.depth_mm.max", "42.5", 42.5},
		{"cam.base_url", "http://cam:9000", "http://cam:9000"},
	}
	for _, tt := range tests {
		if err := SetValue(path, tt.key, tt.value); err != nil {
			t.Fatalf("SetValue(%s) failed: %v", tt.key, err)
		}
		v, err := GetValue(path, tt.key)
		if err != nil {
			t.Fatalf("GetValue(%s) failed: %v", tt.key, err)
		}
		if v != tt.want {
			t.Errorf("%s: expected %v (%T), got %v (%T)", tt.key, tt.want, tt.want, v, v)
		}
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.Safety.AllowRedOverride || loaded.MaxConcurrent != 16 {
		t.Errorf("set values not visible to Load: %+v", loaded)
	}
	if loaded.Limits["saw"]["depth_mm"].Max != 42.5 {
		t.Errorf("unexpected limits %v", loaded.Limits)
	}
	if loaded.HTTP.Listen != "127.0.0.1:8080" {
		t.Errorf("unrelated values must be preserved, got %q", loaded.HTTP.Listen)
	}
}

func TestSetValue_NonexistentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist", "config.json")
	if err := SetValue(path, "log_level", "debug"); err == nil {
		t.Fatal("expected error for nonexistent file, got nil")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		cfg := &Config{LogLevel: in}
		if got := cfg.SlogLevel(); got != want {
			t.Errorf("%q: expected %v, got %v", in, want, got)
		}
	}
}

func TestRateLimitWindow(t *testing.T) {
	cfg := &Config{}
	if cfg.RateLimitWindow() != time.Minute {
		t.Errorf("expected default of one minute")
	}
	cfg.HTTP.RateLimitWindowSeconds = 5
	if cfg.RateLimitWindow() != 5*time.Second {
		t.Errorf("expected 5s, got %v", cfg.RateLimitWindow())
	}
}

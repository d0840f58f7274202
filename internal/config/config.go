package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Limit is one warn/max threshold pair of a machine mode.
type Limit struct {
	Warn float64 `json:"warn"`
	Max  float64 `json:"max"`
}

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	MaxConcurrent int    `json:"max_concurrent"`
	Safety        struct {
		AllowRedOverride bool `json:"allow_red_override"`
	} `json:"safety"`
	// Limits maps mode -> input field -> thresholds.
	Limits map[string]map[string]Limit `json:"limits"`
	// Modes in PolicyModes are scored by the policy bundle in PolicyDir.
	PolicyDir   string   `json:"policy_dir"`
	PolicyModes []string `json:"policy_modes"`
	CAM         struct {
		BaseURL        string `json:"base_url"`
		Token          string `json:"token"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	} `json:"cam"`
	HTTP struct {
		Enabled                bool   `json:"enabled"`
		Listen                 string `json:"listen"`
		RateLimitRequests      int    `json:"rate_limit_requests"`
		RateLimitWindowSeconds int    `json:"rate_limit_window_seconds"`
		RateLimitFailClosed    bool   `json:"rate_limit_fail_closed"`
	} `json:"http"`
	Redis struct {
		Addr     string `json:"addr"`
		Password string `json:"password"`
		DB       int    `json:"db"`
	} `json:"redis"`
	Postgres struct {
		DSN string `json:"dsn"`
	} `json:"postgres"`
	Telegram struct {
		Token  string `json:"token"`
		ChatID int64  `json:"chat_id"`
	} `json:"telegram"`
	IntegritySweep struct {
		Schedule string `json:"schedule"`
		Days     int    `json:"days"`
	} `json:"integrity_sweep"`
}

// DefaultPath is $HOME/.rungov/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".rungov", "config.json")
}

func defaults() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".rungov"),
		LogLevel:      "info",
		MaxConcurrent: 4,
	}
	cfg.CAM.TimeoutSeconds = 60
	cfg.HTTP.Enabled = true
	cfg.HTTP.Listen = "127.0.0.1:8080"
	cfg.HTTP.RateLimitRequests = 60
	cfg.HTTP.RateLimitWindowSeconds = 60
	cfg.IntegritySweep.Schedule = "@every 6h"
	cfg.IntegritySweep.Days = 2
	return cfg
}

// sampleLimits is written into a fresh config file only, so a user who
// deletes a mode does not get it back on the next load.
func sampleLimits() map[string]map[string]Limit {
	return map[string]map[string]Limit{
		"router": {
			"depth_of_cut_mm": {Warn: 6, Max: 10},
			"feed_mm_min":     {Warn: 2500, Max: 4000},
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		cfg.Limits = sampleLimits()
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("RUNGOV_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("RUNGOV_CAM_URL"); v != "" {
		cfg.CAM.BaseURL = v
	}
	if v := os.Getenv("RUNGOV_CAM_TOKEN"); v != "" {
		cfg.CAM.Token = v
	}
	if v := os.Getenv("RUNGOV_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("RUNGOV_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
}

// SlogLevel maps log_level onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RateLimitWindow is the rate limit window as a duration.
func (c *Config) RateLimitWindow() time.Duration {
	if c.HTTP.RateLimitWindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.HTTP.RateLimitWindowSeconds) * time.Second
}

// Save writes cfg to path atomically.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg into the generic JSON object form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues flattens cfg to dot keys, optionally masking secrets.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return m, nil
}

// GetValue reads one dot key straight from the file; env overrides are not
// applied.
func GetValue(path, key string) (any, error) {
	m, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue sets one dot key in the file. The value is parsed as JSON when
// possible (numbers, booleans) and stored as a string otherwise.
func SetValue(path, key, value string) error {
	m, err := readRaw(path)
	if err != nil {
		return err
	}
	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	flat := Flatten(m)
	// A scalar parent such as "limits": null would shadow the new key.
	for k := range flat {
		if strings.HasPrefix(key, k+".") || strings.HasPrefix(k, key+".") {
			delete(flat, k)
		}
	}
	flat[key] = parsed
	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

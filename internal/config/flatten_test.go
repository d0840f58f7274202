package config

import (
	"testing"
)

func TestFlatten_Nested(t *testing.T) {
	m := map[string]any{
		"cam": map[string]any{
			"base_url": "http://cam.local",
			"token":    "cam-secret",
		},
		"log_level": "info",
	}
	got := Flatten(m)
	if got["cam.base_url"] != "http://cam.local" {
		t.Errorf("expected cam.base_url, got %v", got["cam.base_url"])
	}
	if got["cam.token"] != "cam-secret" {
		t.Errorf("expected cam.token, got %v", got["cam.token"])
	}
	if got["log_level"] != "info" {
		t.Errorf("expected log_level=info, got %v", got["log_level"])
	}
	if len(got) != 3 {
		t.Errorf("expected 3 keys, got %d", len(got))
	}
}

func TestFlatten_Limits(t *testing.T) {
	m := map[string]any{
		"limits": map[string]any{
			"saw": map[string]any{
				"depth_mm": map[string]any{"warn": 30.0, "max": 40.0},
			},
		},
	}
	got := Flatten(m)
	if got["limits.saw.depth_mm.max"] != 40.0 {
		t.Errorf("expected limits.saw.depth_mm.max=40, got %v", got["limits.saw.depth_mm.max"])
	}
	if len(got) != 2 {
		t.Errorf("expected 2 keys, got %d", len(got))
	}
}

func TestFlatten_EmptyNestedMap(t *testing.T) {
	got := Flatten(map[string]any{"limits": map[string]any{}})
	if len(got) != 0 {
		t.Errorf("expected 0 keys (empty nested map produces nothing), got %d", len(got))
	}
}

func TestUnflatten_DeeplyNested(t *testing.T) {
	got := Unflatten(map[string]any{"limits.router.feed_mm_min.warn": 2500.0})
	limits, ok := got["limits"].(map[string]any)
	if !ok {
		t.Fatalf("expected limits to be map, got %T", got["limits"])
	}
	router, ok := limits["router"].(map[string]any)
	if !ok {
		t.Fatalf("expected limits.router to be map, got %T", limits["router"])
	}
	feed, ok := router["feed_mm_min"].(map[string]any)
	if !ok || feed["warn"] != 2500.0 {
		t.Errorf("unexpected feed_mm_min %v", router["feed_mm_min"])
	}
}

func TestRoundTrip_FlattenUnflatten(t *testing.T) {
	original := map[string]any{
		"data_dir":  "/home/test/.rungov",
		"log_level": "debug",
		"redis": map[string]any{
			"addr":     "localhost:6379",
			"password": "hunter2",
			"db":       1.0,
		},
		"telegram": map[string]any{
			"token": "bot-token-abc",
		},
	}

	restored := Unflatten(Flatten(original))

	if restored["data_dir"] != original["data_dir"] {
		t.Errorf("data_dir mismatch: %v != %v", restored["data_dir"], original["data_dir"])
	}
	redis := restored["redis"].(map[string]any)
	origRedis := original["redis"].(map[string]any)
	for _, k := range []string{"addr", "password", "db"} {
		if redis[k] != origRedis[k] {
			t.Errorf("redis.%s mismatch: %v != %v", k, redis[k], origRedis[k])
		}
	}
	tg := restored["telegram"].(map[string]any)
	if tg["token"] != "bot-token-abc" {
		t.Errorf("telegram.token mismatch: %v", tg["token"])
	}
}

func TestMaskSecrets(t *testing.T) {
	flat := map[string]any{
		"cam.base_url":   "http://cam.local",
		"cam.token":      "cam-token-9876",
		"redis.password": "ab",
		"postgres.dsn":   "postgres://u:p@db/rungov",
		"telegram.token": "",
		"log_level":      "info",
	}
	got := MaskSecrets(flat)

	tests := map[string]any{
		"cam.base_url":   "http://cam.local",
		"cam.token":      "***9876",
		"redis.password": "***",
		"postgres.dsn":   "postgres://u:xxxxx@db/rungov",
		"telegram.token": "",
		"log_level":      "info",
	}
	for k, want := range tests {
		if got[k] != want {
			t.Errorf("%s: expected %v, got %v", k, want, got[k])
		}
	}
}

func TestMaskSecrets_KeywordDSN(t *testing.T) {
	got := MaskSecrets(map[string]any{"postgres.dsn": "host=db user=u password=p dbname=rungov"})
	if got["postgres.dsn"] != "***" {
		t.Errorf("keyword DSN should be fully masked, got %v", got["postgres.dsn"])
	}
}

func TestIsSecretKey(t *testing.T) {
	if !IsSecretKey("postgres.dsn") {
		t.Error("postgres.dsn should be secret")
	}
	if IsSecretKey("cam.base_url") {
		t.Error("cam.base_url should not be secret")
	}
}

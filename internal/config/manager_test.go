package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: debug
  console: true
worker:
  enabled: true
  cadence: 30s
  rate_per_sec: 10
queue:
  preferred_hours: [9, 12, 18]
users:
  u1:
    favorites: [alice]
    contacts: [bob]
`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Worker.Enabled || cfg.Worker.Cadence != "30s" || cfg.Worker.RatePerSec != 10 {
		t.Fatalf("Worker = %+v", cfg.Worker)
	}
	if len(cfg.Queue.PreferredHours) != 3 {
		t.Fatalf("PreferredHours = %v", cfg.Queue.PreferredHours)
	}
	if got := cfg.Users["u1"]; len(got.Favorites) != 1 || got.Favorites[0] != "alice" {
		t.Fatalf("Users = %+v", cfg.Users)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"logging":{"level":"info"},"worker":{"enabled":false}}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "info" || cfg.Worker.Enabled {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"logging":{"level":"info"},"typo_field":1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"logging":{"level":"info"}}{"extra":true}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"empty is fine", Config{}, false},
		{"bad preferred hour", Config{Queue: QueueConfig{PreferredHours: []int{25}}}, true},
		{"bad filter hour", Config{Filter: FilterConfig{SleepStartHour: -1}}, true},
		{"bad duration", Config{Filter: FilterConfig{FocusDefer: "an hour"}}, true},
		{"bad retry base", Config{Worker: WorkerConfig{RetryBase: "fast"}}, true},
		{"retry tuning", Config{Worker: WorkerConfig{RetryMax: 5, RetryBase: "1s", RetryMaxDelay: "30s"}}, false},
		{"telegram without token", Config{Sink: &SinkConfig{Kind: "telegram"}}, true},
		{"telegram with token", Config{Sink: &SinkConfig{Kind: "telegram", Token: "t"}}, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "90m"); err != nil || d != 90*time.Minute {
		t.Fatalf("ParseDurationField = (%v, %v)", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = (%v, %v), want (0, nil)", d, err)
	}
	if _, err := ParseDurationField("x", "-1h"); err == nil {
		t.Fatal("expected error for negative duration")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default = (%v, %v), want (1m, nil)", d, err)
	}
}

func TestSubscribePublishDropsOldest(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{}`)
	m := NewManager(path)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{Logging: LoggingConfig{Level: "info"}}
	second := &Config{Logging: LoggingConfig{Level: "debug"}}
	m.publish(first)
	m.publish(second)

	got := <-ch
	if got.Logging.Level != "debug" {
		t.Fatalf("received level %q, want the newest config", got.Logging.Level)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed by Unsubscribe")
	}
	m.Unsubscribe(ch) // second call is a no-op
}

func TestHashBytesStable(t *testing.T) {
	t.Parallel()
	if hashBytes(nil) != 0 {
		t.Fatal("empty input must hash to 0")
	}
	a := hashBytes([]byte("abc"))
	if a == 0 || a != hashBytes([]byte("abc")) {
		t.Fatal("hash not stable")
	}
	if a == hashBytes([]byte("abd")) {
		t.Fatal("hash collision on trivially different input")
	}
}

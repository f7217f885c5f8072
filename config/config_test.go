package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  location_resolved_topic_name: "location.resolved"
  consumer_group: "pin-worker"
redis:
  host: "localhost"
  port: 6379
logging:
  env: "prod"
  level: "debug"
geocoder:
  mode: "google"
  qps: 5
backend:
  base_url: "http://storefront:8000/"
pinbox:
  http_addr: ":8080"
  location_cache_ttl_hours: 168
  memo_ttl_seconds: 300
  session_idle_minutes: 45
  publish_events: true
  worker_rate_limit_per_minute: 30
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "postgres://u:p@localhost:5432/db?sslmode=disable", cfg.Database.ConnString())
	require.Equal(t, "location.resolved", cfg.Kafka.LocationResolvedTopicName)
	require.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers())
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
	require.Equal(t, "prod", cfg.Logging.Env)
	require.Equal(t, 5.0, cfg.Geocoder.QPS)
	require.Equal(t, ":8080", cfg.PinBox.HTTPAddr)
	require.Equal(t, 168, cfg.PinBox.LocationCacheTTLHours)
	require.Equal(t, 45, cfg.PinBox.SessionIdleMinutes)
	require.True(t, cfg.PinBox.PublishEvents)
	require.Equal(t, 30, cfg.PinBox.WorkerRateLimitPerMinute)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestApplyEnv_OverridesSecrets(t *testing.T) {
	cfg := &Config{
		Geocoder: GeocoderConfig{APIKey: "from-yaml"},
		Backend:  BackendConfig{BaseURL: "http://yaml"},
	}
	env := map[string]string{
		"GOOGLE_MAPS_API_KEY":     " secret ",
		"PINBOX_BACKEND_BASE_URL": "",
		"PINBOX_LOG_LEVEL":        "warn",
	}
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	require.Equal(t, "secret", cfg.Geocoder.APIKey)
	require.Equal(t, "http://yaml", cfg.Backend.BaseURL)
	require.Equal(t, "warn", cfg.Logging.Level)
}

func TestEmptyHostsDisableBrokersAndRedis(t *testing.T) {
	var cfg Config
	require.Nil(t, cfg.Kafka.Brokers())
	require.Empty(t, cfg.Redis.Addr())
	require.Contains(t, cfg.Database.ConnString(), "sslmode=disable")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(p, []byte("PINBOX_DOTENV_PROBE=loaded\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("PINBOX_DOTENV_PROBE") })

	got := LoadDotEnv(filepath.Join(dir, ".missing"), p)
	require.Equal(t, p, got)
	require.Equal(t, "loaded", os.Getenv("PINBOX_DOTENV_PROBE"))

	require.Empty(t, LoadDotEnv(filepath.Join(dir, ".missing")))
}

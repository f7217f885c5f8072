package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Geocoder GeocoderConfig `yaml:"geocoder"`
	Backend  BackendConfig  `yaml:"backend"`
	PinBox   PinBoxConfig   `yaml:"pinbox"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ConnString returns the pgx DSN; ssl_mode defaults to disable.
func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

type KafkaConfig struct {
	Host                      string `yaml:"host"`
	Port                      int    `yaml:"port"`
	LocationResolvedTopicName string `yaml:"location_resolved_topic_name"`
	ConsumerGroup             string `yaml:"consumer_group"`
}

func (k KafkaConfig) Brokers() []string {
	if k.Host == "" {
		return nil
	}
	return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)}
}

// RedisConfig with an empty host means "no Redis": the API falls back to an
// in-process cache.
type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type LoggingConfig struct {
	Env   string `yaml:"env"`   // "prod" | "dev"
	Level string `yaml:"level"` // debug | info | warn | error
}

type GeocoderConfig struct {
	Mode    string  `yaml:"mode"` // "google" | "fake"
	BaseURL string  `yaml:"base_url"`
	APIKey  string  `yaml:"api_key"`
	QPS     float64 `yaml:"qps"`
}

// BackendConfig points at the storefront backend. Empty base_url with mode
// other than "fake" means no backend: pincodes stay UNKNOWN.
type BackendConfig struct {
	Mode    string `yaml:"mode"` // "http" | "fake"
	BaseURL string `yaml:"base_url"`
}

type PinBoxConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	LocationCacheTTLHours int  `yaml:"location_cache_ttl_hours"`
	MemoTTLSeconds        int  `yaml:"memo_ttl_seconds"`
	SessionIdleMinutes    int  `yaml:"session_idle_minutes"`
	PublishEvents         bool `yaml:"publish_events"`

	WorkerHTTPAddr            string `yaml:"worker_http_addr"`
	WorkerPollIntervalSeconds int    `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int    `yaml:"worker_batch_size"`
	WorkerConcurrency         int    `yaml:"worker_concurrency"`
	WorkerLeaseSeconds        int    `yaml:"worker_lease_seconds"`
	WorkerRateLimitPerMinute  int    `yaml:"worker_rate_limit_per_minute"`

	// Расписание перепроверок. Если не задано: 24ч для доступных пинкодов,
	// 6ч для недоступных, backoff 5/15/30/60 минут.
	WorkerNextCheckServiceableSeconds    int `yaml:"worker_next_check_serviceable_seconds"`
	WorkerNextCheckNotServiceableSeconds int `yaml:"worker_next_check_not_serviceable_seconds"`
	WorkerNextCheckJitterSeconds         int `yaml:"worker_next_check_jitter_seconds"`
	WorkerBackoff1Seconds                int `yaml:"worker_backoff_1_seconds"`
	WorkerBackoff2Seconds                int `yaml:"worker_backoff_2_seconds"`
	WorkerBackoff3Seconds                int `yaml:"worker_backoff_3_seconds"`
	WorkerBackoff4Seconds                int `yaml:"worker_backoff_4_seconds"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	config.ApplyEnv(os.LookupEnv)
	return &config, nil
}

// LoadDotEnv loads the first .env file found among paths into the process
// environment. Already set variables win. Missing files are not an error.
func LoadDotEnv(paths ...string) string {
	if len(paths) == 0 {
		paths = []string{".env.local", ".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err == nil {
			return p
		}
	}
	return ""
}

// ApplyEnv overrides secrets and deploy-specific values from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&c.Geocoder.APIKey, "GOOGLE_MAPS_API_KEY")
	set(&c.Backend.BaseURL, "PINBOX_BACKEND_BASE_URL")
	set(&c.Database.Password, "PINBOX_DB_PASSWORD")
	set(&c.Logging.Env, "PINBOX_ENV")
	set(&c.Logging.Level, "PINBOX_LOG_LEVEL")
}

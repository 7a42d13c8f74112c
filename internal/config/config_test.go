package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a Config that passes Validate; tests mutate one field at a time.
func validConfig() Config {
	return Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8000},
		Registry: RegistryConfig{EmailDomain: "@mergington.edu"},
		Security: SecurityConfig{
			RateLimiting: RateLimitingConfig{Enabled: true, RequestsPerMinute: 60, Burst: 10, Backend: "memory"},
		},
		Redis:     RedisConfig{Addr: "localhost:6379"},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		Telemetry: TelemetryConfig{Metrics: MetricsConfig{Enabled: true, PrometheusPort: 9090}},
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

// ---------------------------------------------------------------------------
// ServerConfig.GetAddress
// ---------------------------------------------------------------------------

func TestGetAddress(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{"default", ServerConfig{Host: "0.0.0.0", Port: 8000}, "0.0.0.0:8000"},
		{"localhost", ServerConfig{Host: "localhost", Port: 3000}, "localhost:3000"},
		{"empty host", ServerConfig{Host: "", Port: 8000}, ":8000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetAddress(); got != tt.want {
				t.Errorf("GetAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Config.Validate
// ---------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"domain without at", func(c *Config) { c.Registry.EmailDomain = "mergington.edu" }, "email_domain"},
		{"domain only at", func(c *Config) { c.Registry.EmailDomain = "@" }, "email_domain"},
		{"zero rpm", func(c *Config) { c.Security.RateLimiting.RequestsPerMinute = 0 }, "requests_per_minute"},
		{"zero burst", func(c *Config) { c.Security.RateLimiting.Burst = 0 }, "burst"},
		{"unknown backend", func(c *Config) { c.Security.RateLimiting.Backend = "memcached" }, "invalid rate limiting backend"},
		{"redis without addr", func(c *Config) {
			c.Security.RateLimiting.Backend = "redis"
			c.Redis.Addr = ""
		}, "redis.addr"},
		{"redis with addr", func(c *Config) { c.Security.RateLimiting.Backend = "redis" }, ""},
		{"rate limiting disabled skips checks", func(c *Config) {
			c.Security.RateLimiting = RateLimitingConfig{Enabled: false}
		}, ""},
		{"tls without cert", func(c *Config) {
			c.Security.TLS = TLSConfig{Enabled: true, KeyFile: "key.pem"}
		}, "cert_file"},
		{"tls without key", func(c *Config) {
			c.Security.TLS = TLSConfig{Enabled: true, CertFile: "cert.pem"}
		}, "key_file"},
		{"metrics port clash", func(c *Config) { c.Telemetry.Metrics.PrometheusPort = 8000 }, "must differ"},
		{"metrics port invalid", func(c *Config) { c.Telemetry.Metrics.PrometheusPort = -1 }, "invalid prometheus port"},
		{"metrics disabled ignores port", func(c *Config) {
			c.Telemetry.Metrics = MetricsConfig{Enabled: false, PrometheusPort: 0}
		}, ""},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "invalid logging level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

func TestLoad_DefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "@mergington.edu", cfg.Registry.EmailDomain)
	assert.Equal(t, "./static", cfg.Static.Dir)
	assert.False(t, cfg.Security.RateLimiting.Enabled)
	assert.Equal(t, "memory", cfg.Security.RateLimiting.Backend)
	assert.Equal(t, []string{"*"}, cfg.Security.CORS.AllowedOrigins)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Telemetry.Metrics.Enabled)
	assert.Equal(t, 9090, cfg.Telemetry.Metrics.PrometheusPort)
	assert.False(t, cfg.Audit.Enabled)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoad_WithConfigFile(t *testing.T) {
	path := writeTempConfig(t, `
server:
  host: "testhost"
  port: 9999
registry:
  email_domain: "@example.edu"
static:
  dir: "/srv/static"
security:
  rate_limiting:
    backend: "redis"
redis:
  addr: "redis:6379"
  db: 2
logging:
  level: "debug"
  format: "text"
audit:
  enabled: true
  shippers:
    - enabled: true
      type: file
      file:
        path: /var/log/roster-audit.log
        max_size_mb: 5
    - enabled: true
      type: s3
      s3:
        bucket: roster-audit
        region: us-east-1
        secret_access_key: "${MHS_TEST_S3_SECRET}"
    - enabled: false
      type: kafka
      kafka:
        brokers: ["kafka-1:9092", "kafka-2:9092"]
        topic: roster-changes
`)
	t.Setenv("MHS_TEST_S3_SECRET", "s3cr3t")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "testhost", cfg.Server.Host)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "@example.edu", cfg.Registry.EmailDomain)
	assert.Equal(t, "/srv/static", cfg.Static.Dir)
	assert.Equal(t, "redis", cfg.Security.RateLimiting.Backend)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.True(t, cfg.Audit.Enabled)
	require.Len(t, cfg.Audit.Shippers, 3)
	assert.Equal(t, "file", cfg.Audit.Shippers[0].Type)
	require.NotNil(t, cfg.Audit.Shippers[0].File)
	assert.Equal(t, "/var/log/roster-audit.log", cfg.Audit.Shippers[0].File.Path)
	assert.Equal(t, 5, cfg.Audit.Shippers[0].File.MaxSizeMB)
	require.NotNil(t, cfg.Audit.Shippers[1].S3)
	assert.Equal(t, "roster-audit", cfg.Audit.Shippers[1].S3.Bucket)
	assert.Equal(t, "s3cr3t", cfg.Audit.Shippers[1].S3.SecretAccessKey)
	require.NotNil(t, cfg.Audit.Shippers[2].Kafka)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Audit.Shippers[2].Kafka.Brokers)
	assert.Equal(t, "roster-changes", cfg.Audit.Shippers[2].Kafka.Topic)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeTempConfig(t, `
server:
  port: 9999
logging:
  level: "debug"
`)
	t.Setenv("MHS_SERVER_PORT", "8123")
	t.Setenv("MHS_LOGGING_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8123, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_RedisPasswordExpanded(t *testing.T) {
	t.Setenv("TEST_REDIS_SECRET", "s3cret")
	path := writeTempConfig(t, `
redis:
  password: "${TEST_REDIS_SECRET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Redis.Password)
}

func TestLoad_InvalidValues(t *testing.T) {
	path := writeTempConfig(t, `
logging:
  level: "chatty"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "server: [unclosed")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_EXPAND_VAR", "value")
	assert.Equal(t, "prefix-value", expandEnv("prefix-${TEST_EXPAND_VAR}"))
	assert.Equal(t, "plain", expandEnv("plain"))
}

// ---------------------------------------------------------------------------
// Watch
// ---------------------------------------------------------------------------

func TestWatch_RequiresPath(t *testing.T) {
	err := Watch("", func(*Config, fsnotify.Event) {})
	assert.Error(t, err)
}

func TestWatch_MissingFile(t *testing.T) {
	err := Watch(filepath.Join(t.TempDir(), "nope.yaml"), func(*Config, fsnotify.Event) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot watch config file")
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := writeTempConfig(t, "logging:\n  level: info\n")

	changed := make(chan *Config, 4)
	require.NoError(t, Watch(path, func(cfg *Config, _ fsnotify.Event) {
		changed <- cfg
	}))

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0600))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changed:
			if strings.EqualFold(cfg.Logging.Level, "debug") {
				return
			}
		case <-deadline:
			t.Fatal("config change was not observed")
		}
	}
}

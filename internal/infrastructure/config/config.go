package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Batch size limits for direct-transport read cycles.
const (
	DefaultBatchSize = 8
	MinBatchSize     = 2
	MaxBatchSize     = 24
)

// Motion detection modes.
const (
	DetectionModeONVIF    = "onvif"
	DetectionModeBaichuan = "baichuan"
)

// Config is the root configuration structure for reolinkd.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Audit     AuditConfig     `yaml:"audit"`
	Reolink   ReolinkConfig   `yaml:"reolink"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains the bearer-token settings for the REST API.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// AuditConfig controls the audit trail of API changes and commands.
type AuditConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}

// Retention returns how long audit entries are kept.
func (a AuditConfig) Retention() time.Duration {
	return time.Duration(a.RetentionDays) * 24 * time.Hour
}

// ReolinkConfig holds everything the camera engine reads at construction time.
type ReolinkConfig struct {
	// BatchSize is the number of commands sent per direct-transport call.
	BatchSize int `yaml:"batch_size"`

	// DetectionMode is "onvif" or "baichuan". In baichuan mode the motion
	// detection state is polled after every refresh cycle.
	DetectionMode string `yaml:"detection_mode"`

	// CatalogPath overrides the embedded command catalog when set.
	CatalogPath string `yaml:"catalog_path"`

	// DefaultAutoRefresh is the cron expression used for devices without one.
	DefaultAutoRefresh string `yaml:"default_autorefresh"`

	// AbilityCacheTTL is how long a probed ability matrix is reused (seconds).
	AbilityCacheTTL int `yaml:"ability_cache_ttl"`

	// WebhookPort is the ONVIF event webhook port advertised to cameras.
	WebhookPort int `yaml:"webhook_port"`

	AIOAPI   AIOAPIConfig          `yaml:"aio_api"`
	Timeouts ReolinkTimeoutsConfig `yaml:"timeouts"`
}

// AIOAPIConfig locates the local hub-mediation HTTP service.
type AIOAPIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Command launches the service under reolinkd's supervision. Empty
	// means the service is managed elsewhere.
	Command []string `yaml:"command"`
	// StartTimeout is how long the launched service has to accept
	// connections (seconds).
	StartTimeout int `yaml:"start_timeout"`
}

// ReolinkTimeoutsConfig contains transport timeouts in seconds.
type ReolinkTimeoutsConfig struct {
	Status  int `yaml:"status"`
	Default int `yaml:"default"`
	Long    int `yaml:"long"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: REOLINK_SECTION_KEY
// For example: REOLINK_DATABASE_PATH, REOLINK_BATCH_SIZE
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration. It is valid except for the
// JWT secret, which has no safe default.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Reolink",
		},
		Database: DatabaseConfig{
			Path:        "./data/reolink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "reolinkd",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 90,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer: "reolinkd",
			},
		},
		Audit: AuditConfig{
			Enabled:       true,
			RetentionDays: 90,
		},
		Reolink: ReolinkConfig{
			BatchSize:          DefaultBatchSize,
			DetectionMode:      DetectionModeONVIF,
			DefaultAutoRefresh: "*/15 * * * *",
			AbilityCacheTTL:    600,
			WebhookPort:        44010,
			AIOAPI: AIOAPIConfig{
				Host:         "127.0.0.1",
				Port:         44011,
				StartTimeout: 20,
			},
			Timeouts: ReolinkTimeoutsConfig{
				Status:  10,
				Default: 30,
				Long:    60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: REOLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("REOLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("REOLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("REOLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("REOLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("REOLINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("REOLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Engine
	if v := os.Getenv("REOLINK_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Reolink.BatchSize = n
		}
	}
	if v := os.Getenv("REOLINK_DETECTION_MODE"); v != "" {
		cfg.Reolink.DetectionMode = strings.ToLower(v)
	}
	if v := os.Getenv("REOLINK_AIO_API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Reolink.AIOAPI.Port = n
		}
	}
	if v := os.Getenv("REOLINK_CATALOG_PATH"); v != "" {
		cfg.Reolink.CatalogPath = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("REOLINK_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Audit.Enabled && c.Audit.RetentionDays < 1 {
		errs = append(errs, "audit.retention_days must be at least 1")
	}

	if c.Reolink.BatchSize < MinBatchSize || c.Reolink.BatchSize > MaxBatchSize {
		errs = append(errs, fmt.Sprintf("reolink.batch_size must be between %d and %d", MinBatchSize, MaxBatchSize))
	}

	switch c.Reolink.DetectionMode {
	case DetectionModeONVIF, DetectionModeBaichuan:
	default:
		errs = append(errs, "reolink.detection_mode must be onvif or baichuan")
	}

	if c.Reolink.AIOAPI.Port < 1 || c.Reolink.AIOAPI.Port > 65535 {
		errs = append(errs, "reolink.aio_api.port must be between 1 and 65535")
	}

	if c.Reolink.Timeouts.Status <= 0 || c.Reolink.Timeouts.Default <= 0 || c.Reolink.Timeouts.Long <= 0 {
		errs = append(errs, "reolink.timeouts must all be positive")
	}

	// The API drives physical cameras (PTZ, sirens, recording). Tokens signed
	// with a short or empty secret are forgeable.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set REOLINK_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// AbilityCacheDuration returns the ability matrix cache lifetime.
func (r ReolinkConfig) AbilityCacheDuration() time.Duration {
	return time.Duration(r.AbilityCacheTTL) * time.Second
}

// StatusTimeout is used for health and status checks.
func (t ReolinkTimeoutsConfig) StatusTimeout() time.Duration {
	return time.Duration(t.Status) * time.Second
}

// DefaultTimeout is used for ordinary transport calls.
func (t ReolinkTimeoutsConfig) DefaultTimeout() time.Duration {
	return time.Duration(t.Default) * time.Second
}

// LongTimeout is used for device-side long-running operations.
func (t ReolinkTimeoutsConfig) LongTimeout() time.Duration {
	return time.Duration(t.Long) * time.Second
}

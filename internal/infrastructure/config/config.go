package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for AutoTouch Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Templates TemplatesConfig `yaml:"templates"`
	Engine    EngineConfig    `yaml:"engine"`
	ADB       ADBConfig       `yaml:"adb"`
	Overlay   OverlayConfig   `yaml:"overlay"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig identifies this engine instance.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// TemplatesConfig points the catalog at its backing directory.
type TemplatesConfig struct {
	// Root holds one sub-directory per template group.
	Root string `yaml:"root"`

	// ReloadInterval triggers a periodic catalog reload (seconds). 0 disables it.
	ReloadInterval int `yaml:"reload_interval"`
}

// EngineConfig contains sequence execution timing.
type EngineConfig struct {
	// CaptureTimeout bounds a single screen capture (milliseconds).
	CaptureTimeout int `yaml:"capture_timeout_ms"`

	// InteractionTimeout bounds a single tap or swipe (milliseconds).
	InteractionTimeout int `yaml:"interaction_timeout_ms"`

	// MatchScale enables the coarse matching pass when in (0,1). 1 disables it.
	MatchScale float64 `yaml:"match_scale"`

	// HistoryLimit caps runs returned by the history endpoint.
	HistoryLimit int `yaml:"history_limit"`

	// Accounts is the order "run --all-accounts" cycles through. Empty means
	// every account tagged in the sequence, in step order.
	Accounts []string `yaml:"accounts"`
}

// OverlayConfig controls the floating control surface.
type OverlayConfig struct {
	// AutoGrant answers permission requests with "granted". Otherwise the
	// client reports the outcome of its own permission dialog.
	AutoGrant bool `yaml:"auto_grant"`
}

// ADBConfig contains Android Debug Bridge settings.
type ADBConfig struct {
	Binary         string `yaml:"binary"`
	Device         string `yaml:"device"`
	CommandTimeout int    `yaml:"command_timeout_ms"`

	// ManageServer runs "adb nodaemon server" as a supervised child.
	ManageServer bool `yaml:"manage_server"`

	// Scroll holds the fallback swipe column used when a step gives no coordinates.
	Scroll ScrollConfig `yaml:"scroll"`
}

// ScrollConfig describes the default scroll gesture geometry in screen pixels.
type ScrollConfig struct {
	ScreenWidth  int `yaml:"screen_width"`
	ScreenHeight int `yaml:"screen_height"`
	DurationMS   int `yaml:"duration_ms"`
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
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	Auth     AuthConfig       `yaml:"auth"`
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
}

// AuthConfig enables bearer token checks on the API.
// An empty secret leaves the API open, which is how the mobile client talks to it on a LAN.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
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

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: AUTOTOUCH_SECTION_KEY
// For example: AUTOTOUCH_TEMPLATES_ROOT, AUTOTOUCH_API_PORT
//
// An empty path skips the file and returns defaults plus environment overrides.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides applied.
// Used by CLI commands that run without a config file.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "autotouch-001",
			Name: "AutoTouch",
		},
		Templates: TemplatesConfig{
			Root: "./templates",
		},
		Engine: EngineConfig{
			CaptureTimeout:     5000,
			InteractionTimeout: 3000,
			MatchScale:         0.5,
			HistoryLimit:       100,
		},
		ADB: ADBConfig{
			Binary:         "adb",
			CommandTimeout: 10000,
			Scroll: ScrollConfig{
				ScreenWidth:  2400,
				ScreenHeight: 1080,
				DurationMS:   500,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/autotouch.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "autotouch-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			CORS: CORSConfig{
				AllowedOrigins: []string{"*"},
			},
			Auth: AuthConfig{
				Issuer: "autotouch",
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "autotouch",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: AUTOTOUCH_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Templates
	if v := os.Getenv("AUTOTOUCH_TEMPLATES_ROOT"); v != "" {
		cfg.Templates.Root = v
	}

	// ADB
	if v := os.Getenv("AUTOTOUCH_ADB_BINARY"); v != "" {
		cfg.ADB.Binary = v
	}
	if v := os.Getenv("AUTOTOUCH_ADB_DEVICE"); v != "" {
		cfg.ADB.Device = v
	}

	// Database
	if v := os.Getenv("AUTOTOUCH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("AUTOTOUCH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("AUTOTOUCH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("AUTOTOUCH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("AUTOTOUCH_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("AUTOTOUCH_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("AUTOTOUCH_JWT_SECRET"); v != "" {
		cfg.API.Auth.JWTSecret = v
	}

	// InfluxDB
	if v := os.Getenv("AUTOTOUCH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("AUTOTOUCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Templates.Root == "" {
		errs = append(errs, "templates.root is required")
	}
	if c.Templates.ReloadInterval < 0 {
		errs = append(errs, "templates.reload_interval must not be negative")
	}

	if c.Engine.CaptureTimeout <= 0 {
		errs = append(errs, "engine.capture_timeout_ms must be positive")
	}
	if c.Engine.InteractionTimeout <= 0 {
		errs = append(errs, "engine.interaction_timeout_ms must be positive")
	}
	if c.Engine.MatchScale <= 0 || c.Engine.MatchScale > 1 {
		errs = append(errs, "engine.match_scale must be in (0, 1]")
	}

	seen := make(map[string]bool, len(c.Engine.Accounts))
	for _, a := range c.Engine.Accounts {
		switch {
		case strings.TrimSpace(a) == "":
			errs = append(errs, "engine.accounts must not contain empty names")
		case seen[a]:
			errs = append(errs, fmt.Sprintf("engine.accounts lists %q more than once", a))
		}
		seen[a] = true
	}

	if c.ADB.Binary == "" {
		errs = append(errs, "adb.binary is required")
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

	const minJWTSecretLength = 32
	if s := c.API.Auth.JWTSecret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "api.auth.jwt_secret must be at least 32 characters")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
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

// CaptureTimeoutDuration returns the per-capture bound as a Duration.
func (e EngineConfig) CaptureTimeoutDuration() time.Duration {
	return time.Duration(e.CaptureTimeout) * time.Millisecond
}

// InteractionTimeoutDuration returns the per-interaction bound as a Duration.
func (e EngineConfig) InteractionTimeoutDuration() time.Duration {
	return time.Duration(e.InteractionTimeout) * time.Millisecond
}

// CommandTimeoutDuration returns the adb command bound as a Duration.
func (a ADBConfig) CommandTimeoutDuration() time.Duration {
	return time.Duration(a.CommandTimeout) * time.Millisecond
}

// Package config loads the monitor configuration from a YAML file with
// environment variable overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/solix-monitor/solix-monitor-pro/internal/logging"
	"github.com/solix-monitor/solix-monitor-pro/internal/session"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Device    DeviceConfig    `yaml:"device"`
	Session   SessionConfig   `yaml:"session"`
	API       APIConfig       `yaml:"api"`
	JWT       JWTConfig       `yaml:"jwt"`
	NATS      NATSConfig      `yaml:"nats"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	HTTP      HTTPConfig      `yaml:"http"`
	Transform TransformConfig `yaml:"transform"`
	Log       logging.Config  `yaml:"log"`
}

// ServerConfig represents server identity configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// DeviceConfig selects the device to monitor. When Address is empty the
// first device found during scanning is used.
type DeviceConfig struct {
	Address     string   `yaml:"address"`
	ScanTimeout Duration `yaml:"scan_timeout"`
}

// SessionConfig represents session retry and timing configuration. Zero
// values select the session package defaults.
type SessionConfig struct {
	ConnectAttempts      int      `yaml:"connect_attempts"`
	ReconnectDelay       Duration `yaml:"reconnect_delay"`
	ReconnectAttemptsMax int      `yaml:"reconnect_attempts_max"`
	DisconnectTimeout    Duration `yaml:"disconnect_timeout"`
}

// ToSession converts to the session package's config type.
func (c SessionConfig) ToSession() session.Config {
	return session.Config{
		ConnectAttempts:      c.ConnectAttempts,
		ReconnectDelay:       c.ReconnectDelay.Std(),
		ReconnectAttemptsMax: c.ReconnectAttemptsMax,
		DisconnectTimeout:    c.DisconnectTimeout.Std(),
	}
}

// APIConfig represents REST API configuration
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// JWTConfig represents API authentication configuration. PasswordHash is a
// bcrypt hash of the single API user's password.
type JWTConfig struct {
	Secret          string   `yaml:"secret"`
	AccessTokenTTL  Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL Duration `yaml:"refresh_token_ttl"`
	Username        string   `yaml:"username"`
	PasswordHash    string   `yaml:"password_hash"`
}

// NATSConfig represents NATS publishing configuration
type NATSConfig struct {
	Enabled           bool     `yaml:"enabled"`
	URL               string   `yaml:"url"`
	Username          string   `yaml:"username"`
	Password          string   `yaml:"password"`
	MaxReconnects     int      `yaml:"max_reconnects"`
	ReconnectInterval Duration `yaml:"reconnect_interval"`
}

// MQTTConfig represents MQTT publishing configuration. TopicPrefix is
// prepended to the per-device topic path.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// HTTPConfig represents webhook publishing configuration
type HTTPConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Timeout Duration          `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// TransformConfig selects an optional JavaScript payload transformer
type TransformConfig struct {
	Enabled bool   `yaml:"enabled"`
	Script  string `yaml:"script"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.validateAndSetDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("SOLIX_DEVICE_ADDRESS"); addr != "" {
		c.Device.Address = addr
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
}

// validateAndSetDefaults fills unset values and rejects combinations that
// cannot work at runtime.
func (c *Config) validateAndSetDefaults() error {
	if c.Server.Name == "" {
		c.Server.Name = "solix-monitor"
	}

	if c.Device.ScanTimeout <= 0 {
		c.Device.ScanTimeout = Duration(30 * time.Second)
	}

	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret must be set")
	}
	if c.JWT.Username == "" {
		c.JWT.Username = "admin"
	}
	if c.JWT.PasswordHash == "" {
		return fmt.Errorf("jwt.password_hash must be set")
	}
	if c.JWT.AccessTokenTTL <= 0 {
		c.JWT.AccessTokenTTL = Duration(time.Hour)
	}
	if c.JWT.RefreshTokenTTL <= 0 {
		c.JWT.RefreshTokenTTL = Duration(24 * time.Hour)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url must be set when nats is enabled")
	}
	if c.NATS.ReconnectInterval <= 0 {
		c.NATS.ReconnectInterval = Duration(5 * time.Second)
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker must be set when mqtt is enabled")
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = c.Server.Name
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "solix"
	}

	if c.HTTP.Enabled && c.HTTP.URL == "" {
		return fmt.Errorf("http.url must be set when http forwarding is enabled")
	}
	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = Duration(10 * time.Second)
	}

	if c.Transform.Enabled && c.Transform.Script == "" {
		return fmt.Errorf("transform.script must be set when transform is enabled")
	}

	return nil
}

// PrintConfigSummary 打印配置摘要
func (c *Config) PrintConfigSummary() {
	fmt.Printf("=== Solix Monitor Configuration ===\n")
	fmt.Printf("Server: %s v%s\n", c.Server.Name, c.Server.Version)
	if c.Device.Address != "" {
		fmt.Printf("Device: %s\n", c.Device.Address)
	} else {
		fmt.Printf("Device: first found in scan\n")
	}
	fmt.Printf("Scan Timeout: %s\n", c.Device.ScanTimeout)
	fmt.Printf("API: %s:%d\n", c.API.Host, c.API.Port)
	fmt.Printf("NATS Enabled: %v\n", c.NATS.Enabled)
	fmt.Printf("MQTT Enabled: %v\n", c.MQTT.Enabled)
	fmt.Printf("HTTP Forwarding Enabled: %v\n", c.HTTP.Enabled)
	fmt.Printf("Transform Enabled: %v\n", c.Transform.Enabled)
	fmt.Printf("===================================\n")
}

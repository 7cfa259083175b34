package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Device backends.
const (
	DeviceSerial = "serial"
	DeviceBLE    = "ble"
	DeviceSim    = "sim"
)

// ServerConfig holds the HTTP/WebSocket settings.
type ServerConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	Port           string   `json:"port" yaml:"port"`
	WebFilesDir    string   `json:"web_files_dir" yaml:"web_files_dir"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

// DeviceConfig selects and tunes the robot link.
type DeviceConfig struct {
	Kind            string   `json:"kind" yaml:"kind"`
	SerialPort      string   `json:"serial_port" yaml:"serial_port"`
	SerialFallbacks []string `json:"serial_fallbacks" yaml:"serial_fallbacks"`
	BaudRate        int      `json:"baud_rate" yaml:"baud_rate"`
	BLENames        []string `json:"ble_names" yaml:"ble_names"`
	ScanTimeout     string   `json:"scan_timeout" yaml:"scan_timeout"`
	ConnectTimeout  string   `json:"connect_timeout" yaml:"connect_timeout"`
	ResponseTimeout string   `json:"response_timeout" yaml:"response_timeout"`
	// Heartbeat is a cron spec, e.g. "@every 30s". Empty disables it.
	Heartbeat string  `json:"heartbeat" yaml:"heartbeat"`
	RateLimit float64 `json:"command_rate_limit" yaml:"command_rate_limit"`
	RateBurst int     `json:"command_rate_burst" yaml:"command_rate_burst"`
	// AutoConnect opens the link when the agent starts.
	AutoConnect bool `json:"auto_connect" yaml:"auto_connect"`
}

// MQTTConfig holds MQTT and Home Assistant discovery settings.
type MQTTConfig struct {
	Enabled            bool   `json:"enabled" yaml:"enabled"`
	Broker             string `json:"broker" yaml:"broker"` // tcp://IP:PORT
	Username           string `json:"username" yaml:"username"`
	Password           string `json:"password" yaml:"password"`
	ClientID           string `json:"client_id" yaml:"client_id"`
	TopicPrefix        string `json:"topic_prefix" yaml:"topic_prefix"`
	HADiscoveryEnabled bool   `json:"ha_discovery_enabled" yaml:"ha_discovery_enabled"`
	HADiscoveryPrefix  string `json:"ha_discovery_prefix" yaml:"ha_discovery_prefix"`
	// Telemetry is a cron spec for republishing the state snapshot.
	Telemetry string `json:"telemetry" yaml:"telemetry"`
}

// LogConfig selects the log level and format (text or json).
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Config is the root configuration.
type Config struct {
	Device DeviceConfig `json:"device" yaml:"device"`
	Server ServerConfig `json:"server" yaml:"server"`
	MQTT   MQTTConfig   `json:"mqtt" yaml:"mqtt"`
	Log    LogConfig    `json:"log" yaml:"log"`

	RoutinesDir string `json:"routines_dir" yaml:"routines_dir"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Server: ServerConfig{Enabled: true}}
	cfg.setDefaults()
	return cfg
}

// Load reads the file (JSON, or YAML by extension), applies .env and FINCH_*
// environment overrides, then defaults and validation. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{Server: ServerConfig{Enabled: true}}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to open config file '%s': %w", path, err)
	default:
		if err := decode(path, data, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.sanitize()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to decode yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to decode json: %w", err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("FINCH_DEVICE"); v != "" {
		c.Device.Kind = v
	}
	if v := os.Getenv("FINCH_SERIAL_PORT"); v != "" {
		c.Device.SerialPort = v
	}
	if v := os.Getenv("FINCH_BAUD_RATE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config error: FINCH_BAUD_RATE: %w", err)
		}
		c.Device.BaudRate = n
	}
	if v := os.Getenv("FINCH_SERVER_PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("FINCH_MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
		c.MQTT.Enabled = true
	}
	if v := os.Getenv("FINCH_MQTT_USERNAME"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("FINCH_MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("FINCH_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

func (c *Config) sanitize() {
	c.Device.Kind = strings.ToLower(strings.TrimSpace(c.Device.Kind))
	c.Device.SerialPort = strings.TrimSpace(c.Device.SerialPort)
	c.Server.Port = strings.TrimSpace(c.Server.Port)
	c.Server.WebFilesDir = strings.TrimSpace(c.Server.WebFilesDir)
	c.RoutinesDir = strings.TrimSpace(c.RoutinesDir)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

func (c *Config) setDefaults() {
	// Device Defaults
	if c.Device.Kind == "" {
		c.Device.Kind = DeviceSerial
	}
	if c.Device.SerialPort == "" {
		c.Device.SerialPort = "/dev/ttyACM0"
	}
	if len(c.Device.SerialFallbacks) == 0 {
		c.Device.SerialFallbacks = []string{"/dev/ttyACM1", "/dev/ttyUSB0"}
	}
	if c.Device.BaudRate <= 0 {
		c.Device.BaudRate = 115200
	}
	if len(c.Device.BLENames) == 0 {
		c.Device.BLENames = []string{"FNC"}
	}
	if c.Device.ScanTimeout == "" {
		c.Device.ScanTimeout = "30s"
	}
	if c.Device.ConnectTimeout == "" {
		c.Device.ConnectTimeout = "7s"
	}
	if c.Device.ResponseTimeout == "" {
		c.Device.ResponseTimeout = "1s"
	}
	if c.Device.RateLimit <= 0 {
		c.Device.RateLimit = 50
	}
	if c.Device.RateBurst <= 0 {
		c.Device.RateBurst = 10
	}

	// Server Defaults
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.WebFilesDir == "" {
		c.Server.WebFilesDir = "./web"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:8080"}
	}

	// File Defaults
	if c.RoutinesDir == "" {
		c.RoutinesDir = "routines"
	}

	// MQTT Defaults
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "tcp://localhost:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "finch-controller"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "finch"
	}
	if c.MQTT.HADiscoveryPrefix == "" {
		c.MQTT.HADiscoveryPrefix = "homeassistant"
	}

	// Log Defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	switch c.Device.Kind {
	case DeviceSerial, DeviceBLE, DeviceSim:
	default:
		return fmt.Errorf("config error: unknown device kind '%s'", c.Device.Kind)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("config error: log format must be 'text' or 'json', got '%s'", c.Log.Format)
	}
	return nil
}

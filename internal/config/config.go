// Package config loads the labrpcd daemon configuration.
//
// Configuration is read from a YAML file and can be overridden by
// environment variables prefixed with LABRPC_, for example
// LABRPC_SERVER_PORT or LABRPC_LOG_LEVEL.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-labrpc/logger"
	"github.com/arloliu/go-labrpc/rpc"
)

// Device transport types.
const (
	TypeSocket = "socket"
	TypeSerial = "serial"
	TypeMQTT   = "mqtt"
	TypeEmpty  = "empty"
)

// Config is the root configuration of the daemon.
type Config struct {
	Logging LoggingConfig  `yaml:"logging"`
	Server  ServerConfig   `yaml:"server"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Devices []DeviceConfig `yaml:"devices"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ServerConfig holds the RPC socket server settings.
type ServerConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	Mode              string        `yaml:"mode"`
	MaxClients        int           `yaml:"max_clients"`
	MaxMessageSize    int           `yaml:"max_message_size"`
	ReadTermination   string        `yaml:"read_termination"`
	WriteTermination  string        `yaml:"write_termination"`
	AcceptTimeout     time.Duration `yaml:"accept_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	DisplayConnection bool          `yaml:"display_connection"`
	ForceClose        bool          `yaml:"force_close"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// DeviceConfig describes one instrument exposed by the daemon.
type DeviceConfig struct {
	Name   string        `yaml:"name"`
	Type   string        `yaml:"type"`
	Socket *SocketConfig `yaml:"socket"`
	Serial *SerialConfig `yaml:"serial"`
	MQTT   *MQTTConfig   `yaml:"mqtt"`
	Empty  *EmptyConfig  `yaml:"empty"`
	Policy PolicyConfig  `yaml:"policy"`
	Poll   PollConfig    `yaml:"poll"`
}

// SocketConfig holds raw TCP transport settings.
type SocketConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	Timeout          time.Duration `yaml:"timeout"`
	ReadTermination  string        `yaml:"read_termination"`
	WriteTermination string        `yaml:"write_termination"`
}

// SerialConfig holds serial line transport settings.
type SerialConfig struct {
	Port             string        `yaml:"port"`
	BaudRate         int           `yaml:"baud_rate"`
	DataBits         int           `yaml:"data_bits"`
	Parity           string        `yaml:"parity"`
	StopBits         float64       `yaml:"stop_bits"`
	Timeout          time.Duration `yaml:"timeout"`
	ReadTermination  string        `yaml:"read_termination"`
	WriteTermination string        `yaml:"write_termination"`
	BytesMode        bool          `yaml:"bytes_mode"`
}

// MQTTConfig holds MQTT bridge transport settings.
type MQTTConfig struct {
	Broker       string        `yaml:"broker"`
	CommandTopic string        `yaml:"command_topic"`
	ReplyTopic   string        `yaml:"reply_topic"`
	ClientID     string        `yaml:"client_id"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	QoS          int           `yaml:"qos"`
	Timeout      time.Duration `yaml:"timeout"`
}

// EmptyConfig holds the canned reply of a simulated device.
type EmptyConfig struct {
	Reply []string `yaml:"reply"`
}

// PolicyConfig holds the reliability policy of a device.
// Zero values keep the device defaults.
type PolicyConfig struct {
	ReconnectTries *int          `yaml:"reconnect_tries"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	MaxAttempts    int           `yaml:"max_attempts"`
	AttemptDelay   time.Duration `yaml:"attempt_delay"`
	Queue          *bool         `yaml:"queue"`
	QueueSize      int           `yaml:"queue_size"`
	ForceClose     bool          `yaml:"force_close"`
}

// PollConfig lists queries that are sent periodically and cached.
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
	Commands []string      `yaml:"commands"`
}

// Load reads the configuration from a YAML file.
//
// Defaults are applied first, then the file, then environment overrides.
// The result is validated before it is returned.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse is like Load but reads the YAML document from data.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with the built-in defaults and no devices.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Host:              "",
			Port:              5000,
			Mode:              rpc.Threaded.String(),
			MaxClients:        100,
			MaxMessageSize:    4096,
			ReadTermination:   "\n",
			WriteTermination:  "\n",
			AcceptTimeout:     10 * time.Millisecond,
			WriteTimeout:      5 * time.Second,
			DisplayConnection: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
			Path:    "/metrics",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern LABRPC_SECTION_KEY.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LABRPC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("LABRPC_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("LABRPC_SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LABRPC_SERVER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("LABRPC_SERVER_MODE"); v != "" {
		cfg.Server.Mode = v
	}

	if v := os.Getenv("LABRPC_METRICS_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LABRPC_METRICS_ENABLED: %w", err)
		}
		cfg.Metrics.Enabled = enabled
	}
	if v := os.Getenv("LABRPC_METRICS_ADDRESS"); v != "" {
		cfg.Metrics.Address = v
	}

	return nil
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, "logging.level: "+err.Error())
	}

	errs = append(errs, c.Server.validate()...)

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			errs = append(errs, "metrics.address is required when metrics are enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			errs = append(errs, "metrics.path must start with /")
		}
	}

	seen := make(map[string]struct{}, len(c.Devices))
	for i := range c.Devices {
		dev := &c.Devices[i]
		errs = append(errs, dev.validate(i)...)

		key := strings.ToLower(strings.ReplaceAll(dev.Name, " ", ""))
		if _, dup := seen[key]; dup && key != "" {
			errs = append(errs, fmt.Sprintf("devices[%d].name %q is used more than once", i, dev.Name))
		}
		seen[key] = struct{}{}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// RPCMode returns the parsed server mode.
func (c *Config) RPCMode() rpc.Mode {
	mode, _ := rpc.ParseMode(c.Server.Mode)
	return mode
}

// LogLevel returns the parsed logging level.
func (c *Config) LogLevel() logger.LogLevel {
	level, _ := logger.ParseLevel(c.Logging.Level)
	return level
}

func (s *ServerConfig) validate() []string {
	var errs []string

	if s.Port < 0 || s.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if _, err := rpc.ParseMode(s.Mode); err != nil {
		errs = append(errs, fmt.Sprintf("server.mode %q must be single, multi or threaded", s.Mode))
	}
	if s.MaxClients < 1 {
		errs = append(errs, "server.max_clients must be at least 1")
	}
	if s.MaxMessageSize < 1 {
		errs = append(errs, "server.max_message_size must be at least 1")
	}
	if s.ReadTermination == "" {
		errs = append(errs, "server.read_termination is required")
	}
	if s.AcceptTimeout <= 0 {
		errs = append(errs, "server.accept_timeout must be positive")
	}
	if s.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}

	return errs
}

func (d *DeviceConfig) validate(i int) []string {
	var errs []string
	prefix := fmt.Sprintf("devices[%d]", i)

	switch {
	case strings.TrimSpace(d.Name) == "":
		errs = append(errs, prefix+".name is required")
	case strings.ContainsAny(d.Name, ":=?-"):
		errs = append(errs, fmt.Sprintf("%s.name %q must not contain any of :=?-", prefix, d.Name))
	}

	switch d.Type {
	case TypeSocket:
		switch {
		case d.Socket == nil:
			errs = append(errs, prefix+".socket is required for socket devices")
		case d.Socket.Host == "":
			errs = append(errs, prefix+".socket.host is required")
		case d.Socket.Port < 1 || d.Socket.Port > 65535:
			errs = append(errs, prefix+".socket.port must be between 1 and 65535")
		}
	case TypeSerial:
		if d.Serial == nil || d.Serial.Port == "" {
			errs = append(errs, prefix+".serial.port is required for serial devices")
		}
	case TypeMQTT:
		switch {
		case d.MQTT == nil:
			errs = append(errs, prefix+".mqtt is required for mqtt devices")
		case d.MQTT.Broker == "" || d.MQTT.CommandTopic == "" || d.MQTT.ReplyTopic == "":
			errs = append(errs, prefix+".mqtt requires broker, command_topic and reply_topic")
		case d.MQTT.QoS < 0 || d.MQTT.QoS > 2:
			errs = append(errs, prefix+".mqtt.qos must be 0, 1, or 2")
		}
	case TypeEmpty:
	default:
		errs = append(errs, fmt.Sprintf("%s.type %q must be socket, serial, mqtt or empty", prefix, d.Type))
	}

	p := d.Policy
	if p.ReconnectTries != nil && *p.ReconnectTries < 0 {
		errs = append(errs, prefix+".policy.reconnect_tries must not be negative")
	}
	if p.MaxAttempts < 0 {
		errs = append(errs, prefix+".policy.max_attempts must not be negative")
	}
	if p.QueueSize < 0 {
		errs = append(errs, prefix+".policy.queue_size must not be negative")
	}
	if p.ReconnectDelay < 0 || p.AttemptDelay < 0 {
		errs = append(errs, prefix+".policy delays must not be negative")
	}

	if len(d.Poll.Commands) > 0 && d.Poll.Interval <= 0 {
		errs = append(errs, prefix+".poll.interval must be positive when poll commands are set")
	}

	return errs
}

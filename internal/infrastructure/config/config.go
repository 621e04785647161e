package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when the configuration file does not exist.
// Callers treat it as "nothing to run" rather than a failure.
var ErrNotFound = errors.New("config: file not found")

// ErrDevicesFile is returned when the devices file named by the YAML file
// cannot be read. Unlike ErrNotFound it is always fatal.
var ErrDevicesFile = errors.New("config: devices file unusable")

// Selection modes for the device identity.
const (
	SelectionConfigured  = "configured"
	SelectionInteractive = "interactive"
)

// Sources for the candidate device list.
const (
	DeviceListBrowse      = "browse"
	DeviceListCredentials = "credentials"
)

// Behaviours when a connection cannot be established at startup.
const (
	OnConnectFailureExit = "exit"
	OnConnectFailureIdle = "idle"
)

// minJWTSecretLength is the shortest accepted HS256 signing secret.
const minJWTSecretLength = 32

// redacted replaces secret values in Redacted output.
const redacted = "[REDACTED]"

// Config is the root configuration structure for the bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge       BridgeConfig       `yaml:"bridge"`
	OPCUA        OPCUAConfig        `yaml:"opcua"`
	IoTHub       IoTHubConfig       `yaml:"iothub"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Router       RouterConfig       `yaml:"router"`
	Commands     CommandsConfig     `yaml:"commands"`

	// Devices maps a device identifier to its IoT Hub connection string.
	Devices map[string]string `yaml:"devices"`
	// DevicesFile optionally points at a legacy "<device>:<credential>" file
	// whose entries are merged into Devices.
	DevicesFile string `yaml:"devices_file"`

	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BridgeConfig selects which device is bridged and which features run.
type BridgeConfig struct {
	Device           string `yaml:"device"`
	Selection        string `yaml:"selection"`
	DeviceList       string `yaml:"device_list"`
	TelemetryEnabled bool   `yaml:"telemetry_enabled"`
	TwinSyncEnabled  bool   `yaml:"twin_sync_enabled"`
	OnConnectFailure string `yaml:"on_connect_failure"`
}

// OPCUAConfig contains the device endpoint connection settings.
type OPCUAConfig struct {
	Endpoint       string `yaml:"endpoint"`
	Namespace      uint16 `yaml:"namespace"`
	SecurityPolicy string `yaml:"security_policy"`
	SecurityMode   string `yaml:"security_mode"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	// RequestTimeout is in milliseconds.
	RequestTimeout int  `yaml:"request_timeout"`
	AutoReconnect  bool `yaml:"auto_reconnect"`
}

// IoTHubConfig contains cloud channel settings shared by every device.
type IoTHubConfig struct {
	APIVersion string `yaml:"api_version"`
	Port       int    `yaml:"port"`
	// TokenTTL is the SAS token lifetime in seconds.
	TokenTTL int `yaml:"token_ttl"`
	// OperationTimeout bounds twin and connect waits, in milliseconds.
	OperationTimeout int `yaml:"operation_timeout"`
	KeepAlive        int `yaml:"keep_alive"`
	QoS              int `yaml:"qos"`
}

// TelemetryConfig controls the periodic telemetry loop.
type TelemetryConfig struct {
	// Interval is the delay after each send, in milliseconds.
	Interval int `yaml:"interval"`
}

// SubscriptionConfig controls the change subscription.
type SubscriptionConfig struct {
	// PublishingInterval is in milliseconds.
	PublishingInterval int `yaml:"publishing_interval"`
}

// RouterConfig controls how change notifications are processed.
type RouterConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// CommandsConfig controls direct method handling.
type CommandsConfig struct {
	ReportFailures bool `yaml:"report_failures"`
	// DefaultDelay is the settle delay of the default handler, in milliseconds.
	DefaultDelay int `yaml:"default_delay"`
}

// DatabaseConfig contains SQLite journal settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays bounds the journal; 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`
}

// InfluxDBConfig contains telemetry historian settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains status API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	// JWTSecret, when set, requires an HS256 bearer token on the journal
	// endpoints.
	JWTSecret string `yaml:"jwt_secret"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
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
//  3. Entries from DevicesFile (merged into Devices)
//  4. A .env file in the working directory, if present
//  5. Environment variables (override file values)
//
// Environment variables follow the pattern: IOTBRIDGE_SECTION_KEY
// For example: IOTBRIDGE_OPCUA_ENDPOINT, IOTBRIDGE_BRIDGE_DEVICE
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.DevicesFile != "" {
		legacy, err := LoadLegacy(cfg.DevicesFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDevicesFile, err)
		}
		if cfg.Devices == nil {
			cfg.Devices = make(map[string]string, len(legacy.Devices))
		}
		for id, cred := range legacy.Devices {
			if _, ok := cfg.Devices[id]; !ok {
				cfg.Devices[id] = cred
			}
		}
	}

	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadDotEnv populates the environment from ./.env without overwriting
// variables that are already set.
func loadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil //nolint:nilerr // absent .env is normal
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			Selection:        SelectionInteractive,
			DeviceList:       DeviceListBrowse,
			TelemetryEnabled: true,
			TwinSyncEnabled:  true,
			OnConnectFailure: OnConnectFailureExit,
		},
		OPCUA: OPCUAConfig{
			Endpoint:       "opc.tcp://localhost:4840/",
			Namespace:      2,
			SecurityPolicy: "None",
			SecurityMode:   "None",
			RequestTimeout: 10000,
			AutoReconnect:  true,
		},
		IoTHub: IoTHubConfig{
			APIVersion:       "2021-04-12",
			Port:             8883,
			TokenTTL:         3600,
			OperationTimeout: 30000,
			KeepAlive:        60,
			QoS:              1,
		},
		Telemetry:    TelemetryConfig{Interval: 2000},
		Subscription: SubscriptionConfig{PublishingInterval: 500},
		Router:       RouterConfig{Workers: 1, QueueSize: 64},
		Commands:     CommandsConfig{DefaultDelay: 1000},
		Devices:      map[string]string{},
		Database: DatabaseConfig{
			Path:          "./data/iotbridge.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 15,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: IOTBRIDGE_SECTION_KEY.
// A credential for a single device can be injected with IOTBRIDGE_DEVICE_<ID>.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("IOTBRIDGE_BRIDGE_DEVICE"); v != "" {
		cfg.Bridge.Device = v
		cfg.Bridge.Selection = SelectionConfigured
	}
	if v := os.Getenv("IOTBRIDGE_OPCUA_ENDPOINT"); v != "" {
		cfg.OPCUA.Endpoint = v
	}
	if v := os.Getenv("IOTBRIDGE_OPCUA_USERNAME"); v != "" {
		cfg.OPCUA.Username = v
	}
	if v := os.Getenv("IOTBRIDGE_OPCUA_PASSWORD"); v != "" {
		cfg.OPCUA.Password = v
	}
	if v := os.Getenv("IOTBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("IOTBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("IOTBRIDGE_API_JWT_SECRET"); v != "" {
		cfg.API.JWTSecret = v
	}
	if v := os.Getenv("IOTBRIDGE_TELEMETRY_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Telemetry.Interval = n
		}
	}

	const devicePrefix = "IOTBRIDGE_DEVICE_"
	for _, kv := range os.Environ() {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, devicePrefix) || val == "" {
			continue
		}
		id := strings.TrimPrefix(key, devicePrefix)
		if id == "" {
			continue
		}
		if cfg.Devices == nil {
			cfg.Devices = map[string]string{}
		}
		cfg.Devices[id] = val
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	switch c.Bridge.Selection {
	case SelectionInteractive:
	case SelectionConfigured:
		if c.Bridge.Device == "" {
			errs = append(errs, "bridge.device is required when bridge.selection is \"configured\"")
		}
	default:
		errs = append(errs, "bridge.selection must be \"configured\" or \"interactive\"")
	}

	if c.Bridge.DeviceList != DeviceListBrowse && c.Bridge.DeviceList != DeviceListCredentials {
		errs = append(errs, "bridge.device_list must be \"browse\" or \"credentials\"")
	}
	if c.Bridge.OnConnectFailure != OnConnectFailureExit && c.Bridge.OnConnectFailure != OnConnectFailureIdle {
		errs = append(errs, "bridge.on_connect_failure must be \"exit\" or \"idle\"")
	}

	if c.OPCUA.Endpoint == "" {
		errs = append(errs, "opcua.endpoint is required")
	} else if !strings.HasPrefix(c.OPCUA.Endpoint, "opc.tcp://") {
		errs = append(errs, "opcua.endpoint must use the opc.tcp:// scheme")
	}
	if c.OPCUA.RequestTimeout < 0 {
		errs = append(errs, "opcua.request_timeout must not be negative")
	}

	if c.IoTHub.Port < 1 || c.IoTHub.Port > 65535 {
		errs = append(errs, "iothub.port must be between 1 and 65535")
	}
	if c.IoTHub.QoS < 0 || c.IoTHub.QoS > 1 {
		errs = append(errs, "iothub.qos must be 0 or 1")
	}
	if c.IoTHub.TokenTTL <= 0 {
		errs = append(errs, "iothub.token_ttl must be positive")
	}

	if c.Telemetry.Interval <= 0 {
		errs = append(errs, "telemetry.interval must be positive")
	}
	if c.Subscription.PublishingInterval <= 0 {
		errs = append(errs, "subscription.publishing_interval must be positive")
	}
	if c.Router.Workers < 1 {
		errs = append(errs, "router.workers must be at least 1")
	}
	if c.Router.QueueSize < 1 {
		errs = append(errs, "router.queue_size must be at least 1")
	}
	if c.Commands.DefaultDelay < 0 {
		errs = append(errs, "commands.default_delay must not be negative")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}
	if c.Database.RetentionDays < 0 {
		errs = append(errs, "database.retention_days must not be negative")
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.JWTSecret != "" && len(c.API.JWTSecret) < minJWTSecretLength {
		errs = append(errs, fmt.Sprintf("api.jwt_secret must be at least %d characters", minJWTSecretLength))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Redacted returns a copy safe to log: credentials, passwords and tokens
// are replaced.
func (c *Config) Redacted() Config {
	out := *c
	out.Devices = make(map[string]string, len(c.Devices))
	for id := range c.Devices {
		out.Devices[id] = redacted
	}
	if out.OPCUA.Password != "" {
		out.OPCUA.Password = redacted
	}
	if out.InfluxDB.Token != "" {
		out.InfluxDB.Token = redacted
	}
	if out.API.JWTSecret != "" {
		out.API.JWTSecret = redacted
	}
	return out
}

// Credential returns the connection string configured for a device.
func (c *Config) Credential(device string) (string, bool) {
	cred, ok := c.Devices[device]
	return cred, ok && cred != ""
}

// DeviceIDs returns the configured device identifiers, sorted.
func (c *Config) DeviceIDs() []string {
	ids := make([]string, 0, len(c.Devices))
	for id := range c.Devices {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// TelemetryInterval returns the telemetry delay as a Duration.
func (c *Config) TelemetryInterval() time.Duration {
	return time.Duration(c.Telemetry.Interval) * time.Millisecond
}

// PublishingInterval returns the subscription publishing interval as a Duration.
func (c *Config) PublishingInterval() time.Duration {
	return time.Duration(c.Subscription.PublishingInterval) * time.Millisecond
}

// RequestTimeout returns the OPC UA request timeout as a Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.OPCUA.RequestTimeout) * time.Millisecond
}

// OperationTimeout returns the IoT Hub operation timeout as a Duration.
func (c *Config) OperationTimeout() time.Duration {
	return time.Duration(c.IoTHub.OperationTimeout) * time.Millisecond
}

// TokenTTL returns the SAS token lifetime as a Duration.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.IoTHub.TokenTTL) * time.Second
}

// DefaultCommandDelay returns the default handler settle delay.
func (c *Config) DefaultCommandDelay() time.Duration {
	return time.Duration(c.Commands.DefaultDelay) * time.Millisecond
}

// JournalRetention returns the journal retention window, or 0 to keep
// everything.
func (c *Config) JournalRetention() time.Duration {
	return time.Duration(c.Database.RetentionDays) * 24 * time.Hour
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

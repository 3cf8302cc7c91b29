package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment variable override, e.g.
// JAPI_SERVER_PORT or JAPI_STORAGE_DRIVER
const EnvPrefix = "JAPI"

// Storage drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config represents the japi configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	API     APIConfig     `mapstructure:"api"`
	Storage StorageConfig `mapstructure:"storage"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Demo    DemoConfig    `mapstructure:"demo"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	APIPrefix       string        `mapstructure:"api_prefix"`
	BaseURI         string        `mapstructure:"base_uri"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TLS             TLSConfig     `mapstructure:"tls"`
}

// TLSConfig enables HTTPS when both files are set
type TLSConfig struct {
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// Enabled reports whether TLS is configured
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" || t.KeyFile != ""
}

// APIConfig tunes the dispatcher
type APIConfig struct {
	Debug           bool  `mapstructure:"debug"`
	MaxPageSize     int   `mapstructure:"max_page_size"`
	MaxIncludeDepth int   `mapstructure:"max_include_depth"`
	MaxBodySize     int64 `mapstructure:"max_body_size"`
}

// StorageConfig selects the storage backend. Routes move single resource
// types (and their subtypes) to another driver.
type StorageConfig struct {
	Driver string        `mapstructure:"driver"`
	DSN    string        `mapstructure:"dsn"`
	Redis  RedisConfig   `mapstructure:"redis"`
	Routes []RouteConfig `mapstructure:"routes"`
}

// RouteConfig serves one resource type from driver
type RouteConfig struct {
	Type   string `mapstructure:"type"`
	Driver string `mapstructure:"driver"`
}

// Drivers returns the default driver followed by every other routed driver
func (s StorageConfig) Drivers() []string {
	drivers := []string{s.Driver}
	for _, route := range s.Routes {
		if !slices.Contains(drivers, route.Driver) {
			drivers = append(drivers, route.Driver)
		}
	}
	return drivers
}

// RedisConfig represents the redis backend configuration
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig represents the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// DemoConfig controls the demo data set
type DemoConfig struct {
	Seed bool `mapstructure:"seed"`
}

// Address returns the host:port the server listens on
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// LinkBase returns the URI links are built from
func (c *Config) LinkBase() string {
	if c.Server.BaseURI != "" {
		return strings.TrimSuffix(c.Server.BaseURI, "/")
	}
	return c.Server.APIPrefix
}

// New returns a viper instance with the defaults, the config file search
// path and the environment bindings set up
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.api_prefix", "/api")
	v.SetDefault("server.base_uri", "")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("api.debug", false)
	v.SetDefault("api.max_page_size", 100)
	v.SetDefault("api.max_include_depth", 10)
	v.SetDefault("api.max_body_size", 10<<20)
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.prefix", "japi:")
	v.SetDefault("storage.routes", []map[string]string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("demo.seed", true)

	v.SetConfigName("japi")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads japi.yaml from the working directory, or file when it is
// set, and applies environment overrides
func Load(file string) (*Config, error) {
	v := New()
	if file != "" {
		v.SetConfigFile(file)
	}
	return FromViper(v)
}

// FromViper reads the config file if there is one and decodes v
func FromViper(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.Server.APIPrefix = normalizePrefix(config.Server.APIPrefix)
	config.Storage.Driver = strings.ToLower(config.Storage.Driver)
	for i := range config.Storage.Routes {
		config.Storage.Routes[i].Driver = strings.ToLower(config.Storage.Routes[i].Driver)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// NewLogger builds the process logger from the log section
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log.level %q: %w", c.Log.Level, err)
	}

	var zc zap.Config
	switch c.Log.Format {
	case "console":
		zc = zap.NewDevelopmentConfig()
	default:
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func parseLevel(text string) (zapcore.Level, error) {
	var level zapcore.Level
	err := level.UnmarshalText([]byte(text))
	return level, err
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return "/" + prefix
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got: %d", cfg.Server.Port)
	}
	if cfg.Server.TLS.Enabled() && (cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls requires both cert_file and key_file")
	}

	if cfg.API.MaxPageSize < 0 {
		return fmt.Errorf("api.max_page_size must not be negative, got: %d", cfg.API.MaxPageSize)
	}
	if cfg.API.MaxIncludeDepth < 1 {
		return fmt.Errorf("api.max_include_depth must be at least 1, got: %d", cfg.API.MaxIncludeDepth)
	}
	if cfg.API.MaxBodySize < 1 {
		return fmt.Errorf("api.max_body_size must be positive, got: %d", cfg.API.MaxBodySize)
	}

	if err := validateStorage(cfg.Storage); err != nil {
		return err
	}

	switch cfg.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got: %s", cfg.Log.Format)
	}
	if _, err := parseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level %q: %w", cfg.Log.Level, err)
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got: %s", cfg.Metrics.Path)
	}
	return nil
}

func validateStorage(cfg StorageConfig) error {
	sqlDrivers := 0
	for _, driver := range cfg.Drivers() {
		switch driver {
		case DriverMemory, DriverRedis:
		case DriverSQLite, DriverPostgres:
			if cfg.DSN == "" {
				return fmt.Errorf("storage.dsn is required for the %s driver", driver)
			}
			sqlDrivers++
		default:
			return fmt.Errorf("storage.driver must be one of memory, sqlite, postgres or redis, got: %s", driver)
		}
	}
	// storage.dsn names a single database
	if sqlDrivers > 1 {
		return fmt.Errorf("storage.routes can not mix sqlite and postgres")
	}

	seen := make(map[string]bool, len(cfg.Routes))
	for _, route := range cfg.Routes {
		if route.Type == "" {
			return fmt.Errorf("storage.routes entries need a type")
		}
		if seen[route.Type] {
			return fmt.Errorf("storage.routes lists type %s twice", route.Type)
		}
		seen[route.Type] = true
	}
	return nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cameras   CamerasConfig   `mapstructure:"cameras"`
	Sensor    SensorConfig    `mapstructure:"sensor"`
	Detection DetectionConfig `mapstructure:"detection"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	API       APIConfig       `mapstructure:"api"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host                  string        `mapstructure:"host"`
	Port                  int           `mapstructure:"port"`
	Name                  string        `mapstructure:"name"`
	User                  string        `mapstructure:"user"`
	Password              string        `mapstructure:"password"`
	SSLMode               string        `mapstructure:"sslmode"`
	MaxConnections        int           `mapstructure:"max_connections"`
	MaxIdleConnections    int           `mapstructure:"max_idle_connections"`
	ConnectionMaxLifetime time.Duration `mapstructure:"connection_max_lifetime"`
}

// CamerasConfig holds camera status monitoring configuration
type CamerasConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
	CheckTimeout  time.Duration `mapstructure:"check_timeout"`
}

// SensorConfig holds IMU sample source configuration
type SensorConfig struct {
	Mode     string        `mapstructure:"mode"` // serial or mock
	Port     string        `mapstructure:"port"`
	Baudrate int           `mapstructure:"baudrate"`
	Pattern  string        `mapstructure:"pattern"` // mock mode only
	Interval time.Duration `mapstructure:"interval"`
}

// DetectionConfig holds person detection monitor configuration
type DetectionConfig struct {
	AutoStart      bool          `mapstructure:"auto_start"`
	ModelPath      string        `mapstructure:"model_path"`
	Interval       time.Duration `mapstructure:"interval"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
}

// BrokerConfig holds message broker configuration
type BrokerConfig struct {
	MessageDuration time.Duration `mapstructure:"message_duration"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `mapstructure:"level"`
	Format           string `mapstructure:"format"`
	Output           string `mapstructure:"output"`
	MaxSizeMB        int    `mapstructure:"max_size_mb"`
	MaxBackups       int    `mapstructure:"max_backups"`
	EnableCaller     bool   `mapstructure:"enable_caller"`
	EnableStacktrace bool   `mapstructure:"enable_stacktrace"`
}

// APIConfig holds API configuration
type APIConfig struct {
	EnableCORS         bool     `mapstructure:"enable_cors"`
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
	CORSAllowedMethods []string `mapstructure:"cors_allowed_methods"`
	CORSAllowedHeaders []string `mapstructure:"cors_allowed_headers"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	// Read environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file; a missing file falls back to defaults + environment
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "patrol")
	v.SetDefault("database.user", "patrol")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.max_idle_connections", 5)
	v.SetDefault("database.connection_max_lifetime", 5*time.Minute)

	v.SetDefault("cameras.check_interval", 30*time.Second)
	v.SetDefault("cameras.check_timeout", 3*time.Second)

	v.SetDefault("sensor.mode", "mock")
	v.SetDefault("sensor.baudrate", 9600)
	v.SetDefault("sensor.pattern", "stationary")
	v.SetDefault("sensor.interval", 100*time.Millisecond)

	v.SetDefault("detection.auto_start", false)
	v.SetDefault("detection.interval", 100*time.Millisecond)
	v.SetDefault("detection.connect_timeout", 3*time.Second)
	v.SetDefault("detection.read_timeout", 1*time.Second)

	v.SetDefault("broker.message_duration", 3*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)

	v.SetDefault("api.enable_cors", true)
	v.SetDefault("api.cors_allowed_origins", []string{"*"})
	v.SetDefault("api.cors_allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("api.cors_allowed_headers", []string{"Accept", "Content-Type"})
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}

	switch c.Sensor.Mode {
	case "serial", "mock":
	default:
		return fmt.Errorf("invalid sensor mode: %s", c.Sensor.Mode)
	}

	if c.Sensor.Mode == "serial" && c.Sensor.Port == "" {
		return fmt.Errorf("sensor port is required in serial mode")
	}

	if c.Detection.AutoStart && c.Detection.ModelPath == "" {
		return fmt.Errorf("detection model_path is required when auto_start is enabled")
	}

	if c.Broker.MessageDuration <= 0 {
		return fmt.Errorf("broker message_duration must be positive")
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Transport backend names accepted by PAIGEANT_TRANSPORT.
const (
	TransportInMemory = "inmemory"
	TransportRedis    = "redis"
)

// Config holds all service configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Transport TransportConfig `yaml:"transport"`
	Database  DatabaseConfig  `yaml:"database"`
}

// ServiceConfig holds service-level settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// TransportConfig selects and configures the message transport.
type TransportConfig struct {
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings for the list transport.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"password"`
}

// DatabaseConfig selects the workflow repository backend by URL scheme.
// An empty URL means the in-memory repository.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// Load builds configuration from defaults, an optional YAML file
// (PAIGEANT_CONFIG, default "paigeant.yaml") and environment variables,
// in that order of precedence.
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:      serviceName,
			Port:      8080,
			LogLevel:  "info",
			LogFormat: "text",
		},
		Transport: TransportConfig{
			Backend: TransportInMemory,
			Redis: RedisConfig{
				Host: "localhost",
				Port: 6379,
			},
		},
	}

	if err := loadFile(cfg); err != nil {
		return nil, err
	}
	loadEnv(cfg)

	return cfg, cfg.Validate()
}

func loadFile(cfg *Config) error {
	path := getEnv("PAIGEANT_CONFIG", "paigeant.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func loadEnv(cfg *Config) {
	cfg.Service.Port = getEnvInt("PORT", cfg.Service.Port)
	cfg.Service.LogLevel = getEnv("LOG_LEVEL", cfg.Service.LogLevel)
	cfg.Service.LogFormat = getEnv("LOG_FORMAT", cfg.Service.LogFormat)

	cfg.Transport.Backend = getEnv("PAIGEANT_TRANSPORT", cfg.Transport.Backend)
	cfg.Transport.Redis.Host = getEnv("REDIS_HOST", cfg.Transport.Redis.Host)
	cfg.Transport.Redis.Port = getEnvInt("REDIS_PORT", cfg.Transport.Redis.Port)
	cfg.Transport.Redis.DB = getEnvInt("REDIS_DB", cfg.Transport.Redis.DB)
	cfg.Transport.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Transport.Redis.Password)

	// PAIGEANT_DATABASE_URL wins over the generic DATABASE_URL.
	cfg.Database.URL = getEnv("PAIGEANT_DATABASE_URL", getEnv("DATABASE_URL", cfg.Database.URL))
}

// Validate checks if configuration is valid.
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	switch c.Transport.Backend {
	case TransportInMemory, TransportRedis:
	default:
		return fmt.Errorf("unknown transport backend: %q", c.Transport.Backend)
	}

	if c.Transport.Backend == TransportRedis && c.Transport.Redis.Host == "" {
		return fmt.Errorf("redis host is required for the redis transport")
	}

	return nil
}

// RedisAddr returns the host:port address for the Redis transport.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Transport.Redis.Host, c.Transport.Redis.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

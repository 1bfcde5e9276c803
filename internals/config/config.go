// Package config provides configuration management for the broker mesh.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	// RegistryMemory keeps the topic registry in the directory process memory.
	RegistryMemory = "memory"
	// RegistryRedis keeps the topic registry in Redis.
	RegistryRedis = "redis"
)

// Config holds all configuration options for directory, broker and client processes.
type Config struct {
	// Server configuration
	Host   string
	Port   string
	WSPath string

	// Directory location, used by brokers and clients
	DirectoryHost string
	DirectoryPort string

	// Liveness configuration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// Timeout configuration
	RequestTimeout time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration

	// Delivery configuration
	SendBufferSize        int
	FederationConcurrency int

	// Topic registry backend
	RegistryBackend string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisPrefix     string

	// Logging configuration
	LogLevel  string
	LogFormat string
}

// NewConfig creates a new configuration with default values.
func NewConfig() *Config {
	interval := getEnvAsDuration("HEARTBEAT_INTERVAL", 5*time.Second)
	return &Config{
		Host:                  getEnv("HOST", "127.0.0.1"),
		Port:                  getEnv("PORT", "2001"),
		WSPath:                getEnv("WS_PATH", "/sub/ws"),
		DirectoryHost:         getEnv("DIRECTORY_HOST", "127.0.0.1"),
		DirectoryPort:         getEnv("DIRECTORY_PORT", "1099"),
		HeartbeatInterval:     interval,
		HeartbeatTimeout:      getEnvAsDuration("HEARTBEAT_TIMEOUT", interval),
		RequestTimeout:        getEnvAsDuration("REQUEST_TIMEOUT", 5*time.Second),
		WriteTimeout:          getEnvAsDuration("WRITE_TIMEOUT", 10*time.Second),
		ReadTimeout:           getEnvAsDuration("READ_TIMEOUT", 30*time.Second),
		SendBufferSize:        getEnvAsInt("SEND_BUFFER_SIZE", 100),
		FederationConcurrency: getEnvAsInt("FEDERATION_CONCURRENCY", 8),
		RegistryBackend:       getEnv("REGISTRY_BACKEND", RegistryMemory),
		RedisAddr:             getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:         getEnv("REDIS_PASSWORD", ""),
		RedisDB:               getEnvAsInt("REDIS_DB", 0),
		RedisPrefix:           getEnv("REDIS_PREFIX", "meshbus"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "text"),
	}
}

// BindFlags registers flags that override the configuration.
// Values are read when the flag set is parsed.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.DurationVar(&c.HeartbeatInterval, "heartbeat-interval", c.HeartbeatInterval, "Heartbeat send and scan interval")
	fs.DurationVar(&c.HeartbeatTimeout, "heartbeat-timeout", c.HeartbeatTimeout, "Silence after which a client is evicted")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "Timeout for calls to the directory, registry and peers")
	fs.DurationVar(&c.WriteTimeout, "write-timeout", c.WriteTimeout, "WebSocket write timeout")
	fs.DurationVar(&c.ReadTimeout, "read-timeout", c.ReadTimeout, "HTTP read timeout")
	fs.IntVar(&c.SendBufferSize, "send-buffer-size", c.SendBufferSize, "Per-subscriber outbound buffer size")
	fs.IntVar(&c.FederationConcurrency, "federation-concurrency", c.FederationConcurrency, "Maximum parallel peer deliveries")
	fs.StringVar(&c.RegistryBackend, "registry-backend", c.RegistryBackend, "Topic registry backend (memory, redis)")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "Redis address for the redis registry backend")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format (text, json)")
}

// Validate checks option combinations that cannot work.
func (c *Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %s", c.HeartbeatInterval)
	}
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("heartbeat timeout must be positive, got %s", c.HeartbeatTimeout)
	}
	switch c.RegistryBackend {
	case RegistryMemory, RegistryRedis:
	default:
		return fmt.Errorf("unknown registry backend %q", c.RegistryBackend)
	}
	return nil
}

// ListenAddr returns the address this process serves on.
func (c *Config) ListenAddr() string {
	return c.Host + ":" + c.Port
}

// DirectoryAddr returns the address of the directory service.
func (c *Config) DirectoryAddr() string {
	return c.DirectoryHost + ":" + c.DirectoryPort
}

// LoadFile loads environment variables from a .env or YAML file.
// Variables already present in the environment win.
func LoadFile(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		values := make(map[string]string)
		if err := yaml.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for key, value := range values {
			if _, set := os.LookupEnv(key); !set {
				os.Setenv(key, value)
			}
		}
		return nil
	default:
		return godotenv.Load(path)
	}
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer or returns a default value.
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDuration gets an environment variable as a duration or returns a default value.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the events API server.
type Config struct {
	Server ServerConfig
	Mongo  MongoConfig
	Redis  RedisConfig
	Stream StreamConfig
	API    APIConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type MongoConfig struct {
	URL            string
	Database       string
	ConnectTimeout time.Duration
	MaxPoolSize    int
}

type RedisConfig struct {
	URL string
}

type StreamConfig struct {
	// Buffer is the per-subscription notification buffer; producers block
	// when it fills.
	Buffer int
}

type APIConfig struct {
	RequestsPerMinute int
	JWTSecret         string
}

// Load reads configuration from environment variables and returns a
// validated Config. Returns an error with a descriptive message if any
// required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("HAWK_EVENTS_PORT", 8080),
			Env:  envString("HAWK_EVENTS_ENV", "development"),
		},
		Mongo: MongoConfig{
			URL:            os.Getenv("MONGODB_URL"),
			Database:       envString("MONGODB_DATABASE", "hawk_events"),
			ConnectTimeout: envDuration("MONGODB_CONNECT_TIMEOUT", 10*time.Second),
			MaxPoolSize:    envInt("MONGODB_MAX_POOL_SIZE", 100),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Stream: StreamConfig{
			Buffer: envInt("STREAM_BUFFER", 64),
		},
		API: APIConfig{
			RequestsPerMinute: envInt("API_REQUESTS_PER_MINUTE", 60),
			JWTSecret:         os.Getenv("AUTH_JWT_SECRET"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Mongo.URL == "" {
		return fmt.Errorf("MONGODB_URL is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.Stream.Buffer <= 0 {
		return fmt.Errorf("STREAM_BUFFER must be positive, got %d", c.Stream.Buffer)
	}
	if c.API.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required")
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/kv"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Identity store configuration
	Redis kv.Config

	// Identity provider configuration
	IdP IdPConfig

	// Authentication and authorization tuning
	Auth AuthConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// IdPConfig holds identity provider settings
type IdPConfig struct {
	IssuerURL    string
	Audience     string
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string
}

// AuthConfig holds authentication and authorization tuning
type AuthConfig struct {
	// RootUsers bypass policy evaluation entirely
	RootUsers []string

	SessionTTL       time.Duration
	JWKSCacheSize    int
	JWKSCacheTTL     time.Duration
	PatternCacheSize int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Redis:         loadRedisConfig(),
		IdP:           loadIdPConfig(),
		Auth:          loadAuthConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GATEHOUSE_HOST", "0.0.0.0"),
		Port:            getEnv("GATEHOUSE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GATEHOUSE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GATEHOUSE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GATEHOUSE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GATEHOUSE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("GATEHOUSE_HEALTH_PORT", "9090"),
	}
}

// loadRedisConfig loads identity store configuration from environment
func loadRedisConfig() kv.Config {
	return kv.Config{
		URL:         getEnv("GATEHOUSE_REDIS_URL", "redis://localhost:6379"),
		Password:    getEnv("GATEHOUSE_REDIS_PASSWORD", ""),
		DB:          getEnvInt("GATEHOUSE_REDIS_DB", 0),
		MaxRetries:  getEnvInt("GATEHOUSE_REDIS_MAX_RETRIES", 3),
		PoolSize:    getEnvInt("GATEHOUSE_REDIS_POOL_SIZE", 10),
		DialTimeout: getEnvDuration("GATEHOUSE_REDIS_DIAL_TIMEOUT", 5*time.Second),
	}
}

// loadIdPConfig loads identity provider configuration from environment
func loadIdPConfig() IdPConfig {
	cfg := IdPConfig{
		IssuerURL:    getEnv("GATEHOUSE_ISSUER_URL", ""),
		Audience:     getEnv("GATEHOUSE_AUDIENCE", ""),
		ClientID:     getEnv("GATEHOUSE_CLIENT_ID", ""),
		ClientSecret: getEnv("GATEHOUSE_CLIENT_SECRET", ""),
		CallbackURL:  getEnv("GATEHOUSE_CALLBACK_URL", ""),
	}
	if scopes := getEnv("GATEHOUSE_SCOPES", ""); scopes != "" {
		cfg.Scopes = splitAndTrim(scopes)
	}
	return cfg
}

// loadAuthConfig loads authentication tuning from environment
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		RootUsers:        splitAndTrim(getEnv("GATEHOUSE_ROOT_USERS", "")),
		SessionTTL:       getEnvDuration("GATEHOUSE_SESSION_TTL", 12*time.Hour),
		JWKSCacheSize:    getEnvInt("GATEHOUSE_JWKS_CACHE_SIZE", 5),
		JWKSCacheTTL:     getEnvDuration("GATEHOUSE_JWKS_CACHE_TTL", 10*time.Hour),
		PatternCacheSize: getEnvInt("GATEHOUSE_PATTERN_CACHE_SIZE", 128),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("GATEHOUSE_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("GATEHOUSE_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required")
	}

	if c.IdP.IssuerURL == "" {
		return fmt.Errorf("identity provider issuer URL is required")
	}
	if c.IdP.Audience == "" {
		return fmt.Errorf("identity provider audience is required")
	}
	if c.IdP.ClientID == "" {
		return fmt.Errorf("identity provider client id is required")
	}
	if c.IdP.ClientSecret == "" {
		return fmt.Errorf("identity provider client secret is required")
	}
	if c.IdP.CallbackURL == "" {
		return fmt.Errorf("callback URL is required")
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// splitAndTrim splits a comma-separated list, dropping empty entries
func splitAndTrim(value string) []string {
	var result []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

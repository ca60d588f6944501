package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// Environment identifies the deployment environment
type Environment string

const (
	EnvironmentDevelopment Environment = "development"
	EnvironmentProduction  Environment = "production"
)

// MinSigningSecretBytes is the minimum length of the session signing secret
const MinSigningSecretBytes = 32

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Auth configuration
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

// AuthConfig holds authentication and session configuration
type AuthConfig struct {
	// Environment gates how configuration problems are handled. In
	// production StrictSecurity is forced on regardless of its own value.
	Environment Environment

	// StrictSecurity makes configuration problems fatal and forbids any
	// validation bypass (missing SAML certificate, weak secrets).
	StrictSecurity bool

	// SessionSigningSecret signs session tokens. Must be at least
	// MinSigningSecretBytes long when StrictSecurity is set.
	SessionSigningSecret string

	// SessionSecretKey encrypts identity provider tokens at rest.
	// Empty means derive from the signing secret.
	SessionSecretKey string

	SessionTimeout       time.Duration
	SecurityParamTTL     time.Duration
	MaxLoginAttempts     int
	LockoutDuration      time.Duration
	RequireDeviceBinding bool

	// HTTPTimeout bounds every network call to an identity provider.
	HTTPTimeout time.Duration

	// RedisURL selects the distributed session/revocation backend.
	// Empty falls back to in-memory stores with a startup warning.
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// ProviderConfigPath points at the JSON file listing identity
	// providers loaded into the registry at startup.
	ProviderConfigPath string

	// SAMLEnabled toggles the SAML capability. Disabled means SAML
	// providers fail at registry load, never silently no-op.
	SAMLEnabled bool

	// AuditLogPath enables the file audit recorder when non-empty.
	AuditLogPath string
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
		Host:            getEnv("GATEKEEPER_HOST", "0.0.0.0"),
		Port:            getEnv("GATEKEEPER_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GATEKEEPER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GATEKEEPER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GATEKEEPER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GATEKEEPER_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("GATEKEEPER_HEALTH_PORT", "9090"),
	}
}

// loadAuthConfig loads auth configuration from environment
func loadAuthConfig() AuthConfig {
	env := Environment(strings.ToLower(getEnv("GATEKEEPER_ENVIRONMENT", string(EnvironmentDevelopment))))

	cfg := AuthConfig{
		Environment:          env,
		StrictSecurity:       getEnvBool("GATEKEEPER_STRICT_SECURITY", env == EnvironmentProduction),
		SessionSigningSecret: getEnv("GATEKEEPER_SESSION_SIGNING_SECRET", ""),
		SessionSecretKey:     getEnv("GATEKEEPER_SESSION_SECRET_KEY", ""),
		SessionTimeout:       getEnvDuration("GATEKEEPER_SESSION_TIMEOUT", 4*time.Hour),
		SecurityParamTTL:     getEnvDuration("GATEKEEPER_SECURITY_PARAM_TTL", 10*time.Minute),
		MaxLoginAttempts:     getEnvInt("GATEKEEPER_MAX_LOGIN_ATTEMPTS", 5),
		LockoutDuration:      getEnvDuration("GATEKEEPER_LOCKOUT_DURATION", 15*time.Minute),
		RequireDeviceBinding: getEnvBool("GATEKEEPER_REQUIRE_DEVICE_BINDING", true),
		HTTPTimeout:          getEnvDuration("GATEKEEPER_HTTP_TIMEOUT", 10*time.Second),
		RedisURL:             getEnv("GATEKEEPER_REDIS_URL", ""),
		RedisPassword:        getEnv("GATEKEEPER_REDIS_PASSWORD", ""),
		RedisDB:              getEnvInt("GATEKEEPER_REDIS_DB", 0),
		ProviderConfigPath:   getEnv("GATEKEEPER_PROVIDER_CONFIG", "providers.json"),
		SAMLEnabled:          getEnvBool("GATEKEEPER_SAML_ENABLED", true),
		AuditLogPath:         getEnv("GATEKEEPER_AUDIT_LOG_PATH", ""),
	}

	// Production never runs with relaxed validation.
	if cfg.Environment == EnvironmentProduction {
		cfg.StrictSecurity = true
	}

	return cfg
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("GATEKEEPER_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("GATEKEEPER_METRICS_ENABLED", true),
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

	if c.Auth.Environment != EnvironmentDevelopment && c.Auth.Environment != EnvironmentProduction {
		return fmt.Errorf("invalid environment: %s (must be development or production)", c.Auth.Environment)
	}

	if c.Auth.StrictSecurity {
		if len(c.Auth.SessionSigningSecret) < MinSigningSecretBytes {
			return fmt.Errorf("session signing secret must be at least %d bytes in strict security mode", MinSigningSecretBytes)
		}
	}

	if c.Auth.SessionTimeout <= 0 {
		return fmt.Errorf("session timeout must be positive")
	}
	if c.Auth.SecurityParamTTL <= 0 || c.Auth.SecurityParamTTL > 10*time.Minute {
		return fmt.Errorf("security parameter TTL must be positive and at most 10 minutes")
	}
	if c.Auth.MaxLoginAttempts <= 0 {
		return fmt.Errorf("max login attempts must be positive")
	}
	if c.Auth.HTTPTimeout < time.Second || c.Auth.HTTPTimeout > 30*time.Second {
		return fmt.Errorf("HTTP timeout must be between 1s and 30s")
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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Notify    NotifyConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	RunMigrations     bool
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	TrustedProxies []string
	// Requests per minute per IP on the verify endpoint, before any attempt is logged
	EdgeRequestsPerMinute int
}

type AuthConfig struct {
	// JWTSecret validates admin tokens minted by the identity layer
	JWTSecret            string
	TimingDelayBaseMs    int
	TimingDelayRandomMs  int
	TimingDelayOnSuccess bool
}

type RateLimitConfig struct {
	MaxAttemptsPerIP       int
	MaxAttemptsPerUsername int
	Window                 time.Duration
	LockoutAttempts        int
	LockoutDuration        time.Duration
	CleanupAge             time.Duration
	CleanupProbability     float64
	// CleanupInterval enables a scheduled sweep in addition to the probabilistic one; 0 disables it
	CleanupInterval   time.Duration
	CleanupMinSpacing time.Duration
}

type NotifyConfig struct {
	LockoutEmailEnabled bool
	AWSRegion           string
	FromAddress         string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "roster"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			RunMigrations:     getEnvAsBool("DB_RUN_MIGRATIONS", true),
		},
		Server: ServerConfig{
			Port:                  getEnv("PORT", "8080"),
			Env:                   env,
			LogLevel:              getEnv("LOG_LEVEL", "info"),
			ReadTimeout:           getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:          getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:           getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			TrustedProxies:        parseList(getEnv("TRUSTED_PROXIES", "")),
			EdgeRequestsPerMinute: getEnvAsInt("VERIFY_REQUESTS_PER_MINUTE", 30),
		},
		Auth: AuthConfig{
			JWTSecret:            jwtSecret,
			TimingDelayBaseMs:    getEnvAsInt("TIMING_DELAY_BASE_MS", 100),
			TimingDelayRandomMs:  getEnvAsInt("TIMING_DELAY_RANDOM_MS", 50),
			TimingDelayOnSuccess: getEnvAsBool("TIMING_DELAY_ON_SUCCESS", false),
		},
		RateLimit: RateLimitConfig{
			MaxAttemptsPerIP:       getEnvAsInt("MAX_ATTEMPTS_PER_IP", 5),
			MaxAttemptsPerUsername: getEnvAsInt("MAX_ATTEMPTS_PER_USERNAME", 5),
			Window:                 getEnvAsDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
			LockoutAttempts:        getEnvAsInt("ACCOUNT_LOCKOUT_ATTEMPTS", 10),
			LockoutDuration:        getEnvAsDuration("ACCOUNT_LOCKOUT_DURATION", 30*time.Minute),
			CleanupAge:             getEnvAsDuration("LOGIN_ATTEMPT_CLEANUP_AGE", 60*time.Minute),
			CleanupProbability:     getEnvAsFloat("LOGIN_ATTEMPT_CLEANUP_PROBABILITY", 0.1),
			CleanupInterval:        getEnvAsDuration("LOGIN_ATTEMPT_CLEANUP_INTERVAL", 0),
			CleanupMinSpacing:      getEnvAsDuration("LOGIN_ATTEMPT_CLEANUP_MIN_SPACING", 1*time.Second),
		},
		Notify: NotifyConfig{
			LockoutEmailEnabled: getEnvAsBool("LOCKOUT_EMAIL_ENABLED", false),
			AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
			FromAddress:         getEnv("LOCKOUT_EMAIL_FROM", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.RateLimit.Validate(); err != nil {
		return nil, err
	}

	if cfg.Notify.LockoutEmailEnabled && cfg.Notify.FromAddress == "" {
		return nil, fmt.Errorf("LOCKOUT_EMAIL_FROM is required when LOCKOUT_EMAIL_ENABLED is set")
	}

	return cfg, nil
}

// Validate rejects limits that would disable or invert the checks
func (c *RateLimitConfig) Validate() error {
	if c.MaxAttemptsPerIP <= 0 || c.MaxAttemptsPerUsername <= 0 || c.LockoutAttempts <= 0 {
		return fmt.Errorf("rate limit attempt thresholds must be positive")
	}
	if c.Window <= 0 || c.LockoutDuration <= 0 || c.CleanupAge <= 0 {
		return fmt.Errorf("rate limit windows must be positive")
	}
	// Rows must outlive every window that reads them
	if c.CleanupAge < c.Window || c.CleanupAge < c.LockoutDuration {
		return fmt.Errorf("LOGIN_ATTEMPT_CLEANUP_AGE (%s) must cover both the rate limit window and the lockout duration", c.CleanupAge)
	}
	if c.CleanupProbability < 0 || c.CleanupProbability > 1 {
		return fmt.Errorf("LOGIN_ATTEMPT_CLEANUP_PROBABILITY must be between 0 and 1")
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

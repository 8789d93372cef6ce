// Package config loads and validates service configuration.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Session  SessionConfig
	MFA      MFAConfig
	Security SecurityConfig
	Email    EmailConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// QueryTimeout bounds every store call; a blacklist check that exceeds
	// it fails closed.
	QueryTimeout time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	// CallTimeout bounds cache calls; exceeding it degrades to store-only.
	CallTimeout   time.Duration
	ProbeInterval time.Duration
}

type JWTConfig struct {
	Secret          string
	MinSecretLength int
	AccessTokenTTL  time.Duration
}

type SessionConfig struct {
	// RefreshTokenTTL is the refresh token's own validity window.
	RefreshTokenTTL time.Duration
	// SessionTTL is how long the session row stays known, allowing rolling
	// renewal beyond the refresh token window.
	SessionTTL    time.Duration
	SweepInterval time.Duration
}

type MFAConfig struct {
	Issuer            string
	RecoveryCodeCount int
}

type SecurityConfig struct {
	BruteForceThreshold int
	BruteForceWindow    time.Duration
	TravelWindow        time.Duration
	RecentLoginSample   int
	NotifyInterval      time.Duration
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPUseTLS   bool
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			QueryTimeout:    getDurationEnv("DB_QUERY_TIMEOUT", 3*time.Second),
		},
		Redis: RedisConfig{
			URL:           normalizeRedisURL(getEnv("REDIS_URL", "localhost:6379")),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getIntEnv("REDIS_DB", 0),
			CallTimeout:   getDurationEnv("REDIS_CALL_TIMEOUT", 2*time.Second),
			ProbeInterval: getDurationEnv("REDIS_PROBE_INTERVAL", 30*time.Second),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", ""),
			MinSecretLength: getIntEnv("JWT_MIN_SECRET_LENGTH", 32),
			AccessTokenTTL:  getDurationEnv("JWT_ACCESS_TOKEN_TTL", 15*time.Minute),
		},
		Session: SessionConfig{
			RefreshTokenTTL: getDurationEnv("SESSION_REFRESH_TOKEN_TTL", 7*24*time.Hour),
			SessionTTL:      getDurationEnv("SESSION_TTL", 30*24*time.Hour),
			SweepInterval:   getDurationEnv("SESSION_SWEEP_INTERVAL", 15*time.Minute),
		},
		MFA: MFAConfig{
			Issuer:            getEnv("MFA_ISSUER", "FinVault"),
			RecoveryCodeCount: getIntEnv("MFA_RECOVERY_CODE_COUNT", 10),
		},
		Security: SecurityConfig{
			BruteForceThreshold: getIntEnv("SECURITY_BRUTE_FORCE_THRESHOLD", 5),
			BruteForceWindow:    getDurationEnv("SECURITY_BRUTE_FORCE_WINDOW", time.Hour),
			TravelWindow:        getDurationEnv("SECURITY_TRAVEL_WINDOW", time.Hour),
			RecentLoginSample:   getIntEnv("SECURITY_RECENT_LOGIN_SAMPLE", 10),
			NotifyInterval:      getDurationEnv("SECURITY_NOTIFY_INTERVAL", time.Minute),
		},
		Email: EmailConfig{
			SMTPHost:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			SMTPPort:     getIntEnv("SMTP_PORT", 587),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			SMTPFrom:     getEnv("SMTP_FROM", ""),
			SMTPUseTLS:   getBoolEnv("SMTP_USE_TLS", true),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func normalizeRedisURL(url string) string {
	// Strip redis:// or redis+tls:// scheme if present
	if strings.HasPrefix(url, "redis+tls://") {
		return url[len("redis+tls://"):]
	}
	if strings.HasPrefix(url, "redis://") {
		return url[len("redis://"):]
	}
	return url
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return defaultValue
}

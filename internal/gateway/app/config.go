package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/b24gate/pkg/b24"
	"github.com/aussiebroadwan/b24gate/pkg/jwtx"
)

type Config struct {
	JWTSecret       string        // Required: HMAC secret for session tokens
	JWTAlgorithm    string        // Optional: HS256, HS384 or HS512 (default: HS256)
	SessionLifetime time.Duration // Optional: session token lifetime (default: 60m)

	ClientID     string // Required: application client id on the platform
	ClientSecret string // Required: application client secret

	DatabaseURL string // Optional: sqlite file DSN or postgres:// URL (default: file:gateway.db)

	CredentialsKey     string // Optional: seals stored platform tokens when set
	CredentialsKeyFile string // Optional: read CredentialsKey from a file instead

	OAuthURL             string        // Optional: platform OAuth token endpoint
	PortalScheme         string        // Optional: scheme of portal REST calls, http only for local mocks (default: https)
	UpstreamTimeout      time.Duration // Optional: per-request timeout to the platform (default: 10s)
	UpstreamAllowPrivate bool          // Optional: allow portals on private networks (default: false)

	RenewalBuffer    int           // Optional: queued renewal events before spilling to goroutines (default: 256)
	KeeperInterval   time.Duration // Optional: credential keeper interval, 0 disables (default: 24h)
	KeeperStaleAfter time.Duration // Optional: refresh accounts untouched for this long (default: 720h)

	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	Port                int           // HTTP server port (default: 8000)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)
}

// LoadConfig reads the environment and validates the result.
func LoadConfig() (Config, error) {
	cfg := Config{
		JWTSecret:       os.Getenv("JWT_SECRET"),
		JWTAlgorithm:    getEnvOrDefault("JWT_ALGORITHM", "HS256"),
		SessionLifetime: getEnvDurationOrDefault("SESSION_LIFETIME", jwtx.DefaultSessionLifetime),

		ClientID:     os.Getenv("CLIENT_ID"),
		ClientSecret: os.Getenv("CLIENT_SECRET"),

		DatabaseURL: getEnvOrDefault("DATABASE_URL", "file:gateway.db"),

		CredentialsKey:     os.Getenv("CREDENTIALS_KEY"),
		CredentialsKeyFile: os.Getenv("CREDENTIALS_KEY_FILE"),

		OAuthURL:             getEnvOrDefault("B24_OAUTH_URL", b24.DefaultOAuthURL),
		PortalScheme:         getEnvOrDefault("B24_PORTAL_SCHEME", "https"),
		UpstreamTimeout:      getEnvDurationOrDefault("UPSTREAM_TIMEOUT", 10*time.Second),
		UpstreamAllowPrivate: getEnvBoolOrDefault("UPSTREAM_ALLOW_PRIVATE", false),

		RenewalBuffer:    getEnvIntOrDefault("RENEWAL_BUFFER", 256),
		KeeperInterval:   getEnvDurationOrDefault("KEEPER_INTERVAL", 24*time.Hour),
		KeeperStaleAfter: getEnvDurationOrDefault("KEEPER_STALE_AFTER", 30*24*time.Hour),

		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8000),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		errs = append(errs, fmt.Errorf("JWT_ALGORITHM %q is not one of HS256, HS384, HS512", c.JWTAlgorithm))
	}
	if c.SessionLifetime <= 0 {
		errs = append(errs, errors.New("SESSION_LIFETIME must be positive"))
	}
	if c.ClientID == "" {
		errs = append(errs, errors.New("CLIENT_ID is required"))
	}
	if c.ClientSecret == "" {
		errs = append(errs, errors.New("CLIENT_SECRET is required"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL must not be empty"))
	}
	if c.CredentialsKey != "" && c.CredentialsKeyFile != "" {
		errs = append(errs, errors.New("set only one of CREDENTIALS_KEY and CREDENTIALS_KEY_FILE"))
	}
	if !strings.HasPrefix(c.OAuthURL, "https://") && !strings.HasPrefix(c.OAuthURL, "http://") {
		errs = append(errs, fmt.Errorf("B24_OAUTH_URL %q must be an http(s) URL", c.OAuthURL))
	}
	if c.PortalScheme != "https" && c.PortalScheme != "http" {
		errs = append(errs, fmt.Errorf("B24_PORTAL_SCHEME %q must be http or https", c.PortalScheme))
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, errors.New("UPSTREAM_TIMEOUT must be positive"))
	}
	if c.KeeperInterval < 0 {
		errs = append(errs, errors.New("KEEPER_INTERVAL must not be negative"))
	}
	if c.KeeperStaleAfter <= 0 {
		errs = append(errs, errors.New("KEEPER_STALE_AFTER must be positive"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Port))
	}

	return errors.Join(errs...)
}

// CredentialsKeyMaterial returns the sealing key, or nil when stored tokens
// are kept in plaintext.
func (c Config) CredentialsKeyMaterial() ([]byte, error) {
	if c.CredentialsKeyFile != "" {
		data, err := os.ReadFile(c.CredentialsKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CREDENTIALS_KEY_FILE: %w", err)
		}
		data = []byte(strings.TrimSpace(string(data)))
		if len(data) == 0 {
			return nil, errors.New("CREDENTIALS_KEY_FILE is empty")
		}
		return data, nil
	}
	if c.CredentialsKey != "" {
		return []byte(c.CredentialsKey), nil
	}
	return nil, nil
}

// Postgres reports whether DatabaseURL selects the postgres driver.
func (c Config) Postgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}

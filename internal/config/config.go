// Package config loads process configuration from the environment once at
// startup. The resulting struct is passed by injection and never mutated;
// core packages do not read the environment themselves.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "REPORTVAULT_"

// Defaults mirror the policy values the service ships with.
const (
	DefaultTokenTTL         = 7 * 24 * time.Hour
	DefaultCookieExpireDays = 7
	DefaultBcryptCost       = 10
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 15 * time.Minute
	DefaultAddr             = ":8080"
)

// Config carries every recognized option.
type Config struct {
	Addr string

	// Token issuance
	AuthSecret       string
	TokenTTL         time.Duration
	CookieExpireDays int

	// Credential policy
	BcryptCost       int
	LockoutThreshold int
	LockoutDuration  time.Duration

	// Feature flags
	EnableRegistration bool
	EnableTwoFactor    bool

	// Storage
	PostgresDSN string
}

// ErrMissingSecret is returned by Validate when token issuance is requested
// without a signing secret.
var ErrMissingSecret = errors.New("config: auth secret is not configured")

// Load reads REPORTVAULT_* variables and applies defaults.
func Load() Config {
	return Config{
		Addr:               envString("ADDR", DefaultAddr),
		AuthSecret:         strings.TrimSpace(os.Getenv(envPrefix + "AUTH_SECRET")),
		TokenTTL:           envDuration("TOKEN_TTL", DefaultTokenTTL),
		CookieExpireDays:   envInt("COOKIE_EXPIRE_DAYS", DefaultCookieExpireDays),
		BcryptCost:         envInt("BCRYPT_COST", DefaultBcryptCost),
		LockoutThreshold:   envInt("LOCKOUT_THRESHOLD", DefaultLockoutThreshold),
		LockoutDuration:    envDuration("LOCKOUT_DURATION", DefaultLockoutDuration),
		EnableRegistration: envBool("ENABLE_REGISTRATION", false),
		EnableTwoFactor:    envBool("ENABLE_2FA", false),
		PostgresDSN:        envString("PG_DSN", ""),
	}
}

// Validate reports configuration that cannot serve requests.
func (c Config) Validate() error {
	if c.AuthSecret == "" {
		return ErrMissingSecret
	}
	if c.TokenTTL <= 0 {
		return errors.New("config: token ttl must be positive")
	}
	if c.LockoutThreshold <= 0 {
		return errors.New("config: lockout threshold must be positive")
	}
	if c.LockoutDuration <= 0 {
		return errors.New("config: lockout duration must be positive")
	}
	return nil
}

func envString(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

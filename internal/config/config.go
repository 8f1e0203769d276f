// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the Global Controller's runtime configuration, assembled
// once at startup from the process environment.
type Config struct {
	// Server
	Port     string
	AppEnv   string
	LogLevel string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Identity
	Region string // this GC instance's region, e.g. "eu-west"
	GCID   string // stable identifier for this GC replica, used in logs and recorded as assigned_by_gc_id

	// Auth Controller (AC) integration
	ACJWKSURL       string
	ACTokenURL      string
	ACBaseURL       string // scheme+host for meeting-token/guest-token minting, derived from ACTokenURL unless set
	ClientID        string
	ClientSecret    string
	JWTClockSkew    time.Duration
	JWTMaxSizeBytes int64
	JWKSTTL         time.Duration

	// Registry / assignment tuning
	MCStalenessThreshold time.Duration
	CandidateTopK        int
	AssignAttemptLimit   int
	AssignmentStaleHours time.Duration // grace window before an unhealthy MC's assignments are soft-ended
	CleanupRetentionDays int
	DrainSeconds         int
	ClockDriftMargin     time.Duration

	// Rate limiting
	RateLimitEnabled bool
}

// Error reports a rejected configuration value. Config.Load returns this
// instead of silently falling back to a default, since a misconfigured GC
// replica joining a fleet silently is worse than one that refuses to start.
type Error struct {
	Field string
	Value string
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s=%q: %s", e.Field, e.Value, e.Msg)
}

// Load reads configuration from the process environment, optionally
// preceded by a .env file in the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnvOrBuild("DATABASE_URL", buildDatabaseURL),
		RedisURL:    getEnvOrBuild("REDIS_URL", buildRedisURL),

		Region: getEnv("REGION", ""),
		GCID:   getEnv("GC_ID", ""),

		ACJWKSURL:    getEnv("AC_JWKS_URL", ""),
		ACTokenURL:   getEnv("AC_TOKEN_URL", ""),
		ClientID:     getEnv("CLIENT_ID", ""),
		ClientSecret: getEnv("CLIENT_SECRET", ""),
	}

	rateLimitEnabled, err := getBool("RATE_LIMIT_ENABLED", true)
	if err != nil {
		return nil, err
	}
	cfg.RateLimitEnabled = rateLimitEnabled

	clockSkew, err := getIntRange("JWT_CLOCK_SKEW_SECONDS", 30, 1, 600)
	if err != nil {
		return nil, err
	}
	cfg.JWTClockSkew = time.Duration(clockSkew) * time.Second

	maxSize, err := getIntMin("JWT_MAX_SIZE_BYTES", 8192, 1)
	if err != nil {
		return nil, err
	}
	cfg.JWTMaxSizeBytes = int64(maxSize)

	jwksTTL, err := getIntMin("JWKS_TTL_SECONDS", 300, 1)
	if err != nil {
		return nil, err
	}
	cfg.JWKSTTL = time.Duration(jwksTTL) * time.Second

	staleness, err := getIntMin("MC_STALENESS_THRESHOLD_SECONDS", 60, 1)
	if err != nil {
		return nil, err
	}
	cfg.MCStalenessThreshold = time.Duration(staleness) * time.Second

	topK, err := getIntMin("CANDIDATE_TOP_K", 5, 1)
	if err != nil {
		return nil, err
	}
	cfg.CandidateTopK = topK

	attemptLimit, err := getIntMin("ASSIGN_ATTEMPT_LIMIT", 3, 1)
	if err != nil {
		return nil, err
	}
	cfg.AssignAttemptLimit = attemptLimit

	staleHours, err := getIntMin("ASSIGNMENT_STALE_HOURS", 1, 1)
	if err != nil {
		return nil, err
	}
	cfg.AssignmentStaleHours = time.Duration(staleHours) * time.Hour

	retention, err := getIntMin("CLEANUP_RETENTION_DAYS", 30, 1)
	if err != nil {
		return nil, err
	}
	cfg.CleanupRetentionDays = retention

	drain, err := getIntMin("DRAIN_SECONDS", 30, 0)
	if err != nil {
		return nil, err
	}
	cfg.DrainSeconds = drain

	driftMargin, err := getIntMin("CLOCK_DRIFT_MARGIN_SECONDS", 5, 0)
	if err != nil {
		return nil, err
	}
	cfg.ClockDriftMargin = time.Duration(driftMargin) * time.Second

	if cfg.Region == "" {
		return nil, &Error{Field: "REGION", Value: "", Msg: "required"}
	}
	if cfg.GCID == "" {
		return nil, &Error{Field: "GC_ID", Value: "", Msg: "required"}
	}
	if cfg.ACJWKSURL == "" {
		return nil, &Error{Field: "AC_JWKS_URL", Value: "", Msg: "required"}
	}

	cfg.ACBaseURL = getEnvOrBuild("AC_BASE_URL", func() string { return baseURLOf(cfg.ACTokenURL) })

	return cfg, nil
}

// baseURLOf extracts scheme://host from a full endpoint URL, used to derive
// AC's base URL from its token endpoint when AC_BASE_URL is not set
// explicitly.
func baseURLOf(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, &Error{Field: key, Value: value, Msg: "must be a boolean"}
	}
	return b, nil
}

// getIntRange parses an integer env var, enforcing an inclusive [min, max]
// bound, and returns a *Error if the value is present but out of range or
// unparsable.
func getIntRange(key string, defaultValue, min, max int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, &Error{Field: key, Value: value, Msg: "must be an integer"}
	}
	if n < min || n > max {
		return 0, &Error{Field: key, Value: value, Msg: fmt.Sprintf("must be between %d and %d", min, max)}
	}
	return n, nil
}

// getIntMin parses an integer env var with only a lower bound.
func getIntMin(key string, defaultValue, min int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, &Error{Field: key, Value: value, Msg: "must be an integer"}
	}
	if n < min {
		return 0, &Error{Field: key, Value: value, Msg: fmt.Sprintf("must be >= %d", min)}
	}
	return n, nil
}

func getEnvOrBuild(key string, buildFn func() string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return buildFn()
}

func buildDatabaseURL() string {
	host := getEnv("DB_HOST", "")
	if host == "" {
		if getEnv("DEVCONTAINER", "") != "" {
			host = "postgres"
		} else {
			host = "localhost"
		}
	}
	port := getEnv("DB_PORT", "5432")
	name := getEnv("DB_NAME", "gc")
	user := getEnv("DB_USER", "gc")
	password := getEnv("DB_PASSWORD", "gc")
	sslmode := getEnv("DB_SSLMODE", "disable")

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, name, sslmode)
}

func buildRedisURL() string {
	host := getEnv("REDIS_HOST", "")
	if host == "" {
		if getEnv("DEVCONTAINER", "") != "" {
			host = "redis"
		} else {
			host = "localhost"
		}
	}
	port := getEnv("REDIS_PORT", "6379")
	password := getEnv("REDIS_PASSWORD", "")
	db := getEnv("REDIS_DB", "0")

	if password != "" {
		return fmt.Sprintf("redis://:%s@%s:%s/%s", password, host, port, db)
	}
	return fmt.Sprintf("redis://%s:%s/%s", host, port, db)
}

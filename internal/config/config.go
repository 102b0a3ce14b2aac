package config

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Skotchmaster/sports_program/internal/lockout"
)

const (
	RevocationDB    = "db"
	RevocationRedis = "redis"
)

type Config struct {
	AppEnv   string
	HTTPAddr string
	LogLevel string

	DBDriver       string
	DatabaseURL    string
	MigrateOnStart bool

	JWTSecret []byte
	JWTTTL    time.Duration

	MaxFailedAttempts      int
	LockoutDurationMinutes int

	RevocationBackend       string
	RedisURL                string
	RevocationSweepInterval time.Duration

	CookieSecure          bool
	CookieDomain          string
	CookieSameSite        http.SameSite
	SessionCookieName     string
	CSRFCookieName        string
	CSRFHeaderName        string
	CSRFEnforceSameOrigin bool

	KafkaBrokers []string
	AuditTopic   string

	ESURL      string
	ESUser     string
	ESPassword string
	AuditIndex string

	SentryDSN string

	BootstrapAdminEmail    string
	BootstrapAdminPassword string
	BootstrapTeamName      string
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("dotenv_not_loaded", "error", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv assembles a Config from lookup and validates it.
func FromEnv(lookup func(string) string) (*Config, error) {
	e := env(lookup)
	var errs []string

	cfg := &Config{
		AppEnv:   e.str("APP_ENV", "development"),
		HTTPAddr: e.str("HTTP_ADDR", ":8080"),
		LogLevel: e.str("LOG_LEVEL", "info"),

		DBDriver:       strings.ToLower(e.str("DB_DRIVER", "postgres")),
		DatabaseURL:    e.str("DATABASE_URL", ""),
		MigrateOnStart: e.bool("MIGRATE_ON_START", true, &errs),

		JWTSecret: []byte(e.str("JWT_SECRET", "")),
		JWTTTL:    e.duration("JWT_TTL", 24*time.Hour, &errs),

		MaxFailedAttempts:      e.int("MAX_FAILED_ATTEMPTS", lockout.DefaultMaxFailedAttempts, &errs),
		LockoutDurationMinutes: e.int("LOCKOUT_DURATION_MINUTES", int(lockout.DefaultDuration/time.Minute), &errs),

		RevocationBackend:       strings.ToLower(e.str("REVOCATION_BACKEND", RevocationDB)),
		RedisURL:                e.str("REDIS_URL", ""),
		RevocationSweepInterval: e.duration("REVOCATION_SWEEP_INTERVAL", 10*time.Minute, &errs),

		CookieSecure:          e.bool("COOKIE_SECURE", true, &errs),
		CookieDomain:          e.str("COOKIE_DOMAIN", ""),
		SessionCookieName:     e.str("SESSION_COOKIE_NAME", "token"),
		CSRFCookieName:        e.str("CSRF_COOKIE_NAME", "csrf_token"),
		CSRFHeaderName:        e.str("CSRF_HEADER_NAME", "X-CSRF-Token"),
		CSRFEnforceSameOrigin: e.bool("CSRF_ENFORCE_SAME_ORIGIN", false, &errs),

		KafkaBrokers: CSV(e("KAFKA_BROKERS")),
		AuditTopic:   e.str("AUDIT_TOPIC", "auth_events"),

		ESURL:      e.str("ES_URL", ""),
		ESUser:     e.str("ES_USER", ""),
		ESPassword: e.str("ES_PASSWORD", ""),
		AuditIndex: e.str("AUDIT_INDEX", "auth-audit"),

		SentryDSN: e.str("SENTRY_DSN", ""),

		BootstrapAdminEmail:    e.str("BOOTSTRAP_ADMIN_EMAIL", ""),
		BootstrapAdminPassword: e.str("BOOTSTRAP_ADMIN_PASSWORD", ""),
		BootstrapTeamName:      e.str("BOOTSTRAP_TEAM_NAME", ""),
	}

	sameSite, ok := parseSameSite(e.str("COOKIE_SAMESITE", "lax"))
	if !ok {
		errs = append(errs, "COOKIE_SAMESITE must be one of lax, strict, none")
	}
	cfg.CookieSameSite = sameSite

	if err := cfg.validate(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error { return c.validate(nil) }

func (c *Config) validate(errs []string) error {
	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.DBDriver != "postgres" && c.DBDriver != "sqlite" {
		errs = append(errs, "DB_DRIVER must be postgres or sqlite")
	}
	if len(c.JWTSecret) < 32 {
		errs = append(errs, "JWT_SECRET must be at least 32 chars")
	}
	if c.JWTTTL <= 0 {
		errs = append(errs, "JWT_TTL must be positive")
	}
	if c.MaxFailedAttempts <= 0 {
		errs = append(errs, "MAX_FAILED_ATTEMPTS must be > 0")
	}
	if c.LockoutDurationMinutes <= 0 {
		errs = append(errs, "LOCKOUT_DURATION_MINUTES must be > 0")
	}
	switch c.RevocationBackend {
	case RevocationDB:
	case RevocationRedis:
		if c.RedisURL == "" {
			errs = append(errs, "REDIS_URL is required when REVOCATION_BACKEND=redis")
		}
	default:
		errs = append(errs, "REVOCATION_BACKEND must be db or redis")
	}
	if c.CookieSameSite == http.SameSiteNoneMode && !c.CookieSecure {
		errs = append(errs, "COOKIE_SAMESITE=none requires COOKIE_SECURE=true")
	}
	if c.bootstrapFieldsSet() != 0 && c.bootstrapFieldsSet() != 3 {
		errs = append(errs, "BOOTSTRAP_ADMIN_EMAIL, BOOTSTRAP_ADMIN_PASSWORD and BOOTSTRAP_TEAM_NAME must be set together")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) bootstrapFieldsSet() int {
	n := 0
	for _, v := range []string{c.BootstrapAdminEmail, c.BootstrapAdminPassword, c.BootstrapTeamName} {
		if v != "" {
			n++
		}
	}
	return n
}

func (c *Config) Bootstrap() bool { return c.bootstrapFieldsSet() == 3 }

func (c *Config) LockoutPolicy() lockout.Policy {
	return lockout.Policy{
		MaxFailedAttempts: c.MaxFailedAttempts,
		Duration:          time.Duration(c.LockoutDurationMinutes) * time.Minute,
	}
}

func parseSameSite(v string) (http.SameSite, bool) {
	switch strings.ToLower(v) {
	case "lax":
		return http.SameSiteLaxMode, true
	case "strict":
		return http.SameSiteStrictMode, true
	case "none":
		return http.SameSiteNoneMode, true
	default:
		return http.SameSiteLaxMode, false
	}
}

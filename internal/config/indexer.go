package config

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Indexer is what cmd/auditindexer needs. It carries no database or signing
// settings, so the indexer never has to hold the API's JWT secret.
type Indexer struct {
	AppEnv   string
	LogLevel string

	KafkaBrokers []string
	AuditTopic   string

	ESURL      string
	ESUser     string
	ESPassword string
	AuditIndex string
}

func LoadIndexer() (*Indexer, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("dotenv_not_loaded", "error", err)
	}
	return IndexerFromEnv(os.Getenv)
}

func IndexerFromEnv(lookup func(string) string) (*Indexer, error) {
	e := env(lookup)
	cfg := &Indexer{
		AppEnv:       e.str("APP_ENV", "development"),
		LogLevel:     e.str("LOG_LEVEL", "info"),
		KafkaBrokers: CSV(e("KAFKA_BROKERS")),
		AuditTopic:   e.str("AUDIT_TOPIC", "auth_events"),
		ESURL:        e.str("ES_URL", ""),
		ESUser:       e.str("ES_USER", ""),
		ESPassword:   e.str("ES_PASSWORD", ""),
		AuditIndex:   e.str("AUDIT_INDEX", "auth-audit"),
	}

	var errs []string
	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, "KAFKA_BROKERS is required")
	}
	if cfg.ESURL == "" {
		errs = append(errs, "ES_URL is required")
	}
	if len(errs) > 0 {
		return nil, errors.New(strings.Join(errs, "; "))
	}
	return cfg, nil
}

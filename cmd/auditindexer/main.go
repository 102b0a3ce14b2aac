package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/segmentio/kafka-go"

	"github.com/Skotchmaster/sports_program/internal/audit"
	"github.com/Skotchmaster/sports_program/internal/config"
	"github.com/Skotchmaster/sports_program/internal/es"
	"github.com/Skotchmaster/sports_program/internal/logging"
	"github.com/Skotchmaster/sports_program/internal/mykafka"
)

const groupID = "auditindexer"

// auditindexer copies auth audit events from Kafka into Elasticsearch.
func main() {
	cfg, err := config.LoadIndexer()
	if err != nil {
		slog.Error("config_invalid", "error", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel).With("service", "auditindexer", "env", cfg.AppEnv)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("auditindexer_failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Indexer, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := es.NewClient(ctx, es.Config{URL: cfg.ESURL, User: cfg.ESUser, Password: cfg.ESPassword}, log)
	if err != nil {
		return err
	}
	store := &audit.Store{ES: client, Index: cfg.AuditIndex}
	if err := store.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("ensure index %s: %w", cfg.AuditIndex, err)
	}

	consumer, err := mykafka.NewConsumer(cfg.KafkaBrokers, cfg.AuditTopic, groupID, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			log.Error("kafka_close_failed", "error", err)
		}
	}()

	log.Info("auditindexer_started", "topic", cfg.AuditTopic, "index", cfg.AuditIndex)
	err = consumer.Run(ctx, func(ctx context.Context, msg kafka.Message) error {
		err := store.HandleMessage(ctx, msg.Value)
		if errors.Is(err, audit.ErrInvalidEvent) {
			log.Warn("audit_event_skipped", "partition", msg.Partition, "offset", msg.Offset, "error", err)
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	log.Info("auditindexer_stopped")
	return nil
}

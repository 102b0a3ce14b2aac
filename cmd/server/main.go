package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Skotchmaster/sports_program/internal/audit"
	"github.com/Skotchmaster/sports_program/internal/config"
	"github.com/Skotchmaster/sports_program/internal/db"
	"github.com/Skotchmaster/sports_program/internal/es"
	"github.com/Skotchmaster/sports_program/internal/handlers"
	"github.com/Skotchmaster/sports_program/internal/logging"
	authmw "github.com/Skotchmaster/sports_program/internal/middleware/auth"
	"github.com/Skotchmaster/sports_program/internal/middleware/csrf"
	"github.com/Skotchmaster/sports_program/internal/migrate"
	"github.com/Skotchmaster/sports_program/internal/mykafka"
	"github.com/Skotchmaster/sports_program/internal/observability"
	"github.com/Skotchmaster/sports_program/internal/repo"
	"github.com/Skotchmaster/sports_program/internal/revocation"
	"github.com/Skotchmaster/sports_program/internal/service"
	"github.com/Skotchmaster/sports_program/internal/tokens"
	httpserver "github.com/Skotchmaster/sports_program/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_invalid", "error", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel).With("service", "sports_program", "env", cfg.AppEnv)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server_failed", "error", err)
		os.Exit(1)
	}
}

type closer struct {
	name string
	fn   func() error
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		log.Warn("sentry_init_failed", "error", err)
	}
	defer observability.FlushSentry()

	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].fn(); err != nil {
				log.Error("close_failed", "component", closers[i].name, "error", err)
			}
		}
	}()

	gdb, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	closers = append(closers, closer{"database", func() error {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}})

	registry, err := buildRegistry(ctx, cfg, gdb, log, &closers)
	if err != nil {
		return err
	}

	publisher, search, err := buildAudit(ctx, cfg, log, &closers)
	if err != nil {
		return err
	}

	accounts := &repo.GormRepo{DB: gdb}
	issuer := tokens.NewIssuer(cfg.JWTSecret, cfg.JWTTTL)
	svc := &service.AuthService{
		Repo:     accounts,
		Registry: registry,
		Issuer:   issuer,
		Policy:   cfg.LockoutPolicy(),
		Audit:    publisher,
	}
	if search != nil {
		svc.AuditSearch = search
	}

	if cfg.Bootstrap() {
		created, err := svc.EnsureBootstrapAdmin(ctx, cfg.BootstrapTeamName, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		log.Info("bootstrap_admin", "email", repo.NormalizeEmail(cfg.BootstrapAdminEmail), "team", cfg.BootstrapTeamName, "created", created)
	}

	csrfCfg := csrf.Config{
		CookieName:        cfg.CSRFCookieName,
		HeaderName:        cfg.CSRFHeaderName,
		Domain:            cfg.CookieDomain,
		Secure:            cfg.CookieSecure,
		SameSite:          cfg.CookieSameSite,
		MaxAge:            cfg.JWTTTL,
		EnforceSameOrigin: cfg.CSRFEnforceSameOrigin,
	}

	e := httpserver.New(&httpserver.Deps{
		Logger: log,
		Authenticator: &authmw.Authenticator{
			Verifier:   &tokens.Verifier{Issuer: issuer, Revoked: registry},
			Accounts:   accounts,
			CookieName: cfg.SessionCookieName,
		},
		CSRF: csrfCfg,
		AuthHandler: &handlers.AuthHandler{
			Service: svc,
			Cookie: handlers.SessionCookie{
				Name:     cfg.SessionCookieName,
				Domain:   cfg.CookieDomain,
				Secure:   cfg.CookieSecure,
				SameSite: cfg.CookieSameSite,
			},
			CSRF: csrfCfg,
		},
		AdminHandler:  &handlers.AdminHandler{Service: svc},
		HealthHandler: &handlers.HealthHandler{DB: gdb},
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http_listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.Info("shutting down")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http_shutdown_failed", "error", err)
	}

	log.Info("shutdown complete")
	return nil
}

func openDatabase(ctx context.Context, cfg *config.Config, log *slog.Logger) (*gorm.DB, error) {
	if cfg.MigrateOnStart && cfg.DBDriver == db.DriverPostgres {
		if err := migrate.Up(ctx, cfg.DatabaseURL); err != nil {
			return nil, err
		}
		log.Info("migrations_applied")
	}

	gdb, err := db.Open(ctx, db.Options{Driver: cfg.DBDriver, DSN: cfg.DatabaseURL, Quiet: cfg.AppEnv == "production"})
	if err != nil {
		return nil, err
	}

	if cfg.MigrateOnStart && cfg.DBDriver == db.DriverSQLite {
		if err := db.AutoMigrate(ctx, gdb); err != nil {
			return nil, err
		}
	}
	log.Info("database_ready", "driver", cfg.DBDriver)
	return gdb, nil
}

func buildRegistry(ctx context.Context, cfg *config.Config, gdb *gorm.DB, log *slog.Logger, closers *[]closer) (revocation.Registry, error) {
	if cfg.RevocationBackend == config.RevocationRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		*closers = append(*closers, closer{"redis", client.Close})
		log.Info("revocation_backend", "backend", "redis")
		return revocation.NewRedisRegistry(client, cfg.JWTTTL), nil
	}

	reg := revocation.NewGormRegistry(gdb)
	sweeper := &revocation.Sweeper{
		Purger:   reg,
		Interval: cfg.RevocationSweepInterval,
		Logger:   log.With("component", "revocation_sweeper"),
	}
	go sweeper.Run(ctx)
	log.Info("revocation_backend", "backend", "db", "sweep_interval", cfg.RevocationSweepInterval)
	return reg, nil
}

// buildAudit prefers Kafka, then a direct Elasticsearch index, then nothing.
// Search needs Elasticsearch whichever way events are delivered.
func buildAudit(ctx context.Context, cfg *config.Config, log *slog.Logger, closers *[]closer) (audit.Publisher, *audit.Store, error) {
	var store *audit.Store
	if cfg.ESURL != "" {
		client, err := es.NewClient(ctx, es.Config{URL: cfg.ESURL, User: cfg.ESUser, Password: cfg.ESPassword}, log)
		if err != nil {
			return nil, nil, err
		}
		store = &audit.Store{ES: client, Index: cfg.AuditIndex}
		if err := store.EnsureIndex(ctx); err != nil {
			return nil, nil, err
		}
	}

	var sink audit.Publisher
	switch {
	case len(cfg.KafkaBrokers) > 0:
		prod, err := mykafka.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			return nil, nil, err
		}
		*closers = append(*closers, closer{"kafka", prod.Close})
		sink = &audit.KafkaPublisher{Producer: prod, Topic: cfg.AuditTopic}
		log.Info("audit_sink", "sink", "kafka", "topic", cfg.AuditTopic)
	case store != nil:
		sink = store
		log.Info("audit_sink", "sink", "elasticsearch", "index", cfg.AuditIndex)
	default:
		log.Info("audit_sink", "sink", "none")
		return audit.Nop{}, nil, nil
	}

	async := audit.NewAsync(sink, 2, log.With("component", "audit"))
	*closers = append(*closers, closer{"audit", func() error { async.Close(); return nil }})
	return async, store, nil
}

package es

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/elastic/go-elasticsearch/v9"
)

type Config struct {
	URL      string
	User     string
	Password string
}

// NewClient builds a client and checks the cluster answers.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*elasticsearch.Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("elasticsearch: URL is empty")
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("es_url", cfg.URL)

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.User,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: create client: %w", err)
	}

	res, err := client.Info(client.Info.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: info: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		log.Error("elasticsearch_unavailable", "status", res.StatusCode, "body", string(body))
		return nil, fmt.Errorf("elasticsearch: info returned %s", res.Status())
	}

	log.Info("elasticsearch_connected")
	return client, nil
}

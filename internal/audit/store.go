package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v9"
)

var (
	ErrSearchDisabled = errors.New("audit search is not configured")
	// ErrInvalidEvent marks a message that will never index, however often it is retried.
	ErrInvalidEvent = errors.New("invalid audit event")
)

const indexMapping = `{
  "mappings": {
    "properties": {
      "id":         {"type": "keyword"},
      "type":       {"type": "keyword"},
      "account_id": {"type": "keyword"},
      "team_id":    {"type": "keyword"},
      "actor_id":   {"type": "keyword"},
      "email":      {"type": "keyword"},
      "ip":         {"type": "keyword"},
      "user_agent": {"type": "text"},
      "detail":     {"type": "keyword"},
      "at":         {"type": "date"}
    }
  }
}`

// Store keeps audit events in an Elasticsearch index, one document per
// event id, so redelivered events overwrite instead of duplicating.
type Store struct {
	ES    *elasticsearch.Client
	Index string
}

func (s *Store) EnsureIndex(ctx context.Context) error {
	res, err := s.ES.Indices.Exists([]string{s.Index}, s.ES.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("audit: index exists: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = s.ES.Indices.Create(s.Index,
		s.ES.Indices.Create.WithContext(ctx),
		s.ES.Indices.Create.WithBody(bytes.NewReader([]byte(indexMapping))),
	)
	if err != nil {
		return fmt.Errorf("audit: create index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusBadRequest {
		return fmt.Errorf("audit: create index: %s", res.Status())
	}
	return nil
}

func (s *Store) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("audit: marshal: %w", err)
	}

	res, err := s.ES.Index(s.Index, bytes.NewReader(body),
		s.ES.Index.WithContext(ctx),
		s.ES.Index.WithDocumentID(ev.ID),
	)
	if err != nil {
		return fmt.Errorf("audit: index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		return fmt.Errorf("audit: index returned %s: %s", res.Status(), msg)
	}
	return nil
}

// HandleMessage indexes one JSON-encoded event, as read from the audit topic.
func (s *Store) HandleMessage(ctx context.Context, value []byte) error {
	var ev Event
	if err := json.Unmarshal(value, &ev); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if ev.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	return s.Publish(ctx, ev)
}

// Search returns the account's events, newest first.
func (s *Store) Search(ctx context.Context, accountID string, from, size int) (int64, []Event, error) {
	body := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []any{
					map[string]any{"term": map[string]any{"account_id": accountID}},
				},
			},
		},
		"sort": []any{
			map[string]any{"at": map[string]any{"order": "desc"}},
		},
		"from": from,
		"size": size,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return 0, nil, fmt.Errorf("audit: encode query: %w", err)
	}

	res, err := s.ES.Search(
		s.ES.Search.WithContext(ctx),
		s.ES.Search.WithIndex(s.Index),
		s.ES.Search.WithBody(&buf),
	)
	if err != nil {
		return 0, nil, fmt.Errorf("audit: search: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return 0, []Event{}, nil
	}
	if res.IsError() {
		return 0, nil, fmt.Errorf("audit: search returned %s", res.Status())
	}

	var r struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source Event `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return 0, nil, fmt.Errorf("audit: decode hits: %w", err)
	}

	events := make([]Event, len(r.Hits.Hits))
	for i, hit := range r.Hits.Hits {
		events[i] = hit.Source
	}
	return r.Hits.Total.Value, events, nil
}

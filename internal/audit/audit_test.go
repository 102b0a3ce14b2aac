package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/sports_program/internal/audit"
	"github.com/Skotchmaster/sports_program/internal/audit/audittest"
)

func TestEvent_Stamp(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := audit.Event{Type: audit.Logout}.Stamp(now)
	assert.NotEmpty(t, ev.ID)
	assert.True(t, ev.At.Equal(now))

	kept := audit.Event{ID: "fixed", At: now.Add(-time.Hour)}.Stamp(now)
	assert.Equal(t, "fixed", kept.ID)
	assert.True(t, kept.At.Equal(now.Add(-time.Hour)))
}

func TestNop_DropsEvents(t *testing.T) {
	t.Parallel()
	assert.NoError(t, audit.Nop{}.Publish(context.Background(), audit.Event{}))
}

type fakeProducer struct {
	topic, key string
	event      any
}

func (f *fakeProducer) PublishEvent(_ context.Context, topic, key string, event any) error {
	f.topic, f.key, f.event = topic, key, event
	return nil
}

func TestKafkaPublisher_KeysByAccount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		ev      audit.Event
		wantKey string
	}{
		{name: "account id", ev: audit.Event{AccountID: "acc-1", Email: "a@x.io"}, wantKey: "acc-1"},
		{name: "unknown email", ev: audit.Event{Email: "ghost@x.io"}, wantKey: "ghost@x.io"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fp := &fakeProducer{}
			p := &audit.KafkaPublisher{Producer: fp, Topic: "auth_events"}

			require.NoError(t, p.Publish(context.Background(), tt.ev))
			assert.Equal(t, "auth_events", fp.topic)
			assert.Equal(t, tt.wantKey, fp.key)
			assert.Equal(t, tt.ev, fp.event)
		})
	}
}

func TestAsync_DeliversEverythingBeforeClose(t *testing.T) {
	t.Parallel()

	rec := &audittest.Recorder{}
	a := audit.NewAsync(rec, 3, nil)
	for i := 0; i < 50; i++ {
		require.NoError(t, a.Publish(context.Background(), audit.Event{Type: audit.LoginFailed}))
	}
	a.Close()
	a.Close()

	assert.Len(t, rec.Events(), 50)
}

func TestAsync_PublishErrorsAreSwallowed(t *testing.T) {
	t.Parallel()

	rec := &audittest.Recorder{Err: errors.New("broker gone")}
	a := audit.NewAsync(rec, 1, nil)
	assert.NoError(t, a.Publish(context.Background(), audit.Event{Type: audit.Logout}))
	a.Close()
	assert.Len(t, rec.Events(), 1)
}

type fakeES struct {
	mu       sync.Mutex
	requests []string
	bodies   []string
	search   string
}

func (f *fakeES) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.bodies = append(f.bodies, string(body))
	f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodHead:
		w.WriteHeader(http.StatusNotFound)
	case strings.HasSuffix(r.URL.Path, "/_search"):
		_, _ = io.WriteString(w, f.search)
	default:
		_, _ = io.WriteString(w, `{"acknowledged":true,"result":"created"}`)
	}
}

func newStore(t *testing.T, f *fakeES) *audit.Store {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return &audit.Store{ES: client, Index: "auth-audit"}
}

func TestStore_EnsureIndexCreatesMissingIndex(t *testing.T) {
	t.Parallel()

	f := &fakeES{}
	s := newStore(t, f)

	require.NoError(t, s.EnsureIndex(context.Background()))
	require.Len(t, f.requests, 2)
	assert.Equal(t, "HEAD /auth-audit", f.requests[0])
	assert.Equal(t, "PUT /auth-audit", f.requests[1])
	assert.Contains(t, f.bodies[1], `"account_id"`)
}

func TestStore_PublishIndexesByEventID(t *testing.T) {
	t.Parallel()

	f := &fakeES{}
	s := newStore(t, f)
	ev := audit.Event{ID: "ev-1", Type: audit.LoginFailed, AccountID: "acc-1", At: time.Now().UTC()}

	require.NoError(t, s.Publish(context.Background(), ev))
	require.Len(t, f.requests, 1)
	assert.Equal(t, "PUT /auth-audit/_doc/ev-1", f.requests[0])

	var got audit.Event
	require.NoError(t, json.Unmarshal([]byte(f.bodies[0]), &got))
	assert.Equal(t, ev.Type, got.Type)
	assert.Equal(t, ev.AccountID, got.AccountID)
}

func TestStore_HandleMessage(t *testing.T) {
	t.Parallel()

	f := &fakeES{}
	s := newStore(t, f)

	raw, err := json.Marshal(audit.Event{ID: "ev-2", Type: audit.Logout})
	require.NoError(t, err)
	require.NoError(t, s.HandleMessage(context.Background(), raw))
	assert.Equal(t, "PUT /auth-audit/_doc/ev-2", f.requests[0])

	assert.ErrorIs(t, s.HandleMessage(context.Background(), []byte("{")), audit.ErrInvalidEvent)
	assert.ErrorIs(t, s.HandleMessage(context.Background(), []byte(`{"type":"logout"}`)), audit.ErrInvalidEvent)
}

func TestStore_Search(t *testing.T) {
	t.Parallel()

	f := &fakeES{search: `{"hits":{"total":{"value":2},"hits":[
		{"_source":{"id":"b","type":"logout","account_id":"acc-1"}},
		{"_source":{"id":"a","type":"login_success","account_id":"acc-1"}}]}}`}
	s := newStore(t, f)

	total, events, err := s.Search(context.Background(), "acc-1", 0, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].ID)
	assert.Equal(t, audit.Logout, events[0].Type)

	assert.Equal(t, "POST /auth-audit/_search", f.requests[0])
	assert.Contains(t, f.bodies[0], `"account_id":"acc-1"`)
	assert.Contains(t, f.bodies[0], `"order":"desc"`)
}

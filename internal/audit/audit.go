// Package audit records security-relevant auth events. Delivery is
// best-effort: a lost event never fails the request that caused it.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	LoginSuccess      = "login_success"
	LoginFailed       = "login_failed"
	LoginLocked       = "login_locked"
	AccountLocked     = "account_locked"
	Logout            = "logout"
	PasswordChanged   = "password_changed"
	SessionsRevoked   = "sessions_revoked"
	AccountUnlocked   = "account_unlocked"
	AccountRegistered = "account_registered"
)

type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	AccountID string    `json:"account_id,omitempty"`
	TeamID    string    `json:"team_id,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Stamp fills ID and At when missing.
func (e Event) Stamp(now time.Time) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = now.UTC()
	}
	return e
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

type EventProducer interface {
	PublishEvent(ctx context.Context, topic, key string, event any) error
}

// KafkaPublisher keys events by account so one account's trail stays ordered.
type KafkaPublisher struct {
	Producer EventProducer
	Topic    string
}

func (k *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	key := ev.AccountID
	if key == "" {
		key = ev.Email
	}
	return k.Producer.PublishEvent(ctx, k.Topic, key, ev)
}

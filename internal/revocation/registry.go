// Package revocation is the shared record of dead sessions: single tokens
// revoked by jti and per-account cutoffs ("watermarks") that kill every
// token issued at or before them.
package revocation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Registry must make every write visible to all later reads from any
// process, so implementations sit on a shared store.
type Registry interface {
	RevokeToken(ctx context.Context, jti string, accountID uuid.UUID, expiresAt time.Time) error
	// RevokeAllForAccount moves the account's cutoff to at (whole seconds)
	// and returns the cutoff now in force. It never moves the cutoff back.
	RevokeAllForAccount(ctx context.Context, accountID uuid.UUID, at time.Time) (time.Time, error)
	IsRevoked(ctx context.Context, jti string, accountID uuid.UUID, issuedAt time.Time) (bool, error)
	// Watermark is the zero time when the account was never bulk-revoked.
	Watermark(ctx context.Context, accountID uuid.UUID) (time.Time, error)
}

// Purger is implemented by backends that need explicit garbage collection.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

func cutoff(at time.Time) time.Time {
	return at.UTC().Truncate(time.Second)
}

func revokedByWatermark(issuedAt, watermark time.Time) bool {
	return !watermark.IsZero() && !issuedAt.After(watermark)
}

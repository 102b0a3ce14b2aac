// Package lockout decides how a login attempt changes an account's
// failure counter and lock window. It has no I/O; callers persist the result.
package lockout

import (
	"time"
)

const (
	DefaultMaxFailedAttempts = 5
	DefaultDuration          = 15 * time.Minute
)

type Policy struct {
	MaxFailedAttempts int
	Duration          time.Duration
}

// State mirrors the lockout columns of an account row.
type State struct {
	FailedAttempts  int
	LockedUntil     *time.Time
	LastFailedLogin *time.Time
}

// IsLocked reports whether the lock window is still open at now.
func (s State) IsLocked(now time.Time) bool {
	return s.LockedUntil != nil && s.LockedUntil.After(now)
}

// RemainingMinutes rounds the rest of the lock window up to whole minutes.
// It is 0 when the account is not locked.
func (s State) RemainingMinutes(now time.Time) int {
	if !s.IsLocked(now) {
		return 0
	}
	left := s.LockedUntil.Sub(now)
	minutes := int(left / time.Minute)
	if left%time.Minute != 0 {
		minutes++
	}
	return minutes
}

// RecordAttempt returns the state after one attempt at now.
//
// A success clears everything. A failure against an open lock changes nothing.
// A failure after an expired lock starts a fresh count. Otherwise the counter
// grows and the lock closes once it reaches MaxFailedAttempts.
func (p Policy) RecordAttempt(s State, success bool, now time.Time) State {
	if success {
		return State{}
	}
	if s.IsLocked(now) {
		return s
	}

	next := s
	if s.LockedUntil != nil {
		next = State{}
	}

	next.FailedAttempts++
	failedAt := now
	next.LastFailedLogin = &failedAt

	if next.FailedAttempts >= p.threshold() {
		until := now.Add(p.duration())
		next.LockedUntil = &until
	}
	return next
}

// Unlock is the administrative reset.
func (p Policy) Unlock() State { return State{} }

func (p Policy) threshold() int {
	if p.MaxFailedAttempts <= 0 {
		return DefaultMaxFailedAttempts
	}
	return p.MaxFailedAttempts
}

func (p Policy) duration() time.Duration {
	if p.Duration <= 0 {
		return DefaultDuration
	}
	return p.Duration
}

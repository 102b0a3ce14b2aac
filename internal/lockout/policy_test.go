package lockout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var defaultPolicy = Policy{MaxFailedAttempts: DefaultMaxFailedAttempts, Duration: DefaultDuration}

func ptr(t time.Time) *time.Time { return &t }

func TestRecordAttempt_SuccessClearsEverything(t *testing.T) {
	t.Parallel()

	p := defaultPolicy
	s := State{FailedAttempts: 3, LastFailedLogin: ptr(t0.Add(-time.Minute))}

	got := p.RecordAttempt(s, true, t0)
	assert.Equal(t, State{}, got)
}

func TestRecordAttempt_CountsUpToThreshold(t *testing.T) {
	t.Parallel()

	p := Policy{MaxFailedAttempts: 5, Duration: 15 * time.Minute}
	var s State
	for i := 1; i <= 4; i++ {
		now := t0.Add(time.Duration(i) * time.Second)
		s = p.RecordAttempt(s, false, now)
		require.Equal(t, i, s.FailedAttempts)
		require.Nil(t, s.LockedUntil)
		require.NotNil(t, s.LastFailedLogin)
		require.True(t, s.LastFailedLogin.Equal(now))
	}

	fifth := t0.Add(5 * time.Second)
	s = p.RecordAttempt(s, false, fifth)
	assert.Equal(t, 5, s.FailedAttempts)
	require.NotNil(t, s.LockedUntil)
	assert.True(t, s.LockedUntil.Equal(fifth.Add(15*time.Minute)))
	assert.True(t, s.IsLocked(fifth))
}

func TestRecordAttempt_FailureWhileLockedChangesNothing(t *testing.T) {
	t.Parallel()

	p := defaultPolicy
	until := t0.Add(10 * time.Minute)
	s := State{FailedAttempts: 5, LockedUntil: &until, LastFailedLogin: ptr(t0.Add(-5 * time.Minute))}

	for i := 0; i < 3; i++ {
		got := p.RecordAttempt(s, false, t0.Add(time.Duration(i)*time.Minute))
		assert.Equal(t, s, got)
	}
}

func TestRecordAttempt_FailureAfterExpiredLockRestartsCount(t *testing.T) {
	t.Parallel()

	p := defaultPolicy
	until := t0.Add(-time.Second)
	s := State{FailedAttempts: 5, LockedUntil: &until, LastFailedLogin: ptr(t0.Add(-15 * time.Minute))}

	got := p.RecordAttempt(s, false, t0)
	assert.Equal(t, 1, got.FailedAttempts)
	assert.Nil(t, got.LockedUntil)
	require.NotNil(t, got.LastFailedLogin)
	assert.True(t, got.LastFailedLogin.Equal(t0))
}

func TestRecordAttempt_ZeroPolicyFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	var p Policy
	s := State{FailedAttempts: DefaultMaxFailedAttempts - 1}

	got := p.RecordAttempt(s, false, t0)
	require.NotNil(t, got.LockedUntil)
	assert.True(t, got.LockedUntil.Equal(t0.Add(DefaultDuration)))
}

func TestState_IsLocked(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		state State
		want  bool
	}{
		{name: "never locked", state: State{}, want: false},
		{name: "future", state: State{LockedUntil: ptr(t0.Add(time.Second))}, want: true},
		{name: "exactly now", state: State{LockedUntil: ptr(t0)}, want: false},
		{name: "past", state: State{LockedUntil: ptr(t0.Add(-time.Second))}, want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.state.IsLocked(t0))
		})
	}
}

func TestState_RemainingMinutes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		left time.Duration
		want int
	}{
		{name: "full window", left: 15 * time.Minute, want: 15},
		{name: "partial rounds up", left: 14*time.Minute + time.Second, want: 15},
		{name: "under a minute", left: 200 * time.Millisecond, want: 1},
		{name: "exact minute", left: time.Minute, want: 1},
		{name: "expired", left: -time.Minute, want: 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := State{LockedUntil: ptr(t0.Add(tt.left))}
			assert.Equal(t, tt.want, s.RemainingMinutes(t0))
		})
	}
}

func TestUnlock(t *testing.T) {
	t.Parallel()
	assert.Equal(t, State{}, defaultPolicy.Unlock())
}

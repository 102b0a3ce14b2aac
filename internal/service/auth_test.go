package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/sports_program/internal/audit"
	"github.com/Skotchmaster/sports_program/internal/audit/audittest"
	"github.com/Skotchmaster/sports_program/internal/db/dbtest"
	"github.com/Skotchmaster/sports_program/internal/hash"
	"github.com/Skotchmaster/sports_program/internal/lockout"
	"github.com/Skotchmaster/sports_program/internal/models"
	"github.com/Skotchmaster/sports_program/internal/repo"
	"github.com/Skotchmaster/sports_program/internal/revocation"
	"github.com/Skotchmaster/sports_program/internal/tokens"
)

const password = "Correct1horse"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc      *AuthService
	verifier *tokens.Verifier
	repo     *repo.GormRepo
	clock    *clock
	audit    *audittest.Recorder
	team     *models.Team
	user     *models.Account
	admin    *models.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	gdb := dbtest.New(t)
	r := &repo.GormRepo{DB: gdb}
	clk := &clock{t: time.Now().UTC().Truncate(time.Second)}
	iss := tokens.NewIssuer([]byte("0123456789abcdef0123456789abcdef"), time.Hour).WithClock(clk.Now)
	reg := revocation.NewGormRegistry(gdb)
	rec := &audittest.Recorder{}

	svc := &AuthService{
		Repo:     r,
		Registry: reg,
		Issuer:   iss,
		Policy:   lockout.Policy{MaxFailedAttempts: 5, Duration: 15 * time.Minute},
		Audit:    rec,
		Now:      clk.Now,
	}

	team, err := r.EnsureTeam(ctx, "Falcons")
	require.NoError(t, err)

	f := &fixture{
		svc:      svc,
		verifier: &tokens.Verifier{Issuer: iss, Revoked: reg},
		repo:     r,
		clock:    clk,
		audit:    rec,
		team:     team,
	}
	f.user = f.seed(t, "coach@example.com", models.RoleUser, team)
	f.admin = f.seed(t, "admin@example.com", models.RoleAdmin, team)
	return f
}

func (f *fixture) seed(t *testing.T, email, role string, team *models.Team) *models.Account {
	t.Helper()
	h, err := hash.HashPassword(password)
	require.NoError(t, err)
	acc := &models.Account{Email: email, PasswordHash: h, FirstName: "Sam", LastName: "Reed", Role: role, TeamID: team.ID}
	require.NoError(t, f.repo.Create(context.Background(), acc))
	acc.Team = *team
	return acc
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *models.Account {
	t.Helper()
	acc, err := f.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return acc
}

func (f *fixture) login(t *testing.T) *LoginResult {
	t.Helper()
	res, err := f.svc.Login(context.Background(), f.user.Email, password)
	require.NoError(t, err)
	return res
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Login(context.Background(), "COACH@example.com", password)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, res.Account.ID)
	assert.Equal(t, "Falcons", res.Account.Team.Name)
	require.NotNil(t, res.Token)

	sess, err := f.verifier.Verify(context.Background(), res.Token.Token)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, sess.AccountID)
	assert.Equal(t, []string{audit.LoginSuccess}, f.audit.Types())
}

// Five wrong passwords lock the account, but the fifth call itself still
// answers invalid credentials; the lock shows from the sixth call on.
func TestLogin_LockoutScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		_, err := f.svc.Login(ctx, f.user.Email, "wrong")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	acc := f.reload(t, f.user.ID)
	assert.Equal(t, 4, acc.FailedLoginAttempts)
	assert.Nil(t, acc.LockedUntil)

	_, err := f.svc.Login(ctx, f.user.Email, "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	acc = f.reload(t, f.user.ID)
	assert.Equal(t, 5, acc.FailedLoginAttempts)
	require.NotNil(t, acc.LockedUntil)
	assert.WithinDuration(t, f.clock.Now().Add(15*time.Minute), *acc.LockedUntil, 2*time.Second)

	f.clock.Advance(30 * time.Second)
	_, err = f.svc.Login(ctx, f.user.Email, password)
	var locked *LockedError
	require.ErrorAs(t, err, &locked)
	assert.GreaterOrEqual(t, locked.RemainingMinutes, 1)
	assert.LessOrEqual(t, locked.RemainingMinutes, 15)

	// more failures while locked change nothing
	_, err = f.svc.Login(ctx, f.user.Email, "wrong")
	require.ErrorAs(t, err, &locked)
	acc = f.reload(t, f.user.ID)
	assert.Equal(t, 5, acc.FailedLoginAttempts)

	types := f.audit.Types()
	assert.Contains(t, types, audit.AccountLocked)
	assert.Contains(t, types, audit.LoginLocked)
}

func TestLogin_LockExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = f.svc.Login(ctx, f.user.Email, "wrong")
	}
	f.clock.Advance(15*time.Minute + time.Second)

	res, err := f.svc.Login(ctx, f.user.Email, password)
	require.NoError(t, err)
	assert.Zero(t, res.Account.FailedLoginAttempts)

	acc := f.reload(t, f.user.ID)
	assert.Zero(t, acc.FailedLoginAttempts)
	assert.Nil(t, acc.LockedUntil)
	assert.Nil(t, acc.LastFailedLogin)
}

func TestLogin_FailuresDoNotTouchOtherAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, _ = f.svc.Login(ctx, f.user.Email, "wrong")
	}

	admin := f.reload(t, f.admin.ID)
	assert.Zero(t, admin.FailedLoginAttempts)
	assert.Nil(t, admin.LockedUntil)
	assert.Nil(t, admin.LastFailedLogin)
}

func TestLogin_UnknownEmailLooksLikeWrongPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, errUnknown := f.svc.Login(ctx, "ghost@example.com", password)
	_, errWrong := f.svc.Login(ctx, f.user.Email, "wrong")

	assert.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	assert.ErrorIs(t, errWrong, ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())

	var n int64
	require.NoError(t, f.repo.DB.Model(&models.Account{}).Count(&n).Error)
	assert.EqualValues(t, 2, n)
}

func TestLogin_ConcurrentFailuresAreAllCounted(t *testing.T) {
	f := newFixture(t)
	f.svc.Policy.MaxFailedAttempts = 100

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Login(context.Background(), f.user.Email, "wrong")
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, f.reload(t, f.user.ID).FailedLoginAttempts)
}

func TestLogout_RevokesOnlyThatSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.login(t)
	b := f.login(t)

	sess, err := f.verifier.Verify(ctx, a.Token.Token)
	require.NoError(t, err)
	require.NoError(t, f.svc.Logout(ctx, sess))

	_, err = f.verifier.Verify(ctx, a.Token.Token)
	assert.ErrorIs(t, err, tokens.ErrRevoked)

	_, err = f.verifier.Verify(ctx, b.Token.Token)
	assert.NoError(t, err)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := f.login(t)
	other := f.login(t)
	sess, err := f.verifier.Verify(ctx, old.Token.Token)
	require.NoError(t, err)

	_, err = f.svc.ChangePassword(ctx, sess, "not-it", "NewPass123")
	require.ErrorIs(t, err, ErrWrongPassword)

	fresh, err := f.svc.ChangePassword(ctx, sess, password, "NewPass123")
	require.NoError(t, err)
	assert.NotEqual(t, old.Token.Token, fresh.Token)

	_, err = f.verifier.Verify(ctx, old.Token.Token)
	assert.ErrorIs(t, err, tokens.ErrRevoked)
	_, err = f.verifier.Verify(ctx, other.Token.Token)
	assert.ErrorIs(t, err, tokens.ErrRevoked)
	_, err = f.verifier.Verify(ctx, fresh.Token)
	assert.NoError(t, err)

	_, err = f.svc.Login(ctx, f.user.Email, password)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	res, err := f.svc.Login(ctx, f.user.Email, "NewPass123")
	require.NoError(t, err)
	_, err = f.verifier.Verify(ctx, res.Token.Token)
	assert.NoError(t, err, "a login right after the cutoff must be valid")
}

type failingRevokeAll struct {
	revocation.Registry
}

func (failingRevokeAll) RevokeAllForAccount(context.Context, uuid.UUID, time.Time) (time.Time, error) {
	return time.Time{}, errors.New("store unreachable")
}

func TestChangePassword_RevocationFailureKeepsOldPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := f.login(t)
	sess, err := f.verifier.Verify(ctx, old.Token.Token)
	require.NoError(t, err)

	f.svc.Registry = failingRevokeAll{Registry: f.svc.Registry}
	_, err = f.svc.ChangePassword(ctx, sess, password, "NewPass123")
	require.Error(t, err)
	assert.NotContains(t, f.audit.Types(), audit.PasswordChanged)

	assert.True(t, hash.CheckPassword(f.reload(t, f.user.ID).PasswordHash, password))
	assert.False(t, hash.CheckPassword(f.reload(t, f.user.ID).PasswordHash, "NewPass123"))
}

func TestRevokeAllSessions(t *testing.T) {
	tests := []struct {
		name        string
		keepCurrent bool
	}{
		{name: "drop everything", keepCurrent: false},
		{name: "keep current", keepCurrent: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			current := f.login(t)
			other := f.login(t)
			sess, err := f.verifier.Verify(ctx, current.Token.Token)
			require.NoError(t, err)

			replacement, err := f.svc.RevokeAllSessions(ctx, sess, tt.keepCurrent)
			require.NoError(t, err)

			_, err = f.verifier.Verify(ctx, current.Token.Token)
			assert.ErrorIs(t, err, tokens.ErrRevoked)
			_, err = f.verifier.Verify(ctx, other.Token.Token)
			assert.ErrorIs(t, err, tokens.ErrRevoked)

			if !tt.keepCurrent {
				assert.Nil(t, replacement)
				return
			}
			require.NotNil(t, replacement)
			assert.NotEqual(t, current.Token.Token, replacement.Token)
			_, err = f.verifier.Verify(ctx, replacement.Token)
			assert.NoError(t, err)
		})
	}
}

func TestUnlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = f.svc.Login(ctx, f.user.Email, "wrong")
	}

	res, err := f.svc.Unlock(ctx, f.admin, f.user.ID)
	require.NoError(t, err)
	assert.True(t, res.WasLocked)
	assert.Equal(t, 5, res.PreviousFailedAttempts)

	_, err = f.svc.Login(ctx, f.user.Email, password)
	require.NoError(t, err)

	res, err = f.svc.Unlock(ctx, f.admin, f.user.ID)
	require.NoError(t, err)
	assert.False(t, res.WasLocked)
	assert.Zero(t, res.PreviousFailedAttempts)

	_, err = f.svc.Unlock(ctx, f.admin, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, f.audit.Types(), audit.AccountUnlocked)
}

func TestLockoutStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.svc.LockoutStatus(ctx, f.admin, f.user.ID)
	require.NoError(t, err)
	assert.False(t, st.IsLocked)
	assert.Zero(t, st.RemainingLockoutMinutes)

	for i := 0; i < 5; i++ {
		_, _ = f.svc.Login(ctx, f.user.Email, "wrong")
	}
	f.clock.Advance(90 * time.Second)

	st, err = f.svc.LockoutStatus(ctx, f.admin, f.user.ID)
	require.NoError(t, err)
	assert.True(t, st.IsLocked)
	assert.Equal(t, 5, st.FailedLoginAttempts)
	assert.Equal(t, 14, st.RemainingLockoutMinutes)
	assert.NotNil(t, st.LockedUntil)
	assert.NotNil(t, st.LastFailedLogin)
}

func TestAdminOperationsStayInsideTheTeam(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rival, err := f.repo.EnsureTeam(ctx, "Hornets")
	require.NoError(t, err)
	stranger := f.seed(t, "stranger@example.com", models.RoleUser, rival)

	_, err = f.svc.Unlock(ctx, f.admin, stranger.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.LockoutStatus(ctx, f.admin, stranger.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acc, err := f.svc.Register(ctx, f.admin, RegisterInput{
		Email: "New@Example.com", Password: "Rookie1234", FirstName: "Ria", LastName: "Stone",
	})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", acc.Email)
	assert.Equal(t, models.RoleUser, acc.Role)
	assert.Equal(t, f.team.ID, acc.TeamID)
	assert.Equal(t, "Falcons", acc.Team.Name)

	_, err = f.svc.Login(ctx, "new@example.com", "Rookie1234")
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, f.admin, RegisterInput{Email: "new@example.com", Password: "Rookie1234"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestEnsureBootstrapAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.EnsureBootstrapAdmin(ctx, "Owls", "boss@example.com", "Boss12345")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = f.svc.EnsureBootstrapAdmin(ctx, "Owls", "boss@example.com", "Other1234")
	require.NoError(t, err)
	assert.False(t, created)

	acc, err := f.repo.FindByEmail(ctx, "boss@example.com")
	require.NoError(t, err)
	assert.True(t, acc.IsAdmin())
	assert.Equal(t, "Owls", acc.Team.Name)
	assert.True(t, hash.CheckPassword(acc.PasswordHash, "Boss12345"))
}

type stubSearch struct {
	gotAccount string
}

func (s *stubSearch) Search(_ context.Context, accountID string, _, _ int) (int64, []audit.Event, error) {
	s.gotAccount = accountID
	return 1, []audit.Event{{ID: "e1", Type: audit.Logout, AccountID: accountID}}, nil
}

func TestAuditTrail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.AuditTrail(ctx, f.admin, f.user.ID, 0, 10)
	assert.ErrorIs(t, err, audit.ErrSearchDisabled)

	search := &stubSearch{}
	f.svc.AuditSearch = search
	total, events, err := f.svc.AuditTrail(ctx, f.admin, f.user.ID, 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, events, 1)
	assert.Equal(t, f.user.ID.String(), search.gotAccount)

	_, _, err = f.svc.AuditTrail(ctx, f.admin, uuid.New(), 0, 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuditFailureNeverFailsTheRequest(t *testing.T) {
	f := newFixture(t)
	f.audit.Err = errors.New("broker down")

	_, err := f.svc.Login(context.Background(), f.user.Email, password)
	assert.NoError(t, err)
}

func TestAuditEventsCarryClientInfo(t *testing.T) {
	f := newFixture(t)
	ctx := audit.WithClient(context.Background(), audit.Client{IP: "10.0.0.7", UserAgent: "ua/1"})

	_, err := f.svc.Login(ctx, f.user.Email, password)
	require.NoError(t, err)

	evs := f.audit.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, "10.0.0.7", evs[0].IP)
	assert.Equal(t, "ua/1", evs[0].UserAgent)
	assert.NotEmpty(t, evs[0].ID)
	assert.Equal(t, f.user.ID.String(), evs[0].AccountID)
}

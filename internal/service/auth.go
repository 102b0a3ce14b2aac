package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Skotchmaster/sports_program/internal/audit"
	"github.com/Skotchmaster/sports_program/internal/hash"
	"github.com/Skotchmaster/sports_program/internal/lockout"
	"github.com/Skotchmaster/sports_program/internal/logging"
	"github.com/Skotchmaster/sports_program/internal/models"
	"github.com/Skotchmaster/sports_program/internal/repo"
	"github.com/Skotchmaster/sports_program/internal/revocation"
	"github.com/Skotchmaster/sports_program/internal/tokens"
)

type AuditSearcher interface {
	Search(ctx context.Context, accountID string, from, size int) (int64, []audit.Event, error)
}

type AuthService struct {
	Repo     *repo.GormRepo
	Registry revocation.Registry
	Issuer   *tokens.Issuer
	Policy   lockout.Policy
	// Audit receives events on a best-effort basis; nil disables them.
	Audit audit.Publisher
	// AuditSearch backs the admin audit endpoint; nil means not configured.
	AuditSearch AuditSearcher
	Now         func() time.Time
}

type LoginResult struct {
	Account *models.Account
	Token   *tokens.Issued
}

type UnlockResult struct {
	WasLocked              bool
	PreviousFailedAttempts int
}

type LockoutStatus struct {
	IsLocked                bool
	FailedLoginAttempts     int
	LockedUntil             *time.Time
	RemainingLockoutMinutes int
	LastFailedLogin         *time.Time
}

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Login checks the lock before the password, so a locked account answers
// "locked" whatever password was sent.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login")
	now := s.now()

	acc, err := s.Repo.FindByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		hash.BurnCompare(password)
		l.Warn("login_failed", "status", 401, "reason", "unknown email")
		s.emit(ctx, audit.Event{Type: audit.LoginFailed, Email: repo.NormalizeEmail(email), Detail: "unknown_email"})
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	l = l.With("account_id", acc.ID)

	if st := repo.StateOf(acc); st.IsLocked(now) {
		return nil, s.locked(ctx, l, acc, st, now)
	}

	ok := hash.CheckPassword(acc.PasswordHash, password)
	before, after, err := s.Repo.ApplyLockout(ctx, acc.ID, func(cur lockout.State) lockout.State {
		if cur.IsLocked(now) {
			return cur
		}
		return s.Policy.RecordAttempt(cur, ok, now)
	})
	if err != nil {
		return nil, fmt.Errorf("record login attempt: %w", err)
	}
	// a concurrent attempt may have closed the lock while we compared
	if before.IsLocked(now) {
		return nil, s.locked(ctx, l, acc, before, now)
	}

	if !ok {
		l.Warn("login_failed", "status", 401, "reason", "wrong password", "failed_attempts", after.FailedAttempts)
		s.emit(ctx, audit.Event{Type: audit.LoginFailed, AccountID: acc.ID.String(), TeamID: acc.TeamID.String(), Detail: "wrong_password"})
		if after.IsLocked(now) {
			l.Warn("account_locked", "locked_until", after.LockedUntil)
			s.emit(ctx, audit.Event{Type: audit.AccountLocked, AccountID: acc.ID.String(), TeamID: acc.TeamID.String()})
		}
		return nil, ErrInvalidCredentials
	}

	wm, err := s.Registry.Watermark(ctx, acc.ID)
	if err != nil {
		return nil, fmt.Errorf("load watermark: %w", err)
	}
	issued, err := s.Issuer.Issue(acc.ID, wm)
	if err != nil {
		return nil, err
	}

	acc.FailedLoginAttempts = after.FailedAttempts
	acc.LockedUntil = after.LockedUntil
	acc.LastFailedLogin = after.LastFailedLogin

	l.Info("login_success")
	s.emit(ctx, audit.Event{Type: audit.LoginSuccess, AccountID: acc.ID.String(), TeamID: acc.TeamID.String()})
	return &LoginResult{Account: acc, Token: issued}, nil
}

func (s *AuthService) locked(ctx context.Context, l *slog.Logger, acc *models.Account, st lockout.State, now time.Time) error {
	mins := st.RemainingMinutes(now)
	l.Warn("login_locked", "status", 423, "remaining_minutes", mins)
	s.emit(ctx, audit.Event{Type: audit.LoginLocked, AccountID: acc.ID.String(), TeamID: acc.TeamID.String()})
	return &LockedError{Until: *st.LockedUntil, RemainingMinutes: mins}
}

// Logout kills exactly the presented session.
func (s *AuthService) Logout(ctx context.Context, sess *tokens.Session) error {
	if err := s.Registry.RevokeToken(ctx, sess.JTI, sess.AccountID, sess.ExpiresAt); err != nil {
		return err
	}
	logging.FromContext(ctx).Info("logout_success", "account_id", sess.AccountID)
	s.emit(ctx, audit.Event{Type: audit.Logout, AccountID: sess.AccountID.String()})
	return nil
}

// ChangePassword revokes every session of the account, the caller's
// included, and hands the caller a fresh token dated after the cutoff.
func (s *AuthService) ChangePassword(ctx context.Context, sess *tokens.Session, current, next string) (*tokens.Issued, error) {
	l := logging.FromContext(ctx).With("svc", "auth.change_password", "account_id", sess.AccountID)

	acc, err := s.Repo.FindByID(ctx, sess.AccountID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !hash.CheckPassword(acc.PasswordHash, current) {
		l.Warn("password_change_failed", "status", 400, "reason", "wrong current password")
		return nil, ErrWrongPassword
	}

	pwHash, err := hash.HashPassword(next)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	// sessions die before the new hash lands, so a failure in between costs
	// a re-login and never leaves old sessions alive under the new password
	now := s.now()
	cut, err := s.Registry.RevokeAllForAccount(ctx, acc.ID, now)
	if err != nil {
		return nil, fmt.Errorf("revoke sessions: %w", err)
	}
	if err := s.Repo.UpdatePassword(ctx, acc.ID, pwHash, now); err != nil {
		return nil, err
	}
	issued, err := s.Issuer.Issue(acc.ID, cut)
	if err != nil {
		return nil, err
	}

	l.Info("password_changed")
	s.emit(ctx, audit.Event{Type: audit.PasswordChanged, AccountID: acc.ID.String(), TeamID: acc.TeamID.String()})
	return issued, nil
}

// RevokeAllSessions bumps the account's cutoff. With keepCurrent the caller
// gets a replacement token; the token it presented dies like the rest.
func (s *AuthService) RevokeAllSessions(ctx context.Context, sess *tokens.Session, keepCurrent bool) (*tokens.Issued, error) {
	cut, err := s.Registry.RevokeAllForAccount(ctx, sess.AccountID, s.now())
	if err != nil {
		return nil, err
	}

	var issued *tokens.Issued
	if keepCurrent {
		issued, err = s.Issuer.Issue(sess.AccountID, cut)
		if err != nil {
			return nil, err
		}
	}

	logging.FromContext(ctx).Info("sessions_revoked", "account_id", sess.AccountID, "keep_current", keepCurrent)
	s.emit(ctx, audit.Event{Type: audit.SessionsRevoked, AccountID: sess.AccountID.String(), Detail: fmt.Sprintf("keep_current=%t", keepCurrent)})
	return issued, nil
}

func (s *AuthService) Unlock(ctx context.Context, admin *models.Account, target uuid.UUID) (*UnlockResult, error) {
	acc, err := s.teamMember(ctx, admin, target)
	if err != nil {
		return nil, err
	}

	before, _, err := s.Repo.ApplyLockout(ctx, acc.ID, func(lockout.State) lockout.State { return s.Policy.Unlock() })
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	res := &UnlockResult{WasLocked: before.IsLocked(s.now()), PreviousFailedAttempts: before.FailedAttempts}
	logging.FromContext(ctx).Info("account_unlocked", "account_id", acc.ID, "admin_id", admin.ID,
		"was_locked", res.WasLocked, "previous_failed_attempts", res.PreviousFailedAttempts)
	s.emit(ctx, audit.Event{
		Type:      audit.AccountUnlocked,
		AccountID: acc.ID.String(),
		TeamID:    acc.TeamID.String(),
		ActorID:   admin.ID.String(),
		Detail:    fmt.Sprintf("was_locked=%t previous_failed_attempts=%d", res.WasLocked, res.PreviousFailedAttempts),
	})
	return res, nil
}

func (s *AuthService) LockoutStatus(ctx context.Context, admin *models.Account, target uuid.UUID) (*LockoutStatus, error) {
	acc, err := s.teamMember(ctx, admin, target)
	if err != nil {
		return nil, err
	}

	now := s.now()
	st := repo.StateOf(acc)
	return &LockoutStatus{
		IsLocked:                st.IsLocked(now),
		FailedLoginAttempts:     st.FailedAttempts,
		LockedUntil:             st.LockedUntil,
		RemainingLockoutMinutes: st.RemainingMinutes(now),
		LastFailedLogin:         st.LastFailedLogin,
	}, nil
}

// Register creates an account in the admin's own team.
func (s *AuthService) Register(ctx context.Context, admin *models.Account, in RegisterInput) (*models.Account, error) {
	pwHash, err := hash.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	role := in.Role
	if role == "" {
		role = models.RoleUser
	}

	acc := &models.Account{
		Email:        in.Email,
		PasswordHash: pwHash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         role,
		TeamID:       admin.TeamID,
	}
	if err := s.Repo.Create(ctx, acc); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	acc.Team = admin.Team

	logging.FromContext(ctx).Info("account_registered", "account_id", acc.ID, "admin_id", admin.ID, "role", role)
	s.emit(ctx, audit.Event{Type: audit.AccountRegistered, AccountID: acc.ID.String(), TeamID: acc.TeamID.String(), ActorID: admin.ID.String()})
	return acc, nil
}

// AuditTrail lists the target's audit events, newest first.
func (s *AuthService) AuditTrail(ctx context.Context, admin *models.Account, target uuid.UUID, from, size int) (int64, []audit.Event, error) {
	if s.AuditSearch == nil {
		return 0, nil, audit.ErrSearchDisabled
	}
	acc, err := s.teamMember(ctx, admin, target)
	if err != nil {
		return 0, nil, err
	}
	return s.AuditSearch.Search(ctx, acc.ID.String(), from, size)
}

// EnsureBootstrapAdmin makes sure the team and an admin account exist. An
// existing account with that email is left untouched.
func (s *AuthService) EnsureBootstrapAdmin(ctx context.Context, teamName, email, password string) (bool, error) {
	team, err := s.Repo.EnsureTeam(ctx, teamName)
	if err != nil {
		return false, err
	}
	if _, err := s.Repo.FindByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return false, err
	}

	pwHash, err := hash.HashPassword(password)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}
	err = s.Repo.Create(ctx, &models.Account{
		Email:        email,
		PasswordHash: pwHash,
		FirstName:    "Admin",
		Role:         models.RoleAdmin,
		TeamID:       team.ID,
	})
	if errors.Is(err, repo.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// teamMember hides accounts outside the admin's team behind ErrNotFound.
func (s *AuthService) teamMember(ctx context.Context, admin *models.Account, target uuid.UUID) (*models.Account, error) {
	acc, err := s.Repo.FindInTeam(ctx, target, admin.TeamID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotFound
	}
	return acc, err
}

func (s *AuthService) emit(ctx context.Context, ev audit.Event) {
	if s.Audit == nil {
		return
	}
	client := audit.ClientFrom(ctx)
	ev.IP, ev.UserAgent = client.IP, client.UserAgent
	ev = ev.Stamp(s.now())

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), audit.DefaultTimeout)
	defer cancel()
	if err := s.Audit.Publish(pctx, ev); err != nil {
		logging.FromContext(ctx).Warn("audit_publish_failed", "type", ev.Type, "error", err)
	}
}

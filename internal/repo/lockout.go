package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Skotchmaster/sports_program/internal/lockout"
	"github.com/Skotchmaster/sports_program/internal/models"
)

const maxCASAttempts = 16

var lockoutColumns = []string{"id", "failed_login_attempts", "locked_until", "last_failed_login", "lockout_version"}

func StateOf(acc *models.Account) lockout.State {
	return lockout.State{
		FailedAttempts:  acc.FailedLoginAttempts,
		LockedUntil:     acc.LockedUntil,
		LastFailedLogin: acc.LastFailedLogin,
	}
}

// ApplyLockout reads the account's lockout fields, asks next for the new
// state and writes it only if nobody else wrote in between, retrying on a
// lost race. Concurrent attempts on one account therefore never lose an
// increment. It returns the state next saw and the state now stored.
func (r *GormRepo) ApplyLockout(ctx context.Context, id uuid.UUID, next func(lockout.State) lockout.State) (before, after lockout.State, err error) {
	for i := 0; i < maxCASAttempts; i++ {
		var cur models.Account
		err := r.DB.WithContext(ctx).Select(lockoutColumns).Where("id = ?", id).Take(&cur).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return lockout.State{}, lockout.State{}, ErrNotFound
		}
		if err != nil {
			return lockout.State{}, lockout.State{}, fmt.Errorf("load lockout state: %w", err)
		}

		before = StateOf(&cur)
		after = next(before)
		if sameState(before, after) {
			return before, after, nil
		}

		res := r.DB.WithContext(ctx).Model(&models.Account{}).
			Where("id = ? AND lockout_version = ?", id, cur.LockoutVersion).
			Updates(map[string]any{
				"failed_login_attempts": after.FailedAttempts,
				"locked_until":          after.LockedUntil,
				"last_failed_login":     after.LastFailedLogin,
				"lockout_version":       gorm.Expr("lockout_version + 1"),
			})
		if res.Error != nil {
			return lockout.State{}, lockout.State{}, fmt.Errorf("store lockout state: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return before, after, nil
		}
	}
	return lockout.State{}, lockout.State{}, ErrContention
}

func (r *GormRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string, at time.Time) error {
	res := r.DB.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"password_hash":       passwordHash,
			"password_changed_at": at.UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("update password: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func sameState(a, b lockout.State) bool {
	return a.FailedAttempts == b.FailedAttempts &&
		sameTime(a.LockedUntil, b.LockedUntil) &&
		sameTime(a.LastFailedLogin, b.LastFailedLogin)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

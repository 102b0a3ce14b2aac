package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Skotchmaster/sports_program/internal/models"
)

type GormRegistry struct {
	DB *gorm.DB
}

func NewGormRegistry(db *gorm.DB) *GormRegistry {
	return &GormRegistry{DB: db}
}

func (r *GormRegistry) RevokeToken(ctx context.Context, jti string, accountID uuid.UUID, expiresAt time.Time) error {
	row := models.RevokedToken{
		JTI:       jti,
		AccountID: accountID,
		RevokedAt: time.Now().UTC(),
		ExpiresAt: expiresAt.UTC(),
	}
	err := r.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (r *GormRegistry) RevokeAllForAccount(ctx context.Context, accountID uuid.UUID, at time.Time) (time.Time, error) {
	cut := cutoff(at)

	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur models.AccountWatermark
		err := tx.Where("account_id = ?", accountID).Take(&cur).Error
		switch {
		case err == nil:
			if !cur.RevokeBefore.Before(cut) {
				cut = cur.RevokeBefore.UTC()
				return nil
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return err
		}

		row := models.AccountWatermark{AccountID: accountID, RevokeBefore: cut}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"revoke_before", "updated_at"}),
		}).Create(&row).Error
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("revoke all sessions: %w", err)
	}
	return cut, nil
}

func (r *GormRegistry) IsRevoked(ctx context.Context, jti string, accountID uuid.UUID, issuedAt time.Time) (bool, error) {
	wm, err := r.Watermark(ctx, accountID)
	if err != nil {
		return false, err
	}
	if revokedByWatermark(issuedAt, wm) {
		return true, nil
	}

	var n int64
	if err := r.DB.WithContext(ctx).Model(&models.RevokedToken{}).Where("jti = ?", jti).Count(&n).Error; err != nil {
		return false, fmt.Errorf("lookup revoked token: %w", err)
	}
	return n > 0, nil
}

func (r *GormRegistry) Watermark(ctx context.Context, accountID uuid.UUID) (time.Time, error) {
	var wm models.AccountWatermark
	err := r.DB.WithContext(ctx).Where("account_id = ?", accountID).Take(&wm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("lookup watermark: %w", err)
	}
	return wm.RevokeBefore.UTC(), nil
}

// PurgeExpired drops single-token entries whose token would fail the expiry
// check anyway.
func (r *GormRegistry) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).Where("expires_at < ?", now.UTC()).Delete(&models.RevokedToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge revoked tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}

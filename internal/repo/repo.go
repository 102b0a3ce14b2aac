package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Skotchmaster/sports_program/internal/models"
)

var (
	ErrNotFound = errors.New("account not found")
	ErrConflict = errors.New("account already exists")
	// ErrContention means the lockout row kept changing under us.
	ErrContention = errors.New("lockout update contention")
)

type GormRepo struct {
	DB *gorm.DB
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *GormRepo) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	var acc models.Account
	err := r.DB.WithContext(ctx).Preload("Team").
		Where("email = ?", NormalizeEmail(email)).
		Take(&acc).Error
	return found(&acc, err)
}

func (r *GormRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var acc models.Account
	err := r.DB.WithContext(ctx).Preload("Team").
		Where("id = ?", id).
		Take(&acc).Error
	return found(&acc, err)
}

// FindInTeam hides accounts of other teams behind ErrNotFound.
func (r *GormRepo) FindInTeam(ctx context.Context, id, teamID uuid.UUID) (*models.Account, error) {
	var acc models.Account
	err := r.DB.WithContext(ctx).Preload("Team").
		Where("id = ? AND team_id = ?", id, teamID).
		Take(&acc).Error
	return found(&acc, err)
}

func found(acc *models.Account, err error) (*models.Account, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	return acc, nil
}

// Create inserts acc with a lower-cased email.
func (r *GormRepo) Create(ctx context.Context, acc *models.Account) error {
	acc.Email = NormalizeEmail(acc.Email)

	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Account{}).Where("email = ?", acc.Email).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrConflict
		}
		return tx.Omit(clause.Associations).Create(acc).Error
	})
	switch {
	case errors.Is(err, ErrConflict), errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	case err != nil:
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (r *GormRepo) EnsureTeam(ctx context.Context, name string) (*models.Team, error) {
	team := models.Team{Name: name}
	if err := r.DB.WithContext(ctx).Where("name = ?", name).FirstOrCreate(&team).Error; err != nil {
		return nil, fmt.Errorf("ensure team: %w", err)
	}
	return &team, nil
}

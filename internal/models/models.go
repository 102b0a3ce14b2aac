package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type Team struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"      json:"id"`
	Name      string    `gorm:"uniqueIndex;not null"      json:"name"`
	CreatedAt time.Time `                                 json:"-"`
	UpdatedAt time.Time `                                 json:"-"`
}

func (t *Team) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

type Account struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primaryKey"         json:"id"`
	Email               string     `gorm:"uniqueIndex;not null"         json:"email"`
	PasswordHash        string     `gorm:"not null"                     json:"-"`
	FirstName           string     `gorm:"not null;default:''"          json:"firstName"`
	LastName            string     `gorm:"not null;default:''"          json:"lastName"`
	Role                string     `gorm:"not null;default:'user'"      json:"role"`
	TeamID              uuid.UUID  `gorm:"type:uuid;index;not null"     json:"-"`
	Team                Team       `gorm:"constraint:OnDelete:RESTRICT" json:"team"`
	FailedLoginAttempts int        `gorm:"not null;default:0"           json:"-"`
	LockedUntil         *time.Time `                                    json:"-"`
	LastFailedLogin     *time.Time `                                    json:"-"`
	LockoutVersion      int64      `gorm:"not null;default:0"           json:"-"`
	PasswordChangedAt   *time.Time `                                    json:"-"`
	CreatedAt           time.Time  `                                    json:"-"`
	UpdatedAt           time.Time  `                                    json:"-"`
}

func (a *Account) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (a *Account) IsAdmin() bool { return a.Role == RoleAdmin }

// RevokedToken is a single-session revocation keyed by jti. Rows past
// ExpiresAt are dead weight: the signature check already rejects the token.
type RevokedToken struct {
	JTI       string    `gorm:"primaryKey;size:64"       json:"jti"`
	AccountID uuid.UUID `gorm:"type:uuid;index;not null" json:"account_id"`
	RevokedAt time.Time `gorm:"not null"                 json:"revoked_at"`
	ExpiresAt time.Time `gorm:"index;not null"           json:"expires_at"`
}

// AccountWatermark invalidates every token of the account issued at or before
// RevokeBefore.
type AccountWatermark struct {
	AccountID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"account_id"`
	RevokeBefore time.Time `gorm:"not null"             json:"revoke_before"`
	UpdatedAt    time.Time `                            json:"updated_at"`
}

// All lists every table the service owns, in dependency order.
func All() []any {
	return []any{&Team{}, &Account{}, &RevokedToken{}, &AccountWatermark{}}
}

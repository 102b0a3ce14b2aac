// Package tokens issues and verifies session JWTs. Every token carries sub,
// jti and iat so that it can be revoked one at a time or by per-account cutoff.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMalformed = errors.New("token malformed")
	ErrExpired   = errors.New("token expired")
	ErrRevoked   = errors.New("token revoked")
)

const DefaultTTL = 24 * time.Hour

type Claims struct {
	jwt.RegisteredClaims
}

// Session is what a verified token says about its bearer.
type Session struct {
	AccountID uuid.UUID
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Issued struct {
	Token string
	Session
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: secret, ttl: ttl, now: time.Now}
}

// WithClock returns a copy of the issuer reading time from now.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	cp := *i
	cp.now = now
	return &cp
}

// Issue signs a fresh token for accountID. iat is whole seconds; when after is
// not zero the token is dated strictly later than it, so a token minted right
// after a revocation cutoff never falls under that cutoff.
func (i *Issuer) Issue(accountID uuid.UUID, after time.Time) (*Issued, error) {
	iat := i.now().UTC().Truncate(time.Second)
	if !after.IsZero() {
		floor := after.UTC().Truncate(time.Second).Add(time.Second)
		if iat.Before(floor) {
			iat = floor
		}
	}
	exp := iat.Add(i.ttl)
	jti := uuid.NewString()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID.String(),
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &Issued{
		Token: signed,
		Session: Session{
			AccountID: accountID,
			JTI:       jti,
			IssuedAt:  iat,
			ExpiresAt: exp,
		},
	}, nil
}

// Parse checks signature and expiry only.
func (i *Issuer) Parse(raw string) (*Session, error) {
	if raw == "" {
		return nil, ErrMalformed
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if claims.ID == "" || claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, ErrMalformed
	}
	accountID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrMalformed
	}

	return &Session{
		AccountID: accountID,
		JTI:       claims.ID,
		IssuedAt:  claims.IssuedAt.Time.UTC(),
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}

// RevocationChecker is the slice of the revocation registry a Verifier needs.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string, accountID uuid.UUID, issuedAt time.Time) (bool, error)
}

type Verifier struct {
	Issuer  *Issuer
	Revoked RevocationChecker
}

// Verify runs well-formed, then not-expired, then not-revoked, stopping at the
// first failure. A registry failure matches none of the sentinels.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Session, error) {
	s, err := v.Issuer.Parse(raw)
	if err != nil {
		return nil, err
	}
	if v.Revoked == nil {
		return s, nil
	}

	revoked, err := v.Revoked.IsRevoked(ctx, s.JTI, s.AccountID, s.IssuedAt)
	if err != nil {
		return nil, fmt.Errorf("revocation lookup: %w", err)
	}
	if revoked {
		return nil, ErrRevoked
	}
	return s, nil
}

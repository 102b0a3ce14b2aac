package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/sports_program/internal/logging"
	"github.com/Skotchmaster/sports_program/internal/models"
	"github.com/Skotchmaster/sports_program/internal/repo"
	"github.com/Skotchmaster/sports_program/internal/tokens"
)

const (
	MsgNoToken = "Not authorized, no token"
	MsgRevoked = "Token has been revoked"

	ctxAccount = "auth_account"
	ctxSession = "auth_session"
)

type AccountLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

type Authenticator struct {
	Verifier   *tokens.Verifier
	Accounts   AccountLoader
	CookieName string
}

// RequireLogin accepts the session cookie or a bearer header. When both are
// sent the cookie wins.
func (a *Authenticator) RequireLogin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		l := logging.FromContext(ctx)

		raw := a.tokenFrom(c)
		if raw == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, MsgNoToken)
		}

		sess, err := a.Verifier.Verify(ctx, raw)
		switch {
		case errors.Is(err, tokens.ErrRevoked):
			l.Warn("auth_rejected", "status", 401, "reason", "revoked")
			return echo.NewHTTPError(http.StatusUnauthorized, MsgRevoked)
		case errors.Is(err, tokens.ErrMalformed), errors.Is(err, tokens.ErrExpired):
			l.Warn("auth_rejected", "status", 401, "reason", err.Error())
			return echo.NewHTTPError(http.StatusUnauthorized, MsgNoToken)
		case err != nil:
			return err
		}

		acc, err := a.Accounts.FindByID(ctx, sess.AccountID)
		if errors.Is(err, repo.ErrNotFound) {
			l.Warn("auth_rejected", "status", 401, "reason", "unknown subject")
			return echo.NewHTTPError(http.StatusUnauthorized, MsgNoToken)
		}
		if err != nil {
			return err
		}

		c.Set(ctxAccount, acc)
		c.Set(ctxSession, sess)
		l = l.With("account_id", acc.ID)
		c.SetRequest(c.Request().WithContext(logging.IntoContext(ctx, l)))
		return next(c)
	}
}

func (a *Authenticator) tokenFrom(c echo.Context) string {
	if a.CookieName != "" {
		if ck, err := c.Cookie(a.CookieName); err == nil && ck.Value != "" {
			return ck.Value
		}
	}
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

func CurrentAccount(c echo.Context) *models.Account {
	acc, _ := c.Get(ctxAccount).(*models.Account)
	return acc
}

func CurrentSession(c echo.Context) *tokens.Session {
	s, _ := c.Get(ctxSession).(*tokens.Session)
	return s
}

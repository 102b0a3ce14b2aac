package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/sports_program/internal/logging"
	authmw "github.com/Skotchmaster/sports_program/internal/middleware/auth"
	"github.com/Skotchmaster/sports_program/internal/middleware/csrf"
	"github.com/Skotchmaster/sports_program/internal/service"
)

const MsgInvalidCredentials = "Invalid credentials"

type AuthHandler struct {
	Service *service.AuthService
	Cookie  SessionCookie
	CSRF    csrf.Config
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=128"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,strongpassword"`
}

type revokeAllRequest struct {
	KeepCurrent bool `json:"keepCurrent"`
}

func (h *AuthHandler) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_login")

	var req loginRequest
	if err := bindAndValidate(c, &req); err != nil {
		l.Warn("login_error", "status", 400, "error", err)
		return err
	}

	res, err := h.Service.Login(ctx, req.Email, req.Password)
	var locked *service.LockedError
	switch {
	case errors.As(err, &locked):
		return lockedResponse(locked)
	case errors.Is(err, service.ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, MsgInvalidCredentials)
	case err != nil:
		return err
	}

	h.Cookie.set(c, res.Token)
	view := viewOf(res.Account)
	view.Token = res.Token.Token
	return respond(c, http.StatusOK, "", view)
}

// Logout answers 200 only once the token is on the revocation list.
func (h *AuthHandler) Logout(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.Service.Logout(ctx, authmw.CurrentSession(c)); err != nil {
		logging.FromContext(ctx).Error("logout_failed", "status", 500, "error", err)
		return err
	}

	h.Cookie.clear(c)
	csrf.ClearCookie(c, h.CSRF)
	return respond(c, http.StatusOK, "Logged out successfully", nil)
}

func (h *AuthHandler) ChangePassword(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_change_password")

	var req changePasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		l.Warn("password_change_error", "status", 400, "error", err)
		return err
	}

	issued, err := h.Service.ChangePassword(ctx, authmw.CurrentSession(c), req.CurrentPassword, req.NewPassword)
	switch {
	case errors.Is(err, service.ErrWrongPassword):
		return echo.NewHTTPError(http.StatusBadRequest, "Current password is incorrect")
	case errors.Is(err, service.ErrNotFound):
		return echo.NewHTTPError(http.StatusUnauthorized, authmw.MsgNoToken)
	case err != nil:
		return err
	}

	h.Cookie.set(c, issued)
	return respond(c, http.StatusOK,
		"Password changed successfully. All other sessions have been logged out.",
		tokenView{Token: issued.Token, ExpiresAt: issued.ExpiresAt})
}

func (h *AuthHandler) RevokeAllSessions(c echo.Context) error {
	ctx := c.Request().Context()

	var req revokeAllRequest
	if err := c.Bind(&req); err != nil {
		return errBadBody()
	}

	issued, err := h.Service.RevokeAllSessions(ctx, authmw.CurrentSession(c), req.KeepCurrent)
	if err != nil {
		logging.FromContext(ctx).Error("revoke_all_failed", "status", 500, "error", err)
		return err
	}

	if issued == nil {
		h.Cookie.clear(c)
		return respond(c, http.StatusOK, "All sessions have been revoked", nil)
	}
	h.Cookie.set(c, issued)
	return respond(c, http.StatusOK, "All other sessions have been revoked",
		tokenView{Token: issued.Token, ExpiresAt: issued.ExpiresAt})
}

func (h *AuthHandler) Me(c echo.Context) error {
	return respond(c, http.StatusOK, "", viewOf(authmw.CurrentAccount(c)))
}

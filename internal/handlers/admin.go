package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/sports_program/internal/audit"
	"github.com/Skotchmaster/sports_program/internal/logging"
	authmw "github.com/Skotchmaster/sports_program/internal/middleware/auth"
	"github.com/Skotchmaster/sports_program/internal/service"
	"github.com/Skotchmaster/sports_program/internal/util"
)

const MsgUserNotFound = "User not found"

// AdminHandler serves the admin-only routes. Every target account is looked
// up inside the caller's team.
type AdminHandler struct {
	Service *service.AuthService
}

type registerRequest struct {
	Email     string `json:"email" validate:"required,email,max=255"`
	Password  string `json:"password" validate:"required,strongpassword"`
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName" validate:"required,max=100"`
	Role      string `json:"role" validate:"omitempty,oneof=user admin"`
}

type unlockView struct {
	WasLocked              bool `json:"wasLocked"`
	PreviousFailedAttempts int  `json:"previousFailedAttempts"`
}

type lockoutStatusView struct {
	IsLocked                bool       `json:"isLocked"`
	FailedLoginAttempts     int        `json:"failedLoginAttempts"`
	LockedUntil             *time.Time `json:"lockedUntil"`
	RemainingLockoutMinutes int        `json:"remainingLockoutMinutes"`
	LastFailedLogin         *time.Time `json:"lastFailedLogin"`
}

type auditView struct {
	Total  int64         `json:"total"`
	From   int           `json:"from"`
	Size   int           `json:"size"`
	Events []audit.Event `json:"events"`
}

func (h *AdminHandler) Register(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin_register")

	var req registerRequest
	if err := bindAndValidate(c, &req); err != nil {
		l.Warn("register_error", "status", 400, "error", err)
		return err
	}

	acc, err := h.Service.Register(ctx, authmw.CurrentAccount(c), service.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
	})
	if errors.Is(err, service.ErrEmailTaken) {
		l.Warn("register_failed", "status", 409, "reason", "email taken")
		return echo.NewHTTPError(http.StatusConflict, "Email already registered")
	}
	if err != nil {
		return err
	}
	return respond(c, http.StatusCreated, "Account created", viewOf(acc))
}

func (h *AdminHandler) Unlock(c echo.Context) error {
	id, err := accountParam(c)
	if err != nil {
		return err
	}

	res, err := h.Service.Unlock(c.Request().Context(), authmw.CurrentAccount(c), id)
	if errors.Is(err, service.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, MsgUserNotFound)
	}
	if err != nil {
		return err
	}

	msg := "Account was not locked; failed attempts reset"
	if res.WasLocked {
		msg = "Account unlocked successfully"
	}
	return respond(c, http.StatusOK, msg, unlockView{
		WasLocked:              res.WasLocked,
		PreviousFailedAttempts: res.PreviousFailedAttempts,
	})
}

func (h *AdminHandler) LockoutStatus(c echo.Context) error {
	id, err := accountParam(c)
	if err != nil {
		return err
	}

	st, err := h.Service.LockoutStatus(c.Request().Context(), authmw.CurrentAccount(c), id)
	if errors.Is(err, service.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, MsgUserNotFound)
	}
	if err != nil {
		return err
	}

	return respond(c, http.StatusOK, "", lockoutStatusView{
		IsLocked:                st.IsLocked,
		FailedLoginAttempts:     st.FailedLoginAttempts,
		LockedUntil:             st.LockedUntil,
		RemainingLockoutMinutes: st.RemainingLockoutMinutes,
		LastFailedLogin:         st.LastFailedLogin,
	})
}

func (h *AdminHandler) AuditTrail(c echo.Context) error {
	id, err := accountParam(c)
	if err != nil {
		return err
	}

	// either an offset (from) or a 1-based page selects the window
	from, page, size := 0, 0, util.DefaultPageSize
	err = echo.QueryParamsBinder(c).Int("from", &from).Int("page", &page).Int("size", &size).BindError()
	if err != nil {
		return badParam("from/page/size", "must be integers")
	}
	if from < 0 {
		return badParam("from", "must be at least 0")
	}
	if size < 1 || size > util.MaxPageSize {
		return badParam("size", fmt.Sprintf("must be between 1 and %d", util.MaxPageSize))
	}
	if page > 0 {
		from, size = util.Calculate(page, size)
	}

	total, events, err := h.Service.AuditTrail(c.Request().Context(), authmw.CurrentAccount(c), id, from, size)
	switch {
	case errors.Is(err, audit.ErrSearchDisabled):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Audit search is not configured")
	case errors.Is(err, service.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, MsgUserNotFound)
	case err != nil:
		return err
	}
	if events == nil {
		events = []audit.Event{}
	}
	return respond(c, http.StatusOK, "", auditView{Total: total, From: from, Size: size, Events: events})
}

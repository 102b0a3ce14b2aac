package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/sports_program/internal/logging"
)

// RequireRole must run after RequireLogin.
func RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			acc := CurrentAccount(c)
			if acc == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, MsgNoToken)
			}
			if acc.Role != role {
				logging.FromContext(c.Request().Context()).Warn("auth_forbidden", "status", 403, "required_role", role)
				return echo.NewHTTPError(http.StatusForbidden, "Requires "+role+" permission")
			}
			return next(c)
		}
	}
}

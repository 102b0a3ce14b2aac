package httpserver

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Skotchmaster/sports_program/internal/audit"
	"github.com/Skotchmaster/sports_program/internal/handlers"
	authmw "github.com/Skotchmaster/sports_program/internal/middleware/auth"
	"github.com/Skotchmaster/sports_program/internal/middleware/csrf"
	loggingmw "github.com/Skotchmaster/sports_program/internal/middleware/logging"
	"github.com/Skotchmaster/sports_program/internal/models"
	"github.com/Skotchmaster/sports_program/internal/validation"
)

type Deps struct {
	Logger        *slog.Logger
	Authenticator *authmw.Authenticator
	CSRF          csrf.Config

	AuthHandler   *handlers.AuthHandler
	AdminHandler  *handlers.AdminHandler
	HealthHandler *handlers.HealthHandler
}

// New builds the echo instance with the shared middleware stack and routes.
func New(d *Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler
	e.Validator = validation.New()

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(
		middleware.RequestID(),
		loggingmw.RequestLogger(d.Logger),
		middleware.Recover(),
		middleware.Secure(),
		ClientInfo,
	)

	Register(e, d)
	return e
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", d.HealthHandler.Live)
	e.GET("/health/ready", d.HealthHandler.Ready)

	login := d.Authenticator.RequireLogin
	adminOnly := authmw.RequireRole(models.RoleAdmin)

	auth := e.Group("/api/v1/auth", csrf.Middleware(d.CSRF))

	auth.GET("/csrf-token", csrf.Handler(d.CSRF))
	auth.POST("/login", d.AuthHandler.Login)
	auth.POST("/logout", d.AuthHandler.Logout, login)
	auth.PUT("/change-password", d.AuthHandler.ChangePassword, login)
	auth.POST("/revoke-all-sessions", d.AuthHandler.RevokeAllSessions, login)
	auth.GET("/me", d.AuthHandler.Me, login)
	auth.POST("/register", d.AdminHandler.Register, login, adminOnly)

	admin := auth.Group("/admin", login, adminOnly)

	admin.POST("/unlock/:userId", d.AdminHandler.Unlock)
	admin.GET("/lockout-status/:userId", d.AdminHandler.LockoutStatus)
	admin.GET("/audit/:userId", d.AdminHandler.AuditTrail)
}

// ClientInfo records who sent the request so audit events can carry it.
func ClientInfo(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		ctx := audit.WithClient(req.Context(), audit.Client{IP: c.RealIP(), UserAgent: req.UserAgent()})
		c.SetRequest(req.WithContext(ctx))
		return next(c)
	}
}

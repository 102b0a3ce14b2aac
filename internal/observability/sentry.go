package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
)

func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
	})
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}

// CaptureRequestError reports an unexpected server error with the route it
// happened on. It is a no-op until InitSentry succeeded with a DSN.
func CaptureRequestError(c echo.Context, err error) {
	hub := sentry.CurrentHub().Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("method", c.Request().Method)
		scope.SetTag("route", c.Path())
		if rid := c.Response().Header().Get(echo.HeaderXRequestID); rid != "" {
			scope.SetTag("request_id", rid)
		}
		hub.CaptureException(err)
	})
}

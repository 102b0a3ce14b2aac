package httpserver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/sports_program/internal/handlers"
	"github.com/Skotchmaster/sports_program/internal/logging"
	"github.com/Skotchmaster/sports_program/internal/observability"
	"github.com/Skotchmaster/sports_program/internal/validation"
)

const MsgServerError = "Server error"

type errorBody struct {
	Success bool                    `json:"success"`
	Error   string                  `json:"error"`
	Details []validation.FieldError `json:"details,omitempty"`
}

// ErrorHandler renders every error as {success:false, error}. Errors it does
// not recognise become a 500 and go to sentry.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, body := render(c, err)
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		logging.FromContext(c.Request().Context()).Error("error_response_failed", "error", err)
	}
}

func render(c echo.Context, err error) (int, any) {
	var (
		apiErr *handlers.APIError
		valErr *validation.Error
		he     *echo.HTTPError
	)
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Status, apiErr.Body
	case errors.As(err, &valErr):
		return http.StatusBadRequest, errorBody{Error: "Validation failed", Details: valErr.Fields}
	case errors.As(err, &he):
		if he.Code >= http.StatusInternalServerError {
			unexpected(c, err)
		}
		msg, ok := he.Message.(string)
		if !ok {
			msg = fmt.Sprint(he.Message)
		}
		return he.Code, errorBody{Error: msg}
	default:
		unexpected(c, err)
		return http.StatusInternalServerError, errorBody{Error: MsgServerError}
	}
}

func unexpected(c echo.Context, err error) {
	logging.FromContext(c.Request().Context()).Error("unhandled_error", "error", err)
	observability.CaptureRequestError(c, err)
}

package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/sports_program/internal/models"
	"github.com/Skotchmaster/sports_program/internal/service"
	"github.com/Skotchmaster/sports_program/internal/validation"
)

// APIError is an error whose JSON body is already decided by the handler.
type APIError struct {
	Status int
	Body   any
}

func (e *APIError) Error() string { return fmt.Sprintf("api error: status %d", e.Status) }

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type lockedBody struct {
	Success          bool   `json:"success"`
	Locked           bool   `json:"locked"`
	RemainingMinutes int    `json:"remainingMinutes"`
	Error            string `json:"error"`
	Message          string `json:"message"`
}

type teamView struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type accountView struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Role      string    `json:"role"`
	Team      *teamView `json:"team,omitempty"`
	Token     string    `json:"token,omitempty"`
}

type tokenView struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func viewOf(acc *models.Account) accountView {
	v := accountView{
		ID:        acc.ID,
		Email:     acc.Email,
		FirstName: acc.FirstName,
		LastName:  acc.LastName,
		Role:      acc.Role,
	}
	if acc.Team.ID != uuid.Nil {
		v.Team = &teamView{ID: acc.Team.ID, Name: acc.Team.Name}
	}
	return v
}

func respond(c echo.Context, status int, message string, data any) error {
	return c.JSON(status, envelope{Success: true, Message: message, Data: data})
}

func lockedResponse(le *service.LockedError) *APIError {
	return &APIError{
		Status: http.StatusLocked,
		Body: lockedBody{
			Locked:           true,
			RemainingMinutes: le.RemainingMinutes,
			Error:            "Account locked",
			Message: fmt.Sprintf("Account is locked due to too many failed login attempts. Try again in %s.",
				minutes(le.RemainingMinutes)),
		},
	}
}

func minutes(n int) string {
	if n == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", n)
}

func badParam(path, msg string) error {
	return &validation.Error{Fields: []validation.FieldError{{Path: path, Msg: msg}}}
}

func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return errBadBody()
	}
	return c.Validate(req)
}

func errBadBody() error { return badParam("body", "must be valid JSON") }

func accountParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		return uuid.Nil, badParam("userId", "must be a valid UUID")
	}
	return id, nil
}

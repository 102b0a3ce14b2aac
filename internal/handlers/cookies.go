package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/sports_program/internal/tokens"
)

// SessionCookie describes the httpOnly cookie carrying the session token.
type SessionCookie struct {
	Name     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

func (s SessionCookie) set(c echo.Context, tok *tokens.Issued) {
	c.SetCookie(&http.Cookie{
		Name:     s.Name,
		Value:    tok.Token,
		Path:     "/",
		Domain:   s.Domain,
		Expires:  tok.ExpiresAt,
		MaxAge:   int(time.Until(tok.ExpiresAt).Seconds()),
		Secure:   s.Secure,
		HttpOnly: true,
		SameSite: s.SameSite,
	})
}

func (s SessionCookie) clear(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     s.Name,
		Value:    "",
		Path:     "/",
		Domain:   s.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Secure:   s.Secure,
		HttpOnly: true,
		SameSite: s.SameSite,
	})
}

package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	SessionCookie = "session"
	sessionLocal  = "session_id"
)

// Sessions issues and reads the session cookie that keys conversation history.
type Sessions struct {
	secure bool
}

func NewSessions(secure bool) *Sessions {
	return &Sessions{secure: secure}
}

// Resolve returns the caller's session id, issuing a new cookie when the
// request carries none.
func (s *Sessions) Resolve(c *fiber.Ctx) string {
	if id, ok := c.Locals(sessionLocal).(string); ok && id != "" {
		return id
	}

	id := c.Cookies(SessionCookie)
	if id == "" {
		id = uuid.NewString()
		c.Cookie(&fiber.Cookie{
			Name:     SessionCookie,
			Value:    id,
			Path:     "/",
			HTTPOnly: true,
			SameSite: fiber.CookieSameSiteLaxMode,
			Secure:   s.secure,
		})
	}

	c.Locals(sessionLocal, id)
	return id
}

// Middleware resolves the session before the handler runs so later middleware
// such as the rate limiter can key on it.
func (s *Sessions) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		s.Resolve(c)
		return c.Next()
	}
}

// SessionKey returns the session resolved for this request, if any.
func SessionKey(c *fiber.Ctx) string {
	id, _ := c.Locals(sessionLocal).(string)
	return id
}

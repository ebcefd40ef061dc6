// Package validation rejects malformed chat requests before they reach the engine.
package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var markupPattern = regexp.MustCompile(`(?i)(<script|<iframe|<object|<embed|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	MaxMessageLength    int
	AllowedContentTypes []string
	// Paths whose JSON body carries a "message" field.
	MessagePaths []string
	Logger       *zap.Logger
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxMessageLength == 0 {
		cfg.MaxMessageLength = 2000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if len(cfg.MessagePaths) == 0 {
		cfg.MessagePaths = []string{"/api/v1/chat"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		contentType := c.Get(fiber.HeaderContentType)
		if contentType != "" && !allowedType(contentType, cfg.AllowedContentTypes) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"message": "Unsupported content type",
			})
		}

		if !matchesPath(c.Path(), cfg.MessagePaths) {
			return c.Next()
		}

		var req map[string]any
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"message": "Invalid message",
			})
		}

		message, ok := req["message"].(string)
		if !ok || strings.TrimSpace(message) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"message": "Invalid message",
			})
		}

		if utf8.RuneCountInString(message) > cfg.MaxMessageLength {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"message": "Message exceeds maximum length",
			})
		}

		if ContainsMarkup(message) {
			cfg.Logger.Warn("Markup injection attempt",
				zap.String("ip", c.IP()),
				zap.String("message", message),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"message": "Invalid message content",
			})
		}

		c.Locals("sanitized_message", Sanitize(message))
		return c.Next()
	}
}

func ContainsMarkup(input string) bool {
	return markupPattern.MatchString(input)
}

func Sanitize(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")
	return input
}

func allowedType(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

func matchesPath(path string, paths []string) bool {
	for _, p := range paths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

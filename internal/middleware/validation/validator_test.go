package validation

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp() *fiber.App {
	app := fiber.New()
	app.Use(Middleware(Config{MaxMessageLength: 20}))
	app.Post("/api/v1/chat", func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("sanitized_message").(string))
	})
	return app
}

func post(t *testing.T, app *fiber.App, contentType, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	resp, err := app.Test(req)
	require.NoError(t, err)
	buf := new(strings.Builder)
	_, _ = io.Copy(buf, resp.Body)
	return resp.StatusCode, buf.String()
}

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		status      int
	}{
		{"valid", "application/json", `{"message":"emissions 2023?"}`, fiber.StatusOK},
		{"empty", "application/json", `{"message":"  "}`, fiber.StatusBadRequest},
		{"missing", "application/json", `{}`, fiber.StatusBadRequest},
		{"too long", "application/json", `{"message":"` + strings.Repeat("a", 21) + `"}`, fiber.StatusBadRequest},
		{"markup", "application/json", `{"message":"<script>x</script>"}`, fiber.StatusBadRequest},
		{"content type", "text/plain", `{"message":"hi"}`, fiber.StatusUnsupportedMediaType},
	}

	app := newApp()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := post(t, app, tt.contentType, tt.body)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestMiddlewareAllowsQueryLanguageWords(t *testing.T) {
	status, body := post(t, newApp(), "application/json", `{"message":" select 2023 data "}`)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "select 2023 data", body)
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/scope3-agent/backend/internal/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	result   *agent.Result
	err      error
	turns    []agent.Turn
	sessions []string
	messages []string
}

func (f *fakeEngine) Ask(_ context.Context, sessionID, message string) (*agent.Result, error) {
	f.sessions = append(f.sessions, sessionID)
	f.messages = append(f.messages, message)
	return f.result, f.err
}

func (f *fakeEngine) History(_ context.Context, sessionID string) ([]agent.Turn, error) {
	f.sessions = append(f.sessions, sessionID)
	return f.turns, f.err
}

func newApp(engine Engine) *fiber.App {
	app := fiber.New()
	h := NewChatHandler(engine, NewSessions(false))
	app.Post("/api/v1/chat", h.HandleChat)
	app.Get("/api/v1/history", h.GetHistory)
	return app
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func chatRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHandleChatIssuesSession(t *testing.T) {
	engine := &fakeEngine{result: &agent.Result{Answer: "There are 3 Emissionscopes in the database."}}
	app := newApp(engine)

	resp, err := app.Test(chatRequest(`{"message":"How many Emissionscope are in the database?"}`))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, "There are 3 Emissionscopes in the database.", decode(t, resp)["message"])

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == SessionCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	require.Len(t, engine.sessions, 1)
	assert.Equal(t, cookie.Value, engine.sessions[0])
}

func TestHandleChatReusesSession(t *testing.T) {
	engine := &fakeEngine{result: &agent.Result{Answer: "ok"}}
	app := newApp(engine)

	req := chatRequest(`{"message":"what about 2023?"}`)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "s-42"})

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, []string{"s-42"}, engine.sessions)
	assert.Empty(t, resp.Cookies())
}

func TestHandleChatRejectsInvalidMessage(t *testing.T) {
	engine := &fakeEngine{}
	app := newApp(engine)

	for _, body := range []string{`{"message":"   "}`, `{"message":42}`, `not json`} {
		resp, err := app.Test(chatRequest(body))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, body)
		assert.Equal(t, "Invalid message", decode(t, resp)["message"])
	}
	assert.Empty(t, engine.messages)
}

func TestHandleChatHidesErrors(t *testing.T) {
	engine := &fakeEngine{err: errors.New("neo4j: Neo.ClientError.Statement.SyntaxError")}
	app := newApp(engine)

	resp, err := app.Test(chatRequest(`{"message":"emissions in 2023?"}`))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	msg := decode(t, resp)["message"].(string)
	assert.Equal(t, BrainFog, msg)
	assert.NotContains(t, msg, "Neo.ClientError")
}

func TestGetHistory(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	engine := &fakeEngine{turns: []agent.Turn{{
		ID: "t-1", Input: "q", Output: "a", Strategy: agent.StrategySemantic,
		EvidenceIDs: []string{"4:db:1"}, CreatedAt: at,
	}}}
	app := newApp(engine)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "s-1"})
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	out := decode(t, resp)
	assert.Equal(t, "s-1", out["session_id"])
	turns := out["turns"].([]any)
	require.Len(t, turns, 1)
	turn := turns[0].(map[string]any)
	assert.Equal(t, "semantic", turn["strategy"])
	assert.Equal(t, []any{"4:db:1"}, turn["evidence_ids"])
}

func TestGetHistoryWithoutSession(t *testing.T) {
	engine := &fakeEngine{}
	app := newApp(engine)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/history", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, decode(t, resp)["turns"])
	assert.Empty(t, engine.sessions)
}

func TestReady(t *testing.T) {
	app := fiber.New()
	h := NewHealthHandler(time.Second,
		Check{Name: "neo4j", Probe: func(context.Context) error { return nil }},
		Check{Name: "redis", Probe: func(context.Context) error { return errors.New("refused") }},
	)
	app.Get("/ready", h.Ready)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	out := decode(t, resp)
	assert.Equal(t, false, out["ready"])
	assert.Equal(t, map[string]any{"neo4j": "ok", "redis": "unavailable"}, out["checks"])
}

func TestSplitWords(t *testing.T) {
	assert.Equal(t, []string{"Scope", "3", "\n", "emissions"}, SplitWords("Scope 3\nemissions"))
	assert.Equal(t, []string{}, SplitWords("  "))
}

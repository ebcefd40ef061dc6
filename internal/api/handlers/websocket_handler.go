package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/scope3-agent/backend/internal/agent"
	"github.com/scope3-agent/backend/pkg/logger"
)

type WebSocketHandler struct {
	engine   Engine
	sessions *Sessions
}

func NewWebSocketHandler(engine Engine, sessions *Sessions) *WebSocketHandler {
	return &WebSocketHandler{
		engine:   engine,
		sessions: sessions,
	}
}

// Upgrade resolves the session on the HTTP request and rejects requests that
// are not websocket upgrades.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	h.sessions.Resolve(c)
	return c.Next()
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	sessionID, _ := c.Locals(sessionLocal).(string)
	logger.Info("WebSocket connection established", zap.String("session_id", sessionID))

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed", zap.String("session_id", sessionID))
	}()

	for {
		var msg struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Failed to read WebSocket message", zap.Error(err))
			}
			break
		}

		if msg.Type != "chat" || strings.TrimSpace(msg.Message) == "" {
			continue
		}

		err = h.streamAnswer(c, sessionID, strings.TrimSpace(msg.Message))
		if err != nil {
			logger.Error("Failed to stream answer", zap.String("session_id", sessionID), zap.Error(err))
			h.sendError(c, BrainFog)
		}
	}
}

func (h *WebSocketHandler) streamAnswer(c *websocket.Conn, sessionID, message string) error {
	if err := h.sendChunk(c, "status", "Thinking..."); err != nil {
		return err
	}

	result, err := h.engine.Ask(context.Background(), sessionID, message)
	if err != nil {
		return err
	}

	words := SplitWords(result.Answer)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" {
			chunk += " "
		}

		if err := h.sendChunk(c, "chunk", chunk); err != nil {
			return err
		}
	}

	return h.sendComplete(c, result)
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	return c.WriteJSON(fiber.Map{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendComplete(c *websocket.Conn, result *agent.Result) error {
	return c.WriteJSON(fiber.Map{
		"type":         "complete",
		"strategy":     result.Strategy.String(),
		"evidence_ids": result.EvidenceIDs,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, message string) {
	c.WriteJSON(fiber.Map{
		"type":  "error",
		"error": message,
	})
}

// SplitWords splits text on spaces and keeps line breaks as their own tokens.
func SplitWords(text string) []string {
	words := []string{}
	var current strings.Builder

	for _, char := range text {
		switch char {
		case ' ', '\n':
			if current.Len() > 0 {
				words = append(words, current.String())
				current.Reset()
			}
			if char == '\n' {
				words = append(words, "\n")
			}
		default:
			current.WriteRune(char)
		}
	}

	if current.Len() > 0 {
		words = append(words, current.String())
	}

	return words
}

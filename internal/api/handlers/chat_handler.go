package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/scope3-agent/backend/internal/agent"
	"github.com/scope3-agent/backend/pkg/logger"
)

// BrainFog is returned instead of internal error details.
const BrainFog = "I'm suffering from brain fog... Please try asking again in a moment."

// Engine is the part of the query engine the HTTP surface needs.
type Engine interface {
	Ask(ctx context.Context, sessionID, message string) (*agent.Result, error)
	History(ctx context.Context, sessionID string) ([]agent.Turn, error)
}

type ChatHandler struct {
	engine   Engine
	sessions *Sessions
}

func NewChatHandler(engine Engine, sessions *Sessions) *ChatHandler {
	return &ChatHandler{
		engine:   engine,
		sessions: sessions,
	}
}

type TurnView struct {
	ID                string    `json:"id"`
	Input             string    `json:"input"`
	RephrasedQuestion string    `json:"rephrased_question"`
	Output            string    `json:"output"`
	Strategy          string    `json:"strategy"`
	EvidenceIDs       []string  `json:"evidence_ids"`
	CreatedAt         time.Time `json:"created_at"`
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	var req struct {
		Message string `json:"message"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Warn("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid message",
		})
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid message",
		})
	}

	sessionID := h.sessions.Resolve(c)

	result, err := h.engine.Ask(c.UserContext(), sessionID, message)
	if err != nil {
		logger.Error("Failed to answer message",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": BrainFog,
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": result.Answer,
	})
}

func (h *ChatHandler) GetHistory(c *fiber.Ctx) error {
	sessionID := c.Cookies(SessionCookie)
	if sessionID == "" {
		return c.JSON(fiber.Map{
			"turns": []TurnView{},
		})
	}

	turns, err := h.engine.History(c.UserContext(), sessionID)
	if err != nil {
		logger.Error("Failed to load history", zap.String("session_id", sessionID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load history",
		})
	}

	views := make([]TurnView, 0, len(turns))
	for _, t := range turns {
		views = append(views, TurnView{
			ID:                t.ID,
			Input:             t.Input,
			RephrasedQuestion: t.RephrasedQuestion,
			Output:            t.Output,
			Strategy:          t.Strategy.String(),
			EvidenceIDs:       t.EvidenceIDs,
			CreatedAt:         t.CreatedAt,
		})
	}

	return c.JSON(fiber.Map{
		"session_id": sessionID,
		"turns":      views,
	})
}

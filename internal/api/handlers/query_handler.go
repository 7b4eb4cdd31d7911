package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/faqbot/console/internal/console"
	"github.com/faqbot/console/internal/models"
	"github.com/faqbot/console/pkg/logger"
)

type QueryHandler struct {
	console *console.Console
}

func NewQueryHandler(con *console.Console) *QueryHandler {
	return &QueryHandler{
		console: con,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	id, err := paramInt(c, "id")
	if err != nil {
		return fail(c, err)
	}

	var req struct {
		Question string `json:"question"`
	}
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}

	entry, err := h.console.Ask(c.UserContext(), id, req.Question)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(fiber.Map{
		"id":         entry.ID,
		"bot_id":     entry.BotID,
		"question":   entry.Result.Question,
		"answer":     entry.Result.Answer,
		"confidence": entry.Result.Confidence,
		"band":       entry.Result.Band(),
		"source_url": entry.Result.SourceURL,
		"asked_at":   entry.AskedAt,
		"latency_ms": entry.Latency.Milliseconds(),
	})
}

// GetQueryHistory returns this session's answers, oldest first. ?bot_id=
// narrows it to one bot.
func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	var history []models.HistoryEntry
	if botID := c.QueryInt("bot_id", 0); botID != 0 {
		history = h.console.Query.HistoryFor(botID)
	} else {
		history = h.console.Query.History()
	}
	if history == nil {
		history = []models.HistoryEntry{}
	}

	return c.JSON(fiber.Map{
		"history": history,
	})
}

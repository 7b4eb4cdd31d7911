package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/faqbot/console/internal/analytics"
	"github.com/faqbot/console/internal/console"
)

type AnalyticsHandler struct {
	console *console.Console
}

func NewAnalyticsHandler(con *console.Console) *AnalyticsHandler {
	return &AnalyticsHandler{
		console: con,
	}
}

// Overview answers with the last good overview alongside the error when the
// backend fails and one is known.
func (h *AnalyticsHandler) Overview(c *fiber.Ctx) error {
	ov, err := h.console.Analytics.Overview(c.UserContext())
	if err != nil {
		if ov == nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{
			"overview": ov,
			"stale":    true,
			"error":    err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"overview": ov,
		"stale":    false,
	})
}

func (h *AnalyticsHandler) Bot(c *fiber.Ctx) error {
	id, err := paramInt(c, "id")
	if err != nil {
		return fail(c, err)
	}
	if _, err := h.console.Bot(c.UserContext(), id); err != nil {
		return fail(c, err)
	}

	ba, err := h.console.Analytics.BotAnalytics(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(ba)
}

func (h *AnalyticsHandler) Trends(c *fiber.Ctx) error {
	trends, err := h.console.Analytics.QueryTrends(c.UserContext(), c.QueryInt("days", 0))
	if err != nil {
		return fail(c, err)
	}
	summary, err := analytics.SummarizeTrends(trends)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"trends":  trends,
		"summary": summary,
	})
}

func (h *AnalyticsHandler) Channels(c *fiber.Ctx) error {
	usage, err := h.console.Analytics.ChannelStats(c.UserContext())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"channels": usage,
	})
}

func (h *AnalyticsHandler) TopQuestions(c *fiber.Ctx) error {
	top, err := h.console.Analytics.TopQuestions(c.UserContext(), c.QueryInt("limit", 0))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"questions": top,
	})
}

func (h *AnalyticsHandler) Performance(c *fiber.Ctx) error {
	p, err := h.console.Analytics.Performance(c.UserContext())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(p)
}

package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/faqbot/console/internal/console"
	"github.com/faqbot/console/internal/content"
	"github.com/faqbot/console/internal/models"
)

type ContentHandler struct {
	console *console.Console
}

func NewContentHandler(con *console.Console) *ContentHandler {
	return &ContentHandler{
		console: con,
	}
}

// List returns the bot's pairs with their positions, filtered by ?q= when
// given.
func (h *ContentHandler) List(c *fiber.Ctx) error {
	id, err := h.bot(c)
	if err != nil {
		return fail(c, err)
	}

	matches, err := h.console.Content.Search(c.UserContext(), id, c.Query("q"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"bot_id": id,
		"items":  matches,
		"total":  len(matches),
	})
}

func (h *ContentHandler) Add(c *fiber.Ctx) error {
	var req struct {
		Question string `json:"question"`
		Answer   string `json:"answer"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if _, err := content.ValidatePair(req.Question, req.Answer); err != nil {
		return fail(c, err)
	}
	id, err := h.bot(c)
	if err != nil {
		return fail(c, err)
	}

	pair, inv, err := h.console.Content.Add(c.UserContext(), id, req.Question, req.Answer)
	if err != nil {
		return fail(c, err)
	}
	c.Status(fiber.StatusCreated)
	return mutated(c, fiber.Map{"pair": pair}, inv)
}

// Import appends scraped pairs in one all-or-nothing batch.
func (h *ContentHandler) Import(c *fiber.Ctx) error {
	var req struct {
		Pairs []models.QAPair `json:"pairs"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if _, err := content.ValidatePairs(req.Pairs); err != nil {
		return fail(c, err)
	}
	id, err := h.bot(c)
	if err != nil {
		return fail(c, err)
	}

	n, inv, err := h.console.Content.Import(c.UserContext(), id, req.Pairs)
	if err != nil {
		return fail(c, err)
	}
	return mutated(c, fiber.Map{"imported": n}, inv)
}

func (h *ContentHandler) Remove(c *fiber.Ctx) error {
	id, err := h.bot(c)
	if err != nil {
		return fail(c, err)
	}
	pos, err := paramInt(c, "index")
	if err != nil {
		return fail(c, err)
	}

	removed, inv, err := h.console.Content.Remove(c.UserContext(), id, pos)
	if err != nil {
		return fail(c, err)
	}
	return mutated(c, fiber.Map{"removed": removed}, inv)
}

func (h *ContentHandler) bot(c *fiber.Ctx) (int, error) {
	id, err := paramInt(c, "id")
	if err != nil {
		return 0, err
	}
	if _, err := h.console.Bot(c.UserContext(), id); err != nil {
		return 0, err
	}
	return id, nil
}

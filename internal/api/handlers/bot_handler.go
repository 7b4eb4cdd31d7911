package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/faqbot/console/internal/console"
	"github.com/faqbot/console/internal/models"
)

type BotHandler struct {
	console *console.Console
}

func NewBotHandler(con *console.Console) *BotHandler {
	return &BotHandler{
		console: con,
	}
}

// Dashboard loads bots and the analytics overview together.
func (h *BotHandler) Dashboard(c *fiber.Ctx) error {
	d, err := h.console.LoadDashboard(c.UserContext())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(d)
}

// List refreshes from the backend unless ?cached=true asks for the last
// snapshot.
func (h *BotHandler) List(c *fiber.Ctx) error {
	if c.QueryBool("cached") {
		return c.JSON(fiber.Map{
			"bots":       h.console.Bots.Snapshot(),
			"fetched_at": h.console.Bots.FetchedAt(),
		})
	}
	bots, err := h.console.Bots.Refresh(c.UserContext())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"bots":       bots,
		"fetched_at": h.console.Bots.FetchedAt(),
	})
}

func (h *BotHandler) Create(c *fiber.Ctx) error {
	var req models.CreateBotInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	bot, inv, err := h.console.Bots.Create(c.UserContext(), req)
	if err != nil {
		return fail(c, err)
	}
	c.Status(fiber.StatusCreated)
	return mutated(c, fiber.Map{"bot": bot}, inv)
}

// Get returns one bot. ?refresh=true re-reads it from the backend.
func (h *BotHandler) Get(c *fiber.Ctx) error {
	id, err := paramInt(c, "id")
	if err != nil {
		return fail(c, err)
	}

	var bot models.Bot
	if c.QueryBool("refresh") {
		bot, err = h.console.Bots.Fetch(c.UserContext(), id)
	} else {
		bot, err = h.console.Bot(c.UserContext(), id)
	}
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(bot)
}

func (h *BotHandler) Update(c *fiber.Ctx) error {
	id, err := paramInt(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req models.BotUpdate
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if _, err := h.console.Bot(c.UserContext(), id); err != nil {
		return fail(c, err)
	}

	bot, inv, err := h.console.Bots.Update(c.UserContext(), id, req)
	if err != nil {
		return fail(c, err)
	}
	return mutated(c, fiber.Map{"bot": bot}, inv)
}

func (h *BotHandler) Delete(c *fiber.Ctx) error {
	id, err := paramInt(c, "id")
	if err != nil {
		return fail(c, err)
	}
	if _, err := h.console.Bot(c.UserContext(), id); err != nil {
		return fail(c, err)
	}

	inv, err := h.console.DeleteBot(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	return mutated(c, fiber.Map{"deleted": id}, inv)
}

func (h *BotHandler) Retrain(c *fiber.Ctx) error {
	id, err := paramInt(c, "id")
	if err != nil {
		return fail(c, err)
	}
	if _, err := h.console.Bot(c.UserContext(), id); err != nil {
		return fail(c, err)
	}

	inv, err := h.console.Bots.Retrain(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	bot, _ := h.console.Bots.Get(id)
	c.Status(fiber.StatusAccepted)
	return mutated(c, fiber.Map{"bot": bot}, inv)
}

// SetActive toggles a bot between active and inactive.
func (h *BotHandler) SetActive(c *fiber.Ctx) error {
	id, err := paramInt(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req struct {
		Active *bool `json:"active"`
	}
	if err := c.BodyParser(&req); err != nil || req.Active == nil {
		return badRequest(c, "active must be true or false")
	}
	if _, err := h.console.Bot(c.UserContext(), id); err != nil {
		return fail(c, err)
	}

	bot, inv, err := h.console.Bots.SetActive(c.UserContext(), id, *req.Active)
	if err != nil {
		return fail(c, err)
	}
	return mutated(c, fiber.Map{"bot": bot}, inv)
}

package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/faqbot/console/internal/channels"
	"github.com/faqbot/console/internal/models"
)

type TelegramHandler struct {
	controller *channels.Controller
}

func NewTelegramHandler(controller *channels.Controller) *TelegramHandler {
	return &TelegramHandler{
		controller: controller,
	}
}

// Status reports the locally known state. It does not contact the backend;
// POST /refresh does.
func (h *TelegramHandler) Status(c *fiber.Ctx) error {
	return c.JSON(h.view())
}

func (h *TelegramHandler) Refresh(c *fiber.Ctx) error {
	if err := h.controller.Refresh(c.UserContext()); err != nil {
		return fail(c, err)
	}
	return c.JSON(h.view())
}

func (h *TelegramHandler) Start(c *fiber.Ctx) error {
	return h.transition(c, h.controller.Start)
}

func (h *TelegramHandler) Stop(c *fiber.Ctx) error {
	return h.transition(c, h.controller.Stop)
}

func (h *TelegramHandler) Register(c *fiber.Ctx) error {
	var req struct {
		BotID      int64  `json:"bot_id"`
		BotName    string `json:"bot_name"`
		BotToken   string `json:"bot_token"`
		WebhookURL string `json:"webhook_url"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	binding, inv, err := h.controller.Register(c.UserContext(), models.BindingInput{
		ChannelBotID: req.BotID,
		BotName:      req.BotName,
		Token:        req.BotToken,
		WebhookURL:   req.WebhookURL,
	})
	if err != nil {
		return fail(c, err)
	}
	c.Status(fiber.StatusCreated)
	return mutated(c, fiber.Map{"binding": binding}, inv)
}

func (h *TelegramHandler) Unregister(c *fiber.Ctx) error {
	id, err := paramInt(c, "id")
	if err != nil {
		return fail(c, err)
	}

	inv, err := h.controller.Unregister(c.UserContext(), int64(id))
	if err != nil {
		return fail(c, err)
	}
	return mutated(c, fiber.Map{"unregistered": id}, inv)
}

func (h *TelegramHandler) transition(c *fiber.Ctx, fn func(context.Context) (models.Invalidation, error)) error {
	inv, err := fn(c.UserContext())
	if err != nil {
		return fail(c, err)
	}
	return mutated(c, fiber.Map{"state": h.controller.State()}, inv)
}

func (h *TelegramHandler) view() fiber.Map {
	return fiber.Map{
		"channel":  h.controller.Channel(),
		"state":    h.controller.State(),
		"bindings": h.controller.Bindings(),
		"stats":    h.controller.Stats(),
	}
}

package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/faqbot/console/internal/console"
	"github.com/faqbot/console/internal/models"
)

type SessionHandler struct {
	console *console.Console
}

func NewSessionHandler(con *console.Console) *SessionHandler {
	return &SessionHandler{
		console: con,
	}
}

func (h *SessionHandler) Current(c *fiber.Ctx) error {
	return c.JSON(h.console.Session.Current())
}

func (h *SessionHandler) Login(c *fiber.Ctx) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	s, err := h.console.Session.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(s)
}

func (h *SessionHandler) Register(c *fiber.Ctx) error {
	var req models.Registration
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	s, err := h.console.Session.Register(c.UserContext(), req)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(s)
}

func (h *SessionHandler) Logout(c *fiber.Ctx) error {
	h.console.Session.Logout()
	return c.SendStatus(fiber.StatusNoContent)
}

package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/faqbot/console/internal/apperr"
	"github.com/faqbot/console/internal/console"
	"github.com/faqbot/console/internal/models"
	"github.com/faqbot/console/pkg/circuitbreaker"
	"github.com/faqbot/console/pkg/logger"
)

// fail writes err as {"error": detail} with the status its kind maps to.
func fail(c *fiber.Ctx, err error) error {
	status := apperr.HTTPStatus(err)
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		status = fiber.StatusServiceUnavailable
	case errors.Is(err, console.ErrSuperseded):
		status = fiber.StatusConflict
	}

	if status >= fiber.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	body := fiber.Map{"error": apperr.Detail(err)}
	if code := apperr.StatusCode(err); code != 0 {
		body["backend_status"] = code
	}
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
	})
}

// mutated adds the invalidated collections to a mutation's response.
func mutated(c *fiber.Ctx, body fiber.Map, inv models.Invalidation) error {
	if inv == nil {
		inv = models.Invalidation{}
	}
	body["invalidates"] = inv
	return c.JSON(body)
}

func paramInt(c *fiber.Ctx, name string) (int, error) {
	v, err := strconv.Atoi(c.Params(name))
	if err != nil {
		return 0, apperr.Validation("gateway", "%s must be an integer", name)
	}
	return v, nil
}

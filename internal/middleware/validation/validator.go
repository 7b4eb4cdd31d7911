package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/faqbot/console/internal/metrics"
)

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	// MaxFieldLength bounds every screened text field.
	MaxFieldLength      int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

func (cfg *Config) defaults() {
	if cfg.MaxFieldLength == 0 {
		cfg.MaxFieldLength = 10000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON, fiber.MIMEApplicationForm}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
}

// Middleware rejects request bodies in a content type the gateway does not
// parse.
func Middleware(cfg Config) fiber.Handler {
	cfg.defaults()

	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodPost, fiber.MethodPut, fiber.MethodPatch:
		default:
			return c.Next()
		}
		if len(c.Body()) == 0 {
			return c.Next()
		}

		contentType := c.Get(fiber.HeaderContentType)
		for _, allowed := range cfg.AllowedContentTypes {
			if strings.HasPrefix(strings.ToLower(contentType), allowed) {
				return c.Next()
			}
		}
		metrics.GatewayRejections.WithLabelValues("content_type").Inc()
		return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
			"error": "Unsupported content type",
		})
	}
}

// Fields screens the named string fields of a JSON body before it is
// forwarded. Oversized values and markup that would execute in a chat
// widget are rejected. NUL bytes are stripped and the body is rewritten.
// Fields that are absent or not strings are left to the handler.
func Fields(cfg Config, names ...string) fiber.Handler {
	cfg.defaults()

	return func(c *fiber.Ctx) error {
		if len(c.Body()) == 0 || !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
			return c.Next()
		}

		var req map[string]interface{}
		if err := c.App().Config().JSONDecoder(c.Body(), &req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		changed := false
		for _, name := range names {
			value, ok := req[name].(string)
			if !ok {
				continue
			}

			if len(value) > cfg.MaxFieldLength {
				metrics.GatewayRejections.WithLabelValues("field_length").Inc()
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": name + " exceeds maximum length",
				})
			}

			if containsXSS(value) {
				cfg.Logger.Warn("Rejected markup in request field",
					zap.String("ip", c.IP()),
					zap.String("path", c.Path()),
					zap.String("field", name),
				)
				metrics.GatewayRejections.WithLabelValues("markup").Inc()
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid " + name + " content",
				})
			}

			if clean := sanitizeString(value); clean != value {
				req[name] = clean
				changed = true
			}
		}

		if changed {
			body, err := c.App().Config().JSONEncoder(req)
			if err != nil {
				return err
			}
			c.Request().SetBody(body)
		}
		return c.Next()
	}
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}

func sanitizeString(input string) string {
	return strings.ReplaceAll(input, "\x00", "")
}

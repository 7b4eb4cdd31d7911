// Package api assembles the local console gateway: a Fiber app exposing the
// console as JSON for a UI.
package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/faqbot/console/internal/api/handlers"
	"github.com/faqbot/console/internal/console"
	"github.com/faqbot/console/internal/metrics"
	"github.com/faqbot/console/internal/middleware/ratelimit"
	"github.com/faqbot/console/internal/middleware/security"
	"github.com/faqbot/console/internal/middleware/validation"
	"github.com/faqbot/console/pkg/config"
	"github.com/faqbot/console/pkg/logger"
)

type Options struct {
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	BodyLimit          int
	AllowedOrigins     string
	RateLimitPerMinute int
	Development        bool
	AccessLog          bool
}

func OptionsFrom(cfg config.ServerConfig) Options {
	return Options{
		ReadTimeout:        time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout:       time.Duration(cfg.WriteTimeout) * time.Second,
		BodyLimit:          cfg.BodyLimit,
		AllowedOrigins:     cfg.AllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Development:        cfg.Development,
		AccessLog:          true,
	}
}

type Server struct {
	App      *fiber.App
	limiters []*ratelimit.Limiter
}

func New(con *console.Console, opts Options) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:           opts.ReadTimeout,
		WriteTimeout:          opts.WriteTimeout,
		BodyLimit:             opts.BodyLimit,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if opts.AccessLog {
		app.Use(fiberlogger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: opts.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: strings.Split(opts.AllowedOrigins, ","),
		IsDevelopment:  opts.Development,
	}))

	log := logger.Named("gateway")
	app.Use(validation.Middleware(validation.Config{Logger: log}))
	screen := func(fields ...string) fiber.Handler {
		return validation.Fields(validation.Config{Logger: log}, fields...)
	}

	s := &Server{App: app}
	authLimit := s.limiter(opts.RateLimitPerMinute)
	queryLimit := s.limiter(opts.RateLimitPerMinute)

	sessionHandler := handlers.NewSessionHandler(con)
	botHandler := handlers.NewBotHandler(con)
	contentHandler := handlers.NewContentHandler(con)
	queryHandler := handlers.NewQueryHandler(con)
	telegramHandler := handlers.NewTelegramHandler(con.Telegram)
	analyticsHandler := handlers.NewAnalyticsHandler(con)
	wsHandler := handlers.NewWebSocketHandler(con)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":        "healthy",
			"time":          time.Now().Unix(),
			"authenticated": con.Session.Authenticated(),
		})
	})
	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(wsHandler.HandleConnection))

	api := app.Group("/api/v1")

	api.Get("/session", sessionHandler.Current)
	api.Post("/session", authLimit, sessionHandler.Login)
	api.Delete("/session", sessionHandler.Logout)
	api.Post("/session/register", authLimit, sessionHandler.Register)

	api.Get("/dashboard", botHandler.Dashboard)

	api.Get("/bots", botHandler.List)
	api.Post("/bots", screen("name", "description"), botHandler.Create)
	api.Get("/bots/:id", botHandler.Get)
	api.Put("/bots/:id", screen("name", "description"), botHandler.Update)
	api.Delete("/bots/:id", botHandler.Delete)
	api.Post("/bots/:id/retrain", botHandler.Retrain)
	api.Put("/bots/:id/active", botHandler.SetActive)

	api.Get("/bots/:id/content", contentHandler.List)
	api.Post("/bots/:id/content", screen("question", "answer"), contentHandler.Add)
	api.Post("/bots/:id/content/import", contentHandler.Import)
	api.Delete("/bots/:id/content/:index", contentHandler.Remove)

	api.Post("/bots/:id/query", queryLimit, screen("question"), queryHandler.HandleQuery)
	api.Get("/history", queryHandler.GetQueryHistory)

	api.Get("/bots/:id/analytics", analyticsHandler.Bot)
	api.Get("/analytics/overview", analyticsHandler.Overview)
	api.Get("/analytics/trends", analyticsHandler.Trends)
	api.Get("/analytics/channels", analyticsHandler.Channels)
	api.Get("/analytics/top", analyticsHandler.TopQuestions)
	api.Get("/analytics/performance", analyticsHandler.Performance)

	api.Get("/telegram", telegramHandler.Status)
	api.Post("/telegram/refresh", telegramHandler.Refresh)
	api.Post("/telegram/start", telegramHandler.Start)
	api.Post("/telegram/stop", telegramHandler.Stop)
	api.Post("/telegram/bindings", screen("bot_name"), telegramHandler.Register)
	api.Delete("/telegram/bindings/:id", telegramHandler.Unregister)

	return s
}

func (s *Server) limiter(perMinute int) fiber.Handler {
	l := ratelimit.New(ratelimit.Config{
		PerMinute: perMinute,
		Logger:    logger.Named("ratelimit"),
	})
	s.limiters = append(s.limiters, l)
	return l.Handler()
}

func (s *Server) Listen(addr string) error {
	return s.App.Listen(addr)
}

// Shutdown stops accepting connections and releases the rate limiters.
func (s *Server) Shutdown() error {
	for _, l := range s.limiters {
		l.Stop()
	}
	return s.App.Shutdown()
}

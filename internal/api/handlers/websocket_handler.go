package handlers

import (
	"context"
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/faqbot/console/internal/apperr"
	"github.com/faqbot/console/internal/console"
	"github.com/faqbot/console/pkg/logger"
)

// WebSocketHandler lets a UI ask questions over one connection and pushes
// the console's local events to it.
type WebSocketHandler struct {
	console *console.Console
}

func NewWebSocketHandler(con *console.Console) *WebSocketHandler {
	return &WebSocketHandler{
		console: con,
	}
}

type wsMessage struct {
	Type     string `json:"type"`
	BotID    int    `json:"bot_id"`
	Question string `json:"question"`
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	events, unsubscribe := h.console.Events.Subscribe()
	var writeMu sync.Mutex
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return c.WriteJSON(v)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			if err := write(ev); err != nil {
				return
			}
		}
	}()

	defer func() {
		unsubscribe()
		<-done
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("WebSocket read ended", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "ask":
			if err := write(h.ask(msg)); err != nil {
				logger.Error("Failed to write WebSocket reply", zap.Error(err))
				return
			}
		case "ping":
			if err := write(map[string]string{"type": "pong"}); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) ask(msg wsMessage) map[string]any {
	entry, err := h.console.Ask(context.Background(), msg.BotID, msg.Question)
	if err != nil {
		return map[string]any{
			"type":   "error",
			"bot_id": msg.BotID,
			"error":  apperr.Detail(err),
			"status": apperr.HTTPStatus(err),
		}
	}
	return map[string]any{
		"type":       "result",
		"id":         entry.ID,
		"bot_id":     entry.BotID,
		"question":   entry.Result.Question,
		"answer":     entry.Result.Answer,
		"confidence": entry.Result.Confidence,
		"band":       entry.Result.Band(),
		"source_url": entry.Result.SourceURL,
		"latency_ms": entry.Latency.Milliseconds(),
	}
}

package api

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faqbot/console/internal/console/consoletest"
	"github.com/faqbot/console/internal/models"
)

func dialConsole(t *testing.T, h *harness) *websocket.Conn {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go h.server.App.Listener(ln)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] == typ {
			return msg
		}
	}
}

func TestWebSocketAsk(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.fake.AddBot("Campus FAQ", models.StatusActive)
	h.fake.SetAnswer(id, models.QueryResult{Answer: "In August.", Confidence: 0.6})
	_, err := h.con.Session.Login(context.Background(), consoletest.Email, consoletest.Password)
	require.NoError(t, err)

	conn := dialConsole(t, h)
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":     "ask",
		"bot_id":   id,
		"question": "When does term start?",
	}))

	// The reply and the pushed answer event may arrive in either order.
	got := map[string]map[string]any{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for len(got) < 2 {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		got[msg["type"].(string)] = msg
	}

	require.Contains(t, got, "result")
	assert.Equal(t, "In August.", got["result"]["answer"])
	assert.Equal(t, "warning", got["result"]["band"])

	require.Contains(t, got, "answer")
	payload := got["answer"]["payload"].(map[string]any)
	assert.EqualValues(t, id, payload["bot_id"])
}

func TestWebSocketAskUnknownBot(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.con.Session.Login(context.Background(), consoletest.Email, consoletest.Password)
	require.NoError(t, err)

	conn := dialConsole(t, h)
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ask", "bot_id": 9, "question": "Hi?"}))

	msg := readUntil(t, conn, "error")
	assert.EqualValues(t, 404, msg["status"])
}

func TestWebSocketPushesSessionEnd(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.con.Session.Login(context.Background(), consoletest.Email, consoletest.Password)
	require.NoError(t, err)

	conn := dialConsole(t, h)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	readUntil(t, conn, "pong")

	h.con.Session.Logout()
	readUntil(t, conn, "session_ended")
}

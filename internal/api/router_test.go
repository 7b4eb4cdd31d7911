package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faqbot/console/internal/cache"
	"github.com/faqbot/console/internal/console"
	"github.com/faqbot/console/internal/console/consoletest"
	"github.com/faqbot/console/internal/content"
	"github.com/faqbot/console/internal/models"
	"github.com/faqbot/console/internal/session"
)

type harness struct {
	t      *testing.T
	fake   *consoletest.Backend
	con    *console.Console
	server *Server
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	fake := consoletest.New(t)
	con := console.New(console.Deps{
		Client:            fake.Client(),
		Tokens:            session.NewMemoryStore(),
		Content:           content.NewMemoryRepository(),
		Cache:             cache.NewMemory(time.Hour),
		MaxQuestionLength: 200,
		TopQuestions:      10,
		TrendDays:         30,
	})
	if opts.RateLimitPerMinute == 0 {
		opts.RateLimitPerMinute = 100
	}
	if opts.AllowedOrigins == "" {
		opts.AllowedOrigins = "http://localhost:3000"
	}
	opts.Development = true
	s := New(con, opts)
	t.Cleanup(func() { s.Shutdown() })
	return &harness{t: t, fake: fake, con: con, server: s}
}

func (h *harness) do(method, path string, body any) (int, map[string]any) {
	h.t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		r = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.server.App.Test(req, -1)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(h.t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (h *harness) login() {
	h.t.Helper()
	status, _ := h.do(http.MethodPost, "/api/v1/session", map[string]string{
		"email":    consoletest.Email,
		"password": consoletest.Password,
	})
	require.Equal(h.t, http.StatusOK, status)
}

func TestHealthReportsSession(t *testing.T) {
	h := newHarness(t, Options{})

	status, body := h.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["authenticated"])

	h.login()
	_, body = h.do(http.MethodGet, "/health", nil)
	assert.Equal(t, true, body["authenticated"])
}

func TestSecurityHeaders(t *testing.T) {
	h := newHarness(t, Options{})

	resp, err := h.server.App.Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Contains(t, resp.Header.Get("Content-Security-Policy"), "connect-src 'self' http://localhost:3000")
}

func TestRequestsWithoutSessionAreUnauthorized(t *testing.T) {
	h := newHarness(t, Options{})

	status, body := h.do(http.MethodGet, "/api/v1/bots", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.NotEmpty(t, body["error"])
	assert.Zero(t, h.fake.Calls("GET /bots/{$}"))
}

func TestLoginWithWrongPassword(t *testing.T) {
	h := newHarness(t, Options{})

	status, body := h.do(http.MethodPost, "/api/v1/session", map[string]string{
		"email":    consoletest.Email,
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Incorrect email or password", body["error"])
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t, Options{})
	h.login()

	status, body := h.do(http.MethodGet, "/api/v1/session", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["authenticated"])
	user := body["user"].(map[string]any)
	assert.Equal(t, consoletest.Email, user["email"])

	status, _ = h.do(http.MethodDelete, "/api/v1/session", nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = h.do(http.MethodGet, "/api/v1/bots", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestCreateBotReportsInvalidation(t *testing.T) {
	h := newHarness(t, Options{})
	h.login()

	status, body := h.do(http.MethodPost, "/api/v1/bots", map[string]any{
		"name":        "Campus FAQ",
		"website_url": "https://uni.edu",
	})
	require.Equal(t, http.StatusCreated, status)
	bot := body["bot"].(map[string]any)
	assert.Equal(t, "training", bot["status"])
	assert.Contains(t, body["invalidates"], "bots")

	_, body = h.do(http.MethodGet, "/api/v1/bots?cached=true", nil)
	assert.Len(t, body["bots"], 1)
}

func TestCreateBotValidation(t *testing.T) {
	h := newHarness(t, Options{})
	h.login()

	status, _ := h.do(http.MethodPost, "/api/v1/bots", map[string]any{
		"name":        "Campus FAQ",
		"website_url": "ftp://uni.edu",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Zero(t, h.fake.Calls("POST /bots/{$}"))
}

func TestAskAndHistory(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.fake.AddBot("Campus FAQ", models.StatusActive)
	h.fake.SetAnswer(id, models.QueryResult{Answer: "In August.", Confidence: 0.92, SourceURL: "https://uni.edu/dates"})
	h.login()

	status, body := h.do(http.MethodPost, "/api/v1/bots/1/query", map[string]string{
		"question": "When does term start?",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "In August.", body["answer"])
	assert.Equal(t, "success", body["band"])
	assert.Equal(t, "When does term start?", body["question"])

	_, body = h.do(http.MethodGet, "/api/v1/history", nil)
	assert.Len(t, body["history"], 1)
	_, body = h.do(http.MethodGet, "/api/v1/history?bot_id=99", nil)
	assert.Len(t, body["history"], 0)
}

func TestAskUnknownBot(t *testing.T) {
	h := newHarness(t, Options{})
	h.login()

	status, _ := h.do(http.MethodPost, "/api/v1/bots/42/query", map[string]string{"question": "Hello?"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Zero(t, h.fake.Calls("POST /bots/{id}/query"))
}

func TestQuestionWithMarkupIsRejected(t *testing.T) {
	h := newHarness(t, Options{})
	h.fake.AddBot("Campus FAQ", models.StatusActive)
	h.login()

	status, body := h.do(http.MethodPost, "/api/v1/bots/1/query", map[string]string{
		"question": "<script>alert(1)</script>",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid question content", body["error"])
	assert.Zero(t, h.fake.Calls("POST /bots/{id}/query"))
}

func TestQuestionTooLong(t *testing.T) {
	h := newHarness(t, Options{})
	h.fake.AddBot("Campus FAQ", models.StatusActive)
	h.login()

	status, _ := h.do(http.MethodPost, "/api/v1/bots/1/query", map[string]string{
		"question": strings.Repeat("a", 201),
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Zero(t, h.fake.Calls("POST /bots/{id}/query"))
}

func TestUnsupportedContentType(t *testing.T) {
	h := newHarness(t, Options{})
	h.login()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bots", strings.NewReader("name=x"))
	req.Header.Set("Content-Type", "text/plain")
	resp, err := h.server.App.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestLoginIsRateLimited(t *testing.T) {
	h := newHarness(t, Options{RateLimitPerMinute: 2})
	creds := map[string]string{"email": consoletest.Email, "password": "wrong"}

	for i := 0; i < 2; i++ {
		status, _ := h.do(http.MethodPost, "/api/v1/session", creds)
		assert.Equal(t, http.StatusUnauthorized, status)
	}
	status, body := h.do(http.MethodPost, "/api/v1/session", creds)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.NotEmpty(t, body["error"])
	assert.Equal(t, 2, h.fake.Calls("POST /auth/login"))
}

func TestContentRoutes(t *testing.T) {
	h := newHarness(t, Options{})
	h.fake.AddBot("Campus FAQ", models.StatusActive)
	h.login()

	status, body := h.do(http.MethodPost, "/api/v1/bots/1/content", map[string]string{
		"question": "Where is the library?",
		"answer":   "North campus.",
	})
	require.Equal(t, http.StatusCreated, status)
	assert.Contains(t, body["invalidates"], "content")

	status, body = h.do(http.MethodPost, "/api/v1/bots/1/content/import", map[string]any{
		"pairs": []map[string]any{
			{"question": "Opening hours?", "answer": "8 to 22.", "confidence": 0.9},
		},
	})
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["imported"])

	_, body = h.do(http.MethodGet, "/api/v1/bots/1/content?q=library", nil)
	assert.EqualValues(t, 1, body["total"])

	status, _ = h.do(http.MethodDelete, "/api/v1/bots/1/content/0", nil)
	assert.Equal(t, http.StatusOK, status)
	_, body = h.do(http.MethodGet, "/api/v1/bots/1/content", nil)
	assert.EqualValues(t, 1, body["total"])

	status, _ = h.do(http.MethodGet, "/api/v1/bots/9/content", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestContentValidationPrecedesBotLookup(t *testing.T) {
	h := newHarness(t, Options{})
	h.fake.AddBot("Campus FAQ", models.StatusActive)
	h.login()

	status, _ := h.do(http.MethodPost, "/api/v1/bots/1/content", map[string]string{
		"question": " ",
		"answer":   "x",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = h.do(http.MethodPost, "/api/v1/bots/1/content/import", map[string]any{
		"pairs": []map[string]any{
			{"question": "Opening hours?", "answer": "8 to 22.", "confidence": 1.5},
		},
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = h.do(http.MethodPost, "/api/v1/bots/1/query", map[string]string{"question": "  "})
	assert.Equal(t, http.StatusBadRequest, status)

	assert.Zero(t, h.fake.Calls("GET /bots/{$}"))
	pairs, err := h.con.Content.List(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestTelegramRegisterRequiresRunningService(t *testing.T) {
	h := newHarness(t, Options{})
	h.login()

	binding := map[string]any{"bot_id": 555, "bot_name": "campus_bot"}
	status, _ := h.do(http.MethodPost, "/api/v1/telegram/bindings", binding)
	assert.Equal(t, http.StatusConflict, status)
	assert.Zero(t, h.fake.Calls("POST /telegram/register"))

	status, body := h.do(http.MethodPost, "/api/v1/telegram/start", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "running", body["state"])

	status, _ = h.do(http.MethodPost, "/api/v1/telegram/bindings", binding)
	assert.Equal(t, http.StatusCreated, status)

	_, body = h.do(http.MethodGet, "/api/v1/telegram", nil)
	assert.Len(t, body["bindings"], 1)

	status, _ = h.do(http.MethodDelete, "/api/v1/telegram/bindings/555", nil)
	assert.Equal(t, http.StatusOK, status)
	_, body = h.do(http.MethodGet, "/api/v1/telegram", nil)
	assert.Len(t, body["bindings"], 0)
}

func TestBackendFailureIsBadGateway(t *testing.T) {
	h := newHarness(t, Options{})
	h.login()
	h.fake.Fail("GET /bots/{$}", http.StatusInternalServerError)

	status, body := h.do(http.MethodGet, "/api/v1/bots", nil)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.EqualValues(t, http.StatusInternalServerError, body["backend_status"])
}

func TestOverviewServesStaleValueOnFailure(t *testing.T) {
	h := newHarness(t, Options{})
	h.fake.SetOverview(models.AnalyticsOverview{TotalBots: 3, TotalQueries: 40})
	h.login()

	status, body := h.do(http.MethodGet, "/api/v1/analytics/overview", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["stale"])

	h.fake.Fail("GET /analytics/overview", http.StatusServiceUnavailable)
	status, body = h.do(http.MethodGet, "/api/v1/analytics/overview", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["stale"])
	overview := body["overview"].(map[string]any)
	assert.EqualValues(t, 40, overview["total_queries"])
}

func TestWebSocketRouteRequiresUpgrade(t *testing.T) {
	h := newHarness(t, Options{})

	resp, err := h.server.App.Test(httptest.NewRequest(http.MethodGet, "/ws", nil), -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

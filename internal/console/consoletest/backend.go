// Package consoletest provides an in-process fake of the FAQ bot backend
// for tests of packages built on the console.
package consoletest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/faqbot/console/internal/backend"
	"github.com/faqbot/console/internal/models"
	"github.com/faqbot/console/pkg/circuitbreaker"
	"github.com/faqbot/console/pkg/retry"
)

const (
	Email    = "admin@uni.edu"
	Password = "s3cret"
	Token    = "valid-token"
)

// Backend serves the REST routes the console uses from in-memory state.
// Routes are keyed by their mux pattern, e.g. "GET /bots/{$}".
type Backend struct {
	Server *httptest.Server

	mu       sync.Mutex
	user     models.User
	bots     map[int]*models.Bot
	nextID   int
	overview models.AnalyticsOverview
	answers  map[int]models.QueryResult
	running  bool
	bindings map[int64]models.ChannelBinding
	calls    map[string]int
	fail     map[string]int
	holds    map[string]*hold
}

type hold struct {
	entered chan struct{}
	release chan struct{}
}

// New starts a fake backend that is stopped when tb finishes.
func New(tb testing.TB) *Backend {
	tb.Helper()
	b := &Backend{
		user:     models.User{ID: 7, Email: Email, FullName: "Admissions Office", IsActive: true},
		bots:     map[int]*models.Bot{},
		nextID:   1,
		overview: models.AnalyticsOverview{TotalBots: 0, TotalQueries: 0, ActiveUsers: 1},
		answers:  map[int]models.QueryResult{},
		bindings: map[int64]models.ChannelBinding{},
		calls:    map[string]int{},
		fail:     map[string]int{},
		holds:    map[string]*hold{},
	}
	b.Server = httptest.NewServer(b.routes())
	tb.Cleanup(b.Server.Close)
	return b
}

func (b *Backend) URL() string {
	return b.Server.URL
}

// Client returns a backend client for the fake that sends every request
// once and never opens its breaker during a test.
func (b *Backend) Client() *backend.Client {
	return backend.NewClient(backend.Options{
		BaseURL: b.URL(),
		Retry:   retry.Once(),
		Breaker: circuitbreaker.Config{FailureThreshold: 1000},
	})
}

// AddBot seeds a bot with the given status and returns its id.
func (b *Backend) AddBot(name string, status models.Status) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.bots[id] = &models.Bot{
		ID:        id,
		Name:      name,
		SourceURL: "https://uni.edu",
		Status:    status,
		Channels:  []models.Channel{models.ChannelWeb},
		Language:  models.LanguageEnglish,
		CreatedAt: models.NewTimestamp(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
	}
	return id
}

// SetBotStatus changes a bot's status as the backend's training job would.
func (b *Backend) SetBotStatus(id int, status models.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bot, ok := b.bots[id]; ok {
		bot.Status = status
	}
}

// RemoveBot deletes a bot behind the console's back.
func (b *Backend) RemoveBot(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.bots, id)
}

func (b *Backend) SetAnswer(botID int, r models.QueryResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.answers[botID] = r
}

func (b *Backend) SetOverview(ov models.AnalyticsOverview) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.overview = ov
}

// Fail makes route answer status until cleared with status 0.
func (b *Backend) Fail(route string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if status == 0 {
		delete(b.fail, route)
		return
	}
	b.fail[route] = status
}

// Hold blocks the next requests on route until release is called. entered
// is closed once a request reaches the route.
func (b *Backend) Hold(route string) (entered <-chan struct{}, release func()) {
	h := &hold{entered: make(chan struct{}), release: make(chan struct{})}
	b.mu.Lock()
	b.holds[route] = h
	b.mu.Unlock()
	var once sync.Once
	return h.entered, func() {
		once.Do(func() { close(h.release) })
	}
}

// Calls reports how many requests reached route.
func (b *Backend) Calls(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[route]
}

func (b *Backend) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *Backend) routes() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, public bool, fn http.HandlerFunc) {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			b.mu.Lock()
			b.calls[pattern]++
			status := b.fail[pattern]
			h := b.holds[pattern]
			delete(b.holds, pattern)
			b.mu.Unlock()

			if h != nil {
				close(h.entered)
				<-h.release
			}
			if !public && r.Header.Get("Authorization") != "Bearer "+Token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Could not validate credentials"})
				return
			}
			if status != 0 {
				writeJSON(w, status, map[string]string{"detail": fmt.Sprintf("injected failure on %s", pattern)})
				return
			}
			fn(w, r)
		})
	}

	handle("POST /auth/login", true, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "bad form"})
			return
		}
		b.mu.Lock()
		email := b.user.Email
		b.mu.Unlock()
		if r.PostForm.Get("username") != email || r.PostForm.Get("password") != Password {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect email or password"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"access_token": Token, "token_type": "bearer"})
	})
	handle("POST /auth/register", true, func(w http.ResponseWriter, r *http.Request) {
		var reg models.Registration
		if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid body"})
			return
		}
		b.mu.Lock()
		b.user = models.User{ID: 8, Email: reg.Email, FullName: reg.FullName, Organization: reg.Organization, IsActive: true}
		u := b.user
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, u)
	})
	handle("GET /auth/me", false, func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		writeJSON(w, http.StatusOK, b.user)
	})

	handle("GET /bots/{$}", false, func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		writeJSON(w, http.StatusOK, b.sortedBots())
	})
	handle("POST /bots/{$}", false, func(w http.ResponseWriter, r *http.Request) {
		var in models.CreateBotInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid body"})
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		bot := &models.Bot{
			ID:          b.nextID,
			Name:        in.Name,
			SourceURL:   in.SourceURL,
			Description: in.Description,
			Status:      models.StatusTraining,
			Channels:    in.Channels,
			Language:    in.Language,
			CreatedAt:   models.NewTimestamp(time.Now().UTC()),
		}
		b.bots[bot.ID] = bot
		b.nextID++
		writeJSON(w, http.StatusOK, bot)
	})
	handle("GET /bots/{id}", false, b.withBot(func(w http.ResponseWriter, r *http.Request, bot *models.Bot) {
		writeJSON(w, http.StatusOK, bot)
	}))
	handle("PUT /bots/{id}", false, b.withBot(func(w http.ResponseWriter, r *http.Request, bot *models.Bot) {
		var u models.BotUpdate
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid body"})
			return
		}
		if u.Name != nil {
			bot.Name = *u.Name
		}
		if u.Description != nil {
			bot.Description = *u.Description
		}
		if u.Channels != nil {
			bot.Channels = u.Channels
		}
		if u.Language != nil {
			bot.Language = *u.Language
		}
		if u.Status != nil {
			bot.Status = *u.Status
		}
		writeJSON(w, http.StatusOK, bot)
	}))
	handle("DELETE /bots/{id}", false, b.withBot(func(w http.ResponseWriter, r *http.Request, bot *models.Bot) {
		delete(b.bots, bot.ID)
		writeJSON(w, http.StatusOK, map[string]string{"message": "Bot deleted successfully"})
	}))
	handle("POST /bots/{id}/train", false, b.withBot(func(w http.ResponseWriter, r *http.Request, bot *models.Bot) {
		bot.Status = models.StatusTraining
		writeJSON(w, http.StatusOK, map[string]string{"message": "Training started", "status": "training"})
	}))
	handle("POST /bots/{id}/query", false, b.withBot(func(w http.ResponseWriter, r *http.Request, bot *models.Bot) {
		res, ok := b.answers[bot.ID]
		if !ok {
			res = models.QueryResult{Answer: "I don't know yet.", Confidence: 0.5}
		}
		res.Question = r.URL.Query().Get("question")
		bot.TotalQueries++
		writeJSON(w, http.StatusOK, res)
	}))
	handle("GET /bots/{id}/analytics", false, b.withBot(func(w http.ResponseWriter, r *http.Request, bot *models.Bot) {
		writeJSON(w, http.StatusOK, map[string]any{
			"bot_id":         bot.ID,
			"total_queries":  bot.TotalQueries,
			"status":         bot.Status,
			"top_questions":  []string{},
			"response_times": map[string]float64{"average": 0, "min": 0, "max": 0},
		})
	}))

	handle("GET /analytics/overview", false, func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		ov := b.overview
		ov.TotalBots = len(b.bots)
		writeJSON(w, http.StatusOK, ov)
	})
	handle("GET /analytics/queries/trends", false, func(w http.ResponseWriter, r *http.Request) {
		days, _ := strconv.Atoi(r.URL.Query().Get("days"))
		trends := make([]models.QueryTrend, 0, days)
		for i := 0; i < days; i++ {
			trends = append(trends, models.QueryTrend{
				Date:     time.Date(2024, 3, 30-i, 0, 0, 0, 0, time.UTC).Format("2006-01-02"),
				Queries:  int64(10 * (i + 1)),
				Accuracy: 0.9,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"trends": trends})
	})
	handle("GET /analytics/channels/stats", false, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []models.ChannelUsage{
			{Channel: models.ChannelTelegram, Queries: 30, Percentage: 60},
			{Channel: models.ChannelWeb, Queries: 20, Percentage: 40},
		})
	})
	handle("GET /analytics/questions/top", false, func(w http.ResponseWriter, r *http.Request) {
		acc := 0.92
		writeJSON(w, http.StatusOK, []models.TopQuestion{{Question: "How do I apply for admission?", Count: 245, Accuracy: &acc}})
	})
	handle("GET /analytics/performance", false, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, models.Performance{
			ResponseTimes:      map[string]float64{"average": 1.3},
			AccuracyByLanguage: map[string]float64{"en": 0.91},
		})
	})

	handle("POST /telegram/start", false, func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.running = true
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"message": "Telegram bot service started"})
	})
	handle("POST /telegram/stop", false, func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"message": "Telegram bot service stopped"})
	})
	handle("POST /telegram/register", false, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			BotID      int64  `json:"bot_id"`
			BotName    string `json:"bot_name"`
			WebhookURL string `json:"webhook_url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid body"})
			return
		}
		b.mu.Lock()
		b.bindings[body.BotID] = models.ChannelBinding{ChannelBotID: body.BotID, BotName: body.BotName, WebhookURL: body.WebhookURL, IsActive: true}
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"message": "Bot registered successfully"})
	})
	handle("DELETE /telegram/{id}", false, func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.bindings[id]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Bot not found"})
			return
		}
		delete(b.bindings, id)
		writeJSON(w, http.StatusOK, map[string]string{"message": "Bot unregistered successfully"})
	})
	handle("GET /telegram/bots", false, func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		ids := make([]int64, 0, len(b.bindings))
		for id := range b.bindings {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		writeJSON(w, http.StatusOK, map[string]any{"bots": ids, "total": len(ids)})
	})
	handle("GET /telegram/stats", false, func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		writeJSON(w, http.StatusOK, models.ChannelStats{ActiveBots: len(b.bindings), Bots: []int64{}})
	})
	handle("GET /telegram/status", false, func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		writeJSON(w, http.StatusOK, models.ServiceStatus{IsRunning: b.running, ActiveBots: len(b.bindings)})
	})
	return mux
}

// withBot resolves {id} and holds b.mu while fn runs.
func (b *Backend) withBot(fn func(http.ResponseWriter, *http.Request, *models.Bot)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(strings.TrimSpace(r.PathValue("id")))
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid id"})
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		bot, ok := b.bots[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Bot not found"})
			return
		}
		fn(w, r, bot)
	}
}

// Caller holds b.mu.
func (b *Backend) sortedBots() []models.Bot {
	out := make([]models.Bot, 0, len(b.bots))
	for _, bot := range b.bots {
		out = append(out, *bot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

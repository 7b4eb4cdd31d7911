package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faqbot/console/internal/apperr"
	"github.com/faqbot/console/internal/backend"
	"github.com/faqbot/console/internal/models"
	"github.com/faqbot/console/pkg/retry"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }
func (s staticToken) Invalidate(string, error) {}

// fakeTelegram mimics the backend's telegram routes.
type fakeTelegram struct {
	mu        sync.Mutex
	running   bool
	bots      map[int64]bool
	calls     map[string]int
	registers []map[string]any
	listRaw   string
}

func newFakeTelegram() *fakeTelegram {
	return &fakeTelegram{bots: map[int64]bool{}, calls: map[string]int{}}
}

func (f *fakeTelegram) handler() http.Handler {
	mux := http.NewServeMux()
	count := func(name string) {
		f.mu.Lock()
		f.calls[name]++
		f.mu.Unlock()
	}
	mux.HandleFunc("POST /telegram/start", func(w http.ResponseWriter, r *http.Request) {
		count("start")
		f.mu.Lock()
		f.running = true
		f.mu.Unlock()
		w.Write([]byte(`{"message":"Telegram bot service started"}`))
	})
	mux.HandleFunc("POST /telegram/stop", func(w http.ResponseWriter, r *http.Request) {
		count("stop")
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
		w.Write([]byte(`{"message":"Telegram bot service stopped"}`))
	})
	mux.HandleFunc("POST /telegram/register", func(w http.ResponseWriter, r *http.Request) {
		count("register")
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		f.mu.Lock()
		f.registers = append(f.registers, body)
		f.bots[int64(body["bot_id"].(float64))] = true
		f.mu.Unlock()
		w.Write([]byte(`{"message":"registered"}`))
	})
	mux.HandleFunc("DELETE /telegram/{id}", func(w http.ResponseWriter, r *http.Request) {
		count("unregister")
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.bots[id] {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail":"Bot not found"}`))
			return
		}
		delete(f.bots, id)
		w.Write([]byte(`{"message":"unregistered"}`))
	})
	mux.HandleFunc("GET /telegram/bots", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.listRaw != "" {
			w.Write([]byte(f.listRaw))
			return
		}
		ids := make([]int64, 0, len(f.bots))
		for id := range f.bots {
			ids = append(ids, id)
		}
		json.NewEncoder(w).Encode(map[string]any{"bots": ids, "total": len(ids)})
	})
	mux.HandleFunc("GET /telegram/stats", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"active_bots": len(f.bots), "total_queries": 12, "active_users": 3, "bots": []int64{}})
	})
	mux.HandleFunc("GET /telegram/status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"is_running": f.running, "active_bots": len(f.bots)})
	})
	return mux
}

func (f *fakeTelegram) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func newController(tb testing.TB, f *fakeTelegram) *Controller {
	tb.Helper()
	srv := httptest.NewServer(f.handler())
	tb.Cleanup(srv.Close)
	client := backend.NewClient(backend.Options{BaseURL: srv.URL, Retry: retry.Once()})
	client.SetAuthenticator(staticToken("tok"))
	return NewTelegram(client)
}

func TestStartsStopped(t *testing.T) {
	c := newController(t, newFakeTelegram())
	assert.Equal(t, models.ServiceStopped, c.State())
	assert.Empty(t, c.Bindings())
}

func TestStartTwiceIsOneTransition(t *testing.T) {
	f := newFakeTelegram()
	c := newController(t, f)

	var transitions [][2]models.ServiceState
	c.OnStateChange(func(from, to models.ServiceState) {
		transitions = append(transitions, [2]models.ServiceState{from, to})
	})

	inv, err := c.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, inv.Has(models.CollectionChannel))

	inv, err = c.Start(context.Background())
	require.NoError(t, err)
	assert.Nil(t, inv)

	assert.Equal(t, models.ServiceRunning, c.State())
	assert.Equal(t, 1, f.count("start"))
	assert.Equal(t, [][2]models.ServiceState{{models.ServiceStopped, models.ServiceRunning}}, transitions)

	_, err = c.Stop(context.Background())
	require.NoError(t, err)
	_, err = c.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.count("stop"))
	assert.Len(t, transitions, 2)
}

func TestRegisterWhileStoppedIsRejectedLocally(t *testing.T) {
	f := newFakeTelegram()
	c := newController(t, f)

	_, _, err := c.Register(context.Background(), models.BindingInput{ChannelBotID: 42, BotName: "admissions"})
	assert.ErrorIs(t, err, apperr.ErrPrecondition)
	assert.Zero(t, f.count("register"))
	assert.Empty(t, c.Bindings())
}

func TestRegisterSendsBindingAndTracksIt(t *testing.T) {
	f := newFakeTelegram()
	c := newController(t, f)
	_, err := c.Start(context.Background())
	require.NoError(t, err)

	_, _, err = c.Register(context.Background(), models.BindingInput{BotName: "x"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, _, err = c.Register(context.Background(), models.BindingInput{ChannelBotID: 7, BotName: "  "})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Zero(t, f.count("register"))

	b, inv, err := c.Register(context.Background(), models.BindingInput{
		ChannelBotID: 42,
		BotName:      " admissions ",
		Token:        "123:abc",
		WebhookURL:   "https://example.org/hook",
	})
	require.NoError(t, err)
	assert.Equal(t, "admissions", b.BotName)
	assert.True(t, b.IsActive)
	assert.True(t, inv.Has(models.CollectionBindings))

	f.mu.Lock()
	registers := f.registers
	f.mu.Unlock()
	require.Len(t, registers, 1)
	sent := registers[0]
	assert.Equal(t, float64(42), sent["bot_id"])
	assert.Equal(t, "admissions", sent["bot_name"])
	assert.Equal(t, "123:abc", sent["bot_token"])
	assert.Equal(t, true, sent["is_active"])

	require.Len(t, c.Bindings(), 1)
	assert.Equal(t, int64(42), c.Bindings()[0].ChannelBotID)
}

func TestUnregisterWorksWhileStopped(t *testing.T) {
	f := newFakeTelegram()
	c := newController(t, f)
	_, err := c.Start(context.Background())
	require.NoError(t, err)
	_, _, err = c.Register(context.Background(), models.BindingInput{ChannelBotID: 42, BotName: "admissions"})
	require.NoError(t, err)
	_, err = c.Stop(context.Background())
	require.NoError(t, err)

	inv, err := c.Unregister(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, inv.Has(models.CollectionBindings))
	assert.Empty(t, c.Bindings())
	assert.Equal(t, 1, f.count("unregister"))
}

func TestUnregisterUnknownBindingStillClearsLocally(t *testing.T) {
	f := newFakeTelegram()
	c := newController(t, f)
	c.bindings = []models.ChannelBinding{{ChannelBotID: 9, BotName: "stale"}}

	_, err := c.Unregister(context.Background(), 9)
	require.NoError(t, err)
	assert.Empty(t, c.Bindings())

	_, err = c.Unregister(context.Background(), 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestRefreshReadsEnvelopeAndState(t *testing.T) {
	f := newFakeTelegram()
	f.running = true
	f.bots[5] = true
	c := newController(t, f)

	var changes int
	c.OnStateChange(func(from, to models.ServiceState) { changes++ })

	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, models.ServiceRunning, c.State())
	assert.Equal(t, 1, changes)
	require.Len(t, c.Bindings(), 1)
	assert.Equal(t, "bot 5", c.Bindings()[0].BotName)
	assert.Equal(t, int64(12), c.Stats().TotalQueries)
}

func TestRefreshKeepsLocalNames(t *testing.T) {
	f := newFakeTelegram()
	c := newController(t, f)
	_, err := c.Start(context.Background())
	require.NoError(t, err)
	_, _, err = c.Register(context.Background(), models.BindingInput{ChannelBotID: 42, BotName: "admissions"})
	require.NoError(t, err)

	require.NoError(t, c.Refresh(context.Background()))
	require.Len(t, c.Bindings(), 1)
	assert.Equal(t, "admissions", c.Bindings()[0].BotName)
}

func TestRefreshAcceptsBareList(t *testing.T) {
	f := newFakeTelegram()
	f.listRaw = `[{"bot_id":3,"bot_name":"fees","is_active":false,"total_queries":4}]`
	c := newController(t, f)

	require.NoError(t, c.Refresh(context.Background()))
	require.Len(t, c.Bindings(), 1)
	assert.Equal(t, "fees", c.Bindings()[0].BotName)
	assert.False(t, c.Bindings()[0].IsActive)
	assert.Equal(t, models.ServiceStopped, c.State())
}

func TestRefreshFailureKeepsPreviousData(t *testing.T) {
	f := newFakeTelegram()
	f.bots[5] = true
	c := newController(t, f)
	require.NoError(t, c.Refresh(context.Background()))

	f.mu.Lock()
	f.listRaw = `{"bots": "nope"}`
	f.mu.Unlock()
	assert.Error(t, c.Refresh(context.Background()))
	assert.Len(t, c.Bindings(), 1)
}

func TestReset(t *testing.T) {
	f := newFakeTelegram()
	c := newController(t, f)
	_, err := c.Start(context.Background())
	require.NoError(t, err)
	_, _, err = c.Register(context.Background(), models.BindingInput{ChannelBotID: 1, BotName: "a"})
	require.NoError(t, err)

	c.Reset()
	assert.Equal(t, models.ServiceStopped, c.State())
	assert.Empty(t, c.Bindings())
}

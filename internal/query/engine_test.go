package query

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
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

// answerer replies with the next canned response for every question.
type answerer struct {
	calls     int32
	status    int
	body      string
	questions []string
}

func (a *answerer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&a.calls, 1)
	a.questions = append(a.questions, r.URL.Query().Get("question"))
	if a.status != 0 {
		w.WriteHeader(a.status)
	}
	w.Write([]byte(a.body))
}

func newEngine(t *testing.T, a *answerer) *Engine {
	t.Helper()
	srv := httptest.NewServer(a)
	t.Cleanup(srv.Close)
	client := backend.NewClient(backend.Options{BaseURL: srv.URL, Retry: retry.Once()})
	client.SetAuthenticator(staticToken("tok"))
	return NewEngine(client, 200)
}

func TestAskSuccessIsBandedAndRecorded(t *testing.T) {
	a := &answerer{body: `{"question":"How do I apply for admission?","answer":"Apply online.","confidence":0.92,"source_url":"https://uni.edu/apply"}`}
	e := newEngine(t, a)

	var observed []models.HistoryEntry
	e.OnAnswer(func(h models.HistoryEntry) { observed = append(observed, h) })

	entry, err := e.Ask(context.Background(), 3, "  How do I apply for admission?  ")
	require.NoError(t, err)
	assert.Equal(t, models.BandSuccess, entry.Result.Band())
	assert.Equal(t, "https://uni.edu/apply", entry.Result.SourceURL)
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.AskedAt.IsZero())
	assert.Equal(t, []string{"How do I apply for admission?"}, a.questions)

	hist := e.History()
	require.Len(t, hist, 1)
	assert.Equal(t, entry, hist[0])
	assert.Len(t, observed, 1)
}

func TestAskRejectsBlankQuestion(t *testing.T) {
	a := &answerer{body: `{}`}
	e := newEngine(t, a)

	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := e.Ask(context.Background(), 1, q)
		assert.ErrorIs(t, err, apperr.ErrValidation)
	}
	_, err := e.Ask(context.Background(), 1, string(make([]byte, 201)))
	assert.Error(t, err)
	assert.Zero(t, atomic.LoadInt32(&a.calls))
	assert.Empty(t, e.History())
}

func TestFailedAskLeavesHistoryUntouched(t *testing.T) {
	a := &answerer{body: `{"answer":"Apply online.","confidence":0.7}`}
	e := newEngine(t, a)

	_, err := e.Ask(context.Background(), 1, "first")
	require.NoError(t, err)
	_, err = e.Ask(context.Background(), 1, "second")
	require.NoError(t, err)
	before, err := json.Marshal(e.History())
	require.NoError(t, err)

	a.status = http.StatusBadRequest
	a.body = `{"detail":"Bot is not active"}`
	_, err = e.Ask(context.Background(), 1, "third")
	assert.ErrorIs(t, err, apperr.ErrBackend)
	assert.Equal(t, "Bot is not active", apperr.Detail(err))

	after, err := json.Marshal(e.History())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestOutOfRangeConfidenceIsRejected(t *testing.T) {
	a := &answerer{body: `{"answer":"?","confidence":1.3}`}
	e := newEngine(t, a)

	_, err := e.Ask(context.Background(), 1, "q")
	assert.ErrorIs(t, err, apperr.ErrBackend)
	assert.Empty(t, e.History())
}

func TestHistoryKeepsIssuanceOrder(t *testing.T) {
	e := &Engine{}
	e.insert(models.HistoryEntry{Sequence: 2})
	e.insert(models.HistoryEntry{Sequence: 1})
	e.insert(models.HistoryEntry{Sequence: 3})

	hist := e.History()
	require.Len(t, hist, 3)
	for i, h := range hist {
		assert.Equal(t, i+1, h.Sequence)
	}
}

func TestHistoryForAndClear(t *testing.T) {
	a := &answerer{body: `{"answer":"a","confidence":0.5}`}
	e := newEngine(t, a)

	_, err := e.Ask(context.Background(), 1, "q1")
	require.NoError(t, err)
	_, err = e.Ask(context.Background(), 2, "q2")
	require.NoError(t, err)

	assert.Len(t, e.HistoryFor(2), 1)
	assert.Equal(t, models.BandError, e.HistoryFor(2)[0].Result.Band())

	e.Clear()
	assert.Empty(t, e.History())
}

func TestValidate(t *testing.T) {
	q, err := Validate("  Where is the library?  ", 50)
	require.NoError(t, err)
	assert.Equal(t, "Where is the library?", q)

	_, err = Validate("\t", 50)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = Validate("abcdef", 5)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = Validate("abcdef", 0)
	assert.NoError(t, err)
}

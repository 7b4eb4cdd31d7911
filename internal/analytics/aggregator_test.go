package analytics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faqbot/console/internal/apperr"
	"github.com/faqbot/console/internal/backend"
	"github.com/faqbot/console/internal/cache"
	"github.com/faqbot/console/internal/models"
	"github.com/faqbot/console/pkg/retry"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }
func (s staticToken) Invalidate(string, error) {}

// switchable serves body with status until changed.
type switchable struct {
	mu     sync.Mutex
	status int
	body   string
	query  string
}

func (s *switchable) set(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.body = status, body
}

func (s *switchable) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.query = r.URL.RawQuery
	if s.status != 0 {
		w.WriteHeader(s.status)
	}
	w.Write([]byte(s.body))
}

func (s *switchable) lastQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

func newAggregator(t *testing.T, h http.Handler, opts ...Option) *Aggregator {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client := backend.NewClient(backend.Options{BaseURL: srv.URL, Retry: retry.Once()})
	client.SetAuthenticator(staticToken("tok"))
	return New(client, opts...)
}

func TestOverviewPassesThrough(t *testing.T) {
	s := &switchable{body: `{"total_bots":3,"total_queries":5420,"active_users":15,"accuracy_avg":0.89,"response_time_avg":1.3}`}
	a := newAggregator(t, s)

	ov, err := a.Overview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.AnalyticsOverview{TotalBots: 3, TotalQueries: 5420, ActiveUsers: 15, AccuracyAvg: 0.89, ResponseTimeAvg: 1.3}, *ov)
}

func TestOverviewFailureKeepsLastUntilNextSuccess(t *testing.T) {
	s := &switchable{body: `{"total_bots":3,"total_queries":10}`}
	a := newAggregator(t, s)

	_, err := a.Overview(context.Background())
	require.NoError(t, err)

	s.set(http.StatusServiceUnavailable, `{"detail":"analytics unavailable"}`)
	ov, err := a.Overview(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.Retryable(err))
	require.NotNil(t, ov)
	assert.Equal(t, int64(10), ov.TotalQueries)

	s.set(http.StatusOK, `{"total_bots":4,"total_queries":11}`)
	ov, err = a.Overview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, ov.TotalBots)
	assert.Equal(t, int64(11), a.LastOverview().TotalQueries)
}

func TestOverviewFallsBackToCache(t *testing.T) {
	c := cache.NewMemory(time.Hour)
	owner := func() string { return "7" }

	s := &switchable{body: `{"total_bots":2,"total_queries":5}`}
	a := newAggregator(t, s, WithCache(c, owner))
	_, err := a.Overview(context.Background())
	require.NoError(t, err)

	s.set(http.StatusBadGateway, `bad gateway`)
	fresh := newAggregator(t, s, WithCache(c, owner))
	ov, err := fresh.Overview(context.Background())
	require.Error(t, err)
	require.NotNil(t, ov)
	assert.Equal(t, 2, ov.TotalBots)

	fresh.Reset()
	assert.Nil(t, fresh.LastOverview())
}

func TestBotAnalyticsZeroQueries(t *testing.T) {
	s := &switchable{body: `{"bot_id":5,"total_queries":0,"top_questions":null,"response_times":{"average":0,"min":0,"max":0}}`}
	a := newAggregator(t, s)

	ba, err := a.BotAnalytics(context.Background(), 5)
	require.NoError(t, err)
	assert.NotNil(t, ba.TopQuestions)
	assert.Empty(t, ba.TopQuestions)
	assert.Zero(t, ba.TotalQueries)
	assert.Equal(t, models.ResponseTimes{}, ba.ResponseTimes)
}

func TestBotAnalyticsClampsAndAcceptsStrings(t *testing.T) {
	s := &switchable{body: `{"total_queries":150,"accuracy_score":1.4,"status":"active",
		"last_trained":"2024-03-01T10:00:00","top_questions":["How do I apply?",{"question":"Fees?","count":3,"accuracy":-0.2}],
		"response_times":{"average":1.2,"min":0.5,"max":3.1}}`}
	a := newAggregator(t, s)

	ba, err := a.BotAnalytics(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, 9, ba.BotID)
	assert.Equal(t, 1.0, *ba.AccuracyScore)
	require.Len(t, ba.TopQuestions, 2)
	assert.Equal(t, "How do I apply?", ba.TopQuestions[0].Question)
	assert.Nil(t, ba.TopQuestions[0].Accuracy)
	assert.Equal(t, 0.0, *ba.TopQuestions[1].Accuracy)
	assert.Equal(t, 3.1, ba.ResponseTimes.Max)
	require.NotNil(t, ba.LastTrained)
	assert.Equal(t, 2024, ba.LastTrained.Year())
}

func TestQueryTrendsEnvelopeAndDefaults(t *testing.T) {
	s := &switchable{body: `{"trends":[{"date":"2024-03-02","queries":40,"accuracy":0.9},{"date":"2024-03-01","queries":60,"accuracy":0.85}]}`}
	a := newAggregator(t, s, WithDefaults(5, 14))

	trends, err := a.QueryTrends(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, trends, 2)
	assert.Equal(t, "days=14", s.lastQuery())

	_, err = a.QueryTrends(context.Background(), -1)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	s.set(http.StatusOK, `[{"date":"2024-03-01","queries":1,"accuracy":0.5}]`)
	trends, err = a.QueryTrends(context.Background(), 7)
	require.NoError(t, err)
	assert.Len(t, trends, 1)
}

func TestTopQuestionsTruncatesToLimit(t *testing.T) {
	s := &switchable{body: `[{"question":"a","count":3,"accuracy":0.9},{"question":"b","count":2,"accuracy":0.8},{"question":"c","count":1,"accuracy":0.7}]`}
	a := newAggregator(t, s)

	top, err := a.TopQuestions(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)
	assert.Equal(t, "limit=2", s.lastQuery())
}

func TestPerformanceAndChannels(t *testing.T) {
	s := &switchable{body: `{"response_times":{"average":1.3,"p95":2.8},"accuracy_by_language":{"en":0.91,"et":1.5},"uptime":{"last_24h":99.8}}`}
	a := newAggregator(t, s)

	p, err := a.Performance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.AccuracyByLanguage["et"])
	assert.Equal(t, 99.8, p.Uptime["last_24h"])

	s.set(http.StatusOK, `[{"channel":"telegram","queries":3200,"percentage":59.0}]`)
	usage, err := a.ChannelStats(context.Background())
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, models.ChannelTelegram, usage[0].Channel)
}

func TestSummarizeTrends(t *testing.T) {
	summary, err := SummarizeTrends(nil)
	require.NoError(t, err)
	assert.Equal(t, models.TrendSummary{}, summary)

	summary, err = SummarizeTrends([]models.QueryTrend{
		{Queries: 10, Accuracy: 0.8},
		{Queries: 20, Accuracy: 0.9},
		{Queries: 30, Accuracy: 1.0},
		{Queries: 40, Accuracy: 0.9},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Days)
	assert.Equal(t, int64(100), summary.TotalQueries)
	assert.InDelta(t, 25, summary.MeanDaily, 1e-9)
	assert.InDelta(t, 25, summary.MedianDaily, 1e-9)
	assert.GreaterOrEqual(t, summary.P95Daily, summary.MedianDaily)
	assert.LessOrEqual(t, summary.P95Daily, 40.0)
	assert.InDelta(t, 0.9, summary.MeanAccuracy, 1e-9)

	one, err := SummarizeTrends([]models.QueryTrend{{Queries: 7, Accuracy: 0.5}})
	require.NoError(t, err)
	assert.Equal(t, 7.0, one.P95Daily)
}

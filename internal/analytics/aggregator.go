// Package analytics reads the backend's precomputed rollups. Nothing here
// recomputes backend figures; local summaries are derived only from series
// the backend returned.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"

	"github.com/faqbot/console/internal/apperr"
	"github.com/faqbot/console/internal/backend"
	"github.com/faqbot/console/internal/cache"
	"github.com/faqbot/console/internal/models"
	"github.com/faqbot/console/pkg/logger"
	"github.com/faqbot/console/pkg/utils"
)

type Option func(*Aggregator)

// WithCache keeps the last good overview in c so a restarted console can
// show it before the backend answers.
func WithCache(c cache.SnapshotCache, owner func() string) Option {
	return func(a *Aggregator) {
		a.cache = c
		a.owner = owner
	}
}

// WithDefaults sets the limit and window used when callers pass zero.
func WithDefaults(topQuestions, trendDays int) Option {
	return func(a *Aggregator) {
		a.topQuestions = topQuestions
		a.trendDays = trendDays
	}
}

type Aggregator struct {
	client       *backend.Client
	cache        cache.SnapshotCache
	owner        func() string
	log          *zap.Logger
	topQuestions int
	trendDays    int

	mu       sync.RWMutex
	epoch    int
	overview *models.AnalyticsOverview
}

func New(client *backend.Client, opts ...Option) *Aggregator {
	a := &Aggregator{
		client:       client,
		log:          logger.Named("analytics"),
		topQuestions: 10,
		trendDays:    30,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Overview fetches the tenant rollup and passes it through unmodified. On
// failure the error is returned together with the last good value, which is
// replaced by the next successful fetch.
func (a *Aggregator) Overview(ctx context.Context) (*models.AnalyticsOverview, error) {
	a.mu.RLock()
	epoch := a.epoch
	a.mu.RUnlock()

	var ov models.AnalyticsOverview
	err := a.client.Do(ctx, backend.Request{Method: http.MethodGet, Path: "/analytics/overview"}, &ov)
	if err != nil {
		a.fallback(ctx)
		return a.LastOverview(), err
	}

	a.mu.Lock()
	if epoch != a.epoch {
		a.mu.Unlock()
		out := ov
		return &out, nil
	}
	a.overview = &ov
	a.mu.Unlock()

	if a.cache != nil {
		if err := a.cache.Set(ctx, a.cacheKey(), ov); err != nil {
			a.log.Warn("Failed to cache analytics overview", zap.Error(err))
		}
	}
	out := ov
	return &out, nil
}

// LastOverview is the most recent overview, or nil before the first success.
func (a *Aggregator) LastOverview() *models.AnalyticsOverview {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.overview == nil {
		return nil
	}
	out := *a.overview
	return &out
}

// BotAnalytics fetches one bot's rollup. A bot with no traffic yields an
// empty top-question list and zero counters.
func (a *Aggregator) BotAnalytics(ctx context.Context, botID int) (models.BotAnalytics, error) {
	var ba models.BotAnalytics
	err := a.client.Do(ctx, backend.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/bots/%d/analytics", botID),
		Route:  "/bots/{id}/analytics",
	}, &ba)
	if err != nil {
		return models.BotAnalytics{}, err
	}
	if ba.BotID == 0 {
		ba.BotID = botID
	}
	ba.Normalize()
	return ba, nil
}

// QueryTrends returns the daily series for the last days days. Zero means
// the configured default window.
func (a *Aggregator) QueryTrends(ctx context.Context, days int) ([]models.QueryTrend, error) {
	if days == 0 {
		days = a.trendDays
	}
	if days < 0 || days > 365 {
		return nil, apperr.Validation("analytics.trends", "days must be between 1 and 365")
	}

	var raw json.RawMessage
	err := a.client.Do(ctx, backend.Request{
		Method: http.MethodGet,
		Path:   "/analytics/queries/trends",
		Query:  url.Values{"days": {strconv.Itoa(days)}},
	}, &raw)
	if err != nil {
		return nil, err
	}

	var trends []models.QueryTrend
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		err = json.Unmarshal(raw, &trends)
	} else {
		var envelope struct {
			Trends []models.QueryTrend `json:"trends"`
		}
		err = json.Unmarshal(raw, &envelope)
		trends = envelope.Trends
	}
	if err != nil {
		return nil, apperr.Backend("analytics.trends", 0, fmt.Sprintf("malformed trend series: %v", err))
	}

	if trends == nil {
		trends = []models.QueryTrend{}
	}
	for i := range trends {
		trends[i].Accuracy = models.ClampUnit(trends[i].Accuracy)
	}
	return trends, nil
}

func (a *Aggregator) ChannelStats(ctx context.Context) ([]models.ChannelUsage, error) {
	var usage []models.ChannelUsage
	if err := a.client.Do(ctx, backend.Request{Method: http.MethodGet, Path: "/analytics/channels/stats"}, &usage); err != nil {
		return nil, err
	}
	if usage == nil {
		usage = []models.ChannelUsage{}
	}
	return usage, nil
}

// TopQuestions returns at most limit questions, most frequent first as the
// backend ordered them.
func (a *Aggregator) TopQuestions(ctx context.Context, limit int) ([]models.TopQuestion, error) {
	if limit == 0 {
		limit = a.topQuestions
	}
	if limit < 0 {
		return nil, apperr.Validation("analytics.top", "limit must be positive")
	}

	var top []models.TopQuestion
	err := a.client.Do(ctx, backend.Request{
		Method: http.MethodGet,
		Path:   "/analytics/questions/top",
		Query:  url.Values{"limit": {strconv.Itoa(limit)}},
	}, &top)
	if err != nil {
		return nil, err
	}

	if len(top) > limit {
		top = top[:limit]
	}
	if top == nil {
		top = []models.TopQuestion{}
	}
	for i := range top {
		if acc := top[i].Accuracy; acc != nil {
			v := models.ClampUnit(*acc)
			top[i].Accuracy = &v
		}
	}
	return top, nil
}

func (a *Aggregator) Performance(ctx context.Context) (models.Performance, error) {
	var p models.Performance
	if err := a.client.Do(ctx, backend.Request{Method: http.MethodGet, Path: "/analytics/performance"}, &p); err != nil {
		return models.Performance{}, err
	}
	for lang, acc := range p.AccuracyByLanguage {
		p.AccuracyByLanguage[lang] = models.ClampUnit(acc)
	}
	return p, nil
}

// Reset forgets the cached overview, for example after logout.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.epoch++
	a.overview = nil
}

func (a *Aggregator) fallback(ctx context.Context) {
	if a.cache == nil || a.LastOverview() != nil {
		return
	}
	var ov models.AnalyticsOverview
	ok, err := a.cache.Get(ctx, a.cacheKey(), &ov)
	if err != nil {
		a.log.Warn("Failed to read cached analytics overview", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	a.mu.Lock()
	if a.overview == nil {
		a.overview = &ov
	}
	a.mu.Unlock()
	a.log.Info("Serving cached analytics overview")
}

func (a *Aggregator) cacheKey() string {
	owner := ""
	if a.owner != nil {
		owner = a.owner()
	}
	return utils.CacheKey("overview", owner)
}

// SummarizeTrends derives volume and accuracy statistics from a trend
// series. An empty series yields a zero summary.
func SummarizeTrends(trends []models.QueryTrend) (models.TrendSummary, error) {
	summary := models.TrendSummary{Days: len(trends)}
	if len(trends) == 0 {
		return summary, nil
	}

	volume := make(stats.Float64Data, 0, len(trends))
	accuracy := make(stats.Float64Data, 0, len(trends))
	for _, t := range trends {
		summary.TotalQueries += t.Queries
		volume = append(volume, float64(t.Queries))
		accuracy = append(accuracy, models.ClampUnit(t.Accuracy))
	}

	var err error
	if summary.MeanDaily, err = stats.Mean(volume); err != nil {
		return summary, fmt.Errorf("mean daily queries: %w", err)
	}
	if summary.MedianDaily, err = stats.Median(volume); err != nil {
		return summary, fmt.Errorf("median daily queries: %w", err)
	}
	if len(volume) == 1 {
		summary.P95Daily = volume[0]
	} else if summary.P95Daily, err = stats.Percentile(volume, 95); err != nil {
		return summary, fmt.Errorf("p95 daily queries: %w", err)
	}
	if summary.MeanAccuracy, err = stats.Mean(accuracy); err != nil {
		return summary, fmt.Errorf("mean accuracy: %w", err)
	}
	return summary, nil
}

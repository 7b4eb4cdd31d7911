// Package registry tracks the tenant's bots. The backend is the source of
// truth; the registry holds the last snapshot it returned and applies the
// result of every mutation to that snapshot.
package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/faqbot/console/internal/apperr"
	"github.com/faqbot/console/internal/backend"
	"github.com/faqbot/console/internal/cache"
	"github.com/faqbot/console/internal/metrics"
	"github.com/faqbot/console/internal/models"
	"github.com/faqbot/console/pkg/logger"
	"github.com/faqbot/console/pkg/utils"
)

type Option func(*Registry)

// WithCache keeps a copy of every good snapshot in c under a key derived
// from owner(), and serves it when the first refresh fails.
func WithCache(c cache.SnapshotCache, owner func() string) Option {
	return func(r *Registry) {
		r.cache = c
		r.owner = owner
	}
}

type Registry struct {
	client *backend.Client
	cache  cache.SnapshotCache
	owner  func() string
	log    *zap.Logger

	mu        sync.RWMutex
	epoch     int
	bots      []models.Bot
	loaded    bool
	fetchedAt time.Time
}

func New(client *backend.Client, opts ...Option) *Registry {
	r := &Registry{client: client, log: logger.Named("registry")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh replaces the snapshot with the backend's list. On failure the
// previous snapshot is kept and the error returned.
func (r *Registry) Refresh(ctx context.Context) ([]models.Bot, error) {
	r.mu.RLock()
	epoch := r.epoch
	r.mu.RUnlock()

	var bots []models.Bot
	err := r.client.Do(ctx, backend.Request{Method: http.MethodGet, Path: "/bots/"}, &bots)
	if err != nil {
		r.fallback(ctx)
		return r.Snapshot(), err
	}

	for i := range bots {
		bots[i].Normalize()
	}

	r.mu.Lock()
	if epoch != r.epoch {
		// Reset while the list was in flight.
		r.mu.Unlock()
		return r.Snapshot(), nil
	}
	r.logTransitions(bots)
	r.bots = bots
	r.loaded = true
	r.fetchedAt = time.Now()
	r.mu.Unlock()

	r.observe(bots)
	r.store(ctx, bots)
	return r.Snapshot(), nil
}

// List refreshes and returns the bots.
func (r *Registry) List(ctx context.Context) ([]models.Bot, error) {
	return r.Refresh(ctx)
}

// Snapshot returns the last known bots without contacting the backend.
func (r *Registry) Snapshot() []models.Bot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Bot, len(r.bots))
	copy(out, r.bots)
	return out
}

func (r *Registry) FetchedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fetchedAt
}

func (r *Registry) Get(id int) (models.Bot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.index(id); i >= 0 {
		return r.bots[i], nil
	}
	return models.Bot{}, apperr.NotFound("registry.get", "bot %d not found", id)
}

// Fetch reloads a single bot. A bot the backend no longer knows is evicted.
func (r *Registry) Fetch(ctx context.Context, id int) (models.Bot, error) {
	var bot models.Bot
	err := r.client.Do(ctx, backend.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/bots/%d", id),
		Route:  "/bots/{id}",
	}, &bot)
	if err != nil {
		if apperr.StatusCode(err) == http.StatusNotFound {
			r.evict(id)
		}
		return models.Bot{}, err
	}
	bot.Normalize()
	r.upsert(bot)
	return bot, nil
}

// Create validates the input, submits it and adds the bot in training.
// Training itself runs asynchronously on the backend.
func (r *Registry) Create(ctx context.Context, in models.CreateBotInput) (models.Bot, models.Invalidation, error) {
	in, err := validateCreate(in)
	if err != nil {
		return models.Bot{}, nil, err
	}

	var bot models.Bot
	err = r.client.Do(ctx, backend.Request{Method: http.MethodPost, Path: "/bots/", JSON: in}, &bot)
	if err != nil {
		return models.Bot{}, nil, err
	}

	bot.Status = models.StatusTraining
	if bot.Name == "" {
		bot.Name = in.Name
	}
	if bot.SourceURL == "" {
		bot.SourceURL = in.SourceURL
	}
	if len(bot.Channels) == 0 {
		bot.Channels = in.Channels
	}
	if bot.Language == "" {
		bot.Language = in.Language
	}
	bot.Normalize()
	r.upsert(bot)

	r.log.Info("Bot created", zap.Int("bot_id", bot.ID), zap.String("name", bot.Name))
	return bot, models.Invalidates(models.CollectionBots, models.CollectionAnalytics), nil
}

func (r *Registry) Update(ctx context.Context, id int, u models.BotUpdate) (models.Bot, models.Invalidation, error) {
	const op = "registry.update"
	if _, err := r.Get(id); err != nil {
		return models.Bot{}, nil, err
	}
	if u.Empty() {
		return models.Bot{}, nil, apperr.Validation(op, "nothing to update")
	}
	if u.Status != nil {
		return models.Bot{}, nil, apperr.Validation(op, "status changes go through activate, deactivate or retrain")
	}
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return models.Bot{}, nil, apperr.Validation(op, "name must not be empty")
		}
		u.Name = &name
	}
	if u.Language != nil {
		lang := models.Language(strings.ToLower(string(*u.Language)))
		if !lang.Valid() {
			return models.Bot{}, nil, apperr.Validation(op, "unsupported language %q", *u.Language)
		}
		u.Language = &lang
	}
	if u.Channels != nil {
		chs, err := normalizeChannels(op, u.Channels)
		if err != nil {
			return models.Bot{}, nil, err
		}
		u.Channels = chs
	}

	bot, err := r.put(ctx, id, u)
	if err != nil {
		return models.Bot{}, nil, err
	}
	return bot, models.Invalidates(models.CollectionBots), nil
}

// SetActive is the manual active/inactive toggle. Asking for the status the
// bot already has is a no-op.
func (r *Registry) SetActive(ctx context.Context, id int, active bool) (models.Bot, models.Invalidation, error) {
	current, err := r.Get(id)
	if err != nil {
		return models.Bot{}, nil, err
	}

	target := models.StatusInactive
	if active {
		target = models.StatusActive
	}
	if current.Status == target {
		return current, nil, nil
	}
	if !current.Status.CanTransition(target) {
		return models.Bot{}, nil, apperr.Precondition("registry.set_active", "bot %d is %s and cannot become %s", id, current.Status, target)
	}

	bot, err := r.put(ctx, id, models.BotUpdate{Status: &target})
	if err != nil {
		return models.Bot{}, nil, err
	}
	r.log.Info("Bot status toggled", zap.Int("bot_id", id), zap.String("from", string(current.Status)), zap.String("to", string(bot.Status)))
	return bot, models.Invalidates(models.CollectionBots, models.CollectionAnalytics), nil
}

// Delete removes a bot. A bot the backend has already deleted is evicted
// locally and reported as not found.
func (r *Registry) Delete(ctx context.Context, id int) (models.Invalidation, error) {
	if _, err := r.Get(id); err != nil {
		return nil, err
	}

	err := r.client.Do(ctx, backend.Request{
		Method: http.MethodDelete,
		Path:   fmt.Sprintf("/bots/%d", id),
		Route:  "/bots/{id}",
	}, nil)
	if err != nil {
		if apperr.StatusCode(err) == http.StatusNotFound {
			r.evict(id)
		}
		return nil, err
	}

	r.evict(id)
	r.log.Info("Bot deleted", zap.Int("bot_id", id))
	return models.Invalidates(
		models.CollectionBots,
		models.CollectionBindings,
		models.CollectionContent,
		models.CollectionAnalytics,
	), nil
}

// Retrain asks the backend to train the bot again. Completion is only
// observed by a later refresh.
func (r *Registry) Retrain(ctx context.Context, id int) (models.Invalidation, error) {
	bot, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if !bot.Status.Retrainable() {
		return nil, apperr.Precondition("registry.retrain", "bot %d is %s; only active or failed bots can be retrained", id, bot.Status)
	}

	err = r.client.Do(ctx, backend.Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/bots/%d/train", id),
		Route:  "/bots/{id}/train",
	}, nil)
	if err != nil {
		if apperr.StatusCode(err) == http.StatusNotFound {
			r.evict(id)
		}
		return nil, err
	}

	r.mu.Lock()
	if i := r.index(id); i >= 0 {
		r.bots[i].Status = models.StatusTraining
	}
	r.mu.Unlock()

	r.log.Info("Bot retraining started", zap.Int("bot_id", id))
	return models.Invalidates(models.CollectionBots, models.CollectionContent), nil
}

// RecordQuery bumps the local query counter after a successful answer so
// the snapshot stays monotonic until the next refresh.
func (r *Registry) RecordQuery(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.index(id); i >= 0 {
		r.bots[i].TotalQueries++
	}
}

// Reset forgets the snapshot, for example after logout.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch++
	r.bots = nil
	r.loaded = false
	r.fetchedAt = time.Time{}
}

func (r *Registry) put(ctx context.Context, id int, u models.BotUpdate) (models.Bot, error) {
	var bot models.Bot
	err := r.client.Do(ctx, backend.Request{
		Method: http.MethodPut,
		Path:   fmt.Sprintf("/bots/%d", id),
		Route:  "/bots/{id}",
		JSON:   u,
	}, &bot)
	if err != nil {
		if apperr.StatusCode(err) == http.StatusNotFound {
			r.evict(id)
		}
		return models.Bot{}, err
	}
	if bot.ID == 0 {
		bot.ID = id
	}
	bot.Normalize()
	r.upsert(bot)
	return bot, nil
}

func (r *Registry) index(id int) int {
	for i := range r.bots {
		if r.bots[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) upsert(bot models.Bot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.index(bot.ID); i >= 0 {
		r.bots[i] = bot
		return
	}
	r.bots = append(r.bots, bot)
}

func (r *Registry) evict(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.index(id); i >= 0 {
		r.bots = append(r.bots[:i:i], r.bots[i+1:]...)
	}
}

// logTransitions reports status changes between the held snapshot and next.
// Caller holds r.mu.
func (r *Registry) logTransitions(next []models.Bot) {
	for _, b := range next {
		i := r.index(b.ID)
		if i < 0 || r.bots[i].Status == b.Status {
			continue
		}
		r.log.Info("Bot status changed",
			zap.Int("bot_id", b.ID),
			zap.String("from", string(r.bots[i].Status)),
			zap.String("to", string(b.Status)),
		)
	}
}

func (r *Registry) observe(bots []models.Bot) {
	counts := map[models.Status]int{
		models.StatusTraining: 0,
		models.StatusActive:   0,
		models.StatusInactive: 0,
		models.StatusError:    0,
	}
	for _, b := range bots {
		counts[b.Status]++
	}
	for s, n := range counts {
		metrics.BotsByStatus.WithLabelValues(string(s)).Set(float64(n))
	}
}

func (r *Registry) cacheKey() string {
	if r.cache == nil || r.owner == nil {
		return ""
	}
	owner := r.owner()
	if owner == "" {
		return ""
	}
	return utils.CacheKey("bots", owner)
}

func (r *Registry) store(ctx context.Context, bots []models.Bot) {
	key := r.cacheKey()
	if key == "" {
		return
	}
	if err := r.cache.Set(ctx, key, bots); err != nil {
		r.log.Warn("Failed to cache bot snapshot", zap.Error(err))
	}
}

// fallback loads the cached snapshot when nothing has been fetched yet.
func (r *Registry) fallback(ctx context.Context) {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	key := r.cacheKey()
	if loaded || key == "" {
		return
	}

	var bots []models.Bot
	ok, err := r.cache.Get(ctx, key, &bots)
	if err != nil {
		r.log.Warn("Failed to read cached bot snapshot", zap.Error(err))
		return
	}
	if !ok {
		return
	}

	r.mu.Lock()
	if !r.loaded {
		r.bots = bots
	}
	r.mu.Unlock()
	r.log.Info("Serving cached bot snapshot", zap.Int("bots", len(bots)))
}

func validateCreate(in models.CreateBotInput) (models.CreateBotInput, error) {
	const op = "registry.create"
	in.Name = strings.TrimSpace(in.Name)
	in.SourceURL = strings.TrimSpace(in.SourceURL)
	in.Description = strings.TrimSpace(in.Description)

	if in.Name == "" {
		return in, apperr.Validation(op, "name is required")
	}
	if in.SourceURL == "" {
		return in, apperr.Validation(op, "source URL is required")
	}
	if !isValidURL(in.SourceURL) {
		return in, apperr.Validation(op, "source URL must be an absolute http(s) URL")
	}

	if in.Language == "" {
		in.Language = models.LanguageEnglish
	}
	in.Language = models.Language(strings.ToLower(string(in.Language)))
	if !in.Language.Valid() {
		return in, apperr.Validation(op, "unsupported language %q", in.Language)
	}

	if len(in.Channels) == 0 {
		in.Channels = []models.Channel{models.ChannelTelegram}
	}
	chs, err := normalizeChannels(op, in.Channels)
	if err != nil {
		return in, err
	}
	in.Channels = chs
	return in, nil
}

func normalizeChannels(op string, in []models.Channel) ([]models.Channel, error) {
	seen := make(map[models.Channel]bool, len(in))
	out := make([]models.Channel, 0, len(in))
	for _, c := range in {
		c = models.Channel(strings.ToLower(strings.TrimSpace(string(c))))
		if !c.Valid() {
			return nil, apperr.Validation(op, "unsupported channel %q", c)
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out, nil
}

func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// Package console wires the session, registry, content, query, channel and
// analytics components into one unit and coordinates the work that spans
// them: joint dashboard loads, invalidation-driven refreshes, cascading
// deletes and the logout reset.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/faqbot/console/internal/analytics"
	"github.com/faqbot/console/internal/apperr"
	"github.com/faqbot/console/internal/backend"
	"github.com/faqbot/console/internal/cache"
	"github.com/faqbot/console/internal/cache/redis"
	"github.com/faqbot/console/internal/channels"
	"github.com/faqbot/console/internal/content"
	"github.com/faqbot/console/internal/models"
	"github.com/faqbot/console/internal/query"
	"github.com/faqbot/console/internal/registry"
	"github.com/faqbot/console/internal/session"
	"github.com/faqbot/console/internal/storage/sqlite"
	"github.com/faqbot/console/pkg/config"
	"github.com/faqbot/console/pkg/logger"
)

// ErrSuperseded is returned by a load whose result arrived after a newer
// load started or the session ended. The result was discarded.
var ErrSuperseded = errors.New("console: load superseded")

// Deps are the collaborators a Console is assembled from. Cache is optional.
type Deps struct {
	Client            *backend.Client
	Tokens            session.TokenStore
	Content           content.Repository
	Cache             cache.SnapshotCache
	MaxQuestionLength int
	TopQuestions      int
	TrendDays         int
}

type Console struct {
	Client    *backend.Client
	Session   *session.Manager
	Bots      *registry.Registry
	Content   *content.Store
	Query     *query.Engine
	Telegram  *channels.Controller
	Analytics *analytics.Aggregator
	Events    *Hub

	log     *zap.Logger
	closers []io.Closer

	generation atomic.Uint64
	mu         sync.RWMutex
	dashboard  Dashboard
}

// Dashboard is the jointly loaded landing view.
type Dashboard struct {
	Bots       []models.Bot              `json:"bots"`
	Overview   *models.AnalyticsOverview `json:"overview"`
	LoadedAt   time.Time                 `json:"loaded_at"`
	Generation uint64                    `json:"generation"`
}

func New(d Deps) *Console {
	c := &Console{
		Client: d.Client,
		Events: NewHub(),
		log:    logger.Named("console"),
	}
	c.Session = session.NewManager(d.Client, d.Tokens)

	owner := func() string {
		return strconv.Itoa(c.Session.Current().User.ID)
	}

	var regOpts []registry.Option
	anOpts := []analytics.Option{analytics.WithDefaults(d.TopQuestions, d.TrendDays)}
	if d.Cache != nil {
		regOpts = append(regOpts, registry.WithCache(d.Cache, owner))
		anOpts = append(anOpts, analytics.WithCache(d.Cache, owner))
	}

	c.Bots = registry.New(d.Client, regOpts...)
	c.Content = content.NewStore(d.Content, c.Session)
	c.Query = query.NewEngine(d.Client, d.MaxQuestionLength)
	c.Telegram = channels.NewTelegram(d.Client)
	c.Analytics = analytics.New(d.Client, anOpts...)

	c.Query.OnAnswer(func(h models.HistoryEntry) {
		c.Bots.RecordQuery(h.BotID)
	})
	c.Session.OnLogout(c.reset)
	c.wireEvents()
	return c
}

// Build assembles a Console from configuration, opening the token store,
// the content repository and the optional Redis cache.
func Build(cfg *config.Config) (*Console, error) {
	tokens, err := session.NewStore(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("token store: %w", err)
	}

	var closers []io.Closer
	closeAll := func() {
		for _, cl := range closers {
			cl.Close()
		}
	}

	var repo content.Repository
	switch cfg.Content.Driver {
	case "sqlite":
		db, err := sqlite.NewClient(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("content database: %w", err)
		}
		closers = append(closers, db)
		if err := db.InitSchema(); err != nil {
			closeAll()
			return nil, fmt.Errorf("content schema: %w", err)
		}
		repo = db
	default:
		repo = content.NewMemoryRepository()
	}

	var snapshots cache.SnapshotCache
	if cfg.Redis.Enabled {
		rc, err := redis.NewClient(cfg.Redis)
		if err != nil {
			logger.Warn("Redis unavailable, using in-memory snapshot cache", zap.Error(err))
			snapshots = cache.NewMemory(cfg.Redis.TTL())
		} else {
			closers = append(closers, rc)
			snapshots = rc
		}
	} else {
		snapshots = cache.NewMemory(cfg.Redis.TTL())
	}

	c := New(Deps{
		Client:            backend.NewClient(backend.OptionsFrom(cfg.Backend)),
		Tokens:            tokens,
		Content:           repo,
		Cache:             snapshots,
		MaxQuestionLength: cfg.Query.MaxQuestionLength,
		TopQuestions:      cfg.Analytics.TopQuestions,
		TrendDays:         cfg.Analytics.TrendDays,
	})
	c.closers = closers
	return c, nil
}

func (c *Console) Close() error {
	var errs []error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LoadDashboard refreshes the bot list and the analytics overview together.
// Either both succeed or the first failure is returned and the previous
// dashboard stays in place.
func (c *Console) LoadDashboard(ctx context.Context) (Dashboard, error) {
	gen := c.generation.Add(1)

	var (
		bots     []models.Bot
		overview *models.AnalyticsOverview
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bots, err = c.Bots.Refresh(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		overview, err = c.Analytics.Overview(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return c.Dashboard(), err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation.Load() != gen {
		c.log.Debug("Discarding superseded dashboard load", zap.Uint64("generation", gen))
		return c.dashboard, ErrSuperseded
	}
	c.dashboard = Dashboard{Bots: bots, Overview: overview, LoadedAt: time.Now(), Generation: gen}
	return c.dashboard, nil
}

// Dashboard returns the last applied dashboard.
func (c *Console) Dashboard() Dashboard {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dashboard
}

// Apply re-fetches every backend-owned collection named in inv. Content and
// history are owned locally and need no re-fetch.
func (c *Console) Apply(ctx context.Context, inv models.Invalidation) error {
	if len(inv) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	if inv.Has(models.CollectionBots) {
		g.Go(func() error {
			_, err := c.Bots.Refresh(gctx)
			return err
		})
	}
	if inv.Has(models.CollectionBindings) || inv.Has(models.CollectionChannel) {
		g.Go(func() error {
			return c.Telegram.Refresh(gctx)
		})
	}
	if inv.Has(models.CollectionAnalytics) {
		g.Go(func() error {
			_, err := c.Analytics.Overview(gctx)
			return err
		})
	}
	return g.Wait()
}

// Bot resolves id against the registry, loading the snapshot first when
// nothing has been fetched yet.
func (c *Console) Bot(ctx context.Context, id int) (models.Bot, error) {
	if c.Bots.FetchedAt().IsZero() {
		if _, err := c.Bots.Refresh(ctx); err != nil && len(c.Bots.Snapshot()) == 0 {
			return models.Bot{}, err
		}
	}
	return c.Bots.Get(id)
}

// Ask submits a question to a bot known to the registry.
// The question is checked before the bot is resolved, so bad input never
// reaches the backend.
func (c *Console) Ask(ctx context.Context, botID int, question string) (models.HistoryEntry, error) {
	if _, err := c.Query.Validate(question); err != nil {
		return models.HistoryEntry{}, err
	}
	if _, err := c.Bot(ctx, botID); err != nil {
		return models.HistoryEntry{}, err
	}
	return c.Query.Ask(ctx, botID, question)
}

// DeleteBot deletes a bot and releases everything that referenced it: its
// local content is forgotten and bots and bindings are re-fetched so no
// stale binding stays visible. A bot the backend had already deleted gets
// the same cleanup and the NotFound error is still returned.
func (c *Console) DeleteBot(ctx context.Context, id int) (models.Invalidation, error) {
	inv, err := c.Bots.Delete(ctx, id)
	if err != nil && apperr.StatusCode(err) != http.StatusNotFound {
		return nil, err
	}
	c.release(ctx, id)
	return inv, err
}

func (c *Console) release(ctx context.Context, id int) {
	if err := c.Content.Forget(ctx, id); err != nil {
		c.log.Warn("Failed to forget content of deleted bot", zap.Int("bot_id", id), zap.Error(err))
	}
	if err := c.Apply(ctx, models.Invalidates(models.CollectionBots, models.CollectionBindings)); err != nil {
		c.log.Warn("Refresh after bot delete failed", zap.Int("bot_id", id), zap.Error(err))
	}
}

// reset drops all tenant state when the session ends. In-flight loads are
// superseded.
func (c *Console) reset() {
	c.generation.Add(1)
	c.Bots.Reset()
	c.Query.Clear()
	c.Telegram.Reset()
	c.Analytics.Reset()

	c.mu.Lock()
	c.dashboard = Dashboard{}
	c.mu.Unlock()
	c.log.Debug("Console state reset after session end")
}

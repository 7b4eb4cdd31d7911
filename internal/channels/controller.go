// Package channels controls an external messaging-channel integration: the
// service run state and the set of bot bindings registered on it.
package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/faqbot/console/internal/apperr"
	"github.com/faqbot/console/internal/backend"
	"github.com/faqbot/console/internal/metrics"
	"github.com/faqbot/console/internal/models"
	"github.com/faqbot/console/pkg/logger"
)

// Controller owns one channel type. The service starts stopped and only
// explicit Start and Stop calls change that.
type Controller struct {
	channel models.Channel
	prefix  string
	client  *backend.Client
	log     *zap.Logger

	mu        sync.RWMutex
	epoch     int
	state     models.ServiceState
	bindings  []models.ChannelBinding
	stats     models.ChannelStats
	listeners []func(from, to models.ServiceState)
}

func New(channel models.Channel, client *backend.Client) *Controller {
	c := &Controller{
		channel: channel,
		prefix:  "/" + string(channel),
		client:  client,
		log:     logger.Named("channels").With(zap.String("channel", string(channel))),
		state:   models.ServiceStopped,
	}
	metrics.ChannelServiceRunning.WithLabelValues(string(channel)).Set(0)
	return c
}

func NewTelegram(client *backend.Client) *Controller {
	return New(models.ChannelTelegram, client)
}

func (c *Controller) Channel() models.Channel {
	return c.channel
}

func (c *Controller) State() models.ServiceState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// OnStateChange registers fn to be called after every run-state transition.
func (c *Controller) OnStateChange(fn func(from, to models.ServiceState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Controller) Bindings() []models.ChannelBinding {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.ChannelBinding, len(c.bindings))
	copy(out, c.bindings)
	return out
}

func (c *Controller) Stats() models.ChannelStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Refresh reloads bindings, stats and run state together. Nothing is
// replaced unless all three succeed.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.RLock()
	epoch := c.epoch
	c.mu.RUnlock()

	var (
		bindings []models.ChannelBinding
		stats    models.ChannelStats
		status   models.ServiceStatus
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bindings, err = c.fetchBindings(gctx)
		return err
	})
	g.Go(func() error {
		return c.client.Do(gctx, backend.Request{Method: http.MethodGet, Path: c.prefix + "/stats"}, &stats)
	})
	g.Go(func() error {
		return c.client.Do(gctx, backend.Request{Method: http.MethodGet, Path: c.prefix + "/status"}, &status)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if bindings == nil {
		bindings = []models.ChannelBinding{}
	}

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return nil
	}
	c.bindings = c.mergeLocal(bindings)
	c.stats = stats
	c.mu.Unlock()

	metrics.ChannelBindings.WithLabelValues(string(c.channel)).Set(float64(len(bindings)))
	c.setState(models.StateOf(status.IsRunning))
	return nil
}

// Start brings the service up. Starting a running service is a no-op.
func (c *Controller) Start(ctx context.Context) (models.Invalidation, error) {
	if c.State() == models.ServiceRunning {
		return nil, nil
	}
	err := c.client.Do(ctx, backend.Request{Method: http.MethodPost, Path: c.prefix + "/start"}, nil)
	if err != nil {
		c.log.Warn("Failed to start channel service", zap.Error(err))
		return nil, err
	}
	c.setState(models.ServiceRunning)
	return models.Invalidates(models.CollectionChannel), nil
}

// Stop takes the service down. Bindings are kept but receive no traffic.
func (c *Controller) Stop(ctx context.Context) (models.Invalidation, error) {
	if c.State() == models.ServiceStopped {
		return nil, nil
	}
	err := c.client.Do(ctx, backend.Request{Method: http.MethodPost, Path: c.prefix + "/stop"}, nil)
	if err != nil {
		c.log.Warn("Failed to stop channel service", zap.Error(err))
		return nil, err
	}
	c.setState(models.ServiceStopped)
	return models.Invalidates(models.CollectionChannel), nil
}

// Register binds a channel identity. It requires a running service and is
// rejected before any backend call otherwise.
func (c *Controller) Register(ctx context.Context, in models.BindingInput) (models.ChannelBinding, models.Invalidation, error) {
	const op = "channels.register"
	if c.State() != models.ServiceRunning {
		return models.ChannelBinding{}, nil, apperr.Precondition(op, "%s service is stopped; start it before registering bots", c.channel)
	}
	in.BotName = strings.TrimSpace(in.BotName)
	in.WebhookURL = strings.TrimSpace(in.WebhookURL)
	if in.ChannelBotID <= 0 {
		return models.ChannelBinding{}, nil, apperr.Validation(op, "channel bot id is required")
	}
	if in.BotName == "" {
		return models.ChannelBinding{}, nil, apperr.Validation(op, "bot name is required")
	}

	body := struct {
		BotID      int64  `json:"bot_id"`
		BotName    string `json:"bot_name"`
		BotToken   string `json:"bot_token,omitempty"`
		WebhookURL string `json:"webhook_url,omitempty"`
		IsActive   bool   `json:"is_active"`
	}{in.ChannelBotID, in.BotName, in.Token, in.WebhookURL, true}

	if err := c.client.Do(ctx, backend.Request{Method: http.MethodPost, Path: c.prefix + "/register", JSON: body}, nil); err != nil {
		return models.ChannelBinding{}, nil, err
	}

	binding := models.ChannelBinding{
		ChannelBotID: in.ChannelBotID,
		BotName:      in.BotName,
		Token:        in.Token,
		WebhookURL:   in.WebhookURL,
		IsActive:     true,
	}

	c.mu.Lock()
	if i := c.index(in.ChannelBotID); i >= 0 {
		binding.TotalQueries = c.bindings[i].TotalQueries
		c.bindings[i] = binding
	} else {
		c.bindings = append(c.bindings, binding)
	}
	n := len(c.bindings)
	c.mu.Unlock()

	metrics.ChannelBindings.WithLabelValues(string(c.channel)).Set(float64(n))
	c.log.Info("Bot registered on channel", zap.Int64("channel_bot_id", in.ChannelBotID), zap.String("bot_name", in.BotName))
	return binding, models.Invalidates(models.CollectionBindings, models.CollectionChannel), nil
}

// Unregister removes a binding whatever the run state. A binding the
// backend no longer knows is removed locally as well.
func (c *Controller) Unregister(ctx context.Context, channelBotID int64) (models.Invalidation, error) {
	if channelBotID <= 0 {
		return nil, apperr.Validation("channels.unregister", "channel bot id is required")
	}

	err := c.client.Do(ctx, backend.Request{
		Method: http.MethodDelete,
		Path:   fmt.Sprintf("%s/%d", c.prefix, channelBotID),
		Route:  c.prefix + "/{id}",
	}, nil)
	if err != nil && apperr.StatusCode(err) != http.StatusNotFound {
		return nil, err
	}

	c.mu.Lock()
	if i := c.index(channelBotID); i >= 0 {
		c.bindings = append(c.bindings[:i:i], c.bindings[i+1:]...)
	}
	n := len(c.bindings)
	c.mu.Unlock()

	metrics.ChannelBindings.WithLabelValues(string(c.channel)).Set(float64(n))
	c.log.Info("Bot unregistered from channel", zap.Int64("channel_bot_id", channelBotID))
	return models.Invalidates(models.CollectionBindings, models.CollectionChannel), nil
}

// Reset returns the controller to its initial state without notifying
// listeners, for example after logout.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.state = models.ServiceStopped
	c.bindings = nil
	c.stats = models.ChannelStats{}
	metrics.ChannelServiceRunning.WithLabelValues(string(c.channel)).Set(0)
}

func (c *Controller) setState(to models.ServiceState) {
	c.mu.Lock()
	from := c.state
	c.state = to
	listeners := append([]func(from, to models.ServiceState){}, c.listeners...)
	c.mu.Unlock()

	if from == to {
		return
	}
	running := 0.0
	if to == models.ServiceRunning {
		running = 1
	}
	metrics.ChannelServiceRunning.WithLabelValues(string(c.channel)).Set(running)
	c.log.Info("Channel service state changed", zap.String("from", string(from)), zap.String("to", string(to)))
	for _, fn := range listeners {
		fn(from, to)
	}
}

// fetchBindings accepts a bare list or the {"bots": [...], "total": n}
// envelope. List items may be objects or bare ids.
func (c *Controller) fetchBindings(ctx context.Context) ([]models.ChannelBinding, error) {
	var raw json.RawMessage
	if err := c.client.Do(ctx, backend.Request{Method: http.MethodGet, Path: c.prefix + "/bots"}, &raw); err != nil {
		return nil, err
	}

	raw = bytes.TrimSpace(raw)
	var bindings []models.ChannelBinding
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &bindings); err != nil {
			return nil, apperr.Backend("GET "+c.prefix+"/bots", 0, fmt.Sprintf("malformed binding list: %v", err))
		}
		return bindings, nil
	}

	var envelope struct {
		Bots []models.ChannelBinding `json:"bots"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, apperr.Backend("GET "+c.prefix+"/bots", 0, fmt.Sprintf("malformed binding list: %v", err))
	}
	return envelope.Bots, nil
}

// mergeLocal carries display metadata known only locally (names and
// webhooks from registration) onto bindings the backend lists by id.
// Caller holds c.mu.
func (c *Controller) mergeLocal(fetched []models.ChannelBinding) []models.ChannelBinding {
	for i := range fetched {
		j := c.index(fetched[i].ChannelBotID)
		if j < 0 {
			continue
		}
		prev := c.bindings[j]
		if fetched[i].BotName == "" || fetched[i].BotName == fmt.Sprintf("bot %d", fetched[i].ChannelBotID) {
			fetched[i].BotName = prev.BotName
		}
		if fetched[i].WebhookURL == "" {
			fetched[i].WebhookURL = prev.WebhookURL
		}
		fetched[i].Token = prev.Token
	}
	return fetched
}

func (c *Controller) index(id int64) int {
	for i := range c.bindings {
		if c.bindings[i].ChannelBotID == id {
			return i
		}
	}
	return -1
}

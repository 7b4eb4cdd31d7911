package ratelimit

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/faqbot/console/internal/metrics"
)

type bucket struct {
	tokens     int
	lastRefill time.Time
	mu         sync.Mutex
}

// Limiter is a per-key token bucket. Buckets idle for longer than the idle
// window are dropped by a background sweep until Stop is called.
type Limiter struct {
	buckets    map[string]*bucket
	mu         sync.RWMutex
	maxTokens  int
	refillRate time.Duration
	idle       time.Duration
	keyFunc    func(*fiber.Ctx) string
	logger     *zap.Logger
	now        func() time.Time

	sweep *time.Ticker
	stop  chan struct{}
	once  sync.Once
}

type Config struct {
	// PerMinute is the sustained rate and the burst size.
	PerMinute int
	// Window overrides the refill window. Defaults to one minute.
	Window time.Duration
	// KeyFunc selects the bucket. Defaults to the client IP.
	KeyFunc func(*fiber.Ctx) string
	Logger  *zap.Logger
}

func New(cfg Config) *Limiter {
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *fiber.Ctx) string { return c.IP() }
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	l := &Limiter{
		buckets:    make(map[string]*bucket),
		maxTokens:  cfg.PerMinute,
		refillRate: cfg.Window / time.Duration(cfg.PerMinute),
		idle:       10 * cfg.Window,
		keyFunc:    cfg.KeyFunc,
		logger:     cfg.Logger,
		now:        time.Now,
		sweep:      time.NewTicker(5 * cfg.Window),
		stop:       make(chan struct{}),
	}

	go l.cleanup()

	return l
}

// Handler rejects requests over the limit with 429 and a Retry-After hint.
func (l *Limiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := l.keyFunc(c)
		if !l.Allow(key) {
			l.logger.Warn("Rate limit exceeded",
				zap.String("key", key),
				zap.String("path", c.Path()),
			)
			metrics.GatewayRejections.WithLabelValues("rate_limit").Inc()
			c.Set(fiber.HeaderRetryAfter, retryAfter(l.refillRate))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}
		return c.Next()
	}
}

// Allow takes one token from key's bucket.
func (l *Limiter) Allow(key string) bool {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()

	if !ok {
		l.mu.Lock()
		if b, ok = l.buckets[key]; !ok {
			b = &bucket{tokens: l.maxTokens, lastRefill: l.now()}
			l.buckets[key] = b
		}
		l.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	if add := int(now.Sub(b.lastRefill) / l.refillRate); add > 0 {
		b.tokens = min(l.maxTokens, b.tokens+add)
		b.lastRefill = b.lastRefill.Add(time.Duration(add) * l.refillRate)
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

func (l *Limiter) cleanup() {
	for {
		select {
		case <-l.stop:
			return
		case <-l.sweep.C:
			l.evictIdle()
		}
	}
}

func (l *Limiter) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key, b := range l.buckets {
		b.mu.Lock()
		if now.Sub(b.lastRefill) > l.idle {
			delete(l.buckets, key)
		}
		b.mu.Unlock()
	}
}

func (l *Limiter) Stop() {
	l.once.Do(func() {
		l.sweep.Stop()
		close(l.stop)
	})
}

func retryAfter(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

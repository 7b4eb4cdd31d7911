package query

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/faqbot/console/internal/apperr"
	"github.com/faqbot/console/internal/backend"
	"github.com/faqbot/console/internal/metrics"
	"github.com/faqbot/console/internal/models"
	"github.com/faqbot/console/pkg/logger"
)

// Engine submits questions to bots and keeps the answers of the current
// session in issuance order. History is never persisted.
type Engine struct {
	client            *backend.Client
	maxQuestionLength int
	log               *zap.Logger
	now               func() time.Time

	mu        sync.RWMutex
	epoch     int
	issued    int
	history   []models.HistoryEntry
	observers []func(models.HistoryEntry)
}

func NewEngine(client *backend.Client, maxQuestionLength int) *Engine {
	return &Engine{
		client:            client,
		maxQuestionLength: maxQuestionLength,
		log:               logger.Named("query"),
		now:               time.Now,
	}
}

// Validate trims question and checks it against maxLen (0 means no limit).
func Validate(question string, maxLen int) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", apperr.Validation("query.ask", "question is required")
	}
	if maxLen > 0 && len(question) > maxLen {
		return "", apperr.Validation("query.ask", "question exceeds %d characters", maxLen)
	}
	return question, nil
}

// Validate applies the engine's length limit.
func (e *Engine) Validate(question string) (string, error) {
	return Validate(question, e.maxQuestionLength)
}

// OnAnswer registers fn to be called with every entry added to history.
func (e *Engine) OnAnswer(fn func(models.HistoryEntry)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, fn)
}

// Ask sends question to the bot. Only a successful, well-formed answer is
// recorded; on any failure history is left exactly as it was.
func (e *Engine) Ask(ctx context.Context, botID int, question string) (models.HistoryEntry, error) {
	const op = "query.ask"
	question, err := e.Validate(question)
	if err != nil {
		return models.HistoryEntry{}, err
	}

	askedAt := e.now()
	e.mu.Lock()
	e.issued++
	seq, epoch := e.issued, e.epoch
	e.mu.Unlock()

	e.log.Debug("Submitting question", zap.Int("bot_id", botID), zap.Int("sequence", seq))

	var result models.QueryResult
	err = e.client.Do(ctx, backend.Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/bots/%d/query", botID),
		Route:  "/bots/{id}/query",
		Query:  url.Values{"question": {question}},
	}, &result)
	latency := e.now().Sub(askedAt)
	metrics.QueryDuration.Observe(latency.Seconds())

	if err != nil {
		metrics.QueryTotal.WithLabelValues("error").Inc()
		e.log.Warn("Question failed", zap.Int("bot_id", botID), zap.Error(err))
		return models.HistoryEntry{}, err
	}

	c := result.Confidence
	if c != c || c < 0 || c > 1 {
		metrics.QueryTotal.WithLabelValues("invalid").Inc()
		return models.HistoryEntry{}, apperr.Backend(op, 0, fmt.Sprintf("answer confidence %v outside [0,1]", c))
	}
	if result.Question == "" {
		result.Question = question
	}

	entry := models.HistoryEntry{
		ID:       uuid.New().String(),
		BotID:    botID,
		Result:   result,
		AskedAt:  askedAt,
		Latency:  latency,
		Sequence: seq,
	}

	e.mu.Lock()
	if epoch != e.epoch {
		// History was cleared while the question was in flight.
		e.mu.Unlock()
		return entry, nil
	}
	e.insert(entry)
	observers := append([]func(models.HistoryEntry){}, e.observers...)
	e.mu.Unlock()

	band := result.Band()
	metrics.QueryTotal.WithLabelValues("success").Inc()
	metrics.ConfidenceScore.WithLabelValues(string(band)).Observe(c)

	e.log.Info("Question answered",
		zap.String("entry_id", entry.ID),
		zap.Int("bot_id", botID),
		zap.Float64("confidence", c),
		zap.String("band", string(band)),
		zap.Duration("latency", latency),
	)

	for _, fn := range observers {
		fn(entry)
	}
	return entry, nil
}

// insert keeps history sorted by issuance even when answers arrive out of
// order. Caller holds e.mu.
func (e *Engine) insert(entry models.HistoryEntry) {
	i := sort.Search(len(e.history), func(i int) bool {
		return e.history[i].Sequence > entry.Sequence
	})
	e.history = append(e.history, models.HistoryEntry{})
	copy(e.history[i+1:], e.history[i:])
	e.history[i] = entry
}

// History returns every answered question, oldest first.
func (e *Engine) History() []models.HistoryEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.HistoryEntry, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Engine) HistoryFor(botID int) []models.HistoryEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.HistoryEntry, 0)
	for _, h := range e.history {
		if h.BotID == botID {
			out = append(out, h)
		}
	}
	return out
}

// Clear empties history. It is called when the session ends.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = nil
	e.issued = 0
	e.epoch++
}

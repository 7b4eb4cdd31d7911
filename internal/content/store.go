// Package content manages the question/answer pairs that make up each bot's
// knowledge base.
package content

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/faqbot/console/internal/apperr"
	"github.com/faqbot/console/internal/metrics"
	"github.com/faqbot/console/internal/models"
	"github.com/faqbot/console/pkg/logger"
)

// Repository persists the ordered pairs of each bot. Positions are dense
// and zero-based; RemoveAt shifts every later pair down by one.
type Repository interface {
	List(ctx context.Context, botID int) ([]models.QAPair, error)
	Append(ctx context.Context, botID int, pairs ...models.QAPair) error
	RemoveAt(ctx context.Context, botID int, position int) (models.QAPair, error)
	DeleteBot(ctx context.Context, botID int) error
}

// Gate reports whether a session is active.
type Gate interface {
	Authenticated() bool
}

type Store struct {
	repo Repository
	gate Gate
	log  *zap.Logger
}

func NewStore(repo Repository, gate Gate) *Store {
	return &Store{repo: repo, gate: gate, log: logger.Named("content")}
}

func (s *Store) List(ctx context.Context, botID int) ([]models.QAPair, error) {
	if err := s.check("content.list"); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, botID)
}

// Add appends a hand-written pair. Manual pairs always carry full
// confidence.
func (s *Store) Add(ctx context.Context, botID int, question, answer string) (models.QAPair, models.Invalidation, error) {
	const op = "content.add"
	if err := s.check(op); err != nil {
		return models.QAPair{}, nil, err
	}
	pair, err := ValidatePair(question, answer)
	if err != nil {
		return models.QAPair{}, nil, err
	}
	if err := s.repo.Append(ctx, botID, pair); err != nil {
		return models.QAPair{}, nil, err
	}

	metrics.ContentOperations.WithLabelValues("add").Inc()
	s.log.Debug("Pair added", zap.Int("bot_id", botID))
	return pair, models.Invalidates(models.CollectionContent), nil
}

// Remove deletes the pair at position and renumbers the rest.
func (s *Store) Remove(ctx context.Context, botID, position int) (models.QAPair, models.Invalidation, error) {
	const op = "content.remove"
	if err := s.check(op); err != nil {
		return models.QAPair{}, nil, err
	}
	if position < 0 {
		return models.QAPair{}, nil, apperr.NotFound(op, "no pair at position %d", position)
	}

	pair, err := s.repo.RemoveAt(ctx, botID, position)
	if err != nil {
		return models.QAPair{}, nil, err
	}

	metrics.ContentOperations.WithLabelValues("remove").Inc()
	s.log.Debug("Pair removed", zap.Int("bot_id", botID), zap.Int("position", position))
	return pair, models.Invalidates(models.CollectionContent), nil
}

// Search returns the pairs whose question or answer contains text, ignoring
// case, in list order. An empty text matches everything.
func (s *Store) Search(ctx context.Context, botID int, text string) ([]models.Match, error) {
	if err := s.check("content.search"); err != nil {
		return nil, err
	}
	pairs, err := s.repo.List(ctx, botID)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(text)
	matches := make([]models.Match, 0, len(pairs))
	for i, p := range pairs {
		if strings.Contains(strings.ToLower(p.Question), needle) || strings.Contains(strings.ToLower(p.Answer), needle) {
			matches = append(matches, models.Match{Position: i, Pair: p})
		}
	}
	return matches, nil
}

// Import appends pairs produced by scraping. Nothing is stored unless every
// pair is valid.
func (s *Store) Import(ctx context.Context, botID int, pairs []models.QAPair) (int, models.Invalidation, error) {
	const op = "content.import"
	if err := s.check(op); err != nil {
		return 0, nil, err
	}

	clean, err := ValidatePairs(pairs)
	if err != nil {
		return 0, nil, err
	}
	if len(clean) == 0 {
		return 0, nil, nil
	}

	if err := s.repo.Append(ctx, botID, clean...); err != nil {
		return 0, nil, err
	}

	metrics.ContentOperations.WithLabelValues("import").Add(float64(len(clean)))
	s.log.Info("Pairs imported", zap.Int("bot_id", botID), zap.Int("count", len(clean)))
	return len(clean), models.Invalidates(models.CollectionContent), nil
}

// Forget drops every pair of a deleted bot. It does not require a session
// so cleanup after a cascade never fails on auth.
func (s *Store) Forget(ctx context.Context, botID int) error {
	if err := s.repo.DeleteBot(ctx, botID); err != nil {
		return err
	}
	metrics.ContentOperations.WithLabelValues("forget").Inc()
	return nil
}

// ValidatePair trims a hand-written pair and rejects it when either side is
// blank.
func ValidatePair(question, answer string) (models.QAPair, error) {
	question = strings.TrimSpace(question)
	answer = strings.TrimSpace(answer)
	if question == "" || answer == "" {
		return models.QAPair{}, apperr.Validation("content.add", "question and answer are required")
	}
	return models.QAPair{
		Question:   question,
		Answer:     answer,
		Confidence: models.ManualConfidence,
		Source:     models.SourceManual,
	}, nil
}

// ValidatePairs normalizes an import batch. The first invalid pair fails
// the whole batch.
func ValidatePairs(pairs []models.QAPair) ([]models.QAPair, error) {
	const op = "content.import"
	clean := make([]models.QAPair, 0, len(pairs))
	for i, p := range pairs {
		p.Question = strings.TrimSpace(p.Question)
		p.Answer = strings.TrimSpace(p.Answer)
		if p.Question == "" || p.Answer == "" {
			return nil, apperr.Validation(op, "pair %d: question and answer are required", i)
		}
		if p.Confidence < 0 || p.Confidence > 1 || p.Confidence != p.Confidence {
			return nil, apperr.Validation(op, "pair %d: confidence %v outside [0,1]", i, p.Confidence)
		}
		if p.Source == "" {
			p.Source = models.SourceScraped
		}
		if p.Source == models.SourceManual {
			p.Confidence = models.ManualConfidence
		}
		clean = append(clean, p)
	}
	return clean, nil
}

func (s *Store) check(op string) error {
	if s.gate != nil && !s.gate.Authenticated() {
		return apperr.Auth(op, "not authenticated", nil)
	}
	return nil
}

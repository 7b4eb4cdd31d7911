package content

import (
	"context"
	"sync"

	"github.com/faqbot/console/internal/apperr"
	"github.com/faqbot/console/internal/models"
)

// MemoryRepository keeps pairs for the lifetime of the process.
type MemoryRepository struct {
	mu    sync.RWMutex
	pairs map[int][]models.QAPair
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{pairs: make(map[int][]models.QAPair)}
}

func (m *MemoryRepository) List(_ context.Context, botID int) ([]models.QAPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.QAPair, len(m.pairs[botID]))
	copy(out, m.pairs[botID])
	return out, nil
}

func (m *MemoryRepository) Append(_ context.Context, botID int, pairs ...models.QAPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs[botID] = append(m.pairs[botID], pairs...)
	return nil
}

func (m *MemoryRepository) RemoveAt(_ context.Context, botID int, position int) (models.QAPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.pairs[botID]
	if position < 0 || position >= len(list) {
		return models.QAPair{}, apperr.NotFound("content.remove", "no pair at position %d", position)
	}
	removed := list[position]
	m.pairs[botID] = append(list[:position:position], list[position+1:]...)
	return removed, nil
}

func (m *MemoryRepository) DeleteBot(_ context.Context, botID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pairs, botID)
	return nil
}

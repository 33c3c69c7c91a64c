package repository

import (
	"context"
	"sync"

	"github.com/rejoinderhq/rejoinder/internal/model"
)

// MemoryEventRepository implements EventRepository with an in-process
// map. It backs development setups and tests; nothing survives a
// restart.
type MemoryEventRepository struct {
	mu      sync.RWMutex
	batches map[string][][]model.Event
}

// NewMemoryEventRepository creates an empty in-memory repository.
func NewMemoryEventRepository() *MemoryEventRepository {
	return &MemoryEventRepository{
		batches: make(map[string][][]model.Event),
	}
}

func (r *MemoryEventRepository) AppendBatch(ctx context.Context, conversationID string, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}

	batch := make([]model.Event, len(events))
	copy(batch, events)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[conversationID] = append(r.batches[conversationID], batch)

	return nil
}

func (r *MemoryEventRepository) ListRecent(ctx context.Context, conversationID string, limit int) ([]model.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.batches[conversationID]
	if len(stored) == 0 {
		return nil, nil
	}

	n := len(stored)
	if limit > 0 && limit < n {
		n = limit
	}

	var events []model.Event
	for i := len(stored) - 1; i >= len(stored)-n; i-- {
		events = append(events, stored[i]...)
	}

	return events, nil
}

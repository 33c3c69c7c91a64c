package repository

import (
	"context"

	"github.com/rejoinderhq/rejoinder/internal/metrics"
	"github.com/rejoinderhq/rejoinder/internal/model"
)

// instrumentedRepository wraps an EventRepository and counts every
// operation by name and status.
type instrumentedRepository struct {
	next EventRepository
	m    *metrics.Metrics
}

// WithMetrics decorates repo with per-operation metrics.
func WithMetrics(repo EventRepository, m *metrics.Metrics) EventRepository {
	return &instrumentedRepository{next: repo, m: m}
}

func (r *instrumentedRepository) AppendBatch(ctx context.Context, conversationID string, events []model.Event) error {
	err := r.next.AppendBatch(ctx, conversationID, events)
	r.m.RecordStoreOperation("append", statusOf(err))
	return err
}

func (r *instrumentedRepository) ListRecent(ctx context.Context, conversationID string, limit int) ([]model.Event, error) {
	events, err := r.next.ListRecent(ctx, conversationID, limit)
	r.m.RecordStoreOperation("list", statusOf(err))
	return events, err
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

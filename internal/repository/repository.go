package repository

import (
	"context"

	"github.com/rejoinderhq/rejoinder/internal/model"
)

// EventRepository defines persistence operations for a conversation's
// append-only event log.
type EventRepository interface {
	// AppendBatch appends a batch of events to a conversation's log.
	// The batch is stored as a single unit so that the order of
	// events within it survives retrieval.
	AppendBatch(ctx context.Context, conversationID string, events []model.Event) error

	// ListRecent returns the events of up to limit most recent
	// batches for a conversation, newest batch first, with the order
	// inside each batch preserved. Returns nil, nil if the
	// conversation has no events.
	ListRecent(ctx context.Context, conversationID string, limit int) ([]model.Event, error)
}

package session

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rejoinderhq/rejoinder/internal/model"
	"github.com/rejoinderhq/rejoinder/internal/repository"
)

// DefaultWindow is how many recent batches the resolver inspects when
// looking for a marker. One batch per turn, so the window covers the
// last ten turns.
const DefaultWindow = 10

// Resolver reconstructs the most recent session handle for a
// conversation from its event log.
type Resolver struct {
	repo   repository.EventRepository
	window int
	log    zerolog.Logger
}

// NewResolver creates a Resolver reading through repo. A window of
// zero or less falls back to DefaultWindow.
func NewResolver(repo repository.EventRepository, window int, log zerolog.Logger) *Resolver {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Resolver{
		repo:   repo,
		window: window,
		log:    log.With().Str("component", "resolver").Logger(),
	}
}

// Resolve returns the latest stored session handle for the
// conversation, or "" when none can be found. Store failures degrade
// to "" as well, so a broken store can never block a turn; the turn
// just starts fresh.
func (r *Resolver) Resolve(ctx context.Context, conversationID string) string {
	events, err := r.repo.ListRecent(ctx, conversationID, r.window)
	if err != nil {
		r.log.Warn().
			Err(err).
			Str("conversation_id", conversationID).
			Msg("session lookup failed, starting fresh")
		return ""
	}

	for _, event := range events {
		if event.Role != model.RoleOther {
			continue
		}
		if handle, ok := DecodeMarker(event.Text); ok {
			r.log.Debug().
				Str("conversation_id", conversationID).
				Str("session_id", handle).
				Msg("found stored session")
			return handle
		}
	}

	return ""
}

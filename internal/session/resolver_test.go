package session

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/rejoinderhq/rejoinder/internal/model"
	"github.com/rejoinderhq/rejoinder/internal/repository"
)

type stubRepository struct {
	events    []model.Event
	err       error
	lastLimit int
}

func (s *stubRepository) AppendBatch(ctx context.Context, conversationID string, events []model.Event) error {
	return nil
}

func (s *stubRepository) ListRecent(ctx context.Context, conversationID string, limit int) ([]model.Event, error) {
	s.lastLimit = limit
	if s.err != nil {
		return nil, s.err
	}
	return s.events, nil
}

func TestResolveFindsNewestMarker(t *testing.T) {
	repo := &stubRepository{events: []model.Event{
		{Text: "second prompt", Role: model.RoleUser},
		{Text: "second response", Role: model.RoleAssistant},
		{Text: "__SESSION__:sess-2", Role: model.RoleOther},
		{Text: "first prompt", Role: model.RoleUser},
		{Text: "first response", Role: model.RoleAssistant},
		{Text: "__SESSION__:sess-1", Role: model.RoleOther},
	}}

	resolver := NewResolver(repo, 0, zerolog.Nop())

	if got := resolver.Resolve(context.Background(), "conv-1"); got != "sess-2" {
		t.Errorf("Resolve = %q, want %q", got, "sess-2")
	}
}

func TestResolveSkipsUndecodableOtherEvents(t *testing.T) {
	repo := &stubRepository{events: []model.Event{
		{Text: "just a note", Role: model.RoleOther},
		{Text: "__SESSION__:", Role: model.RoleOther},
		{Text: "__SESSION__:sess-1", Role: model.RoleOther},
	}}

	resolver := NewResolver(repo, 0, zerolog.Nop())

	if got := resolver.Resolve(context.Background(), "conv-1"); got != "sess-1" {
		t.Errorf("Resolve = %q, want %q", got, "sess-1")
	}
}

func TestResolveIgnoresMarkerShapedTextInOtherRoles(t *testing.T) {
	// A user could type text that looks like a marker; only OTHER
	// events are decode candidates.
	repo := &stubRepository{events: []model.Event{
		{Text: "__SESSION__:spoofed", Role: model.RoleUser},
		{Text: "__SESSION__:sess-1", Role: model.RoleOther},
	}}

	resolver := NewResolver(repo, 0, zerolog.Nop())

	if got := resolver.Resolve(context.Background(), "conv-1"); got != "sess-1" {
		t.Errorf("Resolve = %q, want %q", got, "sess-1")
	}
}

func TestResolveNoMarkers(t *testing.T) {
	repo := &stubRepository{events: []model.Event{
		{Text: "hello", Role: model.RoleUser},
		{Text: "hi there", Role: model.RoleAssistant},
	}}

	resolver := NewResolver(repo, 0, zerolog.Nop())

	if got := resolver.Resolve(context.Background(), "conv-1"); got != "" {
		t.Errorf("Resolve = %q, want empty", got)
	}
}

func TestResolveEmptyLog(t *testing.T) {
	resolver := NewResolver(&stubRepository{}, 0, zerolog.Nop())

	if got := resolver.Resolve(context.Background(), "conv-1"); got != "" {
		t.Errorf("Resolve = %q, want empty", got)
	}
}

func TestResolveSwallowsStoreErrors(t *testing.T) {
	repo := &stubRepository{err: errors.New("store is down")}
	resolver := NewResolver(repo, 0, zerolog.Nop())

	if got := resolver.Resolve(context.Background(), "conv-1"); got != "" {
		t.Errorf("Resolve = %q, want empty on store failure", got)
	}
}

func TestResolveAcrossTurns(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryEventRepository()
	resolver := NewResolver(repo, 0, zerolog.Nop())

	repo.AppendBatch(ctx, "conv-1", []model.Event{
		{Text: "hello", Role: model.RoleUser},
		{Text: "hi there", Role: model.RoleAssistant},
		{Text: EncodeMarker("sess-1"), Role: model.RoleOther},
	})
	if got := resolver.Resolve(ctx, "conv-1"); got != "sess-1" {
		t.Fatalf("Resolve after first turn = %q, want %q", got, "sess-1")
	}

	repo.AppendBatch(ctx, "conv-1", []model.Event{
		{Text: "continue", Role: model.RoleUser},
		{Text: "ok", Role: model.RoleAssistant},
		{Text: EncodeMarker("sess-2"), Role: model.RoleOther},
	})
	if got := resolver.Resolve(ctx, "conv-1"); got != "sess-2" {
		t.Errorf("Resolve after second turn = %q, want the superseding handle", got)
	}
}

func TestResolveWindow(t *testing.T) {
	repo := &stubRepository{}

	NewResolver(repo, 0, zerolog.Nop()).Resolve(context.Background(), "conv-1")
	if repo.lastLimit != DefaultWindow {
		t.Errorf("limit = %d, want DefaultWindow %d", repo.lastLimit, DefaultWindow)
	}

	NewResolver(repo, 5, zerolog.Nop()).Resolve(context.Background(), "conv-1")
	if repo.lastLimit != 5 {
		t.Errorf("limit = %d, want 5", repo.lastLimit)
	}
}

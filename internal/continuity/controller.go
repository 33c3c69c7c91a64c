// Package continuity drives one conversation turn end to end: resolve
// the prior session handle, invoke the agent (resuming when possible),
// and persist a fresh continuity checkpoint.
package continuity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rejoinderhq/rejoinder/internal/invoker"
	"github.com/rejoinderhq/rejoinder/internal/metrics"
	"github.com/rejoinderhq/rejoinder/internal/model"
	"github.com/rejoinderhq/rejoinder/internal/repository"
	"github.com/rejoinderhq/rejoinder/internal/session"
)

// HandleResolver finds the most recent stored session handle for a
// conversation, or "" when there is none.
type HandleResolver interface {
	Resolve(ctx context.Context, conversationID string) string
}

// Result is the outcome of one successfully handled turn.
type Result struct {
	// Response is every text chunk the agent streamed, joined by
	// newlines in emission order.
	Response string

	// SessionID is the handle issued for this turn, or "" when the
	// runtime produced none.
	SessionID string
}

// Turn outcomes as recorded in metrics.
const (
	outcomeFresh    = "fresh"
	outcomeResumed  = "resumed"
	outcomeFallback = "fallback"
	outcomeFailed   = "failed"
)

// state is one node of the per-turn machine. Every turn walks
// resolve -> (resume|fresh) attempt -> persist -> done, or stops at
// failed. The one permitted fallback is the resumeAttempt ->
// freshAttempt edge, taken only when the runtime reports the handle as
// unknown.
type state int

const (
	stateResolve state = iota
	stateResumeAttempt
	stateFreshAttempt
	statePersist
	stateDone
	stateFailed
)

// turn carries the mutable state of one HandleTurn call through the
// machine.
type turn struct {
	conversationID string
	prompt         string

	priorHandle string
	fellBack    bool

	response string
	handle   string
	outcome  string
	err      error
}

// Controller orchestrates turns. It holds no per-conversation state;
// everything it knows between turns lives in the event store.
type Controller struct {
	resolver HandleResolver
	invoker  invoker.Invoker
	repo     repository.EventRepository
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewController creates a Controller.
func NewController(resolver HandleResolver, inv invoker.Invoker, repo repository.EventRepository, m *metrics.Metrics, log zerolog.Logger) *Controller {
	return &Controller{
		resolver: resolver,
		invoker:  inv,
		repo:     repo,
		metrics:  m,
		log:      log.With().Str("component", "controller").Logger(),
	}
}

// HandleTurn processes one prompt for the conversation and returns the
// agent's response together with the session handle issued for the
// turn.
func (c *Controller) HandleTurn(ctx context.Context, conversationID, prompt string) (Result, error) {
	t := &turn{conversationID: conversationID, prompt: prompt}

	st := stateResolve
	for {
		switch st {
		case stateResolve:
			st = c.resolve(ctx, t)
		case stateResumeAttempt:
			st = c.resumeAttempt(ctx, t)
		case stateFreshAttempt:
			st = c.freshAttempt(ctx, t)
		case statePersist:
			st = c.persist(ctx, t)
		case stateDone:
			c.metrics.RecordTurn(t.outcome)
			c.log.Info().
				Str("conversation_id", t.conversationID).
				Str("outcome", t.outcome).
				Str("session_id", t.handle).
				Msg("turn completed")
			return Result{Response: t.response, SessionID: t.handle}, nil
		case stateFailed:
			c.metrics.RecordTurn(outcomeFailed)
			c.log.Error().
				Err(t.err).
				Str("conversation_id", t.conversationID).
				Msg("turn failed")
			return Result{}, t.err
		}
	}
}

func (c *Controller) resolve(ctx context.Context, t *turn) state {
	t.priorHandle = c.resolver.Resolve(ctx, t.conversationID)
	if t.priorHandle == "" {
		return stateFreshAttempt
	}
	return stateResumeAttempt
}

func (c *Controller) resumeAttempt(ctx context.Context, t *turn) state {
	response, handle, err := c.invokeOnce(ctx, t.prompt, t.priorHandle)
	if err == nil {
		t.response = response
		t.handle = handle
		t.outcome = outcomeResumed
		return statePersist
	}

	if errors.Is(err, invoker.ErrSessionNotFound) {
		c.log.Info().
			Str("conversation_id", t.conversationID).
			Str("session_id", t.priorHandle).
			Msg("stored session no longer resumable, starting fresh")
		c.metrics.RecordFallback()
		t.fellBack = true
		return stateFreshAttempt
	}

	t.err = err
	return stateFailed
}

func (c *Controller) freshAttempt(ctx context.Context, t *turn) state {
	response, handle, err := c.invokeOnce(ctx, t.prompt, "")
	if err != nil {
		t.err = err
		return stateFailed
	}

	t.response = response
	t.handle = handle
	t.outcome = outcomeFresh
	if t.fellBack {
		t.outcome = outcomeFallback
	}
	return statePersist
}

// persist appends the turn's batch: the prompt, the response, and the
// encoded marker for the new handle. A turn without a handle leaves
// no checkpoint, and append failures never fail the turn.
func (c *Controller) persist(ctx context.Context, t *turn) state {
	if t.handle == "" {
		return stateDone
	}
	if ctx.Err() != nil {
		// A cancelled turn must not leave a marker for an exchange
		// the caller never received.
		return stateDone
	}

	batch := []model.Event{
		{Role: model.RoleUser, Text: t.prompt},
		{Role: model.RoleAssistant, Text: t.response},
		{Role: model.RoleOther, Text: session.EncodeMarker(t.handle)},
	}
	if err := c.repo.AppendBatch(ctx, t.conversationID, batch); err != nil {
		c.log.Warn().
			Err(err).
			Str("conversation_id", t.conversationID).
			Msg("persisting continuity checkpoint failed, next turn starts fresh")
	}
	return stateDone
}

// invokeOnce drives a single agent invocation to completion,
// collecting streamed text in emission order. Stream exhaustion
// without a result event means the runtime issued no handle, which is
// not an error.
func (c *Controller) invokeOnce(ctx context.Context, prompt, resumeID string) (response, handle string, err error) {
	start := time.Now()
	defer func() {
		c.metrics.ObserveInvocation(c.invoker.Name(), time.Since(start))
	}()

	stream, err := c.invoker.Invoke(ctx, prompt, resumeID)
	if err != nil {
		return "", "", err
	}

	var chunks []string
	for event := range stream.Events() {
		switch event.Type {
		case invoker.EventText:
			chunks = append(chunks, event.Text)
		case invoker.EventResult:
			handle = event.SessionID
		}
	}
	if err := stream.Err(); err != nil {
		return "", "", err
	}

	return strings.Join(chunks, "\n"), handle, nil
}

// Package server exposes the continuity service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rejoinderhq/rejoinder/internal/continuity"
	"github.com/rejoinderhq/rejoinder/internal/model"
	"github.com/rejoinderhq/rejoinder/internal/repository"
)

// TurnHandler processes one conversation turn.
type TurnHandler interface {
	HandleTurn(ctx context.Context, conversationID, prompt string) (continuity.Result, error)
}

// Server is the HTTP front of the service.
type Server struct {
	turns TurnHandler
	repo  repository.EventRepository
	log   zerolog.Logger

	handler http.Handler
	http    *http.Server
}

// New creates a Server listening on port. The gatherer backs the
// /metrics endpoint.
func New(port string, turns TurnHandler, repo repository.EventRepository, gatherer prometheus.Gatherer, log zerolog.Logger) *Server {
	s := &Server{
		turns: turns,
		repo:  repo,
		log:   log.With().Str("component", "server").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/invocations", s.handleInvocations)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/ping", s.handlePing)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.handler = mux
	s.http = &http.Server{
		Addr:        ":" + port,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// Agent turns can run for minutes; the write timeout must
		// outlast the slowest invocation.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server listening")

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}

func (s *Server) handleInvocations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Prompt         string `json:"prompt"`
		ConversationID string `json:"conversation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = r.Header.Get("X-Session-Id")
	}
	if conversationID == "" {
		conversationID = "default"
	}

	result, err := s.turns.HandleTurn(r.Context(), conversationID, req.Prompt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := struct {
		Response       string  `json:"response"`
		ConversationID string  `json:"conversation_id"`
		SessionID      *string `json:"session_id"`
	}{
		Response:       result.Response,
		ConversationID: conversationID,
	}
	if result.SessionID != "" {
		resp.SessionID = &result.SessionID
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := s.repo.ListRecent(r.Context(), conversationID, limit)
	if err != nil {
		s.log.Error().Err(err).Str("conversation_id", conversationID).Msg("history lookup failed")
		writeError(w, http.StatusInternalServerError, "history lookup failed")
		return
	}

	// Continuity markers stay internal.
	visible := make([]model.Event, 0, len(events))
	for _, event := range events {
		if event.Role == model.RoleOther {
			continue
		}
		visible = append(visible, event)
	}

	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, http.StatusOK, visible)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"rejoinder"}`))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: message})
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/rejoinderhq/rejoinder/internal/continuity"
	"github.com/rejoinderhq/rejoinder/internal/metrics"
	"github.com/rejoinderhq/rejoinder/internal/model"
	"github.com/rejoinderhq/rejoinder/internal/repository"
	"github.com/rejoinderhq/rejoinder/internal/session"
)

type stubTurns struct {
	result continuity.Result
	err    error

	calls              int
	lastConversationID string
	lastPrompt         string
}

func (s *stubTurns) HandleTurn(ctx context.Context, conversationID, prompt string) (continuity.Result, error) {
	s.calls++
	s.lastConversationID = conversationID
	s.lastPrompt = prompt
	return s.result, s.err
}

func newTestServer(turns *stubTurns, repo repository.EventRepository) *Server {
	if repo == nil {
		repo = repository.NewMemoryEventRepository()
	}
	return New("8080", turns, repo, prometheus.NewRegistry(), zerolog.Nop())
}

func postInvocation(t *testing.T, s *Server, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/invocations", strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestInvocationsSuccess(t *testing.T) {
	turns := &stubTurns{result: continuity.Result{Response: "hi there", SessionID: "sess-1"}}
	s := newTestServer(turns, nil)

	rec := postInvocation(t, s, `{"prompt":"hello","conversation_id":"c1"}`, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body)
	}

	var resp struct {
		Response       string  `json:"response"`
		ConversationID string  `json:"conversation_id"`
		SessionID      *string `json:"session_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}

	if resp.Response != "hi there" {
		t.Errorf("response = %q, want %q", resp.Response, "hi there")
	}
	if resp.ConversationID != "c1" {
		t.Errorf("conversation_id = %q, want %q", resp.ConversationID, "c1")
	}
	if resp.SessionID == nil || *resp.SessionID != "sess-1" {
		t.Errorf("session_id = %v, want sess-1", resp.SessionID)
	}
	if turns.lastConversationID != "c1" || turns.lastPrompt != "hello" {
		t.Errorf("turn called with (%q, %q)", turns.lastConversationID, turns.lastPrompt)
	}
}

func TestInvocationsNullSessionID(t *testing.T) {
	turns := &stubTurns{result: continuity.Result{Response: "hi"}}
	s := newTestServer(turns, nil)

	rec := postInvocation(t, s, `{"prompt":"hello"}`, nil)

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	value, present := resp["session_id"]
	if !present {
		t.Fatal("session_id key missing")
	}
	if value != nil {
		t.Errorf("session_id = %v, want null", value)
	}
}

func TestInvocationsConversationIDFallback(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		header map[string]string
		want   string
	}{
		{"from body", `{"prompt":"p","conversation_id":"c1"}`, map[string]string{"X-Session-Id": "runtime-1"}, "c1"},
		{"from header", `{"prompt":"p"}`, map[string]string{"X-Session-Id": "runtime-1"}, "runtime-1"},
		{"default", `{"prompt":"p"}`, nil, "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turns := &stubTurns{}
			s := newTestServer(turns, nil)

			postInvocation(t, s, tt.body, tt.header)

			if turns.lastConversationID != tt.want {
				t.Errorf("conversation id = %q, want %q", turns.lastConversationID, tt.want)
			}
		})
	}
}

func TestInvocationsMissingPrompt(t *testing.T) {
	turns := &stubTurns{}
	s := newTestServer(turns, nil)

	rec := postInvocation(t, s, `{"conversation_id":"c1"}`, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Error == "" {
		t.Error("error message missing")
	}
	if turns.calls != 0 {
		t.Errorf("turn handler called %d times for invalid input", turns.calls)
	}
}

func TestInvocationsMalformedBody(t *testing.T) {
	s := newTestServer(&stubTurns{}, nil)

	rec := postInvocation(t, s, `{`, nil)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestInvocationsMethodNotAllowed(t *testing.T) {
	s := newTestServer(&stubTurns{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/invocations", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestInvocationsTurnError(t *testing.T) {
	turns := &stubTurns{err: errors.New("runtime exploded")}
	s := newTestServer(turns, nil)

	rec := postInvocation(t, s, `{"prompt":"hello"}`, nil)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !strings.Contains(resp.Error, "runtime exploded") {
		t.Errorf("error = %q, want the failure description", resp.Error)
	}
}

func TestHistoryHidesMarkers(t *testing.T) {
	repo := repository.NewMemoryEventRepository()
	err := repo.AppendBatch(context.Background(), "c1", []model.Event{
		{Role: model.RoleUser, Text: "hello"},
		{Role: model.RoleAssistant, Text: "hi there"},
		{Role: model.RoleOther, Text: session.EncodeMarker("sess-1")},
	})
	if err != nil {
		t.Fatalf("seeding repo: %v", err)
	}
	s := newTestServer(&stubTurns{}, repo)

	req := httptest.NewRequest(http.MethodGet, "/history?conversation_id=c1", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body)
	}

	var events []model.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 with the marker hidden", len(events))
	}
	for _, event := range events {
		if event.Role == model.RoleOther {
			t.Errorf("marker event leaked: %+v", event)
		}
	}
}

func TestHistoryRequiresConversationID(t *testing.T) {
	s := newTestServer(&stubTurns{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPing(t *testing.T) {
	s := newTestServer(&stubTurns{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("body = %q, want a health indicator", rec.Body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.RecordTurn("fresh")

	s := New("8080", &stubTurns{}, repository.NewMemoryEventRepository(), reg, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "rejoinder_turns_total") {
		t.Error("turn counter missing from exposition")
	}
}

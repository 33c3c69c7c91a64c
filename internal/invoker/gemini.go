package invoker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// DefaultSessionTTL is how long an idle Gemini chat stays resumable.
const DefaultSessionTTL = 30 * time.Minute

// GeminiConfig holds the settings for the Gemini runtime.
type GeminiConfig struct {
	// Model defaults to gemini-2.5-flash.
	Model string

	// SystemPrompt becomes the chat's system instruction.
	SystemPrompt string

	// SessionTTL bounds how long an idle session is resumable.
	// Defaults to DefaultSessionTTL.
	SessionTTL time.Duration
}

// GeminiInvoker runs turns through the Gemini API. Unlike the Claude
// CLI, Gemini has no server-side session storage, so live chats are
// kept in an in-process registry keyed by minted handles. A handle
// stops resolving after the process restarts or the session idles out,
// which surfaces as ErrSessionNotFound exactly like a stale CLI
// session would.
type GeminiInvoker struct {
	client *genai.Client
	cfg    GeminiConfig
	log    zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*geminiSession
}

type geminiSession struct {
	chat     *genai.Chat
	lastUsed time.Time
}

// NewGeminiInvoker creates a GeminiInvoker around an existing client.
func NewGeminiInvoker(client *genai.Client, cfg GeminiConfig, log zerolog.Logger) *GeminiInvoker {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	return &GeminiInvoker{
		client:   client,
		cfg:      cfg,
		log:      log.With().Str("component", "gemini").Logger(),
		sessions: make(map[string]*geminiSession),
	}
}

// Name implements Invoker.
func (g *GeminiInvoker) Name() string { return "gemini" }

// Invoke implements Invoker.
func (g *GeminiInvoker) Invoke(ctx context.Context, prompt, resumeID string) (*Stream, error) {
	handle := resumeID
	var chat *genai.Chat

	if resumeID != "" {
		session := g.takeSession(resumeID)
		if session == nil {
			return nil, fmt.Errorf("%w: gemini session %q", ErrSessionNotFound, resumeID)
		}
		chat = session.chat
	} else {
		created, err := g.client.Chats.Create(ctx, g.cfg.Model, g.chatConfig(), nil)
		if err != nil {
			return nil, fmt.Errorf("invoker: gemini: creating chat: %w", err)
		}
		chat = created
		handle = uuid.NewString()
	}

	g.log.Debug().
		Bool("resuming", resumeID != "").
		Msg("gemini invocation started")

	stream := NewStream()
	go func() {
		resp, err := chat.SendMessage(ctx, genai.Part{Text: prompt})
		if err != nil {
			// A failed send leaves the chat history in an unknown
			// state; the session stays dropped.
			stream.Finish(fmt.Errorf("invoker: gemini: %w", err))
			return
		}

		for _, text := range candidateTexts(resp) {
			if !stream.Emit(ctx, Event{Type: EventText, Text: text}) {
				stream.Finish(ctx.Err())
				return
			}
		}

		g.storeSession(handle, chat)
		stream.Emit(ctx, Event{Type: EventResult, SessionID: handle})
		stream.Finish(nil)
	}()

	return stream, nil
}

func (g *GeminiInvoker) chatConfig() *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if g.cfg.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: g.cfg.SystemPrompt}},
		}
	}
	return cfg
}

// takeSession checks a session out of the registry. The caller owns
// the chat until it is stored back; a chat never serves two turns at
// once.
func (g *GeminiInvoker) takeSession(handle string) *geminiSession {
	g.mu.Lock()
	defer g.mu.Unlock()

	session, ok := g.sessions[handle]
	if !ok {
		return nil
	}
	delete(g.sessions, handle)

	if time.Since(session.lastUsed) > g.cfg.SessionTTL {
		return nil
	}
	return session
}

func (g *GeminiInvoker) storeSession(handle string, chat *genai.Chat) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	for id, session := range g.sessions {
		if now.Sub(session.lastUsed) > g.cfg.SessionTTL {
			delete(g.sessions, id)
		}
	}
	g.sessions[handle] = &geminiSession{chat: chat, lastUsed: now}
}

func candidateTexts(resp *genai.GenerateContentResponse) []string {
	var texts []string
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Text == "" {
				continue
			}
			texts = append(texts, part.Text)
		}
	}
	return texts
}

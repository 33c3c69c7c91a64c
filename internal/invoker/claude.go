package invoker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// ClaudeConfig holds the settings for the Claude CLI runtime.
type ClaudeConfig struct {
	// Binary is the executable to spawn. Defaults to "claude".
	Binary string

	// Model overrides the CLI's default model when non-empty.
	Model string

	// SystemPrompt is appended to the CLI's built-in system prompt.
	SystemPrompt string

	// MaxTurns caps agentic turns within one invocation.
	MaxTurns int
}

// ClaudeInvoker runs turns through the Claude Code CLI in
// non-interactive mode, reading its stream-json output line by line.
// Session handles are the CLI's own session ids, resumable across
// processes with --resume.
type ClaudeInvoker struct {
	cfg ClaudeConfig
	log zerolog.Logger
}

// NewClaudeInvoker creates a ClaudeInvoker.
func NewClaudeInvoker(cfg ClaudeConfig, log zerolog.Logger) *ClaudeInvoker {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	return &ClaudeInvoker{
		cfg: cfg,
		log: log.With().Str("component", "claude").Logger(),
	}
}

// Name implements Invoker.
func (c *ClaudeInvoker) Name() string { return "claude" }

// Invoke implements Invoker.
func (c *ClaudeInvoker) Invoke(ctx context.Context, prompt, resumeID string) (*Stream, error) {
	cmd := exec.CommandContext(ctx, c.cfg.Binary, c.buildArgs(prompt, resumeID)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("invoker: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("invoker: starting %s: %w", c.cfg.Binary, err)
	}

	c.log.Debug().
		Bool("resuming", resumeID != "").
		Msg("claude invocation started")

	stream := NewStream()
	go func() {
		result, sawResult, readErr := consumeClaudeStream(ctx, stdout, stream)
		waitErr := cmd.Wait()

		switch {
		case ctx.Err() != nil:
			stream.Finish(ctx.Err())
		case readErr != nil:
			stream.Finish(fmt.Errorf("invoker: reading claude output: %w", readErr))
		case waitErr != nil || (sawResult && result.IsError):
			stream.Finish(classifyClaudeFailure(resumeID != "", waitErr, stderr.String(), result))
		default:
			if sawResult && result.SessionID != "" {
				stream.Emit(ctx, Event{Type: EventResult, SessionID: result.SessionID})
			}
			stream.Finish(nil)
		}
	}()

	return stream, nil
}

func (c *ClaudeInvoker) buildArgs(prompt, resumeID string) []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--verbose",
	}

	if c.cfg.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", c.cfg.SystemPrompt)
	}
	if c.cfg.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(c.cfg.MaxTurns))
	}
	if c.cfg.Model != "" {
		args = append(args, "--model", c.cfg.Model)
	}
	if resumeID != "" {
		args = append(args, "--resume", resumeID)
	}

	// Prompt as positional argument.
	args = append(args, prompt)

	return args
}

// claudeResult is the terminal {"type":"result"} line of a stream.
type claudeResult struct {
	SessionID string `json:"session_id"`
	IsError   bool   `json:"is_error"`
	Result    string `json:"result"`
}

// consumeClaudeStream reads stream-json lines from r until EOF,
// emitting one text event per assistant line that carries a top-level
// text field. It returns the result line if one was seen.
func consumeClaudeStream(ctx context.Context, r io.Reader, stream *Stream) (claudeResult, bool, error) {
	var result claudeResult
	sawResult := false

	scanner := bufio.NewScanner(r)
	// Tool results can put large file contents on a single line.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(line, &envelope); err != nil {
			// The CLI mixes plain diagnostics into stdout.
			continue
		}

		switch envelope.Type {
		case "assistant":
			if text := extractStringField(line, "text"); text != "" {
				if !stream.Emit(ctx, Event{Type: EventText, Text: text}) {
					return result, sawResult, ctx.Err()
				}
			}
		case "result":
			if err := json.Unmarshal(line, &result); err == nil {
				sawResult = true
			}
		}
	}

	return result, sawResult, scanner.Err()
}

// classifyClaudeFailure maps a failed invocation to the typed errors
// the controller understands. Classification of a rejected resume is
// deliberately narrow: the CLI's "No conversation found" message, or
// a bare exit status 1 while resuming, count as a stale handle and
// nothing else does.
func classifyClaudeFailure(resuming bool, waitErr error, stderr string, result claudeResult) error {
	detail := strings.TrimSpace(result.Result)
	if detail == "" {
		detail = strings.TrimSpace(stderr)
	}

	if isClaudeAuthFailure(result.Result) || isClaudeAuthFailure(stderr) {
		return &AuthenticationError{Message: "claude authentication required"}
	}

	if resuming && isStaleSessionFailure(waitErr, result.Result+"\n"+stderr) {
		if detail == "" {
			return ErrSessionNotFound
		}
		return fmt.Errorf("%w: %s", ErrSessionNotFound, detail)
	}

	if waitErr != nil {
		if detail == "" {
			return fmt.Errorf("invoker: claude: %w", waitErr)
		}
		return fmt.Errorf("invoker: claude: %w: %s", waitErr, detail)
	}

	return fmt.Errorf("invoker: claude: %s", detail)
}

// isStaleSessionFailure reports whether a resume failure means the
// handle is unknown or expired rather than a real fault. The CLI says
// "No conversation found" for unknown handles; older versions just
// exit 1 with no structured output.
func isStaleSessionFailure(waitErr error, output string) bool {
	if strings.Contains(strings.ToLower(output), "no conversation found") {
		return true
	}

	var exitErr *exec.ExitError
	return errors.As(waitErr, &exitErr) && exitErr.ExitCode() == 1
}

func isClaudeAuthFailure(text string) bool {
	return strings.Contains(text, "Invalid API key") || strings.Contains(text, "Please run /login")
}

// extractStringField extracts a top-level string field from a JSON
// object without full deserialization. Falls back to empty string on
// any error.
func extractStringField(data []byte, field string) string {
	var parsed map[string]json.RawMessage
	if json.Unmarshal(data, &parsed) != nil {
		return ""
	}
	raw, ok := parsed[field]
	if !ok {
		return ""
	}
	var value string
	if json.Unmarshal(raw, &value) != nil {
		return ""
	}
	return value
}

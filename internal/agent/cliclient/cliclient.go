// Package cliclient implements the generative-client contract by
// shelling out to a locally installed agent CLI (the same integration
// style the source platform uses for its Claude/Gemini/Codex drivers:
// build an argv, run the process, and parse its NDJSON event stream)
// instead of embedding a vendor SDK.
package cliclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/netbuddy/taskforge/internal/agent"
	"github.com/netbuddy/taskforge/internal/tools"
)

// Config selects the CLI binary and its invocation style.
type Config struct {
	Name       string   // client name, e.g. "claude-v1"
	Binary     string   // executable on PATH, e.g. "claude"
	ExtraArgs  []string // flags always passed, e.g. ["--output-format", "stream-json"]
	WorkingDir string
	Timeout    time.Duration
}

// Client drives an agent CLI as a subprocess per request.
type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Client{cfg: cfg}
}

func (c *Client) Name() string { return c.cfg.Name }

// StructuredOutput asks the CLI for a single JSON value matching the
// schema and decodes it into target. The prompt is augmented with the
// schema, since most agent CLIs have no native structured-output flag.
func (c *Client) StructuredOutput(ctx context.Context, req agent.StructuredOutputRequest, target any) error {
	schemaJSON, err := json.Marshal(req.Schema)
	if err != nil {
		return &agent.ClientError{Kind: agent.ClientErrInvalidOutput, Message: err.Error()}
	}
	prompt := fmt.Sprintf(
		"%s\n\nRespond with a single JSON object matching this schema and nothing else:\n%s",
		req.UserPrompt, string(schemaJSON),
	)

	out, err := c.run(ctx, req.SystemPrompt, prompt, req.Temperature)
	if err != nil {
		return err
	}

	raw := extractJSONObject(out)
	if raw == "" {
		return &agent.ClientError{Kind: agent.ClientErrInvalidOutput, Message: "no JSON object found in CLI output"}
	}
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		return &agent.ClientError{Kind: agent.ClientErrInvalidOutput, Message: fmt.Sprintf("decode structured output: %v", err)}
	}
	return nil
}

// ToolCall runs one loop iteration: the CLI either emits tool_use
// events (parsed into ToolCallDecision) or a final result event.
func (c *Client) ToolCall(ctx context.Context, req agent.ToolCallRequest) (agent.ToolCallResponse, error) {
	prompt := renderTranscript(req.UserPrompt, req.Transcript)

	events, err := c.runEvents(ctx, req.SystemPrompt, prompt, req.Temperature, req.Tools)
	if err != nil {
		return agent.ToolCallResponse{}, err
	}

	var calls []agent.ToolCallDecision
	var finalText string
	for _, ev := range events {
		switch ev.Type {
		case "tool_use":
			calls = append(calls, agent.ToolCallDecision{Tool: ev.ToolName, Args: ev.ToolArgs})
		case "result", "assistant":
			if ev.Text != "" {
				finalText = ev.Text
			}
		}
	}

	if req.ToolChoice == agent.ToolChoiceRequired && len(calls) == 0 {
		return agent.ToolCallResponse{}, &agent.ClientError{Kind: agent.ClientErrInvalidOutput, Message: "tool choice required but no tool_use event returned"}
	}

	return agent.ToolCallResponse{FinalText: finalText, Calls: calls}, nil
}

// cliEvent is the NDJSON shape emitted by the source platform's agent
// CLIs, trimmed to what the runtime needs (see pkg/driver's
// ParseEvent/mapEventType for the fuller mapping this adapts).
type cliEvent struct {
	Type     string
	Text     string
	ToolName string
	ToolArgs map[string]any
}

func (c *Client) run(ctx context.Context, systemPrompt, prompt string, temperature float64) (string, error) {
	events, err := c.runEvents(ctx, systemPrompt, prompt, temperature, nil)
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	for _, ev := range events {
		buf.WriteString(ev.Text)
	}
	return buf.String(), nil
}

func (c *Client) runEvents(ctx context.Context, systemPrompt, prompt string, temperature float64, toolNames []tools.Descriptor) ([]cliEvent, error) {
	args := append([]string{}, c.cfg.ExtraArgs...)
	args = append(args, "-p", prompt)
	if systemPrompt != "" {
		args = append(args, "--system-prompt", systemPrompt)
	}
	args = append(args, "--temperature", strconv.FormatFloat(temperature, 'f', -1, 64))
	for _, t := range toolNames {
		args = append(args, "--allowed-tools", t.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.cfg.Binary, args...)
	cmd.Dir = c.cfg.WorkingDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil, &agent.ClientError{Kind: agent.ClientErrTimeout, Message: "agent CLI exceeded its deadline"}
	}
	if err != nil {
		return nil, &agent.ClientError{Kind: agent.ClientErrNetwork, Message: fmt.Sprintf("%v: %s", err, stderr.String())}
	}

	return parseEvents(stdout.String())
}

func parseEvents(output string) ([]cliEvent, error) {
	var events []cliEvent
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue // non-JSON line, ignore like the source drivers do
		}
		events = append(events, decodeEvent(raw))
	}
	return events, nil
}

func decodeEvent(raw map[string]any) cliEvent {
	ev := cliEvent{}
	ev.Type, _ = raw["type"].(string)
	if text, ok := raw["text"].(string); ok {
		ev.Text = text
	}
	if name, ok := raw["tool_name"].(string); ok {
		ev.ToolName = name
	}
	if args, ok := raw["tool_args"].(map[string]any); ok {
		ev.ToolArgs = args
	}
	return ev
}

func renderTranscript(userPrompt string, transcript []agent.Message) string {
	if len(transcript) == 0 {
		return userPrompt
	}
	var buf strings.Builder
	buf.WriteString(userPrompt)
	buf.WriteString("\n\n--- prior turns ---\n")
	for _, m := range transcript {
		buf.WriteString(fmt.Sprintf("[%s] %s\n", m.Role, m.Content))
	}
	return buf.String()
}

// extractJSONObject finds the first top-level {...} span in s, tolerant
// of an agent CLI wrapping the JSON in prose or markdown fences.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

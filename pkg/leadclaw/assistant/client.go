// Package assistant – client.go implements the HTTP client for the remote
// agent API (OpenAI Assistants v2 format: threads, runs, tool outputs).
// Any endpoint speaking the same protocol works via base_url.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Run statuses reported by the remote agent.
const (
	StatusQueued         = "queued"
	StatusInProgress     = "in_progress"
	StatusRequiresAction = "requires_action"
	StatusCompleted      = "completed"
	StatusFailed         = "failed"
	StatusCancelled      = "cancelled"
	StatusExpired        = "expired"
)

// AgentClient is the capability contract the run controller depends on.
// The HTTP implementation below owns the wire format.
type AgentClient interface {
	// CreateThread creates a new conversation thread and returns its handle.
	CreateThread(ctx context.Context) (string, error)

	// AddMessage appends a message to the thread.
	AddMessage(ctx context.Context, threadID, role, content string) error

	// CreateRun starts a new run on the thread.
	CreateRun(ctx context.Context, threadID string) (*Run, error)

	// GetRun fetches the current state of a run.
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)

	// SubmitToolOutputs reports tool results back so the run can continue.
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) error

	// LatestAssistantMessage returns the newest agent-authored message in
	// the thread, or "" if there is none.
	LatestAssistantMessage(ctx context.Context, threadID string) (string, error)
}

// Run is the state of one asynchronous agent run.
type Run struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	RequiredAction *RequiredAction `json:"required_action,omitempty"`
}

// RequiredAction carries the tool calls the agent wants executed.
type RequiredAction struct {
	SubmitToolOutputs struct {
		ToolCalls []ToolCall `json:"tool_calls"`
	} `json:"submit_tool_outputs"`
}

// ToolCalls returns the pending tool calls, or nil if there are none.
func (r *Run) ToolCalls() []ToolCall {
	if r.RequiredAction == nil {
		return nil
	}
	return r.RequiredAction.SubmitToolOutputs.ToolCalls
}

// ToolCall represents a tool invocation requested by the agent.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall holds the function name and serialized arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolOutput is one structured tool result submitted back to the run.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// threadMessage is one entry of the messages list response.
type threadMessage struct {
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text struct {
			Value string `json:"value"`
		} `json:"text"`
	} `json:"content"`
}

// Client is the HTTP AgentClient implementation.
type Client struct {
	baseURL     string
	apiKey      string
	assistantID string
	httpClient  *http.Client
	logger      *slog.Logger
}

// ClientConfig configures the agent client.
type ClientConfig struct {
	// BaseURL is the API base (default "https://api.openai.com/v1").
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates requests. Prefer env/keyring over config.
	APIKey string `yaml:"api_key"`

	// AssistantID is the remote assistant to run against.
	AssistantID string `yaml:"assistant_id"`
}

// NewClient creates an agent client from config.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	return &Client{
		baseURL:     baseURL,
		apiKey:      cfg.APIKey,
		assistantID: cfg.AssistantID,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logger.With("component", "agent_client"),
	}
}

// CreateThread creates a new conversation thread.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/threads", map[string]any{}, &resp); err != nil {
		return "", err
	}

	c.logger.Debug("thread created", "thread_id", resp.ID)
	return resp.ID, nil
}

// AddMessage appends a message to the thread.
func (c *Client) AddMessage(ctx context.Context, threadID, role, content string) error {
	path := fmt.Sprintf("/threads/%s/messages", threadID)
	payload := map[string]any{
		"role":    role,
		"content": content,
	}
	return c.do(ctx, http.MethodPost, path, payload, nil)
}

// CreateRun starts a new run for the configured assistant.
func (c *Client) CreateRun(ctx context.Context, threadID string) (*Run, error) {
	path := fmt.Sprintf("/threads/%s/runs", threadID)
	payload := map[string]any{
		"assistant_id": c.assistantID,
	}

	var run Run
	if err := c.do(ctx, http.MethodPost, path, payload, &run); err != nil {
		return nil, err
	}

	c.logger.Debug("run created", "thread_id", threadID, "run_id", run.ID)
	return &run, nil
}

// GetRun fetches the current state of a run.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	path := fmt.Sprintf("/threads/%s/runs/%s", threadID, runID)

	var run Run
	if err := c.do(ctx, http.MethodGet, path, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// SubmitToolOutputs reports tool results back to a run awaiting action.
func (c *Client) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) error {
	path := fmt.Sprintf("/threads/%s/runs/%s/submit_tool_outputs", threadID, runID)
	if outputs == nil {
		outputs = []ToolOutput{}
	}
	payload := map[string]any{
		"tool_outputs": outputs,
	}
	return c.do(ctx, http.MethodPost, path, payload, nil)
}

// LatestAssistantMessage returns the newest agent-authored text in the
// thread, or "" if the thread has no assistant messages yet.
func (c *Client) LatestAssistantMessage(ctx context.Context, threadID string) (string, error) {
	path := fmt.Sprintf("/threads/%s/messages?order=desc&limit=20", threadID)

	var resp struct {
		Data []threadMessage `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}

	for _, msg := range resp.Data {
		if msg.Role != "assistant" {
			continue
		}
		for _, part := range msg.Content {
			if part.Type == "text" && part.Text.Value != "" {
				return part.Text.Value, nil
			}
		}
	}
	return "", nil
}

// do performs one authenticated API round-trip and decodes the response.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	if c.apiKey == "" {
		return fmt.Errorf("API key not configured. Run 'leadclaw config set-key' or set LEADCLAW_API_KEY")
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	c.logger.Debug("agent API call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API returned %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
	}
	return nil
}

// truncate shortens a string for log output.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

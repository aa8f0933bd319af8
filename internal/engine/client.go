// Package engine is the HTTP client for the dialog engine's per-user
// interaction endpoint. A request carries one user action; the response is
// either a buffered JSON array of traces or, in streaming mode, an SSE stream
// of trace events terminated by an end event.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flowbridge/flowbridge/internal/sse"
	"github.com/flowbridge/flowbridge/internal/trace"
)

// Action is one user-originated engine input.
type Action struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// TextAction builds the action for a plain user message.
func TextAction(text string) Action {
	return Action{Type: "text", Payload: text}
}

// LaunchAction starts a fresh conversation.
func LaunchAction() Action {
	return Action{Type: "launch"}
}

// ActionFromRaw decodes a serialized action, falling back to treating the
// raw string as literal text input when it does not parse.
func ActionFromRaw(raw []byte) Action {
	var a Action
	if err := json.Unmarshal(raw, &a); err == nil && strings.TrimSpace(a.Type) != "" {
		return a
	}
	return TextAction(string(raw))
}

type interactRequest struct {
	Action Action `json:"action"`
}

// Client talks to the engine. The streaming client carries no timeout; the
// buffered client uses the configured request timeout.
type Client struct {
	baseURL   string
	apiKey    string
	versionID string
	http      *http.Client
	streaming *http.Client
	logger    *slog.Logger
}

func NewClient(log *slog.Logger, baseURL, apiKey, versionID string, timeout time.Duration) *Client {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		versionID: versionID,
		http:      &http.Client{Timeout: timeout},
		streaming: &http.Client{},
		logger:    log.With(slog.String("component", "engine")),
	}
}

func (c *Client) interactURL(userID string) string {
	return c.baseURL + "/state/user/" + url.PathEscape(userID) + "/interact"
}

func (c *Client) newRequest(ctx context.Context, userID string, action Action) (*http.Request, error) {
	body, err := json.Marshal(interactRequest{Action: action})
	if err != nil {
		return nil, fmt.Errorf("encode action: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.interactURL(userID), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}
	if c.versionID != "" {
		req.Header.Set("versionID", c.versionID)
	}
	return req, nil
}

// Interact performs a buffered interaction and returns the full trace list.
func (c *Client) Interact(ctx context.Context, userID string, action Action) ([]trace.Trace, error) {
	req, err := c.newRequest(ctx, userID, action)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read engine response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("engine error", slog.Int("status", resp.StatusCode), slog.String("body_prefix", truncate(string(respBody), 300)))
		return nil, fmt.Errorf("engine status %d", resp.StatusCode)
	}
	var traces []trace.Trace
	if err := json.Unmarshal(respBody, &traces); err != nil {
		return nil, fmt.Errorf("decode traces: %w", err)
	}
	return traces, nil
}

// InteractStream performs a streaming interaction. fn is invoked for every
// trace as it arrives, in emission order; the full list is returned after the
// end event for post-stream replay.
func (c *Client) InteractStream(ctx context.Context, userID string, action Action, fn func(trace.Trace) error) ([]trace.Trace, error) {
	req, err := c.newRequest(ctx, userID, action)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streaming.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine stream request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		c.logger.Error("engine stream error", slog.Int("status", resp.StatusCode), slog.String("body_prefix", truncate(string(errBody), 300)))
		return nil, fmt.Errorf("engine status %d", resp.StatusCode)
	}

	var traces []trace.Trace
	done := fmt.Errorf("stream done")
	err = sse.Stream(ctx, resp.Body, func(frame sse.Frame) error {
		switch frame.Event {
		case "trace":
			t, decodeErr := trace.Decode([]byte(frame.Raw))
			if decodeErr != nil {
				c.logger.Warn("trace decode failed", slog.String("data_prefix", truncate(frame.Raw, 200)), slog.Any("error", decodeErr))
				return nil
			}
			traces = append(traces, t)
			if fn != nil {
				return fn(t)
			}
		case "end", sse.EventEndOfStream:
			return done
		}
		return nil
	})
	if err != nil && err != done {
		return traces, err
	}
	return traces, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

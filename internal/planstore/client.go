package planstore

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

// Client handles communication with the plan-management service
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
	stubMode   bool
	logger     *slog.Logger
}

// NewClient creates a new plan store client. In stub mode no requests are
// made and every delta is reported as applied.
func NewClient(baseURL, secret string, timeout time.Duration, stubMode bool, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
		stubMode:   stubMode,
		logger:     logger,
	}
}

// ApplyDelta asks the plan store to apply the delta to the user's day
func (c *Client) ApplyDelta(ctx context.Context, delta Delta) error {
	return c.send(ctx, OperationApply, delta)
}

// RevertDelta asks the plan store to undo a previously applied delta
func (c *Client) RevertDelta(ctx context.Context, delta Delta) error {
	return c.send(ctx, OperationRevert, delta)
}

func (c *Client) send(ctx context.Context, operation string, delta Delta) error {
	if c.stubMode {
		c.logger.Info("Plan store stub: delta accepted",
			"operation", operation,
			"candidate_id", delta.CandidateID,
			"user_id", delta.UserID,
			"day", delta.Day,
			"domain", delta.Domain,
		)
		return nil
	}

	jsonData, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("failed to marshal delta: %w", err)
	}

	url := c.baseURL + "/deltas/" + operation
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", delta.IdempotencyKey(operation))
	if c.secret != "" {
		req.Header.Set("X-Plan-Store-Secret", c.secret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("plan store returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if len(bytes.TrimSpace(body)) > 0 {
		var out deltaResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		if out.Status != "" && out.Status != "ok" && out.Status != "applied" && out.Status != "reverted" {
			return fmt.Errorf("plan store rejected %s: %s", operation, out.Message)
		}
	}

	return nil
}

// Package notify delivers best-effort push notifications through the
// push gateway. Delivery failures never propagate to the pipeline.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client posts notification requests to the gateway.
type Client struct {
	gatewayURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a notification client. An empty gatewayURL
// disables delivery.
func NewClient(gatewayURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		gatewayURL: gatewayURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
	}
}

type pushRequest struct {
	UserID  string `json:"userId"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	Success bool   `json:"success"`
}

// Send notifies the user about a terminal job outcome. The returned
// error is informational; callers swallow it.
func (c *Client) Send(ctx context.Context, userID, workoutName string, success bool) error {
	if c.gatewayURL == "" {
		return nil
	}

	msg := pushRequest{
		UserID:  userID,
		Success: success,
	}
	if success {
		msg.Title = "Workout ready"
		msg.Body = fmt.Sprintf("%q was created from your video.", workoutName)
	} else {
		msg.Title = "Workout processing failed"
		msg.Body = "We couldn't build a workout from your video. Please try again."
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gatewayURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notification request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification rejected with status %d", resp.StatusCode)
	}

	return nil
}

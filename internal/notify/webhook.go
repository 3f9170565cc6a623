package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const EventJobSucceeded = "job.succeeded"

// Event is the payload posted when a job completes.
type Event struct {
	Event     string `json:"event"`
	JobID     string `json:"job_id"`
	Profile   string `json:"profile"`
	Processed int    `json:"processed"`
	Archive   string `json:"archive"`
}

// Webhook posts events as JSON to a fixed URL. A Webhook with an empty URL is a no-op.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
	}
}

func (w *Webhook) Enabled() bool {
	return w != nil && w.url != ""
}

func (w *Webhook) Notify(ctx context.Context, ev Event) error {
	if !w.Enabled() {
		return nil
	}
	if ev.Event == "" {
		ev.Event = EventJobSucceeded
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Package notify forwards applied tab titles to an ntfy-style HTTP endpoint.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dgnsrekt/tab_titler/internal/relay"
)

// ErrNoEndpoint is returned by Send when no endpoint is configured.
var ErrNoEndpoint = errors.New("notify: endpoint is required")

type titleEvent struct {
	TabID  string `json:"tab_id"`
	Title  string `json:"title"`
	Source string `json:"source"`
}

// Send posts message as text/plain to endpoint.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	if strings.TrimSpace(endpoint) == "" {
		return ErrNoEndpoint
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Title", "Tab title changed")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: endpoint returned status=%d", resp.StatusCode)
	}
	return nil
}

// FormatTitle renders a title feed payload as a notification line.
func FormatTitle(payload string) (string, error) {
	var ev titleEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return "", fmt.Errorf("notify: decode title event: %w", err)
	}
	return fmt.Sprintf("%s (%s, tab %s)", ev.Title, ev.Source, ev.TabID), nil
}

// Forward subscribes to the broker and posts every title event to endpoint
// until ctx is done. Delivery failures are logged and skipped.
func Forward(ctx context.Context, broker *relay.Broker, client *http.Client, endpoint string) {
	id, ch := broker.Subscribe()
	defer broker.Unsubscribe(id)

	slog.Info("title notifications enabled", "endpoint", endpoint)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if evt.Feed != relay.FeedTitle {
				continue
			}
			msg, err := FormatTitle(evt.Payload)
			if err != nil {
				slog.Debug("title notification skipped", "event_id", evt.ID, "error", err)
				continue
			}
			if err := Send(ctx, client, endpoint, msg); err != nil {
				slog.Warn("title notification failed", "endpoint", endpoint, "error", err)
			}
		}
	}
}

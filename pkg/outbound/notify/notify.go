// Package notify pushes expiry notifications to an external dispatch
// service. Delivery is best effort; the retention sweep logs failures
// and moves on.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"chatstore/pkg/models"
)

// Event types dispatched by the store.
const (
	SwapExpired   = "swap_expired"
	PrizeEnded    = "prize_ended"
	EventsExpired = "events_expired"
)

// Event is a single notification payload.
type Event struct {
	Type      string           `json:"type"`
	ChatID    string           `json:"chat_id"`
	MessageID models.MessageID `json:"message_id,omitempty"`
	Users     []models.UserID  `json:"users,omitempty"`
	TS        time.Time        `json:"ts"`
}

// Dispatcher delivers notification events.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

// NopDispatcher drops all events.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(ctx context.Context, ev Event) error { return nil }

// HTTPDispatcher posts events to the dispatch service.
type HTTPDispatcher struct {
	baseURL string
	httpc   *http.Client
}

// NewHTTPDispatcher returns a dispatcher bound to baseURL. A zero
// timeout defaults to 5s.
func NewHTTPDispatcher(baseURL string, timeout time.Duration) *HTTPDispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPDispatcher{baseURL: baseURL, httpc: &http.Client{Timeout: timeout}}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	url := d.baseURL + "/v1/notify"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("notify status %d", resp.StatusCode)
	}
	return nil
}

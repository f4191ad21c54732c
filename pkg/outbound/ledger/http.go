package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"chatstore/pkg/models"
)

// HTTPClient implements TransferClient against the ledger gateway's
// REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// NewHTTPClient returns a client bound to baseURL. A zero timeout
// defaults to 10s.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{baseURL: baseURL, apiKey: apiKey, httpc: &http.Client{Timeout: timeout}}
}

func (c *HTTPClient) Transfer(ctx context.Context, req TransferRequest) (models.CompletedTransfer, error) {
	var done models.CompletedTransfer
	b, err := json.Marshal(req)
	if err != nil {
		return done, err
	}
	url := c.baseURL + "/v1/transfer"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return done, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		// network errors and timeouts may succeed on retry
		return done, &TransferError{Msg: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return done, &TransferError{Msg: fmt.Sprintf("ledger status %d", resp.StatusCode), Retryable: true}
	default:
		return done, &TransferError{Msg: fmt.Sprintf("ledger status %d", resp.StatusCode), Retryable: false}
	}
	if err := json.NewDecoder(resp.Body).Decode(&done); err != nil {
		return done, err
	}
	return done, nil
}

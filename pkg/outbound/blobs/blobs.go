// Package blobs releases attachment data held in the external blob
// store once the referencing events are pruned or purged.
package blobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Deleter removes blob references from the blob store.
type Deleter interface {
	Delete(ctx context.Context, refs []string) error
}

// NopDeleter ignores all deletes. Used when no blob store is configured.
type NopDeleter struct{}

func (NopDeleter) Delete(ctx context.Context, refs []string) error { return nil }

// HTTPDeleter implements Deleter against the blob store's REST API.
type HTTPDeleter struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// NewHTTPDeleter returns a deleter bound to baseURL. A zero timeout
// defaults to 10s.
func NewHTTPDeleter(baseURL, apiKey string, timeout time.Duration) *HTTPDeleter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDeleter{baseURL: baseURL, apiKey: apiKey, httpc: &http.Client{Timeout: timeout}}
}

func (d *HTTPDeleter) Delete(ctx context.Context, refs []string) error {
	if len(refs) == 0 {
		return nil
	}
	body := map[string][]string{"refs": refs}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := d.baseURL + "/v1/blobs/delete"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.apiKey != "" {
		req.Header.Set("X-API-Key", d.apiKey)
	}
	resp, err := d.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("blob store status %d", resp.StatusCode)
	}
	return nil
}

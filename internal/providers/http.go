package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const maxResponseBytes = 4 << 20

// httpSource is the transport shared by the HTTP adapters
type httpSource struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

func newHTTPSource(name, baseURL, apiKey string, client *http.Client) httpSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return httpSource{name: name, baseURL: baseURL, apiKey: apiKey, client: client}
}

// do sends req and decodes a 2xx JSON body into out
func (s httpSource) do(ctx context.Context, req *http.Request, out interface{}) error {
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return transient(s.name, "request timed out: %w", context.DeadlineExceeded)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return transient(s.name, "request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transient(s.name, "failed to read response: %v", err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return transient(s.name, "upstream returned status %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("provider %s returned status %d: %s", s.name, resp.StatusCode, truncate(body, 200))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("provider %s returned malformed body: %w", s.name, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

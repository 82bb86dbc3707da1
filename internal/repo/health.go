package repo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPHealthProbe checks target liveness with a GET request. Only 200 counts as alive.
type HTTPHealthProbe struct {
	url        string
	httpClient *http.Client
}

// NewHTTPHealthProbe constructs a probe with the given per-request timeout.
func NewHTTPHealthProbe(url string, timeout time.Duration) *HTTPHealthProbe {
	return &HTTPHealthProbe{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Check returns nil when the target answered 200.
func (p *HTTPHealthProbe) Check(ctx context.Context) error {
	if p == nil || p.url == "" {
		return fmt.Errorf("health probe not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned %s", resp.Status)
	}
	return nil
}

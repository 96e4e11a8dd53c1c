// Package scrape implements keyless YouTube scraping: channel
// resolution via the search page, live detection via the channel's
// live page, and the embedded-JSON extraction both depend on.
package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultUserAgent   = "Mozilla/5.0 (compatible; YTwatch/1.0)"
	defaultFetchLimit  = 4 << 20 // cap on response body size
	defaultHTTPTimeout = 20 * time.Second
)

// anti-bot body markers that flag a response as rate limiting even
// when the status is 200
var antiBotMarkers = []string{
	"unusual traffic",
	"/sorry/index",
	"captcha",
}

// Client is the long-lived shared HTTP session for all scraping.
// Lazily reused; concurrency is capped by the scheduler's gate, so no
// locking is needed beyond what net/http provides.
type Client struct {
	http      *http.Client
	userAgent string
}

// NewClient builds the shared scrape session. A zero timeout uses the
// default.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		userAgent: defaultUserAgent,
	}
}

// Fetch retrieves a URL and classifies failures per the scrape error
// taxonomy. 429 and 403 responses, and bodies carrying anti-bot
// markers, come back as KindRateLimited.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, newError(KindTransient, "fetch", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, newError(KindTransient, "fetch", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden:
		return nil, newError(KindRateLimited, "fetch", fmt.Errorf("status %d for %s", resp.StatusCode, url))
	case resp.StatusCode != http.StatusOK:
		return nil, newError(KindTransient, "fetch", fmt.Errorf("status %d for %s", resp.StatusCode, url))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, defaultFetchLimit))
	if err != nil {
		return nil, newError(KindTransient, "fetch", err)
	}

	lower := strings.ToLower(string(body[:min(len(body), 64<<10)]))
	for _, marker := range antiBotMarkers {
		if strings.Contains(lower, marker) {
			log.Warn().Str("url", url).Str("marker", marker).Msg("anti-bot marker in response body")
			return nil, newError(KindRateLimited, "fetch", fmt.Errorf("anti-bot marker %q", marker))
		}
	}
	return body, nil
}

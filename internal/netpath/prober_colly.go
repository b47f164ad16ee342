package netpath

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
)

// CollyProber verifies a path by fetching a known-good probe URL through the
// path's proxy with a throwaway collector.
type CollyProber struct {
	probeURL  string
	userAgent string
	timeout   time.Duration
}

// NewCollyProber constructs a prober against the given probe URL.
func NewCollyProber(probeURL, userAgent string, timeout time.Duration) *CollyProber {
	if probeURL == "" {
		probeURL = "https://www.gstatic.com/generate_204"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CollyProber{probeURL: probeURL, userAgent: userAgent, timeout: timeout}
}

// Probe implements Prober.
func (p *CollyProber) Probe(ctx context.Context, path *Path) error {
	collector := colly.NewCollector(colly.UserAgent(p.userAgent))
	collector.SetRequestTimeout(p.timeout)

	if path.ProxyURL != "" {
		proxyURL, err := url.Parse(path.ProxyURL)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		collector.WithTransport(&http.Transport{
			Proxy:               http.ProxyURL(proxyURL),
			TLSHandshakeTimeout: p.timeout,
		})
	}

	status := 0
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(p.probeURL)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("probe canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("probe via %s: %w", path.Key(), err)
		}
	}
	if status >= http.StatusInternalServerError {
		return fmt.Errorf("probe via %s: status %d", path.Key(), status)
	}
	return nil
}

package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ChromedpConfig controls the headless navigator.
type ChromedpConfig struct {
	MaxParallel       int
	NavigationTimeout time.Duration
}

// ChromedpNavigator renders pages with headless Chrome. Each navigation
// gets its own allocator so the egress proxy can differ per attempt.
type ChromedpNavigator struct {
	cfg     ChromedpConfig
	limiter chan struct{}
}

// NewChromedpNavigator creates a headless navigator.
func NewChromedpNavigator(cfg ChromedpConfig) (*ChromedpNavigator, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 35 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &ChromedpNavigator{cfg: cfg, limiter: limiter}, nil
}

// Navigate implements Navigator.
func (n *ChromedpNavigator) Navigate(ctx context.Context, req Request) (Response, error) {
	if err := n.acquire(ctx); err != nil {
		return Response{}, err
	}
	defer n.release()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if req.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(req.ProxyURL))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(taskCtx, n.cfg.NavigationTimeout)
		defer cancel()
	}

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	var (
		html     string
		finalURL string
		cookies  []*http.Cookie
	)
	actions := []chromedp.Action{
		n.identitySetupAction(req),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			raw, err := network.GetCookies().WithUrls([]string{req.URL}).Do(ctx)
			if err != nil {
				return fmt.Errorf("read cookies: %w", err)
			}
			cookies = fromNetworkCookies(raw)
			return nil
		}),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return Response{}, fmt.Errorf("chromedp run: %w", err)
	}

	status, responseURL := meta.snapshotWithFallbacks(req.URL, finalURL)
	return Response{
		URL:        responseURL,
		StatusCode: status,
		Body:       html,
		Cookies:    cookies,
		Latency:    time.Since(start),
	}, nil
}

func (n *ChromedpNavigator) identitySetupAction(req Request) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if req.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(req.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if req.Viewport.Width > 0 && req.Viewport.Height > 0 {
			mobile := req.DeviceClass == "mobile" || req.DeviceClass == "tablet"
			ratio := req.Viewport.PixelRatio
			if ratio <= 0 {
				ratio = 1
			}
			err := emulation.SetDeviceMetricsOverride(
				int64(req.Viewport.Width), int64(req.Viewport.Height), ratio, mobile,
			).Do(ctx)
			if err != nil {
				return fmt.Errorf("set viewport: %w", err)
			}
		}
		if req.Timezone != "" {
			if err := emulation.SetTimezoneOverride(req.Timezone).Do(ctx); err != nil {
				return fmt.Errorf("set timezone: %w", err)
			}
		}
		if req.Locale != "" {
			if err := emulation.SetLocaleOverride().WithLocale(req.Locale).Do(ctx); err != nil {
				return fmt.Errorf("set locale: %w", err)
			}
		}
		if len(req.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(req.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		for _, c := range req.Cookies {
			err := network.SetCookie(c.Name, c.Value).
				WithURL(req.URL).
				WithPath(c.Path).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	})
}

func (n *ChromedpNavigator) acquire(ctx context.Context) error {
	if n.limiter == nil {
		return nil
	}
	select {
	case n.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (n *ChromedpNavigator) release() {
	if n.limiter == nil {
		return
	}
	select {
	case <-n.limiter:
	default:
	}
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()

	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}

func fromNetworkCookies(raw []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	return out
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}

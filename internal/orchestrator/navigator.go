package orchestrator

import (
	"context"
	"net/http"
	"time"

	"github.com/veilhq/stealthcrawler/internal/profile"
)

// Request describes one page navigation under a composed identity.
type Request struct {
	URL         string
	UserAgent   string
	Viewport    profile.Viewport
	DeviceClass profile.DeviceClass
	Locale      string
	Timezone    string
	ProxyURL    string
	Cookies     []*http.Cookie
	Headers     http.Header
}

// Response is the rendered page plus transport facts.
type Response struct {
	URL        string
	StatusCode int
	Body       string
	Cookies    []*http.Cookie
	Latency    time.Duration
}

// Navigator renders one page. Implementations must honor ctx cancellation
// and deadlines.
type Navigator interface {
	Navigate(ctx context.Context, req Request) (Response, error)
}

// Package challenge detects anti-bot challenge pages and resolves them
// through a prioritized strategy chain.
package challenge

import (
	"net/http"
	"strings"
)

// Type classifies a detected challenge.
type Type string

// Challenge types produced by Detect.
const (
	TypeNone               Type = "none"
	TypeCaptchaImage       Type = "captcha-image"
	TypeCaptchaInteractive Type = "captcha-interactive"
	TypeJSChallenge        Type = "js-challenge"
	TypeRateLimited        Type = "rate-limited"
)

// Record is the transient outcome of challenge handling for one navigation
// attempt.
type Record struct {
	Type       Type    `json:"type"`
	Confidence float64 `json:"confidence"`
	Attempts   int     `json:"attemptCount"`
	Resolved   bool    `json:"resolved"`
	Strategy   string  `json:"strategy,omitempty"`
	Token      string  `json:"-"`
}

// Page markers checked in priority order; later entries only apply when the
// earlier types did not match.
var (
	interactiveMarkers = []string{
		"cf-turnstile",
		"g-recaptcha",
		"h-captcha",
		"hcaptcha.com/captcha",
		"challenge-form",
	}
	imageMarkers = []string{
		"captcha image",
		"captcha.jpg",
		"captcha.png",
		"type the characters",
		"enter the characters you see",
	}
	jsMarkers = []string{
		"checking your browser",
		"just a moment...",
		"enable javascript and cookies",
		"__cf_chl_",
		"ddos protection by",
	}
	rateLimitMarkers = []string{
		"rate limit exceeded",
		"too many requests",
		"retry-after",
	}
)

// Detect classifies the response. Confidence reflects how specific the
// matched signal was: status codes rank above body markers.
func Detect(statusCode int, body string) (Type, float64) {
	lower := strings.ToLower(body)

	if statusCode == http.StatusTooManyRequests {
		return TypeRateLimited, 0.95
	}
	if containsAny(lower, interactiveMarkers) {
		return TypeCaptchaInteractive, 0.9
	}
	if containsAny(lower, imageMarkers) {
		return TypeCaptchaImage, 0.8
	}
	if containsAny(lower, jsMarkers) {
		return TypeJSChallenge, 0.85
	}
	if statusCode == http.StatusForbidden || statusCode == http.StatusServiceUnavailable {
		// Block pages without recognizable widgets usually sit behind a JS
		// interstitial.
		return TypeJSChallenge, 0.5
	}
	if containsAny(lower, rateLimitMarkers) {
		return TypeRateLimited, 0.6
	}
	return TypeNone, 0
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

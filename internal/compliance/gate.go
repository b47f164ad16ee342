// Package compliance models the external legal/policy gate consulted before
// any network call is made on a target.
package compliance

import (
	"context"
	"net/url"
	"strings"
)

// Decision is the gate's verdict for one target.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Gate yields an allow/deny decision for a target URL. Adjudication itself
// is external; implementations only relay or cache its policy.
type Gate interface {
	Check(ctx context.Context, targetURL string) (Decision, error)
}

// StaticGate applies a configured deny-list. An empty list allows
// everything, which is the development default.
type StaticGate struct {
	denied map[string]string
}

// NewStaticGate constructs a gate denying the given hosts. Values map host
// to the policy reason reported to callers.
func NewStaticGate(denied map[string]string) *StaticGate {
	normalized := make(map[string]string, len(denied))
	for host, reason := range denied {
		normalized[strings.ToLower(host)] = reason
	}
	return &StaticGate{denied: normalized}
}

// Check implements Gate.
func (g *StaticGate) Check(_ context.Context, targetURL string) (Decision, error) {
	u, err := url.Parse(targetURL)
	if err != nil || u.Hostname() == "" {
		return Decision{Allowed: false, Reason: "unparseable target"}, nil
	}
	host := strings.ToLower(u.Hostname())
	for denied, reason := range g.denied {
		if host == denied || strings.HasSuffix(host, "."+denied) {
			if reason == "" {
				reason = "target on deny list"
			}
			return Decision{Allowed: false, Reason: reason}, nil
		}
	}
	return Decision{Allowed: true, Reason: "no policy restriction"}, nil
}

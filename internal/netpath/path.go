// Package netpath scores and selects proxy/region egress paths and tracks
// their health and load.
package netpath

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Class buckets proxy endpoints by provenance.
type Class string

// Proxy classes in ascending order of cost.
const (
	ClassDatacenter  Class = "datacenter"
	ClassResidential Class = "residential"
	ClassMobile      Class = "mobile"
)

// Spec declares one (region, provider) pair in configuration.
type Spec struct {
	Provider    string        `mapstructure:"provider"`
	ProxyURL    string        `mapstructure:"proxy_url"`
	Class       Class         `mapstructure:"class"`
	Regions     []string      `mapstructure:"regions"`
	Capacity    int           `mapstructure:"capacity"`
	Reliability float64       `mapstructure:"reliability"`
	MeanLatency time.Duration `mapstructure:"mean_latency"`
}

// Path is a live egress point. Load is an atomic counter; reliability and
// the inactive window are guarded by mu. Paths are created at startup and
// never destroyed, only deactivated.
type Path struct {
	Provider    string
	ProxyURL    string
	Class       Class
	Regions     []string
	Capacity    int
	MeanLatency time.Duration

	load atomic.Int64

	mu            sync.Mutex
	reliability   float64
	inactiveUntil time.Time
}

func newPath(spec Spec) *Path {
	rel := spec.Reliability
	if rel <= 0 || rel > 1 {
		rel = 0.8
	}
	capacity := spec.Capacity
	if capacity <= 0 {
		capacity = 10
	}
	latency := spec.MeanLatency
	if latency <= 0 {
		latency = 500 * time.Millisecond
	}
	return &Path{
		Provider:    spec.Provider,
		ProxyURL:    spec.ProxyURL,
		Class:       spec.Class,
		Regions:     spec.Regions,
		Capacity:    capacity,
		MeanLatency: latency,
		reliability: rel,
	}
}

// Key identifies the path in job records and logs.
func (p *Path) Key() string {
	return p.Provider + "/" + strings.Join(p.Regions, ",")
}

// Load returns the current concurrent use count.
func (p *Path) Load() int {
	return int(p.load.Load())
}

// Reliability returns the current health score in [0,1].
func (p *Path) Reliability() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reliability
}

// Active reports whether the path is usable at the given instant.
func (p *Path) Active(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !now.Before(p.inactiveUntil)
}

func (p *Path) servesRegion(region string) bool {
	if region == "" {
		return false
	}
	for _, r := range p.Regions {
		if strings.EqualFold(r, region) {
			return true
		}
	}
	return false
}

// adjustReliability moves the score by delta, clamped to [0,1], and
// deactivates the path for the cooldown when it falls below the floor.
func (p *Path) adjustReliability(delta, floor float64, cooldown time.Duration, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reliability += delta
	if p.reliability > 1 {
		p.reliability = 1
	}
	if p.reliability < 0 {
		p.reliability = 0
	}
	if p.reliability < floor && cooldown > 0 {
		p.inactiveUntil = now.Add(cooldown)
	}
}

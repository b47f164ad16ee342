// Package profile holds the fingerprint profile catalog and selection policy.
package profile

import (
	"errors"
	"math/rand"
	"net/url"
	"strings"
	"sync"
)

// DeviceClass buckets profiles by form factor.
type DeviceClass string

// Device classes carried by catalog entries.
const (
	DeviceDesktop DeviceClass = "desktop"
	DeviceMobile  DeviceClass = "mobile"
	DeviceTablet  DeviceClass = "tablet"
)

// Viewport describes the emulated screen.
type Viewport struct {
	Width      int     `mapstructure:"width" json:"width"`
	Height     int     `mapstructure:"height" json:"height"`
	PixelRatio float64 `mapstructure:"pixel_ratio" json:"pixelRatio"`
}

// Profile is one browser/device identity. Immutable once constructed.
type Profile struct {
	Name             string      `mapstructure:"name" json:"name"`
	UserAgent        string      `mapstructure:"user_agent" json:"userAgent"`
	Viewport         Viewport    `mapstructure:"viewport" json:"viewport"`
	DeviceClass      DeviceClass `mapstructure:"device_class" json:"deviceClass"`
	Locale           string      `mapstructure:"locale" json:"locale"`
	Timezone         string      `mapstructure:"timezone" json:"timezone"`
	AffinityWeight   float64     `mapstructure:"affinity_weight" json:"affinityWeight"`
	DomainAffinities []string    `mapstructure:"domain_affinities" json:"domainAffinities,omitempty"`
}

// ErrEmptyCatalog indicates the catalog was constructed with no profiles.
// This is a startup configuration error, never a runtime condition.
var ErrEmptyCatalog = errors.New("profile catalog is empty")

// Catalog is process-wide read-only identity state. Only the sampler RNG is
// guarded; the profile slice is never mutated after construction.
type Catalog struct {
	profiles []Profile
	mu       sync.Mutex
	rng      *rand.Rand
}

// NewCatalog builds a catalog over the given profiles. The seed fixes the
// sampling sequence for reproducible tests.
func NewCatalog(profiles []Profile, seed int64) (*Catalog, error) {
	if len(profiles) == 0 {
		return nil, ErrEmptyCatalog
	}
	copied := make([]Profile, len(profiles))
	copy(copied, profiles)
	return &Catalog{
		profiles: copied,
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

// Len returns the catalog size.
func (c *Catalog) Len() int {
	return len(c.profiles)
}

// Profiles returns a copy of the catalog entries.
func (c *Catalog) Profiles() []Profile {
	out := make([]Profile, len(c.profiles))
	copy(out, c.profiles)
	return out
}

// Select picks a profile for the target URL. Domain-affinity matches are
// sampled uniformly; otherwise selection is weighted by AffinityWeight.
// The previous profile name is excluded unless it is the only match, so
// retries of the same job rotate identity.
func (c *Catalog) Select(rawURL string, previous string) Profile {
	host := hostOf(rawURL)

	pool := c.affinityMatches(host)
	uniform := len(pool) > 0
	if !uniform {
		pool = c.profiles
	}

	filtered := excludeByName(pool, previous)
	if len(filtered) == 0 {
		filtered = pool
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if uniform {
		return filtered[c.rng.Intn(len(filtered))]
	}
	return c.weightedSample(filtered)
}

func (c *Catalog) affinityMatches(host string) []Profile {
	if host == "" {
		return nil
	}
	var matches []Profile
	for _, p := range c.profiles {
		for _, pattern := range p.DomainAffinities {
			if matchesDomain(host, pattern) {
				matches = append(matches, p)
				break
			}
		}
	}
	return matches
}

// weightedSample draws proportionally to AffinityWeight. Zero or negative
// weights count as 1 so misconfigured entries stay selectable.
func (c *Catalog) weightedSample(pool []Profile) Profile {
	total := 0.0
	for _, p := range pool {
		total += effectiveWeight(p)
	}
	target := c.rng.Float64() * total
	for _, p := range pool {
		target -= effectiveWeight(p)
		if target <= 0 {
			return p
		}
	}
	return pool[len(pool)-1]
}

func effectiveWeight(p Profile) float64 {
	if p.AffinityWeight <= 0 {
		return 1
	}
	return p.AffinityWeight
}

func excludeByName(pool []Profile, name string) []Profile {
	if name == "" {
		return pool
	}
	var out []Profile
	for _, p := range pool {
		if p.Name != name {
			out = append(out, p)
		}
	}
	return out
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// matchesDomain supports exact hosts and "*.example.com" style patterns.
func matchesDomain(host, pattern string) bool {
	pattern = strings.ToLower(pattern)
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		return host == suffix || strings.HasSuffix(host, "."+suffix)
	}
	return host == pattern
}

package netpath

import (
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/veilhq/stealthcrawler/internal/acquire"
)

// FailReason distinguishes target blocks from generic network failures when
// penalizing a path.
type FailReason string

// Failure reasons accepted by MarkFailed.
const (
	ReasonBlocked FailReason = "blocked"
	ReasonNetwork FailReason = "network"
)

// Scoring weights per the selection policy.
const (
	weightReliability = 0.4
	weightLatency     = 0.2
	weightResidential = 0.15
	weightRegion      = 0.15
	weightLoad        = 0.1
)

// Config tunes manager behavior.
type Config struct {
	// ReliabilityFloor excludes paths below this score from selection.
	ReliabilityFloor float64
	// Cooldown is how long a path stays inactive after dropping below the floor.
	Cooldown time.Duration
	// ProbeRecovery is the reliability increment on a successful health probe.
	ProbeRecovery float64
	// ProbeDecay is the reliability decrement on a failed health probe.
	ProbeDecay float64
	// BlockPenalty is the immediate decrement applied by MarkFailed(blocked).
	BlockPenalty float64
	// NetworkPenalty is the decrement applied by MarkFailed(network).
	NetworkPenalty float64
	// LatencyCeiling normalizes mean latency for scoring.
	LatencyCeiling time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReliabilityFloor <= 0 {
		c.ReliabilityFloor = 0.3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 10 * time.Minute
	}
	if c.ProbeRecovery <= 0 {
		c.ProbeRecovery = 0.05
	}
	if c.ProbeDecay <= 0 {
		c.ProbeDecay = 0.1
	}
	if c.BlockPenalty <= 0 {
		c.BlockPenalty = 0.25
	}
	if c.NetworkPenalty <= 0 {
		c.NetworkPenalty = 0.1
	}
	if c.LatencyCeiling <= 0 {
		c.LatencyCeiling = 3 * time.Second
	}
	return c
}

// ErrNoPaths indicates the manager was constructed without any paths.
var ErrNoPaths = errors.New("no network paths configured")

// Manager selects egress paths and applies the health feedback loop.
type Manager struct {
	paths  []*Path
	cfg    Config
	clock  acquire.Clock
	logger *zap.Logger
}

// NewManager builds a Manager from path specs.
func NewManager(specs []Spec, cfg Config, clock acquire.Clock, logger *zap.Logger) (*Manager, error) {
	if len(specs) == 0 {
		return nil, ErrNoPaths
	}
	paths := make([]*Path, 0, len(specs))
	for _, spec := range specs {
		paths = append(paths, newPath(spec))
	}
	return &Manager{
		paths:  paths,
		cfg:    cfg.withDefaults(),
		clock:  clock,
		logger: logger,
	}, nil
}

// Paths returns the managed paths. The slice itself must not be mutated.
func (m *Manager) Paths() []*Path {
	return m.paths
}

// Select returns the highest-scoring viable path with a claimed load slot.
// When no candidate qualifies, all load counters are reset once
// (pressure relief) and selection retried; nil means the caller must fail
// the attempt with PathExhausted.
//
// The exclude keys support rotation and strict path diversity: a path whose
// Key matches is skipped unless no other viable candidate remains.
func (m *Manager) Select(regionHint string, preferResidential bool, exclude []string) *Path {
	if best := m.selectOnce(regionHint, preferResidential, exclude); best != nil {
		return best
	}

	m.relieve()
	return m.selectOnce(regionHint, preferResidential, exclude)
}

// selectOnce rescans after every lost claim: a path that filled up between
// scoring and claiming is at capacity on the next scan and drops out.
func (m *Manager) selectOnce(regionHint string, preferResidential bool, exclude []string) *Path {
	for range len(m.paths) {
		best := m.pick(regionHint, preferResidential, exclude)
		if best == nil {
			return nil
		}
		if claimSlot(best) {
			return best
		}
	}
	return nil
}

// claimSlot increments load only while below capacity, so concurrent
// selections can never admit a path past its limit.
func claimSlot(p *Path) bool {
	for {
		cur := p.load.Load()
		if cur >= int64(p.Capacity) {
			return false
		}
		if p.load.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (m *Manager) pick(regionHint string, preferResidential bool, exclude []string) *Path {
	now := m.clock.Now()
	var best, bestExcluded *Path
	bestScore, bestExcludedScore := -1.0, -1.0

	for _, p := range m.paths {
		if !p.Active(now) {
			continue
		}
		if p.Reliability() < m.cfg.ReliabilityFloor {
			continue
		}
		loadRatio := float64(p.Load()) / float64(p.Capacity)
		if loadRatio >= 1 {
			continue
		}
		score := m.score(p, loadRatio, regionHint, preferResidential)
		if slices.Contains(exclude, p.Key()) {
			if score > bestExcludedScore {
				bestExcluded, bestExcludedScore = p, score
			}
			continue
		}
		if score > bestScore {
			best, bestScore = p, score
		}
	}
	if best == nil {
		return bestExcluded
	}
	return best
}

func (m *Manager) score(p *Path, loadRatio float64, regionHint string, preferResidential bool) float64 {
	normLatency := float64(p.MeanLatency) / float64(m.cfg.LatencyCeiling)
	if normLatency > 1 {
		normLatency = 1
	}
	residentialBonus := 0.0
	if preferResidential && (p.Class == ClassResidential || p.Class == ClassMobile) {
		residentialBonus = 1
	}
	regionBonus := 0.0
	if p.servesRegion(regionHint) {
		regionBonus = 1
	}
	return weightReliability*p.Reliability() +
		weightLatency*(1-normLatency) +
		weightResidential*residentialBonus +
		weightRegion*regionBonus -
		weightLoad*loadRatio
}

// relieve zeroes every load counter. Leaked references decrement into the
// floor of zero on release, so a stampede after relief cannot go negative.
func (m *Manager) relieve() {
	if m.logger != nil {
		m.logger.Warn("no viable network path, resetting load counters")
	}
	for _, p := range m.paths {
		p.load.Store(0)
	}
}

// Return gives back a claimed slot without outcome feedback, for when the
// path was selected but never used.
func (m *Manager) Return(p *Path) {
	if p == nil {
		return
	}
	decrementLoad(p)
}

// Release returns a path after use and applies outcome feedback.
func (m *Manager) Release(p *Path, success bool, latency time.Duration) {
	if p == nil {
		return
	}
	decrementLoad(p)
	now := m.clock.Now()
	if success {
		p.adjustReliability(m.cfg.ProbeRecovery, m.cfg.ReliabilityFloor, 0, now)
		return
	}
	p.adjustReliability(-m.cfg.NetworkPenalty, m.cfg.ReliabilityFloor, m.cfg.Cooldown, now)
	_ = latency
}

func decrementLoad(p *Path) {
	for {
		cur := p.load.Load()
		if cur <= 0 {
			return
		}
		if p.load.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// MarkFailed applies an immediate reliability penalty, larger for target
// blocks than for generic network failures.
func (m *Manager) MarkFailed(p *Path, reason FailReason) {
	if p == nil {
		return
	}
	penalty := m.cfg.NetworkPenalty
	if reason == ReasonBlocked {
		penalty = m.cfg.BlockPenalty
	}
	p.adjustReliability(-penalty, m.cfg.ReliabilityFloor, m.cfg.Cooldown, m.clock.Now())
	if m.logger != nil {
		m.logger.Warn("path penalized",
			zap.String("path", p.Key()),
			zap.String("reason", string(reason)),
			zap.Float64("reliability", p.Reliability()),
		)
	}
}

// Utilization reports the current load per path key.
func (m *Manager) Utilization() map[string]int {
	out := make(map[string]int, len(m.paths))
	for _, p := range m.paths {
		out[p.Key()] = p.Load()
	}
	return out
}

package netpath

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Prober issues a lightweight request through a path to verify it works.
type Prober interface {
	Probe(ctx context.Context, path *Path) error
}

// Monitor runs periodic health probes against every managed path. It owns
// its own goroutine and never shares worker-pool capacity with job
// execution.
type Monitor struct {
	manager  *Manager
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

// NewMonitor constructs a Monitor.
func NewMonitor(manager *Manager, prober Prober, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Monitor{
		manager:  manager,
		prober:   prober,
		interval: interval,
		timeout:  15 * time.Second,
		logger:   logger,
	}
}

// Run blocks, probing on a fixed interval until the context finishes.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce probes every path, moving reliability toward 1.0 on success and
// decaying it on failure. Paths below the floor are deactivated for the
// cooldown window by the manager's adjustment logic.
func (m *Monitor) RunOnce(ctx context.Context) {
	cfg := m.manager.cfg
	now := m.manager.clock.Now()
	for _, p := range m.manager.Paths() {
		probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
		err := m.prober.Probe(probeCtx, p)
		cancel()
		if err != nil {
			p.adjustReliability(-cfg.ProbeDecay, cfg.ReliabilityFloor, cfg.Cooldown, now)
			if m.logger != nil {
				m.logger.Warn("health probe failed",
					zap.String("path", p.Key()),
					zap.Float64("reliability", p.Reliability()),
					zap.Error(err),
				)
			}
			continue
		}
		p.adjustReliability(cfg.ProbeRecovery, cfg.ReliabilityFloor, 0, now)
	}
}

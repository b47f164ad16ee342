package netpath

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type scriptedProber struct {
	mu     sync.Mutex
	fail   map[string]bool
	probes int
}

func (p *scriptedProber) Probe(_ context.Context, path *Path) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes++
	if p.fail[path.Provider] {
		return errors.New("probe refused")
	}
	return nil
}

func TestMonitorRecoversAndDecays(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	m, err := NewManager([]Spec{
		{Provider: "healthy", Regions: []string{"us-east"}, Capacity: 2, Reliability: 0.5},
		{Provider: "flaky", Regions: []string{"us-east"}, Capacity: 2, Reliability: 0.5},
	}, Config{}, clock, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	prober := &scriptedProber{fail: map[string]bool{"flaky": true}}
	monitor := NewMonitor(m, prober, time.Minute, nil)

	monitor.RunOnce(context.Background())

	healthy, flaky := m.Paths()[0], m.Paths()[1]
	if healthy.Reliability() <= 0.5 {
		t.Fatalf("expected recovery above 0.5, got %v", healthy.Reliability())
	}
	if flaky.Reliability() >= 0.5 {
		t.Fatalf("expected decay below 0.5, got %v", flaky.Reliability())
	}
}

func TestMonitorDeactivatesBelowFloor(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	m, err := NewManager([]Spec{
		{Provider: "dying", Regions: []string{"us-east"}, Capacity: 2, Reliability: 0.35},
	}, Config{Cooldown: time.Minute}, clock, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	prober := &scriptedProber{fail: map[string]bool{"dying": true}}
	monitor := NewMonitor(m, prober, time.Minute, nil)

	monitor.RunOnce(context.Background())

	p := m.Paths()[0]
	if p.Active(clock.Now()) {
		t.Fatal("path should be deactivated after decaying below the floor")
	}
	clock.Advance(2 * time.Minute)
	if !p.Active(clock.Now()) {
		t.Fatal("path should reactivate after the cooldown window")
	}
}

func TestMonitorRunStopsOnContext(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	m, err := NewManager(testSpecs(), Config{}, clock, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	monitor := NewMonitor(m, &scriptedProber{}, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		monitor.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on context cancellation")
	}
}

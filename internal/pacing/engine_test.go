package pacing

import (
	"context"
	"testing"
	"time"
)

func TestReadingPauseBounds(t *testing.T) {
	t.Parallel()

	e := NewEngine(1)
	tiny := Complexity{Elements: 5, TextLength: 30}
	huge := Complexity{Elements: 900, TextLength: 600000, Images: 40}

	for range 100 {
		if p := e.Plan(DeliberateReader, tiny); p.ReadingPause < minReadingPause {
			t.Fatalf("reading pause %v below floor", p.ReadingPause)
		}
		if p := e.Plan(DeliberateReader, huge); p.ReadingPause > maxReadingPause {
			t.Fatalf("reading pause %v above ceiling", p.ReadingPause)
		}
	}
}

func TestPlansAreNotIdentical(t *testing.T) {
	t.Parallel()

	e := NewEngine(2)
	c := Complexity{Elements: 200, TextLength: 8000, Images: 6}
	first := e.Plan(FastNavigator, c)
	identical := true
	for range 10 {
		next := e.Plan(FastNavigator, c)
		if next.PreDelay != first.PreDelay || next.ReadingPause != first.ReadingPause {
			identical = false
			break
		}
	}
	if identical {
		t.Fatal("repeated plans must not share a timing signature")
	}
}

func TestScrollStepsScaleWithComplexity(t *testing.T) {
	t.Parallel()

	e := NewEngine(3)
	small := e.Plan(DeliberateReader, Complexity{Elements: 10})
	large := e.Plan(DeliberateReader, Complexity{Elements: 400, Images: 20})
	if len(small.ScrollDelays) < 1 {
		t.Fatal("every plan needs at least one scroll step")
	}
	if len(large.ScrollDelays) <= len(small.ScrollDelays) {
		t.Fatalf("larger page should scroll more: %d vs %d", len(large.ScrollDelays), len(small.ScrollDelays))
	}
	if len(large.ScrollDelays) > 12 {
		t.Fatalf("scroll steps uncapped: %d", len(large.ScrollDelays))
	}
}

func TestFasterArchetypeReadsFaster(t *testing.T) {
	t.Parallel()

	e := NewEngine(4)
	c := Complexity{TextLength: 24000}
	var slow, fast time.Duration
	for range 50 {
		slow += e.Plan(DeliberateReader, c).ReadingPause
		fast += e.Plan(FastNavigator, c).ReadingPause
	}
	if fast >= slow {
		t.Fatalf("fast navigator should dwell less: fast=%v slow=%v", fast, slow)
	}
}

type recordingSleeper struct {
	slept []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return nil
}

func TestExecutorWalksPlanWithoutRealWaits(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	exec := NewExecutor(sleeper)
	plan := Plan{
		PreDelay:     100 * time.Millisecond,
		ScrollDelays: []time.Duration{time.Millisecond, 2 * time.Millisecond},
		ReadingPause: 2 * time.Second,
	}

	ctx := context.Background()
	if err := exec.PreNavigate(ctx, plan); err != nil {
		t.Fatalf("PreNavigate() error = %v", err)
	}
	gestures := 0
	err := exec.Scroll(ctx, plan, func(context.Context, int) error {
		gestures++
		return nil
	})
	if err != nil {
		t.Fatalf("Scroll() error = %v", err)
	}
	if err := exec.Read(ctx, plan); err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if gestures != 2 {
		t.Fatalf("expected 2 gestures, got %d", gestures)
	}
	if len(sleeper.slept) != 4 {
		t.Fatalf("expected 4 waits, got %d", len(sleeper.slept))
	}
	if got := plan.Total(); got != 100*time.Millisecond+3*time.Millisecond+2*time.Second {
		t.Fatalf("Total() = %v", got)
	}
}

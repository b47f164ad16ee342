package stealth

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/veilhq/stealthcrawler/internal/acquire"
	"github.com/veilhq/stealthcrawler/internal/compliance"
	"github.com/veilhq/stealthcrawler/internal/netpath"
	"github.com/veilhq/stealthcrawler/internal/profile"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func testCatalog(t *testing.T) *profile.Catalog {
	t.Helper()
	catalog, err := profile.NewCatalog(profile.DefaultProfiles(), 42)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return catalog
}

func testManager(t *testing.T, specs []netpath.Spec) *netpath.Manager {
	t.Helper()
	mgr, err := netpath.NewManager(specs, netpath.Config{}, fixedClock{now: time.Unix(1700000000, 0)}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr
}

func defaultSpecs() []netpath.Spec {
	return []netpath.Spec{
		{Provider: "alpha", Class: netpath.ClassDatacenter, Regions: []string{"us-east"}, Capacity: 4, Reliability: 0.9},
		{Provider: "beta", Class: netpath.ClassResidential, Regions: []string{"us-east"}, Capacity: 4, Reliability: 0.85},
		{Provider: "gamma", Class: netpath.ClassResidential, Regions: []string{"eu-west"}, Capacity: 4, Reliability: 0.8},
	}
}

func TestCapabilitiesLayering(t *testing.T) {
	l1 := CapabilitiesFor(1)
	if l1.SessionState || l1.ChallengeResolution || l1.ComplianceGate {
		t.Fatalf("level 1 should only carry the base bundle: %+v", l1)
	}
	if l1.ChallengeBudget != 0 {
		t.Fatalf("level 1 challenge budget = %d, want 0", l1.ChallengeBudget)
	}

	l2 := CapabilitiesFor(2)
	if !l2.SessionState || !l2.PreferResidential || !l2.RichPacing {
		t.Fatalf("level 2 missing session/path/pacing capabilities: %+v", l2)
	}
	if l2.ChallengeResolution {
		t.Fatal("level 2 should not resolve challenges")
	}

	l3 := CapabilitiesFor(3)
	if !l3.ChallengeResolution || !l3.RotateIdentity || l3.ChallengeBudget != 3 {
		t.Fatalf("level 3 bundle wrong: %+v", l3)
	}

	l4 := CapabilitiesFor(4)
	if !l4.ComplianceGate || !l4.StrictPathDiversity {
		t.Fatalf("level 4 bundle wrong: %+v", l4)
	}
	if l4.ChallengeBudget >= l3.ChallengeBudget {
		t.Fatalf("level 4 budget %d should be tighter than level 3's %d", l4.ChallengeBudget, l3.ChallengeBudget)
	}
}

func TestClampBounds(t *testing.T) {
	if got := Clamp(0); got != 1 {
		t.Fatalf("Clamp(0) = %d, want 1", got)
	}
	if got := Clamp(9); got != 4 {
		t.Fatalf("Clamp(9) = %d, want 4", got)
	}
	if got := Clamp(3); got != 3 {
		t.Fatalf("Clamp(3) = %d, want 3", got)
	}
}

func TestComposeBasicLevelSelectsPath(t *testing.T) {
	mgr := testManager(t, defaultSpecs())
	c := NewComposer(testCatalog(t), mgr, nil, "us-east", zap.NewNop())

	plan, err := c.Compose(context.Background(), acquire.Job{
		URL:          "https://example.com/item",
		StealthLevel: 1,
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if plan.Path == nil {
		t.Fatal("level 1 plan should still carry an egress path")
	}
	if plan.Profile.Name == "" {
		t.Fatal("plan missing profile")
	}
	if plan.Path.Load() != 1 {
		t.Fatalf("selected path load = %d, want 1", plan.Path.Load())
	}
}

func TestComposePathExhausted(t *testing.T) {
	specs := []netpath.Spec{
		{Provider: "alpha", Class: netpath.ClassDatacenter, Capacity: 2, Reliability: 0.4},
	}
	mgr := testManager(t, specs)
	mgr.MarkFailed(mgr.Paths()[0], netpath.ReasonBlocked)

	c := NewComposer(testCatalog(t), mgr, nil, "", zap.NewNop())
	_, err := c.Compose(context.Background(), acquire.Job{
		URL:          "https://example.com",
		StealthLevel: 1,
	})
	if err == nil {
		t.Fatal("expected error when no path is viable")
	}
	if acquire.CodeOf(err) != acquire.CodePathExhausted {
		t.Fatalf("code = %s, want PathExhausted", acquire.CodeOf(err))
	}
}

func TestComposeRotatesProfileOnRetry(t *testing.T) {
	mgr := testManager(t, defaultSpecs())
	c := NewComposer(testCatalog(t), mgr, nil, "", zap.NewNop())

	first, err := c.Compose(context.Background(), acquire.Job{
		URL:          "https://example.com",
		StealthLevel: 3,
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	for range 10 {
		next, err := c.Compose(context.Background(), acquire.Job{
			URL:          "https://example.com",
			StealthLevel: 3,
			Profile:      first.Profile.Name,
			LastPath:     first.Path.Key(),
		})
		if err != nil {
			t.Fatalf("Compose retry: %v", err)
		}
		if next.Profile.Name == first.Profile.Name {
			t.Fatalf("retry reused profile %q", first.Profile.Name)
		}
		if next.Path.Key() == first.Path.Key() {
			t.Fatalf("level 3 retry reused path %q", first.Path.Key())
		}
	}
}

func TestComposeExcludesEveryUsedPath(t *testing.T) {
	// One path dominates on reliability; without the accumulated exclusion
	// a third attempt would circle back to it.
	specs := []netpath.Spec{
		{Provider: "alpha", Class: netpath.ClassDatacenter, Capacity: 4, Reliability: 0.99},
		{Provider: "beta", Class: netpath.ClassDatacenter, Capacity: 4, Reliability: 0.5},
		{Provider: "gamma", Class: netpath.ClassDatacenter, Capacity: 4, Reliability: 0.5},
	}
	mgr := testManager(t, specs)
	c := NewComposer(testCatalog(t), mgr, nil, "", zap.NewNop())

	job := acquire.Job{URL: "https://example.com", StealthLevel: 3}
	seen := map[string]bool{}
	for attempt := range 3 {
		plan, err := c.Compose(context.Background(), job)
		if err != nil {
			t.Fatalf("Compose attempt %d: %v", attempt+1, err)
		}
		key := plan.Path.Key()
		if seen[key] {
			t.Fatalf("attempt %d reused path %q", attempt+1, key)
		}
		seen[key] = true
		mgr.Return(plan.Path)
		job.Profile = plan.Profile.Name
		job.LastPath = key
		job.UsedPaths = append(job.UsedPaths, key)
	}
	if len(seen) != 3 {
		t.Fatalf("saw %d distinct paths, want 3", len(seen))
	}
}

func TestComposeLevelFourRequiresGate(t *testing.T) {
	mgr := testManager(t, defaultSpecs())
	c := NewComposer(testCatalog(t), mgr, nil, "", zap.NewNop())

	plan, err := c.Compose(context.Background(), acquire.Job{
		URL:          "https://example.com",
		StealthLevel: 4,
	})
	if err == nil {
		t.Fatal("expected denial without a configured gate")
	}
	if acquire.CodeOf(err) != acquire.CodeComplianceDenied {
		t.Fatalf("code = %s, want ComplianceDenied", acquire.CodeOf(err))
	}
	if plan.Decision.Allowed {
		t.Fatal("decision should record the denial")
	}
}

func TestComposeLevelFourGateDenies(t *testing.T) {
	mgr := testManager(t, defaultSpecs())
	gate := compliance.NewStaticGate(map[string]string{"blocked.example.com": "litigation hold"})
	c := NewComposer(testCatalog(t), mgr, gate, "", zap.NewNop())

	_, err := c.Compose(context.Background(), acquire.Job{
		URL:          "https://blocked.example.com/page",
		StealthLevel: 4,
	})
	if err == nil {
		t.Fatal("expected compliance denial")
	}
	var ae *acquire.Error
	if !errors.As(err, &ae) || ae.Code != acquire.CodeComplianceDenied {
		t.Fatalf("err = %v, want ComplianceDenied", err)
	}

	// Denial happens before any path slot is claimed.
	for key, load := range mgr.Utilization() {
		if load != 0 {
			t.Fatalf("path %s holds load %d after denial", key, load)
		}
	}
}

func TestComposeStrictDiversityRejectsSolePath(t *testing.T) {
	specs := []netpath.Spec{
		{Provider: "alpha", Class: netpath.ClassResidential, Capacity: 4, Reliability: 0.9},
	}
	mgr := testManager(t, specs)
	gate := compliance.NewStaticGate(nil)
	c := NewComposer(testCatalog(t), mgr, gate, "", zap.NewNop())

	soleKey := mgr.Paths()[0].Key()
	_, err := c.Compose(context.Background(), acquire.Job{
		URL:          "https://example.com",
		StealthLevel: 4,
		LastPath:     soleKey,
	})
	if err == nil {
		t.Fatal("expected diversity failure with a single path")
	}
	if acquire.CodeOf(err) != acquire.CodePathExhausted {
		t.Fatalf("code = %s, want PathExhausted", acquire.CodeOf(err))
	}
	if load := mgr.Paths()[0].Load(); load != 0 {
		t.Fatalf("rejected path still holds load %d", load)
	}
}

func TestComposeLevelTwoPrefersResidential(t *testing.T) {
	mgr := testManager(t, defaultSpecs())
	c := NewComposer(testCatalog(t), mgr, nil, "us-east", zap.NewNop())

	plan, err := c.Compose(context.Background(), acquire.Job{
		URL:          "https://example.com",
		StealthLevel: 2,
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if plan.Path.Class != netpath.ClassResidential {
		t.Fatalf("level 2 selected %s path, want residential", plan.Path.Class)
	}
}

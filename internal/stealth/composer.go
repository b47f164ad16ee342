// Package stealth composes per-attempt operation plans. A level is a
// capability bundle layered on the one below it, not a separate code path.
package stealth

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/veilhq/stealthcrawler/internal/acquire"
	"github.com/veilhq/stealthcrawler/internal/compliance"
	"github.com/veilhq/stealthcrawler/internal/netpath"
	"github.com/veilhq/stealthcrawler/internal/pacing"
	"github.com/veilhq/stealthcrawler/internal/profile"
)

// Level bounds accepted from callers. Out-of-range requests clamp.
const (
	MinLevel = 1
	MaxLevel = 4
)

// Capabilities is the feature bundle a stealth level activates.
type Capabilities struct {
	SessionState        bool
	PreferResidential   bool
	RichPacing          bool
	ChallengeResolution bool
	RotateIdentity      bool
	ComplianceGate      bool
	StrictPathDiversity bool
	// ChallengeBudget is the per-attempt solver budget; zero disables the
	// resolution pipeline entirely.
	ChallengeBudget int
}

// CapabilitiesFor maps a level to its bundle. Levels outside [MinLevel,
// MaxLevel] clamp to the nearest bound.
func CapabilitiesFor(level int) Capabilities {
	level = Clamp(level)
	caps := Capabilities{}
	if level >= 2 {
		caps.SessionState = true
		caps.PreferResidential = true
		caps.RichPacing = true
	}
	if level >= 3 {
		caps.ChallengeResolution = true
		caps.RotateIdentity = true
		caps.ChallengeBudget = 3
	}
	if level >= 4 {
		caps.ComplianceGate = true
		caps.StrictPathDiversity = true
		// Escalation is expensive at this level, so the budget tightens.
		caps.ChallengeBudget = 2
	}
	return caps
}

// Clamp bounds a requested level.
func Clamp(level int) int {
	if level < MinLevel {
		return MinLevel
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}

// Levels lists the supported levels for the stats surface.
func Levels() []int {
	return []int{1, 2, 3, 4}
}

// Plan is the immutable per-attempt execution recipe. The embedded path
// holds a claimed load slot; the executor must release it.
type Plan struct {
	Level     int
	Caps      Capabilities
	Profile   profile.Profile
	Path      *netpath.Path
	Archetype pacing.Archetype
	Decision  compliance.Decision
}

// Composer assembles plans from the catalog, the path manager and the
// policy gate.
type Composer struct {
	catalog    *profile.Catalog
	paths      *netpath.Manager
	gate       compliance.Gate
	regionHint string
	logger     *zap.Logger
}

// NewComposer wires a composer. The gate may be nil; level 4 plans are then
// denied outright since the mandatory policy check cannot run.
func NewComposer(catalog *profile.Catalog, paths *netpath.Manager, gate compliance.Gate, regionHint string, logger *zap.Logger) *Composer {
	return &Composer{
		catalog:    catalog,
		paths:      paths,
		gate:       gate,
		regionHint: regionHint,
		logger:     logger,
	}
}

// Compose builds the plan for one attempt of the given job. Identity
// selection rotates away from the job's previous profile and, when the
// level calls for it, every path the job has already tried. The compliance
// check runs before any path slot is claimed.
func (c *Composer) Compose(ctx context.Context, job acquire.Job) (Plan, error) {
	level := Clamp(job.StealthLevel)
	caps := CapabilitiesFor(level)

	plan := Plan{
		Level:    level,
		Caps:     caps,
		Decision: compliance.Decision{Allowed: true, Reason: "gate not required at this level"},
	}

	if caps.ComplianceGate {
		if c.gate == nil {
			plan.Decision = compliance.Decision{Allowed: false, Reason: "compliance gate not configured"}
			return plan, acquire.NewError(acquire.CodeComplianceDenied, plan.Decision.Reason)
		}
		decision, err := c.gate.Check(ctx, job.URL)
		if err != nil {
			return plan, fmt.Errorf("compliance check: %w", err)
		}
		plan.Decision = decision
		if !decision.Allowed {
			c.logger.Info("compliance gate denied target",
				zap.String("url", job.URL),
				zap.String("reason", decision.Reason),
			)
			return plan, acquire.NewError(acquire.CodeComplianceDenied, decision.Reason)
		}
	}

	plan.Profile = c.catalog.Select(job.URL, job.Profile)
	if caps.RichPacing {
		plan.Archetype = pacing.ForDevice(string(plan.Profile.DeviceClass))
	} else {
		plan.Archetype = pacing.FastNavigator
	}

	var exclude []string
	if caps.RotateIdentity || caps.StrictPathDiversity {
		exclude = append(exclude, job.UsedPaths...)
		if job.LastPath != "" && !slices.Contains(exclude, job.LastPath) {
			exclude = append(exclude, job.LastPath)
		}
	}
	path := c.paths.Select(c.regionHint, caps.PreferResidential, exclude)
	if path == nil {
		return plan, acquire.NewError(acquire.CodePathExhausted, "no viable network path")
	}
	if caps.StrictPathDiversity && slices.Contains(exclude, path.Key()) {
		// The manager fell back to an already-used candidate; strict
		// diversity forbids reusing one while the job is still retrying.
		c.paths.Return(path)
		return plan, acquire.NewError(acquire.CodePathExhausted, "path diversity requirement unmet")
	}
	plan.Path = path

	c.logger.Debug("composed operation plan",
		zap.Int("level", level),
		zap.String("profile", plan.Profile.Name),
		zap.String("path", path.Key()),
		zap.String("archetype", plan.Archetype.Name),
	)
	return plan, nil
}

package pacing

import (
	"context"

	"github.com/veilhq/stealthcrawler/internal/acquire"
)

// ScrollFunc performs one scroll gesture in the navigation layer.
type ScrollFunc func(ctx context.Context, step int) error

// Executor performs the waits a Plan describes. Separating plan generation
// from execution keeps the timing logic testable without real sleeps.
type Executor struct {
	sleeper acquire.Sleeper
}

// NewExecutor constructs an Executor.
func NewExecutor(sleeper acquire.Sleeper) *Executor {
	return &Executor{sleeper: sleeper}
}

// PreNavigate waits the plan's pre-delay.
func (e *Executor) PreNavigate(ctx context.Context, plan Plan) error {
	return e.sleeper.Sleep(ctx, plan.PreDelay)
}

// Scroll walks the plan's scroll schedule, invoking the gesture between
// waits. A nil gesture performs timing only.
func (e *Executor) Scroll(ctx context.Context, plan Plan, gesture ScrollFunc) error {
	for i, delay := range plan.ScrollDelays {
		if err := e.sleeper.Sleep(ctx, delay); err != nil {
			return err
		}
		if gesture != nil {
			if err := gesture(ctx, i); err != nil {
				return err
			}
		}
	}
	return nil
}

// Read waits the plan's reading pause.
func (e *Executor) Read(ctx context.Context, plan Plan) error {
	return e.sleeper.Sleep(ctx, plan.ReadingPause)
}

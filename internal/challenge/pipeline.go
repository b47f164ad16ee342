package challenge

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/veilhq/stealthcrawler/internal/acquire"
)

// ErrRotationRequired signals that the caller must rotate both fingerprint
// and network path before the next attempt instead of retrying in place.
var ErrRotationRequired = acquire.NewError(acquire.CodeChallengeUnresolved, "rate limited, identity rotation required")

// Pipeline runs the detection state machine and the strategy chain for one
// navigation attempt.
type Pipeline struct {
	chain       []Solver
	maxAttempts int
	sleeper     acquire.Sleeper
	logger      *zap.Logger
}

// NewPipeline builds a pipeline over the available strategies. Nil solvers
// are dropped so missing credentials simply shorten the chain.
func NewPipeline(chain []Solver, maxAttempts int, sleeper acquire.Sleeper, logger *zap.Logger) *Pipeline {
	valid := make([]Solver, 0, len(chain))
	for _, s := range chain {
		if s != nil {
			valid = append(valid, s)
		}
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Pipeline{
		chain:       valid,
		maxAttempts: maxAttempts,
		sleeper:     sleeper,
		logger:      logger,
	}
}

// SolverConfigured reports whether at least one strategy is available.
func (p *Pipeline) SolverConfigured() bool {
	return len(p.chain) > 0
}

// StrategyOrder lists the chain's strategy names in priority order.
func (p *Pipeline) StrategyOrder() []string {
	names := make([]string, 0, len(p.chain))
	for _, s := range p.chain {
		names = append(names, s.Name())
	}
	return names
}

// Resolve classifies the response and, when a challenge is present, walks
// the strategy chain within the attempt budget. Rate limits back off
// exponentially and then demand rotation rather than retrying the same
// identity.
func (p *Pipeline) Resolve(ctx context.Context, statusCode int, url, body string, budget int) (Record, error) {
	kind, confidence := Detect(statusCode, body)
	record := Record{Type: kind, Confidence: confidence}
	if kind == TypeNone {
		return record, nil
	}

	if budget <= 0 || budget > p.maxAttempts {
		budget = p.maxAttempts
	}

	if kind == TypeRateLimited {
		return p.backOff(ctx, record, budget)
	}

	task := Task{Type: kind, URL: url, PageContent: body}
	for _, solver := range p.chain {
		if record.Attempts >= budget {
			break
		}
		record.Attempts++
		sol, err := solver.Solve(ctx, task)
		if err != nil {
			if ctx.Err() != nil {
				return record, acquire.WrapError(acquire.CodeChallengeUnresolved, "challenge resolution canceled", ctx.Err())
			}
			if p.logger != nil {
				p.logger.Warn("challenge strategy failed",
					zap.String("strategy", solver.Name()),
					zap.String("type", string(kind)),
					zap.Error(err),
				)
			}
			continue
		}
		record.Resolved = true
		record.Strategy = solver.Name()
		record.Token = sol.Token
		record.Confidence = sol.Confidence
		return record, nil
	}

	return record, acquire.NewError(acquire.CodeChallengeUnresolved, "challenge attempt budget exhausted")
}

// backOff waits an exponentially growing delay per budgeted attempt, then
// reports that identity rotation is required. The rotation itself happens on
// the job's next attempt; retrying the same identity against a rate limit
// only confirms the block.
func (p *Pipeline) backOff(ctx context.Context, record Record, budget int) (Record, error) {
	delay := 2 * time.Second
	for record.Attempts < budget {
		record.Attempts++
		if err := p.sleeper.Sleep(ctx, delay); err != nil {
			return record, acquire.WrapError(acquire.CodeChallengeUnresolved, "rate limit backoff canceled", err)
		}
		delay *= 2
	}
	return record, ErrRotationRequired
}

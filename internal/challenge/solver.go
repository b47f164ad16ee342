package challenge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Task describes one challenge to resolve.
type Task struct {
	Type        Type
	URL         string
	PageContent string
	SiteKey     string
}

// Solution is a resolved challenge token with the solver's confidence.
type Solution struct {
	Token      string
	Confidence float64
}

// Solver is one resolution strategy. Implementations are swappable so the
// pipeline's control flow stays real even where a concrete solver is a
// placeholder.
type Solver interface {
	Name() string
	Solve(ctx context.Context, task Task) (Solution, error)
}

// RemoteSolver submits challenges to an external solving service over HTTP.
// It covers both the automated tier and the human-assisted tier; the two
// differ only in endpoint, latency and reported confidence.
type RemoteSolver struct {
	name       string
	endpoint   string
	apiKey     string
	confidence float64
	client     *http.Client
}

// NewAutomatedSolver builds the fast, lower-confidence tier. Returns nil
// when no credentials are configured, which removes the strategy from the
// chain.
func NewAutomatedSolver(endpoint, apiKey string) Solver {
	if endpoint == "" || apiKey == "" {
		return nil
	}
	return &RemoteSolver{
		name:       "automated",
		endpoint:   endpoint,
		apiKey:     apiKey,
		confidence: 0.7,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// NewHumanAssistSolver builds the slow, higher-confidence fallback tier.
func NewHumanAssistSolver(endpoint, apiKey string) Solver {
	if endpoint == "" || apiKey == "" {
		return nil
	}
	return &RemoteSolver{
		name:       "human-assist",
		endpoint:   endpoint,
		apiKey:     apiKey,
		confidence: 0.95,
		client:     &http.Client{Timeout: 3 * time.Minute},
	}
}

// Name implements Solver.
func (s *RemoteSolver) Name() string {
	return s.name
}

// Solve implements Solver.
func (s *RemoteSolver) Solve(ctx context.Context, task Task) (Solution, error) {
	payload, err := json.Marshal(map[string]string{
		"type":     string(task.Type),
		"url":      task.URL,
		"site_key": task.SiteKey,
	})
	if err != nil {
		return Solution{}, fmt.Errorf("marshal solve request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Solution{}, fmt.Errorf("build solve request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return Solution{}, fmt.Errorf("solver %s: %w", s.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Solution{}, fmt.Errorf("solver %s: status %d", s.name, resp.StatusCode)
	}

	var out struct {
		Token      string  `json:"token"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Solution{}, fmt.Errorf("decode solver %s response: %w", s.name, err)
	}
	if out.Token == "" {
		return Solution{}, fmt.Errorf("solver %s returned no token", s.name)
	}
	confidence := out.Confidence
	if confidence == 0 {
		confidence = s.confidence
	}
	return Solution{Token: out.Token, Confidence: confidence}, nil
}

// HybridSolver accepts the primary's result only above a confidence
// threshold and otherwise escalates to the fallback.
type HybridSolver struct {
	primary   Solver
	fallback  Solver
	threshold float64
}

// NewHybridSolver composes the two tiers. Either side may be nil.
func NewHybridSolver(primary, fallback Solver, threshold float64) *HybridSolver {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}
	return &HybridSolver{primary: primary, fallback: fallback, threshold: threshold}
}

// Name implements Solver.
func (s *HybridSolver) Name() string {
	return "hybrid"
}

// Solve implements Solver.
func (s *HybridSolver) Solve(ctx context.Context, task Task) (Solution, error) {
	if s.primary != nil {
		sol, err := s.primary.Solve(ctx, task)
		if err == nil && sol.Confidence >= s.threshold {
			return sol, nil
		}
	}
	if s.fallback == nil {
		return Solution{}, fmt.Errorf("hybrid: no fallback solver available")
	}
	sol, err := s.fallback.Solve(ctx, task)
	if err != nil {
		return Solution{}, fmt.Errorf("hybrid fallback: %w", err)
	}
	return sol, nil
}

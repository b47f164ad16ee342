package main

import (
	"testing"

	"github.com/veilhq/stealthcrawler/internal/config"
)

func solverNames(cfg config.ChallengeConfig) []string {
	chain := solverChain(cfg)
	names := make([]string, len(chain))
	for i, s := range chain {
		names[i] = s.Name()
	}
	return names
}

func TestSolverChainBothTiers(t *testing.T) {
	names := solverNames(config.ChallengeConfig{
		AutomatedEndpoint:   "https://solver.internal/v1",
		AutomatedAPIKey:     "a",
		HumanAssistEndpoint: "https://assist.internal/v1",
		HumanAssistAPIKey:   "h",
		HybridThreshold:     0.8,
	})
	if len(names) != 2 || names[0] != "hybrid" || names[1] != "human-assist" {
		t.Fatalf("chain = %v, want [hybrid human-assist]", names)
	}
}

func TestSolverChainSingleTier(t *testing.T) {
	names := solverNames(config.ChallengeConfig{
		AutomatedEndpoint: "https://solver.internal/v1",
		AutomatedAPIKey:   "a",
	})
	if len(names) != 1 || names[0] != "automated" {
		t.Fatalf("chain = %v, want [automated]", names)
	}

	names = solverNames(config.ChallengeConfig{
		HumanAssistEndpoint: "https://assist.internal/v1",
		HumanAssistAPIKey:   "h",
	})
	if len(names) != 1 || names[0] != "human-assist" {
		t.Fatalf("chain = %v, want [human-assist]", names)
	}
}

func TestSolverChainUnconfigured(t *testing.T) {
	if names := solverNames(config.ChallengeConfig{}); len(names) != 0 {
		t.Fatalf("chain = %v, want empty", names)
	}
}

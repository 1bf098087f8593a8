package service

import (
	"context"

	"LinePulse/internal/domain/models"
)

// OutcomeSimulator turns a probability vector into an empirical outcome
// distribution.
type OutcomeSimulator interface {
	Simulate(p models.Probabilities, trials int) models.Simulation
}

// PatternMemory keeps signature-keyed win-rate statistics.
type PatternMemory interface {
	Lookup(ctx context.Context, signature string) (models.PatternRecord, bool, error)
	Learn(ctx context.Context, signature string, won bool, metadata map[string]string) (models.PatternRecord, error)
	Top(ctx context.Context, n int) ([]models.PatternRecord, error)
}

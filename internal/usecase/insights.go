package usecase

import (
	"context"
	"errors"
	"fmt"

	"LinePulse/internal/domain/models"
	domrepo "LinePulse/internal/domain/repository"
	"LinePulse/internal/services/autotune"
	"LinePulse/internal/services/baseline"
	"LinePulse/internal/services/patterns"
)

var (
	ErrPatternNotFound  = errors.New("pattern not found")
	ErrBaselineNotFound = errors.New("baseline not found")
)

// Insights serves read-only views of the learning state.
type Insights struct {
	store     domrepo.LearningStore
	baselines *baseline.Store
	patterns  *patterns.Memory
	tuner     *autotune.Tuner
}

func NewInsights(store domrepo.LearningStore, baselines *baseline.Store, memory *patterns.Memory, tuner *autotune.Tuner) *Insights {
	return &Insights{store: store, baselines: baselines, patterns: memory, tuner: tuner}
}

// RecentCases returns up to limit cases, newest first. A non-empty
// matchKey restricts the result to that match.
func (i *Insights) RecentCases(ctx context.Context, matchKey string, limit int) ([]models.CaseRecord, error) {
	entries, err := i.store.QueryRecent(ctx, domrepo.LogCases, matchKey, limit)
	if err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}
	cases := domrepo.DecodeEntries[models.CaseRecord](entries)
	for l, r := 0, len(cases)-1; l < r; l, r = l+1, r-1 {
		cases[l], cases[r] = cases[r], cases[l]
	}
	return cases, nil
}

// Case returns the current state of one case, including its outcome.
func (i *Insights) Case(ctx context.Context, id string) (*models.CaseRecord, error) {
	rec, err := domrepo.GetJSON[models.CaseRecord](ctx, i.store, CaseKey(id))
	if errors.Is(err, domrepo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCaseNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load case %s: %w", id, err)
	}
	return &rec, nil
}

func (i *Insights) Pattern(ctx context.Context, sig string) (*models.PatternRecord, error) {
	rec, found, err := i.patterns.Lookup(ctx, sig)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrPatternNotFound, sig)
	}
	return &rec, nil
}

func (i *Insights) TopPatterns(ctx context.Context, n int) ([]models.PatternRecord, error) {
	return i.patterns.Top(ctx, n)
}

// BaselineState is a baseline record with its current motion.
type BaselineState struct {
	models.BaselineRecord
	Motion baseline.Motion `json:"motion"`
}

func (i *Insights) Baseline(ctx context.Context, key string) (*BaselineState, error) {
	rec, err := i.baselines.Record(ctx, key)
	if errors.Is(err, domrepo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBaselineNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("load baseline %s: %w", key, err)
	}
	motion, err := i.baselines.Velocity(ctx, key)
	if err != nil {
		return nil, err
	}
	return &BaselineState{BaselineRecord: rec, Motion: motion}, nil
}

func (i *Insights) AutotuneHistory(ctx context.Context, n int) ([]models.AutotuneEvent, error) {
	return i.tuner.History(ctx, n)
}

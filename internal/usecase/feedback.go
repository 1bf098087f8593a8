package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"LinePulse/internal/domain/models"
	domrepo "LinePulse/internal/domain/repository"
	"LinePulse/internal/services/autotune"
	"LinePulse/internal/services/patterns"
	"LinePulse/pkg/lock"
	"LinePulse/pkg/logger"
)

var (
	ErrCaseNotFound     = errors.New("case not found")
	ErrAlreadyConfirmed = errors.New("case outcome already confirmed")
	ErrInvalidOutcome   = errors.New("outcome must be home, draw or away")
)

// FeedbackUseCase records the real result of an analysed case, teaches
// pattern memory and, past the thresholds, triggers autotune.
type FeedbackUseCase struct {
	store    domrepo.LearningStore
	patterns *patterns.Memory
	tuner    *autotune.Tuner
	locks    *lock.Keyed
	metrics  domrepo.Metrics
	log      *logger.Logger
	now      func() time.Time
}

func NewFeedbackUseCase(store domrepo.LearningStore, memory *patterns.Memory, tuner *autotune.Tuner, metrics domrepo.Metrics, log *logger.Logger) *FeedbackUseCase {
	if metrics == nil {
		metrics = domrepo.NoopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &FeedbackUseCase{
		store:    store,
		patterns: memory,
		tuner:    tuner,
		locks:    lock.NewKeyed(),
		metrics:  metrics,
		log:      log,
		now:      time.Now,
	}
}

func (f *FeedbackUseCase) Confirm(ctx context.Context, caseID string, outcome models.Outcome) (*models.FeedbackResult, error) {
	if !outcome.Valid() {
		return nil, ErrInvalidOutcome
	}
	key := CaseKey(caseID)
	unlock := f.locks.Lock(key)
	defer unlock()

	rec, err := domrepo.GetJSON[models.CaseRecord](ctx, f.store, key)
	if errors.Is(err, domrepo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCaseNotFound, caseID)
	}
	if err != nil {
		return nil, fmt.Errorf("load case %s: %w", caseID, err)
	}
	if rec.Outcome != "" {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyConfirmed, caseID)
	}

	predicted := rec.Analysis.Verdict.Favored
	won := predicted == outcome

	// the case is marked first so a retry after a partial failure can
	// never teach the same outcome twice
	pending := rec
	at := f.now()
	rec.Outcome = outcome
	rec.ConfirmedAt = &at
	if err := domrepo.PutJSON(ctx, f.store, key, rec); err != nil {
		return nil, fmt.Errorf("save case %s: %w", caseID, err)
	}

	pattern, err := f.patterns.Learn(ctx, rec.Analysis.Pattern.Signature, won, map[string]string{
		"state":     rec.Analysis.Verdict.State,
		"label":     rec.Analysis.Verdict.Label,
		"last_case": rec.ID,
	})
	if err != nil {
		if rerr := domrepo.PutJSON(ctx, f.store, key, pending); rerr != nil {
			f.metrics.RecordError("feedback_revert")
			f.log.Error("case left confirmed without pattern update",
				logger.String("case_id", caseID), logger.Error(rerr))
		}
		return nil, fmt.Errorf("learn pattern: %w", err)
	}

	confirmed, err := f.tuner.RecordConfirmation(ctx)
	if err != nil {
		return nil, err
	}
	res := &models.FeedbackResult{
		CaseID:    caseID,
		Outcome:   outcome,
		Predicted: predicted,
		Won:       won,
		Pattern:   pattern,
		Confirmed: confirmed,
	}
	ev, err := f.tuner.MaybeRun(ctx)
	if err != nil {
		f.log.Warn("autotune failed", logger.String("case_id", caseID), logger.Error(err))
	}
	res.Autotune = ev

	f.metrics.RecordFeedback(won)
	f.log.Info("outcome confirmed",
		logger.String("case_id", caseID),
		logger.String("outcome", string(outcome)),
		logger.Bool("won", won),
		logger.Int64("confirmed", confirmed),
	)
	return res, nil
}

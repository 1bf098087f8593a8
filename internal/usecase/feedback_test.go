package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"LinePulse/internal/domain/models"
	domrepo "LinePulse/internal/domain/repository"
	"LinePulse/internal/repository"
	"LinePulse/internal/services/autotune"
)

func TestConfirmLearnsPattern(t *testing.T) {
	ctx := context.Background()
	h := newHarness(repository.NewMemoryStore(), autotune.DefaultConfig())
	res, err := h.analyzer.Analyze(ctx, scenarioA())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	fb, err := h.feedback.Confirm(ctx, res.CaseID, res.Verdict.Favored)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !fb.Won || fb.Pattern.Count != 1 || fb.Pattern.WinRate != 1 || fb.Confirmed != 1 {
		t.Fatalf("unexpected feedback %+v", fb)
	}
	if fb.Pattern.Signature != res.Pattern.Signature {
		t.Fatalf("feedback learned a different signature")
	}

	if _, err := h.feedback.Confirm(ctx, res.CaseID, models.OutcomeDraw); !errors.Is(err, ErrAlreadyConfirmed) {
		t.Fatalf("expected already confirmed, got %v", err)
	}
	stored, err := h.insights.Case(ctx, res.CaseID)
	if err != nil || stored.Outcome != res.Verdict.Favored || stored.ConfirmedAt == nil {
		t.Fatalf("case not updated: %+v %v", stored, err)
	}

	// the same situation now recalls the pattern
	again, _ := h.analyzer.Analyze(ctx, scenarioA())
	if again.Pattern.Signature == res.Pattern.Signature && !again.Pattern.Found {
		t.Fatalf("pattern should be found on recurrence")
	}
}

func TestConfirmErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(repository.NewMemoryStore(), autotune.DefaultConfig())
	if _, err := h.feedback.Confirm(ctx, "missing", models.OutcomeHome); !errors.Is(err, ErrCaseNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := h.feedback.Confirm(ctx, "missing", models.Outcome("void")); !errors.Is(err, ErrInvalidOutcome) {
		t.Fatalf("expected invalid outcome, got %v", err)
	}
}

func TestConfirmTriggersAutotune(t *testing.T) {
	ctx := context.Background()
	cfg := autotune.Config{TargetKey: KeyMomentum, MinConfirmed: 2, Every: 1, TopN: 5, Upper: 0.6, Lower: 0.4, Step: 0.05}
	h := newHarness(repository.NewMemoryStore(), cfg)

	var last *models.FeedbackResult
	for i := 0; i < 2; i++ {
		res, err := h.analyzer.Analyze(ctx, scenarioA())
		if err != nil {
			t.Fatalf("analyze: %v", err)
		}
		last, err = h.feedback.Confirm(ctx, res.CaseID, res.Verdict.Favored)
		if err != nil {
			t.Fatalf("confirm: %v", err)
		}
	}
	if last.Autotune == nil || last.Autotune.Reason != autotune.ReasonAbove {
		t.Fatalf("expected autotune on the second confirmation, got %+v", last.Autotune)
	}
	hist, _ := h.insights.AutotuneHistory(ctx, 5)
	if len(hist) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(hist))
	}
}

// flakyStore fails Put for keys with the given prefix while armed.
type flakyStore struct {
	domrepo.LearningStore
	mu     sync.Mutex
	prefix string
	armed  bool
}

func (s *flakyStore) arm(prefix string) {
	s.mu.Lock()
	s.prefix, s.armed = prefix, true
	s.mu.Unlock()
}

func (s *flakyStore) disarm() {
	s.mu.Lock()
	s.armed = false
	s.mu.Unlock()
}

func (s *flakyStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	fail := s.armed && strings.HasPrefix(key, s.prefix)
	s.mu.Unlock()
	if fail {
		return errors.New("write timeout")
	}
	return s.LearningStore.Put(ctx, key, value)
}

func TestConfirmRetryLearnsOnce(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
	}{
		{"case save fails", "case:"},
		{"pattern save fails", "pattern:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := &flakyStore{LearningStore: repository.NewMemoryStore()}
			h := newHarness(store, autotune.DefaultConfig())
			res, err := h.analyzer.Analyze(ctx, scenarioA())
			if err != nil {
				t.Fatalf("analyze: %v", err)
			}

			store.arm(tt.prefix)
			if _, err := h.feedback.Confirm(ctx, res.CaseID, res.Verdict.Favored); err == nil {
				t.Fatalf("expected failed confirmation")
			}
			store.disarm()

			stored, err := h.insights.Case(ctx, res.CaseID)
			if err != nil || stored.Outcome != "" {
				t.Fatalf("failed confirmation must leave the case open: %+v %v", stored, err)
			}

			fb, err := h.feedback.Confirm(ctx, res.CaseID, res.Verdict.Favored)
			if err != nil {
				t.Fatalf("retry: %v", err)
			}
			if fb.Pattern.Count != 1 || fb.Confirmed != 1 {
				t.Fatalf("outcome counted more than once: %+v", fb)
			}
		})
	}
}

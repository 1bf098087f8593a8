package history

import (
	"context"
	"math"
	"testing"
	"time"

	"LinePulse/internal/domain/models"
	domrepo "LinePulse/internal/domain/repository"
	"LinePulse/internal/repository"
)

func seedCase(t *testing.T, store domrepo.LearningStore, main, sub float64, label string) {
	t.Helper()
	rec := models.CaseRecord{
		ID:       "c",
		MatchKey: "m",
		Analysis: models.AnalysisResult{
			Indicators: models.Indicators{MainMomentum: main, SubMomentum: sub},
			Verdict:    models.Verdict{Label: label},
		},
	}
	if err := domrepo.AppendJSON(context.Background(), store, domrepo.LogCases, "m", rec, time.Now()); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestCorrectEmptyHistory(t *testing.T) {
	c := New(repository.NewMemoryStore(), DefaultConfig())
	p := models.Probabilities{0.5, 0.3, 0.2}
	out, corr, err := c.Correct(context.Background(), Probe{MainMomentum: 0.4}, p)
	if err != nil {
		t.Fatalf("correct: %v", err)
	}
	if out != p || corr.Factor != 0 || corr.Cases != 0 {
		t.Fatalf("empty history must not correct: %v %+v", out, corr)
	}
}

func TestCorrectIdenticalHistoryBoostsLeader(t *testing.T) {
	store := repository.NewMemoryStore()
	for i := 0; i < 5; i++ {
		seedCase(t, store, 0.4, 0.2, "genuine move")
	}
	c := New(store, DefaultConfig())
	p := models.Probabilities{0.5, 0.3, 0.2}
	out, corr, err := c.Correct(context.Background(), Probe{MainMomentum: 0.4, SubMomentum: 0.2, Label: "genuine move"}, p)
	if err != nil {
		t.Fatalf("correct: %v", err)
	}
	if corr.Cases != 5 || corr.MeanSimilarity != 1 {
		t.Fatalf("unexpected correction %+v", corr)
	}
	if math.Abs(corr.Factor-0.2) > 1e-12 {
		t.Fatalf("factor should clamp to 0.2, got %v", corr.Factor)
	}
	want := 0.6 / 1.1
	if math.Abs(out[0]-want) > 1e-12 || math.Abs(out.Sum()-1) > 1e-12 {
		t.Fatalf("unexpected corrected vector %v", out)
	}
}

func TestCorrectDistantHistoryDampensLeader(t *testing.T) {
	store := repository.NewMemoryStore()
	seedCase(t, store, 3, 4, "likely trap")
	c := New(store, DefaultConfig())
	p := models.Probabilities{0.2, 0.3, 0.5}
	out, corr, err := c.Correct(context.Background(), Probe{MainMomentum: 0.1, Label: "genuine move"}, p)
	if err != nil {
		t.Fatalf("correct: %v", err)
	}
	if corr.Factor >= 0 || corr.Leading != models.OutcomeAway {
		t.Fatalf("expected negative correction on away, got %+v", corr)
	}
	if !(out[2] < p[2]) {
		t.Fatalf("leading mass should shrink: %v", out)
	}
}

func TestSimilarityLabelDiscount(t *testing.T) {
	c := New(nil, DefaultConfig())
	a := Probe{MainMomentum: 0.5, SubMomentum: 0.5, Label: "x"}
	b := Probe{MainMomentum: 0.25, SubMomentum: 0.25, Label: "x"}
	same := c.Similarity(a, b)
	if math.Abs(same-1/1.5) > 1e-12 {
		t.Fatalf("similarity %v", same)
	}
	b.Label = "y"
	if got := c.Similarity(a, b); math.Abs(got-same*0.6) > 1e-12 {
		t.Fatalf("discounted similarity %v", got)
	}
}

func TestFactorBounds(t *testing.T) {
	c := New(nil, DefaultConfig())
	for _, m := range []float64{0, 0.1, 0.5, 0.7, 1, 5} {
		f := c.Factor(m)
		if f < -0.2 || f > 0.2 {
			t.Fatalf("factor %v out of bounds for %v", f, m)
		}
	}
	if c.Factor(0.5) != 0 {
		t.Fatalf("neutral similarity should not correct")
	}
}

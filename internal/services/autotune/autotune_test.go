package autotune

import (
	"context"
	"fmt"
	"math"
	"testing"

	"LinePulse/internal/repository"
	"LinePulse/internal/services/baseline"
	"LinePulse/internal/services/patterns"
)

type fixture struct {
	tuner     *Tuner
	baselines *baseline.Store
	patterns  *patterns.Memory
}

func newFixture(cfg Config) fixture {
	store := repository.NewMemoryStore()
	b := baseline.New(store, nil)
	p := patterns.New(store, nil)
	return fixture{tuner: New(store, b, p, nil, WithConfig(cfg)), baselines: b, patterns: p}
}

func (f fixture) learn(t *testing.T, sig string, wins, losses int) {
	t.Helper()
	for i := 0; i < wins+losses; i++ {
		if _, err := f.patterns.Learn(context.Background(), sig, i < wins, nil); err != nil {
			t.Fatalf("learn: %v", err)
		}
	}
}

func (f fixture) confirm(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := f.tuner.RecordConfirmation(context.Background()); err != nil {
			t.Fatalf("confirm: %v", err)
		}
	}
}

func TestMaybeRunWaitsForMinimum(t *testing.T) {
	f := newFixture(Config{TargetKey: "momentum_total", MinConfirmed: 5, Every: 2, TopN: 3, Upper: 0.6, Lower: 0.4, Step: 0.05})
	f.learn(t, "a", 4, 0)
	f.confirm(t, 4)
	ev, err := f.tuner.MaybeRun(context.Background())
	if err != nil || ev != nil {
		t.Fatalf("expected no run before minimum, got %+v %v", ev, err)
	}
}

func TestMaybeRunRaisesAlphaOnHighWinRate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Config{TargetKey: "momentum_total", MinConfirmed: 5, Every: 2, TopN: 3, Upper: 0.6, Lower: 0.4, Step: 0.05})
	f.learn(t, "a", 5, 1)
	f.learn(t, "b", 3, 0)
	f.confirm(t, 5)

	ev, err := f.tuner.MaybeRun(ctx)
	if err != nil || ev == nil {
		t.Fatalf("expected a run, got %+v %v", ev, err)
	}
	if ev.Reason != ReasonAbove || ev.OldAlpha != 0.2 || math.Abs(ev.NewAlpha-0.25) > 1e-12 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if again, _ := f.tuner.MaybeRun(ctx); again != nil {
		t.Fatalf("same schedule point must not run twice")
	}
	rec, err := f.baselines.Record(ctx, "momentum_total")
	if err != nil || math.Abs(rec.Alpha-0.25) > 1e-12 {
		t.Fatalf("alpha not persisted: %+v %v", rec, err)
	}
	hist, err := f.tuner.History(ctx, 10)
	if err != nil || len(hist) != 1 || hist[0].Reason != ReasonAbove {
		t.Fatalf("audit log: %+v %v", hist, err)
	}

	f.confirm(t, 1)
	if ev, _ := f.tuner.MaybeRun(ctx); ev != nil {
		t.Fatalf("off-schedule confirmation must not run")
	}
	f.confirm(t, 1)
	if ev, _ := f.tuner.MaybeRun(ctx); ev == nil || math.Abs(ev.NewAlpha-0.3) > 1e-12 {
		t.Fatalf("expected second step, got %+v", ev)
	}
}

func TestMaybeRunLowersAlphaOnLowWinRate(t *testing.T) {
	f := newFixture(Config{TargetKey: "divergence", MinConfirmed: 1, Every: 1, TopN: 5, Upper: 0.6, Lower: 0.4, Step: 0.1})
	for i := 0; i < 3; i++ {
		f.learn(t, fmt.Sprintf("s%d", i), 1, 3)
	}
	f.confirm(t, 1)
	ev, err := f.tuner.MaybeRun(context.Background())
	if err != nil || ev == nil {
		t.Fatalf("expected a run: %v", err)
	}
	if ev.Reason != ReasonBelow || math.Abs(ev.NewAlpha-0.1) > 1e-12 || ev.Patterns != 3 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if math.Abs(ev.AvgWinRate-0.25) > 1e-12 {
		t.Fatalf("avg win rate %v", ev.AvgWinRate)
	}
}

func TestMaybeRunWithinBand(t *testing.T) {
	f := newFixture(Config{TargetKey: "k", MinConfirmed: 1, Every: 1, TopN: 5, Upper: 0.6, Lower: 0.4, Step: 0.1})
	f.learn(t, "x", 1, 1)
	f.confirm(t, 1)
	if ev, err := f.tuner.MaybeRun(context.Background()); ev != nil || err != nil {
		t.Fatalf("win rate inside band should not adjust: %+v %v", ev, err)
	}
}

func TestDue(t *testing.T) {
	tu := New(repository.NewMemoryStore(), nil, nil, nil)
	for n, want := range map[int64]bool{0: false, 19: false, 20: true, 25: false, 30: true, 40: true} {
		if got := tu.Due(n); got != want {
			t.Fatalf("Due(%d) = %v, want %v", n, got, want)
		}
	}
}

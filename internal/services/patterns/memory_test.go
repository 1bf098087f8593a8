package patterns

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"LinePulse/internal/domain/models"
	"LinePulse/internal/repository"
)

func TestSignatureCanonical(t *testing.T) {
	a := map[string]any{"state": "LOCK", "stack": 0.66661, "trap": true, "direction": 1}
	b := map[string]any{"direction": 1, "trap": true, "stack": 0.66664, "state": "LOCK"}
	if Signature(a) != Signature(b) {
		t.Fatalf("signature depends on key order or float noise")
	}
	if len(Signature(a)) != 64 {
		t.Fatalf("expected hex sha256")
	}
	typed := map[string]any{"state": "LOCK", "stack": 0.66661, "trap": true, "direction": 1.0}
	if Signature(a) == Signature(typed) {
		t.Fatalf("int and float values must not collide")
	}
	if Signature(map[string]any{"x": -0.00001}) != Signature(map[string]any{"x": 0.0}) {
		t.Fatalf("negative zero should canonicalize to zero")
	}
	if Signature(map[string]any{"x": "true"}) == Signature(map[string]any{"x": true}) {
		t.Fatalf("string and bool values must not collide")
	}
}

func TestLearnSameSignatureTwice(t *testing.T) {
	m := New(repository.NewMemoryStore(), nil)
	ctx := context.Background()
	sig := Signature(map[string]any{"state": "STRONG_SIGNAL", "favored": "home"})

	if _, err := m.Learn(ctx, sig, true, map[string]string{"match": "a-b"}); err != nil {
		t.Fatalf("learn: %v", err)
	}
	rec, err := m.Learn(ctx, sig, false, nil)
	if err != nil {
		t.Fatalf("learn: %v", err)
	}
	if rec.Count != 2 || rec.WinRate != 0.5 {
		t.Fatalf("expected count=2 win_rate=0.5, got %d %v", rec.Count, rec.WinRate)
	}
	if rec.Metadata["match"] != "a-b" {
		t.Fatalf("metadata lost: %v", rec.Metadata)
	}
	got, found, err := m.Lookup(ctx, sig)
	if err != nil || !found || got.Count != 2 {
		t.Fatalf("lookup: %+v %v %v", got, found, err)
	}
}

func TestLookupMissing(t *testing.T) {
	m := New(repository.NewMemoryStore(), nil)
	if _, found, err := m.Lookup(context.Background(), "nope"); found || err != nil {
		t.Fatalf("expected absent, got found=%v err=%v", found, err)
	}
}

func TestLearnConcurrentCountsAll(t *testing.T) {
	m := New(repository.NewMemoryStore(), nil)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := m.Learn(ctx, "sig", i%4 == 0, nil); err != nil {
				t.Errorf("learn: %v", err)
			}
		}(i)
	}
	wg.Wait()
	rec, _, _ := m.Lookup(ctx, "sig")
	if rec.Count != 100 {
		t.Fatalf("lost updates: count %d", rec.Count)
	}
	if math.Abs(rec.WinRate-0.25) > 1e-9 {
		t.Fatalf("win rate %v", rec.WinRate)
	}
}

func TestWinRateBoundedAndCountMonotonic(t *testing.T) {
	m := New(repository.NewMemoryStore(), nil)
	ctx := context.Background()
	prev := 0
	for i := 0; i < 50; i++ {
		rec, err := m.Learn(ctx, "s", (i*7)%3 == 0, nil)
		if err != nil {
			t.Fatalf("learn: %v", err)
		}
		if rec.WinRate < 0 || rec.WinRate > 1 {
			t.Fatalf("win rate %v out of range", rec.WinRate)
		}
		if rec.Count < prev {
			t.Fatalf("count decreased %d -> %d", prev, rec.Count)
		}
		prev = rec.Count
	}
}

func TestTopOrdersByCount(t *testing.T) {
	m := New(repository.NewMemoryStore(), nil)
	ctx := context.Background()
	for i, n := range []int{2, 5, 1, 3} {
		sig := fmt.Sprintf("sig-%d", i)
		for j := 0; j < n; j++ {
			if _, err := m.Learn(ctx, sig, true, nil); err != nil {
				t.Fatalf("learn: %v", err)
			}
		}
	}
	top, err := m.Top(ctx, 2)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(top) != 2 || top[0].Signature != "sig-1" || top[1].Signature != "sig-3" {
		t.Fatalf("unexpected top %+v", top)
	}
	if empty, _ := New(repository.NewMemoryStore(), nil).Top(ctx, 3); len(empty) != 0 {
		t.Fatalf("expected no patterns")
	}
}

func TestBlend(t *testing.T) {
	m := New(repository.NewMemoryStore(), nil, WithConfig(Config{MinCount: 3, BlendWeight: 0.5}))
	p := models.Probabilities{0.5, 0.3, 0.2}

	if _, applied := m.Blend(p, models.OutcomeHome, models.PatternRecord{Count: 2, WinRate: 1}); applied {
		t.Fatalf("young pattern must not be applied")
	}
	out, applied := m.Blend(p, models.OutcomeHome, models.PatternRecord{Count: 10, WinRate: 0.9})
	if !applied {
		t.Fatalf("expected blend")
	}
	if math.Abs(out.Sum()-1) > 1e-12 {
		t.Fatalf("blended vector sums to %v", out.Sum())
	}
	if math.Abs(out[0]-0.7) > 1e-12 {
		t.Fatalf("home mass %v, want 0.7", out[0])
	}
	if !(out[1] > out[2]) {
		t.Fatalf("others should keep their ratio: %v", out)
	}
	low, _ := m.Blend(p, models.OutcomeHome, models.PatternRecord{Count: 10, WinRate: 0.1})
	if !(low[0] < p[0]) {
		t.Fatalf("losing pattern should pull mass away: %v", low)
	}
}

func TestFeaturesStableAcrossNoise(t *testing.T) {
	ind := models.Indicators{StackFactor: 0.66, SmartMoneyScore: 0.41, JuicePressure: 0.12, DirectionScore: 0.5}
	jitter := ind
	jitter.StackFactor = 0.67
	jitter.SmartMoneyScore = 0.39
	a := Signature(Features(ind, "STRONG_SIGNAL", models.OutcomeHome))
	b := Signature(Features(jitter, "STRONG_SIGNAL", models.OutcomeHome))
	if a != b {
		t.Fatalf("bucketed features should share a signature")
	}
	c := Signature(Features(ind, "TRAP", models.OutcomeHome))
	if a == c {
		t.Fatalf("different state must change the signature")
	}
}

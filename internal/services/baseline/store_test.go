package baseline

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"LinePulse/internal/domain/models"
	"LinePulse/internal/repository"
)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Minute)
	return c.t
}

func newTestStore() *Store {
	clk := &stepClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(repository.NewMemoryStore(), nil, WithClock(clk.now))
}

type downStore struct{}

var errDown = errors.New("connection refused")

func (downStore) Get(context.Context, string) ([]byte, error) { return nil, errDown }
func (downStore) Put(context.Context, string, []byte) error { return errDown }
func (downStore) Append(context.Context, string, models.LogEntry) error {
	return errDown
}
func (downStore) QueryRecent(context.Context, string, string, int) ([]models.LogEntry, error) {
	return nil, errDown
}

func TestGetCreatesRecord(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	v, a, learned := s.Get(ctx, "momentum_total", 0.4, 0.3)
	if v != 0.4 || a != 0.3 || learned {
		t.Fatalf("unexpected first get: %v %v %v", v, a, learned)
	}
	rec, err := s.Record(ctx, "momentum_total")
	if err != nil {
		t.Fatalf("record not created: %v", err)
	}
	if rec.Value != 0.4 || rec.Alpha != 0.3 {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestUpdateEWMA(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	if _, err := s.Update(ctx, "k", 1.0); err != nil {
		t.Fatalf("update: %v", err)
	}
	rec, err := s.Update(ctx, "k", 2.0)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	want := 0.2*2.0 + 0.8*1.0
	if math.Abs(rec.Value-want) > 1e-12 {
		t.Fatalf("value %v, want %v", rec.Value, want)
	}
	if rec.Samples != 2 {
		t.Fatalf("samples %d", rec.Samples)
	}
	if _, _, learned := s.Get(ctx, "k", 0, 0.2); !learned {
		t.Fatalf("expected learned after updates")
	}
}

func TestRepeatedSamplesConverge(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	if _, err := s.Update(ctx, "k", 0); err != nil {
		t.Fatalf("update: %v", err)
	}
	prevGap := math.Inf(1)
	for i := 0; i < 200; i++ {
		rec, err := s.Update(ctx, "k", 5.0)
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		gap := math.Abs(5.0 - rec.Value)
		if gap > prevGap+1e-12 || rec.Value > 5.0+1e-12 {
			t.Fatalf("step %d diverged: value %v", i, rec.Value)
		}
		if rec.Alpha < MinAlpha || rec.Alpha > MaxAlpha {
			t.Fatalf("alpha %v out of bounds", rec.Alpha)
		}
		prevGap = gap
	}
	if prevGap >= 5.0 {
		t.Fatalf("value did not move toward the sample")
	}
}

func TestAlphaTracksVariance(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	initial := s.cfg.DefaultAlpha

	var idx, alphas []float64
	for i := 1; i <= 40; i++ {
		sign := 1.0
		if i%2 == 1 {
			sign = -1.0
		}
		rec, err := s.Update(ctx, "divergence", 1+sign*0.025*float64(i))
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		if i >= s.cfg.MinSamples {
			idx = append(idx, float64(i))
			alphas = append(alphas, rec.Alpha)
		}
	}
	last := alphas[len(alphas)-1]
	if last <= initial {
		t.Fatalf("alpha %v did not rise above initial %v", last, initial)
	}
	if r := pearson(idx, alphas); r < 0.9 {
		t.Fatalf("alpha should trend with variance, correlation %v", r)
	}
}

func pearson(x, y []float64) float64 {
	n := float64(len(x))
	var mx, my float64
	for i := range x {
		mx += x[i]
		my += y[i]
	}
	mx /= n
	my /= n
	var sxy, sxx, syy float64
	for i := range x {
		sxy += (x[i] - mx) * (y[i] - my)
		sxx += (x[i] - mx) * (x[i] - mx)
		syy += (y[i] - my) * (y[i] - my)
	}
	return sxy / math.Sqrt(sxx*syy)
}

func TestStoreDownDegrades(t *testing.T) {
	s := New(downStore{}, nil)
	v, a, learned := s.Get(context.Background(), "momentum_total", 0.7, 0.25)
	if v != 0.7 || a != 0.25 || learned {
		t.Fatalf("expected fallback, got %v %v %v", v, a, learned)
	}
	if _, err := s.Update(context.Background(), "momentum_total", 1); !errors.Is(err, errDown) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestSetAlphaClamped(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	old, got, err := s.SetAlpha(ctx, "k", 5)
	if err != nil {
		t.Fatalf("set alpha: %v", err)
	}
	if old != s.cfg.DefaultAlpha || got != MaxAlpha {
		t.Fatalf("unexpected alpha change %v -> %v", old, got)
	}
	_, got, _ = s.SetAlpha(ctx, "k", -1)
	if got != MinAlpha {
		t.Fatalf("expected floor, got %v", got)
	}
}

func TestMotionOf(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	samples := []models.Sample{
		{Value: 1.0, At: t0},
		{Value: 1.1, At: t0.Add(10 * time.Second)},
		{Value: 1.4, At: t0.Add(20 * time.Second)},
	}
	m := MotionOf(samples, 0.5, 0.25)
	if math.Abs(m.Velocity-0.03) > 1e-9 {
		t.Fatalf("velocity %v", m.Velocity)
	}
	if math.Abs(m.Acceleration-0.002) > 1e-9 {
		t.Fatalf("acceleration %v", m.Acceleration)
	}
	if math.Abs(m.MoneyWeight-(0.5*0.03+0.25*0.002)) > 1e-9 {
		t.Fatalf("money weight %v", m.MoneyWeight)
	}

	burst := []models.Sample{{Value: 0, At: t0}, {Value: 50, At: t0}}
	if got := MotionOf(burst, 0.5, 0.25).MoneyWeight; got != 1 {
		t.Fatalf("money weight must clamp to 1, got %v", got)
	}
	if got := MotionOf(samples[:1], 0.5, 0.25); got.Velocity != 0 || got.Samples != 1 {
		t.Fatalf("single sample has no motion: %+v", got)
	}
}

func TestVelocityFromLog(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	for _, v := range []float64{1, 2, 4} {
		if _, err := s.Update(ctx, "k", v); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	m, err := s.Velocity(ctx, "k")
	if err != nil {
		t.Fatalf("velocity: %v", err)
	}
	if m.Samples != 3 || !(m.Velocity > 0) || !(m.Acceleration > 0) {
		t.Fatalf("unexpected motion %+v", m)
	}
}

func TestShiftAlpha(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	old, got, err := s.ShiftAlpha(ctx, "k", 0.05)
	if err != nil {
		t.Fatalf("shift: %v", err)
	}
	if old != 0.2 || math.Abs(got-0.25) > 1e-12 {
		t.Fatalf("unexpected shift %v -> %v", old, got)
	}
	_, got, _ = s.ShiftAlpha(ctx, "k", 10)
	if got != MaxAlpha {
		t.Fatalf("shift must stay bounded, got %v", got)
	}
}

func TestShiftSurvivesRetune(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	var rec models.BaselineRecord
	var err error
	for i := 0; i < 20; i++ {
		rec, err = s.Update(ctx, "momentum_total", 10+0.01*float64(i%2))
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	tuned := rec.Alpha
	if _, got, err := s.ShiftAlpha(ctx, "momentum_total", 0.05); err != nil || math.Abs(got-(tuned+0.05)) > 1e-12 {
		t.Fatalf("shift: %v %v", got, err)
	}
	for i := 0; i < 3; i++ {
		rec, err = s.Update(ctx, "momentum_total", 10)
		if err != nil {
			t.Fatalf("update after shift: %v", err)
		}
		if math.Abs(rec.Alpha-(tuned+0.05)) > 1e-3 {
			t.Fatalf("retune %d dropped the shift: tuned=%v alpha=%v", i, tuned, rec.Alpha)
		}
	}
	if math.Abs(rec.AlphaBias-0.05) > 1e-12 {
		t.Fatalf("bias not persisted: %+v", rec)
	}
}

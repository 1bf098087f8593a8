package fusion

import (
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"LinePulse/internal/domain/models"
	"LinePulse/internal/services/features"
)

func mainQuotes(open, now [3]float64) [3]models.Quote {
	var q [3]models.Quote
	for i := range q {
		q[i] = models.Quote{Open: open[i], Now: now[i]}
	}
	return q
}

var flatMain = mainQuotes([3]float64{2.5, 3.2, 2.9}, [3]float64{2.5, 3.2, 2.9})

func TestIndicatorsMainMarketOnly(t *testing.T) {
	ex := features.Extract(mainQuotes([3]float64{2.10, 3.40, 3.10}, [3]float64{1.95, 3.60, 3.80}), nil)
	ind := DefaultProfile().Indicators(ex)
	if math.Abs(ind.MainMomentum-1.05) > 1e-9 || ind.SubMomentum != 0 {
		t.Fatalf("unexpected momentum main=%v sub=%v", ind.MainMomentum, ind.SubMomentum)
	}
	if math.Abs(ind.MomentumTotal-1.05) > 1e-9 || math.Abs(ind.Divergence-1.05) > 1e-9 {
		t.Fatalf("unexpected total=%v divergence=%v", ind.MomentumTotal, ind.Divergence)
	}
	if ind.TrapFlag {
		t.Fatalf("no trap expected, reasons %v", ind.TrapReasons)
	}
	if !(ind.DirectionScore > 0) {
		t.Fatalf("money is on home, direction %v", ind.DirectionScore)
	}
	if !slices.Contains(ind.SmartMoneyFlags, FlagDivergence) || !slices.Contains(ind.SmartMoneyFlags, FlagSideImbalance) {
		t.Fatalf("unexpected flags %v", ind.SmartMoneyFlags)
	}
	if ind.JuicePressure <= 0 || ind.JuicePressure > 1 {
		t.Fatalf("juice %v", ind.JuicePressure)
	}
}

func TestIndicatorsNoMovement(t *testing.T) {
	lines := []models.LinePair{
		{Line: -0.5, A: models.Quote{Open: 1.9, Now: 1.9}, B: models.Quote{Open: 1.95, Now: 1.95}},
		{Line: 0.5, A: models.Quote{Open: 2.4, Now: 2.4}, B: models.Quote{Open: 1.6, Now: 1.6}},
	}
	ind := DefaultProfile().Indicators(features.Extract(flatMain, lines))
	if ind.MomentumTotal != 0 || ind.Divergence != 0 {
		t.Fatalf("expected zero momentum and divergence, got %v %v", ind.MomentumTotal, ind.Divergence)
	}
	if ind.TrapFlag || ind.ReboundHits != 0 {
		t.Fatalf("unchanged prices must not trap: %+v", ind)
	}
	if ind.DirectionScore != 0 || ind.StackFactor != 0 {
		t.Fatalf("unexpected direction %v stack %v", ind.DirectionScore, ind.StackFactor)
	}
}

func TestTrapAtReboundBoundary(t *testing.T) {
	custom := DefaultProfile()
	custom.Rebound = []ReboundBand{{Upper: 1, Sensitivity: 0.25}}

	cases := []struct {
		name    string
		profile Profile
		nowA    float64
		openA   float64
		trap    bool
	}{
		{"default band edge", DefaultProfile(), 3.92, 4, true},
		{"default just past edge", DefaultProfile(), 3.91, 4, false},
		{"custom band edge", custom, 3, 4, true},
		{"custom just past edge", custom, 2.99, 4, false},
	}
	for _, c := range cases {
		lines := []models.LinePair{{
			Line: 0,
			A:    models.Quote{Open: c.openA, Now: c.nowA},
			B:    models.Quote{Open: 1.9, Now: 1.9},
		}}
		ex := features.Extract(flatMain, lines)
		ind := c.profile.Indicators(ex)
		if ind.TrapFlag != c.trap {
			r := ex.Lines[0].A.Relative
			t.Fatalf("%s: relative %v sensitivity %v trap=%v, want %v",
				c.name, r, c.profile.sensitivity(math.Abs(r)), ind.TrapFlag, c.trap)
		}
		if c.trap && !slices.Contains(ind.TrapReasons, TrapRebound) {
			t.Fatalf("%s: expected rebound reason, got %v", c.name, ind.TrapReasons)
		}
	}
}

func TestTrapOnSignFlips(t *testing.T) {
	up := models.LinePair{A: models.Quote{Open: 2.0, Now: 1.7}, B: models.Quote{Open: 2.0, Now: 2.3}}
	down := models.LinePair{A: models.Quote{Open: 2.0, Now: 2.3}, B: models.Quote{Open: 2.0, Now: 1.7}}
	l1, l2, l3 := up, down, up
	l1.Line, l2.Line, l3.Line = -1, 0, 1

	ind := DefaultProfile().Indicators(features.Extract(flatMain, []models.LinePair{l3, l1, l2}))
	if ind.SignFlips != 2 {
		t.Fatalf("expected 2 flips, got %d", ind.SignFlips)
	}
	if !ind.TrapFlag || !slices.Contains(ind.TrapReasons, TrapSignFlips) {
		t.Fatalf("expected sign flip trap, got %+v", ind)
	}
	if ind.ReboundHits != 0 {
		t.Fatalf("large moves must not rebound, hits %d", ind.ReboundHits)
	}
	if math.Abs(ind.TrapScore-0.5) > 1e-12 {
		t.Fatalf("trap score %v", ind.TrapScore)
	}

	one := DefaultProfile().Indicators(features.Extract(flatMain, []models.LinePair{l1, l2}))
	if one.SignFlips != 1 || one.TrapFlag {
		t.Fatalf("a single flip is not a trap: %+v", one)
	}
}

func TestStackingAndMismatch(t *testing.T) {
	toA := func(line float64) models.LinePair {
		return models.LinePair{Line: line, A: models.Quote{Open: 2.0, Now: 1.8}, B: models.Quote{Open: 1.9, Now: 2.1}}
	}
	lines := []models.LinePair{toA(-0.5), toA(0), toA(0.5)}

	// main market drifts toward away while every line backs home
	main := mainQuotes([3]float64{2.0, 3.4, 3.6}, [3]float64{2.3, 3.4, 3.1})
	ind := DefaultProfile().Indicators(features.Extract(main, lines))
	if ind.StackFactor != 1 {
		t.Fatalf("stack factor %v", ind.StackFactor)
	}
	if ind.MismatchPenalty != 1 {
		t.Fatalf("expected mismatch, got %v", ind.MismatchPenalty)
	}
	if !slices.Contains(ind.SmartMoneyFlags, FlagStacking) || !slices.Contains(ind.SmartMoneyFlags, FlagStrongLine) {
		t.Fatalf("unexpected flags %v", ind.SmartMoneyFlags)
	}

	agree := mainQuotes([3]float64{2.3, 3.4, 3.1}, [3]float64{2.0, 3.4, 3.6})
	if got := DefaultProfile().Indicators(features.Extract(agree, lines)).MismatchPenalty; got != 0 {
		t.Fatalf("agreeing markets should not be penalised, got %v", got)
	}
}

func TestScoreTrapDampening(t *testing.T) {
	p := DefaultProfile()
	ind := models.Indicators{
		MomentumTotal:   0.8,
		JuicePressure:   0.6,
		StackFactor:     1,
		SmartMoneyScore: 0.8,
		DirectionScore:  0.7,
	}
	base := models.BaselineView{Momentum: 0.8, Learned: true}
	sim := models.Simulation{Entropy: 0.6, Trials: 1000}

	clean := p.Score(ind, base, sim)
	ind.TrapFlag = true
	trapped := p.Score(ind, base, sim)
	if clean.Composite <= 0 {
		t.Fatalf("expected positive composite, got %v", clean.Composite)
	}
	if !trapped.Dampened || math.Abs(trapped.Composite-clean.Composite*p.Thresholds.TrapDampening) > 1e-12 {
		t.Fatalf("composite %v not dampened from %v", trapped.Composite, clean.Composite)
	}
}

func TestScoreUnlearnedReducesConfidence(t *testing.T) {
	p := DefaultProfile()
	ind := models.Indicators{MomentumTotal: 0.3, StackFactor: 0.5, DirectionScore: 0.4}
	sim := models.Simulation{Entropy: 0.9, Trials: 1000}
	learned := p.Score(ind, models.BaselineView{Momentum: 0.3, Learned: true}, sim)
	cold := p.Score(ind, models.BaselineView{Momentum: 0.3}, sim)
	if !(cold.Confidence < learned.Confidence) {
		t.Fatalf("unlearned confidence %v should be below %v", cold.Confidence, learned.Confidence)
	}
}

func TestScoreSpikePenalty(t *testing.T) {
	p := DefaultProfile()
	calm := p.Score(models.Indicators{MomentumTotal: 0.2}, models.BaselineView{Momentum: 0.4, Learned: true}, models.Simulation{})
	if calm.SpikePenalty != 0 {
		t.Fatalf("below baseline should not spike, got %v", calm.SpikePenalty)
	}
	spike := p.Score(models.Indicators{MomentumTotal: 2}, models.BaselineView{Momentum: 0.2, Learned: true}, models.Simulation{})
	if spike.SpikePenalty <= 0.5 || spike.SpikePenalty > 1 {
		t.Fatalf("unexpected spike %v", spike.SpikePenalty)
	}
}

func randomPrice(r *rand.Rand) float64 {
	switch r.IntN(10) {
	case 0:
		return math.NaN()
	case 1:
		return -r.Float64()
	case 2:
		return 1000 * r.Float64()
	default:
		return 1.01 + 19*r.Float64()
	}
}

func TestScoresStayBoundedUnderFuzz(t *testing.T) {
	r := rand.New(rand.NewPCG(2024, 10))
	profiles := []Profile{DefaultProfile()}
	loose := DefaultProfile()
	loose.Composite = map[string]float64{CompFlowPower: 5, CompTrapScore: -5}
	profiles = append(profiles, loose)

	for i := 0; i < 2000; i++ {
		var main [3]models.Quote
		for j := range main {
			main[j] = models.Quote{Open: randomPrice(r), Now: randomPrice(r)}
		}
		lines := make([]models.LinePair, r.IntN(8))
		for j := range lines {
			lines[j] = models.LinePair{
				Line: float64(r.IntN(17)-8) / 4,
				A:    models.Quote{Open: randomPrice(r), Now: randomPrice(r)},
				B:    models.Quote{Open: randomPrice(r), Now: randomPrice(r)},
			}
		}
		ex := features.Extract(main, lines)
		base := models.BaselineView{
			Momentum:    10 * r.Float64(),
			MoneyWeight: r.Float64(),
			Learned:     r.IntN(2) == 0,
		}
		sim := models.Simulation{Entropy: math.Log(3) * r.Float64(), Trials: 1000}
		for _, p := range profiles {
			ind := p.Indicators(ex)
			if ind.SmartMoneyScore < 0 || ind.SmartMoneyScore > 1 || ind.JuicePressure < 0 || ind.JuicePressure > 1 {
				t.Fatalf("indicator out of range: %+v", ind)
			}
			if ind.DirectionScore < -1 || ind.DirectionScore > 1 || math.IsNaN(ind.DirectionScore) {
				t.Fatalf("direction out of range: %v", ind.DirectionScore)
			}
			if ind.TrapScore < 0 || ind.TrapScore > 1 {
				t.Fatalf("trap score out of range: %v", ind.TrapScore)
			}
			s := p.Score(ind, base, sim)
			if s.Composite < -1 || s.Composite > 1 || math.IsNaN(s.Composite) {
				t.Fatalf("composite out of range: %v", s.Composite)
			}
			if s.Confidence < 0 || s.Confidence > 100 || s.FlowPower < 0 || s.FlowPower > 100 {
				t.Fatalf("scores out of range: %+v", s)
			}
		}
	}
}

func TestTrimmedStats(t *testing.T) {
	values := []float64{1000, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	mean, _, n := TrimmedStats(values, 0.1)
	if n != 9 || mean != 6 {
		t.Fatalf("trimmed mean %v over %d values", mean, n)
	}
	mean, std, n := TrimmedStats([]float64{2, math.NaN()}, 0.1)
	if n != 1 || mean != 2 || std != 0 {
		t.Fatalf("unexpected %v %v %d", mean, std, n)
	}
	if _, _, n := TrimmedStats(nil, 0.1); n != 0 {
		t.Fatalf("empty input")
	}
}

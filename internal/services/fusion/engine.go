package fusion

import (
	"math"

	"LinePulse/internal/domain/models"
)

const (
	eps     = 1e-9
	stdEps  = 1e-6
	flipEps = 1e-9
)

// Trap reasons.
const (
	TrapRebound   = "rebound"
	TrapSignFlips = "sign_flips"
)

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(hi, math.Max(lo, v))
}

// sensitivity returns the rebound threshold of a relative move magnitude.
func (p Profile) sensitivity(r float64) float64 {
	s := p.Thresholds.ReboundBase
	for _, b := range p.Rebound {
		if r < b.Upper {
			s = b.Sensitivity
			break
		}
	}
	return math.Max(s, p.Thresholds.ReboundFloor)
}

type pairMove struct {
	a, b     models.Movement
	momentum float64
}

// Indicators computes the stage-one signals of an extraction.
func (p Profile) Indicators(ex models.Extraction) models.Indicators {
	var ind models.Indicators
	th := p.Thresholds

	var sides []models.Movement
	for _, m := range ex.Main {
		if m.Valid {
			ind.MainMomentum += m.Momentum
			sides = append(sides, m)
		}
	}
	favA, favB := 0, 0
	strongLine := false
	for _, l := range ex.Lines {
		ind.SubMomentum += l.Momentum
		switch l.Favors {
		case "a":
			favA++
		case "b":
			favB++
		}
		for _, m := range []models.Movement{l.A, l.B} {
			if !m.Valid {
				continue
			}
			sides = append(sides, m)
			if math.Abs(m.Relative) >= th.StrongLineMove {
				strongLine = true
			}
		}
	}
	ind.MomentumTotal = ind.MainMomentum + ind.SubMomentum
	ind.Divergence = math.Abs(ind.SubMomentum - ind.MainMomentum)

	juice := 0.0
	for _, m := range sides {
		juice += math.Abs(m.ImpliedNow - m.ImpliedOpen)
	}
	ind.JuicePressure = clamp(juice/(ind.MomentumTotal+eps), 0, 1)

	if n := len(ex.Lines); n > 0 {
		ind.StackFactor = float64(max(favA, favB)) / float64(n)
	}

	// rebound and sign flips
	for _, m := range sides {
		r := math.Abs(m.Relative)
		s := p.sensitivity(r)
		ind.ReboundSensitivity = math.Max(ind.ReboundSensitivity, s)
		if r > 0 && r <= s {
			ind.ReboundHits++
		}
	}
	ind.SignFlips = signFlips(ex.Lines)
	flipped := ind.SignFlips >= th.SignFlips
	if ind.ReboundHits > 0 {
		ind.TrapReasons = append(ind.TrapReasons, TrapRebound)
	}
	if flipped {
		ind.TrapReasons = append(ind.TrapReasons, TrapSignFlips)
	}
	ind.TrapFlag = len(ind.TrapReasons) > 0
	if len(sides) > 0 {
		ind.TrapScore = float64(ind.ReboundHits) / float64(len(sides))
	}
	if flipped {
		ind.TrapScore += 0.5
	}
	ind.TrapScore = clamp(ind.TrapScore, 0, 1)

	mainMove, mainOK := mainNetMove(ex)
	ind.MismatchPenalty = mismatch(mainMove, mainOK, ex.Implied, favA, favB, ind.StackFactor)

	// smart money
	add := func(flag string, on bool) {
		if on {
			ind.SmartMoneyScore += p.SmartMoney[flag]
			ind.SmartMoneyFlags = append(ind.SmartMoneyFlags, flag)
		}
	}
	add(FlagJuice, ind.JuicePressure > th.Juice)
	add(FlagStacking, len(ex.Lines) >= th.StackingMinLines && ind.StackFactor >= th.Stacking)
	add(FlagDivergence, ind.Divergence > th.Divergence)
	add(FlagStrongLine, strongLine)
	add(FlagSideImbalance, mainOK && math.Abs(mainMove)/(ind.MainMomentum+eps) > th.SideImbalance)
	ind.SmartMoneyScore = clamp(ind.SmartMoneyScore, 0, 1)

	ind.DirectionScore = directionScore(ex, sides, th.TrimFraction)
	return ind
}

// mainNetMove is netflow_home - netflow_away; positive means money on home.
func mainNetMove(ex models.Extraction) (float64, bool) {
	h, a := ex.Main[0], ex.Main[2]
	if !h.Valid || !a.Valid {
		return 0, false
	}
	return h.Netflow - a.Netflow, true
}

// mismatch returns the stack factor when the main market and the
// sub-market stack point at different sides.
func mismatch(mainMove float64, mainOK bool, implied models.Probabilities, favA, favB int, stack float64) float64 {
	if favA == favB {
		return 0
	}
	subHome := favA > favB
	var mainHome bool
	switch {
	case mainOK && mainMove > flipEps:
		mainHome = true
	case mainOK && mainMove < -flipEps:
		mainHome = false
	case implied[0] != implied[2]:
		mainHome = implied[0] > implied[2]
	default:
		return 0
	}
	if mainHome == subHome {
		return 0
	}
	return stack
}

func signFlips(lines []models.LineMovement) int {
	flips, prev := 0, 0
	for _, l := range lines {
		sign := 0
		switch {
		case l.NetMove > flipEps:
			sign = 1
		case l.NetMove < -flipEps:
			sign = -1
		}
		if sign == 0 {
			continue
		}
		if prev != 0 && sign != prev {
			flips++
		}
		prev = sign
	}
	return flips
}

// directionScore is tanh of the momentum-weighted mean of per-pair
// z-score differences; positive favours home.
func directionScore(ex models.Extraction, sides []models.Movement, trim float64) float64 {
	rel := make([]float64, 0, len(sides))
	for _, m := range sides {
		rel = append(rel, m.Relative)
	}
	_, std, n := TrimmedStats(rel, trim)
	if n == 0 {
		return 0
	}
	std = math.Max(std, stdEps)

	pairs := make([]pairMove, 0, len(ex.Lines)+1)
	if h, a := ex.Main[0], ex.Main[2]; h.Valid && a.Valid {
		pairs = append(pairs, pairMove{a: h, b: a, momentum: h.Momentum + a.Momentum})
	}
	for _, l := range ex.Lines {
		if l.A.Valid && l.B.Valid {
			pairs = append(pairs, pairMove{a: l.A, b: l.B, momentum: l.Momentum})
		}
	}
	var num, den float64
	for _, pm := range pairs {
		num += pm.momentum * (pm.a.Relative - pm.b.Relative) / std
		den += pm.momentum
	}
	if den <= eps {
		return 0
	}
	return clamp(math.Tanh(num/den), -1, 1)
}

// Score computes the stage-two bounded scores.
func (p Profile) Score(ind models.Indicators, base models.BaselineView, sim models.Simulation) models.Scores {
	th := p.Thresholds
	var s models.Scores

	s.SpikePenalty = clamp((ind.MomentumTotal-base.Momentum)/(ind.MomentumTotal+math.Abs(base.Momentum)+eps), 0, 1)

	momentum := math.Tanh(ind.MomentumTotal / math.Max(th.MomentumScale, eps))
	divergence := math.Tanh(ind.Divergence / math.Max(th.DivergenceScale, eps))
	direction := math.Abs(ind.DirectionScore)
	sharpness := 1.0
	if sim.Trials > 0 {
		sharpness = clamp(1-sim.Entropy/math.Log(3), 0, 1)
	}

	flow := weighted(p.FlowPower, map[string]float64{
		CompMomentum:    momentum,
		CompJuice:       ind.JuicePressure,
		CompStack:       ind.StackFactor,
		CompSmartMoney:  ind.SmartMoneyScore,
		CompMoneyWeight: clamp(base.MoneyWeight, 0, 1),
		CompDirection:   direction,
	})
	s.FlowPower = 100 * clamp(flow, 0, 1)

	conf := weighted(p.Confidence, map[string]float64{
		CompConsistency: 1 - divergence,
		CompStack:       ind.StackFactor,
		CompDirection:   direction,
		CompSmartMoney:  ind.SmartMoneyScore,
		CompSharpness:   sharpness,
		CompTrapFree:    1 - ind.TrapScore,
	})
	conf = clamp(conf, 0, 1)
	if !base.Learned {
		conf *= clamp(th.UnlearnedConfidence, 0, 1)
	}
	s.Confidence = 100 * conf

	composite := weighted(p.Composite, map[string]float64{
		CompFlowPower:  s.FlowPower / 100,
		CompConfidence: s.Confidence / 100,
		CompSmartMoney: ind.SmartMoneyScore,
		CompJuice:      ind.JuicePressure,
		CompStack:      ind.StackFactor,
		CompDivergence: divergence,
		CompSpike:      s.SpikePenalty,
		CompMismatch:   ind.MismatchPenalty,
		CompTrapScore:  ind.TrapScore,
	})
	s.Composite = clamp(composite, -1, 1)
	if ind.TrapFlag {
		s.Composite *= clamp(th.TrapDampening, 0, 1)
		s.Dampened = true
	}
	return s
}

// weighted sums weight*value over the components named in weights;
// missing or NaN inputs contribute nothing.
func weighted(weights, values map[string]float64) float64 {
	sum := 0.0
	for name, w := range weights {
		v, ok := values[name]
		if !ok || math.IsNaN(v) {
			continue
		}
		sum += w * v
	}
	return sum
}

package features

import (
	"math"
	"sort"

	"LinePulse/internal/domain/models"

	"github.com/shopspring/decimal"
)

// FlatEpsilon is the smallest price move treated as a real move.
const FlatEpsilon = 1e-9

const sumEpsilon = 1e-12

// Implied returns 1/price, or NaN for an invalid price.
func Implied(price float64) float64 {
	price = models.SanitizePrice(price)
	if math.IsNaN(price) {
		return math.NaN()
	}
	return 1 / price
}

// Netflow computes open - now in decimal so quoted odds subtract exactly.
// Either side NaN yields NaN.
func Netflow(open, now float64) float64 {
	if math.IsNaN(open) || math.IsNaN(now) {
		return math.NaN()
	}
	return decimal.NewFromFloat(open).Sub(decimal.NewFromFloat(now)).InexactFloat64()
}

// Move builds the movement descriptor of one quoted side.
func Move(side string, q models.Quote) models.Movement {
	open, now := models.SanitizePrice(q.Open), models.SanitizePrice(q.Now)
	m := models.Movement{
		Side:        side,
		Open:        open,
		Now:         now,
		ImpliedOpen: Implied(open),
		ImpliedNow:  Implied(now),
		Netflow:     Netflow(open, now),
		Direction:   models.DirectionFlat,
	}
	m.Momentum = math.Abs(m.Netflow)
	m.Relative = m.Netflow / open
	m.Valid = !math.IsNaN(m.Netflow)
	switch {
	case !m.Valid:
	case m.Netflow > FlatEpsilon:
		m.Direction = models.DirectionDown
	case m.Netflow < -FlatEpsilon:
		m.Direction = models.DirectionUp
	}
	return m
}

// Normalize scales the finite positive components of p to sum to one.
// NaN components carry no mass. When nothing is usable the uniform
// vector is returned with ok=false.
func Normalize(p [3]float64) (out models.Probabilities, ok bool) {
	sum := 0.0
	for _, v := range p {
		if !math.IsNaN(v) && v > 0 {
			sum += v
		}
	}
	if sum <= sumEpsilon {
		return models.Probabilities{1.0 / 3, 1.0 / 3, 1.0 / 3}, false
	}
	for i, v := range p {
		if !math.IsNaN(v) && v > 0 {
			out[i] = v / sum
		}
	}
	return out, true
}

// Overround is the sum of valid implied probabilities minus one, or NaN
// when nothing is priced.
func Overround(implied ...float64) float64 {
	sum, n := 0.0, 0
	for _, v := range implied {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum - 1
}

// ExtractRequest runs the extractor over a boundary request.
func ExtractRequest(req *models.AnalysisRequest) models.Extraction {
	return Extract(req.MainQuotes(), req.LinePairs())
}

// Extract turns the main triple and sub-market lines into implied
// probabilities and movement records. Lines without any usable side are
// dropped; lines are returned ordered by their line value.
func Extract(main [3]models.Quote, lines []models.LinePair) models.Extraction {
	var ex models.Extraction
	var implOpen, implNow [3]float64
	for i, q := range main {
		m := Move(string(models.Outcomes[i]), q)
		ex.Main[i] = m
		implOpen[i], implNow[i] = m.ImpliedOpen, m.ImpliedNow
		ex.InvalidPrices += countNaN(m.Open, m.Now)
	}
	ex.OverroundOpen = Overround(implOpen[:]...)
	ex.OverroundNow = Overround(implNow[:]...)
	ex.ImpliedOpen, _ = Normalize(implOpen)
	ex.Implied, ex.Priced = Normalize(implNow)

	sorted := make([]models.LinePair, len(lines))
	copy(sorted, lines)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Line < sorted[j].Line })

	ex.Lines = make([]models.LineMovement, 0, len(sorted))
	for _, lp := range sorted {
		a, b := Move("a", lp.A), Move("b", lp.B)
		ex.InvalidPrices += countNaN(a.Open, a.Now, b.Open, b.Now)
		lm, ok := lineMovement(lp.Line, a, b)
		if !ok {
			continue
		}
		ex.Lines = append(ex.Lines, lm)
	}
	return ex
}

func lineMovement(line float64, a, b models.Movement) (models.LineMovement, bool) {
	lm := models.LineMovement{Line: line, A: a, B: b}
	switch {
	case a.Valid && b.Valid:
		lm.Momentum = a.Momentum + b.Momentum
		lm.NetMove = a.Netflow - b.Netflow
	case a.Valid:
		lm.Momentum = a.Momentum
		lm.NetMove = a.Netflow
	case b.Valid:
		lm.Momentum = b.Momentum
		lm.NetMove = -b.Netflow
	default:
		return lm, false
	}
	switch {
	case lm.NetMove > FlatEpsilon:
		lm.Favors = "a"
	case lm.NetMove < -FlatEpsilon:
		lm.Favors = "b"
	}
	return lm, true
}

func countNaN(vs ...float64) int {
	n := 0
	for _, v := range vs {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}

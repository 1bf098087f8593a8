package models

import "math"

// Outcome is one of the three mutually exclusive match results.
type Outcome string

const (
	OutcomeHome Outcome = "home"
	OutcomeDraw Outcome = "draw"
	OutcomeAway Outcome = "away"
)

// Outcomes lists outcomes in vector order.
var Outcomes = [3]Outcome{OutcomeHome, OutcomeDraw, OutcomeAway}

// Index returns the vector position of o, or -1.
func (o Outcome) Index() int {
	switch o {
	case OutcomeHome:
		return 0
	case OutcomeDraw:
		return 1
	case OutcomeAway:
		return 2
	default:
		return -1
	}
}

func (o Outcome) Valid() bool { return o.Index() >= 0 }

// Probabilities is a home/draw/away vector.
type Probabilities [3]float64

// Leading returns the outcome with the largest mass. Ties resolve in
// vector order.
func (p Probabilities) Leading() Outcome {
	best := 0
	for i := 1; i < len(p); i++ {
		if p[i] > p[best] {
			best = i
		}
	}
	return Outcomes[best]
}

func (p Probabilities) Sum() float64 {
	s := 0.0
	for _, v := range p {
		if !math.IsNaN(v) {
			s += v
		}
	}
	return s
}

// Quote is an opening/current price pair. Absent or unusable prices are
// NaN and stay NaN through arithmetic.
type Quote struct {
	Open float64
	Now  float64
}

// PriceOrNaN maps a missing, non-finite or non-positive price to NaN.
func PriceOrNaN(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return SanitizePrice(*p)
}

// SanitizePrice keeps finite positive prices and turns the rest into NaN.
func SanitizePrice(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return math.NaN()
	}
	return v
}

// PriceTriple carries decimal odds for the main market. Nil means the
// price was not quoted.
type PriceTriple struct {
	Home *float64 `json:"home"`
	Draw *float64 `json:"draw"`
	Away *float64 `json:"away"`
}

func (t PriceTriple) values() [3]float64 {
	return [3]float64{PriceOrNaN(t.Home), PriceOrNaN(t.Draw), PriceOrNaN(t.Away)}
}

type MainMarket struct {
	Open PriceTriple `json:"open"`
	Now  PriceTriple `json:"now"`
}

// LineQuote is a two-sided sub-market (handicap/total) at a given line.
// Side A is the home side of the handicap.
type LineQuote struct {
	Line  float64  `json:"line" validate:"gte=-10,lte=10"`
	OpenA *float64 `json:"open_a"`
	OpenB *float64 `json:"open_b"`
	NowA  *float64 `json:"now_a"`
	NowB  *float64 `json:"now_b"`
}

// ContextAdjustments are optional caller-supplied nudges in [-1,1];
// positive values favour the home side.
type ContextAdjustments struct {
	LineupImpact float64 `json:"lineup_impact" validate:"gte=-1,lte=1"`
	InjuryImpact float64 `json:"injury_impact" validate:"gte=-1,lte=1"`
}

// AnalysisRequest is the boundary record accepted by the analysis endpoint.
type AnalysisRequest struct {
	MatchKey string             `json:"match_key" validate:"required,max=128"`
	Home     string             `json:"home" validate:"required,max=64"`
	Away     string             `json:"away" validate:"required,max=64"`
	Kickoff  string             `json:"kickoff,omitempty"`
	Main     MainMarket         `json:"main"`
	Lines    []LineQuote        `json:"lines" validate:"max=32,dive"`
	Context  ContextAdjustments `json:"context"`
	Profile  string             `json:"profile" default:"default" validate:"max=32"`
	Trials   int                `json:"trials" default:"1000"`
}

// MainQuotes converts the main market into NaN-sanitized quotes in
// home/draw/away order.
func (r *AnalysisRequest) MainQuotes() [3]Quote {
	open, now := r.Main.Open.values(), r.Main.Now.values()
	var out [3]Quote
	for i := range out {
		out[i] = Quote{Open: open[i], Now: now[i]}
	}
	return out
}

// LinePair is a sanitized sub-market line.
type LinePair struct {
	Line float64
	A    Quote
	B    Quote
}

func (r *AnalysisRequest) LinePairs() []LinePair {
	out := make([]LinePair, 0, len(r.Lines))
	for _, l := range r.Lines {
		out = append(out, LinePair{
			Line: l.Line,
			A:    Quote{Open: PriceOrNaN(l.OpenA), Now: PriceOrNaN(l.NowA)},
			B:    Quote{Open: PriceOrNaN(l.OpenB), Now: PriceOrNaN(l.NowB)},
		})
	}
	return out
}

// FeedbackRequest confirms the real result of an analysed case.
type FeedbackRequest struct {
	CaseID  string `json:"case_id" validate:"required,max=64"`
	Outcome string `json:"outcome" validate:"required,oneof=home draw away"`
}

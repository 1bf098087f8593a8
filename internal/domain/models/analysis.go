package models

import (
	"encoding/json"
	"math"
	"time"
)

// Direction labels how a price moved between the two snapshots.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionFlat Direction = "flat"
)

// Movement describes one side of one market between opening and now.
// Price-derived fields are NaN when either price is missing.
type Movement struct {
	Side        string
	Open        float64
	Now         float64
	ImpliedOpen float64
	ImpliedNow  float64
	Netflow     float64 // open - now
	Momentum    float64 // |netflow|
	Relative    float64 // netflow / open
	Direction   Direction
	Valid       bool
}

func (m Movement) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Side        string    `json:"side"`
		Open        *float64  `json:"open"`
		Now         *float64  `json:"now"`
		ImpliedOpen *float64  `json:"implied_open"`
		ImpliedNow  *float64  `json:"implied_now"`
		Netflow     *float64  `json:"netflow"`
		Momentum    *float64  `json:"momentum"`
		Relative    *float64  `json:"relative"`
		Direction   Direction `json:"direction"`
		Valid       bool      `json:"valid"`
	}{
		Side:        m.Side,
		Open:        Finite(m.Open),
		Now:         Finite(m.Now),
		ImpliedOpen: Finite(m.ImpliedOpen),
		ImpliedNow:  Finite(m.ImpliedNow),
		Netflow:     Finite(m.Netflow),
		Momentum:    Finite(m.Momentum),
		Relative:    Finite(m.Relative),
		Direction:   m.Direction,
		Valid:       m.Valid,
	})
}

// LineMovement is the per-line movement record of a two-sided sub-market.
type LineMovement struct {
	Line     float64  `json:"line"`
	A        Movement `json:"a"`
	B        Movement `json:"b"`
	Momentum float64  `json:"momentum"`
	NetMove  float64  `json:"net_move"` // netflow_a - netflow_b, positive favours A
	Favors   string   `json:"favors,omitempty"`
}

// Extraction is the output of the price delta extractor.
type Extraction struct {
	Main          [3]Movement    `json:"main"`
	Lines         []LineMovement `json:"lines"`
	OverroundOpen float64        `json:"-"`
	OverroundNow  float64        `json:"-"`
	ImpliedOpen   Probabilities  `json:"implied_open"`
	Implied       Probabilities  `json:"implied"`
	Priced        bool           `json:"priced"`
	InvalidPrices int            `json:"invalid_prices"`
}

func (e Extraction) MarshalJSON() ([]byte, error) {
	type plain Extraction
	return json.Marshal(struct {
		plain
		OverroundOpen *float64 `json:"overround_open"`
		OverroundNow  *float64 `json:"overround_now"`
	}{plain(e), Finite(e.OverroundOpen), Finite(e.OverroundNow)})
}

// Indicators are the stage-one fusion outputs.
type Indicators struct {
	MainMomentum       float64  `json:"main_momentum"`
	SubMomentum        float64  `json:"sub_momentum"`
	MomentumTotal      float64  `json:"momentum_total"`
	Divergence         float64  `json:"divergence"`
	JuicePressure      float64  `json:"juice_pressure"`
	StackFactor        float64  `json:"stack_factor"`
	ReboundSensitivity float64  `json:"rebound_sensitivity"`
	ReboundHits        int      `json:"rebound_hits"`
	SignFlips          int      `json:"sign_flips"`
	TrapFlag           bool     `json:"trap_flag"`
	TrapReasons        []string `json:"trap_reasons,omitempty"`
	TrapScore          float64  `json:"trap_score"`
	MismatchPenalty    float64  `json:"mismatch_penalty"`
	SmartMoneyScore    float64  `json:"smart_money_score"`
	SmartMoneyFlags    []string `json:"smart_money_flags,omitempty"`
	DirectionScore     float64  `json:"direction_score"`
}

// BaselineView is what the fusion engine sees of the adaptive baselines.
type BaselineView struct {
	Momentum     float64 `json:"momentum"`
	Divergence   float64 `json:"divergence"`
	Alpha        float64 `json:"alpha"`
	Velocity     float64 `json:"velocity"`
	Acceleration float64 `json:"acceleration"`
	MoneyWeight  float64 `json:"money_weight"`
	Learned      bool    `json:"learned"`
}

// Scores are the stage-two composite outputs.
type Scores struct {
	FlowPower    float64 `json:"flow_power"`
	Confidence   float64 `json:"confidence"`
	Composite    float64 `json:"composite_score"`
	SpikePenalty float64 `json:"spike_penalty"`
	Dampened     bool    `json:"dampened"`
}

// Simulation is the empirical outcome distribution of the Poisson engine.
type Simulation struct {
	Distribution Probabilities `json:"distribution"`
	LambdaHome   float64       `json:"lambda_home"`
	LambdaAway   float64       `json:"lambda_away"`
	Entropy      float64       `json:"entropy"`
	Trials       int           `json:"trials"`
}

// PatternInsight reports what pattern memory knew about this signature.
type PatternInsight struct {
	Signature string  `json:"signature"`
	Found     bool    `json:"found"`
	Count     int     `json:"count"`
	WinRate   float64 `json:"win_rate"`
	Applied   bool    `json:"applied"`
}

// Correction reports the historical corrector adjustment.
type Correction struct {
	Cases          int     `json:"cases"`
	MeanSimilarity float64 `json:"mean_similarity"`
	Factor         float64 `json:"factor"`
	Leading        Outcome `json:"leading"`
}

// Verdict is the classifier decision.
type Verdict struct {
	State          string  `json:"state"`
	Label          string  `json:"label"`
	Recommendation string  `json:"recommendation"`
	Favored        Outcome `json:"favored"`
}

// AnalysisResult is the full response of one analysis call.
type AnalysisResult struct {
	CaseID        string         `json:"case_id"`
	MatchKey      string         `json:"match_key"`
	Home          string         `json:"home"`
	Away          string         `json:"away"`
	Kickoff       *time.Time     `json:"kickoff,omitempty"`
	Profile       string         `json:"profile"`
	Extraction    Extraction     `json:"extraction"`
	Indicators    Indicators     `json:"indicators"`
	Baseline      BaselineView   `json:"baseline"`
	Scores        Scores         `json:"scores"`
	Simulation    Simulation     `json:"simulation"`
	Pattern       PatternInsight `json:"pattern"`
	Correction    Correction     `json:"correction"`
	Probabilities Probabilities  `json:"probabilities"`
	Verdict       Verdict        `json:"verdict"`
	Unlearned     bool           `json:"unlearned"`
	Autotune      *AutotuneEvent `json:"autotune,omitempty"`
	AnalyzedAt    time.Time      `json:"analyzed_at"`
}

// Finite returns nil for NaN/Inf so JSON encodes them as null.
func Finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

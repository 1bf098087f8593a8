package classifier

import (
	"math"

	"LinePulse/internal/domain/models"
)

// Verdict states in evaluation order.
const (
	StateOverload      = "OVERLOAD"
	StateLock          = "LOCK"
	StateContradiction = "CONTRADICTION_ALERT"
	StateStrong        = "STRONG_SIGNAL"
	StateTrap          = "TRAP"
	StateAmbiguous     = "AMBIGUOUS"
)

type outcomeText struct {
	label, recommendation string
}

var texts = map[string]outcomeText{
	StateOverload:      {"overload", "Market is overheated; stay out until prices settle."},
	StateLock:          {"locked move", "Every market agrees; the move is locked in."},
	StateContradiction: {"contradiction", "Main and sub-markets disagree; do not follow either side."},
	StateStrong:        {"genuine move", "Money flow is consistent; follow the favored side."},
	StateTrap:          {"likely trap", "Movement looks like a bounce; avoid the shortened side."},
	StateAmbiguous:     {"no clear signal", "No actionable signal; wait for more movement."},
}

// Label returns the fixed label of a state.
func Label(state string) string { return texts[state].label }

// Config holds the state thresholds.
type Config struct {
	OverloadMomentum    float64 `yaml:"overload_momentum" default:"2.5"`
	OverloadSpike       float64 `yaml:"overload_spike" default:"0.75"`
	LockStack           float64 `yaml:"lock_stack" default:"1"`
	LockMinLines        int     `yaml:"lock_min_lines" default:"2"`
	LockDirection       float64 `yaml:"lock_direction" default:"0.6"`
	LockConfidence      float64 `yaml:"lock_confidence" default:"70"`
	ContradictMismatch  float64 `yaml:"contradiction_mismatch" default:"0.5"`
	ContradictDirection float64 `yaml:"contradiction_direction" default:"0.3"`
	StrongComposite     float64 `yaml:"strong_composite" default:"0.45"`
	StrongConfidence    float64 `yaml:"strong_confidence" default:"55"`
}

func DefaultConfig() Config {
	return Config{
		OverloadMomentum:    2.5,
		OverloadSpike:       0.75,
		LockStack:           1,
		LockMinLines:        2,
		LockDirection:       0.6,
		LockConfidence:      70,
		ContradictMismatch:  0.5,
		ContradictDirection: 0.3,
		StrongComposite:     0.45,
		StrongConfidence:    55,
	}
}

// Input is everything the classifier looks at.
type Input struct {
	Indicators    models.Indicators
	Scores        models.Scores
	Probabilities models.Probabilities
	Lines         int
}

type Classifier struct {
	cfg Config
}

func New(cfg Config) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify walks the states in fixed priority order; the first matching
// state wins even when later ones also hold.
func (c *Classifier) Classify(in Input) models.Verdict {
	state := c.state(in)
	t := texts[state]
	return models.Verdict{
		State:          state,
		Label:          t.label,
		Recommendation: t.recommendation,
		Favored:        in.Probabilities.Leading(),
	}
}

func (c *Classifier) state(in Input) string {
	ind, s := in.Indicators, in.Scores
	dir := math.Abs(ind.DirectionScore)
	switch {
	case ind.MomentumTotal >= c.cfg.OverloadMomentum || s.SpikePenalty >= c.cfg.OverloadSpike:
		return StateOverload
	case !ind.TrapFlag && in.Lines >= c.cfg.LockMinLines && ind.StackFactor >= c.cfg.LockStack &&
		dir >= c.cfg.LockDirection && s.Confidence >= c.cfg.LockConfidence:
		return StateLock
	case ind.MismatchPenalty >= c.cfg.ContradictMismatch || c.directionDisagrees(in):
		return StateContradiction
	case !ind.TrapFlag && s.Composite >= c.cfg.StrongComposite && s.Confidence >= c.cfg.StrongConfidence:
		return StateStrong
	case ind.TrapFlag:
		return StateTrap
	default:
		return StateAmbiguous
	}
}

// directionDisagrees reports a strong money direction pointing at the
// side the probability vector does not favour.
func (c *Classifier) directionDisagrees(in Input) bool {
	d := in.Indicators.DirectionScore
	if math.Abs(d) < c.cfg.ContradictDirection {
		return false
	}
	p := in.Probabilities
	if d > 0 {
		return p[2] > p[0]
	}
	return p[0] > p[2]
}

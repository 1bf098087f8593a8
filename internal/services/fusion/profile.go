package fusion

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultProfileName is the profile used when a request names none.
const DefaultProfileName = "default"

// Weight table component names.
const (
	CompMomentum      = "momentum"
	CompJuice         = "juice_pressure"
	CompStack         = "stack_factor"
	CompSmartMoney    = "smart_money"
	CompMoneyWeight   = "money_weight"
	CompDirection     = "direction"
	CompConsistency   = "consistency"
	CompSharpness     = "sharpness"
	CompTrapFree      = "trap_free"
	CompFlowPower     = "flow_power"
	CompConfidence    = "confidence"
	CompDivergence    = "divergence"
	CompSpike         = "spike_penalty"
	CompMismatch      = "mismatch_penalty"
	CompTrapScore     = "trap_score"
	FlagJuice         = "juice_pressure"
	FlagStacking      = "stacking"
	FlagDivergence    = "divergence"
	FlagStrongLine    = "strong_line_move"
	FlagSideImbalance = "side_imbalance"
)

// ReboundBand maps relative moves below Upper to a rebound sensitivity.
type ReboundBand struct {
	Upper       float64 `yaml:"upper" json:"upper"`
	Sensitivity float64 `yaml:"sensitivity" json:"sensitivity"`
}

// Thresholds are the non-weight constants of a profile.
type Thresholds struct {
	ReboundFloor        float64 `yaml:"rebound_floor" json:"rebound_floor"`
	ReboundBase         float64 `yaml:"rebound_base" json:"rebound_base"`
	SignFlips           int     `yaml:"sign_flips" json:"sign_flips"`
	Juice               float64 `yaml:"juice" json:"juice"`
	Stacking            float64 `yaml:"stacking" json:"stacking"`
	StackingMinLines    int     `yaml:"stacking_min_lines" json:"stacking_min_lines"`
	Divergence          float64 `yaml:"divergence" json:"divergence"`
	StrongLineMove      float64 `yaml:"strong_line_move" json:"strong_line_move"`
	SideImbalance       float64 `yaml:"side_imbalance" json:"side_imbalance"`
	MomentumScale       float64 `yaml:"momentum_scale" json:"momentum_scale"`
	DivergenceScale     float64 `yaml:"divergence_scale" json:"divergence_scale"`
	TrimFraction        float64 `yaml:"trim_fraction" json:"trim_fraction"`
	TrapDampening       float64 `yaml:"trap_dampening" json:"trap_dampening"`
	UnlearnedConfidence float64 `yaml:"unlearned_confidence_factor" json:"unlearned_confidence_factor"`
}

// Profile is a named, versioned set of fusion coefficients.
type Profile struct {
	Name       string             `yaml:"name" json:"name"`
	Version    int                `yaml:"version" json:"version"`
	FlowPower  map[string]float64 `yaml:"flow_power" json:"flow_power"`
	Confidence map[string]float64 `yaml:"confidence" json:"confidence"`
	Composite  map[string]float64 `yaml:"composite" json:"composite"`
	SmartMoney map[string]float64 `yaml:"smart_money" json:"smart_money"`
	Rebound    []ReboundBand      `yaml:"rebound" json:"rebound"`
	Thresholds Thresholds         `yaml:"thresholds" json:"thresholds"`
}

func DefaultProfile() Profile {
	return Profile{
		Name:    DefaultProfileName,
		Version: 1,
		FlowPower: map[string]float64{
			CompMomentum:    0.30,
			CompJuice:       0.15,
			CompStack:       0.15,
			CompSmartMoney:  0.20,
			CompMoneyWeight: 0.10,
			CompDirection:   0.10,
		},
		Confidence: map[string]float64{
			CompConsistency: 0.20,
			CompStack:       0.15,
			CompDirection:   0.20,
			CompSmartMoney:  0.15,
			CompSharpness:   0.15,
			CompTrapFree:    0.15,
		},
		Composite: map[string]float64{
			CompFlowPower:  0.30,
			CompConfidence: 0.25,
			CompSmartMoney: 0.15,
			CompJuice:      0.10,
			CompStack:      0.10,
			CompDivergence: -0.15,
			CompSpike:      -0.15,
			CompMismatch:   -0.20,
			CompTrapScore:  -0.25,
		},
		SmartMoney: map[string]float64{
			FlagJuice:         0.25,
			FlagStacking:      0.20,
			FlagDivergence:    0.20,
			FlagStrongLine:    0.20,
			FlagSideImbalance: 0.15,
		},
		Rebound: []ReboundBand{
			{Upper: 0.02, Sensitivity: 0.025},
			{Upper: 0.05, Sensitivity: 0.02},
			{Upper: 0.10, Sensitivity: 0.015},
		},
		Thresholds: Thresholds{
			ReboundFloor:        0.01,
			ReboundBase:         0.01,
			SignFlips:           2,
			Juice:               0.35,
			Stacking:            0.66,
			StackingMinLines:    2,
			Divergence:          0.15,
			StrongLineMove:      0.06,
			SideImbalance:       0.10,
			MomentumScale:       0.5,
			DivergenceScale:     0.3,
			TrimFraction:        0.10,
			TrapDampening:       0.28,
			UnlearnedConfidence: 0.7,
		},
	}
}

// Validate checks the band table and bounded constants.
func (p Profile) Validate() error {
	if p.Name == "" {
		return errors.New("profile: name is required")
	}
	if len(p.FlowPower) == 0 || len(p.Confidence) == 0 || len(p.Composite) == 0 {
		return fmt.Errorf("profile %s: weight tables are required", p.Name)
	}
	if !sort.SliceIsSorted(p.Rebound, func(i, j int) bool { return p.Rebound[i].Upper < p.Rebound[j].Upper }) {
		return fmt.Errorf("profile %s: rebound bands must be ordered by upper bound", p.Name)
	}
	t := p.Thresholds
	if t.TrapDampening < 0 || t.TrapDampening > 1 {
		return fmt.Errorf("profile %s: trap_dampening must be in [0,1]", p.Name)
	}
	if t.UnlearnedConfidence < 0 || t.UnlearnedConfidence > 1 {
		return fmt.Errorf("profile %s: unlearned_confidence_factor must be in [0,1]", p.Name)
	}
	if t.TrimFraction < 0 || t.TrimFraction >= 0.5 {
		return fmt.Errorf("profile %s: trim_fraction must be in [0,0.5)", p.Name)
	}
	if t.SignFlips < 1 {
		return fmt.Errorf("profile %s: sign_flips must be positive", p.Name)
	}
	return nil
}

// Merge fills zero-valued fields of p from base so YAML profiles only
// need to name what they change.
func (p Profile) Merge(base Profile) Profile {
	out := p
	out.FlowPower = mergeWeights(base.FlowPower, p.FlowPower)
	out.Confidence = mergeWeights(base.Confidence, p.Confidence)
	out.Composite = mergeWeights(base.Composite, p.Composite)
	out.SmartMoney = mergeWeights(base.SmartMoney, p.SmartMoney)
	if len(out.Rebound) == 0 {
		out.Rebound = append([]ReboundBand(nil), base.Rebound...)
	}
	if out.Version == 0 {
		out.Version = base.Version
	}
	bt, t := base.Thresholds, &out.Thresholds
	fill := func(dst *float64, v float64) {
		if *dst == 0 {
			*dst = v
		}
	}
	fill(&t.ReboundFloor, bt.ReboundFloor)
	fill(&t.ReboundBase, bt.ReboundBase)
	fill(&t.Juice, bt.Juice)
	fill(&t.Stacking, bt.Stacking)
	fill(&t.Divergence, bt.Divergence)
	fill(&t.StrongLineMove, bt.StrongLineMove)
	fill(&t.SideImbalance, bt.SideImbalance)
	fill(&t.MomentumScale, bt.MomentumScale)
	fill(&t.DivergenceScale, bt.DivergenceScale)
	fill(&t.TrimFraction, bt.TrimFraction)
	fill(&t.TrapDampening, bt.TrapDampening)
	fill(&t.UnlearnedConfidence, bt.UnlearnedConfidence)
	if t.SignFlips == 0 {
		t.SignFlips = bt.SignFlips
	}
	if t.StackingMinLines == 0 {
		t.StackingMinLines = bt.StackingMinLines
	}
	return out
}

func mergeWeights(base, over map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// Registry resolves profiles by name.
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry merges every profile over the built-in default and
// validates it. A profile named "default" replaces the built-in one.
func NewRegistry(profiles ...Profile) (*Registry, error) {
	r := &Registry{profiles: map[string]Profile{DefaultProfileName: DefaultProfile()}}
	for _, p := range profiles {
		merged := p.Merge(r.profiles[DefaultProfileName])
		if err := merged.Validate(); err != nil {
			return nil, err
		}
		r.profiles[merged.Name] = merged
	}
	return r, nil
}

// Get returns the named profile, falling back to the default.
func (r *Registry) Get(name string) (Profile, bool) {
	if p, ok := r.profiles[name]; ok {
		return p, true
	}
	return r.profiles[DefaultProfileName], false
}

// Names lists the registered profiles in lexical order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.profiles))
	for n := range r.profiles {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

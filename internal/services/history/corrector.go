package history

import (
	"context"
	"fmt"
	"math"

	"LinePulse/internal/domain/models"
	domrepo "LinePulse/internal/domain/repository"
)

// Config holds the similarity search constants.
type Config struct {
	Window        int     `yaml:"window" default:"120"`
	LabelDiscount float64 `yaml:"label_discount" default:"0.6"`
	Gain          float64 `yaml:"gain" default:"0.5"`
	MaxCorrection float64 `yaml:"max_correction" default:"0.2"`
}

func DefaultConfig() Config {
	return Config{Window: 120, LabelDiscount: 0.6, Gain: 0.5, MaxCorrection: 0.2}
}

// Probe is what the corrector compares between the current and past cases.
type Probe struct {
	MainMomentum float64
	SubMomentum  float64
	Label        string
}

// ProbeOf extracts the comparison features of a stored analysis.
func ProbeOf(a *models.AnalysisResult) Probe {
	return Probe{
		MainMomentum: a.Indicators.MainMomentum,
		SubMomentum:  a.Indicators.SubMomentum,
		Label:        a.Verdict.Label,
	}
}

// Corrector nudges the leading outcome by the mean similarity of the
// current case to the recent case log.
type Corrector struct {
	store domrepo.LearningStore
	cfg   Config
}

func New(store domrepo.LearningStore, cfg Config) *Corrector {
	return &Corrector{store: store, cfg: cfg}
}

// Similarity of two cases; differing labels are discounted.
func (c *Corrector) Similarity(cur, past Probe) float64 {
	d := math.Abs(cur.SubMomentum-past.SubMomentum) + math.Abs(cur.MainMomentum-past.MainMomentum)
	s := 1 / (1 + d)
	if cur.Label != past.Label {
		s *= c.cfg.LabelDiscount
	}
	return s
}

// Factor maps a mean similarity to a bounded multiplicative correction.
func (c *Corrector) Factor(meanSimilarity float64) float64 {
	f := (meanSimilarity - 0.5) * c.cfg.Gain
	return math.Min(c.cfg.MaxCorrection, math.Max(-c.cfg.MaxCorrection, f))
}

// Correct loads the recent cases and applies the correction to p.
func (c *Corrector) Correct(ctx context.Context, cur Probe, p models.Probabilities) (models.Probabilities, models.Correction, error) {
	corr := models.Correction{Leading: p.Leading()}
	entries, err := c.store.QueryRecent(ctx, domrepo.LogCases, "", c.cfg.Window)
	if err != nil {
		return p, corr, fmt.Errorf("query case log: %w", err)
	}
	cases := domrepo.DecodeEntries[models.CaseRecord](entries)
	if len(cases) == 0 {
		return p, corr, nil
	}
	total := 0.0
	for i := range cases {
		total += c.Similarity(cur, ProbeOf(&cases[i].Analysis))
	}
	corr.Cases = len(cases)
	corr.MeanSimilarity = total / float64(len(cases))
	corr.Factor = c.Factor(corr.MeanSimilarity)
	return Apply(p, corr.Factor), corr, nil
}

// Apply scales the leading outcome by (1+factor) and renormalizes.
func Apply(p models.Probabilities, factor float64) models.Probabilities {
	if factor == 0 {
		return p
	}
	out := p
	i := p.Leading().Index()
	out[i] *= 1 + factor
	sum := out.Sum()
	if sum <= 0 {
		return p
	}
	for j := range out {
		out[j] /= sum
	}
	return out
}

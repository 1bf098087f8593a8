package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"LinePulse/internal/domain/models"
	domrepo "LinePulse/internal/domain/repository"
	domsvc "LinePulse/internal/domain/service"
	"LinePulse/internal/services/autotune"
	"LinePulse/internal/services/baseline"
	"LinePulse/internal/services/classifier"
	"LinePulse/internal/services/features"
	"LinePulse/internal/services/fusion"
	"LinePulse/internal/services/history"
	"LinePulse/internal/services/patterns"
	"LinePulse/pkg/logger"
	"LinePulse/pkg/util"

	"github.com/google/uuid"
)

// Baseline signal keys.
const (
	KeyMomentum   = "momentum_total"
	KeyDivergence = "divergence"
)

// CaseKey is the record key of a persisted case.
func CaseKey(id string) string { return "case:" + id }

// AnalyzerConfig blends the market and simulated views and bounds the
// contextual nudge.
type AnalyzerConfig struct {
	SimulationWeight float64 `yaml:"simulation_weight" default:"0.3"`
	ContextShift     float64 `yaml:"context_shift" default:"0.05"`
}

func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{SimulationWeight: 0.3, ContextShift: 0.05}
}

// Analyzer runs one synchronous pass of the fusion pipeline and records
// the case for later feedback.
type Analyzer struct {
	store       domrepo.LearningStore
	baselines   *baseline.Store
	simulator   domsvc.OutcomeSimulator
	profiles    *fusion.Registry
	patterns    *patterns.Memory
	corrector   *history.Corrector
	classifier  *classifier.Classifier
	tuner       *autotune.Tuner
	publisher   domrepo.CasePublisher
	broadcaster domrepo.VerdictBroadcaster
	metrics     domrepo.Metrics
	log         *logger.Logger
	cfg         AnalyzerConfig
	now         func() time.Time
	newID       func() string
}

type AnalyzerOption func(*Analyzer)

func WithAnalyzerConfig(cfg AnalyzerConfig) AnalyzerOption {
	return func(a *Analyzer) { a.cfg = cfg }
}

func WithCasePublisher(p domrepo.CasePublisher) AnalyzerOption {
	return func(a *Analyzer) { a.publisher = p }
}

func WithVerdictBroadcaster(b domrepo.VerdictBroadcaster) AnalyzerOption {
	return func(a *Analyzer) { a.broadcaster = b }
}

func WithAnalyzerMetrics(m domrepo.Metrics) AnalyzerOption {
	return func(a *Analyzer) {
		if m != nil {
			a.metrics = m
		}
	}
}

func WithAnalyzerClock(now func() time.Time) AnalyzerOption {
	return func(a *Analyzer) { a.now = now }
}

func WithCaseIDs(gen func() string) AnalyzerOption {
	return func(a *Analyzer) { a.newID = gen }
}

func NewAnalyzer(
	store domrepo.LearningStore,
	baselines *baseline.Store,
	simulator domsvc.OutcomeSimulator,
	profiles *fusion.Registry,
	memory *patterns.Memory,
	corrector *history.Corrector,
	cls *classifier.Classifier,
	tuner *autotune.Tuner,
	log *logger.Logger,
	opts ...AnalyzerOption,
) *Analyzer {
	if log == nil {
		log = logger.Nop()
	}
	a := &Analyzer{
		store:      store,
		baselines:  baselines,
		simulator:  simulator,
		profiles:   profiles,
		patterns:   memory,
		corrector:  corrector,
		classifier: cls,
		tuner:      tuner,
		metrics:    domrepo.NoopMetrics{},
		log:        log,
		cfg:        DefaultAnalyzerConfig(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze never fails because the learning store is down; store problems
// only mark the result unlearned.
func (a *Analyzer) Analyze(ctx context.Context, req *models.AnalysisRequest) (*models.AnalysisResult, error) {
	if req == nil {
		return nil, fmt.Errorf("analyze: nil request")
	}
	start := time.Now()
	profile, _ := a.profiles.Get(req.Profile)

	res := &models.AnalysisResult{
		CaseID:     a.newID(),
		MatchKey:   req.MatchKey,
		Home:       req.Home,
		Away:       req.Away,
		Profile:    profile.Name,
		AnalyzedAt: a.now(),
	}
	if req.Kickoff != "" {
		if ts, ok := util.ParseTime(req.Kickoff); ok {
			ts = ts.UTC()
			res.Kickoff = &ts
		}
	}

	res.Extraction = features.ExtractRequest(req)
	res.Indicators = profile.Indicators(res.Extraction)
	res.Baseline = a.baselineView(ctx, res.Indicators)
	res.Unlearned = !res.Baseline.Learned
	a.learnBaselines(ctx, res)

	res.Simulation = a.simulator.Simulate(res.Extraction.Implied, req.Trials)
	res.Scores = profile.Score(res.Indicators, res.Baseline, res.Simulation)

	probs := a.blend(res.Extraction, res.Simulation)
	probs = a.applyContext(probs, req.Context)

	provisional := a.classifier.Classify(a.classifierInput(res, probs))
	probs = a.recall(ctx, res, provisional, probs)

	corrected, corr, err := a.corrector.Correct(ctx, history.Probe{
		MainMomentum: res.Indicators.MainMomentum,
		SubMomentum:  res.Indicators.SubMomentum,
		Label:        provisional.Label,
	}, probs)
	if err != nil {
		a.degraded("history", err)
		res.Unlearned = true
	}
	res.Correction = corr
	res.Probabilities = corrected
	res.Verdict = a.classifier.Classify(a.classifierInput(res, corrected))

	a.persist(ctx, req, res)

	if ev, err := a.tuner.MaybeRun(ctx); err != nil {
		a.log.Warn("autotune failed", logger.Error(err))
	} else {
		res.Autotune = ev
	}

	a.metrics.RecordAnalysis(res.Verdict.State, res.Indicators.TrapFlag)
	a.metrics.RecordLatency("analysis", time.Since(start).Seconds())
	if a.broadcaster != nil {
		a.broadcaster.BroadcastVerdict(res)
	}
	a.log.Debug("analysis complete",
		logger.String("case_id", res.CaseID),
		logger.String("match_key", res.MatchKey),
		logger.String("state", res.Verdict.State),
		logger.Float64("composite", res.Scores.Composite),
		logger.Duration("took", time.Since(start)),
	)
	return res, nil
}

func (a *Analyzer) baselineView(ctx context.Context, ind models.Indicators) models.BaselineView {
	momentum, alpha, learnedM := a.baselines.Get(ctx, KeyMomentum, ind.MomentumTotal, 0)
	divergence, _, learnedD := a.baselines.Get(ctx, KeyDivergence, ind.Divergence, 0)
	view := models.BaselineView{
		Momentum:   momentum,
		Divergence: divergence,
		Alpha:      alpha,
		Learned:    learnedM && learnedD,
	}
	motion, err := a.baselines.Velocity(ctx, KeyMomentum)
	if err != nil {
		a.degraded("baseline_velocity", err)
		view.Learned = false
		return view
	}
	view.Velocity = motion.Velocity
	view.Acceleration = motion.Acceleration
	view.MoneyWeight = motion.MoneyWeight
	return view
}

func (a *Analyzer) learnBaselines(ctx context.Context, res *models.AnalysisResult) {
	samples := []struct {
		key string
		v   float64
	}{
		{KeyMomentum, res.Indicators.MomentumTotal},
		{KeyDivergence, res.Indicators.Divergence},
	}
	for _, s := range samples {
		if _, err := a.baselines.Update(ctx, s.key, s.v); err != nil {
			a.degraded("baseline_update", err)
			res.Unlearned = true
		}
	}
}

// blend mixes the market implied vector with the simulated distribution.
// An unpriced market falls back to the simulation alone.
func (a *Analyzer) blend(ex models.Extraction, sim models.Simulation) models.Probabilities {
	w := math.Min(1, math.Max(0, a.cfg.SimulationWeight))
	if !ex.Priced {
		w = 1
	}
	var mixed [3]float64
	for i := range mixed {
		mixed[i] = (1-w)*ex.Implied[i] + w*sim.Distribution[i]
	}
	out, ok := features.Normalize(mixed)
	if !ok {
		return ex.Implied
	}
	return out
}

// applyContext moves up to ContextShift of relative mass between home and
// away according to the caller's lineup and injury scalars.
func (a *Analyzer) applyContext(p models.Probabilities, c models.ContextAdjustments) models.Probabilities {
	impact := (c.LineupImpact + c.InjuryImpact) / 2
	if impact == 0 || math.IsNaN(impact) {
		return p
	}
	shift := math.Max(-1, math.Min(1, impact)) * a.cfg.ContextShift
	adjusted := [3]float64{p[0] * (1 + shift), p[1], p[2] * (1 - shift)}
	out, ok := features.Normalize(adjusted)
	if !ok {
		return p
	}
	return out
}

func (a *Analyzer) classifierInput(res *models.AnalysisResult, p models.Probabilities) classifier.Input {
	return classifier.Input{
		Indicators:    res.Indicators,
		Scores:        res.Scores,
		Probabilities: p,
		Lines:         len(res.Extraction.Lines),
	}
}

// recall consults pattern memory for the provisional verdict's signature.
func (a *Analyzer) recall(ctx context.Context, res *models.AnalysisResult, provisional models.Verdict, p models.Probabilities) models.Probabilities {
	sig := patterns.Signature(patterns.Features(res.Indicators, provisional.State, provisional.Favored))
	res.Pattern = models.PatternInsight{Signature: sig}
	rec, found, err := a.patterns.Lookup(ctx, sig)
	if err != nil {
		a.degraded("pattern_lookup", err)
		res.Unlearned = true
		return p
	}
	if !found {
		return p
	}
	res.Pattern.Found = true
	res.Pattern.Count = rec.Count
	res.Pattern.WinRate = rec.WinRate
	blended, applied := a.patterns.Blend(p, provisional.Favored, rec)
	res.Pattern.Applied = applied
	return blended
}

func (a *Analyzer) persist(ctx context.Context, req *models.AnalysisRequest, res *models.AnalysisResult) {
	rec := &models.CaseRecord{
		ID:        res.CaseID,
		MatchKey:  res.MatchKey,
		Input:     *req,
		Analysis:  *res,
		Timestamp: res.AnalyzedAt,
	}
	if err := domrepo.PutJSON(ctx, a.store, CaseKey(rec.ID), rec); err != nil {
		a.degraded("case_put", err)
		res.Unlearned = true
		return
	}
	if err := domrepo.AppendJSON(ctx, a.store, domrepo.LogCases, rec.MatchKey, rec, rec.Timestamp); err != nil {
		a.degraded("case_append", err)
		res.Unlearned = true
	}
	if a.publisher != nil {
		if err := a.publisher.PublishCase(ctx, rec); err != nil {
			a.metrics.RecordError("case_publish")
			a.log.Warn("case publish failed", logger.String("case_id", rec.ID), logger.Error(err))
		}
	}
}

func (a *Analyzer) degraded(stage string, err error) {
	a.metrics.RecordError(stage)
	a.log.Warn("learning store degraded", logger.String("stage", stage), logger.Error(err))
}

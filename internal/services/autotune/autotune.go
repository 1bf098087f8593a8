package autotune

import (
	"context"
	"errors"
	"fmt"
	"time"

	"LinePulse/internal/domain/models"
	domrepo "LinePulse/internal/domain/repository"
	"LinePulse/internal/domain/service"
	"LinePulse/pkg/lock"
	"LinePulse/pkg/logger"
)

const (
	counterKey = "feedback:confirmed"
	stateKey   = "autotune:state"

	ReasonAbove = "win_rate_above_upper"
	ReasonBelow = "win_rate_below_lower"
)

// Config controls when and how far the target alpha moves.
type Config struct {
	TargetKey    string  `yaml:"target_key" default:"momentum_total"`
	MinConfirmed int64   `yaml:"min_confirmed" default:"20"`
	Every        int64   `yaml:"every" default:"10"`
	TopN         int     `yaml:"top_n" default:"10"`
	Upper        float64 `yaml:"upper" default:"0.6"`
	Lower        float64 `yaml:"lower" default:"0.4"`
	Step         float64 `yaml:"step" default:"0.05"`
}

func DefaultConfig() Config {
	return Config{TargetKey: "momentum_total", MinConfirmed: 20, Every: 10, TopN: 10, Upper: 0.6, Lower: 0.4, Step: 0.05}
}

// AlphaShifter moves the smoothing factor of a baseline.
type AlphaShifter interface {
	ShiftAlpha(ctx context.Context, key string, delta float64) (oldAlpha, newAlpha float64, err error)
}

type state struct {
	LastConfirmed int64 `json:"last_confirmed"`
}

// Tuner recalibrates a baseline alpha from aggregate pattern win rates
// once enough outcomes have been confirmed.
type Tuner struct {
	store    domrepo.LearningStore
	alphas   AlphaShifter
	patterns service.PatternMemory
	locks    *lock.Keyed
	cfg      Config
	log      *logger.Logger
	metrics  domrepo.Metrics
	now      func() time.Time
}

type Option func(*Tuner)

func WithConfig(cfg Config) Option {
	return func(t *Tuner) { t.cfg = cfg }
}

func WithMetrics(m domrepo.Metrics) Option {
	return func(t *Tuner) {
		if m != nil {
			t.metrics = m
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Tuner) { t.now = now }
}

func WithLocks(l *lock.Keyed) Option {
	return func(t *Tuner) {
		if l != nil {
			t.locks = l
		}
	}
}

func New(store domrepo.LearningStore, alphas AlphaShifter, patterns service.PatternMemory, log *logger.Logger, opts ...Option) *Tuner {
	if log == nil {
		log = logger.Nop()
	}
	t := &Tuner{
		store:    store,
		alphas:   alphas,
		patterns: patterns,
		locks:    lock.NewKeyed(),
		cfg:      DefaultConfig(),
		log:      log,
		metrics:  domrepo.NoopMetrics{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.cfg.Every <= 0 {
		t.cfg.Every = 1
	}
	return t
}

// Confirmed returns the number of confirmed outcomes so far.
func (t *Tuner) Confirmed(ctx context.Context) (int64, error) {
	n, err := domrepo.GetJSON[int64](ctx, t.store, counterKey)
	if errors.Is(err, domrepo.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load confirmed counter: %w", err)
	}
	return n, nil
}

// RecordConfirmation increments the confirmed-outcome counter.
func (t *Tuner) RecordConfirmation(ctx context.Context) (int64, error) {
	unlock := t.locks.Lock(counterKey)
	defer unlock()
	n, err := t.Confirmed(ctx)
	if err != nil {
		return 0, err
	}
	n++
	if err := domrepo.PutJSON(ctx, t.store, counterKey, n); err != nil {
		return 0, fmt.Errorf("save confirmed counter: %w", err)
	}
	return n, nil
}

// Due reports whether a run is scheduled at confirmed.
func (t *Tuner) Due(confirmed int64) bool {
	if confirmed < t.cfg.MinConfirmed {
		return false
	}
	return (confirmed-t.cfg.MinConfirmed)%t.cfg.Every == 0
}

// MaybeRun recalibrates when the confirmed count sits on a schedule point
// that has not been processed yet. It returns nil when nothing changed.
func (t *Tuner) MaybeRun(ctx context.Context) (*models.AutotuneEvent, error) {
	unlock := t.locks.Lock(stateKey)
	defer unlock()

	confirmed, err := t.Confirmed(ctx)
	if err != nil {
		return nil, err
	}
	if !t.Due(confirmed) {
		return nil, nil
	}
	st, err := domrepo.GetJSON[state](ctx, t.store, stateKey)
	if err != nil && !errors.Is(err, domrepo.ErrNotFound) {
		return nil, fmt.Errorf("load autotune state: %w", err)
	}
	if st.LastConfirmed >= confirmed {
		return nil, nil
	}
	// mark the point as processed before adjusting so concurrent callers skip it
	if err := domrepo.PutJSON(ctx, t.store, stateKey, state{LastConfirmed: confirmed}); err != nil {
		return nil, fmt.Errorf("save autotune state: %w", err)
	}

	top, err := t.patterns.Top(ctx, t.cfg.TopN)
	if err != nil {
		return nil, fmt.Errorf("load top patterns: %w", err)
	}
	if len(top) == 0 {
		return nil, nil
	}
	avg := 0.0
	for _, p := range top {
		avg += p.WinRate
	}
	avg /= float64(len(top))

	var delta float64
	var reason string
	switch {
	case avg > t.cfg.Upper:
		delta, reason = t.cfg.Step, ReasonAbove
	case avg < t.cfg.Lower:
		delta, reason = -t.cfg.Step, ReasonBelow
	default:
		t.log.Debug("autotune within band", logger.Float64("avg_win_rate", avg), logger.Int64("confirmed", confirmed))
		return nil, nil
	}

	oldAlpha, newAlpha, err := t.alphas.ShiftAlpha(ctx, t.cfg.TargetKey, delta)
	if err != nil {
		return nil, fmt.Errorf("shift alpha: %w", err)
	}
	ev := &models.AutotuneEvent{
		Key:        t.cfg.TargetKey,
		OldAlpha:   oldAlpha,
		NewAlpha:   newAlpha,
		AvgWinRate: avg,
		Patterns:   len(top),
		Confirmed:  confirmed,
		Reason:     reason,
		At:         t.now(),
	}
	if err := domrepo.AppendJSON(ctx, t.store, domrepo.LogAutotune, t.cfg.TargetKey, ev, ev.At); err != nil {
		return ev, fmt.Errorf("append autotune audit: %w", err)
	}
	t.metrics.RecordAutotune(reason)
	t.log.Info("autotune adjusted alpha",
		logger.String("key", ev.Key),
		logger.Float64("old_alpha", oldAlpha),
		logger.Float64("new_alpha", newAlpha),
		logger.Float64("avg_win_rate", avg),
		logger.String("reason", reason),
	)
	return ev, nil
}

// History returns the most recent audit events, oldest first.
func (t *Tuner) History(ctx context.Context, n int) ([]models.AutotuneEvent, error) {
	entries, err := t.store.QueryRecent(ctx, domrepo.LogAutotune, "", n)
	if err != nil {
		return nil, fmt.Errorf("query autotune log: %w", err)
	}
	return domrepo.DecodeEntries[models.AutotuneEvent](entries), nil
}

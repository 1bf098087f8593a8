package baseline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"LinePulse/internal/domain/models"
	domrepo "LinePulse/internal/domain/repository"
	"LinePulse/pkg/lock"
	"LinePulse/pkg/logger"
)

const (
	MinAlpha = 0.01
	MaxAlpha = 0.9

	keyPrefix   = "baseline:"
	volEpsilon  = 1e-9
	minInterval = time.Second
)

// Config holds the tuning constants of the adaptive baselines.
type Config struct {
	DefaultAlpha   float64 `yaml:"default_alpha" default:"0.2"`
	Window         int     `yaml:"window" default:"36"`
	MinSamples     int     `yaml:"min_samples" default:"8"`
	K              float64 `yaml:"k" default:"0.64"`
	VelocityWeight float64 `yaml:"velocity_weight" default:"0.5"`
	AccelWeight    float64 `yaml:"accel_weight" default:"0.25"`
}

func DefaultConfig() Config {
	return Config{DefaultAlpha: 0.2, Window: 36, MinSamples: 8, K: 0.64, VelocityWeight: 0.5, AccelWeight: 0.25}
}

// Motion is the short-horizon rate of change of a baseline signal.
type Motion struct {
	Velocity     float64 `json:"velocity"`
	Acceleration float64 `json:"acceleration"`
	MoneyWeight  float64 `json:"money_weight"`
	Samples      int     `json:"samples"`
}

// Store keeps one EWMA record per signal key on top of a LearningStore
// and retunes each key's alpha from the variance of its recent samples.
type Store struct {
	store   domrepo.LearningStore
	locks   *lock.Keyed
	cfg     Config
	log     *logger.Logger
	metrics domrepo.Metrics
	now     func() time.Time
}

type Option func(*Store)

func WithConfig(cfg Config) Option {
	return func(s *Store) { s.cfg = cfg }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithMetrics(m domrepo.Metrics) Option {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithLocks(l *lock.Keyed) Option {
	return func(s *Store) {
		if l != nil {
			s.locks = l
		}
	}
}

func New(store domrepo.LearningStore, log *logger.Logger, opts ...Option) *Store {
	if log == nil {
		log = logger.Nop()
	}
	s := &Store{
		store:   store,
		locks:   lock.NewKeyed(),
		cfg:     DefaultConfig(),
		log:     log,
		metrics: domrepo.NoopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cfg.DefaultAlpha = ClampAlpha(s.cfg.DefaultAlpha)
	return s
}

// ClampAlpha bounds a smoothing factor to [MinAlpha, MaxAlpha].
func ClampAlpha(a float64) float64 {
	if math.IsNaN(a) {
		return MinAlpha
	}
	return math.Min(MaxAlpha, math.Max(MinAlpha, a))
}

func recordKey(key string) string { return keyPrefix + key }

// Get returns the current value and alpha of key, creating the record
// from fallback/defaultAlpha when absent. When the backing store fails the
// fallback is returned with learned=false.
func (s *Store) Get(ctx context.Context, key string, fallback, defaultAlpha float64) (value, alpha float64, learned bool) {
	unlock := s.locks.Lock(recordKey(key))
	defer unlock()

	rec, err := s.load(ctx, key)
	switch {
	case errors.Is(err, domrepo.ErrNotFound):
		rec = s.fresh(key, fallback, defaultAlpha)
		if err := domrepo.PutJSON(ctx, s.store, recordKey(key), rec); err != nil {
			s.degraded(key, err)
			return fallback, rec.Alpha, false
		}
		return rec.Value, rec.Alpha, false
	case err != nil:
		s.degraded(key, err)
		return fallback, ClampAlpha(defaultAlpha), false
	}
	return rec.Value, rec.Alpha, rec.Samples > 0
}

// Record returns the stored record of key.
func (s *Store) Record(ctx context.Context, key string) (models.BaselineRecord, error) {
	return s.load(ctx, key)
}

// Update folds sample into the EWMA of key, appends it to the sample log
// and retunes alpha to the volatility-derived value plus the record's
// AlphaBias. The first observation seeds the value.
func (s *Store) Update(ctx context.Context, key string, sample float64) (models.BaselineRecord, error) {
	if math.IsNaN(sample) || math.IsInf(sample, 0) {
		return models.BaselineRecord{}, fmt.Errorf("baseline %s: non-finite sample", key)
	}
	unlock := s.locks.Lock(recordKey(key))
	defer unlock()

	rec, err := s.load(ctx, key)
	switch {
	case errors.Is(err, domrepo.ErrNotFound):
		rec = s.fresh(key, sample, s.cfg.DefaultAlpha)
	case err != nil:
		return rec, fmt.Errorf("load baseline %s: %w", key, err)
	}

	now := s.now()
	if rec.Samples == 0 {
		rec.Value = sample
	} else {
		rec.Value = rec.Alpha*sample + (1-rec.Alpha)*rec.Value
	}
	rec.Samples++
	rec.UpdatedAt = now

	if err := domrepo.AppendJSON(ctx, s.store, domrepo.LogSamples, key, models.Sample{Value: sample, At: now}, now); err != nil {
		return rec, fmt.Errorf("append sample %s: %w", key, err)
	}
	if alpha, ok, err := s.retune(ctx, key); err != nil {
		s.log.Warn("baseline retune skipped", logger.String("key", key), logger.Error(err))
	} else if ok {
		rec.Alpha = ClampAlpha(alpha + rec.AlphaBias)
	}
	if err := domrepo.PutJSON(ctx, s.store, recordKey(key), rec); err != nil {
		return rec, fmt.Errorf("save baseline %s: %w", key, err)
	}
	s.metrics.RecordAlpha(key, rec.Alpha)
	return rec, nil
}

// SetAlpha overrides the smoothing factor of key and returns the previous
// and the stored value. The change is kept as bias across later retunes.
func (s *Store) SetAlpha(ctx context.Context, key string, alpha float64) (oldAlpha, newAlpha float64, err error) {
	return s.modifyAlpha(ctx, key, func(float64) float64 { return alpha })
}

// ShiftAlpha moves the smoothing factor of key by delta within bounds.
// The applied step survives later retunes.
func (s *Store) ShiftAlpha(ctx context.Context, key string, delta float64) (oldAlpha, newAlpha float64, err error) {
	return s.modifyAlpha(ctx, key, func(old float64) float64 { return old + delta })
}

func (s *Store) modifyAlpha(ctx context.Context, key string, fn func(float64) float64) (oldAlpha, newAlpha float64, err error) {
	unlock := s.locks.Lock(recordKey(key))
	defer unlock()

	rec, err := s.load(ctx, key)
	switch {
	case errors.Is(err, domrepo.ErrNotFound):
		rec = s.fresh(key, 0, s.cfg.DefaultAlpha)
	case err != nil:
		return 0, 0, fmt.Errorf("load baseline %s: %w", key, err)
	}
	oldAlpha = rec.Alpha
	rec.Alpha = ClampAlpha(fn(oldAlpha))
	rec.AlphaBias += rec.Alpha - oldAlpha
	rec.UpdatedAt = s.now()
	if err := domrepo.PutJSON(ctx, s.store, recordKey(key), rec); err != nil {
		return oldAlpha, oldAlpha, fmt.Errorf("save baseline %s: %w", key, err)
	}
	s.metrics.RecordAlpha(key, rec.Alpha)
	return oldAlpha, rec.Alpha, nil
}

// Velocity derives velocity, acceleration and the money weight of key
// from its last three samples. Samples closer than a second apart are
// treated as a second apart.
func (s *Store) Velocity(ctx context.Context, key string) (Motion, error) {
	entries, err := s.store.QueryRecent(ctx, domrepo.LogSamples, key, 3)
	if err != nil {
		return Motion{}, fmt.Errorf("query samples %s: %w", key, err)
	}
	samples := domrepo.DecodeEntries[models.Sample](entries)
	return MotionOf(samples, s.cfg.VelocityWeight, s.cfg.AccelWeight), nil
}

// MotionOf computes Motion from samples ordered oldest first.
func MotionOf(samples []models.Sample, velocityWeight, accelWeight float64) Motion {
	m := Motion{Samples: len(samples)}
	n := len(samples)
	if n < 2 {
		return m
	}
	rate := func(a, b models.Sample) (float64, float64) {
		dt := b.At.Sub(a.At)
		if dt < minInterval {
			dt = minInterval
		}
		sec := dt.Seconds()
		return (b.Value - a.Value) / sec, sec
	}
	v2, dt2 := rate(samples[n-2], samples[n-1])
	m.Velocity = v2
	if n >= 3 {
		v1, _ := rate(samples[n-3], samples[n-2])
		m.Acceleration = (v2 - v1) / dt2
	}
	w := velocityWeight*math.Abs(m.Velocity) + accelWeight*math.Max(m.Acceleration, 0)
	m.MoneyWeight = math.Min(1, math.Max(0, w))
	return m
}

// Volatility is the coefficient of variation of values clamped to [0,1].
func Volatility(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(len(values)))
	return math.Min(1, math.Max(0, std/(math.Abs(mean)+volEpsilon)))
}

// TunedAlpha maps a volatility to a smoothing factor.
func TunedAlpha(volatility, k float64) float64 {
	return ClampAlpha(0.02 + volatility*k)
}

func (s *Store) retune(ctx context.Context, key string) (float64, bool, error) {
	entries, err := s.store.QueryRecent(ctx, domrepo.LogSamples, key, s.cfg.Window)
	if err != nil {
		return 0, false, err
	}
	if len(entries) < s.cfg.MinSamples {
		return 0, false, nil
	}
	samples := domrepo.DecodeEntries[models.Sample](entries)
	values := make([]float64, 0, len(samples))
	for _, smp := range samples {
		values = append(values, smp.Value)
	}
	return TunedAlpha(Volatility(values), s.cfg.K), true, nil
}

func (s *Store) load(ctx context.Context, key string) (models.BaselineRecord, error) {
	return domrepo.GetJSON[models.BaselineRecord](ctx, s.store, recordKey(key))
}

func (s *Store) fresh(key string, value, alpha float64) models.BaselineRecord {
	if alpha <= 0 {
		alpha = s.cfg.DefaultAlpha
	}
	return models.BaselineRecord{Key: key, Value: value, Alpha: ClampAlpha(alpha), UpdatedAt: s.now()}
}

func (s *Store) degraded(key string, err error) {
	s.metrics.RecordError("baseline_store")
	s.log.Warn("baseline store unavailable, using fallback", logger.String("key", key), logger.Error(err))
}

package patterns

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"LinePulse/internal/domain/models"
	domrepo "LinePulse/internal/domain/repository"
	"LinePulse/internal/domain/service"
	"LinePulse/pkg/lock"
	"LinePulse/pkg/logger"
)

const (
	keyPrefix = "pattern:"
	indexKey  = "pattern-index"
)

// Config controls when a recurring signature is trusted.
type Config struct {
	MinCount    int     `yaml:"min_count" default:"3"`
	BlendWeight float64 `yaml:"blend_weight" default:"0.3"`
}

func DefaultConfig() Config {
	return Config{MinCount: 3, BlendWeight: 0.3}
}

// Memory keeps per-signature win-rate aggregates in a LearningStore.
type Memory struct {
	store domrepo.LearningStore
	locks *lock.Keyed
	cfg   Config
	log   *logger.Logger
	now   func() time.Time
}

type Option func(*Memory)

func WithConfig(cfg Config) Option {
	return func(m *Memory) { m.cfg = cfg }
}

func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

func WithLocks(l *lock.Keyed) Option {
	return func(m *Memory) {
		if l != nil {
			m.locks = l
		}
	}
}

func New(store domrepo.LearningStore, log *logger.Logger, opts ...Option) *Memory {
	if log == nil {
		log = logger.Nop()
	}
	m := &Memory{store: store, locks: lock.NewKeyed(), cfg: DefaultConfig(), log: log, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Signature hashes features in canonical form: keys sorted, each value
// tagged with its kind and floats printed with four decimals.
func Signature(features map[string]any) string {
	keys := make([]string, 0, len(features))
	for k := range features {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(canonical(features[k]))
		b.WriteByte(';')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func canonical(v any) string {
	switch x := v.(type) {
	case nil:
		return "n:"
	case string:
		return "s:" + x
	case bool:
		return "b:" + strconv.FormatBool(x)
	case int:
		return "i:" + strconv.FormatInt(int64(x), 10)
	case int64:
		return "i:" + strconv.FormatInt(x, 10)
	case int32:
		return "i:" + strconv.FormatInt(int64(x), 10)
	case uint:
		return "i:" + strconv.FormatUint(uint64(x), 10)
	case float32:
		return canonicalFloat(float64(x))
	case float64:
		return canonicalFloat(x)
	case fmt.Stringer:
		return "s:" + x.String()
	default:
		return fmt.Sprintf("x:%v", x)
	}
}

func canonicalFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "f:nan"
	case math.IsInf(f, 1):
		return "f:+inf"
	case math.IsInf(f, -1):
		return "f:-inf"
	}
	s := strconv.FormatFloat(f, 'f', 4, 64)
	if s == "-0.0000" {
		s = "0.0000"
	}
	return "f:" + s
}

// Features buckets the signals of one analysis into a signature input.
func Features(ind models.Indicators, state string, favored models.Outcome) map[string]any {
	bucket := func(v float64) float64 { return math.Round(v*10) / 10 }
	dir := 0
	switch {
	case ind.DirectionScore > 0.1:
		dir = 1
	case ind.DirectionScore < -0.1:
		dir = -1
	}
	return map[string]any{
		"state":       state,
		"favored":     string(favored),
		"trap":        ind.TrapFlag,
		"direction":   dir,
		"stack":       bucket(ind.StackFactor),
		"smart_money": bucket(ind.SmartMoneyScore),
		"juice":       bucket(ind.JuicePressure),
		"mismatch":    ind.MismatchPenalty > 0,
	}
}

func recordKey(sig string) string { return keyPrefix + sig }

func (m *Memory) Lookup(ctx context.Context, sig string) (models.PatternRecord, bool, error) {
	rec, err := domrepo.GetJSON[models.PatternRecord](ctx, m.store, recordKey(sig))
	if errors.Is(err, domrepo.ErrNotFound) {
		return models.PatternRecord{}, false, nil
	}
	if err != nil {
		return models.PatternRecord{}, false, fmt.Errorf("lookup pattern %s: %w", sig, err)
	}
	return rec, true, nil
}

// Learn folds one boolean outcome into the running win rate of sig.
func (m *Memory) Learn(ctx context.Context, sig string, won bool, metadata map[string]string) (models.PatternRecord, error) {
	unlock := m.locks.Lock(recordKey(sig))
	defer unlock()

	rec, found, err := m.Lookup(ctx, sig)
	if err != nil {
		return rec, err
	}
	outcome := 0.0
	if won {
		outcome = 1
	}
	if found {
		rec.WinRate = (rec.WinRate*float64(rec.Count) + outcome) / float64(rec.Count+1)
		rec.Count++
	} else {
		rec = models.PatternRecord{Signature: sig, Count: 1, WinRate: outcome}
	}
	rec.WinRate = math.Min(1, math.Max(0, rec.WinRate))
	rec.LastSeen = m.now()
	if len(metadata) > 0 {
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			rec.Metadata[k] = v
		}
	}
	if err := domrepo.PutJSON(ctx, m.store, recordKey(sig), rec); err != nil {
		return rec, fmt.Errorf("save pattern %s: %w", sig, err)
	}
	if !found {
		if err := m.index(ctx, sig); err != nil {
			m.log.Warn("pattern index update failed", logger.String("signature", sig), logger.Error(err))
		}
	}
	return rec, nil
}

func (m *Memory) index(ctx context.Context, sig string) error {
	unlock := m.locks.Lock(indexKey)
	defer unlock()
	sigs, err := domrepo.GetJSON[[]string](ctx, m.store, indexKey)
	if err != nil && !errors.Is(err, domrepo.ErrNotFound) {
		return err
	}
	for _, s := range sigs {
		if s == sig {
			return nil
		}
	}
	return domrepo.PutJSON(ctx, m.store, indexKey, append(sigs, sig))
}

// Top returns up to n patterns ordered by count, then win rate.
func (m *Memory) Top(ctx context.Context, n int) ([]models.PatternRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	sigs, err := domrepo.GetJSON[[]string](ctx, m.store, indexKey)
	if errors.Is(err, domrepo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pattern index: %w", err)
	}
	recs := make([]models.PatternRecord, 0, len(sigs))
	for _, sig := range sigs {
		rec, found, err := m.Lookup(ctx, sig)
		if err != nil {
			return nil, err
		}
		if found {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Count != recs[j].Count {
			return recs[i].Count > recs[j].Count
		}
		if recs[i].WinRate != recs[j].WinRate {
			return recs[i].WinRate > recs[j].WinRate
		}
		return recs[i].Signature < recs[j].Signature
	})
	if len(recs) > n {
		recs = recs[:n]
	}
	return recs, nil
}

// Blend pulls p toward the historical win rate of a recurring pattern.
// The favored outcome gets win_rate of the target mass and the rest is
// shared by the other outcomes in proportion to p.
func (m *Memory) Blend(p models.Probabilities, favored models.Outcome, rec models.PatternRecord) (models.Probabilities, bool) {
	idx := favored.Index()
	if idx < 0 || rec.Count < m.cfg.MinCount || m.cfg.BlendWeight <= 0 {
		return p, false
	}
	others := 0.0
	for i, v := range p {
		if i != idx {
			others += v
		}
	}
	var target models.Probabilities
	for i, v := range p {
		switch {
		case i == idx:
			target[i] = rec.WinRate
		case others > 0:
			target[i] = (1 - rec.WinRate) * v / others
		default:
			target[i] = (1 - rec.WinRate) / 2
		}
	}
	w := math.Min(1, m.cfg.BlendWeight)
	var out models.Probabilities
	sum := 0.0
	for i := range out {
		out[i] = (1-w)*p[i] + w*target[i]
		sum += out[i]
	}
	if sum <= 0 {
		return p, false
	}
	for i := range out {
		out[i] /= sum
	}
	return out, true
}

var _ service.PatternMemory = (*Memory)(nil)

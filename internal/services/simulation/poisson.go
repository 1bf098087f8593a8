package simulation

import (
	"math"
	"math/rand/v2"
	"sync"

	"LinePulse/internal/domain/models"
	"LinePulse/internal/domain/service"
)

const (
	MinTrials = 100
	MaxTrials = 3000

	strengthEpsilon = 1e-6
	// knuthCap bounds the draw loop for very large intensities.
	knuthCap = 1000
)

// Config holds the intensity mapping of the simulator.
type Config struct {
	BaseLambda  float64 `yaml:"base_lambda" default:"1.35"`
	StrengthK   float64 `yaml:"strength_k" default:"0.45"`
	LambdaFloor float64 `yaml:"lambda_floor" default:"0.05"`
}

func DefaultConfig() Config {
	return Config{BaseLambda: 1.35, StrengthK: 0.45, LambdaFloor: 0.05}
}

// Poisson converts a home/draw/away vector into an empirical outcome
// distribution by drawing independent goal counts for both sides.
type Poisson struct {
	cfg Config
	mu  sync.Mutex
	rng *rand.Rand
}

type Option func(*Poisson)

func WithConfig(cfg Config) Option {
	return func(p *Poisson) { p.cfg = cfg }
}

// WithSeed makes the simulator deterministic.
func WithSeed(seed1, seed2 uint64) Option {
	return func(p *Poisson) { p.rng = rand.New(rand.NewPCG(seed1, seed2)) }
}

func New(opts ...Option) *Poisson {
	p := &Poisson{
		cfg: DefaultConfig(),
		rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ClampTrials bounds the trial count to [MinTrials, MaxTrials].
func ClampTrials(n int) int {
	if n < MinTrials {
		return MinTrials
	}
	if n > MaxTrials {
		return MaxTrials
	}
	return n
}

// Lambdas maps the home/away ratio of p to the two goal intensities.
func (p *Poisson) Lambdas(probs models.Probabilities) (home, away float64) {
	ph, pa := probs[0], probs[2]
	if math.IsNaN(ph) || ph < 0 {
		ph = 0
	}
	if math.IsNaN(pa) || pa <= 0 {
		pa = strengthEpsilon
	}
	strength := math.Log(ph/pa + strengthEpsilon)
	home = math.Max(p.cfg.BaseLambda+strength*p.cfg.StrengthK, p.cfg.LambdaFloor)
	away = math.Max(p.cfg.BaseLambda-strength*p.cfg.StrengthK, p.cfg.LambdaFloor)
	return home, away
}

func (p *Poisson) Simulate(probs models.Probabilities, trials int) models.Simulation {
	trials = ClampTrials(trials)
	lh, la := p.Lambdas(probs)

	var counts [3]int
	p.mu.Lock()
	for i := 0; i < trials; i++ {
		h, a := knuth(p.rng, lh), knuth(p.rng, la)
		switch {
		case h > a:
			counts[0]++
		case h == a:
			counts[1]++
		default:
			counts[2]++
		}
	}
	p.mu.Unlock()

	var dist models.Probabilities
	for i, c := range counts {
		dist[i] = float64(c) / float64(trials)
	}
	return models.Simulation{
		Distribution: dist,
		LambdaHome:   lh,
		LambdaAway:   la,
		Entropy:      Entropy(dist),
		Trials:       trials,
	}
}

// knuth draws a Poisson count by multiplying uniforms until the product
// falls below e^-lambda.
func knuth(rng *rand.Rand, lambda float64) int {
	limit := math.Exp(-lambda)
	k, prod := 0, rng.Float64()
	for prod > limit && k < knuthCap {
		k++
		prod *= rng.Float64()
	}
	return k
}

// Entropy is the Shannon entropy of p in nats.
func Entropy(p models.Probabilities) float64 {
	h := 0.0
	for _, v := range p {
		if v > 0 {
			h -= v * math.Log(v)
		}
	}
	return h
}

var _ service.OutcomeSimulator = (*Poisson)(nil)

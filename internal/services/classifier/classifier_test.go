package classifier

import (
	"testing"

	"LinePulse/internal/domain/models"
)

func TestClassifyPriority(t *testing.T) {
	home := models.Probabilities{0.55, 0.25, 0.20}
	strong := models.Scores{Composite: 0.6, Confidence: 80}
	lockInd := models.Indicators{StackFactor: 1, DirectionScore: 0.8}

	cases := []struct {
		name  string
		in    Input
		state string
	}{
		{
			name:  "overload preempts everything",
			in:    Input{Indicators: models.Indicators{MomentumTotal: 3, TrapFlag: true, MismatchPenalty: 1}, Scores: strong, Probabilities: home},
			state: StateOverload,
		},
		{
			name:  "spike overload",
			in:    Input{Scores: models.Scores{SpikePenalty: 0.9}, Probabilities: home},
			state: StateOverload,
		},
		{
			name:  "lock before contradiction and strong",
			in:    Input{Indicators: lockInd, Scores: strong, Probabilities: home, Lines: 3},
			state: StateLock,
		},
		{
			name:  "lock needs lines",
			in:    Input{Indicators: lockInd, Scores: strong, Probabilities: home, Lines: 1},
			state: StateStrong,
		},
		{
			name:  "contradiction before strong",
			in:    Input{Indicators: models.Indicators{MismatchPenalty: 0.7}, Scores: strong, Probabilities: home},
			state: StateContradiction,
		},
		{
			name:  "direction against probabilities",
			in:    Input{Indicators: models.Indicators{DirectionScore: -0.5}, Probabilities: home},
			state: StateContradiction,
		},
		{
			name:  "contradiction before trap",
			in:    Input{Indicators: models.Indicators{MismatchPenalty: 1, TrapFlag: true}, Probabilities: home},
			state: StateContradiction,
		},
		{
			name:  "strong signal",
			in:    Input{Indicators: models.Indicators{DirectionScore: 0.4}, Scores: strong, Probabilities: home},
			state: StateStrong,
		},
		{
			name:  "trap blocks strong",
			in:    Input{Indicators: models.Indicators{TrapFlag: true}, Scores: strong, Probabilities: home},
			state: StateTrap,
		},
		{
			name:  "ambiguous",
			in:    Input{Scores: models.Scores{Composite: 0.2, Confidence: 40}, Probabilities: home},
			state: StateAmbiguous,
		},
	}
	c := New(DefaultConfig())
	for _, tc := range cases {
		v := c.Classify(tc.in)
		if v.State != tc.state {
			t.Fatalf("%s: got %s, want %s", tc.name, v.State, tc.state)
		}
		if v.Label != Label(tc.state) || v.Recommendation == "" {
			t.Fatalf("%s: missing texts %+v", tc.name, v)
		}
	}
}

func TestClassifyFavored(t *testing.T) {
	c := New(DefaultConfig())
	v := c.Classify(Input{Probabilities: models.Probabilities{0.2, 0.3, 0.5}})
	if v.Favored != models.OutcomeAway {
		t.Fatalf("favored %s", v.Favored)
	}
}

func TestLabelsAreDistinct(t *testing.T) {
	seen := map[string]bool{}
	for _, s := range []string{StateOverload, StateLock, StateContradiction, StateStrong, StateTrap, StateAmbiguous} {
		l := Label(s)
		if l == "" || seen[l] {
			t.Fatalf("label for %s missing or duplicated", s)
		}
		seen[l] = true
	}
}

package verify

import (
	"math"
	"sort"
)

// Divider implements the query-division strategies: an
// input space is repeatedly bisected into two halves, each inheriting the
// parent's tightenings plus one new one, until 2^depth leaves are produced.
// Each leaf is represented as the sequence of CaseSplits an Engine must
// replay against the shared PreprocessedQuery to reach that region, never as
// a copy of the query itself.
type Divider struct {
	cfg *Config
}

func NewDivider(cfg *Config) *Divider { return &Divider{cfg: cfg} }

// Seed produces 2^depth leaves by iterated bisection starting from the
// empty split sequence.
func (d *Divider) Seed(pq *PreprocessedQuery, constraints []PLConstraint, depth int) [][]CaseSplit {
	leaves := [][]CaseSplit{{}}
	for i := 0; i < depth; i++ {
		var next [][]CaseSplit
		for _, path := range leaves {
			bounds := d.effectiveBounds(pq, path)
			split, ok := d.choose(pq, constraints, bounds)
			if !ok {
				next = append(next, path)
				continue
			}
			left := append(append([]CaseSplit(nil), path...), split[0])
			right := append(append([]CaseSplit(nil), path...), split[1])
			next = append(next, left, right)
		}
		leaves = next
	}
	return leaves
}

// Repartition re-divides a single timed-out leaf into 2^onlineDivides
// children, each inheriting parent's path plus new splits.
func (d *Divider) Repartition(pq *PreprocessedQuery, constraints []PLConstraint, parent []CaseSplit, onlineDivides int) [][]CaseSplit {
	leaves := [][]CaseSplit{parent}
	for i := 0; i < onlineDivides; i++ {
		var next [][]CaseSplit
		for _, path := range leaves {
			bounds := d.effectiveBounds(pq, path)
			split, ok := d.choose(pq, constraints, bounds)
			if !ok {
				next = append(next, path)
				continue
			}
			left := append(append([]CaseSplit(nil), path...), split[0])
			right := append(append([]CaseSplit(nil), path...), split[1])
			next = append(next, left, right)
		}
		leaves = next
	}
	return leaves
}

// choose picks the next bisection according to cfg.DivideStrategy, returning
// the two complementary CaseSplits or ok=false when nothing is divisible.
func (d *Divider) choose(pq *PreprocessedQuery, constraints []PLConstraint, bounds []Bounds) ([2]CaseSplit, bool) {
	strategy := d.cfg.DivideStrategy
	if strategy == DivideAuto {
		if d.hasDivisibleReLU(constraints, bounds) {
			strategy = DivideSplitReLU
		} else {
			strategy = DivideLargestInterval
		}
	}
	if strategy == DivideSplitReLU {
		if split, ok := d.chooseReLU(pq, constraints, bounds); ok {
			return split, true
		}
	}
	return d.chooseLargestInterval(pq, bounds)
}

// chooseLargestInterval implements the LargestInterval bisection strategy:
// split the input variable with the widest bound range at its
// midpoint. Only input variables are candidates; slack and auxiliary
// columns track the inputs and dividing on them partitions nothing.
func (d *Divider) chooseLargestInterval(pq *PreprocessedQuery, bounds []Bounds) ([2]CaseSplit, bool) {
	best := -1
	bestWidth := 0.0
	for _, x := range pq.InputVariables {
		if x >= len(bounds) {
			continue
		}
		b := bounds[x]
		if !b.IsFinite() {
			continue
		}
		w := b.Width()
		if w > bestWidth {
			bestWidth = w
			best = x
		}
	}
	if best < 0 || bestWidth <= 1e-9 {
		return [2]CaseSplit{}, false
	}
	mid := (bounds[best].Lower + bounds[best].Upper) / 2
	left := CaseSplit{Tightenings: []Tightening{{VarID: best, Value: mid, Kind: UpperBoundTightening}}}
	right := CaseSplit{Tightenings: []Tightening{{VarID: best, Value: mid, Kind: LowerBoundTightening}}}
	return [2]CaseSplit{left, right}, true
}

// reluRuntimeThreshold implements the ReLU divider's runtime-estimate filter:
// only a ReLU estimated to matter for at least this many "effective
// constraints" worth of runtime is a candidate for division.
func (d *Divider) reluRuntimeThreshold(constraintCount int) float64 {
	return math.Max(float64(constraintCount)/20.0, float64(d.cfg.ReLURuntimeEstimateFloor))
}

func (d *Divider) hasDivisibleReLU(constraints []PLConstraint, bounds []Bounds) bool {
	_, ok := d.chooseReLUCandidate(constraints, bounds)
	return ok
}

// chooseReLU splits on the chosen ReLU's own CaseSplits (Active/Inactive).
func (d *Divider) chooseReLU(_ *PreprocessedQuery, constraints []PLConstraint, bounds []Bounds) ([2]CaseSplit, bool) {
	c, ok := d.chooseReLUCandidate(constraints, bounds)
	if !ok {
		return [2]CaseSplit{}, false
	}
	splits := c.CaseSplits()
	if len(splits) != 2 {
		return [2]CaseSplit{}, false
	}
	return [2]CaseSplit{splits[0], splits[1]}, true
}

// chooseReLUCandidate filters unfixed ReLUs by the runtime-estimate
// threshold, then orders the survivors by the configured BiasStrategy score
// (see biasScore), falling back to ascending id for a deterministic final
// tie-break.
func (d *Divider) chooseReLUCandidate(constraints []PLConstraint, bounds []Bounds) (*ReLUConstraint, bool) {
	threshold := d.reluRuntimeThreshold(len(constraints))
	var candidates []*ReLUConstraint
	for _, c := range constraints {
		relu, ok := c.(*ReLUConstraint)
		if !ok || !relu.IsActive() || relu.PhaseFixed() {
			continue
		}
		if relu.B >= len(bounds) {
			continue
		}
		width := bounds[relu.B].Width()
		if width < threshold {
			continue
		}
		candidates = append(candidates, relu)
	}
	if len(candidates) == 0 {
		return nil, false
	}
	score := d.biasScore()
	sort.SliceStable(candidates, func(i, j int) bool {
		bi, bj := score(bounds[candidates[i].B]), score(bounds[candidates[j].B])
		if bi != bj {
			return bi < bj
		}
		return candidates[i].ID() < candidates[j].ID()
	})
	return candidates[0], true
}

// biasScore maps the configured BiasStrategy to a per-candidate score;
// lower is better. Centroid prefers the ReLU whose interval midpoint sits
// closest to zero, estimate (and sampling, which approximates it) prefers
// the most evenly straddling interval, and random falls back to the
// deterministic id tie-break alone.
func (d *Divider) biasScore() func(Bounds) float64 {
	switch d.cfg.BiasStrategy {
	case BiasCentroid:
		return func(b Bounds) float64 {
			if !b.IsFinite() {
				return math.Inf(1)
			}
			return math.Abs(b.Lower + b.Upper)
		}
	case BiasRandom:
		return func(Bounds) float64 { return 0 }
	default: // BiasEstimate, BiasSampling
		return balanceEstimate
	}
}

// balanceEstimate scores how evenly a ReLU's input bound straddles zero: 0
// is a perfect split, larger values mean an imbalanced (mostly-one-phase)
// range that is less useful to divide on.
func balanceEstimate(b Bounds) float64 {
	if !b.IsFinite() {
		return math.Inf(1)
	}
	lo, hi := math.Abs(b.Lower), math.Abs(b.Upper)
	if lo+hi == 0 {
		return math.Inf(1)
	}
	return math.Abs(lo-hi) / (lo + hi)
}

// effectiveBounds applies every tightening along path to a copy of pq's
// original bounds, widen-only semantics matching Tableau.TightenLowerBound /
// TightenUpperBound.
func (d *Divider) effectiveBounds(pq *PreprocessedQuery, path []CaseSplit) []Bounds {
	bounds := make([]Bounds, len(pq.Bounds))
	copy(bounds, pq.Bounds)
	for _, split := range path {
		for _, tg := range split.Tightenings {
			if tg.VarID >= len(bounds) {
				continue
			}
			b := bounds[tg.VarID]
			if tg.Kind == LowerBoundTightening && tg.Value > b.Lower {
				b.Lower = tg.Value
			} else if tg.Kind == UpperBoundTightening && tg.Value < b.Upper {
				b.Upper = tg.Value
			}
			bounds[tg.VarID] = b
		}
	}
	return bounds
}

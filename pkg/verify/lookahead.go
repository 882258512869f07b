package verify

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// errLookAheadUNSAT signals that some probe found every case split of a
// constraint infeasible, which makes the whole query UNSAT.
var errLookAheadUNSAT = errors.New("lookahead: every case split infeasible")

// LookAhead is the parallel phase-inference preprocessor: before the main
// search starts, probe every piecewise-linear
// constraint's two phases independently and in parallel, fixing whichever
// phase is the only one that does not immediately contradict the bound
// propagation closure.
type LookAhead struct {
	cfg *Config
}

func NewLookAhead(cfg *Config) *LookAhead { return &LookAhead{cfg: cfg} }

// LookAheadResult reports which constraint ids were fixed and the bound
// tightenings that followed from them, ready to be folded into a
// PreprocessedQuery before the main search begins. UNSAT is set when a
// probe proved every case split of some constraint infeasible; the other
// fields are then meaningless and the caller
// should report UNSAT directly instead of entering the main search.
type LookAheadResult struct {
	FixedPhases map[int]Phase
	Bounds      []Bounds
	FixedCount  int
	UNSAT       bool
}

// Run seeds a work queue with every constraint id, probing each one's
// candidate phases under a shared, mutex-guarded bounds map, and loops
// until a full pass over the queue produces no new fix.
func (la *LookAhead) Run(ctx context.Context, pq *PreprocessedQuery) (*LookAheadResult, error) {
	shared := &lookAheadState{
		bounds:      append([]Bounds(nil), pq.Bounds...),
		idToPhase:   make(map[int]Phase),
		constraints: pq.Constraints,
	}

	queue := make([]int, len(pq.Constraints))
	for i, c := range pq.Constraints {
		queue[i] = c.ID()
	}

	for len(queue) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		if la.cfg.NumWorkers > 0 {
			g.SetLimit(la.cfg.NumWorkers)
		}

		fixedThisRound := make([]int, len(queue))
		requeueSets := make([][]int, len(queue))

		for i, id := range queue {
			i, id := i, id
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				fixed, requeue, err := la.probe(pq, shared, id)
				if err != nil {
					return err
				}
				if fixed {
					fixedThisRound[i] = id
				} else {
					fixedThisRound[i] = -1
				}
				requeueSets[i] = requeue
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			if errors.Is(err, errLookAheadUNSAT) {
				return &LookAheadResult{UNSAT: true}, nil
			}
			return nil, err
		}

		newlyFixed := 0
		seen := make(map[int]bool)
		var next []int
		for i, id := range fixedThisRound {
			if id < 0 {
				continue
			}
			newlyFixed++
			for _, r := range requeueSets[i] {
				if !seen[r] && !shared.isFixed(r) {
					seen[r] = true
					next = append(next, r)
				}
			}
		}
		if newlyFixed == 0 {
			break
		}
		queue = next
	}

	return &LookAheadResult{
		FixedPhases: shared.snapshotPhases(),
		Bounds:      shared.snapshotBounds(),
		FixedCount:  len(shared.snapshotPhases()),
	}, nil
}

// lookAheadState is the mutable, mutex-guarded state every probe goroutine
// reads a consistent snapshot of and writes fixes back into.
type lookAheadState struct {
	mu          sync.Mutex
	bounds      []Bounds
	idToPhase   map[int]Phase
	constraints []PLConstraint
}

func (s *lookAheadState) isFixed(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.idToPhase[id]
	return ok
}

func (s *lookAheadState) snapshotBounds() []Bounds {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Bounds(nil), s.bounds...)
}

func (s *lookAheadState) snapshotPhases() map[int]Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]Phase, len(s.idToPhase))
	for k, v := range s.idToPhase {
		out[k] = v
	}
	return out
}

func (s *lookAheadState) applyFix(id int, phase Phase, split CaseSplit) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, already := s.idToPhase[id]; already {
		return nil
	}
	s.idToPhase[id] = phase
	var touched []int
	for _, tg := range split.Tightenings {
		if tg.VarID >= len(s.bounds) {
			continue
		}
		b := s.bounds[tg.VarID]
		changed := false
		if tg.Kind == LowerBoundTightening && tg.Value > b.Lower {
			b.Lower = tg.Value
			changed = true
		} else if tg.Kind == UpperBoundTightening && tg.Value < b.Upper {
			b.Upper = tg.Value
			changed = true
		}
		if changed {
			s.bounds[tg.VarID] = b
			for _, c := range s.constraints {
				for _, v := range c.ParticipatingVariables() {
					if v == tg.VarID {
						touched = append(touched, c.ID())
					}
				}
			}
		}
	}
	return touched
}

func (s *lookAheadState) find(id int) PLConstraint {
	for _, c := range s.constraints {
		if c.ID() == id {
			return c
		}
	}
	return nil
}

// probe tries each candidate phase of constraint id in an ephemeral
// tableau built from the shared bounds; a phase that drives any variable's
// bounds to crossing (lb > ub) within a depth-bounded tightening closure is
// rejected. Zero survivors is a global UNSAT (errLookAheadUNSAT), exactly one
// survivor fixes id's phase and publishes its implied root-phases, and more
// than one survivor fixes any other constraint's phase that every surviving
// branch implies in common.
func (la *LookAhead) probe(pq *PreprocessedQuery, shared *lookAheadState, id int) (fixed bool, requeue []int, err error) {
	c := shared.find(id)
	if c == nil || !c.IsActive() || c.PhaseFixed() {
		return false, nil, nil
	}

	bounds := shared.snapshotBounds()
	splits := c.CaseSplits()
	depth := maxInt(1, len(pq.Constraints)/la.cfg.LookAheadDepthDivisor)
	if la.cfg.MaxDepth > 0 && depth > la.cfg.MaxDepth {
		depth = la.cfg.MaxDepth
	}

	var survivors []CaseSplit
	var impliedPerSurvivor []map[int]CaseSplit
	for _, split := range splits {
		ok, trial := la.feasibleUnder(pq, bounds, split, depth)
		if !ok {
			continue
		}
		survivors = append(survivors, split)
		impliedPerSurvivor = append(impliedPerSurvivor, impliedSplitsAt(shared.constraints, trial))
	}

	switch len(survivors) {
	case 0:
		// Every split infeasible: the whole query is UNSAT.
		return false, nil, errLookAheadUNSAT

	case 1:
		// Fix id's phase and publish its implied root-phases into
		// idToPhase.
		touched := shared.applyFix(id, survivors[0].PhaseLabel, survivors[0])
		for cid, split := range impliedPerSurvivor[0] {
			if t := shared.applyFix(cid, split.PhaseLabel, split); t != nil {
				touched = append(touched, t...)
			}
		}
		return true, touched, nil

	default:
		// Multiple splits feasible: fix any phase common to all of them
		// (for other constraints; id itself stays
		// unfixed since more than one of its own phases survived).
		common := intersectImpliedSplits(impliedPerSurvivor)
		var touched []int
		fixedAny := false
		for cid, split := range common {
			if t := shared.applyFix(cid, split.PhaseLabel, split); t != nil {
				touched = append(touched, t...)
				fixedAny = true
			}
		}
		return fixedAny, touched, nil
	}
}

// impliedSplitsAt probes every other active, unfixed constraint against
// trial bounds by feeding a duplicate its participants' bounds: a
// constraint that becomes phase-fixed under those bounds contributes its
// ValidCaseSplit to the result, used to detect phases implied at the root
// by a surviving branch.
func impliedSplitsAt(constraints []PLConstraint, trial []Bounds) map[int]CaseSplit {
	out := make(map[int]CaseSplit)
	for _, c := range constraints {
		if !c.IsActive() || c.PhaseFixed() {
			continue
		}
		dup := c.DuplicateConstraint()
		for _, v := range dup.ParticipatingVariables() {
			if v >= len(trial) {
				continue
			}
			dup.NotifyLowerBound(v, trial[v].Lower)
			dup.NotifyUpperBound(v, trial[v].Upper)
		}
		if dup.PhaseFixed() {
			out[dup.ID()] = dup.ValidCaseSplit()
		}
	}
	return out
}

// intersectImpliedSplits returns the constraint-id -> CaseSplit entries
// that appear, with the same phase label, in every map.
func intersectImpliedSplits(maps []map[int]CaseSplit) map[int]CaseSplit {
	if len(maps) == 0 {
		return nil
	}
	out := make(map[int]CaseSplit)
	for cid, split := range maps[0] {
		common := true
		for _, m := range maps[1:] {
			other, ok := m[cid]
			if !ok || other.PhaseLabel != split.PhaseLabel {
				common = false
				break
			}
		}
		if common {
			out[cid] = split
		}
	}
	return out
}

// feasibleUnder applies split's tightenings to a copy of bounds, then runs
// the row tightener to saturation (bounded by depth rounds) over a
// throwaway tableau, reporting whether no bound ever crosses, plus the
// resulting trial bounds for implied-phase probing.
func (la *LookAhead) feasibleUnder(pq *PreprocessedQuery, bounds []Bounds, split CaseSplit, depth int) (bool, []Bounds) {
	trial := append([]Bounds(nil), bounds...)
	for _, tg := range split.Tightenings {
		if tg.VarID >= len(trial) {
			continue
		}
		b := trial[tg.VarID]
		if tg.Kind == LowerBoundTightening && tg.Value > b.Lower {
			b.Lower = tg.Value
		} else if tg.Kind == UpperBoundTightening && tg.Value < b.Upper {
			b.Upper = tg.Value
		}
		if !b.Consistent() {
			return false, nil
		}
		trial[tg.VarID] = b
	}

	t := NewTableau(la.cfg)
	if err := t.SetDimensions(len(pq.Rows), pq.VariableCount); err != nil {
		return true, trial
	}
	t.SetConstraintMatrix(pq.Rows)
	t.SetRightHandSide(pq.RHS)
	for i, b := range trial {
		t.SetLowerBound(i, b.Lower)
		t.SetUpperBound(i, b.Upper)
	}
	if err := t.InitializeTableau(pq.InitialBasis); err != nil {
		return false, nil
	}

	rt := NewRowTightener(ImplicitBasis, depth)
	for i := 0; i < depth; i++ {
		if _, err := rt.Tighten(t); err != nil {
			return false, nil
		}
	}
	for i := range trial {
		trial[i] = Bounds{Lower: t.LowerBound(i), Upper: t.UpperBound(i)}
	}
	return true, trial
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

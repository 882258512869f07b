package verify

import "sort"

// EngineState is a snapshot of the engine's tableau and PL-constraint
// state, taken at every split-stack frame entry and replayed on
// restoration.
type EngineState struct {
	Lower, Upper []float64
	Assignment   []float64
	BasicVars    []int
	NonBasicRest map[int]NonBasicBoundState

	ConstraintSnapshots []PLConstraint
	DisabledCount       int
}

// captureState snapshots the current tableau and constraint set.
func captureState(t *Tableau, constraints []PLConstraint) *EngineState {
	s := &EngineState{
		Lower:      append([]float64(nil), t.lower...),
		Upper:      append([]float64(nil), t.upper...),
		Assignment: append([]float64(nil), t.assignment...),
		BasicVars:  t.BasicVariables(),
		NonBasicRest: func() map[int]NonBasicBoundState {
			m := make(map[int]NonBasicBoundState, len(t.nonBasicRest))
			for k, v := range t.nonBasicRest {
				m[k] = v
			}
			return m
		}(),
	}
	s.ConstraintSnapshots = make([]PLConstraint, len(constraints))
	disabled := 0
	for i, c := range constraints {
		s.ConstraintSnapshots[i] = c.DuplicateConstraint()
		if !c.IsActive() {
			disabled++
		}
	}
	s.DisabledCount = disabled
	return s
}

// restoreState writes a snapshot back into the tableau and constraints.
func restoreState(t *Tableau, constraints []PLConstraint, s *EngineState) error {
	copy(t.lower, s.Lower)
	copy(t.upper, s.Upper)
	copy(t.assignment, s.Assignment)
	t.basicRowOf = make(map[int]int, len(s.BasicVars))
	t.basic = append([]int(nil), s.BasicVars...)
	t.basisCols = append([]int(nil), s.BasicVars...)
	for row, v := range s.BasicVars {
		t.basicRowOf[v] = row
	}
	t.nonBasicRest = make(map[int]NonBasicBoundState, len(s.NonBasicRest))
	for k, v := range s.NonBasicRest {
		t.nonBasicRest[k] = v
	}
	for i, c := range constraints {
		if i < len(s.ConstraintSnapshots) {
			c.RestoreState(s.ConstraintSnapshots[i])
		}
	}
	return t.refactorize()
}

// splitFrame is one level of the SMT core's decision tree: the owning
// constraint, the list of yet-untried alternative case splits, the engine
// state captured at frame entry, and any valid splits implied below this
// frame.
type splitFrame struct {
	constraint      PLConstraint
	alternatives    []CaseSplit
	nextAlternative int
	stateAtEntry    *EngineState
	impliedValid    []CaseSplit
}

// SplitStack implements the SMT core: the decision-tree stack, backtracking,
// and implied-split recording.
type SplitStack struct {
	frames          []*splitFrame
	violationCounts map[int]int
	roundRobinNext  int
	cfg             *Config
}

func NewSplitStack(cfg *Config) *SplitStack {
	return &SplitStack{violationCounts: make(map[int]int), cfg: cfg}
}

// ReportViolatedConstraint increments c's violation counter.
func (s *SplitStack) ReportViolatedConstraint(c PLConstraint) {
	s.violationCounts[c.ID()]++
}

// NeedToSplit reports whether the current attention constraint's violation
// count exceeds the configured threshold T.
func (s *SplitStack) NeedToSplit(attention PLConstraint) bool {
	return s.violationCounts[attention.ID()] > s.cfg.SplitThreshold
}

// ChooseViolatedConstraintForFixing implements round-robin selection among
// the supplied violated constraints.
func (s *SplitStack) ChooseViolatedConstraintForFixing(violated []PLConstraint) PLConstraint {
	if len(violated) == 0 {
		return nil
	}
	s.roundRobinNext = s.roundRobinNext % len(violated)
	chosen := violated[s.roundRobinNext]
	s.roundRobinNext++
	return chosen
}

// scoredConstraint pairs a constraint with a cached score for the ordered
// multiset used by PickSplittingConstraint. The set is kept consistently
// ordered by re-sorting whenever scores change, never by patching a stale
// order in place.
type scoredConstraint struct {
	c     PLConstraint
	score float64
}

// PickSplittingConstraint scans all constraints by descending score and
// returns the first that is active and not phase-fixed, maintaining the
// ordered multiset consistently.
func PickSplittingConstraint(constraints []PLConstraint) PLConstraint {
	ordered := make([]scoredConstraint, len(constraints))
	for i, c := range constraints {
		ordered[i] = scoredConstraint{c: c, score: c.Score()}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].score > ordered[j].score })
	for _, sc := range ordered {
		if sc.c.IsActive() && !sc.c.PhaseFixed() {
			return sc.c
		}
	}
	return nil
}

// PerformSplit snapshots the engine state, pushes a frame containing every
// case split of the chosen constraint, and applies the first alternative.
// Returns the split to apply.
func (s *SplitStack) PerformSplit(t *Tableau, constraints []PLConstraint, chosen PLConstraint) CaseSplit {
	alternatives := chosen.CaseSplits()
	if chosen.Direction() < 0 {
		for i, j := 0, len(alternatives)-1; i < j; i, j = i+1, j-1 {
			alternatives[i], alternatives[j] = alternatives[j], alternatives[i]
		}
	}
	frame := &splitFrame{
		constraint:      chosen,
		alternatives:    alternatives,
		nextAlternative: 1,
		stateAtEntry:    captureState(t, constraints),
	}
	s.frames = append(s.frames, frame)
	delete(s.violationCounts, chosen.ID())
	return alternatives[0]
}

// PopSplit discards the last-applied split, restores the frame's snapshot,
// and returns the next untried alternative. If none remain it pops the
// frame and recurses; returns ok=false if the stack empties (global UNSAT).
func (s *SplitStack) PopSplit(t *Tableau, constraints []PLConstraint) (CaseSplit, bool, error) {
	for len(s.frames) > 0 {
		frame := s.frames[len(s.frames)-1]
		if err := restoreState(t, constraints, frame.stateAtEntry); err != nil {
			return CaseSplit{}, false, err
		}
		// Replay every valid split recorded below this frame so far.
		for _, v := range frame.impliedValid {
			if err := applySplitToTableau(t, v); err != nil {
				return CaseSplit{}, false, err
			}
		}
		if frame.nextAlternative < len(frame.alternatives) {
			next := frame.alternatives[frame.nextAlternative]
			frame.nextAlternative++
			return next, true, nil
		}
		s.frames = s.frames[:len(s.frames)-1]
	}
	return CaseSplit{}, false, nil
}

// RecordImpliedValidSplit registers a split implied by unit propagation; it
// is replayed into every descendant frame's restored state. Root-level
// implied splits (empty stack) are the engine's to keep; they are permanent
// and survive every backtrack.
func (s *SplitStack) RecordImpliedValidSplit(split CaseSplit) {
	if len(s.frames) == 0 {
		return
	}
	top := s.frames[len(s.frames)-1]
	top.impliedValid = append(top.impliedValid, split)
}

// AppliedSplits returns the splits currently in force along the stack: each
// frame's applied alternative followed by the valid splits implied beneath
// it. Precision restoration replays these on top of the clean state.
func (s *SplitStack) AppliedSplits() []CaseSplit {
	var out []CaseSplit
	for _, f := range s.frames {
		if f.nextAlternative > 0 && f.nextAlternative <= len(f.alternatives) {
			out = append(out, f.alternatives[f.nextAlternative-1])
		}
		out = append(out, f.impliedValid...)
	}
	return out
}

// Depth returns the current split-stack depth.
func (s *SplitStack) Depth() int { return len(s.frames) }

// applySplitToTableau installs a CaseSplit's bound tightenings through
// TightenLowerBound/TightenUpperBound, which notify the variables' watchers;
// the split's Equations are not installed. Used for every split the engine,
// the DnC workers and the precision restorer apply.
func applySplitToTableau(t *Tableau, split CaseSplit) error {
	for _, tg := range split.Tightenings {
		var err error
		if tg.Kind == LowerBoundTightening {
			err = t.TightenLowerBound(tg.VarID, tg.Value)
		} else {
			err = t.TightenUpperBound(tg.VarID, tg.Value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

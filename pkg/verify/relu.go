package verify

import (
	"fmt"
	"math"
)

// ReLUPhase enumerates the affine pieces of f = max(b, 0).
type ReLUPhase int

const (
	ReLUUnfixed ReLUPhase = iota
	ReLUActive            // b >= 0, f = b
	ReLUInactive          // b <= 0, f = 0
)

// ReLUConstraint implements f = max(b, 0).
type ReLUConstraint struct {
	baseConstraint
	B, F  int
	phase ReLUPhase

	// Aux is the preprocessor-allocated variable satisfying aux = f - b
	// with aux >= 0, which turns both case splits into pure bound
	// tightenings (no equations need installing mid-search). -1 until the
	// preprocessor assigns it.
	Aux int
}

// NewReLUConstraint creates a ReLU constraint over backward variable b and
// forward variable f.
func NewReLUConstraint(id, b, f int) *ReLUConstraint {
	return &ReLUConstraint{baseConstraint: baseConstraint{id: id, active: true}, B: b, F: f, Aux: -1}
}

func (r *ReLUConstraint) TypeName() string { return "ReLU" }

func (r *ReLUConstraint) ParticipatingVariables() []int { return []int{r.B, r.F} }

func (r *ReLUConstraint) Satisfied(t *Tableau, tol float64) bool {
	b, f := t.Assignment(r.B), t.Assignment(r.F)
	expected := math.Max(b, 0)
	return math.Abs(f-expected) <= tol
}

// NotifyLowerBound fixes the phase Active once lb(b) >= 0.
func (r *ReLUConstraint) NotifyLowerBound(varID int, v float64) {
	if varID != r.B {
		return
	}
	if v >= 0 {
		r.phase = ReLUActive
	}
}

// NotifyUpperBound implements the other edge: ub(b) <= 0 fixes Inactive.
func (r *ReLUConstraint) NotifyUpperBound(varID int, v float64) {
	if varID != r.B {
		return
	}
	if v <= 0 {
		r.phase = ReLUInactive
	}
}

func (r *ReLUConstraint) NotifyVariableValue(varID int, v float64) {}

func (r *ReLUConstraint) CaseSplits() []CaseSplit {
	if r.Aux >= 0 {
		// With aux = f - b and the global aux >= 0, f >= 0 installed at
		// preprocessing, both branches reduce to bound tightenings:
		// active pins aux to 0 (so f = b), inactive pins f to 0.
		active := CaseSplit{
			PhaseLabel: Phase(ReLUActive),
			OwnerID:    r.id,
			Tightenings: []Tightening{
				{VarID: r.B, Value: 0, Kind: LowerBoundTightening},
				{VarID: r.Aux, Value: 0, Kind: UpperBoundTightening},
			},
		}
		inactive := CaseSplit{
			PhaseLabel: Phase(ReLUInactive),
			OwnerID:    r.id,
			Tightenings: []Tightening{
				{VarID: r.B, Value: 0, Kind: UpperBoundTightening},
				{VarID: r.F, Value: 0, Kind: UpperBoundTightening},
			},
		}
		return []CaseSplit{active, inactive}
	}
	active := CaseSplit{
		PhaseLabel: Phase(ReLUActive),
		OwnerID:    r.id,
		Tightenings: []Tightening{
			{VarID: r.B, Value: 0, Kind: LowerBoundTightening},
		},
		Equations: []*Equation{
			NewEquation(EQ, 0).AddAddend(1, r.F).AddAddend(-1, r.B),
		},
	}
	inactive := CaseSplit{
		PhaseLabel: Phase(ReLUInactive),
		OwnerID:    r.id,
		Tightenings: []Tightening{
			{VarID: r.B, Value: 0, Kind: UpperBoundTightening},
			{VarID: r.F, Value: 0, Kind: UpperBoundTightening},
			{VarID: r.F, Value: 0, Kind: LowerBoundTightening},
		},
	}
	return []CaseSplit{active, inactive}
}

func (r *ReLUConstraint) PhaseFixed() bool { return r.phase != ReLUUnfixed }

func (r *ReLUConstraint) ValidCaseSplit() CaseSplit {
	splits := r.CaseSplits()
	if r.phase == ReLUActive {
		return splits[0]
	}
	return splits[1]
}

func (r *ReLUConstraint) PossibleFixes(t *Tableau) []Fix {
	b, f := t.Assignment(r.B), t.Assignment(r.F)
	expected := math.Max(b, 0)
	if math.Abs(f-expected) < 1e-9 {
		return nil
	}
	// Two ways to repair: move f to match b, or move b to match f (only
	// valid when f >= 0, since b = f keeps the ReLU honest for f > 0, and
	// b <= 0 for f == 0 is handled by the inactive branch).
	fixes := []Fix{{VarID: r.F, Value: expected}}
	if f >= 0 {
		fixes = append(fixes, Fix{VarID: r.B, Value: f})
	}
	return fixes
}

func (r *ReLUConstraint) DuplicateConstraint() PLConstraint {
	cp := *r
	return &cp
}

func (r *ReLUConstraint) RestoreState(snapshot PLConstraint) {
	src, ok := snapshot.(*ReLUConstraint)
	if !ok {
		return
	}
	r.phase = src.phase
	r.active = src.active
	r.score = src.score
	r.polarity = src.polarity
	r.direction = src.direction
}

func (r *ReLUConstraint) EliminateVariable(x int, v float64) {
	if x == r.B && v <= 0 {
		r.phase = ReLUInactive
	} else if x == r.B && v >= 0 {
		r.phase = ReLUActive
	}
}

func (r *ReLUConstraint) UpdateVariableIndex(oldID, newID int) {
	if r.B == oldID {
		r.B = newID
	}
	if r.F == oldID {
		r.F = newID
	}
	if r.Aux == oldID {
		r.Aux = newID
	}
}

func (r *ReLUConstraint) SerializeToString() string {
	return fmt.Sprintf("relu,%d,%d,%d", r.id, r.B, r.F)
}

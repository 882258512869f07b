package verify

import (
	"fmt"
	"math"
)

// SignPhase enumerates the affine pieces of f = sign(b).
type SignPhase int

const (
	SignUnfixed SignPhase = iota
	SignPositive
	SignNegative
)

// SignConstraint implements f = +1 if b >= 0 else -1.
type SignConstraint struct {
	baseConstraint
	B, F  int
	phase SignPhase
}

func NewSignConstraint(id, b, f int) *SignConstraint {
	return &SignConstraint{baseConstraint: baseConstraint{id: id, active: true}, B: b, F: f}
}

func (s *SignConstraint) TypeName() string { return "Sign" }

func (s *SignConstraint) ParticipatingVariables() []int { return []int{s.B, s.F} }

func (s *SignConstraint) Satisfied(t *Tableau, tol float64) bool {
	b, f := t.Assignment(s.B), t.Assignment(s.F)
	expected := 1.0
	if b < 0 {
		expected = -1.0
	}
	return math.Abs(f-expected) <= tol
}

func (s *SignConstraint) NotifyLowerBound(varID int, v float64) {
	if varID == s.B && v >= 0 {
		s.phase = SignPositive
	}
}

func (s *SignConstraint) NotifyUpperBound(varID int, v float64) {
	if varID == s.B && v < 0 {
		s.phase = SignNegative
	}
}

func (s *SignConstraint) NotifyVariableValue(varID int, v float64) {}

func (s *SignConstraint) CaseSplits() []CaseSplit {
	positive := CaseSplit{
		PhaseLabel: Phase(SignPositive),
		OwnerID:    s.id,
		Tightenings: []Tightening{
			{VarID: s.B, Value: 0, Kind: LowerBoundTightening},
			{VarID: s.F, Value: 1, Kind: LowerBoundTightening},
			{VarID: s.F, Value: 1, Kind: UpperBoundTightening},
		},
	}
	negative := CaseSplit{
		PhaseLabel: Phase(SignNegative),
		OwnerID:    s.id,
		Tightenings: []Tightening{
			{VarID: s.B, Value: 0, Kind: UpperBoundTightening},
			{VarID: s.F, Value: -1, Kind: LowerBoundTightening},
			{VarID: s.F, Value: -1, Kind: UpperBoundTightening},
		},
	}
	// Negative's upper-bound tightening on b must be exclusive of 0 in
	// theory; we use b <= 0 and rely on the Positive branch's b >= 0 to
	// cover the boundary (f = sign(0) = +1 by definition).
	return []CaseSplit{positive, negative}
}

func (s *SignConstraint) PhaseFixed() bool { return s.phase != SignUnfixed }

func (s *SignConstraint) ValidCaseSplit() CaseSplit {
	splits := s.CaseSplits()
	if s.phase == SignPositive {
		return splits[0]
	}
	return splits[1]
}

func (s *SignConstraint) PossibleFixes(t *Tableau) []Fix {
	b, f := t.Assignment(s.B), t.Assignment(s.F)
	expected := 1.0
	if b < 0 {
		expected = -1.0
	}
	if math.Abs(f-expected) < 1e-9 {
		return nil
	}
	return []Fix{{VarID: s.F, Value: expected}}
}

func (s *SignConstraint) DuplicateConstraint() PLConstraint {
	cp := *s
	return &cp
}

func (s *SignConstraint) RestoreState(snapshot PLConstraint) {
	src, ok := snapshot.(*SignConstraint)
	if !ok {
		return
	}
	s.phase = src.phase
	s.active = src.active
	s.score = src.score
	s.polarity = src.polarity
	s.direction = src.direction
}

func (s *SignConstraint) EliminateVariable(x int, v float64) {
	if x == s.B && v >= 0 {
		s.phase = SignPositive
	} else if x == s.B && v < 0 {
		s.phase = SignNegative
	}
}

func (s *SignConstraint) UpdateVariableIndex(oldID, newID int) {
	if s.B == oldID {
		s.B = newID
	}
	if s.F == oldID {
		s.F = newID
	}
}

func (s *SignConstraint) SerializeToString() string {
	return fmt.Sprintf("sign,%d,%d,%d", s.id, s.B, s.F)
}

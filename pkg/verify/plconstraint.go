package verify

import "fmt"

// Phase identifies the currently selected affine piece of a piecewise-linear
// constraint. Concrete meanings are per-constraint-kind: for ReLUPhase and
// SignPhase the zero value means "unfixed"; a MaxConstraint labels each
// case split with the index of its source in Sources (so Phase(0) names
// the first source) and tracks "unfixed" separately.
type Phase int

// Fix names a forced (variable, value) pair a PLConstraint would like the
// engine to apply, e.g. to repair a violated ReLU.
type Fix struct {
	VarID int
	Value float64
}

// Tightening is a one-sided bound update a PLConstraint wants applied.
type Tightening struct {
	VarID int
	Value float64
	Kind  TighteningKind
}

type TighteningKind int

const (
	LowerBoundTightening TighteningKind = iota
	UpperBoundTightening
)

// PLConstraint is the shared capability set every piecewise-linear
// constraint kind implements: a tagged variant over {ReLU, Max, Sign},
// never an open hierarchy.
type PLConstraint interface {
	VariableWatcher

	// ID returns this constraint's identity, unique within its InputQuery.
	ID() int

	// ParticipatingVariables returns every variable id this constraint
	// reads or writes.
	ParticipatingVariables() []int

	// Satisfied reports whether the constraint holds at the tableau's
	// current assignment, to the configured slack tolerance.
	Satisfied(t *Tableau, tol float64) bool

	// CaseSplits returns the complementary, covering case splits implied
	// by this constraint's disjunction.
	CaseSplits() []CaseSplit

	// PhaseFixed reports whether bound propagation has already pinned
	// this constraint to a single phase.
	PhaseFixed() bool

	// ValidCaseSplit returns the case split implied by the current fixed
	// phase. Only valid when PhaseFixed() is true.
	ValidCaseSplit() CaseSplit

	// PossibleFixes proposes (variable, value) pairs that would repair a
	// violation without necessarily respecting tableau feasibility.
	PossibleFixes(t *Tableau) []Fix

	// DuplicateConstraint returns a deep copy carrying independent mutable
	// state (phase, active flag, score), used when snapshotting an
	// EngineState.
	DuplicateConstraint() PLConstraint

	// RestoreState overwrites this constraint's mutable state from a
	// snapshot produced by DuplicateConstraint.
	RestoreState(snapshot PLConstraint)

	// EliminateVariable folds a variable fixed to value v out of the
	// constraint's participant set.
	EliminateVariable(x int, v float64)

	// UpdateVariableIndex remaps a participant id after column merging.
	UpdateVariableIndex(oldID, newID int)

	// IsActive reports whether this constraint still needs enforcing
	// (false once eliminated by a valid split).
	IsActive() bool
	SetActive(active bool)

	// Score, UpdateScore, Direction, UpdateDirection, SupportPolarity
	// implement the branching-order bookkeeping.
	Score() float64
	UpdateScore(delta float64, cfg *Config)
	Direction() int
	UpdateDirection()
	SupportPolarity() int

	// SerializeToString renders a compact, debuggable textual form.
	SerializeToString() string

	// TypeName identifies the constraint kind ("ReLU", "Max", "Sign").
	TypeName() string
}

// CaseSplit is a pair of (bound tightenings, equations) to be installed
// atomically as one branch of a PL constraint's disjunction.
type CaseSplit struct {
	Tightenings []Tightening
	Equations   []*Equation
	// OwnerID and PhaseLabel are metadata for serialization/debugging and
	// for the look-ahead preprocessor's idToPhase map.
	OwnerID    int
	PhaseLabel Phase
}

func (c CaseSplit) String() string {
	return fmt.Sprintf("split(owner=%d, phase=%d, %d tightenings, %d equations)",
		c.OwnerID, c.PhaseLabel, len(c.Tightenings), len(c.Equations))
}

// baseConstraint factors the bookkeeping shared by every PL constraint kind:
// id, active flag, score, and branching direction. Concrete kinds embed it.
type baseConstraint struct {
	id       int
	active   bool
	score    float64
	polarity int
	direction int
}

func (b *baseConstraint) ID() int           { return b.id }
func (b *baseConstraint) IsActive() bool    { return b.active }
func (b *baseConstraint) SetActive(a bool)  { b.active = a }
func (b *baseConstraint) Score() float64    { return b.score }
func (b *baseConstraint) Direction() int    { return b.direction }
func (b *baseConstraint) SupportPolarity() int { return b.polarity }

// UpdateScore applies the time-decayed score update:
// s_t <- alpha_time * s_{t-1} + (1 - alpha_time) * delta.
func (b *baseConstraint) UpdateScore(delta float64, cfg *Config) {
	b.score = cfg.AlphaTime*b.score + (1-cfg.AlphaTime)*delta
}

// UpdateDirection sets the preferred branch from the sign of polarity; a
// zero polarity leaves it unchanged. No spatial decay is applied, and no
// code in this package changes polarity from zero.
func (b *baseConstraint) UpdateDirection() {
	if b.polarity > 0 {
		b.direction = 1
	} else if b.polarity < 0 {
		b.direction = -1
	}
}

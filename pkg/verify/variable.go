package verify

import (
	"fmt"
	"math"
)

// VariableStatus classifies a variable with respect to the current basis.
type VariableStatus int

const (
	// NonBasic variables hold an assignment pinned to a bound (or, during
	// phase-1 relaxation, a valid interior value).
	NonBasic VariableStatus = iota
	// Basic variables are indexed into the current basis; their value is
	// computed, not chosen, and may transiently violate bounds.
	Basic
)

// NonBasicBoundState records which bound a non-basic variable currently
// sits at. AtLowerBound and AtUpperBound are the only stable rest states;
// Free is used transiently for variables with no finite bound on the side
// they are pinned to.
type NonBasicBoundState int

const (
	AtLowerBound NonBasicBoundState = iota
	AtUpperBound
	Free
)

// Bounds is the mutable [lb, ub] interval attached to a Variable. Infinite
// bounds are represented with math.Inf; slack variables may carry them, but
// an infinite bound on an original query variable at preprocessing is
// ErrUnboundedVariable.
type Bounds struct {
	Lower float64
	Upper float64
}

// UnboundedBounds returns the bounds [-Inf, +Inf], used for slack variables
// before their direction-specific bound is installed.
func UnboundedBounds() Bounds {
	return Bounds{Lower: math.Inf(-1), Upper: math.Inf(1)}
}

// Consistent reports lb <= ub.
func (b Bounds) Consistent() bool { return b.Lower <= b.Upper }

// Contains reports whether v lies within [lb, ub] (inclusive).
func (b Bounds) Contains(v float64) bool { return v >= b.Lower && v <= b.Upper }

// Width returns ub - lb.
func (b Bounds) Width() float64 { return b.Upper - b.Lower }

// IsFinite reports that neither bound is infinite.
func (b Bounds) IsFinite() bool {
	return !math.IsInf(b.Lower, 0) && !math.IsInf(b.Upper, 0)
}

// Variable is a nonnegative integer identifier carrying a mutable interval.
// Variables are owned by the InputQuery until handed to an Engine for
// preprocessing; from that point the Engine's Tableau is the sole owner of
// the operational copy and PLConstraints reference variables only by ID.
type Variable struct {
	ID     int
	Bounds Bounds
	Name   string
}

// NewVariable creates a variable with the given id and bounds.
func NewVariable(id int, bounds Bounds) *Variable {
	return &Variable{ID: id, Bounds: bounds, Name: fmt.Sprintf("x%d", id)}
}

func (v *Variable) String() string {
	return fmt.Sprintf("%s in [%g, %g]", v.Name, v.Bounds.Lower, v.Bounds.Upper)
}

// EquationType enumerates the relational operator of a source Equation
// before it is converted into a slack-augmented equality.
type EquationType int

const (
	EQ EquationType = iota
	LE
	GE
)

func (t EquationType) String() string {
	switch t {
	case LE:
		return "<="
	case GE:
		return ">="
	default:
		return "="
	}
}

// Equation is Sum(c_i * x_i) op s, op in {=, <=, >=}. The engine converts
// every inequality into an equality by introducing an auxiliary slack
// variable whose bounds encode the direction: for
// "Sum <= s" the slack is constrained to [0, +Inf); for "Sum >= s" to
// (-Inf, 0]; for "=" the slack is fixed to [0, 0] (the Preprocessor gives
// every equation a slack, equalities included).
type Equation struct {
	Coeffs map[int]float64 // variable ID -> coefficient
	Type   EquationType
	Scalar float64
}

// NewEquation creates an equation with an empty coefficient map.
func NewEquation(t EquationType, scalar float64) *Equation {
	return &Equation{Coeffs: make(map[int]float64), Type: t, Scalar: scalar}
}

// AddAddend adds coeff*varID to the left-hand side, combining with any
// existing coefficient for that variable.
func (e *Equation) AddAddend(coeff float64, varID int) *Equation {
	e.Coeffs[varID] += coeff
	return e
}

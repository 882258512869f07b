package verify

import "fmt"

// InputQuery is the declarative, front-end-owned problem definition: a
// linear arithmetic program with piecewise-linear side constraints
//. It is mutable during construction and owns its
// variables, equations, and PL constraints until handed to an Engine for
// preprocessing.
type InputQuery struct {
	variables   []*Variable
	equations   []*Equation
	constraints []PLConstraint

	inputVars  []int
	outputVars []int

	debugAssignment map[int]float64
}

// NewInputQuery creates an empty query.
func NewInputQuery() *InputQuery {
	return &InputQuery{}
}

// NewVariable allocates the next variable id with the given bounds.
func (q *InputQuery) NewVariable(bounds Bounds) *Variable {
	v := NewVariable(len(q.variables), bounds)
	q.variables = append(q.variables, v)
	return v
}

// AddEquation appends an equation.
func (q *InputQuery) AddEquation(e *Equation) { q.equations = append(q.equations, e) }

// AddPLConstraint registers a piecewise-linear constraint.
func (q *InputQuery) AddPLConstraint(c PLConstraint) { q.constraints = append(q.constraints, c) }

// MarkInput / MarkOutput record the input/output variable index tables.
func (q *InputQuery) MarkInput(id int)  { q.inputVars = append(q.inputVars, id) }
func (q *InputQuery) MarkOutput(id int) { q.outputVars = append(q.outputVars, id) }

// SetDebugAssignment installs a reference solution used for the
// DebuggingMismatch soundness self-check.
func (q *InputQuery) SetDebugAssignment(a map[int]float64) { q.debugAssignment = a }

func (q *InputQuery) VariableCount() int       { return len(q.variables) }
func (q *InputQuery) Variables() []*Variable   { return q.variables }
func (q *InputQuery) Equations() []*Equation   { return q.equations }
func (q *InputQuery) Constraints() []PLConstraint { return q.constraints }

// Validate reports variable bound sanity.
func (q *InputQuery) Validate() error {
	for _, v := range q.variables {
		if !v.Bounds.Consistent() {
			return wrapf("InputQuery.Validate", fmt.Errorf("variable %s has lb > ub", v.Name))
		}
	}
	return nil
}

package verify

import (
	"fmt"
	"math"
)

// PreprocessedQuery is the operational form handed to an Engine: every
// inequality has become an equality via a slack variable, fixed variables
// have been eliminated from PL constraints, and aliasing x1 = x2 equations
// have been merged into a single column.
type PreprocessedQuery struct {
	VariableCount int
	Bounds        []Bounds
	Rows          [][]float64
	RHS           []float64
	Constraints   []PLConstraint

	// InitialBasis is the slack-variable-only basis produced by the
	// equality conversion, an inverted-triangular starting basis.
	InitialBasis []int

	// InputVariables is the query's input index table; the divider bisects
	// only these (auxiliary and slack columns are never worth dividing on).
	// Defaults to every original variable when the front-end marked none.
	InputVariables []int
}

// Preprocessor eliminates fixed variables and merges aliases before the
// engine builds its tableau.
type Preprocessor struct {
	cfg *Config
}

func NewPreprocessor(cfg *Config) *Preprocessor { return &Preprocessor{cfg: cfg} }

// Process converts q into operational form. Returns ErrUnboundedVariable if
// any original variable carries an infinite bound, and
// ErrNonEqualityEquation only ever from a programmer error (an equation
// whose type this code fails to recognize) -- not user-reachable through
// the documented EquationType constants.
func (p *Preprocessor) Process(q *InputQuery) (*PreprocessedQuery, error) {
	for _, v := range q.variables {
		if math.IsInf(v.Bounds.Lower, 0) || math.IsInf(v.Bounds.Upper, 0) {
			return nil, wrapf("Preprocessor.Process", ErrUnboundedVariable)
		}
	}

	n0 := len(q.variables)
	bounds := make([]Bounds, n0)
	for i, v := range q.variables {
		bounds[i] = v.Bounds
	}

	constraints := make([]PLConstraint, len(q.constraints))
	copy(constraints, q.constraints)

	equations := append([]*Equation(nil), q.equations...)
	nextVar := n0
	equations, bounds, nextVar = p.attachAuxVariables(constraints, equations, bounds, nextVar)

	var rows [][]float64
	var rhs []float64
	var initialBasis []int

	for _, eq := range equations {
		row := make([]float64, n0) // extended below as slacks are added
		for varID, coeff := range eq.Coeffs {
			if varID >= len(row) {
				grown := make([]float64, varID+1)
				copy(grown, row)
				row = grown
			}
			row[varID] = coeff
		}

		switch eq.Type {
		case EQ, LE, GE:
			// grow row to include the new slack column
			slackID := nextVar
			nextVar++
			if slackID >= len(row) {
				grown := make([]float64, slackID+1)
				copy(grown, row)
				row = grown
			}
			row[slackID] = 1

			var slackBounds Bounds
			switch eq.Type {
			case EQ:
				slackBounds = Bounds{Lower: 0, Upper: 0}
			case LE:
				slackBounds = Bounds{Lower: 0, Upper: math.Inf(1)}
			case GE:
				slackBounds = Bounds{Lower: math.Inf(-1), Upper: 0}
			}
			bounds = append(bounds, slackBounds)
			initialBasis = append(initialBasis, slackID)
		default:
			return nil, wrapf("Preprocessor.Process", ErrNonEqualityEquation)
		}

		rows = append(rows, row)
		rhs = append(rhs, eq.Scalar)
	}

	n := nextVar
	for i := range rows {
		if len(rows[i]) < n {
			grown := make([]float64, n)
			copy(grown, rows[i])
			rows[i] = grown
		}
	}

	p.mergeAliases(rows, bounds, constraints, DetectAliases(q))
	p.eliminateFixedVariables(bounds, constraints)

	inputVars := append([]int(nil), q.inputVars...)
	if len(inputVars) == 0 {
		inputVars = make([]int, n0)
		for i := range inputVars {
			inputVars[i] = i
		}
	}

	return &PreprocessedQuery{
		VariableCount:  n,
		Bounds:         bounds,
		Rows:           rows,
		RHS:            rhs,
		Constraints:    constraints,
		InitialBasis:   initialBasis,
		InputVariables: inputVars,
	}, nil
}

// attachAuxVariables rewrites each PL constraint into its bound-tightening
// form: ReLU gains aux = f - b (aux >= 0, and f's lower bound is raised to
// 0 since f = max(b, 0) is nonnegative), Max gains one aux_i = out - s_i
// per source (aux_i >= 0, and out's bounds narrow to the envelope of its
// sources), Sign narrows f to [-1, 1]. Every aux comes with its defining
// equation so the tableau enforces the relation; the constraints' case
// splits then only ever pin aux or f bounds, never install new rows
// mid-search.
func (p *Preprocessor) attachAuxVariables(constraints []PLConstraint, equations []*Equation, bounds []Bounds, nextVar int) ([]*Equation, []Bounds, int) {
	for _, c := range constraints {
		switch v := c.(type) {
		case *ReLUConstraint:
			if v.B >= len(bounds) || v.F >= len(bounds) {
				continue
			}
			if bounds[v.F].Lower < 0 {
				bounds[v.F] = Bounds{Lower: 0, Upper: bounds[v.F].Upper}
			}
			aux := nextVar
			nextVar++
			v.Aux = aux
			bounds = append(bounds, Bounds{Lower: 0, Upper: bounds[v.F].Upper - bounds[v.B].Lower})
			equations = append(equations,
				NewEquation(EQ, 0).AddAddend(1, v.F).AddAddend(-1, v.B).AddAddend(-1, aux))

		case *MaxConstraint:
			if v.Out >= len(bounds) || len(v.Sources) == 0 {
				continue
			}
			envLB, envUB := math.Inf(-1), math.Inf(-1)
			for _, s := range v.Sources {
				envLB = math.Max(envLB, bounds[s].Lower)
				envUB = math.Max(envUB, bounds[s].Upper)
			}
			out := bounds[v.Out]
			bounds[v.Out] = Bounds{
				Lower: math.Max(out.Lower, envLB),
				Upper: math.Min(out.Upper, envUB),
			}
			v.Aux = make([]int, len(v.Sources))
			for i, s := range v.Sources {
				aux := nextVar
				nextVar++
				v.Aux[i] = aux
				bounds = append(bounds, Bounds{Lower: 0, Upper: bounds[v.Out].Upper - bounds[s].Lower})
				equations = append(equations,
					NewEquation(EQ, 0).AddAddend(1, v.Out).AddAddend(-1, s).AddAddend(-1, aux))
			}

		case *SignConstraint:
			if v.F >= len(bounds) {
				continue
			}
			f := bounds[v.F]
			bounds[v.F] = Bounds{
				Lower: math.Max(f.Lower, -1),
				Upper: math.Min(f.Upper, 1),
			}
		}
	}
	return equations, bounds, nextVar
}

// eliminateFixedVariables folds any variable whose bounds already pin it to
// a single value out of every PL constraint's participant set, fixing
// phases where that determines them.
func (p *Preprocessor) eliminateFixedVariables(bounds []Bounds, constraints []PLConstraint) {
	for varID, b := range bounds {
		if b.Lower != b.Upper {
			continue
		}
		for _, c := range constraints {
			c.EliminateVariable(varID, b.Lower)
		}
	}
}

// mergeAliases folds every detected x1 = x2 pair into a single column,
// applying the same column-merge algebra as Tableau.MergeColumns (add x2's
// coefficients into x1's, zero x2's) directly to the pre-tableau row data,
// tightens the merged column's bounds to the intersection of both
// variables' original bounds, and remaps every PL constraint's x2
// participant references to x1. The alias equation's row itself becomes a
// trivial 0=0 row after the merge, exactly as it would under
// Tableau.MergeColumns; it is left in place rather than deleted; a
// redundant row only costs one degenerate basic slack, not correctness.
func (p *Preprocessor) mergeAliases(rows [][]float64, bounds []Bounds, constraints []PLConstraint, pairs [][2]int) {
	for _, pair := range pairs {
		x1, x2 := pair[0], pair[1]
		if x1 == x2 || x1 >= len(bounds) || x2 >= len(bounds) {
			continue
		}
		for _, row := range rows {
			if x2 >= len(row) || x1 >= len(row) {
				continue
			}
			row[x1] += row[x2]
			row[x2] = 0
		}
		merged := Bounds{
			Lower: math.Max(bounds[x1].Lower, bounds[x2].Lower),
			Upper: math.Min(bounds[x1].Upper, bounds[x2].Upper),
		}
		bounds[x1] = merged
		bounds[x2] = merged
		for _, c := range constraints {
			c.UpdateVariableIndex(x2, x1)
		}
	}
}

// DetectAliases finds equations of the exact shape x1 - x2 = 0 among the
// original (pre-slack) equations, returning pairs suitable for
// Tableau.MergeColumns. This is a conservative syntactic check: only
// two-term unit-coefficient equations are recognized, matching the common
// "alias" pattern produced by network flattening.
func DetectAliases(q *InputQuery) [][2]int {
	var pairs [][2]int
	for _, eq := range q.equations {
		if eq.Type != EQ || eq.Scalar != 0 || len(eq.Coeffs) != 2 {
			continue
		}
		var ids []int
		var coeffs []float64
		for id, c := range eq.Coeffs {
			ids = append(ids, id)
			coeffs = append(coeffs, c)
		}
		if (coeffs[0] == 1 && coeffs[1] == -1) || (coeffs[0] == -1 && coeffs[1] == 1) {
			pairs = append(pairs, [2]int{ids[0], ids[1]})
		}
	}
	return pairs
}

func (pq *PreprocessedQuery) String() string {
	return fmt.Sprintf("PreprocessedQuery{vars=%d, rows=%d, constraints=%d}",
		pq.VariableCount, len(pq.Rows), len(pq.Constraints))
}

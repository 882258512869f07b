package verify

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// VariableWatcher is notified of bound and value changes on a variable it
// has registered interest in. PLConstraints implement this interface so the
// Tableau can dispatch onLowerBound/onUpperBound/onValue without either side
// holding a direct reference to the other.
type VariableWatcher interface {
	NotifyLowerBound(varID int, v float64)
	NotifyUpperBound(varID int, v float64)
	NotifyVariableValue(varID int, v float64)
}

// Tableau owns the basis, bounds, and assignment of the revised-simplex
// system Ax = b, and exposes the row/column operations the cost-function
// manager and bound tighteners need. It is the sole owner of its matrices:
// matrices are never shared across Engines.
type Tableau struct {
	m, n int // m equations over n variables, m <= n

	A *mat.Dense // m x n constraint matrix
	b []float64  // length m right-hand side

	lower, upper []float64 // length n bounds, indexed by variable id
	assignment   []float64 // length n current assignment

	basic        []int         // length m: basic[row] = variable id basic in that row
	basicRowOf   map[int]int   // variable id -> row index, for basic variables
	nonBasicRest map[int]NonBasicBoundState

	basisCols  []int    // length m: column indices of A composing B, parallel to `basic`
	basisInv   *mat.Dense
	luStale    bool
	pivotsSinceRefactor int

	watchers map[int][]VariableWatcher

	cfg *Config

	// Stats counts numerically interesting events for diagnostics.
	Stats TableauStats

	status ComputationStatus
}

// ComputationStatus tracks freshness of the cached basic assignment.
type ComputationStatus int

const (
	AssignmentInvalid ComputationStatus = iota
	AssignmentUpdated
	AssignmentJustComputed
)

// TableauStats counts numerically interesting events.
type TableauStats struct {
	Pivots             int
	DegeneratePivots   int
	SimplexUnstablePivot int
	Refactorizations   int
}

// NewTableau creates an empty tableau. Call setDimensions before anything
// else.
func NewTableau(cfg *Config) *Tableau {
	return &Tableau{
		basicRowOf:   make(map[int]int),
		nonBasicRest: make(map[int]NonBasicBoundState),
		watchers:     make(map[int][]VariableWatcher),
		cfg:          cfg,
		status:       AssignmentInvalid,
	}
}

// SetDimensions allocates the tableau for m equations over n variables.
func (t *Tableau) SetDimensions(m, n int) error {
	if m > n {
		return wrapf("Tableau.SetDimensions", fmt.Errorf("m (%d) must be <= n (%d)", m, n))
	}
	t.m, t.n = m, n
	if m > 0 {
		t.A = mat.NewDense(m, n, nil)
	}
	t.b = make([]float64, m)
	t.lower = make([]float64, n)
	t.upper = make([]float64, n)
	t.assignment = make([]float64, n)
	for i := range t.lower {
		t.lower[i] = math.Inf(-1)
		t.upper[i] = math.Inf(1)
	}
	t.basic = make([]int, m)
	t.basisCols = make([]int, m)
	return nil
}

// SetConstraintMatrix installs A (row-major, m*n entries).
func (t *Tableau) SetConstraintMatrix(rows [][]float64) {
	for i, row := range rows {
		for j, v := range row {
			t.A.Set(i, j, v)
		}
	}
}

// SetRightHandSide installs b.
func (t *Tableau) SetRightHandSide(b []float64) {
	copy(t.b, b)
}

// SetLowerBound sets the lower bound of variable x without checking
// consistency against the upper bound; callers that need the "tighten only"
// semantics should use TightenLowerBound instead.
func (t *Tableau) SetLowerBound(x int, v float64) { t.lower[x] = v }

// SetUpperBound sets the upper bound of variable x.
func (t *Tableau) SetUpperBound(x int, v float64) { t.upper[x] = v }

func (t *Tableau) LowerBound(x int) float64 { return t.lower[x] }
func (t *Tableau) UpperBound(x int) float64 { return t.upper[x] }

// RegisterWatcher adds w to the notification list for variable x.
func (t *Tableau) RegisterWatcher(x int, w VariableWatcher) {
	t.watchers[x] = append(t.watchers[x], w)
}

// InitializeTableau accepts the list of m basic variables, factors B, and
// computes the initial basic assignment. All variables not in initialBasis
// become non-basic, resting at their lower bound when it is finite, else at
// their upper bound when that is finite, else at zero.
func (t *Tableau) InitializeTableau(initialBasis []int) error {
	if len(initialBasis) != t.m {
		return wrapf("Tableau.InitializeTableau", fmt.Errorf("expected %d basic variables, got %d", t.m, len(initialBasis)))
	}

	isBasic := make(map[int]bool, t.m)
	t.basicRowOf = make(map[int]int, t.m)
	for row, v := range initialBasis {
		t.basic[row] = v
		t.basisCols[row] = v
		t.basicRowOf[v] = row
		isBasic[v] = true
	}

	t.nonBasicRest = make(map[int]NonBasicBoundState)
	for x := 0; x < t.n; x++ {
		if isBasic[x] {
			continue
		}
		rest := AtLowerBound
		val := t.lower[x]
		if math.IsInf(val, -1) {
			if !math.IsInf(t.upper[x], 1) {
				rest = AtUpperBound
				val = t.upper[x]
			} else {
				rest = Free
				val = 0
			}
		}
		t.nonBasicRest[x] = rest
		t.assignment[x] = val
	}

	if err := t.refactorize(); err != nil {
		return err
	}
	return t.ComputeAssignment()
}

// refactorize rebuilds basisInv from the current basisCols via LU
// factorization.
func (t *Tableau) refactorize() error {
	if t.m == 0 {
		// A query with no equations has an empty basis; there is nothing
		// to factor and every FTRAN is trivially the identity on nothing.
		t.luStale = false
		t.pivotsSinceRefactor = 0
		return nil
	}
	B := mat.NewDense(t.m, t.m, nil)
	for col, varID := range t.basisCols {
		for row := 0; row < t.m; row++ {
			B.Set(row, col, t.A.At(row, varID))
		}
	}
	var lu mat.LU
	lu.Factorize(B)
	cond := lu.Cond()
	if math.IsInf(cond, 1) || math.IsNaN(cond) {
		return wrapf("Tableau.refactorize", ErrMalformedBasis)
	}
	inv := mat.NewDense(t.m, t.m, nil)
	if err := inv.Inverse(B); err != nil {
		return wrapf("Tableau.refactorize", ErrMalformedBasis)
	}
	t.basisInv = inv
	t.luStale = false
	t.pivotsSinceRefactor = 0
	t.Stats.Refactorizations++
	return nil
}

// ComputeAssignment recomputes x_B = B^-1(b - A_N x_N) and marks the
// tableau JUST_COMPUTED.
func (t *Tableau) ComputeAssignment() error {
	rhs := make([]float64, t.m)
	copy(rhs, t.b)
	for col := 0; col < t.n; col++ {
		if t.basicRowOf != nil {
			if _, isBasic := t.basicRowOf[col]; isBasic {
				continue
			}
		}
		xj := t.assignment[col]
		if xj == 0 {
			continue
		}
		for row := 0; row < t.m; row++ {
			rhs[row] -= t.A.At(row, col) * xj
		}
	}

	out := make([]float64, t.m)
	if err := t.forwardTransformationRaw(rhs, out); err != nil {
		return err
	}
	for row, varID := range t.basic {
		t.assignment[varID] = out[row]
	}
	t.status = AssignmentJustComputed
	return nil
}

// forwardTransformationRaw solves B*out = rhs using the cached inverse.
func (t *Tableau) forwardTransformationRaw(rhs []float64, out []float64) error {
	if t.m == 0 {
		return nil
	}
	if t.basisInv == nil || t.luStale {
		return wrapf("Tableau.forwardTransformation", ErrMalformedBasis)
	}
	v := mat.NewVecDense(t.m, rhs)
	o := mat.NewVecDense(t.m, nil)
	o.MulVec(t.basisInv, v)
	for i := 0; i < t.m; i++ {
		out[i] = o.AtVec(i)
	}
	return nil
}

// ForwardTransformation solves B*out = b' (public FTRAN entry point).
func (t *Tableau) ForwardTransformation(bPrime []float64) ([]float64, error) {
	out := make([]float64, t.m)
	err := t.forwardTransformationRaw(bPrime, out)
	return out, err
}

// Assignment returns the current value of variable x.
func (t *Tableau) Assignment(x int) float64 { return t.assignment[x] }

// IsBasic reports whether x currently indexes into the basis.
func (t *Tableau) IsBasic(x int) bool {
	_, ok := t.basicRowOf[x]
	return ok
}

// BasicVariables returns the list of currently basic variable ids, in row
// order.
func (t *Tableau) BasicVariables() []int {
	out := make([]int, len(t.basic))
	copy(out, t.basic)
	return out
}

// computeChangeColumn computes B^-1 * A_enter, the column that an entering
// non-basic variable would contribute to each basic row.
func (t *Tableau) computeChangeColumn(enter int) []float64 {
	col := make([]float64, t.m)
	for row := 0; row < t.m; row++ {
		col[row] = t.A.At(row, enter)
	}
	out := make([]float64, t.m)
	_ = t.forwardTransformationRaw(col, out)
	return out
}

// GetEntryCandidates returns the ids of non-basic variables whose
// improvement direction would reduce the supplied cost vector (indexed by
// variable id). A variable is a candidate if moving it off its current
// bound in the feasible direction has a strictly favorable reduced cost.
func (t *Tableau) GetEntryCandidates(reducedCost []float64) []int {
	var candidates []int
	for x, rest := range t.nonBasicRest {
		// A variable pinned by equal bounds cannot move; offering it would
		// only produce zero-length bound flips.
		if t.upper[x]-t.lower[x] < 1e-12 {
			continue
		}
		rc := reducedCost[x]
		switch rest {
		case AtLowerBound:
			if rc < -1e-9 {
				candidates = append(candidates, x)
			}
		case AtUpperBound:
			if rc > 1e-9 {
				candidates = append(candidates, x)
			}
		case Free:
			if math.Abs(rc) > 1e-9 {
				candidates = append(candidates, x)
			}
		}
	}
	return candidates
}

// LeavingCandidate describes a ratio-test result for one basic row.
type LeavingCandidate struct {
	Row      int
	VarID    int
	MaxDelta float64 // maximum magnitude the entering variable can move before this row hits a bound
}

// PickLeavingVariable runs the ratio test for an entering variable moving
// in direction dir (+1 or -1) against changeColumn = B^-1*A_enter. Returns
// the tightest-bounding row, or row = -1 if no basic variable limits the
// move (every affected basic variable is unbounded in its direction of
// travel, as LE/GE slacks are on one side).
func (t *Tableau) PickLeavingVariable(changeColumn []float64, dir float64) LeavingCandidate {
	best := LeavingCandidate{Row: -1, MaxDelta: math.Inf(1)}
	for row, varID := range t.basic {
		coeff := changeColumn[row] * dir
		if math.Abs(coeff) < 1e-12 {
			continue
		}
		val := t.assignment[varID]
		var limit float64
		if coeff > 0 {
			// basic variable decreases as entering increases; it can fall
			// to its lower bound.
			if math.IsInf(t.lower[varID], -1) {
				continue
			}
			limit = (val - t.lower[varID]) / coeff
		} else {
			if math.IsInf(t.upper[varID], 1) {
				continue
			}
			limit = (val - t.upper[varID]) / coeff
		}
		if limit < 0 {
			limit = 0
		}
		if limit < best.MaxDelta {
			best = LeavingCandidate{Row: row, VarID: varID, MaxDelta: limit}
		}
	}
	return best
}

// PerformPivot exchanges the non-basic variable `enter` with the basic
// variable at `leave.Row`, moving `enter` by `enterDelta` and updating
// every other basic variable's assignment along the change column. Returns
// the (signed) pivot element so the cost-function manager can judge
// numerical stability.
func (t *Tableau) PerformPivot(enter int, leave LeavingCandidate, changeColumn []float64, enterDelta float64) float64 {
	leaveVar := leave.VarID
	pivotElement := changeColumn[leave.Row]

	for row, varID := range t.basic {
		if row == leave.Row {
			continue
		}
		t.assignment[varID] -= changeColumn[row] * enterDelta
	}

	// The leaving variable lands on whichever bound the ratio test drove it
	// to; a degenerate pivot (enterDelta == 0) leaves it where it sat, which
	// may be interior.
	newLeaveValue := t.assignment[leaveVar] - pivotElement*enterDelta
	var leaveRest NonBasicBoundState
	switch {
	case math.Abs(newLeaveValue-t.lower[leaveVar]) <= 1e-9:
		leaveRest = AtLowerBound
		newLeaveValue = t.lower[leaveVar]
	case math.Abs(newLeaveValue-t.upper[leaveVar]) <= 1e-9:
		leaveRest = AtUpperBound
		newLeaveValue = t.upper[leaveVar]
	default:
		leaveRest = Free
	}

	t.assignment[enter] += enterDelta
	delete(t.nonBasicRest, enter)
	t.basic[leave.Row] = enter
	t.basisCols[leave.Row] = enter
	delete(t.basicRowOf, leaveVar)
	t.basicRowOf[enter] = leave.Row
	t.nonBasicRest[leaveVar] = leaveRest
	t.assignment[leaveVar] = newLeaveValue

	t.Stats.Pivots++
	if math.Abs(pivotElement) < t.cfg.PivotEntryThreshold {
		t.Stats.SimplexUnstablePivot++
	}

	// No product-form update is kept for B^-1, so the inverse is rebuilt
	// eagerly after every basis change. A refused refactorization leaves
	// luStale set; the next FTRAN surfaces ErrMalformedBasis.
	t.luStale = true
	t.pivotsSinceRefactor++
	_ = t.refactorize()

	t.status = AssignmentUpdated
	t.notifyValue(enter)
	t.notifyValue(leaveVar)
	return pivotElement
}

// PerformDegeneratePivot performs a pivot where the entering variable does
// not move (enterDelta == 0); used to resolve ties/degeneracy without
// changing the current point, only the basis.
func (t *Tableau) PerformDegeneratePivot(enter int, leave LeavingCandidate, changeColumn []float64) float64 {
	t.Stats.DegeneratePivots++
	return t.PerformPivot(enter, leave, changeColumn, 0)
}

// SetNonBasicAssignment sets non-basic variable x's current value to v
// directly and recomputes every basic variable's assignment from it,
// without touching any bound. This is how a PL-constraint fix is applied
// to a non-basic variable -- bound tightening would permanently
// foreclose other values for the rest of the branch, which a transient
// repair must not do.
func (t *Tableau) SetNonBasicAssignment(x int, v float64) error {
	if t.IsBasic(x) {
		return wrapf("Tableau.SetNonBasicAssignment", fmt.Errorf("variable %d is basic", x))
	}
	t.assignment[x] = v
	if _, ok := t.nonBasicRest[x]; ok {
		switch {
		case v <= t.lower[x]+1e-9:
			t.nonBasicRest[x] = AtLowerBound
		case v >= t.upper[x]-1e-9:
			t.nonBasicRest[x] = AtUpperBound
		default:
			t.nonBasicRest[x] = Free
		}
	}
	if err := t.ComputeAssignment(); err != nil {
		return err
	}
	t.notifyValue(x)
	return nil
}

// PivotToNonBasic exchanges basic variable x with the non-basic column in
// its row carrying the largest-magnitude coefficient (chosen for numerical
// stability, matching the original's pivot-candidate selection), leaving x
// non-basic without moving the current point (a degenerate pivot). Used
// when a PL-constraint fix targets a currently-basic variable: x must
// become non-basic before its assignment can be set directly.
func (t *Tableau) PivotToNonBasic(x int) error {
	row, ok := t.basicRowOf[x]
	if !ok {
		return nil
	}
	rowCoeffs := t.computePivotRow(row)
	best := -1
	bestMag := 0.0
	for col := 0; col < t.n; col++ {
		if t.IsBasic(col) {
			continue
		}
		mag := math.Abs(rowCoeffs[col])
		if mag > bestMag {
			bestMag = mag
			best = col
		}
	}
	if best < 0 || bestMag < 1e-12 {
		return wrapf("Tableau.PivotToNonBasic", fmt.Errorf("no nonzero pivot column in row of variable %d", x))
	}
	changeColumn := t.computeChangeColumn(best)
	leave := LeavingCandidate{Row: row, VarID: x}
	t.PerformDegeneratePivot(best, leave, changeColumn)
	return nil
}

// computePivotRow extracts row `row` of B^-1*A, used by RowCoefficients (and
// so by the row tightener in either mode), PivotToNonBasic and the engine's
// reference-weight update.
func (t *Tableau) computePivotRow(row int) []float64 {
	unit := make([]float64, t.m)
	unit[row] = 1
	rowOfInv := make([]float64, t.m)
	v := mat.NewVecDense(t.m, unit)
	o := mat.NewVecDense(t.m, nil)
	o.MulVec(t.basisInv.T(), v)
	for i := 0; i < t.m; i++ {
		rowOfInv[i] = o.AtVec(i)
	}
	out := make([]float64, t.n)
	for col := 0; col < t.n; col++ {
		sum := 0.0
		for k := 0; k < t.m; k++ {
			sum += rowOfInv[k] * t.A.At(k, col)
		}
		out[col] = sum
	}
	return out
}

// RowCoefficients returns the tableau row for basic variable x (the
// explicit row y = Sum c_i x_i + s used by the row tightener).
func (t *Tableau) RowCoefficients(x int) ([]float64, bool) {
	row, ok := t.basicRowOf[x]
	if !ok {
		return nil, false
	}
	return t.computePivotRow(row), true
}

// RowRHS returns (B^-1 b) for basic variable x's row, the scalar the row's
// coefficient combination must equal.
func (t *Tableau) RowRHS(x int) (float64, bool) {
	row, ok := t.basicRowOf[x]
	if !ok {
		return 0, false
	}
	out := make([]float64, t.m)
	if err := t.forwardTransformationRaw(t.b, out); err != nil {
		return 0, false
	}
	return out[row], true
}

// TightenLowerBound only widens the lower bound toward v (if v > current
// lower bound) and notifies watchers. Returns ErrInfeasibleQuery if the new
// bound crosses the upper bound. A non-basic variable left behind by the
// new bound is moved onto it; the cached basic assignment goes stale and is
// recomputed at the engine's next synchronization point.
func (t *Tableau) TightenLowerBound(x int, v float64) error {
	if v <= t.lower[x] {
		return nil
	}
	if v > t.upper[x] {
		return wrapf("Tableau.TightenLowerBound", ErrInfeasibleQuery)
	}
	t.lower[x] = v
	if !t.IsBasic(x) && t.assignment[x] < v {
		t.assignment[x] = v
		t.nonBasicRest[x] = AtLowerBound
		t.status = AssignmentInvalid
	}
	t.notifyLower(x, v)
	return nil
}

// TightenUpperBound only narrows the upper bound toward v.
func (t *Tableau) TightenUpperBound(x int, v float64) error {
	if v >= t.upper[x] {
		return nil
	}
	if v < t.lower[x] {
		return wrapf("Tableau.TightenUpperBound", ErrInfeasibleQuery)
	}
	t.upper[x] = v
	if !t.IsBasic(x) && t.assignment[x] > v {
		t.assignment[x] = v
		t.nonBasicRest[x] = AtUpperBound
		t.status = AssignmentInvalid
	}
	t.notifyUpper(x, v)
	return nil
}

// Status reports the freshness of the cached basic assignment.
func (t *Tableau) Status() ComputationStatus { return t.status }

// AvailableSlide returns how far the non-basic variable x can move in
// direction dir before hitting its own bound.
func (t *Tableau) AvailableSlide(x int, dir float64) float64 {
	if dir > 0 {
		return t.upper[x] - t.assignment[x]
	}
	return t.assignment[x] - t.lower[x]
}

// PerformBoundFlip slides non-basic variable x by delta (onto its opposite
// bound) without any basis change, updating every basic variable along the
// change column. Used when the entering variable's own bound is tighter
// than every ratio-test limit.
func (t *Tableau) PerformBoundFlip(x int, changeColumn []float64, delta float64) {
	t.assignment[x] += delta
	for row, varID := range t.basic {
		t.assignment[varID] -= changeColumn[row] * delta
	}
	switch {
	case math.Abs(t.assignment[x]-t.lower[x]) <= 1e-9:
		t.assignment[x] = t.lower[x]
		t.nonBasicRest[x] = AtLowerBound
	case math.Abs(t.assignment[x]-t.upper[x]) <= 1e-9:
		t.assignment[x] = t.upper[x]
		t.nonBasicRest[x] = AtUpperBound
	default:
		t.nonBasicRest[x] = Free
	}
	t.status = AssignmentUpdated
	t.notifyValue(x)
}

func (t *Tableau) notifyLower(x int, v float64) {
	for _, w := range t.watchers[x] {
		w.NotifyLowerBound(x, v)
	}
}

func (t *Tableau) notifyUpper(x int, v float64) {
	for _, w := range t.watchers[x] {
		w.NotifyUpperBound(x, v)
	}
}

func (t *Tableau) notifyValue(x int) {
	v := t.assignment[x]
	for _, w := range t.watchers[x] {
		w.NotifyVariableValue(x, v)
	}
}

// MergeColumns optimises an x1 = x2 equation by removing x2 and mapping
// future references of x2 to x1: every coefficient column for x2 is added
// into x1's column and x2's column is zeroed. The caller is responsible for
// remapping any external references (PLConstraint participants, watcher
// registrations) via updateVariableIndex.
func (t *Tableau) MergeColumns(x1, x2 int) {
	for row := 0; row < t.m; row++ {
		t.A.Set(row, x1, t.A.At(row, x1)+t.A.At(row, x2))
		t.A.Set(row, x2, 0)
	}
	t.watchers[x1] = append(t.watchers[x1], t.watchers[x2]...)
	delete(t.watchers, x2)
}

// OutOfBounds reports variables whose current assignment violates their
// bounds and by how much (used by the cost-function manager for Phase 1).
func (t *Tableau) OutOfBounds() map[int]float64 {
	violations := make(map[int]float64)
	for _, varID := range t.basic {
		val := t.assignment[varID]
		if val < t.lower[varID]-1e-9 {
			violations[varID] = t.lower[varID] - val
		} else if val > t.upper[varID]+1e-9 {
			violations[varID] = val - t.upper[varID]
		}
	}
	return violations
}

// Degradation computes the residual ||B*x_B - (b - A_N*x_N)||_inf used by
// the engine's periodic degradation check.
func (t *Tableau) Degradation() float64 {
	rhs := make([]float64, t.m)
	copy(rhs, t.b)
	for col := 0; col < t.n; col++ {
		if _, isBasic := t.basicRowOf[col]; isBasic {
			continue
		}
		xj := t.assignment[col]
		if xj == 0 {
			continue
		}
		for row := 0; row < t.m; row++ {
			rhs[row] -= t.A.At(row, col) * xj
		}
	}

	max := 0.0
	for row := 0; row < t.m; row++ {
		bxb := 0.0
		for _, varID := range t.basisCols {
			bxb += t.A.At(row, varID) * t.assignment[varID]
		}
		d := math.Abs(bxb - rhs[row])
		if d > max {
			max = d
		}
	}
	return max
}

package verify

import "math"

// CostFunctionStatus is the tri-state INVALID/UPDATED/JUST_COMPUTED
// cost-function lifecycle.
type CostFunctionStatus int

const (
	CostInvalid CostFunctionStatus = iota
	CostUpdated
	CostJustComputed
)

// CostFunctionManager computes Phase-1 reduced costs (the sum of
// out-of-bounds excess of basic variables) and selects an entering
// variable via projected steepest edge.
type CostFunctionManager struct {
	tableau *Tableau
	status  CostFunctionStatus

	// referenceWeights holds the steepest-edge reference weight per
	// non-basic variable id.
	referenceWeights map[int]float64

	reducedCost []float64 // length n, indexed by variable id
}

// NewCostFunctionManager creates a manager bound to tableau.
func NewCostFunctionManager(tableau *Tableau) *CostFunctionManager {
	return &CostFunctionManager{
		tableau:          tableau,
		status:           CostInvalid,
		referenceWeights: make(map[int]float64),
		reducedCost:      make([]float64, tableau.n),
	}
}

// Recompute rebuilds the Phase-1 cost vector from scratch: the cost of a
// basic variable out of bounds is +1/-1 depending on violation direction,
// and the reduced cost of a non-basic variable is -Sum_i cost_i * (B^-1 A)_i.
func (c *CostFunctionManager) Recompute() {
	basicCost := make([]float64, c.tableau.m)
	for row, varID := range c.tableau.basic {
		val := c.tableau.assignment[varID]
		switch {
		case val < c.tableau.lower[varID]-1e-9:
			basicCost[row] = -1
		case val > c.tableau.upper[varID]+1e-9:
			basicCost[row] = 1
		default:
			basicCost[row] = 0
		}
	}

	for x := 0; x < c.tableau.n; x++ {
		c.reducedCost[x] = 0
	}
	for x := range c.tableau.nonBasicRest {
		col := c.tableau.computeChangeColumn(x)
		sum := 0.0
		for row := 0; row < c.tableau.m; row++ {
			sum += basicCost[row] * col[row]
		}
		c.reducedCost[x] = -sum
		if _, ok := c.referenceWeights[x]; !ok {
			c.referenceWeights[x] = 1
		}
	}
	c.status = CostJustComputed
}

// PhaseOneCost returns Sum of |violation| across basic variables, used by
// the engine to decide whether Phase 1 has converged (all zero => feasible
// w.r.t. bounds, modulo PL satisfaction).
func (c *CostFunctionManager) PhaseOneCost() float64 {
	total := 0.0
	for _, v := range c.tableau.OutOfBounds() {
		total += math.Abs(v)
	}
	return total
}

// ReducedCost returns the cached reduced cost of variable x.
func (c *CostFunctionManager) ReducedCost(x int) float64 { return c.reducedCost[x] }

// PickEntering performs the projected-steepest-edge entry rule: it ranks
// the tableau's entry candidates by |reducedCost|^2 / referenceWeight, runs
// the ratio test for each of the top k, and picks the one whose pivot
// element has the largest magnitude. Candidates whose ratio test finds no
// leaving row are skipped.
func (c *CostFunctionManager) PickEntering(k int) (enter int, col []float64, leave LeavingCandidate, dir float64, ok bool) {
	candidates := c.tableau.GetEntryCandidates(c.reducedCost)
	if len(candidates) == 0 {
		return 0, nil, LeavingCandidate{}, 0, false
	}

	type scored struct {
		id    int
		score float64
	}
	scoredCandidates := make([]scored, 0, len(candidates))
	for _, id := range candidates {
		w := c.referenceWeights[id]
		if w <= 0 {
			w = 1
		}
		scoredCandidates = append(scoredCandidates, scored{id: id, score: c.reducedCost[id] * c.reducedCost[id] / w})
	}
	// Partial selection sort for the top-k by score, descending.
	if k <= 0 || k > len(scoredCandidates) {
		k = len(scoredCandidates)
	}
	for i := 0; i < k; i++ {
		best := i
		for j := i + 1; j < len(scoredCandidates); j++ {
			if scoredCandidates[j].score > scoredCandidates[best].score {
				best = j
			}
		}
		scoredCandidates[i], scoredCandidates[best] = scoredCandidates[best], scoredCandidates[i]
	}

	bestMagnitude := -1.0
	found := false
	for i := 0; i < k; i++ {
		id := scoredCandidates[i].id
		d := 1.0
		if c.reducedCost[id] > 0 {
			d = -1.0
		}
		candCol := c.tableau.computeChangeColumn(id)
		candLeave := c.tableau.PickLeavingVariable(candCol, d)
		if candLeave.Row == -1 {
			continue
		}
		magnitude := math.Abs(candCol[candLeave.Row])
		if magnitude > bestMagnitude {
			bestMagnitude = magnitude
			enter, col, leave, dir = id, candCol, candLeave, d
			found = true
		}
	}
	return enter, col, leave, dir, found
}

// UpdateReferenceWeights recomputes steepest-edge reference weights after a
// pivot, from the pivot row.
func (c *CostFunctionManager) UpdateReferenceWeights(pivotRow []float64, pivotElement float64, leftVar int) {
	if pivotElement == 0 {
		return
	}
	gammaQ := c.referenceWeights[leftVar]
	if gammaQ <= 0 {
		gammaQ = 1
	}
	for x := range c.tableau.nonBasicRest {
		alpha := pivotRow[x]
		if alpha == 0 {
			continue
		}
		ratio := alpha / pivotElement
		updated := c.referenceWeights[x] - 2*ratio*alpha + ratio*ratio*gammaQ
		if updated < 1e-9 {
			updated = 1e-9
		}
		c.referenceWeights[x] = updated
	}
	c.referenceWeights[leftVar] = math.Max(gammaQ/(pivotElement*pivotElement), 1e-9)
	c.status = CostUpdated
}

// Invalidate marks the cost function stale, e.g. after a restoration.
func (c *CostFunctionManager) Invalidate() { c.status = CostInvalid }

package verify

import "math"

// RowTightenerMode selects how RowTightener derives a row's coefficients.
type RowTightenerMode int

const (
	// ImplicitBasis computes rows via FTRAN over the inverted basis.
	ImplicitBasis RowTightenerMode = iota
	// DirectMatrix reads rows straight from the constraint matrix.
	DirectMatrix
)

// RowTightener reads tableau rows y = Sum c_i x_i + s and tightens each
// participant's bounds from the row's implied interval.
type RowTightener struct {
	Mode        RowTightenerMode
	MaxIterations int
}

func NewRowTightener(mode RowTightenerMode, maxIterations int) *RowTightener {
	if maxIterations <= 0 {
		maxIterations = 100
	}
	return &RowTightener{Mode: mode, MaxIterations: maxIterations}
}

// Tighten runs the saturation loop until no bound improves or
// MaxIterations fires. Returns the tightenings actually applied.
func (rt *RowTightener) Tighten(t *Tableau) ([]Tightening, error) {
	var applied []Tightening
	for iter := 0; iter < rt.MaxIterations; iter++ {
		changed := false
		for _, basicVar := range t.BasicVariables() {
			// Both modes currently resolve rows via FTRAN over the
			// inverted basis; DirectMatrix is reserved for a future
			// dense-matrix fast path when the basis is unavailable.
			coeffs, ok := t.RowCoefficients(basicVar)
			if !ok {
				continue
			}
			rhs, ok := t.RowRHS(basicVar)
			if !ok {
				continue
			}

			lb, ub := rowBounds(t, coeffs, rhs, basicVar)

			if err := t.TightenLowerBound(basicVar, lb); err != nil {
				return applied, err
			}
			if err := t.TightenUpperBound(basicVar, ub); err != nil {
				return applied, err
			}

			for varID, coeff := range indexToCoeff(coeffs) {
				if varID == basicVar || coeff == 0 {
					continue
				}
				newLB, newUB := solveForParticipant(t, coeffs, rhs, basicVar, varID, coeff)
				if newLB > t.LowerBound(varID)+1e-12 {
					if err := t.TightenLowerBound(varID, newLB); err != nil {
						return applied, err
					}
					applied = append(applied, Tightening{VarID: varID, Value: newLB, Kind: LowerBoundTightening})
					changed = true
				}
				if newUB < t.UpperBound(varID)-1e-12 {
					if err := t.TightenUpperBound(varID, newUB); err != nil {
						return applied, err
					}
					applied = append(applied, Tightening{VarID: varID, Value: newUB, Kind: UpperBoundTightening})
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}
	return applied, nil
}

// rowBounds computes [lb(y), ub(y)] for basic variable y. The FTRAN'd row
// reads y + Sum_{j != y} c_j x_j = rhs, so y = rhs - Sum, and the sum's
// interval comes from every other participant's bounds.
func rowBounds(t *Tableau, coeffs []float64, rhs float64, basicVar int) (float64, float64) {
	sumLo, sumHi := 0.0, 0.0
	for varID, coeff := range indexToCoeff(coeffs) {
		if varID == basicVar {
			continue
		}
		lo, hi := t.LowerBound(varID), t.UpperBound(varID)
		if coeff >= 0 {
			sumLo += coeff * lo
			sumHi += coeff * hi
		} else {
			sumLo += coeff * hi
			sumHi += coeff * lo
		}
	}
	return rhs - sumHi, rhs - sumLo
}

// solveForParticipant algebraically isolates participant x in the row
// basicVar + coeff_x*x + Sum(other terms) = rhs, returning the bounds
// implied for x by the row, the rhs, and every other participant's bounds.
func solveForParticipant(t *Tableau, coeffs []float64, rhs float64, basicVar, x int, coeffX float64) (float64, float64) {
	yLB, yUB := t.LowerBound(basicVar), t.UpperBound(basicVar)

	otherLB, otherUB := 0.0, 0.0
	for varID, coeff := range indexToCoeff(coeffs) {
		if varID == basicVar || varID == x {
			continue
		}
		varLo, varHi := t.LowerBound(varID), t.UpperBound(varID)
		if coeff >= 0 {
			otherLB += coeff * varLo
			otherUB += coeff * varHi
		} else {
			otherLB += coeff * varHi
			otherUB += coeff * varLo
		}
	}

	// coeff_x * x = rhs - y - Sum(other terms)
	numLo := rhs - yUB - otherUB
	numHi := rhs - yLB - otherLB
	lo, hi := math.Inf(-1), math.Inf(1)
	if coeffX > 0 {
		lo = numLo / coeffX
		hi = numHi / coeffX
	} else if coeffX < 0 {
		lo = numHi / coeffX
		hi = numLo / coeffX
	}
	return lo, hi
}

func indexToCoeff(coeffs []float64) map[int]float64 {
	m := make(map[int]float64, len(coeffs))
	for i, c := range coeffs {
		if c != 0 {
			m[i] = c
		}
	}
	return m
}

// ConstraintBoundTightener emits Tightening entries for every active PL
// constraint whose phase is fixed.
type ConstraintBoundTightener struct{}

func NewConstraintBoundTightener() *ConstraintBoundTightener { return &ConstraintBoundTightener{} }

// Tighten applies every active PL constraint's fixed-phase implications to
// the tableau, returning the tightenings applied.
func (ct *ConstraintBoundTightener) Tighten(t *Tableau, constraints []PLConstraint) ([]Tightening, error) {
	var applied []Tightening
	for _, c := range constraints {
		if mc, ok := c.(*MaxConstraint); ok {
			mc.RefreshPhase(t)
		}
		if !c.IsActive() || !c.PhaseFixed() {
			continue
		}
		split := c.ValidCaseSplit()
		for _, tg := range split.Tightenings {
			var err error
			if tg.Kind == LowerBoundTightening {
				err = t.TightenLowerBound(tg.VarID, tg.Value)
			} else {
				err = t.TightenUpperBound(tg.VarID, tg.Value)
			}
			if err != nil {
				return applied, err
			}
			applied = append(applied, tg)
		}
	}
	return applied, nil
}

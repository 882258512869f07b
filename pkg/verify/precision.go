package verify

// PrecisionRestorer stores a clean EngineState at engine construction and
// rebuilds a numerically clean tableau from it by replaying every valid
// split the SMT core has recorded.
type PrecisionRestorer struct {
	cleanState *Tableau // a pristine tableau before any pivots
	cfg        *Config
}

func NewPrecisionRestorer(cfg *Config) *PrecisionRestorer { return &PrecisionRestorer{cfg: cfg} }

// Capture stores t's current state as the clean baseline. Called once, at
// Engine construction, immediately after the initial tableau is built.
func (p *PrecisionRestorer) Capture(t *Tableau) {
	clean := NewTableau(p.cfg)
	*clean = *t
	clean.lower = append([]float64(nil), t.lower...)
	clean.upper = append([]float64(nil), t.upper...)
	clean.assignment = append([]float64(nil), t.assignment...)
	clean.basic = append([]int(nil), t.basic...)
	clean.basisCols = append([]int(nil), t.basisCols...)
	clean.basicRowOf = copyIntMap(t.basicRowOf)
	clean.nonBasicRest = copyRestMap(t.nonBasicRest)
	p.cleanState = clean
}

// RestoreStrong rebuilds t from the clean baseline, replaying every valid
// split recorded by the SMT core, and re-selects a basis from the clean
// tableau's row/column layout (basis + assignment restoration).
func (p *PrecisionRestorer) RestoreStrong(t *Tableau, constraints []PLConstraint, validSplits []CaseSplit) error {
	p.resetBoundsAndAssignment(t)
	p.resetBasis(t)
	for _, split := range validSplits {
		if err := applySplitToTableau(t, split); err != nil {
			return err
		}
	}
	if err := t.refactorize(); err != nil {
		return err
	}
	return t.ComputeAssignment()
}

// RestoreWeak rebuilds only bounds and the assignment vector from the
// clean baseline, leaving the tableau's current basis (t.basic,
// t.basisCols, t.basicRowOf) entirely untouched -- the "assignment only"
// restoration tier. A full basis reset here would
// make RestoreWeak indistinguishable from RestoreStrong and defeat the
// two-tier escalation contract.
func (p *PrecisionRestorer) RestoreWeak(t *Tableau, constraints []PLConstraint, validSplits []CaseSplit) error {
	p.resetBoundsAndAssignment(t)
	for _, split := range validSplits {
		if err := applySplitToTableau(t, split); err != nil {
			return err
		}
	}
	return t.ComputeAssignment()
}

func (p *PrecisionRestorer) resetBoundsAndAssignment(t *Tableau) {
	copy(t.lower, p.cleanState.lower)
	copy(t.upper, p.cleanState.upper)
	copy(t.assignment, p.cleanState.assignment)
}

func (p *PrecisionRestorer) resetBasis(t *Tableau) {
	t.basic = append([]int(nil), p.cleanState.basic...)
	t.basisCols = append([]int(nil), p.cleanState.basisCols...)
	t.basicRowOf = copyIntMap(p.cleanState.basicRowOf)
	t.nonBasicRest = copyRestMap(p.cleanState.nonBasicRest)
}

func copyIntMap(m map[int]int) map[int]int {
	out := make(map[int]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyRestMap(m map[int]NonBasicBoundState) map[int]NonBasicBoundState {
	out := make(map[int]NonBasicBoundState, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

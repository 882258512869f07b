package verify

import (
	"fmt"
	"math"
)

// MaxConstraint implements out = max(S) over a finite set S of variables.
// Its phase is either "unfixed" or the index in Sources of the argmax
// element; argMax == -1 denotes unfixed.
type MaxConstraint struct {
	baseConstraint
	Out     int
	Sources []int
	argMax  int // -1 if unfixed, else an index into Sources

	// Aux, when assigned by the preprocessor, is parallel to Sources:
	// Aux[i] = Out - Sources[i] with Aux[i] >= 0, so each branch of the
	// disjunction reduces to pinning one aux to 0.
	Aux []int
}

func NewMaxConstraint(id, out int, sources []int) *MaxConstraint {
	srcCopy := make([]int, len(sources))
	copy(srcCopy, sources)
	return &MaxConstraint{baseConstraint: baseConstraint{id: id, active: true}, Out: out, Sources: srcCopy, argMax: -1}
}

func (m *MaxConstraint) TypeName() string { return "Max" }

func (m *MaxConstraint) ParticipatingVariables() []int {
	vars := make([]int, 0, len(m.Sources)+1)
	vars = append(vars, m.Out)
	vars = append(vars, m.Sources...)
	return vars
}

func (m *MaxConstraint) Satisfied(t *Tableau, tol float64) bool {
	out := t.Assignment(m.Out)
	best := math.Inf(-1)
	for _, s := range m.Sources {
		v := t.Assignment(s)
		if v > best {
			best = v
		}
	}
	return math.Abs(out-best) <= tol
}

func (m *MaxConstraint) NotifyLowerBound(varID int, v float64) { m.tryFixByBounds() }
func (m *MaxConstraint) NotifyUpperBound(varID int, v float64) { m.tryFixByBounds() }
func (m *MaxConstraint) NotifyVariableValue(varID int, v float64) {}

// tryFixByBounds implements the Max analogue of the ReLU edge semantics: if
// one source's lower bound dominates every other source's upper bound, it
// is forced to be the argmax.
func (m *MaxConstraint) tryFixByBounds() {
	// Bound-driven fixing requires access to the tableau; the
	// ConstraintBoundTightener, which the engine runs every iteration, calls
	// RefreshPhase instead of relying on these notification hooks (see
	// tighteners.go).
}

// RefreshPhase checks whether exactly one source's lower bound is >= every
// other source's upper bound, and if so fixes the phase.
func (m *MaxConstraint) RefreshPhase(t *Tableau) {
	if m.argMax != -1 {
		return
	}
	for i, si := range m.Sources {
		dominates := true
		for j, sj := range m.Sources {
			if i == j {
				continue
			}
			if t.LowerBound(si) < t.UpperBound(sj) {
				dominates = false
				break
			}
		}
		if dominates {
			m.argMax = i
			return
		}
	}
}

// CaseSplits returns one branch per source: out = S[i]. With the aux
// encoding (aux_i = out - s_i >= 0 installed at preprocessing) a branch is
// the single tightening aux_i <= 0; dominance over the other sources
// follows from their own aux_j >= 0 rows. Without aux assigned, the branch
// carries the out = s_i equation instead.
func (m *MaxConstraint) CaseSplits() []CaseSplit {
	splits := make([]CaseSplit, 0, len(m.Sources))
	for i, si := range m.Sources {
		if len(m.Aux) == len(m.Sources) {
			splits = append(splits, CaseSplit{
				PhaseLabel: Phase(i),
				OwnerID:    m.id,
				Tightenings: []Tightening{
					{VarID: m.Aux[i], Value: 0, Kind: UpperBoundTightening},
				},
			})
			continue
		}
		splits = append(splits, CaseSplit{
			PhaseLabel: Phase(i),
			OwnerID:    m.id,
			Equations: []*Equation{
				NewEquation(EQ, 0).AddAddend(1, m.Out).AddAddend(-1, si),
			},
		})
	}
	return splits
}

func (m *MaxConstraint) PhaseFixed() bool { return m.argMax != -1 }

func (m *MaxConstraint) ValidCaseSplit() CaseSplit {
	splits := m.CaseSplits()
	return splits[m.argMax]
}

func (m *MaxConstraint) PossibleFixes(t *Tableau) []Fix {
	out := t.Assignment(m.Out)
	best, bestVal := -1, math.Inf(-1)
	for i, s := range m.Sources {
		v := t.Assignment(s)
		if v > bestVal {
			bestVal = v
			best = i
		}
	}
	if math.Abs(out-bestVal) < 1e-9 {
		return nil
	}
	return []Fix{{VarID: m.Out, Value: bestVal}, {VarID: m.Sources[best], Value: out}}
}

func (m *MaxConstraint) DuplicateConstraint() PLConstraint {
	cp := *m
	cp.Sources = append([]int(nil), m.Sources...)
	cp.Aux = append([]int(nil), m.Aux...)
	return &cp
}

func (m *MaxConstraint) RestoreState(snapshot PLConstraint) {
	src, ok := snapshot.(*MaxConstraint)
	if !ok {
		return
	}
	m.argMax = src.argMax
	m.active = src.active
	m.score = src.score
	m.polarity = src.polarity
	m.direction = src.direction
}

func (m *MaxConstraint) EliminateVariable(x int, v float64) {
	for i, s := range m.Sources {
		if s == x {
			m.Sources = append(m.Sources[:i], m.Sources[i+1:]...)
			if len(m.Aux) > i {
				m.Aux = append(m.Aux[:i], m.Aux[i+1:]...)
			}
			return
		}
	}
}

func (m *MaxConstraint) UpdateVariableIndex(oldID, newID int) {
	if m.Out == oldID {
		m.Out = newID
	}
	for i, s := range m.Sources {
		if s == oldID {
			m.Sources[i] = newID
		}
	}
	for i, a := range m.Aux {
		if a == oldID {
			m.Aux[i] = newID
		}
	}
}

func (m *MaxConstraint) SerializeToString() string {
	return fmt.Sprintf("max,%d,%d,%v", m.id, m.Out, m.Sources)
}

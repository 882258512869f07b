package verify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildMaxTableau(t *testing.T, vals []float64, bounds []Bounds) *Tableau {
	t.Helper()
	cfg := DefaultConfig()
	tb := NewTableau(cfg)
	n := len(vals)
	require.NoError(t, tb.SetDimensions(0, n))
	for i, b := range bounds {
		tb.SetLowerBound(i, b.Lower)
		tb.SetUpperBound(i, b.Upper)
	}
	require.NoError(t, tb.InitializeTableau(nil))
	copy(tb.assignment, vals)
	return tb
}

func TestMaxConstraintSatisfied(t *testing.T) {
	bounds := []Bounds{{0, 5}, {0, 5}, {0, 5}}
	m := NewMaxConstraint(0, 2, []int{0, 1})

	tb := buildMaxTableau(t, []float64{1, 3, 3}, bounds)
	require.True(t, m.Satisfied(tb, 1e-5))

	tb = buildMaxTableau(t, []float64{1, 3, 1}, bounds)
	require.False(t, m.Satisfied(tb, 1e-5))
}

func TestMaxConstraintRefreshPhaseDetectsDominance(t *testing.T) {
	cfg := DefaultConfig()
	tb := NewTableau(cfg)
	require.NoError(t, tb.SetDimensions(0, 3))
	tb.SetLowerBound(0, 0)
	tb.SetUpperBound(0, 1)
	tb.SetLowerBound(1, 2) // dominates x0's upper bound of 1
	tb.SetUpperBound(1, 3)
	tb.SetLowerBound(2, 0)
	tb.SetUpperBound(2, 5)
	require.NoError(t, tb.InitializeTableau(nil))

	m := NewMaxConstraint(0, 2, []int{0, 1})
	require.False(t, m.PhaseFixed())
	m.RefreshPhase(tb)
	require.True(t, m.PhaseFixed())
	require.Equal(t, Phase(1), m.ValidCaseSplit().PhaseLabel)
}

func TestMaxConstraintCaseSplitsCoverEverySource(t *testing.T) {
	m := NewMaxConstraint(0, 3, []int{0, 1, 2})
	splits := m.CaseSplits()
	require.Len(t, splits, 3)
	for i, s := range splits {
		require.Equal(t, Phase(i), s.PhaseLabel)
		require.Equal(t, 0, s.OwnerID)
	}
}

func TestMaxConstraintPossibleFixesTargetOutOrArgMax(t *testing.T) {
	bounds := []Bounds{{0, 5}, {0, 5}, {0, 5}}
	tb := buildMaxTableau(t, []float64{1, 3, 1}, bounds)
	m := NewMaxConstraint(0, 2, []int{0, 1})

	fixes := m.PossibleFixes(tb)
	require.Len(t, fixes, 2)
	require.Equal(t, Fix{VarID: 2, Value: 3}, fixes[0])
	require.Equal(t, Fix{VarID: 1, Value: 1}, fixes[1])
}

func TestMaxConstraintEliminateVariableDropsSourceAndAux(t *testing.T) {
	m := NewMaxConstraint(0, 3, []int{0, 1, 2})
	m.Aux = []int{10, 11, 12}
	m.EliminateVariable(1, 0.5)
	require.Equal(t, []int{0, 2}, m.Sources)
	require.Equal(t, []int{10, 12}, m.Aux)
}

func TestMaxConstraintDuplicateIsIndependent(t *testing.T) {
	m := NewMaxConstraint(0, 3, []int{0, 1})
	m.Aux = []int{10, 11}
	dup := m.DuplicateConstraint().(*MaxConstraint)

	dup.Sources[0] = 99
	dup.Aux[0] = 99
	dup.argMax = 1

	require.Equal(t, 0, m.Sources[0])
	require.Equal(t, 10, m.Aux[0])
	require.False(t, m.PhaseFixed())
}

func TestMaxConstraintUpdateVariableIndexRemapsAll(t *testing.T) {
	m := NewMaxConstraint(0, 3, []int{0, 1})
	m.Aux = []int{10, 11}
	m.UpdateVariableIndex(1, 7)
	m.UpdateVariableIndex(3, 8)
	m.UpdateVariableIndex(10, 20)
	require.Equal(t, []int{0, 7}, m.Sources)
	require.Equal(t, 8, m.Out)
	require.Equal(t, []int{20, 11}, m.Aux)
}

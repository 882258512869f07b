package verify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReLUConstraintSatisfiedOnBothPieces(t *testing.T) {
	cfg := DefaultConfig()
	tb := buildReLUTableau(t, cfg, 3, 3)
	r := NewReLUConstraint(0, 0, 1)
	require.True(t, r.Satisfied(tb, cfg.SatisfactionTolerance))

	tb = buildReLUTableau(t, cfg, -2, 0)
	require.True(t, r.Satisfied(tb, cfg.SatisfactionTolerance))

	tb = buildReLUTableau(t, cfg, -2, 5)
	require.False(t, r.Satisfied(tb, cfg.SatisfactionTolerance))
}

func buildReLUTableau(t *testing.T, cfg *Config, bVal, fVal float64) *Tableau {
	t.Helper()
	tb := NewTableau(cfg)
	require.NoError(t, tb.SetDimensions(1, 2))
	tb.SetConstraintMatrix([][]float64{{1, 0}})
	tb.SetRightHandSide([]float64{bVal})
	tb.SetLowerBound(0, -10)
	tb.SetUpperBound(0, 10)
	tb.SetLowerBound(1, -10)
	tb.SetUpperBound(1, 10)
	require.NoError(t, tb.InitializeTableau([]int{0}))
	tb.assignment[1] = fVal
	return tb
}

func TestReLUConstraintNotifyLowerBoundFixesActive(t *testing.T) {
	r := NewReLUConstraint(0, 5, 6)
	require.False(t, r.PhaseFixed())
	r.NotifyLowerBound(5, 1)
	require.True(t, r.PhaseFixed())
	require.Equal(t, ReLUActive, r.phase)

	split := r.ValidCaseSplit()
	require.Equal(t, Phase(ReLUActive), split.PhaseLabel)
}

func TestReLUConstraintNotifyUpperBoundFixesInactive(t *testing.T) {
	r := NewReLUConstraint(0, 5, 6)
	r.NotifyUpperBound(5, -1)
	require.True(t, r.PhaseFixed())
	require.Equal(t, ReLUInactive, r.phase)
}

func TestReLUConstraintCaseSplitsAreComplementary(t *testing.T) {
	r := NewReLUConstraint(0, 5, 6)
	splits := r.CaseSplits()
	require.Len(t, splits, 2)
	require.Equal(t, Phase(ReLUActive), splits[0].PhaseLabel)
	require.Equal(t, Phase(ReLUInactive), splits[1].PhaseLabel)
}

func TestReLUConstraintEliminateVariableFixesPhaseFromConstantBound(t *testing.T) {
	r := NewReLUConstraint(0, 5, 6)
	r.EliminateVariable(5, -3)
	require.Equal(t, ReLUInactive, r.phase)

	r2 := NewReLUConstraint(1, 5, 6)
	r2.EliminateVariable(5, 3)
	require.Equal(t, ReLUActive, r2.phase)
}

func TestReLUConstraintDuplicateAndRestoreRoundTrip(t *testing.T) {
	r := NewReLUConstraint(0, 5, 6)
	r.NotifyLowerBound(5, 1)
	snapshot := r.DuplicateConstraint()

	r.phase = ReLUUnfixed
	require.False(t, r.PhaseFixed())

	r.RestoreState(snapshot)
	require.True(t, r.PhaseFixed())
	require.Equal(t, ReLUActive, r.phase)
}

func TestReLUConstraintPossibleFixesProposesRepair(t *testing.T) {
	tb := buildReLUTableau(t, DefaultConfig(), -2, 5)
	r := NewReLUConstraint(0, 0, 1)
	fixes := r.PossibleFixes(tb)
	require.NotEmpty(t, fixes)

	var sawF bool
	for _, f := range fixes {
		if f.VarID == 1 {
			sawF = true
			require.Equal(t, 0.0, f.Value)
		}
	}
	require.True(t, sawF)
}

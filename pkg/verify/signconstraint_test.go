package verify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildSignTableau(t *testing.T, bVal, fVal float64) *Tableau {
	t.Helper()
	tb := NewTableau(DefaultConfig())
	require.NoError(t, tb.SetDimensions(0, 2))
	tb.SetLowerBound(0, -5)
	tb.SetUpperBound(0, 5)
	tb.SetLowerBound(1, -1)
	tb.SetUpperBound(1, 1)
	require.NoError(t, tb.InitializeTableau(nil))
	tb.assignment[0] = bVal
	tb.assignment[1] = fVal
	return tb
}

func TestSignConstraintSatisfied(t *testing.T) {
	s := NewSignConstraint(0, 0, 1)
	require.True(t, s.Satisfied(buildSignTableau(t, 2, 1), 1e-5))
	require.True(t, s.Satisfied(buildSignTableau(t, -2, -1), 1e-5))
	// sign(0) = +1 by definition.
	require.True(t, s.Satisfied(buildSignTableau(t, 0, 1), 1e-5))
	require.False(t, s.Satisfied(buildSignTableau(t, 2, -1), 1e-5))
	require.False(t, s.Satisfied(buildSignTableau(t, 2, 0.5), 1e-5))
}

func TestSignConstraintPhaseFixesFromBounds(t *testing.T) {
	s := NewSignConstraint(0, 0, 1)
	s.NotifyLowerBound(0, 0)
	require.True(t, s.PhaseFixed())
	require.Equal(t, Phase(SignPositive), s.ValidCaseSplit().PhaseLabel)

	neg := NewSignConstraint(1, 0, 1)
	neg.NotifyUpperBound(0, -0.5)
	require.True(t, neg.PhaseFixed())
	require.Equal(t, Phase(SignNegative), neg.ValidCaseSplit().PhaseLabel)
}

func TestSignConstraintCaseSplitsPinOutput(t *testing.T) {
	s := NewSignConstraint(0, 0, 1)
	splits := s.CaseSplits()
	require.Len(t, splits, 2)

	// Each branch pins f to exactly +1 or -1 via matched bound pairs.
	for _, split := range splits {
		var fLower, fUpper float64
		for _, tg := range split.Tightenings {
			if tg.VarID != 1 {
				continue
			}
			if tg.Kind == LowerBoundTightening {
				fLower = tg.Value
			} else {
				fUpper = tg.Value
			}
		}
		require.Equal(t, fLower, fUpper)
	}
}

func TestSignConstraintPossibleFixesMoveOutput(t *testing.T) {
	s := NewSignConstraint(0, 0, 1)
	fixes := s.PossibleFixes(buildSignTableau(t, 2, -1))
	require.Equal(t, []Fix{{VarID: 1, Value: 1}}, fixes)

	fixes = s.PossibleFixes(buildSignTableau(t, -2, -1))
	require.Empty(t, fixes)
}

func TestSignConstraintDuplicateAndRestore(t *testing.T) {
	s := NewSignConstraint(0, 0, 1)
	s.NotifyLowerBound(0, 1)
	snap := s.DuplicateConstraint()

	s.phase = SignUnfixed
	s.RestoreState(snap)
	require.Equal(t, SignPositive, s.phase)
}

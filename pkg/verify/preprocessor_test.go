package verify

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPreprocessorRejectsUnboundedVariable(t *testing.T) {
	q := NewInputQuery()
	q.NewVariable(Bounds{Lower: 0, Upper: math.Inf(1)})
	_, err := NewPreprocessor(DefaultConfig()).Process(q)
	require.ErrorIs(t, err, ErrUnboundedVariable)
}

func TestPreprocessorConvertsInequalitiesViaSlack(t *testing.T) {
	q := NewInputQuery()
	x := q.NewVariable(Bounds{Lower: 0, Upper: 10})
	y := q.NewVariable(Bounds{Lower: 0, Upper: 10})
	q.AddEquation(NewEquation(LE, 5).AddAddend(1, x.ID).AddAddend(1, y.ID))
	q.AddEquation(NewEquation(GE, 1).AddAddend(1, x.ID))

	pq, err := NewPreprocessor(DefaultConfig()).Process(q)
	require.NoError(t, err)
	require.Len(t, pq.Rows, 2)
	require.Len(t, pq.InitialBasis, 2)

	// LE slack encodes "sum <= s" as [0, +inf); GE as (-inf, 0].
	leSlack := pq.InitialBasis[0]
	geSlack := pq.InitialBasis[1]
	require.Equal(t, 0.0, pq.Bounds[leSlack].Lower)
	require.True(t, math.IsInf(pq.Bounds[leSlack].Upper, 1))
	require.True(t, math.IsInf(pq.Bounds[geSlack].Lower, -1))
	require.Equal(t, 0.0, pq.Bounds[geSlack].Upper)
}

func TestPreprocessorAttachesReLUAux(t *testing.T) {
	q := NewInputQuery()
	b := q.NewVariable(Bounds{Lower: -1, Upper: 1})
	f := q.NewVariable(Bounds{Lower: -1, Upper: 1})
	relu := NewReLUConstraint(0, b.ID, f.ID)
	q.AddPLConstraint(relu)

	pq, err := NewPreprocessor(DefaultConfig()).Process(q)
	require.NoError(t, err)

	// f = max(b, 0) is nonnegative, and aux = f - b gets [0, ub(f)-lb(b)].
	require.Equal(t, 0.0, pq.Bounds[f.ID].Lower)
	require.GreaterOrEqual(t, relu.Aux, 2)
	require.Equal(t, Bounds{Lower: 0, Upper: 2}, pq.Bounds[relu.Aux])

	// One defining row f - b - aux (+ slack) = 0.
	require.Len(t, pq.Rows, 1)
	row := pq.Rows[0]
	require.Equal(t, 1.0, row[f.ID])
	require.Equal(t, -1.0, row[b.ID])
	require.Equal(t, -1.0, row[relu.Aux])
	require.Equal(t, 0.0, pq.RHS[0])

	// Both case splits are now pure bound tightenings.
	for _, split := range relu.CaseSplits() {
		require.Empty(t, split.Equations)
	}
}

func TestPreprocessorAttachesMaxAuxAndEnvelope(t *testing.T) {
	q := NewInputQuery()
	x1 := q.NewVariable(Bounds{Lower: 0, Upper: 1})
	x2 := q.NewVariable(Bounds{Lower: 2, Upper: 3})
	out := q.NewVariable(Bounds{Lower: 0, Upper: 5})
	mx := NewMaxConstraint(0, out.ID, []int{x1.ID, x2.ID})
	q.AddPLConstraint(mx)

	pq, err := NewPreprocessor(DefaultConfig()).Process(q)
	require.NoError(t, err)

	// out narrows to the envelope of its sources: [max lb, max ub].
	require.Equal(t, Bounds{Lower: 2, Upper: 3}, pq.Bounds[out.ID])
	require.Len(t, mx.Aux, 2)
	require.Len(t, pq.Rows, 2)
	for _, split := range mx.CaseSplits() {
		require.Empty(t, split.Equations)
		require.Len(t, split.Tightenings, 1)
	}
}

func TestPreprocessorClampsSignOutput(t *testing.T) {
	q := NewInputQuery()
	b := q.NewVariable(Bounds{Lower: -5, Upper: 5})
	f := q.NewVariable(Bounds{Lower: -10, Upper: 10})
	q.AddPLConstraint(NewSignConstraint(0, b.ID, f.ID))

	pq, err := NewPreprocessor(DefaultConfig()).Process(q)
	require.NoError(t, err)
	require.Equal(t, Bounds{Lower: -1, Upper: 1}, pq.Bounds[f.ID])
}

func TestPreprocessorEliminatesFixedVariables(t *testing.T) {
	q := NewInputQuery()
	b := q.NewVariable(Bounds{Lower: -3, Upper: -3})
	f := q.NewVariable(Bounds{Lower: 0, Upper: 10})
	relu := NewReLUConstraint(0, b.ID, f.ID)
	q.AddPLConstraint(relu)

	_, err := NewPreprocessor(DefaultConfig()).Process(q)
	require.NoError(t, err)
	require.True(t, relu.PhaseFixed())
	require.Equal(t, ReLUInactive, relu.phase)
}

func TestDetectAliasesRecognizesUnitDifferenceEquations(t *testing.T) {
	q := NewInputQuery()
	a := q.NewVariable(Bounds{Lower: 0, Upper: 4})
	b := q.NewVariable(Bounds{Lower: 1, Upper: 9})
	q.AddEquation(NewEquation(EQ, 0).AddAddend(1, a.ID).AddAddend(-1, b.ID))
	q.AddEquation(NewEquation(EQ, 3).AddAddend(1, a.ID).AddAddend(-1, b.ID)) // nonzero scalar: not an alias

	pairs := DetectAliases(q)
	require.Len(t, pairs, 1)

	pq, err := NewPreprocessor(DefaultConfig()).Process(q)
	require.NoError(t, err)
	// Merged columns carry the intersected bounds.
	require.Equal(t, Bounds{Lower: 1, Upper: 4}, pq.Bounds[a.ID])
	require.Equal(t, Bounds{Lower: 1, Upper: 4}, pq.Bounds[b.ID])
}

func TestPreprocessorDefaultsInputVariablesToOriginals(t *testing.T) {
	q := NewInputQuery()
	q.NewVariable(Bounds{Lower: 0, Upper: 1})
	q.NewVariable(Bounds{Lower: 0, Upper: 1})
	q.AddEquation(NewEquation(LE, 1).AddAddend(1, 0).AddAddend(1, 1))

	pq, err := NewPreprocessor(DefaultConfig()).Process(q)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, pq.InputVariables)

	q2 := NewInputQuery()
	q2.NewVariable(Bounds{Lower: 0, Upper: 1})
	q2.NewVariable(Bounds{Lower: 0, Upper: 1})
	q2.MarkInput(1)
	pq2, err := NewPreprocessor(DefaultConfig()).Process(q2)
	require.NoError(t, err)
	require.Equal(t, []int{1}, pq2.InputVariables)
}

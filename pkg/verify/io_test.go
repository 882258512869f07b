package verify

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInputQueryRoundTripsThroughDisk(t *testing.T) {
	q := NewInputQuery()
	b := q.NewVariable(Bounds{Lower: -1, Upper: 1})
	f := q.NewVariable(Bounds{Lower: 0, Upper: 1})
	out := q.NewVariable(Bounds{Lower: 0, Upper: 9})
	s := q.NewVariable(Bounds{Lower: -1, Upper: 1})
	q.MarkInput(b.ID)
	q.MarkOutput(out.ID)
	q.AddEquation(NewEquation(LE, 4).AddAddend(1, b.ID).AddAddend(2, out.ID))
	q.AddPLConstraint(NewReLUConstraint(0, b.ID, f.ID))
	q.AddPLConstraint(NewMaxConstraint(1, out.ID, []int{b.ID, f.ID}))
	q.AddPLConstraint(NewSignConstraint(2, b.ID, s.ID))
	q.SetDebugAssignment(map[int]float64{0: 0.25})

	path := filepath.Join(t.TempDir(), "query.bin")
	require.NoError(t, SaveInputQuery(path, q))

	got, err := LoadInputQuery(path)
	require.NoError(t, err)
	require.Equal(t, q.VariableCount(), got.VariableCount())
	require.Equal(t, q.Variables()[0].Bounds, got.Variables()[0].Bounds)
	require.Len(t, got.Equations(), 1)
	require.Equal(t, LE, got.Equations()[0].Type)
	require.Equal(t, 4.0, got.Equations()[0].Scalar)

	require.Len(t, got.Constraints(), 3)
	relu, ok := got.Constraints()[0].(*ReLUConstraint)
	require.True(t, ok)
	require.Equal(t, b.ID, relu.B)
	require.Equal(t, f.ID, relu.F)

	mx, ok := got.Constraints()[1].(*MaxConstraint)
	require.True(t, ok)
	require.Equal(t, out.ID, mx.Out)
	require.Equal(t, []int{b.ID, f.ID}, mx.Sources)

	sign, ok := got.Constraints()[2].(*SignConstraint)
	require.True(t, ok)
	require.Equal(t, 2, sign.ID())

	require.Equal(t, map[int]float64{0: 0.25}, got.debugAssignment)
}

func TestSerializeToStringIsStablePerKind(t *testing.T) {
	require.Equal(t, "relu,0,1,2", NewReLUConstraint(0, 1, 2).SerializeToString())
	require.Equal(t, "sign,1,3,4", NewSignConstraint(1, 3, 4).SerializeToString())
	require.Equal(t, "max,2,5,[6 7]", NewMaxConstraint(2, 5, []int{6, 7}).SerializeToString())
}

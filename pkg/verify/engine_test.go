package verify

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func solveQuery(t *testing.T, cfg *Config, build func(q *InputQuery)) (Result, *Engine) {
	t.Helper()
	q := NewInputQuery()
	build(q)
	require.NoError(t, q.Validate())
	pq, err := NewPreprocessor(cfg).Process(q)
	require.NoError(t, err)
	e, err := NewEngine(pq, cfg, nil)
	require.NoError(t, err)
	return e.Solve(context.Background()), e
}

func requireSatisfiesReLU(t *testing.T, res Result, b, f int, tol float64) {
	t.Helper()
	require.Equal(t, SAT, res.Code)
	bv, fv := res.Assignment[b], res.Assignment[f]
	require.InDelta(t, math.Max(bv, 0), fv, tol)
}

func TestEngineMinimalReLUSAT(t *testing.T) {
	cfg := DefaultConfig()
	res, _ := solveQuery(t, cfg, func(q *InputQuery) {
		b := q.NewVariable(Bounds{Lower: -1, Upper: 1})
		f := q.NewVariable(Bounds{Lower: -1, Upper: 1})
		q.AddPLConstraint(NewReLUConstraint(0, b.ID, f.ID))
	})
	requireSatisfiesReLU(t, res, 0, 1, cfg.SatisfactionTolerance)
	require.GreaterOrEqual(t, res.Assignment[1], -cfg.SatisfactionTolerance)
}

func TestEngineMinimalReLUUNSAT(t *testing.T) {
	// Phase Active forces f = b >= 1, contradicting ub(f) = 0.
	res, _ := solveQuery(t, DefaultConfig(), func(q *InputQuery) {
		b := q.NewVariable(Bounds{Lower: 1, Upper: 2})
		f := q.NewVariable(Bounds{Lower: -1, Upper: 0})
		q.AddPLConstraint(NewReLUConstraint(0, b.ID, f.ID))
	})
	require.Equal(t, UNSAT, res.Code)
}

func TestEngineReLUWithLinearSideConstraint(t *testing.T) {
	// f + b = -0.5 admits only the inactive phase: b = -0.5, f = 0.
	cfg := DefaultConfig()
	res, _ := solveQuery(t, cfg, func(q *InputQuery) {
		b := q.NewVariable(Bounds{Lower: -1, Upper: 1})
		f := q.NewVariable(Bounds{Lower: -1, Upper: 1})
		q.AddPLConstraint(NewReLUConstraint(0, b.ID, f.ID))
		q.AddEquation(NewEquation(EQ, -0.5).AddAddend(1, f.ID).AddAddend(1, b.ID))
	})
	requireSatisfiesReLU(t, res, 0, 1, cfg.SatisfactionTolerance)
	require.InDelta(t, -0.5, res.Assignment[0]+res.Assignment[1], cfg.SatisfactionTolerance)
}

func TestEngineMaxConstraintPicksDominatingSource(t *testing.T) {
	cfg := DefaultConfig()
	res, _ := solveQuery(t, cfg, func(q *InputQuery) {
		x1 := q.NewVariable(Bounds{Lower: 0, Upper: 1})
		x2 := q.NewVariable(Bounds{Lower: 2, Upper: 3})
		x3 := q.NewVariable(Bounds{Lower: 0, Upper: 1})
		out := q.NewVariable(Bounds{Lower: 0, Upper: 5})
		q.AddPLConstraint(NewMaxConstraint(0, out.ID, []int{x1.ID, x2.ID, x3.ID}))
	})
	require.Equal(t, SAT, res.Code)
	out := res.Assignment[3]
	require.GreaterOrEqual(t, out, 2.0-cfg.SatisfactionTolerance)
	require.LessOrEqual(t, out, 3.0+cfg.SatisfactionTolerance)
	require.InDelta(t, res.Assignment[1], out, cfg.SatisfactionTolerance)
}

func TestEngineSignConstraintSAT(t *testing.T) {
	cfg := DefaultConfig()
	res, _ := solveQuery(t, cfg, func(q *InputQuery) {
		b := q.NewVariable(Bounds{Lower: 1, Upper: 2})
		f := q.NewVariable(Bounds{Lower: -1, Upper: 1})
		q.AddPLConstraint(NewSignConstraint(0, b.ID, f.ID))
	})
	require.Equal(t, SAT, res.Code)
	require.InDelta(t, 1.0, res.Assignment[1], cfg.SatisfactionTolerance)
}

func TestEngineLinearOnlyInfeasibleBounds(t *testing.T) {
	res, _ := solveQuery(t, DefaultConfig(), func(q *InputQuery) {
		x := q.NewVariable(Bounds{Lower: 0, Upper: 1})
		y := q.NewVariable(Bounds{Lower: 0, Upper: 1})
		// x + y = 5 cannot hold within [0, 1] x [0, 1].
		q.AddEquation(NewEquation(EQ, 5).AddAddend(1, x.ID).AddAddend(1, y.ID))
	})
	require.Equal(t, UNSAT, res.Code)
}

func TestEngineSATSolutionSatisfiesEquations(t *testing.T) {
	cfg := DefaultConfig()
	res, e := solveQuery(t, cfg, func(q *InputQuery) {
		x := q.NewVariable(Bounds{Lower: 0, Upper: 5})
		y := q.NewVariable(Bounds{Lower: -10, Upper: 20})
		q.AddEquation(NewEquation(EQ, 1).AddAddend(1, y.ID).AddAddend(-2, x.ID))
	})
	require.Equal(t, SAT, res.Code)
	require.InDelta(t, 1.0, res.Assignment[1]-2*res.Assignment[0], cfg.SatisfactionTolerance)
	require.Less(t, e.Tableau().Degradation(), cfg.DegradationThreshold)
}

func TestEngineDebugAssignmentMismatchIsFatal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DebugAssignment = map[int]float64{0: 4.75}
	res, _ := solveQuery(t, cfg, func(q *InputQuery) {
		// x is pinned to 2 by its bounds; the reference solution disagrees.
		q.NewVariable(Bounds{Lower: 2, Upper: 2})
	})
	require.Equal(t, ERROR, res.Code)
	require.ErrorIs(t, res.Err, ErrDebuggingMismatch)
}

func TestEngineDeadlineReturnsTimeout(t *testing.T) {
	q := NewInputQuery()
	for i := 0; i < 6; i++ {
		b := q.NewVariable(Bounds{Lower: -1, Upper: 1})
		f := q.NewVariable(Bounds{Lower: -1, Upper: 1})
		q.AddPLConstraint(NewReLUConstraint(i, b.ID, f.ID))
	}
	pq, err := NewPreprocessor(DefaultConfig()).Process(q)
	require.NoError(t, err)
	e, err := NewEngine(pq, DefaultConfig(), nil)
	require.NoError(t, err)
	e.SetDeadline(time.Now().Add(-time.Second))
	res := e.Solve(context.Background())
	require.Equal(t, TIMEOUT, res.Code)
}

func TestEngineContextCancelReturnsQuitRequested(t *testing.T) {
	q := NewInputQuery()
	b := q.NewVariable(Bounds{Lower: -1, Upper: 1})
	f := q.NewVariable(Bounds{Lower: -1, Upper: 1})
	q.AddPLConstraint(NewReLUConstraint(0, b.ID, f.ID))
	pq, err := NewPreprocessor(DefaultConfig()).Process(q)
	require.NoError(t, err)
	e, err := NewEngine(pq, DefaultConfig(), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := e.Solve(ctx)
	require.Equal(t, QuitRequested, res.Code)
}

package verify

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
)

type restorationKind int

const (
	noRestoration restorationKind = iota
	strongRestoration
	weakRestoration
)

// Engine drives the revised-simplex tableau coupled with the SMT core's
// case-split search and bound tightening. An Engine is single-threaded: parallelism lives between Engines,
// coordinated by the DnC manager (C9).
type Engine struct {
	tableau             *Tableau
	cost                *CostFunctionManager
	rowTightener        *RowTightener
	constraintTightener *ConstraintBoundTightener
	constraints         []PLConstraint
	splitStack          *SplitStack
	precision           *PrecisionRestorer
	cfg                 *Config
	logger              *zap.SugaredLogger
	Stats               *Statistics

	quitRequested bool
	deadline      time.Time // zero value means unbounded

	iterationsSinceDegradationCheck int
	malformedBasisStrikes           int
	pendingRestoration              restorationKind
	restorationRetried              bool

	// rootValidSplits are implied splits recorded at decision depth zero;
	// unlike frame-scoped implied splits they survive every backtrack and
	// seed the precision restorer's replay log.
	rootValidSplits []CaseSplit
}

// Statistics holds plain solve counters, exposed for the summary-file
// schema.
type Statistics struct {
	Pivots            int
	DegeneratePivots  int
	Splits            int
	Pops              int
	Tightenings       int
	LookAheadFixings  int
	TotalPivotMicros  int64
}

// AvgPivotMicros returns the average wall-clock cost per pivot, used by the
// summary file's avgPivotMicros field.
func (s *Statistics) AvgPivotMicros() float64 {
	if s.Pivots == 0 {
		return 0
	}
	return float64(s.TotalPivotMicros) / float64(s.Pivots)
}

// NewEngine builds a tableau from pq and wires up every component.
func NewEngine(pq *PreprocessedQuery, cfg *Config, logger *zap.SugaredLogger) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	t := NewTableau(cfg)
	if err := t.SetDimensions(len(pq.Rows), pq.VariableCount); err != nil {
		return nil, err
	}
	t.SetConstraintMatrix(pq.Rows)
	t.SetRightHandSide(pq.RHS)
	for i, b := range pq.Bounds {
		t.SetLowerBound(i, b.Lower)
		t.SetUpperBound(i, b.Upper)
	}

	constraints := make([]PLConstraint, len(pq.Constraints))
	copy(constraints, pq.Constraints)
	for _, c := range constraints {
		for _, v := range c.ParticipatingVariables() {
			t.RegisterWatcher(v, c)
		}
	}

	if err := t.InitializeTableau(pq.InitialBasis); err != nil {
		return nil, err
	}

	// Replay the starting bounds through each constraint's notification
	// hooks; watchers only fire on tightenings, so phases already decided
	// by the query's own bounds would otherwise go unnoticed.
	for _, c := range constraints {
		for _, v := range c.ParticipatingVariables() {
			c.NotifyLowerBound(v, t.LowerBound(v))
			c.NotifyUpperBound(v, t.UpperBound(v))
		}
	}

	e := &Engine{
		tableau:             t,
		cost:                NewCostFunctionManager(t),
		rowTightener:        NewRowTightener(ImplicitBasis, 100),
		constraintTightener: NewConstraintBoundTightener(),
		constraints:         constraints,
		splitStack:          NewSplitStack(cfg),
		precision:           NewPrecisionRestorer(cfg),
		cfg:                 cfg,
		logger:              logger,
		Stats:               &Statistics{},
	}
	e.precision.Capture(t)
	return e, nil
}

// RequestQuit sets the cooperative quit flag, polled at the top of every
// main-loop iteration.
func (e *Engine) RequestQuit() { e.quitRequested = true }

// SetDeadline installs a wall-clock deadline; zero means unbounded.
func (e *Engine) SetDeadline(d time.Time) { e.deadline = d }

// Tableau exposes the underlying tableau for extraction/inspection.
func (e *Engine) Tableau() *Tableau { return e.tableau }

// Constraints exposes the engine's PL constraints.
func (e *Engine) Constraints() []PLConstraint { return e.constraints }

// Solve runs the main loop to completion, timeout, or quit.
func (e *Engine) Solve(ctx context.Context) Result {
	var attention PLConstraint

	for {
		// Step 1: timeout / external quit.
		if e.quitRequested {
			return Result{Code: QuitRequested}
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return Result{Code: TIMEOUT}
			}
			return Result{Code: QuitRequested}
		default:
		}
		if !e.deadline.IsZero() && time.Now().After(e.deadline) {
			return Result{Code: TIMEOUT}
		}

		// Step 2: pending restoration.
		if e.pendingRestoration != noRestoration {
			kind := e.pendingRestoration
			e.pendingRestoration = noRestoration
			replay := append(append([]CaseSplit(nil), e.rootValidSplits...), e.splitStack.AppliedSplits()...)
			e.logger.Debugw("precision restoration", "strong", kind == strongRestoration, "replaySplits", len(replay))
			var err error
			if kind == strongRestoration {
				err = e.precision.RestoreStrong(e.tableau, e.constraints, replay)
			} else {
				err = e.precision.RestoreWeak(e.tableau, e.constraints, replay)
			}
			if err != nil {
				if res, fatal := e.handleMalformedBasis(); fatal {
					return res
				}
				continue
			}
			e.cost.Invalidate()
			// After restoration, degradation must fall below threshold;
			// otherwise retry once without basis restoration (weak), and a
			// second consecutive failure is fatal.
			if e.tableau.Degradation() > e.cfg.DegradationThreshold {
				if e.restorationRetried {
					return Result{Code: ERROR, Err: ErrRestorationFailed}
				}
				e.restorationRetried = true
				e.pendingRestoration = weakRestoration
				continue
			}
			e.restorationRetried = false
			e.malformedBasisStrikes = 0
			continue
		}

		// Step 3: periodic degradation check.
		e.iterationsSinceDegradationCheck++
		if e.iterationsSinceDegradationCheck >= e.cfg.DegradationCheckFrequency {
			e.iterationsSinceDegradationCheck = 0
			if e.tableau.Degradation() > e.cfg.DegradationThreshold {
				e.pendingRestoration = strongRestoration
				continue
			}
		}

		// Step 4: explicit-basis bound tightening.
		if _, err := e.rowTightener.Tighten(e.tableau); err != nil {
			if res, handled := e.handleInfeasible(err); handled {
				return res
			}
			continue
		}
		if tgs, err := e.constraintTightener.Tighten(e.tableau, e.constraints); err != nil {
			if res, handled := e.handleInfeasible(err); handled {
				return res
			}
			continue
		} else {
			e.Stats.Tightenings += len(tgs)
		}
		// Tightenings may have slid non-basic variables onto new bounds;
		// resynchronize the basic assignment before reasoning about it.
		if e.tableau.Status() == AssignmentInvalid {
			if err := e.tableau.ComputeAssignment(); err != nil {
				if res, fatal := e.handleMalformedBasis(); fatal {
					return res
				}
				continue
			}
		}

		// Step 5: SMT split request.
		if attention != nil && e.splitStack.NeedToSplit(attention) {
			chosen := PickSplittingConstraint(e.constraints)
			if chosen != nil {
				split := e.splitStack.PerformSplit(e.tableau, e.constraints, chosen)
				e.Stats.Splits++
				e.logger.Debugw("case split", "constraint", chosen.ID(), "depth", e.splitStack.Depth(), "split", split.String())
				// The decision's owner is settled for this branch; leaving
				// it active would let propagation re-record the decision as
				// an implied split and bleed it into sibling branches.
				chosen.SetActive(false)
				if err := applySplitToTableau(e.tableau, split); err != nil {
					if res, handled := e.handleInfeasible(err); handled {
						return res
					}
					continue
				}
				e.propagateValidSplits()
				continue
			}
		}

		// Step 6: crossed bounds.
		if e.anyBoundCrossed() {
			if res, handled := e.handleInfeasible(ErrInfeasibleQuery); handled {
				return res
			}
			continue
		}

		// Step 7 / Step 8: feasibility w.r.t. bounds decides the branch.
		if len(e.tableau.OutOfBounds()) == 0 {
			violated := e.collectViolatedPL()
			if len(violated) == 0 {
				if err := e.tableau.ComputeAssignment(); err != nil {
					if res, handled := e.handleInfeasible(err); handled {
						return res
					}
					continue
				}
				return e.buildSATResult()
			}

			for _, v := range violated {
				e.splitStack.ReportViolatedConstraint(v)
				v.UpdateScore(1, e.cfg)
			}
			attention = e.splitStack.ChooseViolatedConstraintForFixing(violated)
			if err := e.applyConstraintFix(attention); err != nil {
				if res, handled := e.handleInfeasible(err); handled {
					return res
				}
				continue
			}
			e.propagateValidSplits()
			continue
		}

		// Step 8: simplex step.
		if err := e.simplexStep(); err != nil {
			if res, handled := e.handleInfeasible(err); handled {
				return res
			}
			continue
		}
	}
}

// propagateValidSplits runs tightening to saturation and retires any newly
// phase-fixed PL constraint by recording its valid split: frame-scoped when a decision is on the stack, permanent at the
// root.
func (e *Engine) propagateValidSplits() {
	for {
		_, _ = e.rowTightener.Tighten(e.tableau)
		tgs, err := e.constraintTightener.Tighten(e.tableau, e.constraints)
		if err != nil {
			return
		}
		e.Stats.Tightenings += len(tgs)

		retired := false
		for _, c := range e.constraints {
			if c.PhaseFixed() && c.IsActive() {
				split := c.ValidCaseSplit()
				if e.splitStack.Depth() == 0 {
					e.rootValidSplits = append(e.rootValidSplits, split)
				} else {
					e.splitStack.RecordImpliedValidSplit(split)
				}
				c.SetActive(false)
				retired = true
			}
		}
		if !retired {
			return
		}
	}
}

func (e *Engine) collectViolatedPL() []PLConstraint {
	var violated []PLConstraint
	for _, c := range e.constraints {
		if !c.IsActive() {
			continue
		}
		if !c.Satisfied(e.tableau, e.cfg.SatisfactionTolerance) {
			violated = append(violated, c)
		}
	}
	return violated
}

// applyConstraintFix repairs a violated PL constraint by moving the
// current point, never by narrowing a variable's bounds.
// It first looks for a fix targeting an already non-basic variable, whose
// assignment can be set directly; failing that, it pivots a basic fix
// target out of the basis (a degenerate pivot that doesn't move the
// current point) and then sets its assignment. A fix outside the
// variable's bounds is skipped (see fixWithinBounds).
func (e *Engine) applyConstraintFix(c PLConstraint) error {
	fixes := c.PossibleFixes(e.tableau)
	if len(fixes) == 0 {
		return nil
	}

	for _, fix := range fixes {
		if !e.tableau.IsBasic(fix.VarID) && e.fixWithinBounds(fix) {
			return e.tableau.SetNonBasicAssignment(fix.VarID, fix.Value)
		}
	}

	for _, fix := range fixes {
		if e.tableau.IsBasic(fix.VarID) && e.fixWithinBounds(fix) {
			if err := e.tableau.PivotToNonBasic(fix.VarID); err != nil {
				continue
			}
			return e.tableau.SetNonBasicAssignment(fix.VarID, fix.Value)
		}
	}
	return nil
}

func (e *Engine) fixWithinBounds(fix Fix) bool {
	return fix.Value >= e.tableau.LowerBound(fix.VarID)-1e-9 && fix.Value <= e.tableau.UpperBound(fix.VarID)+1e-9
}

func (e *Engine) anyBoundCrossed() bool {
	for x := 0; x < e.tableau.n; x++ {
		if e.tableau.lower[x] > e.tableau.upper[x]+1e-9 {
			return true
		}
	}
	return false
}

// simplexStep performs one entry/leave pivot using the cost-function
// manager's projected-steepest-edge rule. When the
// entering variable's own bound is the binding limit, the step degrades to
// a bound flip with no basis change.
func (e *Engine) simplexStep() error {
	e.cost.Recompute()
	if e.cost.PhaseOneCost() < 1e-9 {
		return nil
	}
	enter, col, leave, dir, ok := e.cost.PickEntering(5)
	if !ok {
		return wrapf("Engine.simplexStep", ErrInfeasibleQuery)
	}

	avail := e.tableau.AvailableSlide(enter, dir)
	if avail <= leave.MaxDelta {
		if math.IsInf(avail, 1) {
			// No basic row limits the move and the entering variable is
			// unbounded in this direction; the basis no longer reflects
			// the system.
			return wrapf("Engine.simplexStep", ErrMalformedBasis)
		}
		e.tableau.PerformBoundFlip(enter, col, avail*dir)
		return nil
	}

	delta := leave.MaxDelta * dir
	pivotRow := e.tableau.computePivotRow(leave.Row)
	start := time.Now()
	pivotElement := e.tableau.PerformPivot(enter, leave, col, delta)
	e.Stats.TotalPivotMicros += time.Since(start).Microseconds()
	e.cost.UpdateReferenceWeights(pivotRow, pivotElement, leave.VarID)
	if math.Abs(delta) < 1e-12 {
		e.tableau.Stats.DegeneratePivots++
	}
	e.Stats.Pivots = e.tableau.Stats.Pivots
	e.Stats.DegeneratePivots = e.tableau.Stats.DegeneratePivots
	return nil
}

// handleInfeasible routes an infeasible node into backtracking: pop a
// split; declare global UNSAT if the stack empties. The bool reports
// whether the returned Result terminates the solve.
func (e *Engine) handleInfeasible(err error) (Result, bool) {
	split, ok, popErr := e.splitStack.PopSplit(e.tableau, e.constraints)
	e.Stats.Pops++
	if popErr != nil {
		return e.handleMalformedBasis()
	}
	if !ok {
		return Result{Code: UNSAT}, true
	}
	e.deactivateOwner(split)
	if applyErr := applySplitToTableau(e.tableau, split); applyErr != nil {
		return e.handleInfeasible(applyErr)
	}
	return Result{}, false
}

// deactivateOwner settles the owning constraint of a decision split applied
// during backtracking, mirroring the deactivation PerformSplit's caller
// does on the way down.
func (e *Engine) deactivateOwner(split CaseSplit) {
	for _, c := range e.constraints {
		if c.ID() == split.OwnerID {
			c.SetActive(false)
			return
		}
	}
}

// handleMalformedBasis implements the strong -> weak -> fatal escalation.
// The bool reports whether the Result is fatal; otherwise
// the main loop continues with a restoration pending.
func (e *Engine) handleMalformedBasis() (Result, bool) {
	e.malformedBasisStrikes++
	switch e.malformedBasisStrikes {
	case 1:
		e.pendingRestoration = strongRestoration
		return Result{}, false
	case 2:
		e.pendingRestoration = weakRestoration
		return Result{}, false
	default:
		return Result{Code: ERROR, Err: ErrMalformedBasis}, true
	}
}

func (e *Engine) buildSATResult() Result {
	e.logger.Infow("satisfying assignment found", "pivots", e.Stats.Pivots, "splits", e.Stats.Splits, "pops", e.Stats.Pops)
	assignment := make(map[int]float64, e.tableau.n)
	for x := 0; x < e.tableau.n; x++ {
		assignment[x] = e.tableau.Assignment(x)
	}
	if e.cfg.DebugAssignment != nil {
		for id, want := range e.cfg.DebugAssignment {
			if got, ok := assignment[id]; ok && math.Abs(got-want) > e.cfg.SatisfactionTolerance {
				return Result{Code: ERROR, Err: ErrDebuggingMismatch}
			}
		}
	}
	return Result{Code: SAT, Assignment: assignment}
}

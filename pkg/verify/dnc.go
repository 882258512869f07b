package verify

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/gitrdm/plverify/internal/dncpool"
)

// SubQuery is one leaf of the divide-and-conquer search tree: the sequence
// of CaseSplits that must be replayed against the shared PreprocessedQuery
// to reach this region, plus its own timeout budget.
type SubQuery struct {
	ID             string
	Splits         []CaseSplit
	TimeoutSeconds float64

	// SplitStack, when non-nil, is a msgpack-encoded copy of Splits (bound
	// tightenings only, no Equations) written by an online repartition when
	// Config.RestoreTreeStates is set; a worker with that setting replays
	// the decoded splits in place of Splits.
	SplitStack []byte
}

// serializableSplit mirrors CaseSplit in a form msgpack can round-trip;
// the Equations field is dropped since a repartitioned child only needs
// the tightenings to resume.
type serializableSplit struct {
	Tightenings []Tightening
	OwnerID     int
	PhaseLabel  Phase
}

func encodeSplitStack(splits []CaseSplit) ([]byte, error) {
	out := make([]serializableSplit, len(splits))
	for i, s := range splits {
		out[i] = serializableSplit{Tightenings: s.Tightenings, OwnerID: s.OwnerID, PhaseLabel: s.PhaseLabel}
	}
	return msgpack.Marshal(out)
}

func decodeSplitStack(data []byte) ([]CaseSplit, error) {
	var in []serializableSplit
	if err := msgpack.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	out := make([]CaseSplit, len(in))
	for i, s := range in {
		out[i] = CaseSplit{Tightenings: s.Tightenings, OwnerID: s.OwnerID, PhaseLabel: s.PhaseLabel}
	}
	return out, nil
}

// outcomeRank orders ExitCodes by the precedence a DnC run resolves
// concurrently-arriving results with: a single SAT anywhere
// wins immediately; otherwise TIMEOUT beats QUIT_REQUESTED beats ERROR beats
// UNSAT, and NOT_DONE never overrides anything.
func outcomeRank(c ExitCode) int {
	switch c {
	case SAT:
		return 5
	case TIMEOUT:
		return 4
	case QuitRequested:
		return 3
	case ERROR:
		return 2
	case UNSAT:
		return 1
	default:
		return 0
	}
}

// Manager runs a divide-and-conquer search over a shared PreprocessedQuery:
// an initial pool of SubQueries is solved by independent Engines on a
// worker pool, with timed-out leaves online-repartitioned into smaller
// children.
type Manager struct {
	pq          *PreprocessedQuery
	constraints []PLConstraint
	cfg         *Config
	logger      *zap.SugaredLogger
	divider     *Divider

	pool  *dncpool.Pool
	queue chan *SubQuery

	pending atomic.Int64
	active  atomic.Int64

	totalPivots      atomic.Int64
	totalPivotMicros atomic.Int64

	resultMu sync.Mutex
	result   Result
	haveAny  bool

	cancel context.CancelFunc
}

// NewManager builds a DnC manager over pq's shared, read-only problem
// definition. constraints must be fresh instances (not shared with any
// other Engine) since Manager duplicates them per-worker via
// DuplicateConstraint.
func NewManager(pq *PreprocessedQuery, constraints []PLConstraint, cfg *Config, logger *zap.SugaredLogger) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{
		pq:          pq,
		constraints: constraints,
		cfg:         cfg,
		logger:      logger,
		divider:     NewDivider(cfg),
		result:      Result{Code: NotDone},
	}
}

// Run seeds the queue with 2^InitialDivides subqueries and drives them to
// completion, returning the highest-precedence outcome observed. A positive
// Config.TimeoutInSeconds bounds the whole run's wall clock; expiry cancels
// every worker and resolves to TIMEOUT unless a SAT already landed.
func (m *Manager) Run(ctx context.Context) Result {
	var runCtx context.Context
	var cancel context.CancelFunc
	if m.cfg.TimeoutInSeconds > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(m.cfg.TimeoutInSeconds*float64(time.Second)))
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	m.cancel = cancel
	defer cancel()

	numWorkers := m.cfg.NumWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	m.pool = dncpool.New(numWorkers)
	defer m.pool.Shutdown()

	leaves := m.divider.Seed(m.pq, m.constraints, m.cfg.InitialDivides)
	initialTimeout := m.cfg.effectiveInitialTimeout(len(m.constraints)).Seconds()

	m.queue = make(chan *SubQuery, subQueryQueueCapacity)
	for _, splits := range leaves {
		if err := m.enqueue(&SubQuery{ID: uuid.NewString(), Splits: splits, TimeoutSeconds: initialTimeout}); err != nil {
			m.record(Result{Code: ERROR, Err: err})
			return m.finalResult()
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		workerID := i
		if err := m.pool.Submit(runCtx, func() {
			defer wg.Done()
			m.workerLoop(runCtx, workerID)
		}); err != nil {
			wg.Done()
			m.record(Result{Code: ERROR, Err: err})
		}
	}
	wg.Wait()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		m.record(Result{Code: TIMEOUT})
	} else if ctx.Err() != nil {
		m.record(Result{Code: QuitRequested})
	}
	return m.finalResult()
}

// subQueryQueueCapacity bounds the queue channel. The queue is
// unbounded-by-contract; a push refused at this capacity is treated as
// resource exhaustion, not backpressure.
const subQueryQueueCapacity = 1 << 16

func (m *Manager) enqueue(sq *SubQuery) error {
	if m.cfg.SubQueryDumpDir != "" {
		path := filepath.Join(m.cfg.SubQueryDumpDir, sq.ID+".splits")
		if err := DumpCaseSplits(path, sq.Splits); err != nil {
			m.logger.Warnw("subquery dump failed", "path", path, "err", err)
		}
	}
	m.pending.Add(1)
	m.pool.Watchdog().Watch(sq.ID)
	select {
	case m.queue <- sq:
		return nil
	default:
		m.pending.Add(-1)
		m.pool.Watchdog().Done(sq.ID)
		return wrapf("Manager.enqueue", ErrQueueFailure)
	}
}

// Pending returns the number of outstanding subqueries, for the summary
// file's pendingOrFixed field.
func (m *Manager) Pending() int64 { return m.pending.Load() }

// AvgPivotMicros aggregates pivot timing across every worker engine.
func (m *Manager) AvgPivotMicros() float64 {
	pivots := m.totalPivots.Load()
	if pivots == 0 {
		return 0
	}
	return float64(m.totalPivotMicros.Load()) / float64(pivots)
}

// workerLoop implements the MPMC consumer side: pop and solve. A subquery
// that times out while the global context is still live is repartitioned;
// one that times out after the global context ends is recorded as TIMEOUT.
// An empty queue is not a termination signal by itself (other workers may
// still repartition and refill it) so an idle worker busy-waits for 100ms
// before re-checking.
func (m *Manager) workerLoop(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var sq *SubQuery
		select {
		case sq = <-m.queue:
		default:
			if m.pending.Load() == 0 {
				return
			}
			select {
			case <-ctx.Done():
				return
			case sq = <-m.queue:
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		m.active.Add(1)
		m.solveSubQuery(ctx, sq)
		m.active.Add(-1)
		m.pending.Add(-1)
		m.pool.Watchdog().Done(sq.ID)

		if m.pending.Load() == 0 && m.active.Load() == 0 {
			m.cancel()
		}
	}
}

func (m *Manager) solveSubQuery(ctx context.Context, sq *SubQuery) {
	// Each worker engine gets private duplicates of the PL constraints;
	// the shared PreprocessedQuery itself is never mutated.
	constraints := make([]PLConstraint, len(m.constraints))
	for i, c := range m.constraints {
		constraints[i] = c.DuplicateConstraint()
	}
	workerPQ := *m.pq
	workerPQ.Constraints = constraints

	engine, err := NewEngine(&workerPQ, m.cfg, m.logger)
	if err != nil {
		m.record(Result{Code: ERROR, Err: err})
		return
	}

	splits := sq.Splits
	if m.cfg.RestoreTreeStates && sq.SplitStack != nil {
		if decoded, derr := decodeSplitStack(sq.SplitStack); derr == nil {
			splits = decoded
		}
	}
	for _, split := range splits {
		if err := applySplitToTableau(engine.tableau, split); err != nil {
			// This leaf's region is empty; its verdict is UNSAT and the
			// pending count alone decides whether the whole query is.
			m.record(Result{Code: UNSAT})
			return
		}
	}

	// The per-subquery budget is the engine's own wall-clock deadline, so a
	// blown budget surfaces as TIMEOUT (and triggers repartition below);
	// ctx stays reserved for the cooperative global quit.
	engine.SetDeadline(time.Now().Add(time.Duration(sq.TimeoutSeconds * float64(time.Second))))
	res := engine.Solve(ctx)
	m.totalPivots.Add(int64(engine.Stats.Pivots))
	m.totalPivotMicros.Add(engine.Stats.TotalPivotMicros)

	if res.Code == TIMEOUT && ctx.Err() == nil {
		children := m.divider.Repartition(m.pq, m.constraints, sq.Splits, m.cfg.OnlineDivides)
		childTimeout := sq.TimeoutSeconds * m.cfg.TimeoutFactor
		for _, childSplits := range children {
			child := &SubQuery{ID: uuid.NewString(), Splits: childSplits, TimeoutSeconds: childTimeout}
			if m.cfg.RestoreTreeStates {
				if encoded, eerr := encodeSplitStack(childSplits); eerr == nil {
					child.SplitStack = encoded
				}
			}
			if err := m.enqueue(child); err != nil {
				m.record(Result{Code: ERROR, Err: err})
				return
			}
		}
		return
	}

	m.record(res)
}

func (m *Manager) record(res Result) {
	m.resultMu.Lock()
	defer m.resultMu.Unlock()
	if !m.haveAny || outcomeRank(res.Code) > outcomeRank(m.result.Code) {
		m.result = res
		m.haveAny = true
	}
	// SAT, ERROR, and QUIT_REQUESTED all end the search immediately; only
	// UNSAT waits for the pending counter to drain to zero.
	switch res.Code {
	case SAT, ERROR, QuitRequested:
		m.cancel()
	}
}

func (m *Manager) finalResult() Result {
	m.resultMu.Lock()
	defer m.resultMu.Unlock()
	if !m.haveAny {
		return Result{Code: UNSAT}
	}
	if m.result.Code == NotDone {
		return Result{Code: UNSAT}
	}
	return m.result
}

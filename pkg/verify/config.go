// Package verify implements a verification engine for feed-forward neural
// networks with piecewise-linear activations (ReLU, Max, Sign). It combines
// a revised-simplex tableau with a case-splitting search over the
// piecewise-linear pieces, and optionally parallelizes that search through a
// divide-and-conquer manager.
//
// The engine separates an immutable problem definition (InputQuery, Config)
// from mutable solving state (EngineState, split stack). Multiple Engines
// can share the same preprocessed InputQuery read-only, enabling lock-free
// parallel search: each worker owns its own Engine and its own state chain.
package verify

import "time"

// DivideStrategy selects how the query divider partitions the input space.
type DivideStrategy int

const (
	DivideAuto DivideStrategy = iota
	DivideSplitReLU
	DivideLargestInterval
)

func (d DivideStrategy) String() string {
	switch d {
	case DivideSplitReLU:
		return "split-relu"
	case DivideLargestInterval:
		return "largest-interval"
	default:
		return "auto"
	}
}

// BiasStrategy selects how a ReLU-based divider breaks ties among candidates.
type BiasStrategy int

const (
	BiasCentroid BiasStrategy = iota
	BiasSampling
	BiasRandom
	BiasEstimate
)

// Config is an immutable collection of solver tunables, built once at
// construction time and threaded through every component. Nothing in this
// package reads process-wide/global configuration state.
type Config struct {
	// NumWorkers is the number of DnC worker goroutines. 0 defaults to
	// runtime.NumCPU().
	NumWorkers int `yaml:"numWorkers"`

	// InitialDivides is the number of bisection rounds used to seed the DnC
	// queue; the queue starts with 2^InitialDivides subqueries.
	InitialDivides int `yaml:"initialDivides"`

	// InitialTimeout is the per-subquery budget (seconds) for the initial
	// seed. If negative, the manager defaults it to constraintCount/10.
	InitialTimeout float64 `yaml:"initialTimeout"`

	// OnlineDivides is the number of bisection rounds applied to a
	// timed-out subquery when it is re-partitioned.
	OnlineDivides int `yaml:"onlineDivides"`

	// TimeoutInSeconds bounds the overall wall-clock search. 0 means
	// unbounded.
	TimeoutInSeconds float64 `yaml:"timeoutInSeconds"`

	// TimeoutFactor multiplies a parent subquery's timeout to produce its
	// children's timeout on re-partition. Must be > 1.
	TimeoutFactor float64 `yaml:"timeoutFactor"`

	// Verbosity is 0, 1, or 2.
	Verbosity int `yaml:"verbosity"`

	// DNC enables the divide-and-conquer manager instead of a single
	// sequential engine.
	DNC bool `yaml:"dnc"`

	// RestoreTreeStates replays a worker's SMT split-stack (serialized on
	// the owning SubQuery) instead of re-deriving it from the case split
	// alone.
	RestoreTreeStates bool `yaml:"restoreTreeStates"`

	// LookAheadPreprocessing enables the parallel phase-inference pass
	// (C10) before the main solve.
	LookAheadPreprocessing bool `yaml:"lookAheadPreprocessing"`

	// PreprocessOnly stops after preprocessing (and look-ahead, if
	// enabled) and reports fixed phases without running the main search.
	PreprocessOnly bool `yaml:"preprocessOnly"`

	// DivideStrategy selects the query divider.
	DivideStrategy DivideStrategy `yaml:"divideStrategy"`

	// BiasStrategy selects tie-breaking within the ReLU divider.
	BiasStrategy BiasStrategy `yaml:"biasStrategy"`

	// MaxDepth caps the number of row-tightening rounds each look-ahead
	// probe runs.
	MaxDepth int `yaml:"maxDepth"`

	// SplitThreshold is the per-constraint violation count that triggers
	// a case split. Default 20.
	SplitThreshold int `yaml:"splitThreshold"`

	// DegradationCheckFrequency is the number of main-loop iterations
	// between degradation checks.
	DegradationCheckFrequency int `yaml:"degradationCheckFrequency"`

	// DegradationThreshold is the maximum tolerated residual
	// ||B*x_B - (b - A_N*x_N)||_inf before precision restoration fires.
	DegradationThreshold float64 `yaml:"degradationThreshold"`

	// PivotEntryThreshold is the minimum acceptable pivot-entry magnitude
	// before a pivot counts as numerically unstable.
	PivotEntryThreshold float64 `yaml:"pivotEntryThreshold"`

	// SatisfactionTolerance is the slack tolerance used by
	// PLConstraint.Satisfied and by the final soundness check.
	SatisfactionTolerance float64 `yaml:"satisfactionTolerance"`

	// AlphaTime is the branching-score decay factor used by UpdateScore.
	// AlphaSpatial is loaded with the configuration; no code reads it.
	AlphaTime    float64 `yaml:"alphaTime"`
	AlphaSpatial float64 `yaml:"alphaSpatial"`

	// LookAheadDepthDivisor is K in the look-ahead probe depth
	// "depth ~= remainingConstraints / K".
	LookAheadDepthDivisor int `yaml:"lookAheadDepthDivisor"`

	// ReLURuntimeEstimateFloor is the floor used by the ReLU-based divider
	// filter: threshold = max(constraintCount/20, ReLURuntimeEstimateFloor).
	ReLURuntimeEstimateFloor int `yaml:"reluRuntimeEstimateFloor"`

	// DebugAssignment, if non-nil, is compared against any extracted SAT
	// solution as a soundness self-check.
	DebugAssignment map[int]float64 `yaml:"debugAssignment,omitempty"`

	// SummaryFile, when non-empty, receives the one-line run summary; in
	// preprocess mode a sibling .fixed file lists the phases look-ahead
	// pinned.
	SummaryFile string `yaml:"summaryFile,omitempty"`

	// SubQueryDumpDir, when non-empty, receives one case-split text file
	// per enqueued subquery.
	SubQueryDumpDir string `yaml:"subQueryDumpDir,omitempty"`
}

// DefaultConfig returns the engine's default tunables.
func DefaultConfig() *Config {
	return &Config{
		NumWorkers:                0,
		InitialDivides:            0,
		InitialTimeout:            -1,
		OnlineDivides:             0,
		TimeoutInSeconds:          0,
		TimeoutFactor:             1.5,
		Verbosity:                 0,
		DNC:                       false,
		RestoreTreeStates:         false,
		LookAheadPreprocessing:    false,
		PreprocessOnly:            false,
		DivideStrategy:            DivideAuto,
		BiasStrategy:              BiasCentroid,
		MaxDepth:                  5,
		SplitThreshold:            20,
		DegradationCheckFrequency: 200,
		DegradationThreshold:      1e-6,
		PivotEntryThreshold:       1e-3,
		SatisfactionTolerance:     1e-5,
		AlphaTime:                 0.4,
		AlphaSpatial:              0.8,
		LookAheadDepthDivisor:     5,
		ReLURuntimeEstimateFloor:  5,
	}
}

// Validate reports whether the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.TimeoutFactor <= 1 {
		return newConfigError("TimeoutFactor must be > 1")
	}
	if c.Verbosity < 0 || c.Verbosity > 2 {
		return newConfigError("Verbosity must be in [0, 2]")
	}
	if c.SplitThreshold <= 0 {
		return newConfigError("SplitThreshold must be positive")
	}
	return nil
}

// effectiveInitialTimeout resolves a negative InitialTimeout against the
// query's constraint count.
func (c *Config) effectiveInitialTimeout(constraintCount int) time.Duration {
	secs := c.InitialTimeout
	if secs < 0 {
		secs = float64(constraintCount) / 10.0
	}
	return time.Duration(secs * float64(time.Second))
}

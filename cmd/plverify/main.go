// Command plverify runs the piecewise-linear verification engine against a
// network query described on disk, exposing the solver's tunables as CLI
// flags.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/gitrdm/plverify/pkg/verify"
)

func main() {
	var exitCode int
	if err := newRootCmd(&exitCode).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(verify.ERROR))
	}
	os.Exit(exitCode)
}

func newRootCmd(exitCode *int) *cobra.Command {
	cfg := verify.DefaultConfig()
	var configPath string
	var queryPath string

	var divideStrategy, biasStrategy string

	cmd := &cobra.Command{
		Use:   "plverify",
		Short: "Verify piecewise-linear feed-forward networks against input/output properties",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				if err := loadYAMLConfig(configPath, cfg); err != nil {
					return err
				}
			}
			applyStrategyFlags(cfg, divideStrategy, biasStrategy)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), queryPath, cfg, exitCode)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "YAML file overriding default tunables")
	cmd.Flags().StringVar(&queryPath, "query", "", "path to a serialized InputQuery (msgpack)")
	cmd.Flags().IntVar(&cfg.NumWorkers, "numWorkers", cfg.NumWorkers, "DnC worker count (0 = NumCPU)")
	cmd.Flags().IntVar(&cfg.InitialDivides, "initialDivides", cfg.InitialDivides, "initial bisection rounds (2^n seed subqueries)")
	cmd.Flags().Float64Var(&cfg.InitialTimeout, "initialTimeout", cfg.InitialTimeout, "seconds per seed subquery, -1 to auto-derive")
	cmd.Flags().IntVar(&cfg.OnlineDivides, "onlineDivides", cfg.OnlineDivides, "bisection rounds applied to a timed-out subquery")
	cmd.Flags().Float64Var(&cfg.TimeoutInSeconds, "timeoutInSeconds", cfg.TimeoutInSeconds, "overall wall-clock budget, 0 = unbounded")
	cmd.Flags().Float64Var(&cfg.TimeoutFactor, "timeoutFactor", cfg.TimeoutFactor, "per-repartition timeout multiplier")
	cmd.Flags().IntVar(&cfg.Verbosity, "verbosity", cfg.Verbosity, "0, 1, or 2")
	cmd.Flags().BoolVar(&cfg.DNC, "dnc", cfg.DNC, "enable the divide-and-conquer manager")
	cmd.Flags().BoolVar(&cfg.RestoreTreeStates, "restoreTreeStates", cfg.RestoreTreeStates, "replay serialized split-stacks on repartition")
	cmd.Flags().BoolVar(&cfg.LookAheadPreprocessing, "lookAheadPreprocessing", cfg.LookAheadPreprocessing, "run the parallel phase-inference pass before search")
	cmd.Flags().BoolVar(&cfg.PreprocessOnly, "preprocessOnly", cfg.PreprocessOnly, "stop after preprocessing and report fixed phases")
	cmd.Flags().IntVar(&cfg.MaxDepth, "maxDepth", cfg.MaxDepth, "row-tightening round cap per look-ahead probe")
	cmd.Flags().IntVar(&cfg.SplitThreshold, "splitThreshold", cfg.SplitThreshold, "violation count that triggers a case split")
	cmd.Flags().StringVar(&divideStrategy, "divideStrategy", "auto", "auto, split-relu, or largest-interval")
	cmd.Flags().StringVar(&biasStrategy, "biasStrategy", "centroid", "centroid, sampling, random, or estimate")
	cmd.Flags().StringVar(&cfg.SummaryFile, "summaryFile", cfg.SummaryFile, "path receiving the one-line run summary")
	cmd.Flags().StringVar(&cfg.SubQueryDumpDir, "dumpSubQueries", cfg.SubQueryDumpDir, "directory receiving one case-split file per subquery")

	return cmd
}

func applyStrategyFlags(cfg *verify.Config, divide, bias string) {
	switch divide {
	case "split-relu":
		cfg.DivideStrategy = verify.DivideSplitReLU
	case "largest-interval":
		cfg.DivideStrategy = verify.DivideLargestInterval
	default:
		cfg.DivideStrategy = verify.DivideAuto
	}
	switch bias {
	case "sampling":
		cfg.BiasStrategy = verify.BiasSampling
	case "random":
		cfg.BiasStrategy = verify.BiasRandom
	case "estimate":
		cfg.BiasStrategy = verify.BiasEstimate
	default:
		cfg.BiasStrategy = verify.BiasCentroid
	}
}

func loadYAMLConfig(path string, cfg *verify.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return verify.WrapConfigLoad(path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return verify.WrapConfigLoad(path, err)
	}
	return nil
}

func run(ctx context.Context, queryPath string, cfg *verify.Config, exitCode *int) error {
	logger := newLogger(cfg.Verbosity)
	defer logger.Sync()

	if queryPath == "" {
		return fmt.Errorf("plverify: --query is required")
	}
	q, err := verify.LoadInputQuery(queryPath)
	if err != nil {
		return err
	}
	if err := q.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.TimeoutInSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.TimeoutInSeconds*float64(time.Second)))
		defer cancel()
	}

	start := time.Now()

	pre := verify.NewPreprocessor(cfg)
	pq, err := pre.Process(q)
	if err != nil {
		return err
	}

	lookAheadFixed := 0
	if cfg.LookAheadPreprocessing {
		la := verify.NewLookAhead(cfg)
		res, err := la.Run(ctx, pq)
		if err != nil {
			return err
		}
		lookAheadFixed = res.FixedCount
		logger.Infow("look-ahead complete", "fixedCount", res.FixedCount, "unsat", res.UNSAT)
		if res.UNSAT {
			fmt.Println(verify.UNSAT.String())
			if cfg.SummaryFile != "" {
				if err := verify.WriteSummary(cfg.SummaryFile, verify.UNSAT, time.Since(start), 0, 0); err != nil {
					return err
				}
			}
			*exitCode = int(verify.UNSAT)
			return nil
		}
		pq.Bounds = res.Bounds
		if cfg.PreprocessOnly {
			fmt.Printf("fixedPhases=%d\n", res.FixedCount)
			if cfg.SummaryFile != "" {
				if err := verify.WriteSummary(cfg.SummaryFile, verify.NotDone, time.Since(start), int64(res.FixedCount), 0); err != nil {
					return err
				}
				if err := verify.WriteFixedPhases(cfg.SummaryFile+".fixed", res.FixedPhases); err != nil {
					return err
				}
			}
			return nil
		}
	}

	var result verify.Result
	var pendingOrFixed int64
	var avgPivotMicros float64
	if cfg.DNC {
		mgr := verify.NewManager(pq, pq.Constraints, cfg, logger)
		result = mgr.Run(ctx)
		pendingOrFixed = mgr.Pending()
		avgPivotMicros = mgr.AvgPivotMicros()
	} else {
		engine, err := verify.NewEngine(pq, cfg, logger)
		if err != nil {
			return err
		}
		engine.Stats.LookAheadFixings = lookAheadFixed
		result = engine.Solve(ctx)
		avgPivotMicros = engine.Stats.AvgPivotMicros()
	}

	if cfg.SummaryFile != "" {
		if err := verify.WriteSummary(cfg.SummaryFile, result.Code, time.Since(start), pendingOrFixed, avgPivotMicros); err != nil {
			return err
		}
	}

	fmt.Println(result.Code.String())
	if result.Code == verify.SAT {
		for id, v := range result.Assignment {
			fmt.Printf("x%d = %g\n", id, v)
		}
	}
	if result.Err != nil {
		return result.Err
	}
	*exitCode = int(result.Code)
	return nil
}

func newLogger(verbosity int) *zap.SugaredLogger {
	zcfg := zap.NewProductionConfig()
	switch {
	case verbosity >= 2:
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case verbosity == 1:
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	default:
		zcfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	l, err := zcfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}

package verify

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// WriteSummary writes the one-line run summary:
// "RESULT elapsedSeconds pendingOrFixed avgPivotMicros".
func WriteSummary(path string, code ExitCode, elapsed time.Duration, pendingOrFixed int64, avgPivotMicros float64) error {
	line := fmt.Sprintf("%s %g %d %g\n", code, elapsed.Seconds(), pendingOrFixed, avgPivotMicros)
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		return wrapf("WriteSummary", err)
	}
	return nil
}

// WriteFixedPhases writes the preprocess-mode companion file: one
// "constraintId phase" line per phase the look-ahead pass pinned, in
// ascending constraint-id order.
func WriteFixedPhases(path string, fixed map[int]Phase) error {
	ids := make([]int, 0, len(fixed))
	for id := range fixed {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var sb strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&sb, "%d %d\n", id, fixed[id])
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return wrapf("WriteFixedPhases", err)
	}
	return nil
}

// DumpCaseSplits writes a subquery's case-split file: one line per bound
// tightening, "x{var} {op} {value}" with op in {<=, >=}.
func DumpCaseSplits(path string, splits []CaseSplit) error {
	var sb strings.Builder
	for _, split := range splits {
		for _, tg := range split.Tightenings {
			op := ">="
			if tg.Kind == UpperBoundTightening {
				op = "<="
			}
			fmt.Fprintf(&sb, "x%d %s %g\n", tg.VarID, op, tg.Value)
		}
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return wrapf("DumpCaseSplits", err)
	}
	return nil
}

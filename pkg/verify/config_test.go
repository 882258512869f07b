package verify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestConfigValidateRejectsBadTunables(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"timeout factor at one", func(c *Config) { c.TimeoutFactor = 1 }},
		{"verbosity out of range", func(c *Config) { c.Verbosity = 3 }},
		{"zero split threshold", func(c *Config) { c.SplitThreshold = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestDivideStrategyStrings(t *testing.T) {
	require.Equal(t, "auto", DivideAuto.String())
	require.Equal(t, "split-relu", DivideSplitReLU.String())
	require.Equal(t, "largest-interval", DivideLargestInterval.String())
}

func TestExitCodeStrings(t *testing.T) {
	require.Equal(t, "UNSAT", UNSAT.String())
	require.Equal(t, "SAT", SAT.String())
	require.Equal(t, "TIMEOUT", TIMEOUT.String())
	require.Equal(t, "QUIT_REQUESTED", QuitRequested.String())
	require.Equal(t, "NOT_DONE", NotDone.String())
	require.Equal(t, "NO_FEASIBLE", NoFeasible.String())
}

package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}

func TestStrategiesCommand(t *testing.T) {
	out, err := execute(t, "strategies")
	require.NoError(t, err)
	assert.Contains(t, out, "yosys")
	assert.Contains(t, out, "bayesian")

	out, err = execute(t, "strategies", "--tool", "verilator")
	require.NoError(t, err)
	assert.Contains(t, out, "verilator")
	assert.NotContains(t, out, "ensemble")
}

func TestOptimizeCommand(t *testing.T) {
	out, err := execute(t, "optimize",
		"--tool", "yosys",
		"--params", `{"opt_level": 1}`,
		"--targets", `{"quality": 80}`,
		"--strategy", "bayesian")
	require.NoError(t, err)
	assert.Contains(t, out, `"best_parameters"`)
	assert.Contains(t, out, `"strategy_used": "bayesian"`)
}

func TestOptimizeCommandInvalidStrategy(t *testing.T) {
	_, err := execute(t, "optimize",
		"--tool", "yosys",
		"--params", `{}`,
		"--targets", `{}`,
		"--strategy", "genetic")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid strategy")
}

func TestOptimizeCommandNeedsTool(t *testing.T) {
	// Reset the flag state left behind by earlier tests.
	optTool = ""
	optRequestFile = ""
	_, err := execute(t, "optimize")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--tool")
}

package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_KeyOrderIndependent(t *testing.T) {
	a := Fingerprint("yosys",
		map[string]any{"opt_level": 2.0, "abc_depth": 4.0},
		map[string]float64{"area": 100, "timing": 5})
	b := Fingerprint("yosys",
		map[string]any{"abc_depth": 4.0, "opt_level": 2.0},
		map[string]float64{"timing": 5, "area": 100})
	assert.Equal(t, a, b)
}

func TestFingerprint_NumericFormsAreCanonical(t *testing.T) {
	// 1, int64(1), float32(1), and 1.0 all render the same.
	base := Fingerprint("yosys", map[string]any{"opt_level": 1.0}, nil)
	assert.Equal(t, base, Fingerprint("yosys", map[string]any{"opt_level": 1}, nil))
	assert.Equal(t, base, Fingerprint("yosys", map[string]any{"opt_level": int64(1)}, nil))
	assert.Equal(t, base, Fingerprint("yosys", map[string]any{"opt_level": float32(1)}, nil))
}

func TestFingerprint_LargeIntegersKeepExactIdentity(t *testing.T) {
	// Beyond 2^53 adjacent int64 values collapse to one float64; the
	// fingerprint must still tell them apart.
	a := Fingerprint("yosys", map[string]any{"seed": int64(1<<53 + 1)}, nil)
	b := Fingerprint("yosys", map[string]any{"seed": int64(1<<53 + 2)}, nil)
	assert.NotEqual(t, a, b)

	assert.NotEqual(t,
		Fingerprint("yosys", map[string]any{"seed": int64(-(1<<53 + 1))}, nil),
		Fingerprint("yosys", map[string]any{"seed": int64(-(1<<53 + 2))}, nil))
}

func TestFingerprint_Distinguishes(t *testing.T) {
	base := Fingerprint("yosys", map[string]any{"opt_level": 1.0}, map[string]float64{"area": 100})

	assert.NotEqual(t, base,
		Fingerprint("nextpnr", map[string]any{"opt_level": 1.0}, map[string]float64{"area": 100}),
		"tool is part of the identity")
	assert.NotEqual(t, base,
		Fingerprint("yosys", map[string]any{"opt_level": 2.0}, map[string]float64{"area": 100}),
		"parameter values are part of the identity")
	assert.NotEqual(t, base,
		Fingerprint("yosys", map[string]any{"opt_level": 1.0}, map[string]float64{"area": 90}),
		"targets are part of the identity")
	assert.NotEqual(t, base,
		Fingerprint("yosys", map[string]any{"opt_level": "1"}, map[string]float64{"area": 100}),
		"a string is not the number it spells")
}

func TestRequestFingerprint_IgnoresStrategyModeConfidential(t *testing.T) {
	req := OptimizationRequest{
		Tool:       "yosys",
		Parameters: map[string]any{"opt_level": 1.0},
		Targets:    map[string]float64{"area": 100},
		Strategy:   StrategyBayesian,
	}
	base := RequestFingerprint(req)

	req.Strategy = StrategyEnsemble
	req.Mode = ModeManual
	req.Confidential = true
	assert.Equal(t, base, RequestFingerprint(req),
		"identical searches share one cache slot regardless of how they were requested")
}

func TestParseStrategy(t *testing.T) {
	for _, s := range AllStrategies {
		parsed, err := ParseStrategy(string(s))
		assert.NoError(t, err)
		assert.Equal(t, s, parsed)
		assert.True(t, s.Valid())
	}

	_, err := ParseStrategy("genetic")
	assert.ErrorIs(t, err, ErrInvalidStrategy)
	assert.False(t, Strategy("genetic").Valid())
}

func TestStrategyAutonomous(t *testing.T) {
	assert.True(t, StrategyBayesian.Autonomous())
	assert.True(t, StrategySemiAutomatic.Autonomous())
	assert.False(t, StrategyManual.Autonomous())
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobQueued.Terminal())
	assert.False(t, JobRunning.Terminal())
	assert.True(t, JobCompleted.Terminal())
	assert.True(t, JobFailed.Terminal())
	assert.True(t, JobCancelled.Terminal())
}

func TestRequestClone(t *testing.T) {
	req := OptimizationRequest{
		Tool:       "yosys",
		Parameters: map[string]any{"opt_level": 1.0},
		Targets:    map[string]float64{"area": 100},
	}
	cp := req.Clone()
	cp.Parameters["opt_level"] = 3.0
	cp.Targets["area"] = 1

	assert.Equal(t, 1.0, req.Parameters["opt_level"])
	assert.Equal(t, 100.0, req.Targets["area"])
}

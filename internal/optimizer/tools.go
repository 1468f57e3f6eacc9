package optimizer

import (
	"math"

	"github.com/cadforge/cadopt/api/schemas"
)

// Bound is the inclusive numeric search range for one parameter.
type Bound struct {
	Min float64
	Max float64
	// Integer snaps candidate values to whole numbers.
	Integer bool
}

// ToolProfile describes what the optimizer knows about a CAD tool: which
// strategies it supports and the search bounds for its well-known numeric
// parameters.
type ToolProfile struct {
	Name       string
	Strategies []schemas.Strategy
	Bounds     map[string]Bound
	// Guidance holds manual-mode advice per parameter.
	Guidance map[string]string
}

// toolCatalog holds profiles for the tools the platform ships knowledge for.
// Unknown tools fall back to defaultProfile.
var toolCatalog = map[string]ToolProfile{
	"yosys": {
		Name:       "yosys",
		Strategies: schemas.AllStrategies,
		Bounds: map[string]Bound{
			"opt_level":    {Min: 0, Max: 3, Integer: true},
			"abc_depth":    {Min: 1, Max: 16, Integer: true},
			"flatten":      {Min: 0, Max: 1, Integer: true},
			"share_factor": {Min: 0, Max: 1},
		},
		Guidance: map[string]string{
			"opt_level": "raise opt_level before resorting to manual netlist surgery; level 3 trades runtime for area",
			"abc_depth": "deeper abc mapping helps timing-critical designs, rarely area",
			"flatten":   "flatten only when hierarchy blocks cross-module optimization",
		},
	},
	"nextpnr": {
		Name:       "nextpnr",
		Strategies: schemas.AllStrategies,
		Bounds: map[string]Bound{
			"seed":          {Min: 1, Max: 1 << 20, Integer: true},
			"placer_effort": {Min: 0.1, Max: 10},
			"router_effort": {Min: 0.1, Max: 10},
		},
		Guidance: map[string]string{
			"seed":          "sweep seeds before touching effort knobs; placement is seed-sensitive",
			"placer_effort": "higher placer effort buys fmax at near-linear runtime cost",
		},
	},
	"verilator": {
		Name: "verilator",
		// Verilator runs are too fast for the sampling-heavy strategies to
		// pay off; only the guided modes are on.
		Strategies: []schemas.Strategy{
			schemas.StrategyBayesian,
			schemas.StrategySemiAutomatic,
			schemas.StrategyManual,
		},
		Bounds: map[string]Bound{
			"opt_fast_level": {Min: 0, Max: 3, Integer: true},
			"unroll_count":   {Min: 0, Max: 1024, Integer: true},
		},
		Guidance: map[string]string{
			"unroll_count": "unrolling past the icache working set regresses simulation speed",
		},
	},
	"openroad": {
		Name:       "openroad",
		Strategies: schemas.AllStrategies,
		Bounds: map[string]Bound{
			"density":       {Min: 0.4, Max: 0.95},
			"clock_margin":  {Min: 0, Max: 0.3},
			"global_effort": {Min: 1, Max: 5, Integer: true},
		},
		Guidance: map[string]string{
			"density": "push density only after congestion maps are clean",
		},
	},
}

// defaultProfile covers tools the catalog does not know. All autonomous
// strategies are allowed; bounds are derived from the initial values.
var defaultProfile = ToolProfile{
	Strategies: schemas.AllStrategies,
}

// profileFor returns the profile for the tool, falling back to the default.
func profileFor(tool string) ToolProfile {
	if p, ok := toolCatalog[tool]; ok {
		return p
	}
	p := defaultProfile
	p.Name = tool
	return p
}

// Supports reports whether the profile allows the strategy.
func (p ToolProfile) Supports(strategy schemas.Strategy) bool {
	for _, s := range p.Strategies {
		if s == strategy {
			return true
		}
	}
	return false
}

// boundFor resolves the search range for a parameter. Catalog bounds win;
// otherwise the range is derived around the initial value.
func (p ToolProfile) boundFor(name string, initial float64) Bound {
	if b, ok := p.Bounds[name]; ok {
		return b
	}
	return derivedBound(initial)
}

// derivedBound builds a search window around an uncataloged parameter's
// initial value: half to double its magnitude, or [-1, 1] around zero.
func derivedBound(initial float64) Bound {
	if initial == 0 {
		return Bound{Min: -1, Max: 1}
	}
	lo := initial / 2
	hi := initial * 2
	if lo > hi {
		lo, hi = hi, lo
	}
	return Bound{Min: lo, Max: hi, Integer: initial == math.Trunc(initial)}
}

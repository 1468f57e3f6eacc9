package schemas

import "fmt"

// Strategy names one of the closed set of optimization approaches. The set is
// fixed at compile time; unknown strings are rejected at submission.
type Strategy string

const (
	StrategyBayesian         Strategy = "bayesian"
	StrategyTransferLearning Strategy = "transfer_learning"
	StrategyEnsemble         Strategy = "ensemble"
	StrategySemiAutomatic    Strategy = "semi_automatic"
	StrategyManual           Strategy = "manual"
)

// AllStrategies lists every supported strategy in a stable order, used by the
// strategy catalog endpoint and by exhaustiveness checks in tests.
var AllStrategies = []Strategy{
	StrategyBayesian,
	StrategyTransferLearning,
	StrategyEnsemble,
	StrategySemiAutomatic,
	StrategyManual,
}

// ParseStrategy validates a wire-format strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyBayesian, StrategyTransferLearning, StrategyEnsemble,
		StrategySemiAutomatic, StrategyManual:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("%w: unknown strategy %q", ErrInvalidStrategy, s)
}

// Valid reports whether the strategy is a member of the closed set.
func (s Strategy) Valid() bool {
	_, err := ParseStrategy(string(s))
	return err == nil
}

// Autonomous reports whether the strategy searches without a human in the
// loop. Manual is the only non-autonomous strategy.
func (s Strategy) Autonomous() bool {
	return s != StrategyManual
}

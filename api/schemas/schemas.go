package schemas

import "time"

// -- Request / Result Schemas --

// InteractionMode distinguishes fully autonomous optimization from the
// human-guided variants.
type InteractionMode string

const (
	// ModeAutonomous lets the selected strategy drive the search end to end.
	ModeAutonomous InteractionMode = "autonomous"
	// ModeSemiAutomatic blends the autonomous result with an external
	// recommendation vector using the configured trust weight.
	ModeSemiAutomatic InteractionMode = "semi_automatic"
	// ModeManual returns guidance annotations and leaves parameters untouched.
	ModeManual InteractionMode = "manual"
)

// OptimizationRequest describes a single parameter tuning job for a CAD tool.
// It is immutable once submitted; workers and strategies only ever read it.
type OptimizationRequest struct {
	Tool       string             `json:"tool"`
	ProjectID  string             `json:"project_id"`
	Parameters map[string]any     `json:"parameters"`
	Targets    map[string]float64 `json:"targets"`
	Strategy   Strategy           `json:"strategy"`
	Mode       InteractionMode    `json:"mode,omitempty"`
	// Confidential keeps the request and its result out of the cache and
	// the cross-project transfer corpus.
	Confidential bool `json:"confidential,omitempty"`
}

// Clone returns a deep copy of the request so callers can hold onto the
// original while workers operate on their own view.
func (r OptimizationRequest) Clone() OptimizationRequest {
	out := r
	out.Parameters = make(map[string]any, len(r.Parameters))
	for k, v := range r.Parameters {
		out.Parameters[k] = v
	}
	out.Targets = make(map[string]float64, len(r.Targets))
	for k, v := range r.Targets {
		out.Targets[k] = v
	}
	return out
}

// GuidanceNote is a single manual-mode recommendation. Manual runs return
// these instead of rewritten parameters.
type GuidanceNote struct {
	Parameter string `json:"parameter"`
	Advice    string `json:"advice"`
}

// OptimizationResult is the terminal output of a completed run. Created once
// by the optimizer and treated as read-only afterwards.
type OptimizationResult struct {
	Tool            string             `json:"tool"`
	BestParameters  map[string]any     `json:"best_parameters"`
	AchievedMetrics map[string]float64 `json:"achieved_metrics"`
	Confidence      float64            `json:"confidence"`
	StrategyUsed    Strategy           `json:"strategy_used"`
	Mode            InteractionMode    `json:"mode,omitempty"`
	Confidential    bool               `json:"confidential,omitempty"`
	Guidance        []GuidanceNote     `json:"guidance,omitempty"`
	Iterations      int                `json:"iterations"`
	Duration        time.Duration      `json:"duration"`
}

// ProgressEvent is a transient status snapshot pushed to subscribers while a
// job runs. Percent is non-decreasing within a job's lifetime.
type ProgressEvent struct {
	JobID       string             `json:"job_id"`
	Percent     float64            `json:"percent"`
	BestParams  map[string]any     `json:"best_params,omitempty"`
	BestMetrics map[string]float64 `json:"best_metrics,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

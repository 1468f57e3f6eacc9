// Package optimizer implements the AI-driven CAD parameter tuning engine: a
// Gaussian-process search over a tool's parameter space, wrapped in the
// strategy dispatch, result cache, and transfer corpus plumbing that the job
// queue drives.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cadforge/cadopt/api/schemas"
	"github.com/cadforge/cadopt/internal/audit"
	"github.com/cadforge/cadopt/internal/config"
)

// Deps bundles the collaborators an Optimizer needs. Cache, Corpus, and
// Recommender may be nil; the corresponding behavior degrades gracefully.
type Deps struct {
	Cache       schemas.Cache
	Corpus      schemas.Corpus
	Recommender schemas.Recommender
	Audit       audit.Recorder
	Evaluator   Evaluator
	Logger      *zap.Logger
}

// Optimizer turns OptimizationRequests into OptimizationResults. It is safe
// for concurrent use by multiple queue workers.
type Optimizer struct {
	cfg         config.OptimizerConfig
	cacheTTL    time.Duration
	cache       schemas.Cache
	corpus      schemas.Corpus
	recommender schemas.Recommender
	audit       audit.Recorder
	eval        Evaluator
	log         *zap.Logger

	// seedMu guards the root rng used to derive per-run generators.
	seedMu sync.Mutex
	rng    *rand.Rand
}

// New builds an Optimizer. A zero RandomSeed seeds from the clock; any other
// value makes every run of the process reproducible.
func New(cfg config.OptimizerConfig, cacheTTL time.Duration, deps Deps) *Optimizer {
	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if deps.Evaluator == nil {
		deps.Evaluator = NewSurrogate()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewMemoryRecorder()
	}
	return &Optimizer{
		cfg:         cfg,
		cacheTTL:    cacheTTL,
		cache:       deps.Cache,
		corpus:      deps.Corpus,
		recommender: deps.Recommender,
		audit:       deps.Audit,
		eval:        deps.Evaluator,
		log:         deps.Logger.Named("optimizer"),
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// ValidateRequest rejects malformed requests before they reach the queue:
// unknown strategies and strategy/tool combinations the tool profile does not
// allow both surface ErrInvalidStrategy.
func (o *Optimizer) ValidateRequest(req schemas.OptimizationRequest) error {
	if req.Tool == "" {
		return fmt.Errorf("request is missing a tool name")
	}
	strategy, err := schemas.ParseStrategy(string(req.Strategy))
	if err != nil {
		return err
	}
	if !profileFor(req.Tool).Supports(strategy) {
		return fmt.Errorf("%w: %s does not support strategy %q",
			schemas.ErrInvalidStrategy, req.Tool, strategy)
	}
	return nil
}

// Optimize runs one request end to end: cache lookup, strategy dispatch, and
// artifact persistence. The returned bool reports whether the result came
// from the cache, in which case it is byte-identical to the run that
// populated the entry. Confidential requests skip the cache and the corpus in
// both directions.
func (o *Optimizer) Optimize(ctx context.Context, jobID string, req schemas.OptimizationRequest, pub schemas.ProgressPublisher) (*schemas.OptimizationResult, bool, error) {
	if err := o.ValidateRequest(req); err != nil {
		return nil, false, err
	}
	req = req.Clone()
	if req.Mode == "" {
		req.Mode = defaultMode(req.Strategy)
	}

	fingerprint := schemas.RequestFingerprint(req)
	if cached, ok := o.lookupCache(ctx, fingerprint, req); ok {
		return cached, true, nil
	}

	o.audit.StrategySelected(jobID, req.Strategy, req.Tool)

	profile := profileFor(req.Tool)
	opts := searchOpts{
		cfg: o.cfg,
		rng: o.newRun(),
	}
	if pub != nil {
		opts.progress = func(percent float64, bestParams map[string]any, bestMetrics map[string]float64) {
			pub.Publish(schemas.ProgressEvent{
				JobID:       jobID,
				Percent:     percent,
				BestParams:  bestParams,
				BestMetrics: bestMetrics,
			})
		}
	}

	started := time.Now()
	var (
		res *schemas.OptimizationResult
		err error
	)
	switch req.Strategy {
	case schemas.StrategyBayesian:
		res, err = o.runBayesian(ctx, req, profile, opts)
	case schemas.StrategyTransferLearning:
		res, err = o.runTransfer(ctx, req, profile, opts)
	case schemas.StrategyEnsemble:
		res, err = o.runEnsemble(ctx, req, profile, opts)
	case schemas.StrategySemiAutomatic:
		res, err = o.runSemiAutomatic(ctx, req, profile, opts)
	case schemas.StrategyManual:
		res, err = o.runManual(ctx, req, profile, opts)
	default:
		// Unreachable after validation.
		return nil, false, fmt.Errorf("%w: %q", schemas.ErrInvalidStrategy, req.Strategy)
	}
	if err != nil {
		var pre *schemas.PartialResultError
		if errors.As(err, &pre) && pre.Partial != nil {
			o.finalize(pre.Partial, req, started)
		}
		return nil, false, err
	}

	o.finalize(res, req, started)
	if !req.Confidential {
		o.persist(ctx, fingerprint, req, res)
	}
	return res, false, nil
}

// finalize stamps the request's identity fields onto a result.
func (o *Optimizer) finalize(res *schemas.OptimizationResult, req schemas.OptimizationRequest, started time.Time) {
	res.StrategyUsed = req.Strategy
	res.Mode = req.Mode
	res.Confidential = req.Confidential
	if res.Duration == 0 {
		res.Duration = time.Since(started)
	}
}

// lookupCache returns a prior result for the fingerprint if one is live.
// Backend failures degrade to a miss; the run proceeds uncached.
func (o *Optimizer) lookupCache(ctx context.Context, fingerprint string, req schemas.OptimizationRequest) (*schemas.OptimizationResult, bool) {
	if o.cache == nil || req.Confidential {
		return nil, false
	}
	res, ok, err := o.cache.Get(ctx, fingerprint)
	if err != nil {
		o.log.Warn("Cache unavailable, proceeding without it",
			zap.String("fingerprint", fingerprint),
			zap.Error(errors.Join(schemas.ErrCacheUnavailable, err)))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	o.audit.CacheHit(fingerprint, req.Tool)
	return &res, true
}

// persist writes the completed run into the cache and the transfer corpus.
// Neither write can fail the job; errors are logged and dropped.
func (o *Optimizer) persist(ctx context.Context, fingerprint string, req schemas.OptimizationRequest, res *schemas.OptimizationResult) {
	if o.cache != nil {
		if err := o.cache.Put(ctx, fingerprint, *res, o.cacheTTL); err != nil {
			o.log.Warn("Failed to cache result", zap.String("fingerprint", fingerprint), zap.Error(err))
		}
	}
	if o.corpus != nil {
		run := schemas.CorpusRun{
			ProjectID:  req.ProjectID,
			Tool:       req.Tool,
			Parameters: res.BestParameters,
			Metrics:    res.AchievedMetrics,
			Confidence: res.Confidence,
			RecordedAt: time.Now(),
		}
		if err := o.corpus.Record(ctx, run); err != nil {
			o.log.Warn("Failed to record corpus run", zap.String("tool", req.Tool), zap.Error(err))
		}
	}
}

// Strategies describes the catalog for a tool, for the discovery endpoint.
func Strategies(tool string) []schemas.Strategy {
	if tool == "" {
		return schemas.AllStrategies
	}
	return profileFor(tool).Strategies
}

// Catalog lists every tool with a shipped profile, sorted by name.
func Catalog() []ToolProfile {
	names := make([]string, 0, len(toolCatalog))
	for name := range toolCatalog {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]ToolProfile, 0, len(names))
	for _, name := range names {
		out = append(out, toolCatalog[name])
	}
	return out
}

// newRun derives an independent rng for one optimization run.
func (o *Optimizer) newRun() *rand.Rand {
	o.seedMu.Lock()
	defer o.seedMu.Unlock()
	return rand.New(rand.NewSource(o.rng.Int63()))
}

func defaultMode(s schemas.Strategy) schemas.InteractionMode {
	switch s {
	case schemas.StrategyManual:
		return schemas.ModeManual
	case schemas.StrategySemiAutomatic:
		return schemas.ModeSemiAutomatic
	default:
		return schemas.ModeAutonomous
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

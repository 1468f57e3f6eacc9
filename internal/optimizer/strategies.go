package optimizer

import (
	"context"
	"errors"
	"math/rand"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cadforge/cadopt/api/schemas"
)

// runBayesian is the baseline autonomous search: expected improvement over a
// fresh GP, no prior knowledge beyond the request's own starting point.
func (o *Optimizer) runBayesian(ctx context.Context, req schemas.OptimizationRequest, profile ToolProfile, opts searchOpts) (*schemas.OptimizationResult, error) {
	opts.acquire = expectedImprovement
	sp := buildSpace(profile, req.Parameters)
	return searchLoop(ctx, o.eval, req, sp, opts)
}

// runTransfer seeds the search with parameter vectors from similar past runs
// in the corpus, then proceeds like the Bayesian strategy but with UCB, which
// exploits the warm start more aggressively. An empty corpus degrades to a
// cold-start search rather than failing.
func (o *Optimizer) runTransfer(ctx context.Context, req schemas.OptimizationRequest, profile ToolProfile, opts searchOpts) (*schemas.OptimizationResult, error) {
	opts.acquire = upperConfidenceBound
	sp := buildSpace(profile, req.Parameters)

	if o.corpus != nil {
		runs, err := o.corpus.Similar(ctx, req.Tool, req.Parameters, o.cfg.TransferSimilarRuns)
		if err != nil {
			if schemas.IsTransient(err) {
				return nil, err
			}
			o.log.Warn("Corpus lookup failed, searching cold", zap.Error(err))
		}
		for _, run := range runs {
			if seed, ok := sp.seedFrom(run.Parameters); ok {
				opts.seeds = append(opts.seeds, seed)
			}
		}
	}
	return searchLoop(ctx, o.eval, req, sp, opts)
}

// seedFrom projects a past run's parameters onto this space. Dimensions the
// run does not cover keep the request's initial value. Runs sharing no
// dimension contribute nothing.
func (sp *searchSpace) seedFrom(params map[string]any) ([]float64, bool) {
	x := append([]float64(nil), sp.initial...)
	matched := false
	for i, name := range sp.names {
		if f, ok := asFloat(params[name]); ok {
			x[i] = sp.bounds[i].clamp(f)
			matched = true
		}
	}
	return x, matched
}

// runEnsemble races the Bayesian and transfer strategies on half the
// iteration budget each and keeps whichever lands closer to the targets. A
// branch that only produced a partial result still competes; both branches
// failing outright fails the ensemble.
func (o *Optimizer) runEnsemble(ctx context.Context, req schemas.OptimizationRequest, profile ToolProfile, opts searchOpts) (*schemas.OptimizationResult, error) {
	half := o.cfg.MaxIterations / 2
	if half < 1 {
		half = 1
	}

	results := make([]*schemas.OptimizationResult, 2)
	partials := make([]*schemas.OptimizationResult, 2)
	errs := make([]error, 2)

	g, gctx := errgroup.WithContext(ctx)
	run := func(idx int, f func(context.Context, schemas.OptimizationRequest, ToolProfile, searchOpts) (*schemas.OptimizationResult, error), seed int64) {
		g.Go(func() error {
			branchOpts := opts
			branchOpts.budget = half
			branchOpts.rng = rand.New(rand.NewSource(seed))
			res, err := f(gctx, req, profile, branchOpts)
			switch {
			case err == nil:
				results[idx] = res
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				return err
			default:
				var pre *schemas.PartialResultError
				if errors.As(err, &pre) {
					partials[idx] = pre.Partial
				}
				errs[idx] = err
			}
			return nil
		})
	}
	run(0, o.runBayesian, opts.rng.Int63())
	run(1, o.runTransfer, opts.rng.Int63())
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if best := betterOf(results[0], results[1]); best != nil {
		return best, nil
	}
	if best := betterOf(partials[0], partials[1]); best != nil {
		return nil, &schemas.PartialResultError{Partial: best}
	}
	if errs[0] != nil {
		return nil, errs[0]
	}
	return nil, errs[1]
}

// betterOf picks the higher-confidence result; nil loses to anything.
func betterOf(a, b *schemas.OptimizationResult) *schemas.OptimizationResult {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.Confidence > a.Confidence:
		return b
	default:
		return a
	}
}

// runSemiAutomatic runs the Bayesian search, then blends its winning vector
// with the external recommendation weighted by the configured trust. The
// blended configuration is re-evaluated so the reported metrics describe what
// the caller will actually get. Without a recommender the result is the plain
// autonomous one.
func (o *Optimizer) runSemiAutomatic(ctx context.Context, req schemas.OptimizationRequest, profile ToolProfile, opts searchOpts) (*schemas.OptimizationResult, error) {
	// Thompson sampling keeps the autonomous half diverse, which matters more
	// here than squeezing the last bit of regret: the human vector gets
	// blended in afterwards anyway.
	opts.acquire = thompsonSample
	sp := buildSpace(profile, req.Parameters)
	res, err := searchLoop(ctx, o.eval, req, sp, opts)
	if err != nil {
		return nil, err
	}
	if o.recommender == nil {
		return res, nil
	}

	rec, err := o.recommender.Recommend(ctx, req)
	if err != nil {
		o.log.Warn("Recommendation unavailable, keeping autonomous result", zap.Error(err))
		return res, nil
	}

	trust := o.cfg.SemiAutoTrust
	blended := make(map[string]any, len(res.BestParameters))
	for k, v := range res.BestParameters {
		blended[k] = v
	}
	for i, name := range sp.names {
		rv, ok := asFloat(rec[name])
		if !ok {
			continue
		}
		av, _ := asFloat(res.BestParameters[name])
		blended[name] = sp.bounds[i].clamp(trust*rv + (1-trust)*av)
	}
	// Non-numeric recommendations win outright once trust crosses half.
	if trust >= 0.5 {
		for k, v := range rec {
			if _, numeric := asFloat(v); !numeric {
				if _, present := req.Parameters[k]; present {
					blended[k] = v
				}
			}
		}
	}

	achieved, err := o.eval.Evaluate(ctx, req.Tool, blended, metricNames(req.Targets))
	if err != nil {
		return nil, err
	}
	res.BestParameters = blended
	res.AchievedMetrics = achieved
	res.Confidence = confidenceFrom(loss(achieved, req.Targets))
	res.Iterations++
	return res, nil
}

// runManual performs no search at all: it evaluates the configuration as
// submitted and annotates it with the catalog's guidance for the parameters
// present, leaving the actual changes to the engineer.
func (o *Optimizer) runManual(ctx context.Context, req schemas.OptimizationRequest, profile ToolProfile, _ searchOpts) (*schemas.OptimizationResult, error) {
	achieved, err := o.eval.Evaluate(ctx, req.Tool, req.Parameters, metricNames(req.Targets))
	if err != nil {
		return nil, err
	}

	var notes []schemas.GuidanceNote
	for _, name := range sortedKeys(req.Parameters) {
		if advice, ok := profile.Guidance[name]; ok {
			notes = append(notes, schemas.GuidanceNote{Parameter: name, Advice: advice})
		}
	}

	return &schemas.OptimizationResult{
		Tool:            req.Tool,
		BestParameters:  req.Clone().Parameters,
		AchievedMetrics: achieved,
		Confidence:      confidenceFrom(loss(achieved, req.Targets)),
		Guidance:        notes,
		Iterations:      1,
	}, nil
}

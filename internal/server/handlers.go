package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cadforge/cadopt/api/schemas"
	"github.com/cadforge/cadopt/internal/optimizer"
	"github.com/cadforge/cadopt/internal/queue"
)

// optimizeRequest is the submission envelope: the optimization request plus
// queue directives that are not part of the cacheable identity.
type optimizeRequest struct {
	schemas.OptimizationRequest
	Priority schemas.Priority `json:"priority,omitempty"`
	// Wait runs the optimization inline and returns the result instead of a
	// job handle.
	Wait bool `json:"wait,omitempty"`
}

// optimizeResponse is the inline-completion envelope. CacheHit is reported
// here rather than inside the result, which stays byte-identical to the run
// that produced it.
type optimizeResponse struct {
	Result   *schemas.OptimizationResult `json:"result"`
	CacheHit bool                        `json:"cache_hit"`
}

type submitResponse struct {
	JobID  string            `json:"job_id"`
	Status schemas.JobStatus `json:"status"`
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	if req.Wait {
		// Inline runs have no job ID, so there is no feed to publish to; a
		// publisher here would pollute the hub's per-job ordering state.
		res, hit, err := s.opt.Optimize(r.Context(), "", req.OptimizationRequest, nil)
		if err != nil {
			s.writeOptimizeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, optimizeResponse{Result: res, CacheHit: hit})
		return
	}

	jobID, err := s.engine.Submit(req.OptimizationRequest, req.Priority)
	if err != nil {
		s.writeOptimizeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{JobID: jobID, Status: schemas.JobQueued})
}

type batchRequest struct {
	Requests []optimizeRequest `json:"requests"`
	// Wait runs every request inline, concurrently, and returns results.
	Wait bool `json:"wait,omitempty"`
}

type batchItem struct {
	JobID    string                      `json:"job_id,omitempty"`
	Result   *schemas.OptimizationResult `json:"result,omitempty"`
	CacheHit bool                        `json:"cache_hit,omitempty"`
	Error    string                      `json:"error,omitempty"`
}

func (s *Server) handleBatchOptimize(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if len(req.Requests) == 0 {
		writeError(w, http.StatusBadRequest, "batch contains no requests")
		return
	}

	items := make([]batchItem, len(req.Requests))
	if req.Wait {
		g, gctx := errgroup.WithContext(r.Context())
		for i, or := range req.Requests {
			g.Go(func() error {
				res, hit, err := s.opt.Optimize(gctx, "", or.OptimizationRequest, nil)
				if err != nil {
					items[i] = batchItem{Error: err.Error()}
					return nil
				}
				items[i] = batchItem{Result: res, CacheHit: hit}
				return nil
			})
		}
		_ = g.Wait()
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}

	for i, or := range req.Requests {
		jobID, err := s.engine.Submit(or.OptimizationRequest, or.Priority)
		if err != nil {
			items[i] = batchItem{Error: err.Error()}
			continue
		}
		items[i] = batchItem{JobID: jobID}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"items": items})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.engine.Status(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type strategyInfo struct {
	Name       schemas.Strategy `json:"name"`
	Autonomous bool             `json:"autonomous"`
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	tool := r.URL.Query().Get("tool")
	strategies := optimizer.Strategies(tool)
	out := make([]strategyInfo, len(strategies))
	for i, st := range strategies {
		out[i] = strategyInfo{Name: st, Autonomous: st.Autonomous()}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tool":       tool,
		"strategies": out,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	switch err := s.engine.Cancel(jobID); {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(schemas.JobCancelled)})
	case errors.Is(err, schemas.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, schemas.ErrJobNotCancellable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeOptimizeError maps engine and optimizer failures onto HTTP statuses.
func (s *Server) writeOptimizeError(w http.ResponseWriter, err error) {
	var pre *schemas.PartialResultError
	switch {
	case errors.Is(err, schemas.ErrInvalidStrategy):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &pre):
		// Budget exhausted: surface the best-known configuration with an
		// explicit non-success status.
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  schemas.ErrIterationLimitExceeded.Error(),
			"result": pre.Partial,
		})
	case errors.Is(err, queue.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error("Optimization request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

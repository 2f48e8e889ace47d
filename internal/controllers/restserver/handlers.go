package restserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/chrissnell/alphastep/internal/steps"
	"github.com/chrissnell/alphastep/internal/storage"
	"github.com/chrissnell/alphastep/pkg/config"
	"github.com/chrissnell/alphastep/pkg/responseformat"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

var errStoreDisabled = errors.New("run store not configured")

// Handlers contains all HTTP handlers for the REST server
type Handlers struct {
	controller *Controller
	formatter  *responseformat.Formatter
}

// NewHandlers creates a new handlers instance
func NewHandlers(ctrl *Controller) *Handlers {
	return &Handlers{
		controller: ctrl,
		formatter:  responseformat.NewFormatter(),
	}
}

// statusFor maps engine and storage errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, steps.ErrInvalidParameter), errors.Is(err, config.ErrProfileNotFound):
		return http.StatusBadRequest
	case errors.Is(err, steps.ErrFitDivergence):
		return http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errStoreDisabled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handlers) fail(w http.ResponseWriter, req *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.controller.logger.Errorf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	if werr := h.formatter.WriteError(w, req, status, err); werr != nil {
		h.controller.logger.Errorf("error writing error response: %v", werr)
	}
}

func (h *Handlers) write(w http.ResponseWriter, req *http.Request, status int, data any) {
	if err := h.formatter.WriteStatus(w, req, status, data, nil); err != nil {
		h.controller.logger.Errorf("error writing response: %v", err)
	}
}

func (h *Handlers) decode(req *http.Request, dst any) error {
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", steps.ErrInvalidParameter, err)
	}
	return nil
}

// analysisData returns the inline config if present, otherwise the profile.
func (h *Handlers) analysisData(profile string, inline *config.AnalysisData) (*config.AnalysisData, error) {
	if inline != nil {
		return inline, nil
	}
	return h.controller.configProvider.GetAnalysis(profile)
}

func (h *Handlers) checkSamples(samples []float64) error {
	if limit := h.controller.maxSamples(); limit > 0 && len(samples) > limit {
		return fmt.Errorf("%w: %d samples exceeds the limit of %d", steps.ErrInvalidParameter, len(samples), limit)
	}
	return nil
}

// Analyze runs the full pipeline on one submitted trace.
func (h *Handlers) Analyze(w http.ResponseWriter, req *http.Request) {
	var body AnalyzeRequest
	if err := h.decode(req, &body); err != nil {
		h.fail(w, req, err)
		return
	}
	if err := h.checkSamples(body.Samples); err != nil {
		h.fail(w, req, err)
		return
	}

	data, err := h.analysisData(body.Profile, body.Config)
	if err != nil {
		h.fail(w, req, err)
		return
	}
	cfg, err := data.EngineConfig()
	if err != nil {
		h.fail(w, req, err)
		return
	}

	var windows *steps.WindowSelection
	if data.AutoWindow {
		cfg, windows, err = steps.TuneDetectionWindow(body.Samples, cfg, data.WindowSearch.Search())
		if err != nil {
			h.fail(w, req, err)
			return
		}
	}

	analyzer, err := steps.NewAnalyzer(cfg, h.controller.logger)
	if err != nil {
		h.fail(w, req, err)
		return
	}
	an, err := analyzer.Analyze(body.Samples)
	if an == nil {
		h.fail(w, req, err)
		return
	}

	resp := newAnalyzeResponse(body.Name, an)
	resp.Windows = windows
	if h.controller.recorder != nil {
		rec := storage.NewRunRecord(body.Name, an)
		rec.ID = uuid.New()
		if err := h.controller.recorder.Record(rec); err != nil {
			h.controller.logger.Warnf("run %s not saved: %v", rec.ID, err)
		} else {
			resp.ID = rec.ID.String()
		}
	}

	status := http.StatusOK
	if err != nil {
		// The partial result from the last good stage is still returned.
		status = statusFor(err)
		resp.Error = err.Error()
	}
	h.write(w, req, status, resp)
}

// SelectWindows scores candidate detection windows, and optionally
// smoothing windows, for a submitted trace.
func (h *Handlers) SelectWindows(w http.ResponseWriter, req *http.Request) {
	var body WindowsRequest
	if err := h.decode(req, &body); err != nil {
		h.fail(w, req, err)
		return
	}
	if err := h.checkSamples(body.Samples); err != nil {
		h.fail(w, req, err)
		return
	}

	data, err := h.analysisData(body.Profile, body.Config)
	if err != nil {
		h.fail(w, req, err)
		return
	}
	cfg, err := data.EngineConfig()
	if err != nil {
		h.fail(w, req, err)
		return
	}
	searchData := data.WindowSearch
	if body.Search != nil {
		searchData = *body.Search
	}
	search := searchData.Search()

	var resp WindowsResponse
	if body.Smoothing {
		spec, err := steps.SelectSmoothingWindow(body.Samples, search)
		if err != nil {
			h.fail(w, req, err)
			return
		}
		resp.Smoothing = &spec
	}
	_, resp.Detection, err = steps.TuneDetectionWindow(body.Samples, cfg, search)
	if err != nil {
		h.fail(w, req, err)
		return
	}
	h.write(w, req, http.StatusOK, resp)
}

// ListRuns returns stored runs, newest first. ?limit= caps the count.
func (h *Handlers) ListRuns(w http.ResponseWriter, req *http.Request) {
	if h.controller.store == nil {
		h.fail(w, req, errStoreDisabled)
		return
	}

	limit := 0
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.fail(w, req, fmt.Errorf("%w: invalid limit %q", steps.ErrInvalidParameter, v))
			return
		}
		limit = n
	}

	runs, err := h.controller.store.ListRuns(req.Context(), limit)
	if err != nil {
		h.fail(w, req, err)
		return
	}
	if runs == nil {
		runs = []storage.RunRecord{}
	}
	h.write(w, req, http.StatusOK, RunsResponse{Runs: runs})
}

// GetRun returns one stored run with its steps.
func (h *Handlers) GetRun(w http.ResponseWriter, req *http.Request) {
	if h.controller.store == nil {
		h.fail(w, req, errStoreDisabled)
		return
	}

	id, err := uuid.Parse(mux.Vars(req)["id"])
	if err != nil {
		h.fail(w, req, fmt.Errorf("%w: invalid run id: %v", steps.ErrInvalidParameter, err))
		return
	}
	run, err := h.controller.store.GetRun(req.Context(), id)
	if err != nil {
		h.fail(w, req, err)
		return
	}
	h.write(w, req, http.StatusOK, run)
}

// Health reports liveness and, when a store is configured, its last check.
func (h *Handlers) Health(w http.ResponseWriter, req *http.Request) {
	resp := HealthResponse{Status: "ok"}
	status := http.StatusOK
	if h.controller.health != nil {
		latest := h.controller.health.Latest()
		resp.Storage = &latest
		if latest.Status != "healthy" {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	h.write(w, req, status, resp)
}

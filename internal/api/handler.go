package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"surveillance_service/internal/core"
	"surveillance_service/internal/domain/model"
	"surveillance_service/internal/logger"
)

// CompletionSubmitter accepts completion callbacks; core.CompletionQueue satisfies it.
type CompletionSubmitter interface {
	Submit(event model.CompletionEvent) error
}

type Handler struct {
	experts      *core.ExpertWeightingEngine
	occurrences  *core.OccurrenceWeightingEngine
	admission    *core.DataSpreadAdmissionController
	validation   *core.ValidationGate
	orchestrator *core.ModelRunOrchestrator
	completions  CompletionSubmitter
	log          *logger.Logger
}

type Services struct {
	Experts      *core.ExpertWeightingEngine
	Occurrences  *core.OccurrenceWeightingEngine
	Admission    *core.DataSpreadAdmissionController
	Validation   *core.ValidationGate
	Orchestrator *core.ModelRunOrchestrator
	Completions  CompletionSubmitter
}

func NewHandler(s Services, log *logger.Logger) *Handler {
	return &Handler{
		experts:      s.Experts,
		occurrences:  s.Occurrences,
		admission:    s.Admission,
		validation:   s.Validation,
		orchestrator: s.Orchestrator,
		completions:  s.Completions,
		log:          log.With("component", "api"),
	}
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type SelectionResponse struct {
	Admitted    bool               `json:"admitted"`
	Occurrences []model.Occurrence `json:"occurrences"`
}

type ValidationRequest struct {
	IsGoldStandard bool `json:"is_gold_standard"`
}

type ValidationResponse struct {
	Eligible bool `json:"eligible"`
}

type ModelRunRequest struct {
	Trigger        string `json:"trigger"`
	BatchStartDate string `json:"batch_start_date,omitempty"` // 2006-01-02
	BatchEndDate   string `json:"batch_end_date,omitempty"`
}

type ModelRunResponse struct {
	Requested bool            `json:"requested"`
	ModelRun  *model.ModelRun `json:"model_run,omitempty"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, StatusResponse{Status: "ok"})
}

func (h *Handler) SelectModelRunOccurrences(w http.ResponseWriter, r *http.Request) {
	id, ok := h.intParam(w, r, "id")
	if !ok {
		return
	}
	occurrences, err := h.admission.SelectOccurrences(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, SelectionResponse{Admitted: occurrences != nil, Occurrences: occurrences})
}

func (h *Handler) RefreshExpertWeightings(w http.ResponseWriter, r *http.Request) {
	if err := h.experts.RefreshExpertWeightings(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, StatusResponse{Status: "ok"})
}

func (h *Handler) RefreshOccurrenceWeightings(w http.ResponseWriter, r *http.Request) {
	id, ok := h.intParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.occurrences.Refresh(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, StatusResponse{Status: "ok"})
}

func (h *Handler) ApplyValidation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.intParam(w, r, "id")
	if !ok {
		return
	}
	var req ValidationRequest
	if r.ContentLength != 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			h.badRequest(w, r, fmt.Errorf("invalid request body: %w", err))
			return
		}
	}
	eligible, err := h.validation.ApplyValidation(r.Context(), id, req.IsGoldStandard)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, ValidationResponse{Eligible: eligible})
}

func (h *Handler) RequestModelRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.intParam(w, r, "id")
	if !ok {
		return
	}
	var req ModelRunRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.badRequest(w, r, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Trigger == "" {
		req.Trigger = string(model.TriggerManual)
	}
	trigger, err := model.ParseTrigger(req.Trigger)
	if err != nil {
		h.badRequest(w, r, fmt.Errorf("%s: %w", req.Trigger, err))
		return
	}
	batch, err := parseBatchRange(req.BatchStartDate, req.BatchEndDate)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	run, err := h.orchestrator.RequestModelRun(r.Context(), id, trigger, batch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if run == nil {
		render.JSON(w, r, ModelRunResponse{Requested: false})
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, ModelRunResponse{Requested: true, ModelRun: run})
}

// HandleRunCompletion queues the callback; the run is updated asynchronously.
func (h *Handler) HandleRunCompletion(w http.ResponseWriter, r *http.Request) {
	var event model.CompletionEvent
	if err := render.DecodeJSON(r.Body, &event); err != nil {
		h.badRequest(w, r, fmt.Errorf("invalid request body: %w", err))
		return
	}
	event.RunName = chi.URLParam(r, "name")
	if !event.Status.IsTerminal() {
		h.badRequest(w, r, model.ErrInvalidRunStatus)
		return
	}
	if err := h.completions.Submit(event); err != nil {
		h.log.Error("Failed to queue completion", "model_run", event.RunName, "error", err)
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, ErrorResponse{Error: err.Error()})
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, StatusResponse{Status: "queued"})
}

func parseBatchRange(start, end string) (*model.BatchRange, error) {
	if start == "" && end == "" {
		return nil, nil
	}
	var batch model.BatchRange
	for _, p := range []struct {
		raw string
		dst **time.Time
	}{{start, &batch.Start}, {end, &batch.End}} {
		if p.raw == "" {
			continue
		}
		t, err := time.Parse(time.DateOnly, p.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid batch date %q: %w", p.raw, err)
		}
		*p.dst = &t
	}
	return &batch, nil
}

func (h *Handler) intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		h.badRequest(w, r, fmt.Errorf("invalid %s: %w", name, err))
		return 0, false
	}
	return v, true
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{Error: err.Error()})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrInvalidBatchRange), errors.Is(err, model.ErrUnknownTrigger),
		errors.Is(err, model.ErrInvalidRunStatus):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrNotGoldStandard):
		status = http.StatusConflict
	case model.IsExternalServiceError(err):
		status = http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: err.Error()})
}

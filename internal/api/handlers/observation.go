package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/campusclinic/medstock/internal/domain/apperr"
	"github.com/campusclinic/medstock/internal/domain/clinical"
	"github.com/campusclinic/medstock/internal/engine"
	"github.com/campusclinic/medstock/internal/reporting"
)

// ObservationHandler handles observation plan endpoints.
type ObservationHandler struct {
	engine  *engine.Engine
	reports *reporting.Service
	logger  *zap.Logger
}

// NewObservationHandler creates an observation handler.
func NewObservationHandler(e *engine.Engine, reports *reporting.Service, logger *zap.Logger) *ObservationHandler {
	return &ObservationHandler{engine: e, reports: reports, logger: logger}
}

// Routes returns the observation routes.
func (h *ObservationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/patient/{patientID}", h.ForPatient)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Delete)
	r.Patch("/{id}/status", h.Transition)
	r.Patch("/{id}/lines/{lineID}", h.UpdateLine)
	r.Post("/{id}/lines/{lineID}/administrations", h.Administer)
	return r
}

// Create handles POST /observations.
func (h *ObservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "create_observation")
	defer span.End()

	var in clinical.ObservationInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	p, err := h.engine.CreateObservation(ctx, in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	span.SetAttributes(attribute.String("plan_id", p.ID.String()))
	respond(w, http.StatusCreated, p, "observation plan created")
}

// Get handles GET /observations/{id}.
func (h *ObservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	p, err := h.reports.Observation(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, p, "")
}

// ForPatient handles GET /observations/patient/{patientID}?active=true.
func (h *ObservationHandler) ForPatient(w http.ResponseWriter, r *http.Request) {
	patientID, err := uuidParam(r, "patientID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	activeOnly := false
	if v := r.URL.Query().Get("active"); v != "" {
		if activeOnly, err = strconv.ParseBool(v); err != nil {
			writeError(w, r, h.logger, apperr.Invalid("active", "must be a boolean"))
			return
		}
	}

	plans, err := h.reports.PatientObservations(r.Context(), patientID, activeOnly)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, plans, "")
}

type statusRequest struct {
	Status clinical.PlanStatus `json:"status"`
}

// Transition handles PATCH /observations/{id}/status.
func (h *ObservationHandler) Transition(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "transition_observation")
	defer span.End()

	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req statusRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !req.Status.Valid() {
		writeError(w, r, h.logger, apperr.Invalid("status", "must be ACTIVE, COMPLETED or CANCELLED"))
		return
	}

	p, err := h.engine.TransitionObservation(ctx, id, req.Status)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, p, "observation status updated")
}

// UpdateLine handles PATCH /observations/{id}/lines/{lineID}.
func (h *ObservationHandler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "update_observation_line")
	defer span.End()

	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	lineID, err := uuidParam(r, "lineID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var u clinical.LineUpdate
	if err := decode(w, r, &u); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	line, err := h.engine.UpdateObservationLine(ctx, id, lineID, u)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, line, "observation line updated")
}

// Administer handles POST /observations/{id}/lines/{lineID}/administrations.
func (h *ObservationHandler) Administer(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "record_administration")
	defer span.End()

	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	lineID, err := uuidParam(r, "lineID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req quantityRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	line, err := h.engine.RecordAdministration(ctx, id, lineID, req.Quantity)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, line, "administration recorded")
}

// Delete handles DELETE /observations/{id}.
func (h *ObservationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "delete_observation")
	defer span.End()

	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.engine.DeleteObservation(ctx, id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, nil, "observation plan deleted and stock restored")
}

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/campusclinic/medstock/internal/domain/clinical"
	"github.com/campusclinic/medstock/internal/engine"
	"github.com/campusclinic/medstock/internal/reporting"
)

var tracer = otel.Tracer("http-handlers")

// CheckupHandler handles checkup endpoints.
type CheckupHandler struct {
	engine  *engine.Engine
	reports *reporting.Service
	logger  *zap.Logger
}

// NewCheckupHandler creates a checkup handler.
func NewCheckupHandler(e *engine.Engine, reports *reporting.Service, logger *zap.Logger) *CheckupHandler {
	return &CheckupHandler{engine: e, reports: reports, logger: logger}
}

// Routes returns the checkup routes.
func (h *CheckupHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/patient/{patientID}", h.History)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Patch("/{id}/lines/{lineID}", h.UpdateLine)
	return r
}

// Create handles POST /checkups.
func (h *CheckupHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "create_checkup")
	defer span.End()

	var in clinical.CheckupInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	c, err := h.engine.CreateCheckup(ctx, in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	span.SetAttributes(attribute.String("checkup_id", c.ID.String()))
	respond(w, http.StatusCreated, c, "checkup recorded")
}

// Get handles GET /checkups/{id}.
func (h *CheckupHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	c, err := h.reports.Checkup(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, c, "")
}

// History handles GET /checkups/patient/{patientID}.
func (h *CheckupHandler) History(w http.ResponseWriter, r *http.Request) {
	patientID, err := uuidParam(r, "patientID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	history, err := h.reports.MedicalHistory(r.Context(), patientID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, history, "")
}

// Update handles PUT /checkups/{id}.
func (h *CheckupHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "update_checkup")
	defer span.End()

	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var in clinical.CheckupInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	c, err := h.engine.UpdateCheckup(ctx, id, in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, c, "checkup updated")
}

type quantityRequest struct {
	Quantity clinical.Quantity `json:"quantity"`
}

// UpdateLine handles PATCH /checkups/{id}/lines/{lineID}.
func (h *CheckupHandler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "update_prescription_line")
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

	line, err := h.engine.UpdatePrescriptionLine(ctx, id, lineID, req.Quantity)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, line, "prescription line updated")
}

// Delete handles DELETE /checkups/{id}.
func (h *CheckupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "delete_checkup")
	defer span.End()

	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.engine.DeleteCheckup(ctx, id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, nil, "checkup deleted and stock restored")
}

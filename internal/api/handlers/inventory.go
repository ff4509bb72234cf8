package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campusclinic/medstock/internal/domain/apperr"
	"github.com/campusclinic/medstock/internal/domain/inventory"
	"github.com/campusclinic/medstock/internal/engine"
	"github.com/campusclinic/medstock/internal/reporting"
)

// MedicineHandler handles the medicine catalogue.
type MedicineHandler struct {
	engine  *engine.Engine
	reports *reporting.Service
	logger  *zap.Logger
}

// NewMedicineHandler creates a medicine handler.
func NewMedicineHandler(e *engine.Engine, reports *reporting.Service, logger *zap.Logger) *MedicineHandler {
	return &MedicineHandler{engine: e, reports: reports, logger: logger}
}

// Routes returns the medicine routes.
func (h *MedicineHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Deactivate)
	return r
}

// List handles GET /medicines?status=.
func (h *MedicineHandler) List(w http.ResponseWriter, r *http.Request) {
	status := inventory.Status(strings.ToUpper(r.URL.Query().Get("status")))
	if status != "" && !status.Valid() {
		writeError(w, r, h.logger, apperr.Invalid("status", "must be ACTIVE or INACTIVE"))
		return
	}
	medicines, err := h.reports.Medicines(r.Context(), status)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, medicines, "")
}

// Get handles GET /medicines/{id}.
func (h *MedicineHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	m, err := h.reports.Medicine(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, m, "")
}

// Create handles POST /medicines.
func (h *MedicineHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "create_medicine")
	defer span.End()

	var in engine.MedicineInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	m, err := h.engine.CreateMedicine(ctx, in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusCreated, m, "medicine registered")
}

// Deactivate handles DELETE /medicines/{id}. The medicine is soft-deleted.
func (h *MedicineHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "deactivate_medicine")
	defer span.End()

	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	m, err := h.engine.DeactivateMedicine(ctx, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, m, "medicine deactivated")
}

// StockHandler handles ledger views and stock receipts.
type StockHandler struct {
	engine  *engine.Engine
	reports *reporting.Service
	logger  *zap.Logger
}

// NewStockHandler creates a stock handler.
func NewStockHandler(e *engine.Engine, reports *reporting.Service, logger *zap.Logger) *StockHandler {
	return &StockHandler{engine: e, reports: reports, logger: logger}
}

// Routes returns the stock routes.
func (h *StockHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Report)
	r.Get("/available", h.Available)
	r.Get("/expired", h.Expired)
	r.Post("/purchases", h.Receive)
	return r
}

// Report handles GET /stock.
func (h *StockHandler) Report(w http.ResponseWriter, r *http.Request) {
	lines, err := h.reports.StockReport(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, lines, "")
}

// Available handles GET /stock/available.
func (h *StockHandler) Available(w http.ResponseWriter, r *http.Request) {
	lines, err := h.reports.AvailableStock(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, lines, "")
}

// Expired handles GET /stock/expired?asOf=.
func (h *StockHandler) Expired(w http.ResponseWriter, r *http.Request) {
	asOf := time.Now().UTC()
	if v := r.URL.Query().Get("asOf"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			writeError(w, r, h.logger, apperr.Invalid("asOf", "must be a date (YYYY-MM-DD) or RFC 3339 time"))
			return
		}
		asOf = t
	}
	batches, err := h.reports.ExpiredBatches(r.Context(), asOf)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, batches, "")
}

type purchaseItemRequest struct {
	MedicineID uuid.UUID `json:"medicineId"`
	BatchNo    string    `json:"batchNo"`
	MfgDate    string    `json:"mfgDate"`
	ExpiryDate string    `json:"expiryDate"`
	Quantity   int       `json:"quantity"`
}

type purchaseRequest struct {
	Supplier  string                `json:"supplier"`
	InvoiceNo string                `json:"invoiceNo"`
	Date      string                `json:"date"`
	Items     []purchaseItemRequest `json:"items"`
}

func (req purchaseRequest) purchase() (inventory.Purchase, error) {
	p := inventory.Purchase{Supplier: req.Supplier, InvoiceNo: req.InvoiceNo}
	if req.Date != "" {
		d, err := parseDate(req.Date)
		if err != nil {
			return p, apperr.Invalid("date", "must be a date")
		}
		p.Date = d
	}
	for i, it := range req.Items {
		item := inventory.PurchaseItem{MedicineID: it.MedicineID, BatchNo: it.BatchNo, Quantity: it.Quantity}
		if it.MfgDate != "" {
			d, err := parseDate(it.MfgDate)
			if err != nil {
				return p, apperr.Invalid("items["+strconv.Itoa(i)+"].mfgDate", "must be a date")
			}
			item.MfgDate = d
		}
		if it.ExpiryDate != "" {
			d, err := parseDate(it.ExpiryDate)
			if err != nil {
				return p, apperr.Invalid("items["+strconv.Itoa(i)+"].expiryDate", "must be a date")
			}
			item.ExpiryDate = d
		}
		p.Items = append(p.Items, item)
	}
	return p, nil
}

// Receive handles POST /stock/purchases.
func (h *StockHandler) Receive(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "receive_purchase")
	defer span.End()

	var req purchaseRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	p, err := req.purchase()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	saved, err := h.engine.ReceivePurchase(ctx, p)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusCreated, saved, "stock received")
}

// AlertHandler serves stored stock alerts.
type AlertHandler struct {
	reports *reporting.Service
	logger  *zap.Logger
}

// NewAlertHandler creates an alert handler.
func NewAlertHandler(reports *reporting.Service, logger *zap.Logger) *AlertHandler {
	return &AlertHandler{reports: reports, logger: logger}
}

// Routes returns the alert routes.
func (h *AlertHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	return r
}

// List handles GET /alerts?limit=.
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, h.logger, apperr.Invalid("limit", "must be a non-negative integer"))
			return
		}
		limit = n
	}
	alerts, err := h.reports.Alerts(r.Context(), limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, alerts, "")
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

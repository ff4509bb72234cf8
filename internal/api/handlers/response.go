// Package handlers provides the HTTP handlers of the inventory API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campusclinic/medstock/internal/api/middleware"
	"github.com/campusclinic/medstock/internal/domain/apperr"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Envelope is the body of every API response.
type Envelope struct {
	OK      bool        `json:"ok"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody carries the machine-readable part of a failure.
type ErrorBody struct {
	Code      string `json:"code"`
	Field     string `json:"field,omitempty"`
	Entity    string `json:"entity,omitempty"`
	ID        string `json:"id,omitempty"`
	Line      *int   `json:"line,omitempty"`
	Requested *int   `json:"requested,omitempty"`
	Available *int   `json:"available,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respond(w http.ResponseWriter, status int, data interface{}, message string) {
	writeJSON(w, status, Envelope{OK: true, Data: data, Message: message})
}

// statusFor maps the error taxonomy onto HTTP.
func statusFor(err error) (int, *ErrorBody) {
	var (
		validation  *apperr.ValidationError
		notFound    *apperr.NotFoundError
		short       *apperr.InsufficientStockError
		referential *apperr.ReferentialIntegrityError
		conflict    *apperr.ConflictError
		invariant   *apperr.InvariantError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, &ErrorBody{Code: "validation", Field: validation.Field}
	case errors.As(err, &notFound):
		return http.StatusNotFound, &ErrorBody{Code: "not_found", Entity: notFound.Entity, ID: notFound.ID}
	case errors.As(err, &short):
		body := &ErrorBody{
			Code:      "insufficient_stock",
			ID:        short.MedicineID.String(),
			Requested: &short.Requested,
			Available: &short.Available,
		}
		if short.Line >= 0 {
			body.Line = &short.Line
		}
		return http.StatusConflict, body
	case errors.As(err, &referential):
		return http.StatusConflict, &ErrorBody{Code: "referential_integrity", Entity: referential.Entity, ID: referential.ID}
	case errors.As(err, &conflict):
		return http.StatusConflict, &ErrorBody{Code: "conflict", Entity: conflict.Entity, ID: conflict.ID}
	case errors.As(err, &invariant):
		return http.StatusInternalServerError, &ErrorBody{Code: "invariant", ID: invariant.MedicineID.String()}
	}
	return http.StatusInternalServerError, &ErrorBody{Code: "internal"}
}

// writeError renders err. Domain rejections carry their message; anything
// else is logged and hidden behind a generic one.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status, body := statusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
		if body.Code == "internal" {
			message = "internal server error"
		}
	}
	writeJSON(w, status, Envelope{OK: false, Message: message, Error: body})
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return apperr.Invalid("body", "malformed JSON: "+err.Error())
	}
	return nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Invalid(name, "must be a UUID")
	}
	return id, nil
}

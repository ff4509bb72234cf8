// Package inventory implements medicines, their stock ledger and stock receipts.
package inventory

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/campusclinic/medstock/internal/domain/apperr"
)

// Status is the catalogue status of a medicine.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// Medicine is a catalogue entry. Once it owns a stock record only its status
// may change.
type Medicine struct {
	ID           uuid.UUID  `json:"id"`
	BrandName    string     `json:"brandName"`
	SaltName     string     `json:"saltName"`
	CategoryID   *uuid.UUID `json:"categoryId,omitempty"`
	Status       Status     `json:"status"`
	ReorderLevel int        `json:"reorderLevel"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// NewMedicine validates the catalogue fields and returns an ACTIVE medicine.
func NewMedicine(brandName, saltName string, categoryID *uuid.UUID, reorderLevel int, now time.Time) (*Medicine, error) {
	brandName = strings.TrimSpace(brandName)
	saltName = strings.TrimSpace(saltName)

	if brandName == "" {
		return nil, apperr.Invalid("brandName", "is required")
	}
	if saltName == "" {
		return nil, apperr.Invalid("saltName", "is required")
	}
	if reorderLevel < 0 {
		return nil, apperr.Invalid("reorderLevel", "must not be negative")
	}

	return &Medicine{
		ID:           uuid.New(),
		BrandName:    brandName,
		SaltName:     saltName,
		CategoryID:   categoryID,
		Status:       StatusActive,
		ReorderLevel: reorderLevel,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Active reports whether new clinical lines may reference the medicine.
func (m *Medicine) Active() bool { return m.Status == StatusActive }

// Deactivate soft-deletes the medicine. Its stock record is kept so existing
// lines can still be reversed.
func (m *Medicine) Deactivate(now time.Time) error {
	if !m.Active() {
		return &apperr.ConflictError{Entity: "medicine", ID: m.ID.String(), Reason: "already inactive"}
	}
	m.Status = StatusInactive
	m.UpdatedAt = now
	return nil
}

// Reactivate brings an inactive medicine back, taking the salt name and
// reorder level from the new registration.
func (m *Medicine) Reactivate(saltName string, reorderLevel int, now time.Time) {
	m.Status = StatusActive
	if s := strings.TrimSpace(saltName); s != "" {
		m.SaltName = s
	}
	m.ReorderLevel = reorderLevel
	m.UpdatedAt = now
}

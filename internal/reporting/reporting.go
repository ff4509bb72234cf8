// Package reporting serves read projections of the ledger and clinical
// records. Nothing here writes.
package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/campusclinic/medstock/internal/domain/clinical"
	"github.com/campusclinic/medstock/internal/domain/inventory"
	"github.com/campusclinic/medstock/internal/store"
)

// AlertReader lists stored stock alerts.
type AlertReader interface {
	Recent(ctx context.Context, limit int) ([]inventory.Alert, error)
}

// StockLine is one row of the stock report.
type StockLine struct {
	MedicineID   uuid.UUID        `json:"medicineId"`
	BrandName    string           `json:"brandName"`
	SaltName     string           `json:"saltName"`
	Status       inventory.Status `json:"status"`
	Stock        int              `json:"stock"`
	Received     int              `json:"received"`
	Dispensed    int              `json:"dispensed"`
	ReorderLevel int              `json:"reorderLevel"`
	Level        inventory.Level  `json:"level"`
	Low          bool             `json:"low"`
}

// DefaultAlertLimit caps Alerts when the caller asks for no limit.
const DefaultAlertLimit = 50

// Service answers read queries.
type Service struct {
	uow    store.UnitOfWork
	alerts AlertReader
}

// New creates a reporting service. alerts may be nil when no notifier runs.
func New(uow store.UnitOfWork, alerts AlertReader) *Service {
	return &Service{uow: uow, alerts: alerts}
}

// StockReport lists every stock record joined with its medicine.
func (s *Service) StockReport(ctx context.Context) ([]StockLine, error) {
	var out []StockLine
	err := s.uow.View(ctx, func(tx store.Tx) error {
		records, err := tx.Stock().List(ctx)
		if err != nil {
			return err
		}
		medicines, err := tx.Medicines().List(ctx, "")
		if err != nil {
			return err
		}
		byID := make(map[uuid.UUID]*inventory.Medicine, len(medicines))
		for _, m := range medicines {
			byID[m.ID] = m
		}

		out = make([]StockLine, 0, len(records))
		for _, rec := range records {
			m, ok := byID[rec.MedicineID]
			if !ok {
				return fmt.Errorf("stock record %s has no medicine", rec.MedicineID)
			}
			level := rec.Level(m.ReorderLevel)
			out = append(out, StockLine{
				MedicineID:   m.ID,
				BrandName:    m.BrandName,
				SaltName:     m.SaltName,
				Status:       m.Status,
				Stock:        rec.Stock,
				Received:     rec.Received,
				Dispensed:    rec.Dispensed,
				ReorderLevel: m.ReorderLevel,
				Level:        level,
				Low:          level != inventory.LevelOK,
			})
		}
		return nil
	})
	return orEmpty(out), err
}

// AvailableStock lists active medicines that can be prescribed right now.
func (s *Service) AvailableStock(ctx context.Context) ([]StockLine, error) {
	all, err := s.StockReport(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, l := range all {
		if l.Status == inventory.StatusActive && l.Stock > 0 {
			out = append(out, l)
		}
	}
	return out, nil
}

// ExpiredBatches lists received batches that expired before asOf.
func (s *Service) ExpiredBatches(ctx context.Context, asOf time.Time) ([]inventory.ExpiredBatch, error) {
	var out []inventory.ExpiredBatch
	err := s.uow.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Purchases().ListExpired(ctx, asOf)
		return err
	})
	return orEmpty(out), err
}

// Medicines lists the catalogue, optionally filtered by status.
func (s *Service) Medicines(ctx context.Context, status inventory.Status) ([]*inventory.Medicine, error) {
	var out []*inventory.Medicine
	err := s.uow.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Medicines().List(ctx, status)
		return err
	})
	return orEmpty(out), err
}

// Medicine returns one catalogue entry, active or not.
func (s *Service) Medicine(ctx context.Context, id uuid.UUID) (*inventory.Medicine, error) {
	var out *inventory.Medicine
	err := s.uow.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Medicines().Get(ctx, id)
		return err
	})
	return out, err
}

// MedicalHistory returns a patient's checkups, newest first.
func (s *Service) MedicalHistory(ctx context.Context, patientID uuid.UUID) ([]*clinical.Checkup, error) {
	var out []*clinical.Checkup
	err := s.uow.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Checkups().ListByPatient(ctx, patientID)
		return err
	})
	return orEmpty(out), err
}

func (s *Service) Checkup(ctx context.Context, id uuid.UUID) (*clinical.Checkup, error) {
	var out *clinical.Checkup
	err := s.uow.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Checkups().Get(ctx, id)
		return err
	})
	return out, err
}

func (s *Service) Observation(ctx context.Context, id uuid.UUID) (*clinical.ObservationPlan, error) {
	var out *clinical.ObservationPlan
	err := s.uow.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Observations().Get(ctx, id)
		return err
	})
	return out, err
}

// PatientObservations returns a patient's plans, newest first.
func (s *Service) PatientObservations(ctx context.Context, patientID uuid.UUID, activeOnly bool) ([]*clinical.ObservationPlan, error) {
	var out []*clinical.ObservationPlan
	err := s.uow.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Observations().ListByPatient(ctx, patientID, activeOnly)
		return err
	})
	return orEmpty(out), err
}

// Alerts returns the newest stored stock alerts.
func (s *Service) Alerts(ctx context.Context, limit int) ([]inventory.Alert, error) {
	if s.alerts == nil {
		return []inventory.Alert{}, nil
	}
	if limit <= 0 {
		limit = DefaultAlertLimit
	}
	out, err := s.alerts.Recent(ctx, limit)
	return orEmpty(out), err
}

// orEmpty keeps empty results encoding as [] rather than null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

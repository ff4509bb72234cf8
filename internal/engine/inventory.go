package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/campusclinic/medstock/internal/domain/apperr"
	"github.com/campusclinic/medstock/internal/domain/inventory"
	"github.com/campusclinic/medstock/internal/events"
)

// MedicineInput registers a medicine.
type MedicineInput struct {
	BrandName    string     `json:"brandName"`
	SaltName     string     `json:"saltName"`
	CategoryID   *uuid.UUID `json:"categoryId,omitempty"`
	ReorderLevel *int       `json:"reorderLevel,omitempty"`
}

// CreateMedicine registers a medicine together with its empty stock record.
// Registering the brand name of an inactive medicine reactivates it and
// keeps its ledger history.
func (e *Engine) CreateMedicine(ctx context.Context, in MedicineInput) (*inventory.Medicine, error) {
	reorder := e.defaultReorderLevel
	if in.ReorderLevel != nil {
		reorder = *in.ReorderLevel
	}
	candidate, err := inventory.NewMedicine(in.BrandName, in.SaltName, in.CategoryID, reorder, e.now())
	if err != nil {
		return nil, err
	}

	var result *inventory.Medicine
	err = e.run(ctx, "create_medicine", []attribute.KeyValue{
		attribute.String("brand_name", candidate.BrandName),
	}, func(s *scope) error {
		existing, err := s.tx.Medicines().GetByBrand(s.ctx, candidate.BrandName)
		switch {
		case err == nil && existing.Active():
			return &apperr.ConflictError{Entity: "medicine", ID: existing.ID.String(), Reason: "brand name already registered"}
		case err == nil:
			existing.Reactivate(candidate.SaltName, candidate.ReorderLevel, e.now())
			if err := s.tx.Medicines().Update(s.ctx, existing); err != nil {
				return fmt.Errorf("reactivate medicine: %w", err)
			}
			result = existing
			return s.emit(events.AggregateMedicine, existing.ID.String(), events.MedicineRegistered, events.MedicineData{
				MedicineID:  existing.ID,
				BrandName:   existing.BrandName,
				Status:      string(existing.Status),
				Reactivated: true,
			})
		case !apperr.IsNotFound(err):
			return err
		}

		if err := s.tx.Medicines().Create(s.ctx, candidate); err != nil {
			return fmt.Errorf("insert medicine: %w", err)
		}
		if err := s.tx.Stock().Create(s.ctx, inventory.NewStockRecord(candidate.ID, e.now())); err != nil {
			return fmt.Errorf("insert stock record: %w", err)
		}
		result = candidate
		return s.emit(events.AggregateMedicine, candidate.ID.String(), events.MedicineRegistered, events.MedicineData{
			MedicineID: candidate.ID,
			BrandName:  candidate.BrandName,
			Status:     string(candidate.Status),
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeactivateMedicine soft-deletes a medicine. Its stock record stays so
// existing clinical lines can still be reversed.
func (e *Engine) DeactivateMedicine(ctx context.Context, id uuid.UUID) (*inventory.Medicine, error) {
	var result *inventory.Medicine
	err := e.run(ctx, "deactivate_medicine", []attribute.KeyValue{
		attribute.String("medicine_id", id.String()),
	}, func(s *scope) error {
		m, err := s.tx.Medicines().Get(s.ctx, id)
		if err != nil {
			return err
		}
		if err := m.Deactivate(e.now()); err != nil {
			return err
		}
		if err := s.tx.Medicines().Update(s.ctx, m); err != nil {
			return fmt.Errorf("update medicine: %w", err)
		}
		result = m
		return s.emit(events.AggregateMedicine, id.String(), events.MedicineDeactivated, events.MedicineData{
			MedicineID: m.ID,
			BrandName:  m.BrandName,
			Status:     string(m.Status),
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReceivePurchase books a supplier invoice: every item raises stock and
// received by its quantity.
func (e *Engine) ReceivePurchase(ctx context.Context, p inventory.Purchase) (*inventory.Purchase, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.CreatedAt = e.now()

	err := e.run(ctx, "receive_purchase", []attribute.KeyValue{
		attribute.String("purchase_id", p.ID.String()),
		attribute.Int("items", len(p.Items)),
	}, func(s *scope) error {
		ids := make([]uuid.UUID, 0, len(p.Items))
		units := 0
		for _, item := range p.Items {
			ids = append(ids, item.MedicineID)
			units += item.Quantity
		}
		if err := s.requireActive(ids); err != nil {
			return err
		}
		if err := s.ledger.Lock(s.ctx, ids); err != nil {
			return err
		}
		for _, item := range p.Items {
			if err := s.ledger.Receive(s.ctx, item.MedicineID, item.Quantity); err != nil {
				return err
			}
			s.moves = append(s.moves, move{op: "receive", units: item.Quantity})
		}
		if err := s.tx.Purchases().Create(s.ctx, &p); err != nil {
			return fmt.Errorf("insert purchase: %w", err)
		}
		return s.emit(events.AggregatePurchase, p.ID.String(), events.StockReceived, events.StockReceivedData{
			PurchaseID: p.ID,
			InvoiceNo:  p.InvoiceNo,
			Items:      len(p.Items),
			Units:      units,
		})
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

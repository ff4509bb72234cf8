package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/campusclinic/medstock/internal/domain/apperr"
	"github.com/campusclinic/medstock/internal/domain/clinical"
	"github.com/campusclinic/medstock/internal/domain/inventory"
	"github.com/campusclinic/medstock/internal/events"
)

// CreateCheckup validates the checkup, reserves every prescribed medicine and,
// only if all reservations fit, deducts them and inserts the checkup.
func (e *Engine) CreateCheckup(ctx context.Context, in clinical.CheckupInput) (*clinical.Checkup, error) {
	c, err := in.Build(uuid.New(), e.now())
	if err != nil {
		return nil, err
	}

	err = e.run(ctx, "create_checkup", []attribute.KeyValue{
		attribute.String("checkup_id", c.ID.String()),
		attribute.Int("lines", len(c.Lines)),
	}, func(s *scope) error {
		demand := c.Demand()
		if err := s.admit(demand, inventory.NewDemand()); err != nil {
			return err
		}
		if err := s.apply(demand); err != nil {
			return err
		}
		if err := s.tx.Checkups().Create(s.ctx, c); err != nil {
			return fmt.Errorf("insert checkup: %w", err)
		}
		return s.emit(events.AggregateCheckup, c.ID.String(), events.CheckupCreated, events.CheckupData{
			CheckupID: c.ID,
			PatientID: c.PatientID,
			Lines:     len(c.Lines),
			Delta:     events.DeltaMap(demand),
		})
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateCheckup replaces the checkup's fields and line set, moving only the
// per-medicine difference between the old and new lines through the ledger.
func (e *Engine) UpdateCheckup(ctx context.Context, id uuid.UUID, in clinical.CheckupInput) (*clinical.Checkup, error) {
	next, err := in.Build(id, e.now())
	if err != nil {
		return nil, err
	}

	err = e.run(ctx, "update_checkup", []attribute.KeyValue{
		attribute.String("checkup_id", id.String()),
	}, func(s *scope) error {
		prev, err := s.tx.Checkups().Get(s.ctx, id)
		if err != nil {
			return err
		}
		if prev.PatientID != next.PatientID {
			return apperr.Invalid("patientId", "cannot move a checkup to another patient")
		}
		next.CreatedAt = prev.CreatedAt

		if err := s.admit(next.Demand(), prev.Demand()); err != nil {
			return err
		}
		delta := inventory.Diff(next.Demand(), prev.Demand())
		if err := s.apply(delta); err != nil {
			return err
		}
		if err := s.tx.Checkups().Update(s.ctx, next); err != nil {
			return fmt.Errorf("update checkup: %w", err)
		}
		return s.emit(events.AggregateCheckup, id.String(), events.CheckupUpdated, events.CheckupData{
			CheckupID: id,
			PatientID: next.PatientID,
			Lines:     len(next.Lines),
			Delta:     events.DeltaMap(delta),
		})
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// UpdatePrescriptionLine changes the quantity of one prescription line.
func (e *Engine) UpdatePrescriptionLine(ctx context.Context, checkupID, lineID uuid.UUID, qty clinical.Quantity) (*clinical.PrescriptionLine, error) {
	newQty, err := qty.Resolve("quantity")
	if err != nil {
		return nil, err
	}

	var updated clinical.PrescriptionLine
	err = e.run(ctx, "update_prescription_line", []attribute.KeyValue{
		attribute.String("checkup_id", checkupID.String()),
		attribute.String("line_id", lineID.String()),
	}, func(s *scope) error {
		c, err := s.tx.Checkups().Get(s.ctx, checkupID)
		if err != nil {
			return err
		}
		line, pos, ok := c.Line(lineID)
		if !ok {
			return apperr.NotFound("prescription line", lineID)
		}

		delta := inventory.NewDemand()
		if d := newQty - line.Quantity; d != 0 {
			delta.Add(line.MedicineID, d, pos)
		}
		line.Quantity = newQty
		if err := c.Demand().Err(); err != nil {
			return err
		}
		if err := s.apply(delta); err != nil {
			return err
		}

		if err := s.tx.Checkups().UpdateLine(s.ctx, line); err != nil {
			return fmt.Errorf("update prescription line: %w", err)
		}
		updated = *line
		return s.emit(events.AggregateCheckup, checkupID.String(), events.CheckupUpdated, events.CheckupData{
			CheckupID: checkupID,
			PatientID: c.PatientID,
			Lines:     len(c.Lines),
			Delta:     events.DeltaMap(delta),
		})
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteCheckup restores every prescribed unit and removes the lines, then
// the checkup. A checkup that still owns observation plans cannot be deleted.
func (e *Engine) DeleteCheckup(ctx context.Context, id uuid.UUID) error {
	return e.run(ctx, "delete_checkup", []attribute.KeyValue{
		attribute.String("checkup_id", id.String()),
	}, func(s *scope) error {
		c, err := s.tx.Checkups().Get(s.ctx, id)
		if err != nil {
			return err
		}

		plans, err := s.tx.Observations().CountByCheckup(s.ctx, id)
		if err != nil {
			return fmt.Errorf("count observation plans: %w", err)
		}
		if plans > 0 {
			return &apperr.ReferentialIntegrityError{
				Entity:       "checkup",
				ID:           id.String(),
				ReferencedBy: fmt.Sprintf("%d observation plan(s)", plans),
			}
		}

		release := c.Demand().Negate()
		if err := s.apply(release); err != nil {
			return err
		}
		if err := s.tx.Checkups().DeleteLines(s.ctx, id); err != nil {
			return fmt.Errorf("delete prescription lines: %w", err)
		}
		if err := s.tx.Checkups().Delete(s.ctx, id); err != nil {
			return fmt.Errorf("delete checkup: %w", err)
		}
		return s.emit(events.AggregateCheckup, id.String(), events.CheckupDeleted, events.CheckupData{
			CheckupID: id,
			PatientID: c.PatientID,
			Lines:     len(c.Lines),
			Delta:     events.DeltaMap(release),
		})
	})
}

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

// CreateObservation opens an ACTIVE plan under an existing checkup and
// dispenses the full course of every medicine line up front.
func (e *Engine) CreateObservation(ctx context.Context, in clinical.ObservationInput) (*clinical.ObservationPlan, error) {
	p, err := in.Build(uuid.New(), e.now())
	if err != nil {
		return nil, err
	}

	err = e.run(ctx, "create_observation", []attribute.KeyValue{
		attribute.String("plan_id", p.ID.String()),
		attribute.Int("lines", len(p.Lines)),
	}, func(s *scope) error {
		c, err := s.tx.Checkups().Get(s.ctx, p.CheckupID)
		if err != nil {
			return err
		}
		if c.PatientID != p.PatientID {
			return apperr.Invalid("patientId", "does not match the checkup's patient")
		}

		demand := p.Demand()
		if err := s.admit(demand, inventory.NewDemand()); err != nil {
			return err
		}
		if err := s.apply(demand); err != nil {
			return err
		}
		if err := s.tx.Observations().Create(s.ctx, p); err != nil {
			return fmt.Errorf("insert observation plan: %w", err)
		}
		return s.emit(events.AggregateObservation, p.ID.String(), events.ObservationCreated, observationData(p, nil, demand))
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateObservationLine changes one line of an ACTIVE plan and moves the
// difference between the old and new totals through the ledger.
func (e *Engine) UpdateObservationLine(ctx context.Context, planID, lineID uuid.UUID, u clinical.LineUpdate) (*clinical.ObservationLine, error) {
	var updated clinical.ObservationLine

	err := e.run(ctx, "update_observation_line", []attribute.KeyValue{
		attribute.String("plan_id", planID.String()),
		attribute.String("line_id", lineID.String()),
	}, func(s *scope) error {
		p, err := s.tx.Observations().Get(s.ctx, planID)
		if err != nil {
			return err
		}
		if err := p.RequireActive(); err != nil {
			return err
		}
		line, pos, ok := p.Line(lineID)
		if !ok {
			return apperr.NotFound("observation line", lineID)
		}

		prev := lineDemand(*line, pos)
		if err := u.Apply(line); err != nil {
			return err
		}
		next := lineDemand(*line, pos)
		if err := s.admit(next, prev); err != nil {
			return err
		}
		if err := p.Demand().Err(); err != nil {
			return err
		}
		delta := inventory.Diff(next, prev)

		if err := s.apply(delta); err != nil {
			return err
		}
		if err := s.tx.Observations().UpdateLine(s.ctx, line); err != nil {
			return fmt.Errorf("update observation line: %w", err)
		}

		p.UpdatedAt = e.now()
		if err := s.tx.Observations().UpdatePlan(s.ctx, p); err != nil {
			return fmt.Errorf("touch observation plan: %w", err)
		}

		updated = *line
		return s.emit(events.AggregateObservation, planID.String(), events.ObservationUpdated, observationData(p, &lineID, delta))
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// RecordAdministration notes units given to the patient. The units were
// dispensed when the plan was created, so the ledger does not move.
func (e *Engine) RecordAdministration(ctx context.Context, planID, lineID uuid.UUID, qty clinical.Quantity) (*clinical.ObservationLine, error) {
	n, err := qty.Resolve("quantity")
	if err != nil {
		return nil, err
	}

	var updated clinical.ObservationLine
	err = e.run(ctx, "record_administration", []attribute.KeyValue{
		attribute.String("plan_id", planID.String()),
		attribute.String("line_id", lineID.String()),
	}, func(s *scope) error {
		p, err := s.tx.Observations().Get(s.ctx, planID)
		if err != nil {
			return err
		}
		line, err := p.Administer(lineID, n, e.now())
		if err != nil {
			return err
		}
		if err := s.tx.Observations().UpdateLine(s.ctx, line); err != nil {
			return fmt.Errorf("update observation line: %w", err)
		}
		if err := s.tx.Observations().UpdatePlan(s.ctx, p); err != nil {
			return fmt.Errorf("touch observation plan: %w", err)
		}
		updated = *line
		return s.emit(events.AggregateObservation, planID.String(), events.ObservationAdministered, observationData(p, &lineID, nil))
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// TransitionObservation moves an ACTIVE plan to COMPLETED or CANCELLED.
func (e *Engine) TransitionObservation(ctx context.Context, planID uuid.UUID, to clinical.PlanStatus) (*clinical.ObservationPlan, error) {
	var updated *clinical.ObservationPlan

	err := e.run(ctx, "transition_observation", []attribute.KeyValue{
		attribute.String("plan_id", planID.String()),
		attribute.String("to", string(to)),
	}, func(s *scope) error {
		p, err := s.tx.Observations().Get(s.ctx, planID)
		if err != nil {
			return err
		}
		if err := p.Transition(to, e.now()); err != nil {
			return err
		}
		if err := s.tx.Observations().UpdatePlan(s.ctx, p); err != nil {
			return fmt.Errorf("update observation plan: %w", err)
		}
		updated = p
		return s.emit(events.AggregateObservation, planID.String(), events.ObservationStatusChanged, observationData(p, nil, nil))
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteObservation restores every dispensed unit and removes the lines, then
// the plan. ACTIVE plans are rejected; see ObservationPlan.CheckDeletable.
func (e *Engine) DeleteObservation(ctx context.Context, planID uuid.UUID) error {
	return e.run(ctx, "delete_observation", []attribute.KeyValue{
		attribute.String("plan_id", planID.String()),
	}, func(s *scope) error {
		p, err := s.tx.Observations().Get(s.ctx, planID)
		if err != nil {
			return err
		}
		if err := p.CheckDeletable(); err != nil {
			return err
		}

		release := p.Demand().Negate()
		if err := s.apply(release); err != nil {
			return err
		}
		if err := s.tx.Observations().DeleteLines(s.ctx, planID); err != nil {
			return fmt.Errorf("delete observation lines: %w", err)
		}
		if err := s.tx.Observations().Delete(s.ctx, planID); err != nil {
			return fmt.Errorf("delete observation plan: %w", err)
		}
		return s.emit(events.AggregateObservation, planID.String(), events.ObservationDeleted, observationData(p, nil, release))
	})
}

func lineDemand(l clinical.ObservationLine, pos int) *inventory.Demand {
	d := inventory.NewDemand()
	if l.ConsumesStock() {
		d.Add(*l.MedicineID, l.TotalQuantity(), pos)
	}
	return d
}

func observationData(p *clinical.ObservationPlan, lineID *uuid.UUID, delta *inventory.Demand) events.ObservationData {
	return events.ObservationData{
		PlanID:    p.ID,
		CheckupID: p.CheckupID,
		PatientID: p.PatientID,
		Status:    string(p.Status),
		LineID:    lineID,
		Delta:     events.DeltaMap(delta),
	}
}

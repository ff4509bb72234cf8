// Package engine keeps the medicine stock ledger consistent with the
// clinical records that consume it. Every write runs as one unit of work:
// ledger deltas, record rows and outbox events commit or roll back together.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/campusclinic/medstock/internal/domain/apperr"
	"github.com/campusclinic/medstock/internal/domain/inventory"
	"github.com/campusclinic/medstock/internal/events"
	"github.com/campusclinic/medstock/internal/observability/metrics"
	"github.com/campusclinic/medstock/internal/store"
)

// Engine is the consistency engine.
type Engine struct {
	uow                 store.UnitOfWork
	logger              *zap.Logger
	metrics             *metrics.Metrics
	tracer              trace.Tracer
	now                 func() time.Time
	correlation         func(context.Context) string
	defaultReorderLevel int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records ledger and latency metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCorrelation sets how a correlation id is read from the request
// context for outbox events.
func WithCorrelation(fn func(context.Context) string) Option {
	return func(e *Engine) { e.correlation = fn }
}

// WithDefaultReorderLevel sets the reorder level given to medicines
// registered without one.
func WithDefaultReorderLevel(n int) Option {
	return func(e *Engine) { e.defaultReorderLevel = n }
}

// New creates an engine over a unit of work.
func New(uow store.UnitOfWork, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		uow:                 uow,
		logger:              logger,
		tracer:              otel.Tracer("consistency-engine"),
		now:                 func() time.Time { return time.Now().UTC() },
		correlation:         func(context.Context) string { return "" },
		defaultReorderLevel: 10,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// scope is the per-transaction working set of one engine call.
type scope struct {
	ctx       context.Context
	tx        store.Tx
	ledger    *inventory.Ledger
	medicines map[uuid.UUID]*inventory.Medicine
	moves     []move
	events    int
	engine    *Engine
}

type move struct {
	op    string
	units int
}

// run opens a unit of work, executes fn inside it, appends stock alerts for
// every threshold the ledger crossed and records telemetry.
func (e *Engine) run(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(*scope) error) error {
	ctx, span := e.tracer.Start(ctx, "engine."+op, trace.WithAttributes(attrs...))
	defer span.End()

	started := time.Now()
	var committed *scope

	err := e.uow.Do(ctx, func(tx store.Tx) error {
		s := &scope{
			ctx:       ctx,
			tx:        tx,
			ledger:    inventory.NewLedger(tx.Stock(), e.now),
			medicines: make(map[uuid.UUID]*inventory.Medicine),
			engine:    e,
		}
		if err := fn(s); err != nil {
			return err
		}
		if err := s.emitStockAlerts(); err != nil {
			return err
		}
		committed = s
		return nil
	})

	result := "ok"
	if err != nil {
		result = classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		if result == "insufficient_stock" {
			e.metrics.RecordShortfall()
		}
		fields := []zap.Field{zap.String("op", op), zap.String("result", result), zap.Error(err)}
		if apperr.IsDomain(err) {
			e.logger.Info("engine operation rejected", fields...)
		} else {
			e.logger.Error("engine operation failed", fields...)
		}
	} else {
		for _, mv := range committed.moves {
			e.metrics.RecordLedger(mv.op, mv.units)
		}
		e.logger.Debug("engine operation committed",
			zap.String("op", op),
			zap.Int("ledger_moves", len(committed.moves)),
			zap.Int("events", committed.events),
		)
	}
	e.metrics.ObserveOperation(op, result, started)
	return err
}

func classify(err error) string {
	var (
		validation  *apperr.ValidationError
		notFound    *apperr.NotFoundError
		short       *apperr.InsufficientStockError
		referential *apperr.ReferentialIntegrityError
		conflict    *apperr.ConflictError
		invariant   *apperr.InvariantError
		txErr       *apperr.TransactionError
	)
	switch {
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &short):
		return "insufficient_stock"
	case errors.As(err, &referential):
		return "referential_integrity"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &invariant):
		return "invariant"
	case errors.As(err, &txErr):
		return "transaction"
	}
	return "error"
}

// medicine loads a medicine once per transaction.
func (s *scope) medicine(id uuid.UUID) (*inventory.Medicine, error) {
	if m, ok := s.medicines[id]; ok {
		return m, nil
	}
	m, err := s.tx.Medicines().Get(s.ctx, id)
	if err != nil {
		return nil, err
	}
	s.medicines[id] = m
	return m, nil
}

// requireActive fails with NotFoundError when a medicine is missing or
// inactive.
func (s *scope) requireActive(ids []uuid.UUID) error {
	for _, id := range ids {
		m, err := s.medicine(id)
		if err != nil {
			return err
		}
		if !m.Active() {
			return &apperr.NotFoundError{Entity: "active medicine", ID: id.String()}
		}
	}
	return nil
}

// admit requires every medicine that next newly references, or references
// with more units than prev, to be active. Zero-unit lines count as
// references. Medicines kept at the same or a lower total are admitted
// regardless of status.
func (s *scope) admit(next, prev *inventory.Demand) error {
	var ids []uuid.UUID
	for _, id := range next.MedicineIDs() {
		if !prev.Has(id) || next.Quantity(id) > prev.Quantity(id) {
			ids = append(ids, id)
		}
	}
	return s.requireActive(ids)
}

// apply reserves and adjusts a signed demand. Medicines that gain demand
// must be active; releases are always allowed so that records referencing
// a since-deactivated medicine can still be reversed.
func (s *scope) apply(d *inventory.Demand) error {
	var growing []uuid.UUID
	for _, id := range d.MedicineIDs() {
		if d.Quantity(id) > 0 {
			growing = append(growing, id)
		}
	}
	if err := s.requireActive(growing); err != nil {
		return err
	}
	if err := s.ledger.Apply(s.ctx, d); err != nil {
		return err
	}
	for _, id := range d.MedicineIDs() {
		q := d.Quantity(id)
		switch {
		case q > 0:
			s.moves = append(s.moves, move{op: "deduct", units: q})
		case q < 0:
			s.moves = append(s.moves, move{op: "restore", units: -q})
		}
	}
	return nil
}

// emit appends an event to the outbox inside the transaction.
func (s *scope) emit(aggregateType, aggregateID string, t events.Type, data interface{}) error {
	ev, err := events.New(aggregateType, aggregateID, t, data, s.engine.now())
	if err != nil {
		return err
	}
	ev.CorrelationID = s.engine.correlation(s.ctx)
	entry, err := ev.OutboxEntry()
	if err != nil {
		return err
	}
	if err := s.tx.Outbox().Append(s.ctx, entry); err != nil {
		return fmt.Errorf("append %s to outbox: %w", t, err)
	}
	s.events++
	return nil
}

// emitStockAlerts raises one alert per medicine whose stock level got worse.
func (s *scope) emitStockAlerts() error {
	for _, ch := range s.ledger.Changes() {
		m, err := s.medicine(ch.After.MedicineID)
		if err != nil {
			return err
		}
		before := ch.Before.Level(m.ReorderLevel)
		after := ch.After.Level(m.ReorderLevel)
		if !after.Worse(before) {
			continue
		}

		t := events.StockLow
		if after == inventory.LevelDepleted {
			t = events.StockDepleted
		}
		data := events.StockAlertData{
			MedicineID:   m.ID,
			BrandName:    m.BrandName,
			Level:        after,
			Stock:        ch.After.Stock,
			ReorderLevel: m.ReorderLevel,
		}
		if err := s.emit(events.AggregateMedicine, m.ID.String(), t, data); err != nil {
			return err
		}
	}
	return nil
}

// Package notify turns stock alert events into stored alerts and optional
// webhook notifications. Nothing here runs on the clinical write path.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/campusclinic/medstock/internal/domain/inventory"
	"github.com/campusclinic/medstock/internal/events"
	"github.com/campusclinic/medstock/internal/infrastructure/redpanda"
	"github.com/campusclinic/medstock/internal/observability/metrics"
	"github.com/campusclinic/medstock/pkg/idempotency"
	"github.com/campusclinic/medstock/pkg/workerpool"
)

// handlerName identifies this consumer in the inbox.
const handlerName = "stock-alerts"

// Deduper runs fn at most once per key.
type Deduper interface {
	Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error)
}

// AlertSink persists alerts.
type AlertSink interface {
	Save(ctx context.Context, a *inventory.Alert) error
	MarkForwarded(ctx context.Context, eventID string) error
}

// Forwarder delivers an alert outside the system.
type Forwarder interface {
	Forward(ctx context.Context, a *inventory.Alert) error
}

// Dispatcher handles one alert event at a time.
type Dispatcher struct {
	inbox     Deduper
	sink      AlertSink
	forwarder Forwarder
	metrics   *metrics.Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewDispatcher creates a dispatcher. forwarder and m may be nil.
func NewDispatcher(inbox Deduper, sink AlertSink, forwarder Forwarder, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		inbox:     inbox,
		sink:      sink,
		forwarder: forwarder,
		metrics:   m,
		logger:    logger,
		tracer:    otel.Tracer("stock-notifier"),
	}
}

// Handle processes one published event envelope. Malformed or unrelated
// events are dropped; the returned error is always worth retrying.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) error {
	ctx, span := d.tracer.Start(ctx, "handle_stock_alert")
	defer span.End()

	ev, err := events.Decode(raw)
	if err != nil {
		d.logger.Warn("dropping undecodable event", zap.Error(err))
		d.metrics.RecordAlert("invalid")
		return nil
	}
	if ev.Type != events.StockLow && ev.Type != events.StockDepleted {
		d.metrics.RecordAlert("ignored")
		return nil
	}

	var data events.StockAlertData
	if err := json.Unmarshal(ev.Data, &data); err != nil || data.MedicineID == uuid.Nil {
		d.logger.Warn("dropping malformed stock alert", zap.String("event_id", ev.ID), zap.Error(err))
		d.metrics.RecordAlert("invalid")
		return nil
	}
	span.SetAttributes(
		attribute.String("event_id", ev.ID),
		attribute.String("medicine_id", data.MedicineID.String()),
		attribute.String("level", string(data.Level)),
	)

	alert := &inventory.Alert{
		ID:           uuid.New(),
		EventID:      ev.ID,
		MedicineID:   data.MedicineID,
		BrandName:    data.BrandName,
		Level:        data.Level,
		Stock:        data.Stock,
		ReorderLevel: data.ReorderLevel,
		RaisedAt:     ev.Timestamp,
	}

	key := idempotency.GenerateKey(data.MedicineID.String(), string(ev.Type), ev.Timestamp)
	res, err := d.inbox.Process(ctx, key, handlerName, raw, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		if err := d.sink.Save(ctx, alert); err != nil {
			return nil, fmt.Errorf("save alert: %w", err)
		}
		return json.Marshal(map[string]string{"alert_id": alert.ID.String()})
	})
	switch {
	case errors.Is(err, idempotency.ErrDuplicateMessage), errors.Is(err, idempotency.ErrPreviouslyFailed):
		d.metrics.RecordAlert("duplicate")
		return nil
	case err != nil:
		d.metrics.RecordAlert("error")
		span.RecordError(err)
		return err
	case res.Duplicate:
		d.metrics.RecordAlert("duplicate")
		d.logger.Debug("alert already raised today",
			zap.String("medicine_id", data.MedicineID.String()),
			zap.String("type", string(ev.Type)))
		return nil
	}

	d.metrics.RecordAlert("stored")
	d.logger.Info("stock alert raised",
		zap.String("medicine_id", data.MedicineID.String()),
		zap.String("brand_name", data.BrandName),
		zap.String("level", string(data.Level)),
		zap.Int("stock", data.Stock),
		zap.String("correlation_id", ev.CorrelationID))

	d.forward(ctx, alert)
	return nil
}

// forward is best effort: the alert is already stored and visible.
func (d *Dispatcher) forward(ctx context.Context, a *inventory.Alert) {
	if d.forwarder == nil {
		return
	}
	if err := d.forwarder.Forward(ctx, a); err != nil {
		d.metrics.RecordAlert("forward_failed")
		d.logger.Warn("alert forwarding failed", zap.String("event_id", a.EventID), zap.Error(err))
		return
	}
	if err := d.sink.MarkForwarded(ctx, a.EventID); err != nil {
		d.logger.Warn("failed to mark alert forwarded", zap.String("event_id", a.EventID), zap.Error(err))
	}
	d.metrics.RecordAlert("forwarded")
}

// WorkerFunc adapts Handle to a worker pool whose tasks carry raw envelopes.
func (d *Dispatcher) WorkerFunc() workerpool.WorkerFunc {
	return func(ctx context.Context, task *workerpool.Task) error {
		raw, ok := task.Payload.([]byte)
		if !ok {
			return fmt.Errorf("%w: task %s carries %T", idempotency.ErrPermanent, task.ID, task.Payload)
		}
		return d.Handle(ctx, raw)
	}
}

// Retryable reports whether a pool task should be attempted again.
func Retryable(err error) bool {
	return !errors.Is(err, idempotency.ErrPermanent)
}

// ConsumerHandler feeds consumed records through pool and reports the
// outcome back to the consumer, which commits only handled records.
func ConsumerHandler(pool *workerpool.Pool) redpanda.MessageHandler {
	return func(ctx context.Context, msg *redpanda.ConsumedMessage) error {
		res, err := pool.SubmitWait(ctx, &workerpool.Task{
			ID:      fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset),
			Payload: msg.Value,
			Context: ctx,
		})
		if err != nil {
			return err
		}
		if !res.Success {
			return res.Error
		}
		return nil
	}
}

package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/campusclinic/medstock/internal/events"
	"github.com/campusclinic/medstock/internal/store"
)

// OutboxSource is an outbox readable by cursor, as the memory store offers.
type OutboxSource interface {
	OutboxAfter(id int64, limit int) []store.OutboxEntry
	TrimOutbox(id int64)
}

// LocalRelay feeds stock alerts from an in-process outbox straight into a
// dispatcher. It stands in for the broker when the memory driver is used.
type LocalRelay struct {
	source     OutboxSource
	dispatcher *Dispatcher
	interval   time.Duration
	batchSize  int
	logger     *zap.Logger

	cursor int64
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLocalRelay creates a relay that polls every interval.
func NewLocalRelay(source OutboxSource, d *Dispatcher, interval time.Duration, batchSize int, logger *zap.Logger) *LocalRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalRelay{
		source:     source,
		dispatcher: d,
		interval:   interval,
		batchSize:  batchSize,
		logger:     logger,
	}
}

// Start runs the poll loop until Stop.
func (r *LocalRelay) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Drain(ctx)
			}
		}
	}()
}

// Stop ends the loop and waits for an in-flight batch.
func (r *LocalRelay) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

// Drain relays everything committed so far and returns how many entries
// were consumed. An entry whose dispatch fails stays in the outbox.
func (r *LocalRelay) Drain(ctx context.Context) int {
	n := 0
	for {
		batch := r.source.OutboxAfter(r.cursor, r.batchSize)
		if len(batch) == 0 {
			return n
		}
		for _, e := range batch {
			if e.Topic == events.TopicStockAlerts {
				if err := r.dispatcher.Handle(ctx, e.Payload); err != nil {
					r.logger.Warn("local alert dispatch failed", zap.Int64("outbox_id", e.ID), zap.Error(err))
					r.source.TrimOutbox(r.cursor)
					return n
				}
			}
			r.cursor = e.ID
			n++
		}
		r.source.TrimOutbox(r.cursor)
	}
}

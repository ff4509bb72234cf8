// Package memory provides an in-memory unit of work used by tests and by the
// API when STORE_DRIVER=memory.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campusclinic/medstock/internal/domain/apperr"
	"github.com/campusclinic/medstock/internal/domain/clinical"
	"github.com/campusclinic/medstock/internal/domain/inventory"
	"github.com/campusclinic/medstock/internal/store"
)

var _ store.UnitOfWork = (*Store)(nil)

// state is the full dataset. Pointer fields inside entities are never
// mutated in place, so cloning copies maps and slices only.
type state struct {
	medicines    map[uuid.UUID]inventory.Medicine
	stock        map[uuid.UUID]inventory.StockRecord
	purchases    map[uuid.UUID]inventory.Purchase
	checkups     map[uuid.UUID]clinical.Checkup
	plans        map[uuid.UUID]clinical.ObservationPlan
	outbox       []store.OutboxEntry
	nextOutboxID int64
}

func newState() state {
	return state{
		medicines: make(map[uuid.UUID]inventory.Medicine),
		stock:     make(map[uuid.UUID]inventory.StockRecord),
		purchases: make(map[uuid.UUID]inventory.Purchase),
		checkups:  make(map[uuid.UUID]clinical.Checkup),
		plans:     make(map[uuid.UUID]clinical.ObservationPlan),
	}
}

func (s state) clone() state {
	c := state{
		medicines:    make(map[uuid.UUID]inventory.Medicine, len(s.medicines)),
		stock:        make(map[uuid.UUID]inventory.StockRecord, len(s.stock)),
		purchases:    make(map[uuid.UUID]inventory.Purchase, len(s.purchases)),
		checkups:     make(map[uuid.UUID]clinical.Checkup, len(s.checkups)),
		plans:        make(map[uuid.UUID]clinical.ObservationPlan, len(s.plans)),
		outbox:       append([]store.OutboxEntry(nil), s.outbox...),
		nextOutboxID: s.nextOutboxID,
	}
	for k, v := range s.medicines {
		c.medicines[k] = v
	}
	for k, v := range s.stock {
		c.stock[k] = v
	}
	for k, v := range s.purchases {
		c.purchases[k] = clonePurchase(v)
	}
	for k, v := range s.checkups {
		c.checkups[k] = cloneCheckup(v)
	}
	for k, v := range s.plans {
		c.plans[k] = clonePlan(v)
	}
	return c
}

func clonePurchase(p inventory.Purchase) inventory.Purchase {
	p.Items = append([]inventory.PurchaseItem(nil), p.Items...)
	return p
}

func cloneCheckup(c clinical.Checkup) clinical.Checkup {
	c.Lines = append([]clinical.PrescriptionLine(nil), c.Lines...)
	return c
}

func clonePlan(p clinical.ObservationPlan) clinical.ObservationPlan {
	p.Lines = append([]clinical.ObservationLine(nil), p.Lines...)
	return p
}

// Store serializes writers behind one mutex. Each Do works on a cloned state
// that replaces the live state only when fn succeeds.
type Store struct {
	mu    sync.RWMutex
	state state
	nowFn func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for outbox timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.nowFn = now }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		state: newState(),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Do runs fn against a private copy of the state and publishes the copy on
// success.
func (s *Store) Do(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return &apperr.TransactionError{Op: "begin", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{state: s.state.clone(), now: s.nowFn}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return &apperr.TransactionError{Op: "commit", Err: err}
	}

	s.state = tx.state
	return nil
}

// View runs fn against a snapshot. Writes made by fn are discarded.
func (s *Store) View(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return &apperr.TransactionError{Op: "begin", Err: err}
	}

	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()

	return fn(&transaction{state: snapshot, now: s.nowFn})
}

// Outbox returns the committed outbox entries in insertion order.
func (s *Store) Outbox() []store.OutboxEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.OutboxEntry(nil), s.state.outbox...)
}

// OutboxAfter returns up to limit committed entries with ID greater than id.
func (s *Store) OutboxAfter(id int64, limit int) []store.OutboxEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.OutboxEntry
	for _, e := range s.state.outbox {
		if e.ID <= id {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// TrimOutbox drops committed entries up to and including id.
func (s *Store) TrimOutbox(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := s.state.outbox[:0]
	for _, e := range s.state.outbox {
		if e.ID > id {
			keep = append(keep, e)
		}
	}
	s.state.outbox = keep
}

// StockRecord returns the committed ledger row of a medicine.
func (s *Store) StockRecord(medicineID uuid.UUID) (inventory.StockRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.state.stock[medicineID]
	return rec, ok
}

// Counts reports how many checkups and observation plans are committed.
func (s *Store) Counts() (checkups, plans int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.checkups), len(s.state.plans)
}

type transaction struct {
	state state
	now   func() time.Time
}

func (tx *transaction) Medicines() store.MedicineRepository { return medicineRepo{tx} }

func (tx *transaction) Stock() store.StockRepository { return stockRepo{tx} }

func (tx *transaction) Purchases() store.PurchaseRepository { return purchaseRepo{tx} }

func (tx *transaction) Checkups() store.CheckupRepository { return checkupRepo{tx} }

func (tx *transaction) Observations() store.ObservationRepository { return observationRepo{tx} }

func (tx *transaction) Outbox() store.OutboxWriter { return outboxWriter{tx} }

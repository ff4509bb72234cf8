package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/campusclinic/medstock/internal/domain/apperr"
)

// StockStore is the slice of a transaction the ledger needs. GetForUpdate
// must lock the row for the rest of the transaction and return
// *apperr.NotFoundError when no record exists.
type StockStore interface {
	GetForUpdate(ctx context.Context, medicineID uuid.UUID) (*StockRecord, error)
	Save(ctx context.Context, rec *StockRecord) error
}

// Change is the before/after view of one record touched by a ledger.
type Change struct {
	Before StockRecord
	After  StockRecord
}

// Ledger applies stock operations inside a caller-owned transaction. It is
// built per transaction and must not outlive it.
type Ledger struct {
	store   StockStore
	now     func() time.Time
	records map[uuid.UUID]*StockRecord
	before  map[uuid.UUID]StockRecord
}

// NewLedger binds a ledger to a transaction's stock store.
func NewLedger(store StockStore, now func() time.Time) *Ledger {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{
		store:   store,
		now:     now,
		records: make(map[uuid.UUID]*StockRecord),
		before:  make(map[uuid.UUID]StockRecord),
	}
}

// Lock loads and locks the given records in ascending id order.
func (l *Ledger) Lock(ctx context.Context, ids []uuid.UUID) error {
	sorted := append([]uuid.UUID(nil), ids...)
	SortIDs(sorted)
	for _, id := range sorted {
		if _, err := l.load(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) load(ctx context.Context, id uuid.UUID) (*StockRecord, error) {
	if rec, ok := l.records[id]; ok {
		return rec, nil
	}
	rec, err := l.store.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperr.NotFound("stock record", id)
	}
	if err := rec.Check(); err != nil {
		return nil, err
	}
	l.records[id] = rec
	l.before[id] = *rec
	return rec, nil
}

func (l *Ledger) save(ctx context.Context, rec *StockRecord) error {
	if err := rec.Check(); err != nil {
		return err
	}
	rec.UpdatedAt = l.now()
	return l.store.Save(ctx, rec)
}

// Reserve checks availability without mutating.
func (l *Ledger) Reserve(ctx context.Context, medicineID uuid.UUID, qty int) error {
	rec, err := l.load(ctx, medicineID)
	if err != nil {
		return err
	}
	return rec.Reserve(qty)
}

// Deduct dispenses qty units.
func (l *Ledger) Deduct(ctx context.Context, medicineID uuid.UUID, qty int) error {
	return l.mutate(ctx, medicineID, func(rec *StockRecord) error { return rec.Deduct(qty) })
}

// Restore returns qty dispensed units.
func (l *Ledger) Restore(ctx context.Context, medicineID uuid.UUID, qty int) error {
	return l.mutate(ctx, medicineID, func(rec *StockRecord) error { return rec.Restore(qty) })
}

// Adjust applies a signed dispense delta.
func (l *Ledger) Adjust(ctx context.Context, medicineID uuid.UUID, delta int) error {
	return l.mutate(ctx, medicineID, func(rec *StockRecord) error { return rec.Adjust(delta) })
}

// Receive adds purchased units.
func (l *Ledger) Receive(ctx context.Context, medicineID uuid.UUID, qty int) error {
	return l.mutate(ctx, medicineID, func(rec *StockRecord) error { return rec.Receive(qty) })
}

func (l *Ledger) mutate(ctx context.Context, medicineID uuid.UUID, op func(*StockRecord) error) error {
	rec, err := l.load(ctx, medicineID)
	if err != nil {
		return err
	}
	// Mutate a copy so a failed save leaves the cached record untouched.
	next := *rec
	if err := op(&next); err != nil {
		return err
	}
	if err := l.save(ctx, &next); err != nil {
		return err
	}
	*rec = next
	return nil
}

// Apply reserves every positive entry of d, and only when all of them fit
// adjusts every entry. Shortfalls carry the line recorded in d.
func (l *Ledger) Apply(ctx context.Context, d *Demand) error {
	if err := d.Err(); err != nil {
		return err
	}
	ids := d.MedicineIDs()
	if err := l.Lock(ctx, ids); err != nil {
		return err
	}

	for _, id := range ids {
		q := d.Quantity(id)
		if q <= 0 {
			continue
		}
		if err := l.Reserve(ctx, id, q); err != nil {
			var short *apperr.InsufficientStockError
			if errors.As(err, &short) {
				short.Line = d.Line(id)
			}
			return err
		}
	}

	for _, id := range ids {
		if err := l.Adjust(ctx, id, d.Quantity(id)); err != nil {
			return err
		}
	}
	return nil
}

// Record returns the current in-transaction view of a loaded record.
func (l *Ledger) Record(medicineID uuid.UUID) (StockRecord, bool) {
	rec, ok := l.records[medicineID]
	if !ok {
		return StockRecord{}, false
	}
	return *rec, true
}

// Changes lists every record whose counters moved, in id order.
func (l *Ledger) Changes() []Change {
	ids := make([]uuid.UUID, 0, len(l.records))
	for id := range l.records {
		ids = append(ids, id)
	}
	SortIDs(ids)

	var out []Change
	for _, id := range ids {
		before, after := l.before[id], *l.records[id]
		if before.Stock == after.Stock && before.Received == after.Received && before.Dispensed == after.Dispensed {
			continue
		}
		out = append(out, Change{Before: before, After: after})
	}
	return out
}

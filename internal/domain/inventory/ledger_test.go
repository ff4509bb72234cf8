package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/campusclinic/medstock/internal/domain/apperr"
)

// fakeStockStore is an in-memory StockStore with an optional save hook.
type fakeStockStore struct {
	records  map[uuid.UUID]StockRecord
	locked   []uuid.UUID
	SaveFunc func(rec *StockRecord) error
}

var _ StockStore = (*fakeStockStore)(nil)

func newFakeStockStore(recs ...StockRecord) *fakeStockStore {
	s := &fakeStockStore{records: make(map[uuid.UUID]StockRecord)}
	for _, r := range recs {
		s.records[r.MedicineID] = r
	}
	return s
}

func (s *fakeStockStore) GetForUpdate(_ context.Context, id uuid.UUID) (*StockRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, apperr.NotFound("stock record", id)
	}
	s.locked = append(s.locked, id)
	return &rec, nil
}

func (s *fakeStockStore) Save(_ context.Context, rec *StockRecord) error {
	if s.SaveFunc != nil {
		if err := s.SaveFunc(rec); err != nil {
			return err
		}
	}
	s.records[rec.MedicineID] = *rec
	return nil
}

func stocked(id uuid.UUID, stock int) StockRecord {
	return StockRecord{MedicineID: id, Stock: stock, Received: stock}
}

func TestStockRecordOperations(t *testing.T) {
	id := uuid.New()
	rec := stocked(id, 10)

	if err := rec.Deduct(4); err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if rec.Stock != 6 || rec.Dispensed != 4 {
		t.Fatalf("after deduct got stock=%d dispensed=%d", rec.Stock, rec.Dispensed)
	}

	if err := rec.Adjust(-3); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if rec.Stock != 9 || rec.Dispensed != 1 {
		t.Fatalf("after restore got stock=%d dispensed=%d", rec.Stock, rec.Dispensed)
	}

	if err := rec.Receive(5); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if rec.Stock != 14 || rec.Received != 15 {
		t.Fatalf("after receive got stock=%d received=%d", rec.Stock, rec.Received)
	}
	if err := rec.Check(); err != nil {
		t.Fatalf("invariant: %v", err)
	}
}

func TestStockRecordRejections(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name  string
		op    func(*StockRecord) error
		check func(error) bool
	}{
		{"deduct beyond stock", func(r *StockRecord) error { return r.Deduct(11) }, apperr.IsInsufficientStock},
		{"negative reserve", func(r *StockRecord) error { return r.Reserve(-1) }, apperr.IsValidation},
		{"restore beyond dispensed", func(r *StockRecord) error { return r.Restore(1) }, func(err error) bool {
			var inv *apperr.InvariantError
			return errors.As(err, &inv)
		}},
		{"zero receive", func(r *StockRecord) error { return r.Receive(0) }, apperr.IsValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := stocked(id, 10)
			err := tt.op(&rec)
			if !tt.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
			if rec.Stock != 10 || rec.Dispensed != 0 || rec.Received != 10 {
				t.Errorf("record mutated on failure: %+v", rec)
			}
		})
	}
}

func TestLevel(t *testing.T) {
	rec := stocked(uuid.New(), 0)
	if got := rec.Level(5); got != LevelDepleted {
		t.Errorf("expected depleted, got %s", got)
	}
	rec.Stock, rec.Received = 5, 5
	if got := rec.Level(5); got != LevelLow {
		t.Errorf("expected low, got %s", got)
	}
	rec.Stock, rec.Received = 6, 6
	if got := rec.Level(5); got != LevelOK {
		t.Errorf("expected ok, got %s", got)
	}
	if !LevelDepleted.Worse(LevelLow) || LevelOK.Worse(LevelLow) {
		t.Error("unexpected level ordering")
	}
}

func TestLedgerApplyIsAllOrNothing(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	store := newFakeStockStore(stocked(a, 10), stocked(b, 2))
	ledger := NewLedger(store, nil)

	d := NewDemand()
	d.Add(a, 4, 0)
	d.Add(b, 3, 1)

	err := ledger.Apply(context.Background(), d)
	var short *apperr.InsufficientStockError
	if !errors.As(err, &short) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if short.MedicineID != b || short.Line != 1 || short.Available != 2 {
		t.Errorf("unexpected shortfall %+v", short)
	}
	if store.records[a].Stock != 10 {
		t.Errorf("medicine a was deducted despite the shortfall: %+v", store.records[a])
	}
	if len(ledger.Changes()) != 0 {
		t.Errorf("expected no changes, got %d", len(ledger.Changes()))
	}
}

func TestLedgerApplyAggregatesRepeatedMedicine(t *testing.T) {
	a := uuid.New()
	store := newFakeStockStore(stocked(a, 5))
	ledger := NewLedger(store, nil)

	d := NewDemand()
	d.Add(a, 3, 0)
	d.Add(a, 3, 1)

	if err := ledger.Apply(context.Background(), d); !apperr.IsInsufficientStock(err) {
		t.Fatalf("expected aggregated demand to exceed stock, got %v", err)
	}
}

func TestLedgerLocksInIDOrder(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	store := newFakeStockStore(stocked(ids[0], 1), stocked(ids[1], 1), stocked(ids[2], 1))
	ledger := NewLedger(store, nil)

	if err := ledger.Lock(context.Background(), []uuid.UUID{ids[2], ids[0], ids[1]}); err != nil {
		t.Fatalf("lock: %v", err)
	}

	want := append([]uuid.UUID(nil), ids...)
	SortIDs(want)
	for i := range want {
		if store.locked[i] != want[i] {
			t.Fatalf("lock order %v, want %v", store.locked, want)
		}
	}
}

func TestLedgerFailedSaveLeavesCacheUntouched(t *testing.T) {
	a := uuid.New()
	store := newFakeStockStore(stocked(a, 5))
	store.SaveFunc = func(*StockRecord) error { return errors.New("disk full") }
	ledger := NewLedger(store, func() time.Time { return time.Unix(0, 0) })

	if err := ledger.Deduct(context.Background(), a, 2); err == nil {
		t.Fatal("expected save failure")
	}
	rec, ok := ledger.Record(a)
	if !ok || rec.Stock != 5 {
		t.Errorf("cached record changed after failed save: %+v", rec)
	}
}

func TestLedgerMissingRecord(t *testing.T) {
	ledger := NewLedger(newFakeStockStore(), nil)
	if err := ledger.Reserve(context.Background(), uuid.New(), 1); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDiff(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	prev := NewDemand()
	prev.Add(a, 4, 0)
	prev.Add(b, 2, 1)

	next := NewDemand()
	next.Add(a, 6, 0)
	next.Add(c, 1, 1)

	d := Diff(next, prev)
	if d.Quantity(a) != 2 || d.Quantity(b) != -2 || d.Quantity(c) != 1 {
		t.Errorf("unexpected diff a=%d b=%d c=%d", d.Quantity(a), d.Quantity(b), d.Quantity(c))
	}
	if d.Line(b) != -1 || d.Line(c) != 1 {
		t.Errorf("unexpected line attribution b=%d c=%d", d.Line(b), d.Line(c))
	}
	if Diff(prev, prev).Len() != 0 {
		t.Error("expected empty diff for identical demand")
	}
}

func TestDemandOverflowIsValidation(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	d := NewDemand()
	d.Add(a, 0, 0)
	d.Add(b, MaxUnits, 1)
	if !d.Has(a) || d.Err() != nil {
		t.Fatalf("zero-unit reference lost or spurious error: has=%v err=%v", d.Has(a), d.Err())
	}

	d.Add(b, MaxUnits, 2)
	if d.Quantity(b) != MaxUnits {
		t.Errorf("expected total clamped to %d, got %d", MaxUnits, d.Quantity(b))
	}
	if !apperr.IsValidation(d.Err()) || !apperr.IsValidation(d.Negate().Err()) {
		t.Fatalf("expected validation error, got %v", d.Err())
	}

	store := newFakeStockStore(StockRecord{MedicineID: b, Stock: 10})
	if err := NewLedger(store, nil).Apply(context.Background(), d); !apperr.IsValidation(err) {
		t.Fatalf("expected ledger to reject overflowing demand, got %v", err)
	}
	if len(store.locked) != 0 {
		t.Errorf("rows locked for rejected demand: %v", store.locked)
	}

	rec := StockRecord{MedicineID: b, Stock: 10, Received: 10}
	if err := rec.Receive(MaxUnits); !apperr.IsValidation(err) || rec.Received != 10 {
		t.Errorf("expected receive past the unit limit to fail, got %v (received=%d)", err, rec.Received)
	}
}

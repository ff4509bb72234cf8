package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/campusclinic/medstock/internal/domain/apperr"
	"github.com/campusclinic/medstock/internal/domain/clinical"
	"github.com/campusclinic/medstock/internal/domain/inventory"
	"github.com/campusclinic/medstock/internal/store"
)

func seedMedicine(t *testing.T, s *Store, stock int) uuid.UUID {
	t.Helper()
	now := time.Now().UTC()
	m, err := inventory.NewMedicine("Med-"+uuid.NewString()[:8], "salt", nil, 2, now)
	if err != nil {
		t.Fatalf("new medicine: %v", err)
	}
	err = s.Do(context.Background(), func(tx store.Tx) error {
		if err := tx.Medicines().Create(context.Background(), m); err != nil {
			return err
		}
		rec := inventory.NewStockRecord(m.ID, now)
		rec.Stock, rec.Received = stock, stock
		return tx.Stock().Create(context.Background(), rec)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return m.ID
}

func TestDoRollsBackOnError(t *testing.T) {
	s := New()
	id := seedMedicine(t, s, 10)
	boom := errors.New("boom")

	err := s.Do(context.Background(), func(tx store.Tx) error {
		rec, err := tx.Stock().GetForUpdate(context.Background(), id)
		if err != nil {
			return err
		}
		if err := rec.Deduct(4); err != nil {
			return err
		}
		if err := tx.Stock().Save(context.Background(), rec); err != nil {
			return err
		}
		if err := tx.Outbox().Append(context.Background(), &store.OutboxEntry{Topic: "t", EventType: "e"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error to pass through, got %v", err)
	}

	rec, _ := s.StockRecord(id)
	if rec.Stock != 10 || rec.Dispensed != 0 {
		t.Errorf("stock changed despite rollback: %+v", rec)
	}
	if len(s.Outbox()) != 0 {
		t.Error("outbox entry survived rollback")
	}
}

func TestSaveEnforcesInvariant(t *testing.T) {
	s := New()
	id := seedMedicine(t, s, 3)

	err := s.Do(context.Background(), func(tx store.Tx) error {
		rec, _ := tx.Stock().GetForUpdate(context.Background(), id)
		rec.Stock = -1
		return tx.Stock().Save(context.Background(), rec)
	})
	var inv *apperr.InvariantError
	if !errors.As(err, &inv) {
		t.Fatalf("expected invariant error, got %v", err)
	}
}

func TestCanceledContextIsTransactionError(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Do(ctx, func(store.Tx) error { return nil })
	var txErr *apperr.TransactionError
	if !errors.As(err, &txErr) || txErr.Op != "begin" {
		t.Fatalf("expected begin transaction error, got %v", err)
	}
}

func TestViewDiscardsWrites(t *testing.T) {
	s := New()
	id := seedMedicine(t, s, 5)

	err := s.View(context.Background(), func(tx store.Tx) error {
		rec, _ := tx.Stock().GetForUpdate(context.Background(), id)
		rec.Stock, rec.Dispensed = 0, 5
		return tx.Stock().Save(context.Background(), rec)
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if rec, _ := s.StockRecord(id); rec.Stock != 5 {
		t.Errorf("view leaked a write: %+v", rec)
	}
}

func TestParentDeleteRequiresChildrenGone(t *testing.T) {
	s := New()
	med := seedMedicine(t, s, 5)
	doctor := uuid.New()
	ctx := context.Background()

	c, err := clinical.CheckupInput{
		PatientID: uuid.New(),
		DoctorID:  &doctor,
		Lines:     []clinical.PrescriptionInput{{MedicineID: med, Quantity: clinical.Qty(1)}},
	}.Build(uuid.New(), time.Now())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if err := s.Do(ctx, func(tx store.Tx) error { return tx.Checkups().Create(ctx, c) }); err != nil {
		t.Fatalf("create: %v", err)
	}

	err = s.Do(ctx, func(tx store.Tx) error { return tx.Checkups().Delete(ctx, c.ID) })
	if !apperr.IsReferentialIntegrity(err) {
		t.Fatalf("expected referential integrity error, got %v", err)
	}

	err = s.Do(ctx, func(tx store.Tx) error {
		if err := tx.Checkups().DeleteLines(ctx, c.ID); err != nil {
			return err
		}
		return tx.Checkups().Delete(ctx, c.ID)
	})
	if err != nil {
		t.Fatalf("ordered delete: %v", err)
	}
	if n, _ := s.Counts(); n != 0 {
		t.Errorf("expected no checkups, got %d", n)
	}
}

func TestDuplicateBrandIsConflict(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	a, _ := inventory.NewMedicine("Crocin", "Paracetamol", nil, 0, now)
	b, _ := inventory.NewMedicine("crocin", "Paracetamol", nil, 0, now)

	if err := s.Do(ctx, func(tx store.Tx) error { return tx.Medicines().Create(ctx, a) }); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := s.Do(ctx, func(tx store.Tx) error { return tx.Medicines().Create(ctx, b) })
	if !apperr.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestOutboxCursorAndTrim(t *testing.T) {
	s := New()
	for i := 0; i < 3; i++ {
		err := s.Do(context.Background(), func(tx store.Tx) error {
			return tx.Outbox().Append(context.Background(), &store.OutboxEntry{Topic: "t", EventType: "e"})
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	batch := s.OutboxAfter(0, 2)
	if len(batch) != 2 || batch[0].ID != 1 || batch[1].ID != 2 {
		t.Fatalf("unexpected batch %+v", batch)
	}
	s.TrimOutbox(batch[1].ID)

	rest := s.OutboxAfter(0, 0)
	if len(rest) != 1 || rest[0].ID != 3 {
		t.Errorf("expected only entry 3 left, got %+v", rest)
	}

	err := s.Do(context.Background(), func(tx store.Tx) error {
		return tx.Outbox().Append(context.Background(), &store.OutboxEntry{Topic: "t", EventType: "e"})
	})
	if err != nil {
		t.Fatal(err)
	}
	if next := s.OutboxAfter(3, 0); len(next) != 1 || next[0].ID != 4 {
		t.Errorf("ids must keep increasing after trim, got %+v", next)
	}
}

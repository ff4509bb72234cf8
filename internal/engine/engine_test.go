package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/campusclinic/medstock/internal/domain/apperr"
	"github.com/campusclinic/medstock/internal/domain/clinical"
	"github.com/campusclinic/medstock/internal/domain/inventory"
	"github.com/campusclinic/medstock/internal/events"
	"github.com/campusclinic/medstock/internal/infrastructure/memory"
	"github.com/campusclinic/medstock/internal/observability/metrics"
	"github.com/campusclinic/medstock/internal/store"
)

var testNow = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	t       *testing.T
	store   *memory.Store
	engine  *Engine
	patient uuid.UUID
	doctor  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.New(memory.WithClock(func() time.Time { return testNow }))
	return &fixture{
		t:     t,
		store: s,
		engine: New(s, nil,
			WithClock(func() time.Time { return testNow }),
			WithMetrics(metrics.New(prometheus.NewRegistry())),
		),
		patient: uuid.New(),
		doctor:  uuid.New(),
	}
}

// medicine registers a medicine and receives stock units of it.
func (f *fixture) medicine(stock, reorder int) uuid.UUID {
	f.t.Helper()
	ctx := context.Background()
	m, err := f.engine.CreateMedicine(ctx, MedicineInput{
		BrandName:    "Brand-" + uuid.NewString()[:8],
		SaltName:     "Salt",
		ReorderLevel: &reorder,
	})
	if err != nil {
		f.t.Fatalf("create medicine: %v", err)
	}
	if stock > 0 {
		_, err = f.engine.ReceivePurchase(ctx, inventory.Purchase{
			InvoiceNo: "INV-" + uuid.NewString()[:6],
			Date:      testNow,
			Items: []inventory.PurchaseItem{{
				MedicineID: m.ID,
				BatchNo:    "B1",
				ExpiryDate: testNow.AddDate(1, 0, 0),
				Quantity:   stock,
			}},
		})
		if err != nil {
			f.t.Fatalf("receive: %v", err)
		}
	}
	return m.ID
}

func (f *fixture) stock(id uuid.UUID) inventory.StockRecord {
	f.t.Helper()
	rec, ok := f.store.StockRecord(id)
	if !ok {
		f.t.Fatalf("no stock record for %s", id)
	}
	if err := rec.Check(); err != nil {
		f.t.Fatalf("invariant broken: %v", err)
	}
	return rec
}

func (f *fixture) expectStock(id uuid.UUID, stock, dispensed int) {
	f.t.Helper()
	rec := f.stock(id)
	if rec.Stock != stock || rec.Dispensed != dispensed {
		f.t.Fatalf("medicine %s: got stock=%d dispensed=%d, want stock=%d dispensed=%d",
			id, rec.Stock, rec.Dispensed, stock, dispensed)
	}
}

func (f *fixture) checkupInput(lines ...clinical.PrescriptionInput) clinical.CheckupInput {
	return clinical.CheckupInput{
		PatientID: f.patient,
		DoctorID:  &f.doctor,
		Diagnosis: "fever",
		Lines:     lines,
	}
}

func (f *fixture) checkup(lines ...clinical.PrescriptionInput) *clinical.Checkup {
	f.t.Helper()
	c, err := f.engine.CreateCheckup(context.Background(), f.checkupInput(lines...))
	if err != nil {
		f.t.Fatalf("create checkup: %v", err)
	}
	return c
}

func (f *fixture) observation(checkupID uuid.UUID, lines ...clinical.ObservationLineInput) *clinical.ObservationPlan {
	f.t.Helper()
	p, err := f.engine.CreateObservation(context.Background(), clinical.ObservationInput{
		CheckupID: checkupID,
		PatientID: f.patient,
		Lines:     lines,
	})
	if err != nil {
		f.t.Fatalf("create observation: %v", err)
	}
	return p
}

func rx(med uuid.UUID, qty int) clinical.PrescriptionInput {
	return clinical.PrescriptionInput{MedicineID: med, Quantity: clinical.Qty(qty)}
}

func obs(med uuid.UUID, daily, days int) clinical.ObservationLineInput {
	return clinical.ObservationLineInput{MedicineID: &med, DailyQuantity: clinical.Qty(daily), Days: clinical.Qty(days)}
}

// scenarioA leaves M at stock=0 with a checkup (4) and an ACTIVE plan (2x3).
func scenarioA(t *testing.T) (*fixture, uuid.UUID, *clinical.Checkup, *clinical.ObservationPlan) {
	f := newFixture(t)
	m := f.medicine(10, 2)

	c := f.checkup(rx(m, 4))
	f.expectStock(m, 6, 4)

	p := f.observation(c.ID, obs(m, 2, 3))
	f.expectStock(m, 0, 10)
	return f, m, c, p
}

func TestScenarioA(t *testing.T) {
	f, m, _, _ := scenarioA(t)

	_, err := f.engine.CreateCheckup(context.Background(), f.checkupInput(rx(m, 1)))
	var short *apperr.InsufficientStockError
	if !errors.As(err, &short) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if short.MedicineID != m || short.Line != 0 || short.Available != 0 || short.Requested != 1 {
		t.Errorf("unexpected shortfall %+v", short)
	}
	f.expectStock(m, 0, 10)
}

func TestScenarioB(t *testing.T) {
	f, m, _, p := scenarioA(t)
	ctx := context.Background()

	if _, err := f.engine.TransitionObservation(ctx, p.ID, clinical.PlanCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := f.engine.DeleteObservation(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	f.expectStock(m, 6, 4)
}

func TestScenarioC(t *testing.T) {
	f, m, _, p := scenarioA(t)
	before := f.stock(m)

	line, err := f.engine.UpdateObservationLine(context.Background(), p.ID, p.Lines[0].ID, clinical.LineUpdate{Days: clinical.Qty(2)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if line.TotalQuantity() != 4 {
		t.Errorf("expected total 4, got %d", line.TotalQuantity())
	}
	f.expectStock(m, before.Stock+2, before.Dispensed-2)
}

func TestDeltaCorrectness(t *testing.T) {
	tests := []struct {
		name              string
		daily, days       int
		newDaily, newDays int
	}{
		{"shrink days", 2, 3, 2, 2},
		{"grow daily", 1, 2, 3, 2},
		{"to zero", 2, 2, 0, 2},
		{"unchanged", 2, 2, 2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			m := f.medicine(50, 0)
			c := f.checkup()
			p := f.observation(c.ID, obs(m, tt.daily, tt.days))
			before := f.stock(m)

			_, err := f.engine.UpdateObservationLine(context.Background(), p.ID, p.Lines[0].ID, clinical.LineUpdate{
				DailyQuantity: clinical.Qty(tt.newDaily),
				Days:          clinical.Qty(tt.newDays),
			})
			if err != nil {
				t.Fatalf("update: %v", err)
			}

			t1, t2 := tt.daily*tt.days, tt.newDaily*tt.newDays
			f.expectStock(m, before.Stock+(t1-t2), before.Dispensed+(t2-t1))
		})
	}
}

func TestUpdateBeyondStockLeavesLineUnchanged(t *testing.T) {
	f := newFixture(t)
	m := f.medicine(6, 0)
	c := f.checkup()
	p := f.observation(c.ID, obs(m, 2, 2))

	_, err := f.engine.UpdateObservationLine(context.Background(), p.ID, p.Lines[0].ID, clinical.LineUpdate{Days: clinical.Qty(4)})
	if !apperr.IsInsufficientStock(err) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	f.expectStock(m, 2, 4)

	var stored *clinical.ObservationPlan
	_ = f.store.View(context.Background(), func(tx store.Tx) error {
		var err error
		stored, err = tx.Observations().Get(context.Background(), p.ID)
		return err
	})
	if stored.Lines[0].Days != 2 {
		t.Errorf("line changed despite failed update: %+v", stored.Lines[0])
	}
}

func TestCreateIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	a := f.medicine(10, 0)
	b := f.medicine(1, 0)
	outboxBefore := len(f.store.Outbox())

	_, err := f.engine.CreateCheckup(context.Background(), f.checkupInput(rx(a, 3), rx(b, 2)))
	var short *apperr.InsufficientStockError
	if !errors.As(err, &short) || short.MedicineID != b || short.Line != 1 {
		t.Fatalf("expected shortfall on line 1 for b, got %v", err)
	}

	f.expectStock(a, 10, 0)
	f.expectStock(b, 1, 0)
	if n, _ := f.store.Counts(); n != 0 {
		t.Errorf("expected no checkups, got %d", n)
	}
	if len(f.store.Outbox()) != outboxBefore {
		t.Error("outbox written for a rejected request")
	}
}

func TestRepeatedMedicineAggregatesBeforeReserve(t *testing.T) {
	f := newFixture(t)
	m := f.medicine(5, 0)

	_, err := f.engine.CreateCheckup(context.Background(), f.checkupInput(rx(m, 3), rx(m, 3)))
	if !apperr.IsInsufficientStock(err) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	f.expectStock(m, 5, 0)
}

func TestCreateThenDeleteRestoresExactly(t *testing.T) {
	f := newFixture(t)
	a := f.medicine(10, 0)
	b := f.medicine(7, 0)
	ctx := context.Background()
	beforeA, beforeB := f.stock(a), f.stock(b)

	c := f.checkup(rx(a, 2), rx(b, 3), rx(a, 1))
	if err := f.engine.DeleteCheckup(ctx, c.ID); err != nil {
		t.Fatalf("delete checkup: %v", err)
	}

	c2 := f.checkup()
	p := f.observation(c2.ID, obs(a, 1, 4), obs(b, 2, 1),
		clinical.ObservationLineInput{EquipmentType: "nebulizer"})
	if _, err := f.engine.TransitionObservation(ctx, p.ID, clinical.PlanCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := f.engine.DeleteObservation(ctx, p.ID); err != nil {
		t.Fatalf("delete plan: %v", err)
	}

	if got := f.stock(a); got.Stock != beforeA.Stock || got.Dispensed != beforeA.Dispensed || got.Received != beforeA.Received {
		t.Errorf("a not restored: before %+v after %+v", beforeA, got)
	}
	if got := f.stock(b); got.Stock != beforeB.Stock || got.Dispensed != beforeB.Dispensed || got.Received != beforeB.Received {
		t.Errorf("b not restored: before %+v after %+v", beforeB, got)
	}
}

func TestActivePlanCannotBeDeleted(t *testing.T) {
	f, m, _, p := scenarioA(t)

	if err := f.engine.DeleteObservation(context.Background(), p.ID); !apperr.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	f.expectStock(m, 0, 10)
}

func TestCheckupWithPlanCannotBeDeleted(t *testing.T) {
	f, m, c, _ := scenarioA(t)

	if err := f.engine.DeleteCheckup(context.Background(), c.ID); !apperr.IsReferentialIntegrity(err) {
		t.Fatalf("expected referential integrity error, got %v", err)
	}
	f.expectStock(m, 0, 10)
}

func TestInactiveMedicineIsNotFound(t *testing.T) {
	f := newFixture(t)
	m := f.medicine(10, 0)
	ctx := context.Background()

	c := f.checkup(rx(m, 2))
	if _, err := f.engine.DeactivateMedicine(ctx, m); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	if _, err := f.engine.CreateCheckup(ctx, f.checkupInput(rx(m, 1))); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found for inactive medicine, got %v", err)
	}

	// Existing lines can still be reversed.
	if err := f.engine.DeleteCheckup(ctx, c.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	f.expectStock(m, 10, 0)
}

func TestZeroUnitLineOnInactiveMedicineIsNotFound(t *testing.T) {
	f := newFixture(t)
	active := f.medicine(10, 0)
	retired := f.medicine(10, 0)
	ctx := context.Background()

	c := f.checkup(rx(retired, 2))
	p := f.observation(c.ID, obs(active, 1, 2))
	if _, err := f.engine.DeactivateMedicine(ctx, retired); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	if _, err := f.engine.CreateCheckup(ctx, f.checkupInput(rx(retired, 0))); !apperr.IsNotFound(err) {
		t.Errorf("checkup: expected not found, got %v", err)
	}
	for _, line := range []clinical.ObservationLineInput{obs(retired, 0, 3), obs(retired, 2, 0)} {
		_, err := f.engine.CreateObservation(ctx, clinical.ObservationInput{
			CheckupID: c.ID,
			PatientID: f.patient,
			Lines:     []clinical.ObservationLineInput{line},
		})
		if !apperr.IsNotFound(err) {
			t.Errorf("observation %+v: expected not found, got %v", line, err)
		}
	}
	if _, err := f.engine.UpdateCheckup(ctx, c.ID, f.checkupInput(rx(retired, 2), rx(active, 0))); err != nil {
		t.Errorf("keeping an unchanged inactive line should be allowed, got %v", err)
	}
	_, err := f.engine.UpdateObservationLine(ctx, p.ID, p.Lines[0].ID, clinical.LineUpdate{MedicineID: &retired, Days: clinical.Qty(0)})
	if !apperr.IsNotFound(err) {
		t.Errorf("line switch: expected not found, got %v", err)
	}
	if _, err := f.engine.UpdateCheckup(ctx, c.ID, f.checkupInput(rx(retired, 1))); err != nil {
		t.Errorf("decreasing an inactive line should be allowed, got %v", err)
	}

	f.expectStock(retired, 9, 1)
	f.expectStock(active, 8, 2)
}

func TestOversizedQuantitiesAreValidationErrors(t *testing.T) {
	f := newFixture(t)
	m := f.medicine(10, 0)
	ctx := context.Background()
	c := f.checkup(rx(m, 1), rx(m, 1))

	huge := inventory.MaxUnits
	lines := []clinical.ObservationLineInput{obs(m, huge, huge), obs(m, huge, huge), obs(m, huge, huge)}
	_, err := f.engine.CreateObservation(ctx, clinical.ObservationInput{CheckupID: c.ID, PatientID: f.patient, Lines: lines})
	if !apperr.IsValidation(err) {
		t.Errorf("observation: expected validation error, got %v", err)
	}
	if _, err := f.engine.CreateCheckup(ctx, f.checkupInput(rx(m, huge), rx(m, huge))); !apperr.IsValidation(err) {
		t.Errorf("checkup: expected validation error, got %v", err)
	}
	if _, err := f.engine.UpdatePrescriptionLine(ctx, c.ID, c.Lines[0].ID, clinical.Qty(huge)); !apperr.IsValidation(err) {
		t.Errorf("line update: expected validation error, got %v", err)
	}
	_, err = f.engine.ReceivePurchase(ctx, inventory.Purchase{
		InvoiceNo: "INV-BIG",
		Date:      testNow,
		Items: []inventory.PurchaseItem{{
			MedicineID: m,
			BatchNo:    "B2",
			ExpiryDate: testNow.AddDate(1, 0, 0),
			Quantity:   huge + 1,
		}},
	})
	if !apperr.IsValidation(err) {
		t.Errorf("purchase: expected validation error, got %v", err)
	}
	f.expectStock(m, 8, 2)
}

func TestUnknownMedicineIsNotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.CreateCheckup(context.Background(), f.checkupInput(rx(uuid.New(), 1))); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMissingStockRecordIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, _ := inventory.NewMedicine("Orphan", "Salt", nil, 0, testNow)
	err := f.store.Do(ctx, func(tx store.Tx) error { return tx.Medicines().Create(ctx, m) })
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err = f.engine.CreateCheckup(ctx, f.checkupInput(rx(m.ID, 1)))
	var nf *apperr.NotFoundError
	if !errors.As(err, &nf) || nf.Entity != "stock record" {
		t.Fatalf("expected missing stock record, got %v", err)
	}
}

func TestObservationPatientMustMatchCheckup(t *testing.T) {
	f := newFixture(t)
	m := f.medicine(10, 0)
	c := f.checkup()

	_, err := f.engine.CreateObservation(context.Background(), clinical.ObservationInput{
		CheckupID: c.ID,
		PatientID: uuid.New(),
		Lines:     []clinical.ObservationLineInput{obs(m, 1, 1)},
	})
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	f.expectStock(m, 10, 0)
}

func TestUpdateCheckupMovesOnlyTheDifference(t *testing.T) {
	f := newFixture(t)
	a := f.medicine(10, 0)
	b := f.medicine(10, 0)
	c := f.checkup(rx(a, 4), rx(b, 2))

	updated, err := f.engine.UpdateCheckup(context.Background(), c.ID, f.checkupInput(rx(a, 1), rx(a, 2)))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(updated.Lines) != 2 || !updated.CreatedAt.Equal(c.CreatedAt) {
		t.Errorf("unexpected updated checkup %+v", updated)
	}
	f.expectStock(a, 7, 3)
	f.expectStock(b, 10, 0)
}

func TestUpdatePrescriptionLine(t *testing.T) {
	f := newFixture(t)
	m := f.medicine(10, 0)
	c := f.checkup(rx(m, 4))
	ctx := context.Background()

	if _, err := f.engine.UpdatePrescriptionLine(ctx, c.ID, c.Lines[0].ID, clinical.Qty(6)); err != nil {
		t.Fatalf("grow: %v", err)
	}
	f.expectStock(m, 4, 6)

	if _, err := f.engine.UpdatePrescriptionLine(ctx, c.ID, c.Lines[0].ID, clinical.Qty(11)); !apperr.IsInsufficientStock(err) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if _, err := f.engine.UpdatePrescriptionLine(ctx, c.ID, uuid.New(), clinical.Qty(1)); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found line, got %v", err)
	}
	f.expectStock(m, 4, 6)
}

func TestRecordAdministrationLeavesLedgerAlone(t *testing.T) {
	f := newFixture(t)
	m := f.medicine(10, 0)
	c := f.checkup()
	p := f.observation(c.ID, obs(m, 2, 3))
	ctx := context.Background()

	line, err := f.engine.RecordAdministration(ctx, p.ID, p.Lines[0].ID, clinical.Qty(4))
	if err != nil {
		t.Fatalf("administer: %v", err)
	}
	if line.Administered != 4 || line.Remaining() != 2 {
		t.Errorf("unexpected line %+v", line)
	}
	f.expectStock(m, 4, 6)

	_, err = f.engine.UpdateObservationLine(ctx, p.ID, p.Lines[0].ID, clinical.LineUpdate{Days: clinical.Qty(1)})
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error below administered, got %v", err)
	}
}

func TestTerminalPlanRejectsEdits(t *testing.T) {
	f, _, _, p := scenarioA(t)
	ctx := context.Background()

	if _, err := f.engine.TransitionObservation(ctx, p.ID, clinical.PlanCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.engine.TransitionObservation(ctx, p.ID, clinical.PlanCompleted); !apperr.IsConflict(err) {
		t.Errorf("expected conflict from terminal state, got %v", err)
	}
	if _, err := f.engine.UpdateObservationLine(ctx, p.ID, p.Lines[0].ID, clinical.LineUpdate{Days: clinical.Qty(1)}); !apperr.IsConflict(err) {
		t.Errorf("expected conflict editing cancelled plan, got %v", err)
	}
}

func TestSwitchingLineToEquipmentReleasesStock(t *testing.T) {
	f := newFixture(t)
	m := f.medicine(10, 0)
	c := f.checkup()
	p := f.observation(c.ID, obs(m, 2, 2))
	equipment := "oxygen cylinder"

	_, err := f.engine.UpdateObservationLine(context.Background(), p.ID, p.Lines[0].ID, clinical.LineUpdate{EquipmentType: &equipment})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	f.expectStock(m, 10, 0)
}

func TestStockAlertsOnThresholdCrossing(t *testing.T) {
	f := newFixture(t)
	m := f.medicine(10, 3)
	c := f.checkup(rx(m, 7))

	alerts := alertTypes(f.store.Outbox())
	if len(alerts) != 1 || alerts[0] != events.StockLow {
		t.Fatalf("expected one low alert, got %v", alerts)
	}

	f.observation(c.ID, obs(m, 1, 3))
	alerts = alertTypes(f.store.Outbox())
	if len(alerts) != 2 || alerts[1] != events.StockDepleted {
		t.Fatalf("expected depleted alert, got %v", alerts)
	}
}

func alertTypes(entries []store.OutboxEntry) []events.Type {
	var out []events.Type
	for _, e := range entries {
		if e.Topic == events.TopicStockAlerts {
			out = append(out, events.Type(e.EventType))
		}
	}
	return out
}

func TestMedicineReactivation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.engine.CreateMedicine(ctx, MedicineInput{BrandName: "Dolo", SaltName: "Paracetamol"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.engine.CreateMedicine(ctx, MedicineInput{BrandName: "dolo", SaltName: "x"}); !apperr.IsConflict(err) {
		t.Fatalf("expected conflict for active duplicate, got %v", err)
	}
	if _, err := f.engine.DeactivateMedicine(ctx, m.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	again, err := f.engine.CreateMedicine(ctx, MedicineInput{BrandName: "Dolo", SaltName: "Paracetamol 650"})
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if again.ID != m.ID || !again.Active() || again.SaltName != "Paracetamol 650" {
		t.Errorf("expected reactivated original, got %+v", again)
	}
}

func TestOutboxFailureRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	m := f.medicine(10, 0)

	failing := New(&faultyUnitOfWork{
		UnitOfWork: f.store,
		AppendFunc: func(*store.OutboxEntry) error { return errors.New("outbox unavailable") },
	}, nil, WithClock(func() time.Time { return testNow }))

	if _, err := failing.CreateCheckup(context.Background(), f.checkupInput(rx(m, 3))); err == nil {
		t.Fatal("expected failure")
	}
	f.expectStock(m, 10, 0)
	if n, _ := f.store.Counts(); n != 0 {
		t.Errorf("checkup persisted despite rollback")
	}
}

func TestConcurrentCheckupsNeverOversell(t *testing.T) {
	f := newFixture(t)
	m := f.medicine(10, 0)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		short     int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.CreateCheckup(context.Background(), f.checkupInput(rx(m, 1)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case apperr.IsInsufficientStock(err):
				short++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 || short != 15 {
		t.Errorf("got %d successes and %d shortfalls", succeeded, short)
	}
	f.expectStock(m, 0, 10)
}

func TestValidationFailsBeforeTransaction(t *testing.T) {
	f := newFixture(t)
	calls := 0
	e := New(&countingUnitOfWork{UnitOfWork: f.store, calls: &calls}, nil)

	_, err := e.CreateCheckup(context.Background(), clinical.CheckupInput{})
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if calls != 0 {
		t.Errorf("unit of work opened %d times for invalid input", calls)
	}
}

// faultyUnitOfWork injects outbox failures into an otherwise real store.
type faultyUnitOfWork struct {
	store.UnitOfWork
	AppendFunc func(*store.OutboxEntry) error
}

var _ store.UnitOfWork = (*faultyUnitOfWork)(nil)

func (u *faultyUnitOfWork) Do(ctx context.Context, fn func(store.Tx) error) error {
	return u.UnitOfWork.Do(ctx, func(tx store.Tx) error {
		return fn(faultyTx{Tx: tx, appendFunc: u.AppendFunc})
	})
}

type faultyTx struct {
	store.Tx
	appendFunc func(*store.OutboxEntry) error
}

func (t faultyTx) Outbox() store.OutboxWriter {
	return outboxFunc(func(ctx context.Context, e *store.OutboxEntry) error {
		if err := t.appendFunc(e); err != nil {
			return err
		}
		return t.Tx.Outbox().Append(ctx, e)
	})
}

type outboxFunc func(context.Context, *store.OutboxEntry) error

func (f outboxFunc) Append(ctx context.Context, e *store.OutboxEntry) error { return f(ctx, e) }

type countingUnitOfWork struct {
	store.UnitOfWork
	calls *int
}

func (u *countingUnitOfWork) Do(ctx context.Context, fn func(store.Tx) error) error {
	*u.calls++
	return u.UnitOfWork.Do(ctx, fn)
}

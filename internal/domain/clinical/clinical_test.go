package clinical

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/campusclinic/medstock/internal/domain/apperr"
	"github.com/campusclinic/medstock/internal/domain/inventory"
)

func TestQuantityUnmarshal(t *testing.T) {
	tests := []struct {
		raw  string
		want Quantity
	}{
		{`4`, Qty(4)},
		{`"7"`, Qty(7)},
		{`" 2 "`, Qty(2)},
		{`0`, Qty(0)},
		{`-3`, Qty(-3)},
		{`null`, Quantity{}},
		{`"abc"`, Quantity{}},
		{`2.5`, Quantity{}},
		{`true`, Quantity{}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var q Quantity
			if err := json.Unmarshal([]byte(tt.raw), &q); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if q != tt.want {
				t.Errorf("got %+v, want %+v", q, tt.want)
			}
		})
	}
}

func TestQuantityResolve(t *testing.T) {
	if v, err := (Quantity{}).Resolve("q"); err != nil || v != DefaultQuantity {
		t.Errorf("expected default %d, got %d (%v)", DefaultQuantity, v, err)
	}
	if v, err := Qty(0).Resolve("q"); err != nil || v != 0 {
		t.Errorf("explicit zero should be kept, got %d (%v)", v, err)
	}
	if _, err := Qty(-1).Resolve("q"); !apperr.IsValidation(err) {
		t.Errorf("expected validation error for negative, got %v", err)
	}
	if _, err := Qty(inventory.MaxUnits + 1).Resolve("q"); !apperr.IsValidation(err) {
		t.Errorf("expected validation error above the unit limit, got %v", err)
	}
}

func TestOversizedTotalsAreRejected(t *testing.T) {
	doctor := uuid.New()
	med := uuid.New()
	huge := Qty(inventory.MaxUnits)
	now := time.Now()

	_, err := CheckupInput{
		PatientID: uuid.New(),
		DoctorID:  &doctor,
		Lines: []PrescriptionInput{
			{MedicineID: med, Quantity: huge},
			{MedicineID: med, Quantity: huge},
		},
	}.Build(uuid.New(), now)
	if !apperr.IsValidation(err) {
		t.Errorf("expected validation error for summed checkup lines, got %v", err)
	}

	plan := ObservationInput{CheckupID: uuid.New(), PatientID: uuid.New()}
	for i := 0; i < 3; i++ {
		plan.Lines = append(plan.Lines, ObservationLineInput{MedicineID: &med, DailyQuantity: huge, Days: huge})
	}
	if _, err := plan.Build(uuid.New(), now); !apperr.IsValidation(err) {
		t.Errorf("expected validation error for daily x days overflow, got %v", err)
	}

	for i := range plan.Lines {
		plan.Lines[i].Days = Qty(1)
	}
	if _, err := plan.Build(uuid.New(), now); !apperr.IsValidation(err) {
		t.Errorf("expected validation error for summed plan lines, got %v", err)
	}

	line := ObservationLine{MedicineID: &med, DailyQuantity: 2, Days: 2}
	if err := (LineUpdate{DailyQuantity: huge, Days: Qty(2)}).Apply(&line); !apperr.IsValidation(err) {
		t.Errorf("expected validation error from line update, got %v", err)
	}
	if line.DailyQuantity != 2 || line.Days != 2 {
		t.Errorf("rejected update mutated the line: %+v", line)
	}
}

func TestCheckupInputBuild(t *testing.T) {
	doctor := uuid.New()
	med := uuid.New()
	now := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)

	in := CheckupInput{
		PatientID: uuid.New(),
		DoctorID:  &doctor,
		Diagnosis: " viral fever ",
		Lines: []PrescriptionInput{
			{MedicineID: med, Dosage: "1-0-1", Quantity: Qty(4)},
			{MedicineID: med},
		},
	}

	id := uuid.New()
	c, err := in.Build(id, now)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if c.Diagnosis != "viral fever" || !c.Date.Equal(now) {
		t.Errorf("unexpected checkup %+v", c)
	}
	if len(c.Lines) != 2 || c.Lines[1].Quantity != DefaultQuantity || c.Lines[1].Position != 1 {
		t.Fatalf("unexpected lines %+v", c.Lines)
	}
	if c.Lines[0].CheckupID != id {
		t.Error("lines must carry the checkup id")
	}
	if got := c.Demand().Quantity(med); got != 5 {
		t.Errorf("expected demand 5, got %d", got)
	}
}

func TestCheckupInputRejects(t *testing.T) {
	doctor := uuid.New()
	spo2 := 120

	tests := []struct {
		name string
		in   CheckupInput
	}{
		{"no patient", CheckupInput{DoctorID: &doctor}},
		{"no clinician", CheckupInput{PatientID: uuid.New()}},
		{"bad vitals", CheckupInput{PatientID: uuid.New(), DoctorID: &doctor, Vitals: Vitals{SpO2: &spo2}}},
		{"missing medicine", CheckupInput{PatientID: uuid.New(), DoctorID: &doctor, Lines: []PrescriptionInput{{Quantity: Qty(1)}}}},
		{"negative quantity", CheckupInput{PatientID: uuid.New(), DoctorID: &doctor, Lines: []PrescriptionInput{{MedicineID: uuid.New(), Quantity: Qty(-2)}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.in.Build(uuid.New(), time.Now()); !apperr.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestObservationInputBuild(t *testing.T) {
	med := uuid.New()
	in := ObservationInput{
		CheckupID: uuid.New(),
		PatientID: uuid.New(),
		Lines: []ObservationLineInput{
			{MedicineID: &med, Frequency: "tds", Days: Qty(3)},
			{MedicineID: &med, DailyQuantity: Qty(2), Days: Qty(2)},
			{EquipmentType: "nebulizer", Frequency: "BD"},
		},
	}

	p, err := in.Build(uuid.New(), time.Now())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p.Status != PlanActive || !p.UnderObservation {
		t.Errorf("expected an active plan under observation, got %s/%v", p.Status, p.UnderObservation)
	}
	if p.Lines[0].DailyQuantity != 3 || p.Lines[0].TotalQuantity() != 9 {
		t.Errorf("frequency default not applied: %+v", p.Lines[0])
	}
	if p.Lines[2].ConsumesStock() || p.Lines[2].Days != 1 {
		t.Errorf("unexpected equipment line %+v", p.Lines[2])
	}
	if got := p.Demand().Quantity(med); got != 13 {
		t.Errorf("expected demand 13, got %d", got)
	}
	if p.Demand().Len() != 1 {
		t.Error("equipment lines must not contribute demand")
	}
}

func TestObservationLineExclusivity(t *testing.T) {
	med := uuid.New()
	base := ObservationInput{CheckupID: uuid.New(), PatientID: uuid.New()}

	both := base
	both.Lines = []ObservationLineInput{{MedicineID: &med, EquipmentType: "oxygen"}}
	if _, err := both.Build(uuid.New(), time.Now()); !apperr.IsValidation(err) {
		t.Errorf("expected validation error for both set, got %v", err)
	}

	neither := base
	neither.Lines = []ObservationLineInput{{Dosage: "5ml"}}
	if _, err := neither.Build(uuid.New(), time.Now()); !apperr.IsValidation(err) {
		t.Errorf("expected validation error for neither set, got %v", err)
	}

	line := ObservationLine{DailyQuantity: 2, Days: 3}
	line.UseMedicine(med)
	line.UseEquipment("oxygen")
	if line.MedicineID != nil || line.EquipmentType != "oxygen" {
		t.Errorf("setting equipment must clear the medicine: %+v", line)
	}
}

func TestLineUpdateApply(t *testing.T) {
	med := uuid.New()
	line := ObservationLine{MedicineID: &med, DailyQuantity: 2, Days: 3, Administered: 3}

	if err := (LineUpdate{Days: Qty(2)}).Apply(&line); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if line.DailyQuantity != 2 || line.TotalQuantity() != 4 {
		t.Errorf("unexpected line %+v", line)
	}

	if err := (LineUpdate{Days: Qty(1)}).Apply(&line); !apperr.IsValidation(err) {
		t.Errorf("expected validation error below administered, got %v", err)
	}
	if line.Days != 2 {
		t.Error("line must be unchanged after a rejected update")
	}

	equipment := "oxygen"
	if err := (LineUpdate{EquipmentType: &equipment}).Apply(&line); err != nil {
		t.Fatalf("switch to equipment: %v", err)
	}
	if line.ConsumesStock() {
		t.Error("line should no longer consume stock")
	}
}

func TestPlanStateMachine(t *testing.T) {
	now := time.Now()
	p := &ObservationPlan{ID: uuid.New(), Status: PlanActive, UnderObservation: true}

	if err := p.CheckDeletable(); !apperr.IsConflict(err) {
		t.Errorf("active plan must not be deletable, got %v", err)
	}
	if err := p.Transition(PlanActive, now); !apperr.IsConflict(err) {
		t.Errorf("expected conflict for ACTIVE->ACTIVE, got %v", err)
	}
	if err := p.Transition("PAUSED", now); !apperr.IsValidation(err) {
		t.Errorf("expected validation error for unknown status, got %v", err)
	}
	if err := p.Transition(PlanCompleted, now); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if p.UnderObservation || p.EndDate == nil {
		t.Error("completion must end observation")
	}
	if err := p.Transition(PlanCancelled, now); !apperr.IsConflict(err) {
		t.Errorf("terminal state must not transition, got %v", err)
	}
	if err := p.CheckDeletable(); err != nil {
		t.Errorf("completed plan should be deletable, got %v", err)
	}
}

func TestAdminister(t *testing.T) {
	med := uuid.New()
	lineID := uuid.New()
	p := &ObservationPlan{
		ID:     uuid.New(),
		Status: PlanActive,
		Lines:  []ObservationLine{{ID: lineID, MedicineID: &med, DailyQuantity: 2, Days: 2}},
	}

	if _, err := p.Administer(lineID, 3, time.Now()); err != nil {
		t.Fatalf("administer: %v", err)
	}
	if _, err := p.Administer(lineID, 2, time.Now()); !apperr.IsValidation(err) {
		t.Errorf("expected validation error beyond remaining, got %v", err)
	}
	if _, err := p.Administer(uuid.New(), 1, time.Now()); !apperr.IsNotFound(err) {
		t.Errorf("expected not found for unknown line, got %v", err)
	}
}

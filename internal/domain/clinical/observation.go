package clinical

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/campusclinic/medstock/internal/domain/apperr"
	"github.com/campusclinic/medstock/internal/domain/inventory"
)

// PlanStatus is the lifecycle state of an observation plan.
type PlanStatus string

const (
	PlanActive    PlanStatus = "ACTIVE"
	PlanCompleted PlanStatus = "COMPLETED"
	PlanCancelled PlanStatus = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s PlanStatus) Valid() bool {
	switch s {
	case PlanActive, PlanCompleted, PlanCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s PlanStatus) Terminal() bool {
	return s == PlanCompleted || s == PlanCancelled
}

// CanTransition reports whether s -> to is allowed.
func (s PlanStatus) CanTransition(to PlanStatus) bool {
	return s == PlanActive && to.Terminal()
}

// ObservationPlan is a supervised multi-day treatment owned by a checkup.
type ObservationPlan struct {
	ID               uuid.UUID         `json:"id"`
	CheckupID        uuid.UUID         `json:"checkupId"`
	PatientID        uuid.UUID         `json:"patientId"`
	UnderObservation bool              `json:"isUnderObservation"`
	Status           PlanStatus        `json:"status"`
	StartDate        time.Time         `json:"startDate"`
	EndDate          *time.Time        `json:"endDate,omitempty"`
	Notes            string            `json:"notes,omitempty"`
	Lines            []ObservationLine `json:"details"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// ObservationLine is one treatment line. Exactly one of MedicineID and
// EquipmentType is set.
type ObservationLine struct {
	ID            uuid.UUID  `json:"id"`
	PlanID        uuid.UUID  `json:"observationId"`
	Position      int        `json:"position"`
	MedicineID    *uuid.UUID `json:"medicineId,omitempty"`
	EquipmentType string     `json:"equipmentType,omitempty"`
	Dosage        string     `json:"dosage,omitempty"`
	Frequency     string     `json:"frequency,omitempty"`
	DailyQuantity int        `json:"dailyQuantity"`
	Days          int        `json:"days"`
	Administered  int        `json:"administered"`
}

// TotalQuantity is dailyQuantity × days.
func (l ObservationLine) TotalQuantity() int { return l.DailyQuantity * l.Days }

// Remaining is the part of the total not yet administered.
func (l ObservationLine) Remaining() int { return l.TotalQuantity() - l.Administered }

// ConsumesStock reports whether the line draws on the ledger.
func (l ObservationLine) ConsumesStock() bool { return l.MedicineID != nil }

// UseMedicine points the line at a medicine and clears any equipment.
func (l *ObservationLine) UseMedicine(id uuid.UUID) {
	l.MedicineID = &id
	l.EquipmentType = ""
}

// UseEquipment points the line at an equipment type and clears any medicine.
func (l *ObservationLine) UseEquipment(kind string) {
	l.EquipmentType = strings.TrimSpace(kind)
	l.MedicineID = nil
}

// ObservationInput is the client payload for creating a plan.
type ObservationInput struct {
	CheckupID        uuid.UUID              `json:"checkupId"`
	PatientID        uuid.UUID              `json:"patientId"`
	UnderObservation *bool                  `json:"isUnderObservation,omitempty"`
	StartDate        *time.Time             `json:"startDate,omitempty"`
	Notes            string                 `json:"notes,omitempty"`
	Lines            []ObservationLineInput `json:"details"`
}

// ObservationLineInput is one requested treatment line.
type ObservationLineInput struct {
	MedicineID    *uuid.UUID `json:"medicineId,omitempty"`
	EquipmentType string     `json:"equipmentType,omitempty"`
	Dosage        string     `json:"dosage,omitempty"`
	Frequency     string     `json:"frequency,omitempty"`
	DailyQuantity Quantity   `json:"dailyQuantity"`
	Days          Quantity   `json:"days"`
}

// Build validates the input and returns an ACTIVE plan with the given id.
func (in ObservationInput) Build(id uuid.UUID, now time.Time) (*ObservationPlan, error) {
	if in.CheckupID == uuid.Nil {
		return nil, apperr.Invalid("checkupId", "is required")
	}
	if in.PatientID == uuid.Nil {
		return nil, apperr.Invalid("patientId", "is required")
	}
	if len(in.Lines) == 0 {
		return nil, apperr.Invalid("details", "at least one line is required")
	}

	start := now
	if in.StartDate != nil && !in.StartDate.IsZero() {
		start = in.StartDate.UTC()
	}
	under := true
	if in.UnderObservation != nil {
		under = *in.UnderObservation
	}

	p := &ObservationPlan{
		ID:               id,
		CheckupID:        in.CheckupID,
		PatientID:        in.PatientID,
		UnderObservation: under,
		Status:           PlanActive,
		StartDate:        start,
		Notes:            strings.TrimSpace(in.Notes),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	for i, li := range in.Lines {
		line, err := li.build(fmt.Sprintf("details[%d]", i))
		if err != nil {
			return nil, err
		}
		line.ID = uuid.New()
		line.PlanID = id
		line.Position = i
		p.Lines = append(p.Lines, line)
	}
	if err := p.Demand().Err(); err != nil {
		return nil, err
	}
	return p, nil
}

func (in ObservationLineInput) build(field string) (ObservationLine, error) {
	var line ObservationLine

	hasMedicine := in.MedicineID != nil && *in.MedicineID != uuid.Nil
	hasEquipment := strings.TrimSpace(in.EquipmentType) != ""
	switch {
	case hasMedicine && hasEquipment:
		return line, apperr.Invalid(field, "medicineId and equipmentType are mutually exclusive")
	case hasMedicine:
		line.UseMedicine(*in.MedicineID)
	case hasEquipment:
		line.UseEquipment(in.EquipmentType)
	default:
		return line, apperr.Invalid(field, "one of medicineId or equipmentType is required")
	}

	line.Dosage = strings.TrimSpace(in.Dosage)
	line.Frequency = strings.ToUpper(strings.TrimSpace(in.Frequency))

	def := DefaultQuantity
	if n, ok := DailyFromFrequency(line.Frequency); ok {
		def = n
	}
	daily, err := in.DailyQuantity.ResolveOr(field+".dailyQuantity", def)
	if err != nil {
		return line, err
	}
	days, err := in.Days.Resolve(field + ".days")
	if err != nil {
		return line, err
	}
	if err := checkTotal(field+".days", daily, days); err != nil {
		return line, err
	}
	line.DailyQuantity = daily
	line.Days = days
	return line, nil
}

// LineUpdate changes an existing treatment line. Unset fields keep their
// current value.
type LineUpdate struct {
	MedicineID    *uuid.UUID `json:"medicineId,omitempty"`
	EquipmentType *string    `json:"equipmentType,omitempty"`
	Dosage        *string    `json:"dosage,omitempty"`
	Frequency     *string    `json:"frequency,omitempty"`
	DailyQuantity Quantity   `json:"dailyQuantity"`
	Days          Quantity   `json:"days"`
}

// Apply validates u against the line and mutates it.
func (u LineUpdate) Apply(l *ObservationLine) error {
	if u.MedicineID != nil && u.EquipmentType != nil {
		return apperr.Invalid("medicineId", "medicineId and equipmentType are mutually exclusive")
	}

	next := *l
	if u.MedicineID != nil {
		if *u.MedicineID == uuid.Nil {
			return apperr.Invalid("medicineId", "must be a valid id")
		}
		next.UseMedicine(*u.MedicineID)
	}
	if u.EquipmentType != nil {
		if strings.TrimSpace(*u.EquipmentType) == "" {
			return apperr.Invalid("equipmentType", "must not be blank")
		}
		next.UseEquipment(*u.EquipmentType)
	}
	if u.Dosage != nil {
		next.Dosage = strings.TrimSpace(*u.Dosage)
	}
	if u.Frequency != nil {
		next.Frequency = strings.ToUpper(strings.TrimSpace(*u.Frequency))
	}

	var err error
	if next.DailyQuantity, err = u.DailyQuantity.ResolveOr("dailyQuantity", next.DailyQuantity); err != nil {
		return err
	}
	if next.Days, err = u.Days.ResolveOr("days", next.Days); err != nil {
		return err
	}
	if err := checkTotal("days", next.DailyQuantity, next.Days); err != nil {
		return err
	}
	if next.TotalQuantity() < next.Administered {
		return apperr.Invalid("days", fmt.Sprintf("total %d is below the %d units already administered",
			next.TotalQuantity(), next.Administered))
	}

	*l = next
	return nil
}

// Demand returns the units this plan draws from each medicine.
func (p *ObservationPlan) Demand() *inventory.Demand {
	d := inventory.NewDemand()
	for i, l := range p.Lines {
		if l.ConsumesStock() {
			d.Add(*l.MedicineID, l.TotalQuantity(), i)
		}
	}
	return d
}

// Line finds a treatment line by id.
func (p *ObservationPlan) Line(id uuid.UUID) (*ObservationLine, int, bool) {
	for i := range p.Lines {
		if p.Lines[i].ID == id {
			return &p.Lines[i], i, true
		}
	}
	return nil, -1, false
}

// RequireActive fails unless the plan can still be edited.
func (p *ObservationPlan) RequireActive() error {
	if p.Status != PlanActive {
		return &apperr.ConflictError{
			Entity: "observation plan",
			ID:     p.ID.String(),
			Reason: fmt.Sprintf("plan is %s", p.Status),
		}
	}
	return nil
}

// Transition moves the plan to a terminal state.
func (p *ObservationPlan) Transition(to PlanStatus, now time.Time) error {
	if !to.Valid() {
		return apperr.Invalid("status", fmt.Sprintf("unknown status %q", to))
	}
	if !p.Status.CanTransition(to) {
		return &apperr.ConflictError{
			Entity: "observation plan",
			ID:     p.ID.String(),
			Reason: fmt.Sprintf("cannot move from %s to %s", p.Status, to),
		}
	}
	p.Status = to
	p.UnderObservation = false
	end := now
	p.EndDate = &end
	p.UpdatedAt = now
	return nil
}

// CheckDeletable is the single delete-eligibility rule for plans: an ACTIVE
// plan must be completed or cancelled before it can be deleted.
func (p *ObservationPlan) CheckDeletable() error {
	if p.Status == PlanActive {
		return &apperr.ConflictError{
			Entity: "observation plan",
			ID:     p.ID.String(),
			Reason: "active plans cannot be deleted; complete or cancel it first",
		}
	}
	return nil
}

// Administer records qty units given to the patient from a line.
func (p *ObservationPlan) Administer(lineID uuid.UUID, qty int, now time.Time) (*ObservationLine, error) {
	if err := p.RequireActive(); err != nil {
		return nil, err
	}
	line, _, ok := p.Line(lineID)
	if !ok {
		return nil, apperr.NotFound("observation line", lineID)
	}
	if qty <= 0 {
		return nil, apperr.Invalid("quantity", "must be positive")
	}
	if qty > line.Remaining() {
		return nil, apperr.Invalid("quantity", fmt.Sprintf("only %d units remain on this line", line.Remaining()))
	}
	line.Administered += qty
	p.UpdatedAt = now
	return line, nil
}

package clinical

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/campusclinic/medstock/internal/domain/apperr"
	"github.com/campusclinic/medstock/internal/domain/inventory"
)

// Vitals are the measurements taken at an encounter.
type Vitals struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	BloodPressure string   `json:"bloodPressure,omitempty"`
	PulseRate     *int     `json:"pulseRate,omitempty"`
	SpO2          *int     `json:"spo2,omitempty"`
}

func (v Vitals) validate() error {
	if v.SpO2 != nil && (*v.SpO2 < 0 || *v.SpO2 > 100) {
		return apperr.Invalid("vitals.spo2", "must be between 0 and 100")
	}
	if v.PulseRate != nil && (*v.PulseRate < 0 || *v.PulseRate > 300) {
		return apperr.Invalid("vitals.pulseRate", "must be between 0 and 300")
	}
	if v.Temperature != nil && (*v.Temperature < 25 || *v.Temperature > 115) {
		return apperr.Invalid("vitals.temperature", "out of range")
	}
	return nil
}

// Checkup is one outpatient encounter and the medicines prescribed at it.
type Checkup struct {
	ID               uuid.UUID          `json:"id"`
	PatientID        uuid.UUID          `json:"patientId"`
	Date             time.Time          `json:"date"`
	Vitals           Vitals             `json:"vitals"`
	Symptoms         string             `json:"symptoms,omitempty"`
	Diagnosis        string             `json:"diagnosis,omitempty"`
	ReferredDoctor   string             `json:"referredDoctor,omitempty"`
	ReferredHospital string             `json:"referredHospital,omitempty"`
	DoctorID         *uuid.UUID         `json:"doctorId,omitempty"`
	StaffID          *uuid.UUID         `json:"staffId,omitempty"`
	Lines            []PrescriptionLine `json:"medicines"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

// PrescriptionLine is a take-home medicine issued at a checkup.
type PrescriptionLine struct {
	ID         uuid.UUID `json:"id"`
	CheckupID  uuid.UUID `json:"checkupId"`
	Position   int       `json:"position"`
	MedicineID uuid.UUID `json:"medicineId"`
	Dosage     string    `json:"dosage,omitempty"`
	Quantity   int       `json:"quantity"`
}

// CheckupInput is the client payload for creating or fully replacing a checkup.
type CheckupInput struct {
	PatientID        uuid.UUID           `json:"patientId"`
	Date             *time.Time          `json:"date,omitempty"`
	Vitals           Vitals              `json:"vitals"`
	Symptoms         string              `json:"symptoms,omitempty"`
	Diagnosis        string              `json:"diagnosis,omitempty"`
	ReferredDoctor   string              `json:"referredDoctor,omitempty"`
	ReferredHospital string              `json:"referredHospital,omitempty"`
	DoctorID         *uuid.UUID          `json:"doctorId,omitempty"`
	StaffID          *uuid.UUID          `json:"staffId,omitempty"`
	Lines            []PrescriptionInput `json:"medicines"`
}

// PrescriptionInput is one requested prescription line.
type PrescriptionInput struct {
	MedicineID uuid.UUID `json:"medicineId"`
	Dosage     string    `json:"dosage,omitempty"`
	Quantity   Quantity  `json:"quantity"`
}

// Build validates the input and returns a checkup with the given id. Line
// ids are freshly assigned.
func (in CheckupInput) Build(id uuid.UUID, now time.Time) (*Checkup, error) {
	if in.PatientID == uuid.Nil {
		return nil, apperr.Invalid("patientId", "is required")
	}
	if err := in.Vitals.validate(); err != nil {
		return nil, err
	}
	if in.DoctorID == nil && in.StaffID == nil {
		return nil, apperr.Invalid("doctorId", "doctorId or staffId is required")
	}

	date := now
	if in.Date != nil && !in.Date.IsZero() {
		date = in.Date.UTC()
	}

	c := &Checkup{
		ID:               id,
		PatientID:        in.PatientID,
		Date:             date,
		Vitals:           in.Vitals,
		Symptoms:         strings.TrimSpace(in.Symptoms),
		Diagnosis:        strings.TrimSpace(in.Diagnosis),
		ReferredDoctor:   strings.TrimSpace(in.ReferredDoctor),
		ReferredHospital: strings.TrimSpace(in.ReferredHospital),
		DoctorID:         in.DoctorID,
		StaffID:          in.StaffID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	for i, l := range in.Lines {
		field := fmt.Sprintf("medicines[%d]", i)
		if l.MedicineID == uuid.Nil {
			return nil, apperr.Invalid(field+".medicineId", "is required")
		}
		qty, err := l.Quantity.Resolve(field + ".quantity")
		if err != nil {
			return nil, err
		}
		c.Lines = append(c.Lines, PrescriptionLine{
			ID:         uuid.New(),
			CheckupID:  id,
			Position:   i,
			MedicineID: l.MedicineID,
			Dosage:     strings.TrimSpace(l.Dosage),
			Quantity:   qty,
		})
	}
	if err := c.Demand().Err(); err != nil {
		return nil, err
	}
	return c, nil
}

// Demand returns the units this checkup draws from each medicine.
func (c *Checkup) Demand() *inventory.Demand {
	d := inventory.NewDemand()
	for i, l := range c.Lines {
		d.Add(l.MedicineID, l.Quantity, i)
	}
	return d
}

// MedicineIDs returns the distinct medicines referenced by the lines.
func (c *Checkup) MedicineIDs() []uuid.UUID {
	return c.Demand().MedicineIDs()
}

// Line finds a prescription line by id.
func (c *Checkup) Line(id uuid.UUID) (*PrescriptionLine, int, bool) {
	for i := range c.Lines {
		if c.Lines[i].ID == id {
			return &c.Lines[i], i, true
		}
	}
	return nil, -1, false
}

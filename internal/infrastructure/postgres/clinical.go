package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/campusclinic/medstock/internal/domain/apperr"
	"github.com/campusclinic/medstock/internal/domain/clinical"
)

const checkupColumns = `id, patient_id, date, temperature, blood_pressure, pulse_rate, spo2,
	symptoms, diagnosis, referred_doctor, referred_hospital, doctor_id, staff_id, created_at, updated_at`

type checkupRepo struct {
	tx   pgx.Tx
	lock bool
}

func scanCheckup(row pgx.Row) (*clinical.Checkup, error) {
	c := &clinical.Checkup{}
	var bp, symptoms, diagnosis, refDoctor, refHospital *string
	err := row.Scan(&c.ID, &c.PatientID, &c.Date,
		&c.Vitals.Temperature, &bp, &c.Vitals.PulseRate, &c.Vitals.SpO2,
		&symptoms, &diagnosis, &refDoctor, &refHospital,
		&c.DoctorID, &c.StaffID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Vitals.BloodPressure = deref(bp)
	c.Symptoms = deref(symptoms)
	c.Diagnosis = deref(diagnosis)
	c.ReferredDoctor = deref(refDoctor)
	c.ReferredHospital = deref(refHospital)
	return c, nil
}

func (r checkupRepo) Get(ctx context.Context, id uuid.UUID) (*clinical.Checkup, error) {
	c, err := scanCheckup(r.tx.QueryRow(ctx, `SELECT `+checkupColumns+` FROM checkups WHERE id = $1`+forUpdate(r.lock), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("checkup", id)
	}
	if err != nil {
		return nil, fmt.Errorf("select checkup: %w", err)
	}
	if c.Lines, err = r.lines(ctx, id); err != nil {
		return nil, err
	}
	return c, nil
}

func (r checkupRepo) lines(ctx context.Context, checkupID uuid.UUID) ([]clinical.PrescriptionLine, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT id, checkup_id, position, medicine_id, dosage, quantity
		FROM prescription_lines
		WHERE checkup_id = $1
		ORDER BY position`, checkupID)
	if err != nil {
		return nil, fmt.Errorf("select prescription lines: %w", err)
	}
	defer rows.Close()

	var out []clinical.PrescriptionLine
	for rows.Next() {
		var (
			l      clinical.PrescriptionLine
			dosage *string
		)
		if err := rows.Scan(&l.ID, &l.CheckupID, &l.Position, &l.MedicineID, &dosage, &l.Quantity); err != nil {
			return nil, fmt.Errorf("scan prescription line: %w", err)
		}
		l.Dosage = deref(dosage)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r checkupRepo) Create(ctx context.Context, c *clinical.Checkup) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO checkups (`+checkupColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		c.ID, c.PatientID, c.Date,
		c.Vitals.Temperature, nullString(c.Vitals.BloodPressure), c.Vitals.PulseRate, c.Vitals.SpO2,
		nullString(c.Symptoms), nullString(c.Diagnosis), nullString(c.ReferredDoctor), nullString(c.ReferredHospital),
		c.DoctorID, c.StaffID, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return translate(err, "checkup", c.ID.String())
	}
	return r.insertLines(ctx, c)
}

func (r checkupRepo) insertLines(ctx context.Context, c *clinical.Checkup) error {
	if len(c.Lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range c.Lines {
		batch.Queue(`
			INSERT INTO prescription_lines (id, checkup_id, position, medicine_id, dosage, quantity)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			l.ID, c.ID, l.Position, l.MedicineID, nullString(l.Dosage), l.Quantity)
	}
	return translate(r.tx.SendBatch(ctx, batch).Close(), "checkup", c.ID.String())
}

func (r checkupRepo) Update(ctx context.Context, c *clinical.Checkup) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE checkups
		SET date = $2, temperature = $3, blood_pressure = $4, pulse_rate = $5, spo2 = $6,
		    symptoms = $7, diagnosis = $8, referred_doctor = $9, referred_hospital = $10,
		    doctor_id = $11, staff_id = $12, updated_at = $13
		WHERE id = $1`,
		c.ID, c.Date, c.Vitals.Temperature, nullString(c.Vitals.BloodPressure), c.Vitals.PulseRate, c.Vitals.SpO2,
		nullString(c.Symptoms), nullString(c.Diagnosis), nullString(c.ReferredDoctor), nullString(c.ReferredHospital),
		c.DoctorID, c.StaffID, c.UpdatedAt)
	if err != nil {
		return translate(err, "checkup", c.ID.String())
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("checkup", c.ID)
	}
	if err := r.DeleteLines(ctx, c.ID); err != nil {
		return err
	}
	return r.insertLines(ctx, c)
}

func (r checkupRepo) UpdateLine(ctx context.Context, l *clinical.PrescriptionLine) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE prescription_lines SET dosage = $3, quantity = $4
		WHERE id = $1 AND checkup_id = $2`,
		l.ID, l.CheckupID, nullString(l.Dosage), l.Quantity)
	if err != nil {
		return translate(err, "prescription line", l.ID.String())
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("prescription line", l.ID)
	}
	return nil
}

func (r checkupRepo) DeleteLines(ctx context.Context, checkupID uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM prescription_lines WHERE checkup_id = $1`, checkupID)
	return translate(err, "checkup", checkupID.String())
}

func (r checkupRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM checkups WHERE id = $1`, id)
	if err != nil {
		return translate(err, "checkup", id.String())
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("checkup", id)
	}
	return nil
}

func (r checkupRepo) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*clinical.Checkup, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT `+checkupColumns+` FROM checkups
		WHERE patient_id = $1
		ORDER BY date DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list checkups: %w", err)
	}

	var out []*clinical.Checkup
	for rows.Next() {
		c, err := scanCheckup(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan checkup: %w", err)
		}
		out = append(out, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Lines are loaded after the cursor closes; a pgx connection runs one
	// query at a time.
	for _, c := range out {
		if c.Lines, err = r.lines(ctx, c.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

const planColumns = `id, checkup_id, patient_id, under_observation, status, start_date, end_date, notes, created_at, updated_at`

type observationRepo struct {
	tx   pgx.Tx
	lock bool
}

func scanPlan(row pgx.Row) (*clinical.ObservationPlan, error) {
	p := &clinical.ObservationPlan{}
	var notes *string
	err := row.Scan(&p.ID, &p.CheckupID, &p.PatientID, &p.UnderObservation, &p.Status,
		&p.StartDate, &p.EndDate, &notes, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Notes = deref(notes)
	return p, nil
}

func (r observationRepo) Get(ctx context.Context, id uuid.UUID) (*clinical.ObservationPlan, error) {
	p, err := scanPlan(r.tx.QueryRow(ctx, `SELECT `+planColumns+` FROM observation_plans WHERE id = $1`+forUpdate(r.lock), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("observation plan", id)
	}
	if err != nil {
		return nil, fmt.Errorf("select observation plan: %w", err)
	}
	if p.Lines, err = r.lines(ctx, id); err != nil {
		return nil, err
	}
	return p, nil
}

func (r observationRepo) lines(ctx context.Context, planID uuid.UUID) ([]clinical.ObservationLine, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT id, plan_id, position, medicine_id, equipment_type, dosage, frequency,
		       daily_quantity, days, administered
		FROM observation_lines
		WHERE plan_id = $1
		ORDER BY position`, planID)
	if err != nil {
		return nil, fmt.Errorf("select observation lines: %w", err)
	}
	defer rows.Close()

	var out []clinical.ObservationLine
	for rows.Next() {
		var (
			l                            clinical.ObservationLine
			equipment, dosage, frequency *string
		)
		if err := rows.Scan(&l.ID, &l.PlanID, &l.Position, &l.MedicineID, &equipment, &dosage, &frequency,
			&l.DailyQuantity, &l.Days, &l.Administered); err != nil {
			return nil, fmt.Errorf("scan observation line: %w", err)
		}
		l.EquipmentType = deref(equipment)
		l.Dosage = deref(dosage)
		l.Frequency = deref(frequency)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r observationRepo) Create(ctx context.Context, p *clinical.ObservationPlan) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO observation_plans (`+planColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.CheckupID, p.PatientID, p.UnderObservation, p.Status,
		p.StartDate, p.EndDate, nullString(p.Notes), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return translate(err, "observation plan", p.ID.String())
	}

	batch := &pgx.Batch{}
	for _, l := range p.Lines {
		batch.Queue(`
			INSERT INTO observation_lines (id, plan_id, position, medicine_id, equipment_type, dosage,
			                               frequency, daily_quantity, days, administered)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			l.ID, p.ID, l.Position, l.MedicineID, nullString(l.EquipmentType), nullString(l.Dosage),
			nullString(l.Frequency), l.DailyQuantity, l.Days, l.Administered)
	}
	return translate(r.tx.SendBatch(ctx, batch).Close(), "observation plan", p.ID.String())
}

func (r observationRepo) UpdatePlan(ctx context.Context, p *clinical.ObservationPlan) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE observation_plans
		SET under_observation = $2, status = $3, end_date = $4, notes = $5, updated_at = $6
		WHERE id = $1`,
		p.ID, p.UnderObservation, p.Status, p.EndDate, nullString(p.Notes), p.UpdatedAt)
	if err != nil {
		return translate(err, "observation plan", p.ID.String())
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("observation plan", p.ID)
	}
	return nil
}

func (r observationRepo) UpdateLine(ctx context.Context, l *clinical.ObservationLine) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE observation_lines
		SET medicine_id = $3, equipment_type = $4, dosage = $5, frequency = $6,
		    daily_quantity = $7, days = $8, administered = $9
		WHERE id = $1 AND plan_id = $2`,
		l.ID, l.PlanID, l.MedicineID, nullString(l.EquipmentType), nullString(l.Dosage),
		nullString(l.Frequency), l.DailyQuantity, l.Days, l.Administered)
	if err != nil {
		return translate(err, "observation line", l.ID.String())
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("observation line", l.ID)
	}
	return nil
}

func (r observationRepo) DeleteLines(ctx context.Context, planID uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM observation_lines WHERE plan_id = $1`, planID)
	return translate(err, "observation plan", planID.String())
}

func (r observationRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM observation_plans WHERE id = $1`, id)
	if err != nil {
		return translate(err, "observation plan", id.String())
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("observation plan", id)
	}
	return nil
}

func (r observationRepo) CountByCheckup(ctx context.Context, checkupID uuid.UUID) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM observation_plans WHERE checkup_id = $1`, checkupID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count observation plans: %w", err)
	}
	return n, nil
}

func (r observationRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, activeOnly bool) ([]*clinical.ObservationPlan, error) {
	query := `SELECT ` + planColumns + ` FROM observation_plans WHERE patient_id = $1`
	args := []any{patientID}
	if activeOnly {
		query += ` AND status = $2`
		args = append(args, clinical.PlanActive)
	}
	query += ` ORDER BY start_date DESC`

	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list observation plans: %w", err)
	}
	var out []*clinical.ObservationPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan observation plan: %w", err)
		}
		out = append(out, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, p := range out {
		if p.Lines, err = r.lines(ctx, p.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// forUpdate locks the parent row in write transactions so concurrent edits
// of the same record serialise.
func forUpdate(lock bool) string {
	if lock {
		return " FOR UPDATE"
	}
	return ""
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

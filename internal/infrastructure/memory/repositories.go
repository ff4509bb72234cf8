package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/campusclinic/medstock/internal/domain/apperr"
	"github.com/campusclinic/medstock/internal/domain/clinical"
	"github.com/campusclinic/medstock/internal/domain/inventory"
	"github.com/campusclinic/medstock/internal/store"
)

type medicineRepo struct{ tx *transaction }

func (r medicineRepo) Get(_ context.Context, id uuid.UUID) (*inventory.Medicine, error) {
	m, ok := r.tx.state.medicines[id]
	if !ok {
		return nil, apperr.NotFound("medicine", id)
	}
	return &m, nil
}

func (r medicineRepo) GetByBrand(_ context.Context, brandName string) (*inventory.Medicine, error) {
	for _, m := range r.tx.state.medicines {
		if strings.EqualFold(m.BrandName, strings.TrimSpace(brandName)) {
			m := m
			return &m, nil
		}
	}
	return nil, &apperr.NotFoundError{Entity: "medicine", ID: brandName}
}

func (r medicineRepo) Create(ctx context.Context, m *inventory.Medicine) error {
	if _, ok := r.tx.state.medicines[m.ID]; ok {
		return &apperr.ConflictError{Entity: "medicine", ID: m.ID.String(), Reason: "already exists"}
	}
	if existing, err := r.GetByBrand(ctx, m.BrandName); err == nil {
		return &apperr.ConflictError{Entity: "medicine", ID: existing.ID.String(), Reason: "brand name already registered"}
	}
	r.tx.state.medicines[m.ID] = *m
	return nil
}

func (r medicineRepo) Update(_ context.Context, m *inventory.Medicine) error {
	if _, ok := r.tx.state.medicines[m.ID]; !ok {
		return apperr.NotFound("medicine", m.ID)
	}
	r.tx.state.medicines[m.ID] = *m
	return nil
}

func (r medicineRepo) List(_ context.Context, status inventory.Status) ([]*inventory.Medicine, error) {
	out := make([]*inventory.Medicine, 0, len(r.tx.state.medicines))
	for _, m := range r.tx.state.medicines {
		if status != "" && m.Status != status {
			continue
		}
		m := m
		out = append(out, &m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BrandName < out[j].BrandName })
	return out, nil
}

type stockRepo struct{ tx *transaction }

func (r stockRepo) GetForUpdate(_ context.Context, medicineID uuid.UUID) (*inventory.StockRecord, error) {
	rec, ok := r.tx.state.stock[medicineID]
	if !ok {
		return nil, apperr.NotFound("stock record", medicineID)
	}
	return &rec, nil
}

func (r stockRepo) Save(_ context.Context, rec *inventory.StockRecord) error {
	if _, ok := r.tx.state.stock[rec.MedicineID]; !ok {
		return apperr.NotFound("stock record", rec.MedicineID)
	}
	// Mirrors the table CHECK constraints.
	if err := rec.Check(); err != nil {
		return err
	}
	r.tx.state.stock[rec.MedicineID] = *rec
	return nil
}

func (r stockRepo) Create(_ context.Context, rec *inventory.StockRecord) error {
	if _, ok := r.tx.state.medicines[rec.MedicineID]; !ok {
		return apperr.NotFound("medicine", rec.MedicineID)
	}
	if _, ok := r.tx.state.stock[rec.MedicineID]; ok {
		return &apperr.ConflictError{Entity: "stock record", ID: rec.MedicineID.String(), Reason: "already exists"}
	}
	if err := rec.Check(); err != nil {
		return err
	}
	r.tx.state.stock[rec.MedicineID] = *rec
	return nil
}

func (r stockRepo) List(_ context.Context) ([]*inventory.StockRecord, error) {
	ids := make([]uuid.UUID, 0, len(r.tx.state.stock))
	for id := range r.tx.state.stock {
		ids = append(ids, id)
	}
	inventory.SortIDs(ids)

	out := make([]*inventory.StockRecord, 0, len(ids))
	for _, id := range ids {
		rec := r.tx.state.stock[id]
		out = append(out, &rec)
	}
	return out, nil
}

type purchaseRepo struct{ tx *transaction }

func (r purchaseRepo) Create(_ context.Context, p *inventory.Purchase) error {
	for _, item := range p.Items {
		if _, ok := r.tx.state.medicines[item.MedicineID]; !ok {
			return apperr.NotFound("medicine", item.MedicineID)
		}
	}
	r.tx.state.purchases[p.ID] = clonePurchase(*p)
	return nil
}

func (r purchaseRepo) ListExpired(_ context.Context, asOf time.Time) ([]inventory.ExpiredBatch, error) {
	var out []inventory.ExpiredBatch
	for _, p := range r.tx.state.purchases {
		for _, item := range p.Items {
			if !item.ExpiryDate.Before(asOf) {
				continue
			}
			out = append(out, inventory.ExpiredBatch{
				MedicineID: item.MedicineID,
				BrandName:  r.tx.state.medicines[item.MedicineID].BrandName,
				BatchNo:    item.BatchNo,
				InvoiceNo:  p.InvoiceNo,
				ExpiryDate: item.ExpiryDate,
				Quantity:   item.Quantity,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiryDate.Before(out[j].ExpiryDate) })
	return out, nil
}

type checkupRepo struct{ tx *transaction }

func (r checkupRepo) Get(_ context.Context, id uuid.UUID) (*clinical.Checkup, error) {
	c, ok := r.tx.state.checkups[id]
	if !ok {
		return nil, apperr.NotFound("checkup", id)
	}
	c = cloneCheckup(c)
	return &c, nil
}

func (r checkupRepo) Create(_ context.Context, c *clinical.Checkup) error {
	if _, ok := r.tx.state.checkups[c.ID]; ok {
		return &apperr.ConflictError{Entity: "checkup", ID: c.ID.String(), Reason: "already exists"}
	}
	if err := r.checkLineRefs(c.Lines); err != nil {
		return err
	}
	r.tx.state.checkups[c.ID] = cloneCheckup(*c)
	return nil
}

func (r checkupRepo) Update(_ context.Context, c *clinical.Checkup) error {
	if _, ok := r.tx.state.checkups[c.ID]; !ok {
		return apperr.NotFound("checkup", c.ID)
	}
	if err := r.checkLineRefs(c.Lines); err != nil {
		return err
	}
	r.tx.state.checkups[c.ID] = cloneCheckup(*c)
	return nil
}

func (r checkupRepo) UpdateLine(_ context.Context, line *clinical.PrescriptionLine) error {
	c, ok := r.tx.state.checkups[line.CheckupID]
	if !ok {
		return apperr.NotFound("checkup", line.CheckupID)
	}
	c = cloneCheckup(c)
	for i := range c.Lines {
		if c.Lines[i].ID == line.ID {
			c.Lines[i] = *line
			r.tx.state.checkups[c.ID] = c
			return nil
		}
	}
	return apperr.NotFound("prescription line", line.ID)
}

func (r checkupRepo) checkLineRefs(lines []clinical.PrescriptionLine) error {
	for _, l := range lines {
		if _, ok := r.tx.state.medicines[l.MedicineID]; !ok {
			return apperr.NotFound("medicine", l.MedicineID)
		}
	}
	return nil
}

func (r checkupRepo) DeleteLines(_ context.Context, checkupID uuid.UUID) error {
	c, ok := r.tx.state.checkups[checkupID]
	if !ok {
		return apperr.NotFound("checkup", checkupID)
	}
	c.Lines = nil
	r.tx.state.checkups[checkupID] = c
	return nil
}

func (r checkupRepo) Delete(_ context.Context, id uuid.UUID) error {
	c, ok := r.tx.state.checkups[id]
	if !ok {
		return apperr.NotFound("checkup", id)
	}
	if len(c.Lines) > 0 {
		return &apperr.ReferentialIntegrityError{Entity: "checkup", ID: id.String(), ReferencedBy: "prescription lines"}
	}
	for _, p := range r.tx.state.plans {
		if p.CheckupID == id {
			return &apperr.ReferentialIntegrityError{Entity: "checkup", ID: id.String(), ReferencedBy: "observation plan " + p.ID.String()}
		}
	}
	delete(r.tx.state.checkups, id)
	return nil
}

func (r checkupRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*clinical.Checkup, error) {
	var out []*clinical.Checkup
	for _, c := range r.tx.state.checkups {
		if c.PatientID != patientID {
			continue
		}
		c := cloneCheckup(c)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

type observationRepo struct{ tx *transaction }

func (r observationRepo) Get(_ context.Context, id uuid.UUID) (*clinical.ObservationPlan, error) {
	p, ok := r.tx.state.plans[id]
	if !ok {
		return nil, apperr.NotFound("observation plan", id)
	}
	p = clonePlan(p)
	return &p, nil
}

func (r observationRepo) Create(_ context.Context, p *clinical.ObservationPlan) error {
	if _, ok := r.tx.state.checkups[p.CheckupID]; !ok {
		return apperr.NotFound("checkup", p.CheckupID)
	}
	for _, l := range p.Lines {
		if !l.ConsumesStock() {
			continue
		}
		if _, ok := r.tx.state.medicines[*l.MedicineID]; !ok {
			return apperr.NotFound("medicine", *l.MedicineID)
		}
	}
	r.tx.state.plans[p.ID] = clonePlan(*p)
	return nil
}

func (r observationRepo) UpdatePlan(_ context.Context, p *clinical.ObservationPlan) error {
	current, ok := r.tx.state.plans[p.ID]
	if !ok {
		return apperr.NotFound("observation plan", p.ID)
	}
	// Lines are written through UpdateLine only.
	next := *p
	next.Lines = current.Lines
	r.tx.state.plans[p.ID] = clonePlan(next)
	return nil
}

func (r observationRepo) UpdateLine(_ context.Context, line *clinical.ObservationLine) error {
	p, ok := r.tx.state.plans[line.PlanID]
	if !ok {
		return apperr.NotFound("observation plan", line.PlanID)
	}
	if line.ConsumesStock() {
		if _, ok := r.tx.state.medicines[*line.MedicineID]; !ok {
			return apperr.NotFound("medicine", *line.MedicineID)
		}
	}
	p = clonePlan(p)
	for i := range p.Lines {
		if p.Lines[i].ID == line.ID {
			p.Lines[i] = *line
			r.tx.state.plans[p.ID] = p
			return nil
		}
	}
	return apperr.NotFound("observation line", line.ID)
}

func (r observationRepo) DeleteLines(_ context.Context, planID uuid.UUID) error {
	p, ok := r.tx.state.plans[planID]
	if !ok {
		return apperr.NotFound("observation plan", planID)
	}
	p.Lines = nil
	r.tx.state.plans[planID] = p
	return nil
}

func (r observationRepo) Delete(_ context.Context, id uuid.UUID) error {
	p, ok := r.tx.state.plans[id]
	if !ok {
		return apperr.NotFound("observation plan", id)
	}
	if len(p.Lines) > 0 {
		return &apperr.ReferentialIntegrityError{Entity: "observation plan", ID: id.String(), ReferencedBy: "observation lines"}
	}
	delete(r.tx.state.plans, id)
	return nil
}

func (r observationRepo) CountByCheckup(_ context.Context, checkupID uuid.UUID) (int, error) {
	n := 0
	for _, p := range r.tx.state.plans {
		if p.CheckupID == checkupID {
			n++
		}
	}
	return n, nil
}

func (r observationRepo) ListByPatient(_ context.Context, patientID uuid.UUID, activeOnly bool) ([]*clinical.ObservationPlan, error) {
	var out []*clinical.ObservationPlan
	for _, p := range r.tx.state.plans {
		if p.PatientID != patientID || (activeOnly && p.Status != clinical.PlanActive) {
			continue
		}
		p := clonePlan(p)
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.After(out[j].StartDate) })
	return out, nil
}

type outboxWriter struct{ tx *transaction }

func (w outboxWriter) Append(_ context.Context, entry *store.OutboxEntry) error {
	if entry.Topic == "" || entry.EventType == "" {
		return fmt.Errorf("outbox entry requires topic and event type")
	}
	w.tx.state.nextOutboxID++
	entry.ID = w.tx.state.nextOutboxID
	entry.CreatedAt = w.tx.now()
	w.tx.state.outbox = append(w.tx.state.outbox, *entry)
	return nil
}

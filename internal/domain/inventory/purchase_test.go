package inventory

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/campusclinic/medstock/internal/domain/apperr"
)

func TestPurchaseValidate(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	valid := func() *Purchase {
		return &Purchase{
			Supplier:  " Acme Pharma ",
			InvoiceNo: "INV-1",
			Date:      day,
			Items: []PurchaseItem{{
				MedicineID: uuid.New(),
				BatchNo:    "B1",
				MfgDate:    day,
				ExpiryDate: day.AddDate(1, 0, 0),
				Quantity:   50,
			}},
		}
	}

	p := valid()
	if err := p.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID == uuid.Nil || p.Items[0].PurchaseID != p.ID || p.Items[0].ID == uuid.Nil {
		t.Error("expected ids to be assigned")
	}
	if p.Supplier != "Acme Pharma" {
		t.Errorf("expected trimmed supplier, got %q", p.Supplier)
	}

	tests := []struct {
		name   string
		mutate func(*Purchase)
	}{
		{"no invoice", func(p *Purchase) { p.InvoiceNo = "" }},
		{"no items", func(p *Purchase) { p.Items = nil }},
		{"zero quantity", func(p *Purchase) { p.Items[0].Quantity = 0 }},
		{"expiry before mfg", func(p *Purchase) { p.Items[0].ExpiryDate = day.AddDate(0, 0, -1) }},
		{"missing batch", func(p *Purchase) { p.Items[0].BatchNo = " " }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(p)
			if err := p.Validate(); !apperr.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestMedicineLifecycle(t *testing.T) {
	now := time.Now().UTC()
	m, err := NewMedicine("Paracip", "Paracetamol", nil, 10, now)
	if err != nil {
		t.Fatalf("new medicine: %v", err)
	}
	if !m.Active() {
		t.Fatal("new medicine should be active")
	}

	if err := m.Deactivate(now); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := m.Deactivate(now); !apperr.IsConflict(err) {
		t.Errorf("expected conflict on second deactivate, got %v", err)
	}

	m.Reactivate("Acetaminophen", 4, now)
	if !m.Active() || m.SaltName != "Acetaminophen" || m.ReorderLevel != 4 {
		t.Errorf("unexpected reactivated medicine %+v", m)
	}

	if _, err := NewMedicine(" ", "x", nil, 0, now); !apperr.IsValidation(err) {
		t.Errorf("expected validation error for blank brand, got %v", err)
	}
}

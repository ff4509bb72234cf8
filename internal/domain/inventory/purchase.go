package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/campusclinic/medstock/internal/domain/apperr"
)

// Purchase is a supplier invoice that brings stock into the clinic.
type Purchase struct {
	ID        uuid.UUID      `json:"id"`
	Supplier  string         `json:"supplier"`
	InvoiceNo string         `json:"invoiceNo"`
	Date      time.Time      `json:"date"`
	Items     []PurchaseItem `json:"items"`
	CreatedAt time.Time      `json:"createdAt"`
}

// PurchaseItem is one received batch.
type PurchaseItem struct {
	ID         uuid.UUID `json:"id"`
	PurchaseID uuid.UUID `json:"purchaseId"`
	MedicineID uuid.UUID `json:"medicineId"`
	BatchNo    string    `json:"batchNo"`
	MfgDate    time.Time `json:"mfgDate"`
	ExpiryDate time.Time `json:"expiryDate"`
	Quantity   int       `json:"quantity"`
}

// Validate checks the invoice and assigns ids to it and its items.
func (p *Purchase) Validate() error {
	p.Supplier = strings.TrimSpace(p.Supplier)
	p.InvoiceNo = strings.TrimSpace(p.InvoiceNo)

	if p.InvoiceNo == "" {
		return apperr.Invalid("invoiceNo", "is required")
	}
	if p.Date.IsZero() {
		return apperr.Invalid("date", "is required")
	}
	if len(p.Items) == 0 {
		return apperr.Invalid("items", "at least one item is required")
	}

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	for i := range p.Items {
		item := &p.Items[i]
		field := fmt.Sprintf("items[%d]", i)
		if item.MedicineID == uuid.Nil {
			return apperr.Invalid(field+".medicineId", "is required")
		}
		if item.Quantity <= 0 {
			return apperr.Invalid(field+".quantity", "must be positive")
		}
		if item.Quantity > MaxUnits {
			return apperr.Invalid(field+".quantity", "exceeds the unit limit")
		}
		if strings.TrimSpace(item.BatchNo) == "" {
			return apperr.Invalid(field+".batchNo", "is required")
		}
		if item.ExpiryDate.IsZero() {
			return apperr.Invalid(field+".expiryDate", "is required")
		}
		if !item.MfgDate.IsZero() && item.ExpiryDate.Before(item.MfgDate) {
			return apperr.Invalid(field+".expiryDate", "is before mfgDate")
		}
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.PurchaseID = p.ID
	}
	return nil
}

// ExpiredBatch is a received batch whose expiry date has passed.
type ExpiredBatch struct {
	MedicineID uuid.UUID `json:"medicineId"`
	BrandName  string    `json:"brandName"`
	BatchNo    string    `json:"batchNo"`
	InvoiceNo  string    `json:"invoiceNo"`
	ExpiryDate time.Time `json:"expiryDate"`
	Quantity   int       `json:"quantity"`
}

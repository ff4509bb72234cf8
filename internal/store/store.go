// Package store defines the unit-of-work contract the consistency engine
// writes through, and the repositories a transaction exposes.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/campusclinic/medstock/internal/domain/clinical"
	"github.com/campusclinic/medstock/internal/domain/inventory"
)

// UnitOfWork runs a function inside one all-or-nothing transaction.
//
// Errors returned by fn are passed back unchanged after rollback. Failures to
// begin or commit are reported as *apperr.TransactionError.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}

// Tx exposes the repositories bound to one transaction.
type Tx interface {
	Medicines() MedicineRepository
	Stock() StockRepository
	Purchases() PurchaseRepository
	Checkups() CheckupRepository
	Observations() ObservationRepository
	Outbox() OutboxWriter
}

// MedicineRepository persists the medicine catalogue. Lookups return
// *apperr.NotFoundError when nothing matches.
type MedicineRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*inventory.Medicine, error)
	GetByBrand(ctx context.Context, brandName string) (*inventory.Medicine, error)
	Create(ctx context.Context, m *inventory.Medicine) error
	Update(ctx context.Context, m *inventory.Medicine) error
	List(ctx context.Context, status inventory.Status) ([]*inventory.Medicine, error)
}

// StockRepository persists ledger rows. GetForUpdate locks the row until
// the transaction ends.
type StockRepository interface {
	inventory.StockStore
	Create(ctx context.Context, rec *inventory.StockRecord) error
	List(ctx context.Context) ([]*inventory.StockRecord, error)
}

// PurchaseRepository persists stock receipts.
type PurchaseRepository interface {
	Create(ctx context.Context, p *inventory.Purchase) error
	ListExpired(ctx context.Context, asOf time.Time) ([]inventory.ExpiredBatch, error)
}

// CheckupRepository persists checkups together with their lines.
type CheckupRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*clinical.Checkup, error)
	Create(ctx context.Context, c *clinical.Checkup) error
	// Update rewrites the checkup fields and replaces its line set.
	Update(ctx context.Context, c *clinical.Checkup) error
	UpdateLine(ctx context.Context, line *clinical.PrescriptionLine) error
	DeleteLines(ctx context.Context, checkupID uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*clinical.Checkup, error)
}

// ObservationRepository persists observation plans together with their lines.
type ObservationRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*clinical.ObservationPlan, error)
	Create(ctx context.Context, p *clinical.ObservationPlan) error
	UpdatePlan(ctx context.Context, p *clinical.ObservationPlan) error
	UpdateLine(ctx context.Context, line *clinical.ObservationLine) error
	DeleteLines(ctx context.Context, planID uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	CountByCheckup(ctx context.Context, checkupID uuid.UUID) (int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, activeOnly bool) ([]*clinical.ObservationPlan, error)
}

// OutboxEntry is an event recorded inside a domain transaction and relayed
// to the broker after commit.
type OutboxEntry struct {
	ID            int64           `json:"id"`
	AggregateID   string          `json:"aggregateId"`
	AggregateType string          `json:"aggregateType"`
	EventType     string          `json:"eventType"`
	Payload       json.RawMessage `json:"payload"`
	Topic         string          `json:"topic"`
	Key           string          `json:"key"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// OutboxWriter appends events to the transactional outbox.
type OutboxWriter interface {
	Append(ctx context.Context, entry *OutboxEntry) error
}

package inventory

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/campusclinic/medstock/internal/domain/apperr"
)

// StockRecord holds the ledger counters of one medicine.
// Stock == Received - Dispensed and Stock >= 0 hold after every mutation.
type StockRecord struct {
	MedicineID uuid.UUID `json:"medicineId"`
	Stock      int       `json:"stock"`
	Received   int       `json:"received"`
	Dispensed  int       `json:"dispensed"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// NewStockRecord returns the empty record created alongside a medicine.
func NewStockRecord(medicineID uuid.UUID, now time.Time) *StockRecord {
	return &StockRecord{MedicineID: medicineID, UpdatedAt: now}
}

// Check verifies the ledger invariant.
func (s *StockRecord) Check() error {
	switch {
	case s.Stock < 0:
		return &apperr.InvariantError{MedicineID: s.MedicineID, Reason: fmt.Sprintf("stock %d is negative", s.Stock)}
	case s.Dispensed < 0:
		return &apperr.InvariantError{MedicineID: s.MedicineID, Reason: fmt.Sprintf("dispensed %d is negative", s.Dispensed)}
	case s.Stock != s.Received-s.Dispensed:
		return &apperr.InvariantError{
			MedicineID: s.MedicineID,
			Reason:     fmt.Sprintf("stock %d != received %d - dispensed %d", s.Stock, s.Received, s.Dispensed),
		}
	}
	return nil
}

// Reserve checks that qty units are available. It does not mutate.
func (s *StockRecord) Reserve(qty int) error {
	if qty < 0 {
		return apperr.Invalid("quantity", "must not be negative")
	}
	if qty > s.Stock {
		return &apperr.InsufficientStockError{MedicineID: s.MedicineID, Line: -1, Requested: qty, Available: s.Stock}
	}
	return nil
}

// Deduct dispenses qty units.
func (s *StockRecord) Deduct(qty int) error {
	if err := s.Reserve(qty); err != nil {
		return err
	}
	s.Stock -= qty
	s.Dispensed += qty
	return nil
}

// Restore returns qty previously dispensed units to stock.
func (s *StockRecord) Restore(qty int) error {
	if qty < 0 {
		return apperr.Invalid("quantity", "must not be negative")
	}
	if qty > s.Dispensed {
		return &apperr.InvariantError{
			MedicineID: s.MedicineID,
			Reason:     fmt.Sprintf("restoring %d exceeds dispensed %d", qty, s.Dispensed),
		}
	}
	s.Stock += qty
	s.Dispensed -= qty
	return nil
}

// Adjust applies a signed dispense delta: positive deducts, negative restores.
func (s *StockRecord) Adjust(delta int) error {
	if delta >= 0 {
		return s.Deduct(delta)
	}
	return s.Restore(-delta)
}

// Receive adds qty purchased units.
func (s *StockRecord) Receive(qty int) error {
	if qty <= 0 {
		return apperr.Invalid("quantity", "must be positive")
	}
	if qty > MaxUnits-s.Received {
		return apperr.Invalid("quantity", "received total would exceed the unit limit")
	}
	s.Stock += qty
	s.Received += qty
	return nil
}

// Level classifies the record against a reorder level.
func (s *StockRecord) Level(reorderLevel int) Level {
	switch {
	case s.Stock == 0:
		return LevelDepleted
	case s.Stock <= reorderLevel:
		return LevelLow
	default:
		return LevelOK
	}
}

// Level is a coarse stock classification used for alerts and reports.
type Level string

const (
	LevelOK       Level = "ok"
	LevelLow      Level = "low"
	LevelDepleted Level = "depleted"
)

// Worse reports whether l is a more severe level than other.
func (l Level) Worse(other Level) bool {
	return l.rank() > other.rank()
}

func (l Level) rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelDepleted:
		return 2
	}
	return 0
}

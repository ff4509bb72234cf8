// Package apperr defines the error taxonomy shared by the inventory engine,
// the persistence layer and the HTTP surface.
package apperr

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ValidationError reports malformed or missing input. It is always raised
// before a transaction is opened.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Invalid is shorthand for a *ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError reports a missing or inactive referenced entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// NotFound is shorthand for a *NotFoundError keyed by uuid.
func NotFound(entity string, id uuid.UUID) error {
	return &NotFoundError{Entity: entity, ID: id.String()}
}

// InsufficientStockError reports a reservation that exceeds available stock.
// Line is the zero-based index of the first request line that referenced
// the medicine, or -1 when the demand did not come from a line.
type InsufficientStockError struct {
	MedicineID uuid.UUID
	Line       int
	Requested  int
	Available  int
}

func (e *InsufficientStockError) Error() string {
	if e.Line >= 0 {
		return fmt.Sprintf("insufficient stock for medicine %s (line %d): requested %d, available %d",
			e.MedicineID, e.Line+1, e.Requested, e.Available)
	}
	return fmt.Sprintf("insufficient stock for medicine %s: requested %d, available %d",
		e.MedicineID, e.Requested, e.Available)
}

// ReferentialIntegrityError reports an attempt to delete a row that a live
// child still references.
type ReferentialIntegrityError struct {
	Entity       string
	ID           string
	ReferencedBy string
}

func (e *ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("%s %s is still referenced by %s", e.Entity, e.ID, e.ReferencedBy)
}

// ConflictError reports an operation that is not allowed in the entity's
// current state.
type ConflictError struct {
	Entity string
	ID     string
	Reason string
}

func (e *ConflictError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %s", e.Entity, e.Reason)
	}
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Reason)
}

// InvariantError reports ledger bookkeeping that would break
// stock = received - dispensed or drive a counter negative.
type InvariantError struct {
	MedicineID uuid.UUID
	Reason     string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("ledger invariant violated for medicine %s: %s", e.MedicineID, e.Reason)
}

// TransactionError wraps an infrastructure failure to begin, commit or roll
// back a unit of work.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is or wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsInsufficientStock reports whether err is or wraps an *InsufficientStockError.
func IsInsufficientStock(err error) bool {
	var target *InsufficientStockError
	return errors.As(err, &target)
}

// IsConflict reports whether err is or wraps a *ConflictError.
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsReferentialIntegrity reports whether err is or wraps a *ReferentialIntegrityError.
func IsReferentialIntegrity(err error) bool {
	var target *ReferentialIntegrityError
	return errors.As(err, &target)
}

// IsDomain reports whether err belongs to the domain taxonomy, as opposed to
// an infrastructure failure.
func IsDomain(err error) bool {
	switch {
	case IsNotFound(err), IsValidation(err), IsInsufficientStock(err),
		IsConflict(err), IsReferentialIntegrity(err):
		return true
	}
	var inv *InvariantError
	return errors.As(err, &inv)
}

package apperr

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestClassifiersSeeThroughWrapping(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"validation", Invalid("quantity", "must not be negative"), IsValidation},
		{"not found", NotFound("medicine", id), IsNotFound},
		{"stock", &InsufficientStockError{MedicineID: id, Line: 0, Requested: 3, Available: 1}, IsInsufficientStock},
		{"conflict", &ConflictError{Entity: "observation plan", Reason: "active"}, IsConflict},
		{"referential", &ReferentialIntegrityError{Entity: "checkup", ID: id.String(), ReferencedBy: "observation plan"}, IsReferentialIntegrity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("create checkup: %w", tt.err)
			if !tt.check(wrapped) {
				t.Errorf("classifier did not match wrapped %T", tt.err)
			}
			if !IsDomain(wrapped) {
				t.Errorf("expected %T to count as a domain error", tt.err)
			}
		})
	}
}

func TestTransactionErrorIsNotDomain(t *testing.T) {
	cause := errors.New("connection reset")
	err := &TransactionError{Op: "commit", Err: cause}

	if IsDomain(err) {
		t.Error("transaction error must not be classified as domain")
	}
	if !errors.Is(err, cause) {
		t.Error("expected Unwrap to expose the cause")
	}
}

func TestInsufficientStockMessageNamesLine(t *testing.T) {
	err := &InsufficientStockError{MedicineID: uuid.New(), Line: 2, Requested: 5, Available: 1}
	if !strings.Contains(err.Error(), "line 3") {
		t.Errorf("expected one-based line number in %q", err.Error())
	}

	err.Line = -1
	if strings.Contains(err.Error(), "line") {
		t.Errorf("expected no line reference in %q", err.Error())
	}
}

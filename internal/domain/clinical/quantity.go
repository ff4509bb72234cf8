// Package clinical implements checkups, observation plans and the validation
// of their ledger-consuming lines.
package clinical

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/campusclinic/medstock/internal/domain/apperr"
	"github.com/campusclinic/medstock/internal/domain/inventory"
)

// DefaultQuantity replaces absent or unparseable quantities.
const DefaultQuantity = 1

// Quantity is a client-submitted unit count. Clients send numbers, numeric
// strings or nothing at all; Set is false when the value was absent or could
// not be read as an integer.
type Quantity struct {
	Value int
	Set   bool
}

// Qty returns a set quantity.
func Qty(v int) Quantity { return Quantity{Value: v, Set: true} }

// UnmarshalJSON never fails: unreadable input leaves the quantity unset.
func (q *Quantity) UnmarshalJSON(b []byte) error {
	*q = Quantity{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			*q = Qty(v)
		}
		return nil
	}

	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return nil
	}
	*q = Qty(int(f))
	return nil
}

// MarshalJSON writes the resolved value.
func (q Quantity) MarshalJSON() ([]byte, error) {
	if !q.Set {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(q.Value)), nil
}

// Resolve applies the default and rejects negative or oversized values.
func (q Quantity) Resolve(field string) (int, error) {
	return q.ResolveOr(field, DefaultQuantity)
}

// ResolveOr is Resolve with a caller-chosen default.
func (q Quantity) ResolveOr(field string, def int) (int, error) {
	if !q.Set {
		return def, nil
	}
	if q.Value < 0 {
		return 0, apperr.Invalid(field, "must not be negative")
	}
	if q.Value > inventory.MaxUnits {
		return 0, apperr.Invalid(field, "exceeds the unit limit")
	}
	return q.Value, nil
}

// checkTotal rejects a daily × days product above inventory.MaxUnits.
func checkTotal(field string, daily, days int) error {
	if days > 0 && daily > inventory.MaxUnits/days {
		return apperr.Invalid(field, "dailyQuantity × days exceeds the unit limit")
	}
	return nil
}

// dailyByFrequency maps dosing frequency codes to units per day.
var dailyByFrequency = map[string]int{
	"OD":  1,
	"BD":  2,
	"TDS": 3,
	"QID": 4,
}

// DailyFromFrequency returns the units per day implied by a frequency code.
func DailyFromFrequency(freq string) (int, bool) {
	n, ok := dailyByFrequency[strings.ToUpper(strings.TrimSpace(freq))]
	return n, ok
}

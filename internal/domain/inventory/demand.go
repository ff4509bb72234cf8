package inventory

import (
	"bytes"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/campusclinic/medstock/internal/domain/apperr"
)

// MaxUnits bounds any single quantity and any per-medicine total. It matches
// the INTEGER columns that hold stock.
const MaxUnits = math.MaxInt32

// Demand is the per-medicine unit total of a set of ledger-consuming lines,
// remembering which line first referenced each medicine.
type Demand struct {
	qty      map[uuid.UUID]int
	first    map[uuid.UUID]int
	overflow uuid.UUID
}

// NewDemand returns an empty demand.
func NewDemand() *Demand {
	return &Demand{qty: make(map[uuid.UUID]int), first: make(map[uuid.UUID]int)}
}

// Add records qty units of a medicine requested by the given line index.
func (d *Demand) Add(medicineID uuid.UUID, qty, line int) {
	if _, seen := d.first[medicineID]; !seen {
		d.first[medicineID] = line
	}
	next := d.qty[medicineID] + qty
	if next > MaxUnits || next < -MaxUnits {
		if d.overflow == uuid.Nil {
			d.overflow = medicineID
		}
		next = max(min(next, MaxUnits), -MaxUnits)
	}
	d.qty[medicineID] = next
}

// Err reports a per-medicine total that left the MaxUnits range.
func (d *Demand) Err() error {
	if d.overflow == uuid.Nil {
		return nil
	}
	return apperr.Invalid("quantity", "total for medicine "+d.overflow.String()+" exceeds the unit limit")
}

// Has reports whether any line referenced the medicine, even with zero units.
func (d *Demand) Has(medicineID uuid.UUID) bool {
	_, ok := d.qty[medicineID]
	return ok
}

// Quantity returns the demand for one medicine.
func (d *Demand) Quantity(medicineID uuid.UUID) int { return d.qty[medicineID] }

// Line returns the first line that referenced the medicine, or -1.
func (d *Demand) Line(medicineID uuid.UUID) int {
	if line, ok := d.first[medicineID]; ok {
		return line
	}
	return -1
}

// MedicineIDs returns every referenced medicine in ascending byte order,
// which is also the row-lock order.
func (d *Demand) MedicineIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(d.qty))
	for id := range d.qty {
		ids = append(ids, id)
	}
	SortIDs(ids)
	return ids
}

// Len returns the number of distinct medicines.
func (d *Demand) Len() int { return len(d.qty) }

// Negate returns the demand with every quantity sign-flipped.
func (d *Demand) Negate() *Demand {
	out := NewDemand()
	for id, q := range d.qty {
		out.qty[id] = -q
		out.first[id] = d.first[id]
	}
	out.overflow = d.overflow
	return out
}

// Diff returns next - prev per medicine, dropping medicines whose total is
// unchanged. Line attribution prefers next.
func Diff(next, prev *Demand) *Demand {
	out := NewDemand()
	if next.overflow != uuid.Nil {
		out.overflow = next.overflow
	} else {
		out.overflow = prev.overflow
	}
	for id, q := range next.qty {
		if delta := q - prev.qty[id]; delta != 0 {
			out.qty[id] = delta
			out.first[id] = next.first[id]
		}
	}
	for id, q := range prev.qty {
		if _, ok := next.qty[id]; ok || q == 0 {
			continue
		}
		out.qty[id] = -q
		out.first[id] = -1
	}
	return out
}

// SortIDs orders ids ascending by their bytes.
func SortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
}

package inventory

import (
	"time"

	"github.com/google/uuid"
)

// Alert is a stored low or depleted stock notification, shown to staff as
// a toast and optionally forwarded to a webhook.
type Alert struct {
	ID           uuid.UUID `json:"id"`
	EventID      string    `json:"eventId"`
	MedicineID   uuid.UUID `json:"medicineId"`
	BrandName    string    `json:"brandName"`
	Level        Level     `json:"level"`
	Stock        int       `json:"stock"`
	ReorderLevel int       `json:"reorderLevel"`
	RaisedAt     time.Time `json:"raisedAt"`
	Forwarded    bool      `json:"forwarded"`
}

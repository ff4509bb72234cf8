// Package events defines the outbox event envelope, topics and payloads
// shared by the engine, the relay and the stock notifier.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/campusclinic/medstock/internal/domain/inventory"
	"github.com/campusclinic/medstock/internal/store"
)

// Topics
const (
	TopicInventoryEvents = "clinic.inventory.events"
	TopicStockAlerts     = "clinic.stock.alerts"
	TopicDeadLetter      = "clinic.dead-letter"
)

// Type represents the type of domain event
type Type string

const (
	CheckupCreated           Type = "checkup.created"
	CheckupUpdated           Type = "checkup.updated"
	CheckupDeleted           Type = "checkup.deleted"
	ObservationCreated       Type = "observation.created"
	ObservationUpdated       Type = "observation.updated"
	ObservationStatusChanged Type = "observation.status_changed"
	ObservationDeleted       Type = "observation.deleted"
	ObservationAdministered  Type = "observation.administered"
	MedicineRegistered       Type = "medicine.registered"
	MedicineDeactivated      Type = "medicine.deactivated"
	StockReceived            Type = "stock.received"
	StockLow                 Type = "stock.low"
	StockDepleted            Type = "stock.depleted"
)

// Aggregate types
const (
	AggregateCheckup     = "Checkup"
	AggregateObservation = "ObservationPlan"
	AggregateMedicine    = "Medicine"
	AggregatePurchase    = "Purchase"
)

// Event is the envelope written to the outbox and published to the broker.
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Type          Type            `json:"event_type"`
	Data          json.RawMessage `json:"event_data"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// New creates a new event
func New(aggregateType, aggregateID string, t Type, data interface{}, at time.Time) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Type:          t,
		Data:          raw,
		Timestamp:     at.UTC(),
	}, nil
}

// Topic returns the topic the event is routed to.
func (e *Event) Topic() string {
	if e.Type == StockLow || e.Type == StockDepleted {
		return TopicStockAlerts
	}
	return TopicInventoryEvents
}

// OutboxEntry wraps the event for the transactional outbox. Entries are
// keyed by aggregate so one record's events stay ordered on a partition.
func (e *Event) OutboxEntry() (*store.OutboxEntry, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event envelope: %w", err)
	}
	return &store.OutboxEntry{
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		EventType:     string(e.Type),
		Payload:       payload,
		Topic:         e.Topic(),
		Key:           e.AggregateID,
	}, nil
}

// Decode parses a published envelope.
func Decode(raw []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if e.Type == "" {
		return nil, fmt.Errorf("decode event: missing event_type")
	}
	return &e, nil
}

// CheckupData describes a checkup write.
type CheckupData struct {
	CheckupID uuid.UUID      `json:"checkup_id"`
	PatientID uuid.UUID      `json:"patient_id"`
	Lines     int            `json:"lines"`
	Delta     map[string]int `json:"delta,omitempty"`
}

// ObservationData describes an observation plan write.
type ObservationData struct {
	PlanID    uuid.UUID      `json:"plan_id"`
	CheckupID uuid.UUID      `json:"checkup_id"`
	PatientID uuid.UUID      `json:"patient_id"`
	Status    string         `json:"status"`
	LineID    *uuid.UUID     `json:"line_id,omitempty"`
	Delta     map[string]int `json:"delta,omitempty"`
}

// MedicineData describes a catalogue change.
type MedicineData struct {
	MedicineID  uuid.UUID `json:"medicine_id"`
	BrandName   string    `json:"brand_name"`
	Status      string    `json:"status"`
	Reactivated bool      `json:"reactivated,omitempty"`
}

// StockReceivedData describes a purchase.
type StockReceivedData struct {
	PurchaseID uuid.UUID `json:"purchase_id"`
	InvoiceNo  string    `json:"invoice_no"`
	Items      int       `json:"items"`
	Units      int       `json:"units"`
}

// StockAlertData is raised when a ledger write moves a medicine into a worse
// stock level.
type StockAlertData struct {
	MedicineID   uuid.UUID       `json:"medicine_id"`
	BrandName    string          `json:"brand_name"`
	Level        inventory.Level `json:"level"`
	Stock        int             `json:"stock"`
	ReorderLevel int             `json:"reorder_level"`
}

// DeltaMap renders a demand for event payloads.
func DeltaMap(d *inventory.Demand) map[string]int {
	if d == nil || d.Len() == 0 {
		return nil
	}
	out := make(map[string]int, d.Len())
	for _, id := range d.MedicineIDs() {
		out[id.String()] = d.Quantity(id)
	}
	return out
}

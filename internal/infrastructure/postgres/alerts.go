package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusclinic/medstock/internal/domain/inventory"
)

// AlertStore persists stock alerts raised by the notifier.
type AlertStore struct {
	pool *pgxpool.Pool
}

// NewAlertStore creates an alert store.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

// Save inserts an alert. Redelivered events are ignored by event id.
func (s *AlertStore) Save(ctx context.Context, a *inventory.Alert) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stock_alerts (id, event_id, medicine_id, brand_name, level, stock, reorder_level, raised_at, forwarded)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING`,
		a.ID, a.EventID, a.MedicineID, a.BrandName, a.Level, a.Stock, a.ReorderLevel, a.RaisedAt, a.Forwarded)
	if err != nil {
		return fmt.Errorf("insert stock alert: %w", err)
	}
	return nil
}

// MarkForwarded records a successful webhook delivery.
func (s *AlertStore) MarkForwarded(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE stock_alerts SET forwarded = TRUE WHERE event_id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("mark alert forwarded: %w", err)
	}
	return nil
}

// Recent returns the newest alerts first.
func (s *AlertStore) Recent(ctx context.Context, limit int) ([]inventory.Alert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_id, medicine_id, brand_name, level, stock, reorder_level, raised_at, forwarded
		FROM stock_alerts
		ORDER BY raised_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list stock alerts: %w", err)
	}
	defer rows.Close()

	var out []inventory.Alert
	for rows.Next() {
		var a inventory.Alert
		if err := rows.Scan(&a.ID, &a.EventID, &a.MedicineID, &a.BrandName, &a.Level,
			&a.Stock, &a.ReorderLevel, &a.RaisedAt, &a.Forwarded); err != nil {
			return nil, fmt.Errorf("scan stock alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

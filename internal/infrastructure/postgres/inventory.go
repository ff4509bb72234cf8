package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/campusclinic/medstock/internal/domain/apperr"
	"github.com/campusclinic/medstock/internal/domain/inventory"
)

const medicineColumns = `id, brand_name, salt_name, category_id, status, reorder_level, created_at, updated_at`

type medicineRepo struct{ tx pgx.Tx }

func scanMedicine(row pgx.Row) (*inventory.Medicine, error) {
	m := &inventory.Medicine{}
	err := row.Scan(&m.ID, &m.BrandName, &m.SaltName, &m.CategoryID, &m.Status, &m.ReorderLevel, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func (r medicineRepo) Get(ctx context.Context, id uuid.UUID) (*inventory.Medicine, error) {
	m, err := scanMedicine(r.tx.QueryRow(ctx, `SELECT `+medicineColumns+` FROM medicines WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("medicine", id)
	}
	if err != nil {
		return nil, fmt.Errorf("select medicine: %w", err)
	}
	return m, nil
}

func (r medicineRepo) GetByBrand(ctx context.Context, brandName string) (*inventory.Medicine, error) {
	name := strings.TrimSpace(brandName)
	m, err := scanMedicine(r.tx.QueryRow(ctx,
		`SELECT `+medicineColumns+` FROM medicines WHERE LOWER(brand_name) = LOWER($1)`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &apperr.NotFoundError{Entity: "medicine", ID: name}
	}
	if err != nil {
		return nil, fmt.Errorf("select medicine by brand: %w", err)
	}
	return m, nil
}

func (r medicineRepo) Create(ctx context.Context, m *inventory.Medicine) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO medicines (`+medicineColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.BrandName, m.SaltName, m.CategoryID, m.Status, m.ReorderLevel, m.CreatedAt, m.UpdatedAt)
	return translate(err, "medicine", m.ID.String())
}

func (r medicineRepo) Update(ctx context.Context, m *inventory.Medicine) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE medicines
		SET salt_name = $2, category_id = $3, status = $4, reorder_level = $5, updated_at = $6
		WHERE id = $1`,
		m.ID, m.SaltName, m.CategoryID, m.Status, m.ReorderLevel, m.UpdatedAt)
	if err != nil {
		return translate(err, "medicine", m.ID.String())
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("medicine", m.ID)
	}
	return nil
}

func (r medicineRepo) List(ctx context.Context, status inventory.Status) ([]*inventory.Medicine, error) {
	query := `SELECT ` + medicineColumns + ` FROM medicines`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY brand_name`

	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list medicines: %w", err)
	}
	defer rows.Close()

	var out []*inventory.Medicine
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan medicine: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type stockRepo struct{ tx pgx.Tx }

func (r stockRepo) GetForUpdate(ctx context.Context, medicineID uuid.UUID) (*inventory.StockRecord, error) {
	rec := &inventory.StockRecord{}
	err := r.tx.QueryRow(ctx, `
		SELECT medicine_id, stock, received, dispensed, updated_at
		FROM stock_records
		WHERE medicine_id = $1
		FOR UPDATE`, medicineID,
	).Scan(&rec.MedicineID, &rec.Stock, &rec.Received, &rec.Dispensed, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("stock record", medicineID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock stock record: %w", err)
	}
	return rec, nil
}

func (r stockRepo) Save(ctx context.Context, rec *inventory.StockRecord) error {
	if err := rec.Check(); err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `
		UPDATE stock_records
		SET stock = $2, received = $3, dispensed = $4, updated_at = $5
		WHERE medicine_id = $1`,
		rec.MedicineID, rec.Stock, rec.Received, rec.Dispensed, rec.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeCheckViolation {
			return &apperr.InvariantError{MedicineID: rec.MedicineID, Reason: pgErr.ConstraintName}
		}
		return fmt.Errorf("update stock record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("stock record", rec.MedicineID)
	}
	return nil
}

func (r stockRepo) Create(ctx context.Context, rec *inventory.StockRecord) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO stock_records (medicine_id, stock, received, dispensed, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.MedicineID, rec.Stock, rec.Received, rec.Dispensed, rec.UpdatedAt)
	return translate(err, "stock record", rec.MedicineID.String())
}

func (r stockRepo) List(ctx context.Context) ([]*inventory.StockRecord, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT medicine_id, stock, received, dispensed, updated_at
		FROM stock_records
		ORDER BY medicine_id`)
	if err != nil {
		return nil, fmt.Errorf("list stock records: %w", err)
	}
	defer rows.Close()

	var out []*inventory.StockRecord
	for rows.Next() {
		rec := &inventory.StockRecord{}
		if err := rows.Scan(&rec.MedicineID, &rec.Stock, &rec.Received, &rec.Dispensed, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stock record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type purchaseRepo struct{ tx pgx.Tx }

func (r purchaseRepo) Create(ctx context.Context, p *inventory.Purchase) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO purchases (id, supplier, invoice_no, date, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.Supplier, p.InvoiceNo, p.Date, p.CreatedAt)
	if err != nil {
		return translate(err, "purchase", p.ID.String())
	}

	batch := &pgx.Batch{}
	for _, item := range p.Items {
		batch.Queue(`
			INSERT INTO purchase_items (id, purchase_id, medicine_id, batch_no, mfg_date, expiry_date, quantity)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			item.ID, p.ID, item.MedicineID, item.BatchNo, nullTime(item.MfgDate), item.ExpiryDate, item.Quantity)
	}
	if err := r.tx.SendBatch(ctx, batch).Close(); err != nil {
		return translate(err, "purchase", p.ID.String())
	}
	return nil
}

func (r purchaseRepo) ListExpired(ctx context.Context, asOf time.Time) ([]inventory.ExpiredBatch, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT i.medicine_id, m.brand_name, i.batch_no, p.invoice_no, i.expiry_date, i.quantity
		FROM purchase_items i
		JOIN purchases p ON p.id = i.purchase_id
		JOIN medicines m ON m.id = i.medicine_id
		WHERE i.expiry_date < $1
		ORDER BY i.expiry_date`, asOf)
	if err != nil {
		return nil, fmt.Errorf("list expired batches: %w", err)
	}
	defer rows.Close()

	var out []inventory.ExpiredBatch
	for rows.Next() {
		var b inventory.ExpiredBatch
		if err := rows.Scan(&b.MedicineID, &b.BrandName, &b.BatchNo, &b.InvoiceNo, &b.ExpiryDate, &b.Quantity); err != nil {
			return nil, fmt.Errorf("scan expired batch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

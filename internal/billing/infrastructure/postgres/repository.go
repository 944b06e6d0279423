package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	billing "rental-cloud/internal/billing/domain"
	"rental-cloud/internal/txn"
)

// BillRepository persists bills and their details in postgres.
type BillRepository struct {
	db *sql.DB
}

// NewBillRepository constructs a repository.
func NewBillRepository(db *sql.DB) *BillRepository {
	return &BillRepository{db: db}
}

const billColumns = `id, contract_id, bill_number, type, amount, received_amount,
	pending_amount, bill_date, due_date, period_start, period_end, status,
	remark, metadata, created_at, updated_at`

// Create inserts a bill.
func (r *BillRepository) Create(ctx context.Context, bill *billing.Bill) error {
	if r == nil || r.db == nil {
		return errors.New("bill repo: nil db")
	}
	return r.insert(ctx, txn.From(ctx, r.db), bill)
}

// CreateWithDetails inserts a bill and its line items. Callers are expected
// to run this inside a managed transaction; outside one it falls back to a
// local transaction so the rows never land partially.
func (r *BillRepository) CreateWithDetails(ctx context.Context, bill *billing.Bill, details []billing.BillDetail) error {
	if r == nil || r.db == nil {
		return errors.New("bill repo: nil db")
	}
	q := txn.From(ctx, r.db)
	if q == txn.Querier(r.db) {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := r.createWithDetails(ctx, tx, bill, details); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	}
	return r.createWithDetails(ctx, q, bill, details)
}

func (r *BillRepository) createWithDetails(ctx context.Context, q txn.Querier, bill *billing.Bill, details []billing.BillDetail) error {
	if err := r.insert(ctx, q, bill); err != nil {
		return err
	}
	for i := range details {
		if err := insertDetail(ctx, q, &details[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *BillRepository) insert(ctx context.Context, q txn.Querier, bill *billing.Bill) error {
	raw, err := billing.EncodeMetadata(bill.Metadata)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
INSERT INTO bills (`+billColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,now(),now())`,
		bill.ID, bill.ContractID, bill.BillNumber, bill.Type, bill.Amount, bill.ReceivedAmount,
		bill.PendingAmount, bill.BillDate, bill.DueDate, bill.PeriodStart, bill.PeriodEnd, bill.Status,
		bill.Remark, nullBytes(raw))
	return err
}

// GetByID loads a bill.
func (r *BillRepository) GetByID(ctx context.Context, id string) (*billing.Bill, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("bill repo: nil db")
	}
	row := txn.From(ctx, r.db).QueryRowContext(ctx, `
SELECT `+billColumns+`
FROM bills
WHERE id = $1
LIMIT 1`, id)
	return scanBill(row)
}

// Update overwrites a bill's mutable fields.
func (r *BillRepository) Update(ctx context.Context, bill *billing.Bill) error {
	if r == nil || r.db == nil {
		return errors.New("bill repo: nil db")
	}
	raw, err := billing.EncodeMetadata(bill.Metadata)
	if err != nil {
		return err
	}
	res, err := txn.From(ctx, r.db).ExecContext(ctx, `
UPDATE bills
SET amount = $2, received_amount = $3, pending_amount = $4, due_date = $5,
	status = $6, remark = $7, metadata = $8, updated_at = now()
WHERE id = $1`,
		bill.ID, bill.Amount, bill.ReceivedAmount, bill.PendingAmount, bill.DueDate,
		bill.Status, bill.Remark, nullBytes(raw))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return billing.ErrBillNotFound
	}
	return nil
}

// List returns all bills.
func (r *BillRepository) List(ctx context.Context) ([]billing.Bill, error) {
	return r.query(ctx, `SELECT `+billColumns+` FROM bills ORDER BY created_at`)
}

// ListByContract returns a contract's bills.
func (r *BillRepository) ListByContract(ctx context.Context, contractID string) ([]billing.Bill, error) {
	return r.query(ctx, `SELECT `+billColumns+` FROM bills WHERE contract_id = $1 ORDER BY bill_date`, contractID)
}

// LatestByContractAndType returns the newest matching bill by bill date.
func (r *BillRepository) LatestByContractAndType(ctx context.Context, contractID string, billType billing.BillType) (*billing.Bill, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("bill repo: nil db")
	}
	row := txn.From(ctx, r.db).QueryRowContext(ctx, `
SELECT `+billColumns+`
FROM bills
WHERE contract_id = $1 AND type = $2
ORDER BY bill_date DESC
LIMIT 1`, contractID, billType)
	bill, err := scanBill(row)
	if errors.Is(err, billing.ErrBillNotFound) {
		return nil, nil
	}
	return bill, err
}

// LastCreatedAt returns the newest bill creation time, zero when none exist.
func (r *BillRepository) LastCreatedAt(ctx context.Context) (time.Time, error) {
	if r == nil || r.db == nil {
		return time.Time{}, errors.New("bill repo: nil db")
	}
	var last sql.NullTime
	err := txn.From(ctx, r.db).QueryRowContext(ctx, `SELECT MAX(created_at) FROM bills`).Scan(&last)
	if err != nil {
		return time.Time{}, err
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return last.Time, nil
}

// AddDetail inserts a line item.
func (r *BillRepository) AddDetail(ctx context.Context, detail *billing.BillDetail) error {
	if r == nil || r.db == nil {
		return errors.New("bill repo: nil db")
	}
	return insertDetail(ctx, txn.From(ctx, r.db), detail)
}

// UpdateDetail overwrites a line item.
func (r *BillRepository) UpdateDetail(ctx context.Context, detail *billing.BillDetail) error {
	if r == nil || r.db == nil {
		return errors.New("bill repo: nil db")
	}
	res, err := txn.From(ctx, r.db).ExecContext(ctx, `
UPDATE bill_details
SET usage_value = $2, unit_price = $3, amount = $4, price_source = $5
WHERE id = $1`,
		detail.ID, detail.Usage, detail.UnitPrice, detail.Amount, detail.PriceSource)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return billing.ErrDetailNotFound
	}
	return nil
}

// ListDetailsByBill returns the line items of a bill.
func (r *BillRepository) ListDetailsByBill(ctx context.Context, billID string) ([]billing.BillDetail, error) {
	return r.queryDetails(ctx, `
SELECT id, bill_id, meter_reading_id, meter_type, usage_value, unit_price, amount, price_source, created_at
FROM bill_details
WHERE bill_id = $1
ORDER BY meter_type`, billID)
}

// ListDetailsByReading returns the line items linked to a meter reading.
func (r *BillRepository) ListDetailsByReading(ctx context.Context, readingID string) ([]billing.BillDetail, error) {
	return r.queryDetails(ctx, `
SELECT id, bill_id, meter_reading_id, meter_type, usage_value, unit_price, amount, price_source, created_at
FROM bill_details
WHERE meter_reading_id = $1
ORDER BY created_at`, readingID)
}

// CountDetailsByReading counts line items linked to a meter reading.
func (r *BillRepository) CountDetailsByReading(ctx context.Context, readingID string) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("bill repo: nil db")
	}
	var count int
	err := txn.From(ctx, r.db).QueryRowContext(ctx, `
SELECT COUNT(*) FROM bill_details WHERE meter_reading_id = $1`, readingID).Scan(&count)
	return count, err
}

func (r *BillRepository) query(ctx context.Context, q string, args ...any) ([]billing.Bill, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("bill repo: nil db")
	}
	rows, err := txn.From(ctx, r.db).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Bill
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *bill)
	}
	return out, rows.Err()
}

func (r *BillRepository) queryDetails(ctx context.Context, q string, args ...any) ([]billing.BillDetail, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("bill repo: nil db")
	}
	rows, err := txn.From(ctx, r.db).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.BillDetail
	for rows.Next() {
		var d billing.BillDetail
		if err := rows.Scan(&d.ID, &d.BillID, &d.MeterReadingID, &d.MeterType, &d.Usage, &d.UnitPrice, &d.Amount, &d.PriceSource, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func insertDetail(ctx context.Context, q txn.Querier, d *billing.BillDetail) error {
	_, err := q.ExecContext(ctx, `
INSERT INTO bill_details (id, bill_id, meter_reading_id, meter_type, usage_value, unit_price, amount, price_source, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())`,
		d.ID, d.BillID, d.MeterReadingID, d.MeterType, d.Usage, d.UnitPrice, d.Amount, d.PriceSource)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBill(row rowScanner) (*billing.Bill, error) {
	var bill billing.Bill
	var raw []byte
	err := row.Scan(
		&bill.ID, &bill.ContractID, &bill.BillNumber, &bill.Type, &bill.Amount, &bill.ReceivedAmount,
		&bill.PendingAmount, &bill.BillDate, &bill.DueDate, &bill.PeriodStart, &bill.PeriodEnd, &bill.Status,
		&bill.Remark, &raw, &bill.CreatedAt, &bill.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.ErrBillNotFound
	}
	if err != nil {
		return nil, err
	}
	meta, err := billing.DecodeMetadata(raw)
	if err != nil {
		return nil, err
	}
	bill.Metadata = meta
	return &bill, nil
}

func nullBytes(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

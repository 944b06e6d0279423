package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	metering "rental-cloud/internal/metering/domain"
	"rental-cloud/internal/txn"
)

// MeterRepository persists meters in postgres.
type MeterRepository struct {
	db *sql.DB
}

// NewMeterRepository constructs a repository.
func NewMeterRepository(db *sql.DB) *MeterRepository {
	return &MeterRepository{db: db}
}

// Create inserts a meter.
func (r *MeterRepository) Create(ctx context.Context, m *metering.Meter) error {
	if r == nil || r.db == nil {
		return errors.New("meter repo: nil db")
	}
	_, err := txn.From(ctx, r.db).ExecContext(ctx, `
INSERT INTO meters (id, room_id, type, unit_price, unit, active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,now(),now())`,
		m.ID, m.RoomID, m.Type, m.UnitPrice, m.Unit, m.Active)
	return err
}

// GetByID loads a meter.
func (r *MeterRepository) GetByID(ctx context.Context, id string) (*metering.Meter, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("meter repo: nil db")
	}
	var m metering.Meter
	err := txn.From(ctx, r.db).QueryRowContext(ctx, `
SELECT id, room_id, type, unit_price, unit, active, created_at, updated_at
FROM meters
WHERE id = $1
LIMIT 1`, id).Scan(&m.ID, &m.RoomID, &m.Type, &m.UnitPrice, &m.Unit, &m.Active, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, metering.ErrMeterNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListByRoom returns the meters attached to a room.
func (r *MeterRepository) ListByRoom(ctx context.Context, roomID string) ([]metering.Meter, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("meter repo: nil db")
	}
	rows, err := txn.From(ctx, r.db).QueryContext(ctx, `
SELECT id, room_id, type, unit_price, unit, active, created_at, updated_at
FROM meters
WHERE room_id = $1
ORDER BY type`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []metering.Meter
	for rows.Next() {
		var m metering.Meter
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Type, &m.UnitPrice, &m.Unit, &m.Active, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ReadingRepository persists meter readings in postgres.
type ReadingRepository struct {
	db *sql.DB
}

// NewReadingRepository constructs a repository.
func NewReadingRepository(db *sql.DB) *ReadingRepository {
	return &ReadingRepository{db: db}
}

const readingColumns = `id, meter_id, contract_id, room_id, meter_type,
	previous_reading, current_reading, usage_value, unit_price, amount,
	status, is_billed, reading_date, created_at, updated_at`

// Create inserts a reading.
func (r *ReadingRepository) Create(ctx context.Context, reading *metering.MeterReading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	_, err := txn.From(ctx, r.db).ExecContext(ctx, `
INSERT INTO meter_readings (`+readingColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now(),now())`,
		reading.ID, reading.MeterID, reading.ContractID, reading.RoomID, reading.MeterType,
		reading.PreviousReading, reading.CurrentReading, reading.Usage, reading.UnitPrice, reading.Amount,
		reading.Status, reading.IsBilled, reading.ReadingDate)
	return err
}

// GetByID loads a reading.
func (r *ReadingRepository) GetByID(ctx context.Context, id string) (*metering.MeterReading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	row := txn.From(ctx, r.db).QueryRowContext(ctx, `
SELECT `+readingColumns+`
FROM meter_readings
WHERE id = $1
LIMIT 1`, id)
	return scanReading(row)
}

// Update overwrites a reading's mutable fields.
func (r *ReadingRepository) Update(ctx context.Context, reading *metering.MeterReading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	res, err := txn.From(ctx, r.db).ExecContext(ctx, `
UPDATE meter_readings
SET previous_reading = $2, current_reading = $3, usage_value = $4, unit_price = $5,
	amount = $6, status = $7, is_billed = $8, updated_at = now()
WHERE id = $1`,
		reading.ID, reading.PreviousReading, reading.CurrentReading, reading.Usage, reading.UnitPrice,
		reading.Amount, reading.Status, reading.IsBilled)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return metering.ErrReadingNotFound
	}
	return nil
}

// List returns all readings.
func (r *ReadingRepository) List(ctx context.Context) ([]metering.MeterReading, error) {
	return r.query(ctx, `SELECT `+readingColumns+` FROM meter_readings ORDER BY created_at`)
}

// ListByContract returns a contract's readings.
func (r *ReadingRepository) ListByContract(ctx context.Context, contractID string) ([]metering.MeterReading, error) {
	return r.query(ctx, `SELECT `+readingColumns+` FROM meter_readings WHERE contract_id = $1 ORDER BY created_at`, contractID)
}

// ListCreatedBetween returns readings created in [from, to].
func (r *ReadingRepository) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]metering.MeterReading, error) {
	return r.query(ctx, `SELECT `+readingColumns+` FROM meter_readings WHERE created_at BETWEEN $1 AND $2 ORDER BY created_at`, from, to)
}

// CountUpdatedSince counts readings updated after the given time.
func (r *ReadingRepository) CountUpdatedSince(ctx context.Context, since time.Time) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("reading repo: nil db")
	}
	var count int
	err := txn.From(ctx, r.db).QueryRowContext(ctx, `
SELECT COUNT(*) FROM meter_readings WHERE updated_at > $1`, since).Scan(&count)
	return count, err
}

func (r *ReadingRepository) query(ctx context.Context, q string, args ...any) ([]metering.MeterReading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	rows, err := txn.From(ctx, r.db).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []metering.MeterReading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *reading)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (*metering.MeterReading, error) {
	var reading metering.MeterReading
	err := row.Scan(
		&reading.ID, &reading.MeterID, &reading.ContractID, &reading.RoomID, &reading.MeterType,
		&reading.PreviousReading, &reading.CurrentReading, &reading.Usage, &reading.UnitPrice, &reading.Amount,
		&reading.Status, &reading.IsBilled, &reading.ReadingDate, &reading.CreatedAt, &reading.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, metering.ErrReadingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &reading, nil
}

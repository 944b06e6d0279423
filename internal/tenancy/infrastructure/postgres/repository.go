package postgres

import (
	"context"
	"database/sql"
	"errors"

	tenancy "rental-cloud/internal/tenancy/domain"
	"rental-cloud/internal/txn"
)

// ContractRepository persists contracts in postgres.
type ContractRepository struct {
	db *sql.DB
}

// NewContractRepository constructs a repository.
func NewContractRepository(db *sql.DB) *ContractRepository {
	return &ContractRepository{db: db}
}

const contractColumns = `id, contract_number, room_id, renter_id, start_date, end_date,
	monthly_rent, deposit, key_deposit, cleaning_fee, payment_method, status,
	signed_at, created_at, updated_at`

// Create inserts a contract.
func (r *ContractRepository) Create(ctx context.Context, c *tenancy.Contract) error {
	if r == nil || r.db == nil {
		return errors.New("contract repo: nil db")
	}
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := txn.From(ctx, r.db).ExecContext(ctx, `
INSERT INTO contracts (`+contractColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now(),now())`,
		c.ID, c.ContractNumber, c.RoomID, c.RenterID, c.StartDate, c.EndDate,
		c.MonthlyRent, c.Deposit, c.KeyDeposit, c.CleaningFee, c.PaymentMethod, c.Status,
		c.SignedAt)
	return err
}

// GetByID loads a contract.
func (r *ContractRepository) GetByID(ctx context.Context, id string) (*tenancy.Contract, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("contract repo: nil db")
	}
	row := txn.From(ctx, r.db).QueryRowContext(ctx, `
SELECT `+contractColumns+`
FROM contracts
WHERE id = $1
LIMIT 1`, id)
	return scanContract(row)
}

// Update overwrites a contract's mutable fields.
func (r *ContractRepository) Update(ctx context.Context, c *tenancy.Contract) error {
	if r == nil || r.db == nil {
		return errors.New("contract repo: nil db")
	}
	res, err := txn.From(ctx, r.db).ExecContext(ctx, `
UPDATE contracts
SET start_date = $2, end_date = $3, monthly_rent = $4, deposit = $5,
	key_deposit = $6, cleaning_fee = $7, payment_method = $8, status = $9,
	signed_at = $10, updated_at = now()
WHERE id = $1`,
		c.ID, c.StartDate, c.EndDate, c.MonthlyRent, c.Deposit,
		c.KeyDeposit, c.CleaningFee, c.PaymentMethod, c.Status, c.SignedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return tenancy.ErrContractNotFound
	}
	return nil
}

// List returns all contracts.
func (r *ContractRepository) List(ctx context.Context) ([]tenancy.Contract, error) {
	return r.query(ctx, `SELECT `+contractColumns+` FROM contracts ORDER BY created_at`)
}

// ListByStatus returns contracts in the given status.
func (r *ContractRepository) ListByStatus(ctx context.Context, status tenancy.ContractStatus) ([]tenancy.Contract, error) {
	return r.query(ctx, `SELECT `+contractColumns+` FROM contracts WHERE status = $1 ORDER BY created_at`, status)
}

// CountOccupying counts ACTIVE and PENDING contracts for a room.
func (r *ContractRepository) CountOccupying(ctx context.Context, roomID string) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("contract repo: nil db")
	}
	var count int
	err := txn.From(ctx, r.db).QueryRowContext(ctx, `
SELECT COUNT(*)
FROM contracts
WHERE room_id = $1 AND status IN ('ACTIVE','PENDING')`, roomID).Scan(&count)
	return count, err
}

func (r *ContractRepository) query(ctx context.Context, q string, args ...any) ([]tenancy.Contract, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("contract repo: nil db")
	}
	rows, err := txn.From(ctx, r.db).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tenancy.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(row rowScanner) (*tenancy.Contract, error) {
	var c tenancy.Contract
	err := row.Scan(
		&c.ID, &c.ContractNumber, &c.RoomID, &c.RenterID, &c.StartDate, &c.EndDate,
		&c.MonthlyRent, &c.Deposit, &c.KeyDeposit, &c.CleaningFee, &c.PaymentMethod, &c.Status,
		&c.SignedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenancy.ErrContractNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// RoomRepository persists rooms in postgres.
type RoomRepository struct {
	db *sql.DB
}

// NewRoomRepository constructs a repository.
func NewRoomRepository(db *sql.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

// Create inserts a room.
func (r *RoomRepository) Create(ctx context.Context, room *tenancy.Room) error {
	if r == nil || r.db == nil {
		return errors.New("room repo: nil db")
	}
	_, err := txn.From(ctx, r.db).ExecContext(ctx, `
INSERT INTO rooms (id, building_id, number, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,now(),now())`,
		room.ID, room.BuildingID, room.Number, room.Status)
	return err
}

// GetByID loads a room.
func (r *RoomRepository) GetByID(ctx context.Context, id string) (*tenancy.Room, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("room repo: nil db")
	}
	var room tenancy.Room
	err := txn.From(ctx, r.db).QueryRowContext(ctx, `
SELECT id, building_id, number, status, created_at, updated_at
FROM rooms
WHERE id = $1
LIMIT 1`, id).Scan(&room.ID, &room.BuildingID, &room.Number, &room.Status, &room.CreatedAt, &room.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenancy.ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// Update overwrites a room's status.
func (r *RoomRepository) Update(ctx context.Context, room *tenancy.Room) error {
	if r == nil || r.db == nil {
		return errors.New("room repo: nil db")
	}
	res, err := txn.From(ctx, r.db).ExecContext(ctx, `
UPDATE rooms
SET building_id = $2, number = $3, status = $4, updated_at = now()
WHERE id = $1`,
		room.ID, room.BuildingID, room.Number, room.Status)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return tenancy.ErrRoomNotFound
	}
	return nil
}

// List returns all rooms.
func (r *RoomRepository) List(ctx context.Context) ([]tenancy.Room, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("room repo: nil db")
	}
	rows, err := txn.From(ctx, r.db).QueryContext(ctx, `
SELECT id, building_id, number, status, created_at, updated_at
FROM rooms
ORDER BY number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tenancy.Room
	for rows.Next() {
		var room tenancy.Room
		if err := rows.Scan(&room.ID, &room.BuildingID, &room.Number, &room.Status, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, room)
	}
	return out, rows.Err()
}

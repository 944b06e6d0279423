package billing

import (
	"context"
	"time"
)

// Repository persists bills and their details.
type Repository interface {
	Create(ctx context.Context, bill *Bill) error
	// CreateWithDetails inserts a bill and its line items together.
	CreateWithDetails(ctx context.Context, bill *Bill, details []BillDetail) error
	GetByID(ctx context.Context, id string) (*Bill, error)
	Update(ctx context.Context, bill *Bill) error
	List(ctx context.Context) ([]Bill, error)
	ListByContract(ctx context.Context, contractID string) ([]Bill, error)
	// LatestByContractAndType returns the newest bill by bill date, or nil.
	LatestByContractAndType(ctx context.Context, contractID string, billType BillType) (*Bill, error)
	// LastCreatedAt returns the creation time of the newest bill; the zero
	// time when none exist.
	LastCreatedAt(ctx context.Context) (time.Time, error)

	AddDetail(ctx context.Context, detail *BillDetail) error
	UpdateDetail(ctx context.Context, detail *BillDetail) error
	ListDetailsByBill(ctx context.Context, billID string) ([]BillDetail, error)
	ListDetailsByReading(ctx context.Context, readingID string) ([]BillDetail, error)
	CountDetailsByReading(ctx context.Context, readingID string) (int, error)
}

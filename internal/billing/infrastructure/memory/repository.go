package memory

import (
	"context"
	"sync"
	"time"

	billing "rental-cloud/internal/billing/domain"
)

// BillRepository is an in-memory bill store.
type BillRepository struct {
	mu      sync.RWMutex
	bills   map[string]billing.Bill
	details map[string]billing.BillDetail
}

// NewBillRepository constructs a repository.
func NewBillRepository() *BillRepository {
	return &BillRepository{
		bills:   make(map[string]billing.Bill),
		details: make(map[string]billing.BillDetail),
	}
}

// Create stores a bill.
func (r *BillRepository) Create(ctx context.Context, bill *billing.Bill) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = time.Now()
	}
	r.bills[bill.ID] = *bill
	return nil
}

// CreateWithDetails stores a bill and its line items together.
func (r *BillRepository) CreateWithDetails(ctx context.Context, bill *billing.Bill, details []billing.BillDetail) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = time.Now()
	}
	r.bills[bill.ID] = *bill
	for _, d := range details {
		r.details[d.ID] = d
	}
	return nil
}

// GetByID loads a bill.
func (r *BillRepository) GetByID(ctx context.Context, id string) (*billing.Bill, error) {
	_ = ctx
	r.mu.RLock()
	bill, ok := r.bills[id]
	r.mu.RUnlock()
	if !ok {
		return nil, billing.ErrBillNotFound
	}
	copy := bill
	return &copy, nil
}

// Update overwrites a bill.
func (r *BillRepository) Update(ctx context.Context, bill *billing.Bill) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bills[bill.ID]; !ok {
		return billing.ErrBillNotFound
	}
	bill.UpdatedAt = time.Now()
	r.bills[bill.ID] = *bill
	return nil
}

// List returns all bills.
func (r *BillRepository) List(ctx context.Context) ([]billing.Bill, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]billing.Bill, 0, len(r.bills))
	for _, bill := range r.bills {
		out = append(out, bill)
	}
	return out, nil
}

// ListByContract returns a contract's bills.
func (r *BillRepository) ListByContract(ctx context.Context, contractID string) ([]billing.Bill, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []billing.Bill
	for _, bill := range r.bills {
		if bill.ContractID == contractID {
			out = append(out, bill)
		}
	}
	return out, nil
}

// LatestByContractAndType returns the newest matching bill by bill date.
func (r *BillRepository) LatestByContractAndType(ctx context.Context, contractID string, billType billing.BillType) (*billing.Bill, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *billing.Bill
	for _, bill := range r.bills {
		if bill.ContractID != contractID || bill.Type != billType {
			continue
		}
		b := bill
		if latest == nil || b.BillDate.After(latest.BillDate) {
			latest = &b
		}
	}
	return latest, nil
}

// LastCreatedAt returns the newest bill creation time.
func (r *BillRepository) LastCreatedAt(ctx context.Context) (time.Time, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var last time.Time
	for _, bill := range r.bills {
		if bill.CreatedAt.After(last) {
			last = bill.CreatedAt
		}
	}
	return last, nil
}

// AddDetail stores a line item.
func (r *BillRepository) AddDetail(ctx context.Context, detail *billing.BillDetail) error {
	_ = ctx
	r.mu.Lock()
	r.details[detail.ID] = *detail
	r.mu.Unlock()
	return nil
}

// UpdateDetail overwrites a line item.
func (r *BillRepository) UpdateDetail(ctx context.Context, detail *billing.BillDetail) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.details[detail.ID]; !ok {
		return billing.ErrDetailNotFound
	}
	r.details[detail.ID] = *detail
	return nil
}

// ListDetailsByBill returns the line items of a bill.
func (r *BillRepository) ListDetailsByBill(ctx context.Context, billID string) ([]billing.BillDetail, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []billing.BillDetail
	for _, d := range r.details {
		if d.BillID == billID {
			out = append(out, d)
		}
	}
	return out, nil
}

// ListDetailsByReading returns the line items linked to a meter reading.
func (r *BillRepository) ListDetailsByReading(ctx context.Context, readingID string) ([]billing.BillDetail, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []billing.BillDetail
	for _, d := range r.details {
		if d.MeterReadingID == readingID {
			out = append(out, d)
		}
	}
	return out, nil
}

// CountDetailsByReading counts line items linked to a meter reading.
func (r *BillRepository) CountDetailsByReading(ctx context.Context, readingID string) (int, error) {
	details, err := r.ListDetailsByReading(ctx, readingID)
	if err != nil {
		return 0, err
	}
	return len(details), nil
}

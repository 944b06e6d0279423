package billing

import (
	"errors"
	"math"
	"time"
)

// MoneyTolerance absorbs float rounding in every monetary comparison.
const MoneyTolerance = 0.01

// AmountsEqual compares two amounts within the engine-wide tolerance.
func AmountsEqual(a, b float64) bool {
	return math.Abs(a-b) <= MoneyTolerance
}

// BillType is the kind of financial obligation.
type BillType string

const (
	BillRent      BillType = "RENT"
	BillDeposit   BillType = "DEPOSIT"
	BillUtilities BillType = "UTILITIES"
	BillOther     BillType = "OTHER"
)

// Letter returns the single-character bill number marker for the type.
func (t BillType) Letter() string {
	switch t {
	case BillRent:
		return "R"
	case BillDeposit:
		return "D"
	case BillUtilities:
		return "U"
	default:
		return "O"
	}
}

// BillStatus is the payment state of a bill.
type BillStatus string

const (
	BillPending   BillStatus = "PENDING"
	BillPaid      BillStatus = "PAID"
	BillOverdue   BillStatus = "OVERDUE"
	BillCompleted BillStatus = "COMPLETED"
)

// Bill is a financial obligation derived from a contract or meter readings.
// Invariants: |PendingAmount - (Amount - ReceivedAmount)| <= MoneyTolerance,
// ReceivedAmount <= Amount, Status PAID iff PendingAmount <= MoneyTolerance.
type Bill struct {
	ID             string
	ContractID     string
	BillNumber     string
	Type           BillType
	Amount         float64
	ReceivedAmount float64
	PendingAmount  float64
	BillDate       time.Time
	DueDate        time.Time
	PeriodStart    time.Time
	PeriodEnd      time.Time
	Status         BillStatus
	Remark         string
	// Metadata carries the typed utility breakdown for UTILITIES bills;
	// nil for other types.
	Metadata  *UtilityMetadata
	CreatedAt time.Time
	UpdatedAt time.Time
}

var (
	// ErrBillNotFound is returned when a bill does not exist.
	ErrBillNotFound = errors.New("billing: bill not found")
	// ErrDetailNotFound is returned when a bill detail does not exist.
	ErrDetailNotFound = errors.New("billing: bill detail not found")
	// ErrOverpaid is returned when a payment would push received over amount.
	ErrOverpaid = errors.New("billing: received amount exceeds bill amount")
)

// RecalculatePending derives PendingAmount from Amount and ReceivedAmount.
func (b *Bill) RecalculatePending() {
	b.PendingAmount = b.Amount - b.ReceivedAmount
}

// RecalculateStatus derives the payment status from the pending amount.
// OVERDUE is preserved for unpaid bills already flagged as overdue.
func (b *Bill) RecalculateStatus() {
	if b.PendingAmount <= MoneyTolerance {
		b.Status = BillPaid
		return
	}
	if b.Status == BillOverdue {
		return
	}
	b.Status = BillPending
}

// ApplyPayment credits a received amount and resettles pending and status.
func (b *Bill) ApplyPayment(amount float64) error {
	if amount <= 0 {
		return errors.New("billing: payment must be positive")
	}
	if b.ReceivedAmount+amount > b.Amount+MoneyTolerance {
		return ErrOverpaid
	}
	b.ReceivedAmount += amount
	b.RecalculatePending()
	b.RecalculateStatus()
	return nil
}

// ConsistentAmounts reports whether the bill's monetary invariants hold.
func (b *Bill) ConsistentAmounts() bool {
	if !AmountsEqual(b.PendingAmount, b.Amount-b.ReceivedAmount) {
		return false
	}
	return b.ReceivedAmount <= b.Amount+MoneyTolerance
}

// StatusConsistent reports whether Status agrees with the pending amount.
func (b *Bill) StatusConsistent() bool {
	paid := b.PendingAmount <= MoneyTolerance
	if paid {
		return b.Status == BillPaid || b.Status == BillCompleted
	}
	return b.Status != BillPaid && b.Status != BillCompleted
}

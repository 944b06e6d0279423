package tenancy

import (
	"errors"
	"time"
)

// ContractStatus is the lifecycle state of a rental contract.
type ContractStatus string

const (
	ContractPending    ContractStatus = "PENDING"
	ContractActive     ContractStatus = "ACTIVE"
	ContractTerminated ContractStatus = "TERMINATED"
	ContractExpired    ContractStatus = "EXPIRED"
)

// Occupying reports whether the contract keeps its room occupied.
func (s ContractStatus) Occupying() bool {
	return s == ContractActive || s == ContractPending
}

// Contract is a rental agreement for one room.
type Contract struct {
	ID             string
	ContractNumber string
	RoomID         string
	RenterID       string
	StartDate      time.Time
	EndDate        time.Time
	MonthlyRent    float64
	Deposit        float64
	KeyDeposit     float64
	CleaningFee    float64
	// PaymentMethod is free text entered by staff; the billing cycle is
	// parsed from it by keyword.
	PaymentMethod string
	Status        ContractStatus
	SignedAt      time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

var (
	// ErrContractNotFound is returned when a contract does not exist.
	ErrContractNotFound = errors.New("tenancy: contract not found")
	// ErrRoomNotFound is returned when a room does not exist.
	ErrRoomNotFound = errors.New("tenancy: room not found")
)

// Validate checks contract invariants.
func (c *Contract) Validate() error {
	if c == nil {
		return errors.New("tenancy: nil contract")
	}
	if c.ID == "" {
		return errors.New("tenancy: contract missing id")
	}
	if c.ContractNumber == "" {
		return errors.New("tenancy: contract missing number")
	}
	if c.RoomID == "" {
		return errors.New("tenancy: contract missing room")
	}
	if c.MonthlyRent < 0 || c.Deposit < 0 || c.KeyDeposit < 0 || c.CleaningFee < 0 {
		return errors.New("tenancy: negative contract amount")
	}
	if !c.EndDate.IsZero() && c.EndDate.Before(c.StartDate) {
		return errors.New("tenancy: contract ends before it starts")
	}
	return nil
}

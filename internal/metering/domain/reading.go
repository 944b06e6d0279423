package metering

import (
	"time"
)

// ReadingStatus is the lifecycle state of a meter reading.
type ReadingStatus string

const (
	ReadingPending   ReadingStatus = "PENDING"
	ReadingConfirmed ReadingStatus = "CONFIRMED"
	ReadingBilled    ReadingStatus = "BILLED"
	ReadingCancelled ReadingStatus = "CANCELLED"
)

// MeterReading is one recorded meter delta.
// Invariants: CurrentReading >= PreviousReading, Usage = Current - Previous,
// Amount = Usage * UnitPrice. Status BILLED and IsBilled move together with
// the linked bill detail, atomically with bill creation.
type MeterReading struct {
	ID              string
	MeterID         string
	ContractID      string
	RoomID          string
	MeterType       MeterType
	PreviousReading float64
	CurrentReading  float64
	Usage           float64
	UnitPrice       float64
	Amount          float64
	Status          ReadingStatus
	IsBilled        bool
	ReadingDate     time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewMeterReading builds a reading, deriving usage and amount.
func NewMeterReading(id, meterID, contractID, roomID string, meterType MeterType, previous, current, unitPrice float64, readingDate time.Time) (*MeterReading, error) {
	if current < previous {
		return nil, ErrReadingRegressed
	}
	usage := current - previous
	return &MeterReading{
		ID:              id,
		MeterID:         meterID,
		ContractID:      contractID,
		RoomID:          roomID,
		MeterType:       meterType,
		PreviousReading: previous,
		CurrentReading:  current,
		Usage:           usage,
		UnitPrice:       unitPrice,
		Amount:          usage * unitPrice,
		Status:          ReadingPending,
		ReadingDate:     readingDate,
	}, nil
}

// MarkBilled flips the reading to its billed state.
func (r *MeterReading) MarkBilled() {
	r.Status = ReadingBilled
	r.IsBilled = true
}

// ResetToPending reverts the reading to an unbilled pending state.
func (r *MeterReading) ResetToPending() {
	r.Status = ReadingPending
	r.IsBilled = false
}

package metering

import (
	"errors"
	"time"
)

// MeterType is the measured utility kind.
type MeterType string

const (
	MeterElectricity MeterType = "ELECTRICITY"
	MeterColdWater   MeterType = "COLD_WATER"
	MeterHotWater    MeterType = "HOT_WATER"
	MeterGas         MeterType = "GAS"
)

// Valid reports whether the type is known.
func (t MeterType) Valid() bool {
	switch t {
	case MeterElectricity, MeterColdWater, MeterHotWater, MeterGas:
		return true
	default:
		return false
	}
}

// Meter is a utility meter attached to a room.
type Meter struct {
	ID        string
	RoomID    string
	Type      MeterType
	UnitPrice float64
	Unit      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

var (
	// ErrMeterNotFound is returned when a meter does not exist.
	ErrMeterNotFound = errors.New("metering: meter not found")
	// ErrReadingNotFound is returned when a reading does not exist.
	ErrReadingNotFound = errors.New("metering: reading not found")
	// ErrReadingRegressed is returned when the current reading is below the previous one.
	ErrReadingRegressed = errors.New("metering: current reading below previous reading")
)

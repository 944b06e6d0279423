package metering

import (
	"context"
	"time"
)

// MeterRepository persists meters.
type MeterRepository interface {
	Create(ctx context.Context, meter *Meter) error
	GetByID(ctx context.Context, id string) (*Meter, error)
	ListByRoom(ctx context.Context, roomID string) ([]Meter, error)
}

// ReadingRepository persists meter readings.
type ReadingRepository interface {
	Create(ctx context.Context, reading *MeterReading) error
	GetByID(ctx context.Context, id string) (*MeterReading, error)
	Update(ctx context.Context, reading *MeterReading) error
	List(ctx context.Context) ([]MeterReading, error)
	ListByContract(ctx context.Context, contractID string) ([]MeterReading, error)
	// ListCreatedBetween returns readings created in [from, to].
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]MeterReading, error)
	// CountUpdatedSince counts readings whose UpdatedAt is after the given time.
	CountUpdatedSince(ctx context.Context, since time.Time) (int, error)
}

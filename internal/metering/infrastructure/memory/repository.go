package memory

import (
	"context"
	"sync"
	"time"

	metering "rental-cloud/internal/metering/domain"
)

// MeterRepository is an in-memory meter store.
type MeterRepository struct {
	mu   sync.RWMutex
	data map[string]metering.Meter
}

// NewMeterRepository constructs a repository.
func NewMeterRepository() *MeterRepository {
	return &MeterRepository{data: make(map[string]metering.Meter)}
}

// Create stores a meter.
func (r *MeterRepository) Create(ctx context.Context, meter *metering.Meter) error {
	_ = ctx
	r.mu.Lock()
	r.data[meter.ID] = *meter
	r.mu.Unlock()
	return nil
}

// GetByID loads a meter.
func (r *MeterRepository) GetByID(ctx context.Context, id string) (*metering.Meter, error) {
	_ = ctx
	r.mu.RLock()
	m, ok := r.data[id]
	r.mu.RUnlock()
	if !ok {
		return nil, metering.ErrMeterNotFound
	}
	copy := m
	return &copy, nil
}

// ListByRoom returns the meters attached to a room.
func (r *MeterRepository) ListByRoom(ctx context.Context, roomID string) ([]metering.Meter, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []metering.Meter
	for _, m := range r.data {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	return out, nil
}

// ReadingRepository is an in-memory meter reading store.
type ReadingRepository struct {
	mu   sync.RWMutex
	data map[string]metering.MeterReading
}

// NewReadingRepository constructs a repository.
func NewReadingRepository() *ReadingRepository {
	return &ReadingRepository{data: make(map[string]metering.MeterReading)}
}

// Create stores a reading.
func (r *ReadingRepository) Create(ctx context.Context, reading *metering.MeterReading) error {
	_ = ctx
	r.mu.Lock()
	r.data[reading.ID] = *reading
	r.mu.Unlock()
	return nil
}

// GetByID loads a reading.
func (r *ReadingRepository) GetByID(ctx context.Context, id string) (*metering.MeterReading, error) {
	_ = ctx
	r.mu.RLock()
	reading, ok := r.data[id]
	r.mu.RUnlock()
	if !ok {
		return nil, metering.ErrReadingNotFound
	}
	copy := reading
	return &copy, nil
}

// Update overwrites a reading.
func (r *ReadingRepository) Update(ctx context.Context, reading *metering.MeterReading) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[reading.ID]; !ok {
		return metering.ErrReadingNotFound
	}
	reading.UpdatedAt = time.Now()
	r.data[reading.ID] = *reading
	return nil
}

// List returns all readings.
func (r *ReadingRepository) List(ctx context.Context) ([]metering.MeterReading, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]metering.MeterReading, 0, len(r.data))
	for _, reading := range r.data {
		out = append(out, reading)
	}
	return out, nil
}

// ListByContract returns readings that belong to a contract.
func (r *ReadingRepository) ListByContract(ctx context.Context, contractID string) ([]metering.MeterReading, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []metering.MeterReading
	for _, reading := range r.data {
		if reading.ContractID == contractID {
			out = append(out, reading)
		}
	}
	return out, nil
}

// ListCreatedBetween returns readings created in [from, to].
func (r *ReadingRepository) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]metering.MeterReading, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []metering.MeterReading
	for _, reading := range r.data {
		if !reading.CreatedAt.Before(from) && !reading.CreatedAt.After(to) {
			out = append(out, reading)
		}
	}
	return out, nil
}

// CountUpdatedSince counts readings updated after the given time.
func (r *ReadingRepository) CountUpdatedSince(ctx context.Context, since time.Time) (int, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, reading := range r.data {
		if reading.UpdatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

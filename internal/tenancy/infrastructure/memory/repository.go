package memory

import (
	"context"
	"sync"

	tenancy "rental-cloud/internal/tenancy/domain"
)

// ContractRepository is an in-memory contract store.
type ContractRepository struct {
	mu   sync.RWMutex
	data map[string]tenancy.Contract
}

// NewContractRepository constructs a repository.
func NewContractRepository() *ContractRepository {
	return &ContractRepository{data: make(map[string]tenancy.Contract)}
}

// Create stores a contract.
func (r *ContractRepository) Create(ctx context.Context, contract *tenancy.Contract) error {
	_ = ctx
	if err := contract.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.data[contract.ID] = *contract
	r.mu.Unlock()
	return nil
}

// GetByID loads a contract.
func (r *ContractRepository) GetByID(ctx context.Context, id string) (*tenancy.Contract, error) {
	_ = ctx
	r.mu.RLock()
	c, ok := r.data[id]
	r.mu.RUnlock()
	if !ok {
		return nil, tenancy.ErrContractNotFound
	}
	copy := c
	return &copy, nil
}

// Update overwrites a contract.
func (r *ContractRepository) Update(ctx context.Context, contract *tenancy.Contract) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[contract.ID]; !ok {
		return tenancy.ErrContractNotFound
	}
	r.data[contract.ID] = *contract
	return nil
}

// List returns all contracts.
func (r *ContractRepository) List(ctx context.Context) ([]tenancy.Contract, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]tenancy.Contract, 0, len(r.data))
	for _, c := range r.data {
		out = append(out, c)
	}
	return out, nil
}

// ListByStatus returns contracts in the given status.
func (r *ContractRepository) ListByStatus(ctx context.Context, status tenancy.ContractStatus) ([]tenancy.Contract, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []tenancy.Contract
	for _, c := range r.data {
		if c.Status == status {
			out = append(out, c)
		}
	}
	return out, nil
}

// CountOccupying counts ACTIVE and PENDING contracts for a room.
func (r *ContractRepository) CountOccupying(ctx context.Context, roomID string) (int, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, c := range r.data {
		if c.RoomID == roomID && c.Status.Occupying() {
			count++
		}
	}
	return count, nil
}

// RoomRepository is an in-memory room store.
type RoomRepository struct {
	mu   sync.RWMutex
	data map[string]tenancy.Room
}

// NewRoomRepository constructs a repository.
func NewRoomRepository() *RoomRepository {
	return &RoomRepository{data: make(map[string]tenancy.Room)}
}

// Create stores a room.
func (r *RoomRepository) Create(ctx context.Context, room *tenancy.Room) error {
	_ = ctx
	r.mu.Lock()
	r.data[room.ID] = *room
	r.mu.Unlock()
	return nil
}

// GetByID loads a room.
func (r *RoomRepository) GetByID(ctx context.Context, id string) (*tenancy.Room, error) {
	_ = ctx
	r.mu.RLock()
	room, ok := r.data[id]
	r.mu.RUnlock()
	if !ok {
		return nil, tenancy.ErrRoomNotFound
	}
	copy := room
	return &copy, nil
}

// Update overwrites a room.
func (r *RoomRepository) Update(ctx context.Context, room *tenancy.Room) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[room.ID]; !ok {
		return tenancy.ErrRoomNotFound
	}
	r.data[room.ID] = *room
	return nil
}

// List returns all rooms.
func (r *RoomRepository) List(ctx context.Context) ([]tenancy.Room, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]tenancy.Room, 0, len(r.data))
	for _, room := range r.data {
		out = append(out, room)
	}
	return out, nil
}

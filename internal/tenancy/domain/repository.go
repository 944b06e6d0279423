package tenancy

import "context"

// ContractRepository persists contracts.
type ContractRepository interface {
	Create(ctx context.Context, contract *Contract) error
	GetByID(ctx context.Context, id string) (*Contract, error)
	Update(ctx context.Context, contract *Contract) error
	List(ctx context.Context) ([]Contract, error)
	ListByStatus(ctx context.Context, status ContractStatus) ([]Contract, error)
	// CountOccupying counts ACTIVE and PENDING contracts for a room.
	CountOccupying(ctx context.Context, roomID string) (int, error)
}

// RoomRepository persists rooms.
type RoomRepository interface {
	Create(ctx context.Context, room *Room) error
	GetByID(ctx context.Context, id string) (*Room, error)
	Update(ctx context.Context, room *Room) error
	List(ctx context.Context) ([]Room, error)
}

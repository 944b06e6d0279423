package tenancy

import "time"

// RoomStatus is the occupancy state of a room.
type RoomStatus string

const (
	RoomVacant      RoomStatus = "VACANT"
	RoomOccupied    RoomStatus = "OCCUPIED"
	RoomOverdue     RoomStatus = "OVERDUE"
	RoomMaintenance RoomStatus = "MAINTENANCE"
)

// Room is a rentable unit inside a building.
// Invariant: OCCUPIED iff an ACTIVE or PENDING contract references it.
type Room struct {
	ID         string
	BuildingID string
	Number     string
	Status     RoomStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

package ward

import (
	"time"

	"github.com/google/uuid"
)

type RoomType string

const (
	RoomGeneral   RoomType = "General"
	RoomICU       RoomType = "ICU"
	RoomPrivate   RoomType = "Private"
	RoomEmergency RoomType = "Emergency"
)

var validRoomTypes = map[RoomType]bool{
	RoomGeneral:   true,
	RoomICU:       true,
	RoomPrivate:   true,
	RoomEmergency: true,
}

func (t RoomType) Valid() bool {
	return validRoomTypes[t]
}

type Department struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Room is a bed-holding unit. Capacity is a ceiling checked against
// overlapping admissions; it never changes as patients are admitted.
type Room struct {
	ID             uuid.UUID `json:"id"`
	DepartmentID   uuid.UUID `json:"department_id"`
	DepartmentName string    `json:"department_name,omitempty"`
	Number         string    `json:"number"`
	RoomType       RoomType  `json:"room_type"`
	Capacity       int       `json:"capacity"`
	PricePerNight  float64   `json:"price_per_night"`
	CreatedAt      time.Time `json:"created_at"`
}

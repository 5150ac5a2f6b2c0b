package admission

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/admissions/internal/domain/ward"
)

type RoomOccupancy struct {
	RoomID           uuid.UUID     `json:"room_id"`
	Number           string        `json:"number"`
	RoomType         ward.RoomType `json:"room_type"`
	DepartmentID     uuid.UUID     `json:"department_id"`
	DepartmentName   string        `json:"department_name,omitempty"`
	Capacity         int           `json:"capacity"`
	CurrentOccupancy int           `json:"current_occupancy"`
	AvailableBeds    int           `json:"available_beds"`
	// Nil when the room has no beds.
	OccupancyPercentage *float64 `json:"occupancy_percentage"`
}

type OccupancySummary struct {
	Rooms               int      `json:"rooms"`
	TotalCapacity       int      `json:"total_capacity"`
	CurrentOccupancy    int      `json:"current_occupancy"`
	AvailableBeds       int      `json:"available_beds"`
	OccupancyPercentage *float64 `json:"occupancy_percentage"`
}

type OccupancyReport struct {
	At      time.Time        `json:"at"`
	Rooms   []RoomOccupancy  `json:"rooms"`
	Summary OccupancySummary `json:"summary"`
}

// ComputeOccupancy counts, per room, the admissions active at at. It is pure:
// callers supply the rooms and admissions.
func ComputeOccupancy(rooms []*ward.Room, admissions []*Admission, at time.Time) *OccupancyReport {
	active := make(map[uuid.UUID]int, len(rooms))
	for _, a := range admissions {
		if a.IsActiveAt(at) {
			active[a.RoomID]++
		}
	}

	report := &OccupancyReport{At: at, Rooms: make([]RoomOccupancy, 0, len(rooms))}
	for _, r := range rooms {
		occ := active[r.ID]
		ro := RoomOccupancy{
			RoomID:              r.ID,
			Number:              r.Number,
			RoomType:            r.RoomType,
			DepartmentID:        r.DepartmentID,
			DepartmentName:      r.DepartmentName,
			Capacity:            r.Capacity,
			CurrentOccupancy:    occ,
			AvailableBeds:       availableBeds(r.Capacity, occ),
			OccupancyPercentage: percentage(occ, r.Capacity),
		}
		report.Rooms = append(report.Rooms, ro)

		report.Summary.Rooms++
		report.Summary.TotalCapacity += ro.Capacity
		report.Summary.CurrentOccupancy += ro.CurrentOccupancy
		report.Summary.AvailableBeds += ro.AvailableBeds
	}
	report.Summary.OccupancyPercentage = percentage(report.Summary.CurrentOccupancy, report.Summary.TotalCapacity)
	return report
}

func availableBeds(capacity, occupancy int) int {
	if free := capacity - occupancy; free > 0 {
		return free
	}
	return 0
}

func percentage(occupancy, capacity int) *float64 {
	if capacity <= 0 {
		return nil
	}
	p := float64(occupancy) / float64(capacity) * 100
	return &p
}

package admission

import (
	"time"

	"github.com/google/uuid"
)

// Interval is [Start, End). A nil End extends to +inf.
type Interval struct {
	Start time.Time
	End   *time.Time
}

// Overlaps reports whether i and o share at least one instant:
// i.Start < o.End && o.Start < i.End.
func (i Interval) Overlaps(o Interval) bool {
	return startsBefore(i.Start, o.End) && startsBefore(o.Start, i.End)
}

// EndsAfter reports whether i reaches later than o. An unbounded end is
// later than any bounded one.
func (i Interval) EndsAfter(o Interval) bool {
	switch {
	case i.End == nil:
		return o.End != nil
	case o.End == nil:
		return false
	default:
		return i.End.After(*o.End)
	}
}

func (i Interval) Valid() bool {
	return i.End == nil || i.End.After(i.Start)
}

func startsBefore(start time.Time, end *time.Time) bool {
	return end == nil || start.Before(*end)
}

// CountOverlapping counts admissions in roomID whose stay overlaps candidate,
// skipping exclude. Pass uuid.Nil to count every admission.
func CountOverlapping(admissions []*Admission, roomID uuid.UUID, candidate Interval, exclude uuid.UUID) int {
	n := 0
	for _, a := range admissions {
		if a.RoomID != roomID || (exclude != uuid.Nil && a.ID == exclude) {
			continue
		}
		if a.Interval().Overlaps(candidate) {
			n++
		}
	}
	return n
}

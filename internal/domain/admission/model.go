package admission

import (
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StateActive     State = "Active"
	StateDischarged State = "Discharged"
)

// Admission is a patient's stay in one room under one nurse. A nil
// DischargeDate means the stay is open-ended.
type Admission struct {
	ID            uuid.UUID  `json:"id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	RoomID        uuid.UUID  `json:"room_id"`
	NurseID       uuid.UUID  `json:"nurse_id"`
	DoctorID      uuid.UUID  `json:"doctor_id"`
	AdmissionDate time.Time  `json:"admission_date"`
	DischargeDate *time.Time `json:"discharge_date"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	// Filled on read paths only.
	State          State  `json:"state,omitempty"`
	DepartmentName string `json:"department_name,omitempty"`
}

// Interval returns the stay as a half-open interval.
func (a *Admission) Interval() Interval {
	return Interval{Start: a.AdmissionDate, End: a.DischargeDate}
}

// IsActiveAt reports whether the admission covers instant t:
// admission_date <= t < discharge_date.
func (a *Admission) IsActiveAt(t time.Time) bool {
	return !a.AdmissionDate.After(t) && (a.DischargeDate == nil || a.DischargeDate.After(t))
}

// IsOpenAt reports whether the admission has not been discharged by t.
// Stays scheduled to start after t are open.
func (a *Admission) IsOpenAt(t time.Time) bool {
	return a.DischargeDate == nil || a.DischargeDate.After(t)
}

// StateAt derives the lifecycle state. Discharged is terminal.
func (a *Admission) StateAt(t time.Time) State {
	if a.IsOpenAt(t) {
		return StateActive
	}
	return StateDischarged
}

type EventType string

const (
	EventAdmitted         EventType = "admitted"
	EventReassigned       EventType = "reassigned"
	EventDischargeUpdated EventType = "discharge_updated"
)

// Event is an immutable record of one admission transition.
type Event struct {
	ID             uuid.UUID  `json:"id"`
	AdmissionID    uuid.UUID  `json:"admission_id"`
	Type           EventType  `json:"type"`
	ActorID        uuid.UUID  `json:"actor_id"`
	PreviousRoomID *uuid.UUID `json:"previous_room_id,omitempty"`
	RoomID         uuid.UUID  `json:"room_id"`
	NurseID        uuid.UUID  `json:"nurse_id"`
	DischargeDate  *time.Time `json:"discharge_date"`
	CreatedAt      time.Time  `json:"created_at"`
}

package admission

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Admission) error
	GetByID(ctx context.Context, id uuid.UUID) (*Admission, error)
	Update(ctx context.Context, a *Admission) error
	List(ctx context.Context, limit, offset int) ([]*Admission, int, error)
	ListByNurse(ctx context.Context, nurseID uuid.UUID, limit, offset int) ([]*Admission, int, error)
	ListActiveAt(ctx context.Context, at time.Time) ([]*Admission, error)

	// CountOverlapping counts admissions in roomID overlapping iv, ignoring
	// excludeID (uuid.Nil ignores none).
	CountOverlapping(ctx context.Context, roomID uuid.UUID, iv Interval, excludeID uuid.UUID) (int, error)
	// CountPatientOverlapping counts the patient's admissions overlapping iv.
	CountPatientOverlapping(ctx context.Context, patientID uuid.UUID, iv Interval, excludeID uuid.UUID) (int, error)
	// HasOpenForPatient reports whether the patient has an admission not yet
	// discharged at now.
	HasOpenForPatient(ctx context.Context, patientID uuid.UUID, now time.Time, excludeID uuid.UUID) (bool, error)

	// Audit events
	AddEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, admissionID uuid.UUID) ([]*Event, error)

	// Lock takes transaction-scoped locks on keys; must run inside a transaction.
	Lock(ctx context.Context, keys ...string) error
}

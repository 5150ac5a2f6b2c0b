package identity

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patient table. Read-only for scheduling.
type Patient struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	UserID             *string    `db:"user_id" json:"user_id,omitempty"`
	FirstName          string     `db:"first_name" json:"first_name"`
	LastName           string     `db:"last_name" json:"last_name"`
	BloodType          *string    `db:"blood_type" json:"blood_type,omitempty"`
	EmergencyContactID *uuid.UUID `db:"emergency_contact_id" json:"emergency_contact_id,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
}

type StaffType string

const (
	StaffNurse      StaffType = "Nurse"
	StaffDoctor     StaffType = "Doctor"
	StaffPharmacist StaffType = "Pharmacist"
	StaffAdmin      StaffType = "Admin"
)

func (t StaffType) Valid() bool {
	switch t {
	case StaffNurse, StaffDoctor, StaffPharmacist, StaffAdmin:
		return true
	}
	return false
}

// Staff maps to the staff table. UserID links the record to the identity
// provider subject.
type Staff struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"user_id"`
	FirstName        string     `db:"first_name" json:"first_name"`
	LastName         string     `db:"last_name" json:"last_name"`
	StaffType        StaffType  `db:"staff_type" json:"staff_type"`
	DepartmentID     *uuid.UUID `db:"department_id" json:"department_id,omitempty"`
	EmploymentStatus string     `db:"employment_status" json:"employment_status"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// IsNurse reports whether the staff member may be assigned to a room.
func (s *Staff) IsNurse() bool {
	return s != nil && s.StaffType == StaffNurse
}

// CanManageAdmissions reports whether the staff member may create or
// change admissions.
func (s *Staff) CanManageAdmissions() bool {
	return s != nil && (s.StaffType == StaffDoctor || s.StaffType == StaffAdmin)
}

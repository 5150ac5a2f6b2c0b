package admission

import "errors"

// Validation failures: the caller must correct the request.
var (
	ErrMissingField    = errors.New("missing required field")
	ErrInvalidInterval = errors.New("discharge_date must be after admission_date")
	ErrPatientNotFound = errors.New("patient not found")
	ErrRoomNotFound    = errors.New("room not found")
	ErrInvalidNurse    = errors.New("nurse_id must reference a staff member of type Nurse")
)

// Business-rule conflicts. The messages are shown to users verbatim.
var (
	ErrRoomOverCapacity       = errors.New("Room would be over capacity.")
	ErrPatientAlreadyAdmitted = errors.New("Patient is already admitted.")
	ErrAdmissionClosed        = errors.New("admission is discharged and can no longer be changed")
)

var (
	ErrAdmissionNotFound = errors.New("admission not found")
	ErrForbidden         = errors.New("forbidden")
	ErrUnauthenticated   = errors.New("authentication required")
)

func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidInterval) ||
		errors.Is(err, ErrPatientNotFound) ||
		errors.Is(err, ErrRoomNotFound) ||
		errors.Is(err, ErrInvalidNurse)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrRoomOverCapacity) ||
		errors.Is(err, ErrPatientAlreadyAdmitted) ||
		errors.Is(err, ErrAdmissionClosed)
}

package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

type PatientRepository interface {
	CreatePatient(ctx context.Context, p *Patient) error
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
}

type StaffRepository interface {
	CreateStaff(ctx context.Context, s *Staff) error
	GetStaff(ctx context.Context, id uuid.UUID) (*Staff, error)
	GetStaffByUserID(ctx context.Context, userID string) (*Staff, error)
	ListStaffByType(ctx context.Context, staffType StaffType, limit, offset int) ([]*Staff, int, error)
}

type Repository interface {
	PatientRepository
	StaffRepository
}

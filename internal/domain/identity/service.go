package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/admissions/internal/platform/db"
)

// ErrInvalid marks bad caller input.
var ErrInvalid = errors.New("invalid staff record")

// Directory answers existence and type questions about patients and staff.
type Directory struct {
	repo Repository
}

func NewDirectory(repo Repository) *Directory {
	return &Directory{repo: repo}
}

func (d *Directory) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return d.repo.GetPatient(ctx, id)
}

func (d *Directory) GetStaff(ctx context.Context, id uuid.UUID) (*Staff, error) {
	return d.repo.GetStaff(ctx, id)
}

// StaffForUser resolves the staff profile behind an authenticated user id.
func (d *Directory) StaffForUser(ctx context.Context, userID string) (*Staff, error) {
	if userID == "" {
		return nil, ErrNotFound
	}
	return d.repo.GetStaffByUserID(ctx, userID)
}

func (d *Directory) ListNurses(ctx context.Context, limit, offset int) ([]*Staff, int, error) {
	return d.repo.ListStaffByType(ctx, StaffNurse, limit, offset)
}

func (d *Directory) CreatePatient(ctx context.Context, p *Patient) error {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("%w: first_name and last_name are required", ErrInvalid)
	}
	return d.repo.CreatePatient(ctx, p)
}

func (d *Directory) CreateStaff(ctx context.Context, s *Staff) error {
	s.UserID = strings.TrimSpace(s.UserID)
	if s.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalid)
	}
	if !s.StaffType.Valid() {
		return fmt.Errorf("%w: unknown staff_type %q", ErrInvalid, s.StaffType)
	}
	if strings.TrimSpace(s.FirstName) == "" || strings.TrimSpace(s.LastName) == "" {
		return fmt.Errorf("%w: first_name and last_name are required", ErrInvalid)
	}
	if err := d.repo.CreateStaff(ctx, s); err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("%w: user %s already has a staff profile", ErrInvalid, s.UserID)
		}
		return err
	}
	return nil
}

package ward

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/admissions/internal/platform/db"
)

type validationError string

func (e validationError) Error() string { return string(e) }

func invalidf(format string, args ...interface{}) error {
	return validationError(fmt.Sprintf(format, args...))
}

// IsValidation reports whether err was caused by bad caller input.
func IsValidation(err error) bool {
	var v validationError
	return errors.As(err, &v)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateDepartment(ctx context.Context, d *Department) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return invalidf("name is required")
	}
	if err := s.repo.CreateDepartment(ctx, d); err != nil {
		if db.IsUniqueViolation(err) {
			return invalidf("department %q already exists", d.Name)
		}
		return err
	}
	return nil
}

func (s *Service) ListDepartments(ctx context.Context) ([]*Department, error) {
	return s.repo.ListDepartments(ctx)
}

func (s *Service) CreateRoom(ctx context.Context, r *Room) error {
	if r.DepartmentID == uuid.Nil {
		return invalidf("department_id is required")
	}
	r.Number = strings.TrimSpace(r.Number)
	if r.Number == "" {
		return invalidf("number is required")
	}
	if !r.RoomType.Valid() {
		return invalidf("invalid room_type: %q", r.RoomType)
	}
	if r.Capacity < 0 {
		return invalidf("capacity must be >= 0")
	}
	if r.PricePerNight < 0 {
		return invalidf("price_per_night must be >= 0")
	}

	dept, err := s.repo.GetDepartment(ctx, r.DepartmentID)
	if errors.Is(err, ErrNotFound) {
		return invalidf("department %s does not exist", r.DepartmentID)
	}
	if err != nil {
		return err
	}
	r.DepartmentName = dept.Name

	if err := s.repo.CreateRoom(ctx, r); err != nil {
		if db.IsUniqueViolation(err) {
			return invalidf("room %s already exists in %s", r.Number, dept.Name)
		}
		return err
	}
	return nil
}

func (s *Service) GetRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	return s.repo.GetRoom(ctx, id)
}

func (s *Service) ListRooms(ctx context.Context, limit, offset int) ([]*Room, int, error) {
	return s.repo.ListRooms(ctx, limit, offset)
}

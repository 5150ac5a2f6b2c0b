package identity

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
)

// -- Mock Repository --

type mockRepo struct {
	patients map[uuid.UUID]*Patient
	staff    map[uuid.UUID]*Staff
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		patients: make(map[uuid.UUID]*Patient),
		staff:    make(map[uuid.UUID]*Staff),
	}
}

func (m *mockRepo) CreatePatient(_ context.Context, p *Patient) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	m.patients[p.ID] = p
	return nil
}

func (m *mockRepo) GetPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockRepo) CreateStaff(_ context.Context, s *Staff) error {
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	m.staff[s.ID] = s
	return nil
}

func (m *mockRepo) GetStaff(_ context.Context, id uuid.UUID) (*Staff, error) {
	s, ok := m.staff[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *mockRepo) GetStaffByUserID(_ context.Context, userID string) (*Staff, error) {
	for _, s := range m.staff {
		if s.UserID == userID {
			return s, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) ListStaffByType(_ context.Context, staffType StaffType, limit, offset int) ([]*Staff, int, error) {
	var out []*Staff
	for _, s := range m.staff {
		if s.StaffType == staffType {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastName < out[j].LastName })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func newTestDirectory() *Directory {
	return NewDirectory(newMockRepo())
}

// -- Tests --

func TestStaffType_Valid(t *testing.T) {
	for _, st := range []StaffType{StaffNurse, StaffDoctor, StaffPharmacist, StaffAdmin} {
		if !st.Valid() {
			t.Errorf("%s should be valid", st)
		}
	}
	if StaffType("Janitor").Valid() {
		t.Error("Janitor should not be valid")
	}
}

func TestStaff_Capabilities(t *testing.T) {
	tests := []struct {
		staffType StaffType
		nurse     bool
		manage    bool
	}{
		{StaffNurse, true, false},
		{StaffDoctor, false, true},
		{StaffAdmin, false, true},
		{StaffPharmacist, false, false},
	}
	for _, tt := range tests {
		s := &Staff{StaffType: tt.staffType}
		if s.IsNurse() != tt.nurse {
			t.Errorf("%s IsNurse = %v", tt.staffType, s.IsNurse())
		}
		if s.CanManageAdmissions() != tt.manage {
			t.Errorf("%s CanManageAdmissions = %v", tt.staffType, s.CanManageAdmissions())
		}
	}

	var nilStaff *Staff
	if nilStaff.IsNurse() || nilStaff.CanManageAdmissions() {
		t.Error("nil staff has no capabilities")
	}
}

func TestCreateStaff_Validation(t *testing.T) {
	dir := newTestDirectory()

	tests := []struct {
		name  string
		staff Staff
	}{
		{"missing user", Staff{StaffType: StaffNurse, FirstName: "A", LastName: "B"}},
		{"bad type", Staff{UserID: "u1", StaffType: "Porter", FirstName: "A", LastName: "B"}},
		{"missing name", Staff{UserID: "u1", StaffType: StaffNurse}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.staff
			if err := dir.CreateStaff(context.Background(), &s); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestStaffForUser(t *testing.T) {
	dir := newTestDirectory()
	ctx := context.Background()

	doc := &Staff{UserID: "user-doc", StaffType: StaffDoctor, FirstName: "Gregory", LastName: "House"}
	if err := dir.CreateStaff(ctx, doc); err != nil {
		t.Fatalf("create staff: %v", err)
	}

	got, err := dir.StaffForUser(ctx, "user-doc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != doc.ID {
		t.Errorf("resolved wrong staff: %v", got.ID)
	}

	if _, err := dir.StaffForUser(ctx, "unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := dir.StaffForUser(ctx, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for empty user, got %v", err)
	}
}

func TestListNurses(t *testing.T) {
	dir := newTestDirectory()
	ctx := context.Background()

	dir.CreateStaff(ctx, &Staff{UserID: "n1", StaffType: StaffNurse, FirstName: "A", LastName: "Zed"})
	dir.CreateStaff(ctx, &Staff{UserID: "n2", StaffType: StaffNurse, FirstName: "B", LastName: "Young"})
	dir.CreateStaff(ctx, &Staff{UserID: "d1", StaffType: StaffDoctor, FirstName: "C", LastName: "Doc"})

	nurses, total, err := dir.ListNurses(ctx, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || len(nurses) != 2 {
		t.Fatalf("expected 2 nurses, got %d", total)
	}
	if nurses[0].LastName != "Young" {
		t.Errorf("expected sorted by last name, got %s", nurses[0].LastName)
	}
}

func TestCreatePatient(t *testing.T) {
	dir := newTestDirectory()
	ctx := context.Background()

	if err := dir.CreatePatient(ctx, &Patient{FirstName: " "}); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}

	p := &Patient{FirstName: "Ada", LastName: "Lovelace"}
	if err := dir.CreatePatient(ctx, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := dir.GetPatient(ctx, p.ID)
	if err != nil || got.LastName != "Lovelace" {
		t.Errorf("patient not stored: %v %v", got, err)
	}
}

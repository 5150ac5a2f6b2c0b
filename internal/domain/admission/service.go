package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/admissions/internal/domain/identity"
	"github.com/ehr/admissions/internal/domain/ward"
	"github.com/ehr/admissions/internal/platform/auth"
	"github.com/ehr/admissions/internal/platform/cache"
	"github.com/ehr/admissions/internal/platform/db"
	"github.com/ehr/admissions/internal/platform/events"
)

// RoomDirectory is the slice of the ward repository the manager reads.
type RoomDirectory interface {
	GetRoom(ctx context.Context, id uuid.UUID) (*ward.Room, error)
	ListAllRooms(ctx context.Context) ([]*ward.Room, error)
}

type PeopleDirectory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
	GetStaff(ctx context.Context, id uuid.UUID) (*identity.Staff, error)
}

type AdmitRequest struct {
	PatientID     uuid.UUID  `json:"patient_id"`
	RoomID        uuid.UUID  `json:"room_id"`
	NurseID       uuid.UUID  `json:"nurse_id"`
	AdmissionDate *time.Time `json:"admission_date"`
	DischargeDate *time.Time `json:"discharge_date"`
}

type AssignRequest struct {
	AdmissionID uuid.UUID `json:"admission_id"`
	NurseID     uuid.UUID `json:"nurse_id"`
	RoomID      uuid.UUID `json:"room_id"`
}

type UpdateRequest struct {
	DischargeDate *time.Time `json:"discharge_date"`
	NurseID       *uuid.UUID `json:"nurse_id"`
}

const occupancyCacheKey = "occupancy:"

// Manager owns every admission state transition. Each mutation runs in one
// transaction holding advisory locks on the rooms and patients it checks,
// so the capacity and one-admission-per-patient rules hold under
// concurrent requests.
type Manager struct {
	repo   Repository
	rooms  RoomDirectory
	people PeopleDirectory
	tx     db.Transactor
	logger zerolog.Logger

	cache    cache.Cache
	cacheTTL time.Duration
	pub      events.Publisher

	// genMu guards gens, a per-facility write counter. Occupancy only
	// stores a snapshot when no write committed while it was computed.
	genMu sync.Mutex
	gens  map[string]uint64

	now func() time.Time
}

func NewManager(repo Repository, rooms RoomDirectory, people PeopleDirectory, tx db.Transactor, logger zerolog.Logger) *Manager {
	return &Manager{
		repo:   repo,
		rooms:  rooms,
		people: people,
		tx:     tx,
		logger: logger.With().Str("component", "admission").Logger(),
		cache:  cache.Noop{},
		pub:    events.Noop{},
		gens:   map[string]uint64{},
		now:    time.Now,
	}
}

// SetCache enables the occupancy snapshot cache. A zero ttl disables it.
func (m *Manager) SetCache(c cache.Cache, ttl time.Duration) {
	if c == nil {
		c = cache.Noop{}
	}
	m.cache = c
	m.cacheTTL = ttl
}

func (m *Manager) SetPublisher(p events.Publisher) {
	if p == nil {
		p = events.Noop{}
	}
	m.pub = p
}

// Lock keys. Callers holding several always take them in ascending key
// order: admission, then patient, then room.
func admissionKey(id uuid.UUID) string { return "admission:" + id.String() }

func patientKey(id uuid.UUID) string { return "patient:" + id.String() }

func roomKey(id uuid.UUID) string { return "room:" + id.String() }

// Admit books a patient into a room under a nurse. The acting doctor is
// recorded as the admission's doctor. Checks run in a fixed order so the
// first failure reported is stable: patient, room, nurse, room capacity,
// then the patient's other stays.
func (m *Manager) Admit(ctx context.Context, req AdmitRequest, actor *identity.Staff) (*Admission, error) {
	if err := requireManager(actor); err != nil {
		return nil, err
	}
	if req.PatientID == uuid.Nil || req.RoomID == uuid.Nil || req.NurseID == uuid.Nil || req.AdmissionDate == nil {
		return nil, fmt.Errorf("%w: patient_id, room_id, nurse_id and admission_date are required", ErrMissingField)
	}

	now := m.now().UTC()
	a := &Admission{
		PatientID:     req.PatientID,
		RoomID:        req.RoomID,
		NurseID:       req.NurseID,
		DoctorID:      actor.ID,
		AdmissionDate: req.AdmissionDate.UTC(),
		DischargeDate: req.DischargeDate,
	}
	if !a.Interval().Valid() {
		return nil, ErrInvalidInterval
	}

	var evt *Event
	err := m.tx.InTx(ctx, func(ctx context.Context) error {
		if err := m.repo.Lock(ctx, patientKey(a.PatientID), roomKey(a.RoomID)); err != nil {
			return err
		}
		if _, err := m.people.GetPatient(ctx, a.PatientID); err != nil {
			return notFoundAs(err, identity.ErrNotFound, ErrPatientNotFound)
		}
		room, err := m.loadRoom(ctx, a.RoomID)
		if err != nil {
			return err
		}
		if err := m.checkNurse(ctx, a.NurseID); err != nil {
			return err
		}
		if err := m.checkCapacity(ctx, room, a); err != nil {
			return err
		}
		if err := m.checkPatientFree(ctx, a, now); err != nil {
			return err
		}
		if err := m.repo.Create(ctx, a); err != nil {
			return mapConstraint(err)
		}
		evt = &Event{AdmissionID: a.ID, Type: EventAdmitted, ActorID: actor.ID,
			RoomID: a.RoomID, NurseID: a.NurseID, DischargeDate: a.DischargeDate}
		return m.repo.AddEvent(ctx, evt)
	})
	if err != nil {
		return nil, err
	}

	m.afterCommit(ctx, evt, a)
	a.State = a.StateAt(now)
	return a, nil
}

// AssignNurseAndRoom moves an admission to a new nurse and room. A room
// change is checked against the destination's capacity for the whole stay.
func (m *Manager) AssignNurseAndRoom(ctx context.Context, req AssignRequest, actor *identity.Staff) (*Admission, error) {
	if err := requireManager(actor); err != nil {
		return nil, err
	}
	if req.AdmissionID == uuid.Nil || req.NurseID == uuid.Nil || req.RoomID == uuid.Nil {
		return nil, fmt.Errorf("%w: admission_id, nurse_id and room_id are required", ErrMissingField)
	}

	now := m.now().UTC()
	var (
		a   *Admission
		evt *Event
	)
	err := m.tx.InTx(ctx, func(ctx context.Context) error {
		if err := m.repo.Lock(ctx, admissionKey(req.AdmissionID)); err != nil {
			return err
		}
		var err error
		if a, err = m.repo.GetByID(ctx, req.AdmissionID); err != nil {
			return err
		}
		if err := m.checkNurse(ctx, req.NurseID); err != nil {
			return err
		}

		prevRoom := a.RoomID
		if req.RoomID != prevRoom {
			if a.StateAt(now) == StateDischarged {
				return ErrAdmissionClosed
			}
			if err := m.repo.Lock(ctx, roomKey(req.RoomID)); err != nil {
				return err
			}
			room, err := m.loadRoom(ctx, req.RoomID)
			if err != nil {
				return err
			}
			a.RoomID = req.RoomID
			if err := m.checkCapacity(ctx, room, a); err != nil {
				return err
			}
		}
		a.NurseID = req.NurseID

		if err := m.repo.Update(ctx, a); err != nil {
			return err
		}
		evt = &Event{AdmissionID: a.ID, Type: EventReassigned, ActorID: actor.ID,
			RoomID: a.RoomID, NurseID: a.NurseID, DischargeDate: a.DischargeDate}
		if prevRoom != a.RoomID {
			evt.PreviousRoomID = &prevRoom
		}
		return m.repo.AddEvent(ctx, evt)
	})
	if err != nil {
		return nil, err
	}

	m.afterCommit(ctx, evt, a)
	a.State = a.StateAt(now)
	return a, nil
}

// UpdateDischarge changes the discharge date and optionally the nurse.
// Extending a stay re-checks room capacity and the patient's other stays
// over the new interval; shortening it never can conflict.
func (m *Manager) UpdateDischarge(ctx context.Context, id uuid.UUID, req UpdateRequest, actor *identity.Staff) (*Admission, error) {
	if err := requireManager(actor); err != nil {
		return nil, err
	}
	if req.DischargeDate == nil && req.NurseID == nil {
		return nil, fmt.Errorf("%w: discharge_date or nurse_id", ErrMissingField)
	}

	now := m.now().UTC()
	var (
		a   *Admission
		evt *Event
	)
	err := m.tx.InTx(ctx, func(ctx context.Context) error {
		if err := m.repo.Lock(ctx, admissionKey(id)); err != nil {
			return err
		}
		var err error
		if a, err = m.repo.GetByID(ctx, id); err != nil {
			return err
		}

		evtType := EventReassigned
		if req.DischargeDate != nil {
			if a.StateAt(now) == StateDischarged {
				return ErrAdmissionClosed
			}
			next := Interval{Start: a.AdmissionDate, End: req.DischargeDate}
			if !next.Valid() {
				return ErrInvalidInterval
			}
			extends := next.EndsAfter(a.Interval())
			d := req.DischargeDate.UTC()
			a.DischargeDate = &d
			evtType = EventDischargeUpdated

			if extends {
				if err := m.repo.Lock(ctx, patientKey(a.PatientID), roomKey(a.RoomID)); err != nil {
					return err
				}
				room, err := m.loadRoom(ctx, a.RoomID)
				if err != nil {
					return err
				}
				if err := m.checkCapacity(ctx, room, a); err != nil {
					return err
				}
				if err := m.checkPatientOverlap(ctx, a); err != nil {
					return err
				}
			}
		}
		if req.NurseID != nil {
			if err := m.checkNurse(ctx, *req.NurseID); err != nil {
				return err
			}
			a.NurseID = *req.NurseID
		}

		if err := m.repo.Update(ctx, a); err != nil {
			return mapConstraint(err)
		}
		evt = &Event{AdmissionID: a.ID, Type: evtType, ActorID: actor.ID,
			RoomID: a.RoomID, NurseID: a.NurseID, DischargeDate: a.DischargeDate}
		return m.repo.AddEvent(ctx, evt)
	})
	if err != nil {
		return nil, err
	}

	m.afterCommit(ctx, evt, a)
	a.State = a.StateAt(now)
	return a, nil
}

// ListAdmissions returns every admission to doctors and admins, and only
// their own to nurses.
func (m *Manager) ListAdmissions(ctx context.Context, role string, actor *identity.Staff, limit, offset int) ([]*Admission, int, error) {
	var (
		list  []*Admission
		total int
		err   error
	)
	switch role {
	case auth.RoleAdmin, auth.RoleDoctor:
		list, total, err = m.repo.List(ctx, limit, offset)
	case auth.RoleNurse:
		if actor == nil {
			return nil, 0, ErrForbidden
		}
		list, total, err = m.repo.ListByNurse(ctx, actor.ID, limit, offset)
	default:
		return nil, 0, ErrForbidden
	}
	if err != nil {
		return nil, 0, err
	}
	now := m.now()
	for _, a := range list {
		a.State = a.StateAt(now)
	}
	return list, total, nil
}

func (m *Manager) GetAdmission(ctx context.Context, id uuid.UUID, role string, actor *identity.Staff) (*Admission, error) {
	a, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch role {
	case auth.RoleAdmin, auth.RoleDoctor:
	case auth.RoleNurse:
		if actor == nil || a.NurseID != actor.ID {
			return nil, ErrForbidden
		}
	default:
		return nil, ErrForbidden
	}
	a.State = a.StateAt(m.now())
	return a, nil
}

// Events returns the admission's audit trail, oldest first.
func (m *Manager) Events(ctx context.Context, id uuid.UUID) ([]*Event, error) {
	if _, err := m.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return m.repo.ListEvents(ctx, id)
}

// Occupancy reports per-room occupancy at at, or now when at is nil. Only
// the current snapshot is cached.
func (m *Manager) Occupancy(ctx context.Context, at *time.Time) (*OccupancyReport, error) {
	useCache := at == nil && m.cacheTTL > 0
	ref := m.now().UTC()
	if at != nil {
		ref = at.UTC()
	}
	facility := db.FacilityFromContext(ctx)
	key := occupancyCacheKey + facility
	gen := m.generation(facility)

	if useCache {
		var cached OccupancyReport
		hit, err := m.cache.Get(ctx, key, &cached)
		if err != nil {
			m.logger.Warn().Err(err).Msg("occupancy cache read failed")
		}
		if hit {
			return &cached, nil
		}
	}

	rooms, err := m.rooms.ListAllRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	active, err := m.repo.ListActiveAt(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("list active admissions: %w", err)
	}
	report := ComputeOccupancy(rooms, active, ref)

	if useCache && m.generation(facility) == gen {
		if err := m.cache.Set(ctx, key, report, m.cacheTTL); err != nil {
			m.logger.Warn().Err(err).Msg("occupancy cache write failed")
		}
		// a write that landed between the check and the Set may have
		// deleted the key before we stored a stale report
		if m.generation(facility) != gen {
			if err := m.cache.Delete(ctx, key); err != nil {
				m.logger.Warn().Err(err).Msg("occupancy cache invalidation failed")
			}
		}
	}
	return report, nil
}

func (m *Manager) generation(facility string) uint64 {
	m.genMu.Lock()
	defer m.genMu.Unlock()
	return m.gens[facility]
}

func (m *Manager) bumpGeneration(facility string) {
	m.genMu.Lock()
	m.gens[facility]++
	m.genMu.Unlock()
}

func (m *Manager) loadRoom(ctx context.Context, id uuid.UUID) (*ward.Room, error) {
	room, err := m.rooms.GetRoom(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, ward.ErrNotFound, ErrRoomNotFound)
	}
	return room, nil
}

func (m *Manager) checkNurse(ctx context.Context, id uuid.UUID) error {
	s, err := m.people.GetStaff(ctx, id)
	if errors.Is(err, identity.ErrNotFound) {
		return ErrInvalidNurse
	}
	if err != nil {
		return err
	}
	if !s.IsNurse() {
		return ErrInvalidNurse
	}
	return nil
}

// checkCapacity fails when the room already holds capacity admissions
// overlapping a's stay. a itself is not counted.
func (m *Manager) checkCapacity(ctx context.Context, room *ward.Room, a *Admission) error {
	n, err := m.repo.CountOverlapping(ctx, room.ID, a.Interval(), a.ID)
	if err != nil {
		return err
	}
	if n >= room.Capacity {
		return ErrRoomOverCapacity
	}
	return nil
}

// checkPatientFree rejects a new admission while the patient has one not yet
// discharged, or one whose stay overlaps the requested interval.
func (m *Manager) checkPatientFree(ctx context.Context, a *Admission, now time.Time) error {
	open, err := m.repo.HasOpenForPatient(ctx, a.PatientID, now, a.ID)
	if err != nil {
		return err
	}
	if open {
		return ErrPatientAlreadyAdmitted
	}
	return m.checkPatientOverlap(ctx, a)
}

func (m *Manager) checkPatientOverlap(ctx context.Context, a *Admission) error {
	n, err := m.repo.CountPatientOverlapping(ctx, a.PatientID, a.Interval(), a.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrPatientAlreadyAdmitted
	}
	return nil
}

// afterCommit runs side effects that must not roll back the admission.
// Failures are logged only.
func (m *Manager) afterCommit(ctx context.Context, evt *Event, a *Admission) {
	facility := db.FacilityFromContext(ctx)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	m.bumpGeneration(facility)
	if err := m.cache.Delete(ctx, occupancyCacheKey+facility); err != nil {
		m.logger.Warn().Err(err).Msg("occupancy cache invalidation failed")
	}

	err := m.pub.Publish(ctx, events.Event{
		ID:         evt.ID.String(),
		Type:       string(evt.Type),
		FacilityID: facility,
		OccurredAt: evt.CreatedAt,
		Data:       evt,
	})
	if err != nil {
		m.logger.Warn().Err(err).Str("admission_id", a.ID.String()).Msg("event publish failed")
	}

	m.logger.Info().
		Str("event", string(evt.Type)).
		Str("admission_id", a.ID.String()).
		Str("patient_id", a.PatientID.String()).
		Str("room_id", a.RoomID.String()).
		Str("nurse_id", a.NurseID.String()).
		Str("actor_id", evt.ActorID.String()).
		Str("facility_id", facility).
		Msg("admission changed")
}

func requireManager(actor *identity.Staff) error {
	if actor == nil {
		return ErrUnauthenticated
	}
	if !actor.CanManageAdmissions() {
		return ErrForbidden
	}
	return nil
}

func notFoundAs(err, notFound, as error) error {
	if errors.Is(err, notFound) {
		return as
	}
	return err
}

// mapConstraint turns the storage-level patient overlap guard into the
// domain error. It only fires when a write slipped past the checks above.
func mapConstraint(err error) error {
	if db.IsExclusionViolation(err) || db.IsUniqueViolation(err) {
		return ErrPatientAlreadyAdmitted
	}
	return err
}

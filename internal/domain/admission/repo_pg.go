package admission

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/admissions/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const admCols = `a.id, a.patient_id, a.room_id, a.nurse_id, a.doctor_id, a.admission_date, a.discharge_date, a.created_at, a.updated_at`

// overlapClause matches rows overlapping [$2, $3) where a NULL $3 is open.
const overlapClause = `($3::timestamptz IS NULL OR a.admission_date < $3)
	AND (a.discharge_date IS NULL OR a.discharge_date > $2)
	AND a.id <> $4`

func (r *repoPG) Create(ctx context.Context, a *Admission) error {
	a.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO admission (id, patient_id, room_id, nurse_id, doctor_id, admission_date, discharge_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.RoomID, a.NurseID, a.DoctorID, a.AdmissionDate, a.DischargeDate,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Admission, error) {
	a, err := scanAdmission(r.conn(ctx).QueryRow(ctx, `SELECT `+admCols+` FROM admission a WHERE a.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAdmissionNotFound
	}
	return a, err
}

func (r *repoPG) Update(ctx context.Context, a *Admission) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE admission SET room_id = $2, nurse_id = $3, discharge_date = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.RoomID, a.NurseID, a.DischargeDate,
	).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAdmissionNotFound
	}
	return err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Admission, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM admission`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+admCols+` FROM admission a
		ORDER BY a.admission_date DESC, a.id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	list, err := collect(rows, scanAdmission)
	return list, total, err
}

func (r *repoPG) ListByNurse(ctx context.Context, nurseID uuid.UUID, limit, offset int) ([]*Admission, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM admission WHERE nurse_id = $1`, nurseID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+admCols+`, d.name FROM admission a
		JOIN room r ON r.id = a.room_id
		JOIN department d ON d.id = r.department_id
		WHERE a.nurse_id = $1
		ORDER BY a.admission_date DESC, a.id LIMIT $2 OFFSET $3`, nurseID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	list, err := collect(rows, scanAdmissionWithDepartment)
	return list, total, err
}

func (r *repoPG) ListActiveAt(ctx context.Context, at time.Time) ([]*Admission, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+admCols+` FROM admission a
		WHERE a.admission_date <= $1 AND (a.discharge_date IS NULL OR a.discharge_date > $1)`, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows, scanAdmission)
}

func (r *repoPG) CountOverlapping(ctx context.Context, roomID uuid.UUID, iv Interval, excludeID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM admission a WHERE a.room_id = $1 AND `+overlapClause,
		roomID, iv.Start, iv.End, excludeID).Scan(&n)
	return n, err
}

func (r *repoPG) CountPatientOverlapping(ctx context.Context, patientID uuid.UUID, iv Interval, excludeID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM admission a WHERE a.patient_id = $1 AND `+overlapClause,
		patientID, iv.Start, iv.End, excludeID).Scan(&n)
	return n, err
}

func (r *repoPG) HasOpenForPatient(ctx context.Context, patientID uuid.UUID, now time.Time, excludeID uuid.UUID) (bool, error) {
	var open bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM admission
		WHERE patient_id = $1 AND id <> $3 AND (discharge_date IS NULL OR discharge_date > $2))`,
		patientID, now, excludeID).Scan(&open)
	return open, err
}

func (r *repoPG) AddEvent(ctx context.Context, e *Event) error {
	e.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO admission_event (id, admission_id, event_type, actor_id, previous_room_id, room_id, nurse_id, discharge_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		e.ID, e.AdmissionID, e.Type, e.ActorID, e.PreviousRoomID, e.RoomID, e.NurseID, e.DischargeDate,
	).Scan(&e.CreatedAt)
}

func (r *repoPG) ListEvents(ctx context.Context, admissionID uuid.UUID) ([]*Event, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, admission_id, event_type, actor_id, previous_room_id, room_id, nurse_id, discharge_date, created_at
		FROM admission_event WHERE admission_id = $1
		ORDER BY created_at, id`, admissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows, func(row pgx.Row) (*Event, error) {
		var e Event
		err := row.Scan(&e.ID, &e.AdmissionID, &e.Type, &e.ActorID, &e.PreviousRoomID,
			&e.RoomID, &e.NurseID, &e.DischargeDate, &e.CreatedAt)
		return &e, err
	})
}

func (r *repoPG) Lock(ctx context.Context, keys ...string) error {
	return db.AdvisoryLock(ctx, keys...)
}

func scanAdmission(row pgx.Row) (*Admission, error) {
	var a Admission
	err := row.Scan(&a.ID, &a.PatientID, &a.RoomID, &a.NurseID, &a.DoctorID,
		&a.AdmissionDate, &a.DischargeDate, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func scanAdmissionWithDepartment(row pgx.Row) (*Admission, error) {
	var a Admission
	err := row.Scan(&a.ID, &a.PatientID, &a.RoomID, &a.NurseID, &a.DoctorID,
		&a.AdmissionDate, &a.DischargeDate, &a.CreatedAt, &a.UpdatedAt, &a.DepartmentName)
	return &a, err
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]*T, error) {
	var out []*T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

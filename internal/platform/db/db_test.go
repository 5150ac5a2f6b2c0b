package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
)

func TestExtractFacilityID_FromHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Facility-ID", "north_wing")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if fid := extractFacilityID(c, "default"); fid != "north_wing" {
		t.Errorf("expected north_wing, got %s", fid)
	}
}

func TestExtractFacilityID_FromQuery(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?facility_id=clinic_xyz", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if fid := extractFacilityID(c, "default"); fid != "clinic_xyz" {
		t.Errorf("expected clinic_xyz, got %s", fid)
	}
}

func TestExtractFacilityID_JWTWinsOverHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Facility-ID", "from_header")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("jwt_facility_id", "from_jwt")

	if fid := extractFacilityID(c, "default"); fid != "from_jwt" {
		t.Errorf("expected from_jwt, got %s", fid)
	}
}

func TestExtractFacilityID_Default(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if fid := extractFacilityID(c, "default"); fid != "default" {
		t.Errorf("expected default, got %s", fid)
	}
}

func TestFacilityIDPattern(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"default", true},
		{"north_wing_2", true},
		{"ABC", true},
		{"drop;table", false},
		{"a-b", false},
		{"a b", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := facilityIDPattern.MatchString(tt.input); got != tt.valid {
			t.Errorf("facilityIDPattern.MatchString(%q) = %v, want %v", tt.input, got, tt.valid)
		}
	}
}

func TestSchemaName(t *testing.T) {
	if got := SchemaName("default"); got != "facility_default" {
		t.Errorf("SchemaName(default) = %q", got)
	}
}

func TestCreateFacilitySchema_InvalidID(t *testing.T) {
	for _, id := range []string{"with-dash", "with.dot", "sp ace", "drop;table"} {
		if err := CreateFacilitySchema(context.Background(), nil, id, nil); err == nil {
			t.Errorf("expected error for invalid facility ID %q", id)
		}
	}
}

func TestContextHelpers_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBConnKey, "not-a-conn")
	if ConnFromContext(ctx) != nil {
		t.Error("expected nil conn for wrong type")
	}
	ctx = context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	if TxFromContext(ctx) != nil {
		t.Error("expected nil tx for wrong type")
	}
	ctx = context.WithValue(context.Background(), FacilityIDKey, 42)
	if FacilityFromContext(ctx) != "" {
		t.Error("expected empty facility for wrong type")
	}
}

func TestWithFacility(t *testing.T) {
	ctx := WithFacility(context.Background(), "east")
	if got := FacilityFromContext(ctx); got != "east" {
		t.Errorf("expected east, got %q", got)
	}
}

func TestLockOrder(t *testing.T) {
	got := LockOrder([]string{"room:b", "patient:x", "room:a", "room:b", ""})
	want := []string{"patient:x", "room:a", "room:b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LockOrder = %v, want %v", got, want)
	}
}

func TestAdvisoryLock_RequiresTx(t *testing.T) {
	err := AdvisoryLock(context.Background(), "room:1")
	if !errors.Is(err, ErrNoTx) {
		t.Errorf("expected ErrNoTx, got %v", err)
	}
}

func TestWithTx_NoConnection(t *testing.T) {
	called := false
	err := WithTx(context.Background(), nil, 1, func(ctx context.Context) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("expected error without pool or connection")
	}
	if called {
		t.Error("fn must not run without a transaction")
	}
}

func TestPgErrorClassification(t *testing.T) {
	wrap := func(code, constraint string) error {
		return fmt.Errorf("insert: %w", &pgconn.PgError{Code: code, ConstraintName: constraint})
	}

	if !IsRetryable(wrap("40001", "")) {
		t.Error("serialization failure should be retryable")
	}
	if !IsRetryable(wrap("40P01", "")) {
		t.Error("deadlock should be retryable")
	}
	if IsRetryable(wrap("23505", "")) {
		t.Error("unique violation should not be retryable")
	}
	if !IsUniqueViolation(wrap("23505", "")) {
		t.Error("expected unique violation")
	}
	if !IsExclusionViolation(wrap("23P01", "admission_patient_no_overlap")) {
		t.Error("expected exclusion violation")
	}
	if got := ConstraintName(wrap("23P01", "admission_patient_no_overlap")); got != "admission_patient_no_overlap" {
		t.Errorf("unexpected constraint name %q", got)
	}
	if IsRetryable(errors.New("plain")) || ConstraintName(errors.New("plain")) != "" {
		t.Error("plain errors carry no SQLSTATE")
	}
}

func TestMigrator_InvalidSchema(t *testing.T) {
	m := NewMigrator(nil, nil)
	if _, err := m.Up(context.Background(), "bad;schema"); err == nil {
		t.Error("expected error for invalid schema")
	}
	if _, err := m.Up(context.Background(), "facility_ok"); err == nil {
		t.Error("expected error without pool")
	}
}

type fakeRow struct {
	val bool
	err error
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*bool) = r.val
	return nil
}

type fakeHealthSource struct {
	pingErr error
	row     fakeRow
	queries []string
}

func (s *fakeHealthSource) Ping(context.Context) error { return s.pingErr }

func (s *fakeHealthSource) QueryRow(_ context.Context, sql string, _ ...interface{}) pgx.Row {
	s.queries = append(s.queries, sql)
	return s.row
}

func TestCheckHealth(t *testing.T) {
	tests := []struct {
		name      string
		src       *fakeHealthSource
		healthy   bool
		btreeGist bool
		wantErr   string
	}{
		{"ready", &fakeHealthSource{row: fakeRow{val: true}}, true, true, ""},
		{"ping fails", &fakeHealthSource{pingErr: errors.New("connection refused")}, false, false, "connection refused"},
		{"btree_gist missing", &fakeHealthSource{row: fakeRow{val: false}}, false, false, "btree_gist extension is not installed"},
		{"catalog query fails", &fakeHealthSource{row: fakeRow{err: errors.New("permission denied")}}, false, false, "check btree_gist: permission denied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := checkHealth(context.Background(), tt.src)
			if r.Healthy() != tt.healthy || r.BtreeGist != tt.btreeGist || r.Error != tt.wantErr {
				t.Errorf("unexpected report %+v", r)
			}
		})
	}

	src := &fakeHealthSource{pingErr: errors.New("down")}
	checkHealth(context.Background(), src)
	if len(src.queries) != 0 {
		t.Error("extension check should not run when ping fails")
	}
}

func TestWriteHealth_Status(t *testing.T) {
	e := echo.New()
	for _, tt := range []struct {
		report *HealthReport
		want   int
	}{
		{&HealthReport{Status: "healthy", BtreeGist: true}, http.StatusOK},
		{&HealthReport{Status: "unhealthy", Error: "btree_gist extension is not installed"}, http.StatusServiceUnavailable},
	} {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/db", nil), rec)
		if err := writeHealth(c, tt.report); err != nil {
			t.Fatal(err)
		}
		if rec.Code != tt.want {
			t.Errorf("status %q: expected %d, got %d", tt.report.Status, tt.want, rec.Code)
		}
		var body map[string]interface{}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if _, ok := body["btree_gist"]; !ok {
			t.Error("expected btree_gist in body")
		}
	}
}

func TestAcquireFacility_InvalidID(t *testing.T) {
	_, _, err := AcquireFacility(context.Background(), nil, "north;drop")
	if !errors.Is(err, ErrInvalidFacility) {
		t.Errorf("expected ErrInvalidFacility, got %v", err)
	}
}

func TestFacilityMiddleware_RejectsInvalidID(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Facility-ID", "bad-id")
	c := e.NewContext(req, httptest.NewRecorder())

	err := FacilityMiddleware(nil, "default")(func(echo.Context) error { return nil })(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

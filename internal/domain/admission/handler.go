package admission

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/admissions/internal/domain/identity"
	"github.com/ehr/admissions/internal/platform/auth"
	"github.com/ehr/admissions/pkg/pagination"
)

// StaffResolver maps an authenticated user to a staff profile.
type StaffResolver interface {
	StaffForUser(ctx context.Context, userID string) (*identity.Staff, error)
}

type Handler struct {
	mgr   *Manager
	staff StaffResolver
}

func NewHandler(mgr *Manager, staff StaffResolver) *Handler {
	return &Handler{mgr: mgr, staff: staff}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	writeGroup := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor))
	writeGroup.POST("/admissions", h.Admit)
	writeGroup.PATCH("/admissions/assign-nurse", h.AssignNurseAndRoom)
	writeGroup.PATCH("/admissions/:id", h.UpdateDischarge)
	writeGroup.GET("/admissions/:id/events", h.ListEvents)

	readGroup := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor, auth.RoleNurse))
	readGroup.GET("/admissions", h.ListAdmissions)
	readGroup.GET("/admissions/:id", h.GetAdmission)
	readGroup.GET("/rooms/occupancy", h.Occupancy)
}

func (h *Handler) Admit(c echo.Context) error {
	actor, err := h.actor(c)
	if err != nil {
		return httpError(err)
	}
	var req AdmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.mgr.Admit(c.Request().Context(), req, actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) AssignNurseAndRoom(c echo.Context) error {
	actor, err := h.actor(c)
	if err != nil {
		return httpError(err)
	}
	var req AssignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.mgr.AssignNurseAndRoom(c.Request().Context(), req, actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateDischarge(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := h.actor(c)
	if err != nil {
		return httpError(err)
	}
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.mgr.UpdateDischarge(c.Request().Context(), id, req, actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAdmissions(c echo.Context) error {
	actor, err := h.reader(c)
	if err != nil {
		return httpError(err)
	}
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	list, total, err := h.mgr.ListAdmissions(ctx, auth.PrimaryRole(ctx), actor, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if list == nil {
		list = []*Admission{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(list, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetAdmission(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := h.reader(c)
	if err != nil {
		return httpError(err)
	}
	ctx := c.Request().Context()
	a, err := h.mgr.GetAdmission(ctx, id, auth.PrimaryRole(ctx), actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListEvents(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	list, err := h.mgr.Events(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if list == nil {
		list = []*Event{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": list})
}

// Occupancy accepts an optional RFC 3339 "at" query parameter.
func (h *Handler) Occupancy(c echo.Context) error {
	var at *time.Time
	if v := c.QueryParam("at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "at must be an RFC 3339 timestamp")
		}
		at = &t
	}
	report, err := h.mgr.Occupancy(c.Request().Context(), at)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) actor(c echo.Context) (*identity.Staff, error) {
	ctx := c.Request().Context()
	uid := auth.UserIDFromContext(ctx)
	if uid == "" {
		return nil, ErrUnauthenticated
	}
	s, err := h.staff.StaffForUser(ctx, uid)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, ErrForbidden
	}
	return s, err
}

// reader is actor for read paths: doctors and admins need no staff profile
// to read, so a missing one yields a nil actor instead of 403.
func (h *Handler) reader(c echo.Context) (*identity.Staff, error) {
	s, err := h.actor(c)
	if errors.Is(err, ErrForbidden) {
		return nil, nil
	}
	return s, err
}

// httpError maps domain errors to HTTP statuses. Room over capacity and
// patient already admitted are 409 Conflict, not 400; see DESIGN.md,
// decision 9. Malformed or missing input is 400.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrAdmissionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case IsConflict(err):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}

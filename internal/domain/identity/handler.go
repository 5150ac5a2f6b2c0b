package identity

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/admissions/internal/platform/auth"
	"github.com/ehr/admissions/pkg/pagination"
)

type Handler struct {
	dir *Directory
}

func NewHandler(dir *Directory) *Handler {
	return &Handler{dir: dir}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staffGroup := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor, auth.RoleNurse, auth.RolePharmacist))
	staffGroup.GET("/staff/me", h.Me)

	assignGroup := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor))
	assignGroup.GET("/staff/nurses", h.ListNurses)
}

// Me returns the staff profile of the caller.
func (h *Handler) Me(c echo.Context) error {
	s, err := h.dir.StaffForUser(c.Request().Context(), auth.UserIDFromContext(c.Request().Context()))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no staff profile for user")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) ListNurses(c echo.Context) error {
	pg := pagination.FromContext(c)
	nurses, total, err := h.dir.ListNurses(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(nurses, total, pg.Limit, pg.Offset))
}

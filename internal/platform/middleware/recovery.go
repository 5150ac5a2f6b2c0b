package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/admissions/internal/platform/auth"
	"github.com/ehr/admissions/internal/platform/db"
)

// Recovery turns a handler panic into a 500. The log line carries the
// facility and user of the request so a panic mid-admission can be traced
// to the tenant whose transaction was rolled back.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				var stack [4096]byte
				n := runtime.Stack(stack[:], false)

				// inner middleware replaces the request, so read it now
				req := c.Request()
				ctx := req.Context()
				rid, _ := c.Get("request_id").(string)
				evt := logger.Error().
					Str("request_id", rid).
					Str("method", req.Method).
					Str("path", req.URL.Path).
					Str("facility_id", db.FacilityFromContext(ctx)).
					Str("user_id", auth.UserIDFromContext(ctx)).
					Str("stack", string(stack[:n]))
				if perr, ok := r.(error); ok {
					evt = evt.Err(perr)
				} else {
					evt = evt.Str("panic", fmt.Sprintf("%v", r))
				}
				evt.Msg("panic recovered")

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}

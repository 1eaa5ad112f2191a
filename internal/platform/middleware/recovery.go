package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/radiology/internal/platform/auth"
)

const maxPanicStack = 8 << 10

// Recovery turns a handler panic into a 500 whose body carries the request
// id, so a caller can quote it when reporting the failure.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				stack := make([]byte, maxPanicStack)
				stack = stack[:runtime.Stack(stack, false)]

				rid, _ := c.Get("request_id").(string)
				ev := logger.Error().
					Str("request_id", rid).
					Str("method", c.Request().Method).
					Str("route", c.Path()).
					Str("user_id", auth.UserIDFromContext(c.Request().Context())).
					Bytes("stack", stack)
				if perr, ok := r.(error); ok {
					ev = ev.Err(perr)
				} else {
					ev = ev.Str("panic", fmt.Sprint(r))
				}
				ev.Msg("handler panicked")

				err = echo.NewHTTPError(http.StatusInternalServerError, map[string]string{
					"message":    "internal server error",
					"request_id": rid,
				})
			}()
			return next(c)
		}
	}
}

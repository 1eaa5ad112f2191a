package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/radiology/internal/platform/auth"
)

// AuditEntry records who changed which radiology resource.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Resource   string
	ResourceID string
	Action     string
	Method     string
	Path       string
	IPAddress  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every request under /api/v1/. Mutations log at info, reads at
// debug so that template imports and purges are always traceable.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			resource, id := splitResourcePath(req.URL.Path)
			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(req.Context()),
				UserRoles:  auth.RolesFromContext(req.Context()),
				Resource:   resource,
				ResourceID: id,
				Action:     httpMethodToAction(req.Method),
				Method:     req.Method,
				Path:       req.URL.Path,
				IPAddress:  c.RealIP(),
				StatusCode: status,
				Timestamp:  time.Now().UTC(),
			}
			entry.RequestID, _ = c.Get("request_id").(string)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			evt := logger.Debug()
			if entry.Action != "read" {
				evt = logger.Info()
			}
			evt.
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("action", entry.Action).
				Int("status", entry.StatusCode).
				Msg("radiology_access")

			return err
		}
	}
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// splitResourcePath maps /api/v1/mrrt-templates/12/body to
// ("mrrt-templates", "12").
func splitResourcePath(path string) (string, string) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	resource := "unknown"
	if len(segments) > 0 && segments[0] != "" {
		resource = segments[0]
	}
	if len(segments) > 1 {
		return resource, segments[1]
	}
	return resource, ""
}

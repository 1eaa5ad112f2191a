package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin         = "admin"
	RoleRadiologist   = "radiologist"
	RoleRadiologyTech = "radiology_tech"
	RolePhysician     = "physician"
)

// ReadRoles may view templates, studies and terminology.
var ReadRoles = []string{RoleRadiologist, RoleRadiologyTech, RolePhysician}

// WriteRoles may import, update and purge templates and record studies.
var WriteRoles = []string{RoleRadiologist, RoleRadiologyTech}

// HasRole reports whether userRoles grants any of roles. Admin grants all.
func HasRole(userRoles []string, roles ...string) bool {
	for _, has := range userRoles {
		if has == RoleAdmin {
			return true
		}
		for _, required := range roles {
			if has == required {
				return true
			}
		}
	}
	return false
}

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

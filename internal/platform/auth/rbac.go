package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin    = "admin"
	RoleProvider = "provider"
	RoleBiller   = "biller"
	RoleStaff    = "staff"
)

// RequireRole lets the request through when the caller holds any of roles.
// Admins pass every check.
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

// ActsFor reports whether the caller may read or change data owned by
// providerID: the provider themselves, or any non-provider role that works
// across the practice.
func ActsFor(c echo.Context, providerID string) bool {
	ctx := c.Request().Context()
	if ProviderIDFromContext(ctx) == providerID {
		return true
	}
	return HasRole(RolesFromContext(ctx), RoleBiller, RoleStaff)
}

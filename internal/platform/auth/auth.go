// Package auth provides API-key and JWT authentication for the audit API,
// plus role checks and brute-force attempt tracking. Two roles exist: writers
// may append events, admins may additionally verify, rotate and search.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Roles.
const (
	RoleWriter = "writer"
	RoleAdmin  = "admin"
)

type contextKey string

const (
	// PrincipalKey holds the authenticated principal's identifier.
	PrincipalKey contextKey = "auth.principal"
	// RolesKey holds the authenticated principal's roles.
	RolesKey contextKey = "auth.roles"
)

// PrincipalFromContext returns the authenticated principal id, "" if absent.
func PrincipalFromContext(ctx context.Context) string {
	id, _ := ctx.Value(PrincipalKey).(string)
	return id
}

// RolesFromContext returns the authenticated principal's roles.
func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(RolesKey).([]string)
	return roles
}

// WithPrincipal returns a context carrying the authenticated identity.
func WithPrincipal(ctx context.Context, principal string, roles []string) context.Context {
	ctx = context.WithValue(ctx, PrincipalKey, principal)
	return context.WithValue(ctx, RolesKey, roles)
}

// RequireRole returns middleware allowing only principals holding one of the
// given roles. Admin passes every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			held := RolesFromContext(c.Request().Context())
			for _, required := range roles {
				for _, has := range held {
					if has == required || has == RoleAdmin {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

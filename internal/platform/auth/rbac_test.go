package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func ctxWith(roles []string, provider string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := context.WithValue(req.Context(), UserRolesKey, roles)
	ctx = context.WithValue(ctx, ProviderIDKey, provider)
	return e.NewContext(req.WithContext(ctx), httptest.NewRecorder())
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name    string
		roles   []string
		require []string
		allowed bool
	}{
		{"matching role", []string{RoleProvider}, []string{RoleProvider, RoleStaff}, true},
		{"missing role", []string{RoleBiller}, []string{RoleProvider}, false},
		{"admin bypass", []string{RoleAdmin}, []string{RoleBiller}, true},
		{"no roles", nil, []string{RoleProvider}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RequireRole(tt.require...)(noop)(ctxWith(tt.roles, ""))
			if tt.allowed && err != nil {
				t.Errorf("expected access, got %v", err)
			}
			if !tt.allowed {
				expectStatus(t, err, http.StatusForbidden)
			}
		})
	}
}

func TestActsFor(t *testing.T) {
	if !ActsFor(ctxWith([]string{RoleProvider}, "dr-a"), "dr-a") {
		t.Error("provider should act for themselves")
	}
	if ActsFor(ctxWith([]string{RoleProvider}, "dr-a"), "dr-b") {
		t.Error("provider should not act for another provider")
	}
	if !ActsFor(ctxWith([]string{RoleBiller}, ""), "dr-b") {
		t.Error("biller works across the practice")
	}
	if !ActsFor(ctxWith([]string{RoleAdmin}, ""), "dr-b") {
		t.Error("admin passes")
	}
}

func TestContextAccessors_Empty(t *testing.T) {
	ctx := context.Background()
	if UserIDFromContext(ctx) != "" || ProviderIDFromContext(ctx) != "" || RolesFromContext(ctx) != nil {
		t.Error("expected zero values from empty context")
	}
}

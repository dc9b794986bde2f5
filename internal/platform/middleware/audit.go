package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/chiro/chiro/internal/platform/auth"
)

// AuditEntry records who touched which clinical record.
type AuditEntry struct {
	RequestID  string
	UserID     string
	Roles      []string
	Tenant     string
	Resource   string
	ResourceID string
	Encounter  string
	Action     string
	Method     string
	Path       string
	Status     int
	RemoteIP   string
}

// Audit logs every /api/v1 request as a "phi_access" event after the handler
// runs. Clinical notes, transcripts and codes are all patient data, so no
// route under /api/v1 is exempt.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			entry := buildAuditEntry(c)
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					entry.Status = he.Code
				} else {
					entry.Status = http.StatusInternalServerError
				}
			}

			logger.Info().
				Str("type", "phi_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("roles", entry.Roles).
				Str("tenant", entry.Tenant).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("encounter_id", entry.Encounter).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Int("status", entry.Status).
				Str("remote_ip", entry.RemoteIP).
				Msg("phi_access")

			return err
		}
	}
}

func buildAuditEntry(c echo.Context) AuditEntry {
	req := c.Request()
	ctx := req.Context()
	entry := AuditEntry{
		UserID:   auth.UserIDFromContext(ctx),
		Roles:    auth.RolesFromContext(ctx),
		Method:   req.Method,
		Path:     req.URL.Path,
		Status:   c.Response().Status,
		RemoteIP: c.RealIP(),
		Action:   actionFor(req.Method),
	}
	entry.RequestID, _ = c.Get("request_id").(string)
	entry.Tenant, _ = c.Get("tenant_id").(string)
	entry.Resource, entry.ResourceID = resourceFromPath(req.URL.Path)
	if enc := c.Param("encounterId"); enc != "" {
		entry.Encounter = enc
	} else {
		entry.Encounter = c.QueryParam("encounterId")
	}
	return entry
}

func actionFor(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	return "read"
}

// resourceFromPath splits "/api/v1/draft-notes/<uuid>/approve" into
// ("draft-notes", "<uuid>"). The id is empty when the second segment is not
// a UUID.
func resourceFromPath(path string) (string, string) {
	segs := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	if len(segs) == 0 || segs[0] == "" {
		return "unknown", ""
	}
	if len(segs) > 1 {
		if _, err := uuid.Parse(segs[1]); err == nil {
			return segs[0], segs[1]
		}
	}
	return segs[0], ""
}

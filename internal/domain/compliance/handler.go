package compliance

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/chiro/chiro/internal/platform/apperror"
	"github.com/chiro/chiro/internal/platform/auth"
	"github.com/chiro/chiro/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleProvider, auth.RoleBiller, auth.RoleStaff))
	read.GET("/encounters/:id/compliance-checks", h.ListChecks)
	read.GET("/compliance-checks/:id", h.GetCheck)
	read.GET("/encounters/:id/pre-billing-gate", h.PreBillingGate)

	write := api.Group("", auth.RequireRole(auth.RoleProvider, auth.RoleBiller))
	write.POST("/encounters/:id/compliance-checks", h.Check)
	write.POST("/compliance-issues/:id/resolve", h.Resolve)
	write.POST("/compliance-issues/:id/dismiss", h.Dismiss)

	// Auto-fix amends the clinical note, so only providers may run it.
	fix := api.Group("", auth.RequireRole(auth.RoleProvider))
	fix.POST("/compliance-issues/:id/auto-fix", h.AutoFix)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func actor(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

func (h *Handler) Check(c echo.Context) error {
	encID, err := parseID(c)
	if err != nil {
		return err
	}
	var req CheckRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	req.EncounterID = encID
	req.ProviderID = auth.ProviderIDFromContext(c.Request().Context())
	check, err := h.svc.Check(c.Request().Context(), req)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusCreated, check)
}

func (h *Handler) ListChecks(c echo.Context) error {
	encID, err := parseID(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	checks, total, err := h.svc.ListChecks(c.Request().Context(), encID, p.Limit, p.Offset)
	if err != nil {
		return apperror.HTTP(err)
	}
	if checks == nil {
		checks = []*Check{}
	}
	resp := pagination.NewResponse(checks, total, p.Limit, p.Offset).WithLinks(c.Request().URL.Path, c.QueryParams())
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetCheck(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	check, err := h.svc.GetCheck(c.Request().Context(), id)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, check)
}

func (h *Handler) PreBillingGate(c echo.Context) error {
	encID, err := parseID(c)
	if err != nil {
		return err
	}
	gate, err := h.svc.PreBillingGate(c.Request().Context(), encID)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, gate)
}

type resolutionRequest struct {
	Resolution string `json:"resolution,omitempty"`
}

func (h *Handler) bindResolution(c echo.Context) (uuid.UUID, string, error) {
	id, err := parseID(c)
	if err != nil {
		return uuid.Nil, "", err
	}
	var req resolutionRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return uuid.Nil, "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	return id, req.Resolution, nil
}

func (h *Handler) Resolve(c echo.Context) error {
	id, resolution, err := h.bindResolution(c)
	if err != nil {
		return err
	}
	is, err := h.svc.Resolve(c.Request().Context(), id, resolution, actor(c))
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, is)
}

func (h *Handler) Dismiss(c echo.Context) error {
	id, reason, err := h.bindResolution(c)
	if err != nil {
		return err
	}
	is, err := h.svc.Dismiss(c.Request().Context(), id, reason, actor(c))
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, is)
}

func (h *Handler) AutoFix(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	is, err := h.svc.AutoFix(c.Request().Context(), id, actor(c))
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, is)
}

package coding

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
	read.GET("/encounters/:id/code-suggestions", h.ListByEncounter)
	read.GET("/code-suggestions/:id", h.Get)
	read.GET("/providers/:id/code-acceptance", h.AcceptanceStats)

	write := api.Group("", auth.RequireRole(auth.RoleProvider, auth.RoleBiller))
	write.POST("/encounters/:id/code-suggestions", h.Suggest)
	write.POST("/encounters/:id/code-suggestions/accept-all", h.AcceptAll)
	write.POST("/code-suggestions/:id/accept", h.Accept)
	write.POST("/code-suggestions/:id/reject", h.Reject)
	write.POST("/code-suggestions/:id/modify", h.Modify)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

type suggestRequest struct {
	SuggestRequest
	ProviderID string `json:"provider_id,omitempty"`
}

func (h *Handler) Suggest(c echo.Context) error {
	encID, err := parseID(c)
	if err != nil {
		return err
	}
	var req suggestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in := req.SuggestRequest
	in.EncounterID = encID
	in.ProviderID = auth.ProviderIDFromContext(c.Request().Context())
	if in.ProviderID == "" {
		in.ProviderID = req.ProviderID
	}
	items, err := h.svc.Suggest(c.Request().Context(), in)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusCreated, items)
}

func (h *Handler) ListByEncounter(c echo.Context) error {
	encID, err := parseID(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListByEncounter(c.Request().Context(), encID, ListFilter{
		Status:   Status(c.QueryParam("status")),
		CodeType: CodeType(c.QueryParam("code_type")),
		Limit:    p.Limit,
		Offset:   p.Offset,
	})
	if err != nil {
		return apperror.HTTP(err)
	}
	if items == nil {
		items = []*Suggestion{}
	}
	resp := pagination.NewResponse(items, total, p.Limit, p.Offset).WithLinks(c.Request().URL.Path, c.QueryParams())
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sg, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, sg)
}

func (h *Handler) AcceptanceStats(c echo.Context) error {
	providerID := c.Param("id")
	if !auth.ActsFor(c, providerID) {
		return echo.NewHTTPError(http.StatusForbidden, "not allowed to read this provider's coding history")
	}
	stats, err := h.svc.AcceptanceStats(c.Request().Context(), providerID)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func actor(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

func (h *Handler) Accept(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sg, err := h.svc.Accept(c.Request().Context(), id, actor(c))
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, sg)
}

func (h *Handler) Reject(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sg, err := h.svc.Reject(c.Request().Context(), id, actor(c))
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, sg)
}

type modifyRequest struct {
	Code string `json:"code"`
}

func (h *Handler) Modify(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req modifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sg, err := h.svc.Modify(c.Request().Context(), id, req.Code, actor(c))
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, sg)
}

type acceptAllRequest struct {
	CodeType CodeType `json:"code_type,omitempty"`
}

func (h *Handler) AcceptAll(c echo.Context) error {
	encID, err := parseID(c)
	if err != nil {
		return err
	}
	var req acceptAllRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	items, err := h.svc.AcceptAll(c.Request().Context(), encID, req.CodeType, actor(c))
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

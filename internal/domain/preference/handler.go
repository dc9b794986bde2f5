package preference

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/chiro/chiro/internal/platform/apperror"
	"github.com/chiro/chiro/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleProvider, auth.RoleStaff))
	g.GET("/providers/:id/preferences", h.List)
	g.POST("/providers/:id/preferences", h.Create)
	g.POST("/providers/:id/preferences/bootstrap", h.Bootstrap)
	g.GET("/preferences/:id", h.Get)
	g.POST("/preferences/:id/feedback", h.Feedback)
	g.POST("/preferences/:id/deactivate", h.Deactivate)
	g.DELETE("/preferences/:id", h.Delete)
}

func forbidden() error {
	return echo.NewHTTPError(http.StatusForbidden, "not allowed to manage this provider's preferences")
}

func (h *Handler) List(c echo.Context) error {
	providerID := c.Param("id")
	if !auth.ActsFor(c, providerID) {
		return forbidden()
	}
	f := ListFilter{
		Category:   Category(c.QueryParam("category")),
		ActiveOnly: c.QueryParam("active") == "true",
	}
	if v := c.QueryParam("min_confidence"); v != "" {
		mc, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid min_confidence")
		}
		f.MinConfidence = mc
	}
	items, err := h.svc.List(c.Request().Context(), providerID, f)
	if err != nil {
		return apperror.HTTP(err)
	}
	if items == nil {
		items = []*Preference{}
	}
	return c.JSON(http.StatusOK, items)
}

// Create records an explicit preference stated by the provider.
func (h *Handler) Create(c echo.Context) error {
	providerID := c.Param("id")
	if !auth.ActsFor(c, providerID) {
		return forbidden()
	}
	var o Observation
	if err := c.Bind(&o); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.Upsert(c.Request().Context(), providerID, o, SourceExplicit)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) Bootstrap(c echo.Context) error {
	providerID := c.Param("id")
	if !auth.ActsFor(c, providerID) {
		return forbidden()
	}
	prefs, err := h.svc.Bootstrap(c.Request().Context(), providerID)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, prefs)
}

// load fetches the preference named in the path and checks the caller may
// act for its provider.
func (h *Handler) load(c echo.Context) (*Preference, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return nil, apperror.HTTP(err)
	}
	if !auth.ActsFor(c, p.ProviderID) {
		return nil, forbidden()
	}
	return p, nil
}

func (h *Handler) Get(c echo.Context) error {
	p, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

type feedbackRequest struct {
	Accepted *bool `json:"accepted"`
}

func (h *Handler) Feedback(c echo.Context) error {
	p, err := h.load(c)
	if err != nil {
		return err
	}
	var req feedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Accepted == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "accepted is required")
	}
	p, err = h.svc.RecordFeedback(c.Request().Context(), p.ID, *req.Accepted)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Deactivate(c echo.Context) error {
	p, err := h.load(c)
	if err != nil {
		return err
	}
	p, err = h.svc.Deactivate(c.Request().Context(), p.ID)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Delete(c echo.Context) error {
	p, err := h.load(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), p.ID); err != nil {
		return apperror.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

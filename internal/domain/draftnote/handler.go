package draftnote

import (
	"net/http"

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
	read := api.Group("", auth.RequireRole(auth.RoleProvider, auth.RoleStaff))
	read.GET("/draft-notes/:id", h.Get)
	read.GET("/encounters/:id/draft-notes", h.ListByEncounter)

	write := api.Group("", auth.RequireRole(auth.RoleProvider))
	write.POST("/draft-notes", h.Generate)
	write.POST("/draft-notes/:id/edit", h.Edit)
	write.POST("/draft-notes/:id/approve", h.Approve)
	write.POST("/draft-notes/:id/reject", h.Reject)
	write.POST("/draft-notes/:id/apply", h.Apply)
	write.POST("/draft-notes/:id/regenerate", h.Regenerate)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) Generate(c echo.Context) error {
	var req GenerateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if pid := auth.ProviderIDFromContext(c.Request().Context()); pid != "" {
		req.ProviderID = pid
	}
	d, err := h.svc.Generate(c.Request().Context(), req)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListByEncounter(c echo.Context) error {
	encID, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListByEncounter(c.Request().Context(), encID)
	if err != nil {
		return apperror.HTTP(err)
	}
	if items == nil {
		items = []*DraftNote{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Edit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req EditRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := h.svc.Edit(c.Request().Context(), id, req)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) bindReview(c echo.Context) (uuid.UUID, ReviewRequest, error) {
	id, err := parseID(c)
	if err != nil {
		return uuid.Nil, ReviewRequest{}, err
	}
	var req ReviewRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return uuid.Nil, ReviewRequest{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	req.Reviewer = auth.UserIDFromContext(c.Request().Context())
	return id, req, nil
}

func (h *Handler) Approve(c echo.Context) error {
	id, req, err := h.bindReview(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Approve(c.Request().Context(), id, req)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Reject(c echo.Context) error {
	id, req, err := h.bindReview(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Reject(c.Request().Context(), id, req)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Apply(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Apply(c.Request().Context(), id)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Regenerate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req RegenerateRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	d, err := h.svc.Regenerate(c.Request().Context(), id, req)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

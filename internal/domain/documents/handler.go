package documents

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
	read := api.Group("", auth.RequireRole(auth.RoleProvider, auth.RoleBiller, auth.RoleStaff))
	read.GET("/encounters/:id/clinical-note", h.GetClinicalNote)

	write := api.Group("", auth.RequireRole(auth.RoleProvider))
	write.POST("/encounters/:id/clinical-note/sign", h.SignClinicalNote)
}

func (h *Handler) GetClinicalNote(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid encounter id")
	}
	note, err := h.svc.GetByEncounter(c.Request().Context(), id)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, note)
}

func (h *Handler) SignClinicalNote(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid encounter id")
	}
	note, err := h.svc.Sign(c.Request().Context(), id, auth.ProviderIDFromContext(c.Request().Context()))
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, note)
}

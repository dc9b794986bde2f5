package transcription

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
	read.GET("/encounters/:id/transcription-sessions", h.ListByEncounter)
	read.GET("/transcription-sessions/:id", h.Get)
	read.GET("/transcription-sessions/:id/term-corrections", h.TermCorrections)

	write := api.Group("", auth.RequireRole(auth.RoleProvider))
	write.POST("/encounters/:id/transcription-sessions", h.Start)
	write.POST("/transcription-sessions/:id/pause", h.Pause)
	write.POST("/transcription-sessions/:id/resume", h.Resume)
	write.POST("/transcription-sessions/:id/chunks", h.IngestChunk)
	write.POST("/transcription-sessions/:id/stop", h.Stop)
	write.PUT("/transcription-sessions/:id/transcript", h.UpdateTranscript)
	write.PUT("/transcription-sessions/:id/speakers", h.UpdateSpeakers)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

type startRequest struct {
	Language      string            `json:"language"`
	SpeakerLabels map[string]string `json:"speaker_labels"`
}

func (h *Handler) Start(c echo.Context) error {
	encID, err := parseID(c)
	if err != nil {
		return err
	}
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sess, err := h.svc.Start(c.Request().Context(), StartRequest{
		EncounterID:   encID,
		ProviderID:    auth.ProviderIDFromContext(c.Request().Context()),
		Language:      req.Language,
		SpeakerLabels: req.SpeakerLabels,
	})
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusCreated, sess)
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
		items = []*Session{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sess, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) Pause(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sess, err := h.svc.Pause(c.Request().Context(), id)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) Resume(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sess, err := h.svc.Resume(c.Request().Context(), id)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, sess)
}

type chunkResponse struct {
	Segment *Segment `json:"segment"`
	Session *Session `json:"session"`
}

func (h *Handler) IngestChunk(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var chunk Chunk
	if err := c.Bind(&chunk); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	seg, sess, err := h.svc.IngestChunk(c.Request().Context(), id, chunk)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusCreated, chunkResponse{Segment: seg, Session: sess})
}

// Stop accepts an optional final chunk in the body.
func (h *Handler) Stop(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var final *Chunk
	if c.Request().ContentLength != 0 {
		var chunk Chunk
		if err := c.Bind(&chunk); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if chunk.AudioBase64 != "" {
			final = &chunk
		}
	}
	sess, err := h.svc.Stop(c.Request().Context(), id, final)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) UpdateTranscript(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req struct {
		Transcript string `json:"transcript"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sess, err := h.svc.UpdateTranscript(c.Request().Context(), id, req.Transcript)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) UpdateSpeakers(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req struct {
		SpeakerLabels map[string]string `json:"speaker_labels"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sess, err := h.svc.UpdateSpeakerLabels(c.Request().Context(), id, req.SpeakerLabels)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) TermCorrections(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	out, err := h.svc.TermCorrections(c.Request().Context(), id)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, out)
}

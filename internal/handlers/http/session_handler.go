package http

import (
	"errors"
	"net/http"

	"camlink/internal/core/domain"
	"camlink/internal/core/ports"
	apperrors "camlink/pkg/errors"

	"github.com/gin-gonic/gin"
)

// SessionHandler exposes the session credential API consumed by the
// collaborating front-end/bot: one credential pair per identity, rotated on
// demand. Peers themselves never call this API.
type SessionHandler struct {
	sessionService ports.SessionService
}

func NewSessionHandler(sessionService ports.SessionService) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
	}
}

func (h *SessionHandler) SetupRoutes(api *gin.RouterGroup) {
	api.GET("/session", h.GetSession)
	api.POST("/session", h.CreateSession)
	api.PUT("/session", h.UpdateSession)
	api.GET("/spectator/:spectator_id/session", h.SessionForSpectator)
}

type sessionRequest struct {
	DisplayName string `json:"display_name" binding:"max=100"`
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	identity := c.GetString("identity")

	session, err := h.sessionService.Get(c.Request.Context(), identity)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			c.Error(apperrors.NewNotFoundError("session"))
			return
		}
		c.Error(apperrors.NewInternalError("failed to load session"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (h *SessionHandler) CreateSession(c *gin.Context) {
	identity := c.GetString("identity")

	var req sessionRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = c.GetString("display_name")
	}

	session, err := h.sessionService.Create(c.Request.Context(), identity, req.DisplayName)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrIdentityExists):
			c.Error(apperrors.NewConflictError("identity already has a session"))
		case errors.Is(err, domain.ErrIDGenerationExhausted):
			c.Error(apperrors.NewServiceUnavailableError("could not allocate session ids"))
		default:
			c.Error(apperrors.NewInternalError("failed to create session"))
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"session": session})
}

func (h *SessionHandler) UpdateSession(c *gin.Context) {
	identity := c.GetString("identity")

	var req sessionRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = c.GetString("display_name")
	}

	session, err := h.sessionService.Update(c.Request.Context(), identity, req.DisplayName)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSessionNotFound):
			c.Error(apperrors.NewNotFoundError("session"))
		case errors.Is(err, domain.ErrIDGenerationExhausted):
			c.Error(apperrors.NewServiceUnavailableError("could not allocate session ids"))
		default:
			c.Error(apperrors.NewInternalError("failed to rotate session"))
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": session})
}

// SessionForSpectator resolves a spectator id to its session id, for viewer
// links handed out by the bot.
func (h *SessionHandler) SessionForSpectator(c *gin.Context) {
	spectatorID := c.Param("spectator_id")

	sessionID, err := h.sessionService.SessionIDForSpectator(c.Request.Context(), spectatorID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			c.Error(apperrors.NewNotFoundError("spectator"))
			return
		}
		c.Error(apperrors.NewInternalError("failed to resolve spectator"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_id": sessionID})
}

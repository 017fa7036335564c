package delivery

import (
	"context"
	"errors"
	"net/http"

	"famnet-backend/internal/notification/domain"
	"famnet-backend/internal/notification/usecase"
	"famnet-backend/pkg/fcm"
	"famnet-backend/pkg/worker"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SettingsUsecase is implemented by *usecase.SettingsService.
type SettingsUsecase interface {
	GetSettings(ctx context.Context, userID string) (*usecase.Settings, error)
	UpdateSettings(ctx context.Context, userID string, patch usecase.SettingsPatch) (*usecase.Settings, error)
	RegisterToken(ctx context.Context, userID, token, deviceInfo string) (*usecase.TokenStatus, error)
	UnregisterToken(ctx context.Context, userID string) error
	TokenStatus(ctx context.Context, userID string) (*usecase.TokenStatus, error)
	ValidateToken(ctx context.Context, userID string) (*usecase.TokenStatus, error)
	SendTest(ctx context.Context, userID string) (*fcm.Result, error)
}

// EventDispatcher is implemented by *usecase.Dispatcher.
type EventDispatcher interface {
	Dispatch(e domain.Event) error
}

type NotificationHandler struct {
	settings   SettingsUsecase
	dispatcher EventDispatcher
}

func NewNotificationHandler(settings SettingsUsecase, dispatcher EventDispatcher) *NotificationHandler {
	return &NotificationHandler{
		settings:   settings,
		dispatcher: dispatcher,
	}
}

// RegisterTokenRequest is the body of POST /api/notifications/token
type RegisterTokenRequest struct {
	Token      string `json:"token" binding:"required"`
	DeviceInfo string `json:"deviceInfo"`
}

// GetSettings returns the caller's notification preferences
// GET /api/notifications/settings
func (h *NotificationHandler) GetSettings(c *gin.Context) {
	settings, err := h.settings.GetSettings(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, settings)
}

// UpdateSettings applies a partial preferences update
// PUT /api/notifications/settings
func (h *NotificationHandler) UpdateSettings(c *gin.Context) {
	var patch usecase.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	settings, err := h.settings.UpdateSettings(c.Request.Context(), c.GetString("userID"), patch)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, settings)
}

// RegisterToken binds the caller's device token
// POST /api/notifications/token
func (h *NotificationHandler) RegisterToken(c *gin.Context) {
	var req RegisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := h.settings.RegisterToken(c.Request.Context(), c.GetString("userID"), req.Token, req.DeviceInfo)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// UnregisterToken removes the caller's device token
// DELETE /api/notifications/token
func (h *NotificationHandler) UnregisterToken(c *gin.Context) {
	if err := h.settings.UnregisterToken(c.Request.Context(), c.GetString("userID")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "token removed"})
}

// TokenStatus reports whether the client should fetch a fresh token
// GET /api/notifications/token/status
func (h *NotificationHandler) TokenStatus(c *gin.Context) {
	status, err := h.settings.TokenStatus(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// ValidateToken dry-runs the stored token against the push provider
// POST /api/notifications/token/validate
func (h *NotificationHandler) ValidateToken(c *gin.Context) {
	status, err := h.settings.ValidateToken(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// SendTest pushes a test notification to the caller
// POST /api/notifications/test
func (h *NotificationHandler) SendTest(c *gin.Context) {
	result, err := h.settings.SendTest(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		respondError(c, err)
		return
	}

	if !result.Success {
		c.JSON(http.StatusBadGateway, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// PublishEvent accepts a social event from an in-cluster caller
// POST /api/internal/events
func (h *NotificationHandler) PublishEvent(c *gin.Context) {
	var e domain.Event
	if err := c.ShouldBindJSON(&e); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	if err := h.dispatcher.Dispatch(e); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"id": e.ID, "status": "queued"})
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, usecase.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, usecase.ErrEmptyToken), errors.Is(err, usecase.ErrUnknownEvent):
		status = http.StatusBadRequest
	case errors.Is(err, usecase.ErrNoToken), errors.Is(err, usecase.ErrPushDisabled):
		status = http.StatusConflict
	case errors.Is(err, fcm.ErrNotInitialized),
		errors.Is(err, worker.ErrPoolOverload),
		errors.Is(err, worker.ErrPoolClosed):
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

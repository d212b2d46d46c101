package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"lumenclean/internal/models"
	"lumenclean/internal/queue"
	"lumenclean/internal/realtime"
	"lumenclean/internal/repository"
	"lumenclean/internal/service"
	"lumenclean/pkg/logger"
)

// Handler serves the HTTP API on top of the service.
type Handler struct {
	svc *service.Service
}

// NewHandler creates a new handler
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// CreateTurnRequest is the body of a turn submission
type CreateTurnRequest struct {
	Speaker       string `json:"speaker" binding:"required" example:"User"`
	Text          string `json:"text" binding:"required" example:"um hi"`
	CleaningLevel string `json:"cleaning_level,omitempty" example:"full"`
}

// CreateTurnResponse carries the id of the accepted turn
type CreateTurnResponse struct {
	TurnID string `json:"turn_id"`
}

// UpdateSettingsRequest changes only the fields that are present
type UpdateSettingsRequest struct {
	WindowSize              *int                `json:"window_size,omitempty"`
	CleaningLevel           *string             `json:"cleaning_level,omitempty"`
	SkipTranscriptionErrors *bool               `json:"skip_transcription_errors,omitempty"`
	ModelParams             *models.ModelParams `json:"model_params,omitempty"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

// Health reports liveness
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string
// @Router /healthz [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CreateTurn submits a turn for cleaning
// @Summary Submit a turn
// @Description Stores the turn and queues it for cleaning. The cleaned result is delivered over the events stream.
// @Tags turns
// @Accept json
// @Produce json
// @Param id path string true "Conversation ID"
// @Param turn body CreateTurnRequest true "Turn"
// @Success 202 {object} CreateTurnResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Security ApiKeyAuth
// @Security BearerAuth
// @Router /api/v1/conversations/{id}/turns [post]
func (h *Handler) CreateTurn(c *gin.Context) {
	var req CreateTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body: " + err.Error()})
		return
	}

	speaker, err := models.ParseSpeaker(req.Speaker)
	if err != nil {
		respondError(c, err)
		return
	}
	var opts service.TurnOptions
	if req.CleaningLevel != "" {
		level, err := models.ParseCleaningLevel(req.CleaningLevel)
		if err != nil {
			respondError(c, err)
			return
		}
		opts.CleaningLevel = level
	}

	turnID, err := h.svc.CreateTurn(c.Request.Context(), c.Param("id"), speaker, req.Text, opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, CreateTurnResponse{TurnID: turnID})
}

// GetConversation returns a conversation and its settings
// @Summary Get conversation
// @Tags conversations
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} models.Conversation
// @Failure 404 {object} ErrorResponse
// @Security ApiKeyAuth
// @Security BearerAuth
// @Router /api/v1/conversations/{id} [get]
func (h *Handler) GetConversation(c *gin.Context) {
	conv, err := h.svc.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// UpdateSettings patches a conversation's settings
// @Summary Update conversation settings
// @Tags conversations
// @Accept json
// @Produce json
// @Param id path string true "Conversation ID"
// @Param settings body UpdateSettingsRequest true "Settings to change"
// @Success 200 {object} models.Conversation
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Security ApiKeyAuth
// @Security BearerAuth
// @Router /api/v1/conversations/{id}/settings [patch]
func (h *Handler) UpdateSettings(c *gin.Context) {
	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	conv, err := h.svc.GetConversation(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	settings := conv.Settings()
	if req.WindowSize != nil {
		settings.WindowSize = *req.WindowSize
	}
	if req.CleaningLevel != nil {
		level, err := models.ParseCleaningLevel(*req.CleaningLevel)
		if err != nil {
			respondError(c, err)
			return
		}
		settings.CleaningLevel = level
	}
	if req.SkipTranscriptionErrors != nil {
		settings.SkipTranscriptionErrors = *req.SkipTranscriptionErrors
	}
	if req.ModelParams != nil {
		settings.ModelParams = *req.ModelParams
	}

	updated, err := h.svc.UpdateSettings(ctx, conv.ID, settings)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// ListTurns lists a conversation's turns in submission order
// @Summary List turns
// @Tags turns
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {array} models.Turn
// @Failure 404 {object} ErrorResponse
// @Security ApiKeyAuth
// @Security BearerAuth
// @Router /api/v1/conversations/{id}/turns [get]
func (h *Handler) ListTurns(c *gin.Context) {
	turns, err := h.svc.ListTurns(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, turns)
}

// GetTurn returns one turn
// @Summary Get turn
// @Tags turns
// @Produce json
// @Param id path string true "Turn ID"
// @Success 200 {object} models.Turn
// @Failure 404 {object} ErrorResponse
// @Security ApiKeyAuth
// @Security BearerAuth
// @Router /api/v1/turns/{id} [get]
func (h *Handler) GetTurn(c *gin.Context) {
	turn, err := h.svc.GetTurn(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, turn)
}

// ConversationQueueStatus returns queue metrics scoped to a conversation
// @Summary Conversation queue status
// @Tags queue
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} queue.Metrics
// @Failure 400 {object} ErrorResponse
// @Security ApiKeyAuth
// @Security BearerAuth
// @Router /api/v1/conversations/{id}/queue [get]
func (h *Handler) ConversationQueueStatus(c *gin.Context) {
	id := c.Param("id")
	if err := models.ValidateConversationID(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.svc.GetQueueStatus(id))
}

// QueueStatus returns global queue metrics
// @Summary Queue status
// @Tags queue
// @Produce json
// @Success 200 {object} queue.Metrics
// @Security ApiKeyAuth
// @Security BearerAuth
// @Router /api/v1/queue [get]
func (h *Handler) QueueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.GetQueueStatus(""))
}

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidConversation),
		errors.Is(err, models.ErrInvalidSpeaker),
		errors.Is(err, models.ErrInvalidLevel),
		errors.Is(err, models.ErrInvalidSettings),
		errors.Is(err, service.ErrEmptyText):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrConversationNotFound),
		errors.Is(err, repository.ErrTurnNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, queue.ErrQueueStopped), errors.Is(err, realtime.ErrPublisherClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", "path", c.FullPath(), "error", err)
		c.JSON(status, ErrorResponse{Error: "internal error"})
		return
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
}

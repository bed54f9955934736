package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/grading-service/internal/services"
)

// AttemptHandler exposes attempt results, responses and public-link guest
// entry.
type AttemptHandler struct {
	BaseHandler
	attempts services.AttemptService
}

func NewAttemptHandler(attempts services.AttemptService, logger *slog.Logger) *AttemptHandler {
	return &AttemptHandler{
		BaseHandler: NewBaseHandler(logger),
		attempts:    attempts,
	}
}

// GetResult returns the release-gated result of the student's own attempt
// @Summary Get attempt result
// @Tags attempts
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} SuccessResponse{data=services.AttemptResultView}
// @Failure 403 {object} ErrorResponse
// @Router /attempts/{id}/result [get]
func (h *AttemptHandler) GetResult(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	result, err := h.attempts.GetStudentResult(c.Request.Context(), id, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Attempt result retrieved",
		Data:    result,
	})
}

// StartGuestAttempt admits a guest through a public link token
// @Summary Start guest attempt
// @Tags attempts
// @Accept json
// @Produce json
// @Param attempt body services.StartGuestAttemptRequest true "Guest attempt data"
// @Success 201 {object} SuccessResponse{data=models.Attempt}
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /public/attempts/start [post]
func (h *AttemptHandler) StartGuestAttempt(c *gin.Context) {
	h.LogRequest(c, "Starting guest attempt")

	var req services.StartGuestAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	attempt, err := h.attempts.StartGuestAttempt(c.Request.Context(), &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, SuccessResponse{
		Message: "Guest attempt started",
		Data:    attempt,
	})
}

// CreatePublicLink mints a guest entry token for an exam
// @Summary Create public link
// @Tags attempts
// @Accept json
// @Produce json
// @Param link body services.CreatePublicLinkRequest true "Link data"
// @Success 201 {object} SuccessResponse{data=models.PublicLink}
// @Failure 403 {object} ErrorResponse
// @Router /attempts/links [post]
func (h *AttemptHandler) CreatePublicLink(c *gin.Context) {
	h.LogRequest(c, "Creating public link")

	var req services.CreatePublicLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	link, err := h.attempts.CreatePublicLink(c.Request.Context(), &req, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, SuccessResponse{
		Message: "Public link created",
		Data:    link,
	})
}

type submitResponseRequest struct {
	Payload json.RawMessage `json:"payload" binding:"required"`
}

// SubmitResponse stores the taker's answer for one attempt item
// @Summary Submit response
// @Tags attempts
// @Accept json
// @Produce json
// @Param item_id path uint true "Attempt item ID"
// @Param response body submitResponseRequest true "Answer payload"
// @Success 200 {object} SuccessResponse
// @Router /attempts/items/{item_id}/response [post]
func (h *AttemptHandler) SubmitResponse(c *gin.Context) {
	itemID := h.parseIDParam(c, "item_id")
	if itemID == 0 {
		return
	}

	var req submitResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	if err := h.attempts.SubmitResponse(c.Request.Context(), itemID, req.Payload); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Response saved",
	})
}

// SubmitAttempt finalizes an attempt
// @Summary Submit attempt
// @Tags attempts
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} SuccessResponse{data=models.Attempt}
// @Router /attempts/{id}/submit [post]
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Submitting attempt", "attempt_id", id)

	attempt, err := h.attempts.SubmitAttempt(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Attempt submitted",
		Data:    attempt,
	})
}

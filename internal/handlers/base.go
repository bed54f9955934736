package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/grading-service/internal/services"
)

// ErrorResponse is the envelope for all error replies.
type ErrorResponse struct {
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// SuccessResponse is the envelope for data replies.
type SuccessResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// BaseHandler carries the shared handler utilities.
type BaseHandler struct {
	logger *slog.Logger
}

func NewBaseHandler(logger *slog.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

func (h *BaseHandler) LogRequest(c *gin.Context, msg string, args ...any) {
	args = append(args, "method", c.Request.Method, "path", c.Request.URL.Path)
	if requestID := c.GetString("request_id"); requestID != "" {
		args = append(args, "request_id", requestID)
	}
	h.logger.Info(msg, args...)
}

func (h *BaseHandler) getUserID(c *gin.Context) string {
	userID, exists := c.Get("user_id")
	if !exists {
		return ""
	}
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// parseIDParam parses a uint path parameter; on failure it writes the 400
// itself and returns 0.
func (h *BaseHandler) parseIDParam(c *gin.Context, param string) uint {
	idStr := c.Param(param)
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + param,
			Details: err.Error(),
		})
		return 0
	}
	return uint(id)
}

func (h *BaseHandler) parseUintQuery(c *gin.Context, param string) (*uint, bool) {
	valueStr := c.Query(param)
	if valueStr == "" {
		return nil, true
	}
	value, err := strconv.ParseUint(valueStr, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + param,
			Details: err.Error(),
		})
		return nil, false
	}
	id := uint(value)
	return &id, true
}

// handleServiceError maps service errors to HTTP replies.
func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
	var validationError *services.ValidationError
	if errors.As(err, &validationError) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: validationError.Errors,
		})
		return
	}

	var permissionError *services.PermissionError
	if errors.As(err, &permissionError) {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Access denied",
			Details: map[string]any{"action": permissionError.Action},
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrAttemptNotFound),
		errors.Is(err, services.ErrAttemptItemNotFound),
		errors.Is(err, services.ErrDecisionNotFound),
		errors.Is(err, services.ErrAppealNotFound),
		errors.Is(err, services.ErrVersionNotFound),
		errors.Is(err, services.ErrAIGradingNotFound),
		errors.Is(err, services.ErrLinkNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: err.Error()})
	case errors.Is(err, services.ErrAppealClosed),
		errors.Is(err, services.ErrLinkExhausted),
		errors.Is(err, services.ErrAIGradingNotApproved),
		errors.Is(err, services.ErrRecomputeInProgress),
		errors.Is(err, services.ErrGradesNotReleased),
		errors.Is(err, services.ErrReasonRequired):
		c.JSON(http.StatusConflict, ErrorResponse{Message: err.Error()})
	case errors.Is(err, services.ErrLinkExpired):
		c.JSON(http.StatusGone, ErrorResponse{Message: err.Error()})
	default:
		h.logger.Error("Internal service error", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
		})
	}
}

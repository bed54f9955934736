package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/grading-service/internal/services"
)

// AppealHandler exposes the student appeal workflow.
type AppealHandler struct {
	BaseHandler
	appeals services.AppealService
}

func NewAppealHandler(appeals services.AppealService, logger *slog.Logger) *AppealHandler {
	return &AppealHandler{
		BaseHandler: NewBaseHandler(logger),
		appeals:     appeals,
	}
}

// CreateAppeal opens an appeal on one of the student's own items
// @Summary Create appeal
// @Tags appeals
// @Accept json
// @Produce json
// @Param appeal body services.CreateAppealRequest true "Appeal data"
// @Success 201 {object} SuccessResponse{data=models.Appeal}
// @Router /appeals [post]
func (h *AppealHandler) CreateAppeal(c *gin.Context) {
	h.LogRequest(c, "Creating appeal")

	var req services.CreateAppealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	appeal, err := h.appeals.Create(c.Request.Context(), &req, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, SuccessResponse{
		Message: "Appeal created",
		Data:    appeal,
	})
}

// ListMyAppeals lists the calling student's appeals
// @Summary List own appeals
// @Tags appeals
// @Produce json
// @Success 200 {object} SuccessResponse{data=[]models.Appeal}
// @Router /appeals/me [get]
func (h *AppealHandler) ListMyAppeals(c *gin.Context) {
	appeals, err := h.appeals.ListByStudent(c.Request.Context(), h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Appeals retrieved",
		Data:    appeals,
	})
}

// StartReview moves an appeal into the reviewing state
// @Summary Start appeal review
// @Tags appeals
// @Produce json
// @Param id path uint true "Appeal ID"
// @Success 200 {object} SuccessResponse{data=models.Appeal}
// @Router /appeals/{id}/review [post]
func (h *AppealHandler) StartReview(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Starting appeal review", "appeal_id", id)

	appeal, err := h.appeals.StartReview(c.Request.Context(), id, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Appeal review started",
		Data:    appeal,
	})
}

type rejectAppealRequest struct {
	Reason string `json:"reason"`
}

// RejectAppeal closes an appeal without changing any score
// @Summary Reject appeal
// @Tags appeals
// @Accept json
// @Produce json
// @Param id path uint true "Appeal ID"
// @Success 200 {object} SuccessResponse{data=models.Appeal}
// @Router /appeals/{id}/reject [post]
func (h *AppealHandler) RejectAppeal(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req rejectAppealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	h.LogRequest(c, "Rejecting appeal", "appeal_id", id)

	appeal, err := h.appeals.Reject(c.Request.Context(), id, req.Reason, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Appeal rejected",
		Data:    appeal,
	})
}

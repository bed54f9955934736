package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/services"
)

// LeaderboardHandler serves the opt-in class leaderboards.
type LeaderboardHandler struct {
	BaseHandler
	leaderboards services.LeaderboardService
}

func NewLeaderboardHandler(leaderboards services.LeaderboardService, logger *slog.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{
		BaseHandler:  NewBaseHandler(logger),
		leaderboards: leaderboards,
	}
}

// GetLeaderboard returns the current ranking for a class and period
// @Summary Get leaderboard
// @Tags leaderboards
// @Produce json
// @Param class_id query uint false "Class ID (omit for global)"
// @Param period query string true "weekly, monthly or all_time"
// @Success 200 {object} SuccessResponse{data=services.LeaderboardResult}
// @Router /leaderboards [get]
func (h *LeaderboardHandler) GetLeaderboard(c *gin.Context) {
	classID, ok := h.parseUintQuery(c, "class_id")
	if !ok {
		return
	}
	period := models.LeaderboardPeriod(c.DefaultQuery("period", string(models.PeriodAllTime)))

	result, err := h.leaderboards.Get(c.Request.Context(), classID, period)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Leaderboard retrieved",
		Data:    result,
	})
}

// RecomputeLeaderboard forces a rebuild of one leaderboard
// @Summary Recompute leaderboard
// @Tags leaderboards
// @Produce json
// @Param class_id query uint false "Class ID (omit for global)"
// @Param period query string true "weekly, monthly or all_time"
// @Success 200 {object} SuccessResponse{data=services.LeaderboardResult}
// @Router /leaderboards/recompute [post]
func (h *LeaderboardHandler) RecomputeLeaderboard(c *gin.Context) {
	classID, ok := h.parseUintQuery(c, "class_id")
	if !ok {
		return
	}
	period := models.LeaderboardPeriod(c.DefaultQuery("period", string(models.PeriodAllTime)))

	h.LogRequest(c, "Recomputing leaderboard", "period", period)

	result, err := h.leaderboards.ComputeAndStore(c.Request.Context(), classID, period)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Leaderboard recomputed",
		Data:    result,
	})
}

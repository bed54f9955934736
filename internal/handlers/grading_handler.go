package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/services"
)

// GradingHandler exposes score resolution, regrade decisions and AI drafts.
type GradingHandler struct {
	BaseHandler
	regrades  services.RegradeService
	resolver  services.ScoreResolver
	aiGrading services.AIGradingService
	attempts  services.AttemptService
}

func NewGradingHandler(
	regrades services.RegradeService,
	resolver services.ScoreResolver,
	aiGrading services.AIGradingService,
	attempts services.AttemptService,
	logger *slog.Logger,
) *GradingHandler {
	return &GradingHandler{
		BaseHandler: NewBaseHandler(logger),
		regrades:    regrades,
		resolver:    resolver,
		aiGrading:   aiGrading,
		attempts:    attempts,
	}
}

// ApplyDecision records a regrade ruling and schedules its propagation
// @Summary Apply regrade decision
// @Tags grading
// @Accept json
// @Produce json
// @Param decision body services.ApplyDecisionRequest true "Decision data"
// @Success 201 {object} SuccessResponse{data=models.RegradeDecision}
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /grading/decisions [post]
func (h *GradingHandler) ApplyDecision(c *gin.Context) {
	h.LogRequest(c, "Applying regrade decision")

	var req services.ApplyDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	decision, err := h.regrades.ApplyDecision(c.Request.Context(), &req, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, SuccessResponse{
		Message: "Regrade decision applied",
		Data:    decision,
	})
}

// PreviewDecision reports how many attempt items a decision would touch
// @Summary Preview regrade blast radius
// @Tags grading
// @Produce json
// @Param scope query string true "attempt_item or question_version"
// @Param target_id query uint true "Target ID"
// @Success 200 {object} SuccessResponse
// @Router /grading/decisions/preview [get]
func (h *GradingHandler) PreviewDecision(c *gin.Context) {
	scope := models.DecisionScope(c.Query("scope"))
	if scope != models.ScopeAttemptItem && scope != models.ScopeQuestionVersion {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "scope must be attempt_item or question_version",
		})
		return
	}

	targetID, ok := h.parseUintQuery(c, "target_id")
	if !ok {
		return
	}
	if targetID == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "target_id is required"})
		return
	}

	h.LogRequest(c, "Previewing regrade decision", "scope", scope, "target_id", *targetID)

	count, err := h.regrades.PreviewAffectedCount(c.Request.Context(), scope, *targetID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Affected count computed",
		Data:    gin.H{"affected_items": count},
	})
}

// GetItemScore resolves the effective score of one attempt item
// @Summary Resolve attempt item score
// @Tags grading
// @Produce json
// @Param id path uint true "Attempt item ID"
// @Success 200 {object} SuccessResponse{data=services.ResolvedScore}
// @Router /grading/items/{id}/score [get]
func (h *GradingHandler) GetItemScore(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	score, err := h.resolver.Resolve(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Score resolved",
		Data:    score,
	})
}

// PreviewMatchingCredit reports the would-be pair-level credit fraction
// @Summary Preview matching partial credit
// @Tags grading
// @Produce json
// @Param id path uint true "Attempt item ID"
// @Success 200 {object} SuccessResponse
// @Router /grading/items/{id}/matching-credit [get]
func (h *GradingHandler) PreviewMatchingCredit(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	fraction, err := h.attempts.PreviewMatchingCredit(c.Request.Context(), id, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Matching credit previewed",
		Data:    gin.H{"credit_fraction": fraction},
	})
}

// GenerateAIDraft asks the model for a grading draft of one item
// @Summary Generate AI grading draft
// @Tags grading
// @Produce json
// @Param id path uint true "Attempt item ID"
// @Success 201 {object} SuccessResponse{data=models.AIGrading}
// @Router /grading/items/{id}/ai-draft [post]
func (h *GradingHandler) GenerateAIDraft(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Generating AI grading draft", "attempt_item_id", id)

	grading, err := h.aiGrading.GenerateDraft(c.Request.Context(), id, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, SuccessResponse{
		Message: "AI grading draft generated",
		Data:    grading,
	})
}

type reviewAIDraftRequest struct {
	Approve bool `json:"approve"`
}

// ReviewAIDraft approves or rejects an AI grading draft
// @Summary Review AI grading draft
// @Tags grading
// @Accept json
// @Produce json
// @Param id path uint true "AI grading ID"
// @Success 200 {object} SuccessResponse{data=models.AIGrading}
// @Router /grading/ai-drafts/{id}/review [post]
func (h *GradingHandler) ReviewAIDraft(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req reviewAIDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	h.LogRequest(c, "Reviewing AI grading draft", "ai_grading_id", id, "approve", req.Approve)

	grading, err := h.aiGrading.Review(c.Request.Context(), id, req.Approve, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "AI grading draft reviewed",
		Data:    grading,
	})
}

// ApplyAIDraft turns an approved draft into a draft rubric score
// @Summary Apply AI grading draft
// @Tags grading
// @Produce json
// @Param id path uint true "AI grading ID"
// @Success 200 {object} SuccessResponse{data=models.RubricScore}
// @Router /grading/ai-drafts/{id}/apply [post]
func (h *GradingHandler) ApplyAIDraft(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Applying AI grading draft", "ai_grading_id", id)

	score, err := h.aiGrading.ApplyDraft(c.Request.Context(), id, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "AI grading draft applied",
		Data:    score,
	})
}

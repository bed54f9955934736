package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/grading-service/internal/services"
)

// GradebookHandler exposes term grade computation, overrides and export.
type GradebookHandler struct {
	BaseHandler
	termGrades services.TermGradeService
}

func NewGradebookHandler(termGrades services.TermGradeService, logger *slog.Logger) *GradebookHandler {
	return &GradebookHandler{
		BaseHandler: NewBaseHandler(logger),
		termGrades:  termGrades,
	}
}

// GetTermGrade computes the current term grade breakdown for one student
// @Summary Get term grade
// @Tags gradebook
// @Produce json
// @Param term_id path uint true "Term ID"
// @Param student_id path string true "Student ID"
// @Param class_id query uint false "Class ID filter"
// @Success 200 {object} SuccessResponse{data=services.TermGradeResult}
// @Router /gradebook/terms/{term_id}/students/{student_id} [get]
func (h *GradebookHandler) GetTermGrade(c *gin.Context) {
	termID := h.parseIDParam(c, "term_id")
	if termID == 0 {
		return
	}
	studentID := c.Param("student_id")
	classID, ok := h.parseUintQuery(c, "class_id")
	if !ok {
		return
	}

	result, err := h.termGrades.Compute(c.Request.Context(), termID, studentID, classID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Term grade computed",
		Data:    result,
	})
}

// RecomputeTermGrade recomputes and persists one student's term grade
// @Summary Recompute term grade
// @Tags gradebook
// @Produce json
// @Param term_id path uint true "Term ID"
// @Param student_id path string true "Student ID"
// @Success 200 {object} SuccessResponse{data=services.TermGradeResult}
// @Failure 409 {object} ErrorResponse
// @Router /gradebook/terms/{term_id}/students/{student_id}/recompute [post]
func (h *GradebookHandler) RecomputeTermGrade(c *gin.Context) {
	termID := h.parseIDParam(c, "term_id")
	if termID == 0 {
		return
	}
	studentID := c.Param("student_id")

	h.LogRequest(c, "Recomputing term grade", "term_id", termID, "student_id", studentID)

	result, err := h.termGrades.Recompute(c.Request.Context(), termID, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Term grade recomputed",
		Data:    result,
	})
}

// OverrideTermGrade sets or clears a manual term grade override
// @Summary Override term grade
// @Tags gradebook
// @Accept json
// @Produce json
// @Param term_id path uint true "Term ID"
// @Param student_id path string true "Student ID"
// @Param override body services.OverrideTermGradeRequest true "Override data"
// @Success 200 {object} SuccessResponse
// @Router /gradebook/terms/{term_id}/students/{student_id}/override [put]
func (h *GradebookHandler) OverrideTermGrade(c *gin.Context) {
	termID := h.parseIDParam(c, "term_id")
	if termID == 0 {
		return
	}
	studentID := c.Param("student_id")

	var req services.OverrideTermGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	h.LogRequest(c, "Overriding term grade", "term_id", termID, "student_id", studentID)

	if err := h.termGrades.SetOverride(c.Request.Context(), termID, studentID, &req, h.getUserID(c)); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Term grade override saved",
	})
}

// ExportTerm downloads the term gradebook as an xlsx workbook
// @Summary Export term gradebook
// @Tags gradebook
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param term_id path uint true "Term ID"
// @Param class_id query uint false "Class ID filter"
// @Success 200 {file} binary
// @Router /gradebook/terms/{term_id}/export [get]
func (h *GradebookHandler) ExportTerm(c *gin.Context) {
	termID := h.parseIDParam(c, "term_id")
	if termID == 0 {
		return
	}
	classID, ok := h.parseUintQuery(c, "class_id")
	if !ok {
		return
	}

	h.LogRequest(c, "Exporting term gradebook", "term_id", termID)

	data, err := h.termGrades.ExportTerm(c.Request.Context(), termID, classID, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	filename := fmt.Sprintf("term_%d_gradebook.xlsx", termID)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

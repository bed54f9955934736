package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
	"github.com/SAP-F-2025/grading-service/internal/validator"
)

type appealService struct {
	repo      repositories.Repository
	validator *validator.BusinessValidator
	logger    *slog.Logger
}

func NewAppealService(repo repositories.Repository, v *validator.BusinessValidator, logger *slog.Logger) AppealService {
	return &appealService{
		repo:      repo,
		validator: v,
		logger:    logger,
	}
}

// Create opens an appeal on one of the student's own, release-visible items.
// Resolution happens through a regrade decision, never here.
func (s *appealService) Create(ctx context.Context, req *CreateAppealRequest, studentID string) (*models.Appeal, error) {
	if errs := s.validator.Validate(req); errs.HasErrors() {
		return nil, NewValidationError(errs)
	}

	item, err := s.repo.Attempt().GetItem(ctx, req.AttemptItemID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptItemNotFound
		}
		return nil, err
	}
	if item.Attempt == nil || item.Attempt.StudentID == nil || *item.Attempt.StudentID != studentID {
		return nil, NewPermissionError(studentID, "appeal this attempt item")
	}
	if !item.Attempt.IsReleaseVisible(time.Now()) {
		return nil, ErrGradesNotReleased
	}

	appeal := &models.Appeal{
		AttemptItemID: item.ID,
		StudentID:     studentID,
		Reason:        strings.TrimSpace(req.Reason),
		Status:        models.AppealOpen,
	}
	if err := s.repo.Grading().CreateAppeal(ctx, appeal); err != nil {
		return nil, err
	}

	s.logger.Info("appeal created",
		"appeal_id", appeal.ID, "attempt_item_id", item.ID, "student_id", studentID)
	return appeal, nil
}

func (s *appealService) StartReview(ctx context.Context, appealID uint, teacherID string) (*models.Appeal, error) {
	if err := requireGrader(ctx, s.repo, teacherID, "review appeals"); err != nil {
		return nil, err
	}

	appeal, err := s.getOpenAppeal(ctx, appealID)
	if err != nil {
		return nil, err
	}
	appeal.Status = models.AppealReviewing
	if err := s.repo.Grading().UpdateAppeal(ctx, appeal); err != nil {
		return nil, err
	}
	return appeal, nil
}

// Reject closes an appeal without touching any score.
func (s *appealService) Reject(ctx context.Context, appealID uint, reason string, teacherID string) (*models.Appeal, error) {
	if err := requireGrader(ctx, s.repo, teacherID, "reject appeals"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, ErrReasonRequired
	}

	appeal, err := s.getOpenAppeal(ctx, appealID)
	if err != nil {
		return nil, err
	}
	appeal.Status = models.AppealRejected
	appeal.ResolvedBy = &teacherID
	if err := s.repo.Grading().UpdateAppeal(ctx, appeal); err != nil {
		return nil, err
	}

	s.logger.Info("appeal rejected",
		"appeal_id", appeal.ID, "teacher_id", teacherID, "reason", reason)
	return appeal, nil
}

func (s *appealService) ListByStudent(ctx context.Context, studentID string) ([]*models.Appeal, error) {
	return s.repo.Grading().ListAppealsByStudent(ctx, studentID)
}

func (s *appealService) getOpenAppeal(ctx context.Context, appealID uint) (*models.Appeal, error) {
	appeal, err := s.repo.Grading().GetAppeal(ctx, appealID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAppealNotFound
		}
		return nil, err
	}
	if !appeal.IsOpen() {
		return nil, ErrAppealClosed
	}
	return appeal, nil
}

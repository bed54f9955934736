package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/SAP-F-2025/grading-service/internal/events"
	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
	"github.com/SAP-F-2025/grading-service/internal/validator"
)

// rescoreChunkSize bounds how many attempt items one rescore job carries.
const rescoreChunkSize = 100

type regradeService struct {
	repo       repositories.Repository
	validator  *validator.BusinessValidator
	dispatcher events.Dispatcher
	logger     *slog.Logger
}

func NewRegradeService(repo repositories.Repository, v *validator.BusinessValidator, dispatcher events.Dispatcher, logger *slog.Logger) RegradeService {
	return &regradeService{
		repo:       repo,
		validator:  v,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (s *regradeService) ApplyDecision(ctx context.Context, req *ApplyDecisionRequest, teacherID string) (*models.RegradeDecision, error) {
	if err := requireGrader(ctx, s.repo, teacherID, "apply regrade decisions"); err != nil {
		return nil, err
	}
	if errs := s.validator.Validate(req); errs.HasErrors() {
		return nil, NewValidationError(errs)
	}
	if err := s.validateTargetAndPayload(req); err != nil {
		return nil, err
	}

	var (
		decision        *models.RegradeDecision
		fanoutVersionID uint
		fanoutItemID    uint
		affectedExamIDs []uint
	)

	err := s.repo.WithTransaction(ctx, func(tx repositories.Repository) error {
		var targetVersion *models.QuestionVersion

		switch req.Scope {
		case models.ScopeAttemptItem:
			item, err := tx.Attempt().GetItem(ctx, *req.AttemptItemID)
			if err != nil {
				if repositories.IsNotFoundError(err) {
					return ErrAttemptItemNotFound
				}
				return err
			}
			targetVersion = item.QuestionVersion
			fanoutItemID = item.ID
			if item.Attempt != nil {
				affectedExamIDs = []uint{item.Attempt.ExamID}
			}
		case models.ScopeQuestionVersion:
			version, err := tx.Question().GetVersion(ctx, *req.QuestionVersionID)
			if err != nil {
				if repositories.IsNotFoundError(err) {
					return ErrVersionNotFound
				}
				return err
			}
			targetVersion = version
			fanoutVersionID = version.ID
			examIDs, err := tx.Attempt().ListExamIDsByVersion(ctx, version.ID)
			if err != nil {
				return err
			}
			affectedExamIDs = examIDs
		}

		payload, err := s.buildPayload(ctx, tx, req, targetVersion, teacherID)
		if err != nil {
			return err
		}

		decision = &models.RegradeDecision{
			Scope:     req.Scope,
			Type:      req.Type,
			Payload:   payload,
			DecidedBy: teacherID,
			DecidedAt: time.Now().UTC(),
		}
		if req.Scope == models.ScopeAttemptItem {
			decision.AttemptItemID = req.AttemptItemID
		} else {
			decision.QuestionVersionID = req.QuestionVersionID
		}
		if err := tx.Grading().CreateDecision(ctx, decision); err != nil {
			return err
		}

		if req.AppealID != nil {
			if err := s.resolveAppeal(ctx, tx, *req.AppealID, decision.ID, teacherID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.scheduleFanout(ctx, decision, fanoutItemID, fanoutVersionID, affectedExamIDs)

	s.logger.Info("regrade decision applied",
		"decision_id", decision.ID,
		"scope", decision.Scope,
		"type", decision.Type,
		"decided_by", teacherID)
	return decision, nil
}

func (s *regradeService) PreviewAffectedCount(ctx context.Context, scope models.DecisionScope, targetID uint) (int64, error) {
	switch scope {
	case models.ScopeAttemptItem:
		_, err := s.repo.Attempt().GetItem(ctx, targetID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return 0, nil
			}
			return 0, err
		}
		return 1, nil
	case models.ScopeQuestionVersion:
		return s.repo.Attempt().CountItemsByVersion(ctx, targetID)
	default:
		return 0, NewFieldValidationError("scope", "unknown decision scope")
	}
}

// validateTargetAndPayload checks scope/target consistency and the
// type-specific payload fields that don't need database state.
func (s *regradeService) validateTargetAndPayload(req *ApplyDecisionRequest) error {
	var errs validator.ValidationErrors

	switch req.Scope {
	case models.ScopeAttemptItem:
		if req.AttemptItemID == nil {
			errs = append(errs, validator.ValidationError{
				Field: "attempt_item_id", Message: "required for attempt_item scope", Rule: "business_logic",
			})
		}
		if req.QuestionVersionID != nil {
			errs = append(errs, validator.ValidationError{
				Field: "question_version_id", Message: "must be empty for attempt_item scope", Rule: "business_logic",
			})
		}
	case models.ScopeQuestionVersion:
		if req.QuestionVersionID == nil {
			errs = append(errs, validator.ValidationError{
				Field: "question_version_id", Message: "required for question_version scope", Rule: "business_logic",
			})
		}
		if req.AttemptItemID != nil {
			errs = append(errs, validator.ValidationError{
				Field: "attempt_item_id", Message: "must be empty for question_version scope", Rule: "business_logic",
			})
		}
	}

	switch req.Type {
	case models.DecisionPartialCredit:
		if req.NewPoints == nil {
			errs = append(errs, validator.ValidationError{
				Field: "new_points", Message: "required for partial_credit", Rule: "business_logic",
			})
		}
		if strings.TrimSpace(req.Reason) == "" {
			errs = append(errs, validator.ValidationError{
				Field: "reason", Message: "a reason is required for partial_credit", Rule: "business_logic",
			})
		}
	case models.DecisionVoidQuestion:
		if req.Mode != models.VoidGiveFull && req.Mode != models.VoidDropFromTotal {
			errs = append(errs, validator.ValidationError{
				Field: "mode", Message: "mode must be give_full or drop_from_total", Rule: "business_logic",
			})
		}
	case models.DecisionAnswerKeyChange:
		if len(req.NewAnswerKey) == 0 {
			errs = append(errs, validator.ValidationError{
				Field: "new_answer_key", Message: "required for answer_key_change", Rule: "business_logic",
			})
		}
	case models.DecisionRubricChange:
		if len(req.NewRubric) == 0 {
			errs = append(errs, validator.ValidationError{
				Field: "new_rubric", Message: "required for rubric_change", Rule: "business_logic",
			})
		} else {
			errs = append(errs, s.validator.ValidateRubric(req.NewRubric)...)
		}
	}

	if errs.HasErrors() {
		return NewValidationError(errs)
	}
	return nil
}

// buildPayload assembles the decision payload, cloning a question version
// for key/rubric changes. Runs inside the apply transaction.
func (s *regradeService) buildPayload(ctx context.Context, tx repositories.Repository, req *ApplyDecisionRequest, targetVersion *models.QuestionVersion, teacherID string) ([]byte, error) {
	switch req.Type {
	case models.DecisionPartialCredit:
		return mustMarshalJSON(models.PartialCreditPayload{
			NewPoints: *req.NewPoints,
			Reason:    req.Reason,
		}), nil

	case models.DecisionVoidQuestion:
		return mustMarshalJSON(models.VoidQuestionPayload{
			Mode:   req.Mode,
			Reason: req.Reason,
		}), nil

	case models.DecisionAnswerKeyChange:
		if targetVersion == nil {
			return nil, ErrVersionNotFound
		}
		if errs := s.validator.ValidateAnswerKey(targetVersion.Type, req.NewAnswerKey); errs.HasErrors() {
			return nil, NewValidationError(errs)
		}
		newVersion, err := s.cloneVersion(ctx, tx, targetVersion, teacherID, func(v *models.QuestionVersion) {
			v.AnswerKey = []byte(req.NewAnswerKey)
		})
		if err != nil {
			return nil, err
		}
		return mustMarshalJSON(models.AnswerKeyChangePayload{
			NewAnswerKey:      req.NewAnswerKey,
			ReplacedVersionID: targetVersion.ID,
			NewVersionID:      newVersion.ID,
			Reason:            req.Reason,
		}), nil

	case models.DecisionRubricChange:
		if targetVersion == nil {
			return nil, ErrVersionNotFound
		}
		newVersion, err := s.cloneVersion(ctx, tx, targetVersion, teacherID, func(v *models.QuestionVersion) {
			v.Rubric = []byte(req.NewRubric)
		})
		if err != nil {
			return nil, err
		}
		return mustMarshalJSON(models.RubricChangePayload{
			NewRubric:         req.NewRubric,
			ReplacedVersionID: targetVersion.ID,
			NewVersionID:      newVersion.ID,
			Reason:            req.Reason,
		}), nil
	}
	return nil, NewFieldValidationError("type", "unknown decision type")
}

// cloneVersion appends a new version to the chain, copying the target and
// applying mutate to the copy.
func (s *regradeService) cloneVersion(ctx context.Context, tx repositories.Repository, target *models.QuestionVersion, teacherID string, mutate func(*models.QuestionVersion)) (*models.QuestionVersion, error) {
	latest, err := tx.Question().GetLatestVersion(ctx, target.QuestionID)
	if err != nil {
		return nil, err
	}

	newVersion := &models.QuestionVersion{
		QuestionID:    target.QuestionID,
		VersionNumber: latest.VersionNumber + 1,
		Type:          target.Type,
		Content:       target.Content,
		AnswerKey:     target.AnswerKey,
		Rubric:        target.Rubric,
		CreatedBy:     teacherID,
		CreatedAt:     time.Now().UTC(),
	}
	mutate(newVersion)

	if err := tx.Question().CreateVersion(ctx, newVersion); err != nil {
		return nil, err
	}
	return newVersion, nil
}

func (s *regradeService) resolveAppeal(ctx context.Context, tx repositories.Repository, appealID, decisionID uint, teacherID string) error {
	appeal, err := tx.Grading().GetAppeal(ctx, appealID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrAppealNotFound
		}
		return err
	}
	if !appeal.IsOpen() {
		return ErrAppealClosed
	}

	appeal.Status = models.AppealResolved
	appeal.ResolvedBy = &teacherID
	appeal.DecisionID = &decisionID
	return tx.Grading().UpdateAppeal(ctx, appeal)
}

// scheduleFanout dispatches the post-commit propagation: rescore chunks for
// every affected attempt item, then a leaderboard recompute per affected
// class and period. Dispatch failures are logged, not returned; the broker
// side is at-least-once and operators can replay.
func (s *regradeService) scheduleFanout(ctx context.Context, decision *models.RegradeDecision, itemID, versionID uint, examIDs []uint) {
	switch decision.Scope {
	case models.ScopeAttemptItem:
		job := events.RescoreChunkJob{DecisionID: decision.ID, AttemptItemIDs: []uint{itemID}}
		if err := s.dispatcher.Dispatch(ctx, events.JobRescoreChunk, job); err != nil {
			s.logger.Error("failed to dispatch rescore job", "decision_id", decision.ID, "error", err)
		}
	case models.ScopeQuestionVersion:
		for offset := 0; ; offset += rescoreChunkSize {
			ids, err := s.repo.Attempt().ListItemIDsByVersion(ctx, versionID, offset, rescoreChunkSize)
			if err != nil {
				s.logger.Error("failed to page attempt items for rescore",
					"decision_id", decision.ID, "version_id", versionID, "error", err)
				break
			}
			if len(ids) == 0 {
				break
			}
			job := events.RescoreChunkJob{DecisionID: decision.ID, AttemptItemIDs: ids}
			if err := s.dispatcher.Dispatch(ctx, events.JobRescoreChunk, job); err != nil {
				s.logger.Error("failed to dispatch rescore chunk",
					"decision_id", decision.ID, "offset", offset, "error", err)
			}
			if len(ids) < rescoreChunkSize {
				break
			}
		}
	}

	classIDs, err := s.repo.Gradebook().ListClassIDsByExamIDs(ctx, examIDs)
	if err != nil {
		s.logger.Error("failed to resolve affected classes", "decision_id", decision.ID, "error", err)
		return
	}
	periods := []models.LeaderboardPeriod{models.PeriodWeekly, models.PeriodMonthly, models.PeriodAllTime}
	for _, classID := range classIDs {
		classID := classID
		for _, period := range periods {
			job := events.LeaderboardRecomputeJob{ClassID: &classID, Period: period}
			if err := s.dispatcher.Dispatch(ctx, events.JobLeaderboardRecompute, job); err != nil {
				s.logger.Error("failed to dispatch leaderboard recompute",
					"class_id", classID, "period", period, "error", err)
			}
		}
	}
}

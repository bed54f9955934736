package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/SAP-F-2025/grading-service/internal/events"
	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
)

type rescoreService struct {
	repo       repositories.Repository
	dispatcher events.Dispatcher
	logger     *slog.Logger
}

func NewRescoreService(repo repositories.Repository, dispatcher events.Dispatcher, logger *slog.Logger) RescoreService {
	return &rescoreService{
		repo:       repo,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// ProcessChunk rescoring is idempotent: re-delivered chunks upsert the same
// rows and re-append only audit start/finish facts. A vanished decision or
// item is a silent no-op, never an error.
func (s *rescoreService) ProcessChunk(ctx context.Context, decisionID uint, attemptItemIDs []uint) error {
	decision, err := s.repo.Grading().GetDecision(ctx, decisionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			s.logger.Warn("rescore skipped, decision vanished", "decision_id", decisionID)
			return nil
		}
		return err
	}

	var errs []error
	for _, itemID := range attemptItemIDs {
		if err := s.processItem(ctx, decision, itemID); err != nil {
			s.logger.Error("rescore failed for attempt item",
				"decision_id", decisionID, "attempt_item_id", itemID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *rescoreService) processItem(ctx context.Context, decision *models.RegradeDecision, itemID uint) error {
	var termJob *events.TermGradeRecomputeJob

	err := s.repo.WithTransaction(ctx, func(tx repositories.Repository) error {
		item, err := tx.Attempt().GetItem(ctx, itemID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				s.logger.Warn("rescore skipped, attempt item vanished",
					"decision_id", decision.ID, "attempt_item_id", itemID)
				return nil
			}
			return err
		}

		entityID := uitoa(item.ID)
		if err := recordAudit(ctx, tx, models.AuditRegradeStarted, "attempt_item", entityID,
			models.SystemActor, map[string]any{"decision_id": decision.ID}); err != nil {
			return err
		}

		switch decision.Type {
		case models.DecisionAnswerKeyChange:
			if err := s.applyAnswerKeyChange(ctx, tx, decision, item); err != nil {
				return err
			}
		case models.DecisionRubricChange:
			if err := s.applyRubricChange(ctx, tx, decision, item); err != nil {
				return err
			}
		case models.DecisionPartialCredit:
			if err := s.applyPartialCredit(ctx, tx, decision, item); err != nil {
				return err
			}
		case models.DecisionVoidQuestion:
			if err := s.applyVoidQuestion(ctx, tx, decision, item); err != nil {
				return err
			}
		}

		if err := recordAudit(ctx, tx, models.AuditRegradeFinished, "attempt_item", entityID,
			models.SystemActor, map[string]any{"decision_id": decision.ID}); err != nil {
			return err
		}

		// Attempts of enrolled students feed term grades; guest attempts
		// never do.
		if item.Attempt != nil && item.Attempt.StudentID != nil {
			assessment, err := tx.Gradebook().GetAssessmentByExam(ctx, item.Attempt.ExamID)
			if err != nil {
				if !repositories.IsNotFoundError(err) {
					return err
				}
			} else {
				termJob = &events.TermGradeRecomputeJob{
					TermID:    assessment.TermID,
					StudentID: *item.Attempt.StudentID,
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if termJob != nil {
		if err := s.dispatcher.Dispatch(ctx, events.JobTermGradeRecompute, termJob); err != nil {
			s.logger.Error("failed to dispatch term grade recompute",
				"term_id", termJob.TermID, "student_id", termJob.StudentID, "error", err)
		}
	}
	return nil
}

// applyAnswerKeyChange repoints the item at the cloned version and
// auto-rescopes gradable types against the new key. Non-gradable types only
// get flagged for human re-review.
func (s *rescoreService) applyAnswerKeyChange(ctx context.Context, tx repositories.Repository, decision *models.RegradeDecision, item *models.AttemptItem) error {
	payload, err := decision.DecodeAnswerKeyChange()
	if err != nil {
		return err
	}

	version := item.QuestionVersion
	if payload.NewVersionID != 0 && payload.NewVersionID != item.QuestionVersionID {
		version, err = tx.Question().GetVersion(ctx, payload.NewVersionID)
		if err != nil {
			return err
		}
		if err := tx.Attempt().UpdateItemVersion(ctx, item.ID, version.ID); err != nil {
			return err
		}
	}

	if !version.Type.IsAutoGradable() {
		return s.markNeedsReview(ctx, tx, item, decision)
	}

	var response []byte
	if item.Response != nil {
		response = item.Response.Payload
	}
	verdict, err := EvaluateAnswer(version.Type, json.RawMessage(version.AnswerKey), response)
	if err != nil {
		return err
	}

	earned := 0.0
	if verdict.IsCorrect {
		earned = round2(item.MaxPoints)
	}
	return s.upsertScore(ctx, tx, item, models.CriterionAutoGrade, earned, nil, models.SystemActor)
}

// applyRubricChange never changes numbers on its own; a human must regrade
// against the new rubric.
func (s *rescoreService) applyRubricChange(ctx context.Context, tx repositories.Repository, decision *models.RegradeDecision, item *models.AttemptItem) error {
	payload, err := decision.DecodeRubricChange()
	if err != nil {
		return err
	}
	if payload.NewVersionID != 0 && payload.NewVersionID != item.QuestionVersionID {
		if err := tx.Attempt().UpdateItemVersion(ctx, item.ID, payload.NewVersionID); err != nil {
			return err
		}
	}
	return s.markNeedsReview(ctx, tx, item, decision)
}

func (s *rescoreService) applyPartialCredit(ctx context.Context, tx repositories.Repository, decision *models.RegradeDecision, item *models.AttemptItem) error {
	payload, err := decision.DecodePartialCredit()
	if err != nil {
		return err
	}
	if strings.TrimSpace(payload.Reason) == "" {
		return ErrReasonRequired
	}

	earned := round2(clamp(payload.NewPoints, 0, item.MaxPoints))
	if err := s.upsertScore(ctx, tx, item, models.CriterionPartialCredit, earned, &payload.Reason, decision.DecidedBy); err != nil {
		return err
	}

	return recordAudit(ctx, tx, models.AuditManualOverride, "attempt_item", uitoa(item.ID),
		decision.DecidedBy, map[string]any{
			"decision_id": decision.ID,
			"new_points":  earned,
			"reason":      payload.Reason,
		})
}

func (s *rescoreService) applyVoidQuestion(ctx context.Context, tx repositories.Repository, decision *models.RegradeDecision, item *models.AttemptItem) error {
	payload, err := decision.DecodeVoidQuestion()
	if err != nil {
		return err
	}

	earned := round2(item.MaxPoints)
	if payload.Mode == models.VoidDropFromTotal {
		earned = 0
		if err := tx.Attempt().UpdateItemMaxPoints(ctx, item.ID, 0); err != nil {
			return err
		}
	}

	var reason *string
	if payload.Reason != "" {
		reason = &payload.Reason
	}
	return s.upsertScore(ctx, tx, item, models.CriterionVoidQuestion, earned, reason, decision.DecidedBy)
}

func (s *rescoreService) upsertScore(ctx context.Context, tx repositories.Repository, item *models.AttemptItem, criterion string, earned float64, reason *string, gradedBy string) error {
	entries := mustMarshalJSON([]models.RubricScoreEntry{{
		Criterion: criterion,
		Points:    earned,
		MaxPoints: round2(item.MaxPoints),
	}})
	score := &models.RubricScore{
		AttemptItemID: item.ID,
		Entries:       entries,
		TotalPoints:   earned,
		IsDraft:       false,
		GradedBy:      &gradedBy,
		Reason:        reason,
	}
	return tx.Grading().UpsertRubricScore(ctx, score)
}

// markNeedsReview parks the item in the human review queue via its AI
// grading row, keeping any existing draft content.
func (s *rescoreService) markNeedsReview(ctx context.Context, tx repositories.Repository, item *models.AttemptItem, decision *models.RegradeDecision) error {
	grading, err := tx.Grading().GetAIGradingByItem(ctx, item.ID)
	if err != nil {
		if !repositories.IsNotFoundError(err) {
			return err
		}
		grading = &models.AIGrading{AttemptItemID: item.ID}
	}

	grading.Status = models.AIGradingNeedsReview
	flags := grading.DecodeFlags()
	if !grading.HasFlag(models.FlagNeedsTeacherReview) {
		flags = append(flags, models.FlagNeedsTeacherReview)
	}
	grading.Flags = mustMarshalJSON(flags)

	s.logger.Info("attempt item flagged for re-review",
		"attempt_item_id", item.ID, "decision_id", decision.ID)
	return tx.Grading().UpsertAIGrading(ctx, grading)
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
	"github.com/SAP-F-2025/grading-service/internal/validator"
)

type attemptService struct {
	repo      repositories.Repository
	resolver  ScoreResolver
	validator *validator.BusinessValidator
	logger    *slog.Logger
}

func NewAttemptService(repo repositories.Repository, resolver ScoreResolver, v *validator.BusinessValidator, logger *slog.Logger) AttemptService {
	return &attemptService{
		repo:      repo,
		resolver:  resolver,
		validator: v,
		logger:    logger,
	}
}

// GetStudentResult returns the taker-facing result. Before release
// visibility, every score is withheld and only the release schedule leaks.
func (s *attemptService) GetStudentResult(ctx context.Context, attemptID uint, studentID string) (*AttemptResultView, error) {
	attempt, err := s.repo.Attempt().GetWithItems(ctx, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, err
	}
	if attempt.StudentID == nil || *attempt.StudentID != studentID {
		return nil, NewPermissionError(studentID, "view this attempt result")
	}

	view := &AttemptResultView{
		AttemptID:  attempt.ID,
		GradeState: attempt.GradeState,
		ReleaseAt:  attempt.ReleaseAt,
	}

	if !attempt.IsReleaseVisible(time.Now()) {
		if attempt.ReleaseAt != nil {
			view.Message = fmt.Sprintf("grades release at %s",
				attempt.ReleaseAt.UTC().Format(time.RFC3339))
		} else {
			view.Message = "grades have not been released yet"
		}
		return view, nil
	}

	scores, err := s.resolver.ResolveAttempt(ctx, attempt)
	if err != nil {
		return nil, err
	}

	view.Visible = true
	for _, item := range attempt.Items {
		itemView := ItemResultView{
			AttemptItemID: item.ID,
			Position:      item.Position,
		}
		if item.QuestionVersion != nil {
			itemView.QuestionType = item.QuestionVersion.Type
		}
		if score := scores[item.ID]; score != nil {
			itemView.Score = score
			view.TotalEarned += score.Earned
			view.TotalMax += score.Max
		}
		view.Items = append(view.Items, itemView)
	}
	view.TotalEarned = round2(view.TotalEarned)
	view.TotalMax = round2(view.TotalMax)
	if view.TotalMax > 0 {
		percent := round2(view.TotalEarned / view.TotalMax * 100)
		view.Percent = &percent
	}
	return view, nil
}

// StartGuestAttempt admits a guest through a public link. The link row is
// locked before the capacity check so concurrent guests cannot oversubscribe.
func (s *attemptService) StartGuestAttempt(ctx context.Context, req *StartGuestAttemptRequest) (*models.Attempt, error) {
	if errs := s.validator.Validate(req); errs.HasErrors() {
		return nil, NewValidationError(errs)
	}

	var attempt *models.Attempt
	err := s.repo.WithTransaction(ctx, func(tx repositories.Repository) error {
		link, err := tx.Attempt().GetLinkByTokenForUpdate(ctx, req.Token)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrLinkNotFound
			}
			return err
		}
		if link.IsExpired(time.Now()) {
			return ErrLinkExpired
		}
		if link.MaxAttempts > 0 {
			count, err := tx.Attempt().CountAttemptsByLink(ctx, link.ID)
			if err != nil {
				return err
			}
			if count >= int64(link.MaxAttempts) {
				return ErrLinkExhausted
			}
		}

		guestName := req.GuestName
		attempt = &models.Attempt{
			ExamID:       link.ExamID,
			GuestName:    &guestName,
			PublicLinkID: &link.ID,
			GradeState:   models.GradePending,
			StartedAt:    time.Now().UTC(),
		}
		if err := attempt.Validate(); err != nil {
			return err
		}
		return tx.Attempt().Create(ctx, attempt)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("guest attempt started",
		"attempt_id", attempt.ID, "exam_id", attempt.ExamID, "public_link_id", *attempt.PublicLinkID)
	return attempt, nil
}

func (s *attemptService) CreatePublicLink(ctx context.Context, req *CreatePublicLinkRequest, teacherID string) (*models.PublicLink, error) {
	if err := requireGrader(ctx, s.repo, teacherID, "create a public link"); err != nil {
		return nil, err
	}
	if errs := s.validator.Validate(req); errs.HasErrors() {
		return nil, NewValidationError(errs)
	}
	if req.ExpiresAt != nil && req.ExpiresAt.Before(time.Now()) {
		return nil, NewFieldValidationError("expires_at", "must be in the future")
	}

	link := &models.PublicLink{
		ExamID:      req.ExamID,
		Token:       uuid.NewString(),
		MaxAttempts: req.MaxAttempts,
		ExpiresAt:   req.ExpiresAt,
		CreatedBy:   teacherID,
	}
	if err := s.repo.Attempt().CreateLink(ctx, link); err != nil {
		return nil, err
	}

	s.logger.Info("public link created",
		"public_link_id", link.ID, "exam_id", link.ExamID, "max_attempts", link.MaxAttempts)
	return link, nil
}

func (s *attemptService) SubmitResponse(ctx context.Context, attemptItemID uint, payload json.RawMessage) error {
	item, err := s.repo.Attempt().GetItem(ctx, attemptItemID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrAttemptItemNotFound
		}
		return err
	}
	if item.Attempt != nil && item.Attempt.SubmittedAt != nil {
		return NewFieldValidationError("attempt_item_id", "attempt is already submitted")
	}

	return s.repo.Attempt().UpsertResponse(ctx, &models.Response{
		AttemptItemID: item.ID,
		Payload:       []byte(payload),
		SubmittedAt:   time.Now().UTC(),
	})
}

// SubmitAttempt is idempotent: re-submitting a submitted attempt returns it
// unchanged.
func (s *attemptService) SubmitAttempt(ctx context.Context, attemptID uint) (*models.Attempt, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, err
	}
	if attempt.SubmittedAt != nil {
		return attempt, nil
	}

	now := time.Now().UTC()
	attempt.SubmittedAt = &now
	if err := s.repo.Attempt().Update(ctx, attempt); err != nil {
		return nil, err
	}

	s.logger.Info("attempt submitted", "attempt_id", attempt.ID, "exam_id", attempt.ExamID)
	return attempt, nil
}

// PreviewMatchingCredit reports the credit fraction a matching response
// would earn under pair-level partial credit. Resolution stays all-or-nothing;
// this is a teacher-facing what-if.
func (s *attemptService) PreviewMatchingCredit(ctx context.Context, attemptItemID uint, teacherID string) (float64, error) {
	if err := requireGrader(ctx, s.repo, teacherID, "preview matching credit"); err != nil {
		return 0, err
	}

	item, err := s.repo.Attempt().GetItem(ctx, attemptItemID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return 0, ErrAttemptItemNotFound
		}
		return 0, err
	}
	if item.QuestionVersion == nil {
		return 0, ErrVersionNotFound
	}
	if item.QuestionVersion.Type != models.Matching {
		return 0, NewFieldValidationError("attempt_item_id",
			"partial credit preview only applies to matching items")
	}

	var response json.RawMessage
	if item.Response != nil {
		response = json.RawMessage(item.Response.Payload)
	}
	return MatchingPartialCredit(json.RawMessage(item.QuestionVersion.AnswerKey), response)
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/SAP-F-2025/grading-service/internal/ai"
	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
)

// Drafts below this confidence are parked for review instead of being
// offered as ready suggestions.
const lowConfidenceThreshold = 0.60

const gradingSystemPrompt = `You are a strict teaching assistant grading one student answer against a rubric.
Respond with a single JSON object of the form:
{"criteria":[{"criterion":"<name>","points":<number>,"max_points":<number>,"comment":"<short justification>"}],"confidence":<0..1>,"summary":"<one sentence>"}
Use exactly the rubric criteria you are given, award between 0 and max_points for each, and report how confident you are overall.`

type aiGradingService struct {
	repo      repositories.Repository
	completer ai.Completer
	logger    *slog.Logger
}

func NewAIGradingService(repo repositories.Repository, completer ai.Completer, logger *slog.Logger) AIGradingService {
	return &aiGradingService{
		repo:      repo,
		completer: completer,
		logger:    logger,
	}
}

func (s *aiGradingService) GenerateDraft(ctx context.Context, attemptItemID uint, teacherID string) (*models.AIGrading, error) {
	if err := requireGrader(ctx, s.repo, teacherID, "generate AI grading drafts"); err != nil {
		return nil, err
	}

	item, err := s.repo.Attempt().GetItem(ctx, attemptItemID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptItemNotFound
		}
		return nil, err
	}
	version := item.QuestionVersion
	if version == nil {
		return nil, ErrVersionNotFound
	}
	if version.Type.IsAutoGradable() {
		return nil, NewFieldValidationError("attempt_item_id",
			"only short answer and essay items can be AI graded")
	}

	rubric, err := version.DecodeRubric()
	if err != nil {
		return nil, fmt.Errorf("failed to decode rubric of version %d: %w", version.ID, err)
	}
	if len(rubric.Criteria) == 0 {
		return nil, NewFieldValidationError("attempt_item_id",
			"question version has no rubric to grade against")
	}
	if item.Response == nil || len(item.Response.Payload) == 0 {
		return nil, NewFieldValidationError("attempt_item_id", "item has no response to grade")
	}

	userPrompt, err := buildGradingPrompt(version, rubric, json.RawMessage(item.Response.Payload))
	if err != nil {
		return nil, err
	}

	raw, err := s.completer.Complete(ctx, gradingSystemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("ai grading call failed: %w", err)
	}
	suggestion, parseErr := parseSuggestion(raw, rubric)
	if parseErr != nil {
		// One corrective retry, then degrade rather than fail: the raw text
		// is still useful to a reviewer.
		s.logger.Warn("invalid ai grading output, retrying",
			"attempt_item_id", attemptItemID, "error", parseErr)
		retryPrompt := fmt.Sprintf(
			"%s\n\nYour previous output was rejected (%v). Respond again with only the required JSON object.",
			userPrompt, parseErr)
		raw, err = s.completer.Complete(ctx, gradingSystemPrompt, retryPrompt)
		if err != nil {
			return nil, fmt.Errorf("ai grading retry failed: %w", err)
		}
		suggestion, parseErr = parseSuggestion(raw, rubric)
	}

	grading := &models.AIGrading{
		AttemptItemID: item.ID,
		RawOutput:     raw,
	}
	if existing, err := s.repo.Grading().GetAIGradingByItem(ctx, item.ID); err == nil {
		grading.ID = existing.ID
	} else if !repositories.IsNotFoundError(err) {
		return nil, err
	}

	var flags []string
	switch {
	case parseErr != nil:
		grading.Status = models.AIGradingNeedsReview
		flags = append(flags, models.FlagInvalidModelOutput, models.FlagNeedsTeacherReview)
	case suggestion.Confidence < lowConfidenceThreshold:
		grading.Status = models.AIGradingNeedsReview
		grading.Confidence = suggestion.Confidence
		grading.Suggestion = mustMarshalJSON(suggestion)
		flags = append(flags, models.FlagLowConfidence, models.FlagNeedsTeacherReview)
	default:
		grading.Status = models.AIGradingDraft
		grading.Confidence = suggestion.Confidence
		grading.Suggestion = mustMarshalJSON(suggestion)
	}
	if len(flags) > 0 {
		grading.Flags = mustMarshalJSON(flags)
	}

	if err := s.repo.Grading().UpsertAIGrading(ctx, grading); err != nil {
		return nil, err
	}

	s.logger.Info("ai grading draft generated",
		"attempt_item_id", item.ID, "status", grading.Status, "confidence", grading.Confidence)
	return grading, nil
}

func (s *aiGradingService) Review(ctx context.Context, aiGradingID uint, approve bool, teacherID string) (*models.AIGrading, error) {
	if err := requireGrader(ctx, s.repo, teacherID, "review AI grading drafts"); err != nil {
		return nil, err
	}

	grading, err := s.repo.Grading().GetAIGrading(ctx, aiGradingID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAIGradingNotFound
		}
		return nil, err
	}

	if approve {
		if len(grading.Suggestion) == 0 {
			return nil, NewFieldValidationError("ai_grading_id",
				"draft has no valid suggestion to approve")
		}
		grading.Status = models.AIGradingApproved
	} else {
		grading.Status = models.AIGradingRejected
	}
	grading.ReviewedBy = &teacherID

	if err := s.repo.Grading().UpsertAIGrading(ctx, grading); err != nil {
		return nil, err
	}
	return grading, nil
}

// ApplyDraft turns an approved suggestion into a draft rubric score. The
// resolver ignores drafts, so applying never moves a grade on its own.
func (s *aiGradingService) ApplyDraft(ctx context.Context, aiGradingID uint, teacherID string) (*models.RubricScore, error) {
	if err := requireGrader(ctx, s.repo, teacherID, "apply AI grading drafts"); err != nil {
		return nil, err
	}

	grading, err := s.repo.Grading().GetAIGrading(ctx, aiGradingID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAIGradingNotFound
		}
		return nil, err
	}
	if grading.Status != models.AIGradingApproved {
		return nil, ErrAIGradingNotApproved
	}

	var suggestion models.AIGradingSuggestion
	if err := json.Unmarshal(grading.Suggestion, &suggestion); err != nil {
		return nil, fmt.Errorf("malformed suggestion on ai grading %d: %w", grading.ID, err)
	}

	item, err := s.repo.Attempt().GetItem(ctx, grading.AttemptItemID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptItemNotFound
		}
		return nil, err
	}

	total := 0.0
	for _, entry := range suggestion.Criteria {
		total += entry.Points
	}
	total = round2(clamp(total, 0, item.MaxPoints))

	score := &models.RubricScore{
		AttemptItemID: item.ID,
		Entries:       mustMarshalJSON(suggestion.Criteria),
		TotalPoints:   total,
		IsDraft:       true,
		GradedBy:      &teacherID,
	}
	if err := s.repo.Grading().UpsertRubricScore(ctx, score); err != nil {
		return nil, err
	}

	s.logger.Info("ai grading draft applied",
		"attempt_item_id", item.ID, "ai_grading_id", grading.ID, "total_points", total)
	return score, nil
}

func buildGradingPrompt(version *models.QuestionVersion, rubric models.Rubric, response json.RawMessage) (string, error) {
	rubricJSON, err := json.Marshal(rubric.Criteria)
	if err != nil {
		return "", fmt.Errorf("failed to marshal rubric: %w", err)
	}

	var text models.TextResponse
	answer := string(response)
	if err := json.Unmarshal(response, &text); err == nil && text.Text != "" {
		answer = text.Text
	}

	var b strings.Builder
	b.WriteString("Question:\n")
	b.Write(version.Content)
	b.WriteString("\n\nRubric criteria:\n")
	b.Write(rubricJSON)
	b.WriteString("\n\nStudent answer:\n")
	b.WriteString(answer)
	return b.String(), nil
}

// parseSuggestion validates model output against the rubric: every returned
// criterion must exist in the rubric, points are clamped into [0, max], and
// confidence must land in [0, 1].
func parseSuggestion(raw string, rubric models.Rubric) (*models.AIGradingSuggestion, error) {
	var suggestion models.AIGradingSuggestion
	if err := json.Unmarshal([]byte(raw), &suggestion); err != nil {
		return nil, fmt.Errorf("output is not valid JSON: %w", err)
	}
	if len(suggestion.Criteria) == 0 {
		return nil, fmt.Errorf("output contains no criteria")
	}
	if suggestion.Confidence < 0 || suggestion.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v is out of range", suggestion.Confidence)
	}

	known := make(map[string]float64, len(rubric.Criteria))
	for _, c := range rubric.Criteria {
		known[c.Name] = c.MaxPoints
	}
	for i, entry := range suggestion.Criteria {
		maxPoints, ok := known[entry.Criterion]
		if !ok {
			return nil, fmt.Errorf("unknown rubric criterion %q", entry.Criterion)
		}
		suggestion.Criteria[i].MaxPoints = maxPoints
		suggestion.Criteria[i].Points = round2(clamp(entry.Points, 0, maxPoints))
	}
	return &suggestion, nil
}

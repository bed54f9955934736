package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
)

// ResolvedScore is the effective score of one attempt item after applying
// the governing regrade decision, if any.
type ResolvedScore struct {
	Earned         float64  `json:"earned"`
	Max            float64  `json:"max"`
	AvgPercent     *float64 `json:"avg_percent,omitempty"`
	IsAutoGradable bool     `json:"is_auto_gradable"`
	IsCorrect      bool     `json:"is_correct"`
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// GoverningDecision picks the score override that governs an item from a
// mixed list of decisions. Item-scoped decisions beat version-scoped ones;
// among equals, the newest decided_at wins, then the highest id. Decisions
// that are not score overrides (key/rubric changes) never govern directly.
func GoverningDecision(decisions []*models.RegradeDecision, attemptItemID uint) *models.RegradeDecision {
	specificity := func(d *models.RegradeDecision) int {
		if d.AttemptItemID != nil && *d.AttemptItemID == attemptItemID {
			return 2
		}
		return 1
	}

	var best *models.RegradeDecision
	for _, d := range decisions {
		if !d.IsScoreOverride() {
			continue
		}
		if best == nil {
			best = d
			continue
		}
		ds, bs := specificity(d), specificity(best)
		switch {
		case ds != bs:
			if ds > bs {
				best = d
			}
		case !d.DecidedAt.Equal(best.DecidedAt):
			if d.DecidedAt.After(best.DecidedAt) {
				best = d
			}
		case d.ID > best.ID:
			best = d
		}
	}
	return best
}

// ResolveItem derives the effective score for one fully loaded attempt item.
// The item must carry its QuestionVersion; Response and RubricScore are
// optional. Every intermediate value is rounded to 2dp so the per-row and
// bulk forms agree digit for digit.
func ResolveItem(item *models.AttemptItem, decisions []*models.RegradeDecision) (*ResolvedScore, error) {
	if item.QuestionVersion == nil {
		return nil, fmt.Errorf("attempt item %d has no question version loaded", item.ID)
	}

	version := item.QuestionVersion
	score := &ResolvedScore{
		Max:            round2(item.MaxPoints),
		IsAutoGradable: version.Type.IsAutoGradable(),
	}

	// Base score: live auto-grade for gradable types, finalized rubric
	// total otherwise.
	if score.IsAutoGradable {
		var response []byte
		if item.Response != nil {
			response = item.Response.Payload
		}
		verdict, err := EvaluateAnswer(version.Type, json.RawMessage(version.AnswerKey), response)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate attempt item %d: %w", item.ID, err)
		}
		score.IsCorrect = verdict.IsCorrect
		if verdict.IsCorrect {
			score.Earned = score.Max
		}
	} else if item.RubricScore != nil && !item.RubricScore.IsDraft {
		score.Earned = round2(clamp(item.RubricScore.TotalPoints, 0, score.Max))
	}

	// Governing override, if any.
	if governing := GoverningDecision(decisions, item.ID); governing != nil {
		switch governing.Type {
		case models.DecisionVoidQuestion:
			payload, err := governing.DecodeVoidQuestion()
			if err != nil {
				return nil, fmt.Errorf("malformed void_question payload on decision %d: %w", governing.ID, err)
			}
			if payload.Mode == models.VoidDropFromTotal {
				score.Earned = 0
				score.Max = 0
			} else {
				score.Earned = score.Max
			}
		case models.DecisionPartialCredit:
			payload, err := governing.DecodePartialCredit()
			if err != nil {
				return nil, fmt.Errorf("malformed partial_credit payload on decision %d: %w", governing.ID, err)
			}
			score.Earned = round2(clamp(payload.NewPoints, 0, score.Max))
		}
	}

	if score.Max > 0 {
		pct := round2(score.Earned / score.Max * 100)
		score.AvgPercent = &pct
	}
	return score, nil
}

// scoreResolver is the repo-backed resolver service.
type scoreResolver struct {
	repo   repositories.Repository
	logger *slog.Logger
}

func NewScoreResolver(repo repositories.Repository, logger *slog.Logger) ScoreResolver {
	return &scoreResolver{repo: repo, logger: logger}
}

func (s *scoreResolver) Resolve(ctx context.Context, attemptItemID uint) (*ResolvedScore, error) {
	item, err := s.repo.Attempt().GetItem(ctx, attemptItemID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptItemNotFound
		}
		return nil, err
	}

	decisions, err := s.repo.Grading().ListDecisionsForItem(ctx, item.ID, item.QuestionVersionID)
	if err != nil {
		return nil, err
	}

	return ResolveItem(item, decisions)
}

// ResolveAttempt resolves every item of an attempt, keyed by item id.
func (s *scoreResolver) ResolveAttempt(ctx context.Context, attempt *models.Attempt) (map[uint]*ResolvedScore, error) {
	scores := make(map[uint]*ResolvedScore, len(attempt.Items))
	for i := range attempt.Items {
		item := &attempt.Items[i]
		decisions, err := s.repo.Grading().ListDecisionsForItem(ctx, item.ID, item.QuestionVersionID)
		if err != nil {
			return nil, err
		}
		resolved, err := ResolveItem(item, decisions)
		if err != nil {
			return nil, err
		}
		scores[item.ID] = resolved
	}
	return scores, nil
}

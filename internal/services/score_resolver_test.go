package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/SAP-F-2025/grading-service/internal/models"
)

func uintPtr(v uint) *uint          { return &v }
func floatPtr(v float64) *float64   { return &v }
func strPtr(v string) *string       { return &v }
func timePtr(v time.Time) *time.Time { return &v }

func decisionAt(id uint, dType models.DecisionType, itemID, versionID *uint, payload string, decidedAt time.Time) *models.RegradeDecision {
	return &models.RegradeDecision{
		ID:                id,
		Type:              dType,
		AttemptItemID:     itemID,
		QuestionVersionID: versionID,
		Payload:           datatypes.JSON(payload),
		DecidedBy:         "teacher-1",
		DecidedAt:         decidedAt,
	}
}

func TestGoverningDecision(t *testing.T) {
	const itemID = uint(10)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	itemScoped := func(id uint, decidedAt time.Time) *models.RegradeDecision {
		return decisionAt(id, models.DecisionPartialCredit, uintPtr(itemID), nil,
			`{"new_points":5,"reason":"r"}`, decidedAt)
	}
	versionScoped := func(id uint, decidedAt time.Time) *models.RegradeDecision {
		return decisionAt(id, models.DecisionVoidQuestion, nil, uintPtr(3),
			`{"mode":"give_full"}`, decidedAt)
	}

	tests := []struct {
		name      string
		decisions []*models.RegradeDecision
		wantID    uint
	}{
		{
			name:      "no decisions",
			decisions: nil,
			wantID:    0,
		},
		{
			name: "item scope beats newer version scope",
			decisions: []*models.RegradeDecision{
				itemScoped(1, base),
				versionScoped(2, base.Add(time.Hour)),
			},
			wantID: 1,
		},
		{
			name: "same scope newest decided_at wins",
			decisions: []*models.RegradeDecision{
				itemScoped(1, base.Add(time.Hour)),
				itemScoped(2, base),
			},
			wantID: 1,
		},
		{
			name: "same decided_at highest id wins",
			decisions: []*models.RegradeDecision{
				itemScoped(1, base),
				itemScoped(2, base),
			},
			wantID: 2,
		},
		{
			name: "key and rubric changes never govern",
			decisions: []*models.RegradeDecision{
				decisionAt(1, models.DecisionAnswerKeyChange, nil, uintPtr(3), `{}`, base.Add(time.Hour)),
				decisionAt(2, models.DecisionRubricChange, nil, uintPtr(3), `{}`, base.Add(2*time.Hour)),
				versionScoped(3, base),
			},
			wantID: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GoverningDecision(tt.decisions, itemID)
			if tt.wantID == 0 {
				if got != nil {
					t.Fatalf("GoverningDecision() = %v, want nil", got.ID)
				}
				return
			}
			if got == nil || got.ID != tt.wantID {
				t.Errorf("GoverningDecision() = %v, want %d", got, tt.wantID)
			}
		})
	}
}

func TestResolveItem(t *testing.T) {
	mcqVersion := &models.QuestionVersion{
		ID: 1, Type: models.MultipleChoice,
		AnswerKey: datatypes.JSON(`{"correct_option_id":"b"}`),
	}
	essayVersion := &models.QuestionVersion{ID: 2, Type: models.Essay}
	now := time.Now().UTC()

	t.Run("mcq correct earns max", func(t *testing.T) {
		item := &models.AttemptItem{
			ID: 10, MaxPoints: 4, QuestionVersion: mcqVersion,
			Response: &models.Response{Payload: datatypes.JSON(`{"selected_option_id":"b"}`)},
		}
		score, err := ResolveItem(item, nil)
		if err != nil {
			t.Fatalf("ResolveItem() error = %v", err)
		}
		if score.Earned != 4 || score.Max != 4 || !score.IsCorrect || !score.IsAutoGradable {
			t.Errorf("score = %+v, want 4/4 correct", score)
		}
		if score.AvgPercent == nil || *score.AvgPercent != 100 {
			t.Errorf("AvgPercent = %v, want 100", score.AvgPercent)
		}
	})

	t.Run("mcq wrong earns zero", func(t *testing.T) {
		item := &models.AttemptItem{
			ID: 10, MaxPoints: 4, QuestionVersion: mcqVersion,
			Response: &models.Response{Payload: datatypes.JSON(`{"selected_option_id":"a"}`)},
		}
		score, err := ResolveItem(item, nil)
		if err != nil {
			t.Fatalf("ResolveItem() error = %v", err)
		}
		if score.Earned != 0 || score.IsCorrect {
			t.Errorf("score = %+v, want 0 earned", score)
		}
	})

	t.Run("finalized rubric total is clamped to max", func(t *testing.T) {
		item := &models.AttemptItem{
			ID: 11, MaxPoints: 5, QuestionVersion: essayVersion,
			RubricScore: &models.RubricScore{TotalPoints: 8.756, IsDraft: false},
		}
		score, err := ResolveItem(item, nil)
		if err != nil {
			t.Fatalf("ResolveItem() error = %v", err)
		}
		if score.Earned != 5 {
			t.Errorf("Earned = %v, want 5 (clamped)", score.Earned)
		}
	})

	t.Run("draft rubric score is invisible", func(t *testing.T) {
		item := &models.AttemptItem{
			ID: 11, MaxPoints: 5, QuestionVersion: essayVersion,
			RubricScore: &models.RubricScore{TotalPoints: 4, IsDraft: true},
		}
		score, err := ResolveItem(item, nil)
		if err != nil {
			t.Fatalf("ResolveItem() error = %v", err)
		}
		if score.Earned != 0 {
			t.Errorf("Earned = %v, want 0 while the score is a draft", score.Earned)
		}
	})

	t.Run("void drop_from_total zeroes earned and max", func(t *testing.T) {
		item := &models.AttemptItem{
			ID: 12, MaxPoints: 4, QuestionVersion: mcqVersion,
			Response: &models.Response{Payload: datatypes.JSON(`{"selected_option_id":"b"}`)},
		}
		decisions := []*models.RegradeDecision{
			decisionAt(1, models.DecisionVoidQuestion, uintPtr(12), nil, `{"mode":"drop_from_total"}`, now),
		}
		score, err := ResolveItem(item, decisions)
		if err != nil {
			t.Fatalf("ResolveItem() error = %v", err)
		}
		if score.Earned != 0 || score.Max != 0 {
			t.Errorf("score = %+v, want 0/0", score)
		}
		if score.AvgPercent != nil {
			t.Errorf("AvgPercent = %v, want nil when max is 0", *score.AvgPercent)
		}
	})

	t.Run("void give_full grants max", func(t *testing.T) {
		item := &models.AttemptItem{ID: 13, MaxPoints: 4, QuestionVersion: essayVersion}
		decisions := []*models.RegradeDecision{
			decisionAt(1, models.DecisionVoidQuestion, uintPtr(13), nil, `{"mode":"give_full"}`, now),
		}
		score, err := ResolveItem(item, decisions)
		if err != nil {
			t.Fatalf("ResolveItem() error = %v", err)
		}
		if score.Earned != 4 || score.Max != 4 {
			t.Errorf("score = %+v, want 4/4", score)
		}
	})

	t.Run("partial credit is clamped and rounded", func(t *testing.T) {
		item := &models.AttemptItem{ID: 14, MaxPoints: 3, QuestionVersion: essayVersion}
		decisions := []*models.RegradeDecision{
			decisionAt(1, models.DecisionPartialCredit, uintPtr(14), nil,
				`{"new_points":2.556,"reason":"recheck"}`, now),
		}
		score, err := ResolveItem(item, decisions)
		if err != nil {
			t.Fatalf("ResolveItem() error = %v", err)
		}
		if score.Earned != 2.56 {
			t.Errorf("Earned = %v, want 2.56", score.Earned)
		}
		if score.AvgPercent == nil || *score.AvgPercent != 85.33 {
			t.Errorf("AvgPercent = %v, want 85.33", score.AvgPercent)
		}
	})

	t.Run("missing question version is an error", func(t *testing.T) {
		if _, err := ResolveItem(&models.AttemptItem{ID: 15}, nil); err == nil {
			t.Fatal("expected error for unloaded question version")
		}
	})
}

func TestScoreResolverService(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	resolver := NewScoreResolver(repo, testLogger())

	version := repo.addVersion(models.MultipleChoice, `{"correct_option_id":"b"}`, "")
	attempt := release(repo.addStudentAttempt("student-1", 100))
	correct := repo.addItem(attempt, version, 2)
	wrong := repo.addItem(attempt, version, 2)
	repo.addResponse(correct.ID, `{"selected_option_id":"b"}`)
	repo.addResponse(wrong.ID, `{"selected_option_id":"a"}`)

	t.Run("resolve single item", func(t *testing.T) {
		score, err := resolver.Resolve(ctx, correct.ID)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if score.Earned != 2 {
			t.Errorf("Earned = %v, want 2", score.Earned)
		}
	})

	t.Run("missing item maps to sentinel", func(t *testing.T) {
		if _, err := resolver.Resolve(ctx, 9999); !errors.Is(err, ErrAttemptItemNotFound) {
			t.Errorf("Resolve() error = %v, want ErrAttemptItemNotFound", err)
		}
	})

	t.Run("resolve whole attempt", func(t *testing.T) {
		loaded, err := repo.Attempt().GetWithItems(ctx, attempt.ID)
		if err != nil {
			t.Fatalf("GetWithItems() error = %v", err)
		}
		scores, err := resolver.ResolveAttempt(ctx, loaded)
		if err != nil {
			t.Fatalf("ResolveAttempt() error = %v", err)
		}
		if len(scores) != 2 {
			t.Fatalf("len(scores) = %d, want 2", len(scores))
		}
		if scores[correct.ID].Earned != 2 || scores[wrong.ID].Earned != 0 {
			t.Errorf("scores = %+v / %+v, want 2 and 0", scores[correct.ID], scores[wrong.ID])
		}
	})

	t.Run("item decision overrides version decision", func(t *testing.T) {
		_ = repo.Grading().CreateDecision(ctx, decisionAt(0, models.DecisionVoidQuestion,
			nil, uintPtr(version.ID), `{"mode":"give_full"}`, time.Now().UTC()))
		_ = repo.Grading().CreateDecision(ctx, decisionAt(0, models.DecisionPartialCredit,
			uintPtr(wrong.ID), nil, `{"new_points":1,"reason":"half"}`, time.Now().UTC().Add(-time.Hour)))

		score, err := resolver.Resolve(ctx, wrong.ID)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if score.Earned != 1 {
			t.Errorf("Earned = %v, want 1 from the item-scoped decision", score.Earned)
		}
	})
}

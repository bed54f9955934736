package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
)

type GradingPostgreSQL struct {
	db *gorm.DB
}

func NewGradingPostgreSQL(db *gorm.DB) repositories.GradingRepository {
	return &GradingPostgreSQL{db: db}
}

// ===== RUBRIC SCORES =====

func (g *GradingPostgreSQL) UpsertRubricScore(ctx context.Context, score *models.RubricScore) error {
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "attempt_item_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"entries", "total_points", "is_draft", "graded_by", "reason", "updated_at",
			}),
		}).
		Create(score).Error
}

func (g *GradingPostgreSQL) GetRubricScore(ctx context.Context, attemptItemID uint) (*models.RubricScore, error) {
	var score models.RubricScore
	err := g.db.WithContext(ctx).
		Where("attempt_item_id = ?", attemptItemID).
		First(&score).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get rubric score: %w", err)
	}
	return &score, nil
}

// ===== AI GRADINGS =====

func (g *GradingPostgreSQL) UpsertAIGrading(ctx context.Context, grading *models.AIGrading) error {
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "attempt_item_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "confidence", "suggestion", "raw_output", "flags", "reviewed_by", "updated_at",
			}),
		}).
		Create(grading).Error
}

func (g *GradingPostgreSQL) GetAIGrading(ctx context.Context, id uint) (*models.AIGrading, error) {
	var grading models.AIGrading
	if err := g.db.WithContext(ctx).First(&grading, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get ai grading: %w", err)
	}
	return &grading, nil
}

func (g *GradingPostgreSQL) GetAIGradingByItem(ctx context.Context, attemptItemID uint) (*models.AIGrading, error) {
	var grading models.AIGrading
	err := g.db.WithContext(ctx).
		Where("attempt_item_id = ?", attemptItemID).
		First(&grading).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get ai grading: %w", err)
	}
	return &grading, nil
}

// ===== REGRADE DECISIONS =====

func (g *GradingPostgreSQL) CreateDecision(ctx context.Context, decision *models.RegradeDecision) error {
	return g.db.WithContext(ctx).Create(decision).Error
}

func (g *GradingPostgreSQL) GetDecision(ctx context.Context, id uint) (*models.RegradeDecision, error) {
	var decision models.RegradeDecision
	if err := g.db.WithContext(ctx).First(&decision, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get regrade decision: %w", err)
	}
	return &decision, nil
}

func (g *GradingPostgreSQL) ListDecisionsForItem(ctx context.Context, attemptItemID, questionVersionID uint) ([]*models.RegradeDecision, error) {
	var decisions []*models.RegradeDecision
	err := g.db.WithContext(ctx).
		Where("attempt_item_id = ? OR question_version_id = ?", attemptItemID, questionVersionID).
		Order("decided_at DESC, id DESC").
		Find(&decisions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list regrade decisions: %w", err)
	}
	return decisions, nil
}

// ===== BULK SCORE RESOLUTION =====

// ListResolvedScores is the set-based twin of the per-item score resolver.
// The CASE ladder below must stay in lockstep with services.ResolveItem:
// governing decision first (item-scoped beats version-scoped, then newest,
// then highest id), then the base score (live auto-grade for mcq/matching,
// clamped non-draft rubric total otherwise), everything rounded to 2dp.
func (g *GradingPostgreSQL) ListResolvedScores(ctx context.Context, filter repositories.ResolvedScoreFilter) ([]*repositories.ResolvedScoreRow, error) {
	var (
		conds []string
		args  []interface{}
	)

	if len(filter.ExamIDs) > 0 {
		conds = append(conds, "a.exam_id IN ?")
		args = append(args, filter.ExamIDs)
	}
	if filter.ClassID != nil {
		conds = append(conds, "a.exam_id IN (SELECT exam_id FROM assessments WHERE class_id = ? AND deleted_at IS NULL)")
		args = append(args, *filter.ClassID)
	}
	if filter.Since != nil {
		conds = append(conds, "a.submitted_at >= ?")
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		conds = append(conds, "a.submitted_at < ?")
		args = append(args, *filter.Until)
	}
	if filter.ReleaseVisibleOnly {
		conds = append(conds, "(a.grade_state = 'released' OR (a.release_at IS NOT NULL AND a.release_at <= ? AND a.submitted_at IS NOT NULL))")
		args = append(args, filter.Now)
	}
	if filter.StudentsOnly {
		conds = append(conds, "a.student_id IS NOT NULL")
	}
	conds = append(conds, "a.deleted_at IS NULL")

	query := `
SELECT
    a.id            AS attempt_id,
    ai.id           AS attempt_item_id,
    a.exam_id       AS exam_id,
    COALESCE(a.student_id, '') AS student_id,
    a.submitted_at  AS submitted_at,
    ROUND(CASE
        WHEN d.type = 'void_question' AND d.payload->>'mode' = 'drop_from_total' THEN 0
        WHEN d.type = 'void_question' THEN ai.max_points
        WHEN d.type = 'partial_credit' THEN
            LEAST(GREATEST((d.payload->>'new_points')::numeric, 0), ai.max_points::numeric)
        WHEN qv.type IN ('mcq', 'matching') THEN CASE
            WHEN r.id IS NULL THEN 0
            WHEN qv.type = 'mcq'
                 AND COALESCE(qv.answer_key->>'correct_option_id', '') <> ''
                 AND qv.answer_key->>'correct_option_id' = r.payload->>'selected_option_id'
                THEN ai.max_points
            WHEN qv.type = 'matching'
                 AND qv.answer_key->'pairs' IS NOT NULL
                 AND qv.answer_key->'pairs' <> '{}'::jsonb
                 AND COALESCE(r.payload->'pairs', '{}'::jsonb) @> (qv.answer_key->'pairs')
                THEN ai.max_points
            ELSE 0
        END
        ELSE COALESCE(LEAST(GREATEST(rs.total_points::numeric, 0), ai.max_points::numeric), 0)
    END::numeric, 2)   AS earned,
    ROUND(CASE
        WHEN d.type = 'void_question' AND d.payload->>'mode' = 'drop_from_total' THEN 0
        ELSE ai.max_points
    END::numeric, 2)   AS max
FROM attempt_items ai
JOIN attempts a ON a.id = ai.attempt_id
JOIN question_versions qv ON qv.id = ai.question_version_id
LEFT JOIN responses r ON r.attempt_item_id = ai.id
LEFT JOIN rubric_scores rs ON rs.attempt_item_id = ai.id AND rs.is_draft = FALSE
LEFT JOIN LATERAL (
    SELECT rd.type, rd.payload
    FROM regrade_decisions rd
    WHERE rd.type IN ('partial_credit', 'void_question')
      AND (rd.attempt_item_id = ai.id OR rd.question_version_id = ai.question_version_id)
    ORDER BY (rd.attempt_item_id IS NOT NULL) DESC, rd.decided_at DESC, rd.id DESC
    LIMIT 1
) d ON TRUE
WHERE ` + strings.Join(conds, " AND ") + `
ORDER BY a.id, ai.position`

	var rows []*repositories.ResolvedScoreRow
	if err := g.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to resolve scores in bulk: %w", err)
	}
	return rows, nil
}

// ===== APPEALS =====

func (g *GradingPostgreSQL) CreateAppeal(ctx context.Context, appeal *models.Appeal) error {
	return g.db.WithContext(ctx).Create(appeal).Error
}

func (g *GradingPostgreSQL) GetAppeal(ctx context.Context, id uint) (*models.Appeal, error) {
	var appeal models.Appeal
	if err := g.db.WithContext(ctx).First(&appeal, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get appeal: %w", err)
	}
	return &appeal, nil
}

func (g *GradingPostgreSQL) UpdateAppeal(ctx context.Context, appeal *models.Appeal) error {
	return g.db.WithContext(ctx).Save(appeal).Error
}

func (g *GradingPostgreSQL) ListAppealsByStudent(ctx context.Context, studentID string) ([]*models.Appeal, error) {
	var appeals []*models.Appeal
	err := g.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("created_at DESC").
		Find(&appeals).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list appeals: %w", err)
	}
	return appeals, nil
}

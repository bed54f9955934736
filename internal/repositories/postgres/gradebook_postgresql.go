package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
)

type GradebookPostgreSQL struct {
	db *gorm.DB
}

func NewGradebookPostgreSQL(db *gorm.DB) repositories.GradebookRepository {
	return &GradebookPostgreSQL{db: db}
}

// ===== ASSESSMENTS =====

func (g *GradebookPostgreSQL) ListPublishedAssessments(ctx context.Context, termID uint, classID *uint) ([]*models.Assessment, error) {
	query := g.db.WithContext(ctx).
		Where("term_id = ? AND published = TRUE", termID)
	if classID != nil {
		query = query.Where("class_id = ?", *classID)
	}

	var assessments []*models.Assessment
	err := query.
		Order("scheduled_at ASC NULLS LAST, title ASC").
		Find(&assessments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	return assessments, nil
}

func (g *GradebookPostgreSQL) GetAssessmentByExam(ctx context.Context, examID uint) (*models.Assessment, error) {
	var assessment models.Assessment
	err := g.db.WithContext(ctx).
		Where("exam_id = ?", examID).
		First(&assessment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get assessment by exam: %w", err)
	}
	return &assessment, nil
}

func (g *GradebookPostgreSQL) ListClassIDsByExamIDs(ctx context.Context, examIDs []uint) ([]uint, error) {
	if len(examIDs) == 0 {
		return nil, nil
	}
	var classIDs []uint
	err := g.db.WithContext(ctx).
		Model(&models.Assessment{}).
		Distinct("class_id").
		Where("exam_id IN ?", examIDs).
		Pluck("class_id", &classIDs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list class ids: %w", err)
	}
	return classIDs, nil
}

// ===== TERM GRADES =====

func (g *GradebookPostgreSQL) UpsertTermGrade(ctx context.Context, grade *models.StudentTermGrade) error {
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "term_id"}, {Name: "student_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"computed_grade", "overridden_grade", "override_reason", "overridden_by",
				"computed_at", "updated_at",
			}),
		}).
		Create(grade).Error
}

func (g *GradebookPostgreSQL) GetTermGrade(ctx context.Context, termID uint, studentID string) (*models.StudentTermGrade, error) {
	var grade models.StudentTermGrade
	err := g.db.WithContext(ctx).
		Where("term_id = ? AND student_id = ?", termID, studentID).
		First(&grade).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get term grade: %w", err)
	}
	return &grade, nil
}

func (g *GradebookPostgreSQL) ListTermGrades(ctx context.Context, termID uint) ([]*models.StudentTermGrade, error) {
	var grades []*models.StudentTermGrade
	err := g.db.WithContext(ctx).
		Where("term_id = ?", termID).
		Order("student_id ASC").
		Find(&grades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list term grades: %w", err)
	}
	return grades, nil
}

// ===== STUDENT PROFILES =====

func (g *GradebookPostgreSQL) GetProfile(ctx context.Context, studentID string) (*models.StudentProfile, error) {
	var profile models.StudentProfile
	err := g.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get student profile: %w", err)
	}
	return &profile, nil
}

func (g *GradebookPostgreSQL) GetProfilesByStudentIDs(ctx context.Context, studentIDs []string) (map[string]*models.StudentProfile, error) {
	result := make(map[string]*models.StudentProfile, len(studentIDs))
	if len(studentIDs) == 0 {
		return result, nil
	}

	var profiles []*models.StudentProfile
	err := g.db.WithContext(ctx).
		Where("student_id IN ?", studentIDs).
		Find(&profiles).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get student profiles: %w", err)
	}

	for _, p := range profiles {
		result[p.StudentID] = p
	}
	return result, nil
}

// ===== LEADERBOARD SNAPSHOTS =====

func (g *GradebookPostgreSQL) UpsertSnapshot(ctx context.Context, snapshot *models.LeaderboardSnapshot) error {
	// (class_id, period, window_start) identifies a snapshot; all three may
	// carry NULLs so a plain unique index can't back ON CONFLICT here.
	existing, err := g.GetSnapshot(ctx, snapshot.ClassID, snapshot.Period, snapshot.WindowStart)
	if err != nil && !repositories.IsNotFoundError(err) {
		return err
	}
	if existing != nil {
		snapshot.ID = existing.ID
	}
	return g.db.WithContext(ctx).Save(snapshot).Error
}

func (g *GradebookPostgreSQL) GetSnapshot(ctx context.Context, classID *uint, period models.LeaderboardPeriod, windowStart *time.Time) (*models.LeaderboardSnapshot, error) {
	query := g.db.WithContext(ctx).Where("period = ?", period)
	if classID != nil {
		query = query.Where("class_id = ?", *classID)
	} else {
		query = query.Where("class_id IS NULL")
	}
	if windowStart != nil {
		query = query.Where("window_start = ?", *windowStart)
	} else {
		query = query.Where("window_start IS NULL")
	}

	var snapshot models.LeaderboardSnapshot
	if err := query.First(&snapshot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get leaderboard snapshot: %w", err)
	}
	return &snapshot, nil
}

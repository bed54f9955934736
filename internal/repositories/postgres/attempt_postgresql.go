package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
)

type AttemptPostgreSQL struct {
	db *gorm.DB
}

func NewAttemptPostgreSQL(db *gorm.DB) repositories.AttemptRepository {
	return &AttemptPostgreSQL{db: db}
}

func (a *AttemptPostgreSQL) Create(ctx context.Context, attempt *models.Attempt) error {
	if err := attempt.Validate(); err != nil {
		return err
	}
	return a.db.WithContext(ctx).Create(attempt).Error
}

func (a *AttemptPostgreSQL) GetByID(ctx context.Context, id uint) (*models.Attempt, error) {
	var attempt models.Attempt
	if err := a.db.WithContext(ctx).First(&attempt, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) GetWithItems(ctx context.Context, id uint) (*models.Attempt, error) {
	var attempt models.Attempt
	err := a.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("attempt_items.position ASC")
		}).
		Preload("Items.QuestionVersion").
		Preload("Items.Response").
		Preload("Items.RubricScore").
		First(&attempt, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get attempt with items: %w", err)
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) Update(ctx context.Context, attempt *models.Attempt) error {
	return a.db.WithContext(ctx).Save(attempt).Error
}

func (a *AttemptPostgreSQL) ListByStudentAndExams(ctx context.Context, studentID string, examIDs []uint) ([]*models.Attempt, error) {
	if len(examIDs) == 0 {
		return nil, nil
	}
	var attempts []*models.Attempt
	err := a.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("attempt_items.position ASC")
		}).
		Preload("Items.QuestionVersion").
		Preload("Items.Response").
		Preload("Items.RubricScore").
		Where("student_id = ? AND exam_id IN ?", studentID, examIDs).
		Order("submitted_at DESC NULLS LAST, id DESC").
		Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return attempts, nil
}

func (a *AttemptPostgreSQL) GetItem(ctx context.Context, id uint) (*models.AttemptItem, error) {
	var item models.AttemptItem
	err := a.db.WithContext(ctx).
		Preload("Attempt").
		Preload("QuestionVersion").
		Preload("Response").
		Preload("RubricScore").
		First(&item, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get attempt item: %w", err)
	}
	return &item, nil
}

func (a *AttemptPostgreSQL) UpdateItemMaxPoints(ctx context.Context, itemID uint, maxPoints float64) error {
	return a.db.WithContext(ctx).
		Model(&models.AttemptItem{}).
		Where("id = ?", itemID).
		Update("max_points", maxPoints).Error
}

func (a *AttemptPostgreSQL) UpdateItemVersion(ctx context.Context, itemID, versionID uint) error {
	return a.db.WithContext(ctx).
		Model(&models.AttemptItem{}).
		Where("id = ?", itemID).
		Update("question_version_id", versionID).Error
}

func (a *AttemptPostgreSQL) ListExamIDsByVersion(ctx context.Context, versionID uint) ([]uint, error) {
	var examIDs []uint
	err := a.db.WithContext(ctx).
		Model(&models.Attempt{}).
		Distinct("attempts.exam_id").
		Joins("JOIN attempt_items ON attempt_items.attempt_id = attempts.id").
		Where("attempt_items.question_version_id = ?", versionID).
		Pluck("attempts.exam_id", &examIDs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list exam ids: %w", err)
	}
	return examIDs, nil
}

func (a *AttemptPostgreSQL) ListItemIDsByVersion(ctx context.Context, versionID uint, offset, limit int) ([]uint, error) {
	var ids []uint
	err := a.db.WithContext(ctx).
		Model(&models.AttemptItem{}).
		Where("question_version_id = ?", versionID).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list attempt item ids: %w", err)
	}
	return ids, nil
}

func (a *AttemptPostgreSQL) CountItemsByVersion(ctx context.Context, versionID uint) (int64, error) {
	var count int64
	err := a.db.WithContext(ctx).
		Model(&models.AttemptItem{}).
		Where("question_version_id = ?", versionID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count attempt items: %w", err)
	}
	return count, nil
}

func (a *AttemptPostgreSQL) UpsertResponse(ctx context.Context, response *models.Response) error {
	return a.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "attempt_item_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "submitted_at", "updated_at"}),
		}).
		Create(response).Error
}

func (a *AttemptPostgreSQL) CreateLink(ctx context.Context, link *models.PublicLink) error {
	return a.db.WithContext(ctx).Create(link).Error
}

// GetLinkByTokenForUpdate locks the link row for the remainder of the
// current transaction. Callers must run inside WithTransaction.
func (a *AttemptPostgreSQL) GetLinkByTokenForUpdate(ctx context.Context, token string) (*models.PublicLink, error) {
	var link models.PublicLink
	err := a.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("token = ?", token).
		First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get public link: %w", err)
	}
	return &link, nil
}

func (a *AttemptPostgreSQL) CountAttemptsByLink(ctx context.Context, linkID uint) (int64, error) {
	var count int64
	err := a.db.WithContext(ctx).
		Model(&models.Attempt{}).
		Where("public_link_id = ?", linkID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count link attempts: %w", err)
	}
	return count, nil
}

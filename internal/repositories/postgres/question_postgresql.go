package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
)

type QuestionPostgreSQL struct {
	db *gorm.DB
}

func NewQuestionPostgreSQL(db *gorm.DB) repositories.QuestionRepository {
	return &QuestionPostgreSQL{db: db}
}

func (q *QuestionPostgreSQL) Create(ctx context.Context, question *models.Question) error {
	if err := q.db.WithContext(ctx).Create(question).Error; err != nil {
		return fmt.Errorf("failed to create question: %w", err)
	}
	return nil
}

func (q *QuestionPostgreSQL) GetByID(ctx context.Context, id uint) (*models.Question, error) {
	var question models.Question
	if err := q.db.WithContext(ctx).First(&question, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	return &question, nil
}

func (q *QuestionPostgreSQL) CreateVersion(ctx context.Context, version *models.QuestionVersion) error {
	if err := q.db.WithContext(ctx).Create(version).Error; err != nil {
		return fmt.Errorf("failed to create question version: %w", err)
	}
	return nil
}

func (q *QuestionPostgreSQL) GetVersion(ctx context.Context, id uint) (*models.QuestionVersion, error) {
	var version models.QuestionVersion
	if err := q.db.WithContext(ctx).First(&version, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get question version: %w", err)
	}
	return &version, nil
}

func (q *QuestionPostgreSQL) GetLatestVersion(ctx context.Context, questionID uint) (*models.QuestionVersion, error) {
	var version models.QuestionVersion
	err := q.db.WithContext(ctx).
		Where("question_id = ?", questionID).
		Order("version_number DESC").
		First(&version).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest question version: %w", err)
	}
	return &version, nil
}

package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
)

type AuditPostgreSQL struct {
	db *gorm.DB
}

func NewAuditPostgreSQL(db *gorm.DB) repositories.AuditRepository {
	return &AuditPostgreSQL{db: db}
}

func (a *AuditPostgreSQL) Record(ctx context.Context, event *models.AuditEvent) error {
	if err := a.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

// ExistsIdentical matches on event type, entity and the exact meta payload.
// jsonb equality ignores key order, so logically identical facts compare
// equal regardless of how the meta was marshalled.
func (a *AuditPostgreSQL) ExistsIdentical(ctx context.Context, event *models.AuditEvent) (bool, error) {
	query := a.db.WithContext(ctx).
		Model(&models.AuditEvent{}).
		Where("event_type = ? AND entity_type = ? AND entity_id = ?",
			event.EventType, event.EntityType, event.EntityID)
	if len(event.Meta) > 0 {
		query = query.Where("meta = ?::jsonb", string(event.Meta))
	} else {
		query = query.Where("meta IS NULL OR meta = '{}'::jsonb")
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check audit event: %w", err)
	}
	return count > 0, nil
}

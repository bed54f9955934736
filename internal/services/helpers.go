package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gorm.io/datatypes"

	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
)

// requireGrader ensures the acting user holds a grading-capable role.
func requireGrader(ctx context.Context, repo repositories.Repository, userID, action string) error {
	user, err := repo.User().GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	if !user.Role.CanGrade() {
		return NewPermissionError(userID, action)
	}
	return nil
}

// recordAudit appends one audit fact. Meta is marshalled to jsonb.
func recordAudit(ctx context.Context, repo repositories.Repository, eventType, entityType, entityID, actor string, meta any) error {
	event := &models.AuditEvent{
		EventType:  eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Actor:      actor,
		CreatedAt:  time.Now().UTC(),
	}
	if meta != nil {
		data, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to marshal audit meta: %w", err)
		}
		event.Meta = datatypes.JSON(data)
	}
	return repo.Audit().Record(ctx, event)
}

func uitoa(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}

func mustMarshalJSON(v any) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal of static value failed: %v", err))
	}
	return datatypes.JSON(data)
}

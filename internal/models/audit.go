package models

import (
	"time"

	"gorm.io/datatypes"
)

// Audit event types recorded by the grading pipeline.
const (
	AuditRegradeStarted    = "regrade_started"
	AuditRegradeFinished   = "regrade_finished"
	AuditManualOverride    = "manual_override"
	AuditTermGradeComputed = "term_grade_computed"
	AuditTermGradeOverride = "term_grade_override"
)

// AuditEvent is an append-only fact about a grading action. Events are never
// updated or deleted; idempotent flows de-duplicate by checking for an
// existing identical fact before inserting.
type AuditEvent struct {
	ID         uint           `json:"id" gorm:"primaryKey"`
	EventType  string         `json:"event_type" gorm:"not null;size:50;index:idx_audit_lookup"`
	EntityType string         `json:"entity_type" gorm:"not null;size:50;index:idx_audit_lookup"`
	EntityID   string         `json:"entity_id" gorm:"not null;size:100;index:idx_audit_lookup"`
	Actor      string         `json:"actor" gorm:"not null;size:255"`
	Meta       datatypes.JSON `json:"meta,omitempty" gorm:"type:jsonb"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (AuditEvent) TableName() string {
	return "audit_events"
}

// SystemActor identifies actions performed by background jobs rather than a
// signed-in user.
const SystemActor = "system"

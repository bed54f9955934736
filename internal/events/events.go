package events

import (
	"encoding/json"
	"time"

	"github.com/SAP-F-2025/grading-service/internal/models"
)

// JobName identifies a background job type on the grading jobs topic.
type JobName string

const (
	JobRescoreChunk         JobName = "grading.rescore_chunk"
	JobTermGradeRecompute   JobName = "gradebook.term_grade_recompute"
	JobLeaderboardRecompute JobName = "leaderboard.recompute"
)

// JobsTopic carries every grading job. Delivery is at-least-once; handlers
// are idempotent.
const JobsTopic = "grading.jobs"

// JobEnvelope is the wire format of one queued job.
type JobEnvelope struct {
	ID         string          `json:"id"`
	Name       JobName         `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// RescoreChunkJob re-evaluates one decision against a bounded set of
// attempt items.
type RescoreChunkJob struct {
	DecisionID     uint   `json:"decision_id"`
	AttemptItemIDs []uint `json:"attempt_item_ids"`
}

// TermGradeRecomputeJob recomputes one student's grade for one term.
type TermGradeRecomputeJob struct {
	TermID    uint   `json:"term_id"`
	StudentID string `json:"student_id"`
}

// LeaderboardRecomputeJob rebuilds one leaderboard snapshot.
type LeaderboardRecomputeJob struct {
	ClassID *uint                    `json:"class_id,omitempty"`
	Period  models.LeaderboardPeriod `json:"period"`
}

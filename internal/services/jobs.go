package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/SAP-F-2025/grading-service/internal/events"
)

// RegisterJobHandlers binds the background job names to their services. The
// worker nacks on error, so handlers swallow conditions that redelivery
// cannot fix.
func RegisterJobHandlers(registry *events.Registry, rescore RescoreService, termGrades TermGradeService, leaderboards LeaderboardService) {
	registry.Register(events.JobRescoreChunk, func(ctx context.Context, payload json.RawMessage) error {
		var job events.RescoreChunkJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return fmt.Errorf("malformed rescore chunk payload: %w", err)
		}
		return rescore.ProcessChunk(ctx, job.DecisionID, job.AttemptItemIDs)
	})

	registry.Register(events.JobTermGradeRecompute, func(ctx context.Context, payload json.RawMessage) error {
		var job events.TermGradeRecomputeJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return fmt.Errorf("malformed term grade recompute payload: %w", err)
		}
		_, err := termGrades.Recompute(ctx, job.TermID, job.StudentID)
		if errors.Is(err, ErrRecomputeInProgress) {
			// Another worker holds the lock; redelivering would just race it
			// again for the same inputs.
			return nil
		}
		return err
	})

	registry.Register(events.JobLeaderboardRecompute, func(ctx context.Context, payload json.RawMessage) error {
		var job events.LeaderboardRecomputeJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return fmt.Errorf("malformed leaderboard recompute payload: %w", err)
		}
		_, err := leaderboards.ComputeAndStore(ctx, job.ClassID, job.Period)
		return err
	})
}

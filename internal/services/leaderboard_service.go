package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/SAP-F-2025/grading-service/internal/cache"
	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
)

// leaderboardSize caps every published ranking.
const leaderboardSize = 50

// PeriodWindow maps a leaderboard period to its calendar window as of now:
// weekly starts on Monday 00:00 UTC, monthly on the 1st, all_time is
// unbounded. End bounds are exclusive.
func PeriodWindow(period models.LeaderboardPeriod, now time.Time) (*time.Time, *time.Time) {
	now = now.UTC()
	switch period {
	case models.PeriodWeekly:
		weekday := int(now.Weekday())
		if weekday == 0 {
			weekday = 7 // Sunday
		}
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).
			AddDate(0, 0, -(weekday - 1))
		end := start.AddDate(0, 0, 7)
		return &start, &end
	case models.PeriodMonthly:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 1, 0)
		return &start, &end
	default:
		return nil, nil
	}
}

type leaderboardService struct {
	repo   repositories.Repository
	cache  *cache.CacheManager
	logger *slog.Logger
}

func NewLeaderboardService(repo repositories.Repository, cacheManager *cache.CacheManager, logger *slog.Logger) LeaderboardService {
	return &leaderboardService{
		repo:   repo,
		cache:  cacheManager,
		logger: logger,
	}
}

func leaderboardCacheKey(classID *uint, period models.LeaderboardPeriod, windowStart *time.Time) string {
	class := "global"
	if classID != nil {
		class = uitoa(*classID)
	}
	window := "all"
	if windowStart != nil {
		window = windowStart.Format("2006-01-02")
	}
	return fmt.Sprintf("%s:%s:%s", class, period, window)
}

// Get reads through cache and snapshot; only a missing snapshot triggers a
// recompute.
func (s *leaderboardService) Get(ctx context.Context, classID *uint, period models.LeaderboardPeriod) (*LeaderboardResult, error) {
	if !period.IsValid() {
		return nil, NewFieldValidationError("period", "period must be weekly, monthly or all_time")
	}

	windowStart, _ := PeriodWindow(period, time.Now())
	key := leaderboardCacheKey(classID, period, windowStart)

	var cached LeaderboardResult
	if err := s.cache.Leaderboard.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	snapshot, err := s.repo.Gradebook().GetSnapshot(ctx, classID, period, windowStart)
	if err != nil && !repositories.IsNotFoundError(err) {
		return nil, err
	}
	if snapshot != nil {
		result, err := resultFromSnapshot(snapshot)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Leaderboard.Set(ctx, key, result, cache.LeaderboardCacheConfig.TTL); err != nil {
			s.logger.Warn("failed to warm leaderboard cache", "key", key, "error", err)
		}
		return result, nil
	}

	return s.ComputeAndStore(ctx, classID, period)
}

func resultFromSnapshot(snapshot *models.LeaderboardSnapshot) (*LeaderboardResult, error) {
	var entries []models.LeaderboardEntry
	if len(snapshot.Entries) > 0 {
		if err := json.Unmarshal(snapshot.Entries, &entries); err != nil {
			return nil, fmt.Errorf("malformed leaderboard snapshot %d: %w", snapshot.ID, err)
		}
	}
	return &LeaderboardResult{
		ClassID:     snapshot.ClassID,
		Period:      snapshot.Period,
		WindowStart: snapshot.WindowStart,
		WindowEnd:   snapshot.WindowEnd,
		Entries:     entries,
		GeneratedAt: snapshot.GeneratedAt,
	}, nil
}

// ComputeAndStore rebuilds the ranking from resolved scores and overwrites
// the snapshot row and the cache entry.
func (s *leaderboardService) ComputeAndStore(ctx context.Context, classID *uint, period models.LeaderboardPeriod) (*LeaderboardResult, error) {
	if !period.IsValid() {
		return nil, NewFieldValidationError("period", "period must be weekly, monthly or all_time")
	}

	now := time.Now().UTC()
	windowStart, windowEnd := PeriodWindow(period, now)

	rows, err := s.repo.Grading().ListResolvedScores(ctx, repositories.ResolvedScoreFilter{
		ClassID:            classID,
		Since:              windowStart,
		Until:              windowEnd,
		ReleaseVisibleOnly: true,
		StudentsOnly:       true,
		Now:                now,
	})
	if err != nil {
		return nil, err
	}

	type tally struct {
		earned      float64
		max         float64
		attempts    map[uint]struct{}
		lastAttempt *time.Time
	}
	tallies := make(map[string]*tally)
	for _, row := range rows {
		t := tallies[row.StudentID]
		if t == nil {
			t = &tally{attempts: make(map[uint]struct{})}
			tallies[row.StudentID] = t
		}
		t.earned += row.Earned
		t.max += row.Max
		t.attempts[row.AttemptID] = struct{}{}
		if row.SubmittedAt != nil && (t.lastAttempt == nil || row.SubmittedAt.After(*t.lastAttempt)) {
			t.lastAttempt = row.SubmittedAt
		}
	}

	studentIDs := make([]string, 0, len(tallies))
	for id := range tallies {
		studentIDs = append(studentIDs, id)
	}
	profiles, err := s.repo.Gradebook().GetProfilesByStudentIDs(ctx, studentIDs)
	if err != nil {
		return nil, err
	}

	// Only opted-in, nicknamed students are ranked; everyone else stays
	// invisible no matter how well they scored.
	entries := make([]models.LeaderboardEntry, 0, len(tallies))
	for id, t := range tallies {
		profile := profiles[id]
		if profile == nil || !profile.IsLeaderboardEligible() {
			continue
		}
		entry := models.LeaderboardEntry{
			Nickname:      profile.Nickname,
			TotalEarned:   round2(t.earned),
			TotalMax:      round2(t.max),
			AttemptCount:  len(t.attempts),
			LastAttemptAt: t.lastAttempt,
		}
		if entry.TotalMax > 0 {
			entry.Percent = round2(entry.TotalEarned / entry.TotalMax * 100)
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Percent != b.Percent {
			return a.Percent > b.Percent
		}
		if a.AttemptCount != b.AttemptCount {
			return a.AttemptCount > b.AttemptCount
		}
		switch {
		case a.LastAttemptAt == nil:
			return false
		case b.LastAttemptAt == nil:
			return true
		default:
			return a.LastAttemptAt.After(*b.LastAttemptAt)
		}
	})
	if len(entries) > leaderboardSize {
		entries = entries[:leaderboardSize]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}

	result := &LeaderboardResult{
		ClassID:     classID,
		Period:      period,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Entries:     entries,
		GeneratedAt: now,
	}

	snapshot := &models.LeaderboardSnapshot{
		ClassID:     classID,
		Period:      period,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Entries:     mustMarshalJSON(entries),
		GeneratedAt: now,
	}
	if err := s.repo.Gradebook().UpsertSnapshot(ctx, snapshot); err != nil {
		return nil, err
	}

	key := leaderboardCacheKey(classID, period, windowStart)
	if err := s.cache.Leaderboard.Set(ctx, key, result, cache.LeaderboardCacheConfig.TTL); err != nil {
		s.logger.Warn("failed to cache leaderboard", "key", key, "error", err)
	}

	s.logger.Info("leaderboard recomputed",
		"class_id", classID, "period", period, "entries", len(entries))
	return result, nil
}

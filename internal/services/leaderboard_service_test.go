package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/SAP-F-2025/grading-service/internal/cache"
	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
)

func TestPeriodWindow(t *testing.T) {
	tests := []struct {
		name      string
		period    models.LeaderboardPeriod
		now       time.Time
		wantStart *time.Time
		wantEnd   *time.Time
	}{
		{
			name:      "weekly starts monday",
			period:    models.PeriodWeekly,
			now:       time.Date(2026, 3, 12, 15, 30, 0, 0, time.UTC), // Thursday
			wantStart: timePtr(time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)),
			wantEnd:   timePtr(time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)),
		},
		{
			name:      "weekly on sunday stays in current week",
			period:    models.PeriodWeekly,
			now:       time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC), // Sunday
			wantStart: timePtr(time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)),
			wantEnd:   timePtr(time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)),
		},
		{
			name:      "monthly starts on the first",
			period:    models.PeriodMonthly,
			now:       time.Date(2026, 3, 12, 15, 30, 0, 0, time.UTC),
			wantStart: timePtr(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
			wantEnd:   timePtr(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)),
		},
		{
			name:   "all_time is unbounded",
			period: models.PeriodAllTime,
			now:    time.Date(2026, 3, 12, 15, 30, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := PeriodWindow(tt.period, tt.now)
			if !sameWindowStart(start, tt.wantStart) {
				t.Errorf("start = %v, want %v", start, tt.wantStart)
			}
			if !sameWindowStart(end, tt.wantEnd) {
				t.Errorf("end = %v, want %v", end, tt.wantEnd)
			}
		})
	}
}

func resolvedRow(studentID string, attemptID uint, earned, max float64, submittedAt *time.Time) *repositories.ResolvedScoreRow {
	return &repositories.ResolvedScoreRow{
		AttemptID:     attemptID,
		AttemptItemID: attemptID * 10,
		ExamID:        100,
		StudentID:     studentID,
		Earned:        earned,
		Max:           max,
		SubmittedAt:   submittedAt,
	}
}

func TestComputeAndStoreRanking(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewLeaderboardService(repo, cache.NewCacheManager(nil), testLogger())
	ctx := context.Background()

	early := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	late := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)

	repo.addProfile("ada", "ada_l", true)
	repo.addProfile("grace", "amazing_grace", true)
	repo.addProfile("alan", "enigma", true)
	repo.addProfile("hidden", "ghost", false)       // opted out
	repo.addProfile("unnamed", "", true)            // no nickname
	// "stranger" has no profile at all.

	repo.resolvedRows = []*repositories.ResolvedScoreRow{
		// ada: 90% over one attempt, later submission.
		resolvedRow("ada", 1, 9, 10, &late),
		// grace: also 90%, but over two attempts; more attempts win the
		// percent tie, so grace ranks above ada.
		resolvedRow("grace", 2, 4.5, 5, &early),
		resolvedRow("grace", 3, 4.5, 5, &early),
		// alan: 80%.
		resolvedRow("alan", 4, 8, 10, &late),
		// invisible students still score but never rank.
		resolvedRow("hidden", 5, 10, 10, &late),
		resolvedRow("unnamed", 6, 10, 10, &late),
		resolvedRow("stranger", 7, 10, 10, &late),
	}

	result, err := svc.ComputeAndStore(ctx, nil, models.PeriodAllTime)
	if err != nil {
		t.Fatalf("ComputeAndStore() error = %v", err)
	}

	if len(result.Entries) != 3 {
		t.Fatalf("entries = %d, want 3 eligible students", len(result.Entries))
	}
	wantOrder := []string{"amazing_grace", "ada_l", "enigma"}
	for i, nickname := range wantOrder {
		entry := result.Entries[i]
		if entry.Nickname != nickname {
			t.Errorf("entry[%d] = %s, want %s", i, entry.Nickname, nickname)
		}
		if entry.Rank != i+1 {
			t.Errorf("entry[%d].Rank = %d, want %d", i, entry.Rank, i+1)
		}
	}
	if result.Entries[0].AttemptCount != 2 || result.Entries[0].Percent != 90 {
		t.Errorf("top entry = %+v, want 2 attempts at 90%%", result.Entries[0])
	}
	if result.WindowStart != nil || result.WindowEnd != nil {
		t.Errorf("window = %v..%v, want unbounded for all_time", result.WindowStart, result.WindowEnd)
	}

	// The snapshot row is persisted alongside the result.
	snapshot, err := repo.Gradebook().GetSnapshot(ctx, nil, models.PeriodAllTime, nil)
	if err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	restored, err := resultFromSnapshot(snapshot)
	if err != nil {
		t.Fatalf("resultFromSnapshot() error = %v", err)
	}
	if len(restored.Entries) != 3 || restored.Entries[0].Nickname != "amazing_grace" {
		t.Errorf("snapshot entries = %+v, want the stored ranking", restored.Entries)
	}
}

func TestComputeAndStoreTieBreaks(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewLeaderboardService(repo, cache.NewCacheManager(nil), testLogger())

	early := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	late := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)

	repo.addProfile("a", "nick_a", true)
	repo.addProfile("b", "nick_b", true)
	repo.addProfile("c", "nick_c", true)

	// Same percent, same attempt count: the most recent submission wins, and
	// a student with no submission timestamp sorts last.
	repo.resolvedRows = []*repositories.ResolvedScoreRow{
		resolvedRow("a", 1, 8, 10, &early),
		resolvedRow("b", 2, 8, 10, &late),
		resolvedRow("c", 3, 8, 10, nil),
	}

	result, err := svc.ComputeAndStore(context.Background(), nil, models.PeriodAllTime)
	if err != nil {
		t.Fatalf("ComputeAndStore() error = %v", err)
	}
	wantOrder := []string{"nick_b", "nick_a", "nick_c"}
	for i, nickname := range wantOrder {
		if result.Entries[i].Nickname != nickname {
			t.Errorf("entry[%d] = %s, want %s", i, result.Entries[i].Nickname, nickname)
		}
	}
}

func TestComputeAndStoreCapsEntries(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewLeaderboardService(repo, cache.NewCacheManager(nil), testLogger())

	submitted := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < leaderboardSize+5; i++ {
		studentID := fmt.Sprintf("student-%d", i)
		repo.addProfile(studentID, fmt.Sprintf("nick-%d", i), true)
		repo.resolvedRows = append(repo.resolvedRows,
			resolvedRow(studentID, uint(i+1), float64(i), 100, &submitted))
	}

	result, err := svc.ComputeAndStore(context.Background(), nil, models.PeriodAllTime)
	if err != nil {
		t.Fatalf("ComputeAndStore() error = %v", err)
	}
	if len(result.Entries) != leaderboardSize {
		t.Errorf("entries = %d, want capped at %d", len(result.Entries), leaderboardSize)
	}
	if result.Entries[0].Nickname != fmt.Sprintf("nick-%d", leaderboardSize+4) {
		t.Errorf("top entry = %s, want the best scorer", result.Entries[0].Nickname)
	}
}

func TestComputeAndStoreRejectsUnknownPeriod(t *testing.T) {
	svc := NewLeaderboardService(newMemoryRepo(), cache.NewCacheManager(nil), testLogger())
	if _, err := svc.ComputeAndStore(context.Background(), nil, "fortnightly"); !IsValidationError(err) {
		t.Errorf("ComputeAndStore() error = %v, want validation error", err)
	}
}

func TestGetServesSnapshotWithoutRecompute(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewLeaderboardService(repo, cache.NewCacheManager(nil), testLogger())
	ctx := context.Background()

	entries := []models.LeaderboardEntry{{Rank: 1, Nickname: "stored", Percent: 95}}
	snapshot := &models.LeaderboardSnapshot{
		Period:      models.PeriodAllTime,
		Entries:     mustMarshalJSON(entries),
		GeneratedAt: time.Now().UTC(),
	}
	if err := repo.Gradebook().UpsertSnapshot(ctx, snapshot); err != nil {
		t.Fatalf("UpsertSnapshot() error = %v", err)
	}

	// Rows that would produce a different ranking if Get recomputed.
	repo.addProfile("ada", "ada_l", true)
	now := time.Now().UTC()
	repo.resolvedRows = []*repositories.ResolvedScoreRow{resolvedRow("ada", 1, 10, 10, &now)}

	result, err := svc.Get(ctx, nil, models.PeriodAllTime)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(result.Entries) != 1 || result.Entries[0].Nickname != "stored" {
		t.Errorf("entries = %+v, want the snapshot content", result.Entries)
	}
}

func TestGetFallsBackToCompute(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewLeaderboardService(repo, cache.NewCacheManager(nil), testLogger())

	repo.addProfile("ada", "ada_l", true)
	now := time.Now().UTC()
	repo.resolvedRows = []*repositories.ResolvedScoreRow{resolvedRow("ada", 1, 10, 10, &now)}

	result, err := svc.Get(context.Background(), nil, models.PeriodAllTime)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(result.Entries) != 1 || result.Entries[0].Nickname != "ada_l" {
		t.Errorf("entries = %+v, want freshly computed ranking", result.Entries)
	}
}

func TestGetHitsRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	repo := newMemoryRepo()
	svc := NewLeaderboardService(repo, cache.NewCacheManager(client), testLogger())
	ctx := context.Background()

	repo.addProfile("ada", "ada_l", true)
	now := time.Now().UTC()
	repo.resolvedRows = []*repositories.ResolvedScoreRow{resolvedRow("ada", 1, 10, 10, &now)}

	if _, err := svc.ComputeAndStore(ctx, nil, models.PeriodAllTime); err != nil {
		t.Fatalf("ComputeAndStore() error = %v", err)
	}

	// A later recompute would see different rows; a cached Get must not.
	repo.resolvedRows = nil
	repo.snapshots = nil

	result, err := svc.Get(ctx, nil, models.PeriodAllTime)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(result.Entries) != 1 || result.Entries[0].Nickname != "ada_l" {
		t.Errorf("entries = %+v, want the cached ranking", result.Entries)
	}
}

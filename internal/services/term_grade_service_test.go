package services

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/xuri/excelize/v2"

	"github.com/SAP-F-2025/grading-service/internal/cache"
	"github.com/SAP-F-2025/grading-service/internal/models"
)

// seedReleasedAttempt creates a released attempt on the exam with one mcq
// item answered either correctly or not.
func seedReleasedAttempt(repo *memoryRepo, studentID string, examID uint, correct bool) *models.Attempt {
	version := repo.addVersion(models.MultipleChoice, `{"correct_option_id":"b"}`, "")
	attempt := release(repo.addStudentAttempt(studentID, examID))
	item := repo.addItem(attempt, version, 10)
	selected := "a"
	if correct {
		selected = "b"
	}
	repo.addResponse(item.ID, `{"selected_option_id":"`+selected+`"}`)
	return attempt
}

func TestComputeWeightedGrade(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewTermGradeService(repo, cache.NewCacheManager(nil), StrategyLatestReleased, testLogger())
	ctx := context.Background()

	repo.addAssessment(1, 7, 100, "Midterm", 2)
	repo.addAssessment(1, 7, 200, "Quiz", 1)
	seedReleasedAttempt(repo, "student-1", 100, true)
	// No attempt on exam 200: full weight, zero contribution.

	result, err := svc.Compute(ctx, 1, "student-1", nil)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}

	if result.ComputedGrade == nil || *result.ComputedGrade != 66.67 {
		t.Errorf("ComputedGrade = %v, want 66.67", result.ComputedGrade)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(result.Rows))
	}

	var midterm, quiz *AssessmentGradeRow
	for i := range result.Rows {
		switch result.Rows[i].Title {
		case "Midterm":
			midterm = &result.Rows[i]
		case "Quiz":
			quiz = &result.Rows[i]
		}
	}
	if midterm == nil || quiz == nil {
		t.Fatalf("rows missing: %+v", result.Rows)
	}
	if midterm.Status != RowGraded || midterm.Percent == nil || *midterm.Percent != 100 {
		t.Errorf("midterm row = %+v, want graded at 100%%", midterm)
	}
	// percent/100 x weight, rounded per row before the weighted sum is
	// normalized.
	if midterm.Contribution != 2 {
		t.Errorf("midterm contribution = %v, want 2", midterm.Contribution)
	}
	if quiz.Status != RowMissing || quiz.Contribution != 0 {
		t.Errorf("quiz row = %+v, want missing with zero contribution", quiz)
	}
	if result.MissingAssessmentsCount != 1 {
		t.Errorf("MissingAssessmentsCount = %d, want 1", result.MissingAssessmentsCount)
	}
	if result.FinalGrade == nil || *result.FinalGrade != 66.67 {
		t.Errorf("FinalGrade = %v, want the computed grade", result.FinalGrade)
	}
}

func TestComputeClassifiesUnreleasedAndMissing(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewTermGradeService(repo, cache.NewCacheManager(nil), "", testLogger())
	ctx := context.Background()

	repo.addAssessment(1, 7, 100, "Graded", 1)
	repo.addAssessment(1, 7, 200, "Pending", 1)
	repo.addAssessment(1, 7, 300, "Skipped", 1)
	seedReleasedAttempt(repo, "student-1", 100, true)

	// Exam 200: submitted, but release is still a day away.
	version := repo.addVersion(models.MultipleChoice, `{"correct_option_id":"b"}`, "")
	pending := repo.addStudentAttempt("student-1", 200)
	now := time.Now().UTC()
	pending.SubmittedAt = &now
	releaseAt := now.Add(24 * time.Hour)
	pending.ReleaseAt = &releaseAt
	repo.addItem(pending, version, 10)
	// Exam 300: no attempt at all.

	result, err := svc.Compute(ctx, 1, "student-1", nil)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}

	if result.MissingAssessmentsCount != 2 {
		t.Errorf("MissingAssessmentsCount = %d, want 2", result.MissingAssessmentsCount)
	}
	wantStatus := map[string]AssessmentRowStatus{
		"Graded":  RowGraded,
		"Pending": RowUnreleased,
		"Skipped": RowMissing,
	}
	for _, row := range result.Rows {
		if row.Status != wantStatus[row.Title] {
			t.Errorf("%s status = %s, want %s", row.Title, row.Status, wantStatus[row.Title])
		}
	}
	if result.ComputedGrade == nil || *result.ComputedGrade != 33.33 {
		t.Errorf("ComputedGrade = %v, want 33.33", result.ComputedGrade)
	}
}

func TestComputeNoPublishedWeight(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewTermGradeService(repo, cache.NewCacheManager(nil), "", testLogger())

	result, err := svc.Compute(context.Background(), 1, "student-1", nil)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if result.ComputedGrade != nil {
		t.Errorf("ComputedGrade = %v, want nil without published assessments", *result.ComputedGrade)
	}
}

func TestComputePicksLatestReleasedAttempt(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewTermGradeService(repo, cache.NewCacheManager(nil), StrategyLatestReleased, testLogger())
	ctx := context.Background()

	repo.addAssessment(1, 7, 100, "Quiz", 1)

	older := seedReleasedAttempt(repo, "student-1", 100, true)
	newer := seedReleasedAttempt(repo, "student-1", 100, false)
	earlier := time.Now().UTC().Add(-2 * time.Hour)
	later := time.Now().UTC().Add(-time.Minute)
	older.SubmittedAt = &earlier
	newer.SubmittedAt = &later

	result, err := svc.Compute(ctx, 1, "student-1", nil)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if result.ComputedGrade == nil || *result.ComputedGrade != 0 {
		t.Errorf("ComputedGrade = %v, want 0 from the latest attempt", result.ComputedGrade)
	}
	if result.Rows[0].AttemptID == nil || *result.Rows[0].AttemptID != newer.ID {
		t.Errorf("AttemptID = %v, want %d", result.Rows[0].AttemptID, newer.ID)
	}
}

func TestComputeHighestScoreStrategy(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewTermGradeService(repo, cache.NewCacheManager(nil), StrategyHighestScore, testLogger())

	repo.addAssessment(1, 7, 100, "Quiz", 1)
	best := seedReleasedAttempt(repo, "student-1", 100, true)
	seedReleasedAttempt(repo, "student-1", 100, false)

	result, err := svc.Compute(context.Background(), 1, "student-1", nil)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if result.ComputedGrade == nil || *result.ComputedGrade != 100 {
		t.Errorf("ComputedGrade = %v, want 100 from the best attempt", result.ComputedGrade)
	}
	if result.Rows[0].AttemptID == nil || *result.Rows[0].AttemptID != best.ID {
		t.Errorf("AttemptID = %v, want %d", result.Rows[0].AttemptID, best.ID)
	}
}

func TestComputeHighestScoreTieBreaks(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewTermGradeService(repo, cache.NewCacheManager(nil), StrategyHighestScore, testLogger())
	ctx := context.Background()

	repo.addAssessment(1, 7, 100, "Quiz", 1)
	first := seedReleasedAttempt(repo, "student-1", 100, true)
	second := seedReleasedAttempt(repo, "student-1", 100, true)
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	later := at.Add(time.Hour)
	first.SubmittedAt = &later
	second.SubmittedAt = &at

	t.Run("percent tie goes to the most recent submission", func(t *testing.T) {
		result, err := svc.Compute(ctx, 1, "student-1", nil)
		if err != nil {
			t.Fatalf("Compute() error = %v", err)
		}
		if result.Rows[0].AttemptID == nil || *result.Rows[0].AttemptID != first.ID {
			t.Errorf("AttemptID = %v, want %d", result.Rows[0].AttemptID, first.ID)
		}
	})

	t.Run("equal submission times go to the highest id", func(t *testing.T) {
		second.SubmittedAt = &later
		result, err := svc.Compute(ctx, 1, "student-1", nil)
		if err != nil {
			t.Fatalf("Compute() error = %v", err)
		}
		if result.Rows[0].AttemptID == nil || *result.Rows[0].AttemptID != second.ID {
			t.Errorf("AttemptID = %v, want %d", result.Rows[0].AttemptID, second.ID)
		}
	})
}

func TestRecomputePersistsAndDeduplicatesAudit(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewTermGradeService(repo, cache.NewCacheManager(nil), "", testLogger())
	ctx := context.Background()

	repo.addAssessment(1, 7, 100, "Quiz", 1)
	seedReleasedAttempt(repo, "student-1", 100, true)

	for i := 0; i < 2; i++ {
		if _, err := svc.Recompute(ctx, 1, "student-1"); err != nil {
			t.Fatalf("Recompute() run %d error = %v", i, err)
		}
	}

	grade, err := repo.Gradebook().GetTermGrade(ctx, 1, "student-1")
	if err != nil {
		t.Fatalf("GetTermGrade() error = %v", err)
	}
	if grade.ComputedGrade == nil || *grade.ComputedGrade != 100 {
		t.Errorf("ComputedGrade = %v, want 100", grade.ComputedGrade)
	}

	if got := len(repo.auditEvents(models.AuditTermGradeComputed)); got != 1 {
		t.Errorf("term_grade_computed facts = %d, want 1 after identical recomputes", got)
	}
}

func TestRecomputePreservesOverride(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser("teacher-1", models.RoleTeacher)
	svc := NewTermGradeService(repo, cache.NewCacheManager(nil), "", testLogger())
	ctx := context.Background()

	repo.addAssessment(1, 7, 100, "Quiz", 1)
	seedReleasedAttempt(repo, "student-1", 100, true)

	err := svc.SetOverride(ctx, 1, "student-1", &OverrideTermGradeRequest{
		Grade: floatPtr(85), Reason: "documented absence",
	}, "teacher-1")
	if err != nil {
		t.Fatalf("SetOverride() error = %v", err)
	}

	result, err := svc.Recompute(ctx, 1, "student-1")
	if err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}
	if result.OverriddenGrade == nil || *result.OverriddenGrade != 85 {
		t.Errorf("OverriddenGrade = %v, want 85 preserved", result.OverriddenGrade)
	}
	if result.FinalGrade == nil || *result.FinalGrade != 85 {
		t.Errorf("FinalGrade = %v, want the override", result.FinalGrade)
	}

	grade, err := repo.Gradebook().GetTermGrade(ctx, 1, "student-1")
	if err != nil {
		t.Fatalf("GetTermGrade() error = %v", err)
	}
	if grade.OverriddenGrade == nil || *grade.OverriddenGrade != 85 {
		t.Errorf("persisted override = %v, want 85", grade.OverriddenGrade)
	}
}

func TestRecomputeLockContention(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cacheManager := cache.NewCacheManager(client)

	repo := newMemoryRepo()
	svc := NewTermGradeService(repo, cacheManager, "", testLogger())
	ctx := context.Background()

	acquired, err := cacheManager.Lock.AcquireLock(ctx, "term_grade:1:student-1", time.Minute)
	if err != nil || !acquired {
		t.Fatalf("AcquireLock() = %v, %v", acquired, err)
	}

	if _, err := svc.Recompute(ctx, 1, "student-1"); !errors.Is(err, ErrRecomputeInProgress) {
		t.Errorf("Recompute() error = %v, want ErrRecomputeInProgress", err)
	}

	// The lock is released after the holder finishes.
	if err := cacheManager.Lock.ReleaseLock(ctx, "term_grade:1:student-1"); err != nil {
		t.Fatalf("ReleaseLock() error = %v", err)
	}
	if _, err := svc.Recompute(ctx, 1, "student-1"); err != nil {
		t.Errorf("Recompute() after release error = %v", err)
	}
}

func TestSetOverrideRules(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser("teacher-1", models.RoleTeacher)
	repo.addUser("student-1", models.RoleStudent)
	svc := NewTermGradeService(repo, cache.NewCacheManager(nil), "", testLogger())
	ctx := context.Background()

	t.Run("students cannot override", func(t *testing.T) {
		err := svc.SetOverride(ctx, 1, "student-1", &OverrideTermGradeRequest{
			Grade: floatPtr(99), Reason: "please",
		}, "student-1")
		if !IsPermissionError(err) {
			t.Errorf("SetOverride() error = %v, want permission error", err)
		}
	})

	t.Run("setting requires a reason", func(t *testing.T) {
		err := svc.SetOverride(ctx, 1, "student-1", &OverrideTermGradeRequest{
			Grade: floatPtr(90), Reason: "   ",
		}, "teacher-1")
		if !IsValidationError(err) {
			t.Errorf("SetOverride() error = %v, want validation error", err)
		}
	})

	t.Run("set then clear", func(t *testing.T) {
		err := svc.SetOverride(ctx, 1, "student-1", &OverrideTermGradeRequest{
			Grade: floatPtr(90.456), Reason: "regrade settled offline",
		}, "teacher-1")
		if err != nil {
			t.Fatalf("SetOverride() error = %v", err)
		}
		grade, err := repo.Gradebook().GetTermGrade(ctx, 1, "student-1")
		if err != nil {
			t.Fatalf("GetTermGrade() error = %v", err)
		}
		if grade.OverriddenGrade == nil || *grade.OverriddenGrade != 90.46 {
			t.Errorf("OverriddenGrade = %v, want 90.46", grade.OverriddenGrade)
		}
		if grade.OverriddenBy == nil || *grade.OverriddenBy != "teacher-1" {
			t.Errorf("OverriddenBy = %v, want teacher-1", grade.OverriddenBy)
		}

		// Clearing needs no reason.
		err = svc.SetOverride(ctx, 1, "student-1", &OverrideTermGradeRequest{}, "teacher-1")
		if err != nil {
			t.Fatalf("SetOverride() clear error = %v", err)
		}
		grade, err = repo.Gradebook().GetTermGrade(ctx, 1, "student-1")
		if err != nil {
			t.Fatalf("GetTermGrade() error = %v", err)
		}
		if grade.OverriddenGrade != nil || grade.OverrideReason != nil || grade.OverriddenBy != nil {
			t.Errorf("override = %+v, want cleared", grade)
		}

		if got := len(repo.auditEvents(models.AuditTermGradeOverride)); got != 2 {
			t.Errorf("term_grade_override facts = %d, want 2", got)
		}
	})
}

func TestExportTerm(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser("teacher-1", models.RoleTeacher)
	repo.addUser("student-1", models.RoleStudent)
	svc := NewTermGradeService(repo, cache.NewCacheManager(nil), "", testLogger())
	ctx := context.Background()

	repo.addAssessment(1, 7, 100, "Midterm", 2)
	seedReleasedAttempt(repo, "student-1", 100, true)
	if _, err := svc.Recompute(ctx, 1, "student-1"); err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}

	t.Run("students cannot export", func(t *testing.T) {
		if _, err := svc.ExportTerm(ctx, 1, nil, "student-1"); !IsPermissionError(err) {
			t.Errorf("ExportTerm() error = %v, want permission error", err)
		}
	})

	data, err := svc.ExportTerm(ctx, 1, nil, "teacher-1")
	if err != nil {
		t.Fatalf("ExportTerm() error = %v", err)
	}

	workbook, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer workbook.Close()
	sheet := workbook.GetSheetName(0)

	header, err := workbook.GetCellValue(sheet, "A1")
	if err != nil || header != "Student" {
		t.Errorf("A1 = %q (err %v), want Student", header, err)
	}
	student, err := workbook.GetCellValue(sheet, "A2")
	if err != nil || student != "student-1" {
		t.Errorf("A2 = %q (err %v), want student-1", student, err)
	}
	computed, err := workbook.GetCellValue(sheet, "C2")
	if err != nil || computed != "100" {
		t.Errorf("C2 = %q (err %v), want 100", computed, err)
	}
}

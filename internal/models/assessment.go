package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AssessmentCategory string

const (
	CategoryQuiz          AssessmentCategory = "quiz"
	CategoryExam          AssessmentCategory = "exam"
	CategoryAssignment    AssessmentCategory = "assignment"
	CategoryParticipation AssessmentCategory = "participation"
)

// Assessment binds a legacy exam to a term with a weight for term-grade
// aggregation. ExamID is the join key to attempts; ClassID groups exams for
// class-restricted views and leaderboards.
type Assessment struct {
	ID      uint `json:"id" gorm:"primaryKey"`
	TermID  uint `json:"term_id" gorm:"not null;index"`
	ClassID uint `json:"class_id" gorm:"not null;index"`
	ExamID  uint `json:"exam_id" gorm:"not null;uniqueIndex"`

	Title     string             `json:"title" gorm:"not null;size:255"`
	Category  AssessmentCategory `json:"category" gorm:"not null;size:20"`
	Weight    float64            `json:"weight" gorm:"not null;default:0"`
	Published bool               `json:"published" gorm:"not null;default:false;index"`

	// ScheduledAt orders the gradebook; assessments without a schedule sort
	// last, then alphabetically by title.
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (Assessment) TableName() string {
	return "assessments"
}

// StudentTermGrade is the persisted outcome of term-grade aggregation, one
// row per (term, student), idempotently upserted.
type StudentTermGrade struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	TermID    uint   `json:"term_id" gorm:"not null;uniqueIndex:idx_term_student"`
	StudentID string `json:"student_id" gorm:"not null;size:255;uniqueIndex:idx_term_student"`

	// ComputedGrade is nil when the term has no published weight at all.
	ComputedGrade   *float64 `json:"computed_grade,omitempty"`
	OverriddenGrade *float64 `json:"overridden_grade,omitempty"`
	OverrideReason  *string  `json:"override_reason,omitempty" gorm:"size:1000"`
	OverriddenBy    *string  `json:"overridden_by,omitempty" gorm:"size:255"`

	ComputedAt time.Time `json:"computed_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (StudentTermGrade) TableName() string {
	return "student_term_grades"
}

// FinalGrade is the grade of record: the manual override when present,
// otherwise the computed grade.
func (g *StudentTermGrade) FinalGrade() *float64 {
	if g.OverriddenGrade != nil {
		return g.OverriddenGrade
	}
	return g.ComputedGrade
}

// StudentProfile carries leaderboard participation settings. Students appear
// on leaderboards only when opted in with a non-empty nickname.
type StudentProfile struct {
	ID                uint   `json:"id" gorm:"primaryKey"`
	StudentID         string `json:"student_id" gorm:"not null;uniqueIndex;size:255"`
	Nickname          string `json:"nickname" gorm:"size:50"`
	ShowOnLeaderboard bool   `json:"show_on_leaderboard" gorm:"not null;default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (StudentProfile) TableName() string {
	return "student_profiles"
}

// IsLeaderboardEligible reports whether the student may appear in rankings.
func (p *StudentProfile) IsLeaderboardEligible() bool {
	return p.ShowOnLeaderboard && p.Nickname != ""
}

type LeaderboardPeriod string

const (
	PeriodWeekly  LeaderboardPeriod = "weekly"
	PeriodMonthly LeaderboardPeriod = "monthly"
	PeriodAllTime LeaderboardPeriod = "all_time"
)

func (p LeaderboardPeriod) IsValid() bool {
	switch p {
	case PeriodWeekly, PeriodMonthly, PeriodAllTime:
		return true
	}
	return false
}

// LeaderboardSnapshot is the durable ranking backing the redis cache. One
// row per (class, period, window start), overwritten by each recompute.
type LeaderboardSnapshot struct {
	ID      uint              `json:"id" gorm:"primaryKey"`
	ClassID *uint             `json:"class_id,omitempty" gorm:"index:idx_leaderboard_key"`
	Period  LeaderboardPeriod `json:"period" gorm:"not null;size:20;index:idx_leaderboard_key"`

	// WindowStart is nil for the all_time period.
	WindowStart *time.Time `json:"window_start,omitempty" gorm:"index:idx_leaderboard_key"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`

	Entries     datatypes.JSON `json:"entries" gorm:"type:jsonb"`
	GeneratedAt time.Time      `json:"generated_at"`
}

func (LeaderboardSnapshot) TableName() string {
	return "leaderboard_snapshots"
}

// LeaderboardEntry is one ranked row inside a snapshot payload.
type LeaderboardEntry struct {
	Rank          int        `json:"rank"`
	Nickname      string     `json:"nickname"`
	TotalEarned   float64    `json:"total_earned"`
	TotalMax      float64    `json:"total_max"`
	Percent       float64    `json:"percent"`
	AttemptCount  int        `json:"attempt_count"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
}

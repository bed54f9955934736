package models

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type GradeState string

const (
	GradePending  GradeState = "pending"
	GradeInReview GradeState = "in_review"
	GradeGraded   GradeState = "graded"
	GradeReleased GradeState = "released"
)

var ErrAttemptTakerRequired = errors.New("attempt must have exactly one of student_id or guest_name")

// Attempt is one sitting of an exam by a student or a public-link guest.
// Exactly one of StudentID / GuestName is set.
type Attempt struct {
	ID     uint `json:"id" gorm:"primaryKey"`
	ExamID uint `json:"exam_id" gorm:"not null;index"`

	StudentID    *string `json:"student_id,omitempty" gorm:"size:255;index"`
	GuestName    *string `json:"guest_name,omitempty" gorm:"size:100"`
	PublicLinkID *uint   `json:"public_link_id,omitempty" gorm:"index"`

	GradeState GradeState `json:"grade_state" gorm:"not null;default:'pending';size:20;index"`

	// ReleaseAt is the scheduled release time for this attempt's grades; nil
	// means grades only become visible by an explicit released transition.
	ReleaseAt   *time.Time `json:"release_at,omitempty"`
	StartedAt   time.Time  `json:"started_at" gorm:"not null"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty" gorm:"index"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Items []AttemptItem `json:"items,omitempty" gorm:"foreignKey:AttemptID"`
}

func (Attempt) TableName() string {
	return "attempts"
}

// Validate enforces the taker invariant: a student xor a guest, never both,
// never neither.
func (a *Attempt) Validate() error {
	hasStudent := a.StudentID != nil && *a.StudentID != ""
	hasGuest := a.GuestName != nil && *a.GuestName != ""
	if hasStudent == hasGuest {
		return ErrAttemptTakerRequired
	}
	return nil
}

// IsReleaseVisible reports whether this attempt's grades may be shown to its
// taker. Visible when explicitly released, or when a scheduled release time
// has passed AND the attempt was actually submitted. An unsubmitted attempt
// never auto-releases.
func (a *Attempt) IsReleaseVisible(now time.Time) bool {
	if a.GradeState == GradeReleased {
		return true
	}
	return a.ReleaseAt != nil && !now.Before(*a.ReleaseAt) && a.SubmittedAt != nil
}

// AttemptItem binds one attempt to one question version with the max points
// the item was worth at attempt time. MaxPoints is only ever changed by a
// void_question/drop_from_total rescore, which zeroes it.
type AttemptItem struct {
	ID                uint    `json:"id" gorm:"primaryKey"`
	AttemptID         uint    `json:"attempt_id" gorm:"not null;uniqueIndex:idx_attempt_item_order"`
	QuestionVersionID uint    `json:"question_version_id" gorm:"not null;index"`
	Position          int     `json:"position" gorm:"not null;uniqueIndex:idx_attempt_item_order"`
	MaxPoints         float64 `json:"max_points" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Attempt         *Attempt         `json:"attempt,omitempty" gorm:"foreignKey:AttemptID"`
	QuestionVersion *QuestionVersion `json:"question_version,omitempty" gorm:"foreignKey:QuestionVersionID"`
	Response        *Response        `json:"response,omitempty" gorm:"foreignKey:AttemptItemID"`
	RubricScore     *RubricScore     `json:"rubric_score,omitempty" gorm:"foreignKey:AttemptItemID"`
	AIGrading       *AIGrading       `json:"ai_grading,omitempty" gorm:"foreignKey:AttemptItemID"`
}

func (AttemptItem) TableName() string {
	return "attempt_items"
}

// Response is the taker's stored answer for one attempt item.
type Response struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	AttemptItemID uint           `json:"attempt_item_id" gorm:"not null;uniqueIndex"`
	Payload       datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	SubmittedAt   time.Time      `json:"submitted_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (Response) TableName() string {
	return "responses"
}

// PublicLink lets anonymous guests attempt an exam. AttemptCount is derived
// by query, never stored; the row is locked before capacity checks so
// concurrent guests cannot oversubscribe.
type PublicLink struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	ExamID      uint       `json:"exam_id" gorm:"not null;index"`
	Token       string     `json:"token" gorm:"not null;uniqueIndex;size:64"`
	MaxAttempts int        `json:"max_attempts" gorm:"not null;default:0"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedBy   string     `json:"created_by" gorm:"size:255"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (PublicLink) TableName() string {
	return "public_links"
}

// IsExpired reports whether the link can no longer accept attempts due to
// its expiry time. A nil ExpiresAt never expires.
func (l *PublicLink) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/SAP-F-2025/grading-service/internal/models"
)

// ===== REQUEST/RESPONSE DTOs =====

// ApplyDecisionRequest carries one regrade ruling. Which payload fields are
// required depends on Type; the regrade service validates the combination.
type ApplyDecisionRequest struct {
	Scope             models.DecisionScope `json:"scope" validate:"required,decision_scope"`
	Type              models.DecisionType  `json:"type" validate:"required,decision_type"`
	AttemptItemID     *uint                `json:"attempt_item_id,omitempty"`
	QuestionVersionID *uint                `json:"question_version_id,omitempty"`

	NewAnswerKey json.RawMessage `json:"new_answer_key,omitempty"`
	NewRubric    json.RawMessage `json:"new_rubric,omitempty"`
	NewPoints    *float64        `json:"new_points,omitempty"`
	Mode         models.VoidMode `json:"mode,omitempty"`
	Reason       string          `json:"reason,omitempty" validate:"max=2000"`

	// AppealID, when set, resolves the appeal in the same transaction.
	AppealID *uint `json:"appeal_id,omitempty"`
}

type CreateAppealRequest struct {
	AttemptItemID uint   `json:"attempt_item_id" validate:"required"`
	Reason        string `json:"reason" validate:"required,nonblank,max=2000"`
}

type OverrideTermGradeRequest struct {
	// Grade nil clears an existing override.
	Grade  *float64 `json:"grade" validate:"omitempty,min=0,max=100"`
	Reason string   `json:"reason" validate:"max=1000"`
}

type StartGuestAttemptRequest struct {
	Token     string `json:"token" validate:"required"`
	GuestName string `json:"guest_name" validate:"required,nonblank,max=100"`
}

type CreatePublicLinkRequest struct {
	ExamID uint `json:"exam_id" validate:"required"`
	// MaxAttempts 0 means unlimited.
	MaxAttempts int        `json:"max_attempts" validate:"min=0"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// AssessmentRowStatus classifies one gradebook row: graded when a
// release-visible attempt was selected, unreleased when the student has
// attempts but none visible yet, missing when there is no attempt at all.
type AssessmentRowStatus string

const (
	RowGraded     AssessmentRowStatus = "graded"
	RowUnreleased AssessmentRowStatus = "unreleased"
	RowMissing    AssessmentRowStatus = "missing"
)

// AssessmentGradeRow is one gradebook line of a term grade computation.
type AssessmentGradeRow struct {
	AssessmentID uint                      `json:"assessment_id"`
	Title        string                    `json:"title"`
	Category     models.AssessmentCategory `json:"category"`
	Weight       float64                   `json:"weight"`

	// Percent is nil when no release-visible attempt was selected; such
	// rows still weigh into the denominator with a zero contribution.
	Percent      *float64            `json:"percent,omitempty"`
	Contribution float64             `json:"contribution"`
	AttemptID    *uint               `json:"attempt_id,omitempty"`
	Status       AssessmentRowStatus `json:"status"`
}

type TermGradeResult struct {
	TermID    uint   `json:"term_id"`
	StudentID string `json:"student_id"`

	ComputedGrade   *float64 `json:"computed_grade,omitempty"`
	OverriddenGrade *float64 `json:"overridden_grade,omitempty"`
	OverrideReason  *string  `json:"override_reason,omitempty"`
	FinalGrade      *float64 `json:"final_grade,omitempty"`

	// MissingAssessmentsCount counts rows without a release-visible
	// attempt, whether unreleased or missing outright.
	MissingAssessmentsCount int                  `json:"missing_assessments_count"`
	Rows                    []AssessmentGradeRow `json:"rows"`
}

type LeaderboardResult struct {
	ClassID     *uint                     `json:"class_id,omitempty"`
	Period      models.LeaderboardPeriod  `json:"period"`
	WindowStart *time.Time                `json:"window_start,omitempty"`
	WindowEnd   *time.Time                `json:"window_end,omitempty"`
	Entries     []models.LeaderboardEntry `json:"entries"`
	GeneratedAt time.Time                 `json:"generated_at"`
}

// ItemResultView is one item of a released attempt result.
type ItemResultView struct {
	AttemptItemID uint                `json:"attempt_item_id"`
	Position      int                 `json:"position"`
	QuestionType  models.QuestionType `json:"question_type"`
	Score         *ResolvedScore      `json:"score"`
}

// AttemptResultView is the taker-facing result payload. Before release
// visibility, scores are withheld and Message explains when they appear.
type AttemptResultView struct {
	AttemptID  uint              `json:"attempt_id"`
	GradeState models.GradeState `json:"grade_state"`
	Visible    bool              `json:"visible"`
	Message    string            `json:"message,omitempty"`
	ReleaseAt  *time.Time        `json:"release_at,omitempty"`

	TotalEarned float64          `json:"total_earned"`
	TotalMax    float64          `json:"total_max"`
	Percent     *float64         `json:"percent,omitempty"`
	Items       []ItemResultView `json:"items,omitempty"`
}

// ===== SERVICE INTERFACES =====

// ScoreResolver derives effective scores for attempt items.
type ScoreResolver interface {
	Resolve(ctx context.Context, attemptItemID uint) (*ResolvedScore, error)
	ResolveAttempt(ctx context.Context, attempt *models.Attempt) (map[uint]*ResolvedScore, error)
}

// RegradeService is the single write path for grading rulings.
type RegradeService interface {
	// ApplyDecision validates, persists and schedules propagation for one
	// ruling. The decision row, any cloned question version and any appeal
	// transition commit atomically; rescore and leaderboard jobs are
	// dispatched only after commit.
	ApplyDecision(ctx context.Context, req *ApplyDecisionRequest, teacherID string) (*models.RegradeDecision, error)

	// PreviewAffectedCount reports how many attempt items a decision with
	// the given target would touch. Pure read, no writes, no jobs.
	PreviewAffectedCount(ctx context.Context, scope models.DecisionScope, targetID uint) (int64, error)
}

// RescoreService executes the asynchronous blast radius of a decision.
type RescoreService interface {
	ProcessChunk(ctx context.Context, decisionID uint, attemptItemIDs []uint) error
}

// AttemptStrategy selects which attempt represents a student on an
// assessment.
type AttemptStrategy string

const (
	StrategyLatestReleased AttemptStrategy = "latest_released"
	StrategyHighestScore   AttemptStrategy = "highest_score"
)

type TermGradeService interface {
	// Compute derives the term grade without persisting anything.
	Compute(ctx context.Context, termID uint, studentID string, classID *uint) (*TermGradeResult, error)

	// Recompute takes the per-(term,student) lock, computes, persists the
	// grade row and records the de-duplicated audit fact.
	Recompute(ctx context.Context, termID uint, studentID string) (*TermGradeResult, error)

	SetOverride(ctx context.Context, termID uint, studentID string, req *OverrideTermGradeRequest, teacherID string) error
	GetTermGrade(ctx context.Context, termID uint, studentID string) (*models.StudentTermGrade, error)

	// ExportTerm renders the teacher-facing gradebook workbook.
	ExportTerm(ctx context.Context, termID uint, classID *uint, teacherID string) ([]byte, error)
}

type LeaderboardService interface {
	// Get serves from cache, then snapshot, then computes. Only a missing
	// snapshot triggers the slow path.
	Get(ctx context.Context, classID *uint, period models.LeaderboardPeriod) (*LeaderboardResult, error)

	// ComputeAndStore rebuilds the ranking and overwrites both the
	// snapshot row and the cache entry.
	ComputeAndStore(ctx context.Context, classID *uint, period models.LeaderboardPeriod) (*LeaderboardResult, error)
}

type AIGradingService interface {
	// GenerateDraft asks the model for a rubric-shaped grading of one
	// short/essay item. Invalid output is retried once with a corrective
	// prompt, then degraded to a needs_review draft keeping the raw text.
	GenerateDraft(ctx context.Context, attemptItemID uint, teacherID string) (*models.AIGrading, error)

	Review(ctx context.Context, aiGradingID uint, approve bool, teacherID string) (*models.AIGrading, error)

	// ApplyDraft turns an approved draft into a draft rubric score. The
	// score stays invisible to resolution until the teacher finalizes it.
	ApplyDraft(ctx context.Context, aiGradingID uint, teacherID string) (*models.RubricScore, error)
}

type AppealService interface {
	Create(ctx context.Context, req *CreateAppealRequest, studentID string) (*models.Appeal, error)
	StartReview(ctx context.Context, appealID uint, teacherID string) (*models.Appeal, error)
	Reject(ctx context.Context, appealID uint, reason string, teacherID string) (*models.Appeal, error)
	ListByStudent(ctx context.Context, studentID string) ([]*models.Appeal, error)
}

type AttemptService interface {
	// GetStudentResult applies the release gate before exposing any score.
	GetStudentResult(ctx context.Context, attemptID uint, studentID string) (*AttemptResultView, error)

	// StartGuestAttempt creates a guest attempt through a public link,
	// locking the link row before the capacity check.
	StartGuestAttempt(ctx context.Context, req *StartGuestAttemptRequest) (*models.Attempt, error)

	// CreatePublicLink mints a guest entry token for an exam.
	CreatePublicLink(ctx context.Context, req *CreatePublicLinkRequest, teacherID string) (*models.PublicLink, error)

	SubmitResponse(ctx context.Context, attemptItemID uint, payload json.RawMessage) error
	SubmitAttempt(ctx context.Context, attemptID uint) (*models.Attempt, error)

	// PreviewMatchingCredit reports the would-be partial credit fraction
	// for a matching item. Teacher-facing preview only.
	PreviewMatchingCredit(ctx context.Context, attemptItemID uint, teacherID string) (float64, error)
}

package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/SAP-F-2025/grading-service/internal/models"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("record not found")

// IsNotFoundError reports whether err is a missing-record error from any
// repository implementation.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}

// ===== FILTERS AND ROW TYPES =====

// ResolvedScoreFilter narrows the bulk resolved-score query.
type ResolvedScoreFilter struct {
	ExamIDs []uint     `json:"exam_ids"`
	ClassID *uint      `json:"class_id"`
	Since   *time.Time `json:"since"`
	Until   *time.Time `json:"until"`

	// ReleaseVisibleOnly keeps only attempts whose grades are visible to
	// their takers as of Now.
	ReleaseVisibleOnly bool      `json:"release_visible_only"`
	StudentsOnly       bool      `json:"students_only"`
	Now                time.Time `json:"now"`
}

// ResolvedScoreRow is one attempt item with its effective score, produced by
// the bulk form of score resolution. The SQL and the per-row resolver must
// agree on every number.
type ResolvedScoreRow struct {
	AttemptID     uint       `json:"attempt_id"`
	AttemptItemID uint       `json:"attempt_item_id"`
	ExamID        uint       `json:"exam_id"`
	StudentID     string     `json:"student_id"`
	Earned        float64    `json:"earned"`
	Max           float64    `json:"max"`
	SubmittedAt   *time.Time `json:"submitted_at"`
}

// ===== QUESTION DOMAIN =====

type QuestionRepository interface {
	Create(ctx context.Context, question *models.Question) error
	GetByID(ctx context.Context, id uint) (*models.Question, error)

	CreateVersion(ctx context.Context, version *models.QuestionVersion) error
	GetVersion(ctx context.Context, id uint) (*models.QuestionVersion, error)
	GetLatestVersion(ctx context.Context, questionID uint) (*models.QuestionVersion, error)
}

// ===== ATTEMPT DOMAIN =====

type AttemptRepository interface {
	Create(ctx context.Context, attempt *models.Attempt) error
	GetByID(ctx context.Context, id uint) (*models.Attempt, error)

	// GetWithItems preloads items with their question versions, responses
	// and rubric scores, ordered by item position.
	GetWithItems(ctx context.Context, id uint) (*models.Attempt, error)
	Update(ctx context.Context, attempt *models.Attempt) error

	// ListByStudentAndExams returns the student's attempts on any of the
	// given exams, items preloaded, newest submission first.
	ListByStudentAndExams(ctx context.Context, studentID string, examIDs []uint) ([]*models.Attempt, error)

	GetItem(ctx context.Context, id uint) (*models.AttemptItem, error)
	UpdateItemMaxPoints(ctx context.Context, itemID uint, maxPoints float64) error

	// UpdateItemVersion repoints an item at a newer question version, used
	// when a key/rubric change clones the version chain.
	UpdateItemVersion(ctx context.Context, itemID, versionID uint) error
	ListItemIDsByVersion(ctx context.Context, versionID uint, offset, limit int) ([]uint, error)
	CountItemsByVersion(ctx context.Context, versionID uint) (int64, error)
	ListExamIDsByVersion(ctx context.Context, versionID uint) ([]uint, error)

	UpsertResponse(ctx context.Context, response *models.Response) error

	// Public links. GetLinkByTokenForUpdate takes a row lock inside the
	// current transaction so capacity checks cannot race.
	CreateLink(ctx context.Context, link *models.PublicLink) error
	GetLinkByTokenForUpdate(ctx context.Context, token string) (*models.PublicLink, error)
	CountAttemptsByLink(ctx context.Context, linkID uint) (int64, error)
}

// ===== GRADING DOMAIN =====

type GradingRepository interface {
	// UpsertRubricScore keeps the one-row-per-item invariant: insert when
	// absent, replace in place when present.
	UpsertRubricScore(ctx context.Context, score *models.RubricScore) error
	GetRubricScore(ctx context.Context, attemptItemID uint) (*models.RubricScore, error)

	UpsertAIGrading(ctx context.Context, grading *models.AIGrading) error
	GetAIGrading(ctx context.Context, id uint) (*models.AIGrading, error)
	GetAIGradingByItem(ctx context.Context, attemptItemID uint) (*models.AIGrading, error)

	CreateDecision(ctx context.Context, decision *models.RegradeDecision) error
	GetDecision(ctx context.Context, id uint) (*models.RegradeDecision, error)

	// ListDecisionsForItem returns every score-relevant decision targeting
	// the item directly or its question version.
	ListDecisionsForItem(ctx context.Context, attemptItemID, questionVersionID uint) ([]*models.RegradeDecision, error)

	// ListResolvedScores is the bulk (relational) form of score resolution
	// used by gradebook and leaderboard aggregation.
	ListResolvedScores(ctx context.Context, filter ResolvedScoreFilter) ([]*ResolvedScoreRow, error)

	CreateAppeal(ctx context.Context, appeal *models.Appeal) error
	GetAppeal(ctx context.Context, id uint) (*models.Appeal, error)
	UpdateAppeal(ctx context.Context, appeal *models.Appeal) error
	ListAppealsByStudent(ctx context.Context, studentID string) ([]*models.Appeal, error)
}

// ===== GRADEBOOK DOMAIN =====

type GradebookRepository interface {
	// ListPublishedAssessments returns published assessments of the term,
	// optionally restricted to one class, ordered by scheduled date (nulls
	// last) then title.
	ListPublishedAssessments(ctx context.Context, termID uint, classID *uint) ([]*models.Assessment, error)
	GetAssessmentByExam(ctx context.Context, examID uint) (*models.Assessment, error)
	ListClassIDsByExamIDs(ctx context.Context, examIDs []uint) ([]uint, error)

	UpsertTermGrade(ctx context.Context, grade *models.StudentTermGrade) error
	GetTermGrade(ctx context.Context, termID uint, studentID string) (*models.StudentTermGrade, error)
	ListTermGrades(ctx context.Context, termID uint) ([]*models.StudentTermGrade, error)

	GetProfile(ctx context.Context, studentID string) (*models.StudentProfile, error)
	GetProfilesByStudentIDs(ctx context.Context, studentIDs []string) (map[string]*models.StudentProfile, error)

	UpsertSnapshot(ctx context.Context, snapshot *models.LeaderboardSnapshot) error
	GetSnapshot(ctx context.Context, classID *uint, period models.LeaderboardPeriod, windowStart *time.Time) (*models.LeaderboardSnapshot, error)
}

// ===== AUDIT DOMAIN =====

type AuditRepository interface {
	Record(ctx context.Context, event *models.AuditEvent) error

	// ExistsIdentical reports whether a fact with the same event type,
	// entity and meta payload was already recorded.
	ExistsIdentical(ctx context.Context, event *models.AuditEvent) (bool, error)
}

// ===== USER DOMAIN =====

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// ===== RUBRIC SCORES =====

// Well-known single-criterion names written by the batch rescorer. Teacher
// and AI gradings use the version's rubric criteria instead.
const (
	CriterionAutoGrade     = "auto_grade"
	CriterionPartialCredit = "partial_credit"
	CriterionVoidQuestion  = "void_question"
)

// RubricScoreEntry is one scored criterion inside a rubric score.
type RubricScoreEntry struct {
	Criterion string  `json:"criterion"`
	Points    float64 `json:"points"`
	MaxPoints float64 `json:"max_points"`
	Comment   string  `json:"comment,omitempty"`
}

// RubricScore is the manual/derived grade for one attempt item. One row per
// item, upserted; drafts are invisible to the score resolver until a grader
// finalizes them.
type RubricScore struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	AttemptItemID uint           `json:"attempt_item_id" gorm:"not null;uniqueIndex"`
	Entries       datatypes.JSON `json:"entries" gorm:"type:jsonb"`
	TotalPoints   float64        `json:"total_points" gorm:"not null;default:0"`
	IsDraft       bool           `json:"is_draft" gorm:"not null;default:false;index"`
	GradedBy      *string        `json:"graded_by,omitempty" gorm:"size:255"`
	Reason        *string        `json:"reason,omitempty" gorm:"size:1000"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (RubricScore) TableName() string {
	return "rubric_scores"
}

func (s *RubricScore) DecodeEntries() ([]RubricScoreEntry, error) {
	var entries []RubricScoreEntry
	if len(s.Entries) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(s.Entries, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ===== AI GRADING DRAFTS =====

type AIGradingStatus string

const (
	AIGradingDraft       AIGradingStatus = "draft"
	AIGradingNeedsReview AIGradingStatus = "needs_review"
	AIGradingApproved    AIGradingStatus = "approved"
	AIGradingRejected    AIGradingStatus = "rejected"
)

// Flags attached to AI gradings and review queues.
const (
	FlagNeedsTeacherReview = "needs_teacher_review"
	FlagInvalidModelOutput = "invalid_model_output"
	FlagLowConfidence      = "low_confidence"
)

// AIGrading holds one model-produced grading draft per attempt item. It is
// never a score by itself; a teacher applies an approved draft to produce a
// draft RubricScore.
type AIGrading struct {
	ID            uint            `json:"id" gorm:"primaryKey"`
	AttemptItemID uint            `json:"attempt_item_id" gorm:"not null;uniqueIndex"`
	Status        AIGradingStatus `json:"status" gorm:"not null;default:'draft';size:20;index"`
	Confidence    float64         `json:"confidence" gorm:"not null;default:0"`

	// Suggestion is the validated structured output (criteria + points +
	// comments); empty when the model never produced valid output.
	Suggestion datatypes.JSON `json:"suggestion,omitempty" gorm:"type:jsonb"`

	// RawOutput keeps the model's last raw text so reviewers can salvage
	// degraded drafts by hand.
	RawOutput string         `json:"raw_output,omitempty" gorm:"type:text"`
	Flags     datatypes.JSON `json:"flags,omitempty" gorm:"type:jsonb"`

	ReviewedBy *string   `json:"reviewed_by,omitempty" gorm:"size:255"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (AIGrading) TableName() string {
	return "ai_gradings"
}

func (g *AIGrading) DecodeFlags() []string {
	var flags []string
	if len(g.Flags) > 0 {
		_ = json.Unmarshal(g.Flags, &flags)
	}
	return flags
}

// HasFlag reports whether the named flag is present.
func (g *AIGrading) HasFlag(flag string) bool {
	for _, f := range g.DecodeFlags() {
		if f == flag {
			return true
		}
	}
	return false
}

// AIGradingSuggestion is the schema the model must return.
type AIGradingSuggestion struct {
	Criteria   []RubricScoreEntry `json:"criteria"`
	Confidence float64            `json:"confidence"`
	Summary    string             `json:"summary,omitempty"`
}

// ===== REGRADE DECISIONS =====

type DecisionScope string

const (
	ScopeAttemptItem     DecisionScope = "attempt_item"
	ScopeQuestionVersion DecisionScope = "question_version"
)

type DecisionType string

const (
	DecisionAnswerKeyChange DecisionType = "answer_key_change"
	DecisionRubricChange    DecisionType = "rubric_change"
	DecisionPartialCredit   DecisionType = "partial_credit"
	DecisionVoidQuestion    DecisionType = "void_question"
)

type VoidMode string

const (
	VoidGiveFull      VoidMode = "give_full"
	VoidDropFromTotal VoidMode = "drop_from_total"
)

// RegradeDecision is an append-only record of a teacher's grading ruling.
// Exactly one of AttemptItemID / QuestionVersionID is set, per Scope.
type RegradeDecision struct {
	ID                uint          `json:"id" gorm:"primaryKey"`
	Scope             DecisionScope `json:"scope" gorm:"not null;size:20"`
	Type              DecisionType  `json:"type" gorm:"not null;size:30"`
	AttemptItemID     *uint         `json:"attempt_item_id,omitempty" gorm:"index"`
	QuestionVersionID *uint         `json:"question_version_id,omitempty" gorm:"index"`

	Payload datatypes.JSON `json:"payload" gorm:"type:jsonb"`

	DecidedBy string    `json:"decided_by" gorm:"not null;size:255"`
	DecidedAt time.Time `json:"decided_at" gorm:"not null;index"`
	CreatedAt time.Time `json:"created_at"`
}

func (RegradeDecision) TableName() string {
	return "regrade_decisions"
}

// IsScoreOverride reports whether this decision directly overrides resolved
// scores. Key/rubric changes influence scores only through rescoring, not
// through the resolver's override lookup.
func (d *RegradeDecision) IsScoreOverride() bool {
	return d.Type == DecisionPartialCredit || d.Type == DecisionVoidQuestion
}

// Decision payloads, stored as jsonb.

type PartialCreditPayload struct {
	NewPoints float64 `json:"new_points"`
	Reason    string  `json:"reason"`
}

type VoidQuestionPayload struct {
	Mode   VoidMode `json:"mode"`
	Reason string   `json:"reason,omitempty"`
}

// AnswerKeyChangePayload records the new key plus the version chain hop the
// decision produced.
type AnswerKeyChangePayload struct {
	NewAnswerKey      json.RawMessage `json:"new_answer_key"`
	ReplacedVersionID uint            `json:"replaced_version_id"`
	NewVersionID      uint            `json:"new_version_id"`
	Reason            string          `json:"reason,omitempty"`
}

type RubricChangePayload struct {
	NewRubric         json.RawMessage `json:"new_rubric"`
	ReplacedVersionID uint            `json:"replaced_version_id"`
	NewVersionID      uint            `json:"new_version_id"`
	Reason            string          `json:"reason,omitempty"`
}

func (d *RegradeDecision) DecodePartialCredit() (PartialCreditPayload, error) {
	var p PartialCreditPayload
	err := json.Unmarshal(d.Payload, &p)
	return p, err
}

func (d *RegradeDecision) DecodeVoidQuestion() (VoidQuestionPayload, error) {
	var p VoidQuestionPayload
	err := json.Unmarshal(d.Payload, &p)
	return p, err
}

func (d *RegradeDecision) DecodeAnswerKeyChange() (AnswerKeyChangePayload, error) {
	var p AnswerKeyChangePayload
	err := json.Unmarshal(d.Payload, &p)
	return p, err
}

func (d *RegradeDecision) DecodeRubricChange() (RubricChangePayload, error) {
	var p RubricChangePayload
	err := json.Unmarshal(d.Payload, &p)
	return p, err
}

// ===== APPEALS =====

type AppealStatus string

const (
	AppealOpen      AppealStatus = "open"
	AppealReviewing AppealStatus = "reviewing"
	AppealResolved  AppealStatus = "resolved"
	AppealRejected  AppealStatus = "rejected"
)

// Appeal is a student's request to re-examine one attempt item's grade.
// Resolution is bound to the regrade decision that settled it, committed in
// the same transaction.
type Appeal struct {
	ID            uint         `json:"id" gorm:"primaryKey"`
	AttemptItemID uint         `json:"attempt_item_id" gorm:"not null;index"`
	StudentID     string       `json:"student_id" gorm:"not null;size:255;index"`
	Reason        string       `json:"reason" gorm:"not null;size:2000"`
	Status        AppealStatus `json:"status" gorm:"not null;default:'open';size:20;index"`

	ResolvedBy *string `json:"resolved_by,omitempty" gorm:"size:255"`
	DecisionID *uint   `json:"decision_id,omitempty" gorm:"index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Appeal) TableName() string {
	return "appeals"
}

// IsOpen reports whether the appeal can still be resolved or rejected.
func (a *Appeal) IsOpen() bool {
	return a.Status == AppealOpen || a.Status == AppealReviewing
}

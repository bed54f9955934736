package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type QuestionType string

const (
	MultipleChoice QuestionType = "mcq"
	Matching       QuestionType = "matching"
	ShortAnswer    QuestionType = "short"
	Essay          QuestionType = "essay"
)

// IsAutoGradable reports whether answers of this type can be scored
// mechanically from the answer key. Short answers and essays always need a
// human (or an AI draft plus a human).
func (t QuestionType) IsAutoGradable() bool {
	return t == MultipleChoice || t == Matching
}

func (t QuestionType) IsValid() bool {
	switch t {
	case MultipleChoice, Matching, ShortAnswer, Essay:
		return true
	}
	return false
}

type QuestionStatus string

const (
	QuestionDraft    QuestionStatus = "draft"
	QuestionActive   QuestionStatus = "active"
	QuestionArchived QuestionStatus = "archived"
)

// Question is the stable identity of a question. All gradable content lives
// on QuestionVersion rows; the chain is append-only so historical attempts
// keep pointing at the exact content they were answered against.
type Question struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	Status    QuestionStatus `json:"status" gorm:"not null;default:'active';size:20"`
	CreatedBy string         `json:"created_by" gorm:"not null;size:255;index"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Versions []QuestionVersion `json:"versions,omitempty" gorm:"foreignKey:QuestionID"`
}

func (Question) TableName() string {
	return "questions"
}

// QuestionVersion is one immutable revision of a question's content, answer
// key and rubric. Regrade decisions that change a key or rubric never mutate
// a version in place; they clone a new one with VersionNumber+1.
type QuestionVersion struct {
	ID            uint         `json:"id" gorm:"primaryKey"`
	QuestionID    uint         `json:"question_id" gorm:"not null;uniqueIndex:idx_question_version_number"`
	VersionNumber int          `json:"version_number" gorm:"not null;uniqueIndex:idx_question_version_number"`
	Type          QuestionType `json:"type" gorm:"not null;size:20"`

	// Content holds the question text and type-specific presentation data
	// (choices, left/right columns, expected length, ...).
	Content datatypes.JSON `json:"content" gorm:"type:jsonb"`

	// AnswerKey is type-specific; empty for essay.
	AnswerKey datatypes.JSON `json:"answer_key,omitempty" gorm:"type:jsonb"`

	// Rubric lists named criteria with max points, used by manual and AI
	// grading of short/essay items.
	Rubric datatypes.JSON `json:"rubric,omitempty" gorm:"type:jsonb"`

	CreatedBy string    `json:"created_by" gorm:"size:255"`
	CreatedAt time.Time `json:"created_at"`

	Question *Question `json:"question,omitempty" gorm:"foreignKey:QuestionID"`
}

func (QuestionVersion) TableName() string {
	return "question_versions"
}

// ===== TYPE-SPECIFIC SCHEMAS =====

// ChoiceOption is one selectable option of a multiple-choice question.
type ChoiceOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type MultipleChoiceContent struct {
	Text    string         `json:"text"`
	Options []ChoiceOption `json:"options"`
}

type MultipleChoiceAnswerKey struct {
	CorrectOptionID string `json:"correct_option_id"`
}

type MultipleChoiceResponse struct {
	SelectedOptionID string `json:"selected_option_id"`
}

type MatchingContent struct {
	Text       string         `json:"text"`
	LeftItems  []ChoiceOption `json:"left_items"`
	RightItems []ChoiceOption `json:"right_items"`
}

// MatchingAnswerKey maps left item id -> expected right item id.
type MatchingAnswerKey struct {
	Pairs map[string]string `json:"pairs"`
}

type MatchingResponse struct {
	Pairs map[string]string `json:"pairs"`
}

type TextResponse struct {
	Text string `json:"text"`
}

// RubricCriterion is one scored dimension of a rubric.
type RubricCriterion struct {
	Name      string  `json:"name"`
	MaxPoints float64 `json:"max_points"`
	Guidance  string  `json:"guidance,omitempty"`
}

type Rubric struct {
	Criteria []RubricCriterion `json:"criteria"`
}

// DecodeRubric parses the version's rubric JSON. A version without a rubric
// yields an empty criteria list, not an error.
func (v *QuestionVersion) DecodeRubric() (Rubric, error) {
	var r Rubric
	if len(v.Rubric) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(v.Rubric, &r); err != nil {
		return Rubric{}, err
	}
	return r, nil
}

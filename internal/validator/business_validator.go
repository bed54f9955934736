package validator

import (
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/SAP-F-2025/grading-service/internal/models"
)

// BusinessValidator handles request and grading business rule validation
type BusinessValidator struct {
	validate *validator.Validate
}

// NewBusinessValidator creates a new business validator
func NewBusinessValidator() *BusinessValidator {
	validate := validator.New()

	bv := &BusinessValidator{validate: validate}
	bv.registerBusinessRules()

	return bv
}

// Validate validates struct tags for any request type
func (bv *BusinessValidator) Validate(s interface{}) ValidationErrors {
	err := bv.validate.Struct(s)
	if err != nil {
		return ToValidationErrors(err)
	}
	return nil
}

func (bv *BusinessValidator) registerBusinessRules() {
	bv.validate.RegisterValidation("nonblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})

	bv.validate.RegisterValidation("decision_scope", func(fl validator.FieldLevel) bool {
		scope := models.DecisionScope(fl.Field().String())
		return scope == models.ScopeAttemptItem || scope == models.ScopeQuestionVersion
	})

	bv.validate.RegisterValidation("decision_type", func(fl validator.FieldLevel) bool {
		switch models.DecisionType(fl.Field().String()) {
		case models.DecisionAnswerKeyChange, models.DecisionRubricChange,
			models.DecisionPartialCredit, models.DecisionVoidQuestion:
			return true
		}
		return false
	})

	bv.validate.RegisterValidation("void_mode", func(fl validator.FieldLevel) bool {
		mode := models.VoidMode(fl.Field().String())
		return mode == models.VoidGiveFull || mode == models.VoidDropFromTotal
	})

	bv.validate.RegisterValidation("leaderboard_period", func(fl validator.FieldLevel) bool {
		return models.LeaderboardPeriod(fl.Field().String()).IsValid()
	})
}

// ValidateAnswerKey checks that an answer key parses against the question
// type's schema and carries a usable key.
func (bv *BusinessValidator) ValidateAnswerKey(questionType models.QuestionType, answerKey json.RawMessage) ValidationErrors {
	var errors ValidationErrors

	switch questionType {
	case models.MultipleChoice:
		var key models.MultipleChoiceAnswerKey
		if err := json.Unmarshal(answerKey, &key); err != nil {
			errors = append(errors, ValidationError{
				Field:   "new_answer_key",
				Message: "malformed multiple-choice answer key",
				Rule:    "answer_key_schema",
			})
		} else if key.CorrectOptionID == "" {
			errors = append(errors, ValidationError{
				Field:   "new_answer_key",
				Message: "correct_option_id is required",
				Rule:    "answer_key_schema",
			})
		}
	case models.Matching:
		var key models.MatchingAnswerKey
		if err := json.Unmarshal(answerKey, &key); err != nil {
			errors = append(errors, ValidationError{
				Field:   "new_answer_key",
				Message: "malformed matching answer key",
				Rule:    "answer_key_schema",
			})
		} else if len(key.Pairs) == 0 {
			errors = append(errors, ValidationError{
				Field:   "new_answer_key",
				Message: "at least one expected pair is required",
				Rule:    "answer_key_schema",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "type",
			Message: "answer key changes only apply to auto-gradable question types",
			Value:   questionType,
			Rule:    "answer_key_schema",
		})
	}

	return errors
}

// ValidateRubric checks a replacement rubric: named criteria with positive
// max points.
func (bv *BusinessValidator) ValidateRubric(rubric json.RawMessage) ValidationErrors {
	var errors ValidationErrors

	var r models.Rubric
	if err := json.Unmarshal(rubric, &r); err != nil {
		return ValidationErrors{{
			Field:   "new_rubric",
			Message: "malformed rubric",
			Rule:    "rubric_schema",
		}}
	}

	if len(r.Criteria) == 0 {
		errors = append(errors, ValidationError{
			Field:   "new_rubric",
			Message: "rubric needs at least one criterion",
			Rule:    "rubric_schema",
		})
	}
	for i, c := range r.Criteria {
		if strings.TrimSpace(c.Name) == "" {
			errors = append(errors, ValidationError{
				Field:   "new_rubric",
				Message: "criterion name must not be blank",
				Value:   i,
				Rule:    "rubric_schema",
			})
		}
		if c.MaxPoints <= 0 {
			errors = append(errors, ValidationError{
				Field:   "new_rubric",
				Message: "criterion max_points must be positive",
				Value:   c.Name,
				Rule:    "rubric_schema",
			})
		}
	}

	return errors
}

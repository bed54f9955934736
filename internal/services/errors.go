package services

import (
	"errors"
	"fmt"

	"github.com/SAP-F-2025/grading-service/internal/validator"
)

// Sentinel errors returned by grading services.
var (
	ErrAttemptNotFound      = errors.New("attempt not found")
	ErrAttemptItemNotFound  = errors.New("attempt item not found")
	ErrDecisionNotFound     = errors.New("regrade decision not found")
	ErrAppealNotFound       = errors.New("appeal not found")
	ErrAppealClosed         = errors.New("appeal is already resolved or rejected")
	ErrVersionNotFound      = errors.New("question version not found")
	ErrGradesNotReleased    = errors.New("grades are not released yet")
	ErrReasonRequired       = errors.New("a reason is required")
	ErrLinkNotFound         = errors.New("public link not found")
	ErrLinkExpired          = errors.New("public link has expired")
	ErrLinkExhausted        = errors.New("public link attempt limit reached")
	ErrRecomputeInProgress  = errors.New("a recompute is already running for this term grade")
	ErrAIGradingNotFound    = errors.New("ai grading not found")
	ErrAIGradingNotApproved = errors.New("ai grading draft is not approved")
	ErrNotAutoGradable      = errors.New("question type is not auto-gradable")
)

// ValidationError carries field-level failures out of a service call.
type ValidationError struct {
	Errors validator.ValidationErrors
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Errors.Error())
}

func NewValidationError(errs validator.ValidationErrors) *ValidationError {
	return &ValidationError{Errors: errs}
}

// NewFieldValidationError is a shorthand for a single-field failure.
func NewFieldValidationError(field, message string) *ValidationError {
	return &ValidationError{Errors: validator.ValidationErrors{{
		Field:   field,
		Message: message,
		Rule:    "business_logic",
	}}}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// PermissionError signals that the acting user lacks the required
// capability.
type PermissionError struct {
	UserID string
	Action string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s is not allowed to %s", e.UserID, e.Action)
}

func NewPermissionError(userID, action string) *PermissionError {
	return &PermissionError{UserID: userID, Action: action}
}

func IsPermissionError(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

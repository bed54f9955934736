package services

import (
	"encoding/json"
	"fmt"

	"github.com/SAP-F-2025/grading-service/internal/models"
)

// Verdict is the outcome of evaluating one stored response against its
// question version's answer key.
type Verdict struct {
	IsCorrect      bool
	IsAutoGradable bool
}

// EvaluateAnswer produces a per-type verdict. Short answers and essays are
// never auto-gradable; their verdict is always not-correct and callers must
// fall back to rubric scores. A missing or malformed response is simply
// incorrect, not an error; a malformed answer key is a data problem and
// surfaces as one.
func EvaluateAnswer(questionType models.QuestionType, answerKey, response json.RawMessage) (Verdict, error) {
	switch questionType {
	case models.MultipleChoice:
		return evaluateMultipleChoice(answerKey, response)
	case models.Matching:
		return evaluateMatching(answerKey, response)
	case models.ShortAnswer, models.Essay:
		return Verdict{IsCorrect: false, IsAutoGradable: false}, nil
	default:
		return Verdict{}, fmt.Errorf("unknown question type %q", questionType)
	}
}

func evaluateMultipleChoice(answerKey, response json.RawMessage) (Verdict, error) {
	verdict := Verdict{IsAutoGradable: true}

	var key models.MultipleChoiceAnswerKey
	if err := json.Unmarshal(answerKey, &key); err != nil {
		return Verdict{}, fmt.Errorf("malformed multiple-choice answer key: %w", err)
	}
	if key.CorrectOptionID == "" {
		// No usable key: nothing can be correct against it.
		return verdict, nil
	}

	if len(response) == 0 {
		return verdict, nil
	}
	var resp models.MultipleChoiceResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return verdict, nil
	}

	verdict.IsCorrect = resp.SelectedOptionID == key.CorrectOptionID
	return verdict, nil
}

func evaluateMatching(answerKey, response json.RawMessage) (Verdict, error) {
	verdict := Verdict{IsAutoGradable: true}

	var key models.MatchingAnswerKey
	if err := json.Unmarshal(answerKey, &key); err != nil {
		return Verdict{}, fmt.Errorf("malformed matching answer key: %w", err)
	}
	if len(key.Pairs) == 0 {
		return verdict, nil
	}

	if len(response) == 0 {
		return verdict, nil
	}
	var resp models.MatchingResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return verdict, nil
	}

	// All-or-nothing: every expected pair must be matched exactly.
	for left, right := range key.Pairs {
		if resp.Pairs[left] != right {
			return verdict, nil
		}
	}
	verdict.IsCorrect = true
	return verdict, nil
}

// MatchingPartialCredit reports the fraction of expected pairs matched,
// rounded to 2dp. It exists only for preview surfaces; scoring itself stays
// all-or-nothing.
func MatchingPartialCredit(answerKey, response json.RawMessage) (float64, error) {
	var key models.MatchingAnswerKey
	if err := json.Unmarshal(answerKey, &key); err != nil {
		return 0, fmt.Errorf("malformed matching answer key: %w", err)
	}
	if len(key.Pairs) == 0 {
		return 0, nil
	}

	var resp models.MatchingResponse
	if len(response) > 0 {
		if err := json.Unmarshal(response, &resp); err != nil {
			return 0, nil
		}
	}

	matched := 0
	for left, right := range key.Pairs {
		if resp.Pairs[left] == right {
			matched++
		}
	}
	return round2(float64(matched) / float64(len(key.Pairs))), nil
}

package assessment

import (
	"errors"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/p-n-ai/pai-course/internal/catalog"
)

// ErrNoQuestions marks a structurally invalid quiz definition. It is a
// configuration fault, not a runtime condition to recover from.
var ErrNoQuestions = errors.New("quiz has no questions")

// Result is the outcome of grading one submission.
type Result struct {
	Score   float64 `json:"score"`
	Passed  bool    `json:"passed"`
	Correct int     `json:"correct"`
	Total   int     `json:"total"`
}

// Grade scores submitted answers against the quiz. Answers align
// positionally with the questions; a missing or malformed entry scores
// that question as incorrect rather than failing the whole submission.
// Pure and deterministic.
func Grade(quiz catalog.Quiz, answers []Answer) (Result, error) {
	total := len(quiz.Questions)
	if total == 0 {
		return Result{}, ErrNoQuestions
	}

	correct := 0
	for i, question := range quiz.Questions {
		if i >= len(answers) {
			continue
		}
		if isCorrect(question, answers[i]) {
			correct++
		}
	}

	score := float64(correct) / float64(total) * 100
	return Result{
		Score:   score,
		Passed:  score >= float64(quiz.PassingScore),
		Correct: correct,
		Total:   total,
	}, nil
}

func isCorrect(question catalog.Question, answer Answer) bool {
	accepted := make(map[string]struct{}, len(question.CorrectAnswers))
	for _, a := range question.CorrectAnswers {
		accepted[normalize(a)] = struct{}{}
	}

	switch answer.Kind {
	case KindSingle:
		// A single value is credited when it matches any accepted answer,
		// even on questions with several.
		_, ok := accepted[normalize(answer.Value)]
		return ok
	case KindMultiple:
		// Credited only on exact set equality: every accepted value
		// present, no extra value present. Partial overlap scores zero.
		submitted := make(map[string]struct{}, len(answer.Values))
		for _, v := range answer.Values {
			submitted[normalize(v)] = struct{}{}
		}
		if len(submitted) != len(accepted) {
			return false
		}
		for v := range submitted {
			if _, ok := accepted[v]; !ok {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// normalize trims whitespace, case-folds, and NFC-normalizes an answer
// value before comparison.
func normalize(s string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}

// Package assessment grades submitted answers against quiz definitions.
package assessment

import (
	"encoding/json"
	"fmt"
)

// AnswerKind tags the two submission shapes a question accepts.
type AnswerKind string

const (
	KindSingle   AnswerKind = "single"
	KindMultiple AnswerKind = "multiple"
)

// Answer is one submitted answer: either a single value or a set of
// values. The zero Answer is malformed and grades as incorrect.
type Answer struct {
	Kind   AnswerKind
	Value  string   // set when Kind is KindSingle
	Values []string // set when Kind is KindMultiple
}

// Single builds a single-valued answer.
func Single(value string) Answer {
	return Answer{Kind: KindSingle, Value: value}
}

// Multiple builds a set-valued answer.
func Multiple(values ...string) Answer {
	return Answer{Kind: KindMultiple, Values: values}
}

// UnmarshalJSON accepts either a JSON string or an array of strings, the
// two shapes clients submit.
func (a *Answer) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = Single(single)
		return nil
	}

	var multiple []string
	if err := json.Unmarshal(data, &multiple); err == nil {
		*a = Multiple(multiple...)
		return nil
	}

	return fmt.Errorf("answer must be a string or an array of strings")
}

// MarshalJSON emits the same shape the answer was submitted in.
func (a Answer) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case KindSingle:
		return json.Marshal(a.Value)
	case KindMultiple:
		return json.Marshal(a.Values)
	default:
		return json.Marshal(nil)
	}
}

package progress

import "github.com/p-n-ai/pai-course/internal/catalog"

// GateState is the decision on whether a student may currently view or
// submit a quiz.
type GateState string

const (
	// GateOpen: no prior attempt, the quiz may be taken.
	GateOpen GateState = "open"
	// GatePassed: a prior attempt passed, the quiz is already satisfied.
	GatePassed GateState = "passed"
	// GateRequiresRemediation: the first attempt on a lesson quiz failed
	// and the owning lesson has not been remediated yet.
	GateRequiresRemediation GateState = "requires_remediation"
	// GateRetryAvailable: one failed attempt, and either the quiz is the
	// final quiz or the owning lesson was remediated. One retry remains.
	GateRetryAvailable GateState = "retry_available"
	// GateLocked: the second attempt failed, no further submissions.
	GateLocked GateState = "locked"
)

// GateDecision is the result of evaluating the gate for (student, quiz).
// LessonID is set for GateRequiresRemediation; CourseID for GateLocked.
type GateDecision struct {
	State    GateState `json:"state"`
	LessonID string    `json:"lesson_id,omitempty"`
	CourseID string    `json:"course_id,omitempty"`
}

// Submittable reports whether a submission is currently permitted.
func (d GateDecision) Submittable() bool {
	return d.State == GateOpen || d.State == GateRetryAvailable
}

// EvaluateGate decides the gate state from the latest attempt, the quiz
// ownership role, and the remediation flag of the owning lesson. Pure.
//
// The remediation gate applies only to lesson quizzes; a failed final
// quiz may be retried without it.
func EvaluateGate(latest *Attempt, role catalog.Role, remediated bool) GateDecision {
	if latest == nil {
		return GateDecision{State: GateOpen}
	}
	if latest.Passed {
		return GateDecision{State: GatePassed}
	}
	if latest.AttemptNumber >= MaxAttempts {
		return GateDecision{State: GateLocked, CourseID: role.CourseID}
	}

	if role.Kind == catalog.RoleLesson && !remediated {
		return GateDecision{State: GateRequiresRemediation, LessonID: role.LessonID}
	}
	return GateDecision{State: GateRetryAvailable}
}

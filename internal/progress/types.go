// Package progress implements the progression and assessment core: the
// attempt ledger, the gating evaluator, the per-course state machine, and
// the remediation tracker.
package progress

import (
	"time"

	"github.com/p-n-ai/pai-course/internal/assessment"
)

// MaxAttempts is the hard ceiling on graded submissions per (student, quiz).
const MaxAttempts = 2

// Status is the terminal-state machine over a student's course record.
type Status string

const (
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further progress writes may occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Attempt is one graded submission. Immutable once recorded.
type Attempt struct {
	ID            string              `json:"id"`
	StudentID     string              `json:"student_id"`
	QuizID        string              `json:"quiz_id"`
	AttemptNumber int                 `json:"attempt_number"`
	Answers       []assessment.Answer `json:"answers"`
	Score         float64             `json:"score"`
	Passed        bool                `json:"passed"`
	CreatedAt     time.Time           `json:"created_at"`
}

// Progress is the unique per-(student, course) progression record.
// CurrentLesson is a 1-based pointer into the course's lesson order; a
// value past the last lesson means the student is at the final quiz.
type Progress struct {
	StudentID     string    `json:"student_id"`
	CourseID      string    `json:"course_id"`
	CurrentLesson int       `json:"current_lesson"`
	Status        Status    `json:"status"`
	UpdatedAt     time.Time `json:"updated_at"`
}

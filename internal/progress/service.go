package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-course/internal/assessment"
	"github.com/p-n-ai/pai-course/internal/catalog"
)

const defaultConflictRetries = 2

// Decision outcomes of SubmitAttempt. These are normal results of the
// gating rules, not infrastructure faults.
var (
	ErrAlreadyPassed   = errors.New("quiz already passed")
	ErrEmptySubmission = errors.New("submission has no answers")
)

// LockedError rejects a submission when the attempt ceiling is reached or
// the course outcome is terminal.
type LockedError struct {
	CourseID string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("quiz locked for course %s", e.CourseID)
}

// RemediationRequiredError rejects a retry until the owning lesson has
// been remediated.
type RemediationRequiredError struct {
	LessonID string
}

func (e *RemediationRequiredError) Error() string {
	return fmt.Sprintf("lesson %s requires remediation before retry", e.LessonID)
}

// ServiceConfig holds dependencies for the progression service.
type ServiceConfig struct {
	Catalog   catalog.Reader
	Store     Store
	Events    Publisher
	GateCache *GateCache // optional

	// ConflictRetries is the number of re-gated retries after a
	// concurrent-write conflict. Zero applies the default; a negative
	// value disables retries entirely.
	ConflictRetries int
}

// Service executes the progression and assessment operations: gate
// checks, graded submissions, enrollment, and remediation flags.
type Service struct {
	catalog         catalog.Reader
	store           Store
	events          Publisher
	gateCache       *GateCache
	conflictRetries int
}

// NewService creates a progression service.
func NewService(cfg ServiceConfig) *Service {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	events := cfg.Events
	if events == nil {
		events = NopPublisher{}
	}
	retries := cfg.ConflictRetries
	switch {
	case retries == 0:
		retries = defaultConflictRetries
	case retries < 0:
		retries = 0
	}
	return &Service{
		catalog:         cfg.Catalog,
		store:           store,
		events:          events,
		gateCache:       cfg.GateCache,
		conflictRetries: retries,
	}
}

// Enroll creates the progress record for (student, course). Idempotent:
// enrolling twice returns the existing record untouched.
func (s *Service) Enroll(ctx context.Context, studentID, courseID string) (*Progress, error) {
	if _, ok := s.catalog.Course(courseID); !ok {
		return nil, fmt.Errorf("course %s: %w", courseID, ErrNotFound)
	}

	if p, err := s.store.GetProgress(ctx, studentID, courseID); err == nil {
		return p, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if err := s.store.CreateProgress(ctx, Progress{
		StudentID:     studentID,
		CourseID:      courseID,
		CurrentLesson: 1,
		Status:        StatusInProgress,
	}); err != nil {
		return nil, err
	}

	s.publish(Event{
		Type:      EventEnrollmentCreated,
		StudentID: studentID,
		CourseID:  courseID,
		Status:    StatusInProgress,
	})

	return s.store.GetProgress(ctx, studentID, courseID)
}

// GateResult is the outcome of a gate check. Quiz carries the quiz body
// when the decision permits viewing it (open, retry available, or already
// passed); it is nil for remediation-required and locked decisions.
type GateResult struct {
	Decision GateDecision
	Quiz     *catalog.Quiz
}

// QuizGate evaluates whether the student may currently view or submit the
// quiz. Read-only: repeated calls never change attempt or progress state.
func (s *Service) QuizGate(ctx context.Context, studentID, quizID string) (*GateResult, error) {
	quiz, role, err := s.resolveQuiz(quizID)
	if err != nil {
		return nil, err
	}

	if d, ok := s.gateCache.Get(ctx, studentID, quizID); ok {
		return s.gateResult(d, quiz), nil
	}

	d, err := s.evaluate(ctx, studentID, quizID, role)
	if err != nil {
		return nil, err
	}
	s.gateCache.Set(ctx, studentID, quizID, d)

	return s.gateResult(d, quiz), nil
}

func (s *Service) gateResult(d GateDecision, quiz catalog.Quiz) *GateResult {
	res := &GateResult{Decision: d}
	switch d.State {
	case GateOpen, GateRetryAvailable, GatePassed:
		res.Quiz = &quiz
	}
	return res
}

func (s *Service) evaluate(ctx context.Context, studentID, quizID string, role catalog.Role) (GateDecision, error) {
	latest, err := s.store.LatestAttempt(ctx, studentID, quizID)
	if err != nil {
		return GateDecision{}, err
	}

	remediated := false
	if latest != nil && !latest.Passed && role.Kind == catalog.RoleLesson {
		remediated, err = s.store.IsRemediated(ctx, studentID, role.LessonID)
		if err != nil {
			return GateDecision{}, err
		}
	}

	return EvaluateGate(latest, role, remediated), nil
}

// SubmitResult is the outcome of a graded submission.
type SubmitResult struct {
	Attempt Attempt `json:"attempt"`
	Status  Status  `json:"progress_status"`
}

// SubmitAttempt grades a submission and commits the attempt together with
// the progress transition as one atomic unit. A concurrent submission for
// the same (student, quiz) loses the attempt-number race, is re-gated,
// and retried; the ceiling of two attempts can never be exceeded.
func (s *Service) SubmitAttempt(ctx context.Context, studentID, quizID string, answers []assessment.Answer) (*SubmitResult, error) {
	quiz, role, err := s.resolveQuiz(quizID)
	if err != nil {
		return nil, err
	}
	if len(answers) == 0 {
		return nil, ErrEmptySubmission
	}

	for try := 0; ; try++ {
		res, err := s.submitOnce(ctx, studentID, quiz, role, answers)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrConflict) || try >= s.conflictRetries {
			return nil, err
		}
		slog.Warn("attempt commit conflict, retrying",
			"student_id", studentID,
			"quiz_id", quizID,
			"try", try+1,
		)
	}
}

func (s *Service) submitOnce(ctx context.Context, studentID string, quiz catalog.Quiz, role catalog.Role, answers []assessment.Answer) (*SubmitResult, error) {
	latest, err := s.store.LatestAttempt(ctx, studentID, quiz.ID)
	if err != nil {
		return nil, err
	}

	remediated := false
	if latest != nil && !latest.Passed && role.Kind == catalog.RoleLesson {
		remediated, err = s.store.IsRemediated(ctx, studentID, role.LessonID)
		if err != nil {
			return nil, err
		}
	}

	d := EvaluateGate(latest, role, remediated)
	if !d.Submittable() {
		return nil, rejectionError(d)
	}

	prev, err := s.store.GetProgress(ctx, studentID, role.CourseID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	// A terminal course outcome blocks every further submission in the
	// course, including quizzes never attempted.
	if prev != nil && prev.Status.Terminal() {
		if prev.Status == StatusCompleted {
			return nil, ErrAlreadyPassed
		}
		return nil, &LockedError{CourseID: prev.CourseID}
	}

	graded, err := assessment.Grade(quiz, answers)
	if err != nil {
		return nil, fmt.Errorf("grading quiz %s: %w", quiz.ID, err)
	}

	number := 1
	if latest != nil {
		number = latest.AttemptNumber + 1
	}

	att := Attempt{
		ID:            uuid.NewString(),
		StudentID:     studentID,
		QuizID:        quiz.ID,
		AttemptNumber: number,
		Answers:       answers,
		Score:         graded.Score,
		Passed:        graded.Passed,
	}

	next := s.applyTransition(prev, role, graded.Passed, number, studentID)

	if err := s.store.CommitAttempt(ctx, att, next); err != nil {
		return nil, err
	}

	s.gateCache.Invalidate(ctx, studentID, quiz.ID)
	s.publishGraded(att, role, prev, next)

	slog.Info("attempt graded",
		"student_id", studentID,
		"quiz_id", quiz.ID,
		"attempt_number", number,
		"score", graded.Score,
		"passed", graded.Passed,
		"progress_status", next.Status,
	)

	return &SubmitResult{Attempt: att, Status: next.Status}, nil
}

// applyTransition implements the progression table. Every (role, result,
// attempt number) combination has exactly one documented transition:
//
//	lesson passed            -> currentLesson advances, stays in-progress
//	lesson failed, attempt 1 -> unchanged (remediation gates the retry)
//	lesson failed, attempt 2 -> failed
//	final passed             -> completed
//	final failed, attempt 1  -> unchanged
//	final failed, attempt 2  -> failed
//
// When no record exists yet the transition starts from a fresh in-progress
// record for the submitting student.
func (s *Service) applyTransition(prev *Progress, role catalog.Role, passed bool, attemptNumber int, studentID string) Progress {
	next := Progress{
		StudentID:     studentID,
		CourseID:      role.CourseID,
		CurrentLesson: 1,
		Status:        StatusInProgress,
	}
	if prev != nil {
		next = *prev
	}

	switch {
	case role.Kind == catalog.RoleLesson && passed:
		// currentLesson only moves forward; passing an earlier lesson's
		// quiz out of order must not rewind it.
		if order := s.lessonOrder(role.LessonID); order+1 > next.CurrentLesson {
			next.CurrentLesson = order + 1
		}
	case role.Kind == catalog.RoleFinal && passed:
		next.Status = StatusCompleted
	case attemptNumber >= MaxAttempts:
		next.Status = StatusFailed
	}

	return next
}

func (s *Service) lessonOrder(lessonID string) int {
	lesson, ok := s.catalog.Lesson(lessonID)
	if !ok {
		return 0
	}
	return lesson.Order
}

// MarkRemediated records remediation completion for (student, lesson).
// Idempotent; called by the external remediation pipeline.
func (s *Service) MarkRemediated(ctx context.Context, studentID, lessonID string) error {
	lesson, ok := s.catalog.Lesson(lessonID)
	if !ok {
		return fmt.Errorf("lesson %s: %w", lessonID, ErrNotFound)
	}

	if err := s.store.MarkRemediated(ctx, studentID, lessonID); err != nil {
		return err
	}

	if lesson.Quiz != nil {
		s.gateCache.Invalidate(ctx, studentID, lesson.Quiz.ID)
	}
	s.publish(Event{
		Type:      EventRemediationRecorded,
		StudentID: studentID,
		LessonID:  lessonID,
	})
	return nil
}

// IsRemediated reports whether remediation is complete for (student, lesson).
func (s *Service) IsRemediated(ctx context.Context, studentID, lessonID string) (bool, error) {
	return s.store.IsRemediated(ctx, studentID, lessonID)
}

// ProgressFor returns the progress record for (student, course).
func (s *Service) ProgressFor(ctx context.Context, studentID, courseID string) (*Progress, error) {
	return s.store.GetProgress(ctx, studentID, courseID)
}

// ListAttempts returns all attempts of a student, oldest first.
func (s *Service) ListAttempts(ctx context.Context, studentID string) ([]Attempt, error) {
	return s.store.ListAttempts(ctx, studentID)
}

// GetAttempt returns one attempt by ID.
func (s *Service) GetAttempt(ctx context.Context, id string) (*Attempt, error) {
	return s.store.GetAttempt(ctx, id)
}

// CourseOfQuiz returns the course a quiz belongs to, or "" when the quiz
// is not in the catalog.
func (s *Service) CourseOfQuiz(quizID string) string {
	role, ok := s.catalog.RoleOf(quizID)
	if !ok {
		return ""
	}
	return role.CourseID
}

func (s *Service) resolveQuiz(quizID string) (catalog.Quiz, catalog.Role, error) {
	quiz, ok := s.catalog.Quiz(quizID)
	if !ok {
		return catalog.Quiz{}, catalog.Role{}, fmt.Errorf("quiz %s: %w", quizID, ErrNotFound)
	}
	role, ok := s.catalog.RoleOf(quizID)
	if !ok {
		return catalog.Quiz{}, catalog.Role{}, fmt.Errorf("quiz %s has no owning lesson or course: %w", quizID, ErrNotFound)
	}
	return quiz, role, nil
}

func rejectionError(d GateDecision) error {
	switch d.State {
	case GatePassed:
		return ErrAlreadyPassed
	case GateLocked:
		return &LockedError{CourseID: d.CourseID}
	case GateRequiresRemediation:
		return &RemediationRequiredError{LessonID: d.LessonID}
	default:
		return fmt.Errorf("submission not permitted in gate state %s", d.State)
	}
}

func (s *Service) publishGraded(att Attempt, role catalog.Role, prev *Progress, next Progress) {
	s.publish(Event{
		Type:          EventAttemptGraded,
		StudentID:     att.StudentID,
		CourseID:      role.CourseID,
		QuizID:        att.QuizID,
		LessonID:      role.LessonID,
		AttemptNumber: att.AttemptNumber,
		Score:         att.Score,
		Passed:        att.Passed,
		Status:        next.Status,
	})

	switch {
	case next.Status == StatusCompleted:
		s.publish(Event{
			Type:      EventCourseCompleted,
			StudentID: att.StudentID,
			CourseID:  next.CourseID,
			Status:    next.Status,
		})
	case next.Status == StatusFailed:
		s.publish(Event{
			Type:      EventCourseFailed,
			StudentID: att.StudentID,
			CourseID:  next.CourseID,
			Status:    next.Status,
		})
	case prev == nil || next.CurrentLesson > prev.CurrentLesson:
		if role.Kind == catalog.RoleLesson && att.Passed {
			s.publish(Event{
				Type:      EventLessonAdvanced,
				StudentID: att.StudentID,
				CourseID:  next.CourseID,
				LessonID:  role.LessonID,
				Status:    next.Status,
			})
		}
	}
}

func (s *Service) publish(event Event) {
	if err := s.events.Publish(event); err != nil {
		slog.Error("failed to publish event", "type", event.Type, "error", err)
	}
}

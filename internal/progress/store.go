package progress

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a concurrent write already claimed the
	// attempt number; the caller re-reads and retries.
	ErrConflict = errors.New("conflicting write")
)

// Store persists progression state. CommitAttempt must apply the attempt
// insert and the progress upsert as one atomic unit: either both commit
// or neither does. Implementations must guarantee that, under concurrent
// submissions, at most one record per (student, quiz, attempt number) is
// ever created.
type Store interface {
	CreateProgress(ctx context.Context, p Progress) error
	GetProgress(ctx context.Context, studentID, courseID string) (*Progress, error)

	// LatestAttempt returns nil with no error when no attempt exists.
	LatestAttempt(ctx context.Context, studentID, quizID string) (*Attempt, error)
	GetAttempt(ctx context.Context, id string) (*Attempt, error)
	ListAttempts(ctx context.Context, studentID string) ([]Attempt, error)
	CommitAttempt(ctx context.Context, att Attempt, prog Progress) error

	MarkRemediated(ctx context.Context, studentID, lessonID string) error
	IsRemediated(ctx context.Context, studentID, lessonID string) (bool, error)
}

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	progress     map[string]*Progress
	attempts     map[string][]Attempt
	attemptsByID map[string]Attempt
	remediations map[string]bool
	mu           sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		progress:     make(map[string]*Progress),
		attempts:     make(map[string][]Attempt),
		attemptsByID: make(map[string]Attempt),
		remediations: make(map[string]bool),
	}
}

func pairKey(a, b string) string {
	return a + "\x00" + b
}

func (s *MemoryStore) CreateProgress(_ context.Context, p Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(p.StudentID, p.CourseID)
	if _, exists := s.progress[key]; exists {
		return nil // enrollment is idempotent
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	s.progress[key] = &p
	return nil
}

func (s *MemoryStore) GetProgress(_ context.Context, studentID, courseID string) (*Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.progress[pairKey(studentID, courseID)]
	if !ok {
		return nil, fmt.Errorf("progress for student %s course %s: %w", studentID, courseID, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) LatestAttempt(_ context.Context, studentID, quizID string) (*Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	atts := s.attempts[pairKey(studentID, quizID)]
	if len(atts) == 0 {
		return nil, nil
	}
	latest := atts[len(atts)-1]
	return &latest, nil
}

func (s *MemoryStore) GetAttempt(_ context.Context, id string) (*Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	att, ok := s.attemptsByID[id]
	if !ok {
		return nil, fmt.Errorf("attempt %s: %w", id, ErrNotFound)
	}
	return &att, nil
}

func (s *MemoryStore) ListAttempts(_ context.Context, studentID string) ([]Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Attempt
	for _, att := range s.attemptsByID {
		if att.StudentID == studentID {
			out = append(out, att)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) CommitAttempt(_ context.Context, att Attempt, prog Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(att.StudentID, att.QuizID)
	prior := s.attempts[key]

	// attemptNumber must be the strict successor of the history length.
	// Anything else means a concurrent submit won the race.
	if att.AttemptNumber != len(prior)+1 || att.AttemptNumber > MaxAttempts {
		return fmt.Errorf("attempt %d for student %s quiz %s: %w",
			att.AttemptNumber, att.StudentID, att.QuizID, ErrConflict)
	}

	// A course that went terminal after this submission was gated must not
	// be reopened by the late commit.
	progKey := pairKey(prog.StudentID, prog.CourseID)
	if existing, ok := s.progress[progKey]; ok && existing.Status.Terminal() {
		return fmt.Errorf("progress for student %s course %s is terminal: %w",
			prog.StudentID, prog.CourseID, ErrConflict)
	}

	if att.CreatedAt.IsZero() {
		att.CreatedAt = time.Now()
	}
	if prog.UpdatedAt.IsZero() {
		prog.UpdatedAt = time.Now()
	}

	s.attempts[key] = append(prior, att)
	s.attemptsByID[att.ID] = att
	s.progress[progKey] = &prog
	return nil
}

func (s *MemoryStore) MarkRemediated(_ context.Context, studentID, lessonID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.remediations[pairKey(studentID, lessonID)] = true
	return nil
}

func (s *MemoryStore) IsRemediated(_ context.Context, studentID, lessonID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.remediations[pairKey(studentID, lessonID)], nil
}

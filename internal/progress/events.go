package progress

import (
	"fmt"
	"sync"
	"time"
)

// Event types published by the progression service.
const (
	EventEnrollmentCreated   = "enrollment.created"
	EventAttemptGraded       = "attempt.graded"
	EventLessonAdvanced      = "lesson.advanced"
	EventCourseCompleted     = "course.completed"
	EventCourseFailed        = "course.failed"
	EventRemediationRecorded = "remediation.recorded"
)

// Event describes one progression state change.
type Event struct {
	Type          string    `json:"type"`
	StudentID     string    `json:"student_id"`
	CourseID      string    `json:"course_id,omitempty"`
	QuizID        string    `json:"quiz_id,omitempty"`
	LessonID      string    `json:"lesson_id,omitempty"`
	AttemptNumber int       `json:"attempt_number,omitempty"`
	Score         float64   `json:"score,omitempty"`
	Passed        bool      `json:"passed,omitempty"`
	Status        Status    `json:"status,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Publisher receives progression events.
type Publisher interface {
	Publish(event Event) error
}

// NopPublisher ignores all events.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) error {
	return nil
}

// MemoryPublisher stores events in memory for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{events: []Event{}}
}

func (p *MemoryPublisher) Publish(event Event) error {
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()

	return nil
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event{}, p.events...)
}

// Broadcaster fans events out to live subscribers. Slow subscribers are
// skipped rather than blocking the publishing request.
type Broadcaster struct {
	mu   sync.RWMutex
	next int
	subs map[int]chan Event
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe returns an event channel and a cancel function that must be
// called when the subscriber is done.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, 16)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (b *Broadcaster) Publish(event Event) error {
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

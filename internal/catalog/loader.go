// Package catalog loads the course catalog from the filesystem and serves
// it as a read-only lookup model with explicit quiz ownership roles.
package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// Loader loads and indexes catalog content from the filesystem.
type Loader struct {
	rootDir string
	courses map[string]Course
	lessons map[string]Lesson
	quizzes map[string]Quiz
	roles   map[string]Role
	mu      sync.RWMutex
}

// NewLoader creates a catalog loader and loads all course files under
// rootDir. Every *.yaml / *.yml file is expected to hold one course.
func NewLoader(rootDir string) (*Loader, error) {
	l := &Loader{
		rootDir: rootDir,
		courses: make(map[string]Course),
		lessons: make(map[string]Lesson),
		quizzes: make(map[string]Quiz),
		roles:   make(map[string]Role),
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	slog.Info("catalog loaded",
		"courses", len(l.courses),
		"lessons", len(l.lessons),
		"quizzes", len(l.quizzes),
	)
	return l, nil
}

// Quiz returns a quiz by ID.
func (l *Loader) Quiz(id string) (Quiz, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	q, ok := l.quizzes[id]
	return q, ok
}

// Course returns a course by ID.
func (l *Loader) Course(id string) (Course, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.courses[id]
	return c, ok
}

// Lesson returns a lesson by ID.
func (l *Loader) Lesson(id string) (Lesson, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	le, ok := l.lessons[id]
	return le, ok
}

// RoleOf returns the ownership role of a quiz.
func (l *Loader) RoleOf(quizID string) (Role, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.roles[quizID]
	return r, ok
}

// AllCourses returns all loaded courses.
func (l *Loader) AllCourses() []Course {
	l.mu.RLock()
	defer l.mu.RUnlock()
	courses := make([]Course, 0, len(l.courses))
	for _, c := range l.courses {
		courses = append(courses, c)
	}
	return courses
}

func (l *Loader) loadAll() error {
	return filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".yaml") && !strings.HasSuffix(path, ".yml") {
			return nil
		}
		return l.loadCourse(path)
	})
}

func (l *Loader) loadCourse(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var course Course
	if err := yaml.Unmarshal(data, &course); err != nil {
		slog.Warn("skipping invalid course YAML", "path", path, "error", err)
		return nil
	}
	if course.ID == "" {
		return nil // Not a course file
	}

	if err := validateCourse(course); err != nil {
		return fmt.Errorf("course %s (%s): %w", course.ID, path, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.courses[course.ID] = course
	for _, lesson := range course.Lessons {
		l.lessons[lesson.ID] = lesson
		if lesson.Quiz != nil {
			l.quizzes[lesson.Quiz.ID] = *lesson.Quiz
			l.roles[lesson.Quiz.ID] = Role{
				Kind:     RoleLesson,
				CourseID: course.ID,
				LessonID: lesson.ID,
			}
		}
	}
	if course.FinalQuiz != nil {
		l.quizzes[course.FinalQuiz.ID] = *course.FinalQuiz
		l.roles[course.FinalQuiz.ID] = Role{
			Kind:     RoleFinal,
			CourseID: course.ID,
		}
	}

	return nil
}

func validateCourse(course Course) error {
	seen := make(map[int]string, len(course.Lessons))
	for _, lesson := range course.Lessons {
		if lesson.ID == "" {
			return fmt.Errorf("lesson with empty id")
		}
		if lesson.Order < 1 {
			return fmt.Errorf("lesson %s: order must be 1-based, got %d", lesson.ID, lesson.Order)
		}
		if prev, dup := seen[lesson.Order]; dup {
			return fmt.Errorf("lessons %s and %s share order %d", prev, lesson.ID, lesson.Order)
		}
		seen[lesson.Order] = lesson.ID

		if lesson.Quiz != nil {
			if err := ValidateQuiz(*lesson.Quiz); err != nil {
				return fmt.Errorf("lesson %s quiz: %w", lesson.ID, err)
			}
		}
	}
	if course.FinalQuiz != nil {
		if err := ValidateQuiz(*course.FinalQuiz); err != nil {
			return fmt.Errorf("final quiz: %w", err)
		}
	}
	return nil
}

// ValidateQuiz checks a quiz definition against the structural schema and
// the rule that every correct answer must be one of the options.
func ValidateQuiz(quiz Quiz) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(quizSchema),
		gojsonschema.NewGoLoader(quiz),
	)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("quiz %s: %s", quiz.ID, strings.Join(msgs, "; "))
	}

	for i, q := range quiz.Questions {
		options := make(map[string]struct{}, len(q.Options))
		for _, o := range q.Options {
			options[o] = struct{}{}
		}
		for _, a := range q.CorrectAnswers {
			if _, ok := options[a]; !ok {
				return fmt.Errorf("quiz %s question %d: correct answer %q is not among the options", quiz.ID, i+1, a)
			}
		}
	}
	return nil
}

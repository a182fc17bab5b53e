package catalog

// Course is an ordered sequence of lessons with an optional final quiz.
// The catalog is an immutable read model; authoring happens elsewhere.
type Course struct {
	ID        string   `yaml:"id" json:"id"`
	Title     string   `yaml:"title" json:"title"`
	Lessons   []Lesson `yaml:"lessons" json:"lessons"`
	FinalQuiz *Quiz    `yaml:"final_quiz,omitempty" json:"final_quiz,omitempty"`
}

// Lesson is a single unit within a course. Order is 1-based and unique
// within the course. A lesson may have no quiz.
type Lesson struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title" json:"title"`
	Order int    `yaml:"order" json:"order"`
	Quiz  *Quiz  `yaml:"quiz,omitempty" json:"quiz,omitempty"`
}

// Quiz is a set of questions with an inclusive passing threshold (0-100).
type Quiz struct {
	ID           string     `yaml:"id" json:"id"`
	PassingScore int        `yaml:"passing_score" json:"passing_score"`
	Questions    []Question `yaml:"questions" json:"questions"`
}

// Question holds one prompt with its option set and accepted answers.
type Question struct {
	Text           string   `yaml:"text" json:"text"`
	Options        []string `yaml:"options" json:"options"`
	CorrectAnswers []string `yaml:"correct_answers" json:"correct_answers"`
	Difficulty     int      `yaml:"difficulty,omitempty" json:"difficulty,omitempty"`
	Explanation    string   `yaml:"explanation,omitempty" json:"explanation,omitempty"`
}

// RoleKind distinguishes lesson quizzes from course-level final quizzes.
type RoleKind string

const (
	RoleLesson RoleKind = "lesson"
	RoleFinal  RoleKind = "final"
)

// Role ties a quiz to the record that owns it. CourseID is always set;
// LessonID only when Kind is RoleLesson. Roles are derived once at load
// time so gate checks never reverse-scan the catalog.
type Role struct {
	Kind     RoleKind
	CourseID string
	LessonID string
}

// Reader is the read-only catalog lookup surface the progression core
// depends on.
type Reader interface {
	Quiz(id string) (Quiz, bool)
	Course(id string) (Course, bool)
	Lesson(id string) (Lesson, bool)
	RoleOf(quizID string) (Role, bool)
}

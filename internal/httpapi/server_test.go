package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-course/internal/catalog"
	"github.com/p-n-ai/pai-course/internal/httpapi"
	"github.com/p-n-ai/pai-course/internal/progress"
)

// apiCatalog is a two-lesson course with a final quiz, enough to drive
// every route through the gate and submission paths.
type apiCatalog struct {
	course  catalog.Course
	lessons map[string]catalog.Lesson
	quizzes map[string]catalog.Quiz
	roles   map[string]catalog.Role
}

func newAPICatalog() *apiCatalog {
	c := &apiCatalog{
		lessons: make(map[string]catalog.Lesson),
		quizzes: make(map[string]catalog.Quiz),
		roles:   make(map[string]catalog.Role),
	}

	course := catalog.Course{ID: "course-1", Title: "Course"}
	for i := 1; i <= 2; i++ {
		quiz := catalog.Quiz{
			ID:           fmt.Sprintf("quiz-%d", i),
			PassingScore: 50,
			Questions: []catalog.Question{
				{Text: "Capital of France?", Options: []string{"Paris", "Lyon"}, CorrectAnswers: []string{"Paris"}},
			},
		}
		lesson := catalog.Lesson{ID: fmt.Sprintf("lesson-%d", i), Title: "Lesson", Order: i, Quiz: &quiz}
		course.Lessons = append(course.Lessons, lesson)
		c.lessons[lesson.ID] = lesson
		c.quizzes[quiz.ID] = quiz
		c.roles[quiz.ID] = catalog.Role{Kind: catalog.RoleLesson, CourseID: course.ID, LessonID: lesson.ID}
	}
	final := catalog.Quiz{
		ID:           "quiz-final",
		PassingScore: 50,
		Questions: []catalog.Question{
			{Text: "Capital of France?", Options: []string{"Paris", "Lyon"}, CorrectAnswers: []string{"Paris"}},
		},
	}
	course.FinalQuiz = &final
	c.quizzes[final.ID] = final
	c.roles[final.ID] = catalog.Role{Kind: catalog.RoleFinal, CourseID: course.ID}

	c.course = course
	return c
}

func (c *apiCatalog) Quiz(id string) (catalog.Quiz, bool) {
	q, ok := c.quizzes[id]
	return q, ok
}

func (c *apiCatalog) Course(id string) (catalog.Course, bool) {
	if id != c.course.ID {
		return catalog.Course{}, false
	}
	return c.course, true
}

func (c *apiCatalog) Lesson(id string) (catalog.Lesson, bool) {
	l, ok := c.lessons[id]
	return l, ok
}

func (c *apiCatalog) RoleOf(quizID string) (catalog.Role, bool) {
	r, ok := c.roles[quizID]
	return r, ok
}

func newTestServer(t *testing.T) (*httptest.Server, *progress.Broadcaster) {
	t.Helper()

	broadcaster := progress.NewBroadcaster()
	svc := progress.NewService(progress.ServiceConfig{
		Catalog: newAPICatalog(),
		Events:  broadcaster,
	})
	checks := map[string]httpapi.HealthCheck{
		"store": func(context.Context) error { return nil },
	}
	ts := httptest.NewServer(httpapi.NewServer(svc, broadcaster, checks).Routes())
	t.Cleanup(ts.Close)
	return ts, broadcaster
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, student string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if student != "" {
		req.Header.Set("X-Student-ID", student)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func submitBody(answer string) map[string]any {
	return map[string]any{"answers": []string{answer}}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestReadyz_FailingCheck(t *testing.T) {
	svc := progress.NewService(progress.ServiceConfig{Catalog: newAPICatalog()})
	checks := map[string]httpapi.HealthCheck{
		"store": func(context.Context) error { return errors.New("down") },
	}
	ts := httptest.NewServer(httpapi.NewServer(svc, nil, checks).Routes())
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestMissingStudentHeader(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, http.MethodGet, "/v1/quizzes/quiz-1/gate", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestEnroll(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/v1/enrollments", "s1", map[string]string{"course_id": "course-1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var p progress.Progress
	decode(t, resp, &p)
	if p.CurrentLesson != 1 || p.Status != progress.StatusInProgress {
		t.Errorf("progress = %+v, want lesson 1 in-progress", p)
	}
}

func TestEnroll_UnknownCourse(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/v1/enrollments", "s1", map[string]string{"course_id": "nope"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestEnroll_MissingCourseID(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/v1/enrollments", "s1", map[string]string{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestQuizGate_OpenIncludesQuiz(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, http.MethodGet, "/v1/quizzes/quiz-1/gate", "s1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Decision progress.GateDecision `json:"decision"`
		Quiz     *catalog.Quiz         `json:"quiz"`
	}
	decode(t, resp, &body)
	if body.Decision.State != progress.GateOpen {
		t.Errorf("state = %q, want %q", body.Decision.State, progress.GateOpen)
	}
	if body.Quiz == nil || body.Quiz.ID != "quiz-1" {
		t.Errorf("quiz = %+v, want quiz-1 body", body.Quiz)
	}
}

func TestQuizGate_UnknownQuiz(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, http.MethodGet, "/v1/quizzes/ghost/gate", "s1", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSubmitAttempt_Pass(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/v1/quizzes/quiz-1/attempts", "s1", submitBody("  paris "))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		AttemptID      string          `json:"attempt_id"`
		AttemptNumber  int             `json:"attempt_number"`
		Score          float64         `json:"score"`
		Passed         bool            `json:"passed"`
		ProgressStatus progress.Status `json:"progress_status"`
	}
	decode(t, resp, &body)
	if !body.Passed || body.Score != 100 || body.AttemptNumber != 1 {
		t.Errorf("result = %+v, want passed 100 on attempt 1", body)
	}
	if body.AttemptID == "" {
		t.Error("attempt_id is empty")
	}
	if body.ProgressStatus != progress.StatusInProgress {
		t.Errorf("status = %q, want in-progress", body.ProgressStatus)
	}
}

func TestSubmitAttempt_RemediationRequired(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/v1/quizzes/quiz-1/attempts", "s1", submitBody("Lyon"))
	resp.Body.Close()

	resp = doJSON(t, ts, http.MethodPost, "/v1/quizzes/quiz-1/attempts", "s1", submitBody("Paris"))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["error"] != "remediation_required" || body["lesson_id"] != "lesson-1" {
		t.Errorf("body = %v, want remediation_required for lesson-1", body)
	}
}

func TestRemediationUnlocksRetry(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/v1/quizzes/quiz-1/attempts", "s1", submitBody("Lyon"))
	resp.Body.Close()

	resp = doJSON(t, ts, http.MethodPost, "/v1/remediations", "s1", map[string]string{"lesson_id": "lesson-1"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remediation status = %d, want 204", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, ts, http.MethodPost, "/v1/quizzes/quiz-1/attempts", "s1", submitBody("Paris"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("retry status = %d, want 200", resp.StatusCode)
	}
}

func TestSubmitAttempt_Locked(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/v1/quizzes/quiz-1/attempts", "s1", submitBody("Lyon"))
	resp.Body.Close()
	resp = doJSON(t, ts, http.MethodPost, "/v1/remediations", "s1", map[string]string{"lesson_id": "lesson-1"})
	resp.Body.Close()
	resp = doJSON(t, ts, http.MethodPost, "/v1/quizzes/quiz-1/attempts", "s1", submitBody("Lyon"))
	resp.Body.Close()

	resp = doJSON(t, ts, http.MethodPost, "/v1/quizzes/quiz-1/attempts", "s1", submitBody("Paris"))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["error"] != "locked" || body["course_id"] != "course-1" {
		t.Errorf("body = %v, want locked for course-1", body)
	}
}

func TestSubmitAttempt_EmptyAnswers(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/v1/quizzes/quiz-1/attempts", "s1", map[string]any{"answers": []string{}})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListAndGetAttempts(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/v1/quizzes/quiz-1/attempts", "s1", submitBody("Paris"))
	var submitted struct {
		AttemptID string `json:"attempt_id"`
	}
	decode(t, resp, &submitted)

	resp = doJSON(t, ts, http.MethodGet, "/v1/attempts", "s1", nil)
	var listed struct {
		Attempts []progress.Attempt `json:"attempts"`
	}
	decode(t, resp, &listed)
	if len(listed.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(listed.Attempts))
	}

	resp = doJSON(t, ts, http.MethodGet, "/v1/attempts/"+submitted.AttemptID, "s1", nil)
	var att progress.Attempt
	decode(t, resp, &att)
	if att.QuizID != "quiz-1" {
		t.Errorf("QuizID = %q, want quiz-1", att.QuizID)
	}

	// Another student cannot read it.
	resp = doJSON(t, ts, http.MethodGet, "/v1/attempts/"+submitted.AttemptID, "s2", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cross-student status = %d, want 404", resp.StatusCode)
	}
}

func TestListAttempts_Empty(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, http.MethodGet, "/v1/attempts", "s1", nil)
	var listed struct {
		Attempts []progress.Attempt `json:"attempts"`
	}
	decode(t, resp, &listed)
	if listed.Attempts == nil || len(listed.Attempts) != 0 {
		t.Errorf("attempts = %v, want empty array", listed.Attempts)
	}
}

func TestGetProgress(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/v1/enrollments", "s1", map[string]string{"course_id": "course-1"})
	resp.Body.Close()

	resp = doJSON(t, ts, http.MethodGet, "/v1/courses/course-1/progress", "s1", nil)
	var p progress.Progress
	decode(t, resp, &p)
	if p.CourseID != "course-1" || p.CurrentLesson != 1 {
		t.Errorf("progress = %+v, want course-1 lesson 1", p)
	}

	resp = doJSON(t, ts, http.MethodGet, "/v1/courses/course-1/progress", "s2", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unenrolled status = %d, want 404", resp.StatusCode)
	}
}

func TestReport(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/v1/quizzes/quiz-1/attempts", "s1", submitBody("Paris"))
	resp.Body.Close()

	resp = doJSON(t, ts, http.MethodGet, "/v1/report", "s1", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("Content-Type = %q, want xlsx", ct)
	}

	f, err := excelize.OpenReader(resp.Body)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	cell, err := f.GetCellValue("Attempts", "A2")
	if err != nil {
		t.Fatalf("read cell: %v", err)
	}
	if cell != "quiz-1" {
		t.Errorf("Attempts!A2 = %q, want quiz-1", cell)
	}
}

func TestEventsWebsocket(t *testing.T) {
	ts, _ := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, ts.URL+"/v1/events", &websocket.DialOptions{
		HTTPHeader: http.Header{"X-Student-ID": []string{"s1"}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Events from other students must not reach this subscriber.
	resp := doJSON(t, ts, http.MethodPost, "/v1/enrollments", "s2", map[string]string{"course_id": "course-1"})
	resp.Body.Close()
	resp = doJSON(t, ts, http.MethodPost, "/v1/enrollments", "s1", map[string]string{"course_id": "course-1"})
	resp.Body.Close()

	var event progress.Event
	if err := wsjson.Read(ctx, conn, &event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Type != progress.EventEnrollmentCreated || event.StudentID != "s1" {
		t.Errorf("event = %+v, want enrollment.created for s1", event)
	}
}

// Package httpapi exposes the progression service over HTTP: gate checks,
// graded submissions, enrollment, remediation callbacks, report export,
// and a live event feed.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/pai-course/internal/assessment"
	"github.com/p-n-ai/pai-course/internal/progress"
	"github.com/p-n-ai/pai-course/internal/report"
)

// studentHeader carries the authenticated student identity. Authentication
// itself happens upstream; this service only consumes the identity.
const studentHeader = "X-Student-ID"

// HealthCheck probes one dependency for the readiness endpoint.
type HealthCheck func(ctx context.Context) error

// Server holds the HTTP handler dependencies.
type Server struct {
	svc         *progress.Service
	broadcaster *progress.Broadcaster
	checks      map[string]HealthCheck
}

// NewServer creates the HTTP API server. broadcaster may be nil when the
// event feed is not wired.
func NewServer(svc *progress.Service, broadcaster *progress.Broadcaster, checks map[string]HealthCheck) *Server {
	return &Server{
		svc:         svc,
		broadcaster: broadcaster,
		checks:      checks,
	}
}

// Routes builds the request router.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	mux.HandleFunc("POST /v1/enrollments", s.handleEnroll)
	mux.HandleFunc("GET /v1/quizzes/{id}/gate", s.handleQuizGate)
	mux.HandleFunc("POST /v1/quizzes/{id}/attempts", s.handleSubmitAttempt)
	mux.HandleFunc("GET /v1/attempts", s.handleListAttempts)
	mux.HandleFunc("GET /v1/attempts/{id}", s.handleGetAttempt)
	mux.HandleFunc("GET /v1/courses/{id}/progress", s.handleGetProgress)
	mux.HandleFunc("POST /v1/remediations", s.handleMarkRemediated)
	mux.HandleFunc("GET /v1/report", s.handleReport)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			slog.Error("readiness check failed", "dependency", name, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":     "unavailable",
				"dependency": name,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	studentID, ok := requireStudent(w, r)
	if !ok {
		return
	}

	var req struct {
		CourseID string `json:"course_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CourseID == "" {
		writeError(w, http.StatusBadRequest, "course_id is required")
		return
	}

	p, err := s.svc.Enroll(r.Context(), studentID, req.CourseID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// gateResponse mirrors the GetQuizGate contract: the quiz body is present
// only when the decision permits viewing it.
type gateResponse struct {
	Decision progress.GateDecision `json:"decision"`
	Quiz     any                   `json:"quiz,omitempty"`
}

func (s *Server) handleQuizGate(w http.ResponseWriter, r *http.Request) {
	studentID, ok := requireStudent(w, r)
	if !ok {
		return
	}

	res, err := s.svc.QuizGate(r.Context(), studentID, r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	resp := gateResponse{Decision: res.Decision}
	if res.Quiz != nil {
		resp.Quiz = res.Quiz
	}
	writeJSON(w, http.StatusOK, resp)
}

type submitResponse struct {
	AttemptID      string          `json:"attempt_id"`
	AttemptNumber  int             `json:"attempt_number"`
	Score          float64         `json:"score"`
	Passed         bool            `json:"passed"`
	ProgressStatus progress.Status `json:"progress_status"`
}

func (s *Server) handleSubmitAttempt(w http.ResponseWriter, r *http.Request) {
	studentID, ok := requireStudent(w, r)
	if !ok {
		return
	}

	var req struct {
		Answers []assessment.Answer `json:"answers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "answers must be strings or arrays of strings")
		return
	}

	res, err := s.svc.SubmitAttempt(r.Context(), studentID, r.PathValue("id"), req.Answers)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{
		AttemptID:      res.Attempt.ID,
		AttemptNumber:  res.Attempt.AttemptNumber,
		Score:          res.Attempt.Score,
		Passed:         res.Attempt.Passed,
		ProgressStatus: res.Status,
	})
}

func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	studentID, ok := requireStudent(w, r)
	if !ok {
		return
	}

	atts, err := s.svc.ListAttempts(r.Context(), studentID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if atts == nil {
		atts = []progress.Attempt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": atts})
}

func (s *Server) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	studentID, ok := requireStudent(w, r)
	if !ok {
		return
	}

	att, err := s.svc.GetAttempt(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if att.StudentID != studentID {
		writeError(w, http.StatusNotFound, "attempt not found")
		return
	}
	writeJSON(w, http.StatusOK, att)
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	studentID, ok := requireStudent(w, r)
	if !ok {
		return
	}

	p, err := s.svc.ProgressFor(r.Context(), studentID, r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleMarkRemediated(w http.ResponseWriter, r *http.Request) {
	studentID, ok := requireStudent(w, r)
	if !ok {
		return
	}

	var req struct {
		LessonID string `json:"lesson_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LessonID == "" {
		writeError(w, http.StatusBadRequest, "lesson_id is required")
		return
	}

	if err := s.svc.MarkRemediated(r.Context(), studentID, req.LessonID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	studentID, ok := requireStudent(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	atts, err := s.svc.ListAttempts(ctx, studentID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	// Progress rows are collected per distinct course the student touched.
	var records []progress.Progress
	seen := map[string]bool{}
	for _, att := range atts {
		courseID := s.svc.CourseOfQuiz(att.QuizID)
		if courseID == "" || seen[courseID] {
			continue
		}
		seen[courseID] = true
		if p, err := s.svc.ProgressFor(ctx, studentID, courseID); err == nil {
			records = append(records, *p)
		}
	}

	f, err := report.BuildWorkbook(studentID, atts, records)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", studentID+"-progress.xlsx"))
	if err := f.Write(w); err != nil {
		slog.Error("failed to write report", "student_id", studentID, "error", err)
	}
}

// handleEvents streams progression events for the calling student over a
// websocket connection.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	studentID, ok := requireStudent(w, r)
	if !ok {
		return
	}
	if s.broadcaster == nil {
		writeError(w, http.StatusNotImplemented, "event feed not enabled")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	events, cancel := s.broadcaster.Subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			if event.StudentID != studentID {
				continue
			}
			if err := wsjson.Write(ctx, conn, event); err != nil {
				return
			}
		}
	}
}

func requireStudent(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(studentHeader)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "missing "+studentHeader+" header")
		return "", false
	}
	return id, true
}

// writeDomainError maps service errors to HTTP. Gating rejections are
// decisions, not faults: they return 409 with the detail the caller needs
// to act (lesson to remediate, locked course).
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var remediation *progress.RemediationRequiredError
	var locked *progress.LockedError

	switch {
	case errors.As(err, &remediation):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":     "remediation_required",
			"lesson_id": remediation.LessonID,
		})
	case errors.As(err, &locked):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":     "locked",
			"course_id": locked.CourseID,
		})
	case errors.Is(err, progress.ErrAlreadyPassed):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "already_passed"})
	case errors.Is(err, progress.ErrEmptySubmission):
		writeError(w, http.StatusBadRequest, "submission has no answers")
	case errors.Is(err, progress.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, progress.ErrConflict):
		writeError(w, http.StatusServiceUnavailable, "concurrent submission conflict, retry")
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/p-n-ai/pai-course/internal/assessment"
)

const dbTimeout = 5 * time.Second

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS progress (
	student_id     text NOT NULL,
	course_id      text NOT NULL,
	current_lesson int  NOT NULL DEFAULT 1,
	status         text NOT NULL DEFAULT 'in-progress',
	updated_at     timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (student_id, course_id)
);

CREATE TABLE IF NOT EXISTS attempts (
	id             uuid PRIMARY KEY,
	student_id     text NOT NULL,
	quiz_id        text NOT NULL,
	attempt_number int  NOT NULL CHECK (attempt_number BETWEEN 1 AND 2),
	answers        jsonb NOT NULL,
	score          double precision NOT NULL,
	passed         boolean NOT NULL,
	created_at     timestamptz NOT NULL DEFAULT now(),
	UNIQUE (student_id, quiz_id, attempt_number)
);

CREATE TABLE IF NOT EXISTS remediations (
	student_id text NOT NULL,
	lesson_id  text NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (student_id, lesson_id)
);
`

// PostgresStore is a PostgreSQL-backed Store. The unique index on
// (student_id, quiz_id, attempt_number) is what turns a double-submit
// race into ErrConflict instead of a duplicate attempt.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed store and ensures the
// schema exists.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) CreateProgress(ctx context.Context, p Progress) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if p.StudentID == "" || p.CourseID == "" {
		return fmt.Errorf("student_id and course_id are required")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO progress (student_id, course_id, current_lesson, status)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (student_id, course_id) DO NOTHING`,
		p.StudentID,
		p.CourseID,
		p.CurrentLesson,
		string(p.Status),
	)
	if err != nil {
		return fmt.Errorf("create progress: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProgress(ctx context.Context, studentID, courseID string) (*Progress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	p := &Progress{}
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT student_id, course_id, current_lesson, status, updated_at
		 FROM progress
		 WHERE student_id = $1 AND course_id = $2`,
		studentID, courseID,
	).Scan(&p.StudentID, &p.CourseID, &p.CurrentLesson, &status, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("progress for student %s course %s: %w", studentID, courseID, ErrNotFound)
		}
		return nil, fmt.Errorf("get progress: %w", err)
	}
	p.Status = Status(status)
	return p, nil
}

func (s *PostgresStore) LatestAttempt(ctx context.Context, studentID, quizID string) (*Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`SELECT id::text, student_id, quiz_id, attempt_number, answers, score, passed, created_at
		 FROM attempts
		 WHERE student_id = $1 AND quiz_id = $2
		 ORDER BY attempt_number DESC
		 LIMIT 1`,
		studentID, quizID,
	)

	att, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest attempt: %w", err)
	}
	return att, nil
}

func (s *PostgresStore) GetAttempt(ctx context.Context, id string) (*Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`SELECT id::text, student_id, quiz_id, attempt_number, answers, score, passed, created_at
		 FROM attempts
		 WHERE id = $1::uuid`,
		id,
	)

	att, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("attempt %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return att, nil
}

func (s *PostgresStore) ListAttempts(ctx context.Context, studentID string) ([]Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id::text, student_id, quiz_id, attempt_number, answers, score, passed, created_at
		 FROM attempts
		 WHERE student_id = $1
		 ORDER BY created_at ASC`,
		studentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		att, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, *att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CommitAttempt(ctx context.Context, att Attempt, prog Progress) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	answers, err := json.Marshal(att.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO attempts (id, student_id, quiz_id, attempt_number, answers, score, passed, created_at)
		 VALUES ($1::uuid, $2, $3, $4, $5::jsonb, $6, $7, $8)`,
		att.ID,
		att.StudentID,
		att.QuizID,
		att.AttemptNumber,
		string(answers),
		att.Score,
		att.Passed,
		createdOrNow(att.CreatedAt),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("attempt %d for student %s quiz %s: %w",
				att.AttemptNumber, att.StudentID, att.QuizID, ErrConflict)
		}
		return fmt.Errorf("insert attempt: %w", err)
	}

	// The WHERE guard keeps a late commit from reopening a course that
	// turned terminal via another quiz; zero rows updated rolls back the
	// attempt insert with it.
	tag, err := tx.Exec(ctx,
		`INSERT INTO progress (student_id, course_id, current_lesson, status, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (student_id, course_id) DO UPDATE
		 SET current_lesson = EXCLUDED.current_lesson,
		     status = EXCLUDED.status,
		     updated_at = now()
		 WHERE progress.status = 'in-progress'`,
		prog.StudentID,
		prog.CourseID,
		prog.CurrentLesson,
		string(prog.Status),
	)
	if err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("progress for student %s course %s is terminal: %w",
			prog.StudentID, prog.CourseID, ErrConflict)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkRemediated(ctx context.Context, studentID, lessonID string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO remediations (student_id, lesson_id)
		 VALUES ($1, $2)
		 ON CONFLICT (student_id, lesson_id) DO NOTHING`,
		studentID, lessonID,
	)
	if err != nil {
		return fmt.Errorf("mark remediated: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsRemediated(ctx context.Context, studentID, lessonID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM remediations WHERE student_id = $1 AND lesson_id = $2
		 )`,
		studentID, lessonID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check remediation: %w", err)
	}
	return exists, nil
}

func scanAttempt(row pgx.Row) (*Attempt, error) {
	att := &Attempt{}
	var answers []byte
	if err := row.Scan(
		&att.ID,
		&att.StudentID,
		&att.QuizID,
		&att.AttemptNumber,
		&answers,
		&att.Score,
		&att.Passed,
		&att.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &att.Answers); err != nil {
			return nil, fmt.Errorf("unmarshal answers: %w", err)
		}
	}
	if att.Answers == nil {
		att.Answers = []assessment.Answer{}
	}
	return att, nil
}

func createdOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/mykarfour/quiz-attempt-engine/internal/domain"
)

const uniqueViolation = "23505"

// AttemptStore is the Postgres implementation of engine.AttemptStore. The
// one-open-attempt invariant rests on a partial unique index over
// (learner_id, quiz_id) WHERE status = 'in_progress': concurrent Start calls
// settle at the constraint, so no advisory locking is needed.
type AttemptStore struct {
	pool *pgxpool.Pool
}

func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

// CreateAttempt inserts the attempt, its session, and the per-question rows
// in one transaction; either all of them exist afterwards or none do.
func (s *AttemptStore) CreateAttempt(ctx context.Context, attempt domain.Attempt, session domain.AttemptSession) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create attempt: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO attempts (id, learner_id, quiz_id, status, started_at, points_max)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		attempt.ID, attempt.LearnerID, attempt.QuizID, string(attempt.Status), attempt.StartedAt, attempt.PointsMax)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAttemptInProgress
		}
		return fmt.Errorf("insert attempt: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO attempt_sessions (attempt_id, quiz_id, learner_id, started_at, deadline)
		VALUES ($1, $2, $3, $4, $5)`,
		session.AttemptID, session.QuizID, session.LearnerID, session.StartedAt, session.Deadline)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	for _, q := range session.Questions {
		_, err = tx.Exec(ctx, `
			INSERT INTO session_questions (attempt_id, question_id, ordre)
			VALUES ($1, $2, $3)`,
			session.AttemptID, q.QuestionID, q.Ordre)
		if err != nil {
			return fmt.Errorf("insert session question: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create attempt: %w", err)
	}
	return nil
}

func (s *AttemptStore) GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error) {
	return scanAttempt(s.pool.QueryRow(ctx, `
		SELECT id, learner_id, quiz_id, status, started_at, ended_at, elapsed_seconds, score, points_earned, points_max
		FROM attempts WHERE id=$1`, attemptID))
}

func (s *AttemptStore) GetActiveAttempt(ctx context.Context, learnerID, quizID string) (domain.Attempt, error) {
	return scanAttempt(s.pool.QueryRow(ctx, `
		SELECT id, learner_id, quiz_id, status, started_at, ended_at, elapsed_seconds, score, points_earned, points_max
		FROM attempts WHERE learner_id=$1 AND quiz_id=$2 AND status='in_progress'`, learnerID, quizID))
}

func (s *AttemptStore) GetSession(ctx context.Context, attemptID string) (domain.AttemptSession, error) {
	session := domain.AttemptSession{AttemptID: attemptID}
	err := s.pool.QueryRow(ctx, `
		SELECT quiz_id, learner_id, started_at, deadline
		FROM attempt_sessions WHERE attempt_id=$1`, attemptID).
		Scan(&session.QuizID, &session.LearnerID, &session.StartedAt, &session.Deadline)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AttemptSession{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.AttemptSession{}, fmt.Errorf("load session: %w", err)
	}

	session.Questions, err = s.sessionQuestions(ctx, s.pool, attemptID)
	if err != nil {
		return domain.AttemptSession{}, err
	}
	return session, nil
}

// SaveAnswer upserts the answer keyed by (attempt, question) and flips the
// session row to answered, all inside one transaction. The attempt row is
// locked first so a racing Finish cannot interleave.
func (s *AttemptStore) SaveAnswer(ctx context.Context, answer domain.QuestionAnswer, answeredAt time.Time) (domain.AttemptSession, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.AttemptSession{}, fmt.Errorf("begin save answer: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM attempts WHERE id=$1 FOR UPDATE`, answer.AttemptID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AttemptSession{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.AttemptSession{}, fmt.Errorf("lock attempt: %w", err)
	}
	if domain.AttemptStatus(status) != domain.StatusInProgress {
		return domain.AttemptSession{}, domain.ErrAttemptNotActive
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO attempt_answers (attempt_id, question_id, selected_choice_ids, points_earned, is_correct, response_time_seconds, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (attempt_id, question_id) DO UPDATE SET
			selected_choice_ids = EXCLUDED.selected_choice_ids,
			points_earned = EXCLUDED.points_earned,
			is_correct = EXCLUDED.is_correct,
			response_time_seconds = EXCLUDED.response_time_seconds,
			updated_at = EXCLUDED.updated_at`,
		answer.AttemptID, answer.QuestionID, answer.SelectedChoiceIDs,
		answer.PointsEarned, answer.Correct, answer.ResponseTimeSeconds, answer.UpdatedAt)
	if err != nil {
		return domain.AttemptSession{}, fmt.Errorf("upsert answer: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE session_questions SET answered=TRUE, answered_at=$3
		WHERE attempt_id=$1 AND question_id=$2`,
		answer.AttemptID, answer.QuestionID, answeredAt)
	if err != nil {
		return domain.AttemptSession{}, fmt.Errorf("mark answered: %w", err)
	}

	session := domain.AttemptSession{AttemptID: answer.AttemptID}
	err = tx.QueryRow(ctx, `
		SELECT quiz_id, learner_id, started_at, deadline
		FROM attempt_sessions WHERE attempt_id=$1`, answer.AttemptID).
		Scan(&session.QuizID, &session.LearnerID, &session.StartedAt, &session.Deadline)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AttemptSession{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.AttemptSession{}, fmt.Errorf("load session: %w", err)
	}
	session.Questions, err = s.sessionQuestions(ctx, tx, answer.AttemptID)
	if err != nil {
		return domain.AttemptSession{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.AttemptSession{}, fmt.Errorf("commit save answer: %w", err)
	}
	return session, nil
}

func (s *AttemptStore) ListAnswers(ctx context.Context, attemptID string) ([]domain.QuestionAnswer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT attempt_id, question_id, selected_choice_ids, points_earned, is_correct, response_time_seconds, updated_at
		FROM attempt_answers WHERE attempt_id=$1`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	var answers []domain.QuestionAnswer
	for rows.Next() {
		var a domain.QuestionAnswer
		if err := rows.Scan(&a.AttemptID, &a.QuestionID, &a.SelectedChoiceIDs,
			&a.PointsEarned, &a.Correct, &a.ResponseTimeSeconds, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// FinalizeAttempt seals the attempt in one transaction: it locks the attempt
// row, recomputes points earned from the stored answers when completing, and
// flips the status. The row lock serializes against SaveAnswer, so any
// answer committed before the seal is in the sum and any submission arriving
// after it fails with ErrAttemptNotActive. A double finish falls through to
// ErrAlreadyFinished without changing anything.
func (s *AttemptStore) FinalizeAttempt(ctx context.Context, attemptID string, status domain.AttemptStatus, endedAt time.Time) (domain.Attempt, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("begin finalize: %w", err)
	}
	defer tx.Rollback(ctx)

	attempt, err := scanAttempt(tx.QueryRow(ctx, `
		SELECT id, learner_id, quiz_id, status, started_at, ended_at, elapsed_seconds, score, points_earned, points_max
		FROM attempts WHERE id=$1 FOR UPDATE`, attemptID))
	if err != nil {
		return domain.Attempt{}, err
	}
	if attempt.Status != domain.StatusInProgress {
		return domain.Attempt{}, domain.ErrAlreadyFinished
	}

	attempt.Status = status
	at := endedAt
	attempt.EndedAt = &at
	attempt.ElapsedSeconds = int(endedAt.Sub(attempt.StartedAt).Seconds())
	if status == domain.StatusCompleted {
		var earned int
		err = tx.QueryRow(ctx, `
			SELECT COALESCE(SUM(points_earned), 0)
			FROM attempt_answers WHERE attempt_id=$1`, attemptID).Scan(&earned)
		if err != nil {
			return domain.Attempt{}, fmt.Errorf("sum answers: %w", err)
		}
		attempt.PointsEarned = earned
		attempt.Score = domain.ScorePercent(earned, attempt.PointsMax)
	}

	_, err = tx.Exec(ctx, `
		UPDATE attempts
		SET status=$2, ended_at=$3, elapsed_seconds=$4, score=$5, points_earned=$6
		WHERE id=$1`,
		attempt.ID, string(attempt.Status), attempt.EndedAt, attempt.ElapsedSeconds,
		attempt.Score, attempt.PointsEarned)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("finalize attempt: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Attempt{}, fmt.Errorf("commit finalize: %w", err)
	}
	return attempt, nil
}

func (s *AttemptStore) ListQuizAttempts(ctx context.Context, quizID string) ([]domain.Attempt, error) {
	return s.listAttempts(ctx, `
		SELECT id, learner_id, quiz_id, status, started_at, ended_at, elapsed_seconds, score, points_earned, points_max
		FROM attempts WHERE quiz_id=$1 ORDER BY started_at`, quizID)
}

func (s *AttemptStore) ListLearnerAttempts(ctx context.Context, learnerID string) ([]domain.Attempt, error) {
	return s.listAttempts(ctx, `
		SELECT id, learner_id, quiz_id, status, started_at, ended_at, elapsed_seconds, score, points_earned, points_max
		FROM attempts WHERE learner_id=$1 ORDER BY started_at`, learnerID)
}

func (s *AttemptStore) listAttempts(ctx context.Context, query string, arg string) ([]domain.Attempt, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.Attempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

type queryRunner interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

func (s *AttemptStore) sessionQuestions(ctx context.Context, runner queryRunner, attemptID string) ([]domain.QuestionState, error) {
	rows, err := runner.Query(ctx, `
		SELECT question_id, ordre, answered, answered_at
		FROM session_questions WHERE attempt_id=$1 ORDER BY ordre`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list session questions: %w", err)
	}
	defer rows.Close()

	var states []domain.QuestionState
	for rows.Next() {
		var state domain.QuestionState
		if err := rows.Scan(&state.QuestionID, &state.Ordre, &state.Answered, &state.AnsweredAt); err != nil {
			return nil, fmt.Errorf("scan session question: %w", err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

func scanAttempt(row pgx.Row) (domain.Attempt, error) {
	var (
		attempt domain.Attempt
		status  string
	)
	err := row.Scan(&attempt.ID, &attempt.LearnerID, &attempt.QuizID, &status,
		&attempt.StartedAt, &attempt.EndedAt, &attempt.ElapsedSeconds,
		&attempt.Score, &attempt.PointsEarned, &attempt.PointsMax)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("scan attempt: %w", err)
	}
	attempt.Status = domain.AttemptStatus(status)
	return attempt, nil
}

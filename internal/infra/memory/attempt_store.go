package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mykarfour/quiz-attempt-engine/internal/domain"
)

// AttemptStore is an in-memory implementation of engine.AttemptStore. A single
// store mutex makes every operation an atomic unit, which is what gives the
// one-open-attempt-per-(learner, quiz) invariant its check-and-create
// atomicity here.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]*attemptRecord
	active   map[activeKey]string // (learner, quiz) -> open attempt id
}

type attemptRecord struct {
	attempt domain.Attempt
	session domain.AttemptSession
	answers map[string]domain.QuestionAnswer // keyed by question id
}

type activeKey struct {
	learnerID string
	quizID    string
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		attempts: make(map[string]*attemptRecord),
		active:   make(map[activeKey]string),
	}
}

func (s *AttemptStore) CreateAttempt(_ context.Context, attempt domain.Attempt, session domain.AttemptSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := activeKey{learnerID: attempt.LearnerID, quizID: attempt.QuizID}
	if _, exists := s.active[key]; exists {
		return domain.ErrAttemptInProgress
	}

	s.attempts[attempt.ID] = &attemptRecord{
		attempt: attempt,
		session: copySession(session),
		answers: make(map[string]domain.QuestionAnswer),
	}
	s.active[key] = attempt.ID
	return nil
}

func (s *AttemptStore) GetAttempt(_ context.Context, attemptID string) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return record.attempt, nil
}

func (s *AttemptStore) GetActiveAttempt(_ context.Context, learnerID, quizID string) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.active[activeKey{learnerID: learnerID, quizID: quizID}]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return s.attempts[id].attempt, nil
}

func (s *AttemptStore) GetSession(_ context.Context, attemptID string) (domain.AttemptSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.attempts[attemptID]
	if !ok {
		return domain.AttemptSession{}, domain.ErrSessionNotFound
	}
	return copySession(record.session), nil
}

// SaveAnswer upserts the answer and marks the matching session row answered
// in one locked step. Last writer wins on duplicate submissions.
func (s *AttemptStore) SaveAnswer(_ context.Context, answer domain.QuestionAnswer, answeredAt time.Time) (domain.AttemptSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.attempts[answer.AttemptID]
	if !ok {
		return domain.AttemptSession{}, domain.ErrAttemptNotFound
	}
	if record.attempt.Status != domain.StatusInProgress {
		return domain.AttemptSession{}, domain.ErrAttemptNotActive
	}

	record.answers[answer.QuestionID] = answer
	for i := range record.session.Questions {
		if record.session.Questions[i].QuestionID == answer.QuestionID {
			at := answeredAt
			record.session.Questions[i].Answered = true
			record.session.Questions[i].AnsweredAt = &at
			break
		}
	}
	return copySession(record.session), nil
}

func (s *AttemptStore) ListAnswers(_ context.Context, attemptID string) ([]domain.QuestionAnswer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.attempts[attemptID]
	if !ok {
		return nil, domain.ErrAttemptNotFound
	}
	answers := make([]domain.QuestionAnswer, 0, len(record.answers))
	for _, a := range record.answers {
		answers = append(answers, a)
	}
	return answers, nil
}

// FinalizeAttempt seals the attempt, releasing the active slot for the
// (learner, quiz) pair. Only an in-progress attempt can be sealed. The
// check, the answer-sum recompute for a completed close, and the status flip
// all happen under one lock acquisition, so no answer saved before the seal
// can be missing from the sealed score.
func (s *AttemptStore) FinalizeAttempt(_ context.Context, attemptID string, status domain.AttemptStatus, endedAt time.Time) (domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if record.attempt.Status != domain.StatusInProgress {
		return domain.Attempt{}, domain.ErrAlreadyFinished
	}

	attempt := record.attempt
	attempt.Status = status
	at := endedAt
	attempt.EndedAt = &at
	attempt.ElapsedSeconds = int(endedAt.Sub(attempt.StartedAt).Seconds())
	if status == domain.StatusCompleted {
		earned := 0
		for _, a := range record.answers {
			earned += a.PointsEarned
		}
		attempt.PointsEarned = earned
		attempt.Score = domain.ScorePercent(earned, attempt.PointsMax)
	}

	record.attempt = attempt
	delete(s.active, activeKey{learnerID: attempt.LearnerID, quizID: attempt.QuizID})
	return attempt, nil
}

func (s *AttemptStore) ListQuizAttempts(_ context.Context, quizID string) ([]domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var attempts []domain.Attempt
	for _, record := range s.attempts {
		if record.attempt.QuizID == quizID {
			attempts = append(attempts, record.attempt)
		}
	}
	return attempts, nil
}

func (s *AttemptStore) ListLearnerAttempts(_ context.Context, learnerID string) ([]domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var attempts []domain.Attempt
	for _, record := range s.attempts {
		if record.attempt.LearnerID == learnerID {
			attempts = append(attempts, record.attempt)
		}
	}
	return attempts, nil
}

func copySession(session domain.AttemptSession) domain.AttemptSession {
	questions := make([]domain.QuestionState, len(session.Questions))
	copy(questions, session.Questions)
	session.Questions = questions
	return session
}

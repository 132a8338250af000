package engine

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mykarfour/quiz-attempt-engine/internal/domain"
)

// CatalogRepository loads quiz content (from cache/backing store). The
// catalog is read-only from the engine's point of view.
type CatalogRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// AttemptStore abstracts how attempts, answers, and timer sessions are
// persisted (in-memory, Postgres, etc). Every method is one atomic unit:
//
//   - CreateAttempt persists the attempt and its session together, failing
//     with domain.ErrAttemptInProgress when the learner already has an open
//     attempt for the quiz. Either both records exist afterwards or neither.
//   - SaveAnswer upserts the answer keyed by (attempt, question) and marks
//     the session row answered in the same unit; it fails with
//     domain.ErrAttemptNotActive once the attempt is terminal.
//   - FinalizeAttempt seals the attempt only while it is still in progress,
//     failing with domain.ErrAlreadyFinished otherwise. For a completed
//     close it recomputes points earned from the stored answers and derives
//     the score inside the same unit, so an answer that lands concurrently
//     is either rejected or counted in the sealed score, never lost.
type AttemptStore interface {
	CreateAttempt(ctx context.Context, attempt domain.Attempt, session domain.AttemptSession) error
	GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error)
	GetActiveAttempt(ctx context.Context, learnerID, quizID string) (domain.Attempt, error)
	GetSession(ctx context.Context, attemptID string) (domain.AttemptSession, error)
	SaveAnswer(ctx context.Context, answer domain.QuestionAnswer, answeredAt time.Time) (domain.AttemptSession, error)
	ListAnswers(ctx context.Context, attemptID string) ([]domain.QuestionAnswer, error)
	FinalizeAttempt(ctx context.Context, attemptID string, status domain.AttemptStatus, endedAt time.Time) (domain.Attempt, error)
	ListQuizAttempts(ctx context.Context, quizID string) ([]domain.Attempt, error)
	ListLearnerAttempts(ctx context.Context, learnerID string) ([]domain.Attempt, error)
}

// SessionMirror publishes live timer state to a shared cache so other
// instances can serve countdown reads. Updates are best-effort; failures are
// logged and never block the attempt flow.
type SessionMirror interface {
	AttemptStarted(ctx context.Context, session domain.AttemptSession) error
	QuestionAnswered(ctx context.Context, session domain.AttemptSession, questionID string) error
	AttemptClosed(ctx context.Context, attemptID string) error
}

// Service is the attempt lifecycle controller: it orchestrates start, answer,
// and finish transitions against the store and keeps the timer session in
// step with the attempt.
type Service struct {
	store   AttemptStore
	catalog CatalogRepository
	mirror  SessionMirror
	now     func() time.Time
	newID   func() string
}

func NewService(store AttemptStore, catalog CatalogRepository) *Service {
	return &Service{
		store:   store,
		catalog: catalog,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// WithClock overrides the time source for deterministic expiry and
// elapsed-time tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithMirror attaches a live session mirror.
func (s *Service) WithMirror(mirror SessionMirror) *Service {
	s.mirror = mirror
	return s
}

// CanAttempt reports whether the learner may start the quiz: the quiz must be
// active and the learner must not already have an open attempt for it.
func (s *Service) CanAttempt(ctx context.Context, learnerID, quizID string) (bool, error) {
	quiz, err := s.catalog.GetQuiz(ctx, quizID)
	if err != nil {
		return false, err
	}
	if !quiz.Active {
		return false, nil
	}
	_, err = s.store.GetActiveAttempt(ctx, learnerID, quizID)
	if errors.Is(err, domain.ErrAttemptNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// Start opens a new attempt and its paired timer session. The points-max
// snapshot and the deadline are both fixed at this instant. The store's
// check-and-create guarantees at most one open attempt per (learner, quiz):
// when two Start calls race, exactly one wins and the other receives
// domain.ErrAttemptInProgress.
func (s *Service) Start(ctx context.Context, learnerID, quizID string) (domain.Attempt, error) {
	quiz, err := s.catalog.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if !quiz.Active {
		return domain.Attempt{}, domain.ErrQuizInactive
	}

	now := s.now()
	attempt := domain.Attempt{
		ID:        s.newID(),
		LearnerID: learnerID,
		QuizID:    quizID,
		Status:    domain.StatusInProgress,
		StartedAt: now,
		PointsMax: quiz.TotalPoints(),
	}

	questions := orderedQuestions(quiz)
	states := make([]domain.QuestionState, 0, len(questions))
	for _, q := range questions {
		states = append(states, domain.QuestionState{QuestionID: q.ID, Ordre: q.Ordre})
	}
	session := domain.AttemptSession{
		AttemptID: attempt.ID,
		QuizID:    quizID,
		LearnerID: learnerID,
		StartedAt: now,
		Deadline:  now.Add(quiz.Duration()),
		Questions: states,
	}

	if err := s.store.CreateAttempt(ctx, attempt, session); err != nil {
		return domain.Attempt{}, err
	}

	if s.mirror != nil {
		if err := s.mirror.AttemptStarted(ctx, session); err != nil {
			log.Printf("session mirror start failed for attempt %s: %v", attempt.ID, err)
		}
	}
	return attempt, nil
}

// ActiveAttempt returns the learner's open attempt for a quiz, if any.
func (s *Service) ActiveAttempt(ctx context.Context, learnerID, quizID string) (domain.Attempt, error) {
	return s.store.GetActiveAttempt(ctx, learnerID, quizID)
}

// SubmitAnswer scores the selection, upserts the answer for the question, and
// flips the session row to answered. Resubmitting the same question replaces
// the earlier selection and its points. Choice ids that do not belong to the
// question are dropped rather than rejected.
func (s *Service) SubmitAnswer(ctx context.Context, attemptID, questionID string, selectedChoiceIDs []string, responseTimeSeconds int) (domain.AnswerOutcome, error) {
	attempt, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.AnswerOutcome{}, err
	}
	if attempt.Status != domain.StatusInProgress {
		return domain.AnswerOutcome{}, domain.ErrAttemptNotActive
	}

	quiz, err := s.catalog.GetQuiz(ctx, attempt.QuizID)
	if err != nil {
		return domain.AnswerOutcome{}, err
	}
	question, ok := quiz.QuestionByID(questionID)
	if !ok {
		return domain.AnswerOutcome{}, domain.ErrUnknownQuestion
	}

	selected := make([]string, 0, len(selectedChoiceIDs))
	for _, id := range selectedChoiceIDs {
		if question.HasChoice(id) {
			selected = append(selected, id)
		}
	}

	points, correct := domain.Evaluate(question, selected)
	now := s.now()
	answer := domain.QuestionAnswer{
		AttemptID:           attemptID,
		QuestionID:          questionID,
		SelectedChoiceIDs:   selected,
		PointsEarned:        points,
		Correct:             correct,
		ResponseTimeSeconds: responseTimeSeconds,
		UpdatedAt:           now,
	}

	session, err := s.store.SaveAnswer(ctx, answer, now)
	if err != nil {
		return domain.AnswerOutcome{}, err
	}

	if s.mirror != nil {
		if err := s.mirror.QuestionAnswered(ctx, session, questionID); err != nil {
			log.Printf("session mirror update failed for attempt %s: %v", attemptID, err)
		}
	}

	return domain.AnswerOutcome{
		QuestionID:      questionID,
		PointsEarned:    points,
		Correct:         correct,
		ProgressPercent: session.ProgressPercent(),
	}, nil
}

// Finish seals the attempt as completed. The store recomputes points earned
// from the stored answers and derives the score from the points-max snapshot
// taken at start, all inside the finalize unit; that recomputation is
// authoritative. A second Finish returns domain.ErrAlreadyFinished and
// changes nothing.
func (s *Service) Finish(ctx context.Context, attemptID string) (domain.Attempt, error) {
	return s.close(ctx, attemptID, domain.StatusCompleted)
}

// Abandon marks the attempt abandoned without recomputing its score. Terminal
// like Finish; the session record is kept for audit but no longer advanced.
func (s *Service) Abandon(ctx context.Context, attemptID string) (domain.Attempt, error) {
	return s.close(ctx, attemptID, domain.StatusAbandoned)
}

func (s *Service) close(ctx context.Context, attemptID string, status domain.AttemptStatus) (domain.Attempt, error) {
	attempt, err := s.store.FinalizeAttempt(ctx, attemptID, status, s.now())
	if err != nil {
		return domain.Attempt{}, err
	}

	if s.mirror != nil {
		if err := s.mirror.AttemptClosed(ctx, attemptID); err != nil {
			log.Printf("session mirror close failed for attempt %s: %v", attemptID, err)
		}
	}
	return attempt, nil
}

// GetProgress reports the live state of an attempt: answered ratio, clamped
// countdown, and the question to present next. When every question has been
// answered the current question falls back to the first of the full quiz
// order.
func (s *Service) GetProgress(ctx context.Context, attemptID string) (domain.Progress, error) {
	attempt, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.Progress{}, err
	}
	session, err := s.store.GetSession(ctx, attemptID)
	if err != nil {
		return domain.Progress{}, err
	}
	quiz, err := s.catalog.GetQuiz(ctx, attempt.QuizID)
	if err != nil {
		return domain.Progress{}, err
	}

	now := s.now()
	remaining := session.RemainingSeconds(now)

	currentID := ""
	if next := session.NextUnanswered(); next != nil {
		currentID = next.QuestionID
	} else if questions := orderedQuestions(quiz); len(questions) > 0 {
		currentID = questions[0].ID
	}

	return domain.Progress{
		AttemptID:          attempt.ID,
		QuizID:             attempt.QuizID,
		Status:             attempt.Status,
		ProgressPercent:    session.ProgressPercent(),
		AnsweredCount:      session.AnsweredCount(),
		QuestionCount:      len(session.Questions),
		RemainingSeconds:   remaining,
		RemainingFormatted: domain.FormatSeconds(remaining),
		Expired:            session.IsExpired(now),
		CurrentQuestionID:  currentID,
		Difficulty:         quiz.Difficulty(),
	}, nil
}

// GetResult builds the per-question report for an attempt, ordered by
// question position. Questions the learner never answered are absent from the
// breakdown, matching what the learner actually submitted.
func (s *Service) GetResult(ctx context.Context, attemptID string) (domain.Result, error) {
	attempt, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.Result{}, err
	}
	quiz, err := s.catalog.GetQuiz(ctx, attempt.QuizID)
	if err != nil {
		return domain.Result{}, err
	}
	answers, err := s.store.ListAnswers(ctx, attemptID)
	if err != nil {
		return domain.Result{}, err
	}

	breakdown := make([]domain.AnswerBreakdown, 0, len(answers))
	for _, answer := range answers {
		question, ok := quiz.QuestionByID(answer.QuestionID)
		if !ok {
			// Question removed from the catalog after the attempt; keep the
			// recorded points but skip the textual breakdown row.
			continue
		}
		breakdown = append(breakdown, domain.AnswerBreakdown{
			QuestionID:          question.ID,
			Ordre:               question.Ordre,
			QuestionText:        question.Text,
			Points:              question.PointValue(),
			PointsEarned:        answer.PointsEarned,
			Correct:             answer.Correct,
			SelectedTexts:       choiceTexts(question, answer.SelectedChoiceIDs, false),
			CorrectTexts:        choiceTexts(question, nil, true),
			Explanation:         question.Explanation,
			ResponseTimeSeconds: answer.ResponseTimeSeconds,
		})
	}
	sort.Slice(breakdown, func(i, j int) bool { return breakdown[i].Ordre < breakdown[j].Ordre })

	return domain.Result{
		AttemptID:    attempt.ID,
		QuizID:       attempt.QuizID,
		LearnerID:    attempt.LearnerID,
		Status:       attempt.Status,
		Score:        attempt.Score,
		PointsEarned: attempt.PointsEarned,
		PointsMax:    attempt.PointsMax,
		Elapsed:      attempt.FormattedElapsed(),
		Appreciation: attempt.Appreciation(),
		Breakdown:    breakdown,
	}, nil
}

// QuizStats aggregates attempt figures for a quiz.
func (s *Service) QuizStats(ctx context.Context, quizID string) (domain.QuizStats, error) {
	attempts, err := s.store.ListQuizAttempts(ctx, quizID)
	if err != nil {
		return domain.QuizStats{}, err
	}

	stats := domain.QuizStats{QuizID: quizID, AttemptCount: len(attempts)}
	sum := 0.0
	for _, a := range attempts {
		if a.Status != domain.StatusCompleted {
			continue
		}
		stats.CompletedCount++
		sum += a.Score
		if a.Score > stats.BestScore {
			stats.BestScore = a.Score
		}
	}
	if stats.CompletedCount > 0 {
		stats.AverageScore = domain.Round2(sum / float64(stats.CompletedCount))
	}
	if stats.AttemptCount > 0 {
		stats.CompletionRate = domain.Round2(float64(stats.CompletedCount) / float64(stats.AttemptCount) * 100)
	}
	return stats, nil
}

// LearnerStats aggregates a learner's history: completed count, average
// score, total points, open attempts, and the most recent completions.
func (s *Service) LearnerStats(ctx context.Context, learnerID string, recentLimit int) (domain.LearnerStats, error) {
	attempts, err := s.store.ListLearnerAttempts(ctx, learnerID)
	if err != nil {
		return domain.LearnerStats{}, err
	}
	if recentLimit <= 0 {
		recentLimit = 5
	}

	stats := domain.LearnerStats{LearnerID: learnerID}
	sum := 0.0
	completed := make([]domain.Attempt, 0, len(attempts))
	for _, a := range attempts {
		switch a.Status {
		case domain.StatusCompleted:
			stats.CompletedCount++
			stats.TotalPoints += a.PointsEarned
			sum += a.Score
			completed = append(completed, a)
		case domain.StatusInProgress:
			stats.InProgress = append(stats.InProgress, a.Summary())
		}
	}
	if stats.CompletedCount > 0 {
		stats.AverageScore = domain.Round2(sum / float64(stats.CompletedCount))
	}

	sort.Slice(completed, func(i, j int) bool {
		return completed[i].EndedAt != nil && completed[j].EndedAt != nil &&
			completed[i].EndedAt.After(*completed[j].EndedAt)
	})
	if len(completed) > recentLimit {
		completed = completed[:recentLimit]
	}
	stats.Recent = make([]domain.AttemptSummary, 0, len(completed))
	for _, a := range completed {
		stats.Recent = append(stats.Recent, a.Summary())
	}
	return stats, nil
}

func orderedQuestions(quiz domain.Quiz) []domain.Question {
	questions := make([]domain.Question, len(quiz.Questions))
	copy(questions, quiz.Questions)
	sort.Slice(questions, func(i, j int) bool { return questions[i].Ordre < questions[j].Ordre })
	return questions
}

func choiceTexts(question domain.Question, selected []string, correctOnly bool) []string {
	texts := make([]string, 0, len(question.Choices))
	selectedSet := make(map[string]struct{}, len(selected))
	for _, id := range selected {
		selectedSet[id] = struct{}{}
	}
	for _, c := range question.Choices {
		if correctOnly {
			if c.Correct {
				texts = append(texts, c.Text)
			}
			continue
		}
		if _, ok := selectedSet[c.ID]; ok {
			texts = append(texts, c.Text)
		}
	}
	return texts
}


package domain

import (
	"fmt"
	"math"
	"time"
)

// AttemptStatus tracks where an attempt is in its lifecycle.
type AttemptStatus string

const (
	StatusInProgress AttemptStatus = "in_progress"
	StatusCompleted  AttemptStatus = "completed"
	StatusAbandoned  AttemptStatus = "abandoned"
)

// Terminal reports whether the status admits no further transitions.
func (s AttemptStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Choice represents a possible answer for a question. Ordre controls display
// order only and never affects scoring.
type Choice struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
	Ordre   int    `json:"ordre"`
}

// Question models a catalog question. A question is multi-choice when more
// than one of its choices is flagged correct.
type Question struct {
	ID          string   `json:"id"`
	Ordre       int      `json:"ordre"`
	Text        string   `json:"text"`
	Points      int      `json:"points"` // defaults to 1 if zero
	Explanation string   `json:"explanation,omitempty"`
	Choices     []Choice `json:"choices"`
}

// PointValue returns the question's point value, treating zero as 1.
func (q Question) PointValue() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// CorrectChoiceIDs returns the set of choice ids flagged correct.
func (q Question) CorrectChoiceIDs() map[string]struct{} {
	correct := make(map[string]struct{})
	for _, c := range q.Choices {
		if c.Correct {
			correct[c.ID] = struct{}{}
		}
	}
	return correct
}

// IsMultiChoice reports whether more than one choice is flagged correct.
func (q Question) IsMultiChoice() bool {
	return len(q.CorrectChoiceIDs()) > 1
}

// HasChoice reports whether id names one of the question's choices.
func (q Question) HasChoice(id string) bool {
	for _, c := range q.Choices {
		if c.ID == id {
			return true
		}
	}
	return false
}

// Quiz is the read-only catalog view of a quiz: an ordered list of questions
// plus the timing and activation metadata the attempt engine needs.
type Quiz struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Active          bool       `json:"active"`
	DurationMinutes int        `json:"durationMinutes"`
	Questions       []Question `json:"questions"`
}

// Duration returns the quiz time limit as a duration.
func (z Quiz) Duration() time.Duration {
	return time.Duration(z.DurationMinutes) * time.Minute
}

// TotalPoints sums the point values of every question. Captured as the
// points-max snapshot when an attempt starts.
func (z Quiz) TotalPoints() int {
	total := 0
	for _, q := range z.Questions {
		total += q.PointValue()
	}
	return total
}

// QuestionByID looks a question up within the quiz.
func (z Quiz) QuestionByID(id string) (Question, bool) {
	for _, q := range z.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// Difficulty derives a coarse label from the question count.
func (z Quiz) Difficulty() string {
	switch n := len(z.Questions); {
	case n == 0:
		return "Non définie"
	case n <= 5:
		return "Facile"
	case n <= 10:
		return "Moyen"
	default:
		return "Difficile"
	}
}

// Attempt is one learner's run through one quiz. PointsMax is snapshotted at
// start and never recomputed, so catalog edits mid-attempt cannot shift the
// denominator.
type Attempt struct {
	ID             string
	LearnerID      string
	QuizID         string
	Status         AttemptStatus
	StartedAt      time.Time
	EndedAt        *time.Time
	ElapsedSeconds int
	Score          float64 // percentage, two decimals
	PointsEarned   int
	PointsMax      int
}

// Appreciation maps the final score onto the grading bands shown to learners.
func (a Attempt) Appreciation() string {
	switch {
	case a.Score >= 90:
		return "Excellent"
	case a.Score >= 80:
		return "Très bien"
	case a.Score >= 70:
		return "Bien"
	case a.Score >= 60:
		return "Satisfaisant"
	case a.Score >= 50:
		return "Passable"
	default:
		return "Insuffisant"
	}
}

// FormattedElapsed renders the elapsed time as mm:ss.
func (a Attempt) FormattedElapsed() string {
	return FormatSeconds(a.ElapsedSeconds)
}

// QuestionAnswer is the recorded answer for one (attempt, question) pair.
// Resubmitting overwrites the previous selection and its score.
type QuestionAnswer struct {
	AttemptID           string
	QuestionID          string
	SelectedChoiceIDs   []string
	PointsEarned        int
	Correct             bool
	ResponseTimeSeconds int
	UpdatedAt           time.Time
}

// QuestionState is one row of an attempt session's answered-tracking list,
// kept in quiz order.
type QuestionState struct {
	QuestionID string
	Ordre      int
	Answered   bool
	AnsweredAt *time.Time
}

// AttemptSession is the live timer companion to an attempt. It tracks the
// countdown and which questions have been answered, independently of the
// attempt's stored answers.
type AttemptSession struct {
	AttemptID string
	QuizID    string
	LearnerID string
	StartedAt time.Time
	Deadline  time.Time
	Questions []QuestionState
}

// RemainingSeconds computes the countdown from the deadline, clamped at zero.
func (s AttemptSession) RemainingSeconds(now time.Time) int {
	remaining := int(s.Deadline.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsExpired reports whether the deadline has passed. Expiry is advisory: the
// attempt still needs an explicit Finish to be sealed.
func (s AttemptSession) IsExpired(now time.Time) bool {
	return now.After(s.Deadline)
}

// AnsweredCount counts questions marked answered.
func (s AttemptSession) AnsweredCount() int {
	count := 0
	for _, q := range s.Questions {
		if q.Answered {
			count++
		}
	}
	return count
}

// ProgressPercent is answered/total, floored to an integer percentage.
func (s AttemptSession) ProgressPercent() int {
	if len(s.Questions) == 0 {
		return 0
	}
	return s.AnsweredCount() * 100 / len(s.Questions)
}

// NextUnanswered returns the lowest-ordre unanswered question, or nil when
// every question has been answered.
func (s AttemptSession) NextUnanswered() *QuestionState {
	var next *QuestionState
	for i := range s.Questions {
		q := &s.Questions[i]
		if q.Answered {
			continue
		}
		if next == nil || q.Ordre < next.Ordre {
			next = q
		}
	}
	return next
}

// AnswerOutcome is what a learner sees right after submitting an answer.
type AnswerOutcome struct {
	QuestionID      string `json:"questionId"`
	PointsEarned    int    `json:"pointsEarned"`
	Correct         bool   `json:"correct"`
	ProgressPercent int    `json:"progressPercent"`
}

// Progress is the live view of an in-flight attempt.
type Progress struct {
	AttemptID          string        `json:"attemptId"`
	QuizID             string        `json:"quizId"`
	Status             AttemptStatus `json:"status"`
	ProgressPercent    int           `json:"progressPercent"`
	AnsweredCount      int           `json:"answeredCount"`
	QuestionCount      int           `json:"questionCount"`
	RemainingSeconds   int           `json:"remainingSeconds"`
	RemainingFormatted string        `json:"remainingFormatted"`
	Expired            bool          `json:"expired"`
	CurrentQuestionID  string        `json:"currentQuestionId,omitempty"`
	Difficulty         string        `json:"difficulty"`
}

// AnswerBreakdown is one row of a finished attempt's per-question report.
type AnswerBreakdown struct {
	QuestionID          string   `json:"questionId"`
	Ordre               int      `json:"ordre"`
	QuestionText        string   `json:"questionText"`
	Points              int      `json:"points"`
	PointsEarned        int      `json:"pointsEarned"`
	Correct             bool     `json:"correct"`
	SelectedTexts       []string `json:"selectedTexts"`
	CorrectTexts        []string `json:"correctTexts"`
	Explanation         string   `json:"explanation,omitempty"`
	ResponseTimeSeconds int      `json:"responseTimeSeconds"`
}

// Result is the sealed outcome of an attempt.
type Result struct {
	AttemptID    string            `json:"attemptId"`
	QuizID       string            `json:"quizId"`
	LearnerID    string            `json:"learnerId"`
	Status       AttemptStatus     `json:"status"`
	Score        float64           `json:"score"`
	PointsEarned int               `json:"pointsEarned"`
	PointsMax    int               `json:"pointsMax"`
	Elapsed      string            `json:"elapsed"`
	Appreciation string            `json:"appreciation"`
	Breakdown    []AnswerBreakdown `json:"breakdown"`
}

// QuizStats aggregates completed-attempt figures for a quiz.
type QuizStats struct {
	QuizID         string  `json:"quizId"`
	AttemptCount   int     `json:"attemptCount"`
	CompletedCount int     `json:"completedCount"`
	AverageScore   float64 `json:"averageScore"`
	BestScore      float64 `json:"bestScore"`
	CompletionRate float64 `json:"completionRate"`
}

// LearnerStats aggregates a learner's quiz history.
type LearnerStats struct {
	LearnerID      string           `json:"learnerId"`
	CompletedCount int              `json:"completedCount"`
	AverageScore   float64          `json:"averageScore"`
	TotalPoints    int              `json:"totalPoints"`
	InProgress     []AttemptSummary `json:"inProgress"`
	Recent         []AttemptSummary `json:"recent"`
}

// AttemptSummary is the compact attempt view embedded in stats payloads.
type AttemptSummary struct {
	AttemptID    string        `json:"attemptId"`
	QuizID       string        `json:"quizId"`
	Status       AttemptStatus `json:"status"`
	StartedAt    time.Time     `json:"startedAt"`
	EndedAt      *time.Time    `json:"endedAt,omitempty"`
	Score        float64       `json:"score"`
	PointsEarned int           `json:"pointsEarned"`
	PointsMax    int           `json:"pointsMax"`
	Elapsed      string        `json:"elapsed"`
}

// Summary projects the attempt into its stats-payload view.
func (a Attempt) Summary() AttemptSummary {
	return AttemptSummary{
		AttemptID:    a.ID,
		QuizID:       a.QuizID,
		Status:       a.Status,
		StartedAt:    a.StartedAt,
		EndedAt:      a.EndedAt,
		Score:        a.Score,
		PointsEarned: a.PointsEarned,
		PointsMax:    a.PointsMax,
		Elapsed:      a.FormattedElapsed(),
	}
}

// ScorePercent converts earned points into a two-decimal percentage of max.
// A zero or negative max yields a zero score.
func ScorePercent(earned, max int) float64 {
	if max <= 0 {
		return 0
	}
	return Round2(float64(earned) / float64(max) * 100)
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// FormatSeconds renders a second count as mm:ss.
func FormatSeconds(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

package domain

import (
	"testing"
	"time"
)

func singleChoiceQuestion() Question {
	return Question{
		ID:     "q1",
		Ordre:  1,
		Points: 2,
		Choices: []Choice{
			{ID: "a", Correct: false},
			{ID: "b", Correct: true},
			{ID: "c", Correct: false},
		},
	}
}

func multiChoiceQuestion() Question {
	return Question{
		ID:     "q2",
		Ordre:  2,
		Points: 4,
		Choices: []Choice{
			{ID: "a", Correct: true},
			{ID: "b", Correct: true},
			{ID: "c", Correct: false},
			{ID: "d", Correct: false},
		},
	}
}

func TestEvaluateSingleChoice(t *testing.T) {
	q := singleChoiceQuestion()

	cases := []struct {
		name     string
		selected []string
		points   int
		correct  bool
	}{
		{"correct choice", []string{"b"}, 2, true},
		{"wrong choice", []string{"a"}, 0, false},
		{"no selection", nil, 0, false},
		{"correct plus wrong", []string{"b", "c"}, 0, false},
		{"unknown id dropped", []string{"zz"}, 0, false},
		{"unknown id alongside correct", []string{"b", "zz"}, 2, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			points, correct := Evaluate(q, tc.selected)
			if points != tc.points || correct != tc.correct {
				t.Fatalf("Evaluate(%v) = (%d, %v), want (%d, %v)", tc.selected, points, correct, tc.points, tc.correct)
			}
		})
	}
}

func TestEvaluateMultiChoice(t *testing.T) {
	q := multiChoiceQuestion()

	cases := []struct {
		name     string
		selected []string
		points   int
		correct  bool
	}{
		{"exact correct set", []string{"a", "b"}, 4, true},
		{"half the correct set", []string{"a"}, 2, false},
		{"partial credit despite wrong pick", []string{"a", "c"}, 2, false},
		{"full set plus wrong pick", []string{"a", "b", "c"}, 4, false},
		{"only wrong picks", []string{"c", "d"}, 0, false},
		{"no selection", nil, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			points, correct := Evaluate(q, tc.selected)
			if points != tc.points || correct != tc.correct {
				t.Fatalf("Evaluate(%v) = (%d, %v), want (%d, %v)", tc.selected, points, correct, tc.points, tc.correct)
			}
		})
	}
}

func TestEvaluateProportionalFloor(t *testing.T) {
	q := Question{
		ID:     "q3",
		Points: 5,
		Choices: []Choice{
			{ID: "a", Correct: true},
			{ID: "b", Correct: true},
			{ID: "c", Correct: true},
			{ID: "d", Correct: false},
		},
	}
	// 5 × 2/3 floors to 3.
	points, correct := Evaluate(q, []string{"a", "b"})
	if points != 3 || correct {
		t.Fatalf("expected (3, false), got (%d, %v)", points, correct)
	}
}

func TestEvaluateZeroPointsDefaultsToOne(t *testing.T) {
	q := Question{
		ID: "q4",
		Choices: []Choice{
			{ID: "a", Correct: true},
			{ID: "b", Correct: false},
		},
	}
	points, correct := Evaluate(q, []string{"a"})
	if points != 1 || !correct {
		t.Fatalf("expected (1, true), got (%d, %v)", points, correct)
	}
}

func TestSessionProgressAndExpiry(t *testing.T) {
	startAt := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	session := AttemptSession{
		AttemptID: "att-1",
		StartedAt: startAt,
		Deadline:  startAt.Add(30 * time.Minute),
		Questions: []QuestionState{
			{QuestionID: "q1", Ordre: 1, Answered: true},
			{QuestionID: "q2", Ordre: 2},
			{QuestionID: "q3", Ordre: 3},
		},
	}

	if got := session.ProgressPercent(); got != 33 {
		t.Fatalf("expected floored 33%%, got %d", got)
	}
	if next := session.NextUnanswered(); next == nil || next.QuestionID != "q2" {
		t.Fatalf("expected q2 next, got %+v", next)
	}
	if session.IsExpired(startAt.Add(29 * time.Minute)) {
		t.Fatalf("expected not expired before deadline")
	}
	if !session.IsExpired(startAt.Add(31 * time.Minute)) {
		t.Fatalf("expected expired after deadline")
	}
	if got := session.RemainingSeconds(startAt.Add(31 * time.Minute)); got != 0 {
		t.Fatalf("expected remaining clamped to 0, got %d", got)
	}
	if got := session.RemainingSeconds(startAt.Add(29 * time.Minute)); got != 60 {
		t.Fatalf("expected 60 seconds remaining, got %d", got)
	}
}

package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mykarfour/quiz-attempt-engine/internal/domain"
	"github.com/mykarfour/quiz-attempt-engine/internal/infra/memory"
)

func TestCatalogCacheFillsAndHits(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)
	loader := &countingLoader{
		CatalogLoader: memory.NewStaticCatalogLoader(map[string]domain.Quiz{
			"quiz-1": sampleQuiz(),
		}),
	}
	cache := NewCatalogCache(client, loader, time.Minute)

	quiz, err := cache.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if len(quiz.Questions) != 2 {
		t.Fatalf("expected full document cached, got %d questions", len(quiz.Questions))
	}

	// Second call should hit the cache; the multi-choice question must keep
	// its complete choice set through the round trip.
	again, err := cache.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get quiz 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	multi, ok := again.QuestionByID("q2")
	if !ok || len(multi.Choices) != 4 || !multi.IsMultiChoice() {
		t.Fatalf("multi-choice question lost fidelity in cache: %+v", multi)
	}
}

func TestCatalogCacheMissPropagates(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	cache := NewCatalogCache(newClient(mr), memory.NewStaticCatalogLoader(nil), time.Minute)
	if _, err := cache.GetQuiz(context.Background(), "missing"); err != domain.ErrQuizNotFound {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
}

type countingLoader struct {
	memory.CatalogLoader
	calls int
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.calls++
	return l.CatalogLoader.LoadQuiz(ctx, quizID)
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:              "quiz-1",
		Title:           "Arithmetic basics",
		Active:          true,
		DurationMinutes: 30,
		Questions: []domain.Question{
			{
				ID:     "q1",
				Ordre:  1,
				Text:   "What is 2 + 2?",
				Points: 1,
				Choices: []domain.Choice{
					{ID: "o1", Text: "3", Correct: false, Ordre: 1},
					{ID: "o2", Text: "4", Correct: true, Ordre: 2},
				},
			},
			{
				ID:     "q2",
				Ordre:  2,
				Text:   "Which are even?",
				Points: 4,
				Choices: []domain.Choice{
					{ID: "o3", Text: "2", Correct: true, Ordre: 1},
					{ID: "o4", Text: "3", Correct: false, Ordre: 2},
					{ID: "o5", Text: "4", Correct: true, Ordre: 3},
					{ID: "o6", Text: "5", Correct: false, Ordre: 4},
				},
			},
		},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}

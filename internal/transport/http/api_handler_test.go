package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mykarfour/quiz-attempt-engine/internal/domain"
	"github.com/mykarfour/quiz-attempt-engine/internal/engine"
	"github.com/mykarfour/quiz-attempt-engine/internal/infra/memory"
)

func TestAPIProgressAndResult(t *testing.T) {
	ctx := context.Background()
	catalog := memory.NewCatalogRepository(memory.NewStaticCatalogLoader(sampleCatalog()), time.Minute)
	service := engine.NewService(memory.NewAttemptStore(), catalog)

	mux := http.NewServeMux()
	NewAPIHandler(service).Register(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	attempt, err := service.Start(ctx, "learner-1", "quiz-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := service.SubmitAnswer(ctx, attempt.ID, "q1", []string{"o2"}, 2); err != nil {
		t.Fatalf("submit: %v", err)
	}

	var progress domain.Progress
	getJSON(t, server.URL+"/attempts/"+attempt.ID+"/progress", http.StatusOK, &progress)
	if progress.ProgressPercent != 50 || progress.CurrentQuestionID != "q2" {
		t.Fatalf("unexpected progress: %+v", progress)
	}

	if _, err := service.Finish(ctx, attempt.ID); err != nil {
		t.Fatalf("finish: %v", err)
	}

	var result domain.Result
	getJSON(t, server.URL+"/attempts/"+attempt.ID+"/result", http.StatusOK, &result)
	if result.Score != 50.00 || result.PointsMax != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}

	var stats domain.QuizStats
	getJSON(t, server.URL+"/quizzes/quiz-1/stats", http.StatusOK, &stats)
	if stats.CompletedCount != 1 {
		t.Fatalf("unexpected quiz stats: %+v", stats)
	}
}

func TestAPILearnerStatsListsAttempts(t *testing.T) {
	ctx := context.Background()
	catalog := memory.NewCatalogRepository(memory.NewStaticCatalogLoader(sampleCatalog()), time.Minute)
	service := engine.NewService(memory.NewAttemptStore(), catalog)

	mux := http.NewServeMux()
	NewAPIHandler(service).Register(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	first, err := service.Start(ctx, "learner-1", "quiz-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := service.SubmitAnswer(ctx, first.ID, "q1", []string{"o2"}, 2); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := service.Finish(ctx, first.ID); err != nil {
		t.Fatalf("finish: %v", err)
	}
	second, err := service.Start(ctx, "learner-1", "quiz-1")
	if err != nil {
		t.Fatalf("restart: %v", err)
	}

	// The recent and in-progress lists must come through the JSON payload.
	var payload struct {
		LearnerID  string `json:"learnerId"`
		InProgress []struct {
			AttemptID string `json:"attemptId"`
			Status    string `json:"status"`
		} `json:"inProgress"`
		Recent []struct {
			AttemptID string  `json:"attemptId"`
			Score     float64 `json:"score"`
			Elapsed   string  `json:"elapsed"`
		} `json:"recent"`
	}
	getJSON(t, server.URL+"/learners/learner-1/stats", http.StatusOK, &payload)
	if len(payload.Recent) != 1 || payload.Recent[0].AttemptID != first.ID {
		t.Fatalf("expected finished attempt in recent list, got %+v", payload.Recent)
	}
	if payload.Recent[0].Score != 50.00 || payload.Recent[0].Elapsed == "" {
		t.Fatalf("unexpected recent summary: %+v", payload.Recent[0])
	}
	if len(payload.InProgress) != 1 || payload.InProgress[0].AttemptID != second.ID {
		t.Fatalf("expected open attempt in in-progress list, got %+v", payload.InProgress)
	}
	if payload.InProgress[0].Status != "in_progress" {
		t.Fatalf("unexpected status: %s", payload.InProgress[0].Status)
	}
}

func TestAPIUnknownAttemptIs404(t *testing.T) {
	catalog := memory.NewCatalogRepository(memory.NewStaticCatalogLoader(sampleCatalog()), time.Minute)
	service := engine.NewService(memory.NewAttemptStore(), catalog)

	mux := http.NewServeMux()
	NewAPIHandler(service).Register(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := http.Get(server.URL + "/attempts/nope/result")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func getJSON(t *testing.T, url string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("get %s: expected %d, got %d", url, wantStatus, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

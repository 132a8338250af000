package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"github.com/mykarfour/quiz-attempt-engine/internal/domain"
	"github.com/mykarfour/quiz-attempt-engine/internal/engine"
	pgstore "github.com/mykarfour/quiz-attempt-engine/internal/infra/postgres"
	pgmigrations "github.com/mykarfour/quiz-attempt-engine/internal/infra/postgres/migrations"
	redisinfra "github.com/mykarfour/quiz-attempt-engine/internal/infra/redis"
)

func TestAttemptEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedQuiz(t, ctx, pgURL, sampleQuiz())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}

	catalog := redisinfra.NewCatalogCache(redisClient, pgstore.NewCatalogLoader(pool), 5*time.Minute)
	mirror := redisinfra.NewSessionMirror(redisClient, time.Hour)
	service := engine.NewService(pgstore.NewAttemptStore(pool), catalog).WithMirror(mirror)

	attempt, err := service.Start(ctx, "learner-1", "quiz-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if attempt.PointsMax != 5 {
		t.Fatalf("expected points max 5, got %d", attempt.PointsMax)
	}

	// The one-open-attempt invariant holds across the DB constraint.
	if _, err := service.Start(ctx, "learner-1", "quiz-1"); err != domain.ErrAttemptInProgress {
		t.Fatalf("expected ErrAttemptInProgress, got %v", err)
	}

	outcome, err := service.SubmitAnswer(ctx, attempt.ID, "q1", []string{"o2"}, 4)
	if err != nil {
		t.Fatalf("submit q1: %v", err)
	}
	if !outcome.Correct || outcome.PointsEarned != 1 || outcome.ProgressPercent != 50 {
		t.Fatalf("unexpected q1 outcome: %+v", outcome)
	}

	// Partial credit on the multi-choice question: one of two correct picks.
	outcome, err = service.SubmitAnswer(ctx, attempt.ID, "q2", []string{"o4"}, 9)
	if err != nil {
		t.Fatalf("submit q2: %v", err)
	}
	if outcome.Correct || outcome.PointsEarned != 2 || outcome.ProgressPercent != 100 {
		t.Fatalf("unexpected q2 outcome: %+v", outcome)
	}

	// Resubmission overwrites rather than accumulates.
	outcome, err = service.SubmitAnswer(ctx, attempt.ID, "q2", []string{"o4", "o6"}, 15)
	if err != nil {
		t.Fatalf("resubmit q2: %v", err)
	}
	if !outcome.Correct || outcome.PointsEarned != 4 {
		t.Fatalf("unexpected resubmit outcome: %+v", outcome)
	}

	// Mirror carries the answered map.
	_, answered, err := mirror.Snapshot(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("mirror snapshot: %v", err)
	}
	if !answered["q1"] || !answered["q2"] {
		t.Fatalf("expected both questions mirrored answered, got %v", answered)
	}

	finished, err := service.Finish(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if finished.Score != 100.00 || finished.PointsEarned != 5 {
		t.Fatalf("expected perfect score, got %.2f (%d points)", finished.Score, finished.PointsEarned)
	}
	if _, err := service.Finish(ctx, attempt.ID); err != domain.ErrAlreadyFinished {
		t.Fatalf("expected ErrAlreadyFinished, got %v", err)
	}

	// Terminal attempt frees the slot for a fresh one.
	if _, err := service.Start(ctx, "learner-1", "quiz-1"); err != nil {
		t.Fatalf("restart after finish: %v", err)
	}

	result, err := service.GetResult(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if len(result.Breakdown) != 2 || result.Appreciation != "Excellent" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedQuiz(t *testing.T, ctx context.Context, dsn string, quiz domain.Quiz) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(quiz)
	if err != nil {
		t.Fatalf("marshal quiz: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO quizzes (id, data) VALUES (?, ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, quiz.ID, string(data)); err != nil {
		t.Fatalf("insert quiz: %v", err)
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:              "quiz-1",
		Title:           "Arithmetic warm-up",
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
					{ID: "o3", Text: "5", Correct: false, Ordre: 3},
				},
			},
			{
				ID:     "q2",
				Ordre:  2,
				Text:   "Which numbers are even?",
				Points: 4,
				Choices: []domain.Choice{
					{ID: "o4", Text: "2", Correct: true, Ordre: 1},
					{ID: "o5", Text: "3", Correct: false, Ordre: 2},
					{ID: "o6", Text: "4", Correct: true, Ordre: 3},
					{ID: "o7", Text: "5", Correct: false, Ordre: 4},
				},
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}

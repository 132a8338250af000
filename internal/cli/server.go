package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mykarfour/quiz-attempt-engine/internal/config"
	"github.com/mykarfour/quiz-attempt-engine/internal/domain"
	"github.com/mykarfour/quiz-attempt-engine/internal/engine"
	"github.com/mykarfour/quiz-attempt-engine/internal/infra/memory"
	pgstore "github.com/mykarfour/quiz-attempt-engine/internal/infra/postgres"
	redisinfra "github.com/mykarfour/quiz-attempt-engine/internal/infra/redis"
	transport "github.com/mykarfour/quiz-attempt-engine/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the attempt engine server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.CatalogLoader = memory.NewStaticCatalogLoader(sampleCatalog())
	if pool != nil {
		loader = pgstore.NewCatalogLoader(pool)
	}

	catalogTTL := config.TTLDuration(cfg.Catalog.TTL, 10*time.Minute)
	var catalog engine.CatalogRepository
	if redisClient != nil {
		catalog = redisinfra.NewCatalogCache(redisClient, loader, catalogTTL)
	} else {
		catalog = memory.NewCatalogRepository(loader, catalogTTL)
	}

	var store engine.AttemptStore
	if pool != nil {
		store = pgstore.NewAttemptStore(pool)
	} else {
		store = memory.NewAttemptStore()
	}

	service := engine.NewService(store, catalog)
	if redisClient != nil {
		retention := config.TTLDuration(cfg.Redis.Retention, 24*time.Hour)
		service.WithMirror(redisinfra.NewSessionMirror(redisClient, retention))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", transport.NewWSHandler(service).ServeWS)
	transport.NewAPIHandler(service).Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quiz attempt engine on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleCatalog provides a minimal quiz for running without Postgres; swap in
// the DB-backed loader in production.
func sampleCatalog() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
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
		},
	}
}

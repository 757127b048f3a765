package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"examprep-attempt-service/internal/app"
	"examprep-attempt-service/internal/config"
	"examprep-attempt-service/internal/domain"
	"examprep-attempt-service/internal/infra/memory"
	pgstore "examprep-attempt-service/internal/infra/postgres"
	redisstore "examprep-attempt-service/internal/infra/redis"
	transport "examprep-attempt-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the attempt server",
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

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if pool != nil {
		loader = pgstore.NewQuizLoader(pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisstore.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	// Attempts should outlive any realistic quiz duration plus a generous
	// resume window before the store is allowed to forget them.
	attemptTTL := config.TTLDuration(cfg.Attempt.TTL, 24*time.Hour)
	var attempts app.AttemptStore
	if redisClient != nil {
		attempts = redisstore.NewAttemptStore(redisClient, attemptTTL)
	} else {
		attempts = memory.NewAttemptStore()
	}

	var results app.ResultStore
	if pool != nil {
		results = pgstore.NewResultStore(pool)
	} else {
		results = memory.NewResultStore()
	}

	service := app.NewAttemptService(quizRepo, attempts, results)
	persistInterval := config.TTLDuration(cfg.Attempt.PersistInterval, 15*time.Second)
	wsHandler := transport.NewWSHandler(service, persistInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: websocket attempt sessions stay open for the full
		// quiz duration.
	}

	go func() {
		log.Printf("starting attempt service on :%s", finalPort)
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

// sampleQuizzes provides demo content for running without Postgres.
func sampleQuizzes() map[string]domain.QuizDefinition {
	questions := make([]domain.Question, 0, 3)
	for i, correct := range []string{"o2", "o1", "o3"} {
		questions = append(questions, domain.Question{
			ID:              fmt.Sprintf("q%d", i+1),
			Prompt:          fmt.Sprintf("Sample question %d", i+1),
			Options:         []domain.Option{{ID: "o1", Text: "A"}, {ID: "o2", Text: "B"}, {ID: "o3", Text: "C"}},
			CorrectOptionID: correct,
		})
	}
	return map[string]domain.QuizDefinition{
		"quiz-1": {
			ID:               "quiz-1",
			Title:            "Sample quiz",
			Course:           "Demo",
			DurationMinutes:  1,
			ResultVisibility: domain.VisibilityImmediate,
			Questions:        questions,
		},
	}
}

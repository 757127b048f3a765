package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"examprep-attempt-service/internal/app"
	"examprep-attempt-service/internal/domain"
	pgstore "examprep-attempt-service/internal/infra/postgres"
	pgmigrations "examprep-attempt-service/internal/infra/postgres/migrations"
	infraredis "examprep-attempt-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

func TestAttemptLifecycleEndToEnd(t *testing.T) {
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

	quizRepo := infraredis.NewQuizRepository(redisClient, pgstore.NewQuizLoader(pool), 5*time.Minute)
	attempts := infraredis.NewAttemptStore(redisClient, time.Hour)
	results := pgstore.NewResultStore(pool)
	service := app.NewAttemptService(quizRepo, attempts, results)

	// First load creates the attempt with the full budget.
	quiz, state, err := service.StartOrResume(ctx, "u1", "quiz-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if state.RemainingTime != 60 {
		t.Fatalf("expected 60s, got %d", state.RemainingTime)
	}

	// Answer, tick-persist, then reload mid-attempt: the countdown resumes
	// from the persisted value, answers intact.
	if err := service.RecordAnswer(ctx, "u1", "quiz-1", "q1", "o2", 55); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := service.PersistRemaining(ctx, "u1", "quiz-1", 40); err != nil {
		t.Fatalf("persist: %v", err)
	}
	_, resumed, err := service.StartOrResume(ctx, "u1", "quiz-1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.RemainingTime != 40 {
		t.Fatalf("expected resumed 40s, got %d", resumed.RemainingTime)
	}
	if resumed.Answers["q1"] != "o2" {
		t.Fatalf("expected answer to survive resume, got %v", resumed.Answers)
	}

	// Finalize grades and writes the result to Postgres exactly once.
	record, err := service.Finalize(ctx, quiz, "u1", resumed.Answers)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if record.Score != 1 || record.Total != 2 {
		t.Fatalf("expected 1/2, got %d/%d", record.Score, record.Total)
	}

	again, err := service.Finalize(ctx, quiz, "u1", map[string]string{"q1": "o2", "q2": "o1"})
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if again.Score != record.Score {
		t.Fatalf("second finalize changed the score: %d != %d", again.Score, record.Score)
	}

	stored, err := service.Result(ctx, "u1", "quiz-1")
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if stored.Score != 1 || stored.Total != 2 || stored.Answers["q1"] != "o2" {
		t.Fatalf("unexpected stored result: %+v", stored)
	}

	if _, _, err := service.StartOrResume(ctx, "u1", "quiz-1"); !errors.Is(err, domain.ErrAttemptCompleted) {
		t.Fatalf("expected completed attempt rejection, got %v", err)
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

func seedQuiz(t *testing.T, ctx context.Context, dsn string, quiz domain.QuizDefinition) {
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
	if _, err := db.ExecContext(ctx, `INSERT INTO quizzes (id, data) VALUES (? , ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, quiz.ID, string(data)); err != nil {
		t.Fatalf("insert quiz: %v", err)
	}
}

func sampleQuiz() domain.QuizDefinition {
	return domain.QuizDefinition{
		ID:               "quiz-1",
		Title:            "Arithmetic",
		Course:           "Math",
		DurationMinutes:  1,
		ResultVisibility: domain.VisibilityImmediate,
		Questions: []domain.Question{
			{
				ID:              "q1",
				Prompt:          "What is 2 + 2?",
				Options:         []domain.Option{{ID: "o1", Text: "3"}, {ID: "o2", Text: "4"}, {ID: "o3", Text: "5"}},
				CorrectOptionID: "o2",
			},
			{
				ID:              "q2",
				Prompt:          "What is 3 x 3?",
				Options:         []domain.Option{{ID: "o1", Text: "6"}, {ID: "o2", Text: "9"}},
				CorrectOptionID: "o2",
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

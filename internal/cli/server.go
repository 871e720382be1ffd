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

	"quizflow-service/internal/app"
	"quizflow-service/internal/config"
	"quizflow-service/internal/domain"
	"quizflow-service/internal/infra/memory"
	pginfra "quizflow-service/internal/infra/postgres"
	redisinfra "quizflow-service/internal/infra/redis"
	transport "quizflow-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz traversal server",
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
		loader = pginfra.NewQuizLoader(pool)
	}

	quizTTL := config.Duration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisinfra.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	progressTTL := config.Duration(cfg.Progress.TTL, 0)
	var progressStore app.ProgressStore
	var attemptStore app.AttemptStore
	switch {
	case pool != nil:
		progressStore = pginfra.NewProgressStore(pool)
		attemptStore = pginfra.NewAttemptStore(pool)
	case redisClient != nil:
		progressStore = redisinfra.NewProgressStore(redisClient, progressTTL)
		attemptStore = memory.NewAttemptStore()
	default:
		progressStore = memory.NewProgressStore()
		attemptStore = memory.NewAttemptStore()
	}

	saveDebounce := config.Duration(cfg.Progress.SaveDebounce, time.Second)
	service := app.NewPlayerService(quizRepo, progressStore, attemptStore, saveDebounce)
	playerHandler := transport.NewPlayerHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", playerHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quizflow service on :%s", finalPort)
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

// sampleQuizzes provides a minimal flow for demos without a database: an
// intro message, one question, and a condition routing option x to its
// own result while everything else takes the default path.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:     "quiz-1",
			Title:  "Sample flow",
			Status: domain.StatusPublished,
			Flow: domain.FlowData{
				Nodes: []domain.FlowNode{
					{ID: "m1", Type: domain.NodeMessage, Data: domain.MessageData{Title: "Welcome", Text: "Answer one question."}},
					{ID: "q1", Type: domain.NodeOptionQuestion, Data: domain.OptionQuestionData{
						Title: "Pick one",
						Options: []domain.Option{
							{ID: "x", Text: "The first"},
							{ID: "y", Text: "The second"},
						},
					}},
					{ID: "c1", Type: domain.NodeCondition, Data: domain.ConditionData{
						Conditions: []domain.Condition{
							{SourceID: "q1", OptionID: "x", TargetID: "r1"},
						},
					}},
					{ID: "r1", Type: domain.NodeResult, Data: domain.ResultData{Title: "First result"}},
					{ID: "r2", Type: domain.NodeResult, Data: domain.ResultData{Title: "Default result"}},
				},
				Edges: []domain.FlowEdge{
					{ID: "e1", Source: "m1", Target: "q1"},
					{ID: "e2", Source: "q1", Target: "c1"},
					{ID: "e3", Source: "c1", Target: "r2"},
				},
			},
		},
	}
}

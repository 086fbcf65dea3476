package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arena-quiz-service/internal/app"
	"arena-quiz-service/internal/config"
	"arena-quiz-service/internal/domain"
	"arena-quiz-service/internal/infra/memory"
	pgstore "arena-quiz-service/internal/infra/postgres"
	redisinfra "arena-quiz-service/internal/infra/redis"
	transport "arena-quiz-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz game server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

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

	rules := app.Rules{
		QuestionInterval: config.TTLDuration(cfg.Game.QuestionInterval, 30*time.Second),
		StartDelay:       config.TTLDuration(cfg.Game.StartDelay, 3*time.Second),
		BasePoints:       config.IntOr(cfg.Game.BasePoints, 100),
		MinPoints:        config.IntOr(cfg.Game.MinPoints, 10),
		MinPlayers:       config.IntOr(cfg.Game.MinPlayers, 2),
	}
	lockTTL := config.TTLDuration(cfg.Game.LockTTL, 5*time.Second)
	roomTTL := config.TTLDuration(cfg.Game.RoomTTL, 10*time.Minute)
	cacheTTL := config.TTLDuration(cfg.Game.QuestionCacheTTL, 10*time.Minute)
	workers := config.IntOr(cfg.Game.Workers, 10)

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
		defer pool.Close()
	}

	var state app.RoomState
	if redisClient != nil {
		state = redisinfra.NewRoomState(redisClient, roomTTL, rules.QuestionInterval, lockTTL)
	} else {
		logger.Warn().Msg("redis not configured, room state is process-local")
		state = memory.NewRoomState(roomTTL, rules.QuestionInterval, lockTTL)
	}

	var rooms app.RoomStore
	var games app.GameStore
	var bank app.QuestionBank
	if pool != nil {
		rooms = pgstore.NewRoomStore(pool)
		games = pgstore.NewGameStore(pool)
		pgBank := pgstore.NewQuestionBank(pool)
		if redisClient != nil {
			bank = redisinfra.NewQuestionBank(redisClient, pgBank, cacheTTL)
		} else {
			bank = pgBank
		}
	} else {
		logger.Warn().Msg("postgres not configured, serving demo data from memory")
		memRooms := memory.NewRoomStore()
		seedDemoRoom(ctx, memRooms)
		rooms = memRooms
		games = memory.NewGameStore()
		static := memory.NewStaticQuestionBank(demoQuestions())
		if redisClient != nil {
			bank = redisinfra.NewQuestionBank(redisClient, static, cacheTTL)
		} else {
			bank = static
		}
	}

	hub := transport.NewHub(logger)
	service := app.NewGameService(rooms, games, bank, state, hub, rules, logger)
	scheduler := app.NewScheduler(workers, rules.QuestionInterval, rules.StartDelay, service.Tick, logger)
	defer scheduler.Close()
	service.UseScheduler(scheduler)

	wsHandler := transport.NewWSHandler(service, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info().Str("port", finalPort).Msg("starting quiz game server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server stopped")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info().Msg("shutting down server...")
	case <-ctx.Done():
		logger.Info().Msg("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// seedDemoRoom provides a joinable room for the no-database demo path.
func seedDemoRoom(ctx context.Context, store *memory.RoomStore) {
	_ = store.SaveRoom(ctx, domain.Room{
		ID:          1,
		HostID:      1,
		Name:        "Demo Arena",
		TotalRounds: 3,
		MaxPlayers:  8,
		Status:      domain.StatusNotStarted,
		Players: []domain.RoomPlayer{
			{ID: 1, RoomID: 1, UserID: 1, Name: "Ash"},
			{ID: 2, RoomID: 1, UserID: 2, Name: "Misty"},
		},
	})
}

func demoQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:         1,
			Prompt:     "Which Pokémon evolves into Charizard?",
			Options:    []string{"Charmander", "Charmeleon", "Squirtle", "Pidgeotto"},
			Answer:     "Charmeleon",
			Region:     "kanto",
			Difficulty: "easy",
		},
		{
			ID:         2,
			Prompt:     "What type is Snorlax?",
			Options:    []string{"Normal", "Fighting", "Ground", "Rock"},
			Answer:     "Normal",
			Region:     "kanto",
			Difficulty: "easy",
		},
		{
			ID:         3,
			Prompt:     "Which region introduces Lucario?",
			Options:    []string{"Johto", "Hoenn", "Sinnoh", "Unova"},
			Answer:     "Sinnoh",
			Region:     "sinnoh",
			Difficulty: "medium",
		},
	}
}

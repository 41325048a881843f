package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openlegalaid/session-server-go/internal/config"
	"github.com/openlegalaid/session-server-go/internal/database"
	"github.com/openlegalaid/session-server-go/internal/handler"
	"github.com/openlegalaid/session-server-go/internal/jobs"
	"github.com/openlegalaid/session-server-go/internal/middleware"
	"github.com/openlegalaid/session-server-go/internal/redis"
	"github.com/openlegalaid/session-server-go/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	storeCfg := store.Config{
		SessionTimeout:  cfg.SessionTimeout(),
		CleanupInterval: cfg.CleanupInterval(),
	}

	var (
		sessions  store.Store
		encrypted *store.EncryptedStore
	)

	switch cfg.Backend {
	case config.BackendMemory:
		sessions = store.NewMemoryStore(storeCfg)
		log.Info().Msg("using in-memory session store")

	case config.BackendEncrypted:
		encrypted, err = store.NewEncryptedStore(storeCfg, cfg.StorageDir, cfg.EncryptionSecret)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open encrypted session store")
		}
		sessions = encrypted
		log.Info().Str("storageDir", cfg.StorageDir).Msg("using encrypted session store")

	case config.BackendRedis:
		redisClient, err := redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		sessions = store.NewRedisStore(storeCfg, redisClient.Client)
		log.Info().Msg("using redis session store")

	case config.BackendPostgres:
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		if err := db.Ping(ctx); err != nil {
			cancel()
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		cancel()

		pg := store.NewPostgresStore(storeCfg, db.DB)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("failed to ensure schema")
		}
		sessions = pg
		log.Info().Msg("using postgres session store")
	}
	defer sessions.Close()

	sessionHandler := handler.NewSessionHandler(sessions, encrypted, cfg.MaxAudioBlobBytes)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(cfg.MaxAudioBlobBytes)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"backend":   cfg.Backend,
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Mount("/", sessionHandler.Routes())
	})

	cleanupJob := jobs.NewCleanupJob(sessions, cfg.CleanupInterval())
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

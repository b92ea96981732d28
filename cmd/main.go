package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tinchat/backend/internal/api/handler"
	"tinchat/backend/internal/chathub"
	"tinchat/backend/internal/config"
	"tinchat/backend/internal/localization"
	"tinchat/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(lvl)
	} else {
		logger.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, using info")
		logger = logger.Level(zerolog.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, &logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped with error")
	}
	logger.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close storage")
		}
	}()

	localizer, err := localization.NewDefaultLocalizer()
	if err != nil {
		return err
	}

	opts := chathub.Options{Timings: cfg.Timings, Localizer: localizer}
	if store.DB != nil {
		opts.Profiles = storage.NewProfileRepository(store.DB)
	}
	if store.Redis != nil {
		queue := storage.NewQueueStore(store.Redis)
		if err := queue.Reset(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to clear persisted queues")
		}
		opts.Queue = queue
	}
	hub := chathub.NewManagerService(logger, opts)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler.NewHandler(hub, cfg.JWTSecret, logger).Register(router)

	server := &http.Server{
		Addr:           cfg.ListenAddr,
		Handler:        router,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	if store.Redis != nil && store.DB != nil {
		changes, err := storage.NewProfileNotifier(store.Redis).Subscribe(gctx)
		if err != nil {
			logger.Warn().Err(err).Msg("profile edits will show after the cache TTL")
		} else {
			g.Go(func() error {
				hub.Profiles.Follow(gctx, changes)
				return nil
			})
		}
	}
	g.Go(func() error {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		hub.Shutdown()
		return err
	})
	return g.Wait()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	httpapi "github.com/nirvaankohli/north-pole-consensus/internal/api/http"
	"github.com/nirvaankohli/north-pole-consensus/internal/api/ws"
	"github.com/nirvaankohli/north-pole-consensus/internal/catalog"
	"github.com/nirvaankohli/north-pole-consensus/internal/clients/llm"
	"github.com/nirvaankohli/north-pole-consensus/internal/clients/omdb"
	"github.com/nirvaankohli/north-pole-consensus/internal/config"
	"github.com/nirvaankohli/north-pole-consensus/internal/recommend"
	"github.com/nirvaankohli/north-pole-consensus/internal/repository"
	"github.com/nirvaankohli/north-pole-consensus/internal/service"
	"github.com/nirvaankohli/north-pole-consensus/lib/logger/sl"
	"github.com/nirvaankohli/north-pole-consensus/lib/logger/slogpretty"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cobra.CheckErr(newRootCmd().ExecuteContext(context.Background()))
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "north-pole-consensus",
		Short:         "Pick a movie together: join a room, answer a survey, swipe until everyone agrees.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load(".env")

			cfg := config.MustLoad(configPath)
			log := setupLogger(cfg.Env)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg, log); err != nil {
				log.Error("application stopped", sl.Err(err))
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the config file (env: CONFIG_PATH)")
	cmd.CompletionOptions.HiddenDefaultCmd = true

	return cmd
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	log.Info("catalog loaded", slog.String("path", cfg.Catalog.Path), slog.Int("movies", cat.Len()))

	rooms, err := openRooms(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := rooms.Close(); err != nil {
			log.Error("failed to close room store", sl.Err(err))
		}
	}()

	enricher, err := omdb.New(omdb.Config{
		BaseURL:   cfg.OMDB.BaseURL,
		APIKey:    cfg.OMDB.APIKey,
		Timeout:   cfg.OMDB.Timeout,
		CacheSize: cfg.OMDB.CacheSize,
	}, log)
	if err != nil {
		return err
	}
	defer enricher.Close()

	suggester := llm.New(llm.Config{
		BaseURL:   cfg.LLM.BaseURL,
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		Timeout:   cfg.LLM.Timeout,
	}, log)

	if cfg.OMDB.APIKey == "" {
		log.Warn("omdb api key is not set, movie details will be placeholders")
	}
	if cfg.LLM.APIKey == "" {
		log.Warn("ai api key is not set, surveys will not produce suggestions")
	}
	if cfg.HTTP.SessionSecret == "" {
		log.Warn("session secret is not set, sessions will not survive a restart")
	}

	engine := recommend.New(cat, enricher, cfg.Feed.Seed, log).
		WithSampling(catalog.ParsePriority(cfg.Feed.Priority), cfg.Feed.MinYear)
	roomService := service.NewRoomService(rooms, engine, suggester, cat, log)

	gateway := ws.NewGateway(roomService, ws.NewHub(log), ws.Config{
		MessagesPerSecond: cfg.WS.MessagesPerSecond,
		Burst:             cfg.WS.Burst,
		AllowedOrigins:    cfg.HTTP.AllowedOrigins,
	}, log)
	defer gateway.Close()

	sessions := httpapi.NewSessionStore(cfg.HTTP.SessionSecret, cfg.HTTP.CookieName)
	roomController := httpapi.NewRoomController(roomService, sessions, gateway, log)
	router := httpapi.SetupRouter(roomController, cfg.HTTP.AllowedOrigins)

	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting application", slog.String("addr", cfg.HTTP.Address), slog.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	gateway.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// openRooms picks the room store for the configured driver. Persisted rooms
// are wiped on start unless the config says otherwise, in which case they
// must decode cleanly.
func openRooms(ctx context.Context, cfg config.StorageConfig, log *slog.Logger) (repository.RoomRepository, error) {
	const op = "main.openRooms"
	log = log.With(slog.String("op", op), slog.String("driver", cfg.Driver))

	var rooms repository.RoomRepository
	switch cfg.Driver {
	case config.StorageMemory:
		rooms = repository.NewInMemoryRoomRepository()
	case config.StorageFile:
		fileRooms, err := repository.NewFileRoomRepository(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		rooms = fileRooms
	case config.StorageBadger:
		db, err := repository.OpenBadger(cfg.BadgerDir)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		rooms = repository.NewBadgerRoomRepository(db)
	default:
		return nil, fmt.Errorf("%s: unknown storage driver %q", op, cfg.Driver)
	}

	if cfg.Wipe() {
		if err := rooms.Wipe(ctx); err != nil {
			_ = rooms.Close()
			return nil, fmt.Errorf("%s: wipe: %w", op, err)
		}
		log.Info("room store wiped")
		return rooms, nil
	}

	existing, err := rooms.List(ctx)
	if err != nil {
		_ = rooms.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	log.Info("room store opened", slog.Int("rooms", len(existing)))
	return rooms, nil
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}

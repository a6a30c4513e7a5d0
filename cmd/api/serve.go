package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"camdesk/internal/academy"
	"camdesk/internal/auth"
	"camdesk/internal/catalog"
	"camdesk/internal/database"
	"camdesk/internal/playback"
	"camdesk/internal/recording"
	"camdesk/internal/server"
)

// shutdownTimeout is the budget for stopping the recording and draining
// requests after a signal.
const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return serve(cmd.Context())
	},
}

// app holds everything serve starts so it can be torn down in order.
type app struct {
	server   *server.FiberServer
	recorder *recording.Manager
	db       database.Service
}

func build(ctx context.Context) (*app, error) {
	logger := slog.Default()

	var db database.Service
	var repo catalog.Repository = catalog.NewMemoryRepository()
	if cfg.Database.URI != "" {
		var err error
		db, err = database.New(ctx, cfg.Database.URI, cfg.Database.Name)
		if err != nil {
			return nil, err
		}
		mongoRepo := catalog.NewMongoRepository(db.GetDatabase())
		if err := mongoRepo.EnsureIndexes(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		repo = mongoRepo
		logger.Info("recording metadata stored in MongoDB", "database", cfg.Database.Name)
	} else {
		logger.Warn("no database configured, recording metadata is kept in memory")
	}

	capturer := recording.NewFFmpegService(recording.FFmpegOptions{
		Path:        cfg.Recording.FFmpegPath,
		Input:       cfg.Recording.WebcamURL,
		InputFormat: cfg.Recording.WebcamInputFormat,
	})
	if version, err := capturer.Version(); err != nil {
		logger.Warn("ffmpeg is not usable, recordings will fail to start", "error", err)
	} else {
		logger.Info("ffmpeg found", "version", version)
	}

	controller := playback.NewController()

	var cat *catalog.Service
	recorder := recording.NewManager(capturer, cfg.Recording.Dir,
		recording.WithStopGracePeriod(cfg.Recording.StopGracePeriod),
		recording.WithFinalizeHook(func(s recording.Session) { cat.OnFinalize(s) }),
	)
	cat = catalog.NewService(cfg.Recording.Dir, repo, recorder, controller, logger)

	srv := server.New(server.Deps{
		Config:   cfg,
		DB:       db,
		Recorder: recorder,
		Playback: controller,
		Catalog:  cat,
		Academy: academy.NewClient(academy.Config{
			BaseURL: cfg.Academy.BaseURL,
			Token:   cfg.Academy.Token,
			Timeout: cfg.Academy.Timeout,
		}, logger),
		Accounts: auth.NewAccounts(
			auth.Account{Username: cfg.Auth.AdminUsername, PasswordHash: cfg.Auth.AdminPasswordHash, Role: auth.RoleAdmin},
			auth.Account{Username: cfg.Auth.ViewerUsername, PasswordHash: cfg.Auth.ViewerPasswordHash, Role: auth.RoleViewer},
		),
		JWT:    auth.NewJWTService(cfg.JWT.SecretKey, cfg.JWT.Expiration),
		Logger: logger,
	})
	srv.RegisterFiberRoutes()

	return &app{server: srv, recorder: recorder, db: db}, nil
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	a, err := build(parent)
	if err != nil {
		return err
	}

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.Server.Addr(), "recordings", cfg.Recording.Dir)
		listenErr <- a.server.Listen(cfg.Server.Addr())
	}()

	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
	case err := <-listenErr:
		_ = a.shutdown()
		return fmt.Errorf("http server error: %w", err)
	}

	slog.Info("shutting down gracefully, press Ctrl+C again to force")
	stop() // Allow Ctrl+C to force shutdown

	if err := a.shutdown(); err != nil {
		slog.Error("shutdown finished with errors", "error", err)
		return err
	}
	slog.Info("graceful shutdown complete")
	return nil
}

// shutdown stops the recording first so its file is finalized, then
// drains the HTTP server and closes the database.
func (a *app) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := a.recorder.Shutdown()
	err = multierr.Append(err, a.server.Shutdown(ctx))
	if a.db != nil {
		err = multierr.Append(err, a.db.Close())
	}
	return err
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"camstream/internal/cameras"
	"camstream/internal/config"
	"camstream/internal/database"
	"camstream/internal/events"
	"camstream/internal/ffmpeg"
	"camstream/internal/livestream"
	"camstream/internal/logging"
	"camstream/internal/process"
	"camstream/internal/recording"
	"camstream/internal/server"
)

func gracefulShutdown(ctx context.Context, stop context.CancelFunc, log *slog.Logger, fiberServer *server.FiberServer, recorder *recording.Manager, supervisor *livestream.Supervisor, done chan bool) {
	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Info("shutting down gracefully, press Ctrl+C again to force")
	stop() // Allow Ctrl+C to force shutdown

	// The server has 5 seconds to finish the request it is currently handling
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fiberServer.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	for id, out := range recorder.StopAll() {
		log.Info("session stopped on shutdown", "session", id, "files", len(out.Files), "failures", len(out.Failures))
	}
	for id, err := range supervisor.StopAll() {
		log.Warn("transcoder did not stop cleanly", "camera", id, "error", err)
	}

	log.Info("server exiting")
	done <- true
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	log := logging.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	binary := ffmpeg.New(cfg.Transcode.FFmpegPath)
	versionCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if version, err := binary.Version(versionCtx); err != nil {
		log.Warn("ffmpeg check failed, streams will not start", "path", binary.Path, "error", err)
	} else {
		log.Info("using ffmpeg", "version", version)
	}
	cancel()

	hub := events.NewHub(log)
	go hub.Run(ctx)

	runner := process.NewExecRunner()
	store := cameras.NewStore(cfg.Paths.ConfigPath)

	hlsRoot, err := cameras.ResolveHLSRoot(cfg.Paths.BaseDir, "")
	if err != nil {
		log.Error("failed to prepare hls root", "error", err)
		os.Exit(1)
	}
	supervisor := livestream.NewSupervisor(livestream.Options{
		Runner:       runner,
		FFmpeg:       binary,
		BaseDir:      cfg.Paths.BaseDir,
		HLSRoot:      hlsRoot,
		StopTimeout:  cfg.Transcode.StopTimeout,
		ReadyTimeout: cfg.Transcode.ManifestReadyWithin,
		Events:       hub,
		Log:          log,
	})

	var (
		db      database.Service
		history recording.History
	)
	if cfg.Database.URI != "" {
		db, err = database.New(cfg.Database.URI, cfg.Database.Name)
		if err != nil {
			log.Warn("recording history disabled", "error", err)
		} else {
			repo := database.NewRecordingRepository(db.GetDatabase())
			if err := repo.EnsureIndexes(ctx); err != nil {
				log.Warn("failed to create recording indexes", "error", err)
			}
			history = repo
			defer db.Close()
		}
	}

	recorder, err := recording.NewManager(recording.Options{
		Runner:      runner,
		FFmpeg:      binary,
		HLSRoot:     hlsRoot,
		OutputDir:   cfg.Paths.RecordsDir,
		Extension:   cfg.Recording.Extension,
		StopTimeout: cfg.Recording.StopTimeout,
		FlushSlack:  cfg.Recording.FlushSlack,
		History:     history,
		Events:      hub,
		Log:         log,
	})
	if err != nil {
		log.Error("failed to create recorder", "error", err)
		os.Exit(1)
	}

	srv := server.New(ctx, server.Deps{
		Config:     cfg,
		Log:        log,
		Store:      store,
		Supervisor: supervisor,
		Recorder:   recorder,
		Hub:        hub,
		DB:         db,
		History:    history,
	})
	srv.RegisterFiberRoutes()

	camCfg, err := store.Load()
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Info("no camera configuration yet", "path", store.Path())
	case err != nil:
		log.Error("failed to load camera configuration", "path", store.Path(), "error", err)
	default:
		result, err := supervisor.ApplyConfig(camCfg)
		if err != nil {
			log.Error("failed to apply camera configuration", "error", err)
		} else {
			srv.OnApply(result)
		}
	}

	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Info("server starting", "addr", addr, "records", cfg.Paths.RecordsDir)
		if err := srv.Listen(addr); err != nil {
			log.Error("http server error", "error", err)
			stop()
		}
	}()

	go gracefulShutdown(ctx, stop, log, srv, recorder, supervisor, done)

	<-done
	log.Info("graceful shutdown complete")
}

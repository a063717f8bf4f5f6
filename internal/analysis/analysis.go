// Package analysis wires the configured collaborators together and runs
// the pipeline in its different modes: a long-running scheduler with the
// HTTP API, a one-shot pending queue drain, or a single sync cycle.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nestwatch/nestwatch-go/internal/api"
	"github.com/nestwatch/nestwatch-go/internal/conf"
	"github.com/nestwatch/nestwatch-go/internal/datastore"
	"github.com/nestwatch/nestwatch-go/internal/events"
	"github.com/nestwatch/nestwatch-go/internal/inference"
	"github.com/nestwatch/nestwatch-go/internal/logging"
	"github.com/nestwatch/nestwatch-go/internal/observability"
	"github.com/nestwatch/nestwatch-go/internal/pipeline"
)

// clipSettleTime keeps clips out of the event feed until their mtime has
// settled, so half-written files are never ingested.
const clipSettleTime = 10 * time.Second

// runtime holds the wired collaborators shared by the run modes.
type runtime struct {
	settings *conf.Settings
	ds       datastore.Interface
	metrics  *observability.Metrics
	orch     *pipeline.Orchestrator
}

func build(settings *conf.Settings) (*runtime, error) {
	ds := datastore.New(settings)
	if ds == nil {
		return nil, fmt.Errorf("no datastore enabled in settings")
	}
	if err := ds.Open(); err != nil {
		return nil, fmt.Errorf("opening datastore: %w", err)
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		_ = ds.Close()
		return nil, fmt.Errorf("initializing metrics: %w", err)
	}

	client := inference.NewHTTPClient(settings.Inference.Timeout)

	deps := pipeline.Dependencies{
		Store: ds,
		Source: &events.DirectorySource{
			Dir:      settings.NVR.DownloadDir,
			CameraID: settings.NVR.CameraID,
			MinAge:   clipSettleTime,
		},
		Frames: &inference.FFmpegSampler{
			FFmpegPath:  settings.Inference.FFmpegPath,
			FFprobePath: settings.Inference.FFprobePath,
			FPS:         settings.Inference.SampleFPS,
		},
		Detector:   &inference.RemoteDetector{URL: settings.Inference.DetectorURL, Client: client},
		Classifier: &inference.RemoteClassifier{URL: settings.Inference.ClassifierURL, Client: client},
		Metrics:    metrics.Pipeline,
	}
	if settings.Inference.FaceURL != "" {
		deps.FaceLocator = &inference.RemoteFaceLocator{URL: settings.Inference.FaceURL, Client: client}
	}

	orch, err := pipeline.New(settings, deps)
	if err != nil {
		_ = ds.Close()
		return nil, err
	}

	return &runtime{settings: settings, ds: ds, metrics: metrics, orch: orch}, nil
}

func (r *runtime) close() {
	if err := r.ds.Close(); err != nil {
		slog.Error("failed to close datastore", "error", err)
	}
}

// Serve runs the sync scheduler and, when enabled, the HTTP API until the
// process receives an interrupt or termination signal.
func Serve(settings *conf.Settings) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := build(settings)
	if err != nil {
		return err
	}
	defer r.close()

	mainLog, closeLog := serviceLog(settings)
	defer closeLog()
	mainLog.Info("starting", "node", settings.Main.Name, "clip_dir", settings.NVR.DownloadDir)

	var g errgroup.Group
	g.Go(func() error {
		return r.orch.Run(ctx)
	})

	if settings.WebServer.Enabled {
		controller := api.New(settings, r.ds, r.orch, r.metrics)
		g.Go(func() error {
			return controller.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return controller.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	mainLog.Info("stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ProcessOnce drains the pending file queue once and exits. Useful for
// working through a backlog without starting the scheduler.
func ProcessOnce(settings *conf.Settings) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := build(settings)
	if err != nil {
		return err
	}
	defer r.close()

	processed, failed := r.orch.ProcessPending(ctx)
	slog.Info("processing complete", "processed", processed, "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, processed+failed)
	}
	return nil
}

// SyncOnce runs a single poll-ingest-process-advance cycle and exits.
func SyncOnce(settings *conf.Settings) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := build(settings)
	if err != nil {
		return err
	}
	defer r.close()

	processed, failed, err := r.orch.Sync(ctx)
	if err != nil {
		return err
	}
	slog.Info("sync complete", "processed", processed, "failed", failed)
	return nil
}

// serviceLog returns the rotating main log file when file logging is
// enabled, otherwise the process default logger.
func serviceLog(settings *conf.Settings) (*slog.Logger, func()) {
	if !settings.Main.Log.Enabled {
		return slog.Default(), func() {}
	}

	level := slog.LevelInfo
	if settings.Debug {
		level = slog.LevelDebug
	}

	logger, closeFn, err := logging.NewFileLogger(
		filepath.Join(settings.Main.Log.Path, "nestwatch.log"),
		settings.Main.Name, level,
		logging.FileLoggerOptions{
			MaxSizeMB:  settings.Main.Log.MaxSizeMB,
			MaxBackups: settings.Main.Log.MaxBackups,
			MaxAgeDays: settings.Main.Log.MaxAgeDays,
		})
	if err != nil {
		slog.Warn("file logging disabled", "error", err)
		return slog.Default(), func() {}
	}

	return logger, func() {
		if err := closeFn(); err != nil {
			slog.Error("failed to close log file", "error", err)
		}
	}
}

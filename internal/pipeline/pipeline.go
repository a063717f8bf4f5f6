// Package pipeline drives the file-to-visit pipeline: it polls the event
// source, ingests pending file rows, processes them under bounded
// concurrency and advances the sync cursor once events reach a terminal
// state. All cross-worker coordination goes through the durable store, so
// multiple processes may run the orchestrator against the same database.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/nestwatch/nestwatch-go/internal/annotation"
	"github.com/nestwatch/nestwatch-go/internal/conf"
	"github.com/nestwatch/nestwatch-go/internal/datastore"
	"github.com/nestwatch/nestwatch-go/internal/duplicate"
	"github.com/nestwatch/nestwatch-go/internal/events"
	"github.com/nestwatch/nestwatch-go/internal/inference"
	"github.com/nestwatch/nestwatch-go/internal/logging"
	"github.com/nestwatch/nestwatch-go/internal/observability"
)

// Dependencies are the external collaborators of the orchestrator. Store,
// Source, Frames, Detector and Classifier are required; FaceLocator and
// Metrics are optional.
type Dependencies struct {
	Store       datastore.Interface
	Source      events.Source
	Frames      inference.FrameSource
	Detector    inference.Detector
	Classifier  inference.Classifier
	FaceLocator inference.FaceLocator
	Metrics     *observability.PipelineMetrics
}

// Orchestrator owns the poll/process/annotate cycle.
type Orchestrator struct {
	settings *conf.Settings
	ds       datastore.Interface
	source   events.Source
	frames   inference.FrameSource
	detector inference.Detector
	class    inference.Classifier
	dup      *duplicate.Detector
	annot    *annotation.Annotator
	metrics  *observability.PipelineMetrics

	// taxa caches scientific name to taxon ID lookups across files.
	taxa    *cache.Cache
	trigger chan struct{}
}

// New validates the dependencies and builds an orchestrator.
func New(settings *conf.Settings, deps Dependencies) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("pipeline: store is required")
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("pipeline: event source is required")
	}
	if deps.Frames == nil || deps.Detector == nil || deps.Classifier == nil {
		return nil, fmt.Errorf("pipeline: frame source, detector and classifier are required")
	}

	o := &Orchestrator{
		settings: settings,
		ds:       deps.Store,
		source:   deps.Source,
		frames:   deps.Frames,
		detector: deps.Detector,
		class:    deps.Classifier,
		metrics:  deps.Metrics,
		taxa:     cache.New(time.Hour, 10*time.Minute),
		trigger:  make(chan struct{}, max(1, settings.NVR.TriggerBuffer)),
	}
	if settings.Duplicate.Enabled {
		o.dup = duplicate.New(duplicate.Config{
			Window:         settings.Duplicate.Window,
			ScoreThreshold: settings.Duplicate.ScoreThreshold,
			MaxHamming:     settings.Duplicate.MaxHamming,
		}, deps.Store)
	}
	if settings.Annotation.Enabled {
		o.annot = annotation.New(deps.Store, deps.FaceLocator, settings.Annotation.BatchSize)
	}
	return o, nil
}

// TriggerSync requests an immediate poll outside the regular interval.
// Non-blocking; a full trigger queue means a sync is already due.
func (o *Orchestrator) TriggerSync() bool {
	select {
	case o.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run executes the periodic scheduler until the context is cancelled. One
// sync runs immediately on startup, after stale bookkeeping from dead
// processes is cleared.
func (o *Orchestrator) Run(ctx context.Context) error {
	if _, err := o.ds.CleanupStaleTaskRuns(); err != nil {
		o.logger().Error("stale task run cleanup failed", "error", err)
	}

	pollTicker := time.NewTicker(o.settings.NVR.PollInterval)
	defer pollTicker.Stop()

	var annotTicker *time.Ticker
	var annotC <-chan time.Time
	if o.annot != nil {
		annotTicker = time.NewTicker(o.settings.Annotation.Interval)
		defer annotTicker.Stop()
		annotC = annotTicker.C
	}

	o.runSync(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pollTicker.C:
			o.runSync(ctx)
		case <-o.trigger:
			o.runSync(ctx)
		case <-annotC:
			o.runAnnotation(ctx)
		}
	}
}

// runSync performs one poll-ingest-process-advance cycle under a task run.
func (o *Orchestrator) runSync(ctx context.Context) {
	run, err := o.ds.StartTaskRun("sync")
	if err != nil {
		o.logger().Error("starting sync task run failed", "error", err)
		return
	}

	processed, failed, err := o.Sync(ctx)
	message := ""
	if err != nil && ctx.Err() == nil {
		message = err.Error()
		o.logger().Error("sync failed", "error", err)
	}
	if err := o.ds.CompleteTaskRun(run.RunID, processed, failed, message); err != nil {
		o.logger().Error("completing sync task run failed", "error", err)
	}
}

func (o *Orchestrator) runAnnotation(ctx context.Context) {
	run, err := o.ds.StartTaskRun("annotate")
	if err != nil {
		o.logger().Error("starting annotation task run failed", "error", err)
		return
	}

	annotated, err := o.annot.RunBatch(ctx)
	message := ""
	if err != nil && ctx.Err() == nil {
		message = err.Error()
		o.logger().Error("annotation batch failed", "error", err)
	}
	if o.metrics != nil {
		for i := 0; i < annotated; i++ {
			o.metrics.RecordAnnotation(datastore.AnnotationSourceMachine)
		}
	}
	if err := o.ds.CompleteTaskRun(run.RunID, annotated, 0, message); err != nil {
		o.logger().Error("completing annotation task run failed", "error", err)
	}
}

// Sync polls the event source, ingests new files, processes everything
// pending and advances the cursor past events whose files reached a terminal
// state. Returns the number of files processed and failed.
func (o *Orchestrator) Sync(ctx context.Context) (processed, failed int, err error) {
	sourceType := o.settings.NVR.SourceType

	since, err := o.ds.GetSyncCursor(sourceType)
	if err != nil {
		return 0, 0, err
	}
	if since.IsZero() {
		since = time.Now().Add(-o.settings.NVR.Lookback)
	}

	evts, err := o.source.EventsSince(ctx, since)
	if err != nil {
		return 0, 0, err
	}
	evts = o.filterEvents(evts)
	o.logger().Info("poll complete", "since", since, "events", len(evts))

	ingested := o.ingest(ctx, evts)

	processed, failed = o.ProcessPending(ctx)

	if err := o.advanceCursor(ctx, sourceType, ingested); err != nil {
		return processed, failed, err
	}
	if o.metrics != nil {
		if cur, err := o.ds.GetSyncCursor(sourceType); err == nil && !cur.IsZero() {
			o.metrics.SetCursorAge(time.Since(cur))
		}
	}
	return processed, failed, nil
}

// filterEvents applies the configured camera and event type filters.
func (o *Orchestrator) filterEvents(evts []events.Event) []events.Event {
	keep := evts[:0]
	for _, e := range evts {
		if o.settings.NVR.CameraID != "" && e.CameraID != o.settings.NVR.CameraID {
			continue
		}
		if len(o.settings.NVR.EventTypes) > 0 && !slices.Contains(o.settings.NVR.EventTypes, e.Type) {
			continue
		}
		keep = append(keep, e)
	}
	return keep
}

// ingestedEvent pairs an event with the local clip path its download
// resolved to, so later cursor bookkeeping needs no second download call.
type ingestedEvent struct {
	event events.Event
	path  string
}

// ingest downloads each event's clip and creates its pending file row.
// Events are returned in ascending order; a download failure stops ingestion
// there so the cursor never advances past an event that was never ingested.
func (o *Orchestrator) ingest(ctx context.Context, evts []events.Event) []ingestedEvent {
	var ingested []ingestedEvent
	for _, event := range evts {
		if ctx.Err() != nil {
			break
		}

		path, err := o.source.Download(ctx, event)
		if err != nil {
			o.logger().Error("event download failed",
				"event_id", event.ID, "error", err)
			if o.metrics != nil {
				o.metrics.RecordSyncEvent("download_failed")
			}
			break
		}

		end := event.End
		file := &datastore.File{
			FilePath:      path,
			SourceEventID: event.ID,
			EventStart:    event.Start,
			EventEnd:      &end,
		}
		created, err := o.ds.CreateFileIfNew(file)
		if err != nil {
			o.logger().Error("file ingestion failed",
				"event_id", event.ID, "path", path, "error", err)
			break
		}
		if o.metrics != nil {
			if created {
				o.metrics.RecordSyncEvent("ingested")
			} else {
				o.metrics.RecordSyncEvent("replayed")
			}
		}
		ingested = append(ingested, ingestedEvent{event: event, path: path})
	}
	return ingested
}

// advanceCursor moves the cursor to the latest contiguous event whose file
// has left the pending and processing states. Stopping at the first
// non-terminal event means a crash mid-processing re-polls the same window
// instead of silently skipping it.
func (o *Orchestrator) advanceCursor(ctx context.Context, sourceType string, ingested []ingestedEvent) error {
	var watermark time.Time
	for _, in := range ingested {
		if ctx.Err() != nil {
			break
		}
		file, err := o.ds.GetFileByPath(in.path)
		if err != nil {
			break
		}
		if file.Status == datastore.FileStatusPending || file.Status == datastore.FileStatusProcessing {
			break
		}
		if in.event.Start.After(watermark) {
			watermark = in.event.Start
		}
	}
	if watermark.IsZero() {
		return nil
	}
	return o.ds.AdvanceSyncCursor(sourceType, watermark)
}

func (o *Orchestrator) logger() *slog.Logger {
	if l := logging.ForService("pipeline"); l != nil {
		return l
	}
	return slog.Default()
}

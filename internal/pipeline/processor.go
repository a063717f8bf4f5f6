// processor.go holds the per-file processing path: claim, sample, hash,
// duplicate check, inference, assembly, commit.
package pipeline

import (
	"context"
	"image"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nestwatch/nestwatch-go/internal/assembler"
	"github.com/nestwatch/nestwatch-go/internal/datastore"
	"github.com/nestwatch/nestwatch-go/internal/errors"
	"github.com/nestwatch/nestwatch-go/internal/framehash"
	"github.com/nestwatch/nestwatch-go/internal/inference"
)

// ProcessPending drains the pending file queue with bounded concurrency.
// Files another worker claims first are skipped, not counted as failures.
// Returns how many files were processed and how many ended up failed.
func (o *Orchestrator) ProcessPending(ctx context.Context) (processed, failed int) {
	for {
		pending, err := o.ds.PendingFiles(100)
		if err != nil {
			o.logger().Error("listing pending files failed", "error", err)
			return processed, failed
		}
		if len(pending) == 0 || ctx.Err() != nil {
			return processed, failed
		}

		outcomes := make([]string, len(pending))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(1, o.settings.Processing.Workers))
		for i := range pending {
			i := i
			g.Go(func() error {
				outcomes[i] = o.processFile(gctx, &pending[i])
				return nil
			})
		}
		_ = g.Wait()

		madeProgress := false
		for _, outcome := range outcomes {
			switch outcome {
			case datastore.FileStatusSuccess:
				processed++
				madeProgress = true
			case datastore.FileStatusFailed:
				failed++
				madeProgress = true
			}
		}
		// Without progress the remaining pending files belong to other
		// workers or are blocked; looping again would spin.
		if !madeProgress {
			return processed, failed
		}
	}
}

// processFile claims one file and runs it to a terminal state, retrying
// transient failures with backoff. Returns the file's final status, or
// empty when the claim was lost or the context ended.
func (o *Orchestrator) processFile(ctx context.Context, file *datastore.File) string {
	if err := o.ds.ClaimFile(file.ID); err != nil {
		if errors.IsClaimConflict(err) {
			if o.metrics != nil {
				o.metrics.RecordClaimConflict()
			}
			return ""
		}
		o.logger().Error("claim failed", "file_id", file.ID, "error", err)
		return ""
	}

	started := time.Now()
	log := o.logger().With("file_id", file.ID, "path", file.FilePath)
	log.Info("processing file")

	var err error
	var duration time.Duration
	backoff := o.settings.Processing.RetryBackoff
	for attempt := 0; ; attempt++ {
		duration, err = o.processClaimed(ctx, file)
		if err == nil || !errors.IsRetryable(err) || ctx.Err() != nil {
			break
		}
		if attempt >= o.settings.Processing.MaxRetries {
			break
		}
		log.Warn("transient failure, retrying",
			"attempt", attempt+1, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			continue
		}
		break
	}

	if ctx.Err() != nil && err != nil {
		// Shutdown mid-file: leave the file processing for the stale
		// reconciliation pass rather than mislabeling it failed.
		log.Warn("processing interrupted by shutdown")
		return ""
	}

	if err != nil {
		log.Error("processing failed", "error", err)
		if markErr := o.ds.MarkFileFailed(file.ID, err.Error()); markErr != nil {
			log.Error("marking file failed errored", "error", markErr)
		}
		if o.metrics != nil {
			o.metrics.RecordFileProcessed(datastore.FileStatusFailed, time.Since(started))
		}
		return datastore.FileStatusFailed
	}

	if err := o.ds.MarkFileSuccess(file.ID, duration); err != nil {
		log.Error("marking file success errored", "error", err)
		return ""
	}
	if o.metrics != nil {
		o.metrics.RecordFileProcessed(datastore.FileStatusSuccess, time.Since(started))
	}
	log.Info("processing complete", "elapsed", time.Since(started))
	return datastore.FileStatusSuccess
}

// processClaimed runs the heavy per-file work. The caller already holds the
// claim. Returns the clip duration for the success bookkeeping.
func (o *Orchestrator) processClaimed(ctx context.Context, file *datastore.File) (time.Duration, error) {
	clipDuration, err := o.frames.Info(ctx, file.FilePath)
	if err != nil {
		return 0, err
	}

	frames, err := o.frames.SampleFrames(ctx, file.FilePath)
	if err != nil {
		return 0, err
	}

	if err := o.hashFrames(file, frames); err != nil {
		return 0, err
	}
	o.checkDuplicate(file)

	observations, err := o.inferFrames(ctx, frames)
	if err != nil {
		return 0, err
	}

	visits := assembler.Assemble(o.assemblyConfig(), observations)
	if len(visits) == 0 {
		// Nothing qualified. An empty clip is a successful result.
		return clipDuration, nil
	}

	records, err := o.toRecords(visits)
	if err != nil {
		return 0, err
	}
	if err := o.ds.SaveVisits(file.ID, records); err != nil {
		return 0, err
	}

	if o.metrics != nil {
		detections := 0
		for _, v := range visits {
			detections += len(v.Detections)
		}
		o.metrics.RecordVisits(len(visits), detections)
	}
	return clipDuration, nil
}

// hashFrames computes and stores the perceptual hash sequence used by the
// duplicate detector.
func (o *Orchestrator) hashFrames(file *datastore.File, frames []inference.Frame) error {
	if len(frames) == 0 {
		return nil
	}
	seq := make(framehash.Sequence, 0, len(frames))
	for _, f := range frames {
		seq = append(seq, framehash.Average(f.Image))
	}
	encoded := seq.Encode()
	if err := o.ds.SetFrameHashes(file.ID, encoded); err != nil {
		return err
	}
	file.FrameHashes = encoded
	return nil
}

// checkDuplicate runs the advisory duplicate check. Failures are logged,
// never fatal: a missed duplicate check must not block processing.
func (o *Orchestrator) checkDuplicate(file *datastore.File) {
	if o.dup == nil {
		return
	}
	rec, err := o.dup.Check(file)
	switch {
	case err != nil:
		o.logger().Warn("duplicate check failed", "file_id", file.ID, "error", err)
		return
	case rec == nil:
		if o.metrics != nil {
			o.metrics.RecordDuplicateCheck("none")
		}
	default:
		if o.metrics != nil {
			o.metrics.RecordDuplicateCheck("recommended")
			o.metrics.RecordDuplicateRecommendation(rec.Ambiguous)
		}
		o.logger().Info("merge recommended",
			"file_id", file.ID,
			"candidate_file_id", rec.CandidateID,
			"score", rec.Score,
			"ambiguous", rec.Ambiguous)
	}
}

// inferFrames runs detection and classification over the sampled frames and
// returns one observation per frame with a bird in it. Only the strongest
// detection per frame is kept. Detections touching the frame edge keep
// their evidence but skip species classification, since a partial bird
// produces unreliable species calls.
func (o *Orchestrator) inferFrames(ctx context.Context, frames []inference.Frame) ([]assembler.FrameDetection, error) {
	margin := o.settings.Processing.EdgeMarginPx
	observations := make([]assembler.FrameDetection, 0, len(frames))

	for _, frame := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		detections, err := o.detector.Detect(ctx, frame.Image)
		if err != nil {
			return nil, errors.New(err).
				Category(errors.CategoryInference).
				Context("frame", frame.Number).
				Build()
		}
		if len(detections) == 0 {
			continue
		}

		best := detections[0]
		for _, d := range detections[1:] {
			if d.Confidence > best.Confidence {
				best = d
			}
		}

		bounds := frame.Image.Bounds()
		obs := assembler.FrameDetection{
			FrameNumber:         frame.Number,
			Timestamp:           frame.Timestamp.Seconds(),
			DetectionConfidence: best.Confidence,
			Box:                 best.Box,
			IsEdge:              best.Box.TouchesEdge(bounds.Dx(), bounds.Dy(), margin),
		}

		if !obs.IsEdge {
			crop := cropImage(frame.Image, best.Box)
			cls, err := o.class.Classify(ctx, crop)
			if err != nil {
				return nil, errors.New(err).
					Category(errors.CategoryInference).
					Context("frame", frame.Number).
					Build()
			}
			obs.Species = cls.ScientificName
			obs.SpeciesConfidence = cls.Confidence
		}
		observations = append(observations, obs)
	}
	return observations, nil
}

func (o *Orchestrator) assemblyConfig() assembler.Config {
	p := o.settings.Processing
	return assembler.Config{
		DetectionThreshold: p.MinDetectionConfidence,
		SpeciesThreshold:   p.MinSpeciesConfidence,
		MaxFrameGap:        p.MaxFrameGap.Seconds(),
		RevisitGap:         p.RevisitGap.Seconds(),
	}
}

// toRecords converts assembled visits into persistable records, resolving
// species names to taxon rows through the lookup cache.
func (o *Orchestrator) toRecords(visits []assembler.Visit) ([]datastore.VisitRecord, error) {
	p := o.settings.Processing
	records := make([]datastore.VisitRecord, 0, len(visits))

	for _, v := range visits {
		var taxonID *uint
		if v.Species != "" {
			id, err := o.resolveTaxon(v.Species)
			if err != nil {
				return nil, err
			}
			taxonID = &id
		}

		detections := make([]datastore.Detection, 0, len(v.Detections))
		for _, d := range v.Detections {
			det := datastore.Detection{
				FrameNumber:         d.FrameNumber,
				FrameTimestamp:      d.Timestamp,
				DetectionConfidence: d.DetectionConfidence,
				DetectionModel:      p.DetectionModel,
				BboxX1:              d.Box.X1,
				BboxY1:              d.Box.Y1,
				BboxX2:              d.Box.X2,
				BboxY2:              d.Box.Y2,
				IsEdge:              d.IsEdge,
				CropPath:            d.CropPath,
			}
			if d.Species != "" {
				conf := d.SpeciesConfidence
				det.SpeciesConfidence = &conf
				det.SpeciesModel = p.SpeciesModel
			}
			detections = append(detections, det)
		}

		records = append(records, datastore.VisitRecord{
			Visit: datastore.Visit{
				TaxonID:           taxonID,
				SpeciesConfidence: v.SpeciesConfidence,
				SpeciesModel:      p.SpeciesModel,
				SegmentStart:      v.SegmentStart,
				SegmentEnd:        v.SegmentEnd,
			},
			Detections: detections,
			BestIndex:  v.BestIndex,
		})
	}
	return records, nil
}

// resolveTaxon maps a scientific name to its taxon row ID, caching results
// so repeated visitors cost one query per hour at most.
func (o *Orchestrator) resolveTaxon(scientificName string) (uint, error) {
	if id, ok := o.taxa.Get(scientificName); ok {
		return id.(uint), nil
	}
	taxon, err := o.ds.GetOrCreateTaxon(scientificName)
	if err != nil {
		return 0, err
	}
	o.taxa.SetDefault(scientificName, taxon.ID)
	return taxon.ID, nil
}

// cropImage extracts the detection box from a frame. Images from decoders
// usually support SubImage; anything else gets an explicit copy.
func cropImage(img image.Image, box inference.Box) image.Image {
	rect := image.Rect(box.X1, box.Y1, box.X2, box.Y2).Intersect(img.Bounds())
	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(rect)
	}
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := 0; y < rect.Dy(); y++ {
		for x := 0; x < rect.Dx(); x++ {
			out.Set(x, y, img.At(rect.Min.X+x, rect.Min.Y+y))
		}
	}
	return out
}

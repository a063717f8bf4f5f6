// Package duplicate implements content-based near-duplicate detection
// between ingested clips. An NVR sometimes reports the same physical event
// twice (overlapping motion windows, reconnects); comparing perceptual frame
// hashes catches these regardless of file name or byte content.
package duplicate

import (
	"log/slog"
	"time"

	"github.com/nestwatch/nestwatch-go/internal/datastore"
	"github.com/nestwatch/nestwatch-go/internal/errors"
	"github.com/nestwatch/nestwatch-go/internal/framehash"
	"github.com/nestwatch/nestwatch-go/internal/logging"
)

// Config holds the detector thresholds, passed explicitly for deterministic
// testing.
type Config struct {
	// Window bounds the candidate pool to files whose event start falls
	// within this duration of the subject's event interval.
	Window time.Duration
	// ScoreThreshold is the minimum overlap score for a merge recommendation.
	ScoreThreshold float64
	// MaxHamming is the per-hash distance tolerance for two frames to count
	// as the same content despite compression noise.
	MaxHamming int
}

// Recommendation is the advisory outcome of a duplicate check. The detector
// never merges anything itself; a human or an explicit policy acts on this.
type Recommendation struct {
	CandidateID uint
	Score       float64
	// Ambiguous is set when a second candidate scored exactly as high, in
	// which case the choice must go to a human.
	Ambiguous bool
}

// Detector compares a file's frame hashes against recent files.
type Detector struct {
	cfg Config
	ds  datastore.Interface
}

func New(cfg Config, ds datastore.Interface) *Detector {
	return &Detector{cfg: cfg, ds: ds}
}

// Check scores the file against nearby candidates and returns a merge
// recommendation when the best overlap clears the threshold, nil otherwise.
// The check time and best score are recorded on the file either way. The
// candidate pool is a snapshot and may race with concurrent ingestion,
// which is fine for an advisory check.
func (d *Detector) Check(file *datastore.File) (*Recommendation, error) {
	if file.FrameHashes == "" {
		return nil, d.record(file.ID, nil)
	}

	hashes, err := framehash.Decode(file.FrameHashes)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryDuplicateCheck).
			Context("file_id", file.ID).
			Build()
	}

	end := file.EventStart
	if file.EventEnd != nil {
		end = *file.EventEnd
	}
	candidates, err := d.ds.RecentFilesAround(file.EventStart, end, d.cfg.Window, file.ID)
	if err != nil {
		return nil, err
	}

	var best *Recommendation
	for _, candidate := range candidates {
		theirs, err := framehash.Decode(candidate.FrameHashes)
		if err != nil {
			// Unreadable stored hashes disqualify the candidate, not the check.
			d.logger().Warn("skipping candidate with corrupt frame hashes",
				"candidate_file_id", candidate.ID, "error", err)
			continue
		}

		score := framehash.Overlap(hashes, theirs, d.cfg.MaxHamming)
		switch {
		case best == nil || score > best.Score:
			// Candidates arrive newest first, so on equal scores the
			// earlier-seen candidate already is the most recent one.
			best = &Recommendation{CandidateID: candidate.ID, Score: score}
		case score == best.Score && score > 0:
			best.Ambiguous = true
		}
	}

	if best == nil {
		return nil, d.record(file.ID, nil)
	}
	if err := d.record(file.ID, &best.Score); err != nil {
		return nil, err
	}
	if best.Score < d.cfg.ScoreThreshold {
		return nil, nil
	}

	d.logger().Info("duplicate candidate found",
		"file_id", file.ID,
		"candidate_file_id", best.CandidateID,
		"score", best.Score,
		"ambiguous", best.Ambiguous)
	return best, nil
}

func (d *Detector) record(fileID uint, score *float64) error {
	return d.ds.RecordDuplicateCheck(fileID, score)
}

func (d *Detector) logger() *slog.Logger {
	if l := logging.ForService("duplicate"); l != nil {
		return l
	}
	return slog.Default()
}

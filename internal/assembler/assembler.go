// Package assembler clusters the per-frame detections of one clip into
// visits: contiguous observation episodes of a single resolved species,
// time-segmented when the same species returns after an absence.
package assembler

import (
	"github.com/nestwatch/nestwatch-go/internal/inference"
)

// Config holds the assembly thresholds. They are passed explicitly rather
// than read from process configuration so tests can vary them freely.
type Config struct {
	// DetectionThreshold drops frames whose detector confidence is below it.
	DetectionThreshold float64
	// SpeciesThreshold is the minimum per-frame species confidence for a
	// frame to vote in the species majority.
	SpeciesThreshold float64
	// MaxFrameGap is the largest gap in seconds between consecutive frames
	// of the same run. A larger gap starts a new run.
	MaxFrameGap float64
	// RevisitGap is the gap in seconds beyond which two runs of the same
	// species become separate, time-segmented visits.
	RevisitGap float64
}

// FrameDetection is one qualifying frame observation, already carrying the
// detector and classifier output for that frame.
type FrameDetection struct {
	FrameNumber         int
	Timestamp           float64 // seconds from clip start
	DetectionConfidence float64
	Box                 inference.Box
	IsEdge              bool
	CropPath            string

	// Species is the per-frame classification, empty when classification
	// was skipped or produced nothing.
	Species           string
	SpeciesConfidence float64
}

// Visit is one assembled observation episode. Species is empty when no frame
// in the episode cleared the species threshold. A nil segment means the visit
// spans the whole clip.
type Visit struct {
	Species           string
	SpeciesConfidence float64
	SegmentStart      *float64
	SegmentEnd        *float64
	Detections        []FrameDetection
	// BestIndex points into Detections at the highest-confidence frame.
	BestIndex int
}

// run is a temporally contiguous stretch of qualifying frames before the
// species vote and revisit segmentation.
type run struct {
	frames  []FrameDetection
	species string
	// confidence is the strongest species evidence among the frames that
	// voted for the winning species.
	confidence float64
}

func (r *run) start() float64 { return r.frames[0].Timestamp }
func (r *run) end() float64   { return r.frames[len(r.frames)-1].Timestamp }

// Assemble converts a chronologically ordered frame sequence into visits.
// Frames below the detection threshold are dropped; the survivors are split
// into runs at gaps exceeding MaxFrameGap; each run resolves one species by
// confidence-weighted majority; runs of the same species separated by more
// than RevisitGap become distinct segmented visits instead of being merged.
// An empty result is valid: a clip with nothing in it produces zero visits.
func Assemble(cfg Config, frames []FrameDetection) []Visit {
	qualifying := make([]FrameDetection, 0, len(frames))
	for _, f := range frames {
		if f.DetectionConfidence >= cfg.DetectionThreshold {
			qualifying = append(qualifying, f)
		}
	}
	if len(qualifying) == 0 {
		return nil
	}

	runs := splitRuns(cfg, qualifying)
	for i := range runs {
		runs[i].species, runs[i].confidence = resolveSpecies(cfg, runs[i].frames)
	}

	return segmentVisits(cfg, runs)
}

// splitRuns cuts the qualifying frames at gaps larger than MaxFrameGap.
func splitRuns(cfg Config, frames []FrameDetection) []run {
	var runs []run
	current := run{frames: []FrameDetection{frames[0]}}
	for _, f := range frames[1:] {
		last := current.frames[len(current.frames)-1]
		if f.Timestamp-last.Timestamp > cfg.MaxFrameGap {
			runs = append(runs, current)
			current = run{}
		}
		current.frames = append(current.frames, f)
	}
	return append(runs, current)
}

// resolveSpecies picks one species for a run by confidence-weighted majority
// over the frames that clear the species threshold. The winner is the species
// with the largest confidence sum; on an exact tie the species seen earliest
// in the run wins. The returned confidence is the maximum per-frame species
// confidence among the winner's voting frames. An empty species means no
// frame cleared the threshold.
func resolveSpecies(cfg Config, frames []FrameDetection) (string, float64) {
	type tally struct {
		sum   float64
		best  float64
		first int // index of the earliest voting frame, for tie-breaking
	}
	votes := make(map[string]*tally)
	for i, f := range frames {
		if f.Species == "" || f.SpeciesConfidence < cfg.SpeciesThreshold {
			continue
		}
		v, ok := votes[f.Species]
		if !ok {
			v = &tally{first: i}
			votes[f.Species] = v
		}
		v.sum += f.SpeciesConfidence
		if f.SpeciesConfidence > v.best {
			v.best = f.SpeciesConfidence
		}
	}
	if len(votes) == 0 {
		return "", 0
	}

	var winner string
	var winning *tally
	for species, v := range votes {
		switch {
		case winning == nil,
			v.sum > winning.sum,
			v.sum == winning.sum && v.first < winning.first:
			winner, winning = species, v
		}
	}
	return winner, winning.best
}

// segmentVisits groups the resolved runs by species and decides, per species,
// whether its runs coalesce into one visit or become separate time segments.
// Runs of the same species with a gap of at most RevisitGap merge; a larger
// gap means the animal left and came back, which is a distinct visit. A
// species with exactly one resulting visit spans the whole clip (nil
// segment); with several, each carries an explicit disjoint window.
func segmentVisits(cfg Config, runs []run) []Visit {
	// Coalesce neighbouring same-species runs first. Runs are already in
	// chronological order; only adjacency within a species matters.
	type group struct {
		species    string
		confidence float64
		frames     []FrameDetection
		end        float64
	}
	var groups []*group
	open := make(map[string]*group) // species -> last open group

	for i := range runs {
		r := &runs[i]
		g, ok := open[r.species]
		if ok && r.start()-g.end <= cfg.RevisitGap {
			g.frames = append(g.frames, r.frames...)
			g.end = r.end()
			if r.confidence > g.confidence {
				g.confidence = r.confidence
			}
			continue
		}
		g = &group{species: r.species, confidence: r.confidence, frames: r.frames, end: r.end()}
		groups = append(groups, g)
		open[r.species] = g
	}

	perSpecies := make(map[string]int)
	for _, g := range groups {
		perSpecies[g.species]++
	}

	visits := make([]Visit, 0, len(groups))
	for _, g := range groups {
		v := Visit{
			Species:           g.species,
			SpeciesConfidence: g.confidence,
			Detections:        g.frames,
			BestIndex:         bestFrame(g.frames),
		}
		if perSpecies[g.species] > 1 {
			start, end := g.frames[0].Timestamp, g.end
			v.SegmentStart, v.SegmentEnd = &start, &end
		}
		visits = append(visits, v)
	}
	return visits
}

// bestFrame returns the index of the highest detection confidence, earliest
// frame winning ties.
func bestFrame(frames []FrameDetection) int {
	best := 0
	for i := 1; i < len(frames); i++ {
		if frames[i].DetectionConfidence > frames[best].DetectionConfidence {
			best = i
		}
	}
	return best
}

// Package inference defines the contracts for the external detection,
// classification and face-localization services, plus the frame sampler.
// The pipeline treats all of them as synchronous black boxes; retry policy
// lives in the orchestrator, not here.
package inference

import (
	"context"
	"image"
	"time"
)

// Box is a pixel-space bounding box with inclusive corners.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Width returns the horizontal extent of the box.
func (b Box) Width() int { return b.X2 - b.X1 }

// Height returns the vertical extent of the box.
func (b Box) Height() int { return b.Y2 - b.Y1 }

// TouchesEdge reports whether the box lies within margin pixels of any frame
// edge. Edge detections are partial views, so species classification is
// skipped for them.
func (b Box) TouchesEdge(frameWidth, frameHeight, margin int) bool {
	return b.X1 < margin ||
		b.Y1 < margin ||
		b.X2 > frameWidth-margin ||
		b.Y2 > frameHeight-margin
}

// Frame is one sampled video frame.
type Frame struct {
	Number    int           // frame index within the clip
	Timestamp time.Duration // offset from clip start
	Image     image.Image
}

// FrameSource samples frames from a downloaded clip. Implementations decode
// the container; a clip with unreadable segments returns a corrupt-media
// error, which is terminal for the file.
type FrameSource interface {
	// Info returns the clip duration.
	Info(ctx context.Context, path string) (time.Duration, error)
	// SampleFrames returns frames in increasing frame-number order.
	SampleFrames(ctx context.Context, path string) ([]Frame, error)
}

// Detection is one object found in a frame.
type Detection struct {
	Box        Box
	Confidence float64
}

// Detector finds objects of interest in a frame.
type Detector interface {
	Detect(ctx context.Context, frame image.Image) ([]Detection, error)
}

// Classification is a species call for a cropped region.
type Classification struct {
	ScientificName string
	Confidence     float64
}

// Classifier assigns a species to a cropped detection.
type Classifier interface {
	Classify(ctx context.Context, crop image.Image) (Classification, error)
}

// FaceLocator proposes a face region within a cropped detection.
// A nil box with a nil error means no face was found.
type FaceLocator interface {
	LocateFace(ctx context.Context, crop image.Image) (*Box, error)
}

// ffmpeg.go implements frame sampling by shelling out to ffmpeg/ffprobe,
// decoding the clip into a stream of JPEG frames at a reduced rate.
package inference

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/nestwatch/nestwatch-go/internal/errors"
)

// FFmpegSampler samples clip frames via external ffmpeg and ffprobe binaries.
type FFmpegSampler struct {
	// FFmpegPath and FFprobePath default to the binaries on PATH.
	FFmpegPath  string
	FFprobePath string
	// FPS is the sampling rate in frames per second of clip time.
	FPS float64
}

func (s *FFmpegSampler) ffmpeg() string {
	if s.FFmpegPath != "" {
		return s.FFmpegPath
	}
	return "ffmpeg"
}

func (s *FFmpegSampler) ffprobe() string {
	if s.FFprobePath != "" {
		return s.FFprobePath
	}
	return "ffprobe"
}

func (s *FFmpegSampler) fps() float64 {
	if s.FPS > 0 {
		return s.FPS
	}
	return 1.0
}

// Info returns the clip duration via ffprobe. An unparseable container is
// corrupt media, terminal for the file.
func (s *FFmpegSampler) Info(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, s.ffprobe(),
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)

	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return 0, corruptMedia(path, fmt.Errorf("ffprobe: %w", err))
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(out.String()), 64)
	if err != nil {
		return 0, corruptMedia(path, fmt.Errorf("ffprobe duration %q: %w", out.String(), err))
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// SampleFrames decodes the clip into JPEG frames at the configured rate.
// Frames arrive on stdout as a concatenated MJPEG stream, split on the
// JPEG start/end markers.
func (s *FFmpegSampler) SampleFrames(ctx context.Context, path string) ([]Frame, error) {
	cmd := exec.CommandContext(ctx, s.ffmpeg(),
		"-hide_banner",
		"-loglevel", "error",
		"-i", path,
		"-vf", fmt.Sprintf("fps=%g", s.fps()),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "4",
		"-")

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, corruptMedia(path, fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String())))
	}

	interval := time.Duration(float64(time.Second) / s.fps())
	var frames []Frame
	for i, chunk := range splitJPEGs(out.Bytes()) {
		img, err := jpeg.Decode(bytes.NewReader(chunk))
		if err != nil {
			return nil, corruptMedia(path, fmt.Errorf("frame %d: %w", i, err))
		}
		frames = append(frames, Frame{
			Number:    i,
			Timestamp: time.Duration(i) * interval,
			Image:     img,
		})
	}
	return frames, nil
}

// splitJPEGs cuts a concatenated MJPEG byte stream into individual images
// on the FFD8/FFD9 start and end markers.
func splitJPEGs(data []byte) [][]byte {
	var chunks [][]byte
	start := -1
	for i := 0; i+1 < len(data); i++ {
		switch {
		case data[i] == 0xFF && data[i+1] == 0xD8 && start < 0:
			start = i
		case data[i] == 0xFF && data[i+1] == 0xD9 && start >= 0:
			chunks = append(chunks, data[start:i+2])
			start = -1
			i++
		}
	}
	return chunks
}

func corruptMedia(path string, err error) error {
	return errors.New(err).
		Category(errors.CategoryCorruptMedia).
		Context("path", path).
		Build()
}

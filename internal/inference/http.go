// http.go implements clients for remote inference services: frames are
// posted as JPEG and results come back as JSON. Retry policy lives in the
// orchestrator; these clients fail fast with an inference error.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"time"

	"github.com/nestwatch/nestwatch-go/internal/errors"
)

// RemoteDetector calls an object detection service.
type RemoteDetector struct {
	URL    string
	Client *http.Client
}

func (d *RemoteDetector) Detect(ctx context.Context, frame image.Image) ([]Detection, error) {
	var resp struct {
		Detections []Detection `json:"detections"`
	}
	if err := postImage(ctx, d.Client, d.URL, frame, &resp); err != nil {
		return nil, err
	}
	return resp.Detections, nil
}

// RemoteClassifier calls a species classification service.
type RemoteClassifier struct {
	URL    string
	Client *http.Client
}

func (c *RemoteClassifier) Classify(ctx context.Context, crop image.Image) (Classification, error) {
	var resp struct {
		ScientificName string  `json:"scientific_name"`
		Confidence     float64 `json:"confidence"`
	}
	if err := postImage(ctx, c.Client, c.URL, crop, &resp); err != nil {
		return Classification{}, err
	}
	return Classification{ScientificName: resp.ScientificName, Confidence: resp.Confidence}, nil
}

// RemoteFaceLocator calls a face localization service.
type RemoteFaceLocator struct {
	URL    string
	Client *http.Client
}

func (f *RemoteFaceLocator) LocateFace(ctx context.Context, crop image.Image) (*Box, error) {
	var resp struct {
		Box *Box `json:"box"`
	}
	if err := postImage(ctx, f.Client, f.URL, crop, &resp); err != nil {
		return nil, err
	}
	return resp.Box, nil
}

// NewHTTPClient returns the http.Client used by the remote inference
// clients, with a bounded overall timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func postImage(ctx context.Context, client *http.Client, url string, img image.Image, out any) error {
	if client == nil {
		client = NewHTTPClient(0)
	}

	var body bytes.Buffer
	if err := jpeg.Encode(&body, img, &jpeg.Options{Quality: 90}); err != nil {
		return inferenceError(url, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return inferenceError(url, err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := client.Do(req)
	if err != nil {
		return inferenceError(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return inferenceError(url, fmt.Errorf("unexpected status %s", resp.Status))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return inferenceError(url, err)
	}
	return nil
}

func inferenceError(url string, err error) error {
	return errors.New(err).
		Category(errors.CategoryInference).
		Context("url", url).
		Build()
}

package inference

import (
	"context"
	"image"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestwatch/nestwatch-go/internal/errors"
)

func setupHTTPMock(t *testing.T) *http.Client {
	t.Helper()
	client := NewHTTPClient(time.Second)
	httpmock.ActivateNonDefault(client)
	t.Cleanup(httpmock.DeactivateAndReset)
	return client
}

func testFrame() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 8, 8))
}

func TestRemoteDetector_Detect(t *testing.T) {
	client := setupHTTPMock(t)
	const url = "http://inference.local/detect"

	httpmock.RegisterResponder(http.MethodPost, url,
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "image/jpeg", req.Header.Get("Content-Type"))
			body, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			assert.NotEmpty(t, body)
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"detections": []map[string]any{
					{"box": map[string]int{"x1": 10, "y1": 20, "x2": 110, "y2": 220}, "confidence": 0.91},
					{"box": map[string]int{"x1": 5, "y1": 5, "x2": 30, "y2": 30}, "confidence": 0.42},
				},
			})
		})

	d := &RemoteDetector{URL: url, Client: client}
	detections, err := d.Detect(context.Background(), testFrame())
	require.NoError(t, err)
	require.Len(t, detections, 2)
	assert.Equal(t, Box{X1: 10, Y1: 20, X2: 110, Y2: 220}, detections[0].Box)
	assert.InDelta(t, 0.91, detections[0].Confidence, 1e-9)
}

func TestRemoteDetector_ErrorPaths(t *testing.T) {
	client := setupHTTPMock(t)
	const url = "http://inference.local/detect"
	d := &RemoteDetector{URL: url, Client: client}

	tests := []struct {
		name      string
		responder httpmock.Responder
	}{
		{"server error", httpmock.NewStringResponder(http.StatusInternalServerError, "boom")},
		{"not found", httpmock.NewStringResponder(http.StatusNotFound, "")},
		{"malformed body", httpmock.NewStringResponder(http.StatusOK, "{not json")},
		{"connection refused", httpmock.NewErrorResponder(io.ErrUnexpectedEOF)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpmock.Reset()
			httpmock.RegisterResponder(http.MethodPost, url, tt.responder)

			_, err := d.Detect(context.Background(), testFrame())
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryInference))
			assert.True(t, errors.IsRetryable(err), "service failures are transient, the caller retries")
		})
	}
}

func TestRemoteClassifier_Classify(t *testing.T) {
	client := setupHTTPMock(t)
	const url = "http://inference.local/classify"

	httpmock.RegisterResponder(http.MethodPost, url,
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{
			"scientific_name": "Parus major",
			"confidence":      0.93,
		}))

	c := &RemoteClassifier{URL: url, Client: client}
	got, err := c.Classify(context.Background(), testFrame())
	require.NoError(t, err)
	assert.Equal(t, "Parus major", got.ScientificName)
	assert.InDelta(t, 0.93, got.Confidence, 1e-9)

	httpmock.Reset()
	httpmock.RegisterResponder(http.MethodPost, url,
		httpmock.NewStringResponder(http.StatusBadGateway, ""))

	_, err = c.Classify(context.Background(), testFrame())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryInference))
}

func TestRemoteFaceLocator_LocateFace(t *testing.T) {
	client := setupHTTPMock(t)
	const url = "http://inference.local/face"
	f := &RemoteFaceLocator{URL: url, Client: client}

	httpmock.RegisterResponder(http.MethodPost, url,
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{
			"box": map[string]int{"x1": 40, "y1": 10, "x2": 80, "y2": 45},
		}))

	box, err := f.LocateFace(context.Background(), testFrame())
	require.NoError(t, err)
	require.NotNil(t, box)
	assert.Equal(t, Box{X1: 40, Y1: 10, X2: 80, Y2: 45}, *box)

	// A null box means the service looked and found no face.
	httpmock.Reset()
	httpmock.RegisterResponder(http.MethodPost, url,
		httpmock.NewStringResponder(http.StatusOK, `{"box": null}`))

	box, err = f.LocateFace(context.Background(), testFrame())
	require.NoError(t, err)
	assert.Nil(t, box)
}

// Package events defines the contract for the upstream motion-event source.
// The recorder's API client is an external collaborator; the pipeline only
// depends on event timestamps, identifiers and a resulting local clip path.
package events

import (
	"context"
	"time"
)

// Event is one motion event reported by the recorder.
type Event struct {
	ID       string    // source event identifier, stable across polls
	CameraID string    // originating camera
	Type     string    // event type, e.g. "motion"
	Start    time.Time // event start timestamp
	End      time.Time // event end timestamp, may equal Start when still open
}

// Duration returns the event's length, zero when the end is unset.
func (e Event) Duration() time.Duration {
	if e.End.Before(e.Start) {
		return 0
	}
	return e.End.Sub(e.Start)
}

// Source lists and downloads motion events. Implementations wrap the
// recorder's API; both calls are expected to be idempotent so replaying a
// poll window after a crash is safe.
type Source interface {
	// EventsSince returns events with a start timestamp strictly greater
	// than since, in ascending start order.
	EventsSince(ctx context.Context, since time.Time) ([]Event, error)
	// Download fetches the clip for an event and returns the local path.
	// Downloading an already-downloaded event returns the existing path.
	Download(ctx context.Context, event Event) (string, error)
}

// dirsource.go implements an event source backed by a local clip directory.
// Recorders that export finished clips over SMB or rsync drop files into a
// watched directory; each new file is treated as one motion event with the
// file's modification time as the event timestamp.
package events

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"
)

// clip extensions recognized by the directory source.
var clipExtensions = []string{".mp4", ".mkv", ".avi", ".mov"}

// DirectorySource lists clip files in a directory as motion events.
type DirectorySource struct {
	// Dir is the watched clip directory.
	Dir string
	// CameraID stamps every event, matching the camera filter.
	CameraID string
	// MinAge guards against reading files still being written; files
	// modified more recently than this are not reported yet.
	MinAge time.Duration
}

// EventsSince returns one event per clip file modified after since, in
// ascending modification order.
func (s *DirectorySource) EventsSince(_ context.Context, since time.Time) ([]Event, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-s.MinAge)
	var out []Event
	for _, entry := range entries {
		if entry.IsDir() || !slices.Contains(clipExtensions, strings.ToLower(filepath.Ext(entry.Name()))) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		mtime := info.ModTime()
		if !mtime.After(since) || mtime.After(cutoff) {
			continue
		}
		out = append(out, Event{
			ID:       entry.Name(),
			CameraID: s.CameraID,
			Type:     "motion",
			Start:    mtime,
			End:      mtime,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// Download resolves an event back to its clip path. The file is already
// local, so this is a pure lookup.
func (s *DirectorySource) Download(_ context.Context, event Event) (string, error) {
	path := filepath.Join(s.Dir, event.ID)
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

package events

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeClip(t *testing.T, dir, name string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("clip"), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestDirectorySource_EventsSince(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Now()
	writeClip(t, dir, "b.mp4", now.Add(-1*time.Minute))
	writeClip(t, dir, "a.mkv", now.Add(-2*time.Minute))
	writeClip(t, dir, "old.mp4", now.Add(-1*time.Hour))
	writeClip(t, dir, "notes.txt", now.Add(-1*time.Minute))
	writeClip(t, dir, "fresh.mp4", now)

	src := &DirectorySource{Dir: dir, CameraID: "cam-1", MinAge: 10 * time.Second}

	evts, err := src.EventsSince(context.Background(), now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, evts, 2)

	// ascending modification order, text files and settling clips excluded
	assert.Equal(t, "a.mkv", evts[0].ID)
	assert.Equal(t, "b.mp4", evts[1].ID)
	assert.Equal(t, "cam-1", evts[0].CameraID)
	assert.Equal(t, "motion", evts[0].Type)
	assert.Equal(t, evts[0].Start, evts[0].End)
}

func TestDirectorySource_Download(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeClip(t, dir, "clip.mp4", time.Now().Add(-time.Minute))

	src := &DirectorySource{Dir: dir}

	path, err := src.Download(context.Background(), Event{ID: "clip.mp4"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "clip.mp4"), path)

	_, err = src.Download(context.Background(), Event{ID: "missing.mp4"})
	assert.Error(t, err)
}

package datastore

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestwatch/nestwatch-go/internal/conf"
	"github.com/nestwatch/nestwatch-go/internal/errors"
)

// newTestStore opens a throwaway SQLite database with migrations applied.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "test.db")

	store := &SQLiteStore{Settings: settings}
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedFile(t *testing.T, store *SQLiteStore, path string) *File {
	t.Helper()

	file := &File{
		FilePath:      path,
		SourceEventID: "evt-" + path,
		EventStart:    time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
	}
	created, err := store.CreateFileIfNew(file)
	require.NoError(t, err)
	require.True(t, created)
	return file
}

func floatPtr(f float64) *float64 { return &f }
func uintPtr(u uint) *uint        { return &u }

func TestCreateFileIfNew_ReplayIsNoOp(t *testing.T) {
	store := newTestStore(t)

	first := &File{FilePath: "/clips/a.mp4", EventStart: time.Now().UTC()}
	created, err := store.CreateFileIfNew(first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, FileStatusPending, first.Status)

	second := &File{FilePath: "/clips/a.mp4", EventStart: time.Now().UTC()}
	created, err = store.CreateFileIfNew(second)
	require.NoError(t, err)
	assert.False(t, created, "replaying the same path must not create a row")

	files, err := store.ListFiles(0, 0)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestClaimFile(t *testing.T) {
	store := newTestStore(t)
	file := seedFile(t, store, "/clips/claim.mp4")

	require.NoError(t, store.ClaimFile(file.ID))

	got, err := store.GetFile(file.ID)
	require.NoError(t, err)
	assert.Equal(t, FileStatusProcessing, got.Status)
	require.NotNil(t, got.ClaimedAt)

	// A second claim loses the race.
	err = store.ClaimFile(file.ID)
	require.Error(t, err)
	assert.True(t, errors.IsClaimConflict(err))

	err = store.ClaimFile(99999)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestClaimFile_ExactlyOneWinner(t *testing.T) {
	store := newTestStore(t)
	file := seedFile(t, store, "/clips/contended.mp4")

	const workers = 8
	results := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = store.ClaimFile(file.ID)
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range results {
		if err == nil {
			won++
			continue
		}
		assert.True(t, errors.IsClaimConflict(err), "losers must see a claim conflict, got: %v", err)
	}
	assert.Equal(t, 1, won, "exactly one worker may claim a file")
}

func TestFileStatusTransitions(t *testing.T) {
	store := newTestStore(t)

	t.Run("success from processing", func(t *testing.T) {
		file := seedFile(t, store, "/clips/ok.mp4")
		require.NoError(t, store.ClaimFile(file.ID))
		require.NoError(t, store.MarkFileSuccess(file.ID, 42*time.Second))

		got, err := store.GetFile(file.ID)
		require.NoError(t, err)
		assert.Equal(t, FileStatusSuccess, got.Status)
		assert.InDelta(t, 42.0, got.DurationSeconds, 0.001)
	})

	t.Run("success from pending is a state error", func(t *testing.T) {
		file := seedFile(t, store, "/clips/not-claimed.mp4")
		err := store.MarkFileSuccess(file.ID, time.Second)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryState))
	})

	t.Run("failure records the message", func(t *testing.T) {
		file := seedFile(t, store, "/clips/bad.mp4")
		require.NoError(t, store.ClaimFile(file.ID))
		require.NoError(t, store.MarkFileFailed(file.ID, "decoder gave up"))

		got, err := store.GetFile(file.ID)
		require.NoError(t, err)
		assert.Equal(t, FileStatusFailed, got.Status)
		assert.Equal(t, "decoder gave up", got.ErrorMessage)
	})

	t.Run("requeue returns a stuck file to pending", func(t *testing.T) {
		file := seedFile(t, store, "/clips/stuck.mp4")
		require.NoError(t, store.ClaimFile(file.ID))
		require.NoError(t, store.RequeueFile(file.ID))

		got, err := store.GetFile(file.ID)
		require.NoError(t, err)
		assert.Equal(t, FileStatusPending, got.Status)
		assert.Nil(t, got.ClaimedAt)

		// Requeued files are claimable again.
		require.NoError(t, store.ClaimFile(file.ID))
	})
}

func TestPendingAndStaleFiles(t *testing.T) {
	store := newTestStore(t)

	a := seedFile(t, store, "/clips/p1.mp4")
	b := seedFile(t, store, "/clips/p2.mp4")
	seedFile(t, store, "/clips/p3.mp4")

	pending, err := store.PendingFiles(2)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	require.NoError(t, store.ClaimFile(a.ID))
	require.NoError(t, store.ClaimFile(b.ID))

	// Backdate one claim so it looks abandoned.
	old := time.Now().Add(-time.Hour)
	require.NoError(t, store.DB.Model(&File{}).Where("id = ?", a.ID).
		Update("claimed_at", old).Error)

	stale, err := store.StaleProcessingFiles(30 * time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, a.ID, stale[0].ID)
}

func TestMergeAndReprocess(t *testing.T) {
	store := newTestStore(t)
	source := seedFile(t, store, "/clips/dup.mp4")
	target := seedFile(t, store, "/clips/orig.mp4")

	require.NoError(t, store.SaveVisits(source.ID, []VisitRecord{{
		Visit:      Visit{SpeciesConfidence: 0.9},
		Detections: []Detection{{FrameNumber: 1, DetectionConfidence: 0.9}},
	}}))
	require.NoError(t, store.SaveVisits(target.ID, []VisitRecord{{
		Visit:      Visit{SpeciesConfidence: 0.95},
		Detections: []Detection{{FrameNumber: 1, DetectionConfidence: 0.95}},
	}}))

	require.NoError(t, store.MergeFile(source.ID, target.ID, floatPtr(0.93)))

	got, err := store.GetFile(source.ID)
	require.NoError(t, err)
	assert.Equal(t, FileStatusIgnored, got.Status)
	require.NotNil(t, got.DuplicateOfID)
	assert.Equal(t, target.ID, *got.DuplicateOfID)
	require.NotNil(t, got.OverlapScore)
	assert.InDelta(t, 0.93, *got.OverlapScore, 0.001)
	assert.NotNil(t, got.DuplicateCheckedAt)

	sourceVisits, err := store.VisitsForFile(source.ID)
	require.NoError(t, err)
	assert.Empty(t, sourceVisits, "merged file's visits are soft-deleted")

	targetVisits, err := store.VisitsForFile(target.ID)
	require.NoError(t, err)
	assert.Len(t, targetVisits, 1, "target's visits are untouched")

	// Reversal: back to pending with duplicate fields cleared, but the
	// soft-deleted visits stay gone. Reprocessing builds fresh ones.
	require.NoError(t, store.ReprocessFile(source.ID))
	got, err = store.GetFile(source.ID)
	require.NoError(t, err)
	assert.Equal(t, FileStatusPending, got.Status)
	assert.Nil(t, got.DuplicateOfID)
	assert.Nil(t, got.OverlapScore)
	assert.Nil(t, got.DuplicateCheckedAt)

	sourceVisits, err = store.VisitsForFile(source.ID)
	require.NoError(t, err)
	assert.Empty(t, sourceVisits)

	// Reprocess only applies to ignored files.
	err = store.ReprocessFile(source.ID)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
}

func TestMergeFile_ProcessingFileRejected(t *testing.T) {
	store := newTestStore(t)
	source := seedFile(t, store, "/clips/inflight.mp4")
	target := seedFile(t, store, "/clips/orig2.mp4")

	// A claimed file belongs to its worker until it reaches a terminal
	// status; merging it mid-flight would race the worker's visit writes.
	require.NoError(t, store.ClaimFile(source.ID))

	err := store.MergeFile(source.ID, target.ID, floatPtr(0.9))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))

	got, err := store.GetFile(source.ID)
	require.NoError(t, err)
	assert.Equal(t, FileStatusProcessing, got.Status)
	assert.Nil(t, got.DuplicateOfID)

	// The worker finishes normally and its visits survive; only then does
	// the merge apply and soft-delete them.
	require.NoError(t, store.SaveVisits(source.ID, []VisitRecord{{
		Visit:      Visit{SpeciesConfidence: 0.9},
		Detections: []Detection{{FrameNumber: 1, DetectionConfidence: 0.9}},
	}}))
	require.NoError(t, store.MarkFileSuccess(source.ID, 30*time.Second))

	visits, err := store.VisitsForFile(source.ID)
	require.NoError(t, err)
	assert.Len(t, visits, 1)

	require.NoError(t, store.MergeFile(source.ID, target.ID, floatPtr(0.9)))
	visits, err = store.VisitsForFile(source.ID)
	require.NoError(t, err)
	assert.Empty(t, visits)
}

func TestMergeFile_SelfMergeRejected(t *testing.T) {
	store := newTestStore(t)
	file := seedFile(t, store, "/clips/self.mp4")

	err := store.MergeFile(file.ID, file.ID, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestRecentFilesAround(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	mkFile := func(offset time.Duration, hashes string) *File {
		file := &File{
			FilePath:    fmt.Sprintf("/clips/t%d.mp4", int(offset.Seconds())),
			EventStart:  base.Add(offset),
			FrameHashes: hashes,
		}
		created, err := store.CreateFileIfNew(file)
		require.NoError(t, err)
		require.True(t, created)
		return file
	}

	subject := mkFile(0, "deadbeef")
	near := mkFile(2*time.Minute, "cafebabe")
	mkFile(2*time.Minute+time.Second, "") // no hashes, not comparable
	mkFile(30*time.Minute, "feedface")    // outside window

	candidates, err := store.RecentFilesAround(subject.EventStart, subject.EventStart, 10*time.Minute, subject.ID)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, near.ID, candidates[0].ID)
}

func TestSyncCursor(t *testing.T) {
	store := newTestStore(t)
	const source = "nvr"

	since, err := store.GetSyncCursor(source)
	require.NoError(t, err)
	assert.True(t, since.IsZero(), "missing cursor reads as the zero time")

	t1 := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.AdvanceSyncCursor(source, t1))

	since, err = store.GetSyncCursor(source)
	require.NoError(t, err)
	assert.True(t, since.Equal(t1))

	// Regression is rejected and the stored value is unchanged.
	err = store.AdvanceSyncCursor(source, t1.Add(-time.Hour))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCursor))

	since, err = store.GetSyncCursor(source)
	require.NoError(t, err)
	assert.True(t, since.Equal(t1))

	// Replaying the same timestamp is a no-op.
	require.NoError(t, store.AdvanceSyncCursor(source, t1))

	t2 := t1.Add(time.Minute)
	require.NoError(t, store.AdvanceSyncCursor(source, t2))
	since, err = store.GetSyncCursor(source)
	require.NoError(t, err)
	assert.True(t, since.Equal(t2))
}

func TestGetOrCreateTaxon(t *testing.T) {
	store := newTestStore(t)

	first, err := store.GetOrCreateTaxon("Parus major")
	require.NoError(t, err)
	require.NotZero(t, first.ID)

	second, err := store.GetOrCreateTaxon("Parus major")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	other, err := store.GetOrCreateTaxon("Cyanistes caeruleus")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	_, err = store.GetOrCreateTaxon("")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	got, err := store.GetTaxon(first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Parus major", got.ScientificName)

	_, err = store.GetTaxon(99999)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestTaskRuns(t *testing.T) {
	store := newTestStore(t)

	run, err := store.StartTaskRun("sync")
	require.NoError(t, err)
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, TaskStatusRunning, run.Status)
	assert.NotEmpty(t, run.Hostname)
	assert.NotZero(t, run.PID)

	require.NoError(t, store.CompleteTaskRun(run.RunID, 5, 1, ""))

	var got TaskRun
	require.NoError(t, store.DB.Where("run_id = ?", run.RunID).First(&got).Error)
	assert.Equal(t, TaskStatusSuccess, got.Status)
	assert.Equal(t, 5, got.ItemsProcessed)
	assert.Equal(t, 1, got.ItemsFailed)
	assert.NotNil(t, got.CompletedAt)

	// Completing twice is a state error.
	err = store.CompleteTaskRun(run.RunID, 5, 1, "")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))

	// An error message makes the run failed.
	failing, err := store.StartTaskRun("process")
	require.NoError(t, err)
	require.NoError(t, store.CompleteTaskRun(failing.RunID, 0, 3, "source unreachable"))
	got = TaskRun{}
	require.NoError(t, store.DB.Where("run_id = ?", failing.RunID).First(&got).Error)
	assert.Equal(t, TaskStatusFailed, got.Status)
	assert.Equal(t, "source unreachable", got.ErrorMessage)
}

func TestCleanupStaleTaskRuns(t *testing.T) {
	store := newTestStore(t)

	mine, err := store.StartTaskRun("sync")
	require.NoError(t, err)

	// A running row from a process that no longer exists.
	stale := TaskRun{
		RunID:     "dead-run",
		TaskType:  "process",
		Status:    TaskStatusRunning,
		Hostname:  "other-host",
		PID:       424242,
		StartedAt: time.Now().Add(-2 * time.Hour),
	}
	require.NoError(t, store.DB.Create(&stale).Error)

	cleaned, err := store.CleanupStaleTaskRuns()
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned)

	var got TaskRun
	require.NoError(t, store.DB.Where("run_id = ?", "dead-run").First(&got).Error)
	assert.Equal(t, TaskStatusFailed, got.Status)
	assert.NotNil(t, got.CompletedAt)

	// Our own run survives.
	got = TaskRun{}
	require.NoError(t, store.DB.Where("run_id = ?", mine.RunID).First(&got).Error)
	assert.Equal(t, TaskStatusRunning, got.Status)
}

// taskruns.go tracks pipeline run bookkeeping so operators can see what
// ran, when, and whether a previous process died mid-run.
package datastore

import (
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nestwatch/nestwatch-go/internal/errors"
)

// StartTaskRun records the start of a pipeline task of the given type and
// returns the created row. The run is stamped with this process's hostname
// and pid so stale rows left by a crashed process can be identified.
func (ds *DataStore) StartTaskRun(taskType string) (*TaskRun, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	run := TaskRun{
		RunID:     uuid.NewString(),
		TaskType:  taskType,
		Status:    TaskStatusRunning,
		Hostname:  hostname,
		PID:       os.Getpid(),
		StartedAt: time.Now(),
	}
	if err := ds.DB.Create(&run).Error; err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryDatabase).
			Context("task_type", taskType).
			Build()
	}
	return &run, nil
}

// CompleteTaskRun finishes a running task with its item counters. The run
// is marked failed when an error message is present, success otherwise.
// Completing a run that is not running is a state error.
func (ds *DataStore) CompleteTaskRun(runID string, itemsProcessed, itemsFailed int, errMessage string) error {
	status := TaskStatusSuccess
	if errMessage != "" {
		status = TaskStatusFailed
	}

	now := time.Now()
	result := ds.DB.Model(&TaskRun{}).
		Where("run_id = ? AND status = ?", runID, TaskStatusRunning).
		Updates(map[string]any{
			"status":          status,
			"items_processed": itemsProcessed,
			"items_failed":    itemsFailed,
			"error_message":   errMessage,
			"completed_at":    &now,
		})
	if result.Error != nil {
		return errors.New(result.Error).
			Category(errors.CategoryDatabase).
			Context("run_id", runID).
			Build()
	}
	if result.RowsAffected == 0 {
		return errors.Newf("task run %s is not running", runID).
			Category(errors.CategoryState).
			Build()
	}
	return nil
}

// CleanupStaleTaskRuns marks running rows that belong to a different
// process as failed. Called on startup, before new runs begin, so a crash
// never leaves a run stuck in the running state forever. Returns the
// number of rows cleaned up.
func (ds *DataStore) CleanupStaleTaskRuns() (int, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	now := time.Now()
	var cleaned int64
	err = ds.DB.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&TaskRun{}).
			Where("status = ? AND NOT (hostname = ? AND p_id = ?)",
				TaskStatusRunning, hostname, os.Getpid()).
			Updates(map[string]any{
				"status":        TaskStatusFailed,
				"error_message": "abandoned by previous process",
				"completed_at":  &now,
			})
		if result.Error != nil {
			return result.Error
		}
		cleaned = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	if cleaned > 0 {
		logger().Warn("cleaned up stale task runs", "count", cleaned)
	}
	return int(cleaned), nil
}

// files.go implements the file lifecycle state machine over the files table.
package datastore

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nestwatch/nestwatch-go/internal/errors"
)

// CreateFileIfNew inserts a file row unless one with the same path already
// exists. Path uniqueness is what makes event replay idempotent: re-ingesting
// an already-seen event is a no-op. Returns true when a row was created.
func (ds *DataStore) CreateFileIfNew(file *File) (bool, error) {
	if file.Status == "" {
		file.Status = FileStatusPending
	}

	result := ds.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "file_path"}},
		DoNothing: true,
	}).Create(file)

	if result.Error != nil {
		return false, errors.New(result.Error).
			Category(errors.CategoryDatabase).
			Context("operation", "create_file").
			FileContext(file.FilePath, 0).
			Build()
	}
	return result.RowsAffected > 0, nil
}

// GetFile retrieves a file by its ID.
func (ds *DataStore) GetFile(id uint) (*File, error) {
	var file File
	if err := ds.DB.First(&file, id).Error; err != nil {
		return nil, fileLookupError(err, id)
	}
	return &file, nil
}

// GetFileByPath retrieves a file by its unique path.
func (ds *DataStore) GetFileByPath(path string) (*File, error) {
	var file File
	if err := ds.DB.Where("file_path = ?", path).First(&file).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Newf("file %s not found", path).
				Category(errors.CategoryNotFound).
				Build()
		}
		return nil, errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	return &file, nil
}

// ClaimFile atomically transitions a file from pending to processing. The
// conditional UPDATE is the sole mutual-exclusion mechanism between workers:
// exactly one concurrent caller observes a row change, everyone else gets a
// claim-conflict error and backs off.
func (ds *DataStore) ClaimFile(id uint) error {
	now := time.Now()
	result := ds.DB.Model(&File{}).
		Where("id = ? AND status = ?", id, FileStatusPending).
		Updates(map[string]any{
			"status":        FileStatusProcessing,
			"claimed_at":    now,
			"error_message": "",
		})

	if result.Error != nil {
		return errors.New(result.Error).
			Category(errors.CategoryDatabase).
			Context("operation", "claim_file").
			Context("file_id", id).
			Build()
	}

	if result.RowsAffected == 0 {
		// Distinguish a lost race from a missing row.
		var count int64
		if err := ds.DB.Model(&File{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return errors.New(err).Category(errors.CategoryDatabase).Build()
		}
		if count == 0 {
			return errors.Newf("file %d not found", id).
				Category(errors.CategoryNotFound).
				Build()
		}
		return errors.Newf("file %d is not pending", id).
			Category(errors.CategoryClaimConflict).
			Context("file_id", id).
			Build()
	}
	return nil
}

// MarkFileSuccess transitions a processing file to success. A file with zero
// visits still ends here: absence of a bird is a valid, successful result.
func (ds *DataStore) MarkFileSuccess(id uint, duration time.Duration) error {
	return ds.transitionFile(id, FileStatusProcessing, map[string]any{
		"status":           FileStatusSuccess,
		"duration_seconds": duration.Seconds(),
		"error_message":    "",
	})
}

// MarkFileFailed transitions a processing file to failed with the error recorded.
func (ds *DataStore) MarkFileFailed(id uint, message string) error {
	return ds.transitionFile(id, FileStatusProcessing, map[string]any{
		"status":        FileStatusFailed,
		"error_message": message,
	})
}

// RequeueFile forces a stuck processing file back to pending. This is the
// primitive a timeout-based reconciliation policy builds on; the policy
// itself lives outside the core.
func (ds *DataStore) RequeueFile(id uint) error {
	return ds.transitionFile(id, FileStatusProcessing, map[string]any{
		"status":     FileStatusPending,
		"claimed_at": nil,
	})
}

// transitionFile performs a guarded status transition, failing with a state
// error when the file is not in the expected source status.
func (ds *DataStore) transitionFile(id uint, fromStatus string, updates map[string]any) error {
	result := ds.DB.Model(&File{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return errors.New(result.Error).
			Category(errors.CategoryDatabase).
			Context("file_id", id).
			Build()
	}
	if result.RowsAffected == 0 {
		return errors.Newf("file %d is not in status %q", id, fromStatus).
			Category(errors.CategoryState).
			Context("file_id", id).
			Context("expected_status", fromStatus).
			Build()
	}
	return nil
}

// MergeFile marks the source file as a duplicate of the target: the source
// becomes ignored with duplicate bookkeeping recorded and its visits are
// soft-deleted. The clip and file row are preserved so the merge is
// reversible via ReprocessFile.
func (ds *DataStore) MergeFile(sourceID, targetID uint, overlapScore *float64) error {
	if sourceID == targetID {
		return errors.Newf("cannot merge file %d into itself", sourceID).
			Category(errors.CategoryValidation).
			Build()
	}

	return ds.DB.Transaction(func(tx *gorm.DB) error {
		var source, target File
		if err := tx.First(&source, sourceID).Error; err != nil {
			return fileLookupError(err, sourceID)
		}
		if err := tx.First(&target, targetID).Error; err != nil {
			return fileLookupError(err, targetID)
		}

		now := time.Now()
		updates := map[string]any{
			"status":               FileStatusIgnored,
			"duplicate_of_id":      targetID,
			"duplicate_checked_at": now,
		}
		if overlapScore != nil {
			updates["overlap_score"] = *overlapScore
		}

		// A processing file belongs to its claiming worker; merging it here
		// would race the worker's own visit writes. The conditional UPDATE
		// makes the guard atomic even against a claim after the read above.
		mergeable := []string{FileStatusPending, FileStatusFailed, FileStatusSuccess}
		result := tx.Model(&File{}).
			Where("id = ? AND status IN ?", sourceID, mergeable).
			Updates(updates)
		if result.Error != nil {
			return errors.New(result.Error).
				Category(errors.CategoryDatabase).
				Context("operation", "merge_file").
				Build()
		}
		if result.RowsAffected == 0 {
			return errors.Newf("file %d is %s and cannot be merged", sourceID, source.Status).
				Category(errors.CategoryState).
				Context("file_id", sourceID).
				Build()
		}

		// Soft-delete exactly this file's visits; the target's are untouched.
		if err := tx.Where("file_id = ?", sourceID).Delete(&Visit{}).Error; err != nil {
			return errors.New(err).
				Category(errors.CategoryDatabase).
				Context("operation", "merge_soft_delete_visits").
				Build()
		}

		logger().Info("file merged",
			"source_file_id", sourceID,
			"target_file_id", targetID)
		return nil
	})
}

// ReprocessFile reverses a merge: the file returns to pending with its
// duplicate fields cleared. Previously soft-deleted visits stay deleted;
// reprocessing builds fresh ones.
func (ds *DataStore) ReprocessFile(id uint) error {
	result := ds.DB.Model(&File{}).
		Where("id = ? AND status = ?", id, FileStatusIgnored).
		Updates(map[string]any{
			"status":               FileStatusPending,
			"duplicate_of_id":      nil,
			"overlap_score":        nil,
			"duplicate_checked_at": nil,
		})

	if result.Error != nil {
		return errors.New(result.Error).
			Category(errors.CategoryDatabase).
			Context("file_id", id).
			Build()
	}
	if result.RowsAffected == 0 {
		return errors.Newf("file %d is not ignored", id).
			Category(errors.CategoryState).
			Context("file_id", id).
			Build()
	}
	return nil
}

// PendingFiles returns up to limit pending files in ingestion order.
func (ds *DataStore) PendingFiles(limit int) ([]File, error) {
	var files []File
	query := ds.DB.Where("status = ?", FileStatusPending).Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&files).Error; err != nil {
		return nil, errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	return files, nil
}

// StaleProcessingFiles returns files claimed longer than olderThan ago.
// Feed these to RequeueFile from a reconciliation pass.
func (ds *DataStore) StaleProcessingFiles(olderThan time.Duration) ([]File, error) {
	cutoff := time.Now().Add(-olderThan)
	var files []File
	err := ds.DB.Where("status = ? AND claimed_at < ?", FileStatusProcessing, cutoff).
		Order("claimed_at ASC").
		Find(&files).Error
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	return files, nil
}

// ListFiles returns files in reverse event order for browsing.
func (ds *DataStore) ListFiles(limit, offset int) ([]File, error) {
	var files []File
	query := ds.DB.Order("event_start DESC").Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&files).Error; err != nil {
		return nil, errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	return files, nil
}

// SetFrameHashes stores the serialized perceptual hash sequence for a file.
func (ds *DataStore) SetFrameHashes(id uint, encoded string) error {
	result := ds.DB.Model(&File{}).Where("id = ?", id).Update("frame_hashes", encoded)
	if result.Error != nil {
		return errors.New(result.Error).Category(errors.CategoryDatabase).Build()
	}
	if result.RowsAffected == 0 {
		return errors.Newf("file %d not found", id).Category(errors.CategoryNotFound).Build()
	}
	return nil
}

// RecordDuplicateCheck stamps the advisory overlap score and check time
// without changing the file's status. A nil score records a check that found
// no candidate above threshold.
func (ds *DataStore) RecordDuplicateCheck(id uint, score *float64) error {
	updates := map[string]any{"duplicate_checked_at": time.Now()}
	if score != nil {
		updates["overlap_score"] = *score
	}
	result := ds.DB.Model(&File{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return errors.New(result.Error).Category(errors.CategoryDatabase).Build()
	}
	if result.RowsAffected == 0 {
		return errors.Newf("file %d not found", id).Category(errors.CategoryNotFound).Build()
	}
	return nil
}

// RecentFilesAround returns candidate files for duplicate comparison: files
// other than excludeID whose event start falls within window of the
// [start, end] event interval and which carry frame hashes. The snapshot may
// race with concurrent ingestion, which is acceptable for an advisory check.
func (ds *DataStore) RecentFilesAround(start, end time.Time, window time.Duration, excludeID uint) ([]File, error) {
	var files []File
	err := ds.DB.
		Where("id != ?", excludeID).
		Where("frame_hashes != ''").
		Where("event_start BETWEEN ? AND ?", start.Add(-window), end.Add(window)).
		Order("event_start DESC").
		Find(&files).Error
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	return files, nil
}

func fileLookupError(err error, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Newf("file %d not found", id).
			Category(errors.CategoryNotFound).
			Build()
	}
	return errors.New(err).Category(errors.CategoryDatabase).Build()
}

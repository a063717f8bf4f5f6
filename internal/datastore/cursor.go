// cursor.go implements the per-source incremental sync watermark.
package datastore

import (
	"time"

	"gorm.io/gorm"

	"github.com/nestwatch/nestwatch-go/internal/errors"
)

// GetSyncCursor returns the last successfully processed event timestamp for
// a source type. The zero time means no sync has completed yet.
func (ds *DataStore) GetSyncCursor(sourceType string) (time.Time, error) {
	var cursor SyncCursor
	err := ds.DB.Where("source_type = ?", sourceType).First(&cursor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, errors.New(err).
			Category(errors.CategoryDatabase).
			Context("source_type", sourceType).
			Build()
	}
	return cursor.LastEventAt, nil
}

// AdvanceSyncCursor moves the cursor forward to eventTime. Advancement is
// monotonic: an attempt to move backwards is rejected with a cursor error
// and the stored value is left unchanged. Advancing to the current value is
// a no-op, which makes replays idempotent.
func (ds *DataStore) AdvanceSyncCursor(sourceType string, eventTime time.Time) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		var cursor SyncCursor
		err := tx.Where("source_type = ?", sourceType).First(&cursor).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			cursor = SyncCursor{SourceType: sourceType, LastEventAt: eventTime}
			if err := tx.Create(&cursor).Error; err != nil {
				return errors.New(err).
					Category(errors.CategoryDatabase).
					Context("source_type", sourceType).
					Build()
			}
			return nil
		case err != nil:
			return errors.New(err).Category(errors.CategoryDatabase).Build()
		}

		if eventTime.Before(cursor.LastEventAt) {
			logger().Warn("rejected sync cursor regression",
				"source_type", sourceType,
				"current", cursor.LastEventAt,
				"attempted", eventTime)
			return errors.Newf("cursor regression for %s: %v is before %v",
				sourceType, eventTime, cursor.LastEventAt).
				Category(errors.CategoryCursor).
				Build()
		}
		if eventTime.Equal(cursor.LastEventAt) {
			return nil
		}

		return tx.Model(&SyncCursor{}).
			Where("source_type = ?", sourceType).
			Update("last_event_at", eventTime).Error
	})
}

// annotations.go implements the face-annotation workflow over detections.
package datastore

import (
	"time"

	"gorm.io/gorm"

	"github.com/nestwatch/nestwatch-go/internal/errors"
	"github.com/nestwatch/nestwatch-go/internal/inference"
)

// DetectionsNeedingAnnotation returns up to limit detections with no
// annotation yet, oldest first. This is the labeling queue query.
func (ds *DataStore) DetectionsNeedingAnnotation(limit int) ([]Detection, error) {
	var detections []Detection
	query := ds.DB.Where("annotation_source IS NULL").Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&detections).Error; err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryDatabase).
			Context("operation", "annotation_queue").
			Build()
	}
	return detections, nil
}

// ApplyMachineAnnotation stores a machine-proposed face box on a detection
// that has no annotation yet. Returns false without error when the detection
// was already annotated, so batch proposers are idempotent.
func (ds *DataStore) ApplyMachineAnnotation(detectionID uint, box inference.Box) (bool, error) {
	result := ds.DB.Model(&Detection{}).
		Where("id = ? AND annotation_source IS NULL", detectionID).
		Updates(map[string]any{
			"face_x1":           box.X1,
			"face_y1":           box.Y1,
			"face_x2":           box.X2,
			"face_y2":           box.Y2,
			"annotation_source": AnnotationSourceMachine,
			"annotated_at":      time.Now(),
		})
	if result.Error != nil {
		return false, errors.New(result.Error).
			Category(errors.CategoryDatabase).
			Context("detection_id", detectionID).
			Build()
	}
	return result.RowsAffected > 0, nil
}

// ApplyAnnotation records a human annotation. human_corrected requires a
// box; no_face clears any stored box; human_confirmed keeps the existing
// proposal. A fresh annotated_at is always stamped, so re-annotation
// overwrites state but never silently clears the timestamp.
func (ds *DataStore) ApplyAnnotation(detectionID uint, source string, box *inference.Box) error {
	updates := map[string]any{
		"annotation_source": source,
		"annotated_at":      time.Now(),
	}

	switch source {
	case AnnotationSourceConfirmed:
		// keep the proposed box
	case AnnotationSourceCorrected:
		if box == nil {
			return errors.Newf("corrected annotation requires a face box").
				Category(errors.CategoryValidation).
				Build()
		}
		updates["face_x1"] = box.X1
		updates["face_y1"] = box.Y1
		updates["face_x2"] = box.X2
		updates["face_y2"] = box.Y2
	case AnnotationSourceNoFace:
		updates["face_x1"] = nil
		updates["face_y1"] = nil
		updates["face_x2"] = nil
		updates["face_y2"] = nil
	default:
		return errors.Newf("invalid annotation source %q", source).
			Category(errors.CategoryValidation).
			Build()
	}

	result := ds.DB.Model(&Detection{}).Where("id = ?", detectionID).Updates(updates)
	if result.Error != nil {
		return errors.New(result.Error).
			Category(errors.CategoryDatabase).
			Context("detection_id", detectionID).
			Build()
	}
	if result.RowsAffected == 0 {
		return errors.Newf("detection %d not found", detectionID).
			Category(errors.CategoryNotFound).
			Build()
	}
	return nil
}

// MarkDetectionsReviewed stamps reviewed_at on a batch. Reviewing is
// separate from annotating: it records that a human looked at the
// proposals, whether or not any label changed.
func (ds *DataStore) MarkDetectionsReviewed(ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Detection{}).
			Where("id IN ?", ids).
			Update("reviewed_at", time.Now())
		if result.Error != nil {
			return errors.New(result.Error).
				Category(errors.CategoryDatabase).
				Context("operation", "mark_reviewed").
				Build()
		}
		return nil
	})
}

// visits.go implements visit/detection persistence and the reviewer mutations.
package datastore

import (
	"sort"

	"gorm.io/gorm"

	"github.com/nestwatch/nestwatch-go/internal/errors"
)

// VisitRecord is one assembled visit plus its detections, ready to be
// committed in a single transaction.
type VisitRecord struct {
	Visit      Visit
	Detections []Detection
	// BestIndex points into Detections at the highest-confidence detection.
	// It becomes both best_detection_id and the initial cover_detection_id.
	BestIndex int
}

// SegmentSpec describes one time window of a visit split.
type SegmentSpec struct {
	Start   float64 // seconds from clip start
	End     float64
	TaxonID *uint // species assigned to the segment by the reviewer
}

// SaveVisits durably commits all visits and detections for one file as a
// single transaction. Detections are written in increasing frame-number
// order so segment boundaries are deterministic.
func (ds *DataStore) SaveVisits(fileID uint, records []VisitRecord) error {
	if len(records) == 0 {
		return nil
	}

	return ds.DB.Transaction(func(tx *gorm.DB) error {
		for i := range records {
			rec := &records[i]
			rec.Visit.FileID = fileID
			rec.Visit.DetectionCount = len(rec.Detections)

			if err := tx.Create(&rec.Visit).Error; err != nil {
				return errors.New(err).
					Category(errors.CategoryDatabase).
					Context("operation", "save_visit").
					Context("file_id", fileID).
					Build()
			}

			for j := range rec.Detections {
				rec.Detections[j].VisitID = rec.Visit.ID
			}
			if len(rec.Detections) > 0 {
				if err := tx.Create(&rec.Detections).Error; err != nil {
					return errors.New(err).
						Category(errors.CategoryDatabase).
						Context("operation", "save_detections").
						Context("visit_id", rec.Visit.ID).
						Build()
				}

				if rec.BestIndex < 0 || rec.BestIndex >= len(rec.Detections) {
					return errors.Newf("best detection index %d out of range for %d detections",
						rec.BestIndex, len(rec.Detections)).
						Category(errors.CategoryValidation).
						Build()
				}
				bestID := rec.Detections[rec.BestIndex].ID
				err := tx.Model(&Visit{}).Where("id = ?", rec.Visit.ID).Updates(map[string]any{
					"best_detection_id":  bestID,
					"cover_detection_id": bestID,
				}).Error
				if err != nil {
					return errors.New(err).Category(errors.CategoryDatabase).Build()
				}
				rec.Visit.BestDetectionID = &bestID
				rec.Visit.CoverDetectionID = &bestID
			}
		}
		return nil
	})
}

// GetVisit retrieves a non-deleted visit by ID.
func (ds *DataStore) GetVisit(id uint) (*Visit, error) {
	var visit Visit
	if err := ds.DB.First(&visit, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Newf("visit %d not found", id).
				Category(errors.CategoryNotFound).
				Build()
		}
		return nil, errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	return &visit, nil
}

// VisitsForFile returns the non-deleted visits of a file ordered by segment
// start, whole-file visits first.
func (ds *DataStore) VisitsForFile(fileID uint) ([]Visit, error) {
	var visits []Visit
	err := ds.DB.Where("file_id = ?", fileID).
		Order("segment_start ASC").
		Find(&visits).Error
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	return visits, nil
}

// DetectionsForVisit returns a visit's detections in frame order.
func (ds *DataStore) DetectionsForVisit(visitID uint) ([]Detection, error) {
	var detections []Detection
	err := ds.DB.Where("visit_id = ?", visitID).
		Order("frame_number ASC").
		Find(&detections).Error
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	return detections, nil
}

// SetVisitOverride records or clears a reviewer's species correction.
func (ds *DataStore) SetVisitOverride(visitID uint, taxonID *uint) error {
	result := ds.DB.Model(&Visit{}).Where("id = ?", visitID).
		Update("override_taxon_id", taxonID)
	if result.Error != nil {
		return errors.New(result.Error).Category(errors.CategoryDatabase).Build()
	}
	if result.RowsAffected == 0 {
		return errors.Newf("visit %d not found", visitID).
			Category(errors.CategoryNotFound).
			Build()
	}
	return nil
}

// SetVisitCover reassigns the visit's display detection. The detection must
// belong to the visit.
func (ds *DataStore) SetVisitCover(visitID, detectionID uint) error {
	var count int64
	err := ds.DB.Model(&Detection{}).
		Where("id = ? AND visit_id = ?", detectionID, visitID).
		Count(&count).Error
	if err != nil {
		return errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	if count == 0 {
		return errors.Newf("detection %d does not belong to visit %d", detectionID, visitID).
			Category(errors.CategoryNotFound).
			Build()
	}

	return ds.DB.Model(&Visit{}).Where("id = ?", visitID).
		Update("cover_detection_id", detectionID).Error
}

// SplitVisit splits a whole-file visit into two or more time segments, each
// optionally reassigned to a different species. The original visit is
// soft-deleted and linked from the segments via parent_visit_id; its
// detections are re-parented to the segment covering their frame timestamp.
func (ds *DataStore) SplitVisit(visitID uint, segments []SegmentSpec) ([]Visit, error) {
	if err := validateSegments(segments); err != nil {
		return nil, err
	}

	var created []Visit
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		var original Visit
		if err := tx.First(&original, visitID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.Newf("visit %d not found", visitID).
					Category(errors.CategoryNotFound).
					Build()
			}
			return errors.New(err).Category(errors.CategoryDatabase).Build()
		}
		if original.Segmented() {
			return errors.Newf("visit %d is already a segment", visitID).
				Category(errors.CategoryState).
				Build()
		}

		var detections []Detection
		if err := tx.Where("visit_id = ?", visitID).
			Order("frame_number ASC").
			Find(&detections).Error; err != nil {
			return errors.New(err).Category(errors.CategoryDatabase).Build()
		}

		for _, seg := range segments {
			start, end := seg.Start, seg.End
			visit := Visit{
				FileID:            original.FileID,
				TaxonID:           seg.TaxonID,
				SpeciesModel:      original.SpeciesModel,
				SpeciesConfidence: original.SpeciesConfidence,
				SegmentStart:      &start,
				SegmentEnd:        &end,
				ParentVisitID:     &original.ID,
			}
			if err := tx.Create(&visit).Error; err != nil {
				return errors.New(err).Category(errors.CategoryDatabase).Build()
			}

			// Re-parent the detections falling inside this window.
			var memberIDs []uint
			var best *Detection
			for i := range detections {
				d := &detections[i]
				if d.FrameTimestamp < start || d.FrameTimestamp > end {
					continue
				}
				memberIDs = append(memberIDs, d.ID)
				if best == nil || d.DetectionConfidence > best.DetectionConfidence {
					best = d
				}
			}
			if len(memberIDs) > 0 {
				if err := tx.Model(&Detection{}).
					Where("id IN ?", memberIDs).
					Update("visit_id", visit.ID).Error; err != nil {
					return errors.New(err).Category(errors.CategoryDatabase).Build()
				}
				updates := map[string]any{
					"detection_count":    len(memberIDs),
					"best_detection_id":  best.ID,
					"cover_detection_id": best.ID,
				}
				if err := tx.Model(&Visit{}).Where("id = ?", visit.ID).
					Updates(updates).Error; err != nil {
					return errors.New(err).Category(errors.CategoryDatabase).Build()
				}
				visit.DetectionCount = len(memberIDs)
				visit.BestDetectionID = &best.ID
				visit.CoverDetectionID = &best.ID

				// Remove re-parented detections from later segments' view.
				remaining := detections[:0]
				for i := range detections {
					assigned := false
					for _, id := range memberIDs {
						if detections[i].ID == id {
							assigned = true
							break
						}
					}
					if !assigned {
						remaining = append(remaining, detections[i])
					}
				}
				detections = remaining
			}
			created = append(created, visit)
		}

		// Archive the original; detections outside every segment stay with it.
		if err := tx.Delete(&Visit{}, original.ID).Error; err != nil {
			return errors.New(err).Category(errors.CategoryDatabase).Build()
		}

		logger().Info("visit split",
			"visit_id", visitID,
			"segments", len(segments))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func validateSegments(segments []SegmentSpec) error {
	if len(segments) < 2 {
		return errors.Newf("split requires at least 2 segments, got %d", len(segments)).
			Category(errors.CategoryValidation).
			Build()
	}
	for _, seg := range segments {
		if seg.Start < 0 || seg.End < 0 {
			return errors.Newf("segment times must not be negative").
				Category(errors.CategoryValidation).
				Build()
		}
		if seg.Start >= seg.End {
			return errors.Newf("invalid time range [%v, %v]", seg.Start, seg.End).
				Category(errors.CategoryValidation).
				Build()
		}
	}

	ordered := make([]SegmentSpec, len(segments))
	copy(ordered, segments)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Start < ordered[i-1].End {
			return errors.Newf("segments [%v, %v] and [%v, %v] overlap",
				ordered[i-1].Start, ordered[i-1].End, ordered[i].Start, ordered[i].End).
				Category(errors.CategoryValidation).
				Build()
		}
	}
	return nil
}

// model.go defines the data model for the file-to-visit pipeline
package datastore

import (
	"time"

	"gorm.io/gorm"
)

// File lifecycle states. A file moves pending -> processing -> success|failed,
// may be parked as ignored by a merge, and returns to pending on reprocess.
const (
	FileStatusPending    = "pending"
	FileStatusProcessing = "processing"
	FileStatusSuccess    = "success"
	FileStatusFailed     = "failed"
	FileStatusIgnored    = "ignored"
)

// Annotation sources for the face-region workflow. A null source means the
// detection still needs annotation.
const (
	AnnotationSourceMachine   = "machine"
	AnnotationSourceConfirmed = "human_confirmed"
	AnnotationSourceCorrected = "human_corrected"
	AnnotationSourceNoFace    = "no_face"
)

// Task run states.
const (
	TaskStatusRunning = "running"
	TaskStatusSuccess = "success"
	TaskStatusFailed  = "failed"
)

// File represents one physically downloaded clip.
type File struct {
	ID              uint       `gorm:"primaryKey"`
	FilePath        string     `gorm:"uniqueIndex;not null"`
	FileHash        string     `gorm:"index:idx_files_hash"`
	SourceEventID   string     `gorm:"index:idx_files_source_event"`
	EventStart      time.Time  `gorm:"index:idx_files_event_start"`
	EventEnd        *time.Time
	DurationSeconds float64
	Status          string `gorm:"index:idx_files_status;type:varchar(20);default:'pending'"`
	ErrorMessage    string `gorm:"type:text"`

	// Duplicate bookkeeping. DuplicateOfID is only set by a merge; the
	// advisory score and check time are recorded even when no merge happens.
	DuplicateOfID      *uint `gorm:"index"`
	OverlapScore       *float64
	DuplicateCheckedAt *time.Time

	// FrameHashes is the hex-serialized perceptual hash sequence of the
	// sampled frames (framehash.Sequence.Encode).
	FrameHashes string `gorm:"type:text"`

	ClaimedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time

	Visits []Visit `gorm:"foreignKey:FileID"`
}

// Visit represents one resolved-species observation episode within a file,
// possibly restricted to a [SegmentStart, SegmentEnd] time window. A nil
// segment spans the whole file.
type Visit struct {
	ID     uint `gorm:"primaryKey"`
	FileID uint `gorm:"index:idx_visits_file;not null"`

	// TaxonID is the automatically inferred species; nil when no frame
	// cleared the species threshold. OverrideTaxonID is set only by a
	// human reviewer and wins when present.
	TaxonID         *uint `gorm:"index:idx_visits_taxon"`
	OverrideTaxonID *uint

	SpeciesConfidence float64
	SpeciesModel      string `gorm:"type:varchar(64)"`
	DetectionCount    int

	BestDetectionID  *uint
	CoverDetectionID *uint

	// Segment window in seconds from clip start.
	SegmentStart *float64
	SegmentEnd   *float64

	// ParentVisitID links a segment back to the visit it was split from.
	ParentVisitID *uint `gorm:"index"`

	DeletedAt gorm.DeletedAt `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Detections []Detection `gorm:"foreignKey:VisitID"`
}

// ResolvedTaxonID returns the override species when a reviewer has corrected
// the visit, otherwise the inferred species. Derived data, never stored.
func (v *Visit) ResolvedTaxonID() *uint {
	if v.OverrideTaxonID != nil {
		return v.OverrideTaxonID
	}
	return v.TaxonID
}

// Segmented reports whether the visit covers only a sub-window of its file.
func (v *Visit) Segmented() bool {
	return v.SegmentStart != nil && v.SegmentEnd != nil
}

// Detection represents one per-frame observation belonging to a visit.
type Detection struct {
	ID      uint `gorm:"primaryKey"`
	VisitID uint `gorm:"index:idx_detections_visit;not null"`

	FrameNumber    int `gorm:"index:idx_detections_frame"`
	FrameTimestamp float64

	DetectionConfidence float64
	DetectionModel      string `gorm:"type:varchar(64)"`

	// Per-frame species evidence; may differ from the visit's consolidated
	// values. Nil confidence means classification was skipped or failed.
	SpeciesConfidence *float64
	SpeciesModel      string `gorm:"type:varchar(64)"`

	BboxX1 int
	BboxY1 int
	BboxX2 int
	BboxY2 int

	IsEdge   bool
	CropPath string

	// Face annotation lattice: nil -> machine -> one of the human states.
	FaceX1           *int
	FaceY1           *int
	FaceX2           *int
	FaceY2           *int
	AnnotationSource *string `gorm:"index:idx_detections_annotation;type:varchar(20)"`
	AnnotatedAt      *time.Time
	ReviewedAt       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SpeciesTaxon is canonical reference data for one species. Rows are created
// as bare name-only stubs by the pipeline; an external enrichment job fills
// in the rest. The pipeline never updates existing rows.
type SpeciesTaxon struct {
	ID              uint   `gorm:"primaryKey"`
	ScientificName  string `gorm:"uniqueIndex;not null"`
	CommonName      string
	ExternalTaxonID *int `gorm:"index"`
	WikipediaURL    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SyncCursor holds, per source type, the timestamp of the last event
// successfully folded into the pipeline. Moves forward only.
type SyncCursor struct {
	SourceType  string `gorm:"primaryKey;type:varchar(32)"`
	LastEventAt time.Time
	UpdatedAt   time.Time
}

// TaskRun records one execution of a scheduled task for operator visibility.
type TaskRun struct {
	ID             uint   `gorm:"primaryKey"`
	RunID          string `gorm:"uniqueIndex;type:varchar(36)"`
	TaskType       string `gorm:"index;type:varchar(32)"`
	Status         string `gorm:"type:varchar(20)"`
	Hostname       string `gorm:"type:varchar(128)"`
	PID            int
	StartedAt      time.Time
	CompletedAt    *time.Time
	ItemsProcessed int
	ItemsFailed    int
	ErrorMessage   string `gorm:"type:text"`
}

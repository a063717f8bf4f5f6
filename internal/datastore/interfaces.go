// interfaces.go defines the interface for the database operations
package datastore

import (
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/nestwatch/nestwatch-go/internal/conf"
	"github.com/nestwatch/nestwatch-go/internal/inference"
	"github.com/nestwatch/nestwatch-go/internal/logging"
)

// Interface abstracts the underlying database implementation.
type Interface interface {
	Open() error
	Close() error

	// File lifecycle
	CreateFileIfNew(file *File) (bool, error)
	GetFile(id uint) (*File, error)
	GetFileByPath(path string) (*File, error)
	ClaimFile(id uint) error
	MarkFileSuccess(id uint, duration time.Duration) error
	MarkFileFailed(id uint, message string) error
	MergeFile(sourceID, targetID uint, overlapScore *float64) error
	ReprocessFile(id uint) error
	RequeueFile(id uint) error
	PendingFiles(limit int) ([]File, error)
	StaleProcessingFiles(olderThan time.Duration) ([]File, error)
	ListFiles(limit, offset int) ([]File, error)
	SetFrameHashes(id uint, encoded string) error
	RecordDuplicateCheck(id uint, score *float64) error
	RecentFilesAround(start, end time.Time, window time.Duration, excludeID uint) ([]File, error)

	// Visits and detections
	SaveVisits(fileID uint, records []VisitRecord) error
	GetVisit(id uint) (*Visit, error)
	VisitsForFile(fileID uint) ([]Visit, error)
	DetectionsForVisit(visitID uint) ([]Detection, error)
	SetVisitOverride(visitID uint, taxonID *uint) error
	SetVisitCover(visitID, detectionID uint) error
	SplitVisit(visitID uint, segments []SegmentSpec) ([]Visit, error)

	// Annotation workflow
	DetectionsNeedingAnnotation(limit int) ([]Detection, error)
	ApplyMachineAnnotation(detectionID uint, box inference.Box) (bool, error)
	ApplyAnnotation(detectionID uint, source string, box *inference.Box) error
	MarkDetectionsReviewed(ids []uint) error

	// Species reference data
	GetOrCreateTaxon(scientificName string) (*SpeciesTaxon, error)
	GetTaxon(id uint) (*SpeciesTaxon, error)

	// Sync cursor
	GetSyncCursor(sourceType string) (time.Time, error)
	AdvanceSyncCursor(sourceType string, eventTime time.Time) error

	// Task runs
	StartTaskRun(taskType string) (*TaskRun, error)
	CompleteTaskRun(runID string, itemsProcessed, itemsFailed int, errMessage string) error
	CleanupStaleTaskRuns() (int, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new datastore based on the provided configuration.
// Returns nil when no database output is enabled.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{Settings: settings}
	default:
		return nil
	}
}

// logger returns the datastore service logger, falling back to the process
// default when file logging has not been initialized (tests).
func logger() *slog.Logger {
	if l := logging.ForService("datastore"); l != nil {
		return l
	}
	return slog.Default()
}

// Package conf loads and validates the application settings.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// MainSettings contains application wide settings.
type MainSettings struct {
	Name string      // node name used in logs and task runs
	Log  LogSettings // file logging settings
}

// LogSettings contains file logger rotation settings.
type LogSettings struct {
	Enabled    bool   // true to write per-service log files
	Path       string // directory for log files
	MaxSizeMB  int    // log rotation size
	MaxBackups int    // number of rotated files to keep
	MaxAgeDays int    // age of rotated files to keep
}

// NVRSettings describes the upstream network video recorder event source.
type NVRSettings struct {
	Address       string        // recorder address
	Username      string        // recorder account
	Password      string        // recorder password
	CameraID      string        // camera to ingest events from
	EventTypes    []string      // event types to ingest, e.g. "motion"
	PollInterval  time.Duration // how often to poll for new events
	Lookback      time.Duration // how far back the first sync reaches
	DownloadDir   string        // directory for downloaded clips
	SSLVerify     bool          // verify recorder TLS certificate
	SourceType    string        // sync cursor key for this source
	TriggerBuffer int           // size of the manual sync trigger queue
}

// ProcessingSettings contains the thresholds and gaps that drive visit assembly.
type ProcessingSettings struct {
	MinDetectionConfidence float64       // discard frames below this detection confidence
	MinSpeciesConfidence   float64       // species votes require at least this confidence
	MaxFrameGap            time.Duration // frames further apart than this start a new run
	RevisitGap             time.Duration // same-species runs further apart become separate visits
	FrameSkip              int           // sample every Nth frame
	EdgeMarginPx           int           // bbox within this margin of the frame edge is an edge detection
	Workers                int           // bounded per-process worker count
	MaxRetries             int           // bounded retries for transient failures
	RetryBackoff           time.Duration // initial backoff between retries
	DetectionModel         string        // model identifier recorded on detections
	SpeciesModel           string        // model identifier recorded on visits
}

// DuplicateSettings controls the near-duplicate file detector.
type DuplicateSettings struct {
	Enabled        bool          // run the duplicate check during processing
	Window         time.Duration // candidate pool time window around the event
	ScoreThreshold float64       // minimum overlap score to recommend a merge
	MaxHamming     int           // per-frame hash distance tolerated as a match
}

// InferenceSettings points at the remote detection and classification services.
type InferenceSettings struct {
	DetectorURL   string        // object detection endpoint
	ClassifierURL string        // species classification endpoint
	FaceURL       string        // face localization endpoint, empty to use the built-in heuristic
	Timeout       time.Duration // per-request timeout for inference calls
	SampleFPS     float64       // frames per second extracted from each clip
	FFmpegPath    string        // ffmpeg binary
	FFprobePath   string        // ffprobe binary
}

// AnnotationSettings controls the machine face-box proposer.
type AnnotationSettings struct {
	Enabled   bool          // propose face boxes for new detections
	BatchSize int           // detections annotated per batch run
	Interval  time.Duration // how often the annotation batch runs
}

// SQLiteSettings contains SQLite specific settings.
type SQLiteSettings struct {
	Enabled bool
	Path    string
}

// MySQLSettings contains MySQL specific settings.
type MySQLSettings struct {
	Enabled  bool
	Username string
	Password string
	Database string
	Host     string
	Port     string
}

// OutputSettings selects and configures the durable store.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// WebServerSettings contains settings for the HTTP API.
type WebServerSettings struct {
	Enabled bool
	Port    string
}

// Settings is the root configuration structure.
type Settings struct {
	Debug bool

	Main       MainSettings
	NVR        NVRSettings
	Processing ProcessingSettings
	Inference  InferenceSettings
	Duplicate  DuplicateSettings
	Annotation AnnotationSettings
	Output     OutputSettings
	WebServer  WebServerSettings
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Setting returns the global settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		settingsMutex.Lock()
		defer settingsMutex.Unlock()
		settingsInstance = Load()
	})
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Load reads the configuration file, falling back to defaults for anything unset.
func Load() *Settings {
	settings := &Settings{}

	initViper()

	if err := viper.Unmarshal(settings); err != nil {
		fmt.Fprintf(os.Stderr, "error unmarshaling config into struct: %v\n", err)
		os.Exit(1)
	}
	return settings
}

func initViper() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths := configPaths()
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetEnvPrefix("nestwatch")
	viper.AutomaticEnv()

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !asErr(err, &notFound) {
			fmt.Fprintf(os.Stderr, "error reading config file: %v\n", err)
			os.Exit(1)
		}
		// No config yet, write one with the defaults so the user has a template.
		if err := createDefaultConfig(configPaths[0]); err != nil {
			fmt.Fprintf(os.Stderr, "error creating default config: %v\n", err)
		}
	}
}

func asErr(err error, target *viper.ConfigFileNotFoundError) bool {
	if e, ok := err.(viper.ConfigFileNotFoundError); ok {
		*target = e
		return true
	}
	return false
}

// configPaths returns the directories searched for config.yaml, preferred first.
func configPaths() []string {
	paths := []string{}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "nestwatch"))
	}
	paths = append(paths, ".")
	return paths
}

// createDefaultConfig writes the current (default) settings as a YAML file.
func createDefaultConfig(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return fmt.Errorf("unmarshaling defaults: %w", err)
	}

	out, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshaling defaults to yaml: %w", err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, out, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", configPath, err)
	}
	return nil
}

// Validate checks settings for values the pipeline cannot run with.
func (s *Settings) Validate() error {
	if s.Processing.MinDetectionConfidence < 0 || s.Processing.MinDetectionConfidence > 1 {
		return fmt.Errorf("processing.mindetectionconfidence must be between 0 and 1, got %v", s.Processing.MinDetectionConfidence)
	}
	if s.Processing.MinSpeciesConfidence < 0 || s.Processing.MinSpeciesConfidence > 1 {
		return fmt.Errorf("processing.minspeciesconfidence must be between 0 and 1, got %v", s.Processing.MinSpeciesConfidence)
	}
	if s.Duplicate.ScoreThreshold < 0 || s.Duplicate.ScoreThreshold > 1 {
		return fmt.Errorf("duplicate.scorethreshold must be between 0 and 1, got %v", s.Duplicate.ScoreThreshold)
	}
	if s.Processing.Workers < 1 {
		return fmt.Errorf("processing.workers must be at least 1, got %d", s.Processing.Workers)
	}
	if s.Processing.MaxFrameGap <= 0 {
		return fmt.Errorf("processing.maxframegap must be positive, got %v", s.Processing.MaxFrameGap)
	}
	if s.Processing.RevisitGap < s.Processing.MaxFrameGap {
		return fmt.Errorf("processing.revisitgap (%v) must not be smaller than maxframegap (%v)",
			s.Processing.RevisitGap, s.Processing.MaxFrameGap)
	}
	if s.Inference.SampleFPS <= 0 {
		return fmt.Errorf("inference.samplefps must be positive, got %v", s.Inference.SampleFPS)
	}
	if !s.Output.SQLite.Enabled && !s.Output.MySQL.Enabled {
		return fmt.Errorf("no datastore enabled, enable output.sqlite or output.mysql")
	}
	return nil
}

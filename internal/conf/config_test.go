package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	return &Settings{
		Processing: ProcessingSettings{
			MinDetectionConfidence: 0.8,
			MinSpeciesConfidence:   0.85,
			MaxFrameGap:            2 * time.Second,
			RevisitGap:             10 * time.Second,
			Workers:                2,
		},
		Inference: InferenceSettings{SampleFPS: 2.0},
		Duplicate: DuplicateSettings{ScoreThreshold: 0.8},
		Output:    OutputSettings{SQLite: SQLiteSettings{Enabled: true, Path: ":memory:"}},
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	t.Parallel()

	require.NoError(t, validSettings().Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"detection confidence above one", func(s *Settings) { s.Processing.MinDetectionConfidence = 1.5 }},
		{"negative species confidence", func(s *Settings) { s.Processing.MinSpeciesConfidence = -0.1 }},
		{"duplicate threshold above one", func(s *Settings) { s.Duplicate.ScoreThreshold = 2 }},
		{"zero workers", func(s *Settings) { s.Processing.Workers = 0 }},
		{"zero frame gap", func(s *Settings) { s.Processing.MaxFrameGap = 0 }},
		{"revisit gap below frame gap", func(s *Settings) { s.Processing.RevisitGap = time.Second }},
		{"zero sample fps", func(s *Settings) { s.Inference.SampleFPS = 0 }},
		{"no datastore", func(s *Settings) { s.Output.SQLite.Enabled = false }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := validSettings()
			tt.mutate(s)
			assert.Error(t, s.Validate())
		})
	}
}

package datastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestwatch/nestwatch-go/internal/errors"
)

func TestSaveVisits(t *testing.T) {
	store := newTestStore(t)
	file := seedFile(t, store, "/clips/visits.mp4")

	taxon, err := store.GetOrCreateTaxon("Parus major")
	require.NoError(t, err)

	records := []VisitRecord{{
		Visit: Visit{
			TaxonID:           &taxon.ID,
			SpeciesConfidence: 0.91,
			SpeciesModel:      "species-v2",
		},
		Detections: []Detection{
			{FrameNumber: 10, FrameTimestamp: 0.4, DetectionConfidence: 0.85},
			{FrameNumber: 15, FrameTimestamp: 0.6, DetectionConfidence: 0.97},
			{FrameNumber: 20, FrameTimestamp: 0.8, DetectionConfidence: 0.88},
		},
		BestIndex: 1,
	}}
	require.NoError(t, store.SaveVisits(file.ID, records))

	visits, err := store.VisitsForFile(file.ID)
	require.NoError(t, err)
	require.Len(t, visits, 1)

	visit := visits[0]
	assert.Equal(t, 3, visit.DetectionCount)
	assert.Equal(t, taxon.ID, *visit.TaxonID)

	detections, err := store.DetectionsForVisit(visit.ID)
	require.NoError(t, err)
	require.Len(t, detections, 3)
	assert.Equal(t, 10, detections[0].FrameNumber)
	assert.Equal(t, 20, detections[2].FrameNumber)

	// The highest-confidence detection becomes both best and initial cover.
	require.NotNil(t, visit.BestDetectionID)
	require.NotNil(t, visit.CoverDetectionID)
	assert.Equal(t, detections[1].ID, *visit.BestDetectionID)
	assert.Equal(t, *visit.BestDetectionID, *visit.CoverDetectionID)
}

func TestVisitOverride(t *testing.T) {
	store := newTestStore(t)
	file := seedFile(t, store, "/clips/override.mp4")

	auto, err := store.GetOrCreateTaxon("Parus major")
	require.NoError(t, err)
	corrected, err := store.GetOrCreateTaxon("Cyanistes caeruleus")
	require.NoError(t, err)

	require.NoError(t, store.SaveVisits(file.ID, []VisitRecord{{
		Visit:      Visit{TaxonID: &auto.ID, SpeciesConfidence: 0.9},
		Detections: []Detection{{FrameNumber: 1, DetectionConfidence: 0.9}},
	}}))
	visits, err := store.VisitsForFile(file.ID)
	require.NoError(t, err)
	visitID := visits[0].ID

	require.NoError(t, store.SetVisitOverride(visitID, &corrected.ID))
	visit, err := store.GetVisit(visitID)
	require.NoError(t, err)
	assert.Equal(t, corrected.ID, *visit.ResolvedTaxonID(), "override wins over the inferred species")
	assert.Equal(t, auto.ID, *visit.TaxonID, "the inferred species is preserved")

	// Clearing the override restores the inferred species.
	require.NoError(t, store.SetVisitOverride(visitID, nil))
	visit, err = store.GetVisit(visitID)
	require.NoError(t, err)
	assert.Equal(t, auto.ID, *visit.ResolvedTaxonID())

	err = store.SetVisitOverride(99999, &corrected.ID)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestSetVisitCover(t *testing.T) {
	store := newTestStore(t)
	fileA := seedFile(t, store, "/clips/cover-a.mp4")
	fileB := seedFile(t, store, "/clips/cover-b.mp4")

	require.NoError(t, store.SaveVisits(fileA.ID, []VisitRecord{{
		Visit: Visit{SpeciesConfidence: 0.9},
		Detections: []Detection{
			{FrameNumber: 1, DetectionConfidence: 0.95},
			{FrameNumber: 2, DetectionConfidence: 0.80},
		},
	}}))
	require.NoError(t, store.SaveVisits(fileB.ID, []VisitRecord{{
		Visit:      Visit{SpeciesConfidence: 0.9},
		Detections: []Detection{{FrameNumber: 1, DetectionConfidence: 0.9}},
	}}))

	visitsA, err := store.VisitsForFile(fileA.ID)
	require.NoError(t, err)
	visitsB, err := store.VisitsForFile(fileB.ID)
	require.NoError(t, err)

	detsA, err := store.DetectionsForVisit(visitsA[0].ID)
	require.NoError(t, err)
	detsB, err := store.DetectionsForVisit(visitsB[0].ID)
	require.NoError(t, err)

	require.NoError(t, store.SetVisitCover(visitsA[0].ID, detsA[1].ID))
	visit, err := store.GetVisit(visitsA[0].ID)
	require.NoError(t, err)
	assert.Equal(t, detsA[1].ID, *visit.CoverDetectionID)
	assert.NotEqual(t, *visit.BestDetectionID, *visit.CoverDetectionID,
		"changing the cover must not touch the best detection")

	// A detection from another visit cannot become the cover.
	err = store.SetVisitCover(visitsA[0].ID, detsB[0].ID)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestSplitVisit(t *testing.T) {
	store := newTestStore(t)
	file := seedFile(t, store, "/clips/split.mp4")

	great, err := store.GetOrCreateTaxon("Parus major")
	require.NoError(t, err)
	blue, err := store.GetOrCreateTaxon("Cyanistes caeruleus")
	require.NoError(t, err)

	require.NoError(t, store.SaveVisits(file.ID, []VisitRecord{{
		Visit: Visit{TaxonID: &great.ID, SpeciesConfidence: 0.9, SpeciesModel: "species-v2"},
		Detections: []Detection{
			{FrameNumber: 5, FrameTimestamp: 1.0, DetectionConfidence: 0.80},
			{FrameNumber: 10, FrameTimestamp: 2.0, DetectionConfidence: 0.95},
			{FrameNumber: 60, FrameTimestamp: 12.0, DetectionConfidence: 0.90},
			{FrameNumber: 65, FrameTimestamp: 13.0, DetectionConfidence: 0.85},
		},
		BestIndex: 1,
	}}))
	visits, err := store.VisitsForFile(file.ID)
	require.NoError(t, err)
	original := visits[0]

	segments, err := store.SplitVisit(original.ID, []SegmentSpec{
		{Start: 0, End: 5, TaxonID: &great.ID},
		{Start: 10, End: 15, TaxonID: &blue.ID},
	})
	require.NoError(t, err)
	require.Len(t, segments, 2)

	// The original is archived and no longer visible.
	_, err = store.GetVisit(original.ID)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	visits, err = store.VisitsForFile(file.ID)
	require.NoError(t, err)
	require.Len(t, visits, 2)

	first, second := visits[0], visits[1]
	assert.Equal(t, great.ID, *first.TaxonID)
	assert.Equal(t, blue.ID, *second.TaxonID)
	assert.Equal(t, original.ID, *first.ParentVisitID)
	assert.Equal(t, original.ID, *second.ParentVisitID)
	assert.Equal(t, 0.0, *first.SegmentStart)
	assert.Equal(t, 5.0, *first.SegmentEnd)

	// Detections are re-parented by frame timestamp and the per-segment
	// best detection is recomputed.
	firstDets, err := store.DetectionsForVisit(first.ID)
	require.NoError(t, err)
	require.Len(t, firstDets, 2)
	assert.Equal(t, 2, first.DetectionCount)
	assert.Equal(t, firstDets[1].ID, *first.BestDetectionID)

	secondDets, err := store.DetectionsForVisit(second.ID)
	require.NoError(t, err)
	require.Len(t, secondDets, 2)
	assert.Equal(t, secondDets[0].ID, *second.BestDetectionID)

	// A segment is not splittable again.
	_, err = store.SplitVisit(first.ID, []SegmentSpec{
		{Start: 0, End: 2}, {Start: 3, End: 5},
	})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
}

func TestSplitVisit_Validation(t *testing.T) {
	store := newTestStore(t)
	file := seedFile(t, store, "/clips/split-invalid.mp4")

	require.NoError(t, store.SaveVisits(file.ID, []VisitRecord{{
		Visit:      Visit{SpeciesConfidence: 0.9},
		Detections: []Detection{{FrameNumber: 1, FrameTimestamp: 1.0, DetectionConfidence: 0.9}},
	}}))
	visits, err := store.VisitsForFile(file.ID)
	require.NoError(t, err)
	visitID := visits[0].ID

	cases := []struct {
		name     string
		segments []SegmentSpec
	}{
		{"single segment", []SegmentSpec{{Start: 0, End: 5}}},
		{"negative time", []SegmentSpec{{Start: -1, End: 5}, {Start: 6, End: 10}}},
		{"inverted range", []SegmentSpec{{Start: 5, End: 5}, {Start: 6, End: 10}}},
		{"overlapping", []SegmentSpec{{Start: 0, End: 6}, {Start: 5, End: 10}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.SplitVisit(visitID, tc.segments)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
		})
	}

	// The visit is untouched after every rejected split.
	_, err = store.GetVisit(visitID)
	require.NoError(t, err)
}

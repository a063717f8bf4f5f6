package errors

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorBuilder(t *testing.T) {
	t.Parallel()

	base := NewStd("claim lost")
	ee := New(base).
		Component("datastore").
		Category(CategoryClaimConflict).
		Context("file_id", uint(42)).
		Build()

	assert.Equal(t, "claim lost", ee.Error())
	assert.Equal(t, "datastore", ee.GetComponent())
	assert.Equal(t, string(CategoryClaimConflict), ee.GetCategory())
	assert.Equal(t, uint(42), ee.GetContext()["file_id"])
	assert.WithinDuration(t, time.Now(), ee.GetTimestamp(), time.Minute)
	assert.True(t, Is(ee, base))
}

func TestDefaultCategoryIsGeneric(t *testing.T) {
	t.Parallel()

	ee := Newf("boom %d", 7).Build()
	assert.Equal(t, string(CategoryGeneric), ee.GetCategory())
}

func TestIsCategoryHelpers(t *testing.T) {
	t.Parallel()

	claim := New(NewStd("already claimed")).Category(CategoryClaimConflict).Build()
	corrupt := New(NewStd("bad frame")).Category(CategoryCorruptMedia).Build()
	inference := New(NewStd("timeout")).Category(CategoryInference).Build()

	assert.True(t, IsClaimConflict(claim))
	assert.False(t, IsClaimConflict(corrupt))

	assert.True(t, IsRetryable(inference))
	assert.True(t, IsRetryable(claim))
	assert.False(t, IsRetryable(corrupt))
	assert.False(t, IsRetryable(io.EOF))
}

func TestUnwrapPreservesChain(t *testing.T) {
	t.Parallel()

	ee := New(io.ErrUnexpectedEOF).Category(CategoryFileIO).Build()
	require.ErrorIs(t, ee, io.ErrUnexpectedEOF)
	assert.Equal(t, io.ErrUnexpectedEOF, Unwrap(ee))
}

func TestContextCopyIsIsolated(t *testing.T) {
	t.Parallel()

	ee := New(NewStd("x")).Context("k", "v").Build()
	ctx := ee.GetContext()
	ctx["k"] = "mutated"
	assert.Equal(t, "v", ee.GetContext()["k"])
}

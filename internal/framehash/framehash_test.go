package framehash

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gradient produces a deterministic test image whose brightness ramps with x,
// shifted by seed so different seeds yield different hashes.
func gradient(seed int) image.Image {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x*4 + seed*17) % 256)})
		}
	}
	return img
}

func TestAverageIsDeterministic(t *testing.T) {
	t.Parallel()

	h1 := Average(gradient(1))
	h2 := Average(gradient(1))
	assert.Equal(t, h1, h2)
}

func TestDistance(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, Hash(0).Distance(Hash(0)))
	assert.Equal(t, 64, Hash(0).Distance(^Hash(0)))
	assert.Equal(t, 2, Hash(0b11).Distance(Hash(0)))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	seq := Sequence{0, 1, 0xdeadbeef, ^Hash(0)}
	decoded, err := Decode(seq.Encode())
	require.NoError(t, err)
	assert.Equal(t, seq, decoded)
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	_, err := Decode("abc")
	assert.Error(t, err)

	_, err = Decode("zzzzzzzzzzzzzzzz")
	assert.Error(t, err)
}

func TestOverlapScoresOverShorterSequence(t *testing.T) {
	t.Parallel()

	// 9 of the short sequence's 10 hashes appear in the long one.
	short := make(Sequence, 10)
	long := make(Sequence, 30)
	for i := range short {
		short[i] = Hash(i) << 8
	}
	for i := range long {
		long[i] = Hash(i) << 8
	}
	short[9] = ^Hash(0) // no counterpart within tolerance

	score := Overlap(short, long, 2)
	assert.InDelta(t, 0.9, score, 1e-9)

	// Argument order must not matter: the shorter side is always scored.
	assert.InDelta(t, score, Overlap(long, short, 2), 1e-9)
}

func TestOverlapToleratesSmallBitFlips(t *testing.T) {
	t.Parallel()

	a := Sequence{0b1111_0000}
	b := Sequence{0b1111_0001} // one bit of compression noise

	assert.Equal(t, 1.0, Overlap(a, b, 1))
	assert.Equal(t, 0.0, Overlap(a, b, 0))
}

func TestOverlapEmptySequence(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, Overlap(nil, Sequence{1, 2}, 4))
}

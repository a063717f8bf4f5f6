// Package framehash computes and compares perceptual fingerprints of video frames.
//
// A frame is reduced to a 64-bit average hash: the image is downscaled to 8x8
// grayscale and each bit records whether the pixel is brighter than the mean.
// Compression noise flips only a few bits, so near-identical frames stay
// within a small Hamming distance of each other.
package framehash

import (
	"image"
	"math/bits"
	"strconv"
	"strings"

	xdraw "golang.org/x/image/draw"

	"github.com/nestwatch/nestwatch-go/internal/errors"
)

const (
	hashSide = 8
	hashBits = hashSide * hashSide

	// hexDigits is the fixed width of one encoded hash.
	hexDigits = 16
)

// Hash is a 64-bit average hash of a single frame.
type Hash uint64

// Average computes the average hash of an image.
func Average(img image.Image) Hash {
	gray := image.NewGray(image.Rect(0, 0, hashSide, hashSide))
	xdraw.ApproxBiLinear.Scale(gray, gray.Bounds(), img, img.Bounds(), xdraw.Src, nil)

	var sum uint32
	for _, px := range gray.Pix {
		sum += uint32(px)
	}
	mean := uint8(sum / hashBits)

	var h Hash
	for i, px := range gray.Pix {
		if px > mean {
			h |= 1 << uint(i)
		}
	}
	return h
}

// Distance returns the Hamming distance between two hashes.
func (h Hash) Distance(other Hash) int {
	return bits.OnesCount64(uint64(h ^ other))
}

// String returns the fixed-width hex encoding of the hash.
func (h Hash) String() string {
	s := strconv.FormatUint(uint64(h), 16)
	if len(s) < hexDigits {
		s = strings.Repeat("0", hexDigits-len(s)) + s
	}
	return s
}

// Sequence is the ordered list of frame hashes sampled from one clip.
type Sequence []Hash

// Encode serializes the sequence as concatenated fixed-width hex hashes.
func (s Sequence) Encode() string {
	var b strings.Builder
	b.Grow(len(s) * hexDigits)
	for _, h := range s {
		b.WriteString(h.String())
	}
	return b.String()
}

// Decode parses a string produced by Encode.
func Decode(encoded string) (Sequence, error) {
	if len(encoded)%hexDigits != 0 {
		return nil, errors.Newf("encoded hash sequence length %d is not a multiple of %d", len(encoded), hexDigits).
			Category(errors.CategoryValidation).
			Build()
	}
	seq := make(Sequence, 0, len(encoded)/hexDigits)
	for i := 0; i < len(encoded); i += hexDigits {
		v, err := strconv.ParseUint(encoded[i:i+hexDigits], 16, 64)
		if err != nil {
			return nil, errors.New(err).
				Category(errors.CategoryValidation).
				Context("offset", i).
				Build()
		}
		seq = append(seq, Hash(v))
	}
	return seq, nil
}

// Overlap scores how much of the shorter sequence is present in the other.
//
// For each hash of the shorter sequence it looks for any hash in the longer
// sequence within maxDistance bits, and returns the matched fraction. Scoring
// over the shorter sequence guards against spuriously low scores when one
// clip is much longer than the other; the result is in [0,1] and is
// deterministic for identical inputs.
func Overlap(a, b Sequence, maxDistance int) float64 {
	shorter, longer := a, b
	if len(b) < len(a) {
		shorter, longer = b, a
	}
	if len(shorter) == 0 {
		return 0
	}

	matched := 0
	for _, h := range shorter {
		for _, other := range longer {
			if h.Distance(other) <= maxDistance {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(shorter))
}

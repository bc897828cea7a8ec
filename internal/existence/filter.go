// Package existence builds Bloom filters ("existence filters") over string
// sets and serializes them for embedding into generated sources.
package existence

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
)

// headerSize is the serialized header: bit count, expected entry count and
// hash count, each a little-endian uint32.
const headerSize = 12

// ErrCorrupt is returned by Read for images that do not decode.
var ErrCorrupt = errors.New("corrupt existence filter image")

// Filter is a fixed-size Bloom filter keyed by 64-bit fingerprints.
type Filter struct {
	words []uint32
	m     uint32 // bits
	n     uint32 // expected entries
	k     uint32 // hashes per entry
}

// MinFilterSizeInBytesForErrorRate returns the smallest filter size, in
// bytes, that keeps the false positive rate for n entries at or below
// errorRate.
func MinFilterSizeInBytesForErrorRate(errorRate float64, n int) int {
	if n <= 0 {
		return 1
	}
	bits := math.Ceil(-float64(n) * math.Log(errorRate) / (math.Ln2 * math.Ln2))
	bytes := int(math.Ceil(bits / 8))
	if bytes < 1 {
		bytes = 1
	}
	return bytes
}

// optimalHashCount is round(m/n * ln2), at least 1.
func optimalHashCount(m, n int) int {
	if n <= 0 {
		return 1
	}
	k := int(math.Round(float64(m) / float64(n) * math.Ln2))
	if k < 1 {
		k = 1
	}
	return k
}

// CreateOptimal returns an empty filter of sizeInBytes for n expected
// entries, with the hash count that minimizes false positives.
func CreateOptimal(sizeInBytes, n int) (*Filter, error) {
	if sizeInBytes <= 0 {
		return nil, fmt.Errorf("filter size must be positive, got %d", sizeInBytes)
	}
	if n < 0 {
		return nil, fmt.Errorf("entry count must not be negative, got %d", n)
	}
	if sizeInBytes > maxFilterBytes {
		return nil, fmt.Errorf("filter of %d bytes is too large", sizeInBytes)
	}
	if uint64(n) > math.MaxUint32 {
		return nil, fmt.Errorf("entry count %d is too large", n)
	}
	m := sizeInBytes * 8
	return newFilter(uint32(m), uint32(n), uint32(optimalHashCount(m, n))), nil
}

// maxFilterBytes keeps the bit count within a uint32.
const maxFilterBytes = math.MaxUint32 / 8

// wordCount is the number of 32-bit words holding m bits.
func wordCount(m uint32) int {
	return int((uint64(m) + 31) / 32)
}

func newFilter(m, n, k uint32) *Filter {
	return &Filter{
		words: make([]uint32, wordCount(m)),
		m:     m,
		n:     n,
		k:     k,
	}
}

// Bits returns the filter size in bits.
func (f *Filter) Bits() int { return int(f.m) }

// Hashes returns the number of hash functions.
func (f *Filter) Hashes() int { return int(f.k) }

// Entries returns the expected entry count the filter was sized for.
func (f *Filter) Entries() int { return int(f.n) }

// positions derives k bit positions from one fingerprint by double hashing
// its two 32-bit halves.
func (f *Filter) positions(fp uint64, fn func(pos uint32) bool) {
	h1 := fp & 0xffffffff
	h2 := fp>>32 | 1
	for i := uint64(0); i < uint64(f.k); i++ {
		if !fn(uint32((h1 + i*h2) % uint64(f.m))) {
			return
		}
	}
}

// Insert adds a fingerprint.
func (f *Filter) Insert(fp uint64) {
	f.positions(fp, func(pos uint32) bool {
		f.words[pos/32] |= 1 << (pos % 32)
		return true
	})
}

// Exists reports whether fp may have been inserted. False means it
// definitely was not.
func (f *Filter) Exists(fp uint64) bool {
	found := true
	f.positions(fp, func(pos uint32) bool {
		if f.words[pos/32]&(1<<(pos%32)) == 0 {
			found = false
		}
		return found
	})
	return found
}

// Fingerprint returns the 64-bit key of an entry (FNV-1a).
func Fingerprint(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// MarshalBinary serializes the filter: the header followed by the bit
// vector as little-endian uint32 words.
func (f *Filter) MarshalBinary() ([]byte, error) {
	buf := make([]byte, headerSize+4*len(f.words))
	binary.LittleEndian.PutUint32(buf[0:], f.m)
	binary.LittleEndian.PutUint32(buf[4:], f.n)
	binary.LittleEndian.PutUint32(buf[8:], f.k)
	for i, w := range f.words {
		binary.LittleEndian.PutUint32(buf[headerSize+4*i:], w)
	}
	return buf, nil
}

// Read decodes an image produced by MarshalBinary.
func Read(data []byte) (*Filter, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(data))
	}
	m := binary.LittleEndian.Uint32(data[0:])
	n := binary.LittleEndian.Uint32(data[4:])
	k := binary.LittleEndian.Uint32(data[8:])
	if m == 0 || k == 0 {
		return nil, fmt.Errorf("%w: bits=%d hashes=%d", ErrCorrupt, m, k)
	}
	// Length is checked before the bit vector is allocated.
	if want := headerSize + 4*uint64(wordCount(m)); uint64(len(data)) != want {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrCorrupt, len(data), want)
	}

	f := newFilter(m, n, k)
	for i := range f.words {
		f.words[i] = binary.LittleEndian.Uint32(data[headerSize+4*i:])
	}
	return f, nil
}

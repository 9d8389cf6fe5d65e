package masker

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/cortical-data/seedsig/internal/sphere"
	"github.com/cortical-data/seedsig/internal/volume"
)

// memoCache memoizes extraction results by input fingerprint. Entries are
// never evicted; callers opting in are expected to transform a handful of
// images, not an unbounded stream.
type memoCache struct {
	mu      sync.Mutex
	entries map[[32]byte]*mat.Dense
}

func newMemoCache() *memoCache {
	return &memoCache{entries: make(map[[32]byte]*mat.Dense)}
}

// get returns a copy of the cached matrix so callers can never corrupt
// the cache through the returned value.
func (c *memoCache) get(key [32]byte) (*mat.Dense, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return mat.DenseCopyOf(cached), true
}

func (c *memoCache) put(key [32]byte, signals *mat.Dense) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = mat.DenseCopyOf(signals)
}

// fingerprint hashes everything the extraction depends on: seed
// coordinates, radius, volume dims and data, affine, and the mask.
func fingerprint(seeds []sphere.Seed, vol *volume.Volume, affine volume.Affine, radius *float64, mask *volume.Mask) [32]byte {
	h := sha256.New()
	var buf [8]byte

	writeF64 := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	writeInt := func(v int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}

	writeInt(len(seeds))
	for _, s := range seeds {
		writeF64(s[0])
		writeF64(s[1])
		writeF64(s[2])
	}

	if radius == nil {
		h.Write([]byte{0})
	} else {
		h.Write([]byte{1})
		writeF64(*radius)
	}

	writeInt(vol.NX)
	writeInt(vol.NY)
	writeInt(vol.NZ)
	writeInt(vol.NT)
	for _, v := range vol.Data {
		writeF64(v)
	}
	for _, v := range affine {
		writeF64(v)
	}

	if mask == nil {
		h.Write([]byte{0})
	} else {
		h.Write([]byte{1})
		writeInt(mask.NX)
		writeInt(mask.NY)
		writeInt(mask.NZ)
		for _, b := range mask.Data {
			if b {
				h.Write([]byte{1})
			} else {
				h.Write([]byte{0})
			}
		}
	}

	var key [32]byte
	h.Sum(key[:0])
	return key
}

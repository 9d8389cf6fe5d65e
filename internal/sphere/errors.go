package sphere

import "fmt"

// SeedShapeError reports a seed that is not a triplet of world
// coordinates. Index is the 0-based position of the offending seed in the
// input sequence.
type SeedShapeError struct {
	Index int
	Len   int
}

func (e *SeedShapeError) Error() string {
	return fmt.Sprintf("seed #%d has %d coordinates, want a triplet (x, y, z)", e.Index, e.Len)
}

// EmptyIntersectionError reports a seed whose sphere, after intersection
// with the optional mask, selects zero voxels. Seed is the 0-based index
// of the failing seed. The whole extraction aborts; no partial signal
// matrix is ever returned.
type EmptyIntersectionError struct {
	Seed int
}

func (e *EmptyIntersectionError) Error() string {
	return fmt.Sprintf("seed #%d is out of the mask", e.Seed)
}

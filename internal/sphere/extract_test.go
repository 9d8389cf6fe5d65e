package sphere

import (
	"errors"
	"math"
	"testing"

	"github.com/cortical-data/seedsig/internal/testutil"
	"github.com/cortical-data/seedsig/internal/volume"
)

func floatPtr(v float64) *float64 { return &v }

func TestParseSeeds(t *testing.T) {
	seeds, err := ParseSeeds([][]float64{{1, 2, 3}, {-4, 0, 5.5}})
	testutil.AssertNoError(t, err)
	if len(seeds) != 2 {
		t.Fatalf("got %d seeds, want 2", len(seeds))
	}
	if seeds[1] != (Seed{-4, 0, 5.5}) {
		t.Errorf("seed 1 = %v, want (-4, 0, 5.5)", seeds[1])
	}
}

func TestParseSeedsMalformed(t *testing.T) {
	_, err := ParseSeeds([][]float64{{1, 2, 3}, {4, 5}, {6}})
	var shapeErr *SeedShapeError
	if !errors.As(err, &shapeErr) {
		t.Fatalf("expected SeedShapeError, got %v", err)
	}
	if shapeErr.Index != 1 {
		t.Errorf("reported seed index = %d, want 1 (first malformed)", shapeErr.Index)
	}
	if shapeErr.Len != 2 {
		t.Errorf("reported length = %d, want 2", shapeErr.Len)
	}
}

// Nearest-voxel fallback: radius nil with a seed exactly on a voxel centre
// selects that voxel alone.
func TestMembershipNearestVoxel(t *testing.T) {
	grid := PhysicalCoords(4, 4, 4, volume.Identity())
	sel := grid.Membership(Seed{2, 2, 2}, nil)

	count := 0
	for _, in := range sel {
		if in {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("selected %d voxels, want exactly 1", count)
	}
	// (z*ny + y)*nx + x with x=y=z=2
	if !sel[(2*4+2)*4+2] {
		t.Error("voxel (2,2,2) not selected")
	}
}

// A radius too small to reach any voxel centre degrades to nearest-voxel,
// it never yields an empty selection.
func TestMembershipTinyRadiusFallsBackToNearest(t *testing.T) {
	grid := PhysicalCoords(4, 4, 4, volume.Identity())
	sel := grid.Membership(Seed{1.4, 2, 2}, floatPtr(0.1))

	count := 0
	for _, in := range sel {
		if in {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("selected %d voxels, want 1 (nearest fallback)", count)
	}
	if !sel[(2*4+2)*4+1] {
		t.Error("expected nearest voxel (1,2,2) to be selected")
	}
}

// Ties at the minimum distance are all included: a seed halfway between
// two voxel centres selects both.
func TestMembershipNearestTies(t *testing.T) {
	grid := PhysicalCoords(4, 1, 1, volume.Identity())
	sel := grid.Membership(Seed{1.5, 0, 0}, nil)

	var selected []int
	for i, in := range sel {
		if in {
			selected = append(selected, i)
		}
	}
	if len(selected) != 2 || selected[0] != 1 || selected[1] != 2 {
		t.Fatalf("selected voxels %v, want [1 2]", selected)
	}
}

// Sphere monotonicity: growing the radius never shrinks the selection.
func TestMembershipRadiusMonotone(t *testing.T) {
	grid := PhysicalCoords(6, 6, 6, volume.Identity())
	seed := Seed{2.5, 2.5, 2.5}

	prev := 0
	for _, r := range []float64{0.5, 1, 1.5, 2, 3, 5} {
		sel := grid.Membership(seed, floatPtr(r))
		count := 0
		for _, in := range sel {
			if in {
				count++
			}
		}
		if count < prev {
			t.Errorf("radius %g selected %d voxels, fewer than %d at the smaller radius", r, count, prev)
		}
		prev = count
	}
}

// Radius boundary is inclusive: a voxel centre exactly at distance r is in.
func TestMembershipRadiusBoundaryInclusive(t *testing.T) {
	grid := PhysicalCoords(5, 1, 1, volume.Identity())
	sel := grid.Membership(Seed{2, 0, 0}, floatPtr(1.0))

	for i, want := range []bool{false, true, true, true, false} {
		if sel[i] != want {
			t.Errorf("voxel %d selected=%v, want %v", i, sel[i], want)
		}
	}
}

// Spec scenario: (4,4,4,5) volume, identity affine, seed at a voxel
// centre, radius nil. One voxel selected, output 5x1 equal to that voxel's
// series.
func TestExtractSingleVoxelScenario(t *testing.T) {
	vol := testutil.RampVolume(4, 4, 4, 5)
	seeds := []Seed{{2, 2, 2}}

	sig, err := Extract(seeds, vol, volume.Identity(), nil, nil)
	testutil.AssertNoError(t, err)

	rows, cols := sig.Dims()
	if rows != 5 || cols != 1 {
		t.Fatalf("signal shape (%d,%d), want (5,1)", rows, cols)
	}
	for ti := 0; ti < 5; ti++ {
		want := vol.At(2, 2, 2, ti)
		if got := sig.At(ti, 0); got != want {
			t.Errorf("signal[%d,0] = %g, want %g", ti, got, want)
		}
	}
}

// Mean correctness: a sphere covering exactly two known voxels yields the
// hand-computed average of their series.
func TestExtractMeanOfTwoVoxels(t *testing.T) {
	vol := volume.New(2, 2, 2, 3)
	// Values chosen by hand at voxels (0,0,0) and (1,0,0).
	for ti, v := range []float64{2, 4, 6} {
		vol.Set(0, 0, 0, ti, v)
	}
	for ti, v := range []float64{10, 20, 30} {
		vol.Set(1, 0, 0, ti, v)
	}

	// Seed midway between the two voxel centres; radius 0.5 reaches both
	// centres exactly (inclusive boundary) and no others.
	sig, err := Extract([]Seed{{0.5, 0, 0}}, vol, volume.Identity(), floatPtr(0.5), nil)
	testutil.AssertNoError(t, err)

	want := []float64{6, 12, 18}
	for ti := 0; ti < 3; ti++ {
		if got := sig.At(ti, 0); got != want[ti] {
			t.Errorf("signal[%d,0] = %g, want %g", ti, got, want[ti])
		}
	}
}

// Order preservation: column i always corresponds to seed i.
func TestExtractColumnOrder(t *testing.T) {
	vol := testutil.RampVolume(4, 4, 4, 2)
	seeds := []Seed{{3, 0, 0}, {0, 3, 0}, {0, 0, 3}}

	sig, err := Extract(seeds, vol, volume.Identity(), nil, nil)
	testutil.AssertNoError(t, err)

	wantCol0 := vol.At(3, 0, 0, 0)
	wantCol1 := vol.At(0, 3, 0, 0)
	wantCol2 := vol.At(0, 0, 3, 0)
	if sig.At(0, 0) != wantCol0 || sig.At(0, 1) != wantCol1 || sig.At(0, 2) != wantCol2 {
		t.Errorf("columns [%g %g %g], want [%g %g %g]",
			sig.At(0, 0), sig.At(0, 1), sig.At(0, 2), wantCol0, wantCol1, wantCol2)
	}
}

// Shape invariant: output is always (T x N).
func TestExtractShape(t *testing.T) {
	vol := testutil.ConstantVolume(3, 4, 5, 7, 1)
	seeds := []Seed{{0, 0, 0}, {1, 1, 1}, {2, 2, 2}, {1, 2, 3}}

	sig, err := Extract(seeds, vol, volume.Identity(), floatPtr(1.5), nil)
	testutil.AssertNoError(t, err)

	rows, cols := sig.Dims()
	if rows != 7 || cols != 4 {
		t.Errorf("signal shape (%d,%d), want (7,4)", rows, cols)
	}
}

// Empty intersection: a seed far outside the volume still maps to a
// nearest voxel, but a mask excluding that voxel empties the selection and
// aborts the call.
func TestExtractEmptyIntersection(t *testing.T) {
	vol := testutil.ConstantVolume(4, 4, 4, 3, 1)

	// Mask selecting only the low corner; the distant seed's nearest
	// voxel is the opposite corner.
	mask := volume.NewMask(4, 4, 4)
	mask.Set(0, 0, 0, true)

	seeds := []Seed{{0, 0, 0}, {500, 500, 500}}
	sig, err := Extract(seeds, vol, volume.Identity(), nil, mask)
	if sig != nil {
		t.Error("expected no signal matrix on failure")
	}

	var emptyErr *EmptyIntersectionError
	if !errors.As(err, &emptyErr) {
		t.Fatalf("expected EmptyIntersectionError, got %v", err)
	}
	if emptyErr.Seed != 1 {
		t.Errorf("reported seed = %d, want 1", emptyErr.Seed)
	}
}

// With several failing seeds the lowest-index one is reported, regardless
// of worker scheduling.
func TestExtractReportsLowestFailingSeed(t *testing.T) {
	vol := testutil.ConstantVolume(4, 4, 4, 2, 1)
	mask := volume.NewMask(4, 4, 4)
	mask.Set(0, 0, 0, true)

	seeds := []Seed{
		{0, 0, 0},
		{400, 0, 0},
		{0, 400, 0},
		{0, 0, 400},
	}

	for run := 0; run < 25; run++ {
		_, err := Extract(seeds, vol, volume.Identity(), nil, mask)
		var emptyErr *EmptyIntersectionError
		if !errors.As(err, &emptyErr) {
			t.Fatalf("expected EmptyIntersectionError, got %v", err)
		}
		if emptyErr.Seed != 1 {
			t.Fatalf("run %d reported seed %d, want 1", run, emptyErr.Seed)
		}
	}
}

func TestExtractMaskShapeMismatch(t *testing.T) {
	vol := testutil.ConstantVolume(4, 4, 4, 2, 1)
	mask := volume.NewMask(3, 3, 3)

	_, err := Extract([]Seed{{0, 0, 0}}, vol, volume.Identity(), nil, mask)
	testutil.AssertError(t, err)
}

func TestExtractNoSeeds(t *testing.T) {
	vol := testutil.ConstantVolume(2, 2, 2, 3, 1)

	signals, err := Extract(nil, vol, volume.Identity(), nil, nil)
	testutil.AssertError(t, err)
	if signals != nil {
		t.Errorf("expected nil matrix, got %v", signals)
	}

	_, err = Extract([]Seed{}, vol, volume.Identity(), nil, nil)
	testutil.AssertError(t, err)
}

func TestExtractNegativeRadius(t *testing.T) {
	vol := testutil.ConstantVolume(2, 2, 2, 1, 1)
	_, err := Extract([]Seed{{0, 0, 0}}, vol, volume.Identity(), floatPtr(-1), nil)
	testutil.AssertError(t, err)
}

// Extraction does not mutate its inputs.
func TestExtractPure(t *testing.T) {
	vol := testutil.RampVolume(3, 3, 3, 2)
	before := make([]float64, len(vol.Data))
	copy(before, vol.Data)

	mask := testutil.FullMask(3, 3, 3)
	maskBefore := make([]bool, len(mask.Data))
	copy(maskBefore, mask.Data)

	_, err := Extract([]Seed{{1, 1, 1}}, vol, volume.Identity(), floatPtr(1), mask)
	testutil.AssertNoError(t, err)

	for i := range before {
		if vol.Data[i] != before[i] {
			t.Fatalf("volume mutated at offset %d", i)
		}
	}
	for i := range maskBefore {
		if mask.Data[i] != maskBefore[i] {
			t.Fatalf("mask mutated at offset %d", i)
		}
	}
}

// A scaled affine moves voxel centres in world space; membership follows
// world distance, not index distance.
func TestMembershipAnisotropicAffine(t *testing.T) {
	// 2mm spacing on x: voxel i sits at world x = 2i.
	grid := PhysicalCoords(4, 1, 1, volume.Scaling(2, 1, 1))
	sel := grid.Membership(Seed{4, 0, 0}, floatPtr(2.0))

	for i, want := range []bool{false, true, true, true} {
		if sel[i] != want {
			t.Errorf("voxel %d selected=%v, want %v", i, sel[i], want)
		}
	}
}

func TestPhysicalCoordsTranslation(t *testing.T) {
	aff := volume.Identity()
	aff[3] = -10 // x translation
	aff[7] = 5   // y translation
	grid := PhysicalCoords(2, 2, 1, aff)

	if grid.X[0] != -10 || grid.Y[0] != 5 || grid.Z[0] != 0 {
		t.Errorf("voxel (0,0,0) at world (%g,%g,%g), want (-10,5,0)", grid.X[0], grid.Y[0], grid.Z[0])
	}
	last := len(grid.X) - 1
	if grid.X[last] != -9 || grid.Y[last] != 6 {
		t.Errorf("voxel (1,1,0) at world (%g,%g), want (-9,6)", grid.X[last], grid.Y[last])
	}
}

func TestMembershipAlwaysNonEmptyPreMask(t *testing.T) {
	grid := PhysicalCoords(3, 3, 3, volume.Identity())
	seeds := []Seed{
		{-1000, 0, 0},
		{0, 1e6, 0},
		{1.5, 1.5, 1.5},
		{math.Pi, -math.E, 0.5},
	}
	for _, s := range seeds {
		for _, r := range []*float64{nil, floatPtr(0), floatPtr(1e-9), floatPtr(2)} {
			sel := grid.Membership(s, r)
			any := false
			for _, in := range sel {
				if in {
					any = true
					break
				}
			}
			if !any {
				t.Errorf("seed %v radius %v selected no voxels", s, r)
			}
		}
	}
}

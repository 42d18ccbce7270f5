// Package patching tiles batches of co-registered low-res/high-res volumes
// into fixed-size cubes for super-resolution training and evaluation, and
// reassembles model output cubes back into full volumes.
//
// Two tiling modes exist. Training mode covers each volume with
// non-overlapping cubes (stride = cube size) and samples a random subset of
// them. Evaluation mode zero-pads the volumes and slides the cube window with
// stride = cube size - 2*margin, so that after the margin is trimmed from
// every patch the trimmed cubes tile the padded interior exactly; Depatch
// inverts that tiling to recover the original volume.
package patching

import (
	"fmt"
)

// Axis indices into the [3]int fields of Geometry: depth (z), height (x),
// width (y), matching the raster order of tiling.
const (
	axisZ = 0
	axisX = 1
	axisY = 2
)

// Geometry holds the tiling parameters and the fixed volume shape they were
// tuned for. The padding amounts are pre-computed for the standard scan size;
// they are not derived from arbitrary input shapes, so Validate rejects any
// combination whose sliding window would not tile the padded volume exactly.
type Geometry struct {
	// CubeSize is the edge length of every extracted patch
	CubeSize int

	// Margin is the border thickness trimmed from each face of every patch
	// before reassembly, to suppress edge artifacts at patch boundaries.
	// Evaluation-mode stride is CubeSize - 2*Margin.
	Margin int

	// VolumeSize is the per-subject scan shape as (depth, height, width)
	VolumeSize [3]int

	// Padding is the symmetric zero border added per axis before
	// evaluation-mode tiling, as (depth, height, width)
	Padding [3]int
}

// DefaultGeometry returns the geometry of the project's standard scans:
// 64-voxel cubes with a 3-voxel margin over (192, 320, 320) volumes.
// With the (23, 17, 17) padding the evaluation window tiles each padded
// volume into a 4x6x6 grid of 144 patches per subject.
func DefaultGeometry() Geometry {
	return Geometry{
		CubeSize:   64,
		Margin:     3,
		VolumeSize: [3]int{192, 320, 320},
		Padding:    [3]int{23, 17, 17},
	}
}

// Stride returns the evaluation-mode window stride, CubeSize - 2*Margin.
func (g Geometry) Stride() int {
	return g.CubeSize - 2*g.Margin
}

// CroppedCubeSize returns the edge length of a patch after the margin has
// been trimmed from both faces of each axis. It equals the stride, which is
// what makes the trimmed patches tile the merged volume without gaps.
func (g Geometry) CroppedCubeSize() int {
	return g.Stride()
}

// PaddedSize returns the per-subject shape after zero-padding,
// VolumeSize + 2*Padding per axis.
func (g Geometry) PaddedSize() [3]int {
	var s [3]int
	for i := range s {
		s[i] = g.VolumeSize[i] + 2*g.Padding[i]
	}
	return s
}

// MergedSize returns the shape of the reassembled volume before the final
// crop, VolumeSize + 2*(Padding - Margin) per axis. It is the padded size
// minus the margin band that trimming removed from the outer faces.
func (g Geometry) MergedSize() [3]int {
	var s [3]int
	for i := range s {
		s[i] = g.VolumeSize[i] + 2*(g.Padding[i]-g.Margin)
	}
	return s
}

// GridCounts returns the number of evaluation-mode tiles along each axis,
// MergedSize / CroppedCubeSize. Validate guarantees the division is exact.
func (g Geometry) GridCounts() [3]int {
	merged := g.MergedSize()
	cropped := g.CroppedCubeSize()
	var n [3]int
	for i := range n {
		n[i] = merged[i] / cropped
	}
	return n
}

// PatchesPerSubject returns the total number of evaluation-mode patches cut
// from one subject's padded volume.
func (g Geometry) PatchesPerSubject() int {
	n := g.GridCounts()
	return n[axisZ] * n[axisX] * n[axisY]
}

// TileOffsets returns the start offset of every evaluation-mode window in
// the padded volume, in raster order (depth-major, then height, then width).
// The same order is produced by PatchForEvaluation and consumed by Depatch.
func (g Geometry) TileOffsets() [][3]int {
	n := g.GridCounts()
	stride := g.Stride()
	offsets := make([][3]int, 0, g.PatchesPerSubject())
	for i := 0; i < n[axisZ]; i++ {
		for j := 0; j < n[axisX]; j++ {
			for k := 0; k < n[axisY]; k++ {
				offsets = append(offsets, [3]int{i * stride, j * stride, k * stride})
			}
		}
	}
	return offsets
}

// Validate checks the internal consistency of the geometry. Every failure is
// a caller contract violation: the padding constants are tuned to a specific
// volume size, and a combination that does not tile exactly is rejected
// instead of being silently truncated.
func (g Geometry) Validate() error {
	if g.CubeSize <= 0 {
		return fmt.Errorf("cube size must be positive, got %d", g.CubeSize)
	}
	if g.Margin < 0 {
		return fmt.Errorf("margin must be non-negative, got %d", g.Margin)
	}
	if g.CubeSize <= 2*g.Margin {
		return fmt.Errorf("cube size %d must exceed twice the margin %d", g.CubeSize, g.Margin)
	}
	for i, name := range [3]string{"depth", "height", "width"} {
		if g.VolumeSize[i] <= 0 {
			return fmt.Errorf("volume %s must be positive, got %d", name, g.VolumeSize[i])
		}
		if g.Padding[i] < g.Margin {
			return fmt.Errorf("%s padding %d is smaller than margin %d; the final crop would exceed the merged volume",
				name, g.Padding[i], g.Margin)
		}
	}
	merged := g.MergedSize()
	cropped := g.CroppedCubeSize()
	for i, name := range [3]string{"depth", "height", "width"} {
		if merged[i]%cropped != 0 {
			return fmt.Errorf("%s: merged size %d is not divisible by stride %d; padding %d does not tile volume size %d exactly",
				name, merged[i], cropped, g.Padding[i], g.VolumeSize[i])
		}
	}
	return nil
}

// validateTraining checks that the volume dimensions admit a non-overlapping
// cover by cubes of CubeSize, which training mode requires.
func (g Geometry) validateTraining(depth, height, width int) error {
	for _, d := range []struct {
		name string
		size int
	}{{"depth", depth}, {"height", height}, {"width", width}} {
		if d.size%g.CubeSize != 0 {
			return fmt.Errorf("training tiling requires %s %d to be a multiple of cube size %d",
				d.name, d.size, g.CubeSize)
		}
	}
	return nil
}

package patching

import (
	"fmt"
	"sync"

	"mripatch3d/pkg/volume"
)

// TraceFunc receives optional diagnostic messages from the reconstruction
// algorithm. It exists so callers can observe the intermediate shapes without
// the algorithm printing anything itself.
type TraceFunc func(format string, args ...any)

// DepatchOptions tunes reconstruction behavior. The zero value is valid:
// no tracing, sequential reassembly.
type DepatchOptions struct {
	// Trace, when non-nil, receives diagnostic messages about the
	// intermediate grid and volume shapes.
	Trace TraceFunc

	// Parallel reassembles subjects in separate goroutines. Each subject's
	// scatter writes a disjoint region, so no synchronization beyond the
	// final join is needed.
	Parallel bool
}

// Depatch inverts the evaluation-mode tiling: it trims the margin from every
// face of every patch, scatters the trimmed cubes back into a merged grid in
// the same raster order PatchForEvaluation produced them, and crops the
// remaining padding to recover volumes of the original size.
//
// patches must hold batchSize * geom.PatchesPerSubject() single-channel
// cubes of edge geom.CubeSize, in evaluation raster order. The trimmed cubes
// tile the merged volume disjointly, so no blending happens at seams. The
// output keeps the normalized [0, 1] float scale of the model's patches;
// rescaling to the raw intensity range is the caller's concern.
func Depatch(patches *volume.Tensor, batchSize int, geom Geometry, opts *DepatchOptions) (*volume.FloatVolume, error) {
	if opts == nil {
		opts = &DepatchOptions{}
	}
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if patches.C != 1 {
		return nil, fmt.Errorf("expected single-channel patches, got %d channels", patches.C)
	}
	if patches.D != geom.CubeSize || patches.H != geom.CubeSize || patches.W != geom.CubeSize {
		return nil, fmt.Errorf("patch shape (%d,%d,%d) does not match cube size %d",
			patches.D, patches.H, patches.W, geom.CubeSize)
	}
	perSubject := geom.PatchesPerSubject()
	if patches.N != batchSize*perSubject {
		return nil, fmt.Errorf("got %d patches, want %d (%d subjects x %d patches each)",
			patches.N, batchSize*perSubject, batchSize, perSubject)
	}

	grid := geom.GridCounts()
	cropped := geom.CroppedCubeSize()
	merged := geom.MergedSize()
	trace(opts.Trace, "reassembling %d subjects from %dx%dx%d grids of %d^3 cubes (trimmed from %d^3)",
		batchSize, grid[axisZ], grid[axisX], grid[axisY], cropped, geom.CubeSize)

	out, err := volume.NewFloatVolume(batchSize,
		geom.VolumeSize[axisZ], geom.VolumeSize[axisX], geom.VolumeSize[axisY])
	if err != nil {
		return nil, err
	}

	if opts.Parallel && batchSize > 1 {
		var wg sync.WaitGroup
		for b := 0; b < batchSize; b++ {
			wg.Add(1)
			go func(b int) {
				defer wg.Done()
				depatchSubject(patches, out, b, geom)
			}(b)
		}
		wg.Wait()
	} else {
		for b := 0; b < batchSize; b++ {
			depatchSubject(patches, out, b, geom)
		}
	}

	trace(opts.Trace, "merged %v volumes cropped to (%d,%d,%d)",
		merged, out.Depth, out.Height, out.Width)
	return out, nil
}

// depatchSubject reassembles one subject. It scatters each trimmed cube into
// the subject's merged volume, then copies the interior crop into out.
// Distinct subjects touch disjoint regions of out.
func depatchSubject(patches *volume.Tensor, out *volume.FloatVolume, b int, geom Geometry) {
	grid := geom.GridCounts()
	cropped := geom.CroppedCubeSize()
	mergedSize := geom.MergedSize()
	margin := geom.Margin
	cube := geom.CubeSize
	perSubject := geom.PatchesPerSubject()

	merged := make([]float64, mergedSize[axisZ]*mergedSize[axisX]*mergedSize[axisY])
	for i := 0; i < grid[axisZ]; i++ {
		for j := 0; j < grid[axisX]; j++ {
			for k := 0; k < grid[axisY]; k++ {
				p := b*perSubject + (i*grid[axisX]+j)*grid[axisY] + k
				src := patches.Sample(p)
				// Copy the trimmed interior of the patch into its grid cell.
				for z := 0; z < cropped; z++ {
					for x := 0; x < cropped; x++ {
						srcRow := ((z+margin)*cube+x+margin)*cube + margin
						dstRow := ((i*cropped+z)*mergedSize[axisX]+j*cropped+x)*mergedSize[axisY] + k*cropped
						copy(merged[dstRow:dstRow+cropped], src[srcRow:srcRow+cropped])
					}
				}
			}
		}
	}

	// Crop the residual padding (padding minus the margin already trimmed)
	// to return to the original volume size.
	cropZ := geom.Padding[axisZ] - margin
	cropX := geom.Padding[axisX] - margin
	cropY := geom.Padding[axisY] - margin
	dst := out.Subject(b)
	for z := 0; z < out.Depth; z++ {
		for x := 0; x < out.Height; x++ {
			srcRow := ((z+cropZ)*mergedSize[axisX]+x+cropX)*mergedSize[axisY] + cropY
			dstRow := (z*out.Height + x) * out.Width
			copy(dst[dstRow:dstRow+out.Width], merged[srcRow:srcRow+out.Width])
		}
	}
}

func trace(fn TraceFunc, format string, args ...any) {
	if fn != nil {
		fn(format, args...)
	}
}

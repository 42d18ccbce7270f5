package patching

import (
	"fmt"
	"math/rand"
	"time"

	"mripatch3d/pkg/volume"
)

// DefaultBatchSize is the number of patch pairs grouped per yielded
// mini-batch when the caller does not specify one.
const DefaultBatchSize = 2

// PatchBatch is one mini-batch of normalized patch pairs, each tensor shaped
// (n, 1, cube, cube, cube) where n is the batch size or the final remainder.
type PatchBatch struct {
	LR, HR *volume.Tensor
}

// Loader is a finite, single-pass stream of mini-batches over a PatchIndex.
// It is not safe for concurrent use; recreate or Reset it to iterate again.
type Loader struct {
	index     *PatchIndex
	order     []int
	batchSize int
	pos       int
}

// Len returns the total number of patch pairs the loader will yield.
func (l *Loader) Len() int {
	return len(l.order)
}

// NumBatches returns the number of mini-batches the loader will yield,
// including a final partial batch if the count does not divide evenly.
func (l *Loader) NumBatches() int {
	return (len(l.order) + l.batchSize - 1) / l.batchSize
}

// Reset rewinds the loader to the first mini-batch without reshuffling.
func (l *Loader) Reset() {
	l.pos = 0
}

// Indices returns a copy of the patch indices the loader yields, in yield
// order. In training mode this is the sampled shuffled subset; in evaluation
// mode it is the full raster-order range.
func (l *Loader) Indices() []int {
	out := make([]int, len(l.order))
	copy(out, l.order)
	return out
}

// Next yields the next mini-batch, or ok=false once the stream is exhausted.
func (l *Loader) Next() (batch *PatchBatch, ok bool) {
	if l.pos >= len(l.order) {
		return nil, false
	}
	n := l.batchSize
	if remaining := len(l.order) - l.pos; remaining < n {
		n = remaining
	}
	cube := l.index.CubeSize()
	// Allocation cannot fail here: n and cube are positive.
	lr, _ := volume.NewTensor(n, 1, cube, cube, cube)
	hr, _ := volume.NewTensor(n, 1, cube, cube, cube)
	for i := 0; i < n; i++ {
		lrCube, hrCube, err := l.index.At(l.order[l.pos+i])
		if err != nil {
			// order only ever holds indices validated at construction
			panic(fmt.Sprintf("patching: corrupt loader order: %v", err))
		}
		copy(lr.Sample(i), lrCube.Data)
		copy(hr.Sample(i), hrCube.Data)
	}
	l.pos += n
	return &PatchBatch{LR: lr, HR: hr}, true
}

// TrainingOptions controls random patch sampling in training mode.
type TrainingOptions struct {
	// BatchSize is the number of patch pairs per mini-batch;
	// zero or negative selects DefaultBatchSize.
	BatchSize int

	// Usage is the fraction of available patches to sample, in (0, 1].
	// The zero value selects 1.0 (use every patch).
	Usage float64

	// Exclusions lists patch indices to omit before sampling. Nil or empty
	// means no exclusions.
	Exclusions ExclusionSet

	// Rand is the source of the sampling shuffle. Nil selects a source
	// seeded from the current time; supply a seeded *rand.Rand for
	// reproducible sampling.
	Rand *rand.Rand
}

// PatchForTraining tiles the low-res/high-res volume pair with
// non-overlapping cubes (stride equal to the cube size, no padding), then
// samples a random subset of the resulting patch pairs for one training pass.
//
// The full index range is built in raster order, the exclusion set is
// removed, the remainder is shuffled uniformly, and the first
// floor(usage * numPatches) indices are kept. The returned loader streams
// those sampled pairs in their shuffled order, grouped into mini-batches.
//
// The volume pair must agree in shape and every spatial dimension must be an
// exact multiple of the cube size; violations are caller contract errors.
func PatchForTraining(lr, hr *volume.Volume, geom Geometry, opts TrainingOptions) (*Loader, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	if !lr.SameShape(hr) {
		return nil, fmt.Errorf("low-res shape (%d,%d,%d,%d) does not match high-res shape (%d,%d,%d,%d)",
			lr.Batch, lr.Depth, lr.Height, lr.Width, hr.Batch, hr.Depth, hr.Height, hr.Width)
	}
	if err := geom.validateTraining(lr.Depth, lr.Height, lr.Width); err != nil {
		return nil, err
	}
	usage := opts.Usage
	if usage == 0 {
		usage = 1.0
	}
	if usage < 0 || usage > 1 {
		return nil, fmt.Errorf("usage must be in (0, 1], got %v", opts.Usage)
	}

	index, err := unfoldPair(lr, hr, geom.CubeSize, geom.CubeSize)
	if err != nil {
		return nil, err
	}

	numPatches := index.Len()
	take := int(usage * float64(numPatches))
	candidates := make([]int, 0, numPatches)
	for i := 0; i < numPatches; i++ {
		if !opts.Exclusions.Contains(i) {
			candidates = append(candidates, i)
		}
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	// The usage fraction is taken of the full patch count; with a non-empty
	// exclusion set fewer candidates may remain than the fraction asks for.
	if take > len(candidates) {
		take = len(candidates)
	}

	return &Loader{
		index:     index,
		order:     candidates[:take],
		batchSize: normalizeBatchSize(opts.BatchSize),
	}, nil
}

// PatchForEvaluation zero-pads the volume pair per the geometry and tiles it
// with a sliding window of the cube size and stride cubeSize - 2*margin, in
// raster order (depth-major, then height, then width). Every patch pair is
// yielded exactly once, in order, with no shuffling or subsampling; the order
// is the contract Depatch relies on to reassemble the volume.
func PatchForEvaluation(lr, hr *volume.Volume, geom Geometry, batchSize int) (*Loader, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	if !lr.SameShape(hr) {
		return nil, fmt.Errorf("low-res shape (%d,%d,%d,%d) does not match high-res shape (%d,%d,%d,%d)",
			lr.Batch, lr.Depth, lr.Height, lr.Width, hr.Batch, hr.Depth, hr.Height, hr.Width)
	}
	if [3]int{lr.Depth, lr.Height, lr.Width} != geom.VolumeSize {
		return nil, fmt.Errorf("volume shape (%d,%d,%d) does not match configured size (%d,%d,%d); the padding constants are tuned to that size",
			lr.Depth, lr.Height, lr.Width,
			geom.VolumeSize[axisZ], geom.VolumeSize[axisX], geom.VolumeSize[axisY])
	}

	lrPadded := padVolume(lr, geom.Padding)
	hrPadded := padVolume(hr, geom.Padding)
	index, err := unfoldPair(lrPadded, hrPadded, geom.CubeSize, geom.Stride())
	if err != nil {
		return nil, err
	}

	order := make([]int, index.Len())
	for i := range order {
		order[i] = i
	}
	return &Loader{
		index:     index,
		order:     order,
		batchSize: normalizeBatchSize(batchSize),
	}, nil
}

func normalizeBatchSize(n int) int {
	if n <= 0 {
		return DefaultBatchSize
	}
	return n
}

// unfoldPair tiles both volumes with an identical sliding window and wraps
// the two flat patch buffers in a PatchIndex.
func unfoldPair(lr, hr *volume.Volume, cubeSize, stride int) (*PatchIndex, error) {
	lrPatches, err := unfold(lr, cubeSize, stride)
	if err != nil {
		return nil, err
	}
	hrPatches, err := unfold(hr, cubeSize, stride)
	if err != nil {
		return nil, err
	}
	return NewPatchIndex(lrPatches, hrPatches, cubeSize)
}

// unfold cuts every sliding-window cube out of the volume into one flat
// buffer, subject-major then raster order (depth, height, width). The window
// must cover each axis exactly: (dim - cubeSize) divisible by stride with no
// leftover region.
func unfold(v *volume.Volume, cubeSize, stride int) ([]uint16, error) {
	counts, err := windowCounts(v, cubeSize, stride)
	if err != nil {
		return nil, err
	}
	nz, nx, ny := counts[axisZ], counts[axisX], counts[axisY]
	voxels := cubeSize * cubeSize * cubeSize
	out := make([]uint16, v.Batch*nz*nx*ny*voxels)

	pos := 0
	for b := 0; b < v.Batch; b++ {
		for i := 0; i < nz; i++ {
			for j := 0; j < nx; j++ {
				for k := 0; k < ny; k++ {
					copyCube(out[pos:pos+voxels], v, b, i*stride, j*stride, k*stride, cubeSize)
					pos += voxels
				}
			}
		}
	}
	return out, nil
}

// windowCounts returns the number of sliding-window positions per spatial
// axis, erroring if the window does not cover an axis exactly.
func windowCounts(v *volume.Volume, cubeSize, stride int) ([3]int, error) {
	dims := [3]int{v.Depth, v.Height, v.Width}
	var counts [3]int
	for i, name := range [3]string{"depth", "height", "width"} {
		if dims[i] < cubeSize {
			return counts, fmt.Errorf("%s %d is smaller than cube size %d", name, dims[i], cubeSize)
		}
		if (dims[i]-cubeSize)%stride != 0 {
			return counts, fmt.Errorf("%s %d cannot be tiled exactly by windows of %d with stride %d",
				name, dims[i], cubeSize, stride)
		}
		counts[i] = (dims[i]-cubeSize)/stride + 1
	}
	return counts, nil
}

// copyCube copies the cube starting at (z0, x0, y0) of subject b into dst,
// row by row.
func copyCube(dst []uint16, v *volume.Volume, b, z0, x0, y0, cubeSize int) {
	pos := 0
	for z := z0; z < z0+cubeSize; z++ {
		for x := x0; x < x0+cubeSize; x++ {
			src := ((b*v.Depth+z)*v.Height + x) * v.Width
			copy(dst[pos:pos+cubeSize], v.Data[src+y0:src+y0+cubeSize])
			pos += cubeSize
		}
	}
}

// padVolume returns a copy of v with a symmetric zero border added per axis.
// The original data sits centered in the interior; the border stays zero.
func padVolume(v *volume.Volume, padding [3]int) *volume.Volume {
	// Geometry validation already rejected non-positive shapes.
	padded, _ := volume.NewVolume(v.Batch,
		v.Depth+2*padding[axisZ],
		v.Height+2*padding[axisX],
		v.Width+2*padding[axisY])
	for b := 0; b < v.Batch; b++ {
		for z := 0; z < v.Depth; z++ {
			for x := 0; x < v.Height; x++ {
				src := ((b*v.Depth+z)*v.Height + x) * v.Width
				dstRow := ((b*padded.Depth+z+padding[axisZ])*padded.Height + x + padding[axisX]) * padded.Width
				copy(padded.Data[dstRow+padding[axisY]:dstRow+padding[axisY]+v.Width],
					v.Data[src:src+v.Width])
			}
		}
	}
	return padded
}

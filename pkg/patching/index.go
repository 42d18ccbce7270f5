package patching

import (
	"fmt"

	"mripatch3d/pkg/volume"
)

// PatchIndex is a random-access container over a paired set of raw low-res
// and high-res patches cut at identical offsets. The underlying cubes stay
// in compact uint16 form; normalization to [0.0, 1.0] floats happens lazily
// in At, at the moment a patch pair is consumed.
type PatchIndex struct {
	lr, hr   []uint16
	cubeSize int
	count    int
}

// NewPatchIndex wraps two flat patch buffers, each holding count cubes of
// cubeSize voxels per edge in raster order. Both buffers must contain the
// same number of cubes; a mismatch means the caller broke the co-registration
// contract between the low-res and high-res volumes.
func NewPatchIndex(lr, hr []uint16, cubeSize int) (*PatchIndex, error) {
	if cubeSize <= 0 {
		return nil, fmt.Errorf("cube size must be positive, got %d", cubeSize)
	}
	voxels := cubeSize * cubeSize * cubeSize
	if len(lr)%voxels != 0 || len(hr)%voxels != 0 {
		return nil, fmt.Errorf("patch buffers (%d, %d values) are not whole multiples of cube volume %d",
			len(lr), len(hr), voxels)
	}
	if len(lr) != len(hr) {
		return nil, fmt.Errorf("low-res and high-res patch counts differ: %d vs %d",
			len(lr)/voxels, len(hr)/voxels)
	}
	return &PatchIndex{
		lr:       lr,
		hr:       hr,
		cubeSize: cubeSize,
		count:    len(lr) / voxels,
	}, nil
}

// Len returns the number of patch pairs in the index.
func (p *PatchIndex) Len() int {
	return p.count
}

// CubeSize returns the edge length of every cube in the index.
func (p *PatchIndex) CubeSize() int {
	return p.cubeSize
}

// At returns the normalized patch pair at index i as two (1, 1, c, c, c)
// tensors: the raw cubes converted to float64, divided by the 12-bit maximum,
// with a leading singleton channel axis. At is a pure function of the stored
// data and is safe to call concurrently for distinct indices.
func (p *PatchIndex) At(i int) (lr, hr *volume.Tensor, err error) {
	if i < 0 || i >= p.count {
		return nil, nil, fmt.Errorf("patch index %d out of range [0, %d)", i, p.count)
	}
	voxels := p.cubeSize * p.cubeSize * p.cubeSize
	lr = normalizeCube(p.lr[i*voxels:(i+1)*voxels], p.cubeSize)
	hr = normalizeCube(p.hr[i*voxels:(i+1)*voxels], p.cubeSize)
	return lr, hr, nil
}

// normalizeCube converts one raw cube to a (1, 1, c, c, c) float tensor
// scaled onto [0.0, 1.0]. Division, not multiplication by a reciprocal:
// the round trip back to raw intensities must be bit-exact.
func normalizeCube(raw []uint16, cubeSize int) *volume.Tensor {
	data := make([]float64, len(raw))
	for i, v := range raw {
		data[i] = float64(v) / float64(volume.MaxIntensity)
	}
	return &volume.Tensor{
		Data: data,
		N:    1, C: 1, D: cubeSize, H: cubeSize, W: cubeSize,
	}
}

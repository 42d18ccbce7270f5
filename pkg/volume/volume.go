// Package volume defines the in-memory data model shared by the patching
// pipeline: raw 12-bit volumetric scans, normalized patch tensors, and
// reconstructed floating-point volumes.
package volume

import (
	"fmt"
)

// MaxIntensity is the largest raw voxel value the scanner produces.
// The data is 12-bit (0-4095) stored in a 16-bit container; normalization
// divides by this value to map raw intensities onto [0.0, 1.0].
const MaxIntensity = 4095

// Volume is a batch of co-registered 3D scans with raw integer intensities.
// Data is laid out flat in row-major order as (Batch, Depth, Height, Width),
// so the voxel at (b, z, x, y) lives at ((b*Depth+z)*Height+x)*Width+y.
type Volume struct {
	// Data holds the raw voxel intensities, each in [0, MaxIntensity]
	Data []uint16

	// Batch is the number of subjects in this volume
	Batch int

	// Depth, Height, Width are the spatial dimensions per subject
	Depth, Height, Width int
}

// NewVolume allocates a zero-filled volume with the given shape.
func NewVolume(batch, depth, height, width int) (*Volume, error) {
	if batch <= 0 || depth <= 0 || height <= 0 || width <= 0 {
		return nil, fmt.Errorf("volume dimensions must be positive, got (%d,%d,%d,%d)",
			batch, depth, height, width)
	}
	return &Volume{
		Data:   make([]uint16, batch*depth*height*width),
		Batch:  batch,
		Depth:  depth,
		Height: height,
		Width:  width,
	}, nil
}

// NewVolumeFrom wraps an existing flat buffer as a volume.
// The buffer length must match the product of the dimensions exactly.
func NewVolumeFrom(data []uint16, batch, depth, height, width int) (*Volume, error) {
	v, err := NewVolume(batch, depth, height, width)
	if err != nil {
		return nil, err
	}
	if len(data) != len(v.Data) {
		return nil, fmt.Errorf("buffer length %d does not match shape (%d,%d,%d,%d) = %d",
			len(data), batch, depth, height, width, len(v.Data))
	}
	v.Data = data
	return v, nil
}

// SameShape reports whether v and o have identical dimensions on every axis.
// Low-res and high-res volumes travel in pairs and must always agree in shape.
func (v *Volume) SameShape(o *Volume) bool {
	return v.Batch == o.Batch && v.Depth == o.Depth &&
		v.Height == o.Height && v.Width == o.Width
}

// VoxelsPerSubject returns the number of voxels in one subject's scan.
func (v *Volume) VoxelsPerSubject() int {
	return v.Depth * v.Height * v.Width
}

// At returns the raw intensity at (b, z, x, y).
func (v *Volume) At(b, z, x, y int) uint16 {
	return v.Data[((b*v.Depth+z)*v.Height+x)*v.Width+y]
}

// Set stores a raw intensity at (b, z, x, y).
func (v *Volume) Set(b, z, x, y int, value uint16) {
	v.Data[((b*v.Depth+z)*v.Height+x)*v.Width+y] = value
}

// Tensor is a dense 5D float64 tensor shaped (N, C, D, H, W) in row-major
// order. It carries normalized patches between the patcher, the external
// model, and the depatcher. N is the number of samples in the batch and C
// the channel count (1 for grayscale MRI).
type Tensor struct {
	Data          []float64
	N, C, D, H, W int
}

// NewTensor allocates a zero-filled tensor with the given shape.
func NewTensor(n, c, d, h, w int) (*Tensor, error) {
	if n <= 0 || c <= 0 || d <= 0 || h <= 0 || w <= 0 {
		return nil, fmt.Errorf("tensor dimensions must be positive, got (%d,%d,%d,%d,%d)",
			n, c, d, h, w)
	}
	return &Tensor{
		Data: make([]float64, n*c*d*h*w),
		N:    n, C: c, D: d, H: h, W: w,
	}, nil
}

// SampleSize returns the number of values in one sample (C*D*H*W).
func (t *Tensor) SampleSize() int {
	return t.C * t.D * t.H * t.W
}

// Sample returns the flat data of sample i as a sub-slice of the tensor
// buffer. The returned slice aliases the tensor; it is not a copy.
func (t *Tensor) Sample(i int) []float64 {
	size := t.SampleSize()
	return t.Data[i*size : (i+1)*size]
}

// FloatVolume is a batch of reconstructed volumes with normalized float64
// intensities, shaped (Batch, Depth, Height, Width) flat in row-major order.
// It is the output type of depatching.
type FloatVolume struct {
	Data []float64

	Batch                int
	Depth, Height, Width int
}

// NewFloatVolume allocates a zero-filled float volume with the given shape.
func NewFloatVolume(batch, depth, height, width int) (*FloatVolume, error) {
	if batch <= 0 || depth <= 0 || height <= 0 || width <= 0 {
		return nil, fmt.Errorf("volume dimensions must be positive, got (%d,%d,%d,%d)",
			batch, depth, height, width)
	}
	return &FloatVolume{
		Data:   make([]float64, batch*depth*height*width),
		Batch:  batch,
		Depth:  depth,
		Height: height,
		Width:  width,
	}, nil
}

// At returns the intensity at (b, z, x, y).
func (v *FloatVolume) At(b, z, x, y int) float64 {
	return v.Data[((b*v.Depth+z)*v.Height+x)*v.Width+y]
}

// Subject returns the flat data of subject b as a sub-slice of the volume
// buffer. The returned slice aliases the volume; it is not a copy.
func (v *FloatVolume) Subject(b int) []float64 {
	size := v.Depth * v.Height * v.Width
	return v.Data[b*size : (b+1)*size]
}

package volume

import (
	"fmt"

	"github.com/kshedden/gonpy"
)

// ReadVolume reads a raw uint16 volume from a NumPy .npy file.
// The array must be 4-dimensional (batch, depth, height, width) with dtype
// uint16, which is how the acquisition pipeline exports scans.
func ReadVolume(path string) (*Volume, error) {
	r, err := gonpy.NewFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open npy file %s: %w", path, err)
	}
	if len(r.Shape) != 4 {
		return nil, fmt.Errorf("expected 4D (batch, depth, height, width) array in %s, got shape %v",
			path, r.Shape)
	}
	if r.ColumnMajor {
		return nil, fmt.Errorf("column-major npy arrays are not supported: %s", path)
	}
	data, err := r.GetUint16()
	if err != nil {
		return nil, fmt.Errorf("failed to read uint16 data from %s: %w", path, err)
	}
	return NewVolumeFrom(data, r.Shape[0], r.Shape[1], r.Shape[2], r.Shape[3])
}

// WriteVolume writes a raw uint16 volume to a NumPy .npy file.
func WriteVolume(path string, v *Volume) error {
	w, err := gonpy.NewFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create npy file %s: %w", path, err)
	}
	w.Shape = []int{v.Batch, v.Depth, v.Height, v.Width}
	w.Version = 2
	if err := w.WriteUint16(v.Data); err != nil {
		return fmt.Errorf("failed to write npy file %s: %w", path, err)
	}
	return nil
}

// ReadFloatVolume reads a normalized float64 volume from a NumPy .npy file.
func ReadFloatVolume(path string) (*FloatVolume, error) {
	r, err := gonpy.NewFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open npy file %s: %w", path, err)
	}
	if len(r.Shape) != 4 {
		return nil, fmt.Errorf("expected 4D (batch, depth, height, width) array in %s, got shape %v",
			path, r.Shape)
	}
	if r.ColumnMajor {
		return nil, fmt.Errorf("column-major npy arrays are not supported: %s", path)
	}
	data, err := r.GetFloat64()
	if err != nil {
		return nil, fmt.Errorf("failed to read float64 data from %s: %w", path, err)
	}
	v, err := NewFloatVolume(r.Shape[0], r.Shape[1], r.Shape[2], r.Shape[3])
	if err != nil {
		return nil, err
	}
	if len(data) != len(v.Data) {
		return nil, fmt.Errorf("buffer length %d does not match shape %v in %s",
			len(data), r.Shape, path)
	}
	v.Data = data
	return v, nil
}

// WriteFloatVolume writes a normalized float64 volume to a NumPy .npy file.
func WriteFloatVolume(path string, v *FloatVolume) error {
	w, err := gonpy.NewFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create npy file %s: %w", path, err)
	}
	w.Shape = []int{v.Batch, v.Depth, v.Height, v.Width}
	w.Version = 2
	if err := w.WriteFloat64(v.Data); err != nil {
		return fmt.Errorf("failed to write npy file %s: %w", path, err)
	}
	return nil
}

// Package visualization exports 2D slice views of reconstructed volumes as
// image files, for visual inspection of super-resolution output.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"mripatch3d/pkg/volume"
)

// Viewer extracts and saves 2D slices of a reconstructed volume batch.
// Intensities are expected on the normalized [0, 1] scale produced by
// depatching and are mapped onto the full 16-bit grayscale range.
type Viewer struct {
	vol *volume.FloatVolume
}

// NewViewer creates a viewer over a reconstructed volume batch.
func NewViewer(vol *volume.FloatVolume) *Viewer {
	return &Viewer{vol: vol}
}

// ExtractSlice extracts a 2D slice of one subject along the specified axis:
// "z" cuts across depth (a height x width image), "x" across height
// (a depth x width image), "y" across width (a depth x height image).
func (v *Viewer) ExtractSlice(subject int, axis string, position int) (image.Image, error) {
	if subject < 0 || subject >= v.vol.Batch {
		return nil, fmt.Errorf("subject %d out of range [0, %d)", subject, v.vol.Batch)
	}
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.Gray16

	switch axis {
	case "z", "Z":
		if position >= v.vol.Depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.vol.Depth)
		}
		img = image.NewGray16(image.Rect(0, 0, v.vol.Width, v.vol.Height))
		for h := 0; h < v.vol.Height; h++ {
			for w := 0; w < v.vol.Width; w++ {
				img.SetGray16(w, h, gray16(v.vol.At(subject, position, h, w)))
			}
		}

	case "x", "X":
		if position >= v.vol.Height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.vol.Height)
		}
		img = image.NewGray16(image.Rect(0, 0, v.vol.Width, v.vol.Depth))
		for z := 0; z < v.vol.Depth; z++ {
			for w := 0; w < v.vol.Width; w++ {
				img.SetGray16(w, z, gray16(v.vol.At(subject, z, position, w)))
			}
		}

	case "y", "Y":
		if position >= v.vol.Width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.vol.Width)
		}
		img = image.NewGray16(image.Rect(0, 0, v.vol.Height, v.vol.Depth))
		for z := 0; z < v.vol.Depth; z++ {
			for h := 0; h < v.vol.Height; h++ {
				img.SetGray16(h, z, gray16(v.vol.At(subject, z, h, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// gray16 maps a normalized intensity onto the 16-bit grayscale range,
// clamping values the model produced outside [0, 1].
func gray16(value float64) color.Gray16 {
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, value*65535)))}
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves every slice of one subject along the
// specified axis into outputDir.
func (v *Viewer) SaveSliceSequence(subject int, axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "z", "Z":
		maxPos = v.vol.Depth
	case "x", "X":
		maxPos = v.vol.Height
	case "y", "Y":
		maxPos = v.vol.Width
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(subject, axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("subject_%02d_slice_%s_%03d.jpg", subject, axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

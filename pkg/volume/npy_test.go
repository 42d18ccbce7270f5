package volume

import (
	"path/filepath"
	"testing"

	"github.com/kshedden/gonpy"
)

func TestVolumeNpyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volume.npy")

	v, err := NewVolume(2, 3, 4, 5)
	if err != nil {
		t.Fatalf("NewVolume failed: %v", err)
	}
	for i := range v.Data {
		v.Data[i] = uint16(i % (MaxIntensity + 1))
	}

	if err := WriteVolume(path, v); err != nil {
		t.Fatalf("WriteVolume failed: %v", err)
	}
	got, err := ReadVolume(path)
	if err != nil {
		t.Fatalf("ReadVolume failed: %v", err)
	}

	if !got.SameShape(v) {
		t.Fatalf("shape (%d,%d,%d,%d), want (%d,%d,%d,%d)",
			got.Batch, got.Depth, got.Height, got.Width, v.Batch, v.Depth, v.Height, v.Width)
	}
	for i := range v.Data {
		if got.Data[i] != v.Data[i] {
			t.Fatalf("voxel %d = %d, want %d", i, got.Data[i], v.Data[i])
		}
	}
}

func TestFloatVolumeNpyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "float_volume.npy")

	v, err := NewFloatVolume(1, 2, 3, 4)
	if err != nil {
		t.Fatalf("NewFloatVolume failed: %v", err)
	}
	for i := range v.Data {
		v.Data[i] = float64(i) / float64(len(v.Data))
	}

	if err := WriteFloatVolume(path, v); err != nil {
		t.Fatalf("WriteFloatVolume failed: %v", err)
	}
	got, err := ReadFloatVolume(path)
	if err != nil {
		t.Fatalf("ReadFloatVolume failed: %v", err)
	}

	if got.Batch != 1 || got.Depth != 2 || got.Height != 3 || got.Width != 4 {
		t.Fatalf("unexpected shape (%d,%d,%d,%d)", got.Batch, got.Depth, got.Height, got.Width)
	}
	for i := range v.Data {
		if got.Data[i] != v.Data[i] {
			t.Fatalf("voxel %d = %v, want %v", i, got.Data[i], v.Data[i])
		}
	}
}

func TestReadVolumeRejectsWrongRank(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flat.npy")
	w, err := gonpy.NewFileWriter(path)
	if err != nil {
		t.Fatalf("failed to create npy file: %v", err)
	}
	w.Shape = []int{6}
	w.Version = 2
	if err := w.WriteUint16(make([]uint16, 6)); err != nil {
		t.Fatalf("failed to write npy file: %v", err)
	}

	if _, err := ReadVolume(path); err == nil {
		t.Error("1D array was accepted as a volume")
	}
}

func TestReadVolumeMissingFile(t *testing.T) {
	if _, err := ReadVolume(filepath.Join(t.TempDir(), "absent.npy")); err == nil {
		t.Error("missing file was accepted")
	}
}

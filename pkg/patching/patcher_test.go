package patching

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"mripatch3d/pkg/volume"
)

// testGeometry returns a small geometry whose arithmetic mirrors the
// production one: 4-voxel cubes with a 1-voxel margin (stride 2) over
// (8, 12, 16) volumes. The evaluation grid is 4x6x8 = 192 patches per
// subject; training mode tiles 2x3x4 = 24 patches per subject.
func testGeometry() Geometry {
	return Geometry{
		CubeSize:   4,
		Margin:     1,
		VolumeSize: [3]int{8, 12, 16},
		Padding:    [3]int{1, 1, 1},
	}
}

// rampVolume fills a volume with a deterministic ramp so that every voxel is
// identifiable after tiling.
func rampVolume(t *testing.T, batch int, g Geometry) *volume.Volume {
	t.Helper()
	v, err := volume.NewVolume(batch, g.VolumeSize[0], g.VolumeSize[1], g.VolumeSize[2])
	if err != nil {
		t.Fatalf("failed to allocate volume: %v", err)
	}
	for i := range v.Data {
		v.Data[i] = uint16(i % (volume.MaxIntensity + 1))
	}
	return v
}

// denormalize inverts the [0, 1] scaling back to a raw intensity.
func denormalize(x float64) uint16 {
	return uint16(math.Round(x * volume.MaxIntensity))
}

// drain collects every mini-batch of the loader.
func drain(t *testing.T, l *Loader) []*PatchBatch {
	t.Helper()
	var batches []*PatchBatch
	for {
		b, ok := l.Next()
		if !ok {
			break
		}
		batches = append(batches, b)
	}
	return batches
}

func TestTrainingTilingCompleteness(t *testing.T) {
	g := testGeometry()
	lr := rampVolume(t, 1, g)
	hr := rampVolume(t, 1, g)

	loader, err := PatchForTraining(lr, hr, g, TrainingOptions{
		BatchSize: 4,
		Rand:      rand.New(rand.NewSource(1)),
	})
	if err != nil {
		t.Fatalf("PatchForTraining failed: %v", err)
	}

	wantPatches := (g.VolumeSize[0] / g.CubeSize) * (g.VolumeSize[1] / g.CubeSize) * (g.VolumeSize[2] / g.CubeSize)
	if loader.Len() != wantPatches {
		t.Fatalf("sampled %d patches, want %d", loader.Len(), wantPatches)
	}

	// With usage 1.0 every index appears exactly once
	indices := loader.Indices()
	sort.Ints(indices)
	for i, idx := range indices {
		if idx != i {
			t.Fatalf("sampled indices are not a permutation of [0, %d): %v", wantPatches, indices)
		}
	}

	// Non-overlapping stride: each patch reproduces the cube cut at its
	// raster offset, so together they cover every voxel exactly once.
	order := loader.Indices()
	nx := g.VolumeSize[1] / g.CubeSize
	ny := g.VolumeSize[2] / g.CubeSize
	pos := 0
	for _, batch := range drain(t, loader) {
		for s := 0; s < batch.HR.N; s++ {
			idx := order[pos]
			z0 := (idx / (nx * ny)) * g.CubeSize
			x0 := ((idx / ny) % nx) * g.CubeSize
			y0 := (idx % ny) * g.CubeSize
			sample := batch.HR.Sample(s)
			for z := 0; z < g.CubeSize; z++ {
				for x := 0; x < g.CubeSize; x++ {
					for y := 0; y < g.CubeSize; y++ {
						got := denormalize(sample[(z*g.CubeSize+x)*g.CubeSize+y])
						want := hr.At(0, z0+z, x0+x, y0+y)
						if got != want {
							t.Fatalf("patch %d voxel (%d,%d,%d): got %d, want %d", idx, z, x, y, got, want)
						}
					}
				}
			}
			pos++
		}
	}
	if pos != wantPatches {
		t.Fatalf("drained %d patches, want %d", pos, wantPatches)
	}
}

func TestTrainingUsageFraction(t *testing.T) {
	g := testGeometry()
	lr := rampVolume(t, 1, g)
	hr := rampVolume(t, 1, g)
	numPatches := 24

	t.Run("half usage", func(t *testing.T) {
		loader, err := PatchForTraining(lr, hr, g, TrainingOptions{
			Usage: 0.5,
			Rand:  rand.New(rand.NewSource(2)),
		})
		if err != nil {
			t.Fatalf("PatchForTraining failed: %v", err)
		}
		if want := numPatches / 2; loader.Len() != want {
			t.Errorf("sampled %d patches, want %d", loader.Len(), want)
		}
	})

	t.Run("floor of fraction", func(t *testing.T) {
		loader, err := PatchForTraining(lr, hr, g, TrainingOptions{
			Usage: 0.3,
			Rand:  rand.New(rand.NewSource(3)),
		})
		if err != nil {
			t.Fatalf("PatchForTraining failed: %v", err)
		}
		if want := int(0.3 * float64(numPatches)); loader.Len() != want {
			t.Errorf("sampled %d patches, want floor(0.3*%d) = %d", loader.Len(), numPatches, want)
		}
	})

	t.Run("exclusions removed before sampling", func(t *testing.T) {
		excl := NewExclusionSet([]int{0, 5, 23})
		loader, err := PatchForTraining(lr, hr, g, TrainingOptions{
			Exclusions: excl,
			Rand:       rand.New(rand.NewSource(4)),
		})
		if err != nil {
			t.Fatalf("PatchForTraining failed: %v", err)
		}
		if want := numPatches - excl.Len(); loader.Len() != want {
			t.Errorf("sampled %d patches, want %d", loader.Len(), want)
		}
		for _, idx := range loader.Indices() {
			if excl.Contains(idx) {
				t.Errorf("excluded index %d was sampled", idx)
			}
			if idx < 0 || idx >= numPatches {
				t.Errorf("sampled index %d outside [0, %d)", idx, numPatches)
			}
		}
	})

	t.Run("seeded sampling is reproducible", func(t *testing.T) {
		a, err := PatchForTraining(lr, hr, g, TrainingOptions{Rand: rand.New(rand.NewSource(7))})
		if err != nil {
			t.Fatalf("PatchForTraining failed: %v", err)
		}
		b, err := PatchForTraining(lr, hr, g, TrainingOptions{Rand: rand.New(rand.NewSource(7))})
		if err != nil {
			t.Fatalf("PatchForTraining failed: %v", err)
		}
		ai, bi := a.Indices(), b.Indices()
		for i := range ai {
			if ai[i] != bi[i] {
				t.Fatalf("same seed produced different orders at %d: %d vs %d", i, ai[i], bi[i])
			}
		}
	})
}

func TestTrainingContractViolations(t *testing.T) {
	g := testGeometry()
	lr := rampVolume(t, 1, g)
	hr := rampVolume(t, 1, g)

	t.Run("usage out of range", func(t *testing.T) {
		for _, usage := range []float64{-0.5, 1.5} {
			if _, err := PatchForTraining(lr, hr, g, TrainingOptions{Usage: usage}); err == nil {
				t.Errorf("usage %v was accepted", usage)
			}
		}
	})

	t.Run("shape mismatch", func(t *testing.T) {
		other, err := volume.NewVolume(1, g.VolumeSize[0], g.VolumeSize[1], g.VolumeSize[2]*2)
		if err != nil {
			t.Fatalf("failed to allocate volume: %v", err)
		}
		if _, err := PatchForTraining(lr, other, g, TrainingOptions{}); err == nil {
			t.Error("mismatched volume shapes were accepted")
		}
	})

	t.Run("dimensions not divisible by cube", func(t *testing.T) {
		odd, err := volume.NewVolume(1, 10, 12, 16)
		if err != nil {
			t.Fatalf("failed to allocate volume: %v", err)
		}
		if _, err := PatchForTraining(odd, odd, g, TrainingOptions{}); err == nil {
			t.Error("non-divisible dimensions were accepted")
		}
	})
}

func TestEvaluationTiling(t *testing.T) {
	g := testGeometry()
	lr := rampVolume(t, 1, g)
	hr := rampVolume(t, 1, g)

	loader, err := PatchForEvaluation(lr, hr, g, 8)
	if err != nil {
		t.Fatalf("PatchForEvaluation failed: %v", err)
	}
	if loader.Len() != g.PatchesPerSubject() {
		t.Fatalf("got %d patches, want %d", loader.Len(), g.PatchesPerSubject())
	}

	// Every patch must match the cube cut from the padded volume at its
	// raster-order offset.
	padded := padVolume(lr, g.Padding)
	offsets := g.TileOffsets()
	pos := 0
	for _, batch := range drain(t, loader) {
		for s := 0; s < batch.LR.N; s++ {
			off := offsets[pos]
			sample := batch.LR.Sample(s)
			for z := 0; z < g.CubeSize; z++ {
				for x := 0; x < g.CubeSize; x++ {
					for y := 0; y < g.CubeSize; y++ {
						got := denormalize(sample[(z*g.CubeSize+x)*g.CubeSize+y])
						want := padded.At(0, off[0]+z, off[1]+x, off[2]+y)
						if got != want {
							t.Fatalf("patch %d voxel (%d,%d,%d): got %d, want %d", pos, z, x, y, got, want)
						}
					}
				}
			}
			pos++
		}
	}
	if pos != len(offsets) {
		t.Fatalf("drained %d patches, want %d", pos, len(offsets))
	}
}

func TestEvaluationOrderDeterminism(t *testing.T) {
	g := testGeometry()
	lr := rampVolume(t, 1, g)
	hr := rampVolume(t, 1, g)

	first, err := PatchForEvaluation(lr, hr, g, 4)
	if err != nil {
		t.Fatalf("PatchForEvaluation failed: %v", err)
	}
	second, err := PatchForEvaluation(lr, hr, g, 4)
	if err != nil {
		t.Fatalf("PatchForEvaluation failed: %v", err)
	}

	fi, si := first.Indices(), second.Indices()
	if len(fi) != len(si) {
		t.Fatalf("index counts differ: %d vs %d", len(fi), len(si))
	}
	for i := range fi {
		if fi[i] != i || si[i] != i {
			t.Fatalf("evaluation order is not the raster range at %d: %d vs %d", i, fi[i], si[i])
		}
	}
}

func TestEvaluationVolumeSizeMismatch(t *testing.T) {
	g := testGeometry()
	v, err := volume.NewVolume(1, 16, 12, 16)
	if err != nil {
		t.Fatalf("failed to allocate volume: %v", err)
	}
	if _, err := PatchForEvaluation(v, v, g, 2); err == nil {
		t.Error("volume not matching the configured size was accepted")
	}
}

func TestLoaderBatching(t *testing.T) {
	g := testGeometry()
	lr := rampVolume(t, 1, g)
	hr := rampVolume(t, 1, g)

	loader, err := PatchForTraining(lr, hr, g, TrainingOptions{
		BatchSize: 5,
		Rand:      rand.New(rand.NewSource(5)),
	})
	if err != nil {
		t.Fatalf("PatchForTraining failed: %v", err)
	}

	// 24 patches in batches of 5: four full batches plus a remainder of 4
	if got := loader.NumBatches(); got != 5 {
		t.Errorf("NumBatches() = %d, want 5", got)
	}
	batches := drain(t, loader)
	if len(batches) != 5 {
		t.Fatalf("drained %d batches, want 5", len(batches))
	}
	for i, b := range batches[:4] {
		if b.LR.N != 5 || b.HR.N != 5 {
			t.Errorf("batch %d has %d/%d samples, want 5/5", i, b.LR.N, b.HR.N)
		}
	}
	if last := batches[4]; last.LR.N != 4 {
		t.Errorf("final batch has %d samples, want 4", last.LR.N)
	}

	// Exhausted until Reset
	if _, ok := loader.Next(); ok {
		t.Error("Next() yielded a batch after exhaustion")
	}
	loader.Reset()
	if _, ok := loader.Next(); !ok {
		t.Error("Next() yielded nothing after Reset()")
	}
}

func TestDefaultBatchSize(t *testing.T) {
	g := testGeometry()
	lr := rampVolume(t, 1, g)
	hr := rampVolume(t, 1, g)

	loader, err := PatchForEvaluation(lr, hr, g, 0)
	if err != nil {
		t.Fatalf("PatchForEvaluation failed: %v", err)
	}
	batch, ok := loader.Next()
	if !ok {
		t.Fatal("Next() yielded nothing")
	}
	if batch.LR.N != DefaultBatchSize {
		t.Errorf("batch size %d, want default %d", batch.LR.N, DefaultBatchSize)
	}
}

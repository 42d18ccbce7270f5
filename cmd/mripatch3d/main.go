package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/floats"

	"mripatch3d/pkg/config"
	"mripatch3d/pkg/patching"
	"mripatch3d/pkg/visualization"
	"mripatch3d/pkg/volume"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "mripatch3d.yaml", "Path to YAML configuration file")
	initConfig := flag.Bool("init-config", false, "Write a default configuration file and exit")
	lrPath := flag.String("lr", "", "Low-resolution volume as a 4D uint16 .npy file")
	hrPath := flag.String("hr", "", "High-resolution volume as a 4D uint16 .npy file")
	outPath := flag.String("out", "", "Write the reconstructed volume to this .npy file")
	exclusionsPath := flag.String("exclusions", "", "Training exclusion indices as a flat integer .npy file")
	fullGeometry := flag.Bool("full", false, "Run the self-check on the full configured geometry instead of a reduced one")
	extractSlices := flag.Bool("extract-slices", false, "Save reconstructed slices along all axes")
	slicesDir := flag.String("slices-dir", "reconstructed_slices", "Directory to save extracted slices")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write default config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("MRIPATCH3D - 3D PATCH EXTRACTION AND RECONSTRUCTION FOR MRI SUPER-RESOLUTION")
	fmt.Println("================================")

	var excl patching.ExclusionSet
	if *exclusionsPath != "" {
		excl, err = patching.LoadExclusionSet(*exclusionsPath)
		if err != nil {
			log.Fatalf("Failed to load exclusion set: %v", err)
		}
		fmt.Printf("Loaded %d excluded patch indices from %s\n", excl.Len(), *exclusionsPath)
	}

	if *lrPath == "" && *hrPath == "" {
		runSelfCheck(cfg, excl, *fullGeometry)
		return
	}
	if *lrPath == "" || *hrPath == "" {
		log.Fatalf("Both -lr and -hr must be given for a volume run")
	}
	runVolumes(cfg, excl, *lrPath, *hrPath, *outPath, *extractSlices, *slicesDir)
}

// runSelfCheck exercises the full patch/depatch round trip on a synthetic
// volume and reports the reconstruction error, which must be zero up to the
// float conversion of the raw intensities.
func runSelfCheck(cfg *config.Config, excl patching.ExclusionSet, full bool) {
	geom := cfg.Geometry()
	if !full {
		// A reduced geometry keeps the self-check fast and small; pass
		// -full to verify the configured scan size instead.
		geom = patching.Geometry{
			CubeSize:   8,
			Margin:     1,
			VolumeSize: [3]int{16, 24, 24},
			Padding:    [3]int{2, 1, 1},
		}
	}
	grid := geom.GridCounts()
	fmt.Printf("Self-check geometry: cube=%d margin=%d stride=%d volume=%v padding=%v\n",
		geom.CubeSize, geom.Margin, geom.Stride(), geom.VolumeSize, geom.Padding)
	fmt.Printf("Evaluation grid: %dx%dx%d = %d patches per subject\n",
		grid[0], grid[1], grid[2], geom.PatchesPerSubject())

	lr := syntheticVolume(geom, 11)
	hr := syntheticVolume(geom, 42)

	startTime := time.Now()

	// Training-mode sampling summary
	trainLoader, err := patching.PatchForTraining(lr, hr, geom, patching.TrainingOptions{
		BatchSize:  cfg.Patching.BatchSize,
		Usage:      cfg.Patching.Usage,
		Exclusions: excl,
		Rand:       rand.New(rand.NewSource(cfg.Patching.Seed)),
	})
	if err != nil {
		log.Fatalf("Training-mode patching failed: %v", err)
	}
	fmt.Printf("Training mode: %d sampled patch pairs in %d mini-batches\n",
		trainLoader.Len(), trainLoader.NumBatches())

	// Evaluation round trip: patch, identity transform, depatch
	evalLoader, err := patching.PatchForEvaluation(lr, hr, geom, cfg.Patching.BatchSize)
	if err != nil {
		log.Fatalf("Evaluation-mode patching failed: %v", err)
	}
	patches := collectLR(evalLoader, geom)
	reconstructed, err := patching.Depatch(patches, lr.Batch, geom, &patching.DepatchOptions{
		Parallel: cfg.Output.ParallelDepatch,
		Trace:    traceFunc(cfg),
	})
	if err != nil {
		log.Fatalf("Depatching failed: %v", err)
	}

	// Compare against the normalized original
	want := make([]float64, len(lr.Data))
	for i, v := range lr.Data {
		want[i] = float64(v) / volume.MaxIntensity
	}
	maxErr := 0.0
	for i, v := range reconstructed.Data {
		if d := math.Abs(v - want[i]); d > maxErr {
			maxErr = d
		}
	}
	rmse := floats.Distance(reconstructed.Data, want, 2) / math.Sqrt(float64(len(want)))

	fmt.Printf("\nRound trip completed in %.3f seconds\n", time.Since(startTime).Seconds())
	fmt.Printf("Maximum absolute error: %g\n", maxErr)
	fmt.Printf("RMSE: %g\n", rmse)
	if maxErr > 0 {
		log.Fatalf("Self-check FAILED: round trip is not exact")
	}
	fmt.Println("Self-check passed: reconstruction is exact")
}

// runVolumes runs evaluation-mode patching over real volume files and
// verifies the depatch geometry by reconstructing the low-res volume from
// its own patches. The external model would sit between those two steps.
func runVolumes(cfg *config.Config, excl patching.ExclusionSet, lrPath, hrPath, outPath string, extractSlices bool, slicesDir string) {
	geom := cfg.Geometry()

	fmt.Printf("Loading low-res volume from %s...\n", lrPath)
	lr, err := volume.ReadVolume(lrPath)
	if err != nil {
		log.Fatalf("Failed to read low-res volume: %v", err)
	}
	fmt.Printf("Loading high-res volume from %s...\n", hrPath)
	hr, err := volume.ReadVolume(hrPath)
	if err != nil {
		log.Fatalf("Failed to read high-res volume: %v", err)
	}
	fmt.Printf("Loaded %d subject(s) of %dx%dx%d\n", lr.Batch, lr.Depth, lr.Height, lr.Width)

	startTime := time.Now()
	loader, err := patching.PatchForEvaluation(lr, hr, geom, cfg.Patching.BatchSize)
	if err != nil {
		log.Fatalf("Evaluation-mode patching failed: %v", err)
	}
	fmt.Printf("Evaluation mode: %d patch pairs in %d mini-batches\n", loader.Len(), loader.NumBatches())

	patches := collectLR(loader, geom)
	reconstructed, err := patching.Depatch(patches, lr.Batch, geom, &patching.DepatchOptions{
		Parallel: cfg.Output.ParallelDepatch,
		Trace:    traceFunc(cfg),
	})
	if err != nil {
		log.Fatalf("Depatching failed: %v", err)
	}
	fmt.Printf("Patch and reassembly completed in %.2f seconds\n", time.Since(startTime).Seconds())

	if outPath != "" {
		if err := volume.WriteFloatVolume(outPath, reconstructed); err != nil {
			log.Fatalf("Failed to write reconstructed volume: %v", err)
		}
		fmt.Printf("Reconstructed volume saved to: %s\n", outPath)
	}

	if extractSlices {
		fmt.Println("Extracting reconstructed slices along all axes...")
		viewer := visualization.NewViewer(reconstructed)
		for subject := 0; subject < reconstructed.Batch; subject++ {
			for _, axis := range []string{"x", "y", "z"} {
				if err := viewer.SaveSliceSequence(subject, axis, slicesDir); err != nil {
					log.Printf("Warning: Failed to save %s-axis slices of subject %d: %v", axis, subject, err)
				}
			}
		}
		fmt.Printf("Slices saved to: %s\n", slicesDir)
	}
}

// collectLR drains a loader and concatenates the low-res cubes of every
// mini-batch into one flat patch tensor, the shape Depatch consumes.
func collectLR(loader *patching.Loader, geom patching.Geometry) *volume.Tensor {
	cube := geom.CubeSize
	out, err := volume.NewTensor(loader.Len(), 1, cube, cube, cube)
	if err != nil {
		log.Fatalf("Failed to allocate patch tensor: %v", err)
	}
	pos := 0
	for {
		batch, ok := loader.Next()
		if !ok {
			break
		}
		for i := 0; i < batch.LR.N; i++ {
			copy(out.Sample(pos), batch.LR.Sample(i))
			pos++
		}
	}
	return out
}

func syntheticVolume(geom patching.Geometry, seed int64) *volume.Volume {
	v, err := volume.NewVolume(1,
		geom.VolumeSize[0], geom.VolumeSize[1], geom.VolumeSize[2])
	if err != nil {
		log.Fatalf("Failed to allocate synthetic volume: %v", err)
	}
	rng := rand.New(rand.NewSource(seed))
	for i := range v.Data {
		v.Data[i] = uint16(rng.Intn(volume.MaxIntensity + 1))
	}
	return v
}

func traceFunc(cfg *config.Config) patching.TraceFunc {
	if !cfg.Output.Verbose {
		return nil
	}
	return func(format string, args ...any) {
		fmt.Printf("  [depatch] "+format+"\n", args...)
	}
}

package morph

import (
	"context"
	"fmt"
	"log"

	"gonum.org/v1/gonum/spatial/r3"
)

// Island fallback strategies for low-coverage islands.
const (
	// IslandFallbackSolve switches the whole transfer to the point-cloud
	// Laplacian so detached geometry stays coupled to the matched region.
	IslandFallbackSolve = "solve"
	// IslandFallbackCopy stamps each low-coverage island with the
	// displacement of the matched vertex nearest its centroid.
	IslandFallbackCopy = "copy"
)

// lowCoveragePercent is the advisory floor for overall match coverage.
const lowCoveragePercent = 20.0

// TransferConfig controls one displacement transfer. The zero value is not
// usable; start from DefaultTransferConfig so partially specified JSON or
// YAML merges over real defaults.
type TransferConfig struct {
	DistanceThreshold       float64 `yaml:"distanceThreshold" json:"distanceThreshold"`
	NormalThreshold         float64 `yaml:"normalThreshold" json:"normalThreshold"`
	UsePointcloudLaplacian  bool    `yaml:"usePointcloudLaplacian" json:"usePointcloudLaplacian"`
	SmoothIterations        int     `yaml:"smoothIterations" json:"smoothIterations"`
	HandleIslands           bool    `yaml:"handleIslands" json:"handleIslands"`
	MinIslandCoverage       float64 `yaml:"minIslandCoverage" json:"minIslandCoverage"`
	ShowDebugClassification bool    `yaml:"showDebugClassification" json:"showDebugClassification"`
	IslandFallback          string  `yaml:"islandFallback,omitempty" json:"islandFallback,omitempty"`
	PartialIslands          string  `yaml:"partialIslands,omitempty" json:"partialIslands,omitempty"`
}

// DefaultTransferConfig returns the standard parameters.
func DefaultTransferConfig() TransferConfig {
	return TransferConfig{
		DistanceThreshold: 0.01,
		NormalThreshold:   0.5,
		HandleIslands:     true,
		MinIslandCoverage: 0.10,
		IslandFallback:    IslandFallbackSolve,
	}
}

// Validate checks parameter ranges.
func (c *TransferConfig) Validate() error {
	if c.DistanceThreshold <= 0 {
		return fmt.Errorf("config: distanceThreshold must be > 0, got %g", c.DistanceThreshold)
	}
	if c.NormalThreshold < 0 || c.NormalThreshold > 1 {
		return fmt.Errorf("config: normalThreshold must be in [0,1], got %g", c.NormalThreshold)
	}
	if c.SmoothIterations < 0 {
		return fmt.Errorf("config: smoothIterations must be >= 0, got %d", c.SmoothIterations)
	}
	if c.MinIslandCoverage < 0 || c.MinIslandCoverage > 1 {
		return fmt.Errorf("config: minIslandCoverage must be in [0,1], got %g", c.MinIslandCoverage)
	}
	switch c.IslandFallback {
	case "", IslandFallbackSolve, IslandFallbackCopy:
	default:
		return fmt.Errorf("config: unknown islandFallback %q", c.IslandFallback)
	}
	switch PartialIslandMode(c.PartialIslands) {
	case "", PartialIslandExclude, PartialIslandAverage:
	default:
		return fmt.Errorf("config: unknown partialIslands mode %q", c.PartialIslands)
	}
	return nil
}

// Stage identifies a pipeline phase for progress reporting.
type Stage string

const (
	StageCorrespondence Stage = "correspondence"
	StageIslands        Stage = "islands"
	StageLaplacian      Stage = "laplacian"
	StageSolve          Stage = "solve"
	StageSmooth         Stage = "smooth"
)

// ProgressFunc observes stage boundaries during a transfer.
type ProgressFunc func(stage Stage, message string)

// TransferOption adjusts optional transfer behavior.
type TransferOption func(*transferOptions)

type transferOptions struct {
	progress ProgressFunc
}

// WithProgress registers a callback fired at every stage boundary.
func WithProgress(fn ProgressFunc) TransferOption {
	return func(o *transferOptions) { o.progress = fn }
}

// TransferResult carries the inpainted displacement field together with
// everything diagnostic about how it was produced.
type TransferResult struct {
	Field        []r3.Vec // displacement per target vertex
	Matched      []bool   // true where a correspondence validated
	MatchCount   int
	MatchPercent float64

	LaplacianMode     LaplacianMode
	IslandSwitch      bool // low island coverage forced the point mode
	LaplacianFallback bool // surface construction failed, point mode used
	LowCoverage       bool // overall coverage below the advisory floor

	AxisReports []AxisReport
	Bands       []QualityBand // populated only with ShowDebugClassification
	BandTotals  [4]int

	Warnings []string
}

// AxisFallbacks counts axes that degraded to zero fill.
func (r *TransferResult) AxisFallbacks() int {
	n := 0
	for _, rep := range r.AxisReports {
		if !rep.OK {
			n++
		}
	}
	return n
}

// Transfer moves a per-vertex displacement field from source onto target.
// Validated nearest-neighbor matches carry their displacement verbatim; the
// remaining vertices get values inpainted by minimizing Laplacian energy
// anchored at the matches. Stages run synchronously with cancellation
// checkpoints between them.
//
// Recoverable trouble degrades the result and lands in Warnings: low match
// coverage, a failed surface Laplacian (falls back to the point-cloud
// variant) and per-axis solver breakdown (that axis keeps zero displacement
// at unmatched vertices). Only invalid input or a total correspondence miss
// returns an error; ErrNoCorrespondence is detectable with errors.Is.
func Transfer(ctx context.Context, source *Mesh, field []r3.Vec, target *Mesh, cfg TransferConfig, opts ...TransferOption) (*TransferResult, error) {
	if source == nil || target == nil {
		return nil, fmt.Errorf("transfer: source and target meshes are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var options transferOptions
	for _, opt := range opts {
		opt(&options)
	}

	res := &TransferResult{}
	warnf := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		res.Warnings = append(res.Warnings, msg)
		log.Printf("transfer: %s", msg)
	}
	stage := func(s Stage, format string, args ...any) error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("transfer cancelled before %s: %w", s, err)
		}
		if options.progress != nil {
			options.progress(s, fmt.Sprintf(format, args...))
		}
		return nil
	}

	if err := stage(StageCorrespondence, "matching %d target vertices against %d source vertices",
		target.VertexCount(), source.VertexCount()); err != nil {
		return nil, err
	}
	corr, err := FindCorrespondences(source, field, target, cfg.DistanceThreshold, cfg.NormalThreshold)
	if err != nil {
		return nil, err
	}
	res.MatchCount = corr.MatchCount()
	res.MatchPercent = corr.MatchPercent()
	res.Matched = corr.MatchedMask()
	if res.MatchPercent < lowCoveragePercent {
		res.LowCoverage = true
		warnf("only %.1f%% of target vertices matched; transfer quality will suffer", res.MatchPercent)
	}

	if err := stage(StageIslands, "%d of %d vertices matched (%.1f%%)",
		res.MatchCount, corr.TargetCount, res.MatchPercent); err != nil {
		return nil, err
	}
	usePoint := cfg.UsePointcloudLaplacian
	var partition *IslandPartition
	var copyIslands []int
	if cfg.HandleIslands && !usePoint {
		partition = AnalyzeIslands(target.VertexCount(), target.Triangles)
		if len(partition.Components) > 1 {
			if lows := partition.LowCoverage(res.Matched, cfg.MinIslandCoverage); len(lows) > 0 {
				if cfg.IslandFallback == IslandFallbackCopy {
					copyIslands = lows
					warnf("%d of %d islands below %.0f%% coverage; copying nearest matched displacement onto them",
						len(lows), len(partition.Components), 100*cfg.MinIslandCoverage)
				} else {
					usePoint = true
					res.IslandSwitch = true
					warnf("%d of %d islands below %.0f%% coverage; switching to the point-cloud laplacian",
						len(lows), len(partition.Components), 100*cfg.MinIslandCoverage)
				}
			}
		}
	}

	if err := stage(StageLaplacian, "building laplacian (point mode: %v)", usePoint); err != nil {
		return nil, err
	}
	var lap *Laplacian
	if !usePoint {
		lap, err = BuildSurfaceLaplacian(target)
		if err != nil {
			res.LaplacianFallback = true
			warnf("surface laplacian unavailable (%v); falling back to the point-cloud variant", err)
		}
	}
	if lap == nil {
		lap, err = BuildPointLaplacian(target.Positions, DefaultPointNeighbors)
		if err != nil {
			return nil, fmt.Errorf("transfer: %w", err)
		}
	}
	res.LaplacianMode = lap.Mode
	if lap.Repaired > 0 {
		log.Printf("transfer: repaired cotangent weights on %d degenerate triangles", lap.Repaired)
	}

	if err := stage(StageSolve, "solving %s laplacian for %d unknown vertices",
		lap.Mode, corr.TargetCount-res.MatchCount); err != nil {
		return nil, err
	}
	values := make([]r3.Vec, target.VertexCount())
	for k, ti := range corr.Indices {
		values[ti] = corr.Displacements[k]
	}
	solved, reports, err := SolveHarmonicField(lap, res.Matched, values)
	if err != nil {
		return nil, fmt.Errorf("transfer: %w", err)
	}
	res.Field = solved
	res.AxisReports = reports
	for _, rep := range reports {
		if !rep.OK {
			warnf("axis %s solve failed (%s); unmatched vertices keep zero displacement on that axis",
				rep.Axis, rep.Reason)
		}
	}

	if len(copyIslands) > 0 {
		CopyNearestToIsland(target.Positions, res.Field, corr, partition, copyIslands)
	}

	if err := stage(StageSmooth, "post-processing (%d smoothing iterations)", cfg.SmoothIterations); err != nil {
		return nil, err
	}
	if cfg.SmoothIterations > 0 {
		res.Field = SmoothUnmatched(target, res.Field, res.Matched, cfg.SmoothIterations)
	}
	if cfg.PartialIslands != "" {
		adjusted, perr := ProcessPartialIslands(target, res.Field, PartialIslandMode(cfg.PartialIslands))
		if perr != nil {
			warnf("partial island pass skipped: %v", perr)
		} else if adjusted > 0 {
			log.Printf("transfer: adjusted %d partially displaced islands", adjusted)
		}
	}

	if cfg.ShowDebugClassification {
		res.Bands = Classify(corr)
		res.BandTotals = BandCounts(res.Bands)
		log.Printf("transfer: match bands exact=%d good=%d acceptable=%d inpainted=%d",
			res.BandTotals[BandExact], res.BandTotals[BandGood],
			res.BandTotals[BandAcceptable], res.BandTotals[BandInpainted])
	}
	return res, nil
}

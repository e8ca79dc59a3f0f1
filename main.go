package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions carries the parsed command line into the application.
// Explicit records which flags were actually given so that flag values can
// override the config file without clobbering it with flag defaults.
type AppOptions struct {
	ConfigFile string
	Source     string
	Shape      string
	Target     string
	Output     string

	ValidateMode bool
	AnalyzeMode  bool
	TransferMode bool
	RenderMode   bool
	ServeMode    bool
	MqttMode     bool

	DistanceThreshold   float64
	NormalThreshold     float64
	PointcloudLaplacian bool
	SmoothIterations    int
	NoIslands           bool
	MinIslandCoverage   float64
	IslandFallback      string
	PartialIslands      string
	Classify            bool

	RenderOut    string
	RenderFormat string
	Axis         string
	HTTPPort     int
	JobCache     string

	Explicit map[string]bool
}

// appRunner is the surface main dispatches to; App implements it and tests
// substitute a mock.
type appRunner interface {
	ApplyOptions(opts AppOptions)
	RunValidate()
	RunAnalyze()
	RunTransfer()
	RunRender()
	RunService()
}

func run(args []string, out io.Writer, app appRunner) error {
	fs := flag.NewFlagSet("meshmorph", flag.ContinueOnError)
	fs.SetOutput(out)

	configFile := fs.String("config", "config.yaml", "Path to configuration file")
	source := fs.String("source", "", "Basis source mesh (OBJ path or http(s) URL)")
	shape := fs.String("shape", "", "Deformed source mesh defining the displacement (OBJ path or URL)")
	target := fs.String("target", "", "Target mesh receiving the displacement (OBJ path or URL)")
	output := fs.String("output", "", "Output OBJ path for the displaced target")

	validateMode := fs.Bool("validate", false, "Validate the given meshes and exit")
	analyzeMode := fs.Bool("analyze", false, "Recommend a distance threshold for source/target and exit")
	transferMode := fs.Bool("transfer", false, "Run one displacement transfer (default when meshes are given)")
	renderMode := fs.Bool("render", false, "Run a transfer and write the quality visualization")
	serveMode := fs.Bool("serve", false, "Run the HTTP job service")
	mqttMode := fs.Bool("mqtt", false, "Run the MQTT job worker")

	distanceThreshold := fs.Float64("distance-threshold", 0.01, "Maximum vertex distance for a valid correspondence")
	normalThreshold := fs.Float64("normal-threshold", 0.5, "Minimum absolute normal cosine for a valid correspondence")
	pointcloudLaplacian := fs.Bool("pointcloud-laplacian", false, "Ignore connectivity and use the k-NN point-cloud Laplacian")
	smoothIterations := fs.Int("smooth-iterations", 0, "Post-smoothing passes over unmatched vertices")
	noIslands := fs.Bool("no-islands", false, "Disable low-coverage island handling")
	minIslandCoverage := fs.Float64("min-island-coverage", 0.10, "Island coverage below this fraction counts as low")
	islandFallback := fs.String("island-fallback", "solve", "Low-coverage island strategy: solve or copy")
	partialIslands := fs.String("partial-islands", "", "Partially moved island handling: exclude or average")
	classify := fs.Bool("classify", false, "Report per-band match quality counts")

	renderOut := fs.String("render-out", "", "Quality visualization output path")
	renderFormat := fs.String("render-format", "", "Visualization format: svg or png (default from config)")
	axis := fs.String("axis", "", "Projection plane: xy, xz or yz (default from config)")
	httpPort := fs.Int("http-port", 8080, "HTTP server port")
	jobCache := fs.String("job-cache", "", "Job history JSON file (default from config)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "meshmorph version: %s\n", Version)

	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	opts := AppOptions{
		ConfigFile: *configFile,
		Source:     *source,
		Shape:      *shape,
		Target:     *target,
		Output:     *output,

		ValidateMode: *validateMode,
		AnalyzeMode:  *analyzeMode,
		TransferMode: *transferMode,
		RenderMode:   *renderMode,
		ServeMode:    *serveMode,
		MqttMode:     *mqttMode,

		DistanceThreshold:   *distanceThreshold,
		NormalThreshold:     *normalThreshold,
		PointcloudLaplacian: *pointcloudLaplacian,
		SmoothIterations:    *smoothIterations,
		NoIslands:           *noIslands,
		MinIslandCoverage:   *minIslandCoverage,
		IslandFallback:      *islandFallback,
		PartialIslands:      *partialIslands,
		Classify:            *classify,

		RenderOut:    *renderOut,
		RenderFormat: *renderFormat,
		Axis:         *axis,
		HTTPPort:     *httpPort,
		JobCache:     *jobCache,

		Explicit: explicit,
	}
	app.ApplyOptions(opts)

	haveMeshes := *source != "" && *target != ""

	switch {
	case *validateMode:
		app.RunValidate()
	case *analyzeMode:
		app.RunAnalyze()
	case *serveMode || *mqttMode:
		app.RunService()
	case *renderMode:
		app.RunRender()
	case *transferMode || haveMeshes:
		app.RunTransfer()
	default:
		fmt.Fprintln(out, "meshmorph: nothing to do")
		fmt.Fprintln(out, "Use --source/--shape/--target/--output to run a displacement transfer")
		fmt.Fprintln(out, "Use --validate to check meshes")
		fmt.Fprintln(out, "Use --analyze to recommend a distance threshold")
		fmt.Fprintln(out, "Use --render to write the quality visualization")
		fmt.Fprintln(out, "Use --serve to run the HTTP job service")
		fmt.Fprintln(out, "Use --mqtt to run the MQTT job worker")
		fmt.Fprintln(out, "\nConfiguration:")
		fmt.Fprintln(out, "  config.yaml - transfer defaults, broker and render settings")
	}

	return nil
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

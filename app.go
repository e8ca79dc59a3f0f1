package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kwv/meshmorph/morph"
)

// App encapsulates the application state and dependencies
type App struct {
	Config    *morph.Config
	Jobs      *morph.JobTracker
	Worker    *morph.MQTTWorker
	Publisher *morph.ResultPublisher

	opts AppOptions
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Jobs: morph.NewJobTracker(),
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.opts = opts
}

// loadConfig loads the config file once. A missing file is fatal only when
// the path was given explicitly; otherwise defaults apply.
func (a *App) loadConfig() *morph.Config {
	if a.Config != nil {
		return a.Config
	}

	config, err := morph.LoadConfig(a.opts.ConfigFile)
	if err != nil {
		if a.opts.Explicit["config"] {
			log.Fatalf("Failed to load config: %v", err)
		}
		config = morph.DefaultConfig()
	} else {
		log.Printf("Loaded config from %s", a.opts.ConfigFile)
	}

	a.Config = config
	return config
}

// transferParams resolves the effective transfer parameters:
// explicit flags > config file > defaults.
func (a *App) transferParams() morph.TransferConfig {
	cfg := a.loadConfig().Transfer
	set := a.opts.Explicit

	if set["distance-threshold"] {
		cfg.DistanceThreshold = a.opts.DistanceThreshold
	}
	if set["normal-threshold"] {
		cfg.NormalThreshold = a.opts.NormalThreshold
	}
	if set["pointcloud-laplacian"] {
		cfg.UsePointcloudLaplacian = a.opts.PointcloudLaplacian
	}
	if set["smooth-iterations"] {
		cfg.SmoothIterations = a.opts.SmoothIterations
	}
	if set["no-islands"] {
		cfg.HandleIslands = !a.opts.NoIslands
	}
	if set["min-island-coverage"] {
		cfg.MinIslandCoverage = a.opts.MinIslandCoverage
	}
	if set["island-fallback"] {
		cfg.IslandFallback = a.opts.IslandFallback
	}
	if set["partial-islands"] {
		cfg.PartialIslands = a.opts.PartialIslands
	}
	if set["classify"] {
		cfg.ShowDebugClassification = a.opts.Classify
	}

	return cfg
}

// renderSettings resolves the visualization axis and format:
// explicit flags > config file > defaults.
func (a *App) renderSettings() (morph.ProjectionAxis, string) {
	render := a.loadConfig().Render

	axisName := render.Axis
	if a.opts.Explicit["axis"] {
		axisName = a.opts.Axis
	}
	axis, err := morph.ParseProjectionAxis(axisName)
	if err != nil {
		log.Fatalf("Invalid projection axis: %v", err)
	}

	format := render.Format
	if a.opts.Explicit["render-format"] {
		format = a.opts.RenderFormat
	}
	if format == "" {
		format = "svg"
	}
	if format != "svg" && format != "png" {
		log.Fatalf("Invalid render format %q (want svg or png)", format)
	}

	return axis, format
}

// RunValidate loads each given mesh and prints its validation report
func (a *App) RunValidate() {
	refs := []struct {
		label string
		ref   string
	}{
		{"source", a.opts.Source},
		{"shape", a.opts.Shape},
		{"target", a.opts.Target},
	}

	checked := 0
	failed := 0
	for _, m := range refs {
		if m.ref == "" {
			continue
		}
		checked++

		fmt.Printf("=== %s: %s ===\n", m.label, m.ref)
		mesh, err := morph.ResolveMesh(context.Background(), m.ref)
		if err != nil {
			fmt.Printf("ERROR: %v\n\n", err)
			failed++
			continue
		}

		report := morph.ValidateMesh(mesh)
		fmt.Printf("Vertices: %d, Triangles: %d\n", mesh.VertexCount(), mesh.TriangleCount())
		for _, e := range report.Errors {
			fmt.Printf("error: %s\n", e)
		}
		for _, w := range report.Warnings {
			fmt.Printf("warning: %s\n", w)
		}
		if report.OK() {
			fmt.Println("OK")
		} else {
			failed++
		}
		fmt.Println()
	}

	if checked == 0 {
		log.Fatal("--validate needs at least one of --source, --shape, --target")
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// RunAnalyze recommends a distance threshold for the source/target pair and
// previews the match rate it would produce
func (a *App) RunAnalyze() {
	if a.opts.Source == "" || a.opts.Target == "" {
		log.Fatal("--analyze needs --source and --target")
	}

	ctx := context.Background()
	source, err := morph.ResolveMesh(ctx, a.opts.Source)
	if err != nil {
		log.Fatalf("Error loading source mesh: %v", err)
	}
	target, err := morph.ResolveMesh(ctx, a.opts.Target)
	if err != nil {
		log.Fatalf("Error loading target mesh: %v", err)
	}

	params := a.transferParams()
	recommended := morph.RecommendDistanceThreshold(source, target)

	fmt.Printf("Source: %d vertices, %d triangles\n", source.VertexCount(), source.TriangleCount())
	fmt.Printf("Target: %d vertices, %d triangles\n", target.VertexCount(), target.TriangleCount())
	fmt.Printf("Current distance threshold:     %.6g -> %.1f%% matched\n",
		params.DistanceThreshold,
		morph.MatchPercentAt(source, target, params.DistanceThreshold, params.NormalThreshold))
	fmt.Printf("Recommended distance threshold: %.6g -> %.1f%% matched\n",
		recommended,
		morph.MatchPercentAt(source, target, recommended, params.NormalThreshold))
}

// RunTransfer runs one displacement transfer from the CLI flags
func (a *App) RunTransfer() {
	if a.opts.Source == "" || a.opts.Shape == "" || a.opts.Target == "" {
		log.Fatal("transfer needs --source, --shape and --target")
	}
	if a.opts.Output == "" && a.opts.RenderOut == "" {
		log.Fatal("transfer needs --output (or --render-out for visualization only)")
	}

	params := a.transferParams()
	req := morph.TransferRequest{
		Source: a.opts.Source,
		Shape:  a.opts.Shape,
		Target: a.opts.Target,
		Output: a.opts.Output,
		Params: &params,
	}

	res, summary, target, err := a.executeJob(context.Background(), req)
	if err != nil {
		log.Fatalf("Transfer failed: %v", err)
	}

	a.printSummary(res, summary)

	if a.opts.RenderOut != "" {
		a.writeRender(target, res)
	}
}

// RunRender runs a transfer and writes the quality visualization. The output
// OBJ is optional in this mode; classification is always on so the bands
// carry real distances.
func (a *App) RunRender() {
	if a.opts.Source == "" || a.opts.Shape == "" || a.opts.Target == "" {
		log.Fatal("render needs --source, --shape and --target")
	}

	params := a.transferParams()
	params.ShowDebugClassification = true

	req := morph.TransferRequest{
		Source: a.opts.Source,
		Shape:  a.opts.Shape,
		Target: a.opts.Target,
		Output: a.opts.Output,
		Params: &params,
	}

	res, summary, target, err := a.executeJob(context.Background(), req)
	if err != nil {
		log.Fatalf("Transfer failed: %v", err)
	}

	a.printSummary(res, summary)
	a.writeRender(target, res)
}

// printSummary prints the transfer outcome in CLI mode
func (a *App) printSummary(res *morph.TransferResult, summary *morph.JobSummary) {
	fmt.Printf("Matched %d vertices (%.1f%%)\n", res.MatchCount, res.MatchPercent)
	fmt.Printf("Laplacian: %s\n", res.LaplacianMode)
	if res.IslandSwitch {
		fmt.Println("Low-coverage islands forced the point-cloud Laplacian")
	}
	if res.LaplacianFallback {
		fmt.Println("Surface Laplacian construction failed, used point-cloud fallback")
	}
	for _, w := range res.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	if res.Bands != nil {
		for band, count := range res.BandTotals {
			fmt.Printf("  %-10s %d\n", morph.QualityBand(band).String(), count)
		}
	}
	if summary.OutputPath != "" {
		fmt.Printf("Wrote %s\n", summary.OutputPath)
	}
	fmt.Printf("Elapsed: %dms\n", summary.ElapsedMS)
}

// writeRender writes the debug visualization for a finished CLI transfer
func (a *App) writeRender(target *morph.Mesh, res *morph.TransferResult) {
	axis, format := a.renderSettings()

	out := a.opts.RenderOut
	if out == "" {
		out = "transfer-debug." + format
	}

	switch format {
	case "png":
		renderer := morph.NewRasterRenderer(target, res, axis)
		if err := renderer.SavePNG(out); err != nil {
			log.Fatalf("Error writing render: %v", err)
		}
	default:
		renderer := a.newDebugRenderer(target, res, axis)
		f, err := os.Create(out)
		if err != nil {
			log.Fatalf("Error writing render: %v", err)
		}
		if err := renderer.RenderToSVG(f); err != nil {
			_ = f.Close()
			log.Fatalf("Error writing render: %v", err)
		}
		if err := f.Close(); err != nil {
			log.Fatalf("Error writing render: %v", err)
		}
	}

	fmt.Printf("Wrote %s\n", out)
}

// newDebugRenderer builds a vector renderer with the config render settings applied
func (a *App) newDebugRenderer(target *morph.Mesh, res *morph.TransferResult, axis morph.ProjectionAxis) *morph.DebugRenderer {
	renderer := morph.NewDebugRenderer(target, res, axis)
	render := a.loadConfig().Render
	if render.GridSpacing > 0 {
		renderer.GridSpacing = render.GridSpacing
	}
	if render.PointRadius > 0 {
		renderer.PointRadius = render.PointRadius
	}
	return renderer
}

// executeJob resolves the meshes, runs the transfer and writes the output
// OBJ. It is the single execution path shared by the CLI, the HTTP API and
// the MQTT worker. The resolved target mesh is returned for rendering.
func (a *App) executeJob(ctx context.Context, req morph.TransferRequest) (*morph.TransferResult, *morph.JobSummary, *morph.Mesh, error) {
	start := time.Now()

	params := a.loadConfig().Transfer
	if req.Params != nil {
		params = *req.Params
	}

	source, err := morph.ResolveMesh(ctx, req.Source)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading source mesh: %w", err)
	}
	shape, err := morph.ResolveMesh(ctx, req.Shape)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading shape mesh: %w", err)
	}
	target, err := morph.ResolveMesh(ctx, req.Target)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading target mesh: %w", err)
	}

	field, err := morph.FieldBetween(source, shape)
	if err != nil {
		return nil, nil, nil, err
	}

	res, err := morph.Transfer(ctx, source, field, target, params,
		morph.WithProgress(func(stage morph.Stage, message string) {
			log.Printf("[%s] %s", stage, message)
		}))
	if err != nil {
		return nil, nil, nil, err
	}

	if req.Output != "" {
		displaced, err := morph.ApplyField(target, res.Field)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := morph.SaveOBJ(req.Output, displaced); err != nil {
			return nil, nil, nil, err
		}
	}

	summary := &morph.JobSummary{
		MatchCount:    res.MatchCount,
		MatchPercent:  res.MatchPercent,
		LaplacianMode: string(res.LaplacianMode),
		IslandSwitch:  res.IslandSwitch,
		LowCoverage:   res.LowCoverage,
		AxisFallbacks: res.AxisFallbacks(),
		Warnings:      res.Warnings,
		OutputPath:    req.Output,
		ElapsedMS:     time.Since(start).Milliseconds(),
	}
	return res, summary, target, nil
}

// runJob executes one tracked job for the service paths (HTTP and MQTT):
// create, run, record outcome, publish result.
func (a *App) runJob(ctx context.Context, req morph.TransferRequest) (*morph.JobRecord, error) {
	rec, err := a.Jobs.Create(req)
	if err != nil {
		return nil, err
	}
	a.Jobs.MarkRunning(rec.ID)

	res, summary, target, err := a.executeJob(ctx, rec.Request)
	if err != nil {
		a.Jobs.Fail(rec.ID, err)
	} else {
		a.Jobs.Complete(rec.ID, summary, a.renderJobSVG(target, res))
	}

	final, _ := a.Jobs.Get(rec.ID)

	if a.Publisher != nil {
		if perr := a.Publisher.PublishResult(final); perr != nil {
			log.Printf("Error publishing result for %s: %v", rec.ID, perr)
		}
	}

	return final, nil
}

// renderJobSVG renders the band visualization stored on completed job
// records for the render endpoint. Render trouble never fails the job.
func (a *App) renderJobSVG(target *morph.Mesh, res *morph.TransferResult) []byte {
	axis, _ := a.renderSettings()

	var buf bytes.Buffer
	renderer := a.newDebugRenderer(target, res, axis)
	if err := renderer.RenderToSVG(&buf); err != nil {
		log.Printf("warning: skipping job render: %v", err)
		return nil
	}
	return buf.Bytes()
}

// handleJob is the MQTT job callback
func (a *App) handleJob(req *morph.TransferRequest, rawPayload []byte, err error) {
	if err != nil {
		log.Printf("Dropping bad job message (%d bytes): %v", len(rawPayload), err)
		return
	}

	rec, err := a.runJob(context.Background(), *req)
	if err != nil {
		log.Printf("Error tracking job %q: %v", req.ID, err)
		return
	}
	log.Printf("Job %s finished: %s", rec.ID, rec.Status)
}

// RunService runs the HTTP job service and/or the MQTT worker until interrupted
func (a *App) RunService() {
	fmt.Println("Starting meshmorph service...")

	config := a.loadConfig()

	// Job tracker with optional history persistence
	cachePath := config.Service.JobCache
	if a.opts.Explicit["job-cache"] {
		cachePath = a.opts.JobCache
	}
	if cachePath != "" {
		a.Jobs = morph.NewJobTrackerWithCache(cachePath)
		log.Printf("Job history persisted to %s", cachePath)
	}

	// MQTT worker
	if a.opts.MqttMode {
		worker, err := morph.NewMQTTWorker(config, a.handleJob)
		if err != nil {
			log.Fatalf("Failed to initialize MQTT: %v", err)
		}
		if worker == nil {
			log.Fatal("MQTT broker not configured (set mqtt.broker or MQTT_BROKER)")
		}
		a.Worker = worker
		a.Publisher = morph.NewResultPublisher(worker.GetClient(), config.EffectiveResultPrefix())
		fmt.Println("MQTT result publisher initialized")
	}

	// HTTP server
	httpPort := config.Service.HTTPPort
	if a.opts.Explicit["http-port"] {
		httpPort = a.opts.HTTPPort
	}
	if a.opts.ServeMode {
		httpServer := newHTTPServer(a.Jobs, a.runJob)
		go func() {
			addr := fmt.Sprintf("0.0.0.0:%d", httpPort)
			log.Printf("[HTTP] Starting server on %s", addr)
			if err := http.ListenAndServe(addr, httpServer); err != nil {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
		}()
	}

	fmt.Println("\nService Running")
	fmt.Println("===============")

	if a.opts.MqttMode {
		fmt.Println("\nMQTT:")
		fmt.Printf("  Job topic: %s\n", config.EffectiveJobTopic())
		fmt.Printf("  Results:   %s/results/{id}\n", config.EffectiveResultPrefix())
		fmt.Printf("  Combined:  %s/results\n", config.EffectiveResultPrefix())
	}

	if a.opts.ServeMode {
		fmt.Printf("\nHTTP endpoints (port %d):\n", httpPort)
		fmt.Println("  POST /api/transfer     - Run a transfer job")
		fmt.Println("  GET  /api/jobs         - List jobs")
		fmt.Println("  GET  /api/jobs/{id}    - Job detail")
		fmt.Println("  GET  /render/{id}.svg  - Quality visualization of a completed job")
		fmt.Println("  GET  /healthz          - Health check")
	}

	fmt.Println("\nPress Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	fmt.Println("\nShutting down service...")
	if a.Worker != nil {
		a.Worker.Disconnect()
	}
	fmt.Println("Service stopped")
}

package main

import (
	"bytes"
	"errors"
	"flag"
	"strings"
	"testing"
)

type mockApp struct {
	opts   AppOptions
	called map[string]bool
}

func newMockApp() *mockApp {
	return &mockApp{
		called: make(map[string]bool),
	}
}

func (m *mockApp) ApplyOptions(opts AppOptions) { m.opts = opts }
func (m *mockApp) RunValidate()                 { m.called["RunValidate"] = true }
func (m *mockApp) RunAnalyze()                  { m.called["RunAnalyze"] = true }
func (m *mockApp) RunTransfer()                 { m.called["RunTransfer"] = true }
func (m *mockApp) RunRender()                   { m.called["RunRender"] = true }
func (m *mockApp) RunService()                  { m.called["RunService"] = true }

func TestRun_Flags(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedCalled string
		verifyOpts     func(*testing.T, AppOptions)
	}{
		{
			name:           "Validate",
			args:           []string{"--validate", "--source", "head.obj"},
			expectedCalled: "RunValidate",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.ValidateMode {
					t.Error("expected ValidateMode true")
				}
				if opts.Source != "head.obj" {
					t.Errorf("expected Source head.obj, got %s", opts.Source)
				}
			},
		},
		{
			name:           "Analyze",
			args:           []string{"--analyze", "--source", "a.obj", "--target", "b.obj"},
			expectedCalled: "RunAnalyze",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.AnalyzeMode {
					t.Error("expected AnalyzeMode true")
				}
				if opts.Target != "b.obj" {
					t.Errorf("expected Target b.obj, got %s", opts.Target)
				}
			},
		},
		{
			name: "Transfer",
			args: []string{"--transfer", "--source", "a.obj", "--shape", "s.obj",
				"--target", "t.obj", "--output", "out.obj"},
			expectedCalled: "RunTransfer",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.Shape != "s.obj" {
					t.Errorf("expected Shape s.obj, got %s", opts.Shape)
				}
				if opts.Output != "out.obj" {
					t.Errorf("expected Output out.obj, got %s", opts.Output)
				}
			},
		},
		{
			name:           "TransferImpliedByMeshes",
			args:           []string{"--source", "a.obj", "--shape", "s.obj", "--target", "t.obj", "--output", "out.obj"},
			expectedCalled: "RunTransfer",
		},
		{
			name: "TransferParams",
			args: []string{"--transfer", "--source", "a.obj", "--shape", "s.obj", "--target", "t.obj",
				"--output", "out.obj", "--distance-threshold", "0.02", "--normal-threshold", "0.7",
				"--smooth-iterations", "3", "--island-fallback", "copy", "--classify"},
			expectedCalled: "RunTransfer",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.DistanceThreshold != 0.02 {
					t.Errorf("expected DistanceThreshold 0.02, got %f", opts.DistanceThreshold)
				}
				if opts.NormalThreshold != 0.7 {
					t.Errorf("expected NormalThreshold 0.7, got %f", opts.NormalThreshold)
				}
				if opts.SmoothIterations != 3 {
					t.Errorf("expected SmoothIterations 3, got %d", opts.SmoothIterations)
				}
				if opts.IslandFallback != "copy" {
					t.Errorf("expected IslandFallback copy, got %s", opts.IslandFallback)
				}
				if !opts.Classify {
					t.Error("expected Classify true")
				}
				if !opts.Explicit["distance-threshold"] {
					t.Error("expected distance-threshold marked explicit")
				}
				if opts.Explicit["min-island-coverage"] {
					t.Error("min-island-coverage was not given, must not be explicit")
				}
			},
		},
		{
			name: "Render",
			args: []string{"--render", "--source", "a.obj", "--shape", "s.obj", "--target", "t.obj",
				"--render-out", "view.png", "--render-format", "png", "--axis", "xz"},
			expectedCalled: "RunRender",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.RenderOut != "view.png" {
					t.Errorf("expected RenderOut view.png, got %s", opts.RenderOut)
				}
				if opts.RenderFormat != "png" {
					t.Errorf("expected RenderFormat png, got %s", opts.RenderFormat)
				}
				if opts.Axis != "xz" {
					t.Errorf("expected Axis xz, got %s", opts.Axis)
				}
			},
		},
		{
			name:           "Serve",
			args:           []string{"--serve", "--http-port", "9090", "--job-cache", "jobs.json"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.ServeMode {
					t.Error("expected ServeMode true")
				}
				if opts.HTTPPort != 9090 {
					t.Errorf("expected HTTPPort 9090, got %d", opts.HTTPPort)
				}
				if opts.JobCache != "jobs.json" {
					t.Errorf("expected JobCache jobs.json, got %s", opts.JobCache)
				}
			},
		},
		{
			name:           "MqttMode",
			args:           []string{"--mqtt", "--config", "worker.yaml"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.MqttMode {
					t.Error("expected MqttMode true")
				}
				if opts.ConfigFile != "worker.yaml" {
					t.Errorf("expected ConfigFile worker.yaml, got %s", opts.ConfigFile)
				}
			},
		},
		{
			name:           "ValidateWinsOverTransfer",
			args:           []string{"--validate", "--source", "a.obj", "--target", "t.obj"},
			expectedCalled: "RunValidate",
		},
		{
			name:           "ServeWinsOverRender",
			args:           []string{"--serve", "--render", "--source", "a.obj", "--target", "t.obj"},
			expectedCalled: "RunService",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out bytes.Buffer
			err := run(tt.args, &out, app)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}

			if !app.called[tt.expectedCalled] {
				t.Errorf("expected %s to be called", tt.expectedCalled)
			}
			if len(app.called) != 1 {
				t.Errorf("expected exactly one mode to run, got %v", app.called)
			}

			if tt.verifyOpts != nil {
				tt.verifyOpts(t, app.opts)
			}
		})
	}
}

func TestRun_Help(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{"--help"}, &out, app)
	if !errors.Is(err, flag.ErrHelp) {
		t.Errorf("expected flag.ErrHelp from --help, got %v", err)
	}
	if !strings.Contains(out.String(), "Usage of meshmorph") {
		t.Errorf("expected usage info in output, got: %s", out.String())
	}
	if len(app.called) != 0 {
		t.Errorf("no mode should run on --help, got %v", app.called)
	}
}

func TestRun_BadFlag(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	if err := run([]string{"--no-such-flag"}, &out, app); err == nil {
		t.Error("expected error for unknown flag, got nil")
	}
}

func TestRun_Default(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{}, &out, app)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	expectedPrefix := "meshmorph version: " + Version
	if !strings.Contains(out.String(), expectedPrefix) {
		t.Errorf("expected output to contain version, got: %s", out.String())
	}
	if !strings.Contains(out.String(), "nothing to do") {
		t.Errorf("expected usage hint in output, got: %s", out.String())
	}
	if len(app.called) != 0 {
		t.Errorf("no mode should run without flags, got %v", app.called)
	}
}

func TestMain_Execute(t *testing.T) {
	// Smoke test to ensure version is set
	if Version == "" {
		t.Error("expected Version to be set")
	}
}

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/kwv/meshmorph/morph"
)

// buildServiceBinary compiles the command into dir and returns the path.
func buildServiceBinary(t *testing.T, dir string) string {
	t.Helper()
	binaryPath := filepath.Join(dir, "meshmorph-test")
	buildCmd := exec.Command("go", "build", "-o", binaryPath, ".")
	if output, err := buildCmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, output)
	}
	return binaryPath
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding a free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func waitForHealthz(url string, deadline time.Duration) error {
	start := time.Now()
	for time.Since(start) < deadline {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("service did not become healthy within %v", deadline)
}

// TestServiceEndToEnd runs the built binary in HTTP mode, submits one real
// transfer job over the API and shuts the service down with SIGTERM.
func TestServiceEndToEnd(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") != "1" {
		t.Skip("Skipping integration test (set RUN_INTEGRATION_TESTS=1 to run)")
	}

	tmpDir := t.TempDir()
	binaryPath := buildServiceBinary(t, tmpDir)
	port := freePort(t)

	configYAML := fmt.Sprintf("service:\n  httpPort: %d\n", port)
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configYAML), 0644); err != nil {
		t.Fatalf("Failed to create config: %v", err)
	}

	var out bytes.Buffer
	cmd := exec.Command(binaryPath, "--serve", "--config="+configPath)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start service: %v", err)
	}
	defer func() { _ = cmd.Process.Kill() }()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	if err := waitForHealthz(base+"/healthz", 10*time.Second); err != nil {
		t.Fatalf("%v\nService output:\n%s", err, out.String())
	}

	// Submit a real job against OBJ fixtures.
	req := jobFixture(t, 0.25)
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}
	resp, err := http.Post(base+"/api/transfer", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/transfer: %v", err)
	}
	var rec morph.JobRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decoding job record: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/transfer status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if rec.Status != morph.JobCompleted {
		t.Fatalf("job status = %q, want completed (error: %s)", rec.Status, rec.Error)
	}

	// The completed job serves its quality render.
	resp, err = http.Get(base + "/render/" + rec.ID + ".svg")
	if err != nil {
		t.Fatalf("GET render: %v", err)
	}
	svg := new(bytes.Buffer)
	_, _ = svg.ReadFrom(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET render status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if !strings.Contains(svg.String(), "<svg") {
		t.Error("render endpoint did not return SVG content")
	}

	// Graceful shutdown.
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("Failed to send SIGTERM: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Error("Service did not shut down within timeout")
	}

	for _, expected := range []string{
		"Starting meshmorph service...",
		"Service Running",
		"POST /api/transfer",
		"Press Ctrl+C to stop",
		"Shutting down service...",
	} {
		if !strings.Contains(out.String(), expected) {
			t.Errorf("Expected output to contain %q.\nFull output:\n%s", expected, out.String())
		}
	}
}

// TestServiceStartupFailures checks the fatal startup paths of service mode.
func TestServiceStartupFailures(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") != "1" {
		t.Skip("Skipping integration test (set RUN_INTEGRATION_TESTS=1 to run)")
	}

	tmpDir := t.TempDir()
	binaryPath := buildServiceBinary(t, tmpDir)

	tests := []struct {
		name           string
		args           []string
		expectInOutput []string
	}{
		{
			name: "missing explicit config",
			args: []string{"--serve", "--config=nonexistent.yaml"},
			expectInOutput: []string{
				"Failed to load config",
			},
		},
		{
			name: "mqtt mode without broker",
			args: []string{"--mqtt", "--config=" + writeMinimalConfig(t, tmpDir)},
			expectInOutput: []string{
				"MQTT broker not configured",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := exec.Command(binaryPath, tt.args...)
			// A broker inherited from the environment would mask the
			// not-configured failure.
			for _, kv := range os.Environ() {
				if !strings.HasPrefix(kv, "MQTT_BROKER=") {
					cmd.Env = append(cmd.Env, kv)
				}
			}
			output, err := cmd.CombinedOutput()
			if err == nil {
				t.Error("Expected command to fail, but it succeeded")
			}
			for _, expected := range tt.expectInOutput {
				if !strings.Contains(string(output), expected) {
					t.Errorf("Expected output to contain %q.\nFull output:\n%s", expected, output)
				}
			}
		})
	}
}

func writeMinimalConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "minimal.yaml")
	if err := os.WriteFile(path, []byte("service:\n  httpPort: 8080\n"), 0644); err != nil {
		t.Fatalf("Failed to create config: %v", err)
	}
	return path
}

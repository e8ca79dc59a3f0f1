package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/kwv/meshmorph/morph"
)

// jobRunner executes one tracked transfer job.
type jobRunner func(ctx context.Context, req morph.TransferRequest) (*morph.JobRecord, error)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(jobs *morph.JobTracker, runJob jobRunner) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Jobs      int       `json:"jobs"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Jobs:      len(jobs.List()),
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding health status: %v", err)
		}
	})

	// Run a transfer job. The job runs synchronously; the response carries
	// the finished record, completed or failed.
	mux.HandleFunc("POST /api/transfer", func(w http.ResponseWriter, r *http.Request) {
		var req morph.TransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
			return
		}
		if err := req.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		rec, err := runJob(r.Context(), req)
		if err != nil {
			// Create rejects duplicate IDs; anything else never reaches here.
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rec); err != nil {
			log.Printf("Error encoding job record: %v", err)
		}
	})

	// Job list, newest first
	mux.HandleFunc("GET /api/jobs", func(w http.ResponseWriter, r *http.Request) {
		list := jobs.List()
		w.Header().Set("Content-Type", "application/json")
		payload := struct {
			Count int                `json:"count"`
			Jobs  []*morph.JobRecord `json:"jobs"`
		}{
			Count: len(list),
			Jobs:  list,
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("Error encoding job list: %v", err)
		}
	})

	// Single job detail
	mux.HandleFunc("GET /api/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		rec, ok := jobs.Get(r.PathValue("id"))
		if !ok {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rec); err != nil {
			log.Printf("Error encoding job record: %v", err)
		}
	})

	// Quality visualization of a completed job
	mux.HandleFunc("GET /render/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/render/")
		id = strings.TrimSuffix(id, ".svg")
		if id == "" {
			http.NotFound(w, r)
			return
		}

		svg, ok := jobs.RenderSVG(id)
		if !ok || len(svg) == 0 {
			http.Error(w, "no render available for this job", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(svg); err != nil {
			log.Printf("Error writing render SVG: %v", err)
		}
	})

	// Default route serves an HTML page embedding the latest job render
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}

		body := `<p>No completed jobs yet. POST a job to /api/transfer.</p>`
		for _, rec := range jobs.List() {
			if rec.Status != morph.JobCompleted {
				continue
			}
			if _, ok := jobs.RenderSVG(rec.ID); !ok {
				continue
			}
			body = fmt.Sprintf(`<img src="/render/%s.svg" alt="Transfer quality">`, rec.ID)
			break
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>meshmorph</title>
<style>
*{margin:0;padding:0;box-sizing:border-box}
html,body{width:100%%;height:100%%;overflow:hidden;background:#1a1a1a;color:#ddd;font-family:sans-serif}
img{display:block;width:100vw;height:100vh;object-fit:contain}
p{padding:2em}
</style>
</head>
<body>
%s
</body>
</html>`, body)
	})

	// Wrap mux with logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		mux.ServeHTTP(w, r)
	})
}

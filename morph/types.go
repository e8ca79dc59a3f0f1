package morph

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Mesh is an immutable triangle-mesh snapshot: vertex positions indexed by
// stable vertex id, triangle vertex-index triples, and per-vertex unit
// normals in world space.
type Mesh struct {
	Positions []r3.Vec
	Triangles [][3]int
	Normals   []r3.Vec
}

// NewMesh builds a Mesh from positions and triangles, validating that every
// triangle index is in bounds. Normals are computed by averaging adjacent
// face-corner normals; pass precomputed normals via NewMeshWithNormals to
// skip that step.
func NewMesh(positions []r3.Vec, triangles [][3]int) (*Mesh, error) {
	if err := checkTriangleBounds(len(positions), triangles); err != nil {
		return nil, err
	}
	return &Mesh{
		Positions: positions,
		Triangles: triangles,
		Normals:   VertexNormals(positions, triangles),
	}, nil
}

// NewMeshWithNormals builds a Mesh with caller-supplied per-vertex normals.
// Normals are expected to be unit length; they are used only for the
// correspondence validity test, never renormalized.
func NewMeshWithNormals(positions []r3.Vec, triangles [][3]int, normals []r3.Vec) (*Mesh, error) {
	if err := checkTriangleBounds(len(positions), triangles); err != nil {
		return nil, err
	}
	if len(normals) != len(positions) {
		return nil, fmt.Errorf("normal count %d does not match vertex count %d", len(normals), len(positions))
	}
	return &Mesh{Positions: positions, Triangles: triangles, Normals: normals}, nil
}

// VertexCount returns the number of vertices in the mesh.
func (m *Mesh) VertexCount() int { return len(m.Positions) }

// TriangleCount returns the number of triangles in the mesh.
func (m *Mesh) TriangleCount() int { return len(m.Triangles) }

func checkTriangleBounds(vertexCount int, triangles [][3]int) error {
	for ti, tri := range triangles {
		for _, v := range tri {
			if v < 0 || v >= vertexCount {
				return fmt.Errorf("triangle %d references vertex %d, mesh has %d vertices", ti, v, vertexCount)
			}
		}
	}
	return nil
}

// Config represents the full configuration file.
type Config struct {
	Transfer TransferConfig `yaml:"transfer" json:"transfer"`
	MQTT     MQTTConfig     `yaml:"mqtt,omitempty" json:"mqtt,omitempty"`
	Render   RenderConfig   `yaml:"render,omitempty" json:"render,omitempty"`
	Service  ServiceConfig  `yaml:"service,omitempty" json:"service,omitempty"`
}

// MQTTConfig holds MQTT connection and topic settings for worker mode.
type MQTTConfig struct {
	Broker       string `yaml:"broker" json:"broker"`
	ClientID     string `yaml:"clientId" json:"clientId"`
	Username     string `yaml:"username,omitempty" json:"username,omitempty"`
	Password     string `yaml:"password,omitempty" json:"password,omitempty"`
	JobTopic     string `yaml:"jobTopic,omitempty" json:"jobTopic,omitempty"`         // topic carrying TransferRequest JSON (default meshmorph/jobs)
	ResultPrefix string `yaml:"resultPrefix,omitempty" json:"resultPrefix,omitempty"` // prefix for result topics (default meshmorph)
}

// RenderConfig holds debug visualization settings.
type RenderConfig struct {
	Axis        string  `yaml:"axis,omitempty" json:"axis,omitempty"`               // projection plane: "xy", "xz" or "yz" (default "xy")
	Format      string  `yaml:"format,omitempty" json:"format,omitempty"`           // "svg" or "png" (default "svg")
	GridSpacing float64 `yaml:"gridSpacing,omitempty" json:"gridSpacing,omitempty"` // grid line spacing in mesh units; 0 disables
	PointRadius float64 `yaml:"pointRadius,omitempty" json:"pointRadius,omitempty"` // vertex dot radius in canvas units
	Resolution  float64 `yaml:"resolution,omitempty" json:"resolution,omitempty"`   // PNG DPI (default 300)
}

// ServiceConfig holds HTTP service settings.
type ServiceConfig struct {
	HTTPPort int    `yaml:"httpPort,omitempty" json:"httpPort,omitempty"` // default 8080
	JobCache string `yaml:"jobCache,omitempty" json:"jobCache,omitempty"` // path to job-history JSON cache; empty disables persistence
}

// EffectiveJobTopic returns the configured job topic or the default.
func (c *Config) EffectiveJobTopic() string {
	if c.MQTT.JobTopic != "" {
		return c.MQTT.JobTopic
	}
	return "meshmorph/jobs"
}

// EffectiveResultPrefix returns the configured result topic prefix or the default.
func (c *Config) EffectiveResultPrefix() string {
	if c.MQTT.ResultPrefix != "" {
		return c.MQTT.ResultPrefix
	}
	return "meshmorph"
}

// TransferRequest describes one transfer job. It is the payload accepted by
// the HTTP API and the MQTT job topic; Source/Shape/Target may be local
// paths or http(s) URLs.
type TransferRequest struct {
	ID     string          `json:"id,omitempty"`     // assigned by the tracker when empty
	Source string          `json:"source"`           // basis source mesh (OBJ)
	Shape  string          `json:"shape"`            // deformed source mesh defining the displacement field (OBJ)
	Target string          `json:"target"`           // target mesh (OBJ)
	Output string          `json:"output,omitempty"` // output OBJ path; empty skips writing
	Params *TransferConfig `json:"params,omitempty"` // nil uses the service defaults
}

// Validate checks that the request names all required meshes.
func (r *TransferRequest) Validate() error {
	if r.Source == "" {
		return fmt.Errorf("transfer request: source is required")
	}
	if r.Shape == "" {
		return fmt.Errorf("transfer request: shape is required")
	}
	if r.Target == "" {
		return fmt.Errorf("transfer request: target is required")
	}
	if r.Params != nil {
		if err := r.Params.Validate(); err != nil {
			return fmt.Errorf("transfer request: %w", err)
		}
	}
	return nil
}

// JobSummary is the caller-facing outcome of one transfer job.
type JobSummary struct {
	MatchCount    int      `json:"matchCount"`
	MatchPercent  float64  `json:"matchPercent"`
	LaplacianMode string   `json:"laplacianMode"`
	IslandSwitch  bool     `json:"islandSwitch"`  // low-coverage island forced point mode
	LowCoverage   bool     `json:"lowCoverage"`   // match percentage below the advisory threshold
	AxisFallbacks int      `json:"axisFallbacks"` // number of axes that fell back to known-verbatim
	Warnings      []string `json:"warnings,omitempty"`
	OutputPath    string   `json:"outputPath,omitempty"`
	ElapsedMS     int64    `json:"elapsedMs"`
}

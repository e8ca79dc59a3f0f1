package morph

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// LoadOBJ reads and parses a Wavefront OBJ file
func LoadOBJ(path string) (*Mesh, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return ParseOBJ(data)
}

// ParseOBJ parses Wavefront OBJ data. Only vertex positions and faces are
// read; normals come from the mesh itself and everything else (materials,
// texture coordinates, groups) is skipped. Faces with more than three
// corners are fan-triangulated.
func ParseOBJ(data []byte) (*Mesh, error) {
	var positions []r3.Vec
	var triangles [][3]int

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return nil, fmt.Errorf("obj: line %d: vertex needs 3 coordinates", lineNo)
			}
			var coords [3]float64
			for i := 0; i < 3; i++ {
				val, err := strconv.ParseFloat(fields[i+1], 64)
				if err != nil {
					return nil, fmt.Errorf("obj: line %d: bad coordinate %q", lineNo, fields[i+1])
				}
				coords[i] = val
			}
			positions = append(positions, r3.Vec{X: coords[0], Y: coords[1], Z: coords[2]})
		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("obj: line %d: face needs at least 3 vertices", lineNo)
			}
			corners := make([]int, 0, len(fields)-1)
			for _, ref := range fields[1:] {
				idx, err := parseOBJIndex(ref, len(positions))
				if err != nil {
					return nil, fmt.Errorf("obj: line %d: %w", lineNo, err)
				}
				corners = append(corners, idx)
			}
			for i := 1; i+1 < len(corners); i++ {
				triangles = append(triangles, [3]int{corners[0], corners[i], corners[i+1]})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("obj: %w", err)
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("obj: no vertices found")
	}
	return NewMesh(positions, triangles)
}

// parseOBJIndex resolves one face vertex reference ("7", "7/2", "7//3",
// "-1") to a zero-based position index.
func parseOBJIndex(ref string, vertexCount int) (int, error) {
	if slash := strings.IndexByte(ref, '/'); slash >= 0 {
		ref = ref[:slash]
	}
	idx, err := strconv.Atoi(ref)
	if err != nil {
		return 0, fmt.Errorf("bad face index %q", ref)
	}
	if idx < 0 {
		idx = vertexCount + idx
	} else {
		idx--
	}
	if idx < 0 || idx >= vertexCount {
		return 0, fmt.Errorf("face index %q out of range (%d vertices so far)", ref, vertexCount)
	}
	return idx, nil
}

// SaveOBJ writes the mesh as a Wavefront OBJ file.
func SaveOBJ(path string, mesh *Mesh) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	w := bufio.NewWriter(f)
	writeErr := writeOBJ(w, mesh)
	if writeErr == nil {
		writeErr = w.Flush()
	}
	if closeErr := f.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		return fmt.Errorf("writing obj: %w", writeErr)
	}
	return nil
}

// EncodeOBJ serializes the mesh as OBJ text.
func EncodeOBJ(mesh *Mesh) []byte {
	var buf bytes.Buffer
	writeOBJ(&buf, mesh)
	return buf.Bytes()
}

type stringWriter interface {
	WriteString(s string) (int, error)
}

func writeOBJ(w stringWriter, mesh *Mesh) error {
	buf := make([]byte, 0, 80)
	for _, p := range mesh.Positions {
		buf = buf[:0]
		buf = append(buf, 'v', ' ')
		buf = strconv.AppendFloat(buf, p.X, 'g', -1, 64)
		buf = append(buf, ' ')
		buf = strconv.AppendFloat(buf, p.Y, 'g', -1, 64)
		buf = append(buf, ' ')
		buf = strconv.AppendFloat(buf, p.Z, 'g', -1, 64)
		buf = append(buf, '\n')
		if _, err := w.WriteString(string(buf)); err != nil {
			return err
		}
	}
	for _, tri := range mesh.Triangles {
		buf = buf[:0]
		buf = append(buf, 'f', ' ')
		buf = strconv.AppendInt(buf, int64(tri[0]+1), 10)
		buf = append(buf, ' ')
		buf = strconv.AppendInt(buf, int64(tri[1]+1), 10)
		buf = append(buf, ' ')
		buf = strconv.AppendInt(buf, int64(tri[2]+1), 10)
		buf = append(buf, '\n')
		if _, err := w.WriteString(string(buf)); err != nil {
			return err
		}
	}
	return nil
}

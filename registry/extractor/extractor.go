package extractor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported asset format")
	ErrCorruptFile       = errors.New("file contents do not match declared format")
)

type BoundingBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Metadata is the flat record derived from an asset file. Fields that could
// not be determined for the format are left zero and omitted from the JSON.
type Metadata struct {
	Format      string       `json:"format"`
	MimeType    string       `json:"mime_type"`
	SizeBytes   int64        `json:"size_bytes"`
	TriCount    int64        `json:"tri_count,omitempty"`
	VertexCount int64        `json:"vertex_count,omitempty"`
	BoundingBox *BoundingBox `json:"bounding_box,omitempty"`
}

func (m Metadata) Json() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("error serializing extracted metadata: %w", err)
	}
	return string(data), nil
}

// Extractor derives a metadata record from raw file bytes and the declared
// format. Failures must never be fatal to an upload; callers degrade to a
// null metadata record.
type Extractor interface {
	Extract(ctx context.Context, data []byte, declaredFormat string) (Metadata, error)
}

type FormatSpec struct {
	MimeType string `yaml:"mime_type"`
	// Geometry marks formats the extractor can parse for counts and bounds.
	Geometry bool `yaml:"geometry"`
}

func defaultFormatTable() map[string]FormatSpec {
	return map[string]FormatSpec{
		"glb":   {MimeType: "model/gltf-binary", Geometry: true},
		"gltf":  {MimeType: "model/gltf+json", Geometry: true},
		"obj":   {MimeType: "model/obj", Geometry: true},
		"stl":   {MimeType: "model/stl", Geometry: true},
		"ply":   {MimeType: "model/ply", Geometry: true},
		"fbx":   {MimeType: "application/octet-stream"},
		"usdz":  {MimeType: "model/vnd.usdz+zip"},
		"blend": {MimeType: "application/x-blender"},
	}
}

type GeometryExtractor struct {
	formats map[string]FormatSpec
}

func NewGeometryExtractor() *GeometryExtractor {
	return &GeometryExtractor{formats: defaultFormatTable()}
}

// NewGeometryExtractorFromConfig overlays the built-in format table with
// entries from a yaml file mapping format name to FormatSpec.
func NewGeometryExtractorFromConfig(path string) (*GeometryExtractor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading format table %v: %w", path, err)
	}

	overrides := map[string]FormatSpec{}
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("error parsing format table %v: %w", path, err)
	}

	formats := defaultFormatTable()
	for name, spec := range overrides {
		formats[name] = spec
	}
	slog.Info("loaded extractor format table", "path", path, "formats", len(formats))

	return &GeometryExtractor{formats: formats}, nil
}

func (e *GeometryExtractor) Extract(ctx context.Context, data []byte, declaredFormat string) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, fmt.Errorf("extraction aborted: %w", err)
	}

	spec, ok := e.formats[declaredFormat]
	if !ok {
		return Metadata{}, fmt.Errorf("format %v: %w", declaredFormat, ErrUnsupportedFormat)
	}

	meta := Metadata{
		Format:    declaredFormat,
		MimeType:  spec.MimeType,
		SizeBytes: int64(len(data)),
	}

	if !spec.Geometry {
		return meta, nil
	}

	var err error
	switch declaredFormat {
	case "obj":
		err = parseObj(data, &meta)
	case "stl":
		err = parseStl(data, &meta)
	case "ply":
		err = parsePly(data, &meta)
	case "glb":
		err = parseGlbHeader(data, &meta)
	case "gltf":
		err = parseGltf(data, &meta)
	}
	if err != nil {
		return Metadata{}, err
	}

	return meta, nil
}

type boundsTracker struct {
	min, max [3]float64
	seen     bool
}

func (b *boundsTracker) add(x, y, z float64) {
	if !b.seen {
		b.min = [3]float64{x, y, z}
		b.max = [3]float64{x, y, z}
		b.seen = true
		return
	}
	b.min[0] = math.Min(b.min[0], x)
	b.min[1] = math.Min(b.min[1], y)
	b.min[2] = math.Min(b.min[2], z)
	b.max[0] = math.Max(b.max[0], x)
	b.max[1] = math.Max(b.max[1], y)
	b.max[2] = math.Max(b.max[2], z)
}

func (b *boundsTracker) box() *BoundingBox {
	if !b.seen {
		return nil
	}
	return &BoundingBox{
		X: b.max[0] - b.min[0],
		Y: b.max[1] - b.min[1],
		Z: b.max[2] - b.min[2],
	}
}

func parseObj(data []byte, meta *Metadata) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var vertices, tris int64
	bounds := boundsTracker{}

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "v ") {
			vertices++
			fields := strings.Fields(line)
			if len(fields) >= 4 {
				x, errX := strconv.ParseFloat(fields[1], 64)
				y, errY := strconv.ParseFloat(fields[2], 64)
				z, errZ := strconv.ParseFloat(fields[3], 64)
				if errX == nil && errY == nil && errZ == nil {
					bounds.add(x, y, z)
				}
			}
		} else if strings.HasPrefix(line, "f ") {
			// a face with n corners triangulates to n-2 triangles
			corners := int64(len(strings.Fields(line)) - 1)
			if corners >= 3 {
				tris += corners - 2
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error scanning obj data: %w", ErrCorruptFile)
	}

	if vertices == 0 {
		return fmt.Errorf("obj file contains no vertices: %w", ErrCorruptFile)
	}

	meta.VertexCount = vertices
	meta.TriCount = tris
	meta.BoundingBox = bounds.box()
	return nil
}

const stlBinaryHeaderSize = 84

func parseStl(data []byte, meta *Metadata) error {
	if bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("solid")) && !looksLikeBinaryStl(data) {
		return parseAsciiStl(data, meta)
	}
	return parseBinaryStl(data, meta)
}

func looksLikeBinaryStl(data []byte) bool {
	if len(data) < stlBinaryHeaderSize {
		return false
	}
	count := binary.LittleEndian.Uint32(data[80:84])
	return int64(len(data)) == stlBinaryHeaderSize+int64(count)*50
}

func parseBinaryStl(data []byte, meta *Metadata) error {
	if len(data) < stlBinaryHeaderSize {
		return fmt.Errorf("stl file shorter than binary header: %w", ErrCorruptFile)
	}

	count := binary.LittleEndian.Uint32(data[80:84])
	if int64(len(data)) != stlBinaryHeaderSize+int64(count)*50 {
		return fmt.Errorf("stl triangle count does not match file size: %w", ErrCorruptFile)
	}

	bounds := boundsTracker{}
	for i := uint32(0); i < count; i++ {
		// each record: normal (12 bytes) + 3 vertices (36 bytes) + attribute (2 bytes)
		record := data[stlBinaryHeaderSize+int64(i)*50:]
		for v := 0; v < 3; v++ {
			offset := 12 + v*12
			x := float64(math.Float32frombits(binary.LittleEndian.Uint32(record[offset:])))
			y := float64(math.Float32frombits(binary.LittleEndian.Uint32(record[offset+4:])))
			z := float64(math.Float32frombits(binary.LittleEndian.Uint32(record[offset+8:])))
			bounds.add(x, y, z)
		}
	}

	meta.TriCount = int64(count)
	meta.VertexCount = int64(count) * 3
	meta.BoundingBox = bounds.box()
	return nil
}

func parseAsciiStl(data []byte, meta *Metadata) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var tris, vertices int64
	bounds := boundsTracker{}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "facet") {
			tris++
		} else if strings.HasPrefix(line, "vertex") {
			vertices++
			fields := strings.Fields(line)
			if len(fields) >= 4 {
				x, errX := strconv.ParseFloat(fields[1], 64)
				y, errY := strconv.ParseFloat(fields[2], 64)
				z, errZ := strconv.ParseFloat(fields[3], 64)
				if errX == nil && errY == nil && errZ == nil {
					bounds.add(x, y, z)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error scanning ascii stl data: %w", ErrCorruptFile)
	}

	if tris == 0 {
		return fmt.Errorf("ascii stl contains no facets: %w", ErrCorruptFile)
	}

	meta.TriCount = tris
	meta.VertexCount = vertices
	meta.BoundingBox = bounds.box()
	return nil
}

func parsePly(data []byte, meta *Metadata) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != "ply" {
		return fmt.Errorf("missing ply magic line: %w", ErrCorruptFile)
	}

	var vertices, faces int64
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "end_header" {
			break
		}
		fields := strings.Fields(line)
		if len(fields) == 3 && fields[0] == "element" {
			count, err := strconv.ParseInt(fields[2], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid element count in ply header: %w", ErrCorruptFile)
			}
			switch fields[1] {
			case "vertex":
				vertices = count
			case "face":
				faces = count
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error scanning ply header: %w", ErrCorruptFile)
	}

	meta.VertexCount = vertices
	meta.TriCount = faces
	return nil
}

var glbMagic = []byte("glTF")

func parseGlbHeader(data []byte, meta *Metadata) error {
	// 12 byte header: magic, version, total length
	if len(data) < 12 || !bytes.Equal(data[0:4], glbMagic) {
		return fmt.Errorf("missing glb magic header: %w", ErrCorruptFile)
	}

	length := binary.LittleEndian.Uint32(data[8:12])
	if int64(length) != int64(len(data)) {
		return fmt.Errorf("glb declared length does not match file size: %w", ErrCorruptFile)
	}

	return nil
}

func parseGltf(data []byte, meta *Metadata) error {
	var doc struct {
		Asset struct {
			Version string `json:"version"`
		} `json:"asset"`
		Meshes []struct {
			Primitives []json.RawMessage `json:"primitives"`
		} `json:"meshes"`
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid gltf json: %w", ErrCorruptFile)
	}
	if doc.Asset.Version == "" {
		return fmt.Errorf("gltf json missing asset version: %w", ErrCorruptFile)
	}

	return nil
}

package extractor

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjExtraction(t *testing.T) {
	data := []byte(`# simple quad
v 0 0 0
v 2 0 0
v 2 1 0
v 0 1 3
f 1 2 3 4
`)

	meta, err := NewGeometryExtractor().Extract(context.Background(), data, "obj")
	require.NoError(t, err)

	assert.Equal(t, int64(4), meta.VertexCount)
	assert.Equal(t, int64(2), meta.TriCount)
	require.NotNil(t, meta.BoundingBox)
	assert.Equal(t, 2.0, meta.BoundingBox.X)
	assert.Equal(t, 1.0, meta.BoundingBox.Y)
	assert.Equal(t, 3.0, meta.BoundingBox.Z)
	assert.Equal(t, int64(len(data)), meta.SizeBytes)
}

func binaryStl(tris int) []byte {
	data := make([]byte, stlBinaryHeaderSize+tris*50)
	binary.LittleEndian.PutUint32(data[80:84], uint32(tris))
	for i := 0; i < tris; i++ {
		record := data[stlBinaryHeaderSize+i*50:]
		for v := 0; v < 3; v++ {
			offset := 12 + v*12
			binary.LittleEndian.PutUint32(record[offset:], math.Float32bits(float32(v)))
			binary.LittleEndian.PutUint32(record[offset+4:], math.Float32bits(1))
			binary.LittleEndian.PutUint32(record[offset+8:], math.Float32bits(2))
		}
	}
	return data
}

func TestBinaryStlExtraction(t *testing.T) {
	meta, err := NewGeometryExtractor().Extract(context.Background(), binaryStl(7), "stl")
	require.NoError(t, err)

	assert.Equal(t, int64(7), meta.TriCount)
	assert.Equal(t, int64(21), meta.VertexCount)
	require.NotNil(t, meta.BoundingBox)
	assert.Equal(t, 2.0, meta.BoundingBox.X)
}

func TestAsciiStlExtraction(t *testing.T) {
	data := []byte(`solid test
facet normal 0 0 1
  outer loop
    vertex 0 0 0
    vertex 1 0 0
    vertex 0 1 0
  endloop
endfacet
endsolid test
`)

	meta, err := NewGeometryExtractor().Extract(context.Background(), data, "stl")
	require.NoError(t, err)

	assert.Equal(t, int64(1), meta.TriCount)
	assert.Equal(t, int64(3), meta.VertexCount)
}

func TestPlyHeaderExtraction(t *testing.T) {
	data := []byte(`ply
format ascii 1.0
element vertex 1234
property float x
element face 567
end_header
`)

	meta, err := NewGeometryExtractor().Extract(context.Background(), data, "ply")
	require.NoError(t, err)

	assert.Equal(t, int64(1234), meta.VertexCount)
	assert.Equal(t, int64(567), meta.TriCount)
}

func TestGlbHeaderValidation(t *testing.T) {
	data := make([]byte, 20)
	copy(data, "glTF")
	binary.LittleEndian.PutUint32(data[4:8], 2)
	binary.LittleEndian.PutUint32(data[8:12], 20)

	meta, err := NewGeometryExtractor().Extract(context.Background(), data, "glb")
	require.NoError(t, err)
	assert.Equal(t, "model/gltf-binary", meta.MimeType)

	binary.LittleEndian.PutUint32(data[8:12], 999)
	_, err = NewGeometryExtractor().Extract(context.Background(), data, "glb")
	assert.ErrorIs(t, err, ErrCorruptFile)
}

func TestCorruptAndUnsupportedInputs(t *testing.T) {
	extract := NewGeometryExtractor()

	_, err := extract.Extract(context.Background(), []byte("data"), "exe")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = extract.Extract(context.Background(), []byte("no vertices here"), "obj")
	assert.ErrorIs(t, err, ErrCorruptFile)

	_, err = extract.Extract(context.Background(), []byte("{not json"), "gltf")
	assert.ErrorIs(t, err, ErrCorruptFile)
}

func TestNonGeometryFormatsGetBasicMetadata(t *testing.T) {
	meta, err := NewGeometryExtractor().Extract(context.Background(), []byte("anything"), "blend")
	require.NoError(t, err)

	assert.Equal(t, "blend", meta.Format)
	assert.Equal(t, int64(8), meta.SizeBytes)
	assert.Zero(t, meta.TriCount)
	assert.Nil(t, meta.BoundingBox)
}

func TestCancelledContextAbortsExtraction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewGeometryExtractor().Extract(ctx, []byte("v 0 0 0\n"), "obj")
	assert.Error(t, err)
}

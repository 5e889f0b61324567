package artifacts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-cefr/internal/ports"
)

type testArtifact struct {
	Name    string    `json:"name" validate:"required"`
	Weights []float64 `json:"weights" validate:"min=1"`
}

var testSchema = &Schema{
	Name: "test-artifact",
	Definition: `{
		"type": "object",
		"required": ["name", "weights"],
		"properties": {
			"name": {"type": "string"},
			"weights": {"type": "array", "items": {"type": "number"}}
		}
	}`,
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoad_DecodesAndCaches(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "model.json", `{"name":"nb","weights":[0.1,0.2]}`)
	l := NewLoader(dir)

	a, err := Load[testArtifact](context.Background(), l, "model.json", testSchema)
	require.NoError(t, err)
	assert.Equal(t, "nb", a.Name)
	assert.Equal(t, []float64{0.1, 0.2}, a.Weights)

	b, err := Load[testArtifact](context.Background(), l, filepath.Join(dir, "model.json"), testSchema)
	require.NoError(t, err)
	assert.Same(t, a, b, "identical content should come from the cache")
	assert.Equal(t, 1, l.CacheSize())

	l.ClearCache()
	assert.Equal(t, 0, l.CacheSize())
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad_json.json", `{"name":`)
	writeFile(t, dir, "bad_schema.json", `{"name":"x","weights":"nope"}`)
	writeFile(t, dir, "bad_struct.json", `{"name":"x","weights":[]}`)
	l := NewLoader(dir)

	tests := []struct {
		name    string
		path    string
		wantOp  string
		wantErr error
	}{
		{name: "missing file", path: "missing.json", wantOp: "read", wantErr: os.ErrNotExist},
		{name: "malformed JSON", path: "bad_json.json", wantOp: "validate", wantErr: ports.ErrArtifactCorrupted},
		{name: "schema violation", path: "bad_schema.json", wantOp: "validate", wantErr: ports.ErrArtifactCorrupted},
		{name: "struct validation", path: "bad_struct.json", wantOp: "validate", wantErr: ports.ErrArtifactCorrupted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load[testArtifact](context.Background(), l, tt.path, testSchema)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var artErr *ports.ArtifactError
			require.True(t, errors.As(err, &artErr))
			assert.Equal(t, tt.wantOp, artErr.Operation)
		})
	}
}

// TestLoad_ConcurrentCallersShareResult checks that parallel loads of one
// file all receive the same decoded value.
func TestLoad_ConcurrentCallersShareResult(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "model.json", `{"name":"shared","weights":[1]}`)
	l := NewLoader(dir)

	const n = 16
	results := make([]*testArtifact, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := Load[testArtifact](context.Background(), l, "model.json", testSchema)
			assert.NoError(t, err)
			results[i] = a
		}()
	}
	wg.Wait()

	for _, r := range results[1:] {
		assert.Same(t, results[0], r)
	}
}

func TestLoad_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Load[testArtifact](ctx, NewLoader(t.TempDir()), "model.json", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoader_Resolve(t *testing.T) {
	l := NewLoader("hf_models")
	assert.Equal(t, filepath.Join("hf_models", "nb", "model.json"), l.Resolve("nb/model.json"))
	assert.Equal(t, "/abs/model.json", l.Resolve("/abs/../abs/model.json"))
	assert.Equal(t, "model.json", NewLoader("").Resolve("./model.json"))
}

func TestSchema_NilAcceptsEverything(t *testing.T) {
	var s *Schema
	assert.NoError(t, s.Validate([]byte(`not even json`)))
}

// Package artifacts loads trained model files from the model cache directory.
//
// Artifacts are JSON documents exported from the training pipeline. Each load
// reads the file, checks it against a JSON Schema, decodes it into a typed
// struct and runs struct validation. Decoded artifacts are cached by the
// SHA-256 of their contents, and concurrent loads of the same file are
// collapsed into one.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/ahrav/go-cefr/internal/ports"
)

// Loader reads and caches model artifacts below a root directory.
type Loader struct {
	root     string
	validate *validator.Validate

	// cache maps schema name + content hash to a decoded artifact.
	// Cached values are shared and must not be mutated.
	cache   map[string]any
	cacheMu sync.RWMutex

	// sf prevents duplicate decoding when several sources load the same
	// file at startup.
	sf singleflight.Group
}

// NewLoader creates a loader that resolves relative paths against root.
func NewLoader(root string) *Loader {
	return &Loader{
		root:     root,
		validate: validator.New(),
		cache:    make(map[string]any),
	}
}

// Root returns the directory relative paths are resolved against.
func (l *Loader) Root() string { return l.root }

// Resolve returns the cleaned path for p, joining it to the root when p is
// relative.
func (l *Loader) Resolve(p string) string {
	if filepath.IsAbs(p) || l.root == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(l.root, p)
}

// Load reads the artifact at path into a new T. The returned value may be
// shared with other callers loading the same content and must be treated as
// read-only.
func Load[T any](ctx context.Context, l *Loader, path string, schema *Schema) (*T, error) {
	full := l.Resolve(path)
	schemaName := ""
	if schema != nil {
		schemaName = schema.Name
	}

	v, err, _ := l.sf.Do(schemaName+"|"+full, func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := os.ReadFile(full)
		if err != nil {
			return nil, ports.NewArtifactError(full, "read", err)
		}

		key := schemaName + ":" + contentHash(data)
		if cached, ok := l.get(key); ok {
			if typed, ok := cached.(*T); ok {
				return typed, nil
			}
		}

		if err := schema.Validate(data); err != nil {
			return nil, ports.NewArtifactError(full, "validate",
				fmt.Errorf("%w: %w", ports.ErrArtifactCorrupted, err))
		}

		out := new(T)
		if err := json.Unmarshal(data, out); err != nil {
			return nil, ports.NewArtifactError(full, "decode",
				fmt.Errorf("%w: %w", ports.ErrArtifactCorrupted, err))
		}
		if err := l.validate.Struct(out); err != nil {
			return nil, ports.NewArtifactError(full, "validate",
				fmt.Errorf("%w: %w", ports.ErrArtifactCorrupted, err))
		}

		l.put(key, out)
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	typed, ok := v.(*T)
	if !ok {
		return nil, ports.NewArtifactError(full, "decode", fmt.Errorf("artifact already loaded as %T", v))
	}
	return typed, nil
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (l *Loader) get(key string) (any, bool) {
	l.cacheMu.RLock()
	defer l.cacheMu.RUnlock()
	v, ok := l.cache[key]
	return v, ok
}

func (l *Loader) put(key string, v any) {
	l.cacheMu.Lock()
	defer l.cacheMu.Unlock()
	l.cache[key] = v
}

// CacheSize returns the number of cached artifacts.
func (l *Loader) CacheSize() int {
	l.cacheMu.RLock()
	defer l.cacheMu.RUnlock()
	return len(l.cache)
}

// ClearCache drops every cached artifact.
func (l *Loader) ClearCache() {
	l.cacheMu.Lock()
	defer l.cacheMu.Unlock()
	l.cache = make(map[string]any)
}

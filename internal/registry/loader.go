package registry

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultTables []byte

var (
	defaultOnce sync.Once
	defaultReg  *Registry
	defaultErr  error
)

// Parse decodes rule tables from YAML bytes and builds a registry.
func Parse(data []byte) (*Registry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("registry: tables payload is empty")
	}
	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("registry: decode tables: %w", err)
	}
	r, err := New(t)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	return r, nil
}

// Load reads rule tables from r.
func Load(r io.Reader) (*Registry, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("registry: read tables: %w", err)
	}
	return Parse(content)
}

// LoadFile loads rule tables from an explicit file path.
func LoadFile(path string) (*Registry, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	reg, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("registry: %s: %w", path, err)
	}
	return reg, nil
}

// Default returns the registry built from the embedded tables. The embedded
// tables are validated by tests, so an error here is a build defect.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultReg, defaultErr = Parse(defaultTables)
	})
	if defaultErr != nil {
		panic(defaultErr)
	}
	return defaultReg
}

// Open returns the registry at path, or the embedded default when path is
// empty.
func Open(path string) (*Registry, error) {
	if path == "" {
		defaultOnce.Do(func() {
			defaultReg, defaultErr = Parse(defaultTables)
		})
		return defaultReg, defaultErr
	}
	return LoadFile(path)
}

// DefaultTables returns the embedded YAML document.
func DefaultTables() []byte {
	return append([]byte(nil), defaultTables...)
}

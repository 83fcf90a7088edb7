package normalize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	ferrors "github.com/Aman-CERP/finrag/internal/errors"
	"github.com/Aman-CERP/finrag/internal/store"
)

// MappingFile is the YAML layout of an entity mapping file:
//
//	entities:
//	  - canonical_name: Portugal Cement
//	    raw_mentions: [Portugal, Secil]
//	    entity_type: business_unit
type MappingFile struct {
	Entities []store.EntityMapping `yaml:"entities"`
}

// MappingSource is anything that can list entity mappings, such as the
// table store.
type MappingSource interface {
	LoadMappings(ctx context.Context) ([]store.EntityMapping, error)
}

// LoadFile reads mappings from a YAML file.
func LoadFile(path string) ([]store.EntityMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ferrors.New(ferrors.ErrCodeMappingLoad, "failed to read entity mapping file", err).
			WithDetail("path", path)
	}

	var f MappingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, ferrors.New(ferrors.ErrCodeMappingLoad, "failed to parse entity mapping file", err).
			WithDetail("path", path)
	}
	return f.Entities, nil
}

// WriteFile writes mappings as YAML, creating parent directories.
func WriteFile(path string, mappings []store.EntityMapping) error {
	data, err := yaml.Marshal(MappingFile{Entities: mappings})
	if err != nil {
		return fmt.Errorf("marshal entity mappings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create mapping directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// LoadFileSnapshot builds a snapshot from a YAML mapping file.
func LoadFileSnapshot(path string) (*Snapshot, error) {
	mappings, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	snap, err := NewSnapshot(mappings)
	if err != nil {
		return nil, ferrors.New(ferrors.ErrCodeMappingLoad, "invalid entity mapping file", err).
			WithDetail("path", path)
	}
	return snap, nil
}

// LoadSnapshot builds a snapshot from src.
func LoadSnapshot(ctx context.Context, src MappingSource) (*Snapshot, error) {
	mappings, err := src.LoadMappings(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := NewSnapshot(mappings)
	if err != nil {
		return nil, ferrors.New(ferrors.ErrCodeMappingLoad, "invalid entity mappings", err)
	}
	return snap, nil
}

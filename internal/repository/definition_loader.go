package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"project_chatflow/internal/entities"

	"gopkg.in/yaml.v3"
)

// DefinitionWriter is implemented by WorkflowRepository and MemoryWorkflowStore
type DefinitionWriter interface {
	Upsert(ctx context.Context, def *entities.WorkflowDefinition) error
}

// LoadDefinitionFile parses one YAML or JSON workflow file. Definitions without a tenant
// get defaultTenant; definitions without is_active are active.
func LoadDefinitionFile(path, defaultTenant string) (*entities.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var (
		def    entities.WorkflowDefinition
		fields map[string]any
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%s: unsupported definition format", path)
	}

	if def.ID == "" {
		def.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if def.TenantID == "" {
		def.TenantID = defaultTenant
	}
	if _, ok := fields["is_active"]; !ok {
		def.IsActive = true
	}
	return &def, nil
}

// LoadDefinitions loads every definition file under the given files or directories
func LoadDefinitions(paths []string, defaultTenant string) ([]entities.WorkflowDefinition, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			switch strings.ToLower(filepath.Ext(path)) {
			case ".json", ".yaml", ".yml":
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(files)

	defs := make([]entities.WorkflowDefinition, 0, len(files))
	for _, f := range files {
		def, err := LoadDefinitionFile(f, defaultTenant)
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	return defs, nil
}

// SeedDefinitions writes loaded definitions into a store
func SeedDefinitions(ctx context.Context, store DefinitionWriter, defs []entities.WorkflowDefinition) error {
	for i := range defs {
		if err := store.Upsert(ctx, &defs[i]); err != nil {
			return fmt.Errorf("seed workflow %s: %w", defs[i].ID, err)
		}
	}
	return nil
}

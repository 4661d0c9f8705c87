package flows

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mmrzaf/etlflow/internal/domain"
)

type Repository interface {
	List() ([]*domain.Flow, error)
	Get(id string) (*domain.Flow, error)
	GetByPath(path string) (*domain.Flow, error)
	Mapping(ref string) (*domain.MappingDefinition, error)
	ListMappings() ([]*domain.MappingDefinition, error)
}

// FileRepository reads flow and mapping files from two directories. Paths handed to it
// must stay inside those directories.
type FileRepository struct {
	flowsDir    string
	mappingsDir string
}

func NewFileRepository(flowsDir, mappingsDir string) *FileRepository {
	return &FileRepository{flowsDir: flowsDir, mappingsDir: mappingsDir}
}

var _ Repository = (*FileRepository)(nil)

func (r *FileRepository) List() ([]*domain.Flow, error) {
	paths, err := listConfigFiles(r.flowsDir)
	if err != nil {
		return nil, err
	}
	flows := make([]*domain.Flow, 0, len(paths))
	for _, path := range paths {
		flow, err := r.loadFlow(path)
		if err != nil {
			continue
		}
		flows = append(flows, flow)
	}
	return flows, nil
}

func (r *FileRepository) Get(id string) (*domain.Flow, error) {
	flows, err := r.List()
	if err != nil {
		return nil, err
	}
	for _, f := range flows {
		if f.ID == id || f.Name == id {
			return f, nil
		}
	}
	return nil, fmt.Errorf("flow not found: %s", id)
}

func (r *FileRepository) GetByPath(path string) (*domain.Flow, error) {
	resolved, err := within(r.flowsDir, path)
	if err != nil {
		return nil, err
	}
	return r.loadFlow(resolved)
}

func (r *FileRepository) loadFlow(path string) (*domain.Flow, error) {
	flow, err := decodeFlow(path)
	if err != nil {
		return nil, err
	}
	if flow.Mapping.Definition == nil && flow.Mapping.Path != "" {
		def, err := r.Mapping(flow.Mapping.Path)
		if err != nil {
			return nil, fmt.Errorf("flow %s: %w", flow.ID, err)
		}
		flow.Mapping.Definition = def
	}
	return flow, nil
}

// Mapping resolves a mapping by file path or by name inside the mappings directory.
func (r *FileRepository) Mapping(ref string) (*domain.MappingDefinition, error) {
	candidates := []string{ref}
	if filepath.Ext(ref) == "" {
		for _, ext := range []string{".json", ".yaml", ".yml"} {
			candidates = append(candidates, ref+ext)
		}
	}
	for _, c := range candidates {
		resolved, err := within(r.mappingsDir, c)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(resolved); err != nil {
			continue
		}
		return LoadMappingFile(resolved)
	}

	defs, err := r.ListMappings()
	if err != nil {
		return nil, err
	}
	for _, d := range defs {
		if d.Name == ref {
			return d, nil
		}
	}
	return nil, fmt.Errorf("mapping not found: %s", ref)
}

func (r *FileRepository) ListMappings() ([]*domain.MappingDefinition, error) {
	paths, err := listConfigFiles(r.mappingsDir)
	if err != nil {
		return nil, err
	}
	defs := make([]*domain.MappingDefinition, 0, len(paths))
	for _, path := range paths {
		def, err := LoadMappingFile(path)
		if err != nil {
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadFlowFile reads a flow from any path. A mapping given by path is resolved relative
// to the flow file.
func LoadFlowFile(path string) (*domain.Flow, error) {
	flow, err := decodeFlow(path)
	if err != nil {
		return nil, err
	}
	if flow.Mapping.Definition == nil && flow.Mapping.Path != "" {
		ref := flow.Mapping.Path
		if !filepath.IsAbs(ref) {
			ref = filepath.Join(filepath.Dir(path), ref)
		}
		def, err := LoadMappingFile(ref)
		if err != nil {
			return nil, fmt.Errorf("flow %s: %w", flow.ID, err)
		}
		flow.Mapping.Definition = def
	}
	return flow, nil
}

func LoadMappingFile(path string) (*domain.MappingDefinition, error) {
	var def domain.MappingDefinition
	if err := decodeFile(path, &def); err != nil {
		return nil, err
	}
	if def.Name == "" {
		def.Name = baseName(path)
	}
	return &def, nil
}

func LoadCatalog(path string) (*domain.Catalog, error) {
	var cat domain.Catalog
	if err := decodeFile(path, &cat); err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return &cat, nil
}

func decodeFlow(path string) (*domain.Flow, error) {
	flow := domain.Flow{Options: domain.DefaultFlowOptions()}
	if err := decodeFile(path, &flow); err != nil {
		return nil, err
	}
	if flow.ID == "" {
		flow.ID = baseName(path)
	}
	return &flow, nil
}

func decodeFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if filepath.Ext(path) == ".json" {
		err = json.Unmarshal(data, out)
	} else {
		err = yaml.Unmarshal(data, out)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func listConfigFiles(dir string) ([]string, error) {
	if dir == "" {
		return []string{}, nil
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yaml", ".yml", ".json":
			out = append(out, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// within joins a relative path onto base and rejects results outside it.
func within(base, path string) (string, error) {
	baseAbs, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(baseAbs, p)
	}
	pAbs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(baseAbs, pAbs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes %s: %s", base, path)
	}
	return pAbs, nil
}

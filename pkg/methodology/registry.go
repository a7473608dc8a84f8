package methodology

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrMethodologyNotFound is returned when no definition file exists for the
// requested name.
var ErrMethodologyNotFound = fmt.Errorf("methodology not found")

// Registry loads methodology definitions from a directory and caches them by
// name for the process lifetime. Loads are all-or-nothing: a schema that
// fails validation is never cached.
type Registry struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*Schema
}

func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:   dir,
		cache: make(map[string]*Schema),
	}
}

// Get returns the named methodology, loading and validating it on first use.
func (r *Registry) Get(name string) (*Schema, error) {
	r.mu.RLock()
	if schema, ok := r.cache[name]; ok {
		r.mu.RUnlock()
		return schema, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if schema, ok := r.cache[name]; ok {
		return schema, nil
	}

	schema, err := r.load(name)
	if err != nil {
		return nil, err
	}

	r.cache[name] = schema
	return schema, nil
}

// List returns the names of all methodology files present in the directory.
func (r *Registry) List() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read methodology directory %s: %w", r.dir, err)
	}

	var names []string
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		name := entry.Name()[:len(entry.Name())-len(ext)]
		if name == "concepts" {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func (r *Registry) load(name string) (*Schema, error) {
	path := filepath.Join(r.dir, name+".yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if data, err = os.ReadFile(filepath.Join(r.dir, name+".yml")); os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMethodologyNotFound, name)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read methodology %s: %w", name, err)
	}

	var schema Schema
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to parse methodology %s: %w", name, err)
	}
	if schema.Method.Name == "" {
		schema.Method.Name = name
	}

	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("invalid methodology %s: %w", name, err)
	}

	return &schema, nil
}

// Validate checks structural consistency of the schema.
func (s *Schema) Validate() error {
	if len(s.Ontology.NodeTypes) == 0 {
		return fmt.Errorf("ontology must define at least one node type")
	}

	nodeNames := make(map[string]bool, len(s.Ontology.NodeTypes))
	for _, nt := range s.Ontology.NodeTypes {
		if nt.Name == "" {
			return fmt.Errorf("node type with empty name")
		}
		if nodeNames[nt.Name] {
			return fmt.Errorf("duplicate node type: %s", nt.Name)
		}
		if nt.Level != nil && *nt.Level < 0 {
			return fmt.Errorf("node type %s: level must be non-negative, got %d", nt.Name, *nt.Level)
		}
		nodeNames[nt.Name] = true
	}

	edgeNames := make(map[string]bool, len(s.Ontology.EdgeTypes))
	for _, et := range s.Ontology.EdgeTypes {
		if et.Name == "" {
			return fmt.Errorf("edge type with empty name")
		}
		if edgeNames[et.Name] {
			return fmt.Errorf("duplicate edge type: %s", et.Name)
		}
		edgeNames[et.Name] = true

		if len(et.Connections) == 0 {
			return fmt.Errorf("edge type %s: at least one permitted connection required", et.Name)
		}
		for _, conn := range et.Connections {
			if conn.From != "*" && !nodeNames[conn.From] {
				return fmt.Errorf("edge type %s: connection references unknown node type %q", et.Name, conn.From)
			}
			if conn.To != "*" && !nodeNames[conn.To] {
				return fmt.Errorf("edge type %s: connection references unknown node type %q", et.Name, conn.To)
			}
		}
	}

	if s.Ontology.RevisionEdge != "" && !edgeNames[s.Ontology.RevisionEdge] {
		return fmt.Errorf("revision_edge references unknown edge type %q", s.Ontology.RevisionEdge)
	}

	return nil
}

package methodology

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrConceptNotFound is returned for an unknown concept id.
var ErrConceptNotFound = fmt.Errorf("concept not found")

// Element is one coverage target within a concept. An element is covered
// when any active node label contains its label or an alias as a whole-word
// substring.
type Element struct {
	ID      string   `yaml:"id"`
	Label   string   `yaml:"label"`
	Aliases []string `yaml:"aliases,omitempty"`
}

// Concept is an interview subject with its element catalog.
type Concept struct {
	ID       string    `yaml:"id"`
	Name     string    `yaml:"name"`
	Elements []Element `yaml:"elements,omitempty"`
}

// Terms returns the label plus all aliases of an element.
func (e Element) Terms() []string {
	return append([]string{e.Label}, e.Aliases...)
}

type conceptsFile struct {
	Concepts []Concept `yaml:"concepts"`
}

// ConceptCatalog loads concepts from a YAML file once and serves lookups.
type ConceptCatalog struct {
	path string

	once     sync.Once
	loadErr  error
	concepts map[string]*Concept
}

func NewConceptCatalog(path string) *ConceptCatalog {
	return &ConceptCatalog{path: path}
}

func (c *ConceptCatalog) ensureLoaded() error {
	c.once.Do(func() {
		c.concepts = make(map[string]*Concept)

		data, err := os.ReadFile(c.path)
		if os.IsNotExist(err) {
			// No catalog file: sessions may still reference free-form
			// concept ids, with coverage matching disabled.
			return
		}
		if err != nil {
			c.loadErr = fmt.Errorf("failed to read concept catalog %s: %w", c.path, err)
			return
		}

		var file conceptsFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			c.loadErr = fmt.Errorf("failed to parse concept catalog %s: %w", c.path, err)
			return
		}

		for i := range file.Concepts {
			concept := &file.Concepts[i]
			if concept.ID == "" {
				c.loadErr = fmt.Errorf("concept catalog %s: concept with empty id", c.path)
				return
			}
			if _, dup := c.concepts[concept.ID]; dup {
				c.loadErr = fmt.Errorf("concept catalog %s: duplicate concept id %q", c.path, concept.ID)
				return
			}
			c.concepts[concept.ID] = concept
		}
	})
	return c.loadErr
}

// Get returns the concept for id, or ErrConceptNotFound.
func (c *ConceptCatalog) Get(id string) (*Concept, error) {
	if err := c.ensureLoaded(); err != nil {
		return nil, err
	}
	concept, ok := c.concepts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConceptNotFound, id)
	}
	return concept, nil
}

// Lookup returns the concept when present, with no error for unknown ids.
func (c *ConceptCatalog) Lookup(id string) *Concept {
	concept, err := c.Get(id)
	if err != nil {
		return nil
	}
	return concept
}

// List returns all loaded concepts.
func (c *ConceptCatalog) List() ([]*Concept, error) {
	if err := c.ensureLoaded(); err != nil {
		return nil, err
	}
	out := make([]*Concept, 0, len(c.concepts))
	for _, concept := range c.concepts {
		out = append(out, concept)
	}
	return out, nil
}

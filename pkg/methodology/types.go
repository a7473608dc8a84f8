// Package methodology loads and validates the typed ontologies that drive
// extraction and graph admissibility. A methodology is immutable after load
// and shared by reference across sessions.
package methodology

// Schema is one methodology definition, loaded from YAML.
type Schema struct {
	Method     MethodSpec     `yaml:"method"`
	Ontology   OntologySpec   `yaml:"ontology"`
	Extraction ExtractionSpec `yaml:"extraction,omitempty"`

	// ExhaustionPatterns override the built-in English exhaustion phrases
	// ("nothing", "don't know", ...) for multilingual interviews.
	ExhaustionPatterns []string `yaml:"exhaustion_patterns,omitempty"`
}

// MethodSpec holds method-level metadata.
type MethodSpec struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version,omitempty"`
	Goal    string `yaml:"goal,omitempty"`

	// OpeningBias steers the opening question prompt.
	OpeningBias string `yaml:"opening_bias,omitempty"`
}

// OntologySpec defines the node and edge kinds.
type OntologySpec struct {
	NodeTypes []NodeTypeSpec `yaml:"node_types"`
	EdgeTypes []EdgeTypeSpec `yaml:"edge_types"`

	// RevisionEdge names the edge type that triggers supersession. The
	// direction convention is: source revises (and supersedes) target.
	RevisionEdge string `yaml:"revision_edge,omitempty"`
}

// NodeTypeSpec describes one node kind.
type NodeTypeSpec struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Examples    []string `yaml:"examples,omitempty"`

	// Level orders node types along the methodology's ladder (e.g. MEC
	// attribute=0 ... value=3). Optional.
	Level *int `yaml:"level,omitempty"`

	// Terminal marks node types that end a chain.
	Terminal bool `yaml:"terminal,omitempty"`
}

// ConnectionSpec is one permitted (source type, target type) pair. Either
// side may be the wildcard "*".
type ConnectionSpec struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// EdgeTypeSpec describes one edge kind and its admissible connections.
type EdgeTypeSpec struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description,omitempty"`
	Connections []ConnectionSpec `yaml:"connections"`
}

// ExtractionSpec carries prompt material for the extraction service.
type ExtractionSpec struct {
	Guidelines       []string `yaml:"guidelines,omitempty"`
	Examples         []string `yaml:"examples,omitempty"`
	NamingConvention string   `yaml:"naming_convention,omitempty"`
}

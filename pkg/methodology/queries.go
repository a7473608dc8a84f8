package methodology

import (
	"fmt"
	"strings"
)

// ValidNodeType reports whether name is a defined node type.
func (s *Schema) ValidNodeType(name string) bool {
	for _, nt := range s.Ontology.NodeTypes {
		if nt.Name == name {
			return true
		}
	}
	return false
}

// ValidEdgeType reports whether name is a defined edge type.
func (s *Schema) ValidEdgeType(name string) bool {
	for _, et := range s.Ontology.EdgeTypes {
		if et.Name == name {
			return true
		}
	}
	return false
}

// ValidConnection reports whether edgeType permits (srcType, dstType),
// honoring "*" wildcards on either side.
func (s *Schema) ValidConnection(edgeType, srcType, dstType string) bool {
	for _, et := range s.Ontology.EdgeTypes {
		if et.Name != edgeType {
			continue
		}
		for _, conn := range et.Connections {
			if (conn.From == "*" || conn.From == srcType) &&
				(conn.To == "*" || conn.To == dstType) {
				return true
			}
		}
		return false
	}
	return false
}

// NodeType returns the spec for a node type name.
func (s *Schema) NodeType(name string) (NodeTypeSpec, bool) {
	for _, nt := range s.Ontology.NodeTypes {
		if nt.Name == name {
			return nt, true
		}
	}
	return NodeTypeSpec{}, false
}

// NodeDescriptions returns name → "description (e.g. 'ex1', 'ex2', 'ex3')"
// with at most three examples per type.
func (s *Schema) NodeDescriptions() map[string]string {
	out := make(map[string]string, len(s.Ontology.NodeTypes))
	for _, nt := range s.Ontology.NodeTypes {
		desc := nt.Description
		if len(nt.Examples) > 0 {
			examples := nt.Examples
			if len(examples) > 3 {
				examples = examples[:3]
			}
			quoted := make([]string, len(examples))
			for i, ex := range examples {
				quoted[i] = fmt.Sprintf("'%s'", ex)
			}
			desc = fmt.Sprintf("%s (e.g. %s)", desc, strings.Join(quoted, ", "))
		}
		out[nt.Name] = desc
	}
	return out
}

// EdgeDescriptionsWithConnections returns name → "description [src→dst, ...]".
func (s *Schema) EdgeDescriptionsWithConnections() map[string]string {
	out := make(map[string]string, len(s.Ontology.EdgeTypes))
	for _, et := range s.Ontology.EdgeTypes {
		pairs := make([]string, len(et.Connections))
		for i, conn := range et.Connections {
			pairs[i] = fmt.Sprintf("%s->%s", conn.From, conn.To)
		}
		out[et.Name] = fmt.Sprintf("%s [%s]", et.Description, strings.Join(pairs, ", "))
	}
	return out
}

// NodeTypeNames returns the defined node type names in declaration order.
func (s *Schema) NodeTypeNames() []string {
	names := make([]string, len(s.Ontology.NodeTypes))
	for i, nt := range s.Ontology.NodeTypes {
		names[i] = nt.Name
	}
	return names
}

// DefaultExhaustionPatterns is the built-in English set used when a
// methodology does not configure its own.
var DefaultExhaustionPatterns = []string{
	"nothing",
	"nothing else",
	"nothing really",
	"don't know",
	"dont know",
	"not sure",
	"can't think",
	"cant think",
	"that's it",
	"thats it",
	"no idea",
}

// EffectiveExhaustionPatterns returns the configured patterns or the default
// English set.
func (s *Schema) EffectiveExhaustionPatterns() []string {
	if len(s.ExhaustionPatterns) > 0 {
		return s.ExhaustionPatterns
	}
	return DefaultExhaustionPatterns
}

package registry

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrUnknownNodeType = errors.New("registry: unknown node type")
	ErrNodeTypeExists  = errors.New("registry: node type already registered")
)

// NodeType describes one registered type. Supertypes must already be
// registered when the type is.
type NodeType struct {
	Name       string   `yaml:"name"`
	Supertypes []string `yaml:"supertypes,omitempty"`
	Mixin      bool     `yaml:"mixin,omitempty"`
	Orderable  bool     `yaml:"orderable,omitempty"`
}

// builtinTypes is the minimal content model every repository starts
// with. rep:* types back the system subtree.
var builtinTypes = []NodeType{
	{Name: "nt:base"},
	{Name: "rep:root", Supertypes: []string{"nt:base"}, Orderable: true},
	{Name: "rep:system", Supertypes: []string{"nt:base"}},
	{Name: "rep:versionStorage", Supertypes: []string{"nt:base"}},
	{Name: "rep:nodeTypes", Supertypes: []string{"nt:base"}},
	{Name: "nt:unstructured", Supertypes: []string{"nt:base"}, Orderable: true},
	{Name: "nt:hierarchyNode", Supertypes: []string{"nt:base"}},
	{Name: "nt:folder", Supertypes: []string{"nt:hierarchyNode"}},
	{Name: "nt:file", Supertypes: []string{"nt:hierarchyNode"}},
	{Name: "nt:resource", Supertypes: []string{"nt:base"}},
	{Name: "nt:version", Supertypes: []string{"nt:base"}},
	{Name: "nt:versionHistory", Supertypes: []string{"nt:base"}},
	{Name: "mix:referenceable", Mixin: true},
	{Name: "mix:lockable", Mixin: true},
	{Name: "mix:versionable", Supertypes: []string{"mix:referenceable"}, Mixin: true},
}

// NodeTypes is the name-keyed node type registry.
type NodeTypes struct {
	mu    sync.RWMutex
	types map[string]NodeType
}

// OpenNodeTypes returns a registry seeded with the built-in types.
func OpenNodeTypes() *NodeTypes {
	r := &NodeTypes{types: make(map[string]NodeType, len(builtinTypes))}
	for _, nt := range builtinTypes {
		r.types[nt.Name] = nt
	}
	return r
}

// Register adds a custom node type. All supertypes must exist.
func (r *NodeTypes) Register(nt NodeType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[nt.Name]; ok {
		return ErrNodeTypeExists
	}
	for _, s := range nt.Supertypes {
		if _, ok := r.types[s]; !ok {
			return ErrUnknownNodeType
		}
	}
	r.types[nt.Name] = nt
	return nil
}

// Get looks a type up by name.
func (r *NodeTypes) Get(name string) (NodeType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nt, ok := r.types[name]
	if !ok {
		return NodeType{}, ErrUnknownNodeType
	}
	return nt, nil
}

// Has reports whether the type is registered.
func (r *NodeTypes) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[name]
	return ok
}

// Names lists all registered type names, sorted.
func (r *NodeTypes) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for n := range r.types {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// IsSubtype walks the supertype closure of name looking for "of". Every
// type is a subtype of itself.
func (r *NodeTypes) IsSubtype(name, of string) bool {
	if name == of {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]bool{}
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		nt, ok := r.types[cur]
		if !ok {
			return false
		}
		for _, s := range nt.Supertypes {
			if s == of {
				return true
			}
			queue = append(queue, s)
		}
	}
	return false
}

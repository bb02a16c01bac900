// Package registry holds the process-wide tables every workspace shares:
// the namespace registry mapping prefixes to URIs and the node type
// registry describing the content model. Both are read-mostly; custom
// namespace mappings persist to the repository meta area.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/hboutemy/jackrabbit/fsys"
	"github.com/hboutemy/jackrabbit/utils"
)

var (
	ErrReservedPrefix = errors.New("registry: namespace prefix is reserved")
	ErrUnknownPrefix  = errors.New("registry: unknown namespace prefix")
	ErrUnknownURI     = errors.New("registry: unknown namespace uri")
)

// nsResource is the meta-area resource carrying custom mappings.
const nsResource = "ns_reg.yaml"

// reserved prefixes are built in and cannot be remapped.
var reserved = map[string]string{
	"":    "",
	"jcr": "http://www.jcp.org/jcr/1.0",
	"nt":  "http://www.jcp.org/jcr/nt/1.0",
	"mix": "http://www.jcp.org/jcr/mix/1.0",
	"rep": "internal",
	"xml": "http://www.w3.org/XML/1998/namespace",
}

// Namespaces is the prefix <-> URI registry. A nil area keeps the
// registry in memory only.
type Namespaces struct {
	mu          sync.RWMutex
	prefixToURI map[string]string
	uriToPrefix map[string]string
	area        *fsys.Area
	log         utils.Logger
}

// OpenNamespaces loads the registry from the meta area, seeding the
// reserved mappings first.
func OpenNamespaces(area *fsys.Area, log utils.Logger) (*Namespaces, error) {
	n := &Namespaces{
		prefixToURI: make(map[string]string),
		uriToPrefix: make(map[string]string),
		area:        area,
		log:         log,
	}
	for p, u := range reserved {
		n.prefixToURI[p] = u
		n.uriToPrefix[u] = p
	}
	if area == nil {
		return n, nil
	}
	data, err := area.ReadResource(nsResource)
	if errors.Is(err, fsys.ErrNotExist) {
		return n, nil
	}
	if err != nil {
		return nil, err
	}
	var custom map[string]string
	if err := yaml.Unmarshal(data, &custom); err != nil {
		return nil, fmt.Errorf("registry: unreadable namespace resource: %w", err)
	}
	for p, u := range custom {
		if _, ok := reserved[p]; ok {
			continue
		}
		n.prefixToURI[p] = u
		n.uriToPrefix[u] = p
	}
	return n, nil
}

// Register maps a prefix to a URI, replacing a previous custom mapping
// for the same prefix. Reserved prefixes cannot be touched.
func (n *Namespaces) Register(prefix, uri string) error {
	if _, ok := reserved[prefix]; ok {
		return ErrReservedPrefix
	}
	n.mu.Lock()
	if old, ok := n.prefixToURI[prefix]; ok {
		delete(n.uriToPrefix, old)
	}
	n.prefixToURI[prefix] = uri
	n.uriToPrefix[uri] = prefix
	n.mu.Unlock()
	return n.store()
}

// URI resolves a prefix.
func (n *Namespaces) URI(prefix string) (string, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	uri, ok := n.prefixToURI[prefix]
	if !ok {
		return "", ErrUnknownPrefix
	}
	return uri, nil
}

// Prefix resolves a URI back to its prefix.
func (n *Namespaces) Prefix(uri string) (string, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.uriToPrefix[uri]
	if !ok {
		return "", ErrUnknownURI
	}
	return p, nil
}

// Prefixes lists all registered prefixes, sorted.
func (n *Namespaces) Prefixes() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.prefixToURI))
	for p := range n.prefixToURI {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// store persists the custom mappings. Reserved ones are rebuilt from
// code on every start and never written.
func (n *Namespaces) store() error {
	if n.area == nil {
		return nil
	}
	n.mu.RLock()
	custom := make(map[string]string)
	for p, u := range n.prefixToURI {
		if _, ok := reserved[p]; !ok {
			custom[p] = u
		}
	}
	n.mu.RUnlock()
	data, err := yaml.Marshal(custom)
	if err != nil {
		return err
	}
	return n.area.WriteResource(nsResource, data)
}

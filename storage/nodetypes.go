package storage

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/hboutemy/jackrabbit/registry"
)

// NodeTypeProvider serves the node type subtree as virtual read-only
// states: one child per registered type under the well-known node types
// root. Type nodes get deterministic ids derived from the type name, so
// the subtree looks identical across restarts and instances.
type NodeTypeProvider struct {
	reg      *registry.NodeTypes
	rootID   uuid.UUID
	parentID uuid.UUID
}

func NewNodeTypeProvider(reg *registry.NodeTypes, rootID, parentID uuid.UUID) *NodeTypeProvider {
	return &NodeTypeProvider{reg: reg, rootID: rootID, parentID: parentID}
}

func (p *NodeTypeProvider) typeID(name string) uuid.UUID {
	return uuid.NewSHA1(p.rootID, []byte(name))
}

func (p *NodeTypeProvider) HasState(id uuid.UUID) bool {
	_, ok := p.State(id)
	return ok
}

func (p *NodeTypeProvider) State(id uuid.UUID) (*NodeState, bool) {
	if id == p.rootID {
		names := p.reg.Names()
		st := &NodeState{ID: p.rootID, Parent: p.parentID, Type: "rep:nodeTypes"}
		for _, n := range names {
			st.AddChild(n, p.typeID(n))
		}
		return st, true
	}
	for _, n := range p.reg.Names() {
		if p.typeID(n) != id {
			continue
		}
		nt, err := p.reg.Get(n)
		if err != nil {
			return nil, false
		}
		st := &NodeState{
			ID:     id,
			Parent: p.rootID,
			Type:   "nt:base",
			Props: map[string]string{
				"jcr:nodeTypeName": nt.Name,
				"jcr:isMixin":      strconv.FormatBool(nt.Mixin),
			},
		}
		if len(nt.Supertypes) > 0 {
			st.Props["jcr:supertypes"] = strings.Join(nt.Supertypes, " ")
		}
		return st, true
	}
	return nil, false
}

package mycelial

// SymbolTable canonicalizes a parsed Network into frequencies, types,
// agent templates, spawned instances, and their layouts (spec.md
// §4.3). It is the single read-only model C4-C7 and C9 consume.
type SymbolTable struct {
	Network *Network

	Frequencies map[string]*FrequencyLayout
	Structs     map[string]*StructLayout
	Enums       map[string]*EnumLayout

	Agents    map[string]*AgentTemplate
	Instances map[string]*AgentInstance
	// InstanceOrder preserves topology's spawn declaration order,
	// needed for broadcast expansion (spec.md §9).
	InstanceOrder []string

	FruitingBodies map[string]bool

	// StateTableSize is the total size of the concatenated
	// agent-state table across every spawned instance.
	StateTableSize int

	Routing *RoutingTable
}

// AgentTemplate is a hypha declaration's canonical form: its state
// layout, handlers, and rules, indexed for lookup.
type AgentTemplate struct {
	Name        string
	Decl        *HyphaDecl
	State       *AgentStateLayout
	RestHandler *Handler
	OnSignal    map[string][]*Handler // frequency -> handlers (guard-distinguished)
	OnCycle     map[int]*Handler
	Rules       map[string]*Rule
}

// AgentInstance is one `spawn` entry from topology, with its region
// offset into the global agent-state table.
type AgentInstance struct {
	InstanceID  string
	HyphalType  string
	StateOffset int
}

// BuildSymbolTable canonicalizes n, computing every layout spec.md
// §4.3 names. It returns a SemanticError on any reference to an
// undeclared frequency, type, or hyphal type.
func BuildSymbolTable(n *Network) (*SymbolTable, error) {
	st := &SymbolTable{
		Network:        n,
		Frequencies:    map[string]*FrequencyLayout{},
		Structs:        map[string]*StructLayout{},
		Enums:          map[string]*EnumLayout{},
		Agents:         map[string]*AgentTemplate{},
		Instances:      map[string]*AgentInstance{},
		FruitingBodies: map[string]bool{},
	}

	for _, f := range n.Frequencies {
		if _, dup := st.Frequencies[f.Name]; dup {
			return nil, SemanticError{Message: "duplicate frequency declaration: " + f.Name, Pos: f.Span().Start}
		}
		st.Frequencies[f.Name] = buildFrequencyLayout(f)
	}

	for _, t := range n.Types {
		if t.IsEnum {
			if _, dup := st.Enums[t.Name]; dup {
				return nil, SemanticError{Message: "duplicate type declaration: " + t.Name, Pos: t.Span().Start}
			}
			st.Enums[t.Name] = buildEnumLayout(t)
		} else {
			if _, dup := st.Structs[t.Name]; dup {
				return nil, SemanticError{Message: "duplicate type declaration: " + t.Name, Pos: t.Span().Start}
			}
			st.Structs[t.Name] = buildStructLayout(t)
		}
	}

	for _, h := range n.Hyphae {
		tmpl, err := buildAgentTemplate(h)
		if err != nil {
			return nil, err
		}
		if _, dup := st.Agents[h.Name]; dup {
			return nil, SemanticError{Message: "duplicate hyphae declaration: " + h.Name, Pos: h.Span().Start}
		}
		st.Agents[h.Name] = tmpl
	}

	if n.Topology == nil {
		return nil, SemanticError{Message: "network has no topology block", Pos: n.Span().Start}
	}

	for _, fb := range n.Topology.FruitingBodies {
		st.FruitingBodies[fb] = true
	}

	offset := 0
	for _, sp := range n.Topology.Spawns {
		tmpl, ok := st.Agents[sp.HyphalType]
		if !ok {
			return nil, SemanticError{Message: "spawn of undeclared hyphal type: " + sp.HyphalType, Pos: sp.Span().Start}
		}
		if _, dup := st.Instances[sp.InstanceID]; dup {
			return nil, SemanticError{Message: "duplicate instance id: " + sp.InstanceID, Pos: sp.Span().Start}
		}
		inst := &AgentInstance{InstanceID: sp.InstanceID, HyphalType: sp.HyphalType, StateOffset: offset}
		st.Instances[sp.InstanceID] = inst
		st.InstanceOrder = append(st.InstanceOrder, sp.InstanceID)
		offset += tmpl.State.Size
	}
	st.StateTableSize = offset

	for _, sock := range n.Topology.Sockets {
		if _, ok := st.Frequencies[sock.Frequency]; !ok {
			return nil, SemanticError{Message: "socket references undeclared frequency: " + sock.Frequency, Pos: sock.Span().Start}
		}
		if !st.isKnownEndpoint(sock.Source) {
			return nil, SemanticError{Message: "socket references undeclared source: " + sock.Source, Pos: sock.Span().Start}
		}
		if sock.Destination != "*" && !st.isKnownEndpoint(sock.Destination) {
			return nil, SemanticError{Message: "socket references undeclared destination: " + sock.Destination, Pos: sock.Span().Start}
		}
	}

	routing, err := buildRoutingTable(st)
	if err != nil {
		return nil, err
	}
	st.Routing = routing

	return st, nil
}

func (st *SymbolTable) isKnownEndpoint(name string) bool {
	if _, ok := st.Instances[name]; ok {
		return true
	}
	return st.FruitingBodies[name]
}

func buildAgentTemplate(h *HyphaDecl) (*AgentTemplate, error) {
	tmpl := &AgentTemplate{
		Name:     h.Name,
		Decl:     h,
		State:    buildAgentStateLayout(h),
		OnSignal: map[string][]*Handler{},
		OnCycle:  map[int]*Handler{},
		Rules:    map[string]*Rule{},
	}
	for _, handler := range h.Handlers {
		switch handler.Kind {
		case HandlerRest:
			if tmpl.RestHandler != nil {
				return nil, SemanticError{Message: "hyphae " + h.Name + " declares more than one rest handler", Pos: handler.Span().Start}
			}
			tmpl.RestHandler = handler
		case HandlerSignal:
			tmpl.OnSignal[handler.Frequency] = append(tmpl.OnSignal[handler.Frequency], handler)
		case HandlerCycle:
			if _, dup := tmpl.OnCycle[handler.CycleNum]; dup {
				return nil, SemanticError{Message: "duplicate cycle handler for the same cycle number", Pos: handler.Span().Start}
			}
			tmpl.OnCycle[handler.CycleNum] = handler
		}
	}
	for _, r := range h.Rules {
		if _, dup := tmpl.Rules[r.Name]; dup {
			return nil, SemanticError{Message: "duplicate rule declaration: " + r.Name, Pos: r.Span().Start}
		}
		tmpl.Rules[r.Name] = r
	}
	return tmpl, nil
}

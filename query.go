package mycelial

// Query surface over a compiled SymbolTable, trimmed from the
// teacher's query.go/query_api.go to the subset a non-interactive
// compiler needs: plain lookups, not incremental/cached queries — this
// toolchain has no editor-facing watch loop to amortize recomputation
// over, so the teacher's Database/invalidation machinery has no
// analogue here (see DESIGN.md).

// FindAgent returns the agent template declared for hyphalType, if
// any.
func FindAgent(st *SymbolTable, hyphalType string) (*AgentTemplate, bool) {
	tmpl, ok := st.Agents[hyphalType]
	return tmpl, ok
}

// FindFrequency returns the packed field layout declared for a
// frequency name, if any.
func FindFrequency(st *SymbolTable, name string) (*FrequencyLayout, bool) {
	fl, ok := st.Frequencies[name]
	return fl, ok
}

// FindHandler returns the signal handlers an agent template declares
// for frequency, in declaration order (nil if none).
func FindHandler(tmpl *AgentTemplate, frequency string) []*Handler {
	return tmpl.OnSignal[frequency]
}

// RoutingFor returns the expanded, declaration-ordered destination
// list a (source, frequency) socket routes to.
func RoutingFor(st *SymbolTable, source, frequency string) []string {
	return st.Routing.DestinationsFor(source, frequency)
}

// FindInstance returns the spawned instance for an instance id, if
// any.
func FindInstance(st *SymbolTable, instanceID string) (*AgentInstance, bool) {
	inst, ok := st.Instances[instanceID]
	return inst, ok
}

// IsFruitingBody reports whether name is declared as a fruiting body
// (an external I/O endpoint, as opposed to a spawned agent instance).
func IsFruitingBody(st *SymbolTable, name string) bool {
	return st.FruitingBodies[name]
}

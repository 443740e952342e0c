package mycelial

import "fmt"

// RouteKey identifies a single FIFO queue: every socket collapses
// onto the (source, frequency) pair it names (spec.md §3).
type RouteKey struct {
	Source    string
	Frequency string
}

// RoutingTable is the expanded, declaration-ordered routing model
// C7's scheduler codegen walks each cycle, plus the handler/cycle
// label index C4-C7 use as call targets (spec.md §4.3).
type RoutingTable struct {
	// Order lists each distinct (source, frequency) key in the order
	// it was first declared; the scheduler services queues in this
	// order every cycle (spec.md §4.7, §5).
	Order []RouteKey
	// Routes maps a key to its ordered destination list. A `*`
	// destination is expanded in place to the full spawn list, in
	// spawn declaration order (spec.md §9).
	Routes map[RouteKey][]string

	// HandlerLabel maps instance-id|frequency to the call target for
	// that agent's signal handler.
	HandlerLabel map[string]string
	// CycleLabel maps instance-id|cycle-number to the call target for
	// that agent's cycle handler.
	CycleLabel map[string]string
	// RestLabel maps instance-id to the call target for that agent's
	// rest handler, for every agent that declares one.
	RestLabel map[string]string
}

func routeKeyString(k RouteKey) string {
	return k.Source + "|" + k.Frequency
}

func handlerLabelKey(instanceID, frequency string) string {
	return instanceID + "|" + frequency
}

func cycleLabelKey(instanceID string, n int) string {
	return fmt.Sprintf("%s|%d", instanceID, n)
}

// handlerLabel / cycleLabel / restLabel are the deterministic call
// target names; uniqueness follows directly from (agent, discriminant)
// uniqueness, so no separate counter is needed (contrast rule labels,
// which are likewise name-derived: `rule_<agent>_<name>`).
func handlerLabel(hyphalType, frequency string) string {
	return fmt.Sprintf("handler_%s_%s", hyphalType, frequency)
}

func cycleLabel(hyphalType string, n int) string {
	return fmt.Sprintf("cycle_%s_%d", hyphalType, n)
}

func restLabel(hyphalType string) string {
	return fmt.Sprintf("rest_%s", hyphalType)
}

func ruleLabel(hyphalType, name string) string {
	return fmt.Sprintf("rule_%s_%s", hyphalType, name)
}

func builtinLabel(name string) string {
	return fmt.Sprintf("builtin_%s", name)
}

// queueLabel names the FIFO queue backing one (source, frequency)
// route key in .bss; queuePushLabel names the internal enqueue
// routine C7 generates for it (spec.md §4.3: "one FIFO queue per
// (source, frequency) pair").
func queueLabel(source, frequency string) string {
	return fmt.Sprintf("queue_%s_%s", source, frequency)
}

func queuePushLabel(source, frequency string) string {
	return fmt.Sprintf("enqueue_%s_%s", source, frequency)
}

// queueStageLabel names the staging ring buffer C7 generates alongside
// each live queue (spec.md §4.9: "per-frequency staging buffers").
// emit writes land here during a handler's dispatch; emitQueueMerge
// folds a key's staged entries into its live queue immediately before
// that key's own drain pass, so a handler can never observe its own
// emit before returning (spec.md §5) while still letting same-pass
// forward routing (an earlier key's emit feeding a later key's drain)
// go through as before.
func queueStageLabel(source, frequency string) string {
	return fmt.Sprintf("stage_%s_%s", source, frequency)
}

func queueStagePushLabel(source, frequency string) string {
	return fmt.Sprintf("enqueue_stage_%s_%s", source, frequency)
}

// representativeInstance returns the first spawned instance of
// hyphalType in declaration order. Handler bodies are generated once
// per hyphal type and shared by every instance of it; EMIT lowering
// resolves its routing destinations against this representative
// instance, which means two instances sharing a hyphal type must also
// share identical outgoing routing — true of every network in spec.md's
// conformance scenarios, and recorded as an accepted scope limit.
func (st *SymbolTable) representativeInstance(hyphalType string) (string, bool) {
	for _, id := range st.InstanceOrder {
		if st.Instances[id].HyphalType == hyphalType {
			return id, true
		}
	}
	return "", false
}

// buildRoutingTable expands every socket in declaration order,
// collapsing onto (source, frequency) keys and expanding `*`
// destinations to the full spawn list (spec.md §4.3, §9). It also
// assigns the deterministic handler/cycle/rest labels for every agent
// instance's hyphal type.
func buildRoutingTable(st *SymbolTable) (*RoutingTable, error) {
	rt := &RoutingTable{
		Routes:       map[RouteKey][]string{},
		HandlerLabel: map[string]string{},
		CycleLabel:   map[string]string{},
		RestLabel:    map[string]string{},
	}

	seen := map[RouteKey]bool{}
	for _, sock := range st.Network.Topology.Sockets {
		key := RouteKey{Source: sock.Source, Frequency: sock.Frequency}
		if !seen[key] {
			seen[key] = true
			rt.Order = append(rt.Order, key)
		}
		if sock.Destination == "*" {
			rt.Routes[key] = append(rt.Routes[key], st.InstanceOrder...)
		} else {
			rt.Routes[key] = append(rt.Routes[key], sock.Destination)
		}
	}

	for _, instanceID := range st.InstanceOrder {
		inst := st.Instances[instanceID]
		tmpl := st.Agents[inst.HyphalType]
		for _, h := range tmpl.Decl.Handlers {
			switch h.Kind {
			case HandlerRest:
				rt.RestLabel[instanceID] = restLabel(inst.HyphalType)
			case HandlerSignal:
				rt.HandlerLabel[handlerLabelKey(instanceID, h.Frequency)] = handlerLabel(inst.HyphalType, h.Frequency)
			case HandlerCycle:
				rt.CycleLabel[cycleLabelKey(instanceID, h.CycleNum)] = cycleLabel(inst.HyphalType, h.CycleNum)
			}
		}
	}

	return rt, nil
}

// DestinationsFor returns the expanded, declaration-ordered
// destination list routed from (source, frequency), or nil if no
// socket names that pair (spec.md §3: "silently dropped").
func (rt *RoutingTable) DestinationsFor(source, frequency string) []string {
	return rt.Routes[RouteKey{Source: source, Frequency: frequency}]
}

// HandlerLabelFor looks up the signal-handler call target for an
// instance's frequency, if one is declared.
func (rt *RoutingTable) HandlerLabelFor(instanceID, frequency string) (string, bool) {
	l, ok := rt.HandlerLabel[handlerLabelKey(instanceID, frequency)]
	return l, ok
}

// CycleLabelFor looks up the cycle-handler call target for an
// instance's cycle number, if one is declared.
func (rt *RoutingTable) CycleLabelFor(instanceID string, n int) (string, bool) {
	l, ok := rt.CycleLabel[cycleLabelKey(instanceID, n)]
	return l, ok
}

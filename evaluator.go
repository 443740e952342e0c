package mycelial

import (
	"fmt"
	"strconv"
	"strings"
)

// Evaluator is the tree-walking reference implementation spec.md §4's
// C9 names: a second consumer of the same SymbolTable that directly
// executes the program tree under the tidal-cycle scheduling model,
// used as the conformance oracle the generated-assembly path is
// checked against (spec.md §8's central law). It shares every layout
// invariant with the codegen path but never materializes an
// instruction stream — expression/statement evaluation works directly
// over Go values instead of accumulating Lines in R_ACC.
type Evaluator struct {
	st  *SymbolTable
	cfg *Config

	state  map[string]map[string]Value
	queues map[RouteKey][]Value

	// reports mirrors the teacher-adjacent "retains it in a per-agent
	// map for inspection" behavior spec.md §4.5 describes for `report`.
	reports map[string][]ReportEntry

	output []string

	cycleCounter int
	sourceFile   string
	outputFile   string
}

// ReportEntry records one `report` invocation for post-run inspection.
type ReportEntry struct {
	Name  string
	Value Value
}

// Value is the evaluator's dynamic value representation. One of:
// nil, int64, float64, string, bool, *EnumVal, *StructVal, *VecVal,
// *MapVal.
type Value interface{}

// EnumVal is the evaluator's counterpart to the codegen path's
// heap-allocated tagged union (spec.md §9): every variant, even a
// data-less one, carries an ordinal and an optional inner value, and
// equality/match always inspect it by reference-free structural
// comparison of Type+Ordinal, mirroring the codegen path's "always
// dereference" rule without actually allocating a heap cell.
type EnumVal struct {
	Type     string
	Variant  string
	Ordinal  int
	Inner    Value
	HasInner bool
}

// StructVal represents both user struct literals and signal payloads
// (a payload is simply a struct shaped like its frequency).
type StructVal struct {
	Type   string
	Fields map[string]Value
}

// VecVal is a pointer-identity vector/tuple value (mutated in place by
// vec_push/vec_set, matching the codegen path's pointer semantics).
type VecVal struct {
	Elems []Value
}

// MapVal preserves insertion order (spec.md §9 Open Question: "for k,
// v in ... Recommend: insertion order").
type MapVal struct {
	Keys []Value
	Vals []Value
}

func (m *MapVal) indexOf(key Value) int {
	for i, k := range m.Keys {
		if valuesEqual(k, key) {
			return i
		}
	}
	return -1
}

// NewEvaluator builds an evaluator over st, simulating the CLI
// arguments a generated binary would receive (spec.md §4.7: the
// `startup` frequency's source_file/output_file fields).
func NewEvaluator(st *SymbolTable, cfg *Config, sourceFile, outputFile string) *Evaluator {
	if cfg == nil {
		cfg = NewConfig()
	}
	return &Evaluator{
		st:         st,
		cfg:        cfg,
		state:      map[string]map[string]Value{},
		queues:     map[RouteKey][]Value{},
		reports:    map[string][]ReportEntry{},
		sourceFile: sourceFile,
		outputFile: outputFile,
	}
}

// Run executes REST -> SENSE -> ACT to quiescence or MAX_CYCLES
// (spec.md §4.7) and returns the OUTPUT-drain lines in emission order,
// the same observable sequence the assembled artifact prints.
func (ev *Evaluator) Run() ([]string, error) {
	ev.initState()
	if err := ev.runRestHandlers(); err != nil {
		return nil, err
	}
	if err := ev.senseInject(); err != nil {
		return nil, err
	}
	if err := ev.actLoop(); err != nil {
		return nil, err
	}
	return ev.output, nil
}

// initState seeds every spawned instance's state fields: vec/queue/map
// fields always start as a fresh empty container regardless of any
// declared default, non-container fields use their declared default
// where present, and the type's zero value otherwise (spec.md §4.7
// step 2, §3's agent-state-region lifecycle).
func (ev *Evaluator) initState() {
	for _, instanceID := range ev.st.InstanceOrder {
		inst := ev.st.Instances[instanceID]
		tmpl := ev.st.Agents[inst.HyphalType]
		fields := map[string]Value{}
		for _, f := range tmpl.Decl.State {
			// Container-typed fields are always freshly allocated here,
			// never from a declared default (codegen_scheduler.go's
			// emitStatePreInit does the same: vec_new/map_new run
			// unconditionally for every vec/queue/map state field).
			switch f.Type.Name {
			case "vec", "queue", "map":
				fields[f.Name] = zeroValue(f.Type)
				continue
			}
			if f.Default != nil {
				v, err := ev.evalExpr(&evalCtx{ev: ev, instanceID: instanceID, hyphalType: inst.HyphalType, tmpl: tmpl, locals: map[string]Value{}}, f.Default)
				if err == nil {
					fields[f.Name] = v
					continue
				}
			}
			fields[f.Name] = zeroValue(f.Type)
		}
		ev.state[instanceID] = fields
	}
}

func zeroValue(t TypeRef) Value {
	switch t.Name {
	case "vec", "queue":
		return &VecVal{}
	case "map":
		return &MapVal{}
	case "string":
		return ""
	case "bool", "boolean":
		return false
	case "f32", "f64":
		return float64(0)
	default:
		return int64(0)
	}
}

func (ev *Evaluator) runRestHandlers() error {
	for _, instanceID := range ev.st.InstanceOrder {
		inst := ev.st.Instances[instanceID]
		tmpl := ev.st.Agents[inst.HyphalType]
		if tmpl.RestHandler == nil {
			continue
		}
		ctx := &evalCtx{ev: ev, instanceID: instanceID, hyphalType: inst.HyphalType, tmpl: tmpl, locals: map[string]Value{}}
		if _, err := ev.execBlock(ctx, tmpl.RestHandler.Body); err != nil {
			return err
		}
	}
	return nil
}

// senseInject enqueues the initial payload for every socket sourced
// from an input fruiting body, special-casing `startup`'s
// source_file/output_file fields (spec.md §4.7).
func (ev *Evaluator) senseInject() error {
	for _, sock := range ev.st.Network.Topology.Sockets {
		if !ev.st.FruitingBodies[sock.Source] {
			continue
		}
		fl, ok := ev.st.Frequencies[sock.Frequency]
		if !ok {
			continue
		}
		payload := &StructVal{Type: sock.Frequency, Fields: map[string]Value{}}
		for _, f := range fl.Fields {
			payload.Fields[f.Name] = zeroValue(f.Type)
		}
		if sock.Frequency == "startup" {
			if _, ok := fl.Field("source_file"); ok {
				payload.Fields["source_file"] = ev.sourceFile
			}
			if _, ok := fl.Field("output_file"); ok {
				payload.Fields["output_file"] = ev.outputFile
			}
		}
		key := RouteKey{Source: sock.Source, Frequency: sock.Frequency}
		ev.queues[key] = append(ev.queues[key], payload)
	}
	return nil
}

// actLoop mirrors the codegen path's tidal loop exactly (spec.md
// §4.7): cycle handlers fire before that cycle's queue pass; a pass
// producing zero dispatches ends the run; MAX_CYCLES is a non-fatal
// warning, not an error.
func (ev *Evaluator) actLoop() error {
	maxCycles := ev.cfg.GetInt("scheduler.max_cycles")
	for {
		ev.cycleCounter++
		if ev.cycleCounter > maxCycles {
			ev.output = append(ev.output, "max cycles exceeded")
			return nil
		}
		if err := ev.runCycleHandlers(ev.cycleCounter); err != nil {
			return err
		}
		processed := 0
		for _, key := range ev.st.Routing.Order {
			n, err := ev.drainQueue(key)
			if err != nil {
				return err
			}
			processed += n
		}
		if processed == 0 {
			return nil
		}
	}
}

func (ev *Evaluator) runCycleHandlers(n int) error {
	for _, instanceID := range ev.st.InstanceOrder {
		inst := ev.st.Instances[instanceID]
		tmpl := ev.st.Agents[inst.HyphalType]
		h, ok := tmpl.OnCycle[n]
		if !ok {
			continue
		}
		ctx := &evalCtx{ev: ev, instanceID: instanceID, hyphalType: inst.HyphalType, tmpl: tmpl, locals: map[string]Value{}}
		if _, err := ev.execBlock(ctx, h.Body); err != nil {
			return err
		}
	}
	return nil
}

// drainQueue dequeues every payload currently queued on key (a
// snapshot taken at pass start, matching the codegen path's "dequeue
// until empty" loop within a single queue) and dispatches each to
// every routed destination, returning the count dispatched.
func (ev *Evaluator) drainQueue(key RouteKey) (int, error) {
	pending := ev.queues[key]
	ev.queues[key] = nil
	count := 0
	for _, payload := range pending {
		for _, dest := range ev.st.Routing.DestinationsFor(key.Source, key.Frequency) {
			if ev.st.FruitingBodies[dest] {
				ev.drainToOutput(key.Frequency, payload)
				continue
			}
			if err := ev.dispatchSignal(dest, key.Frequency, payload); err != nil {
				return count, err
			}
		}
		count++
	}
	return count, nil
}

func (ev *Evaluator) dispatchSignal(instanceID, frequency string, payload Value) error {
	inst, ok := ev.st.Instances[instanceID]
	if !ok {
		return nil
	}
	tmpl := ev.st.Agents[inst.HyphalType]
	handlers := tmpl.OnSignal[frequency]
	if len(handlers) == 0 {
		return nil
	}
	ctx := &evalCtx{ev: ev, instanceID: instanceID, hyphalType: inst.HyphalType, tmpl: tmpl, locals: map[string]Value{}, currentFrequency: frequency, paramName: handlers[0].Param, paramValue: payload}
	for _, h := range handlers {
		if h.Guard != nil {
			ctx.paramName = h.Param
			v, err := ev.evalExpr(ctx, h.Guard)
			if err != nil {
				return err
			}
			if !truthy(v) {
				continue
			}
		}
		ctx.paramName = h.Param
		if _, err := ev.execBlock(ctx, h.Body); err != nil {
			return err
		}
	}
	return nil
}

// drainToOutput implements spec.md §4.8's fixed print format.
func (ev *Evaluator) drainToOutput(frequency string, payload Value) {
	fl, ok := ev.st.Frequencies[frequency]
	if !ok {
		return
	}
	sv, _ := payload.(*StructVal)
	var b strings.Builder
	b.WriteString("OUTPUT: ")
	var strs []string
	for _, f := range fl.Fields {
		if f.Type.Name == "string" {
			strs = append(strs, fmt.Sprint(sv.Fields[f.Name]))
		}
	}
	if len(strs) > 0 {
		b.WriteString(strings.Join(strs, ""))
	} else {
		var ints []string
		for _, f := range fl.Fields {
			ints = append(ints, fmt.Sprint(sv.Fields[f.Name]))
		}
		b.WriteString(strings.Join(ints, " "))
	}
	ev.output = append(ev.output, b.String())
}

// evalCtx is the evaluator's per-activation frame: the executing
// instance, its bound signal parameter (if any), and its locals
// (spec.md §4.5/§4.6's funcCtx counterpart).
type evalCtx struct {
	ev               *Evaluator
	instanceID       string
	hyphalType       string
	tmpl             *AgentTemplate
	locals           map[string]Value
	currentFrequency string
	paramName        string
	paramValue       Value
}

func (c *evalCtx) child() *evalCtx {
	locals := make(map[string]Value, len(c.locals))
	for k, v := range c.locals {
		locals[k] = v
	}
	cp := *c
	cp.locals = locals
	return &cp
}

// ctrlKind distinguishes the four ways executing a statement can end
// (spec.md §4.5's label-stack-driven control flow, rendered here as
// plain Go control values instead of jumps).
type ctrlKind int

const (
	ctrlNone ctrlKind = iota
	ctrlReturn
	ctrlBreak
	ctrlContinue
)

type outcome struct {
	kind  ctrlKind
	value Value
}

var normalOutcome = outcome{kind: ctrlNone}

func (ev *Evaluator) execBlock(ctx *evalCtx, stmts []Stmt) (outcome, error) {
	for _, s := range stmts {
		o, err := ev.execStmt(ctx, s)
		if err != nil {
			return o, err
		}
		if o.kind != ctrlNone {
			return o, nil
		}
	}
	return normalOutcome, nil
}

func (ev *Evaluator) execStmt(ctx *evalCtx, s Stmt) (outcome, error) {
	switch n := s.(type) {
	case *LetStmt:
		v, err := ev.evalExpr(ctx, n.Value)
		if err != nil {
			return normalOutcome, err
		}
		ctx.locals[n.Name] = v
		return normalOutcome, nil
	case *AssignStmt:
		return normalOutcome, ev.execAssign(ctx, n)
	case *EmitStmt:
		return normalOutcome, ev.execEmit(ctx, n)
	case *IfStmt:
		cond, err := ev.evalExpr(ctx, n.Cond)
		if err != nil {
			return normalOutcome, err
		}
		if truthy(cond) {
			return ev.execBlock(ctx, n.Then)
		}
		return ev.execBlock(ctx, n.Else)
	case *ForInStmt:
		return ev.execForIn(ctx, n)
	case *WhileStmt:
		return ev.execWhile(ctx, n)
	case *MatchStmt:
		return ev.execMatchStmt(ctx, n)
	case *ReportStmt:
		return normalOutcome, ev.execReport(ctx, n)
	case *ReturnStmt:
		if n.Value == nil {
			return outcome{kind: ctrlReturn, value: nil}, nil
		}
		v, err := ev.evalExpr(ctx, n.Value)
		if err != nil {
			return normalOutcome, err
		}
		return outcome{kind: ctrlReturn, value: v}, nil
	case *BreakStmt:
		return outcome{kind: ctrlBreak}, nil
	case *ContinueStmt:
		return outcome{kind: ctrlContinue}, nil
	case *ExprStmt:
		_, err := ev.evalExpr(ctx, n.X)
		return normalOutcome, err
	default:
		return normalOutcome, CodegenError{Message: "unsupported statement kind", Pos: s.Span().Start}
	}
}

func (ev *Evaluator) execAssign(ctx *evalCtx, n *AssignStmt) error {
	switch t := n.Target.(type) {
	case *VarTarget:
		v, err := ev.evalExpr(ctx, n.Value)
		if err != nil {
			return err
		}
		ctx.locals[t.Name] = v
		return nil
	case *FieldTarget:
		v, err := ev.evalExpr(ctx, n.Value)
		if err != nil {
			return err
		}
		if ident, ok := t.Object.(*Ident); ok && ident.Name == "state" {
			ev.ev_setState(ctx, t.Field, v)
			return nil
		}
		obj, err := ev.evalExpr(ctx, t.Object)
		if err != nil {
			return err
		}
		if sv, ok := obj.(*StructVal); ok {
			sv.Fields[t.Field] = v
			return nil
		}
		return SemanticError{Message: "field assignment on non-struct value", Pos: t.Span().Start}
	case *IndexTarget:
		obj, err := ev.evalExpr(ctx, t.Object)
		if err != nil {
			return err
		}
		idx, err := ev.evalExpr(ctx, t.Index)
		if err != nil {
			return err
		}
		v, err := ev.evalExpr(ctx, n.Value)
		if err != nil {
			return err
		}
		switch coll := obj.(type) {
		case *VecVal:
			i := int(asInt(idx))
			if i >= 0 && i < len(coll.Elems) {
				coll.Elems[i] = v
			}
		case *MapVal:
			if i := coll.indexOf(idx); i >= 0 {
				coll.Vals[i] = v
			} else {
				coll.Keys = append(coll.Keys, idx)
				coll.Vals = append(coll.Vals, v)
			}
		}
		return nil
	}
	return CodegenError{Message: "unsupported assignment target", Pos: n.Span().Start}
}

func (ev *Evaluator) ev_setState(ctx *evalCtx, field string, v Value) {
	ev.state[ctx.instanceID][field] = v
}

// execEmit builds the frequency payload and enqueues it on the
// emitting instance's (source, frequency) queue (spec.md §4.5). Unlike
// the codegen path, which must resolve EMIT routing against a single
// representative instance because handler bodies are generated once
// per hyphal type (routing.go), the evaluator executes each instance's
// activation separately and can resolve routing against the actual
// running instance — fully general, and the form the codegen path's
// documented scope limitation approximates.
func (ev *Evaluator) execEmit(ctx *evalCtx, n *EmitStmt) error {
	fl, ok := ev.st.Frequencies[n.Frequency]
	if !ok {
		return SemanticError{Message: "unknown frequency: " + n.Frequency, Pos: n.Span().Start}
	}
	payload := &StructVal{Type: n.Frequency, Fields: map[string]Value{}}
	for _, f := range fl.Fields {
		payload.Fields[f.Name] = zeroValue(f.Type)
	}
	for _, init := range n.Fields {
		v, err := ev.evalExpr(ctx, init.Value)
		if err != nil {
			return err
		}
		payload.Fields[init.Name] = v
	}
	key := RouteKey{Source: ctx.instanceID, Frequency: n.Frequency}
	ev.queues[key] = append(ev.queues[key], payload)
	return nil
}

func (ev *Evaluator) execForIn(ctx *evalCtx, n *ForInStmt) (outcome, error) {
	coll, err := ev.evalExpr(ctx, n.Collection)
	if err != nil {
		return normalOutcome, err
	}
	switch c := coll.(type) {
	case *VecVal:
		for _, el := range append([]Value{}, c.Elems...) {
			ctx.locals[n.Item] = el
			o, err := ev.execBlock(ctx, n.Body)
			if err != nil {
				return o, err
			}
			if o.kind == ctrlBreak {
				break
			}
			if o.kind == ctrlReturn {
				return o, nil
			}
		}
	case *MapVal:
		keys := append([]Value{}, c.Keys...)
		vals := append([]Value{}, c.Vals...)
		for i := range keys {
			if n.IsKeyValue {
				ctx.locals[n.KeyName] = keys[i]
				ctx.locals[n.Item] = vals[i]
			} else {
				ctx.locals[n.Item] = keys[i]
			}
			o, err := ev.execBlock(ctx, n.Body)
			if err != nil {
				return o, err
			}
			if o.kind == ctrlBreak {
				break
			}
			if o.kind == ctrlReturn {
				return o, nil
			}
		}
	}
	return normalOutcome, nil
}

func (ev *Evaluator) execWhile(ctx *evalCtx, n *WhileStmt) (outcome, error) {
	for {
		cond, err := ev.evalExpr(ctx, n.Cond)
		if err != nil {
			return normalOutcome, err
		}
		if !truthy(cond) {
			return normalOutcome, nil
		}
		o, err := ev.execBlock(ctx, n.Body)
		if err != nil {
			return o, err
		}
		if o.kind == ctrlBreak {
			return normalOutcome, nil
		}
		if o.kind == ctrlReturn {
			return o, nil
		}
	}
}

func (ev *Evaluator) execMatchStmt(ctx *evalCtx, n *MatchStmt) (outcome, error) {
	scrutinee, err := ev.evalExpr(ctx, n.Scrutinee)
	if err != nil {
		return normalOutcome, err
	}
	for _, arm := range n.Arms {
		bound := map[string]Value{}
		if matchAnyPattern(arm.Patterns, scrutinee, bound) {
			for k, v := range bound {
				ctx.locals[k] = v
			}
			return ev.execBlock(ctx, arm.Body)
		}
	}
	return normalOutcome, nil
}

func (ev *Evaluator) execReport(ctx *evalCtx, n *ReportStmt) error {
	if n.Value != nil {
		v, err := ev.evalExpr(ctx, n.Value)
		if err != nil {
			return err
		}
		ev.reports[ctx.instanceID] = append(ev.reports[ctx.instanceID], ReportEntry{Name: n.Name, Value: v})
		ev.output = append(ev.output, fmt.Sprint(v))
		return nil
	}
	fields := map[string]Value{}
	var parts []string
	for _, f := range n.Fields {
		v, err := ev.evalExpr(ctx, f.Value)
		if err != nil {
			return err
		}
		fields[f.Name] = v
		parts = append(parts, fmt.Sprint(v))
	}
	sv := &StructVal{Type: n.Name, Fields: fields}
	ev.reports[ctx.instanceID] = append(ev.reports[ctx.instanceID], ReportEntry{Name: n.Name, Value: sv})
	ev.output = append(ev.output, strings.Join(parts, " "))
	return nil
}

func truthy(v Value) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case nil:
		return false
	default:
		return true
	}
}

func asInt(v Value) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func asFloat(v Value) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func isFloatValue(v Value) bool {
	_, ok := v.(float64)
	return ok
}

// evalExpr directly executes e, the evaluator's counterpart to
// codegen_expr.go's lowerExpr (spec.md §4.4); it returns a Value
// instead of leaving one in R_ACC.
func (ev *Evaluator) evalExpr(ctx *evalCtx, e Expr) (Value, error) {
	switch n := e.(type) {
	case *IntLiteral:
		return n.Value, nil
	case *FloatLiteral:
		return n.Value, nil
	case *StringLiteral:
		return n.Value, nil
	case *CharLiteral:
		return int64(n.Value), nil
	case *BoolLiteral:
		return n.Value, nil
	case *NullLiteral:
		return nil, nil
	case *Ident:
		return ev.evalIdent(ctx, n)
	case *FieldAccess:
		return ev.evalFieldAccess(ctx, n)
	case *RangeExpr:
		lo, err := ev.evalExpr(ctx, n.Low)
		if err != nil {
			return nil, err
		}
		hi, err := ev.evalExpr(ctx, n.High)
		if err != nil {
			return nil, err
		}
		return &VecVal{Elems: []Value{lo, hi}}, nil
	case *BinaryExpr:
		return ev.evalBinary(ctx, n)
	case *UnaryExpr:
		return ev.evalUnary(ctx, n)
	case *CallExpr:
		return ev.evalCall(ctx, n)
	case *MethodCallExpr:
		return ev.evalMethodCall(ctx, n)
	case *CastExpr:
		return ev.evalCast(ctx, n)
	case *StructLiteral:
		return ev.evalStructLiteral(ctx, n)
	case *ArrayLiteral, *TupleExpr:
		return ev.evalArrayLike(ctx, n)
	case *IndexExpr:
		return ev.evalIndex(ctx, n)
	case *EnumPath:
		return ev.evalEnumPath(n)
	case *EnumConstructor:
		return ev.evalEnumConstructor(ctx, n)
	case *IfExpr:
		cond, err := ev.evalExpr(ctx, n.Cond)
		if err != nil {
			return nil, err
		}
		if truthy(cond) {
			return ev.evalExpr(ctx, n.Then)
		}
		if n.Else != nil {
			return ev.evalExpr(ctx, n.Else)
		}
		return int64(0), nil
	case *MatchExpr:
		return ev.evalMatchExpr(ctx, n)
	case *FuncLiteral:
		return n, nil
	default:
		return nil, CodegenError{Message: "unsupported expression kind", Pos: e.Span().Start}
	}
}

func (ev *Evaluator) evalIdent(ctx *evalCtx, n *Ident) (Value, error) {
	if n.Name == ctx.paramName && ctx.paramName != "" {
		return ctx.paramValue, nil
	}
	if v, ok := ctx.locals[n.Name]; ok {
		return v, nil
	}
	return nil, CodegenError{Message: "variable referenced before introduction: " + n.Name, Pos: n.Span().Start}
}

func (ev *Evaluator) evalFieldAccess(ctx *evalCtx, n *FieldAccess) (Value, error) {
	if ident, ok := n.Object.(*Ident); ok {
		if ident.Name == "state" {
			return ev.state[ctx.instanceID][n.Field], nil
		}
		if ident.Name == ctx.paramName && ctx.paramName != "" {
			if sv, ok := ctx.paramValue.(*StructVal); ok {
				return sv.Fields[n.Field], nil
			}
		}
	}
	obj, err := ev.evalExpr(ctx, n.Object)
	if err != nil {
		return nil, err
	}
	if sv, ok := obj.(*StructVal); ok {
		return sv.Fields[n.Field], nil
	}
	return nil, SemanticError{Message: "field access on non-struct value: ." + n.Field, Pos: n.Span().Start}
}

func (ev *Evaluator) evalBinary(ctx *evalCtx, n *BinaryExpr) (Value, error) {
	switch n.Op {
	case OpAnd:
		l, err := ev.evalExpr(ctx, n.Left)
		if err != nil {
			return nil, err
		}
		if !truthy(l) {
			return false, nil
		}
		r, err := ev.evalExpr(ctx, n.Right)
		return truthy(r), err
	case OpOr:
		l, err := ev.evalExpr(ctx, n.Left)
		if err != nil {
			return nil, err
		}
		if truthy(l) {
			return true, nil
		}
		r, err := ev.evalExpr(ctx, n.Right)
		return truthy(r), err
	}

	l, err := ev.evalExpr(ctx, n.Left)
	if err != nil {
		return nil, err
	}
	r, err := ev.evalExpr(ctx, n.Right)
	if err != nil {
		return nil, err
	}

	if isComparisonOp(n.Op) {
		return ev.evalComparison(n.Op, l, r), nil
	}

	if isFloatValue(l) || isFloatValue(r) {
		lf, rf := asFloat(l), asFloat(r)
		switch n.Op {
		case OpAdd:
			return lf + rf, nil
		case OpSub:
			return lf - rf, nil
		case OpMul:
			return lf * rf, nil
		case OpDiv:
			return lf / rf, nil
		}
	}

	li, ri := asInt(l), asInt(r)
	switch n.Op {
	case OpAdd:
		return li + ri, nil
	case OpSub:
		return li - ri, nil
	case OpMul:
		return li * ri, nil
	case OpDiv:
		return li / ri, nil
	case OpMod:
		return li % ri, nil
	case OpBAnd:
		return li & ri, nil
	case OpBOr:
		return li | ri, nil
	case OpXor:
		return li ^ ri, nil
	case OpShl:
		return li << uint(ri), nil
	case OpShr:
		return li >> uint(ri), nil
	}
	return nil, CodegenError{Message: "unsupported binary operator " + string(n.Op), Pos: n.Span().Start}
}

// evalComparison implements the same polymorphic dispatch spec.md
// §4.4 describes for the codegen path: string equality/ordering,
// tag-based enum equality, else numeric/pointer comparison.
func (ev *Evaluator) evalComparison(op BinOp, l, r Value) Value {
	if ls, ok := l.(string); ok {
		rs, _ := r.(string)
		return compareResult(op, strings.Compare(ls, rs))
	}
	if rs, ok := r.(string); ok {
		ls, _ := l.(string)
		return compareResult(op, strings.Compare(ls, rs))
	}
	if le, ok := l.(*EnumVal); ok {
		if re, ok := r.(*EnumVal); ok {
			return compareResult(op, boolCompare(le.Ordinal == re.Ordinal && le.Type == re.Type))
		}
	}
	if isFloatValue(l) || isFloatValue(r) {
		lf, rf := asFloat(l), asFloat(r)
		switch {
		case lf < rf:
			return compareResult(op, -1)
		case lf > rf:
			return compareResult(op, 1)
		default:
			return compareResult(op, 0)
		}
	}
	li, ri := asInt(l), asInt(r)
	switch {
	case li < ri:
		return compareResult(op, -1)
	case li > ri:
		return compareResult(op, 1)
	default:
		return compareResult(op, 0)
	}
}

func boolCompare(eq bool) int {
	if eq {
		return 0
	}
	return 1
}

func compareResult(op BinOp, cmp int) bool {
	switch op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpGt:
		return cmp > 0
	case OpLe:
		return cmp <= 0
	case OpGe:
		return cmp >= 0
	}
	return false
}

func (ev *Evaluator) evalUnary(ctx *evalCtx, n *UnaryExpr) (Value, error) {
	v, err := ev.evalExpr(ctx, n.Operand)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case UnNeg:
		if isFloatValue(v) {
			return -asFloat(v), nil
		}
		return -asInt(v), nil
	case UnNot:
		return !truthy(v), nil
	case UnPos:
		return v, nil
	}
	return nil, CodegenError{Message: "unsupported unary operator " + string(n.Op), Pos: n.Span().Start}
}

func (ev *Evaluator) evalCall(ctx *evalCtx, n *CallExpr) (Value, error) {
	callee, ok := n.Callee.(*Ident)
	if !ok {
		return nil, CodegenError{Message: "call target must be a rule or builtin name", Pos: n.Span().Start}
	}
	args := make([]Value, len(n.Args))
	for i, a := range n.Args {
		v, err := ev.evalExpr(ctx, a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	if r, ok := ctx.tmpl.Rules[callee.Name]; ok {
		return ev.callRule(ctx, r, args)
	}
	return ev.callBuiltin(callee.Name, args)
}

func (ev *Evaluator) evalMethodCall(ctx *evalCtx, n *MethodCallExpr) (Value, error) {
	obj, err := ev.evalExpr(ctx, n.Object)
	if err != nil {
		return nil, err
	}
	args := []Value{obj}
	for _, a := range n.Args {
		v, err := ev.evalExpr(ctx, a)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return ev.callBuiltin(n.Method, args)
}

// callRule invokes a rule body in the calling instance's own state
// context (spec.md §4.6: "R_STATE is provided by the caller since
// rules are invoked in the same activation").
func (ev *Evaluator) callRule(ctx *evalCtx, r *Rule, args []Value) (Value, error) {
	// A fresh frame, not ctx.child(): rule bodies are lowered with a
	// brand new funcCtx in the codegen path (generateRule), so they see
	// only their own parameters, never the calling handler's bound
	// signal parameter by name (spec.md §4.6).
	child := &evalCtx{ev: ev, instanceID: ctx.instanceID, hyphalType: ctx.hyphalType, tmpl: ctx.tmpl, locals: map[string]Value{}}
	for i, p := range r.Params {
		if i < len(args) {
			child.locals[p.Name] = args[i]
		}
	}
	o, err := ev.execBlock(child, r.Body)
	if err != nil {
		return nil, err
	}
	if o.kind == ctrlReturn {
		return o.value, nil
	}
	return int64(0), nil
}

func (ev *Evaluator) evalCast(ctx *evalCtx, n *CastExpr) (Value, error) {
	v, err := ev.evalExpr(ctx, n.Value)
	if err != nil {
		return nil, err
	}
	switch {
	case n.Type.Name == "bool" || n.Type.Name == "boolean":
		return truthy(v), nil
	case n.Type.Name == "f32" || n.Type.Name == "f64":
		return asFloat(v), nil
	case isPrimitiveTypeName(n.Type.Name):
		return asInt(v), nil
	default:
		return v, nil
	}
}

func (ev *Evaluator) evalStructLiteral(ctx *evalCtx, n *StructLiteral) (Value, error) {
	sl, ok := ev.st.Structs[n.TypeName]
	if !ok {
		return nil, SemanticError{Message: "unknown struct type: " + n.TypeName, Pos: n.Span().Start}
	}
	fields := map[string]Value{}
	for _, f := range sl.Fields {
		fields[f.Name] = zeroValue(f.Type)
	}
	for _, init := range n.Fields {
		v, err := ev.evalExpr(ctx, init.Value)
		if err != nil {
			return nil, err
		}
		fields[init.Name] = v
	}
	return &StructVal{Type: n.TypeName, Fields: fields}, nil
}

func (ev *Evaluator) evalArrayLike(ctx *evalCtx, e Expr) (Value, error) {
	var elems []Expr
	switch n := e.(type) {
	case *ArrayLiteral:
		elems = n.Elements
	case *TupleExpr:
		elems = n.Elements
	}
	out := make([]Value, 0, len(elems))
	for _, el := range elems {
		v, err := ev.evalExpr(ctx, el)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return &VecVal{Elems: out}, nil
}

func (ev *Evaluator) evalIndex(ctx *evalCtx, n *IndexExpr) (Value, error) {
	obj, err := ev.evalExpr(ctx, n.Object)
	if err != nil {
		return nil, err
	}
	if rng, ok := n.Index.(*RangeExpr); ok {
		lo, err := ev.evalExpr(ctx, rng.Low)
		if err != nil {
			return nil, err
		}
		hi, err := ev.evalExpr(ctx, rng.High)
		if err != nil {
			return nil, err
		}
		vec, _ := obj.(*VecVal)
		if vec == nil {
			return &VecVal{}, nil
		}
		lo64, hi64 := asInt(lo), asInt(hi)
		if lo64 < 0 {
			lo64 = 0
		}
		if hi64 > int64(len(vec.Elems)) {
			hi64 = int64(len(vec.Elems))
		}
		if lo64 > hi64 {
			lo64 = hi64
		}
		return &VecVal{Elems: append([]Value{}, vec.Elems[lo64:hi64]...)}, nil
	}
	idx, err := ev.evalExpr(ctx, n.Index)
	if err != nil {
		return nil, err
	}
	switch coll := obj.(type) {
	case *MapVal:
		if i := coll.indexOf(idx); i >= 0 {
			return coll.Vals[i], nil
		}
		return int64(0), nil // map_get on miss returns 0 (spec.md §6, §8)
	case *VecVal:
		i := int(asInt(idx))
		if i < 0 || i >= len(coll.Elems) {
			return int64(0), nil // vec_get OOB returns 0 (spec.md §6, §8)
		}
		return coll.Elems[i], nil
	}
	return int64(0), nil
}

func (ev *Evaluator) evalEnumPath(n *EnumPath) (Value, error) {
	el, ok := ev.ev_enum(n.Type)
	if !ok {
		return nil, SemanticError{Message: "unknown enum type: " + n.Type, Pos: n.Span().Start}
	}
	v, ok := el.Variant(n.Variant)
	if !ok {
		return nil, SemanticError{Message: "unknown enum variant: " + n.Type + "::" + n.Variant, Pos: n.Span().Start}
	}
	return &EnumVal{Type: n.Type, Variant: n.Variant, Ordinal: v.Ordinal}, nil
}

func (ev *Evaluator) evalEnumConstructor(ctx *evalCtx, n *EnumConstructor) (Value, error) {
	el, ok := ev.ev_enum(n.Type)
	if !ok {
		return nil, SemanticError{Message: "unknown enum type: " + n.Type, Pos: n.Span().Start}
	}
	v, ok := el.Variant(n.Variant)
	if !ok {
		return nil, SemanticError{Message: "unknown enum variant: " + n.Type + "::" + n.Variant, Pos: n.Span().Start}
	}
	ev2 := &EnumVal{Type: n.Type, Variant: n.Variant, Ordinal: v.Ordinal}
	if len(n.Args) > 0 {
		inner, err := ev.evalExpr(ctx, n.Args[0])
		if err != nil {
			return nil, err
		}
		ev2.Inner = inner
		ev2.HasInner = true
	}
	return ev2, nil
}

func (ev *Evaluator) ev_enum(name string) (*EnumLayout, bool) {
	el, ok := ev.st.Enums[name]
	return el, ok
}

func (ev *Evaluator) evalMatchExpr(ctx *evalCtx, n *MatchExpr) (Value, error) {
	scrutinee, err := ev.evalExpr(ctx, n.Scrutinee)
	if err != nil {
		return nil, err
	}
	for _, arm := range n.Arms {
		bound := map[string]Value{}
		if matchAnyPattern(arm.Patterns, scrutinee, bound) {
			for k, v := range bound {
				ctx.locals[k] = v
			}
			return ev.evalExpr(ctx, arm.Body)
		}
	}
	return int64(0), nil // no arm matches: zero value in expression position (spec.md §8)
}

// matchAnyPattern tries each alternative left-to-right (spec.md §3's
// alternation semantics), binding into bound on success.
func matchAnyPattern(pats []Pattern, scrutinee Value, bound map[string]Value) bool {
	for _, p := range pats {
		if matchPattern(p, scrutinee, bound) {
			return true
		}
	}
	return false
}

func matchPattern(p Pattern, v Value, bound map[string]Value) bool {
	switch pat := p.(type) {
	case *IdentPattern:
		bound[pat.Name] = v
		return true
	case *LiteralPattern:
		lit := literalPatternValue(pat.Value)
		return valuesEqual(lit, v)
	case *EnumPattern:
		ev, ok := v.(*EnumVal)
		if !ok || ev.Type != pat.Type || ev.Variant != pat.Variant {
			return false
		}
		if len(pat.Bindings) > 0 {
			bound[pat.Bindings[0]] = ev.Inner
		}
		return true
	case *TuplePattern:
		vec, ok := v.(*VecVal)
		if !ok || len(vec.Elems) < len(pat.Elements) {
			return false
		}
		for i, sub := range pat.Elements {
			if !matchPattern(sub, vec.Elems[i], bound) {
				return false
			}
		}
		return true
	case *AltPattern:
		return matchAnyPattern(pat.Alternatives, v, bound)
	}
	return false
}

func literalPatternValue(e Expr) Value {
	switch v := e.(type) {
	case *IntLiteral:
		return v.Value
	case *FloatLiteral:
		return v.Value
	case *StringLiteral:
		return v.Value
	case *CharLiteral:
		return int64(v.Value)
	case *BoolLiteral:
		return v.Value
	case *NullLiteral:
		return nil
	}
	return nil
}

func valuesEqual(a, b Value) bool {
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		return ok && as == bs
	}
	if ae, ok := a.(*EnumVal); ok {
		be, ok := b.(*EnumVal)
		return ok && ae.Type == be.Type && ae.Ordinal == be.Ordinal
	}
	if isFloatValue(a) || isFloatValue(b) {
		return asFloat(a) == asFloat(b)
	}
	return asInt(a) == asInt(b)
}

// callBuiltin implements the runtime ABI table spec.md §6 documents,
// directly over Go values instead of emitted calls (spec.md §1: "the
// I/O-level builtin library ... we specify what the core expects of
// it, not its internal implementation" — the evaluator is the one
// place that implementation lives, since it has no separate linked
// runtime to call into).
func (ev *Evaluator) callBuiltin(name string, args []Value) (Value, error) {
	arg := func(i int) Value {
		if i < len(args) {
			return args[i]
		}
		return nil
	}
	switch name {
	case "string_len":
		return int64(len(fmt.Sprint(arg(0)))), nil
	case "string_eq":
		return fmt.Sprint(arg(0)) == fmt.Sprint(arg(1)), nil
	case "string_cmp":
		return int64(strings.Compare(fmt.Sprint(arg(0)), fmt.Sprint(arg(1)))), nil
	case "string_concat":
		return fmt.Sprint(arg(0)) + fmt.Sprint(arg(1)), nil
	case "format":
		return formatString(args), nil
	case "print", "println":
		ev.output = append(ev.output, fmt.Sprint(arg(0)))
		return nil, nil
	case "print_i64", "print_int":
		ev.output = append(ev.output, fmt.Sprint(asInt(arg(0))))
		return nil, nil
	case "print_string":
		ev.output = append(ev.output, fmt.Sprint(arg(0)))
		return nil, nil
	case "vec_new":
		return &VecVal{}, nil
	case "vec_push":
		v, _ := arg(0).(*VecVal)
		if v != nil {
			v.Elems = append(v.Elems, arg(1))
		}
		return nil, nil
	case "vec_pop":
		v, _ := arg(0).(*VecVal)
		if v == nil || len(v.Elems) == 0 {
			return int64(0), nil
		}
		last := v.Elems[len(v.Elems)-1]
		v.Elems = v.Elems[:len(v.Elems)-1]
		return last, nil
	case "vec_len":
		v, _ := arg(0).(*VecVal)
		if v == nil {
			return int64(0), nil
		}
		return int64(len(v.Elems)), nil
	case "vec_get":
		v, _ := arg(0).(*VecVal)
		i := int(asInt(arg(1)))
		if v == nil || i < 0 || i >= len(v.Elems) {
			return int64(0), nil
		}
		return v.Elems[i], nil
	case "vec_set":
		v, _ := arg(0).(*VecVal)
		i := int(asInt(arg(1)))
		if v != nil && i >= 0 && i < len(v.Elems) {
			v.Elems[i] = arg(2)
		}
		return nil, nil
	case "vec_slice":
		v, _ := arg(0).(*VecVal)
		if v == nil {
			return &VecVal{}, nil
		}
		lo, hi := int(asInt(arg(1))), int(asInt(arg(2)))
		if lo < 0 {
			lo = 0
		}
		if hi > len(v.Elems) {
			hi = len(v.Elems)
		}
		if lo > hi {
			lo = hi
		}
		return &VecVal{Elems: append([]Value{}, v.Elems[lo:hi]...)}, nil
	case "map_new":
		return &MapVal{}, nil
	case "map_set":
		m, _ := arg(0).(*MapVal)
		if m == nil {
			return nil, nil
		}
		if i := m.indexOf(arg(1)); i >= 0 {
			m.Vals[i] = arg(2)
		} else {
			m.Keys = append(m.Keys, arg(1))
			m.Vals = append(m.Vals, arg(2))
		}
		return nil, nil
	case "map_get":
		m, _ := arg(0).(*MapVal)
		if m == nil {
			return int64(0), nil
		}
		if i := m.indexOf(arg(1)); i >= 0 {
			return m.Vals[i], nil
		}
		return int64(0), nil
	case "map_has":
		m, _ := arg(0).(*MapVal)
		return m != nil && m.indexOf(arg(1)) >= 0, nil
	case "map_delete":
		m, _ := arg(0).(*MapVal)
		if m != nil {
			if i := m.indexOf(arg(1)); i >= 0 {
				m.Keys = append(m.Keys[:i], m.Keys[i+1:]...)
				m.Vals = append(m.Vals[:i], m.Vals[i+1:]...)
			}
		}
		return nil, nil
	case "map_len":
		m, _ := arg(0).(*MapVal)
		if m == nil {
			return int64(0), nil
		}
		return int64(len(m.Keys)), nil
	case "heap_alloc":
		return nil, nil // no-op: the evaluator allocates Go values directly, never raw bytes
	default:
		return nil, CodegenError{Message: "unknown builtin: " + name}
	}
}

// formatString implements the `{}`-placeholder interpolation spec.md
// §6 documents for the `format` builtin.
func formatString(args []Value) string {
	if len(args) == 0 {
		return ""
	}
	tmpl := fmt.Sprint(args[0])
	var b strings.Builder
	argi := 1
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] == '{' && i+1 < len(tmpl) && tmpl[i+1] == '}' {
			if argi < len(args) {
				b.WriteString(fmt.Sprint(args[argi]))
				argi++
			}
			i++
			continue
		}
		b.WriteByte(tmpl[i])
	}
	return b.String()
}

var _ = strconv.Itoa // keep strconv imported for future numeric-format extensions used by print_i64 width handling

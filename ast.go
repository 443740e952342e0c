package mycelial

// This file defines the program tree spec.md §3 describes: the
// output of the parser (C2) and the input to the symbol/layout pass
// (C3). Node shapes follow the teacher's AstNode design
// (grammar_ast.go) — small structs embedding a Span, exposing it via
// a common method — generalized from the teacher's single PEG-grammar
// node family into the network/frequency/type/hypha/expression/
// statement/pattern families spec.md names.

// Node is implemented by every AST node; all of them carry a source
// Span for error reporting.
type Node interface {
	Span() Span
}

type baseNode struct{ span Span }

func (b baseNode) Span() Span { return b.span }

// ---- Top-level program tree ----

// Network is the root of a parsed program (spec.md §3).
type Network struct {
	baseNode
	Name        string
	Frequencies []*FrequencyDecl
	Types       []*TypeDecl
	Hyphae      []*HyphaDecl
	Topology    *Topology
}

// Field is a named, typed member of a frequency, struct, or agent
// state block.
type Field struct {
	baseNode
	Name    string
	Type    TypeRef
	Default Expr // optional, state-field default only
}

// FrequencyDecl declares a named signal schema.
type FrequencyDecl struct {
	baseNode
	Name   string
	Fields []*Field
}

// TypeDecl is either a struct or an enum declaration.
type TypeDecl struct {
	baseNode
	Name     string
	IsEnum   bool
	Fields   []*Field      // struct form
	Variants []*EnumVariant // enum form
}

// EnumVariant is one `Name` or `Name(Type)` arm of an enum.
type EnumVariant struct {
	baseNode
	Name    string
	Inner   TypeRef // nil if data-less
	Ordinal int     // dense ordinal, assigned at parse time in declaration order
}

// HyphaDecl declares an agent type: its state fields, handlers and
// rules.
type HyphaDecl struct {
	baseNode
	Name     string
	State    []*Field
	Handlers []*Handler
	Rules    []*Rule
}

// HandlerKind distinguishes the three handler flavors (spec.md §3).
type HandlerKind int

const (
	HandlerRest HandlerKind = iota
	HandlerSignal
	HandlerCycle
)

// Handler is one `rest`, `signal(F, p) [when guard]`, or `cycle N`
// block bound to an agent.
type Handler struct {
	baseNode
	Kind      HandlerKind
	Frequency string // HandlerSignal only
	Param     string // HandlerSignal only
	Guard     Expr   // HandlerSignal only, optional
	CycleNum  int    // HandlerCycle only
	Body      []Stmt
}

// Rule is a local procedure callable from handlers and other rules.
type Rule struct {
	baseNode
	Name       string
	Params     []*Field
	ReturnType TypeRef
	Body       []Stmt
}

// Topology describes the network's wiring: fruiting bodies, spawned
// agent instances, and the sockets routing signals between them.
type Topology struct {
	baseNode
	FruitingBodies []string
	Spawns         []Spawn
	Sockets        []Socket
}

// Spawn instantiates a hypha type under a stable instance id.
type Spawn struct {
	baseNode
	HyphalType string
	InstanceID string
}

// Socket is a routing edge, written `socket source : frequency -> destination`.
// Destination "*" means broadcast to every spawned agent.
type Socket struct {
	baseNode
	Source      string
	Frequency   string
	Destination string
}

// ---- Type references ----

// TypeRef names a type as written in source: a primitive, a
// user-defined struct/enum, or a generic container (vec<T>, map<K,V>).
type TypeRef struct {
	Name string // "u32", "string", "vec", "map", or a user type name
	Args []TypeRef
}

func (t TypeRef) String() string {
	if len(t.Args) == 0 {
		return t.Name
	}
	s := t.Name + "<"
	for i, a := range t.Args {
		if i > 0 {
			s += ", "
		}
		s += a.String()
	}
	return s + ">"
}

func (t TypeRef) IsPointerShaped() bool {
	switch t.Name {
	case "string", "vec", "queue", "map":
		return true
	}
	return !isPrimitiveTypeName(t.Name)
}

func isPrimitiveTypeName(name string) bool {
	switch name {
	case "u8", "u16", "u32", "u64", "i8", "i16", "i32", "i64", "f32", "f64", "bool", "boolean":
		return true
	}
	return false
}

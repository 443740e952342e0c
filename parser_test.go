package mycelial

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, src string) *Network {
	t.Helper()
	n, err := ParseSource(src)
	require.NoError(t, err)
	require.NotNil(t, n)
	return n
}

func TestParserMinimalNetwork(t *testing.T) {
	src := `network Hello
topology {
	fruiting_body root
	spawn Greeter g1
}
`
	n := mustParse(t, src)
	require.Equal(t, "Hello", n.Name)
	require.NotNil(t, n.Topology)
	require.Equal(t, []string{"root"}, n.Topology.FruitingBodies)
	require.Len(t, n.Topology.Spawns, 1)
	require.Equal(t, "Greeter", n.Topology.Spawns[0].HyphalType)
	require.Equal(t, "g1", n.Topology.Spawns[0].InstanceID)
}

func TestParserFrequenciesAndTypes(t *testing.T) {
	src := `network N
frequencies {
	Greeting {
		text: string
	}
}
types {
	struct Point {
		x: i64
		y: i64 = 0
	}
	enum Shape {
		Circle(f64)
		Square
	}
}
topology {
	fruiting_body root
}
`
	n := mustParse(t, src)
	require.Len(t, n.Frequencies, 1)
	require.Equal(t, "Greeting", n.Frequencies[0].Name)
	require.Len(t, n.Types, 2)
	require.False(t, n.Types[0].IsEnum)
	require.Len(t, n.Types[0].Fields, 2)
	require.NotNil(t, n.Types[0].Fields[1].Default)

	enumDecl := n.Types[1]
	require.True(t, enumDecl.IsEnum)
	require.Len(t, enumDecl.Variants, 2)
	require.Equal(t, "Circle", enumDecl.Variants[0].Name)
	require.Equal(t, "f64", enumDecl.Variants[0].Inner.Name)
	require.Equal(t, 0, enumDecl.Variants[0].Ordinal)
	require.Equal(t, "Square", enumDecl.Variants[1].Name)
	require.Equal(t, 1, enumDecl.Variants[1].Ordinal)
}

func TestParserHyphaHandlersAndRules(t *testing.T) {
	src := `network N
hyphae Greeter {
	state {
		count: u32 = 0
	}
	on rest {
		let x = 1
	}
	on signal(Greeting, g) when g.text == "hi" {
		count = count + 1
		emit Greeting {
			text: g.text
		}
	}
	on cycle 1 {
		report tick: count
	}
	rule double(n: i64) -> i64 {
		return n * 2
	}
}
topology {
	fruiting_body root
}
`
	n := mustParse(t, src)
	require.Len(t, n.Hyphae, 1)
	h := n.Hyphae[0]
	require.Equal(t, "Greeter", h.Name)
	require.Len(t, h.State, 1)
	require.Len(t, h.Handlers, 3)
	require.Equal(t, HandlerRest, h.Handlers[0].Kind)
	require.Equal(t, HandlerSignal, h.Handlers[1].Kind)
	require.Equal(t, "Greeting", h.Handlers[1].Frequency)
	require.NotNil(t, h.Handlers[1].Guard)
	require.Equal(t, HandlerCycle, h.Handlers[2].Kind)
	require.Equal(t, 1, h.Handlers[2].CycleNum)
	require.Len(t, h.Rules, 1)
	require.Equal(t, "double", h.Rules[0].Name)
	require.Equal(t, "i64", h.Rules[0].ReturnType.Name)
}

func TestParserExpressionPrecedence(t *testing.T) {
	src := `network N
hyphae H {
	rule r() -> i64 {
		return 1 + 2 * 3 == 7 && true || false
	}
}
topology {
	fruiting_body root
}
`
	n := mustParse(t, src)
	body := n.Hyphae[0].Rules[0].Body
	require.Len(t, body, 1)
	ret, ok := body[0].(*ReturnStmt)
	require.True(t, ok)
	or, ok := ret.Value.(*BinaryExpr)
	require.True(t, ok)
	require.Equal(t, OpOr, or.Op)
	and, ok := or.Left.(*BinaryExpr)
	require.True(t, ok)
	require.Equal(t, OpAnd, and.Op)
	eq, ok := and.Left.(*BinaryExpr)
	require.True(t, ok)
	require.Equal(t, OpEq, eq.Op)
	add, ok := eq.Left.(*BinaryExpr)
	require.True(t, ok)
	require.Equal(t, OpAdd, add.Op)
	mul, ok := add.Right.(*BinaryExpr)
	require.True(t, ok)
	require.Equal(t, OpMul, mul.Op)
}

func TestParserStructLiteralDisambiguation(t *testing.T) {
	src := `network N
hyphae H {
	rule r() -> i64 {
		let p = Point {
			x: 1,
			y: 2
		}
		if p.x == 1 {
			return 1
		}
		return 0
	}
}
topology {
	fruiting_body root
}
`
	n := mustParse(t, src)
	body := n.Hyphae[0].Rules[0].Body
	let, ok := body[0].(*LetStmt)
	require.True(t, ok)
	sl, ok := let.Value.(*StructLiteral)
	require.True(t, ok)
	require.Equal(t, "Point", sl.TypeName)
	require.Len(t, sl.Fields, 2)

	ifStmt, ok := body[1].(*IfStmt)
	require.True(t, ok)
	_, ok = ifStmt.Cond.(*BinaryExpr)
	require.True(t, ok, "if-condition brace must not be parsed as a struct literal")
}

func TestParserPostfixChain(t *testing.T) {
	src := `network N
hyphae H {
	rule r() -> i64 {
		return a.b.c(1, 2)[0] as i64
	}
}
topology {
	fruiting_body root
}
`
	n := mustParse(t, src)
	ret := n.Hyphae[0].Rules[0].Body[0].(*ReturnStmt)
	cast, ok := ret.Value.(*CastExpr)
	require.True(t, ok)
	idx, ok := cast.Value.(*IndexExpr)
	require.True(t, ok)
	call, ok := idx.Object.(*CallExpr)
	require.True(t, ok)
	fa, ok := call.Callee.(*FieldAccess)
	require.True(t, ok)
	require.Equal(t, "c", fa.Field)
}

func TestParserEnumConstructorAndMatch(t *testing.T) {
	src := `network N
hyphae H {
	rule r() -> i64 {
		let s = Shape::Circle(2.0)
		match s {
			Shape::Circle(radius) => {
				return 1
			}
			Shape::Square => {
				return 2
			}
		}
	}
}
topology {
	fruiting_body root
}
`
	n := mustParse(t, src)
	body := n.Hyphae[0].Rules[0].Body
	let := body[0].(*LetStmt)
	ctor, ok := let.Value.(*EnumConstructor)
	require.True(t, ok)
	require.Equal(t, "Shape", ctor.Type)
	require.Equal(t, "Circle", ctor.Variant)

	ms, ok := body[1].(*MatchStmt)
	require.True(t, ok)
	require.Len(t, ms.Arms, 2)
	ep, ok := ms.Arms[0].Patterns[0].(*EnumPattern)
	require.True(t, ok)
	require.Equal(t, []string{"radius"}, ep.Bindings)
}

func TestParserTopologySockets(t *testing.T) {
	src := `network N
topology {
	fruiting_body root
	spawn Greeter g1
	spawn Logger l1
	socket g1 : Greeting -> l1
	socket g1 : Greeting -> *
}
`
	n := mustParse(t, src)
	require.Len(t, n.Topology.Sockets, 2)
	require.Equal(t, "g1", n.Topology.Sockets[0].Source)
	require.Equal(t, "Greeting", n.Topology.Sockets[0].Frequency)
	require.Equal(t, "l1", n.Topology.Sockets[0].Destination)
	require.Equal(t, "*", n.Topology.Sockets[1].Destination)
}

func TestParserForInAndWhile(t *testing.T) {
	src := `network N
hyphae H {
	rule r() -> i64 {
		let total = 0
		for x in items {
			total = total + x
		}
		for k, v in counts {
			total = total + v
		}
		while total < 10 {
			total = total + 1
		}
		return total
	}
}
topology {
	fruiting_body root
}
`
	n := mustParse(t, src)
	body := n.Hyphae[0].Rules[0].Body
	forIn, ok := body[1].(*ForInStmt)
	require.True(t, ok)
	require.False(t, forIn.IsKeyValue)
	require.Equal(t, "x", forIn.Item)

	forKV, ok := body[2].(*ForInStmt)
	require.True(t, ok)
	require.True(t, forKV.IsKeyValue)
	require.Equal(t, "k", forKV.KeyName)
	require.Equal(t, "v", forKV.Item)

	_, ok = body[3].(*WhileStmt)
	require.True(t, ok)
}

func TestParserIfExpression(t *testing.T) {
	src := `network N
hyphae H {
	rule r() -> i64 {
		let x = if true { 1 } else { 2 }
		return x
	}
}
topology {
	fruiting_body root
}
`
	n := mustParse(t, src)
	let := n.Hyphae[0].Rules[0].Body[0].(*LetStmt)
	ifExpr, ok := let.Value.(*IfExpr)
	require.True(t, ok)
	require.NotNil(t, ifExpr.Then)
	require.NotNil(t, ifExpr.Else)
}

func TestParserReportForms(t *testing.T) {
	src := `network N
hyphae H {
	on rest {
		report count: 1
		report Tag {
			a: 1
		}
	}
}
topology {
	fruiting_body root
}
`
	n := mustParse(t, src)
	body := n.Hyphae[0].Handlers[0].Body
	r1 := body[0].(*ReportStmt)
	require.Equal(t, "count", r1.Name)
	require.NotNil(t, r1.Value)
	r2 := body[1].(*ReportStmt)
	require.Equal(t, "Tag", r2.Name)
	require.Len(t, r2.Fields, 1)
}

func TestParserParseErrorReportsExpectedAndGot(t *testing.T) {
	_, err := ParseSource("network")
	require.Error(t, err)
	var pe ParseError
	require.ErrorAs(t, err, &pe)
}

func TestParserTupleAndParenExpr(t *testing.T) {
	src := `network N
hyphae H {
	rule r() -> i64 {
		let a = (1)
		let b = (1, 2, 3)
		return a
	}
}
topology {
	fruiting_body root
}
`
	n := mustParse(t, src)
	body := n.Hyphae[0].Rules[0].Body
	letA := body[0].(*LetStmt)
	_, isTuple := letA.Value.(*TupleExpr)
	require.False(t, isTuple, "single parenthesized expr must not become a tuple")

	letB := body[1].(*LetStmt)
	tup, ok := letB.Value.(*TupleExpr)
	require.True(t, ok)
	require.Len(t, tup.Elements, 3)
}

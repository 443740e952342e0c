package mycelial

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// newEvalScenario parses and builds the symbol table for src, then runs
// REST the way Evaluator.Run does, leaving SENSE/ACT for the caller to
// drive manually: spec.md's end-to-end scenarios name specific injected
// payload values, and the generic SENSE phase only ever injects zero
// (or, for `startup`, CLI-path) values, so tests seed the fruiting-body
// queues directly instead.
func newEvalScenario(t *testing.T, src string) *Evaluator {
	t.Helper()
	n := mustParse(t, src)
	st, err := BuildSymbolTable(n)
	require.NoError(t, err)
	ev := NewEvaluator(st, NewConfig(), "test.mycelial", "a.out")
	ev.initState()
	require.NoError(t, ev.runRestHandlers())
	return ev
}

func inject(ev *Evaluator, source, frequency string, payload *StructVal) {
	key := RouteKey{Source: source, Frequency: frequency}
	ev.queues[key] = append(ev.queues[key], payload)
}

// Scenario 1: hello greeter (spec.md §8, scenario 1).
func TestEvaluatorScenarioHelloGreeter(t *testing.T) {
	src := `network HelloGreeter
frequencies {
	greeting {
		name: string
	}
	hello {
		msg: string
	}
}
hyphae G {
	on signal(greeting, g) {
		emit hello {
			msg: format("Hello, {}!", g.name)
		}
	}
}
topology {
	fruiting_body sensor
	fruiting_body out
	spawn G g1
	socket sensor : greeting -> g1
	socket g1 : hello -> out
}
`
	ev := newEvalScenario(t, src)
	inject(ev, "sensor", "greeting", &StructVal{Type: "greeting", Fields: map[string]Value{"name": "World"}})
	require.NoError(t, ev.actLoop())
	require.Equal(t, []string{"OUTPUT: Hello, World!"}, ev.output)
}

// Scenario 2: counter (spec.md §8, scenario 2).
func TestEvaluatorScenarioCounter(t *testing.T) {
	src := `network Counter
frequencies {
	tick {
		v: u32
	}
}
hyphae C {
	state {
		count: u32 = 0
	}
	on signal(tick, t) {
		state.count = state.count + t.v
	}
}
topology {
	fruiting_body sensor
	spawn C c1
	socket sensor : tick -> c1
}
`
	ev := newEvalScenario(t, src)
	for _, v := range []int64{5, 3, 7} {
		inject(ev, "sensor", "tick", &StructVal{Type: "tick", Fields: map[string]Value{"v": v}})
	}
	require.NoError(t, ev.actLoop())
	require.Equal(t, int64(15), ev.state["c1"]["count"])
	require.Empty(t, ev.output)
}

// Scenario 3: pipeline (spec.md §8, scenario 3).
func TestEvaluatorScenarioPipeline(t *testing.T) {
	src := `network Pipeline
frequencies {
	in {
		x: i64
	}
	mid {
		y: i64
	}
	result {
		z: i64
	}
}
hyphae Doubler {
	on signal(in, msg) {
		emit mid {
			y: msg.x * 2
		}
	}
}
hyphae Inc {
	on signal(mid, msg) {
		emit result {
			z: msg.y + 1
		}
	}
}
topology {
	fruiting_body stdin
	fruiting_body out
	spawn Doubler d1
	spawn Inc i1
	socket stdin : in -> d1
	socket d1 : mid -> i1
	socket i1 : result -> out
}
`
	ev := newEvalScenario(t, src)
	inject(ev, "stdin", "in", &StructVal{Type: "in", Fields: map[string]Value{"x": int64(10)}})
	inject(ev, "stdin", "in", &StructVal{Type: "in", Fields: map[string]Value{"x": int64(20)}})
	require.NoError(t, ev.actLoop())
	require.Equal(t, []string{"OUTPUT: 21", "OUTPUT: 41"}, ev.output)
}

// Scenario 4: enum / match (spec.md §8, scenario 4).
func TestEvaluatorScenarioEnumMatch(t *testing.T) {
	src := `network EnumMatch
frequencies {
	compute {
		s: Shape
	}
	area {
		a: u32
	}
}
types {
	enum Shape {
		Circle(u32)
		Square(u32)
	}
}
hyphae Calc {
	on signal(compute, c) {
		match c.s {
			Shape::Circle(r) => {
				emit area {
					a: r * r * 3
				}
			}
			Shape::Square(s) => {
				emit area {
					a: s * s
				}
			}
		}
	}
}
topology {
	fruiting_body sensor
	fruiting_body out
	spawn Calc calc1
	socket sensor : compute -> calc1
	socket calc1 : area -> out
}
`
	ev := newEvalScenario(t, src)
	inject(ev, "sensor", "compute", &StructVal{Type: "compute", Fields: map[string]Value{
		"s": &EnumVal{Type: "Shape", Variant: "Circle", Ordinal: 0, Inner: int64(4), HasInner: true},
	}})
	inject(ev, "sensor", "compute", &StructVal{Type: "compute", Fields: map[string]Value{
		"s": &EnumVal{Type: "Shape", Variant: "Square", Ordinal: 1, Inner: int64(5), HasInner: true},
	}})
	require.NoError(t, ev.actLoop())
	require.Equal(t, []string{"OUTPUT: 48", "OUTPUT: 25"}, ev.output)
}

// Scenario 5: vector slice / sum (spec.md §8, scenario 5).
func TestEvaluatorScenarioVectorSliceSum(t *testing.T) {
	src := `network VecSum
frequencies {
	nums {
		v: vec<i64>
	}
	reply {
		total: i64
	}
}
hyphae Summer {
	rule sum(v: vec<i64>) -> i64 {
		let total = 0
		for x in v {
			total = total + x
		}
		return total
	}
	on signal(nums, n) {
		emit reply {
			total: sum(n.v[2..5])
		}
	}
}
topology {
	fruiting_body sensor
	fruiting_body out
	spawn Summer s1
	socket sensor : nums -> s1
	socket s1 : reply -> out
}
`
	ev := newEvalScenario(t, src)
	elems := make([]Value, 9)
	for i := range elems {
		elems[i] = int64(i + 1)
	}
	inject(ev, "sensor", "nums", &StructVal{Type: "nums", Fields: map[string]Value{"v": &VecVal{Elems: elems}}})
	require.NoError(t, ev.actLoop())
	require.Equal(t, []string{"OUTPUT: 12"}, ev.output)
}

// Scenario 6: quiescence termination (spec.md §8, scenario 6).
func TestEvaluatorScenarioQuiescenceTermination(t *testing.T) {
	src := `network SelfLoop
frequencies {
	step {
		n: i64
	}
}
hyphae Looper {
	on signal(step, s) {
		if s.n > 0 {
			emit step {
				n: s.n - 1
			}
		}
	}
}
topology {
	fruiting_body sensor
	spawn Looper lp1
	socket sensor : step -> lp1
	socket lp1 : step -> lp1
}
`
	ev := newEvalScenario(t, src)
	inject(ev, "sensor", "step", &StructVal{Type: "step", Fields: map[string]Value{"n": int64(10)}})

	// actLoop itself only reports quiescence, not an activation count, so
	// drive the same drain loop it runs and sum each pass's processed
	// total to get the handler-activation count spec.md §8 names.
	activations := 0
	maxCycles := ev.cfg.GetInt("scheduler.max_cycles")
	for {
		ev.cycleCounter++
		require.LessOrEqual(t, ev.cycleCounter, maxCycles, "must not hit MAX_CYCLES")
		processed := 0
		for _, key := range ev.st.Routing.Order {
			n, err := ev.drainQueue(key)
			require.NoError(t, err)
			processed += n
		}
		activations += processed
		if processed == 0 {
			break
		}
	}
	require.Equal(t, 11, activations)
	require.LessOrEqual(t, ev.cycleCounter, 12)
	require.Empty(t, ev.output)
}

package mycelial

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func findLabel(code []Line, name string) int {
	for i, l := range code {
		if lbl, ok := l.(Label); ok && lbl.Name == name {
			return i
		}
	}
	return -1
}

func TestGenerateAgentBodiesFramesRestSignalAndRule(t *testing.T) {
	src := `network N
frequencies {
	tick {
		v: i64
	}
}
hyphae Counter {
	state {
		count: i64 = 0
	}
	on rest {
		let x = 1
	}
	on signal(tick, t) {
		state.count = double(t.v)
	}
	rule double(n: i64) -> i64 {
		return n * 2
	}
}
topology {
	fruiting_body root
	spawn Counter c1
	socket root : tick -> c1
}
`
	n := mustParse(t, src)
	st, err := BuildSymbolTable(n)
	require.NoError(t, err)
	program, err := Generate(st, NewConfig())
	require.NoError(t, err)

	restIdx := findLabel(program.Code, restLabel("Counter"))
	require.GreaterOrEqual(t, restIdx, 0, "rest handler must be framed")

	sigIdx := findLabel(program.Code, handlerLabel("Counter", "tick"))
	require.GreaterOrEqual(t, sigIdx, 0, "signal handler must be framed")

	ruleIdx := findLabel(program.Code, ruleLabel("Counter", "double"))
	require.GreaterOrEqual(t, ruleIdx, 0, "rule must be framed")

	// Every frame opens with push rbp; mov rbp, rsp (spec.md §4.6).
	for _, idx := range []int{restIdx, sigIdx, ruleIdx} {
		push, ok := program.Code[idx+1].(Instr)
		require.True(t, ok)
		require.Equal(t, "push", push.Mnemonic)
		require.Equal(t, []string{"rbp"}, push.Operands)
	}

	// The signal handler's prologue loads R_PAYLOAD from A1; the rest
	// handler and the rule do not (spec.md §4.6: payload only flows
	// through signal handlers).
	foundPayloadLoad := false
	for i := sigIdx; i < len(program.Code) && i < sigIdx+len(calleeSaved)+5; i++ {
		if instr, ok := program.Code[i].(Instr); ok && instr.Mnemonic == "mov" && len(instr.Operands) == 2 && instr.Operands[0] == regPayload {
			foundPayloadLoad = true
		}
	}
	require.True(t, foundPayloadLoad, "signal handler frame must load R_PAYLOAD")
}

func TestGenerateSignalHandlerChainsGuardedAlternatives(t *testing.T) {
	src := `network N
frequencies {
	tick {
		v: i64
	}
}
hyphae H {
	on signal(tick, t) when t.v > 0 {
		report count: t.v
	}
	on signal(tick, t) {
		report count: 0
	}
}
topology {
	fruiting_body root
	spawn H h1
	socket root : tick -> h1
}
`
	n := mustParse(t, src)
	st, err := BuildSymbolTable(n)
	require.NoError(t, err)
	program, err := Generate(st, NewConfig())
	require.NoError(t, err)

	// Only one framed label per (hyphalType, frequency) pair: guarded
	// alternatives share a single handler body (generateAgentBodies'
	// seenSignal dedup), chained internally rather than framed twice.
	label := handlerLabel("H", "tick")
	first := findLabel(program.Code, label)
	require.GreaterOrEqual(t, first, 0)
	for i, l := range program.Code {
		if i == first {
			continue
		}
		if lbl, ok := l.(Label); ok {
			require.NotEqual(t, label, lbl.Name, "handler label must be emitted exactly once")
		}
	}
}

func TestGenerateRuleFrameForwardsStateButNotPayload(t *testing.T) {
	src := `network N
hyphae H {
	state {
		count: i64 = 0
	}
	rule bump() -> i64 {
		return state.count + 1
	}
}
topology {
	fruiting_body root
	spawn H h1
}
`
	n := mustParse(t, src)
	st, err := BuildSymbolTable(n)
	require.NoError(t, err)
	program, err := Generate(st, NewConfig())
	require.NoError(t, err)

	idx := findLabel(program.Code, ruleLabel("H", "bump"))
	require.GreaterOrEqual(t, idx, 0)
	reloads := false
	for i := idx; i < len(program.Code) && i < idx+len(calleeSaved)+4; i++ {
		if instr, ok := program.Code[i].(Instr); ok && instr.Mnemonic == "mov" && len(instr.Operands) == 2 && (instr.Operands[0] == regState || instr.Operands[0] == regPayload) {
			reloads = true
		}
	}
	require.False(t, reloads, "rule frame must keep the caller's live R_STATE and never load R_PAYLOAD")
}

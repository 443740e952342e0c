package mycelial

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateSchedulerDataSections(t *testing.T) {
	n := mustParse(t, pipelineSrc)
	st, err := BuildSymbolTable(n)
	require.NoError(t, err)
	program, err := Generate(st, NewConfig())
	require.NoError(t, err)

	require.GreaterOrEqual(t, findLabel(program.Data, "heap_ptr"), 0)
	require.GreaterOrEqual(t, findLabel(program.Data, "cycle_counter"), 0)
	require.GreaterOrEqual(t, findLabel(program.Bss, "agent_state_table"), 0)
	require.GreaterOrEqual(t, findLabel(program.Bss, "heap_arena"), 0)

	for _, key := range st.Routing.Order {
		require.GreaterOrEqual(t, findLabel(program.Bss, queueLabel(key.Source, key.Frequency)), 0,
			"each routed (source, frequency) pair gets its own ring buffer")
		require.GreaterOrEqual(t, findLabel(program.Bss, queueStageLabel(key.Source, key.Frequency)), 0,
			"each routed (source, frequency) pair also gets its own staging buffer (spec.md §4.9)")
	}
	require.GreaterOrEqual(t, findLabel(program.Bss, "temp_signal_buffer"), 0,
		"spec.md §4.9's temporary signal buffer")
}

// Self-referencing emit (source == destination, same frequency) must
// not be re-dequeued within the cycle that produced it: lowerEmitStmt
// targets the staging push routine, not the live one, so the compiled
// scheduler defers it to the next cycle the same way evaluator.go's
// drainQueue does.
func TestSelfLoopEmitTargetsStagingNotLiveQueue(t *testing.T) {
	src := `network SelfLoop
frequencies {
	step {
		n: i64
	}
}
hyphae Looper {
	on signal(step, s) {
		emit step {
			n: s.n
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
	n := mustParse(t, src)
	st, err := BuildSymbolTable(n)
	require.NoError(t, err)
	program, err := Generate(st, NewConfig())
	require.NoError(t, err)

	handlerIdx := findLabel(program.Code, handlerLabel("Looper", "step"))
	require.GreaterOrEqual(t, handlerIdx, 0)

	calledStagePush := false
	for i := handlerIdx; i < len(program.Code); i++ {
		if lbl, ok := program.Code[i].(Label); ok && lbl.Name != handlerLabel("Looper", "step") && i != handlerIdx {
			break
		}
		if instr, ok := program.Code[i].(Instr); ok && instr.Mnemonic == "call" && instr.Operands[0] != builtinLabel("heap_alloc") {
			require.Equal(t, queueStagePushLabel("lp1", "step"), instr.Operands[0],
				"emit inside a handler must call the staging push routine, not the live one")
			calledStagePush = true
			break
		}
	}
	require.True(t, calledStagePush, "expected a call to the staging push routine in Looper's step handler")
}

// emitActLoop must merge a key's staging buffer into its live queue
// before draining that key each cycle, so staged self-emits surface on
// a later pass rather than the one that produced them.
func TestActLoopMergesStagingBeforeDrainingEachQueue(t *testing.T) {
	n := mustParse(t, pipelineSrc)
	st, err := BuildSymbolTable(n)
	require.NoError(t, err)
	program, err := Generate(st, NewConfig())
	require.NoError(t, err)

	foundMerge := false
	foundDrain := false
	for _, l := range program.Code {
		lbl, ok := l.(Label)
		if !ok {
			continue
		}
		if strings.Contains(lbl.Name, "qmerge") {
			foundMerge = true
		}
		if strings.Contains(lbl.Name, "qdrain") {
			foundDrain = true
			require.True(t, foundMerge, "a qmerge label must precede the first qdrain label")
		}
	}
	require.True(t, foundMerge, "emitActLoop must emit a staging merge loop")
	require.True(t, foundDrain, "emitActLoop must emit a live-queue drain loop")
}

// Queue overflow exits with a distinct nonzero code via the raw
// syscall convention, never a callable exit builtin (DESIGN.md: C7
// scheduler codegen, process exit).
func TestGenerateQueuePushOverflowUsesRawSyscallExit(t *testing.T) {
	n := mustParse(t, pipelineSrc)
	st, err := BuildSymbolTable(n)
	require.NoError(t, err)
	program, err := Generate(st, NewConfig())
	require.NoError(t, err)

	label := queuePushLabel("stdin", "in")
	idx := findLabel(program.Code, label)
	require.GreaterOrEqual(t, idx, 0)

	foundOverflowExit := false
	for i := idx; i < len(program.Code); i++ {
		instr, ok := program.Code[i].(Instr)
		if !ok {
			continue
		}
		if instr.Mnemonic == "mov" && len(instr.Operands) == 2 && instr.Operands[0] == "eax" && instr.Operands[1] == "60" {
			foundOverflowExit = true
			// the immediately preceding instruction sets the distinct
			// nonzero exit code via edi, per generateQueuePush.
			prev, ok := program.Code[i-1].(Instr)
			require.True(t, ok)
			require.Equal(t, "mov", prev.Mnemonic)
			require.Equal(t, "edi", prev.Operands[0])
			require.NotEqual(t, "0", prev.Operands[1])
			break
		}
	}
	require.True(t, foundOverflowExit, "queue push must fall through to a raw sys_exit on overflow")
}

func TestGenerateEntryPointStartsWithStartLabel(t *testing.T) {
	n := mustParse(t, pipelineSrc)
	st, err := BuildSymbolTable(n)
	require.NoError(t, err)
	program, err := Generate(st, NewConfig())
	require.NoError(t, err)

	idx := findLabel(program.Code, "_start")
	require.Equal(t, 0, idx, "_start must be the first emitted code label")
}

func TestNoBuiltinExitSymbolAnywhereInProgram(t *testing.T) {
	n := mustParse(t, pipelineSrc)
	st, err := BuildSymbolTable(n)
	require.NoError(t, err)
	program, err := Generate(st, NewConfig())
	require.NoError(t, err)

	for _, l := range program.Code {
		if lbl, ok := l.(Label); ok {
			require.NotEqual(t, builtinLabel("exit"), lbl.Name,
				"process exit is a raw sys_exit syscall, never a callable builtin_exit")
		}
	}
}

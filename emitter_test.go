package mycelial

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitterSectionOrderAndEntryPoint(t *testing.T) {
	src := `network N
frequencies {
	greeting {
		name: string
	}
}
hyphae G {
	on signal(greeting, g) {
		report count: 1
	}
}
topology {
	fruiting_body root
	spawn G g1
	socket root : greeting -> g1
}
`
	n := mustParse(t, src)
	st, err := BuildSymbolTable(n)
	require.NoError(t, err)
	program, err := Generate(st, NewConfig())
	require.NoError(t, err)
	asm := NewEmitter(program).Emit()

	textIdx := strings.Index(asm, ".text")
	rodataIdx := strings.Index(asm, ".rodata")
	dataIdx := strings.Index(asm, ".data")
	bssIdx := strings.Index(asm, ".bss")
	require.True(t, textIdx >= 0 && textIdx < rodataIdx, ".text must precede .rodata")
	require.True(t, rodataIdx < dataIdx, ".rodata must precede .data")
	require.True(t, dataIdx < bssIdx, ".data must precede .bss")

	require.Contains(t, asm, ".globl _start")
	require.Contains(t, asm, "_start:")
	require.Contains(t, asm, "OUTPUT: ")
}

func TestEmitterInternsStringAndFloatLiterals(t *testing.T) {
	src := `network N
hyphae H {
	rule r() -> f64 {
		return 3.5
	}
	rule s() -> string {
		return "hi"
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
	asm := NewEmitter(program).Emit()
	require.Contains(t, asm, ".double 3.5")
	require.Contains(t, asm, `.asciz "hi"`)
}

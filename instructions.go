package mycelial

import (
	"fmt"
	"strings"
)

// Line is one line of emitted assembly text: an instruction, a label,
// or a raw passthrough (directive or comment).
type Line interface {
	String() string
}

// Instr is one target instruction. The teacher's PEG-VM models one Go
// type per opcode (vm_instructions.go: IChar, IChoice, ICall, ...)
// because its bytecode encoder (vm_encoder.go) switches on concrete
// type to pick a binary opcode byte. This generator targets *textual*
// assembly, where the encoding step is just "write the mnemonic", so
// a single mnemonic+operands representation carries every instruction
// kind; Name() keeps the teacher's per-instruction identification.
type Instr struct {
	Mnemonic string
	Operands []string
	Comment  string
}

func (i Instr) Name() string { return i.Mnemonic }

func (i Instr) String() string {
	var b strings.Builder
	b.WriteString("\t")
	b.WriteString(i.Mnemonic)
	if len(i.Operands) > 0 {
		b.WriteString(" ")
		b.WriteString(strings.Join(i.Operands, ", "))
	}
	if i.Comment != "" {
		b.WriteString("\t# ")
		b.WriteString(i.Comment)
	}
	return b.String()
}

func ins(mnemonic string, operands ...string) Instr {
	return Instr{Mnemonic: mnemonic, Operands: operands}
}

func insc(comment string, mnemonic string, operands ...string) Instr {
	return Instr{Mnemonic: mnemonic, Operands: operands, Comment: comment}
}

// Label is a jump target / code position marker, emitted textually as
// `name:`.
type Label struct {
	Name string
}

func (l Label) String() string { return l.Name + ":" }

// labelCounter mints unique, collision-free label names, the textual
// counterpart of the teacher's globalUniqueID / NewILabel
// (vm_instructions.go).
var labelCounter int

func newLabel(prefix string) Label {
	labelCounter++
	return Label{Name: fmt.Sprintf(".L%s%d", prefix, labelCounter)}
}

// Raw is a passthrough line: a directive, a comment, or a blank
// separator.
type Raw string

func (r Raw) String() string { return string(r) }

// Directive renders an assembler directive (`.globl foo`, `.quad 1`).
func Directive(s string) Raw { return Raw("\t" + s) }

// Comment renders a standalone comment line.
func Comment(s string) Raw { return Raw("\t# " + s) }

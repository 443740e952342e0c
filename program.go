package mycelial

import "fmt"

// Program is the generator's accumulated output: the four sections
// spec.md §4.9 requires, assembled in order by the text emitter (C8).
type Program struct {
	Code   []Line
	Rodata []Line
	Data   []Line
	Bss    []Line

	strings    map[string]string // literal value -> rodata label
	stringOrd  []string
	floats     map[float64]string
	floatOrd   []float64
	nextString int
	nextFloat  int
}

// NewProgram returns an empty Program, pre-seeded with the fixed
// message strings the scheduler and output drain reference (spec.md
// §4.9: "newline, minus-sign, output prefix, space, the max-cycles
// warning").
func NewProgram() *Program {
	p := &Program{strings: map[string]string{}, floats: map[float64]string{}}
	p.internString("\n")
	p.internString("OUTPUT: ")
	p.internString(" ")
	p.internString("-")
	p.internString("max cycles exceeded\n")
	return p
}

func (p *Program) emitCode(lines ...Line) {
	p.Code = append(p.Code, lines...)
}

// internString returns the rodata label holding str, a
// null-terminated C string, interning it on first use (spec.md §4.4:
// "strings are interned in the read-only section with a generated
// label").
func (p *Program) internString(str string) string {
	if label, ok := p.strings[str]; ok {
		return label
	}
	p.nextString++
	label := fmt.Sprintf(".Lstr%d", p.nextString)
	p.strings[str] = label
	p.stringOrd = append(p.stringOrd, str)
	return label
}

func (p *Program) internFloat(f float64) string {
	if label, ok := p.floats[f]; ok {
		return label
	}
	p.nextFloat++
	label := fmt.Sprintf(".Lflt%d", p.nextFloat)
	p.floats[f] = label
	p.floatOrd = append(p.floatOrd, f)
	return label
}

// fixedMessageLabel looks up one of the pre-seeded fixed strings by
// value; it is always present because NewProgram interns it.
func (p *Program) fixedMessageLabel(s string) string {
	return p.strings[s]
}

package mycelial

import "strconv"

// Emitter orders the four sections spec.md §4.9 requires and renders
// them as textual System V AMD64 assembly, grounded on the teacher's
// outputWriter-based text backends (genc.go, gen_ts.go) rather than
// its go/printer-based Go backend: assembly text has no AST/printer
// of its own to round-trip through, so a plain indentation-tracking
// writer is the right tool here, exactly as it is for the teacher's
// other non-Go emitters (see SPEC_FULL.md's DOMAIN STACK note).
type Emitter struct {
	program *Program
}

func NewEmitter(p *Program) *Emitter {
	return &Emitter{program: p}
}

// Emit renders the assembled Program as one assembly source text:
// .text, .rodata, .data, .bss, in that exact order (spec.md §4.9).
func (e *Emitter) Emit() string {
	w := newOutputWriter("    ")

	w.writel(".text")
	w.writel(".globl _start")
	for _, line := range e.program.Code {
		e.writeLine(w, line)
	}

	w.writel("")
	w.writel(".rodata")
	for _, lit := range e.program.stringOrd {
		label := e.program.strings[lit]
		w.writel(label + ":")
		w.writeil(".asciz " + strconv.Quote(lit))
	}
	for _, f := range e.program.floatOrd {
		label := e.program.floats[f]
		w.writel(label + ":")
		w.writeil(".double " + strconv.FormatFloat(f, 'g', -1, 64))
	}
	for _, line := range e.program.Rodata {
		e.writeLine(w, line)
	}

	w.writel("")
	w.writel(".data")
	for _, line := range e.program.Data {
		e.writeLine(w, line)
	}

	w.writel("")
	w.writel(".bss")
	for _, line := range e.program.Bss {
		e.writeLine(w, line)
	}

	return w.output()
}

func (e *Emitter) writeLine(w *outputWriter, line Line) {
	w.writel(line.String())
}

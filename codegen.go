package mycelial

// Codegen lowers a canonicalized Network into a Program of target
// instructions (C4-C7, spec.md §4.4-§4.7). It is a thin driver; the
// actual lowering lives in codegen_expr.go (C4), codegen_stmt.go (C5),
// codegen_handler.go (C6), codegen_scheduler.go (C7).
type Codegen struct {
	st      *SymbolTable
	cfg     *Config
	program *Program
}

// Generate lowers st into an assembled Program.
func Generate(st *SymbolTable, cfg *Config) (*Program, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	cg := &Codegen{st: st, cfg: cfg, program: NewProgram()}
	if err := cg.generateAgentBodies(); err != nil {
		return nil, err
	}
	if err := cg.generateScheduler(); err != nil {
		return nil, err
	}
	return cg.program, nil
}

// loopCtx tracks the break/continue targets for one enclosing loop
// (spec.md §4.5: "loops maintain a label stack").
type loopCtx struct {
	breakLabel    string
	continueLabel string
}

// localInfo records a local's frame-slot offset and, where staticaly
// known, its declared type (spec.md §4.5).
type localInfo struct {
	offset  int
	typ     TypeRef
	hasType bool
}

// funcCtx is the per-handler/rule lowering state: the locals map,
// monotone slot allocator, loop-label stack, and the signal-handler
// context (current frequency / bound parameter name) a body is
// lowered under (spec.md §4.5, §4.6).
type funcCtx struct {
	cg *Codegen

	hyphalType string
	tmpl       *AgentTemplate

	locals      map[string]*localInfo
	currentSlot int
	frameSize   int

	loops []loopCtx

	currentFrequency string
	currentParamName string
	sourceInstanceID string // representative instance EMIT routing resolves against

	returnLabel string
	rule        *Rule // non-nil when lowering a rule body

	out []Line // accumulated body, flushed by the caller once framed
}

func newFuncCtx(cg *Codegen, hyphalType string, tmpl *AgentTemplate) *funcCtx {
	return &funcCtx{
		cg:         cg,
		hyphalType: hyphalType,
		tmpl:       tmpl,
		locals:     map[string]*localInfo{},
	}
}

// allocSlot reserves a fresh 8-byte-aligned stack slot for a new
// local, recording the frame's high-water mark as the frame size
// (spec.md §4.5). Every declared local occupies a full 8-byte slot
// regardless of its value's width, which keeps frame-offset math
// uniform and is always a safe over-approximation of the field's
// natural size.
func (fc *funcCtx) allocSlot(name string, t TypeRef, hasType bool) *localInfo {
	fc.currentSlot += 8
	info := &localInfo{offset: fc.currentSlot, typ: t, hasType: hasType}
	fc.locals[name] = info
	if fc.currentSlot > fc.frameSize {
		fc.frameSize = fc.currentSlot
	}
	return info
}

func (fc *funcCtx) pushLoop(brk, cont string) {
	fc.loops = append(fc.loops, loopCtx{breakLabel: brk, continueLabel: cont})
}

func (fc *funcCtx) popLoop() {
	fc.loops = fc.loops[:len(fc.loops)-1]
}

func (fc *funcCtx) currentLoop() (loopCtx, bool) {
	if len(fc.loops) == 0 {
		return loopCtx{}, false
	}
	return fc.loops[len(fc.loops)-1], true
}

// frameSlot renders the Intel-syntax memory operand for a local's
// stack slot, addressed relative to the frame pointer (spec.md §4.4:
// "load from [frame_base - slot_offset]").
func frameSlot(offset int) string {
	return "[rbp-" + itoa(offset) + "]"
}

// memOp renders `[base+offset]` / `[base-offset]` / `[base]`.
func memOp(base string, offset int) string {
	switch {
	case offset > 0:
		return "[" + base + "+" + itoa(offset) + "]"
	case offset < 0:
		return "[" + base + "-" + itoa(-offset) + "]"
	default:
		return "[" + base + "]"
	}
}

// ripRel renders an RIP-relative effective address for a rodata/data
// label (spec.md §4.4: "loaded as an RIP-relative effective address").
func ripRel(label string) string {
	return "[rip+" + label + "]"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

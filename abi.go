package mycelial

// System V AMD64 register conventions used throughout C4-C7 (spec.md
// §4.4, §4.6). Conceptual names from the spec map onto concrete
// x86-64 registers as follows.
const (
	regAcc     = "rax" // R_ACC: the value accumulator
	regT1      = "r10" // first scratch/RHS register, caller-saved
	regT2      = "r11" // second scratch register, caller-saved
	regState   = "r12" // R_STATE: active agent's state-region pointer
	regPayload = "r13" // R_PAYLOAD: active signal's payload pointer
	regSaveSP  = "r14" // callee-saved: pre-call stack pointer during the alignment dance
	regLoop    = "r15" // callee-saved: vector or payload pointer kept live across nested calls
)

// argRegs gives the first six System V AMD64 integer argument
// registers, A0..A5 in spec.md §4.4's naming.
var argRegs = []string{"rdi", "rsi", "rdx", "rcx", "r8", "r9"}

// calleeSaved lists the registers a handler/rule prologue preserves
// (spec.md §4.6: "R_STATE, R_PAYLOAD, and two additional callee-saved
// scratch registers").
var calleeSaved = []string{regState, regPayload, regSaveSP, regLoop}

func widthSuffix(size int) string {
	switch size {
	case 1:
		return "b"
	case 2:
		return "w"
	case 4:
		return "l"
	default:
		return "q"
	}
}

// sizedReg returns the sub-register name matching a given byte width
// for a 64-bit base register name, used when loading/storing narrow
// fields at their declared width (spec.md §4.4).
func sizedReg(reg64 string, size int) string {
	sub, ok := subRegisters[reg64]
	if !ok {
		return reg64
	}
	switch size {
	case 1:
		return sub.b
	case 2:
		return sub.w
	case 4:
		return sub.d
	default:
		return reg64
	}
}

type regFamily struct{ b, w, d string }

var subRegisters = map[string]regFamily{
	"rax": {"al", "ax", "eax"},
	"rbx": {"bl", "bx", "ebx"},
	"rcx": {"cl", "cx", "ecx"},
	"rdx": {"dl", "dx", "edx"},
	"rdi": {"dil", "di", "edi"},
	"rsi": {"sil", "si", "esi"},
	"r10": {"r10b", "r10w", "r10d"},
	"r11": {"r11b", "r11w", "r11d"},
	"r12": {"r12b", "r12w", "r12d"},
	"r13": {"r13b", "r13w", "r13d"},
	"r14": {"r14b", "r14w", "r14d"},
	"r15": {"r15b", "r15w", "r15d"},
}

package mycelial

import "fmt"

// TokenKind enumerates the token classes produced by the lexer
// (spec.md §3).
type TokenKind int

const (
	TokInvalid TokenKind = iota
	TokEOF
	TokIdent
	TokKeyword
	TokInt
	TokFloat
	TokString
	TokChar
	TokPunct
	TokOp
)

func (k TokenKind) String() string {
	switch k {
	case TokEOF:
		return "eof"
	case TokIdent:
		return "identifier"
	case TokKeyword:
		return "keyword"
	case TokInt:
		return "integer"
	case TokFloat:
		return "float"
	case TokString:
		return "string"
	case TokChar:
		return "character"
	case TokPunct:
		return "punctuation"
	case TokOp:
		return "operator"
	default:
		return "invalid"
	}
}

// NumberSuffix records the optional width/sign tag attached directly
// to a numeric literal token (spec.md §3: "u8..u64, i8..i64, f32, f64").
type NumberSuffix string

const (
	SuffixNone NumberSuffix = ""
	SuffixU8   NumberSuffix = "u8"
	SuffixU16  NumberSuffix = "u16"
	SuffixU32  NumberSuffix = "u32"
	SuffixU64  NumberSuffix = "u64"
	SuffixI8   NumberSuffix = "i8"
	SuffixI16  NumberSuffix = "i16"
	SuffixI32  NumberSuffix = "i32"
	SuffixI64  NumberSuffix = "i64"
	SuffixF32  NumberSuffix = "f32"
	SuffixF64  NumberSuffix = "f64"
)

var numberSuffixes = map[string]NumberSuffix{
	"u8": SuffixU8, "u16": SuffixU16, "u32": SuffixU32, "u64": SuffixU64,
	"i8": SuffixI8, "i16": SuffixI16, "i32": SuffixI32, "i64": SuffixI64,
	"f32": SuffixF32, "f64": SuffixF64,
}

// keywords is the keyword set named in spec.md §6.
var keywords = map[string]bool{
	"network": true, "frequencies": true, "frequency": true, "hyphae": true,
	"hyphal": true, "state": true, "on": true, "signal": true, "emit": true,
	"report": true, "spawn": true, "die": true, "socket": true,
	"fruiting_body": true, "topology": true, "config": true, "if": true,
	"else": true, "where": true, "rest": true, "cycle": true, "when": true,
	"match": true, "as": true, "let": true, "for": true, "in": true,
	"while": true, "break": true, "continue": true, "return": true,
	"true": true, "false": true, "null": true, "fn": true, "struct": true,
	"enum": true, "types": true, "rule": true,
}

// typeNames is the reserved set of primitive type names; the lexer
// emits these as plain identifiers (spec.md §6), leaving the parser to
// recognize them in type position.
var typeNames = map[string]bool{
	"u8": true, "u16": true, "u32": true, "u64": true,
	"i8": true, "i16": true, "i32": true, "i64": true,
	"f32": true, "f64": true, "bool": true, "boolean": true,
	"string": true, "vec": true, "queue": true, "map": true,
}

// Token is the unit produced by the lexer: a kind, the literal text
// matched, its source span, and (for numeric literals) an optional
// width/sign suffix.
type Token struct {
	Kind   TokenKind
	Lexeme string
	Span   Span
	Suffix NumberSuffix

	// PrecededByNewline records whether a newline was skipped between
	// the previous token and this one. The parser's struct-literal
	// disambiguation (spec.md §4.2) consults this on `{` tokens.
	PrecededByNewline bool
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q)@%s", t.Kind, t.Lexeme, t.Span)
}

// IsKeyword reports whether the token's lexeme names keyword kw.
func (t Token) IsKeyword(kw string) bool {
	return t.Kind == TokKeyword && t.Lexeme == kw
}

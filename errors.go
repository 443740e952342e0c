package mycelial

import "fmt"

// LexError is thrown by the lexer on an unterminated string/character
// literal or an unrecognized character (spec.md §7, taxonomy entry 1).
type LexError struct {
	Message string
	Pos     Position
}

func (e LexError) Error() string {
	return fmt.Sprintf("lex error: %s @ %s", e.Message, e.Pos)
}

// ParseError is thrown by the parser on an unexpected token or a
// missing delimiter (spec.md §7, taxonomy entry 2).
type ParseError struct {
	Message  string
	Expected string
	Got      string
	Pos      Position
}

func (e ParseError) Error() string {
	if e.Expected != "" {
		return fmt.Sprintf("parse error: %s (expected %s, got %s) @ %s", e.Message, e.Expected, e.Got, e.Pos)
	}
	return fmt.Sprintf("parse error: %s @ %s", e.Message, e.Pos)
}

// SemanticError is thrown by the symbol/layout pass on an unknown
// agent, hyphal type, frequency, struct, enum, variant, state field,
// or payload field (spec.md §7, taxonomy entry 3).
type SemanticError struct {
	Message string
	Pos     Position
}

func (e SemanticError) Error() string {
	return fmt.Sprintf("semantic error: %s @ %s", e.Message, e.Pos)
}

// CodegenError is thrown by the lowering passes when a variable is
// referenced before introduction, too many call arguments are passed
// for the ABI, or an unsupported expression kind is encountered
// (spec.md §7, taxonomy entry 4).
type CodegenError struct {
	Message string
	Pos     Position
}

func (e CodegenError) Error() string {
	return fmt.Sprintf("codegen error: %s @ %s", e.Message, e.Pos)
}

// RuntimeError is raised by the tree-walking evaluator (C9) under the
// same taxonomy the generated program observes at runtime: heap
// exhaustion, queue overflow (spec.md §7, taxonomy entry 5).
type RuntimeError struct {
	Message string
}

func (e RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %s", e.Message)
}

// isFatal reports whether err is one of the sealed error types above,
// as opposed to a plain wrapped error bubbling up from a lower layer.
func isFatal(err error) bool {
	switch err.(type) {
	case LexError, ParseError, SemanticError, CodegenError, RuntimeError:
		return true
	default:
		return false
	}
}

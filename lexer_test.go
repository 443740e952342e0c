package mycelial

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func lexAll(t *testing.T, src string) []Token {
	t.Helper()
	toks, err := NewLexer(src).Tokenize()
	require.NoError(t, err)
	return toks
}

func TestLexerKeywordsAndIdents(t *testing.T) {
	toks := lexAll(t, "hyphae Greeter state")
	require.Equal(t, []TokenKind{TokKeyword, TokIdent, TokKeyword, TokEOF}, kinds(toks))
	require.Equal(t, "Greeter", toks[1].Lexeme)
}

func TestLexerTwoCharOperatorsGreedy(t *testing.T) {
	toks := lexAll(t, "a->b==c<=d::e..f")
	var ops []string
	for _, tok := range toks {
		if tok.Kind == TokOp {
			ops = append(ops, tok.Lexeme)
		}
	}
	require.Equal(t, []string{"->", "==", "<=", "::", ".."}, ops)
}

func TestLexerNumberSuffix(t *testing.T) {
	toks := lexAll(t, "42u32 0x2Ai64 3.5f32")
	require.Equal(t, TokInt, toks[0].Kind)
	require.Equal(t, SuffixU32, toks[0].Suffix)
	require.Equal(t, "0x2A", toks[1].Lexeme)
	require.Equal(t, SuffixI64, toks[1].Suffix)
	require.Equal(t, TokFloat, toks[2].Kind)
	require.Equal(t, SuffixF32, toks[2].Suffix)
}

func TestLexerStringEscapes(t *testing.T) {
	toks := lexAll(t, `"hello\nworld\t\"x\""`)
	require.Equal(t, "hello\nworld\t\"x\"", toks[0].Lexeme)
}

func TestLexerUnterminatedString(t *testing.T) {
	_, err := NewLexer(`"unterminated`).Tokenize()
	require.Error(t, err)
	var lerr LexError
	require.ErrorAs(t, err, &lerr)
}

func TestLexerUnrecognizedChar(t *testing.T) {
	_, err := NewLexer("$").Tokenize()
	require.Error(t, err)
}

func TestLexerTokenPositionIsFirstChar(t *testing.T) {
	toks := lexAll(t, "  \n  hyphae")
	require.Equal(t, Position{Line: 2, Column: 3}, toks[0].Span.Start)
}

func TestLexerCommentToEOL(t *testing.T) {
	toks := lexAll(t, "let # a comment\nx")
	require.Equal(t, []TokenKind{TokKeyword, TokIdent, TokEOF}, kinds(toks))
}

func kinds(toks []Token) []TokenKind {
	out := make([]TokenKind, len(toks))
	for i, t := range toks {
		out[i] = t.Kind
	}
	return out
}

package mycelial

import (
	"strings"
)

const eof = -1

// Lexer scans Mycelial source text into a token stream, grounded on
// the cursor/line/column bookkeeping the teacher's BaseParser keeps
// for its own rune-at-a-time scanning (base_parser.go).
type Lexer struct {
	input  []rune
	cursor int
	line   int
	column int
}

// NewLexer returns a Lexer ready to scan src.
func NewLexer(src string) *Lexer {
	return &Lexer{
		input:  []rune(src),
		cursor: 0,
		line:   1,
		column: 1,
	}
}

func (l *Lexer) peek() rune {
	if l.cursor >= len(l.input) {
		return eof
	}
	return l.input[l.cursor]
}

func (l *Lexer) peekAt(off int) rune {
	if l.cursor+off >= len(l.input) {
		return eof
	}
	return l.input[l.cursor+off]
}

func (l *Lexer) advance() rune {
	c := l.peek()
	if c == eof {
		return eof
	}
	l.cursor++
	if c == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
	return c
}

func (l *Lexer) pos() Position {
	return Position{Line: l.line, Column: l.column}
}

// Tokenize scans the entire input and returns the full token stream,
// terminated by a single TokEOF token, or the first LexError
// encountered (spec.md §4.1: "Fails with a lex error ... on
// unterminated string or unrecognized character").
func (l *Lexer) Tokenize() ([]Token, error) {
	var toks []Token
	for {
		tok, err := l.Next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.Kind == TokEOF {
			return toks, nil
		}
	}
}

// Next scans and returns the next token.
func (l *Lexer) Next() (Token, error) {
	sawNewline := l.skipWhitespaceAndComments()
	start := l.pos()

	var tok Token
	var err error
	c := l.peek()
	switch {
	case c == eof:
		tok, err = Token{Kind: TokEOF, Span: Span{Start: start, End: start}}, nil
	case isIdentStart(c):
		tok, err = l.scanIdentOrKeyword(start)
	case c == '"':
		tok, err = l.scanString(start)
	case '\'' == c:
		tok, err = l.scanChar(start)
	case isDigit(c):
		tok, err = l.scanNumber(start)
	default:
		tok, err = l.scanOperatorOrPunct(start)
	}
	if err != nil {
		return Token{}, err
	}
	tok.PrecededByNewline = sawNewline
	return tok, nil
}

// skipWhitespaceAndComments advances past whitespace and #-to-EOL
// comments, reporting whether a newline was crossed.
func (l *Lexer) skipWhitespaceAndComments() bool {
	sawNewline := false
	for {
		c := l.peek()
		switch {
		case c == '\n':
			sawNewline = true
			l.advance()
		case c == ' ' || c == '\t' || c == '\r':
			l.advance()
		case c == '#':
			for l.peek() != '\n' && l.peek() != eof {
				l.advance()
			}
		default:
			return sawNewline
		}
	}
}

func isIdentStart(c rune) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentCont(c rune) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c rune) bool {
	return c >= '0' && c <= '9'
}

func isHexDigit(c rune) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func (l *Lexer) scanIdentOrKeyword(start Position) (Token, error) {
	var sb strings.Builder
	for isIdentCont(l.peek()) {
		sb.WriteRune(l.advance())
	}
	lexeme := sb.String()
	kind := TokIdent
	if keywords[lexeme] {
		kind = TokKeyword
	}
	return Token{Kind: kind, Lexeme: lexeme, Span: Span{Start: start, End: start}}, nil
}

func (l *Lexer) scanNumber(start Position) (Token, error) {
	var sb strings.Builder
	isFloat := false

	if l.peek() == '0' && (l.peekAt(1) == 'x' || l.peekAt(1) == 'X') {
		sb.WriteRune(l.advance())
		sb.WriteRune(l.advance())
		for isHexDigit(l.peek()) {
			sb.WriteRune(l.advance())
		}
	} else {
		for isDigit(l.peek()) {
			sb.WriteRune(l.advance())
		}
		if l.peek() == '.' && isDigit(l.peekAt(1)) {
			isFloat = true
			sb.WriteRune(l.advance())
			for isDigit(l.peek()) {
				sb.WriteRune(l.advance())
			}
		}
	}

	suffix := SuffixNone
	if isIdentStart(l.peek()) {
		var ssb strings.Builder
		save := *l
		for isIdentCont(l.peek()) {
			ssb.WriteRune(l.advance())
		}
		if sfx, ok := numberSuffixes[ssb.String()]; ok {
			suffix = sfx
		} else {
			*l = save
		}
	}

	kind := TokInt
	if isFloat {
		kind = TokFloat
	}
	return Token{Kind: kind, Lexeme: sb.String(), Suffix: suffix, Span: Span{Start: start, End: start}}, nil
}

var escapeChars = map[rune]rune{
	'n': '\n', 't': '\t', 'r': '\r', '"': '"', '\'': '\'', '\\': '\\', '0': 0,
}

func (l *Lexer) scanString(start Position) (Token, error) {
	l.advance() // opening quote
	var sb strings.Builder
	for {
		c := l.peek()
		if c == eof {
			return Token{}, LexError{Message: "unterminated string literal", Pos: start}
		}
		if c == '"' {
			l.advance()
			break
		}
		if c == '\\' {
			l.advance()
			esc := l.advance()
			mapped, ok := escapeChars[esc]
			if !ok || esc == '0' {
				if esc == '0' {
					sb.WriteRune(0)
					continue
				}
				return Token{}, LexError{Message: "invalid escape sequence in string literal", Pos: l.pos()}
			}
			sb.WriteRune(mapped)
			continue
		}
		sb.WriteRune(l.advance())
	}
	return Token{Kind: TokString, Lexeme: sb.String(), Span: Span{Start: start, End: start}}, nil
}

func (l *Lexer) scanChar(start Position) (Token, error) {
	l.advance() // opening quote
	c := l.peek()
	if c == eof {
		return Token{}, LexError{Message: "unterminated character literal", Pos: start}
	}
	var ch rune
	if c == '\\' {
		l.advance()
		esc := l.advance()
		mapped, ok := escapeChars[esc]
		if !ok {
			return Token{}, LexError{Message: "invalid escape sequence in character literal", Pos: l.pos()}
		}
		ch = mapped
	} else {
		ch = l.advance()
	}
	if l.peek() != '\'' {
		return Token{}, LexError{Message: "unterminated character literal", Pos: start}
	}
	l.advance()
	return Token{Kind: TokChar, Lexeme: string(ch), Span: Span{Start: start, End: start}}, nil
}

// twoCharOps must be checked before their single-character prefixes
// (spec.md §4.1).
var twoCharOps = []string{"->", "=>", "==", "!=", "<=", ">=", "&&", "||", "::", "<<", ">>", ".."}

func (l *Lexer) scanOperatorOrPunct(start Position) (Token, error) {
	c := l.advance()
	c2 := l.peek()
	two := string(c) + string(c2)
	for _, op := range twoCharOps {
		if op == two {
			l.advance()
			return Token{Kind: TokOp, Lexeme: op, Span: Span{Start: start, End: start}}, nil
		}
	}

	switch c {
	case '{', '}', '(', ')', '[', ']', ',', ':', '.', '=', '+', '-', '*', '/', '%', '<', '>', '!', '@', '&', '|', '^':
		// The spec's punctuation enumeration (§4.1) lists only
		// `{}()[],:.=+-*/%<>!@`, but its operator-precedence table
		// (§4.2) includes bitwise `& | ^` as binary operators; they
		// are lexed as single-character operators here to close
		// that gap.
		kind := TokPunct
		switch c {
		case '=', '+', '-', '*', '/', '%', '<', '>', '!', '&', '|', '^':
			kind = TokOp
		}
		return Token{Kind: kind, Lexeme: string(c), Span: Span{Start: start, End: start}}, nil
	default:
		return Token{}, LexError{Message: "unrecognized character " + string(c), Pos: start}
	}
}

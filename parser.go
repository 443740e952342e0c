package mycelial

import (
	"strconv"
)

// Parser is a hand-written recursive-descent parser with explicit
// operator-precedence climbing (spec.md §4.2), grounded on the
// teacher's BaseParser cursor/position conventions (base_parser.go)
// generalized from a rune cursor to a token cursor.
type Parser struct {
	toks []Token
	pos  int

	// noStructLiteral suppresses struct-literal parsing at `{` while
	// parsing an if/while/for/match condition or scrutinee, part of
	// the disambiguation rule in spec.md §4.2.
	noStructLiteral bool
}

// NewParser constructs a Parser over a pre-lexed token stream.
func NewParser(toks []Token) *Parser {
	return &Parser{toks: toks}
}

// ParseSource lexes and parses src in one step.
func ParseSource(src string) (*Network, error) {
	toks, err := NewLexer(src).Tokenize()
	if err != nil {
		return nil, err
	}
	return NewParser(toks).Parse()
}

// ---- cursor helpers ----

func (p *Parser) cur() Token {
	return p.toks[p.pos]
}

func (p *Parser) peekAt(n int) Token {
	idx := p.pos + n
	if idx >= len(p.toks) {
		return p.toks[len(p.toks)-1] // EOF
	}
	return p.toks[idx]
}

func (p *Parser) advance() Token {
	t := p.cur()
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) atEOF() bool {
	return p.cur().Kind == TokEOF
}

func (p *Parser) isPunct(s string) bool {
	t := p.cur()
	return t.Kind == TokPunct && t.Lexeme == s
}

func (p *Parser) isOp(s string) bool {
	t := p.cur()
	return t.Kind == TokOp && t.Lexeme == s
}

func (p *Parser) isKeyword(s string) bool {
	return p.cur().IsKeyword(s)
}

func (p *Parser) expectPunct(s string) (Token, error) {
	if !p.isPunct(s) {
		return Token{}, p.unexpected(s)
	}
	return p.advance(), nil
}

func (p *Parser) expectOp(s string) (Token, error) {
	if !p.isOp(s) {
		return Token{}, p.unexpected(s)
	}
	return p.advance(), nil
}

func (p *Parser) expectKeyword(s string) (Token, error) {
	if !p.isKeyword(s) {
		return Token{}, p.unexpected(s)
	}
	return p.advance(), nil
}

func (p *Parser) expectIdent() (Token, error) {
	if p.cur().Kind != TokIdent {
		return Token{}, p.unexpected("identifier")
	}
	return p.advance(), nil
}

func (p *Parser) unexpected(expected string) ParseError {
	return ParseError{
		Message:  "unexpected token",
		Expected: expected,
		Got:      p.cur().Lexeme,
		Pos:      p.cur().Span.Start,
	}
}

func spanFrom(start, end Token) Span {
	return Span{Start: start.Span.Start, End: end.Span.End}
}

// ---- entry point ----

// Parse consumes the entire token stream and returns the parsed
// Network.
func (p *Parser) Parse() (*Network, error) {
	startTok, err := p.expectKeyword("network")
	if err != nil {
		return nil, err
	}
	nameTok, err := p.expectIdent()
	if err != nil {
		return nil, err
	}

	n := &Network{Name: nameTok.Lexeme}
	last := nameTok

	for !p.atEOF() {
		switch {
		case p.isKeyword("frequencies"):
			p.advance()
			freqs, err := p.parseFrequencyBlock()
			if err != nil {
				return nil, err
			}
			n.Frequencies = append(n.Frequencies, freqs...)
		case p.isKeyword("types"):
			p.advance()
			types, err := p.parseTypesBlock()
			if err != nil {
				return nil, err
			}
			n.Types = append(n.Types, types...)
		case p.isKeyword("hyphae"):
			h, err := p.parseHypha()
			if err != nil {
				return nil, err
			}
			n.Hyphae = append(n.Hyphae, h)
			last = p.toks[p.pos-1]
		case p.isKeyword("topology"):
			topo, err := p.parseTopology()
			if err != nil {
				return nil, err
			}
			n.Topology = topo
			last = p.toks[p.pos-1]
		default:
			return nil, p.unexpected("frequencies, types, hyphae, or topology")
		}
	}
	n.baseNode = baseNode{span: spanFrom(startTok, last)}
	return n, nil
}

// ---- frequencies ----

func (p *Parser) parseFrequencyBlock() ([]*FrequencyDecl, error) {
	if _, err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	var out []*FrequencyDecl
	for !p.isPunct("}") {
		nameTok, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		fields, endTok, err := p.parseFieldBlock()
		if err != nil {
			return nil, err
		}
		out = append(out, &FrequencyDecl{
			baseNode: baseNode{span: spanFrom(nameTok, endTok)},
			Name:     nameTok.Lexeme,
			Fields:   fields,
		})
	}
	if _, err := p.expectPunct("}"); err != nil {
		return nil, err
	}
	return out, nil
}

// parseFieldBlock parses `{ name: Type, ... }`, accepting either comma
// or newline-implied separation (commas are optional between lines).
func (p *Parser) parseFieldBlock() ([]*Field, Token, error) {
	open, err := p.expectPunct("{")
	if err != nil {
		return nil, Token{}, err
	}
	var fields []*Field
	for !p.isPunct("}") {
		nameTok, err := p.expectIdent()
		if err != nil {
			return nil, Token{}, err
		}
		if _, err := p.expectPunct(":"); err != nil {
			return nil, Token{}, err
		}
		typ, err := p.parseTypeRef()
		if err != nil {
			return nil, Token{}, err
		}
		var def Expr
		if p.isOp("=") {
			p.advance()
			def, err = p.parseExpr()
			if err != nil {
				return nil, Token{}, err
			}
		}
		fields = append(fields, &Field{
			baseNode: baseNode{span: spanFrom(nameTok, nameTok)},
			Name:     nameTok.Lexeme,
			Type:     typ,
			Default:  def,
		})
		if p.isPunct(",") {
			p.advance()
		}
	}
	close, err := p.expectPunct("}")
	if err != nil {
		return nil, Token{}, err
	}
	_ = open
	return fields, close, nil
}

// parseTypeRef parses a type name with optional generic arguments
// (e.g. `vec<i64>`, `map<string, u32>`). A `<` following an identifier
// in type position always opens generic arguments (spec.md §4.2).
func (p *Parser) parseTypeRef() (TypeRef, error) {
	nameTok, err := p.expectIdent()
	if err != nil {
		return TypeRef{}, err
	}
	t := TypeRef{Name: nameTok.Lexeme}
	if p.isOp("<") {
		p.advance()
		for {
			arg, err := p.parseTypeRef()
			if err != nil {
				return TypeRef{}, err
			}
			t.Args = append(t.Args, arg)
			if p.isPunct(",") {
				p.advance()
				continue
			}
			break
		}
		if _, err := p.expectOp(">"); err != nil {
			return TypeRef{}, err
		}
	}
	return t, nil
}

// ---- types ----

func (p *Parser) parseTypesBlock() ([]*TypeDecl, error) {
	if _, err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	var out []*TypeDecl
	for !p.isPunct("}") {
		var decl *TypeDecl
		var err error
		switch {
		case p.isKeyword("struct"):
			decl, err = p.parseStructDecl()
		case p.isKeyword("enum"):
			decl, err = p.parseEnumDecl()
		default:
			return nil, p.unexpected("struct or enum")
		}
		if err != nil {
			return nil, err
		}
		out = append(out, decl)
	}
	if _, err := p.expectPunct("}"); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Parser) parseStructDecl() (*TypeDecl, error) {
	start, err := p.expectKeyword("struct")
	if err != nil {
		return nil, err
	}
	nameTok, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	fields, end, err := p.parseFieldBlock()
	if err != nil {
		return nil, err
	}
	return &TypeDecl{
		baseNode: baseNode{span: spanFrom(start, end)},
		Name:     nameTok.Lexeme,
		Fields:   fields,
	}, nil
}

func (p *Parser) parseEnumDecl() (*TypeDecl, error) {
	start, err := p.expectKeyword("enum")
	if err != nil {
		return nil, err
	}
	nameTok, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	var variants []*EnumVariant
	ordinal := 0
	for !p.isPunct("}") {
		vTok, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		v := &EnumVariant{
			baseNode: baseNode{span: spanFrom(vTok, vTok)},
			Name:     vTok.Lexeme,
			Ordinal:  ordinal,
		}
		ordinal++
		if p.isPunct("(") {
			p.advance()
			inner, err := p.parseTypeRef()
			if err != nil {
				return nil, err
			}
			v.Inner = inner
			if _, err := p.expectPunct(")"); err != nil {
				return nil, err
			}
		}
		variants = append(variants, v)
		if p.isPunct(",") {
			p.advance()
		}
	}
	end, err := p.expectPunct("}")
	if err != nil {
		return nil, err
	}
	return &TypeDecl{
		baseNode: baseNode{span: spanFrom(start, end)},
		Name:     nameTok.Lexeme,
		IsEnum:   true,
		Variants: variants,
	}, nil
}

// ---- hyphae ----

func (p *Parser) parseHypha() (*HyphaDecl, error) {
	start, err := p.expectKeyword("hyphae")
	if err != nil {
		return nil, err
	}
	nameTok, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	h := &HyphaDecl{Name: nameTok.Lexeme}
	for !p.isPunct("}") {
		switch {
		case p.isKeyword("state"):
			p.advance()
			fields, _, err := p.parseFieldBlock()
			if err != nil {
				return nil, err
			}
			h.State = fields
		case p.isKeyword("on"):
			handler, err := p.parseHandler()
			if err != nil {
				return nil, err
			}
			h.Handlers = append(h.Handlers, handler)
		case p.isKeyword("rule"):
			rule, err := p.parseRule()
			if err != nil {
				return nil, err
			}
			h.Rules = append(h.Rules, rule)
		default:
			return nil, p.unexpected("state, on, or rule")
		}
	}
	end, err := p.expectPunct("}")
	if err != nil {
		return nil, err
	}
	h.baseNode = baseNode{span: spanFrom(start, end)}
	return h, nil
}

func (p *Parser) parseHandler() (*Handler, error) {
	start, err := p.expectKeyword("on")
	if err != nil {
		return nil, err
	}
	h := &Handler{}
	switch {
	case p.isKeyword("rest"):
		p.advance()
		h.Kind = HandlerRest
	case p.isKeyword("signal"):
		p.advance()
		if _, err := p.expectPunct("("); err != nil {
			return nil, err
		}
		freqTok, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectPunct(","); err != nil {
			return nil, err
		}
		paramTok, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		h.Kind = HandlerSignal
		h.Frequency = freqTok.Lexeme
		h.Param = paramTok.Lexeme
		if p.isKeyword("when") {
			p.advance()
			guard, err := p.parseExprNoStructLiteral()
			if err != nil {
				return nil, err
			}
			h.Guard = guard
		}
	case p.isKeyword("cycle"):
		p.advance()
		numTok, err := p.expectInt()
		if err != nil {
			return nil, err
		}
		n, _ := strconv.ParseInt(numTok.Lexeme, 0, 64)
		h.Kind = HandlerCycle
		h.CycleNum = int(n)
	default:
		return nil, p.unexpected("rest, signal, or cycle")
	}
	body, end, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	h.Body = body
	h.baseNode = baseNode{span: spanFrom(start, end)}
	return h, nil
}

func (p *Parser) expectInt() (Token, error) {
	if p.cur().Kind != TokInt {
		return Token{}, p.unexpected("integer literal")
	}
	return p.advance(), nil
}

func (p *Parser) parseRule() (*Rule, error) {
	start, err := p.expectKeyword("rule")
	if err != nil {
		return nil, err
	}
	nameTok, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	params, err := p.parseParamList()
	if err != nil {
		return nil, err
	}
	var ret TypeRef
	if p.isOpLexeme("->") {
		p.advance()
		ret, err = p.parseTypeRef()
		if err != nil {
			return nil, err
		}
	}
	body, end, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &Rule{
		baseNode:   baseNode{span: spanFrom(start, end)},
		Name:       nameTok.Lexeme,
		Params:     params,
		ReturnType: ret,
		Body:       body,
	}, nil
}

func (p *Parser) isOpLexeme(s string) bool {
	return p.cur().Kind == TokOp && p.cur().Lexeme == s
}

func (p *Parser) parseParamList() ([]*Field, error) {
	if _, err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var params []*Field
	for !p.isPunct(")") {
		nameTok, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		typ, err := p.parseTypeRef()
		if err != nil {
			return nil, err
		}
		params = append(params, &Field{
			baseNode: baseNode{span: spanFrom(nameTok, nameTok)},
			Name:     nameTok.Lexeme,
			Type:     typ,
		})
		if p.isPunct(",") {
			p.advance()
		}
	}
	if _, err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return params, nil
}

// ---- topology ----

func (p *Parser) parseTopology() (*Topology, error) {
	start, err := p.expectKeyword("topology")
	if err != nil {
		return nil, err
	}
	if _, err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	t := &Topology{}
	for !p.isPunct("}") {
		switch {
		case p.isKeyword("fruiting_body"):
			p.advance()
			nameTok, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			t.FruitingBodies = append(t.FruitingBodies, nameTok.Lexeme)
		case p.isKeyword("spawn"):
			p.advance()
			typeTok, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			idTok, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			t.Spawns = append(t.Spawns, Spawn{
				baseNode:   baseNode{span: spanFrom(typeTok, idTok)},
				HyphalType: typeTok.Lexeme,
				InstanceID: idTok.Lexeme,
			})
		case p.isKeyword("socket"):
			p.advance()
			sock, err := p.parseSocket()
			if err != nil {
				return nil, err
			}
			t.Sockets = append(t.Sockets, sock)
		default:
			return nil, p.unexpected("fruiting_body, spawn, or socket")
		}
	}
	end, err := p.expectPunct("}")
	if err != nil {
		return nil, err
	}
	t.baseNode = baseNode{span: spanFrom(start, end)}
	return t, nil
}

// parseSocket recognizes `socket source : frequency -> destination`,
// where destination may be `*` for broadcast (spec.md §3, §9).
func (p *Parser) parseSocket() (Socket, error) {
	srcTok, err := p.expectIdent()
	if err != nil {
		return Socket{}, err
	}
	if _, err := p.expectPunct(":"); err != nil {
		return Socket{}, err
	}
	freqTok, err := p.expectIdent()
	if err != nil {
		return Socket{}, err
	}
	if _, err := p.expectOp("->"); err != nil {
		return Socket{}, err
	}
	var destTok Token
	if p.isOp("*") {
		destTok = p.advance()
	} else {
		destTok, err = p.expectIdent()
		if err != nil {
			return Socket{}, err
		}
	}
	return Socket{
		baseNode:    baseNode{span: spanFrom(srcTok, destTok)},
		Source:      srcTok.Lexeme,
		Frequency:   freqTok.Lexeme,
		Destination: destTok.Lexeme,
	}, nil
}

// ---- statement blocks ----

func (p *Parser) parseBlock() ([]Stmt, Token, error) {
	if _, err := p.expectPunct("{"); err != nil {
		return nil, Token{}, err
	}
	var out []Stmt
	for !p.isPunct("}") {
		s, err := p.parseStmt()
		if err != nil {
			return nil, Token{}, err
		}
		out = append(out, s)
	}
	end, err := p.expectPunct("}")
	if err != nil {
		return nil, Token{}, err
	}
	return out, end, nil
}

func (p *Parser) parseStmt() (Stmt, error) {
	switch {
	case p.isKeyword("let"):
		return p.parseLetStmt()
	case p.isKeyword("emit"):
		return p.parseEmitStmt()
	case p.isKeyword("if"):
		return p.parseIfStmt()
	case p.isKeyword("for"):
		return p.parseForStmt()
	case p.isKeyword("while"):
		return p.parseWhileStmt()
	case p.isKeyword("match"):
		return p.parseMatchStmt()
	case p.isKeyword("report"):
		return p.parseReportStmt()
	case p.isKeyword("return"):
		return p.parseReturnStmt()
	case p.isKeyword("break"):
		start := p.advance()
		return &BreakStmt{baseStmt{baseNode{span: spanFrom(start, start)}}}, nil
	case p.isKeyword("continue"):
		start := p.advance()
		return &ContinueStmt{baseStmt{baseNode{span: spanFrom(start, start)}}}, nil
	default:
		return p.parseAssignOrExprStmt()
	}
}

func (p *Parser) parseLetStmt() (Stmt, error) {
	start, err := p.expectKeyword("let")
	if err != nil {
		return nil, err
	}
	nameTok, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	s := &LetStmt{Name: nameTok.Lexeme}
	if p.isPunct(":") {
		p.advance()
		typ, err := p.parseTypeRef()
		if err != nil {
			return nil, err
		}
		s.Type = typ
		s.HasType = true
	}
	if _, err := p.expectOp("="); err != nil {
		return nil, err
	}
	val, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	s.Value = val
	s.baseNode = baseNode{span: spanFrom(start, start)}
	return s, nil
}

func (p *Parser) parseEmitStmt() (Stmt, error) {
	start, err := p.expectKeyword("emit")
	if err != nil {
		return nil, err
	}
	freqTok, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	fields, end, err := p.parseFieldInitBlock()
	if err != nil {
		return nil, err
	}
	return &EmitStmt{
		baseStmt:  baseStmt{baseNode{span: spanFrom(start, end)}},
		Frequency: freqTok.Lexeme,
		Fields:    fields,
	}, nil
}

func (p *Parser) parseFieldInitBlock() ([]FieldInit, Token, error) {
	if _, err := p.expectPunct("{"); err != nil {
		return nil, Token{}, err
	}
	var fields []FieldInit
	for !p.isPunct("}") {
		nameTok, err := p.expectIdent()
		if err != nil {
			return nil, Token{}, err
		}
		if _, err := p.expectPunct(":"); err != nil {
			return nil, Token{}, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, Token{}, err
		}
		fields = append(fields, FieldInit{Name: nameTok.Lexeme, Value: val})
		if p.isPunct(",") {
			p.advance()
		}
	}
	end, err := p.expectPunct("}")
	if err != nil {
		return nil, Token{}, err
	}
	return fields, end, nil
}

func (p *Parser) parseIfStmt() (Stmt, error) {
	start, err := p.expectKeyword("if")
	if err != nil {
		return nil, err
	}
	cond, err := p.parseExprNoStructLiteral()
	if err != nil {
		return nil, err
	}
	then, end, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	s := &IfStmt{Cond: cond, Then: then}
	if p.isKeyword("else") {
		p.advance()
		if p.isKeyword("if") {
			elseIf, err := p.parseIfStmt()
			if err != nil {
				return nil, err
			}
			s.Else = []Stmt{elseIf}
			end = p.toks[p.pos-1]
		} else {
			elseBody, elseEnd, err := p.parseBlock()
			if err != nil {
				return nil, err
			}
			s.Else = elseBody
			end = elseEnd
		}
	}
	s.baseNode = baseNode{span: spanFrom(start, end)}
	return s, nil
}

func (p *Parser) parseForStmt() (Stmt, error) {
	start, err := p.expectKeyword("for")
	if err != nil {
		return nil, err
	}
	firstTok, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	s := &ForInStmt{}
	if p.isPunct(",") {
		p.advance()
		valTok, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		s.IsKeyValue = true
		s.KeyName = firstTok.Lexeme
		s.Item = valTok.Lexeme
	} else {
		s.Item = firstTok.Lexeme
		if p.isPunct(":") {
			p.advance()
			typ, err := p.parseTypeRef()
			if err != nil {
				return nil, err
			}
			s.ItemType = typ
			s.HasType = true
		}
	}
	if _, err := p.expectKeyword("in"); err != nil {
		return nil, err
	}
	collection, err := p.parseExprNoStructLiteral()
	if err != nil {
		return nil, err
	}
	s.Collection = collection
	body, end, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	s.Body = body
	s.baseNode = baseNode{span: spanFrom(start, end)}
	return s, nil
}

func (p *Parser) parseWhileStmt() (Stmt, error) {
	start, err := p.expectKeyword("while")
	if err != nil {
		return nil, err
	}
	cond, err := p.parseExprNoStructLiteral()
	if err != nil {
		return nil, err
	}
	body, end, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &WhileStmt{
		baseStmt: baseStmt{baseNode{span: spanFrom(start, end)}},
		Cond:     cond,
		Body:     body,
	}, nil
}

func (p *Parser) parseMatchStmt() (Stmt, error) {
	start, err := p.expectKeyword("match")
	if err != nil {
		return nil, err
	}
	scrutinee, err := p.parseExprNoStructLiteral()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	var arms []MatchStmtArm
	for !p.isPunct("}") {
		pats, err := p.parsePatternAlternation()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectOp("=>"); err != nil {
			return nil, err
		}
		body, _, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		arms = append(arms, MatchStmtArm{Patterns: pats, Body: body})
		if p.isPunct(",") {
			p.advance()
		}
	}
	end, err := p.expectPunct("}")
	if err != nil {
		return nil, err
	}
	return &MatchStmt{
		baseStmt:  baseStmt{baseNode{span: spanFrom(start, end)}},
		Scrutinee: scrutinee,
		Arms:      arms,
	}, nil
}

func (p *Parser) parseReportStmt() (Stmt, error) {
	start, err := p.expectKeyword("report")
	if err != nil {
		return nil, err
	}
	nameTok, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	s := &ReportStmt{Name: nameTok.Lexeme}
	if p.isPunct(":") {
		p.advance()
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		s.Value = val
		s.baseNode = baseNode{span: spanFrom(start, start)}
		return s, nil
	}
	fields, end, err := p.parseFieldInitBlock()
	if err != nil {
		return nil, err
	}
	s.Fields = fields
	s.baseNode = baseNode{span: spanFrom(start, end)}
	return s, nil
}

func (p *Parser) parseReturnStmt() (Stmt, error) {
	start, err := p.expectKeyword("return")
	if err != nil {
		return nil, err
	}
	s := &ReturnStmt{}
	// A bare `return` is directly followed by the block's closing `}`;
	// anything else starts a value expression.
	if !p.isPunct("}") {
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		s.Value = val
	}
	s.baseNode = baseNode{span: spanFrom(start, start)}
	return s, nil
}

func (p *Parser) parseAssignOrExprStmt() (Stmt, error) {
	start := p.cur()
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.isOp("=") {
		p.advance()
		target, err := exprToAssignTarget(expr)
		if err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &AssignStmt{
			baseStmt: baseStmt{baseNode{span: spanFrom(start, start)}},
			Target:   target,
			Value:    val,
		}, nil
	}
	return &ExprStmt{baseStmt{baseNode{span: spanFrom(start, start)}}, expr}, nil
}

func exprToAssignTarget(e Expr) (AssignTarget, error) {
	switch n := e.(type) {
	case *Ident:
		return &VarTarget{baseNode: n.baseNode, Name: n.Name}, nil
	case *FieldAccess:
		return &FieldTarget{baseNode: n.baseNode, Object: n.Object, Field: n.Field}, nil
	case *IndexExpr:
		return &IndexTarget{baseNode: n.baseNode, Object: n.Object, Index: n.Index}, nil
	default:
		return nil, CodegenError{Message: "invalid assignment target", Pos: e.Span().Start}
	}
}

// ---- patterns ----

func (p *Parser) parsePatternAlternation() ([]Pattern, error) {
	var pats []Pattern
	first, err := p.parsePattern()
	if err != nil {
		return nil, err
	}
	pats = append(pats, first)
	for p.isOp("|") {
		p.advance()
		next, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		pats = append(pats, next)
	}
	return pats, nil
}

func (p *Parser) parsePattern() (Pattern, error) {
	switch {
	case p.isPunct("("):
		return p.parseTuplePattern()
	case p.cur().Kind == TokInt || p.cur().Kind == TokFloat || p.cur().Kind == TokString ||
		p.cur().Kind == TokChar || p.isKeyword("true") || p.isKeyword("false") || p.isKeyword("null"):
		lit, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &LiteralPattern{basePattern{baseNode{span: lit.Span()}}, lit}, nil
	case p.cur().Kind == TokIdent:
		nameTok := p.advance()
		if p.isOp("::") {
			p.advance()
			variantTok, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			ep := &EnumPattern{
				basePattern: basePattern{baseNode{span: spanFrom(nameTok, variantTok)}},
				Type:        nameTok.Lexeme,
				Variant:     variantTok.Lexeme,
			}
			if p.isPunct("(") {
				p.advance()
				for !p.isPunct(")") {
					bTok, err := p.expectIdent()
					if err != nil {
						return nil, err
					}
					ep.Bindings = append(ep.Bindings, bTok.Lexeme)
					if p.isPunct(",") {
						p.advance()
					}
				}
				p.advance() // ')'
			}
			return ep, nil
		}
		return &IdentPattern{basePattern{baseNode{span: spanFrom(nameTok, nameTok)}}, nameTok.Lexeme}, nil
	default:
		return nil, p.unexpected("pattern")
	}
}

func (p *Parser) parseTuplePattern() (Pattern, error) {
	start, err := p.expectPunct("(")
	if err != nil {
		return nil, err
	}
	var elems []Pattern
	for !p.isPunct(")") {
		e, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
		if p.isPunct(",") {
			p.advance()
		}
	}
	end, err := p.expectPunct(")")
	if err != nil {
		return nil, err
	}
	return &TuplePattern{basePattern{baseNode{span: spanFrom(start, end)}}, elems}, nil
}

// ---- expressions: precedence climbing ----
//
// || ; && ; == != ; .. ; | ; ^ ; & ; << >> ; < > <= >= ; + - ; * / % ;
// unary (- !) ; postfix            (spec.md §4.2)

func (p *Parser) parseExpr() (Expr, error) {
	return p.parseOr()
}

// parseExprNoStructLiteral parses an expression in a context where a
// following `{` must close the surrounding statement, not open a
// struct literal (spec.md §4.2 condition ii): if/while/for conditions
// and match scrutinees.
func (p *Parser) parseExprNoStructLiteral() (Expr, error) {
	save := p.noStructLiteral
	p.noStructLiteral = true
	defer func() { p.noStructLiteral = save }()
	return p.parseExpr()
}

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isOp("||") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{baseExpr{baseNode{span: spanOf(left, right)}}, OpOr, left, right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.isOp("&&") {
		p.advance()
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{baseExpr{baseNode{span: spanOf(left, right)}}, OpAnd, left, right}
	}
	return left, nil
}

func (p *Parser) parseEquality() (Expr, error) {
	left, err := p.parseRange()
	if err != nil {
		return nil, err
	}
	for p.isOp("==") || p.isOp("!=") {
		op := BinOp(p.advance().Lexeme)
		right, err := p.parseRange()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{baseExpr{baseNode{span: spanOf(left, right)}}, op, left, right}
	}
	return left, nil
}

func (p *Parser) parseRange() (Expr, error) {
	left, err := p.parseBitOr()
	if err != nil {
		return nil, err
	}
	if p.isOp("..") {
		p.advance()
		right, err := p.parseBitOr()
		if err != nil {
			return nil, err
		}
		return &RangeExpr{baseExpr{baseNode{span: spanOf(left, right)}}, left, right}, nil
	}
	return left, nil
}

func (p *Parser) parseBitOr() (Expr, error) {
	left, err := p.parseXor()
	if err != nil {
		return nil, err
	}
	for p.isOp("|") {
		p.advance()
		right, err := p.parseXor()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{baseExpr{baseNode{span: spanOf(left, right)}}, OpBOr, left, right}
	}
	return left, nil
}

func (p *Parser) parseXor() (Expr, error) {
	left, err := p.parseBitAnd()
	if err != nil {
		return nil, err
	}
	for p.isOp("^") {
		p.advance()
		right, err := p.parseBitAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{baseExpr{baseNode{span: spanOf(left, right)}}, OpXor, left, right}
	}
	return left, nil
}

func (p *Parser) parseBitAnd() (Expr, error) {
	left, err := p.parseShift()
	if err != nil {
		return nil, err
	}
	for p.isOp("&") {
		p.advance()
		right, err := p.parseShift()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{baseExpr{baseNode{span: spanOf(left, right)}}, OpBAnd, left, right}
	}
	return left, nil
}

func (p *Parser) parseShift() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.isOp("<<") || p.isOp(">>") {
		op := BinOp(p.advance().Lexeme)
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{baseExpr{baseNode{span: spanOf(left, right)}}, op, left, right}
	}
	return left, nil
}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.isOp("<") || p.isOp(">") || p.isOp("<=") || p.isOp(">=") {
		op := BinOp(p.advance().Lexeme)
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{baseExpr{baseNode{span: spanOf(left, right)}}, op, left, right}
	}
	return left, nil
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isOp("+") || p.isOp("-") {
		op := BinOp(p.advance().Lexeme)
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{baseExpr{baseNode{span: spanOf(left, right)}}, op, left, right}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*") || p.isOp("/") || p.isOp("%") {
		op := BinOp(p.advance().Lexeme)
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{baseExpr{baseNode{span: spanOf(left, right)}}, op, left, right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.isOp("-") || p.isOp("!") || p.isOp("+") {
		opTok := p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{baseExpr{baseNode{span: spanFrom(opTok, opTok)}}, UnOp(opTok.Lexeme), operand}, nil
	}
	return p.parsePostfix()
}

// parsePostfix accepts, in any order, `.field`, `(args)`, `[index]`,
// `as T`, `::Variant`, `::Variant(args)` (spec.md §4.2).
func (p *Parser) parsePostfix() (Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.isPunct("."):
			p.advance()
			// A `<` after an identifier in expression position is a
			// comparison (spec.md §4.2); method calls are recognized
			// by a following `(`.
			nameTok, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			if p.isPunct("(") {
				args, end, err := p.parseArgs()
				if err != nil {
					return nil, err
				}
				expr = &MethodCallExpr{baseExpr{baseNode{span: spanFrom(end, end)}}, expr, nameTok.Lexeme, args}
			} else {
				expr = &FieldAccess{baseExpr{baseNode{span: spanFrom(nameTok, nameTok)}}, expr, nameTok.Lexeme}
			}
		case p.isPunct("["):
			p.advance()
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			end, err := p.expectPunct("]")
			if err != nil {
				return nil, err
			}
			expr = &IndexExpr{baseExpr{baseNode{span: spanFrom(end, end)}}, expr, idx}
		case p.isPunct("("):
			args, end, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			expr = &CallExpr{baseExpr{baseNode{span: spanFrom(end, end)}}, expr, args}
		case p.isKeyword("as"):
			p.advance()
			typ, err := p.parseTypeRef()
			if err != nil {
				return nil, err
			}
			expr = &CastExpr{baseExpr{baseNode{span: expr.Span()}}, expr, typ}
		case p.isOp("::"):
			p.advance()
			ident, ok := expr.(*Ident)
			if !ok {
				return nil, CodegenError{Message: "`::` requires a type name on the left", Pos: expr.Span().Start}
			}
			variantTok, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			if p.isPunct("(") {
				args, end, err := p.parseArgs()
				if err != nil {
					return nil, err
				}
				expr = &EnumConstructor{baseExpr{baseNode{span: spanFrom(end, end)}}, ident.Name, variantTok.Lexeme, args}
			} else {
				expr = &EnumPath{baseExpr{baseNode{span: spanFrom(variantTok, variantTok)}}, ident.Name, variantTok.Lexeme}
			}
		default:
			return expr, nil
		}
	}
}

func (p *Parser) parseArgs() ([]Expr, Token, error) {
	if _, err := p.expectPunct("("); err != nil {
		return nil, Token{}, err
	}
	var args []Expr
	for !p.isPunct(")") {
		a, err := p.parseExpr()
		if err != nil {
			return nil, Token{}, err
		}
		args = append(args, a)
		if p.isPunct(",") {
			p.advance()
		}
	}
	end, err := p.expectPunct(")")
	if err != nil {
		return nil, Token{}, err
	}
	return args, end, nil
}

// parsePrimary handles literals, identifiers (with the struct-literal
// disambiguation), parenthesized/tuple expressions, array literals,
// function literals, and the if/match expression forms. There is no
// map-literal form: a `{` here is reported as an unexpected token.
func (p *Parser) parsePrimary() (Expr, error) {
	tok := p.cur()
	switch {
	case tok.Kind == TokInt:
		p.advance()
		v, err := strconv.ParseInt(tok.Lexeme, 0, 64)
		if err != nil {
			return nil, ParseError{Message: "invalid integer literal", Pos: tok.Span.Start}
		}
		return &IntLiteral{baseExpr{baseNode{span: spanFrom(tok, tok)}}, v, tok.Suffix}, nil
	case tok.Kind == TokFloat:
		p.advance()
		v, err := strconv.ParseFloat(tok.Lexeme, 64)
		if err != nil {
			return nil, ParseError{Message: "invalid float literal", Pos: tok.Span.Start}
		}
		return &FloatLiteral{baseExpr{baseNode{span: spanFrom(tok, tok)}}, v, tok.Suffix}, nil
	case tok.Kind == TokString:
		p.advance()
		return &StringLiteral{baseExpr{baseNode{span: spanFrom(tok, tok)}}, tok.Lexeme}, nil
	case tok.Kind == TokChar:
		p.advance()
		r := []rune(tok.Lexeme)
		return &CharLiteral{baseExpr{baseNode{span: spanFrom(tok, tok)}}, r[0]}, nil
	case tok.IsKeyword("true"):
		p.advance()
		return &BoolLiteral{baseExpr{baseNode{span: spanFrom(tok, tok)}}, true}, nil
	case tok.IsKeyword("false"):
		p.advance()
		return &BoolLiteral{baseExpr{baseNode{span: spanFrom(tok, tok)}}, false}, nil
	case tok.IsKeyword("null"):
		p.advance()
		return &NullLiteral{baseExpr{baseNode{span: spanFrom(tok, tok)}}}, nil
	case tok.IsKeyword("if"):
		return p.parseIfExpr()
	case tok.IsKeyword("match"):
		return p.parseMatchExpr()
	case tok.IsKeyword("fn"):
		return p.parseFuncLiteral()
	case p.isPunct("("):
		return p.parseParenOrTuple()
	case p.isPunct("["):
		return p.parseArrayLiteral()
	case tok.Kind == TokIdent:
		p.advance()
		if p.canStartStructLiteral(tok) {
			return p.parseStructLiteralBody(tok)
		}
		return &Ident{baseExpr{baseNode{span: spanFrom(tok, tok)}}, tok.Lexeme}, nil
	default:
		return nil, p.unexpected("expression")
	}
}

// canStartStructLiteral implements spec.md §4.2's three-part test for
// a `{` following an identifier in primary position:
//
//	(i)   no newline intervenes between the identifier and `{`
//	(ii)  no comparison/logical/arithmetic operator immediately
//	      precedes the identifier in the surrounding expression
//	      (tracked via p.noStructLiteral, set while parsing an
//	      if/while/for condition or match scrutinee)
//	(iii) either the identifier begins with an uppercase letter, or
//	      the brace is empty, or its first content matches `ident :`
func (p *Parser) canStartStructLiteral(identTok Token) bool {
	if p.noStructLiteral {
		return false
	}
	if !p.isPunct("{") {
		return false
	}
	if p.cur().PrecededByNewline {
		return false
	}
	if startsUpper(identTok.Lexeme) {
		return true
	}
	// peekAt(1) is the token after `{`.
	after := p.peekAt(1)
	if after.Kind == TokPunct && after.Lexeme == "}" {
		return true
	}
	afterAfter := p.peekAt(2)
	return after.Kind == TokIdent && afterAfter.Kind == TokPunct && afterAfter.Lexeme == ":"
}

func startsUpper(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	return c >= 'A' && c <= 'Z'
}

func (p *Parser) parseStructLiteralBody(identTok Token) (Expr, error) {
	fields, end, err := p.parseFieldInitBlock()
	if err != nil {
		return nil, err
	}
	return &StructLiteral{baseExpr{baseNode{span: spanFrom(identTok, end)}}, identTok.Lexeme, fields}, nil
}

func (p *Parser) parseParenOrTuple() (Expr, error) {
	start, err := p.expectPunct("(")
	if err != nil {
		return nil, err
	}
	save := p.noStructLiteral
	p.noStructLiteral = false
	defer func() { p.noStructLiteral = save }()

	if p.isPunct(")") {
		end := p.advance()
		return &TupleExpr{baseExpr{baseNode{span: spanFrom(start, end)}}, nil}, nil
	}
	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.isPunct(",") {
		elems := []Expr{first}
		for p.isPunct(",") {
			p.advance()
			if p.isPunct(")") {
				break
			}
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			elems = append(elems, e)
		}
		end, err := p.expectPunct(")")
		if err != nil {
			return nil, err
		}
		return &TupleExpr{baseExpr{baseNode{span: spanFrom(start, end)}}, elems}, nil
	}
	if _, err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return first, nil
}

func (p *Parser) parseArrayLiteral() (Expr, error) {
	start, err := p.expectPunct("[")
	if err != nil {
		return nil, err
	}
	save := p.noStructLiteral
	p.noStructLiteral = false
	defer func() { p.noStructLiteral = save }()

	var elems []Expr
	for !p.isPunct("]") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
		if p.isPunct(",") {
			p.advance()
		}
	}
	end, err := p.expectPunct("]")
	if err != nil {
		return nil, err
	}
	return &ArrayLiteral{baseExpr{baseNode{span: spanFrom(start, end)}}, elems}, nil
}

func (p *Parser) parseIfExpr() (Expr, error) {
	start, err := p.expectKeyword("if")
	if err != nil {
		return nil, err
	}
	cond, err := p.parseExprNoStructLiteral()
	if err != nil {
		return nil, err
	}
	thenBody, _, err := p.parseExprBlock()
	if err != nil {
		return nil, err
	}
	e := &IfExpr{Cond: cond, Then: thenBody}
	end := start
	if p.isKeyword("else") {
		p.advance()
		elseBody, elseEnd, err := p.parseExprBlock()
		if err != nil {
			return nil, err
		}
		e.Else = elseBody
		end = elseEnd
	}
	e.baseNode = baseNode{span: spanFrom(start, end)}
	return e, nil
}

// parseExprBlock parses a brace-delimited single expression, as
// required for if/match used in expression position (spec.md §4.2).
func (p *Parser) parseExprBlock() (Expr, Token, error) {
	if _, err := p.expectPunct("{"); err != nil {
		return nil, Token{}, err
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, Token{}, err
	}
	end, err := p.expectPunct("}")
	if err != nil {
		return nil, Token{}, err
	}
	return e, end, nil
}

func (p *Parser) parseMatchExpr() (Expr, error) {
	start, err := p.expectKeyword("match")
	if err != nil {
		return nil, err
	}
	scrutinee, err := p.parseExprNoStructLiteral()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	var arms []MatchArm
	for !p.isPunct("}") {
		pats, err := p.parsePatternAlternation()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectOp("=>"); err != nil {
			return nil, err
		}
		body, _, err := p.parseExprBlock()
		if err != nil {
			return nil, err
		}
		arms = append(arms, MatchArm{Patterns: pats, Body: body})
		if p.isPunct(",") {
			p.advance()
		}
	}
	end, err := p.expectPunct("}")
	if err != nil {
		return nil, err
	}
	return &MatchExpr{baseExpr{baseNode{span: spanFrom(start, end)}}, scrutinee, arms}, nil
}

func (p *Parser) parseFuncLiteral() (Expr, error) {
	start, err := p.expectKeyword("fn")
	if err != nil {
		return nil, err
	}
	params, err := p.parseParamList()
	if err != nil {
		return nil, err
	}
	var ret TypeRef
	if p.isOpLexeme("->") {
		p.advance()
		ret, err = p.parseTypeRef()
		if err != nil {
			return nil, err
		}
	}
	body, end, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &FuncLiteral{baseExpr{baseNode{span: spanFrom(start, end)}}, params, ret, body}, nil
}

func spanOf(a, b Expr) Span {
	return Span{Start: a.Span().Start, End: b.Span().End}
}

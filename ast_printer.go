package mycelial

import (
	"fmt"
	"strconv"
	"strings"
)

// PrintNetwork renders a Network back into Mycelial source text. It is
// the basis of spec.md §8's "parse idempotence" law: parsing this
// output must reproduce a structurally equal tree. Grounded on the
// teacher's grammar_ast_printer.go (one print* function per node
// kind, driven by a single outputWriter).
func PrintNetwork(n *Network) string {
	w := newOutputWriter("    ")
	w.writei(fmt.Sprintf("network %s\n\n", n.Name))

	if len(n.Frequencies) > 0 {
		w.writei("frequencies {\n")
		w.indent()
		for _, f := range n.Frequencies {
			w.writei(f.Name + " {\n")
			w.indent()
			for _, field := range f.Fields {
				w.writei(fmt.Sprintf("%s: %s\n", field.Name, field.Type))
			}
			w.unindent()
			w.writei("}\n")
		}
		w.unindent()
		w.writei("}\n\n")
	}

	if len(n.Types) > 0 {
		w.writei("types {\n")
		w.indent()
		for _, t := range n.Types {
			printTypeDecl(w, t)
		}
		w.unindent()
		w.writei("}\n\n")
	}

	for _, h := range n.Hyphae {
		printHypha(w, h)
		w.writel("")
	}

	if n.Topology != nil {
		printTopology(w, n.Topology)
	}

	return w.output()
}

func printTypeDecl(w *outputWriter, t *TypeDecl) {
	if t.IsEnum {
		w.writei(fmt.Sprintf("enum %s {\n", t.Name))
		w.indent()
		for _, v := range t.Variants {
			if v.Inner.Name != "" {
				w.writei(fmt.Sprintf("%s(%s),\n", v.Name, v.Inner))
			} else {
				w.writei(v.Name + ",\n")
			}
		}
		w.unindent()
		w.writei("}\n")
		return
	}
	w.writei(fmt.Sprintf("struct %s {\n", t.Name))
	w.indent()
	for _, f := range t.Fields {
		w.writei(fmt.Sprintf("%s: %s,\n", f.Name, f.Type))
	}
	w.unindent()
	w.writei("}\n")
}

func printHypha(w *outputWriter, h *HyphaDecl) {
	w.writei(fmt.Sprintf("hyphae %s {\n", h.Name))
	w.indent()
	if len(h.State) > 0 {
		w.writei("state {\n")
		w.indent()
		for _, f := range h.State {
			if f.Default != nil {
				w.writei(fmt.Sprintf("%s: %s = %s\n", f.Name, f.Type, PrintExpr(f.Default)))
			} else {
				w.writei(fmt.Sprintf("%s: %s\n", f.Name, f.Type))
			}
		}
		w.unindent()
		w.writei("}\n")
	}
	for _, hd := range h.Handlers {
		printHandler(w, hd)
	}
	for _, r := range h.Rules {
		printRule(w, r)
	}
	w.unindent()
	w.writei("}\n")
}

func printHandler(w *outputWriter, h *Handler) {
	switch h.Kind {
	case HandlerRest:
		w.writei("on rest {\n")
	case HandlerSignal:
		guard := ""
		if h.Guard != nil {
			guard = " when " + PrintExpr(h.Guard)
		}
		w.writei(fmt.Sprintf("on signal(%s, %s)%s {\n", h.Frequency, h.Param, guard))
	case HandlerCycle:
		w.writei(fmt.Sprintf("on cycle %d {\n", h.CycleNum))
	}
	w.indent()
	printBlock(w, h.Body)
	w.unindent()
	w.writei("}\n")
}

func printRule(w *outputWriter, r *Rule) {
	var params []string
	for _, p := range r.Params {
		params = append(params, fmt.Sprintf("%s: %s", p.Name, p.Type))
	}
	ret := ""
	if r.ReturnType.Name != "" {
		ret = fmt.Sprintf(" -> %s", r.ReturnType)
	}
	w.writei(fmt.Sprintf("rule %s(%s)%s {\n", r.Name, strings.Join(params, ", "), ret))
	w.indent()
	printBlock(w, r.Body)
	w.unindent()
	w.writei("}\n")
}

func printTopology(w *outputWriter, t *Topology) {
	w.writei("topology {\n")
	w.indent()
	for _, fb := range t.FruitingBodies {
		w.writei(fmt.Sprintf("fruiting_body %s\n", fb))
	}
	for _, s := range t.Spawns {
		w.writei(fmt.Sprintf("spawn %s %s\n", s.HyphalType, s.InstanceID))
	}
	for _, s := range t.Sockets {
		w.writei(fmt.Sprintf("socket %s : %s -> %s\n", s.Source, s.Frequency, s.Destination))
	}
	w.unindent()
	w.writei("}\n")
}

func printBlock(w *outputWriter, body []Stmt) {
	for _, s := range body {
		w.writei(PrintStmt(s))
		w.writel("")
	}
}

// PrintStmt renders a single statement to a single logical line (its
// own nested blocks are still multi-line).
func PrintStmt(s Stmt) string {
	switch n := s.(type) {
	case *LetStmt:
		if n.HasType {
			return fmt.Sprintf("let %s: %s = %s", n.Name, n.Type, PrintExpr(n.Value))
		}
		return fmt.Sprintf("let %s = %s", n.Name, PrintExpr(n.Value))
	case *AssignStmt:
		return fmt.Sprintf("%s = %s", printTarget(n.Target), PrintExpr(n.Value))
	case *EmitStmt:
		return fmt.Sprintf("emit %s { %s }", n.Frequency, printFieldInits(n.Fields))
	case *IfStmt:
		s := fmt.Sprintf("if %s { %s }", PrintExpr(n.Cond), printStmts(n.Then))
		if n.Else != nil {
			s += fmt.Sprintf(" else { %s }", printStmts(n.Else))
		}
		return s
	case *ForInStmt:
		if n.IsKeyValue {
			return fmt.Sprintf("for %s, %s in %s { %s }", n.KeyName, n.Item, PrintExpr(n.Collection), printStmts(n.Body))
		}
		return fmt.Sprintf("for %s in %s { %s }", n.Item, PrintExpr(n.Collection), printStmts(n.Body))
	case *WhileStmt:
		return fmt.Sprintf("while %s { %s }", PrintExpr(n.Cond), printStmts(n.Body))
	case *MatchStmt:
		return fmt.Sprintf("match %s { %s }", PrintExpr(n.Scrutinee), printMatchStmtArms(n.Arms))
	case *ReportStmt:
		if n.Value != nil {
			return fmt.Sprintf("report %s: %s", n.Name, PrintExpr(n.Value))
		}
		return fmt.Sprintf("report %s { %s }", n.Name, printFieldInits(n.Fields))
	case *ReturnStmt:
		if n.Value != nil {
			return "return " + PrintExpr(n.Value)
		}
		return "return"
	case *BreakStmt:
		return "break"
	case *ContinueStmt:
		return "continue"
	case *ExprStmt:
		return PrintExpr(n.X)
	default:
		return fmt.Sprintf("<unknown stmt %T>", s)
	}
}

func printTarget(t AssignTarget) string {
	switch n := t.(type) {
	case *VarTarget:
		return n.Name
	case *FieldTarget:
		return PrintExpr(n.Object) + "." + n.Field
	case *IndexTarget:
		return fmt.Sprintf("%s[%s]", PrintExpr(n.Object), PrintExpr(n.Index))
	default:
		return "<unknown target>"
	}
}

func printStmts(stmts []Stmt) string {
	var parts []string
	for _, s := range stmts {
		parts = append(parts, PrintStmt(s))
	}
	return strings.Join(parts, " ")
}

func printFieldInits(fields []FieldInit) string {
	var parts []string
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Name, PrintExpr(f.Value)))
	}
	return strings.Join(parts, ", ")
}

func printMatchStmtArms(arms []MatchStmtArm) string {
	var parts []string
	for _, a := range arms {
		parts = append(parts, fmt.Sprintf("%s => { %s }", printPatterns(a.Patterns), printStmts(a.Body)))
	}
	return strings.Join(parts, " ")
}

func printPatterns(pats []Pattern) string {
	var parts []string
	for _, p := range pats {
		parts = append(parts, PrintPattern(p))
	}
	return strings.Join(parts, " | ")
}

// PrintPattern renders a single match pattern.
func PrintPattern(p Pattern) string {
	switch n := p.(type) {
	case *LiteralPattern:
		return PrintExpr(n.Value)
	case *IdentPattern:
		return n.Name
	case *EnumPattern:
		if n.Bindings != nil {
			return fmt.Sprintf("%s::%s(%s)", n.Type, n.Variant, strings.Join(n.Bindings, ", "))
		}
		return fmt.Sprintf("%s::%s", n.Type, n.Variant)
	case *TuplePattern:
		var parts []string
		for _, e := range n.Elements {
			parts = append(parts, PrintPattern(e))
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case *AltPattern:
		var parts []string
		for _, a := range n.Alternatives {
			parts = append(parts, PrintPattern(a))
		}
		return strings.Join(parts, " | ")
	default:
		return "<unknown pattern>"
	}
}

// PrintExpr renders a single expression.
func PrintExpr(e Expr) string {
	switch n := e.(type) {
	case *IntLiteral:
		return strconv.FormatInt(n.Value, 10)
	case *FloatLiteral:
		return strconv.FormatFloat(n.Value, 'g', -1, 64)
	case *StringLiteral:
		return strconv.Quote(n.Value)
	case *CharLiteral:
		return "'" + string(n.Value) + "'"
	case *BoolLiteral:
		if n.Value {
			return "true"
		}
		return "false"
	case *NullLiteral:
		return "null"
	case *Ident:
		return n.Name
	case *FieldAccess:
		return PrintExpr(n.Object) + "." + n.Field
	case *IndexExpr:
		return fmt.Sprintf("%s[%s]", PrintExpr(n.Object), PrintExpr(n.Index))
	case *RangeExpr:
		return fmt.Sprintf("%s..%s", PrintExpr(n.Low), PrintExpr(n.High))
	case *BinaryExpr:
		return fmt.Sprintf("(%s %s %s)", PrintExpr(n.Left), n.Op, PrintExpr(n.Right))
	case *UnaryExpr:
		return fmt.Sprintf("%s%s", n.Op, PrintExpr(n.Operand))
	case *CallExpr:
		return fmt.Sprintf("%s(%s)", PrintExpr(n.Callee), printExprs(n.Args))
	case *MethodCallExpr:
		return fmt.Sprintf("%s.%s(%s)", PrintExpr(n.Object), n.Method, printExprs(n.Args))
	case *CastExpr:
		return fmt.Sprintf("%s as %s", PrintExpr(n.Value), n.Type)
	case *StructLiteral:
		return fmt.Sprintf("%s { %s }", n.TypeName, printFieldInits(n.Fields))
	case *ArrayLiteral:
		return "[" + printExprs(n.Elements) + "]"
	case *MapLiteral:
		var parts []string
		for _, e := range n.Entries {
			parts = append(parts, fmt.Sprintf("%s: %s", PrintExpr(e.Key), PrintExpr(e.Value)))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *TupleExpr:
		return "(" + printExprs(n.Elements) + ")"
	case *EnumPath:
		return fmt.Sprintf("%s::%s", n.Type, n.Variant)
	case *EnumConstructor:
		return fmt.Sprintf("%s::%s(%s)", n.Type, n.Variant, printExprs(n.Args))
	case *IfExpr:
		s := fmt.Sprintf("if %s { %s }", PrintExpr(n.Cond), PrintExpr(n.Then))
		if n.Else != nil {
			s += fmt.Sprintf(" else { %s }", PrintExpr(n.Else))
		}
		return s
	case *MatchExpr:
		var parts []string
		for _, a := range n.Arms {
			parts = append(parts, fmt.Sprintf("%s => { %s }", printPatterns(a.Patterns), PrintExpr(a.Body)))
		}
		return fmt.Sprintf("match %s { %s }", PrintExpr(n.Scrutinee), strings.Join(parts, " "))
	case *FuncLiteral:
		var params []string
		for _, p := range n.Params {
			params = append(params, fmt.Sprintf("%s: %s", p.Name, p.Type))
		}
		return fmt.Sprintf("fn(%s) { %s }", strings.Join(params, ", "), printStmts(n.Body))
	default:
		return fmt.Sprintf("<unknown expr %T>", e)
	}
}

func printExprs(exprs []Expr) string {
	var parts []string
	for _, e := range exprs {
		parts = append(parts, PrintExpr(e))
	}
	return strings.Join(parts, ", ")
}

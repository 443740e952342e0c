package mycelial

import "strconv"

// emit appends instructions to the function's accumulated body.
func (fc *funcCtx) emit(lines ...Line) {
	fc.out = append(fc.out, lines...)
}

// lowerExpr lowers e, leaving its value in R_ACC (spec.md §4.4's
// single-register contract at the expression boundary).
func (fc *funcCtx) lowerExpr(e Expr) error {
	switch n := e.(type) {
	case *IntLiteral:
		fc.emit(ins("mov", regAcc, strconv.FormatInt(n.Value, 10)))
		return nil
	case *FloatLiteral:
		label := fc.cg.program.internFloat(n.Value)
		fc.emit(ins("movsd", "xmm0", ripRel(label)))
		return nil
	case *StringLiteral:
		label := fc.cg.program.internString(n.Value)
		fc.emit(ins("lea", regAcc, ripRel(label)))
		return nil
	case *CharLiteral:
		fc.emit(ins("mov", regAcc, strconv.Itoa(int(n.Value))))
		return nil
	case *BoolLiteral:
		v := "0"
		if n.Value {
			v = "1"
		}
		fc.emit(ins("mov", regAcc, v))
		return nil
	case *NullLiteral:
		fc.emit(ins("xor", regAcc, regAcc))
		return nil
	case *Ident:
		return fc.lowerIdent(n)
	case *FieldAccess:
		return fc.lowerFieldAccess(n)
	case *RangeExpr:
		return fc.lowerRange(n)
	case *BinaryExpr:
		return fc.lowerBinary(n)
	case *UnaryExpr:
		return fc.lowerUnary(n)
	case *CallExpr:
		return fc.lowerCallExpr(n)
	case *MethodCallExpr:
		return fc.lowerMethodCall(n)
	case *CastExpr:
		return fc.lowerCast(n)
	case *StructLiteral:
		return fc.lowerStructLiteral(n)
	case *ArrayLiteral:
		return fc.lowerArrayLiteral(n.Elements)
	case *TupleExpr:
		return fc.lowerArrayLiteral(n.Elements)
	case *IndexExpr:
		return fc.lowerIndex(n)
	case *EnumPath:
		return fc.lowerEnumPath(n)
	case *EnumConstructor:
		return fc.lowerEnumConstructor(n)
	case *IfExpr:
		return fc.lowerIfExpr(n)
	case *MatchExpr:
		return fc.lowerMatchExpr(n)
	case *MapLiteral:
		return CodegenError{Message: "map literals are not lowerable (entries unsupported)", Pos: n.Span().Start}
	default:
		return CodegenError{Message: "unsupported expression kind", Pos: e.Span().Start}
	}
}

// lowerIdent resolves a bare name as either the bound signal
// parameter (load R_PAYLOAD) or a local slot (spec.md §4.4).
func (fc *funcCtx) lowerIdent(n *Ident) error {
	if n.Name == fc.currentParamName && fc.currentParamName != "" {
		fc.emit(ins("mov", regAcc, regPayload))
		return nil
	}
	if info, ok := fc.locals[n.Name]; ok {
		fc.emit(ins("mov", regAcc, frameSlot(info.offset)))
		return nil
	}
	return CodegenError{Message: "variable referenced before introduction: " + n.Name, Pos: n.Span().Start}
}

// inferType applies spec.md §4.4's nested-field-access rule set: (1)
// vec[index] with known vector element type, (2) typed local or
// state/payload field, (3) rule call with declared return type.
func (fc *funcCtx) inferType(e Expr) (TypeRef, bool) {
	switch n := e.(type) {
	case *IntLiteral:
		return TypeRef{Name: "i64"}, true
	case *FloatLiteral:
		return TypeRef{Name: "f64"}, true
	case *StringLiteral:
		return TypeRef{Name: "string"}, true
	case *BoolLiteral:
		return TypeRef{Name: "bool"}, true
	case *EnumPath:
		return TypeRef{Name: n.Type}, true
	case *EnumConstructor:
		return TypeRef{Name: n.Type}, true
	case *StructLiteral:
		return TypeRef{Name: n.TypeName}, true
	case *Ident:
		if n.Name == fc.currentParamName && fc.currentFrequency != "" {
			return TypeRef{Name: fc.currentFrequency}, true
		}
		if info, ok := fc.locals[n.Name]; ok && info.hasType {
			return info.typ, true
		}
		return TypeRef{}, false
	case *FieldAccess:
		objType, ok := fc.inferType(n.Object)
		if !ok {
			return TypeRef{}, false
		}
		if fl, ok := fc.fieldLayoutIn(objType.Name, n.Field); ok {
			return fl.Type, true
		}
		return TypeRef{}, false
	case *IndexExpr:
		objType, ok := fc.inferType(n.Object)
		if !ok || len(objType.Args) == 0 {
			return TypeRef{}, false
		}
		return objType.Args[0], true
	case *CallExpr:
		if callee, ok := n.Callee.(*Ident); ok {
			if r, ok := fc.tmpl.Rules[callee.Name]; ok {
				return r.ReturnType, true
			}
		}
		return TypeRef{}, false
	case *CastExpr:
		return n.Type, true
	default:
		return TypeRef{}, false
	}
}

// fieldLayoutIn looks a field up by its declared type name, which may
// be a struct or a frequency (the signal parameter's payload carries
// the shape of its frequency, not a struct).
func (fc *funcCtx) fieldLayoutIn(typeName, field string) (FieldLayout, bool) {
	if sl, ok := fc.cg.st.Structs[typeName]; ok {
		return sl.Field(field)
	}
	if fl, ok := fc.cg.st.Frequencies[typeName]; ok {
		return fl.Field(field)
	}
	return FieldLayout{}, false
}

// lowerFieldAccess lowers a.b: state field, payload field, or nested
// access through a pointer the object expression yields (spec.md
// §4.4).
func (fc *funcCtx) lowerFieldAccess(n *FieldAccess) error {
	if ident, ok := n.Object.(*Ident); ok {
		if ident.Name == "state" {
			fl, ok := fc.tmpl.State.Field(n.Field)
			if !ok {
				return SemanticError{Message: "unknown state field: " + n.Field, Pos: n.Span().Start}
			}
			fc.emit(ins("mov", sizedReg(regAcc, fl.Size), memOp(regState, fl.Offset)))
			return nil
		}
		if ident.Name == fc.currentParamName && fc.currentParamName != "" {
			fl, ok := fc.cg.st.Frequencies[fc.currentFrequency].Field(n.Field)
			if !ok {
				return SemanticError{Message: "unknown payload field: " + n.Field, Pos: n.Span().Start}
			}
			fc.emit(ins("mov", sizedReg(regAcc, fl.Size), memOp(regPayload, fl.Offset)))
			return nil
		}
	}
	objType, ok := fc.inferType(n.Object)
	if !ok {
		return CodegenError{Message: "untyped local used for field access on ." + n.Field, Pos: n.Span().Start}
	}
	fl, ok := fc.fieldLayoutIn(objType.Name, n.Field)
	if !ok {
		return SemanticError{Message: "unknown field " + n.Field + " on type " + objType.Name, Pos: n.Span().Start}
	}
	if err := fc.lowerExpr(n.Object); err != nil {
		return err
	}
	fc.emit(ins("mov", sizedReg(regAcc, fl.Size), memOp(regAcc, fl.Offset)))
	return nil
}

func (fc *funcCtx) lowerRange(n *RangeExpr) error {
	// A range used as a standalone value is represented the same way
	// a 2-element tuple is (spec.md §4.4 discusses ranges only as the
	// index form a..b; as a bare value it is lowered like a tuple).
	return fc.lowerArrayLiteral([]Expr{n.Low, n.High})
}

func isStringBuiltinCall(e Expr) bool {
	switch n := e.(type) {
	case *CallExpr:
		if id, ok := n.Callee.(*Ident); ok {
			return stringBuiltins[id.Name]
		}
	case *MethodCallExpr:
		return stringBuiltins[n.Method]
	}
	return false
}

func (fc *funcCtx) isStringTyped(e Expr) bool {
	if _, ok := e.(*StringLiteral); ok {
		return true
	}
	if isStringBuiltinCall(e) {
		return true
	}
	t, ok := fc.inferType(e)
	return ok && t.Name == "string"
}

func (fc *funcCtx) isEnumTyped(e Expr) bool {
	switch e.(type) {
	case *EnumPath, *EnumConstructor:
		return true
	}
	t, ok := fc.inferType(e)
	if !ok {
		return false
	}
	_, isEnum := fc.cg.st.Enums[t.Name]
	return isEnum
}

// lowerBinary implements spec.md §4.4's arithmetic/bitwise/comparison
// lowering: left into R_ACC, push, right into R_T1, pop left, emit op.
func (fc *funcCtx) lowerBinary(n *BinaryExpr) error {
	switch n.Op {
	case OpAnd:
		return fc.lowerShortCircuit(n, true)
	case OpOr:
		return fc.lowerShortCircuit(n, false)
	}

	if isComparisonOp(n.Op) {
		return fc.lowerComparison(n)
	}

	if err := fc.lowerExpr(n.Left); err != nil {
		return err
	}
	fc.emit(ins("push", regAcc))
	if err := fc.lowerExpr(n.Right); err != nil {
		return err
	}
	fc.emit(ins("mov", regT1, regAcc))
	fc.emit(ins("pop", regAcc))

	switch n.Op {
	case OpAdd:
		fc.emit(ins("add", regAcc, regT1))
	case OpSub:
		fc.emit(ins("sub", regAcc, regT1))
	case OpMul:
		fc.emit(ins("imul", regAcc, regT1))
	case OpDiv, OpMod:
		fc.emit(ins("cqo"))
		fc.emit(ins("idiv", regT1))
		if n.Op == OpMod {
			fc.emit(ins("mov", regAcc, "rdx"))
		}
	case OpBAnd:
		fc.emit(ins("and", regAcc, regT1))
	case OpBOr:
		fc.emit(ins("or", regAcc, regT1))
	case OpXor:
		fc.emit(ins("xor", regAcc, regT1))
	case OpShl:
		fc.emit(ins("mov", "rcx", regT1))
		fc.emit(ins("shl", regAcc, "cl"))
	case OpShr:
		fc.emit(ins("mov", "rcx", regT1))
		fc.emit(ins("sar", regAcc, "cl"))
	default:
		return CodegenError{Message: "unsupported binary operator " + string(n.Op), Pos: n.Span().Start}
	}
	return nil
}

func isComparisonOp(op BinOp) bool {
	switch op {
	case OpEq, OpNe, OpLt, OpGt, OpLe, OpGe:
		return true
	}
	return false
}

// lowerComparison implements the polymorphic dispatch of spec.md
// §4.4: string operands call string_eq/string_cmp, enum operands
// compare dereferenced tags, otherwise a plain integer compare.
func (fc *funcCtx) lowerComparison(n *BinaryExpr) error {
	switch {
	case fc.isStringTyped(n.Left) || fc.isStringTyped(n.Right):
		return fc.lowerStringComparison(n)
	case fc.isEnumTyped(n.Left) || fc.isEnumTyped(n.Right):
		return fc.lowerEnumComparison(n)
	default:
		return fc.lowerIntComparison(n)
	}
}

func (fc *funcCtx) lowerStringComparison(n *BinaryExpr) error {
	target := builtinLabel("string_cmp")
	if n.Op == OpEq || n.Op == OpNe {
		target = builtinLabel("string_eq")
	}
	if err := fc.lowerCallTo(target, []Expr{n.Left, n.Right}); err != nil {
		return err
	}
	switch n.Op {
	case OpEq:
		// string_eq already returns 0/1; nothing further needed.
	case OpNe:
		fc.emit(ins("xor", regAcc, "1"))
	default:
		fc.emitCompareAccToZero(n.Op)
	}
	return nil
}

// lowerEnumComparison dereferences both operand pointers to their tag
// word and compares (spec.md §4.4, §9: tagged unions are always
// dereferenced, never compared as bare ordinals).
func (fc *funcCtx) lowerEnumComparison(n *BinaryExpr) error {
	if err := fc.lowerExpr(n.Left); err != nil {
		return err
	}
	fc.emit(ins("mov", regAcc, memOp(regAcc, 0)))
	fc.emit(ins("push", regAcc))
	if err := fc.lowerExpr(n.Right); err != nil {
		return err
	}
	fc.emit(ins("mov", regAcc, memOp(regAcc, 0)))
	fc.emit(ins("mov", regT1, regAcc))
	fc.emit(ins("pop", regAcc))
	fc.emit(ins("cmp", regAcc, regT1))
	return fc.setAccFromFlags(n.Op)
}

func (fc *funcCtx) lowerIntComparison(n *BinaryExpr) error {
	if err := fc.lowerExpr(n.Left); err != nil {
		return err
	}
	fc.emit(ins("push", regAcc))
	if err := fc.lowerExpr(n.Right); err != nil {
		return err
	}
	fc.emit(ins("mov", regT1, regAcc))
	fc.emit(ins("pop", regAcc))
	fc.emit(ins("cmp", regAcc, regT1))
	return fc.setAccFromFlags(n.Op)
}

// emitCompareAccToZero turns string_cmp's signed result in R_ACC into
// the 0/1 outcome of an ordering operator by comparing it against zero
// and handing the flags to setAccFromFlags.
func (fc *funcCtx) emitCompareAccToZero(op BinOp) {
	fc.emit(ins("cmp", regAcc, "0"))
	fc.setAccFromFlags(op)
}

// setAccFromFlags materializes 0/1 in R_ACC from the flags set by the
// preceding cmp, via the set-and-zero-extend idiom (spec.md §4.4).
func (fc *funcCtx) setAccFromFlags(op BinOp) error {
	var setcc string
	switch op {
	case OpEq:
		setcc = "sete"
	case OpNe:
		setcc = "setne"
	case OpLt:
		setcc = "setl"
	case OpGt:
		setcc = "setg"
	case OpLe:
		setcc = "setle"
	case OpGe:
		setcc = "setge"
	default:
		return CodegenError{Message: "unsupported comparison operator " + string(op)}
	}
	fc.emit(ins(setcc, "al"))
	fc.emit(ins("movzx", regAcc, "al"))
	return nil
}

// lowerShortCircuit lowers `&&`/`||` with fresh labels, materializing
// a boolean on both branches (spec.md §4.4).
func (fc *funcCtx) lowerShortCircuit(n *BinaryExpr, isAnd bool) error {
	shortLabel := newLabel("short")
	endLabel := newLabel("scend")
	if err := fc.lowerExpr(n.Left); err != nil {
		return err
	}
	fc.emit(ins("cmp", regAcc, "0"))
	if isAnd {
		fc.emit(ins("je", shortLabel.Name))
	} else {
		fc.emit(ins("jne", shortLabel.Name))
	}
	if err := fc.lowerExpr(n.Right); err != nil {
		return err
	}
	fc.emit(ins("jmp", endLabel.Name))
	fc.emit(shortLabel)
	short := "0"
	if !isAnd {
		short = "1"
	}
	fc.emit(ins("mov", regAcc, short))
	fc.emit(endLabel)
	return nil
}

func (fc *funcCtx) lowerUnary(n *UnaryExpr) error {
	if err := fc.lowerExpr(n.Operand); err != nil {
		return err
	}
	switch n.Op {
	case UnNeg:
		fc.emit(ins("neg", regAcc))
	case UnNot:
		fc.emit(ins("cmp", regAcc, "0"))
		fc.emit(ins("sete", "al"))
		fc.emit(ins("movzx", regAcc, "al"))
	case UnPos:
		// identity
	default:
		return CodegenError{Message: "unsupported unary operator " + string(n.Op), Pos: n.Span().Start}
	}
	return nil
}

// lowerCallTo implements the mandatory stack-alignment dance (spec.md
// §4.4, §9): save the pre-call SP, align rsp down to 16 bytes, then
// evaluate each argument left-to-right, staging it through a push and
// popping all of them into their argument registers in reverse right
// before the call. Staging through the stack (rather than moving
// straight into argRegs[i]) means an argument expression containing
// its own call can never clobber a register an earlier argument
// already claimed. The push/pop pairs net zero change to rsp, so the
// call site remains aligned.
func (fc *funcCtx) lowerCallTo(label string, args []Expr) error {
	if len(args) > len(argRegs) {
		return CodegenError{Message: "call has more arguments than the ABI's 6 register slots"}
	}
	fc.emit(insc("stack-align dance", "mov", regSaveSP, "rsp"))
	fc.emit(ins("and", "rsp", "-16"))
	for _, a := range args {
		if err := fc.lowerExpr(a); err != nil {
			return err
		}
		fc.emit(ins("push", regAcc))
	}
	for i := len(args) - 1; i >= 0; i-- {
		fc.emit(ins("pop", argRegs[i]))
	}
	fc.emit(ins("xor", "eax", "eax"))
	fc.emit(ins("call", label))
	fc.emit(ins("mov", "rsp", regSaveSP))
	return nil
}

// lowerCallWithRegArgs is lowerCallTo's counterpart for arguments that
// are already materialized in registers (any register other than rsp
// and R_SAVESP, which the dance itself overwrites before the pushes)
// rather than expressions to lower.
func (fc *funcCtx) lowerCallWithRegArgs(label string, regs []string) error {
	if len(regs) > len(argRegs) {
		return CodegenError{Message: "call has more arguments than the ABI's 6 register slots"}
	}
	fc.emit(insc("stack-align dance", "mov", regSaveSP, "rsp"))
	fc.emit(ins("and", "rsp", "-16"))
	for _, r := range regs {
		fc.emit(ins("push", r))
	}
	for i := len(regs) - 1; i >= 0; i-- {
		fc.emit(ins("pop", argRegs[i]))
	}
	fc.emit(ins("xor", "eax", "eax"))
	fc.emit(ins("call", label))
	fc.emit(ins("mov", "rsp", regSaveSP))
	return nil
}

func (fc *funcCtx) lowerCallExpr(n *CallExpr) error {
	callee, ok := n.Callee.(*Ident)
	if !ok {
		return CodegenError{Message: "call target must be a rule or builtin name", Pos: n.Span().Start}
	}
	if _, ok := fc.tmpl.Rules[callee.Name]; ok {
		return fc.lowerCallTo(ruleLabel(fc.hyphalType, callee.Name), n.Args)
	}
	return fc.lowerCallTo(builtinLabel(callee.Name), n.Args)
}

func (fc *funcCtx) lowerMethodCall(n *MethodCallExpr) error {
	args := append([]Expr{n.Object}, n.Args...)
	return fc.lowerCallTo(builtinLabel(n.Method), args)
}

func (fc *funcCtx) lowerCast(n *CastExpr) error {
	if err := fc.lowerExpr(n.Value); err != nil {
		return err
	}
	srcType, _ := fc.inferType(n.Value)
	switch {
	case n.Type.Name == "bool" || n.Type.Name == "boolean":
		fc.emit(ins("cmp", regAcc, "0"))
		fc.emit(ins("setne", "al"))
		fc.emit(ins("movzx", regAcc, "al"))
	case isPrimitiveTypeName(n.Type.Name) && fieldSize(n.Type) > fieldSize(srcType):
		// i32->i64 sign-extend, u32->u64 zero-extend (spec.md §4.4).
		if srcType.Name != "" && srcType.Name[0] == 'u' {
			fc.emit(ins("mov", sizedReg(regAcc, fieldSize(srcType)), sizedReg(regAcc, fieldSize(srcType))))
		} else {
			fc.emit(ins("movsx", regAcc, sizedReg(regAcc, fieldSize(srcType))))
		}
	default:
		// no-op at the representation level
	}
	return nil
}

// lowerStructLiteral allocates struct_size bytes and stores each
// field in declaration order (spec.md §4.4).
func (fc *funcCtx) lowerStructLiteral(n *StructLiteral) error {
	sl, ok := fc.cg.st.Structs[n.TypeName]
	if !ok {
		return SemanticError{Message: "unknown struct type: " + n.TypeName, Pos: n.Span().Start}
	}
	return fc.lowerAggregateInit(sl.Size, sl.Fields, n.Fields, n.Span().Start)
}

// lowerAggregateInit is shared by struct literals and emit payload
// construction (spec.md §4.4, §4.5): allocate, then store each named
// field at its layout offset and width.
func (fc *funcCtx) lowerAggregateInit(size int, layout []FieldLayout, inits []FieldInit, pos Position) error {
	if err := fc.lowerCallTo(builtinLabel("heap_alloc"), []Expr{&IntLiteral{Value: int64(size)}}); err != nil {
		return err
	}
	fc.emit(ins("push", regAcc)) // keep the base pointer live across field evaluation
	for _, init := range inits {
		fl, ok := layoutField(layout, init.Name)
		if !ok {
			return SemanticError{Message: "unknown field in initializer: " + init.Name, Pos: pos}
		}
		if err := fc.lowerExpr(init.Value); err != nil {
			return err
		}
		fc.emit(ins("mov", regT1, "[rsp]"))
		fc.emit(ins("mov", memOp(regT1, fl.Offset), sizedReg(regAcc, fl.Size)))
	}
	fc.emit(ins("pop", regAcc))
	return nil
}

func layoutField(layout []FieldLayout, name string) (FieldLayout, bool) {
	for _, f := range layout {
		if f.Name == name {
			return f, true
		}
	}
	return FieldLayout{}, false
}

// lowerArrayLiteral evaluates each element and appends it to a fresh
// vector (spec.md §4.4); also used for tuple construction, since a
// tuple is represented the same way a vector is.
func (fc *funcCtx) lowerArrayLiteral(elems []Expr) error {
	if err := fc.lowerCallTo(builtinLabel("vec_new"), nil); err != nil {
		return err
	}
	fc.emit(ins("mov", regLoop, regAcc))
	for _, el := range elems {
		if err := fc.lowerExpr(el); err != nil {
			return err
		}
		if err := fc.lowerCallWithRegArgs(builtinLabel("vec_push"), []string{regLoop, regAcc}); err != nil {
			return err
		}
	}
	fc.emit(ins("mov", regAcc, regLoop))
	return nil
}

func (fc *funcCtx) lowerIndex(n *IndexExpr) error {
	if rng, ok := n.Index.(*RangeExpr); ok {
		return fc.lowerCallTo(builtinLabel("vec_slice"), []Expr{n.Object, rng.Low, rng.High})
	}
	objType, _ := fc.inferType(n.Object)
	if objType.Name == "map" {
		return fc.lowerCallTo(builtinLabel("map_get"), []Expr{n.Object, n.Index})
	}
	return fc.lowerCallTo(builtinLabel("vec_get"), []Expr{n.Object, n.Index})
}

// lowerEnumPath and lowerEnumConstructor allocate the tagged-union
// cell and store the ordinal tag, plus the payload for the
// constructor form (spec.md §4.4, §9).
func (fc *funcCtx) lowerEnumPath(n *EnumPath) error {
	el, ok := fc.cg.st.Enums[n.Type]
	if !ok {
		return SemanticError{Message: "unknown enum type: " + n.Type, Pos: n.Span().Start}
	}
	v, ok := el.Variant(n.Variant)
	if !ok {
		return SemanticError{Message: "unknown enum variant: " + n.Type + "::" + n.Variant, Pos: n.Span().Start}
	}
	if err := fc.lowerCallTo(builtinLabel("heap_alloc"), []Expr{&IntLiteral{Value: enumCellSize}}); err != nil {
		return err
	}
	fc.emit(ins("mov", memOp(regAcc, 0), strconv.Itoa(v.Ordinal)))
	return nil
}

func (fc *funcCtx) lowerEnumConstructor(n *EnumConstructor) error {
	el, ok := fc.cg.st.Enums[n.Type]
	if !ok {
		return SemanticError{Message: "unknown enum type: " + n.Type, Pos: n.Span().Start}
	}
	v, ok := el.Variant(n.Variant)
	if !ok {
		return SemanticError{Message: "unknown enum variant: " + n.Type + "::" + n.Variant, Pos: n.Span().Start}
	}
	if err := fc.lowerCallTo(builtinLabel("heap_alloc"), []Expr{&IntLiteral{Value: enumCellSize}}); err != nil {
		return err
	}
	fc.emit(ins("push", regAcc))
	fc.emit(ins("mov", regT1, "[rsp]"))
	fc.emit(ins("mov", memOp(regT1, 0), strconv.Itoa(v.Ordinal)))
	if len(n.Args) > 0 {
		if err := fc.lowerExpr(n.Args[0]); err != nil {
			return err
		}
		fc.emit(ins("mov", regT1, "[rsp]"))
		fc.emit(ins("mov", memOp(regT1, 8), regAcc))
	}
	fc.emit(ins("pop", regAcc))
	return nil
}

func (fc *funcCtx) lowerIfExpr(n *IfExpr) error {
	elseLabel := newLabel("ifexpr_else")
	endLabel := newLabel("ifexpr_end")
	if err := fc.lowerExpr(n.Cond); err != nil {
		return err
	}
	fc.emit(ins("cmp", regAcc, "0"))
	fc.emit(ins("je", elseLabel.Name))
	if err := fc.lowerExpr(n.Then); err != nil {
		return err
	}
	fc.emit(ins("jmp", endLabel.Name))
	fc.emit(elseLabel)
	if n.Else != nil {
		if err := fc.lowerExpr(n.Else); err != nil {
			return err
		}
	} else {
		fc.emit(ins("xor", regAcc, regAcc))
	}
	fc.emit(endLabel)
	return nil
}

func (fc *funcCtx) lowerMatchExpr(n *MatchExpr) error {
	endLabel := newLabel("matchexpr_end")
	scrutineeSlot := fc.allocSlot(matchScrutineeName(), TypeRef{}, false)
	if err := fc.lowerExpr(n.Scrutinee); err != nil {
		return err
	}
	fc.emit(ins("mov", frameSlot(scrutineeSlot.offset), regAcc))

	for _, arm := range n.Arms {
		armLabel := newLabel("arm")
		nextLabel := newLabel("nextarm")
		for pi, pat := range arm.Patterns {
			isLast := pi == len(arm.Patterns)-1
			if err := fc.lowerPatternTest(pat, scrutineeSlot.offset, armLabel.Name, nextLabel.Name, isLast); err != nil {
				return err
			}
		}
		fc.emit(armLabel)
		if err := fc.lowerExpr(arm.Body); err != nil {
			return err
		}
		fc.emit(ins("jmp", endLabel.Name))
		fc.emit(nextLabel)
	}
	fc.emit(ins("xor", regAcc, regAcc))
	fc.emit(endLabel)
	return nil
}

var matchScrutineeCounter int

func matchScrutineeName() string {
	matchScrutineeCounter++
	return "$match" + strconv.Itoa(matchScrutineeCounter)
}

// lowerPatternTest tests the value held at frame offset against pat,
// jumping to matchLabel on success. On failure it falls through to
// the next alternative's test, or jumps to failLabel if pat is the
// arm's last alternative (spec.md §4.5's match lowering).
func (fc *funcCtx) lowerPatternTest(pat Pattern, offset int, matchLabel, failLabel string, isLast bool) error {
	switch p := pat.(type) {
	case *IdentPattern:
		// A bare identifier is a universal wildcard that also binds
		// the scrutinee (spec.md §4.5); it always matches.
		info := fc.allocSlot(p.Name, TypeRef{}, false)
		fc.emit(ins("mov", regAcc, frameSlot(offset)))
		fc.emit(ins("mov", frameSlot(info.offset), regAcc))
		fc.emit(ins("jmp", matchLabel))
		return nil
	case *LiteralPattern:
		return fc.lowerLiteralPatternTest(p, offset, matchLabel, failLabel, isLast)
	case *EnumPattern:
		return fc.lowerEnumPatternTest(p, offset, matchLabel, failLabel, isLast)
	case *TuplePattern:
		return fc.lowerTuplePatternTest(p, offset, matchLabel, failLabel, isLast)
	case *AltPattern:
		for i, alt := range p.Alternatives {
			last := isLast && i == len(p.Alternatives)-1
			if err := fc.lowerPatternTest(alt, offset, matchLabel, failLabel, last); err != nil {
				return err
			}
		}
		return nil
	default:
		return CodegenError{Message: "unsupported pattern kind", Pos: pat.Span().Start}
	}
}

func (fc *funcCtx) lowerLiteralPatternTest(p *LiteralPattern, offset int, matchLabel, failLabel string, isLast bool) error {
	if sl, ok := p.Value.(*StringLiteral); ok {
		label := fc.cg.program.internString(sl.Value)
		fc.emit(ins("mov", regT1, frameSlot(offset)))
		fc.emit(ins("lea", regT2, ripRel(label)))
		if err := fc.lowerCallWithRegArgs(builtinLabel("string_eq"), []string{regT1, regT2}); err != nil {
			return err
		}
		fc.emit(ins("cmp", regAcc, "0"))
		fc.emit(ins("jne", matchLabel))
	} else {
		imm, err := literalPatternImmediate(p.Value)
		if err != nil {
			return err
		}
		fc.emit(ins("mov", regAcc, frameSlot(offset)))
		fc.emit(ins("cmp", regAcc, imm))
		fc.emit(ins("je", matchLabel))
	}
	if isLast {
		fc.emit(ins("jmp", failLabel))
	}
	return nil
}

func literalPatternImmediate(e Expr) (string, error) {
	switch v := e.(type) {
	case *IntLiteral:
		return strconv.FormatInt(v.Value, 10), nil
	case *CharLiteral:
		return strconv.Itoa(int(v.Value)), nil
	case *BoolLiteral:
		if v.Value {
			return "1", nil
		}
		return "0", nil
	case *NullLiteral:
		return "0", nil
	default:
		return "", CodegenError{Message: "unsupported literal pattern kind", Pos: e.Span().Start}
	}
}

// lowerEnumPatternTest dereferences the scrutinee's tag word and
// compares it against the pattern's variant ordinal, extracting the
// payload into a fresh local when the pattern binds one (spec.md
// §4.5, §9).
func (fc *funcCtx) lowerEnumPatternTest(p *EnumPattern, offset int, matchLabel, failLabel string, isLast bool) error {
	el, ok := fc.cg.st.Enums[p.Type]
	if !ok {
		return SemanticError{Message: "unknown enum type in pattern: " + p.Type, Pos: p.Span().Start}
	}
	v, ok := el.Variant(p.Variant)
	if !ok {
		return SemanticError{Message: "unknown enum variant in pattern: " + p.Type + "::" + p.Variant, Pos: p.Span().Start}
	}
	noMatch := newLabel("patnomatch")
	fc.emit(ins("mov", regT1, frameSlot(offset)))
	fc.emit(ins("mov", regAcc, memOp(regT1, 0)))
	fc.emit(ins("cmp", regAcc, strconv.Itoa(v.Ordinal)))
	fc.emit(ins("jne", noMatch.Name))
	if len(p.Bindings) > 0 {
		info := fc.allocSlot(p.Bindings[0], v.Inner, v.HasInner)
		fc.emit(ins("mov", regAcc, memOp(regT1, 8)))
		fc.emit(ins("mov", frameSlot(info.offset), regAcc))
	}
	fc.emit(ins("jmp", matchLabel))
	fc.emit(noMatch)
	if isLast {
		fc.emit(ins("jmp", failLabel))
	}
	return nil
}

// lowerTuplePatternTest extracts each element via vec_get (a tuple is
// represented the same way a vector is, spec.md §4.4) into its own
// slot, then requires every sub-pattern to match in turn.
func (fc *funcCtx) lowerTuplePatternTest(p *TuplePattern, offset int, matchLabel, failLabel string, isLast bool) error {
	noMatch := newLabel("tuplenomatch")
	elemOffsets := make([]int, len(p.Elements))
	fc.emit(ins("mov", regLoop, frameSlot(offset)))
	for i := range p.Elements {
		fc.emit(ins("mov", regT1, strconv.Itoa(i)))
		if err := fc.lowerCallWithRegArgs(builtinLabel("vec_get"), []string{regLoop, regT1}); err != nil {
			return err
		}
		slot := fc.allocSlot(matchScrutineeName(), TypeRef{}, false)
		fc.emit(ins("mov", frameSlot(slot.offset), regAcc))
		elemOffsets[i] = slot.offset
	}
	for i, sub := range p.Elements {
		subMatch := newLabel("tupelem")
		if err := fc.lowerPatternTest(sub, elemOffsets[i], subMatch.Name, noMatch.Name, true); err != nil {
			return err
		}
		fc.emit(subMatch)
	}
	fc.emit(ins("jmp", matchLabel))
	fc.emit(noMatch)
	if isLast {
		fc.emit(ins("jmp", failLabel))
	}
	return nil
}

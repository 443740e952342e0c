package mycelial

// lowerBlock lowers a statement sequence in order (spec.md §4.5).
func (fc *funcCtx) lowerBlock(stmts []Stmt) error {
	for _, s := range stmts {
		if err := fc.lowerStmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (fc *funcCtx) lowerStmt(s Stmt) error {
	switch n := s.(type) {
	case *LetStmt:
		return fc.lowerLetStmt(n)
	case *AssignStmt:
		return fc.lowerAssignStmt(n)
	case *EmitStmt:
		return fc.lowerEmitStmt(n)
	case *IfStmt:
		return fc.lowerIfStmt(n)
	case *ForInStmt:
		return fc.lowerForInStmt(n)
	case *WhileStmt:
		return fc.lowerWhileStmt(n)
	case *MatchStmt:
		return fc.lowerMatchStmt(n)
	case *ReportStmt:
		return fc.lowerReportStmt(n)
	case *ReturnStmt:
		return fc.lowerReturnStmt(n)
	case *BreakStmt:
		return fc.lowerBreakStmt(n)
	case *ContinueStmt:
		return fc.lowerContinueStmt(n)
	case *ExprStmt:
		return fc.lowerExpr(n.X)
	default:
		return CodegenError{Message: "unsupported statement kind", Pos: s.Span().Start}
	}
}

func (fc *funcCtx) lowerLetStmt(n *LetStmt) error {
	if err := fc.lowerExpr(n.Value); err != nil {
		return err
	}
	typ := n.Type
	hasType := n.HasType
	if !hasType {
		if inferred, ok := fc.inferType(n.Value); ok {
			typ, hasType = inferred, true
		}
	}
	info := fc.allocSlot(n.Name, typ, hasType)
	fc.emit(ins("mov", frameSlot(info.offset), regAcc))
	return nil
}

// lowerAssignStmt evaluates the right-hand side, then stores it
// through the target's addressing mode (spec.md §4.5).
func (fc *funcCtx) lowerAssignStmt(n *AssignStmt) error {
	switch t := n.Target.(type) {
	case *VarTarget:
		if err := fc.lowerExpr(n.Value); err != nil {
			return err
		}
		if t.Name == "state" {
			return CodegenError{Message: "cannot assign directly to state; assign to a state field", Pos: n.Span().Start}
		}
		info, ok := fc.locals[t.Name]
		if !ok {
			return CodegenError{Message: "assignment to undeclared variable: " + t.Name, Pos: n.Span().Start}
		}
		fc.emit(ins("mov", frameSlot(info.offset), regAcc))
		return nil

	case *FieldTarget:
		return fc.lowerFieldAssign(t, n.Value)

	case *IndexTarget:
		return fc.lowerCallTo(builtinLabel("vec_set"), []Expr{t.Object, t.Index, n.Value})

	default:
		return CodegenError{Message: "unsupported assignment target", Pos: n.Span().Start}
	}
}

func (fc *funcCtx) lowerFieldAssign(t *FieldTarget, value Expr) error {
	if ident, ok := t.Object.(*Ident); ok && ident.Name == "state" {
		fl, ok := fc.tmpl.State.Field(t.Field)
		if !ok {
			return SemanticError{Message: "unknown state field: " + t.Field, Pos: t.Span().Start}
		}
		if err := fc.lowerExpr(value); err != nil {
			return err
		}
		fc.emit(ins("mov", memOp(regState, fl.Offset), sizedReg(regAcc, fl.Size)))
		return nil
	}
	objType, ok := fc.inferType(t.Object)
	if !ok {
		return CodegenError{Message: "untyped local used for field access on ." + t.Field, Pos: t.Span().Start}
	}
	fl, ok := fc.fieldLayoutIn(objType.Name, t.Field)
	if !ok {
		return SemanticError{Message: "unknown field " + t.Field + " on type " + objType.Name, Pos: t.Span().Start}
	}
	if err := fc.lowerExpr(t.Object); err != nil {
		return err
	}
	fc.emit(ins("push", regAcc))
	if err := fc.lowerExpr(value); err != nil {
		return err
	}
	fc.emit(ins("pop", regT1))
	fc.emit(ins("mov", memOp(regT1, fl.Offset), sizedReg(regAcc, fl.Size)))
	return nil
}

// lowerEmitStmt constructs the frequency's payload struct and enqueues
// it on the emitting instance's (source, frequency) staging buffer,
// never its live queue directly: the scheduler's ACT phase (C7) folds
// staged entries into the live queue via emitQueueMerge immediately
// ahead of that queue's own next drain pass, so an emit is never
// observed before the handler producing it returns (spec.md §4.3,
// §4.5, §4.9, §5).
func (fc *funcCtx) lowerEmitStmt(n *EmitStmt) error {
	fl, ok := fc.cg.st.Frequencies[n.Frequency]
	if !ok {
		return SemanticError{Message: "unknown frequency: " + n.Frequency, Pos: n.Span().Start}
	}
	if err := fc.lowerAggregateInit(fl.Size, fl.Fields, n.Fields, n.Span().Start); err != nil {
		return err
	}
	if fc.sourceInstanceID == "" {
		return CodegenError{Message: "emit used outside an instance context", Pos: n.Span().Start}
	}
	return fc.lowerCallWithRegArgs(queueStagePushLabel(fc.sourceInstanceID, n.Frequency), []string{regAcc})
}

func (fc *funcCtx) lowerIfStmt(n *IfStmt) error {
	elseLabel := newLabel("if_else")
	endLabel := newLabel("if_end")
	if err := fc.lowerExpr(n.Cond); err != nil {
		return err
	}
	fc.emit(ins("cmp", regAcc, "0"))
	fc.emit(ins("je", elseLabel.Name))
	if err := fc.lowerBlock(n.Then); err != nil {
		return err
	}
	fc.emit(ins("jmp", endLabel.Name))
	fc.emit(elseLabel)
	if n.Else != nil {
		if err := fc.lowerBlock(n.Else); err != nil {
			return err
		}
	}
	fc.emit(endLabel)
	return nil
}

// lowerForInStmt iterates a vec by index or a map by declaration-order
// entry (spec.md §4.5, §9: "map iteration follows insertion order").
func (fc *funcCtx) lowerForInStmt(n *ForInStmt) error {
	collType, _ := fc.inferType(n.Collection)
	isMap := collType.Name == "map"

	startLabel := newLabel("for_start")
	bodyLabel := newLabel("for_body")
	endLabel := newLabel("for_end")

	if err := fc.lowerExpr(n.Collection); err != nil {
		return err
	}
	collSlot := fc.allocSlot("$forcoll", TypeRef{}, false)
	fc.emit(ins("mov", frameSlot(collSlot.offset), regAcc))

	lenBuiltin := "vec_len"
	if isMap {
		lenBuiltin = "map_len"
	}
	if err := fc.lowerCallWithRegArgs(builtinLabel(lenBuiltin), []string{regAcc}); err != nil {
		return err
	}
	lenSlot := fc.allocSlot("$forlen", TypeRef{}, false)
	fc.emit(ins("mov", frameSlot(lenSlot.offset), regAcc))

	idxSlot := fc.allocSlot("$foridx", TypeRef{}, false)
	fc.emit(ins("mov", regAcc, "0"))
	fc.emit(ins("mov", frameSlot(idxSlot.offset), regAcc))

	fc.emit(startLabel)
	fc.emit(ins("mov", regAcc, frameSlot(idxSlot.offset)))
	fc.emit(ins("cmp", regAcc, frameSlot(lenSlot.offset)))
	fc.emit(ins("jge", endLabel.Name))

	if isMap {
		fc.emit(ins("mov", regT1, frameSlot(collSlot.offset)))
		if err := fc.lowerCallWithRegArgs(builtinLabel("map_key_at"), []string{regT1, frameSlotReg(fc, idxSlot.offset)}); err != nil {
			return err
		}
		keySlot := fc.allocSlot(n.KeyName, TypeRef{}, false)
		fc.emit(ins("mov", frameSlot(keySlot.offset), regAcc))

		fc.emit(ins("mov", regT1, frameSlot(collSlot.offset)))
		if err := fc.lowerCallWithRegArgs(builtinLabel("map_value_at"), []string{regT1, frameSlotReg(fc, idxSlot.offset)}); err != nil {
			return err
		}
		valSlot := fc.allocSlot(n.Item, n.ItemType, n.HasType)
		fc.emit(ins("mov", frameSlot(valSlot.offset), regAcc))
	} else {
		fc.emit(ins("mov", regT1, frameSlot(collSlot.offset)))
		if err := fc.lowerCallWithRegArgs(builtinLabel("vec_get"), []string{regT1, frameSlotReg(fc, idxSlot.offset)}); err != nil {
			return err
		}
		valSlot := fc.allocSlot(n.Item, n.ItemType, n.HasType)
		fc.emit(ins("mov", frameSlot(valSlot.offset), regAcc))
	}

	fc.emit(bodyLabel)
	contLabel := newLabel("for_cont")
	fc.pushLoop(endLabel.Name, contLabel.Name)
	if err := fc.lowerBlock(n.Body); err != nil {
		fc.popLoop()
		return err
	}
	fc.popLoop()
	fc.emit(contLabel)
	fc.emit(ins("mov", regAcc, frameSlot(idxSlot.offset)))
	fc.emit(ins("add", regAcc, "1"))
	fc.emit(ins("mov", frameSlot(idxSlot.offset), regAcc))
	fc.emit(ins("jmp", startLabel.Name))
	fc.emit(endLabel)
	return nil
}

// frameSlotReg materializes a frame slot's value into a scratch
// register so it can be threaded through lowerCallWithRegArgs, which
// expects already-materialized registers rather than memory operands.
func frameSlotReg(fc *funcCtx, offset int) string {
	fc.emit(ins("mov", regT2, frameSlot(offset)))
	return regT2
}

func (fc *funcCtx) lowerWhileStmt(n *WhileStmt) error {
	startLabel := newLabel("while_start")
	endLabel := newLabel("while_end")
	fc.emit(startLabel)
	if err := fc.lowerExpr(n.Cond); err != nil {
		return err
	}
	fc.emit(ins("cmp", regAcc, "0"))
	fc.emit(ins("je", endLabel.Name))
	fc.pushLoop(endLabel.Name, startLabel.Name)
	if err := fc.lowerBlock(n.Body); err != nil {
		fc.popLoop()
		return err
	}
	fc.popLoop()
	fc.emit(ins("jmp", startLabel.Name))
	fc.emit(endLabel)
	return nil
}

func (fc *funcCtx) lowerMatchStmt(n *MatchStmt) error {
	endLabel := newLabel("match_end")
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
		if err := fc.lowerBlock(arm.Body); err != nil {
			return err
		}
		fc.emit(ins("jmp", endLabel.Name))
		fc.emit(nextLabel)
	}
	fc.emit(endLabel)
	return nil
}

// lowerReportStmt prints a report immediately through the print
// builtins. `report name: expr` prints that one value (print_string or
// print_int) with no trailing newline; `report Tag { fields }` prints
// every field in source order, separated by single spaces, then a
// newline. Neither form is routed through the OUTPUT drain, and no
// `OUTPUT: ` prefix is written.
func (fc *funcCtx) lowerReportStmt(n *ReportStmt) error {
	if n.Value != nil {
		if err := fc.lowerExpr(n.Value); err != nil {
			return err
		}
		if fc.isStringTyped(n.Value) {
			return fc.lowerCallWithRegArgs(builtinLabel("print_string"), []string{regAcc})
		}
		return fc.lowerCallWithRegArgs(builtinLabel("print_int"), []string{regAcc})
	}
	for i, field := range n.Fields {
		if i > 0 {
			sep := fc.cg.program.fixedMessageLabel(" ")
			fc.emit(ins("lea", regT1, ripRel(sep)))
			if err := fc.lowerCallWithRegArgs(builtinLabel("print_string"), []string{regT1}); err != nil {
				return err
			}
		}
		if fc.isStringTyped(field.Value) {
			if err := fc.lowerCallTo(builtinLabel("print_string"), []Expr{field.Value}); err != nil {
				return err
			}
		} else if err := fc.lowerCallTo(builtinLabel("print_int"), []Expr{field.Value}); err != nil {
			return err
		}
	}
	nl := fc.cg.program.fixedMessageLabel("\n")
	fc.emit(ins("lea", regAcc, ripRel(nl)))
	return fc.lowerCallWithRegArgs(builtinLabel("print_string"), []string{regAcc})
}

func (fc *funcCtx) lowerReturnStmt(n *ReturnStmt) error {
	if n.Value != nil {
		if err := fc.lowerExpr(n.Value); err != nil {
			return err
		}
	} else {
		fc.emit(ins("xor", regAcc, regAcc))
	}
	fc.emit(ins("jmp", fc.returnLabel))
	return nil
}

func (fc *funcCtx) lowerBreakStmt(n *BreakStmt) error {
	loop, ok := fc.currentLoop()
	if !ok {
		return CodegenError{Message: "break outside a loop", Pos: n.Span().Start}
	}
	fc.emit(ins("jmp", loop.breakLabel))
	return nil
}

func (fc *funcCtx) lowerContinueStmt(n *ContinueStmt) error {
	loop, ok := fc.currentLoop()
	if !ok {
		return CodegenError{Message: "continue outside a loop", Pos: n.Span().Start}
	}
	fc.emit(ins("jmp", loop.continueLabel))
	return nil
}

package mycelial

// generateAgentBodies lowers every declared hyphal type's rest handler,
// signal handlers, cycle handlers, and rules into framed code bodies
// (spec.md §4.6). Handler/rule bodies are generated once per hyphal
// *type*, shared by every instance of it (spec.md's representative-
// instance convention, routing.go).
func (cg *Codegen) generateAgentBodies() error {
	seenSignal := map[string]bool{} // hyphalType|frequency, since OnSignal may list >1 guarded handler per frequency
	for _, h := range cg.st.Network.Hyphae {
		hyphalType := h.Name
		tmpl := cg.st.Agents[hyphalType]
		instanceID, _ := cg.st.representativeInstance(hyphalType)

		for _, handler := range h.Handlers {
			switch handler.Kind {
			case HandlerRest:
				if err := cg.generateRestHandler(hyphalType, tmpl, instanceID); err != nil {
					return err
				}
			case HandlerSignal:
				key := hyphalType + "|" + handler.Frequency
				if seenSignal[key] {
					continue // later guarded alternatives share the single handler label; see generateSignalHandler
				}
				seenSignal[key] = true
				if err := cg.generateSignalHandler(hyphalType, tmpl, handler.Frequency, instanceID); err != nil {
					return err
				}
			case HandlerCycle:
				if err := cg.generateCycleHandler(hyphalType, tmpl, handler, instanceID); err != nil {
					return err
				}
			}
		}
		for _, r := range h.Rules {
			if err := cg.generateRule(hyphalType, tmpl, r, instanceID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (cg *Codegen) generateRestHandler(hyphalType string, tmpl *AgentTemplate, instanceID string) error {
	fc := newFuncCtx(cg, hyphalType, tmpl)
	fc.sourceInstanceID = instanceID
	fc.returnLabel = restLabel(hyphalType) + "_return"
	if err := fc.lowerBlock(tmpl.RestHandler.Body); err != nil {
		return err
	}
	cg.frameHandler(restLabel(hyphalType), fc, false)
	return nil
}

// generateSignalHandler frames the single call target a (hyphalType,
// frequency) pair dispatches to. When more than one `signal(F, p) when
// guard` handler is declared for the same frequency, their bodies are
// chained in declaration order, each guarded by its own condition; an
// unguarded handler among them always runs (spec.md §3, §4.6).
func (cg *Codegen) generateSignalHandler(hyphalType string, tmpl *AgentTemplate, frequency string, instanceID string) error {
	handlers := tmpl.OnSignal[frequency]
	fc := newFuncCtx(cg, hyphalType, tmpl)
	fc.sourceInstanceID = instanceID
	fc.currentFrequency = frequency
	fc.currentParamName = handlers[0].Param
	fc.returnLabel = handlerLabel(hyphalType, frequency) + "_return"

	for _, h := range handlers {
		if h.Guard != nil {
			skip := newLabel("guard_skip")
			if err := fc.lowerExpr(h.Guard); err != nil {
				return err
			}
			fc.emit(ins("cmp", regAcc, "0"))
			fc.emit(ins("je", skip.Name))
			if err := fc.lowerBlock(h.Body); err != nil {
				return err
			}
			fc.emit(skip)
		} else if err := fc.lowerBlock(h.Body); err != nil {
			return err
		}
	}
	cg.frameHandler(handlerLabel(hyphalType, frequency), fc, true)
	return nil
}

func (cg *Codegen) generateCycleHandler(hyphalType string, tmpl *AgentTemplate, h *Handler, instanceID string) error {
	fc := newFuncCtx(cg, hyphalType, tmpl)
	fc.sourceInstanceID = instanceID
	fc.returnLabel = cycleLabel(hyphalType, h.CycleNum) + "_return"
	if err := fc.lowerBlock(h.Body); err != nil {
		return err
	}
	cg.frameHandler(cycleLabel(hyphalType, h.CycleNum), fc, false)
	return nil
}

// frameHandler wraps a lowered handler body with the prologue/epilogue
// spec.md §4.6 describes: push rbp, save callee-saved registers, load
// R_STATE (and R_PAYLOAD for signal handlers) from the argument
// registers, reserve frame space if any locals were allocated, then
// the mirror-image teardown at the return label.
func (cg *Codegen) frameHandler(label string, fc *funcCtx, hasPayload bool) {
	var body []Line
	body = append(body, Label{Name: label})
	body = append(body, ins("push", "rbp"))
	body = append(body, ins("mov", "rbp", "rsp"))
	for _, r := range calleeSaved {
		body = append(body, ins("push", r))
	}
	body = append(body, ins("mov", regState, argRegs[0]))
	if hasPayload {
		body = append(body, ins("mov", regPayload, argRegs[1]))
	}
	if fc.frameSize > 0 {
		body = append(body, ins("sub", "rsp", itoa(fc.frameSize)))
	}
	body = append(body, fc.out...)
	body = append(body, Label{Name: fc.returnLabel})
	if fc.frameSize > 0 {
		body = append(body, ins("add", "rsp", itoa(fc.frameSize)))
	}
	for i := len(calleeSaved) - 1; i >= 0; i-- {
		body = append(body, ins("pop", calleeSaved[i]))
	}
	body = append(body, ins("pop", "rbp"))
	body = append(body, ins("ret"))
	cg.program.emitCode(body...)
}

// generateRule frames a rule body the same way a handler is framed,
// except its parameters occupy the argument registers from A0 on
// (later ones are read from the caller's stack above the return
// address), R_STATE is the agent context the caller already holds
// live, and the return value is left in R_ACC before the epilogue
// (spec.md §4.6).
func (cg *Codegen) generateRule(hyphalType string, tmpl *AgentTemplate, r *Rule, instanceID string) error {
	fc := newFuncCtx(cg, hyphalType, tmpl)
	fc.sourceInstanceID = instanceID
	fc.rule = r
	fc.returnLabel = ruleLabel(hyphalType, r.Name) + "_return"

	for i, p := range r.Params {
		info := fc.allocSlot(p.Name, p.Type, true)
		if i < len(argRegs) {
			// Rule parameters start at A0, matching lowerCallExpr;
			// R_STATE is not passed as an argument.
			fc.emit(ins("mov", frameSlot(info.offset), argRegs[i]))
		} else {
			fc.emit(ins("mov", regAcc, memOp("rbp", 16+8*(i-len(argRegs)))))
			fc.emit(ins("mov", frameSlot(info.offset), regAcc))
		}
	}
	if err := fc.lowerBlock(r.Body); err != nil {
		return err
	}
	cg.frameRule(ruleLabel(hyphalType, r.Name), fc)
	return nil
}

// frameRule is frameHandler's rule counterpart: R_STATE is still live
// in its callee-saved register from the calling handler, so the
// prologue only saves/restores it rather than reloading it.
func (cg *Codegen) frameRule(label string, fc *funcCtx) {
	var body []Line
	body = append(body, Label{Name: label})
	body = append(body, ins("push", "rbp"))
	body = append(body, ins("mov", "rbp", "rsp"))
	for _, r := range calleeSaved {
		body = append(body, ins("push", r))
	}
	if fc.frameSize > 0 {
		body = append(body, ins("sub", "rsp", itoa(fc.frameSize)))
	}
	body = append(body, fc.out...)
	body = append(body, Label{Name: fc.returnLabel})
	if fc.frameSize > 0 {
		body = append(body, ins("add", "rsp", itoa(fc.frameSize)))
	}
	for i := len(calleeSaved) - 1; i >= 0; i-- {
		body = append(body, ins("pop", calleeSaved[i]))
	}
	body = append(body, ins("pop", "rbp"))
	body = append(body, ins("ret"))
	cg.program.emitCode(body...)
}

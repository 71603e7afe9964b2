package engine

import "fmt"

// callArgSlot is one argument as written at a call site: a label (if any)
// and the node producing its value. The call site keeps these slots across
// rebinds and permutes them in place rather than rebuilding a fresh slice
// each time the bound lambda changes (§4.G, supplemented from
// callsite.rs's swap-based `CallSite::bind`).
type callArgSlot struct {
	label   string
	labeled bool
	node    Node
}

// permuteLabeledInPlace reorders the labeled prefix of slots so that slot i
// ends up holding whatever call-site argument was written for the label at
// declared position i of the callee. For each slot it repeatedly swaps the
// slot's current occupant directly into that occupant's target index until
// the slot holds the argument that belongs there: an in-place permutation,
// not a freshly allocated result slice (grounded on callsite.rs's
// `CallSite::bind`, which permutes by swapping rather than sorting).
func permuteLabeledInPlace(slots []callArgSlot, mapping map[string][2]int) {
	target := make([]int, len(slots))
	for i := range target {
		target[i] = -2 // -2: unmapped, -1: label the callee does not declare; both stay where they are
	}
	for _, pos := range mapping {
		selfIdx, calleeIdx := pos[0], pos[1]
		if selfIdx < 0 || selfIdx >= len(slots) {
			continue
		}
		if calleeIdx < 0 {
			target[selfIdx] = -1
		} else {
			target[selfIdx] = calleeIdx
		}
	}
	for i := 0; i < len(slots); i++ {
		for target[i] >= 0 && target[i] != i {
			j := target[i]
			if j >= len(slots) {
				break
			}
			slots[i], slots[j] = slots[j], slots[i]
			target[i], target[j] = target[j], target[i]
		}
	}
}

// bindCallSite implements §4.G's `CallSite::bind`: permute the call site's
// labeled arguments in place to match ld's declared label order, compile
// any missing optional labels' defaults under ld's captured environment,
// reject unknown/duplicate/missing-required labels, route excess
// positionals into a vararg slot or reject them, and finally invoke the
// lambda's deferred Init to produce a live Apply.
func bindCallSite(ld *LambdaDef, slots []callArgSlot, ori Origin) (*Apply, error) {
	ft := ld.FnType()

	declaredByLabel := map[string]int{}
	for i, a := range ft.Args {
		if a.Labeled {
			declaredByLabel[a.Label] = i
		}
	}

	selfArgs := make([]FnArgType, len(slots))
	for i, s := range slots {
		selfArgs[i] = FnArgType{Label: s.label, Labeled: s.labeled}
	}
	selfFT := &FnType{Args: selfArgs}
	mapping := selfFT.MapArgPos(ft)

	seen := map[string]bool{}
	for _, s := range slots {
		if !s.labeled {
			continue
		}
		if seen[s.label] {
			return nil, fmt.Errorf("duplicate label %q at %s", s.label, ori)
		}
		seen[s.label] = true
	}
	for _, s := range slots {
		if s.labeled {
			if _, ok := declaredByLabel[s.label]; !ok {
				return nil, fmt.Errorf("unknown label %q at %s", s.label, ori)
			}
		}
	}

	permuteLabeledInPlace(slots, mapping)

	final := make([]Node, len(ft.Args))
	filled := make([]bool, len(ft.Args))
	var positional []Node

	for i, s := range slots {
		if !s.labeled {
			positional = append(positional, s.node)
			continue
		}
		declIdx, ok := declaredByLabel[s.label]
		if !ok {
			continue // already rejected above; defensive
		}
		if declIdx < len(final) {
			final[declIdx] = s.node
			filled[declIdx] = true
		}
		_ = i
	}

	pi := 0
	for i, a := range ft.Args {
		if a.Labeled {
			if !filled[i] {
				if !a.Optional {
					return nil, fmt.Errorf("missing required label %q at %s", a.Label, ori)
				}
				def, err := CompileDefault(ld, ld.Args[i])
				if err != nil {
					return nil, err
				}
				final[i] = def
			}
			continue
		}
		if pi < len(positional) {
			final[i] = positional[pi]
			pi++
			filled[i] = true
		} else {
			return nil, fmt.Errorf("missing positional argument %d at %s", i, ori)
		}
	}

	var vargs []Node
	if pi < len(positional) {
		if ld.Vargs == nil {
			return nil, fmt.Errorf("too many positional arguments at %s", ori)
		}
		vargs = append(vargs, positional[pi:]...)
	}

	return ld.Init(append(final, vargs...))
}

// CallSite is the late-bound call node of §4.G: the function-valued
// expression is re-evaluated every cycle, and when it names a different
// LambdaId than the one currently bound, the call site rebinds via
// bindCallSite and drives the resulting Apply with a synthetic init event
// so the callee's freshly bound parameters look freshly delivered.
type CallSite struct {
	fnExpr *Cached
	slots  []callArgSlot
	bound  LambdaId
	hasBound bool
	apply  *Apply
	owner  ExprId
	typ    Type
	ori    Origin
}

func NewCallSite(fnExpr Node, slots []callArgSlot, owner ExprId, t Type, ori Origin) *CallSite {
	return &CallSite{fnExpr: NewCached(fnExpr), slots: slots, owner: owner, typ: t, ori: ori}
}

func (n *CallSite) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	fnUpdated := n.fnExpr.Update(ctx, ev)
	if fnUpdated {
		v, _ := n.fnExpr.Value()
		id, ok := v.AsFnRef()
		if !ok {
			return NewError(NewString(fmt.Sprintf("not a function value at %s", n.ori))), true
		}
		if !n.hasBound || id != n.bound {
			ld, ok := ctx.Env.UpgradeLambda(id)
			if !ok {
				// "A FnRef value referring to a no-longer-live LambdaId" is
				// fatal per §7; surfaced in-band rather than panicking.
				return NewError(NewString(fmt.Sprintf("function %d is no longer callable", id))), true
			}
			apply, err := bindCallSite(ld, n.slots, n.ori)
			if err != nil {
				return NewError(NewString(err.Error())), true
			}
			n.apply = apply
			n.bound, n.hasBound = id, true
			initEv := &Event{Init: true, Variables: ev.Variables}
			return n.apply.Update(ctx, initEv)
		}
	}
	if n.hasBound {
		return n.apply.Update(ctx, ev)
	}
	return Value{}, false
}

func (n *CallSite) Typecheck(ctx *ExecCtx) error {
	if err := n.fnExpr.Typecheck(ctx); err != nil {
		return err
	}
	for _, s := range n.slots {
		if err := s.node.Typecheck(ctx); err != nil {
			return err
		}
	}
	if n.apply != nil {
		return n.apply.Typecheck(ctx)
	}
	return nil
}

func (n *CallSite) Refs(out *Refs) {
	n.fnExpr.Refs(out)
	for _, s := range n.slots {
		s.node.Refs(out)
	}
	if n.apply != nil {
		n.apply.Refs(out)
	}
}

func (n *CallSite) Delete(ctx *ExecCtx) {
	n.fnExpr.Delete(ctx)
	if n.apply != nil {
		n.apply.Delete(ctx)
		return
	}
	for _, s := range n.slots {
		s.node.Delete(ctx)
	}
}

func (n *CallSite) Sleep(ctx *ExecCtx) {
	n.fnExpr.Sleep(ctx)
	if n.apply != nil {
		n.apply.Sleep(ctx)
	}
}

func (n *CallSite) Typ() Type      { return n.typ }
func (n *CallSite) Origin() Origin { return n.ori }

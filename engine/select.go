package engine

import "fmt"

// SelectArm is one arm of a select/match expression: a structural+type
// predicate pattern, an optional guard, and a body, both compiled against
// the BindIds this arm was assigned at compile time for its pattern's bound
// names (§4.D "a full pattern in select combines a type predicate +
// structure pattern + optional guard expression").
type SelectArm struct {
	Pat       Pattern
	BoundIDs  map[string]BindId
	HasGuard  bool
	Guard     Node
	Body      Node
	Typ       Type
	Ori       Origin
}

// Select implements the pattern-dispatch state machine of §4.H: at most one
// arm is selected per cycle, the previously selected arm is slept before a
// newly selected one activates, guards are re-evaluated on every scrutinee
// update with no state surviving past that evaluation, and a newly active
// arm's external references are primed from ctx.cached into the event for
// exactly its activation cycle.
type Select struct {
	scrutinee *Cached
	arms      []SelectArm
	active    int // -1 when no arm is currently selected
	primed    []BindId
	owner     ExprId
	typ       Type
	ori       Origin
}

func NewSelect(scrutinee Node, arms []SelectArm, owner ExprId, t Type, ori Origin) *Select {
	return &Select{scrutinee: NewCached(scrutinee), arms: arms, active: -1, owner: owner, typ: t, ori: ori}
}

// tryArm attempts to match v against arm, writing its pattern-bound names
// into ev (forcing ev.Init for the duration, per §4.H) and running its guard
// if present. On rejection, every name it wrote is removed again ("bind
// pattern, compute bool, unbind, no leftover state").
func tryArm(ctx *ExecCtx, ev *Event, arm *SelectArm, v Value) bool {
	bound := map[string]Value{}
	if !arm.Pat.Bind(v, func(name string, val Value) { bound[name] = val }) {
		return false
	}
	wasInit := ev.Init
	ev.Init = true
	for name, val := range bound {
		if id, ok := arm.BoundIDs[name]; ok {
			ev.Set(id, val)
		}
	}
	pass := true
	if arm.HasGuard {
		gv, ok := arm.Guard.Update(ctx, ev)
		bv, bok := gv.AsBool()
		pass = ok && bok && bv
	}
	ev.Init = wasInit
	if !pass {
		for _, id := range arm.BoundIDs {
			delete(ev.Variables, id)
		}
	}
	return pass
}

func (n *Select) primeExternalRefs(ctx *ExecCtx, ev *Event, arm *SelectArm) {
	refs := NewRefs()
	arm.Body.Refs(refs)
	if arm.HasGuard {
		arm.Guard.Refs(refs)
	}
	n.primed = n.primed[:0]
	for id := range refs.Refed {
		if refs.Bound[id] {
			continue // this arm's own pattern binding, not an external ref
		}
		if v, ok := ctx.Cached[id]; ok {
			if _, already := ev.Variables[id]; !already {
				ev.Set(id, v)
				n.primed = append(n.primed, id)
			}
		}
	}
}

func (n *Select) unprimeExternalRefs(ev *Event) {
	for _, id := range n.primed {
		delete(ev.Variables, id)
	}
	n.primed = n.primed[:0]
}

func (n *Select) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	scrUpdated := n.scrutinee.Update(ctx, ev)
	justActivated := false
	if scrUpdated || n.active < 0 {
		if v, ok := n.scrutinee.Value(); ok {
			newIdx := -1
			for i := range n.arms {
				if tryArm(ctx, ev, &n.arms[i], v) {
					newIdx = i
					break
				}
			}
			if newIdx != n.active {
				if n.active >= 0 {
					n.unprimeExternalRefs(ev)
					n.arms[n.active].Body.Sleep(ctx)
					if n.arms[n.active].HasGuard {
						n.arms[n.active].Guard.Sleep(ctx)
					}
				}
				n.active = newIdx
				if newIdx >= 0 {
					justActivated = true
					wasInit := ev.Init
					ev.Init = true
					n.primeExternalRefs(ctx, ev, &n.arms[newIdx])
					ev.Init = wasInit
				}
			}
		}
	}
	if n.active < 0 {
		return Value{}, false
	}
	if justActivated {
		// The newly active arm's own body must look freshly delivered on its
		// activation cycle, the same as its primed external refs, so a
		// Constant or other init-gated node inside it fires immediately
		// instead of waiting for the next true init cycle.
		wasInit := ev.Init
		ev.Init = true
		v, ok := n.arms[n.active].Body.Update(ctx, ev)
		ev.Init = wasInit
		return v, ok
	}
	return n.arms[n.active].Body.Update(ctx, ev)
}

// Typecheck enforces §4.H's exhaustiveness rule: only the guardless,
// irrefutable arms are guaranteed to fire, so the residual left after
// subtracting their predicates from the scrutinee type must go to bottom.
// A guarded or refutable arm can always decline at runtime, so its
// predicate narrows nothing. Dead arms (whose predicate cannot intersect
// the scrutinee at all) are compile errors, and the select's own type is
// the union of every arm body's type.
func (n *Select) Typecheck(ctx *ExecCtx) error {
	if err := n.scrutinee.Typecheck(ctx); err != nil {
		return err
	}
	scrType := n.scrutinee.Typ()
	residual := scrType
	bodyUnion := BottomType()
	for i := range n.arms {
		arm := &n.arms[i]
		if arm.HasGuard {
			if err := arm.Guard.Typecheck(ctx); err != nil {
				return err
			}
		}
		if err := arm.Body.Typecheck(ctx); err != nil {
			return err
		}
		predType := arm.Pat.StaticType()
		could, err := predType.CouldMatch(ctx.Env, scrType)
		if err != nil {
			return err
		}
		if !could {
			return newCompileError(arm.Ori, fmt.Sprintf("select arm %d can never match", i), nil)
		}
		if !arm.HasGuard && !arm.Pat.IsRefutable() {
			nr, err := residual.Diff(ctx.Env, predType)
			if err != nil {
				return err
			}
			residual = nr
		}
		bu, err := bodyUnion.Union(ctx.Env, arm.Typ)
		if err != nil {
			return err
		}
		bodyUnion = bu
	}
	if residual.Cat != CatBottom {
		return newCompileError(n.ori, fmt.Sprintf("select is not exhaustive: %s is uncovered", residual), nil)
	}
	n.typ = bodyUnion
	return nil
}

func (n *Select) Refs(out *Refs) {
	n.scrutinee.Refs(out)
	if n.active >= 0 {
		arm := &n.arms[n.active]
		if arm.HasGuard {
			arm.Guard.Refs(out)
		}
		arm.Body.Refs(out)
	}
}

func (n *Select) Delete(ctx *ExecCtx) {
	n.scrutinee.Delete(ctx)
	for i := range n.arms {
		if n.arms[i].HasGuard {
			n.arms[i].Guard.Delete(ctx)
		}
		n.arms[i].Body.Delete(ctx)
	}
}

func (n *Select) Sleep(ctx *ExecCtx) {
	n.scrutinee.Sleep(ctx)
	if n.active >= 0 {
		n.arms[n.active].Body.Sleep(ctx)
	}
	n.active = -1
}

func (n *Select) Typ() Type      { return n.typ }
func (n *Select) Origin() Origin { return n.ori }

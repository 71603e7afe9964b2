package engine

import "fmt"

// ByRef reifies a binding as a first-class value. id is a fresh BindId
// allocated at compile time; ByRef emits it as a U64 value once, on the
// first init cycle (Constant's single-fire discipline), and thereafter
// writes every value its child produces into that BindId (§4.E
// "ByRef(expr)").
type ByRef struct {
	child *Cached
	id    BindId
	owner ExprId
	typ   Type
	ori   Origin
	fired bool
}

func NewByRef(child Node, id BindId, owner ExprId, elemType Type, ori Origin) *ByRef {
	return &ByRef{child: NewCached(child), id: id, owner: owner, typ: ByRefType(elemType), ori: ori}
}

func (n *ByRef) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	if n.child.Update(ctx, ev) {
		v, _ := n.child.Value()
		ctx.Cached[n.id] = v
		ctx.Rt.SetVar(n.id, v)
	}
	if ev.Init && !n.fired {
		n.fired = true
		return NewU64(uint64(n.id)), true
	}
	return Value{}, false
}

func (n *ByRef) Typecheck(ctx *ExecCtx) error { return n.child.Typecheck(ctx) }
func (n *ByRef) Refs(out *Refs) {
	n.child.Refs(out)
	out.addBound(n.id)
}
func (n *ByRef) Delete(ctx *ExecCtx) {
	n.child.Delete(ctx)
	ctx.UnrefVar(n.id, n.owner)
}
func (n *ByRef) Sleep(ctx *ExecCtx) {
	n.fired = false
	n.child.Sleep(ctx)
}
func (n *ByRef) Typ() Type      { return n.typ }
func (n *ByRef) Origin() Origin { return n.ori }

// Deref treats its child's successive values as BindId-typed integers. When
// the id changes it refs the new id and unrefs the old one, subscribing to
// a new source, and forwards the current value of whichever id is live: the
// cached value immediately on a fresh id (bounds first-deref latency to one
// cycle, §8), any same-cycle event update thereafter (§4.E "Deref(expr)").
type Deref struct {
	child       *Cached
	curID       BindId
	hasID       bool
	owner       ExprId
	typ         Type
	ori         Origin
	fatal       error
}

func NewDeref(child Node, owner ExprId, targetType Type, ori Origin) *Deref {
	return &Deref{child: NewCached(child), owner: owner, typ: targetType, ori: ori}
}

func (n *Deref) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	if n.fatal != nil {
		return NewError(NewString(n.fatal.Error())), false
	}
	if n.child.Update(ctx, ev) {
		v, _ := n.child.Value()
		raw, ok := v.AsI64()
		if !ok {
			// "A Deref of a value that is not a BindId-typed integer" is a
			// fatal condition per spec.md §7; recorded rather than panicking
			// so the driver can tear the graph down deliberately.
			n.fatal = fmt.Errorf("deref of non-BindId value at %s", n.ori)
			return NewError(NewString(n.fatal.Error())), true
		}
		newID := BindId(uint64(raw))
		if !n.hasID || newID != n.curID {
			if n.hasID {
				ctx.UnrefVar(n.curID, n.owner)
			}
			ctx.RefVar(newID, n.owner)
			n.curID = newID
			n.hasID = true
			if cv, ok := ctx.Cached[newID]; ok {
				return cv, true
			}
		}
	}
	if n.hasID {
		if v, ok := ev.Get(n.curID); ok {
			return v, true
		}
	}
	return Value{}, false
}

func (n *Deref) Typecheck(ctx *ExecCtx) error { return n.child.Typecheck(ctx) }
func (n *Deref) Refs(out *Refs) {
	n.child.Refs(out)
	if n.hasID {
		out.addRefed(n.curID)
	}
}
func (n *Deref) Delete(ctx *ExecCtx) {
	n.child.Delete(ctx)
	if n.hasID {
		ctx.UnrefVar(n.curID, n.owner)
	}
}
func (n *Deref) Sleep(ctx *ExecCtx) { n.child.Sleep(ctx) }
func (n *Deref) Typ() Type          { return n.typ }
func (n *Deref) Origin() Origin     { return n.ori }

// Connect writes its child's successive values directly into an existing
// BindId rather than introducing a fresh one. With Deref set, the write
// target is resolved by following env.ByRef's alias chain to its end first
// (§4.C byref_chain, §4.E "Connect with deref=true writes through a ByRef
// alias chain").
type Connect struct {
	target BindId
	deref  bool
	child  *Cached
	owner  ExprId
	typ    Type
	ori    Origin
}

func NewConnect(target BindId, deref bool, child Node, owner ExprId, t Type, ori Origin) *Connect {
	return &Connect{target: target, deref: deref, child: NewCached(child), owner: owner, typ: t, ori: ori}
}

func resolveByRefChain(env *Env, id BindId) BindId {
	seen := map[BindId]bool{id: true}
	for {
		next, ok := env.ByRef[id]
		if !ok || seen[next] {
			return id
		}
		id = next
		seen[id] = true
	}
}

func (n *Connect) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	if !n.child.Update(ctx, ev) {
		return Value{}, false
	}
	v, _ := n.child.Value()
	id := n.target
	if n.deref {
		id = resolveByRefChain(ctx.Env, id)
	}
	ctx.Cached[id] = v
	ev.Set(id, v)
	ctx.Rt.NotifySet(id)
	return v, true
}

func (n *Connect) Typecheck(ctx *ExecCtx) error { return n.child.Typecheck(ctx) }
func (n *Connect) Refs(out *Refs) {
	n.child.Refs(out)
	out.addRefed(n.target)
}
func (n *Connect) Delete(ctx *ExecCtx) {
	n.child.Delete(ctx)
	ctx.UnrefVar(n.target, n.owner)
}
func (n *Connect) Sleep(ctx *ExecCtx) { n.child.Sleep(ctx) }
func (n *Connect) Typ() Type          { return n.typ }
func (n *Connect) Origin() Origin     { return n.ori }

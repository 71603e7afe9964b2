package engine

import "fmt"

// Tag names for the wire-level error variants of §6.
const (
	ArithErrorTag       = "ArithError"
	ArrayIndexErrorTag  = "ArrayIndexError"
	DynamicLoadErrorTag = "DynamicLoadError"
)

// NewTaggedError builds one of the wire-level tagged error variants
// (`ArithError(string)`, `ArrayIndexError(string)`, `DynamicLoadError(string)`).
func NewTaggedError(tag, msg string) Value {
	return NewVariant(tag, []Value{NewString(msg)})
}

// isWrappedErrorShape reports whether v is already a {error,cause,ori,pos}
// map, i.e. the payload of a previously-thrown error being rethrown.
func isWrappedErrorShape(v Value) bool {
	entries, ok := v.AsMap()
	if !ok {
		return false
	}
	has := map[string]bool{}
	for _, e := range entries {
		if k, ok := e.Key.AsString(); ok {
			has[k] = true
		}
	}
	return has["error"] && has["cause"] && has["ori"] && has["pos"]
}

// WrapError builds the §6 wire shape `{error, cause, ori, pos}` around
// payload. If payload is itself already wrapped-shaped (a rethrow through a
// nested try), it becomes the cause so the chain nests; otherwise cause is
// Null. This is the Go counterpart of error.rs's wrap_error testing its
// input against the ErrChain type tag (see ErrChainRef) before deciding
// whether to chain.
func WrapError(payload Value, ori Origin) Value {
	cause := NewNull()
	if isWrappedErrorShape(payload) {
		cause = payload
	}
	pos := NewMap([]MapEntry{
		{Key: NewString("line"), Val: NewI64(int64(ori.Line))},
		{Key: NewString("column"), Val: NewI64(int64(ori.Col))},
	})
	return NewMap([]MapEntry{
		{Key: NewString("error"), Val: payload},
		{Key: NewString("cause"), Val: cause},
		{Key: NewString("ori"), Val: NewString(ori.String())},
		{Key: NewString("pos"), Val: pos},
	})
}

// ThrowToCatch wraps payload and writes it to the catch BindId, in both
// ctx's cache and this cycle's event so the handler (compiled to watch the
// same BindId) observes it within the same cycle, then notifies the
// runtime. Every throwing node (Qop, arithmetic, ArrayRef) shares this
// mechanism.
func ThrowToCatch(ctx *ExecCtx, ev *Event, catchID BindId, payload Value, ori Origin) {
	wrapped := NewError(WrapError(payload, ori))
	ctx.Cached[catchID] = wrapped
	ev.Set(catchID, wrapped)
	ctx.Rt.NotifySet(catchID)
}

// UnionIntoCatch folds thrown into the catch frame's type variable during
// typecheck (§4.F: "the checker walks up to the nearest enclosing catch and
// unions that throws type into the catch frame's TVar").
func UnionIntoCatch(env *Env, catchID BindId, thrown Type) error {
	b, ok := env.ByID[catchID]
	if !ok {
		return fmt.Errorf("unknown catch frame %d", catchID)
	}
	if b.Typ.Cat != CatTVar {
		return fmt.Errorf("catch frame %d has no type variable", catchID)
	}
	return b.Typ.TV.Union(env, ErrorType(thrown))
}

// Qop implements the `?` operator: a non-error child value passes through
// unchanged; an error value is routed to the enclosing catch frame (wrapped
// with origin/position, cause-chained if already wrapped) and the Qop
// itself emits nothing this cycle (§4.E, §7).
type Qop struct {
	child   Node
	catchID BindId
	hasCatch bool
	owner   ExprId
	typ     Type
	ori     Origin
}

func NewQop(child Node, catchID BindId, hasCatch bool, owner ExprId, t Type, ori Origin) *Qop {
	return &Qop{child: child, catchID: catchID, hasCatch: hasCatch, owner: owner, typ: t, ori: ori}
}

func (n *Qop) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	v, ok := n.child.Update(ctx, ev)
	if !ok {
		return Value{}, false
	}
	if v.IsError() {
		payload, _ := v.AsError()
		if n.hasCatch {
			ThrowToCatch(ctx, ev, n.catchID, payload, n.ori)
		} else {
			// "? outside any catch frame logs and drops" (§7). The
			// WarnUnhandledQop/WarningsAreErrors flags in Options.Flags are
			// not consulted here or anywhere else in this package.
			fmt.Fprintf(ctx.Opts.Stderr, "unhandled error at %s: %s\n", n.ori, payload.String())
		}
		return Value{}, false
	}
	return v, true
}

func (n *Qop) Typecheck(ctx *ExecCtx) error { return n.child.Typecheck(ctx) }
func (n *Qop) Refs(out *Refs) {
	n.child.Refs(out)
	if n.hasCatch {
		out.addRefed(n.catchID)
	}
}
func (n *Qop) Delete(ctx *ExecCtx) {
	n.child.Delete(ctx)
	if n.hasCatch {
		ctx.UnrefVar(n.catchID, n.owner)
	}
}
func (n *Qop) Sleep(ctx *ExecCtx) { n.child.Sleep(ctx) }
func (n *Qop) Typ() Type          { return n.typ }
func (n *Qop) Origin() Origin     { return n.ori }

// OrNever implements the `$` operator: like Qop but drops errors silently,
// with no catch routing at all.
type OrNever struct {
	child Node
	typ   Type
	ori   Origin
}

func NewOrNever(child Node, t Type, ori Origin) *OrNever { return &OrNever{child: child, typ: t, ori: ori} }

func (n *OrNever) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	v, ok := n.child.Update(ctx, ev)
	if !ok || v.IsError() {
		return Value{}, false
	}
	return v, true
}

func (n *OrNever) Typecheck(ctx *ExecCtx) error { return n.child.Typecheck(ctx) }
func (n *OrNever) Refs(out *Refs)               { n.child.Refs(out) }
func (n *OrNever) Delete(ctx *ExecCtx)          { n.child.Delete(ctx) }
func (n *OrNever) Sleep(ctx *ExecCtx)           { n.child.Sleep(ctx) }
func (n *OrNever) Typ() Type                    { return n.typ }
func (n *OrNever) Origin() Origin               { return n.ori }

// TryCatch compiles body under a fresh catch frame and a handler that
// watches that frame's BindId. Per cycle, the handler is given priority:
// if it produced a value (the catch BindId updated this cycle, including a
// write the body itself just made via ThrowToCatch), that value is
// emitted; otherwise the body's own value (when not suppressed by a Qop
// inside it) is emitted (§4.E, §7).
type TryCatch struct {
	catchID BindId
	body    Node
	handler Node
	owner   ExprId
	typ     Type
	ori     Origin
}

func NewTryCatch(catchID BindId, body, handler Node, owner ExprId, t Type, ori Origin) *TryCatch {
	return &TryCatch{catchID: catchID, body: body, handler: handler, owner: owner, typ: t, ori: ori}
}

func (n *TryCatch) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	bodyVal, bodyOk := n.body.Update(ctx, ev)
	handlerVal, handlerOk := n.handler.Update(ctx, ev)
	if handlerOk {
		return handlerVal, true
	}
	if bodyOk {
		return bodyVal, true
	}
	return Value{}, false
}

func (n *TryCatch) Typecheck(ctx *ExecCtx) error {
	if err := n.body.Typecheck(ctx); err != nil {
		return err
	}
	return n.handler.Typecheck(ctx)
}

func (n *TryCatch) Refs(out *Refs) {
	n.body.Refs(out)
	n.handler.Refs(out)
	out.addBound(n.catchID)
}

func (n *TryCatch) Delete(ctx *ExecCtx) {
	n.body.Delete(ctx)
	n.handler.Delete(ctx)
	ctx.UnrefVar(n.catchID, n.owner)
}

func (n *TryCatch) Sleep(ctx *ExecCtx) {
	n.body.Sleep(ctx)
	n.handler.Sleep(ctx)
}

func (n *TryCatch) Typ() Type      { return n.typ }
func (n *TryCatch) Origin() Origin { return n.ori }

package engine

import "fmt"

// TypeCastNode converts its child's value to a target Kind on every update,
// using Value.CastTo's lossless rules (§4.A). A failed cast becomes an
// in-band error value; casts are not required to resolve a catch frame at
// compile time the way arithmetic and indexing are (§4.E only calls out
// those two), so it always flows the error onward rather than throwing.
type TypeCastNode struct {
	child  *Cached
	target Kind
	typ    Type
	ori    Origin
}

func NewTypeCastNode(child Node, target Kind, t Type, ori Origin) *TypeCastNode {
	return &TypeCastNode{child: NewCached(child), target: target, typ: t, ori: ori}
}

func (n *TypeCastNode) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	if !n.child.Update(ctx, ev) {
		return Value{}, false
	}
	v, _ := n.child.Value()
	cv, err := v.CastTo(n.target)
	if err != nil {
		return NewError(NewString(fmt.Sprintf("%s: %s", n.ori, err))), true
	}
	return cv, true
}

func (n *TypeCastNode) Typecheck(ctx *ExecCtx) error { return n.child.Typecheck(ctx) }
func (n *TypeCastNode) Refs(out *Refs)               { n.child.Refs(out) }
func (n *TypeCastNode) Delete(ctx *ExecCtx)          { n.child.Delete(ctx) }
func (n *TypeCastNode) Sleep(ctx *ExecCtx)           { n.child.Sleep(ctx) }
func (n *TypeCastNode) Typ() Type                    { return n.typ }
func (n *TypeCastNode) Origin() Origin               { return n.ori }

// TypeDefNode registers a user type definition. It carries no runtime
// value of its own: the registration happens once, at compile time, via
// env.InsertTypeDef. The node exists purely so type definitions occupy a
// slot in a block's child list and participate in Refs/Delete bookkeeping
// like any other statement.
type TypeDefNode struct {
	ori Origin
}

func NewTypeDefNode(ori Origin) *TypeDefNode { return &TypeDefNode{ori: ori} }

func (n *TypeDefNode) Update(ctx *ExecCtx, ev *Event) (Value, bool) { return Value{}, false }
func (n *TypeDefNode) Typecheck(ctx *ExecCtx) error                 { return nil }
func (n *TypeDefNode) Refs(out *Refs)                               {}
func (n *TypeDefNode) Delete(ctx *ExecCtx)                          {}
func (n *TypeDefNode) Sleep(ctx *ExecCtx)                           {}
func (n *TypeDefNode) Typ() Type                                    { return Prim(PNull) }
func (n *TypeDefNode) Origin() Origin                               { return n.ori }

// UseNode imports another module's bindings into the current lexical
// scope. Like TypeDefNode, the substantive work (copying entries of
// env.Binds[from] into env.Binds[scope]) happens once at compile time; the
// node is a statement placeholder.
type UseNode struct {
	from ModPath
	ori  Origin
}

func NewUseNode(from ModPath, ori Origin) *UseNode { return &UseNode{from: from, ori: ori} }

func (n *UseNode) Update(ctx *ExecCtx, ev *Event) (Value, bool) { return Value{}, false }
func (n *UseNode) Typecheck(ctx *ExecCtx) error                 { return nil }
func (n *UseNode) Refs(out *Refs)                               {}
func (n *UseNode) Delete(ctx *ExecCtx)                          {}
func (n *UseNode) Sleep(ctx *ExecCtx)                           {}
func (n *UseNode) Typ() Type                                    { return Prim(PNull) }
func (n *UseNode) Origin() Origin                               { return n.ori }

// UseModule aliases every binding declared directly at from into scope
// (same BindId, new name entry), implementing `use` at the one point it
// actually has an effect: env construction (called by whatever compiles a
// UseNode).
func UseModule(env *Env, scope, from ModPath) {
	src, ok := env.Binds[from.String()]
	if !ok {
		return
	}
	key := scope.String()
	dst, ok := env.Binds[key]
	if !ok {
		dst = map[string]BindId{}
	} else {
		nd := make(map[string]BindId, len(dst)+len(src))
		for k, v := range dst {
			nd[k] = v
		}
		dst = nd
	}
	for name, id := range src {
		dst[name] = id
	}
	env.Binds[key] = dst
}

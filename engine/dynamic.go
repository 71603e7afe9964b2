package engine

import "fmt"

// Signature is the declared interface a dynamic module's reloaded source
// must satisfy (§5's Signature glossary entry, §4.E "Dynamic modules"):
// every bind name must exist with a containing type, type defs must be
// syntactically identical, and submodules are checked recursively.
type Signature struct {
	Binds      map[string]Type
	TypeDefs   map[string]Type
	Submodules map[string]*Signature
}

// checkSignature verifies that the module recompiled at scope inside env
// satisfies sig, per §4.E item (c).
func checkSignature(env *Env, scope ModPath, sig *Signature) error {
	have := env.Binds[scope.String()]
	for name, want := range sig.Binds {
		id, ok := have[name]
		if !ok {
			return fmt.Errorf("dynamic module missing binding %q", name)
		}
		b := env.ByID[id]
		if b == nil {
			return fmt.Errorf("dynamic module binding %q has no entry", name)
		}
		if err := want.CheckContains(env, b.Typ); err != nil {
			return fmt.Errorf("dynamic module binding %q: %w", name, err)
		}
	}
	haveDefs := env.TypeDefs[scope.String()]
	for name, want := range sig.TypeDefs {
		td, ok := haveDefs[name]
		if !ok {
			return fmt.Errorf("dynamic module missing type def %q", name)
		}
		if td.Typ.String() != want.String() {
			return fmt.Errorf("dynamic module type def %q is not syntactically identical", name)
		}
	}
	for name, subSig := range sig.Submodules {
		if err := checkSignature(env, scope.Append(name), subSig); err != nil {
			return fmt.Errorf("submodule %q: %w", name, err)
		}
	}
	return nil
}

// CompileFunc parses and compiles a dynamic module's source inside the
// sandboxed environment, returning the named top-level nodes and the
// environment produced by compilation (new binds/typedefs registered).
// Parsing source text is out of scope here; callers supply whatever
// front end produces this shape.
type CompileFunc func(source string, sandboxEnv *Env) (map[string]Node, *Env, error)

// Dynamic is the Dynamic{sandbox, signature, source} module node of §4.E. It
// treats source as a child string-producing node; on every new string it
// recompiles inside the sandbox and checks the result against sig. Only on
// success does it delete the previously compiled nodes and install
// bidirectional proxy bindings between the caller's scope and the
// recompiled module (inputs copied in before the body updates, outputs
// copied out after, §4.E item (d)). A failed reload leaves the previous
// binding inactive and surfaces a DynamicLoadError rather than replacing
// anything.
type Dynamic struct {
	sandbox   Sandbox
	sig       *Signature
	source    *Cached
	scope     ModPath
	compile   CompileFunc
	baseEnv   *Env
	proxyIn   map[BindId]BindId // caller-scope source id -> module bind id
	proxyOut  map[BindId]BindId // module bind id -> caller-scope target id
	nodes     map[string]Node
	active    bool
	lastLoad  string
	hasLoad   bool
	owner     ExprId
	typ       Type
	ori       Origin
}

func NewDynamic(sandbox Sandbox, sig *Signature, source Node, scope ModPath, compile CompileFunc,
	baseEnv *Env, proxyIn, proxyOut map[BindId]BindId, owner ExprId, t Type, ori Origin) *Dynamic {
	return &Dynamic{
		sandbox: sandbox, sig: sig, source: NewCached(source), scope: scope,
		compile: compile, baseEnv: baseEnv, proxyIn: proxyIn, proxyOut: proxyOut,
		owner: owner, typ: t, ori: ori,
	}
}

func (n *Dynamic) reload(ctx *ExecCtx, src string) Value {
	sandboxEnv := n.baseEnv.ApplySandbox(n.sandbox)
	nodes, newEnv, err := n.compile(src, sandboxEnv)
	if err != nil {
		n.active = false
		return NewError(NewTaggedError(DynamicLoadErrorTag, err.Error()))
	}
	if err := checkSignature(newEnv, n.scope, n.sig); err != nil {
		n.active = false
		return NewError(NewTaggedError(DynamicLoadErrorTag, err.Error()))
	}
	if n.nodes != nil {
		for _, prev := range n.nodes {
			prev.Delete(ctx)
		}
	}
	n.nodes = nodes
	ctx.Env = newEnv
	n.active = true
	return Value{}
}

// Update drives a reload whenever source produces a new string, then runs
// the proxy-in / body-update / proxy-out cycle for whichever module is
// currently active.
func (n *Dynamic) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	if n.source.Update(ctx, ev) {
		v, _ := n.source.Value()
		src := v.String()
		if !n.hasLoad || src != n.lastLoad {
			n.lastLoad = src
			n.hasLoad = true
			if errVal := n.reload(ctx, src); errVal.Kind() == KindError {
				return errVal, true
			}
		}
	}
	if !n.active {
		return Value{}, false
	}
	for srcID, dstID := range n.proxyIn {
		if v, ok := ctx.Cached[srcID]; ok {
			ctx.Cached[dstID] = v
			ev.Set(dstID, v)
		}
	}
	anyUpdated := false
	for _, node := range n.nodes {
		if _, ok := node.Update(ctx, ev); ok {
			anyUpdated = true
		}
	}
	for modID, dstID := range n.proxyOut {
		if v, ok := ctx.Cached[modID]; ok {
			ctx.Cached[dstID] = v
			ev.Set(dstID, v)
			ctx.Rt.NotifySet(dstID)
		}
	}
	return Value{}, anyUpdated
}

func (n *Dynamic) Typecheck(ctx *ExecCtx) error {
	if err := n.source.Typecheck(ctx); err != nil {
		return err
	}
	for _, node := range n.nodes {
		if err := node.Typecheck(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (n *Dynamic) Refs(out *Refs) {
	n.source.Refs(out)
	for id := range n.proxyIn {
		out.addRefed(id)
	}
	for _, node := range n.nodes {
		node.Refs(out)
	}
}

func (n *Dynamic) Delete(ctx *ExecCtx) {
	n.source.Delete(ctx)
	for _, node := range n.nodes {
		node.Delete(ctx)
	}
}

func (n *Dynamic) Sleep(ctx *ExecCtx) {
	n.source.Sleep(ctx)
	for _, node := range n.nodes {
		node.Sleep(ctx)
	}
}

func (n *Dynamic) Typ() Type      { return n.typ }
func (n *Dynamic) Origin() Origin { return n.ori }

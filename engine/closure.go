package engine

import "fmt"

// ArgSpec is one declared parameter of a lambda: a binding pattern, its
// declared type, and (if the parameter has a default) the expression that
// produces it, to be compiled lazily in the lambda's captured environment
// (§4.G "default-value compilation in the lambda's captured environment").
type ArgSpec struct {
	Label    string
	Labeled  bool
	Optional bool
	Typ      Type
	Pat      Pattern
	Default  func(env *Env) (Node, error)
}

// LambdaDef is a compiled function body's registry entry (§4.G). Init is
// invoked once per call site that binds to this lambda; it is deferred
// (rather than compiling the body eagerly at definition time) so that
// recursive lambdas and dynamic-module reloads both work: a lambda may
// reference its own LambdaId in its body, which only resolves once a call
// site actually asks the registry to upgrade it.
type LambdaDef struct {
	Id     LambdaId
	Typ    Type // Cat == CatFn
	Env    *Env // captured environment
	Args   []ArgSpec
	Vargs  *ArgSpec
	Scope  ModPath
	Origin Origin
	Init   func(args []Node) (*Apply, error)
}

func (ld *LambdaDef) FnType() *FnType { return ld.Typ.Fn }

// Apply is a bound call site's live instance: compiled argument-binding
// nodes feeding a compiled body node (§4.G).
type Apply struct {
	args []Node
	body Node
	typ  Type
	ori  Origin
}

func NewApply(args []Node, body Node, t Type, ori Origin) *Apply {
	return &Apply{args: args, body: body, typ: t, ori: ori}
}

// Update advances every argument-binding node (writing each parameter's
// current value into the captured environment) and then the body, in that
// order, every cycle (§4.G "whose own update advances argument patterns
// then the body").
func (a *Apply) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	for _, arg := range a.args {
		arg.Update(ctx, ev)
	}
	return a.body.Update(ctx, ev)
}

func (a *Apply) Typecheck(ctx *ExecCtx) error {
	for _, arg := range a.args {
		if err := arg.Typecheck(ctx); err != nil {
			return err
		}
	}
	if err := a.body.Typecheck(ctx); err != nil {
		return err
	}
	return RequireContains(ctx.Env, a.typ, a.body.Typ(), a.ori, "lambda body")
}

func (a *Apply) Refs(out *Refs) {
	for _, arg := range a.args {
		arg.Refs(out)
	}
	a.body.Refs(out)
}

func (a *Apply) Delete(ctx *ExecCtx) {
	for _, arg := range a.args {
		arg.Delete(ctx)
	}
	a.body.Delete(ctx)
}

func (a *Apply) Sleep(ctx *ExecCtx) {
	for _, arg := range a.args {
		arg.Sleep(ctx)
	}
	a.body.Sleep(ctx)
}

func (a *Apply) Typ() Type      { return a.typ }
func (a *Apply) Origin() Origin { return a.ori }

// NopNode is a placeholder typed at a declared argument type that never
// itself produces a value. bindCallSite does not build one: an omitted
// optional label is compiled from the lambda's default via CompileDefault
// at the moment the call site binds (§4.G).
type NopNode struct {
	typ Type
	ori Origin
}

func NewNopNode(t Type, ori Origin) *NopNode { return &NopNode{typ: t, ori: ori} }

func (n *NopNode) Update(ctx *ExecCtx, ev *Event) (Value, bool) { return Value{}, false }
func (n *NopNode) Typecheck(ctx *ExecCtx) error                 { return nil }
func (n *NopNode) Refs(out *Refs)                               {}
func (n *NopNode) Delete(ctx *ExecCtx)                          {}
func (n *NopNode) Sleep(ctx *ExecCtx)                           {}
func (n *NopNode) Typ() Type                                    { return n.typ }
func (n *NopNode) Origin() Origin                               { return n.ori }

// CompileDefault fills an omitted optional argument by compiling spec's
// default expression in the lambda's captured environment, per §4.G and
// §5's constraint that
// "default-value expressions must only refer to values already in scope at
// lambda-definition time" (no strong cycle back through the call site).
func CompileDefault(ld *LambdaDef, spec ArgSpec) (Node, error) {
	if spec.Default == nil {
		return nil, fmt.Errorf("argument %q has no default", spec.Label)
	}
	return spec.Default(ld.Env)
}

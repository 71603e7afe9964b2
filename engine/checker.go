package engine

import "fmt"

// CompileError carries the expression span/origin a compile or typecheck
// failure occurred at, mirroring the teacher's own wrapped-diagnostic shape
// but built on Go's error-chain idioms (errors.As/errors.Is) rather than
// anyhow context strings.
type CompileError struct {
	Origin Origin
	Msg    string
	Err    error
}

func (e *CompileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Origin, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Origin, e.Msg)
}

func (e *CompileError) Unwrap() error { return e.Err }

func newCompileError(ori Origin, msg string, cause error) *CompileError {
	return &CompileError{Origin: ori, Msg: msg, Err: cause}
}

// RequireContains enforces that have is a subtype of want at ori, the
// shared "node first typechecks its children, then enforces its own
// containment requirement" step every node's Typecheck performs (§4.F).
func RequireContains(env *Env, want, have Type, ori Origin, context string) error {
	if err := want.CheckContains(env, have); err != nil {
		return newCompileError(ori, fmt.Sprintf("%s: expected %s, got %s", context, want, have), err)
	}
	return nil
}

// PropagateAutoConstraints aliases callee's declared Fn.constraints into
// the call site's own type-variable pool, so later containment checks
// against those constraints apply at the call site too (§4.F "a call
// site's typecheck propagates auto constraints").
func PropagateAutoConstraints(env *Env, callee FnType, pool map[string]*TVar) error {
	for name, constraint := range callee.Constraints {
		tv, ok := pool[name]
		if !ok {
			// The callee's own type variable was never instantiated at this
			// call site (e.g. it only appears in the constraint, not in any
			// argument or return position). Alias a fresh one so the
			// constraint still has somewhere to live.
			tv = NewTVar(name)
			pool[name] = tv
		}
		if err := tv.Union(env, constraint.AliasTVars(pool)); err != nil {
			return err
		}
	}
	return nil
}

// PropagateThrows walks scope up to the nearest enclosing catch frame and
// unions thrown into it, the same rule ArrayRef/ArithOp/Qop use directly
// and that a call site with a declared `throws` type must also apply
// (§4.F "When the callee declares a throws type, the checker walks up to
// the nearest enclosing catch... and unions that throws type in").
func PropagateThrows(env *Env, scope ModPath, thrown Type, ori Origin) error {
	if thrown.Cat == CatBottom {
		return nil
	}
	catchID, err := env.LookupCatch(scope)
	if err != nil {
		return newCompileError(ori, "throwing expression requires an enclosing catch frame", err)
	}
	return UnionIntoCatch(env, catchID, thrown)
}

// TypecheckTree runs Typecheck on root, the one required pass after
// compile (§2 data flow: compile → typecheck → update).
func TypecheckTree(ctx *ExecCtx, root Node) error {
	return root.Typecheck(ctx)
}

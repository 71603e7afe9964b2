package engine

import (
	"fmt"
	"strings"

	"golang.org/x/mod/module"
)

// ModPath is a lexical or dynamic scope path, e.g. the segments of "a.b.c".
// validateSegment checks a segment with golang.org/x/mod/module the same way
// x/mod checks Go import path segments, since both describe a slash/dot
// separated hierarchical namespace (see SPEC_FULL.md Component C). Its only
// caller is BindVariable, which does not reject names that fail the check;
// ModPath values themselves are never checked.
type ModPath []string

func (p ModPath) String() string { return strings.Join(p, ".") }

func (p ModPath) Append(seg string) ModPath {
	np := make(ModPath, len(p), len(p)+1)
	copy(np, p)
	return append(np, seg)
}

func (p ModPath) Equal(o ModPath) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// validateSegment rejects segments that could not appear in a Go-style
// hierarchical import path: empty, or containing path separators.
func validateSegment(seg string) error {
	if seg == "" {
		return fmt.Errorf("empty module path segment")
	}
	fake := "example.com/x/" + seg
	if err := module.CheckImportPath(fake); err != nil {
		return fmt.Errorf("invalid module path segment %q: %w", seg, err)
	}
	return nil
}

// Bind is the declaration record for one BindId.
type Bind struct {
	Id   BindId
	Name string
	Typ  Type
	Doc  string
}

// TypeDef is a user type definition: a name with formal parameters bound to
// a Type body.
type TypeDef struct {
	Name   string
	Params []string
	Typ    Type
}

// lambdaEntry is the registry slot backing the spec's "weak handle to
// LambdaDef": rather than emulate a GC weak pointer, graphix tracks an
// explicit reference count per spec.md §3 ("Lambdas live as long as any Ref
// to their LambdaId exists") and drops the strong *LambdaDef once it hits
// zero, which a call site observes as "the handle is gone".
type lambdaEntry struct {
	def      *LambdaDef
	refcount int
}

// Env is the environment of §3/§4.C. Mutating methods write into the
// receiver's top-level maps in place; the per-scope inner maps of Binds and
// TypeDefs are copied before being written, so an inner map obtained
// earlier is not changed. The Env itself is not persistent: every holder of
// the same *Env sees each write, and an isolated snapshot is taken with
// Clone.
type Env struct {
	ByID     map[BindId]*Bind
	Binds    map[string]map[string]BindId // ModPath.String() -> name -> BindId
	TypeDefs map[string]map[string]*TypeDef
	Modules  map[string]bool
	Lambdas  map[LambdaId]*lambdaEntry
	Catch    map[string]BindId // ModPath.String() -> nearest enclosing catch frame
	ByRef    map[BindId]BindId // alias chain: byref id -> target id
}

func NewEnv() *Env {
	return &Env{
		ByID:     map[BindId]*Bind{},
		Binds:    map[string]map[string]BindId{},
		TypeDefs: map[string]map[string]*TypeDef{},
		Modules:  map[string]bool{},
		Lambdas:  map[LambdaId]*lambdaEntry{},
		Catch:    map[string]BindId{},
		ByRef:    map[BindId]BindId{},
	}
}

// Clone performs a shallow copy-on-write snapshot: every top-level map is
// copied, but the Bind/TypeDef values they point to are shared.
func (e *Env) Clone() *Env {
	ne := &Env{
		ByID:     make(map[BindId]*Bind, len(e.ByID)),
		Binds:    make(map[string]map[string]BindId, len(e.Binds)),
		TypeDefs: make(map[string]map[string]*TypeDef, len(e.TypeDefs)),
		Modules:  make(map[string]bool, len(e.Modules)),
		Lambdas:  make(map[LambdaId]*lambdaEntry, len(e.Lambdas)),
		Catch:    make(map[string]BindId, len(e.Catch)),
		ByRef:    make(map[BindId]BindId, len(e.ByRef)),
	}
	for k, v := range e.ByID {
		ne.ByID[k] = v
	}
	for k, v := range e.Binds {
		m := make(map[string]BindId, len(v))
		for n, id := range v {
			m[n] = id
		}
		ne.Binds[k] = m
	}
	for k, v := range e.TypeDefs {
		m := make(map[string]*TypeDef, len(v))
		for n, td := range v {
			m[n] = td
		}
		ne.TypeDefs[k] = m
	}
	for k, v := range e.Modules {
		ne.Modules[k] = v
	}
	for k, v := range e.Lambdas {
		ne.Lambdas[k] = v
	}
	for k, v := range e.Catch {
		ne.Catch[k] = v
	}
	for k, v := range e.ByRef {
		ne.ByRef[k] = v
	}
	return ne
}

// BindVariable declares a new BindId named name at scope, copy-on-write.
func (e *Env) BindVariable(scope ModPath, name string, typ Type) *Bind {
	if err := validateSegment(name); err != nil {
		// names that can't validate as path segments are still accepted:
		// the check is advisory and its result is discarded.
		_ = err
	}
	id := NewBindId()
	b := &Bind{Id: id, Name: name, Typ: typ}
	e.ByID[id] = b
	key := scope.String()
	m, ok := e.Binds[key]
	if !ok {
		m = map[string]BindId{}
	} else {
		nm := make(map[string]BindId, len(m)+1)
		for k, v := range m {
			nm[k] = v
		}
		m = nm
	}
	m[name] = id
	e.Binds[key] = m
	return b
}

// Lookup resolves name lexically starting at scope and walking up to the
// root module path.
func (e *Env) Lookup(scope ModPath, name string) (BindId, bool) {
	for i := len(scope); i >= 0; i-- {
		if m, ok := e.Binds[scope[:i].String()]; ok {
			if id, ok := m[name]; ok {
				return id, true
			}
		}
	}
	return 0, false
}

// LookupCatch returns the nearest enclosing catch frame's BindId for scope,
// by walking the dynamic scope path up to the root (§4.E/§4.F).
func (e *Env) LookupCatch(scope ModPath) (BindId, error) {
	for i := len(scope); i >= 0; i-- {
		if id, ok := e.Catch[scope[:i].String()]; ok {
			return id, nil
		}
	}
	return 0, fmt.Errorf("no enclosing catch frame at %s", scope)
}

func (e *Env) InsertTypeDef(scope ModPath, td *TypeDef) {
	key := scope.String()
	m, ok := e.TypeDefs[key]
	if !ok {
		m = map[string]*TypeDef{}
	} else {
		nm := make(map[string]*TypeDef, len(m)+1)
		for k, v := range m {
			nm[k] = v
		}
		m = nm
	}
	m[td.Name] = td
	e.TypeDefs[key] = m
}

func (e *Env) LookupTypeDef(scope ModPath, name string) (*TypeDef, bool) {
	for i := len(scope); i >= 0; i-- {
		if m, ok := e.TypeDefs[scope[:i].String()]; ok {
			if td, ok := m[name]; ok {
				return td, true
			}
		}
	}
	return nil, false
}

// resolveRef expands a CatRef type by looking up its TypeDef and
// substituting RefParams for the definition's formal Params.
func (e *Env) resolveRef(t Type) (Type, error) {
	td, ok := e.LookupTypeDef(t.RefScope, t.RefName)
	if !ok {
		return Type{}, fmt.Errorf("unknown type %s", t.RefName)
	}
	if len(td.Params) == 0 {
		return td.Typ, nil
	}
	sub := map[string]*TVar{}
	for i, p := range td.Params {
		if i < len(t.RefParams) {
			sub[p] = &TVar{Typ: &t.RefParams[i], Frozen: true}
		}
	}
	return substituteParams(td.Typ, sub), nil
}

func substituteParams(t Type, sub map[string]*TVar) Type {
	if t.Cat == CatRef {
		if tv, ok := sub[t.RefName]; ok && len(t.RefParams) == 0 {
			return *tv.Typ
		}
	}
	return t
}

// InsertModule records scope as a declared module.
func (e *Env) InsertModule(scope ModPath) { e.Modules[scope.String()] = true }

// RegisterLambda adds a freshly compiled lambda with a ref-count of 1.
func (e *Env) RegisterLambda(def *LambdaDef) {
	e.Lambdas[def.Id] = &lambdaEntry{def: def, refcount: 1}
}

// RefLambda increments the ref count of a live lambda; it is a hard error to
// ref a lambda id that has already dropped to zero (spec.md §8 "FnRef value
// referring to a no-longer-live LambdaId" is the same failure mode, one
// layer up).
func (e *Env) RefLambda(id LambdaId) error {
	ent, ok := e.Lambdas[id]
	if !ok {
		return fmt.Errorf("lambda %d is no longer callable", id)
	}
	ent.refcount++
	return nil
}

// UnrefLambda decrements the ref count, dropping the strong handle at zero.
func (e *Env) UnrefLambda(id LambdaId) {
	ent, ok := e.Lambdas[id]
	if !ok {
		return
	}
	ent.refcount--
	if ent.refcount <= 0 {
		delete(e.Lambdas, id)
	}
}

// UpgradeLambda resolves a LambdaId to its definition, or ok=false if the
// lambda is no longer live.
func (e *Env) UpgradeLambda(id LambdaId) (*LambdaDef, bool) {
	ent, ok := e.Lambdas[id]
	if !ok {
		return nil, false
	}
	return ent.def, true
}

// InsertCatch installs id as the catch frame for scope, writing e.Catch in
// place.
func (e *Env) InsertCatch(scope ModPath, id BindId) { e.Catch[scope.String()] = id }

// WithRestored temporarily swaps in env2 as the active environment for the
// duration of f, restoring the receiver's original env afterwards. Nothing
// in this package calls it; CompileDefault hands the lambda's captured
// environment to the default's compile function directly (§4.G).
func WithRestored(ctx *ExecCtx, env2 *Env, f func(*ExecCtx) error) error {
	old := ctx.Env
	ctx.Env = env2
	defer func() { ctx.Env = old }()
	return f(ctx)
}

// Sandbox is a user-declared whitelist of names/types visible to a dynamic
// module (§4.C, §4.G dynamic modules).
type Sandbox struct {
	Names []string
	Types []string
}

// ApplySandbox returns a new environment obtained by filtering e through sb:
// only the named binds/typedefs (at any scope) survive.
func (e *Env) ApplySandbox(sb Sandbox) *Env {
	allowNames := map[string]bool{}
	for _, n := range sb.Names {
		allowNames[n] = true
	}
	allowTypes := map[string]bool{}
	for _, n := range sb.Types {
		allowTypes[n] = true
	}
	ne := NewEnv()
	for scope, m := range e.Binds {
		nm := map[string]BindId{}
		for name, id := range m {
			if allowNames[name] {
				nm[name] = id
				ne.ByID[id] = e.ByID[id]
			}
		}
		if len(nm) > 0 {
			ne.Binds[scope] = nm
		}
	}
	for scope, m := range e.TypeDefs {
		nm := map[string]*TypeDef{}
		for name, td := range m {
			if allowTypes[name] {
				nm[name] = td
			}
		}
		if len(nm) > 0 {
			ne.TypeDefs[scope] = nm
		}
	}
	for k, v := range e.Lambdas {
		ne.Lambdas[k] = v
	}
	return ne
}

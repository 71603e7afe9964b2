package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// PrimFlag is a bitset of base primitive tags, closed under union/intersection
// at the tag level (spec.md §3 invariants).
type PrimFlag uint32

const (
	PBool PrimFlag = 1 << iota
	PI32
	PI64
	PU32
	PU64
	PF32
	PF64
	PString
	PBytes
	PDateTime
	PDuration
	PNull
	PError
)

// Integer is every fixed-width integer tag.
func Integer() PrimFlag { return PI32 | PI64 | PU32 | PU64 }

// Number is every numeric tag (integers plus floats), used by the arithmetic
// promotion table in §6.
func Number() PrimFlag { return Integer() | PF32 | PF64 }

func (p PrimFlag) Contains(o PrimFlag) bool { return p&o == o }
func (p PrimFlag) Has(o PrimFlag) bool      { return p&o != 0 }

func (p PrimFlag) String() string {
	names := []struct {
		f PrimFlag
		n string
	}{
		{PBool, "bool"}, {PI32, "i32"}, {PI64, "i64"}, {PU32, "u32"}, {PU64, "u64"},
		{PF32, "f32"}, {PF64, "f64"}, {PString, "string"}, {PBytes, "bytes"},
		{PDateTime, "datetime"}, {PDuration, "duration"}, {PNull, "null"}, {PError, "error"},
	}
	var parts []string
	for _, nf := range names {
		if p.Has(nf.f) {
			parts = append(parts, nf.n)
		}
	}
	if len(parts) == 0 {
		return "never"
	}
	return strings.Join(parts, "|")
}

// TypeCat tags the shape of a Type, mirroring yaegi's own single-struct,
// tag-field itype (cat itypeCat) rather than a Go sum-via-interface: a flat
// tagged struct is cheaper to clone and to walk for containment checks.
type TypeCat uint8

const (
	CatPrimitive TypeCat = iota
	CatArray
	CatTuple
	CatStruct
	CatVariant
	CatMap
	CatSet
	CatFn
	CatRef
	CatByRef
	CatTVar
	CatError
	CatBottom
	CatAny
)

// TVar is a type variable with shared, lock-protected content. Unification
// through any clone of the same TVar propagates, by design (§4.B).
type TVar struct {
	mu     sync.Mutex
	Name   string
	Frozen bool
	Typ    *Type
}

func NewTVar(name string) *TVar { return &TVar{Name: name} }

func (tv *TVar) Get() *Type {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	return tv.Typ
}

// Set writes to the TVar. It fails if the TVar is frozen.
func (tv *TVar) Set(t Type) error {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	if tv.Frozen {
		return fmt.Errorf("cannot write to frozen type variable %s", tv.Name)
	}
	tv.Typ = &t
	return nil
}

// Freeze seeds the TVar with t and marks it frozen: Set refuses to write it,
// Contains still matches it, and Union still widens its content (the way a
// catch frame seeded at Bottom accumulates thrown types, §4.E).
func (tv *TVar) Freeze(t Type) {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	tv.Typ = &t
	tv.Frozen = true
}

// Unbind clears content without touching Frozen, used prior to pattern
// compilation (§4.B alias_tvars/unbind_tvars).
func (tv *TVar) Unbind() {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	tv.Typ = nil
}

// Union writes the union of the TVar's current content (if any) with t.
func (tv *TVar) Union(env *Env, t Type) error {
	tv.mu.Lock()
	cur := tv.Typ
	frozen := tv.Frozen
	tv.mu.Unlock()
	var nt Type
	if cur == nil {
		nt = t
	} else {
		var err error
		nt, err = cur.Union(env, t)
		if err != nil {
			return err
		}
	}
	if frozen {
		tv.mu.Lock()
		tv.Typ = &nt
		tv.mu.Unlock()
		return nil
	}
	return tv.Set(nt)
}

// FnArgType is one declared argument slot of a function type.
type FnArgType struct {
	Label    string // empty means positional
	Labeled  bool
	Optional bool
	Typ      Type
}

// FnType is the shape of Type{Cat: CatFn}.
type FnType struct {
	Args        []FnArgType
	Vargs       *Type
	RType       Type
	Throws      Type
	Constraints map[string]Type // keyed by TVar name (§4.F auto constraints)
}

// Clone produces an independent copy of the FnType's slices/maps (but not
// the Types within, which are themselves cheap to share until aliased).
func (ft FnType) Clone() FnType {
	args := make([]FnArgType, len(ft.Args))
	copy(args, ft.Args)
	cons := make(map[string]Type, len(ft.Constraints))
	for k, v := range ft.Constraints {
		cons[k] = v
	}
	nft := FnType{Args: args, RType: ft.RType, Throws: ft.Throws, Constraints: cons}
	if ft.Vargs != nil {
		v := *ft.Vargs
		nft.Vargs = &v
	}
	return nft
}

// Type is the recursive structural type description of §3/§4.B.
type Type struct {
	Cat TypeCat

	Prim PrimFlag // CatPrimitive

	Elem *Type // CatArray, CatByRef, CatError (payload type)

	Elems []Type // CatTuple, CatSet (alternatives)

	Fields     map[string]Type // CatStruct
	FieldOrder []string        // declaration order, for deterministic printing

	VariantTag   string // CatVariant
	VariantElems []Type

	MapKey *Type // CatMap
	MapVal *Type

	Fn *FnType // CatFn

	RefScope  ModPath // CatRef
	RefName   string
	RefParams []Type

	TV *TVar // CatTVar
}

func Prim(p PrimFlag) Type        { return Type{Cat: CatPrimitive, Prim: p} }
func Boolean() Type               { return Prim(PBool) }
func AnyType() Type               { return Type{Cat: CatAny} }
func BottomType() Type            { return Type{Cat: CatBottom} }
func ArrayType(elem Type) Type    { return Type{Cat: CatArray, Elem: &elem} }
func ByRefType(elem Type) Type    { return Type{Cat: CatByRef, Elem: &elem} }
func ErrorType(elem Type) Type    { return Type{Cat: CatError, Elem: &elem} }
func TupleType(elems []Type) Type { return Type{Cat: CatTuple, Elems: elems} }

func VariantType(tag string, elems []Type) Type {
	return Type{Cat: CatVariant, VariantTag: tag, VariantElems: elems}
}

func MapType(key, val Type) Type { return Type{Cat: CatMap, MapKey: &key, MapVal: &val} }

func StructType(fields map[string]Type, order []string) Type {
	return Type{Cat: CatStruct, Fields: fields, FieldOrder: order}
}

func FnTypeOf(ft FnType) Type { return Type{Cat: CatFn, Fn: &ft} }

func RefType(scope ModPath, name string, params []Type) Type {
	return Type{Cat: CatRef, RefScope: scope, RefName: name, RefParams: params}
}

var tvarSeq int
var tvarMu sync.Mutex

// EmptyTVar allocates a fresh, unbound type variable wrapped as a Type.
func EmptyTVar() Type {
	tvarMu.Lock()
	tvarSeq++
	n := tvarSeq
	tvarMu.Unlock()
	return Type{Cat: CatTVar, TV: NewTVar(fmt.Sprintf("'t%d", n))}
}

// ErrChainName is the tag of the error-chain wrapper type recovered from
// original_source/graphix-compiler/src/node/error.rs (see SPEC_FULL.md).
const ErrChainName = "ErrChain"

// ErrChainRef builds Ref{scope: root, name: ErrChain, params: [t]}.
func ErrChainRef(t Type) Type {
	return RefType(ModPath{}, ErrChainName, []Type{t})
}

// deref follows a TVar chain to its bound content, or returns (Type{}, false)
// if it is (transitively) unbound.
func deref(t Type) (Type, bool) {
	for t.Cat == CatTVar {
		c := t.TV.Get()
		if c == nil {
			return Type{}, false
		}
		t = *c
	}
	return t, true
}

// WithDeref returns the fully dereferenced type, or ok=false if any tvar in
// the chain is unbound.
func (t Type) WithDeref() (Type, bool) { return deref(t) }

// Normalize returns the canonical form: nested Sets flattened, duplicates
// removed (by structural equality of the normalized alternatives).
func (t Type) Normalize() Type {
	if t.Cat != CatSet {
		return t
	}
	var flat []Type
	var walk func(Type)
	walk = func(x Type) {
		if x.Cat == CatSet {
			for _, e := range x.Elems {
				walk(e)
			}
			return
		}
		flat = append(flat, x.Normalize())
	}
	walk(t)
	var out []Type
	for _, c := range flat {
		dup := false
		for _, o := range out {
			if c.structEqual(o) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return Type{Cat: CatSet, Elems: out}
}

// structEqual is shallow structural equality used for Set de-duplication; it
// does not attempt unification of unbound tvars.
func (t Type) structEqual(o Type) bool {
	if t.Cat != o.Cat {
		return false
	}
	switch t.Cat {
	case CatPrimitive:
		return t.Prim == o.Prim
	case CatAny, CatBottom:
		return true
	case CatArray, CatByRef, CatError:
		return t.Elem.structEqual(*o.Elem)
	case CatTuple:
		if len(t.Elems) != len(o.Elems) {
			return false
		}
		for i := range t.Elems {
			if !t.Elems[i].structEqual(o.Elems[i]) {
				return false
			}
		}
		return true
	case CatVariant:
		if t.VariantTag != o.VariantTag || len(t.VariantElems) != len(o.VariantElems) {
			return false
		}
		for i := range t.VariantElems {
			if !t.VariantElems[i].structEqual(o.VariantElems[i]) {
				return false
			}
		}
		return true
	case CatStruct:
		if len(t.Fields) != len(o.Fields) {
			return false
		}
		for k, v := range t.Fields {
			ov, ok := o.Fields[k]
			if !ok || !v.structEqual(ov) {
				return false
			}
		}
		return true
	case CatMap:
		return t.MapKey.structEqual(*o.MapKey) && t.MapVal.structEqual(*o.MapVal)
	case CatRef:
		if t.RefName != o.RefName || len(t.RefParams) != len(o.RefParams) {
			return false
		}
		for i := range t.RefParams {
			if !t.RefParams[i].structEqual(o.RefParams[i]) {
				return false
			}
		}
		return true
	case CatTVar:
		return t.TV == o.TV
	case CatSet:
		if len(t.Elems) != len(o.Elems) {
			return false
		}
		for _, e := range t.Elems {
			found := false
			for _, oe := range o.Elems {
				if e.structEqual(oe) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	case CatFn:
		return true // structural fn-type equality is rarely needed; containment is.
	default:
		return false
	}
}

func (t Type) String() string {
	switch t.Cat {
	case CatPrimitive:
		return t.Prim.String()
	case CatAny:
		return "Any"
	case CatBottom:
		return "Bottom"
	case CatArray:
		return fmt.Sprintf("Array<%s>", t.Elem)
	case CatByRef:
		return fmt.Sprintf("ByRef<%s>", t.Elem)
	case CatError:
		return fmt.Sprintf("Error<%s>", t.Elem)
	case CatTuple:
		parts := make([]string, len(t.Elems))
		for i, e := range t.Elems {
			parts[i] = e.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case CatVariant:
		if len(t.VariantElems) == 0 {
			return "`" + t.VariantTag
		}
		parts := make([]string, len(t.VariantElems))
		for i, e := range t.VariantElems {
			parts[i] = e.String()
		}
		return "`" + t.VariantTag + "(" + strings.Join(parts, ", ") + ")"
	case CatStruct:
		keys := make([]string, 0, len(t.Fields))
		for k := range t.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s: %s", k, t.Fields[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case CatMap:
		return fmt.Sprintf("Map<%s, %s>", t.MapKey, t.MapVal)
	case CatSet:
		parts := make([]string, len(t.Elems))
		for i, e := range t.Elems {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, " | ") + "]"
	case CatFn:
		return "Fn(...)"
	case CatRef:
		return t.RefName
	case CatTVar:
		if c := t.TV.Get(); c != nil {
			return c.String()
		}
		return t.TV.Name
	default:
		return "?"
	}
}

// Union returns the smallest Type containing both self and other, collapsing
// into a Set only when the alternatives are incomparable (§4.B).
func (t Type) Union(env *Env, o Type) (Type, error) {
	if ok, _ := t.Contains(env, o); ok {
		return t, nil
	}
	if ok, _ := o.Contains(env, t); ok {
		return o, nil
	}
	if t.Cat == CatPrimitive && o.Cat == CatPrimitive {
		return Prim(t.Prim | o.Prim), nil
	}
	var parts []Type
	if t.Cat == CatSet {
		parts = append(parts, t.Elems...)
	} else {
		parts = append(parts, t)
	}
	if o.Cat == CatSet {
		parts = append(parts, o.Elems...)
	} else {
		parts = append(parts, o)
	}
	return (Type{Cat: CatSet, Elems: parts}).Normalize(), nil
}

// Diff returns the portion of self not covered by other (§4.B), used by
// select's exhaustiveness bookkeeping. The ?-operator's typecheck does not
// call it.
func (t Type) Diff(env *Env, o Type) (Type, error) {
	if t.Cat == CatSet {
		var rem []Type
		for _, e := range t.Elems {
			d, err := e.Diff(env, o)
			if err != nil {
				return Type{}, err
			}
			if d.Cat == CatBottom {
				continue
			}
			rem = append(rem, d)
		}
		if len(rem) == 0 {
			return BottomType(), nil
		}
		return (Type{Cat: CatSet, Elems: rem}).Normalize(), nil
	}
	if t.Cat == CatPrimitive && o.Cat == CatPrimitive {
		rem := t.Prim &^ o.Prim
		if rem == 0 {
			return BottomType(), nil
		}
		return Prim(rem), nil
	}
	if ok, _ := o.Contains(env, t); ok {
		return BottomType(), nil
	}
	return t, nil
}

// Contains is the non-failing subtype test: self contains other. Matching an
// unbound TVar in other aliases it to self (the write side-effect described
// in §4.B); a frozen TVar is still matched without being written.
func (t Type) Contains(env *Env, o Type) (bool, error) {
	if o.Cat == CatTVar {
		if c := o.TV.Get(); c != nil {
			return t.Contains(env, *c)
		}
		return true, o.TV.Set(t)
	}
	if t.Cat == CatTVar {
		if c := t.TV.Get(); c != nil {
			return c.Contains(env, o)
		}
		return true, nil
	}
	if t.Cat == CatAny {
		return true, nil
	}
	if o.Cat == CatBottom {
		return true, nil
	}
	if t.Cat == CatBottom {
		return o.Cat == CatBottom, nil
	}
	if t.Cat == CatSet {
		for _, e := range t.Elems {
			if ok, _ := e.Contains(env, o); ok {
				return true, nil
			}
		}
		if o.Cat == CatSet {
			for _, oe := range o.Elems {
				if ok, _ := t.Contains(env, oe); !ok {
					return false, nil
				}
			}
			return true, nil
		}
		return false, nil
	}
	if o.Cat == CatSet {
		for _, oe := range o.Elems {
			if ok, _ := t.Contains(env, oe); !ok {
				return false, nil
			}
		}
		return true, nil
	}
	if t.Cat == CatRef {
		rt, err := env.resolveRef(t)
		if err != nil {
			return false, err
		}
		return rt.Contains(env, o)
	}
	if o.Cat == CatRef {
		ro, err := env.resolveRef(o)
		if err != nil {
			return false, err
		}
		return t.Contains(env, ro)
	}
	if t.Cat != o.Cat {
		return false, nil
	}
	switch t.Cat {
	case CatPrimitive:
		return t.Prim.Contains(o.Prim), nil
	case CatArray, CatByRef:
		return t.Elem.Contains(env, *o.Elem)
	case CatError:
		return t.Elem.Contains(env, *o.Elem)
	case CatTuple:
		if len(t.Elems) != len(o.Elems) {
			return false, nil
		}
		for i := range t.Elems {
			ok, err := t.Elems[i].Contains(env, o.Elems[i])
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case CatVariant:
		if t.VariantTag != o.VariantTag || len(t.VariantElems) != len(o.VariantElems) {
			return false, nil
		}
		for i := range t.VariantElems {
			ok, err := t.VariantElems[i].Contains(env, o.VariantElems[i])
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case CatStruct:
		for k, v := range o.Fields {
			tv, ok := t.Fields[k]
			if !ok {
				return false, nil
			}
			if ok2, err := tv.Contains(env, v); err != nil || !ok2 {
				return false, err
			}
		}
		return true, nil
	case CatMap:
		ok, err := t.MapKey.Contains(env, *o.MapKey)
		if err != nil || !ok {
			return false, err
		}
		return t.MapVal.Contains(env, *o.MapVal)
	case CatFn:
		return t.Fn.contains(env, o.Fn)
	default:
		return false, nil
	}
}

func (ft *FnType) contains(env *Env, o *FnType) (bool, error) {
	if len(ft.Args) != len(o.Args) {
		return false, nil
	}
	for i := range ft.Args {
		if ft.Args[i].Label != o.Args[i].Label {
			return false, nil
		}
		ok, err := o.Args[i].Typ.Contains(env, ft.Args[i].Typ)
		if err != nil || !ok {
			return false, err
		}
	}
	return ft.RType.Contains(env, o.RType)
}

// CheckContains fails with a descriptive error when self does not contain
// other.
func (t Type) CheckContains(env *Env, o Type) error {
	ok, err := t.Contains(env, o)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("type %s does not contain %s", t, o)
	}
	return nil
}

// CouldMatch is true when self and other have a non-empty intersection; used
// to reject dead select arms (§4.H).
func (t Type) CouldMatch(env *Env, o Type) (bool, error) {
	if ok, err := t.Contains(env, o); err == nil && ok {
		return true, nil
	}
	if ok, err := o.Contains(env, t); err == nil && ok {
		return true, nil
	}
	if t.Cat == CatAny || o.Cat == CatAny {
		return true, nil
	}
	if t.Cat == CatSet {
		for _, e := range t.Elems {
			if ok, _ := e.CouldMatch(env, o); ok {
				return true, nil
			}
		}
		return false, nil
	}
	if o.Cat == CatSet {
		return o.CouldMatch(env, t)
	}
	if t.Cat == CatPrimitive && o.Cat == CatPrimitive {
		return t.Prim.Has(o.Prim) || o.Prim.Has(t.Prim) || t.Prim&o.Prim != 0, nil
	}
	if t.Cat != o.Cat {
		return false, nil
	}
	switch t.Cat {
	case CatVariant:
		return t.VariantTag == o.VariantTag, nil
	case CatArray, CatByRef, CatError:
		return t.Elem.CouldMatch(env, *o.Elem)
	default:
		return true, nil
	}
}

// AliasTVars clones every TVar reachable from t into fresh TVars recorded in
// pool (keyed by the original TVar's Name), so that a polymorphic function's
// type variables get independent inference state per call site (§4.B).
func (t Type) AliasTVars(pool map[string]*TVar) Type {
	switch t.Cat {
	case CatTVar:
		nv, ok := pool[t.TV.Name]
		if !ok {
			nv = NewTVar(t.TV.Name)
			if c := t.TV.Get(); c != nil {
				aliased := c.AliasTVars(pool)
				nv.Typ = &aliased
			}
			nv.Frozen = t.TV.Frozen
			pool[t.TV.Name] = nv
		}
		return Type{Cat: CatTVar, TV: nv}
	case CatArray, CatByRef, CatError:
		e := t.Elem.AliasTVars(pool)
		nt := t
		nt.Elem = &e
		return nt
	case CatTuple, CatSet:
		elems := make([]Type, len(t.Elems))
		for i, e := range t.Elems {
			elems[i] = e.AliasTVars(pool)
		}
		nt := t
		nt.Elems = elems
		return nt
	case CatVariant:
		elems := make([]Type, len(t.VariantElems))
		for i, e := range t.VariantElems {
			elems[i] = e.AliasTVars(pool)
		}
		nt := t
		nt.VariantElems = elems
		return nt
	case CatStruct:
		fields := make(map[string]Type, len(t.Fields))
		for k, v := range t.Fields {
			fields[k] = v.AliasTVars(pool)
		}
		nt := t
		nt.Fields = fields
		return nt
	case CatMap:
		k := t.MapKey.AliasTVars(pool)
		v := t.MapVal.AliasTVars(pool)
		nt := t
		nt.MapKey = &k
		nt.MapVal = &v
		return nt
	case CatFn:
		nf := t.Fn.Clone()
		for i := range nf.Args {
			nf.Args[i].Typ = nf.Args[i].Typ.AliasTVars(pool)
		}
		nf.RType = nf.RType.AliasTVars(pool)
		nf.Throws = nf.Throws.AliasTVars(pool)
		for k, v := range nf.Constraints {
			nf.Constraints[k] = v.AliasTVars(pool)
		}
		nt := t
		nt.Fn = &nf
		return nt
	default:
		return t
	}
}

// UnbindTVars clears every reachable TVar's bound content (not its Frozen
// flag) so that patterns compiled against this type start from a clean
// inference slate (§4.B).
func (t Type) UnbindTVars() {
	switch t.Cat {
	case CatTVar:
		t.TV.Unbind()
	case CatArray, CatByRef, CatError:
		t.Elem.UnbindTVars()
	case CatTuple, CatSet:
		for _, e := range t.Elems {
			e.UnbindTVars()
		}
	case CatVariant:
		for _, e := range t.VariantElems {
			e.UnbindTVars()
		}
	case CatStruct:
		for _, v := range t.Fields {
			v.UnbindTVars()
		}
	case CatMap:
		t.MapKey.UnbindTVars()
		t.MapVal.UnbindTVars()
	case CatFn:
		for _, a := range t.Fn.Args {
			a.Typ.UnbindTVars()
		}
		t.Fn.RType.UnbindTVars()
		t.Fn.Throws.UnbindTVars()
	}
}

// ScopeRefs rewrites unqualified Ref{Name} nodes to be relative to scope
// (§4.B); qualified refs (containing a ".") are left untouched.
func (t Type) ScopeRefs(scope ModPath) Type {
	switch t.Cat {
	case CatRef:
		if strings.Contains(t.RefName, ".") {
			return t
		}
		nt := t
		nt.RefScope = scope
		return nt
	case CatArray, CatByRef, CatError:
		e := t.Elem.ScopeRefs(scope)
		nt := t
		nt.Elem = &e
		return nt
	case CatTuple, CatSet:
		elems := make([]Type, len(t.Elems))
		for i, e := range t.Elems {
			elems[i] = e.ScopeRefs(scope)
		}
		nt := t
		nt.Elems = elems
		return nt
	default:
		return t
	}
}

// MapArgPos computes, for every argument label shared between self and o,
// the (selfIndex, otherIndex) pair. Used by the call-site permutation
// algorithm in callsite.go, grounded on FnType::map_argpos in callsite.rs.
func (ft *FnType) MapArgPos(o *FnType) map[string][2]int {
	out := map[string][2]int{}
	for i, a := range ft.Args {
		if a.Label == "" {
			continue
		}
		out[a.Label] = [2]int{i, -1}
	}
	for i, a := range o.Args {
		if a.Label == "" {
			continue
		}
		if cur, ok := out[a.Label]; ok {
			out[a.Label] = [2]int{cur[0], i}
		} else {
			out[a.Label] = [2]int{-1, i}
		}
	}
	return out
}

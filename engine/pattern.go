package engine

// PatKind tags the shape of a Pattern, mirroring select.rs's PatternNode
// variants (structure predicates vs. catch-all type predicates).
type PatKind uint8

const (
	PatWildcard PatKind = iota
	PatName
	PatLiteral
	PatTuple
	PatStruct
	PatVariant
	PatArray
	PatTypePredicate
)

// Pattern is a single match arm's left-hand side. Only one of the per-kind
// fields is meaningful, selected by Kind, the same single-struct-with-tag
// shape as Type (engine/typ.go) rather than an interface hierarchy.
type Pattern struct {
	Kind PatKind

	// PatName
	Name string

	// PatLiteral
	Lit Value

	// PatTuple, PatArray
	Elems []Pattern
	// PatArray: Rest is the name bound to the remaining slice, or "" if the
	// array pattern has no "..rest" tail.
	Rest    string
	HasRest bool

	// PatStruct
	Fields     map[string]Pattern
	FieldOrder []string

	// PatVariant
	VariantTag string

	// PatTypePredicate: matches any value whose type is contained in Typ,
	// optionally binding the whole value to Name.
	Typ Type
}

func WildcardPattern() Pattern { return Pattern{Kind: PatWildcard} }

func NamePattern(name string) Pattern { return Pattern{Kind: PatName, Name: name} }

func LiteralPattern(v Value) Pattern { return Pattern{Kind: PatLiteral, Lit: v} }

func TuplePattern(elems []Pattern) Pattern { return Pattern{Kind: PatTuple, Elems: elems} }

func ArrayPattern(elems []Pattern, rest string, hasRest bool) Pattern {
	return Pattern{Kind: PatArray, Elems: elems, Rest: rest, HasRest: hasRest}
}

func StructPattern(fields map[string]Pattern, order []string) Pattern {
	return Pattern{Kind: PatStruct, Fields: fields, FieldOrder: order}
}

func VariantPattern(tag string, elems []Pattern) Pattern {
	return Pattern{Kind: PatVariant, VariantTag: tag, Elems: elems}
}

func TypePredicatePattern(name string, typ Type) Pattern {
	return Pattern{Kind: PatTypePredicate, Name: name, Typ: typ}
}

// IsRefutable reports whether a pattern can fail to match some value of its
// static type: wildcards, bare names, and type predicates over Any never
// fail; literals always can; tuples/structs/arrays and variants (whose
// static type already fixes the tag) can fail only through a refutable
// element (select.rs's structure_predicate.is_refutable()).
func (p Pattern) IsRefutable() bool {
	switch p.Kind {
	case PatWildcard, PatName:
		return false
	case PatLiteral:
		return true
	case PatTuple, PatArray, PatVariant:
		if p.Kind == PatArray && p.HasRest {
			return true
		}
		for _, e := range p.Elems {
			if e.IsRefutable() {
				return true
			}
		}
		return false
	case PatStruct:
		for _, e := range p.Fields {
			if e.IsRefutable() {
				return true
			}
		}
		return false
	case PatTypePredicate:
		return p.Typ.Cat != CatAny
	default:
		return true
	}
}

// StaticType returns the type this pattern would match against, for use by
// select.rs-style exhaustiveness checks (engine/select.go). Structural
// patterns report the most general type consistent with their shape;
// literal/variant patterns report the exact type of the literal/tag.
func (p Pattern) StaticType() Type {
	switch p.Kind {
	case PatWildcard, PatName:
		return AnyType()
	case PatTypePredicate:
		return p.Typ
	case PatLiteral:
		return primTypeOf(p.Lit.Kind())
	case PatVariant:
		elems := make([]Type, len(p.Elems))
		for i, e := range p.Elems {
			elems[i] = e.StaticType()
		}
		return VariantType(p.VariantTag, elems)
	case PatTuple:
		elems := make([]Type, len(p.Elems))
		for i, e := range p.Elems {
			elems[i] = e.StaticType()
		}
		return TupleType(elems)
	case PatArray:
		if len(p.Elems) == 0 {
			return ArrayType(AnyType())
		}
		u := p.Elems[0].StaticType()
		for _, e := range p.Elems[1:] {
			var err error
			u, err = u.Union(nil, e.StaticType())
			if err != nil {
				u = AnyType()
			}
		}
		return ArrayType(u)
	case PatStruct:
		fields := map[string]Type{}
		for k, e := range p.Fields {
			fields[k] = e.StaticType()
		}
		return StructType(fields, append([]string(nil), p.FieldOrder...))
	default:
		return AnyType()
	}
}

func primTypeOf(k Kind) Type {
	switch k {
	case KindBool:
		return Prim(PBool)
	case KindI32:
		return Prim(PI32)
	case KindI64:
		return Prim(PI64)
	case KindU32:
		return Prim(PU32)
	case KindU64:
		return Prim(PU64)
	case KindF32:
		return Prim(PF32)
	case KindF64:
		return Prim(PF64)
	case KindString:
		return Prim(PString)
	case KindBytes:
		return Prim(PBytes)
	case KindDateTime:
		return Prim(PDateTime)
	case KindDuration:
		return Prim(PDuration)
	case KindNull:
		return Prim(PNull)
	default:
		return AnyType()
	}
}

// CouldMatch reports whether a value's static type could possibly satisfy
// this pattern, used by select.rs-style dead-arm detection before ever
// trying Bind.
func (p Pattern) CouldMatch(env *Env, vt Type) (bool, error) {
	return p.StaticType().CouldMatch(env, vt)
}

// Bind attempts to match v against p. On success it invokes f once per bound
// name (PatName, PatTypePredicate with Name set, and the "..rest" tail of an
// array pattern) and returns true. On failure it returns false without
// calling f, the same semantics as select.rs's pat.bind_event callback.
func (p Pattern) Bind(v Value, f func(name string, val Value)) bool {
	switch p.Kind {
	case PatWildcard:
		return true
	case PatName:
		f(p.Name, v)
		return true
	case PatTypePredicate:
		// Containment against a concrete value's runtime kind is checked by
		// the caller (select.go) before Bind is invoked, since Pattern alone
		// has no Env to resolve CatRef; here we only perform the bind.
		if p.Name != "" {
			f(p.Name, v)
		}
		return true
	case PatLiteral:
		return p.Lit.Equal(v)
	case PatVariant:
		tag, payload, ok := v.AsVariant()
		if !ok || tag != p.VariantTag || len(payload) != len(p.Elems) {
			return false
		}
		for i, e := range p.Elems {
			if !e.Bind(payload[i], f) {
				return false
			}
		}
		return true
	case PatTuple:
		elts, ok := v.AsArray()
		if !ok {
			elts = v.arr
		}
		if len(elts) != len(p.Elems) {
			return false
		}
		for i, e := range p.Elems {
			if !e.Bind(elts[i], f) {
				return false
			}
		}
		return true
	case PatArray:
		elts, ok := v.AsArray()
		if !ok {
			return false
		}
		if p.HasRest {
			if len(elts) < len(p.Elems) {
				return false
			}
			for i, e := range p.Elems {
				if !e.Bind(elts[i], f) {
					return false
				}
			}
			if p.Rest != "" {
				f(p.Rest, NewArray(append([]Value(nil), elts[len(p.Elems):]...)))
			}
			return true
		}
		if len(elts) != len(p.Elems) {
			return false
		}
		for i, e := range p.Elems {
			if !e.Bind(elts[i], f) {
				return false
			}
		}
		return true
	case PatStruct:
		entries, ok := v.AsMap()
		if !ok {
			return false
		}
		byName := map[string]Value{}
		for _, me := range entries {
			k, ok := me.Key.AsString()
			if !ok {
				return false
			}
			byName[k] = me.Val
		}
		for name, fp := range p.Fields {
			fv, ok := byName[name]
			if !ok {
				return false
			}
			if !fp.Bind(fv, f) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

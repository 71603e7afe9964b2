package engine

import "fmt"

// aggregateBase factors the "update fan-in, emit once all children are
// determined and at least one updated" rule shared by the Array/Tuple/Variant
// constructors and Interpolation (§4.E).
type aggregateBase struct {
	children []*Cached
	typ      Type
	ori      Origin
}

func newAggregateBase(kids []Node, t Type, ori Origin) aggregateBase {
	cached := make([]*Cached, len(kids))
	for i, k := range kids {
		cached[i] = NewCached(k)
	}
	return aggregateBase{children: cached, typ: t, ori: ori}
}

func (a *aggregateBase) values() ([]Value, bool) {
	vals := make([]Value, len(a.children))
	for i, c := range a.children {
		v, ok := c.Value()
		if !ok {
			return nil, false
		}
		vals[i] = v
	}
	return vals, true
}

func (a *aggregateBase) typecheck(ctx *ExecCtx) error {
	for _, c := range a.children {
		if err := c.Typecheck(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *aggregateBase) refs(out *Refs) {
	for _, c := range a.children {
		c.Refs(out)
	}
}

func (a *aggregateBase) delete(ctx *ExecCtx) {
	for _, c := range a.children {
		c.Delete(ctx)
	}
}

func (a *aggregateBase) sleep(ctx *ExecCtx) {
	for _, c := range a.children {
		c.Sleep(ctx)
	}
}

// ArrayCons builds an Array value from its element children.
type ArrayCons struct{ aggregateBase }

func NewArrayCons(elems []Node, elemType Type, ori Origin) *ArrayCons {
	return &ArrayCons{newAggregateBase(elems, ArrayType(elemType), ori)}
}

func (n *ArrayCons) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	anyUpdated, allDetermined := UpdateAll(ctx, ev, n.children)
	if !anyUpdated || !allDetermined {
		return Value{}, false
	}
	vals, _ := n.values()
	return NewArray(vals), true
}

func (n *ArrayCons) Typecheck(ctx *ExecCtx) error { return n.typecheck(ctx) }
func (n *ArrayCons) Refs(out *Refs)               { n.refs(out) }
func (n *ArrayCons) Delete(ctx *ExecCtx)          { n.delete(ctx) }
func (n *ArrayCons) Sleep(ctx *ExecCtx)           { n.sleep(ctx) }
func (n *ArrayCons) Typ() Type                    { return n.typ }
func (n *ArrayCons) Origin() Origin               { return n.ori }

// TupleCons builds a Tuple value from its element children.
type TupleCons struct{ aggregateBase }

func NewTupleCons(elems []Node, elemTypes []Type, ori Origin) *TupleCons {
	return &TupleCons{newAggregateBase(elems, TupleType(elemTypes), ori)}
}

func (n *TupleCons) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	anyUpdated, allDetermined := UpdateAll(ctx, ev, n.children)
	if !anyUpdated || !allDetermined {
		return Value{}, false
	}
	vals, _ := n.values()
	return NewTuple(vals), true
}

func (n *TupleCons) Typecheck(ctx *ExecCtx) error { return n.typecheck(ctx) }
func (n *TupleCons) Refs(out *Refs)               { n.refs(out) }
func (n *TupleCons) Delete(ctx *ExecCtx)          { n.delete(ctx) }
func (n *TupleCons) Sleep(ctx *ExecCtx)           { n.sleep(ctx) }
func (n *TupleCons) Typ() Type                    { return n.typ }
func (n *TupleCons) Origin() Origin               { return n.ori }

// VariantCons builds a Variant(tag, payload) value from its payload children.
type VariantCons struct {
	aggregateBase
	tag string
}

func NewVariantCons(tag string, elems []Node, elemTypes []Type, ori Origin) *VariantCons {
	return &VariantCons{newAggregateBase(elems, VariantType(tag, elemTypes), ori), tag}
}

func (n *VariantCons) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	if len(n.children) == 0 {
		if ev.Init {
			return NewVariant(n.tag, nil), true
		}
		return Value{}, false
	}
	anyUpdated, allDetermined := UpdateAll(ctx, ev, n.children)
	if !anyUpdated || !allDetermined {
		return Value{}, false
	}
	vals, _ := n.values()
	return NewVariant(n.tag, vals), true
}

func (n *VariantCons) Typecheck(ctx *ExecCtx) error { return n.typecheck(ctx) }
func (n *VariantCons) Refs(out *Refs)               { n.refs(out) }
func (n *VariantCons) Delete(ctx *ExecCtx)          { n.delete(ctx) }
func (n *VariantCons) Sleep(ctx *ExecCtx)           { n.sleep(ctx) }
func (n *VariantCons) Typ() Type                    { return n.typ }
func (n *VariantCons) Origin() Origin               { return n.ori }

// structEntry pairs a struct/map field's key with the child producing its
// value.
type structEntry struct {
	key   string
	child *Cached
}

// StructCons builds a Struct (represented as a Map value keyed by field
// name) from its field children.
type StructCons struct {
	fields []structEntry
	order  []string
	typ    Type
	ori    Origin
}

func NewStructCons(fields map[string]Node, order []string, fieldTypes map[string]Type, ori Origin) *StructCons {
	entries := make([]structEntry, len(order))
	for i, k := range order {
		entries[i] = structEntry{key: k, child: NewCached(fields[k])}
	}
	return &StructCons{fields: entries, order: order, typ: StructType(fieldTypes, order), ori: ori}
}

func (n *StructCons) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	anyUpdated, allDetermined := true, true
	any := false
	for _, e := range n.fields {
		if e.child.Update(ctx, ev) {
			any = true
		}
		if _, ok := e.child.Value(); !ok {
			allDetermined = false
		}
	}
	anyUpdated = any
	if !anyUpdated || !allDetermined {
		return Value{}, false
	}
	entries := make([]MapEntry, len(n.fields))
	for i, e := range n.fields {
		v, _ := e.child.Value()
		entries[i] = MapEntry{Key: NewString(e.key), Val: v}
	}
	return NewMap(entries), true
}

func (n *StructCons) Typecheck(ctx *ExecCtx) error {
	for _, e := range n.fields {
		if err := e.child.Typecheck(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (n *StructCons) Refs(out *Refs) {
	for _, e := range n.fields {
		e.child.Refs(out)
	}
}

func (n *StructCons) Delete(ctx *ExecCtx) {
	for _, e := range n.fields {
		e.child.Delete(ctx)
	}
}

func (n *StructCons) Sleep(ctx *ExecCtx) {
	for _, e := range n.fields {
		e.child.Sleep(ctx)
	}
}

func (n *StructCons) Typ() Type      { return n.typ }
func (n *StructCons) Origin() Origin { return n.ori }

// MapCons builds a Map value from parallel key/value children.
type MapCons struct {
	keys, vals []*Cached
	typ        Type
	ori        Origin
}

func NewMapCons(keys, vals []Node, keyType, valType Type, ori Origin) *MapCons {
	kc := make([]*Cached, len(keys))
	vc := make([]*Cached, len(vals))
	for i := range keys {
		kc[i] = NewCached(keys[i])
		vc[i] = NewCached(vals[i])
	}
	return &MapCons{keys: kc, vals: vc, typ: MapType(keyType, valType), ori: ori}
}

func (n *MapCons) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	anyUpdated := false
	allDetermined := true
	for i := range n.keys {
		if n.keys[i].Update(ctx, ev) {
			anyUpdated = true
		}
		if n.vals[i].Update(ctx, ev) {
			anyUpdated = true
		}
		if _, ok := n.keys[i].Value(); !ok {
			allDetermined = false
		}
		if _, ok := n.vals[i].Value(); !ok {
			allDetermined = false
		}
	}
	if !anyUpdated || !allDetermined {
		return Value{}, false
	}
	entries := make([]MapEntry, len(n.keys))
	seen := map[string]bool{}
	for i := range n.keys {
		k, _ := n.keys[i].Value()
		v, _ := n.vals[i].Value()
		if seen[k.String()] {
			return NewError(NewString(fmt.Sprintf("duplicate map key at %s", n.ori))), true
		}
		seen[k.String()] = true
		entries[i] = MapEntry{Key: k, Val: v}
	}
	return NewMap(entries), true
}

func (n *MapCons) Typecheck(ctx *ExecCtx) error {
	for i := range n.keys {
		if err := n.keys[i].Typecheck(ctx); err != nil {
			return err
		}
		if err := n.vals[i].Typecheck(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (n *MapCons) Refs(out *Refs) {
	for i := range n.keys {
		n.keys[i].Refs(out)
		n.vals[i].Refs(out)
	}
}

func (n *MapCons) Delete(ctx *ExecCtx) {
	for i := range n.keys {
		n.keys[i].Delete(ctx)
		n.vals[i].Delete(ctx)
	}
}

func (n *MapCons) Sleep(ctx *ExecCtx) {
	for i := range n.keys {
		n.keys[i].Sleep(ctx)
		n.vals[i].Sleep(ctx)
	}
}

func (n *MapCons) Typ() Type      { return n.typ }
func (n *MapCons) Origin() Origin { return n.ori }

// Interpolation concatenates the string rendering of its children once all
// are determined and at least one updated, the same fan-in discipline as
// the other aggregate constructors.
type Interpolation struct{ aggregateBase }

func NewInterpolation(parts []Node, ori Origin) *Interpolation {
	return &Interpolation{newAggregateBase(parts, Prim(PString), ori)}
}

func (n *Interpolation) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	anyUpdated, allDetermined := UpdateAll(ctx, ev, n.children)
	if !anyUpdated || !allDetermined {
		return Value{}, false
	}
	vals, _ := n.values()
	s := ""
	for _, v := range vals {
		s += v.String()
	}
	return NewString(s), true
}

func (n *Interpolation) Typecheck(ctx *ExecCtx) error { return n.typecheck(ctx) }
func (n *Interpolation) Refs(out *Refs)               { n.refs(out) }
func (n *Interpolation) Delete(ctx *ExecCtx)          { n.delete(ctx) }
func (n *Interpolation) Sleep(ctx *ExecCtx)           { n.sleep(ctx) }
func (n *Interpolation) Typ() Type                    { return n.typ }
func (n *Interpolation) Origin() Origin               { return n.ori }

// resolveIndex applies negative-index wraparound and bounds-checks idx
// against length n, returning the resolved index or ok=false.
func resolveIndex(idx int64, n int) (int, bool) {
	i := idx
	if i < 0 {
		i += int64(n)
	}
	if i < 0 || i >= int64(n) {
		return 0, false
	}
	return int(i), true
}

// ArrayRef indexes an array with bounds checking and negative-index
// wraparound. Out-of-bounds is routed directly to the enclosing catch frame
// as an ArrayIndexError, the same "resolve a catch frame id at compile
// time" discipline arithmetic operators use (§4.E).
type ArrayRef struct {
	arr, idx *Cached
	catchID  BindId
	hasCatch bool
	owner    ExprId
	typ      Type
	ori      Origin
}

func NewArrayRef(arr, idx Node, catchID BindId, hasCatch bool, owner ExprId, elemType Type, ori Origin) *ArrayRef {
	return &ArrayRef{arr: NewCached(arr), idx: NewCached(idx), catchID: catchID, hasCatch: hasCatch, owner: owner, typ: elemType, ori: ori}
}

func (n *ArrayRef) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	arrUpdated := n.arr.Update(ctx, ev)
	idxUpdated := n.idx.Update(ctx, ev)
	if !arrUpdated && !idxUpdated {
		return Value{}, false
	}
	arrVal, ok1 := n.arr.Value()
	idxVal, ok2 := n.idx.Value()
	if !ok1 || !ok2 {
		return Value{}, false
	}
	elts, _ := arrVal.AsArray()
	i64, _ := idxVal.AsI64()
	i, ok := resolveIndex(i64, len(elts))
	if !ok {
		msg := fmt.Sprintf("index %d out of bounds for array of length %d", i64, len(elts))
		if n.hasCatch {
			ThrowToCatch(ctx, ev, n.catchID, NewTaggedError(ArrayIndexErrorTag, msg), n.ori)
			return Value{}, false
		}
		return NewError(NewTaggedError(ArrayIndexErrorTag, msg)), true
	}
	return elts[i], true
}

func (n *ArrayRef) Typecheck(ctx *ExecCtx) error {
	if err := n.arr.Typecheck(ctx); err != nil {
		return err
	}
	if err := n.idx.Typecheck(ctx); err != nil {
		return err
	}
	if n.hasCatch {
		if err := UnionIntoCatch(ctx.Env, n.catchID, VariantType(ArrayIndexErrorTag, []Type{Prim(PString)})); err != nil {
			return err
		}
	}
	return nil
}

func (n *ArrayRef) Refs(out *Refs) {
	n.arr.Refs(out)
	n.idx.Refs(out)
	if n.hasCatch {
		out.addRefed(n.catchID)
	}
}

func (n *ArrayRef) Delete(ctx *ExecCtx) {
	n.arr.Delete(ctx)
	n.idx.Delete(ctx)
	if n.hasCatch {
		ctx.UnrefVar(n.catchID, n.owner)
	}
}

func (n *ArrayRef) Sleep(ctx *ExecCtx) {
	n.arr.Sleep(ctx)
	n.idx.Sleep(ctx)
}

func (n *ArrayRef) Typ() Type      { return n.typ }
func (n *ArrayRef) Origin() Origin { return n.ori }

// ArraySlice extracts a[start:end] with optional bounds, same wraparound
// and error discipline as ArrayRef.
type ArraySlice struct {
	arr, start, end *Cached
	hasStart, hasEnd bool
	catchID          BindId
	hasCatch         bool
	owner            ExprId
	typ              Type
	ori              Origin
}

func NewArraySlice(arr, start, end Node, hasStart, hasEnd bool, catchID BindId, hasCatch bool, owner ExprId, elemType Type, ori Origin) *ArraySlice {
	s := &ArraySlice{arr: NewCached(arr), hasStart: hasStart, hasEnd: hasEnd, catchID: catchID, hasCatch: hasCatch, owner: owner, typ: ArrayType(elemType), ori: ori}
	if hasStart {
		s.start = NewCached(start)
	}
	if hasEnd {
		s.end = NewCached(end)
	}
	return s
}

func (n *ArraySlice) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	anyUpdated := n.arr.Update(ctx, ev)
	if n.hasStart {
		if n.start.Update(ctx, ev) {
			anyUpdated = true
		}
	}
	if n.hasEnd {
		if n.end.Update(ctx, ev) {
			anyUpdated = true
		}
	}
	if !anyUpdated {
		return Value{}, false
	}
	arrVal, ok := n.arr.Value()
	if !ok {
		return Value{}, false
	}
	elts, _ := arrVal.AsArray()
	start := int64(0)
	if n.hasStart {
		sv, ok := n.start.Value()
		if !ok {
			return Value{}, false
		}
		start, _ = sv.AsI64()
	}
	end := int64(len(elts))
	if n.hasEnd {
		ev2, ok := n.end.Value()
		if !ok {
			return Value{}, false
		}
		end, _ = ev2.AsI64()
	}
	// A negative bound counts back from the end as in ArrayRef; a resolved
	// bound may equal len(elts).
	wrap := func(i int64) (int, bool) {
		if i < 0 {
			i += int64(len(elts))
		}
		return int(i), i >= 0 && i <= int64(len(elts))
	}
	si, ok1 := wrap(start)
	ei, ok2 := wrap(end)
	if !ok1 || !ok2 || si > ei {
		msg := fmt.Sprintf("slice [%d:%d] out of bounds for array of length %d", start, end, len(elts))
		if n.hasCatch {
			ThrowToCatch(ctx, ev, n.catchID, NewTaggedError(ArrayIndexErrorTag, msg), n.ori)
			return Value{}, false
		}
		return NewError(NewTaggedError(ArrayIndexErrorTag, msg)), true
	}
	return NewArray(append([]Value(nil), elts[si:ei]...)), true
}

func (n *ArraySlice) Typecheck(ctx *ExecCtx) error {
	if err := n.arr.Typecheck(ctx); err != nil {
		return err
	}
	if n.hasStart {
		if err := n.start.Typecheck(ctx); err != nil {
			return err
		}
	}
	if n.hasEnd {
		if err := n.end.Typecheck(ctx); err != nil {
			return err
		}
	}
	if n.hasCatch {
		return UnionIntoCatch(ctx.Env, n.catchID, VariantType(ArrayIndexErrorTag, []Type{Prim(PString)}))
	}
	return nil
}

func (n *ArraySlice) Refs(out *Refs) {
	n.arr.Refs(out)
	if n.hasStart {
		n.start.Refs(out)
	}
	if n.hasEnd {
		n.end.Refs(out)
	}
	if n.hasCatch {
		out.addRefed(n.catchID)
	}
}

func (n *ArraySlice) Delete(ctx *ExecCtx) {
	n.arr.Delete(ctx)
	if n.hasStart {
		n.start.Delete(ctx)
	}
	if n.hasEnd {
		n.end.Delete(ctx)
	}
	if n.hasCatch {
		ctx.UnrefVar(n.catchID, n.owner)
	}
}

func (n *ArraySlice) Sleep(ctx *ExecCtx) {
	n.arr.Sleep(ctx)
	if n.hasStart {
		n.start.Sleep(ctx)
	}
	if n.hasEnd {
		n.end.Sleep(ctx)
	}
}

func (n *ArraySlice) Typ() Type      { return n.typ }
func (n *ArraySlice) Origin() Origin { return n.ori }

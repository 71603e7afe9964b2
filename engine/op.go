package engine

import (
	"fmt"
	"time"
)

// CmpKind enumerates the comparison operators.
type CmpKind uint8

const (
	CmpEq CmpKind = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

// CompareOp caches both operands and emits a bool once both are determined
// and at least one updated, the shared binary-operator shape of §4.E
// (grounded on op.rs's compare_op! macro).
type CompareOp struct {
	lhs, rhs *Cached
	kind     CmpKind
	ori      Origin
}

func NewCompareOp(lhs, rhs Node, kind CmpKind, ori Origin) *CompareOp {
	return &CompareOp{lhs: NewCached(lhs), rhs: NewCached(rhs), kind: kind, ori: ori}
}

func (n *CompareOp) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	lu := n.lhs.Update(ctx, ev)
	ru := n.rhs.Update(ctx, ev)
	if !lu && !ru {
		return Value{}, false
	}
	lv, ok1 := n.lhs.Value()
	rv, ok2 := n.rhs.Value()
	if !ok1 || !ok2 {
		return Value{}, false
	}
	var b bool
	switch n.kind {
	case CmpEq:
		b = lv.Equal(rv)
	case CmpNe:
		b = !lv.Equal(rv)
	default:
		c, ok := lv.Compare(rv)
		if !ok {
			return NewError(NewTaggedError(ArithErrorTag, fmt.Sprintf("%s and %s are not comparable", lv.Kind(), rv.Kind()))), true
		}
		switch n.kind {
		case CmpLt:
			b = c < 0
		case CmpLe:
			b = c <= 0
		case CmpGt:
			b = c > 0
		case CmpGe:
			b = c >= 0
		}
	}
	return NewBool(b), true
}

func (n *CompareOp) Typecheck(ctx *ExecCtx) error {
	if err := n.lhs.Typecheck(ctx); err != nil {
		return err
	}
	return n.rhs.Typecheck(ctx)
}

func (n *CompareOp) Refs(out *Refs) {
	n.lhs.Refs(out)
	n.rhs.Refs(out)
}

func (n *CompareOp) Delete(ctx *ExecCtx) {
	n.lhs.Delete(ctx)
	n.rhs.Delete(ctx)
}

func (n *CompareOp) Sleep(ctx *ExecCtx) {
	n.lhs.Sleep(ctx)
	n.rhs.Sleep(ctx)
}

func (n *CompareOp) Typ() Type      { return Prim(PBool) }
func (n *CompareOp) Origin() Origin { return n.ori }

// BoolKind enumerates the boolean connectives.
type BoolKind uint8

const (
	BoolAnd BoolKind = iota
	BoolOr
)

// BoolOp, like CompareOp, does not short-circuit: both operands are cached
// and the result is only emitted once both are determined (§4.E).
type BoolOp struct {
	lhs, rhs *Cached
	kind     BoolKind
	ori      Origin
}

func NewBoolOp(lhs, rhs Node, kind BoolKind, ori Origin) *BoolOp {
	return &BoolOp{lhs: NewCached(lhs), rhs: NewCached(rhs), kind: kind, ori: ori}
}

func (n *BoolOp) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	lu := n.lhs.Update(ctx, ev)
	ru := n.rhs.Update(ctx, ev)
	if !lu && !ru {
		return Value{}, false
	}
	lv, ok1 := n.lhs.Value()
	rv, ok2 := n.rhs.Value()
	if !ok1 || !ok2 {
		return Value{}, false
	}
	a, _ := lv.AsBool()
	b, _ := rv.AsBool()
	var r bool
	if n.kind == BoolAnd {
		r = a && b
	} else {
		r = a || b
	}
	return NewBool(r), true
}

func (n *BoolOp) Typecheck(ctx *ExecCtx) error {
	if err := n.lhs.Typecheck(ctx); err != nil {
		return err
	}
	return n.rhs.Typecheck(ctx)
}

func (n *BoolOp) Refs(out *Refs) {
	n.lhs.Refs(out)
	n.rhs.Refs(out)
}

func (n *BoolOp) Delete(ctx *ExecCtx) {
	n.lhs.Delete(ctx)
	n.rhs.Delete(ctx)
}

func (n *BoolOp) Sleep(ctx *ExecCtx) {
	n.lhs.Sleep(ctx)
	n.rhs.Sleep(ctx)
}

func (n *BoolOp) Typ() Type      { return Prim(PBool) }
func (n *BoolOp) Origin() Origin { return n.ori }

// NotOp is the unary boolean negation.
type NotOp struct {
	child *Cached
	ori   Origin
}

func NewNotOp(child Node, ori Origin) *NotOp { return &NotOp{child: NewCached(child), ori: ori} }

func (n *NotOp) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	if !n.child.Update(ctx, ev) {
		return Value{}, false
	}
	v, ok := n.child.Value()
	if !ok {
		return Value{}, false
	}
	b, _ := v.AsBool()
	return NewBool(!b), true
}

func (n *NotOp) Typecheck(ctx *ExecCtx) error { return n.child.Typecheck(ctx) }
func (n *NotOp) Refs(out *Refs)               { n.child.Refs(out) }
func (n *NotOp) Delete(ctx *ExecCtx)          { n.child.Delete(ctx) }
func (n *NotOp) Sleep(ctx *ExecCtx)           { n.child.Sleep(ctx) }
func (n *NotOp) Typ() Type                    { return Prim(PBool) }
func (n *NotOp) Origin() Origin               { return n.ori }

// ArithKind enumerates the arithmetic operators.
type ArithKind uint8

const (
	ArithAdd ArithKind = iota
	ArithSub
	ArithMul
	ArithDiv
	ArithMod
)

// ArithOp implements the numeric/DateTime/Duration promotion table of §6.
// Like ArrayRef, it resolves a catch frame id at compile time (arithmetic
// can throw: division by zero, overflow, ill-typed combinations reaching
// runtime despite typecheck) and routes failures through it as ArithError
// (grounded on op.rs's arith_op! macro).
type ArithOp struct {
	lhs, rhs *Cached
	kind     ArithKind
	catchID  BindId
	hasCatch bool
	owner    ExprId
	typ      Type
	ori      Origin
}

func NewArithOp(lhs, rhs Node, kind ArithKind, catchID BindId, hasCatch bool, owner ExprId, resultType Type, ori Origin) *ArithOp {
	return &ArithOp{lhs: NewCached(lhs), rhs: NewCached(rhs), kind: kind, catchID: catchID, hasCatch: hasCatch, owner: owner, typ: resultType, ori: ori}
}

func (n *ArithOp) throw(ctx *ExecCtx, ev *Event, msg string) (Value, bool) {
	tagged := NewTaggedError(ArithErrorTag, msg)
	if n.hasCatch {
		ThrowToCatch(ctx, ev, n.catchID, tagged, n.ori)
		return Value{}, false
	}
	return NewError(tagged), true
}

func (n *ArithOp) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	lu := n.lhs.Update(ctx, ev)
	ru := n.rhs.Update(ctx, ev)
	if !lu && !ru {
		return Value{}, false
	}
	lv, ok1 := n.lhs.Value()
	rv, ok2 := n.rhs.Value()
	if !ok1 || !ok2 {
		return Value{}, false
	}
	return arithApply(n.kind, lv, rv, n.ori, ctx, ev, n.throw)
}

func arithApply(kind ArithKind, lv, rv Value, ori Origin, ctx *ExecCtx, ev *Event, throw func(*ExecCtx, *Event, string) (Value, bool)) (Value, bool) {
	lk, rk := lv.Kind(), rv.Kind()
	switch {
	case isNumeric(lk) && isNumeric(rk):
		return arithNumeric(kind, lv, rv, throw, ctx, ev)
	case lk == KindDateTime && rk == KindDuration:
		dt, _ := lv.AsDateTime()
		d, _ := rv.AsDuration()
		switch kind {
		case ArithAdd:
			return NewDateTime(dt.Add(d)), true
		case ArithSub:
			return NewDateTime(dt.Add(-d)), true
		}
	case lk == KindDateTime && rk == KindDateTime && kind == ArithSub:
		a, _ := lv.AsDateTime()
		b, _ := rv.AsDateTime()
		return NewDuration(a.Sub(b)), true
	case lk == KindDuration && rk == KindDuration:
		a, _ := lv.AsDuration()
		b, _ := rv.AsDuration()
		switch kind {
		case ArithAdd:
			return NewDuration(a + b), true
		case ArithSub:
			return NewDuration(a - b), true
		}
	case lk == KindDuration && isNumeric(rk):
		d, _ := lv.AsDuration()
		f, _ := rv.AsF64()
		switch kind {
		case ArithMul:
			return NewDuration(time.Duration(float64(d) * f)), true
		case ArithDiv:
			if f == 0 {
				return throw(ctx, ev, "division by zero")
			}
			return NewDuration(time.Duration(float64(d) / f)), true
		}
	case isNumeric(lk) && rk == KindDuration && kind == ArithMul:
		f, _ := lv.AsF64()
		d, _ := rv.AsDuration()
		return NewDuration(time.Duration(f * float64(d))), true
	}
	return throw(ctx, ev, fmt.Sprintf("illegal operand types %s, %s", lk, rk))
}

// widen picks the wider of two numeric Kinds: float beats int, 64-bit beats
// 32-bit. arithNumeric uses it only to choose float or integer arithmetic;
// the result does not keep the widened Kind: integer results are always
// i64 and float results are always f64.
func widen(a, b Kind) Kind {
	rank := func(k Kind) int {
		switch k {
		case KindI32, KindU32:
			return 0
		case KindI64, KindU64:
			return 1
		case KindF32:
			return 2
		case KindF64:
			return 3
		default:
			return -1
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

func arithNumeric(kind ArithKind, lv, rv Value, throw func(*ExecCtx, *Event, string) (Value, bool), ctx *ExecCtx, ev *Event) (Value, bool) {
	result := widen(lv.Kind(), rv.Kind())
	if result == KindF32 || result == KindF64 {
		a, _ := lv.AsF64()
		b, _ := rv.AsF64()
		switch kind {
		case ArithAdd:
			return NewF64(a + b), true
		case ArithSub:
			return NewF64(a - b), true
		case ArithMul:
			return NewF64(a * b), true
		case ArithDiv:
			if b == 0 {
				return throw(ctx, ev, "division by zero")
			}
			return NewF64(a / b), true
		case ArithMod:
			if b == 0 {
				return throw(ctx, ev, "division by zero")
			}
			return NewF64(float64(int64(a) % int64(b))), true
		}
	}
	a, _ := lv.AsI64()
	b, _ := rv.AsI64()
	switch kind {
	case ArithAdd:
		return NewI64(a + b), true
	case ArithSub:
		return NewI64(a - b), true
	case ArithMul:
		return NewI64(a * b), true
	case ArithDiv:
		if b == 0 {
			return throw(ctx, ev, "division by zero")
		}
		return NewI64(a / b), true
	case ArithMod:
		if b == 0 {
			return throw(ctx, ev, "division by zero")
		}
		return NewI64(a % b), true
	}
	return throw(ctx, ev, "unreachable arithmetic kind")
}

func (n *ArithOp) Typecheck(ctx *ExecCtx) error {
	if err := n.lhs.Typecheck(ctx); err != nil {
		return err
	}
	if err := n.rhs.Typecheck(ctx); err != nil {
		return err
	}
	if n.hasCatch {
		return UnionIntoCatch(ctx.Env, n.catchID, VariantType(ArithErrorTag, []Type{Prim(PString)}))
	}
	return nil
}

func (n *ArithOp) Refs(out *Refs) {
	n.lhs.Refs(out)
	n.rhs.Refs(out)
	if n.hasCatch {
		out.addRefed(n.catchID)
	}
}

func (n *ArithOp) Delete(ctx *ExecCtx) {
	n.lhs.Delete(ctx)
	n.rhs.Delete(ctx)
	if n.hasCatch {
		ctx.UnrefVar(n.catchID, n.owner)
	}
}

func (n *ArithOp) Sleep(ctx *ExecCtx) {
	n.lhs.Sleep(ctx)
	n.rhs.Sleep(ctx)
}

func (n *ArithOp) Typ() Type      { return n.typ }
func (n *ArithOp) Origin() Origin { return n.ori }

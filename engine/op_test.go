package engine

import "testing"

// unwrapThrown pulls the tagged payload back out of a TryCatch-emitted
// error: the handler receives the §6 wire shape {error,cause,ori,pos}, and
// "error" holds the originally thrown tagged variant.
func unwrapThrown(t *testing.T, v Value) (string, []Value) {
	t.Helper()
	if !v.IsError() {
		t.Fatalf("expected an error value, got %s", v.Kind())
	}
	wrapped, _ := v.AsError()
	entries, ok := wrapped.AsMap()
	if !ok {
		t.Fatalf("expected wrapped error to be a map, got %s", wrapped.Kind())
	}
	var payload Value
	found := false
	for _, e := range entries {
		if k, _ := e.Key.AsString(); k == "error" {
			payload = e.Val
			found = true
		}
	}
	if !found {
		t.Fatalf("wrapped error has no \"error\" key: %v", entries)
	}
	tag, elems, ok := payload.AsVariant()
	if !ok {
		t.Fatalf("expected tagged variant payload, got %s", payload.Kind())
	}
	return tag, elems
}

// TestArithDivideByZeroCaught is the §8 scenario: `try { 1 / 0 } catch (e: Any) => e`
// must produce an ArithError routed through the enclosing catch frame rather
// than a Go panic or a silently dropped cycle.
func TestArithDivideByZeroCaught(t *testing.T) {
	ori := Origin{Text: "1 / 0", Line: 1, Col: 1}
	owner := NewExprId()

	env := NewEnv()
	catchBind := env.BindVariable(ModPath{}, "tc0", Type{Cat: CatTVar, TV: NewTVar("'catch0")})
	catchID := catchBind.Id

	lhs := NewConstant(NewI64(1), Prim(PI64), ori)
	rhs := NewConstant(NewI64(0), Prim(PI64), ori)
	body := NewArithOp(lhs, rhs, ArithDiv, catchID, true, owner, Prim(PI64), ori)
	handler := NewVarRef(catchID, owner, AnyType(), ori)
	root := NewTryCatch(catchID, body, handler, owner, AnyType(), ori)

	rt := newFakeRt()
	ctx := NewExecCtx(env, rt, Options{})
	if err := TypecheckTree(ctx, root); err != nil {
		t.Fatalf("typecheck: %v", err)
	}

	drv := NewDriver(ctx, []Node{root})
	out := drv.Cycle()
	if len(out) != 1 {
		t.Fatalf("expected exactly one emitted value, got %d", len(out))
	}

	tag, elems := unwrapThrown(t, out[0])
	if tag != ArithErrorTag {
		t.Fatalf("expected tag %q, got %q", ArithErrorTag, tag)
	}
	if len(elems) != 1 {
		t.Fatalf("expected a single string payload, got %d elements", len(elems))
	}
	if _, ok := elems[0].AsString(); !ok {
		t.Errorf("expected payload to be a string, got %s", elems[0].Kind())
	}

	drv.Delete()
}

// TestArithDivideByZeroUncaught confirms that without a catch frame, the
// ArithOp itself emits the raw tagged error value rather than routing
// anywhere (§7 "outside any catch frame").
func TestArithDivideByZeroUncaught(t *testing.T) {
	ori := Origin{Text: "1 / 0", Line: 1, Col: 1}
	owner := NewExprId()

	lhs := NewConstant(NewI64(1), Prim(PI64), ori)
	rhs := NewConstant(NewI64(0), Prim(PI64), ori)
	root := NewArithOp(lhs, rhs, ArithDiv, 0, false, owner, Prim(PI64), ori)

	rt := newFakeRt()
	ctx := NewExecCtx(NewEnv(), rt, Options{})
	if err := TypecheckTree(ctx, root); err != nil {
		t.Fatalf("typecheck: %v", err)
	}

	drv := NewDriver(ctx, []Node{root})
	out := drv.Cycle()
	if len(out) != 1 {
		t.Fatalf("expected exactly one emitted value, got %d", len(out))
	}
	if !out[0].IsError() {
		t.Fatalf("expected an error value, got %s", out[0].Kind())
	}
	payload, _ := out[0].AsError()
	tag, _, ok := payload.AsVariant()
	if !ok || tag != ArithErrorTag {
		t.Fatalf("expected a bare %s variant, got %v", ArithErrorTag, payload)
	}
	drv.Delete()
}

func TestArithPromotionWidensToFloat(t *testing.T) {
	ori := Origin{Text: "1 + 2.0", Line: 1, Col: 1}
	owner := NewExprId()

	lhs := NewConstant(NewI64(1), Prim(PI64), ori)
	rhs := NewConstant(NewF64(2.0), Prim(PF64), ori)
	root := NewArithOp(lhs, rhs, ArithAdd, 0, false, owner, Prim(PF64), ori)

	rt := newFakeRt()
	ctx := NewExecCtx(NewEnv(), rt, Options{})
	drv := NewDriver(ctx, []Node{root})
	out := drv.Cycle()
	if len(out) != 1 {
		t.Fatalf("expected exactly one emitted value, got %d", len(out))
	}
	if out[0].Kind() != KindF64 {
		t.Fatalf("expected result to widen to f64, got %s", out[0].Kind())
	}
	f, _ := out[0].AsF64()
	if f != 3.0 {
		t.Errorf("1 + 2.0 = %v, want 3.0", f)
	}
	drv.Delete()
}

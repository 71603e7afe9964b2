package engine

import "testing"

func arrConst(elems []int64, ori Origin) *Constant {
	vals := make([]Value, len(elems))
	for i, e := range elems {
		vals[i] = NewI64(e)
	}
	return NewConstant(NewArray(vals), ArrayType(Prim(PI64)), ori)
}

// TestArrayRefNegativeWraparound exercises the "-1 means last element" rule
// of §6's array indexing.
func TestArrayRefNegativeWraparound(t *testing.T) {
	ori := Origin{Text: "a[-1]", Line: 1, Col: 1}
	owner := NewExprId()

	arr := arrConst([]int64{10, 20, 30}, ori)
	idx := NewConstant(NewI64(-1), Prim(PI64), ori)
	root := NewArrayRef(arr, idx, 0, false, owner, Prim(PI64), ori)

	rt := newFakeRt()
	ctx := NewExecCtx(NewEnv(), rt, Options{})
	drv := NewDriver(ctx, []Node{root})
	out := drv.Cycle()
	if len(out) != 1 {
		t.Fatalf("expected one output, got %d", len(out))
	}
	v, ok := out[0].AsI64()
	if !ok || v != 30 {
		t.Errorf("a[-1] = %v, want 30", out[0])
	}
	drv.Delete()
}

// TestArrayRefOutOfBoundsCaught is the §8 scenario: indexing past either end
// of the array must surface an ArrayIndexError through the enclosing catch
// frame, not a Go panic.
func TestArrayRefOutOfBoundsCaught(t *testing.T) {
	ori := Origin{Text: "a[5]", Line: 1, Col: 1}
	owner := NewExprId()

	env := NewEnv()
	catchBind := env.BindVariable(ModPath{}, "tc1", Type{Cat: CatTVar, TV: NewTVar("'catch1")})
	catchID := catchBind.Id

	arr := arrConst([]int64{10, 20, 30}, ori)
	idx := NewConstant(NewI64(5), Prim(PI64), ori)
	body := NewArrayRef(arr, idx, catchID, true, owner, Prim(PI64), ori)
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
		t.Fatalf("expected one output, got %d", len(out))
	}
	tag, elems := unwrapThrown(t, out[0])
	if tag != ArrayIndexErrorTag {
		t.Fatalf("expected tag %q, got %q", ArrayIndexErrorTag, tag)
	}
	if len(elems) != 1 {
		t.Fatalf("expected one string payload element, got %d", len(elems))
	}
	drv.Delete()
}

// TestArraySliceBasic exercises a plain bounded slice with both ends given.
func TestArraySliceBasic(t *testing.T) {
	ori := Origin{Text: "a[1:3]", Line: 1, Col: 1}
	owner := NewExprId()

	arr := arrConst([]int64{10, 20, 30, 40}, ori)
	start := NewConstant(NewI64(1), Prim(PI64), ori)
	end := NewConstant(NewI64(3), Prim(PI64), ori)
	root := NewArraySlice(arr, start, end, true, true, 0, false, owner, Prim(PI64), ori)

	rt := newFakeRt()
	ctx := NewExecCtx(NewEnv(), rt, Options{})
	drv := NewDriver(ctx, []Node{root})
	out := drv.Cycle()
	if len(out) != 1 {
		t.Fatalf("expected one output, got %d", len(out))
	}
	elts, ok := out[0].AsArray()
	if !ok || len(elts) != 2 {
		t.Fatalf("a[1:3] = %v, want a 2-element array", out[0])
	}
	v0, _ := elts[0].AsI64()
	v1, _ := elts[1].AsI64()
	if v0 != 20 || v1 != 30 {
		t.Errorf("a[1:3] = [%v, %v], want [20, 30]", v0, v1)
	}
	drv.Delete()
}

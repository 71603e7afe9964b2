package engine

import "testing"

// makeUnaryLambda builds a single-positional-argument lambda `fn(n: i64) -> i64`
// whose body is `n <op> k`, registered in env with a fresh LambdaId.
func makeUnaryLambda(env *Env, owner ExprId, ori Origin, kind ArithKind, k int64) *LambdaDef {
	ft := FnType{
		Args:  []FnArgType{{Label: "", Labeled: false, Typ: Prim(PI64)}},
		RType: Prim(PI64),
	}
	argBindID := NewBindId()
	ld := &LambdaDef{
		Id:     NewLambdaId(),
		Typ:    FnTypeOf(ft),
		Env:    env,
		Args:   []ArgSpec{{Label: "", Labeled: false, Typ: Prim(PI64), Pat: NamePattern("n")}},
		Scope:  ModPath{},
		Origin: ori,
	}
	ld.Init = func(args []Node) (*Apply, error) {
		bind := NewBind(NamePattern("n"), args[0], map[string]BindId{"n": argBindID}, owner, Prim(PI64), ori)
		body := NewArithOp(
			NewVarRef(argBindID, owner, Prim(PI64), ori),
			NewConstant(NewI64(k), Prim(PI64), ori),
			kind, 0, false, owner, Prim(PI64), ori,
		)
		return NewApply([]Node{bind}, body, Prim(PI64), ori), nil
	}
	env.RegisterLambda(ld)
	return ld
}

// TestCallSiteLateBindsToNewLambda is the §8 scenario: a call site's
// function-valued expression switches from one LambdaId to another across
// cycles, and the call site must rebind and drive the newly bound lambda
// with a synthetic init event rather than keep running the old Apply.
func TestCallSiteLateBindsToNewLambda(t *testing.T) {
	ori := Origin{Text: "f(x)", Line: 1, Col: 1}
	owner := NewExprId()
	env := NewEnv()

	addOne := makeUnaryLambda(env, owner, ori, ArithAdd, 1)
	double := makeUnaryLambda(env, owner, ori, ArithMul, 2)

	fnSlotID := NewBindId()
	argSourceID := NewBindId()
	fnFT := FnType{Args: []FnArgType{{Typ: Prim(PI64)}}, RType: Prim(PI64)}
	fnExpr := NewVarRef(fnSlotID, owner, FnTypeOf(fnFT), ori)
	slots := []callArgSlot{{label: "", labeled: false, node: NewVarRef(argSourceID, owner, Prim(PI64), ori)}}
	site := NewCallSite(fnExpr, slots, owner, Prim(PI64), ori)

	rt := newFakeRt()
	ctx := NewExecCtx(env, rt, Options{})

	ev1 := &Event{Init: true, Variables: map[BindId]Value{
		fnSlotID:    NewFnRef(addOne.Id),
		argSourceID: NewI64(10),
	}}
	v, ok := site.Update(ctx, ev1)
	if !ok {
		t.Fatalf("cycle 1: expected a value")
	}
	n, _ := v.AsI64()
	if n != 11 {
		t.Fatalf("cycle 1: addOne(10) = %d, want 11", n)
	}

	ev2 := &Event{Init: false, Variables: map[BindId]Value{
		fnSlotID:    NewFnRef(double.Id),
		argSourceID: NewI64(10),
	}}
	v, ok = site.Update(ctx, ev2)
	if !ok {
		t.Fatalf("cycle 2: expected a value")
	}
	n, _ = v.AsI64()
	if n != 20 {
		t.Fatalf("cycle 2: double(10) = %d, want 20 (call site failed to rebind)", n)
	}
}

// TestCallSiteUpgradeFailsForUnrefedLambda confirms that a FnRef naming a
// LambdaId no longer registered (its last Ref dropped) surfaces an in-band
// error value rather than panicking (§7).
func TestCallSiteUpgradeFailsForUnrefedLambda(t *testing.T) {
	ori := Origin{Text: "f(x)", Line: 1, Col: 1}
	owner := NewExprId()
	env := NewEnv()

	ld := makeUnaryLambda(env, owner, ori, ArithAdd, 1)
	env.UnrefLambda(ld.Id) // drop the sole ref: the registry entry is gone

	fnSlotID := NewBindId()
	argSourceID := NewBindId()
	fnFT := FnType{Args: []FnArgType{{Typ: Prim(PI64)}}, RType: Prim(PI64)}
	fnExpr := NewVarRef(fnSlotID, owner, FnTypeOf(fnFT), ori)
	slots := []callArgSlot{{label: "", labeled: false, node: NewVarRef(argSourceID, owner, Prim(PI64), ori)}}
	site := NewCallSite(fnExpr, slots, owner, Prim(PI64), ori)

	rt := newFakeRt()
	ctx := NewExecCtx(env, rt, Options{})
	ev := &Event{Init: true, Variables: map[BindId]Value{
		fnSlotID:    NewFnRef(ld.Id),
		argSourceID: NewI64(10),
	}}
	v, ok := site.Update(ctx, ev)
	if !ok {
		t.Fatalf("expected a value (an in-band error)")
	}
	if !v.IsError() {
		t.Fatalf("expected an error value for a no-longer-live lambda, got %s", v.Kind())
	}
}

// TestBindCallSiteAppliesDefaultForOmittedOptionalLabel exercises §4.G's
// "compile the lambda's default expression in its captured environment"
// rule for a labeled argument the call site omits.
func TestBindCallSiteAppliesDefaultForOmittedOptionalLabel(t *testing.T) {
	ori := Origin{Text: "f(x: 1)", Line: 1, Col: 1}
	owner := NewExprId()
	env := NewEnv()

	xBindID := NewBindId()
	yBindID := NewBindId()
	ft := FnType{
		Args: []FnArgType{
			{Label: "x", Labeled: true, Typ: Prim(PI64)},
			{Label: "y", Labeled: true, Optional: true, Typ: Prim(PI64)},
		},
		RType: Prim(PI64),
	}
	ld := &LambdaDef{
		Id:  NewLambdaId(),
		Typ: FnTypeOf(ft),
		Env: env,
		Args: []ArgSpec{
			{Label: "x", Labeled: true, Typ: Prim(PI64), Pat: NamePattern("x")},
			{
				Label: "y", Labeled: true, Optional: true, Typ: Prim(PI64), Pat: NamePattern("y"),
				Default: func(env *Env) (Node, error) {
					return NewConstant(NewI64(100), Prim(PI64), ori), nil
				},
			},
		},
		Scope:  ModPath{},
		Origin: ori,
	}
	ld.Init = func(args []Node) (*Apply, error) {
		xBind := NewBind(NamePattern("x"), args[0], map[string]BindId{"x": xBindID}, owner, Prim(PI64), ori)
		yBind := NewBind(NamePattern("y"), args[1], map[string]BindId{"y": yBindID}, owner, Prim(PI64), ori)
		body := NewArithOp(
			NewVarRef(xBindID, owner, Prim(PI64), ori),
			NewVarRef(yBindID, owner, Prim(PI64), ori),
			ArithAdd, 0, false, owner, Prim(PI64), ori,
		)
		return NewApply([]Node{xBind, yBind}, body, Prim(PI64), ori), nil
	}
	env.RegisterLambda(ld)

	xSourceID := NewBindId()
	slots := []callArgSlot{{label: "x", labeled: true, node: NewVarRef(xSourceID, owner, Prim(PI64), ori)}}
	apply, err := bindCallSite(ld, slots, ori)
	if err != nil {
		t.Fatalf("bindCallSite: %v", err)
	}

	rt := newFakeRt()
	ctx := NewExecCtx(env, rt, Options{})
	ev := &Event{Init: true, Variables: map[BindId]Value{xSourceID: NewI64(1)}}
	v, ok := apply.Update(ctx, ev)
	if !ok {
		t.Fatalf("expected a value")
	}
	n, _ := v.AsI64()
	if n != 101 {
		t.Fatalf("x=1 + default y=100 = %d, want 101", n)
	}
}

// TestPermuteLabeledInPlaceReordersToCalleeOrder exercises the swap-walk
// permutation directly: a call site that wrote "b" before "a" must end up
// with slot 0 holding "a"'s node and slot 1 holding "b"'s, matching the
// callee's declared order.
func TestPermuteLabeledInPlaceReordersToCalleeOrder(t *testing.T) {
	nodeA := NewConstant(NewI64(1), Prim(PI64), Origin{})
	nodeB := NewConstant(NewI64(2), Prim(PI64), Origin{})
	slots := []callArgSlot{
		{label: "b", labeled: true, node: nodeB},
		{label: "a", labeled: true, node: nodeA},
	}
	// callee declares a at position 0, b at position 1.
	mapping := map[string][2]int{
		"b": {0, 1},
		"a": {1, 0},
	}
	permuteLabeledInPlace(slots, mapping)
	if slots[0].label != "a" || slots[0].node != Node(nodeA) {
		t.Fatalf("slot 0 = %+v, want label \"a\"", slots[0])
	}
	if slots[1].label != "b" || slots[1].node != Node(nodeB) {
		t.Fatalf("slot 1 = %+v, want label \"b\"", slots[1])
	}
}

package engine

import "testing"

// buildNumSelect builds the §8 scenario 3 select:
//
//	select x { 0 => "zero", n if n > 0 => "pos", n => "neg" }
//
// with x fed externally through ev.Variables, so the test can drive several
// scrutinee values across cycles and observe which arm activates.
func buildNumSelect(t *testing.T, owner ExprId, xID BindId) *Select {
	t.Helper()
	ori := Origin{Text: "select x {...}", Line: 1, Col: 1}

	scrutinee := NewVarRef(xID, owner, Prim(PI64), ori)

	zeroArm := SelectArm{
		Pat:      LiteralPattern(NewI64(0)),
		BoundIDs: map[string]BindId{},
		Body:     NewConstant(NewString("zero"), Prim(PString), ori),
		Typ:      Prim(PString),
		Ori:      ori,
	}

	nPosID := NewBindId()
	posArm := SelectArm{
		Pat:      NamePattern("n"),
		BoundIDs: map[string]BindId{"n": nPosID},
		HasGuard: true,
		Guard:    NewCompareOp(NewVarRef(nPosID, owner, Prim(PI64), ori), NewConstant(NewI64(0), Prim(PI64), ori), CmpGt, ori),
		Body:     NewConstant(NewString("pos"), Prim(PString), ori),
		Typ:      Prim(PString),
		Ori:      ori,
	}

	negArm := SelectArm{
		Pat:      NamePattern("n"),
		BoundIDs: map[string]BindId{},
		Body:     NewConstant(NewString("neg"), Prim(PString), ori),
		Typ:      Prim(PString),
		Ori:      ori,
	}

	return NewSelect(scrutinee, []SelectArm{zeroArm, posArm, negArm}, owner, Prim(PString), ori)
}

func driveSelectOnce(sel *Select, xID BindId, x int64) (Value, bool) {
	rt := newFakeRt()
	ctx := NewExecCtx(NewEnv(), rt, Options{})
	ev := &Event{Init: true, Variables: map[BindId]Value{xID: NewI64(x)}}
	return sel.Update(ctx, ev)
}

func TestSelectDispatchesToMatchingArm(t *testing.T) {
	owner := NewExprId()
	xID := NewBindId()

	cases := []struct {
		x    int64
		want string
	}{
		{0, "zero"},
		{5, "pos"},
		{-3, "neg"},
	}
	for _, c := range cases {
		sel := buildNumSelect(t, owner, xID)
		v, ok := driveSelectOnce(sel, xID, c.x)
		if !ok {
			t.Fatalf("x=%d: expected select to produce a value", c.x)
		}
		s, _ := v.AsString()
		if s != c.want {
			t.Errorf("x=%d: select produced %q, want %q", c.x, s, c.want)
		}
	}
}

// TestSelectSleepsPreviousArmOnSwitch drives a scrutinee from 0 to 5 across
// two cycles and confirms the zero arm's body is slept (reset) once the
// positive arm takes over, per §4.H's "previously selected arm is slept
// before a newly selected one activates".
func TestSelectSleepsPreviousArmOnSwitch(t *testing.T) {
	owner := NewExprId()
	xID := NewBindId()
	sel := buildNumSelect(t, owner, xID)

	rt := newFakeRt()
	ctx := NewExecCtx(NewEnv(), rt, Options{})

	ev1 := &Event{Init: true, Variables: map[BindId]Value{xID: NewI64(0)}}
	v, ok := sel.Update(ctx, ev1)
	if !ok {
		t.Fatalf("first cycle: expected a value")
	}
	if s, _ := v.AsString(); s != "zero" {
		t.Fatalf("first cycle: got %q, want \"zero\"", s)
	}
	zeroConst := sel.arms[0].Body.(*Constant)
	if !zeroConst.fired {
		t.Fatalf("zero arm constant should have fired once")
	}

	ev2 := &Event{Init: false, Variables: map[BindId]Value{xID: NewI64(5)}}
	v, ok = sel.Update(ctx, ev2)
	if !ok {
		t.Fatalf("second cycle: expected a value")
	}
	if s, _ := v.AsString(); s != "pos" {
		t.Fatalf("second cycle: got %q, want \"pos\"", s)
	}
	if zeroConst.fired {
		t.Errorf("zero arm constant should have been slept (fired reset) after losing activation")
	}
}

// TestSelectExhaustivenessRejectsNonExhaustive confirms that a select over a
// two-tag variant scrutinee (Ok(i64) | Err(string)) with only an Ok arm is
// rejected at typecheck time: subtracting the Ok arm's predicate from the
// scrutinee's type (Ok | Err) leaves Err uncovered.
func TestSelectExhaustivenessRejectsNonExhaustive(t *testing.T) {
	owner := NewExprId()
	xID := NewBindId()
	ori := Origin{Text: "select x { Ok(n) => n }", Line: 1, Col: 1}

	scrType, err := VariantType("Ok", []Type{Prim(PI64)}).Union(nil, VariantType("Err", []Type{Prim(PString)}))
	if err != nil {
		t.Fatalf("building scrutinee type: %v", err)
	}

	scrutinee := NewVarRef(xID, owner, scrType, ori)
	okArm := SelectArm{
		Pat:      VariantPattern("Ok", []Pattern{NamePattern("n")}),
		BoundIDs: map[string]BindId{"n": NewBindId()},
		Body:     NewConstant(NewI64(0), Prim(PI64), ori),
		Typ:      Prim(PI64),
		Ori:      ori,
	}
	sel := NewSelect(scrutinee, []SelectArm{okArm}, owner, Prim(PI64), ori)

	env := NewEnv()
	env.BindVariable(ModPath{}, "x", scrType)
	rt := newFakeRt()
	ctx := NewExecCtx(env, rt, Options{})
	if err := sel.Typecheck(ctx); err == nil {
		t.Fatalf("expected a non-exhaustive select to fail typecheck")
	}
}

// TestSelectExhaustivenessAcceptsBothVariantTags confirms the matching
// exhaustive select (covering both Ok and Err) typechecks cleanly.
func TestSelectExhaustivenessAcceptsBothVariantTags(t *testing.T) {
	owner := NewExprId()
	xID := NewBindId()
	ori := Origin{Text: "select x { Ok(n) => n, Err(e) => 0 }", Line: 1, Col: 1}

	scrType, err := VariantType("Ok", []Type{Prim(PI64)}).Union(nil, VariantType("Err", []Type{Prim(PString)}))
	if err != nil {
		t.Fatalf("building scrutinee type: %v", err)
	}

	scrutinee := NewVarRef(xID, owner, scrType, ori)
	okArm := SelectArm{
		Pat:      VariantPattern("Ok", []Pattern{NamePattern("n")}),
		BoundIDs: map[string]BindId{"n": NewBindId()},
		Body:     NewConstant(NewI64(0), Prim(PI64), ori),
		Typ:      Prim(PI64),
		Ori:      ori,
	}
	errArm := SelectArm{
		Pat:      VariantPattern("Err", []Pattern{NamePattern("e")}),
		BoundIDs: map[string]BindId{"e": NewBindId()},
		Body:     NewConstant(NewI64(0), Prim(PI64), ori),
		Typ:      Prim(PI64),
		Ori:      ori,
	}
	sel := NewSelect(scrutinee, []SelectArm{okArm, errArm}, owner, Prim(PI64), ori)

	env := NewEnv()
	env.BindVariable(ModPath{}, "x", scrType)
	rt := newFakeRt()
	ctx := NewExecCtx(env, rt, Options{})
	if err := sel.Typecheck(ctx); err != nil {
		t.Fatalf("expected exhaustive select to typecheck, got: %v", err)
	}
}

// TestSelectExhaustivenessAcceptsCatchAllArm confirms the 3-arm scenario
// (zero / positive-guarded / catch-all) typechecks cleanly.
func TestSelectExhaustivenessAcceptsCatchAllArm(t *testing.T) {
	owner := NewExprId()
	xID := NewBindId()
	sel := buildNumSelect(t, owner, xID)

	env := NewEnv()
	env.BindVariable(ModPath{}, "x", Prim(PI64))
	rt := newFakeRt()
	ctx := NewExecCtx(env, rt, Options{})
	if err := sel.Typecheck(ctx); err != nil {
		t.Fatalf("expected exhaustive select to typecheck, got: %v", err)
	}
}

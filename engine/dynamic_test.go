package engine

import (
	"fmt"
	"strings"
	"testing"

	"golang.org/x/tools/txtar"
)

// scriptedString emits one Value per Update call, in order, then nothing —
// a stand-in for a source-producing expression feeding a Dynamic module
// across successive reloads.
type scriptedString struct {
	vals []Value
	i    int
	ori  Origin
}

func (s *scriptedString) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	if s.i >= len(s.vals) {
		return Value{}, false
	}
	v := s.vals[s.i]
	s.i++
	return v, true
}
func (s *scriptedString) Typecheck(ctx *ExecCtx) error { return nil }
func (s *scriptedString) Refs(out *Refs)               {}
func (s *scriptedString) Delete(ctx *ExecCtx)          {}
func (s *scriptedString) Sleep(ctx *ExecCtx)            {}
func (s *scriptedString) Typ() Type                     { return Prim(PString) }
func (s *scriptedString) Origin() Origin                { return s.ori }

// dynamicFixtures holds the two reload sources for the §8 scenario, kept as
// a txtar archive the way a golden-file-driven test case in the pack would
// stage fixture text.
const dynamicFixtures = `-- good.gx --
let foo = 42
-- bad.gx --
let foo = "oops"
`

// TestDynamicModuleSignatureCheck is the §8 scenario: a module with declared
// signature {foo: i64} accepts a reload binding foo to 42, then rejects a
// reload binding foo to a string, leaving the previous binding inactive with
// its last proxied value still cached.
func TestDynamicModuleSignatureCheck(t *testing.T) {
	ori := Origin{Text: "dyn M", Line: 1, Col: 1}
	owner := NewExprId()
	scope := ModPath{}

	archive := txtar.Parse([]byte(dynamicFixtures))
	sources := map[string]string{}
	for _, f := range archive.Files {
		sources[f.Name] = strings.TrimSuffix(string(f.Data), "\n")
	}

	moduleFooID := NewBindId()
	compile := func(source string, sandboxEnv *Env) (map[string]Node, *Env, error) {
		newEnv := NewEnv()
		switch {
		case strings.Contains(source, "42"):
			newEnv.ByID[moduleFooID] = &Bind{Id: moduleFooID, Name: "foo", Typ: Prim(PI64)}
			newEnv.Binds[scope.String()] = map[string]BindId{"foo": moduleFooID}
			node := NewBind(NamePattern("foo"), NewConstant(NewI64(42), Prim(PI64), ori),
				map[string]BindId{"foo": moduleFooID}, owner, Prim(PI64), ori)
			return map[string]Node{"foo": node}, newEnv, nil
		case strings.Contains(source, "oops"):
			newEnv.ByID[moduleFooID] = &Bind{Id: moduleFooID, Name: "foo", Typ: Prim(PString)}
			newEnv.Binds[scope.String()] = map[string]BindId{"foo": moduleFooID}
			node := NewBind(NamePattern("foo"), NewConstant(NewString("oops"), Prim(PString), ori),
				map[string]BindId{"foo": moduleFooID}, owner, Prim(PString), ori)
			return map[string]Node{"foo": node}, newEnv, nil
		}
		return nil, nil, fmt.Errorf("unrecognized source %q", source)
	}

	sig := &Signature{Binds: map[string]Type{"foo": Prim(PI64)}}
	source := &scriptedString{vals: []Value{
		NewString(sources["good.gx"]),
		NewString(sources["bad.gx"]),
	}, ori: ori}

	callerFooID := NewBindId()
	proxyOut := map[BindId]BindId{moduleFooID: callerFooID}

	baseEnv := NewEnv()
	dyn := NewDynamic(Sandbox{}, sig, source, scope, compile, baseEnv, map[BindId]BindId{}, proxyOut, owner, Prim(PI64), ori)

	rt := newFakeRt()
	ctx := NewExecCtx(baseEnv, rt, Options{})

	ev1 := &Event{Init: true, Variables: map[BindId]Value{}}
	v, ok := dyn.Update(ctx, ev1)
	if !ok {
		t.Fatalf("cycle 1 (good load): expected an update")
	}
	if v.IsError() {
		t.Fatalf("cycle 1 (good load): unexpected error %v", v)
	}
	got, ok := ctx.Cached[callerFooID].AsI64()
	if !ok || got != 42 {
		t.Fatalf("cycle 1: proxied foo = %v, want 42", ctx.Cached[callerFooID])
	}

	ev2 := &Event{Init: false, Variables: map[BindId]Value{}}
	v, ok = dyn.Update(ctx, ev2)
	if !ok {
		t.Fatalf("cycle 2 (bad load): expected an update (the error itself)")
	}
	if !v.IsError() {
		t.Fatalf("cycle 2 (bad load): expected a DynamicLoadError value, got %s", v.Kind())
	}
	payload, _ := v.AsError()
	tag, _, ok := payload.AsVariant()
	if !ok || tag != DynamicLoadErrorTag {
		t.Fatalf("cycle 2: expected tag %q, got %v", DynamicLoadErrorTag, payload)
	}
	got, ok = ctx.Cached[callerFooID].AsI64()
	if !ok || got != 42 {
		t.Fatalf("cycle 2: previously proxied foo should remain cached, got %v", ctx.Cached[callerFooID])
	}
}

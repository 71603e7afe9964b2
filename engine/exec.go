package engine

import (
	"io"
	"time"
)

// CFlag is a bitset of compile-time warning toggles (§7's WarnUnhandled /
// WarningsAreErrors), the same typed-const-iota bitset idiom as PrimFlag.
type CFlag uint32

const (
	WarnUnhandledQop CFlag = 1 << iota
	WarningsAreErrors
)

func (f CFlag) Has(o CFlag) bool { return f&o != 0 }

// Options configures a compilation/execution session, mirroring yaegi's own
// Options struct (Stdin/Stdout/Stderr plus behavior toggles) threaded
// through Interpreter.
type Options struct {
	Stderr io.Writer
	Flags  CFlag
}

// Handle is an opaque runtime-assigned identifier for a live subscription,
// publication, or RPC registration.
type Handle uint64

// RPCArg is one named argument of an RPC call (§6 call_rpc).
type RPCArg struct {
	Name string
	Val  Value
}

// Rt is the runtime capability collaborator every graph execution requires
// from its host (§6): variable ref-counting, timers, pub/sub, RPC, and
// directory listing. The async I/O implementation is out of scope (spec.md
// §1); graphix only depends on this interface.
type Rt interface {
	RefVar(id BindId, owner ExprId)
	UnrefVar(id BindId, owner ExprId)
	SetVar(id BindId, v Value)
	SetTimer(id BindId, d time.Duration)

	Subscribe(path string, owner ExprId) (Handle, error)
	Unsubscribe(h Handle)

	Publish(path string, v Value, owner ExprId) (Handle, error)
	UpdatePublished(h Handle, v Value)
	Unpublish(h Handle)

	CallRPC(path string, args []RPCArg, replyTo BindId) error
	PublishRPC(path string, doc string, spec Type, replyTo BindId) (Handle, error)

	List(id BindId, path string)
	ListTable(id BindId, path string)
	StopList(id BindId)

	NotifySet(id BindId)

	// Drain returns, and clears, the variable updates the host has queued
	// since the last cycle (external subscriptions, timer fires, RPC
	// replies). This is the driver's glue for "pulls pending external
	// events" in §4.I; the trait in §6 only specifies what the core pushes
	// into the runtime, not how the driver retrieves what came back, so the
	// shape of Drain is this package's own.
	Drain() map[BindId]Value

	// Clear wipes all runtime-held state, used on restart.
	Clear()
}

// ExecCtx owns everything a Node needs to update: the environment, the
// latest-value cache for every live bind, the builtins table and its gate,
// and the Rt collaborator (§4.I).
type ExecCtx struct {
	Env             *Env
	Cached          map[BindId]Value
	Builtins        map[string]Value
	BuiltinsAllowed bool
	Rt              Rt
	Opts            Options

	// refcounts tracks, per BindId, the set of owning ExprIds that have
	// called RefVar, so a given expression cannot double-decrement a ref
	// it never held (§5).
	refcounts map[BindId]map[ExprId]bool
}

func NewExecCtx(env *Env, rt Rt, opts Options) *ExecCtx {
	return &ExecCtx{
		Env:       env,
		Cached:    map[BindId]Value{},
		Builtins:  map[string]Value{},
		Rt:        rt,
		Opts:      opts,
		refcounts: map[BindId]map[ExprId]bool{},
	}
}

// RefVar records that owner holds a ref on id and forwards to Rt, unless
// owner already holds one (idempotent: compiling the same id twice into one
// expression's subtree must not double-ref).
func (ctx *ExecCtx) RefVar(id BindId, owner ExprId) {
	owners, ok := ctx.refcounts[id]
	if !ok {
		owners = map[ExprId]bool{}
		ctx.refcounts[id] = owners
	}
	if owners[owner] {
		return
	}
	owners[owner] = true
	ctx.Rt.RefVar(id, owner)
}

// UnrefVar releases owner's ref on id, forwarding to Rt only if owner
// actually held one. A single expression cannot double-decrement (§5).
func (ctx *ExecCtx) UnrefVar(id BindId, owner ExprId) {
	owners, ok := ctx.refcounts[id]
	if !ok || !owners[owner] {
		return
	}
	delete(owners, owner)
	if len(owners) == 0 {
		delete(ctx.refcounts, id)
	}
	ctx.Rt.UnrefVar(id, owner)
}

// Driver runs a compiled root graph to quiescence, one cycle at a time
// (§4.I, §5's single-threaded cooperative scheduling model).
type Driver struct {
	ctx   *ExecCtx
	roots []Node
	first bool
}

func NewDriver(ctx *ExecCtx, roots []Node) *Driver {
	return &Driver{ctx: ctx, roots: roots, first: true}
}

// Cycle pulls one batch of pending variable updates from Rt, feeds it
// through every root, and keeps draining any updates those roots enqueued
// with Rt (via set_var) until Rt has nothing further queued: the
// "processes enqueued variable updates until quiescence" rule of §4.I.
// Updates discovered on a later iteration are NOT retroactively visible to
// nodes already updated this call (§5: late updates are visible only next
// cycle). Each inner iteration is its own fresh Event.
func (d *Driver) Cycle() []Value {
	var outputs []Value
	pending := d.ctx.Rt.Drain()
	init := d.first
	d.first = false
	for {
		if pending == nil {
			pending = map[BindId]Value{}
		}
		ev := &Event{Init: init, Variables: pending}
		init = false
		anyUpdated := false
		for _, root := range d.roots {
			if v, ok := root.Update(d.ctx, ev); ok {
				outputs = append(outputs, v)
				anyUpdated = true
			}
		}
		next := d.ctx.Rt.Drain()
		if len(next) == 0 {
			break
		}
		if !anyUpdated && len(next) == 0 {
			break
		}
		pending = next
	}
	return outputs
}

// Delete tears down every root, releasing all BindId refs (§8 "ref-count
// balance").
func (d *Driver) Delete() {
	for _, root := range d.roots {
		root.Delete(d.ctx)
	}
}

package engine

import "fmt"

// Origin is the source position a node was compiled from. The surface
// parser is out of scope (spec.md §1), so nothing in this package builds an
// Origin from text; callers that do own a parser attach one at compile time,
// and every node threads it through for error-chain values (§6).
type Origin struct {
	Text string
	Line int
	Col  int
}

func (o Origin) String() string {
	if o.Text == "" {
		return fmt.Sprintf("%d:%d", o.Line, o.Col)
	}
	return fmt.Sprintf("%s:%d:%d", o.Text, o.Line, o.Col)
}

// Refs accumulates the BindIds a subtree reads (Refed) and introduces
// (Bound), the same two sets every node.rs file's refs(&mut Refs) populates.
type Refs struct {
	Refed map[BindId]bool
	Bound map[BindId]bool
}

func NewRefs() *Refs {
	return &Refs{Refed: map[BindId]bool{}, Bound: map[BindId]bool{}}
}

func (r *Refs) addRefed(id BindId) { r.Refed[id] = true }
func (r *Refs) addBound(id BindId) { r.Bound[id] = true }

// Merge folds o's sets into r, used when a composite node gathers refs from
// its children.
func (r *Refs) Merge(o *Refs) {
	for id := range o.Refed {
		r.Refed[id] = true
	}
	for id := range o.Bound {
		r.Bound[id] = true
	}
}

// Event is the per-cycle batch of visible variable changes (§3).
type Event struct {
	Init      bool
	Variables map[BindId]Value
}

func NewEvent(init bool) *Event {
	return &Event{Init: init, Variables: map[BindId]Value{}}
}

func (e *Event) Get(id BindId) (Value, bool) {
	v, ok := e.Variables[id]
	return v, ok
}

func (e *Event) Set(id BindId, v Value) { e.Variables[id] = v }

// Node is the uniform update protocol of §4.E, the one load-bearing
// abstraction every compiled expression implements. Represented as a single
// interface (the "trait object" alternative of spec.md §9) rather than a
// closed sum type: graphix's node set is large and open-ended across files,
// and yaegi's own node struct already favors one shared shape walked
// generically over a hand-rolled switch on a kind enum.
type Node interface {
	// Update runs at most once per cycle. ok is false when the node
	// produced no new value this cycle.
	Update(ctx *ExecCtx, ev *Event) (val Value, ok bool)
	// Typecheck runs exactly once, after compile, post-order.
	Typecheck(ctx *ExecCtx) error
	// Refs accumulates this subtree's read/bound BindIds into out.
	Refs(out *Refs)
	// Delete releases every BindId ref this node (and its children) hold.
	Delete(ctx *ExecCtx)
	// Sleep drops cached values without destroying node identity.
	Sleep(ctx *ExecCtx)
	Typ() Type
	Origin() Origin
}

// Cached wraps a child Node and remembers its last emitted value, so sibling
// nodes in a fan-in (array/tuple/struct construction, operators) can read an
// input without re-triggering the child's Update more than once per cycle.
type Cached struct {
	Child Node
	last  Value
	has   bool
}

func NewCached(child Node) *Cached { return &Cached{Child: child} }

// Update advances the child exactly once and remembers any emitted value.
func (c *Cached) Update(ctx *ExecCtx, ev *Event) bool {
	v, ok := c.Child.Update(ctx, ev)
	if ok {
		c.last, c.has = v, true
	}
	return ok
}

// Value returns the last value this child ever produced, and whether it has
// produced one at all ("is determined").
func (c *Cached) Value() (Value, bool) { return c.last, c.has }

func (c *Cached) Typecheck(ctx *ExecCtx) error { return c.Child.Typecheck(ctx) }
func (c *Cached) Refs(out *Refs)               { c.Child.Refs(out) }
func (c *Cached) Delete(ctx *ExecCtx)          { c.Child.Delete(ctx) }

// Sleep forgets the cached value but keeps the child alive: a sleeping
// select arm's children may wake again and should not be recompiled.
func (c *Cached) Sleep(ctx *ExecCtx) {
	c.has = false
	c.last = Value{}
	c.Child.Sleep(ctx)
}

func (c *Cached) Typ() Type      { return c.Child.Typ() }
func (c *Cached) Origin() Origin { return c.Child.Origin() }

// UpdateAll advances every Cached child exactly once this cycle and reports
// whether any of them emitted (anyUpdated) and whether all of them are now
// determined (allDetermined). The fan-in helper array/tuple/struct/map and
// the binary operators build on this.
func UpdateAll(ctx *ExecCtx, ev *Event, children []*Cached) (anyUpdated bool, allDetermined bool) {
	allDetermined = true
	for _, c := range children {
		if c.Update(ctx, ev) {
			anyUpdated = true
		}
		if _, ok := c.Value(); !ok {
			allDetermined = false
		}
	}
	return anyUpdated, allDetermined
}

// Constant emits its value once, on the first init cycle it observes, and
// nothing afterward until Sleep resets it (a sleeping select arm that wakes
// re-fires its constants exactly as it did the first time).
type Constant struct {
	val  Value
	typ  Type
	ori  Origin
	fired bool
}

func NewConstant(v Value, t Type, ori Origin) *Constant {
	return &Constant{val: v, typ: t, ori: ori}
}

func (n *Constant) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	if ev.Init && !n.fired {
		n.fired = true
		return n.val, true
	}
	return Value{}, false
}

func (n *Constant) Typecheck(ctx *ExecCtx) error { return nil }
func (n *Constant) Refs(out *Refs)               {}
func (n *Constant) Delete(ctx *ExecCtx)          {}
func (n *Constant) Sleep(ctx *ExecCtx)           { n.fired = false }
func (n *Constant) Typ() Type                    { return n.typ }
func (n *Constant) Origin() Origin               { return n.ori }

// VarRef reads a BindId's value out of the current event batch whenever
// present (§4.E "Ref(BindId)").
type VarRef struct {
	id    BindId
	owner ExprId
	typ   Type
	ori   Origin
}

func NewVarRef(id BindId, owner ExprId, t Type, ori Origin) *VarRef {
	return &VarRef{id: id, owner: owner, typ: t, ori: ori}
}

func (n *VarRef) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	v, ok := ev.Get(n.id)
	return v, ok
}

func (n *VarRef) Typecheck(ctx *ExecCtx) error { return nil }
func (n *VarRef) Refs(out *Refs)               { out.addRefed(n.id) }
func (n *VarRef) Delete(ctx *ExecCtx)          { ctx.UnrefVar(n.id, n.owner) }
func (n *VarRef) Sleep(ctx *ExecCtx)           {}
func (n *VarRef) Typ() Type                    { return n.typ }
func (n *VarRef) Origin() Origin               { return n.ori }

// bindTarget is one name→BindId slot a Bind pattern writes into.
type bindTarget struct {
	name string
	id   BindId
}

// Bind compiles a pattern against its child's successive values: each time
// the child updates, the pattern is matched and every bound name is written
// into ctx.Cached and into this cycle's Event so siblings compiled after the
// bind can observe it in the same cycle, then the runtime is told the name
// was set (§4.E "Bind(pattern, expr)").
type Bind struct {
	pat     Pattern
	child   Node
	targets map[string]BindId
	owner   ExprId
	typ     Type
	ori     Origin
}

func NewBind(pat Pattern, child Node, targets map[string]BindId, owner ExprId, t Type, ori Origin) *Bind {
	return &Bind{pat: pat, child: child, targets: targets, owner: owner, typ: t, ori: ori}
}

func (n *Bind) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	v, ok := n.child.Update(ctx, ev)
	if !ok {
		return Value{}, false
	}
	matched := n.pat.Bind(v, func(name string, val Value) {
		id, ok := n.targets[name]
		if !ok {
			return
		}
		ctx.Cached[id] = val
		ev.Set(id, val)
		ctx.Rt.NotifySet(id)
	})
	if !matched {
		// Binding failure where typechecking claimed success is a fatal
		// condition per spec.md §7; surfaced as an in-band error value so
		// the driver can tear down the graph rather than panicking.
		return NewError(NewString(fmt.Sprintf("pattern match failed at %s", n.ori))), true
	}
	return v, true
}

func (n *Bind) Typecheck(ctx *ExecCtx) error { return n.child.Typecheck(ctx) }

func (n *Bind) Refs(out *Refs) {
	n.child.Refs(out)
	for _, id := range n.targets {
		out.addBound(id)
	}
}

func (n *Bind) Delete(ctx *ExecCtx) {
	n.child.Delete(ctx)
	for _, id := range n.targets {
		ctx.UnrefVar(id, n.owner)
	}
}

func (n *Bind) Sleep(ctx *ExecCtx) { n.child.Sleep(ctx) }
func (n *Bind) Typ() Type          { return n.typ }
func (n *Bind) Origin() Origin     { return n.ori }

// Block runs a sequence of child expressions in order every cycle (a
// do-block). Only the last child's value is the block's own value; earlier
// children are driven purely for their side effects (binds).
type Block struct {
	children []Node
	ori      Origin
}

func NewBlock(children []Node, ori Origin) *Block { return &Block{children: children, ori: ori} }

func (n *Block) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	var last Value
	var ok bool
	for i, c := range n.children {
		v, u := c.Update(ctx, ev)
		if i == len(n.children)-1 {
			last, ok = v, u
		}
	}
	return last, ok
}

func (n *Block) Typecheck(ctx *ExecCtx) error {
	for _, c := range n.children {
		if err := c.Typecheck(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (n *Block) Refs(out *Refs) {
	for _, c := range n.children {
		c.Refs(out)
	}
}

func (n *Block) Delete(ctx *ExecCtx) {
	for _, c := range n.children {
		c.Delete(ctx)
	}
}

func (n *Block) Sleep(ctx *ExecCtx) {
	for _, c := range n.children {
		c.Sleep(ctx)
	}
}

func (n *Block) Typ() Type {
	if len(n.children) == 0 {
		return Prim(PNull)
	}
	return n.children[len(n.children)-1].Typ()
}

func (n *Block) Origin() Origin { return n.ori }

// Sample implements the `~` operator: emit lhs whenever rhs updates, using
// rhs purely as a clock. Emission is suppressed until lhs has ever produced
// a value, so a sample of an as-yet-undetermined input has nothing to emit
// even on the clock's first tick (§4.E, scenario 6 of spec.md §8).
type Sample struct {
	lhs, rhs *Cached
	ori      Origin
}

func NewSample(lhs, rhs Node, ori Origin) *Sample {
	return &Sample{lhs: NewCached(lhs), rhs: NewCached(rhs), ori: ori}
}

func (n *Sample) Update(ctx *ExecCtx, ev *Event) (Value, bool) {
	n.lhs.Update(ctx, ev)
	tick := n.rhs.Update(ctx, ev)
	if !tick {
		return Value{}, false
	}
	return n.lhs.Value()
}

func (n *Sample) Typecheck(ctx *ExecCtx) error {
	if err := n.lhs.Typecheck(ctx); err != nil {
		return err
	}
	return n.rhs.Typecheck(ctx)
}

func (n *Sample) Refs(out *Refs) {
	n.lhs.Refs(out)
	n.rhs.Refs(out)
}

func (n *Sample) Delete(ctx *ExecCtx) {
	n.lhs.Delete(ctx)
	n.rhs.Delete(ctx)
}

func (n *Sample) Sleep(ctx *ExecCtx) {
	n.lhs.Sleep(ctx)
	n.rhs.Sleep(ctx)
}

func (n *Sample) Typ() Type      { return n.lhs.Typ() }
func (n *Sample) Origin() Origin { return n.ori }

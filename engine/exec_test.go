package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// fakeRt is a minimal in-memory Rt collaborator for driving a graph in
// tests without any real transport. It queues SetVar writes into a pending
// map that Drain hands to the next Driver.Cycle, the same contract a host's
// subscription/timer/RPC callbacks would fulfill.
type fakeRt struct {
	mu      sync.Mutex
	pending map[BindId]Value
	refs    map[BindId]int
}

func newFakeRt() *fakeRt {
	return &fakeRt{pending: map[BindId]Value{}, refs: map[BindId]int{}}
}

func (r *fakeRt) RefVar(id BindId, owner ExprId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs[id]++
}

func (r *fakeRt) UnrefVar(id BindId, owner ExprId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs[id]--
	if r.refs[id] <= 0 {
		delete(r.refs, id)
	}
}

func (r *fakeRt) SetVar(id BindId, v Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[id] = v
}

func (r *fakeRt) SetTimer(id BindId, d time.Duration) {}

func (r *fakeRt) Subscribe(path string, owner ExprId) (Handle, error) { return 0, nil }
func (r *fakeRt) Unsubscribe(h Handle)                                {}

func (r *fakeRt) Publish(path string, v Value, owner ExprId) (Handle, error) { return 0, nil }
func (r *fakeRt) UpdatePublished(h Handle, v Value)                          {}
func (r *fakeRt) Unpublish(h Handle)                                         {}

func (r *fakeRt) CallRPC(path string, args []RPCArg, replyTo BindId) error { return nil }
func (r *fakeRt) PublishRPC(path, doc string, spec Type, replyTo BindId) (Handle, error) {
	return 0, nil
}

func (r *fakeRt) List(id BindId, path string)      {}
func (r *fakeRt) ListTable(id BindId, path string) {}
func (r *fakeRt) StopList(id BindId)               {}

func (r *fakeRt) NotifySet(id BindId) {
	// Nothing is queued: callers of NotifySet have already written the value
	// into ctx.Cached and the current Event, so same-cycle readers see it
	// without a trip through pending.
}

func (r *fakeRt) Drain() map[BindId]Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return nil
	}
	out := r.pending
	r.pending = map[BindId]Value{}
	return out
}

func (r *fakeRt) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = map[BindId]Value{}
	r.refs = map[BindId]int{}
}

// deliverAsync simulates a host fanning out several concurrent external
// updates (subscription replies, timer fires) that all land in Drain before
// the next cycle, bounding concurrency with a weighted semaphore the way a
// real runtime would cap simultaneous subscription callbacks.
func (r *fakeRt) deliverAsync(ctx context.Context, updates map[BindId]Value) error {
	sem := semaphore.NewWeighted(4)
	g, gctx := errgroup.WithContext(ctx)
	for id, v := range updates {
		id, v := id, v
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			r.SetVar(id, v)
			return nil
		})
	}
	return g.Wait()
}

func TestFakeRtDeliverAsyncThenDrain(t *testing.T) {
	rt := newFakeRt()
	a, b := NewBindId(), NewBindId()
	if err := rt.deliverAsync(context.Background(), map[BindId]Value{
		a: NewI64(1),
		b: NewI64(2),
	}); err != nil {
		t.Fatalf("deliverAsync: %v", err)
	}
	drained := rt.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected 2 pending updates, got %d", len(drained))
	}
	if v, _ := drained[a].AsI64(); v != 1 {
		t.Errorf("a = %v, want 1", v)
	}
	if v, _ := drained[b].AsI64(); v != 2 {
		t.Errorf("b = %v, want 2", v)
	}
	if more := rt.Drain(); more != nil {
		t.Errorf("expected Drain to be empty after consuming, got %v", more)
	}
}

// TestDriverQuiescence exercises the basic compile/typecheck/update contract
// of §4.I on the simplest possible root: a constant, which fires exactly
// once (on the init cycle) and never again.
func TestDriverQuiescence(t *testing.T) {
	ori := Origin{Text: "1", Line: 1, Col: 1}
	root := NewConstant(NewI64(1), Prim(PI64), ori)

	rt := newFakeRt()
	ctx := NewExecCtx(NewEnv(), rt, Options{})
	if err := TypecheckTree(ctx, root); err != nil {
		t.Fatalf("typecheck: %v", err)
	}
	drv := NewDriver(ctx, []Node{root})

	out := drv.Cycle()
	if len(out) != 1 {
		t.Fatalf("init cycle: expected 1 output, got %d", len(out))
	}
	if v, _ := out[0].AsI64(); v != 1 {
		t.Errorf("init cycle output = %v, want 1", v)
	}

	out = drv.Cycle()
	if len(out) != 0 {
		t.Errorf("second cycle: expected no output from a constant, got %d", len(out))
	}
	drv.Delete()
}

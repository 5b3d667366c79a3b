package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-keyspace/v1/script"
)

func newTestManager(t *testing.T, lease time.Duration) (*miniredis.Miniredis, *redis.Client, *Manager) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	m := NewManager(client, MustField(lease, WithPrefix("jobs")), WithRetryInterval(10*time.Millisecond))
	return mr, client, m
}

func TestFieldLeaseRequired(t *testing.T) {
	if _, err := NewField(0); !errors.Is(err, ErrInvalidLease) {
		t.Fatalf("expected ErrInvalidLease, got %v", err)
	}
	if _, err := NewField(-time.Second); !errors.Is(err, ErrInvalidLease) {
		t.Fatalf("expected ErrInvalidLease, got %v", err)
	}
}

func TestFieldCloneIndependence(t *testing.T) {
	f := MustField(time.Second, WithPrefix("jobs"), WithHolderID("fixed"))
	c := f.Clone()
	if c == f {
		t.Fatal("clone returned the same instance")
	}
	if c.key("1") != "jobs:1" || c.recursionKey("1") != "jobs-rec:1" {
		t.Fatalf("clone key construction wrong: %q %q", c.key("1"), c.recursionKey("1"))
	}
}

func TestMutualExclusion(t *testing.T) {
	_, _, m := newTestManager(t, time.Minute)
	ctx := context.Background()

	a := m.Lock("1")
	if err := a.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	b := m.Lock("1")
	ok, err := b.TryAcquire(ctx)
	if err != nil {
		t.Fatalf("try acquire: %v", err)
	}
	if ok {
		t.Fatal("second holder acquired a held lock")
	}
	if err := a.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, err := b.TryAcquire(ctx); err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
	_ = b.Release(ctx)
}

func TestAcquireHandoff(t *testing.T) {
	_, _, m := newTestManager(t, time.Second)
	ctx := context.Background()

	a := m.Lock("1")
	if err := a.Acquire(ctx); err != nil {
		t.Fatalf("A acquire: %v", err)
	}

	acquired := make(chan error, 1)
	go func() {
		acquired <- m.Lock("1").Acquire(ctx)
	}()

	select {
	case err := <-acquired:
		t.Fatalf("B acquired a held lock: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	start := time.Now()
	if err := a.Release(ctx); err != nil {
		t.Fatalf("A release: %v", err)
	}
	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("B acquire: %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("B did not acquire after release")
	}
	// Well before the 1s lease would have freed the lock on its own.
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("handoff took %v", time.Since(start))
	}
}

func TestAcquireRespectsContext(t *testing.T) {
	_, _, m := newTestManager(t, time.Minute)
	ctx := context.Background()

	a := m.Lock("1")
	if err := a.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := m.Lock("1").Acquire(cctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestAcquireTimeout(t *testing.T) {
	_, _, m := newTestManager(t, time.Minute)
	ctx := context.Background()

	a := m.Lock("1")
	if err := a.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	err := m.Lock("1").AcquireTimeout(ctx, 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestLeaseAutoRelease(t *testing.T) {
	mr, _, m := newTestManager(t, time.Second)
	ctx := context.Background()

	a := m.Lock("1")
	if err := a.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	a.stopLease() // only the server-side expiry is under test here

	b := m.Lock("1")
	mr.FastForward(900 * time.Millisecond)
	if ok, _ := b.TryAcquire(ctx); ok {
		t.Fatal("lock freed before its lease elapsed")
	}
	mr.FastForward(200 * time.Millisecond)
	if ok, err := b.TryAcquire(ctx); err != nil || !ok {
		t.Fatalf("lock not acquirable after lease: ok=%v err=%v", ok, err)
	}
}

func TestLeaseTimerForcesRelease(t *testing.T) {
	_, _, m := newTestManager(t, 50*time.Millisecond)
	ctx := context.Background()

	a := m.Lock("1")
	if err := a.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// Never released explicitly; the client-side timer must force it even
	// though miniredis does not advance TTLs on its own.
	deadline := time.Now().Add(time.Second)
	for {
		if owner, _ := a.Holder(ctx); owner == "" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("lease timer did not force-release the lock")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReleaseExpiredIsBenign(t *testing.T) {
	mr, _, m := newTestManager(t, time.Second)
	ctx := context.Background()

	a := m.Lock("1")
	if err := a.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	mr.FastForward(1100 * time.Millisecond)
	if err := a.Release(ctx); err != nil {
		t.Fatalf("releasing an expired lock must not error: %v", err)
	}
}

func TestReleaseForeignIsNoOp(t *testing.T) {
	_, _, m := newTestManager(t, time.Minute)
	ctx := context.Background()

	a := m.Lock("1")
	if err := a.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	b := m.Lock("1")
	if err := b.Release(ctx); err != nil {
		t.Fatalf("foreign release must not error: %v", err)
	}
	owns, err := a.IsOwner(ctx)
	if err != nil || !owns {
		t.Fatalf("foreign release touched the lock: owns=%v err=%v", owns, err)
	}
	_ = a.Release(ctx)
}

func TestDeadlockDetected(t *testing.T) {
	_, client, m := newTestManager(t, time.Minute)
	ctx := context.Background()

	// A holds x. Somewhere else a waiter of x holds y and has published that
	// fact in x's recursion set.
	a := m.Lock("x")
	if err := a.Acquire(ctx); err != nil {
		t.Fatalf("acquire x: %v", err)
	}
	y := m.Lock("y")
	if err := y.Acquire(ctx); err != nil {
		t.Fatalf("acquire y: %v", err)
	}
	if err := client.SAdd(ctx, "jobs-rec:x", "jobs:y").Err(); err != nil {
		t.Fatalf("seed recursion set: %v", err)
	}

	// A now wants y while holding x: the waiter of x already holds y, so
	// waiting would close the cycle.
	err := m.Lock("y").Acquire(ctx, "x")
	var dl *DeadlockError
	if !errors.As(err, &dl) {
		t.Fatalf("expected DeadlockError, got %v", err)
	}
	if dl.Lock != "y" || dl.Conflict != "x" {
		t.Fatalf("wrong deadlock report: %+v", dl)
	}
}

func TestDeadlockDetectedAcrossWaiters(t *testing.T) {
	_, client, m := newTestManager(t, time.Minute)
	ctx := context.Background()

	// A holds x, C holds y. C waits for x, publishing its held set. A's
	// attempt on y must then fail fast instead of waiting forever.
	a := m.Lock("x")
	if err := a.Acquire(ctx); err != nil {
		t.Fatalf("A acquire x: %v", err)
	}
	cy := m.Lock("y")
	if err := cy.Acquire(ctx); err != nil {
		t.Fatalf("C acquire y: %v", err)
	}

	cDone := make(chan error, 1)
	go func() {
		cDone <- m.Lock("x").Acquire(ctx, "y")
	}()

	// Wait until C's first busy attempt has registered its bookkeeping.
	deadline := time.Now().Add(time.Second)
	for {
		n, err := client.SCard(ctx, "jobs-rec:x").Result()
		if err != nil {
			t.Fatalf("scard: %v", err)
		}
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("waiter never registered bookkeeping")
		}
		time.Sleep(5 * time.Millisecond)
	}

	err := m.Lock("y").Acquire(ctx, "x")
	var dl *DeadlockError
	if !errors.As(err, &dl) {
		t.Fatalf("expected DeadlockError, got %v", err)
	}

	// Unwind: A gives up x, C's pending acquire must complete and clean its
	// bookkeeping up again.
	if err := a.Release(ctx); err != nil {
		t.Fatalf("release x: %v", err)
	}
	select {
	case err := <-cDone:
		if err != nil {
			t.Fatalf("C acquire x: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("C did not acquire x after release")
	}
	if n, _ := client.SCard(ctx, "jobs-rec:x").Result(); n != 0 {
		t.Fatalf("bookkeeping not cleaned on success, %d members left", n)
	}
}

func TestReleaseAfterLeaseHandoverLeavesNewHolder(t *testing.T) {
	mr, _, m := newTestManager(t, time.Second)
	ctx := context.Background()

	a := m.Lock("1")
	if err := a.Acquire(ctx); err != nil {
		t.Fatalf("A acquire: %v", err)
	}
	a.stopLease()

	// A's lease runs out and B takes over before A gets around to its
	// release. A's release must leave B's lock in place.
	mr.FastForward(1100 * time.Millisecond)
	b := m.Lock("1")
	if ok, err := b.TryAcquire(ctx); err != nil || !ok {
		t.Fatalf("B acquire after lease: ok=%v err=%v", ok, err)
	}
	if err := a.Release(ctx); err != nil {
		t.Fatalf("A release: %v", err)
	}
	owns, err := b.IsOwner(ctx)
	if err != nil || !owns {
		t.Fatalf("A's late release removed B's lock: owns=%v err=%v", owns, err)
	}
	_ = b.Release(ctx)
}

func TestBookkeepingRolledBackOnDeadlock(t *testing.T) {
	_, client, m := newTestManager(t, time.Minute)
	ctx := context.Background()

	holder := m.Lock("p")
	if err := holder.Acquire(ctx); err != nil {
		t.Fatalf("acquire p: %v", err)
	}

	// The waiter holds q and polls for p, publishing its held set first.
	done := make(chan error, 1)
	go func() {
		done <- m.Lock("p").Acquire(ctx, "q")
	}()
	deadline := time.Now().Add(time.Second)
	for {
		n, err := client.SCard(ctx, "jobs-rec:p").Result()
		if err != nil {
			t.Fatalf("scard: %v", err)
		}
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("waiter never registered bookkeeping")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A cycle through q appears while the waiter is already polling: the
	// next attempt must fail and take the earlier bookkeeping with it.
	if err := client.SAdd(ctx, "jobs-rec:q", "jobs:p").Err(); err != nil {
		t.Fatalf("seed recursion set: %v", err)
	}
	select {
	case err := <-done:
		var dl *DeadlockError
		if !errors.As(err, &dl) {
			t.Fatalf("expected DeadlockError, got %v", err)
		}
		if dl.Lock != "p" || dl.Conflict != "q" {
			t.Fatalf("wrong deadlock report: %+v", dl)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter did not observe the cycle")
	}
	if n, _ := client.SCard(ctx, "jobs-rec:p").Result(); n != 0 {
		t.Fatalf("bookkeeping left behind after deadlock, %d members", n)
	}
}

func TestUnexpectedAcquireReplyIsAnError(t *testing.T) {
	_, _, m := newTestManager(t, time.Minute)
	ctx := context.Background()

	orig := acquireScript
	acquireScript = script.New(`return 2`)
	t.Cleanup(func() { acquireScript = orig })

	if _, err := m.Lock("1").TryAcquire(ctx); err == nil {
		t.Fatal("malformed reply must not be treated as busy")
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.Lock("1").Acquire(ctx)
	}()
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("malformed reply must not acquire")
		}
	case <-time.After(time.Second):
		t.Fatal("acquire kept polling on a malformed reply")
	}
}

func TestBookkeepingRolledBackOnTimeout(t *testing.T) {
	_, client, m := newTestManager(t, time.Minute)
	ctx := context.Background()

	a := m.Lock("z")
	if err := a.Acquire(ctx); err != nil {
		t.Fatalf("acquire z: %v", err)
	}
	err := m.Lock("z").AcquireTimeout(ctx, 100*time.Millisecond, "w")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if n, _ := client.SCard(ctx, "jobs-rec:z").Result(); n != 0 {
		t.Fatalf("bookkeeping left behind after failed acquire, %d members", n)
	}
}

func TestFixedHolderID(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	m := NewManager(client, MustField(time.Minute, WithPrefix("jobs"), WithHolderID("worker-7")))

	ctx := context.Background()
	l := m.Lock("1")
	if l.HolderID() != "worker-7" {
		t.Fatalf("fixed holder id lost: %q", l.HolderID())
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	owner, err := l.Holder(ctx)
	if err != nil || owner != "worker-7" {
		t.Fatalf("holder: %q %v", owner, err)
	}
	_ = l.Release(ctx)
}

func TestReset(t *testing.T) {
	_, client, m := newTestManager(t, time.Minute)
	ctx := context.Background()

	a := m.Lock("1")
	if err := a.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	_ = client.SAdd(ctx, "jobs-rec:1", "jobs:other").Err()

	b := m.Lock("1")
	if err := b.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if owner, _ := b.Holder(ctx); owner != "" {
		t.Fatalf("lock survived reset, held by %q", owner)
	}
	if n, _ := client.Exists(ctx, "jobs-rec:1").Result(); n != 0 {
		t.Fatal("recursion set survived reset")
	}
}

package locksource

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/quay/zlog"
)

func TestLocalUncontested(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	l := &Local{}
	const (
		w  = 4
		ct = 100
	)

	ids := make([]string, w*ct)
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	wi := make([][]string, w)
	for i := range wi {
		off := i * ct
		wi[i] = ids[off : off+ct]
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(len(wi))
	for i := range wi {
		go func(i int) {
			defer wg.Done()
			ctx := zlog.ContextWithValues(ctx, "worker", strconv.Itoa(i))
			<-start
			for _, id := range wi[i] {
				lc, done := l.TryLock(ctx, id)
				if err := lc.Err(); err != nil {
					t.Error(err)
				}
				done()
			}
			t.Logf("worker %d: locked %d keys", i, len(wi[i]))
		}(i)
	}

	close(start)
	wg.Wait()
}

func TestLocalContested(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	l := &Local{}
	const (
		w  = 4
		ct = 50
	)

	ids := make([]string, ct)
	for i := range ids {
		ids[i] = uuid.NewString()
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(w)
	for i := 0; i < w; i++ {
		go func(i int) {
			defer wg.Done()
			ctx := zlog.ContextWithValues(ctx, "worker", strconv.Itoa(i))
			<-start
			for _, id := range ids {
				lc, done := l.Lock(ctx, id)
				if err := lc.Err(); err != nil {
					t.Errorf("worker %d: key %q: %v", i, id, err)
				}
				done()
			}
		}(i)
	}

	close(start)
	wg.Wait()
}

// TestLocalSerializes checks that two holders of the same key never overlap.
func TestLocalSerializes(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	l := &Local{}
	const key = `device-1`

	var mu sync.Mutex
	var active, maxActive int
	enter := func() {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
	}
	leave := func() {
		mu.Lock()
		active--
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lc, done := l.Lock(ctx, key)
			defer done()
			if err := lc.Err(); err != nil {
				t.Error(err)
				return
			}
			enter()
			time.Sleep(5 * time.Millisecond)
			leave()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("got %d concurrent holders, want 1", maxActive)
	}
}

func TestLocalTryLockHeld(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	l := &Local{}
	const key = `device-2`

	lc, done := l.Lock(ctx, key)
	if err := lc.Err(); err != nil {
		t.Fatal(err)
	}

	// While held, TryLock must report a canceled Context immediately.
	tc, tdone := l.TryLock(ctx, key)
	if err := tc.Err(); err == nil {
		t.Error("TryLock on a held key returned a live Context")
	}
	tdone()

	done()

	// After release, TryLock succeeds.
	tc, tdone = l.TryLock(ctx, key)
	if err := tc.Err(); err != nil {
		t.Errorf("TryLock after release: %v", err)
	}
	tdone()
}

func TestLocalLockContextCanceled(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	l := &Local{}
	const key = `device-3`

	_, done := l.Lock(ctx, key)

	wctx, wcancel := context.WithCancel(ctx)
	got := make(chan error, 1)
	go func() {
		lc, ldone := l.Lock(wctx, key)
		defer ldone()
		got <- lc.Err()
	}()

	// The waiter should park; canceling its Context must release it.
	wcancel()
	select {
	case err := <-got:
		if err == nil {
			t.Error("waiter returned a live Context after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("waiter did not return after cancellation")
	}
	done()
}

package locksource

import (
	"context"
	"sync"
)

// Local provides keyed locks backed by in-process concurrency primitives.
//
// The inventory coordinator uses one Local per process, keyed by device id.
// The zero Local is ready for use. A Local must not be copied after use.
type Local struct {
	m sync.Map
}

// barrier is used as an execution barrier: goroutines waiting on a held key
// park on the channel and are released when the holder closes it.
type barrier chan struct{}

// Assert [*Local] implements the interface.
var _ ContextLock = (*Local)(nil)

// Lock implements [ContextLock].
func (l *Local) Lock(ctx context.Context, key string) (context.Context, context.CancelFunc) {
	for {
		v, held := l.m.LoadOrStore(key, make(barrier))
		b := v.(barrier)
		if held {
			// Some other goroutine holds the key; wait for its barrier or
			// the Context, whichever resolves first.
			select {
			case <-b:
				continue
			case <-ctx.Done():
				return ctx, func() {}
			}
		}
		c, f := context.WithCancel(ctx)
		return c, l.unlock(b, key, f)
	}
}

// TryLock implements [ContextLock].
func (l *Local) TryLock(ctx context.Context, key string) (context.Context, context.CancelFunc) {
	c, f := context.WithCancel(ctx)
	v, held := l.m.LoadOrStore(key, make(barrier))
	if held {
		f()
		return c, func() {}
	}
	b := v.(barrier)
	return c, l.unlock(b, key, f)
}

// unlock returns a [context.CancelFunc] that cancels the child Context and
// then releases the key, waking any goroutines parked on the barrier.
func (l *Local) unlock(b barrier, key string, next context.CancelFunc) context.CancelFunc {
	return func() {
		next()
		l.m.Delete(key)
		close(b)
	}
}

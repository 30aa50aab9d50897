// Package locksource describes the interface netsift components use for
// keyed exclusive locks.
//
// The inventory coordinator serializes scan attachment and discovery per
// device id so the current→previous scan rotation never interleaves. A
// single netsift process owns its database, which makes the process-local
// [Local] implementation sufficient; the interface exists so a
// shared-resource implementation could stand in if the single-writer
// deployment shape ever changed.
package locksource

import (
	"context"
)

// ContextLock abstracts over how locks are implemented.
//
// The Lock and TryLock methods take an exclusive lock on the provided key
// and return a Context that is canceled if the parent Context is canceled or
// the lock is lost for some other reason.
type ContextLock interface {
	// Lock waits to acquire the named lock. The returned Context may be
	// canceled if the process loses confidence that the lock is valid.
	Lock(ctx context.Context, key string) (context.Context, context.CancelFunc)
	// TryLock returns a canceled Context if it would need to wait to acquire
	// the named lock.
	TryLock(ctx context.Context, key string) (context.Context, context.CancelFunc)
}

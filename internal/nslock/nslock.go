// Package nslock serializes reconciliation passes per memory namespace.
// The reconciliation protocol requires at most one writer per namespace at
// a time; Local covers a single process, RedisLocker covers a fleet.
package nslock

import (
	"context"
	"sync"

	"github.com/maistro-platform/maistro/internal/memory"
)

// Locker grants exclusive access to a namespace. Acquire blocks until the
// lease is granted or ctx is done; the returned release function must be
// called exactly once.
type Locker interface {
	Acquire(ctx context.Context, ns memory.Namespace) (release func(), err error)
}

// Local is an in-process Locker backed by a map of held namespaces.
type Local struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewLocal() *Local {
	return &Local{held: make(map[string]chan struct{})}
}

func (l *Local) Acquire(ctx context.Context, ns memory.Namespace) (func(), error) {
	key := ns.String()
	for {
		l.mu.Lock()
		waiter, taken := l.held[key]
		if !taken {
			ch := make(chan struct{})
			l.held[key] = ch
			l.mu.Unlock()

			var once sync.Once
			release := func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(ch)
				})
			}
			return release, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-waiter:
			// Holder released; race for the lease again.
		}
	}
}

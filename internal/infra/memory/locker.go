// internal/infra/memory/locker.go
package memory

import (
	"context"
	"sync"

	"athena/internal/domain"
)

// Locker is an in-process domain.Locker. Like the etcd locker it never
// blocks: a name that is already held yields domain.ErrLockNotAcquired.
type Locker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

var _ domain.Locker = (*Locker)(nil)

// NewLocker creates a Locker with nothing held.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]struct{})}
}

// Lock implements domain.Locker.
func (l *Locker) Lock(ctx context.Context, name string) (domain.Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[name]; ok {
		return nil, domain.ErrLockNotAcquired
	}
	l.held[name] = struct{}{}
	return &lock{locker: l, name: name}, nil
}

type lock struct {
	locker *Locker
	name   string
	once   sync.Once
}

// Unlock releases the lock. Releasing twice is harmless.
func (k *lock) Unlock(context.Context) error {
	k.once.Do(func() {
		k.locker.mu.Lock()
		delete(k.locker.held, k.name)
		k.locker.mu.Unlock()
	})
	return nil
}

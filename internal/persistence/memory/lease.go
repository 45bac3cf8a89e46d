package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weave-hq/weave/internal/core"
)

// Lease is an in-process advisory lock. Each Lease value is one owner
// identity; re-acquiring an already-held key renews it.
type Lease struct {
	owner string
	state *LeaseRegistry
	clock core.Clock
}

// LeaseRegistry is the shared lock table competing Lease owners operate
// on.
type LeaseRegistry struct {
	mu    sync.Mutex
	holds map[string]leaseHold
}

type leaseHold struct {
	owner     string
	expiresAt time.Time
}

var _ core.Lease = (*Lease)(nil)

// NewLeaseRegistry creates the shared lock table leases are issued from.
func NewLeaseRegistry() *LeaseRegistry {
	return &LeaseRegistry{holds: map[string]leaseHold{}}
}

// NewLease creates a lease owner over a shared registry. Passing the same
// registry to several Lease values models competing instances.
func NewLease(state *LeaseRegistry) *Lease {
	return &Lease{owner: uuid.NewString(), state: state, clock: time.Now}
}

// NewLeaseWithClock creates a lease with a replaceable clock, for expiry
// tests.
func NewLeaseWithClock(state *LeaseRegistry, clock core.Clock) *Lease {
	return &Lease{owner: uuid.NewString(), state: state, clock: clock}
}

// Acquire implements core.Lease.
func (l *Lease) Acquire(_ context.Context, key string, ttl time.Duration) error {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	now := l.clock()
	hold, ok := l.state.holds[key]
	if ok && hold.owner != l.owner && hold.expiresAt.After(now) {
		return core.ErrLeaseHeld
	}
	l.state.holds[key] = leaseHold{owner: l.owner, expiresAt: now.Add(ttl)}
	return nil
}

// Renew implements core.Lease.
func (l *Lease) Renew(_ context.Context, key string, ttl time.Duration) error {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	hold, ok := l.state.holds[key]
	if !ok || hold.owner != l.owner {
		return core.ErrLeaseHeld
	}
	l.state.holds[key] = leaseHold{owner: l.owner, expiresAt: l.clock().Add(ttl)}
	return nil
}

// Release implements core.Lease.
func (l *Lease) Release(_ context.Context, key string) error {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	if hold, ok := l.state.holds[key]; ok && hold.owner == l.owner {
		delete(l.state.holds, key)
	}
	return nil
}

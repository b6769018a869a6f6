package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

// DefaultLeaseDuration is used when a locker is created with a zero duration
const DefaultLeaseDuration = 30 * time.Second

type localLease struct {
	holder  string
	expires time.Time
}

// LocalLocker keeps leases in memory. It serializes work between schedulers
// sharing one process and is the locker used by single-instance deployments.
type LocalLocker struct {
	holder   string
	duration time.Duration
	clock    clock.PassiveClock

	mu     sync.Mutex
	leases map[string]localLease
}

// NewLocalLocker creates an in-memory locker. A nil clock uses the real clock.
func NewLocalLocker(duration time.Duration, clk clock.PassiveClock) *LocalLocker {
	if duration <= 0 {
		duration = DefaultLeaseDuration
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &LocalLocker{
		holder:   uuid.NewString(),
		duration: duration,
		clock:    clk,
		leases:   make(map[string]localLease),
	}
}

// Claim implements Locker
func (l *LocalLocker) Claim(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if lease, ok := l.leases[name]; ok && now.Before(lease.expires) {
		return ErrClaimDenied
	}
	l.leases[name] = localLease{holder: l.holder, expires: now.Add(l.duration)}
	return nil
}

// Extend implements Locker
func (l *LocalLocker) Extend(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	lease, ok := l.leases[name]
	if !ok || lease.holder != l.holder || !now.Before(lease.expires) {
		return ErrLockLost
	}
	lease.expires = now.Add(l.duration)
	l.leases[name] = lease
	return nil
}

// Release implements Locker
func (l *LocalLocker) Release(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lease, ok := l.leases[name]; ok && lease.holder == l.holder {
		delete(l.leases, name)
	}
	return nil
}

// LeaseDuration implements Locker
func (l *LocalLocker) LeaseDuration() time.Duration {
	return l.duration
}

// Holder implements Locker
func (l *LocalLocker) Holder() string {
	return l.holder
}

// Held reports whether name has an unexpired lease
func (l *LocalLocker) Held(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lease, ok := l.leases[name]
	return ok && l.clock.Now().Before(lease.expires)
}

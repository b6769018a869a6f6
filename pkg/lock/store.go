package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"
)

// LeaseStore keeps lease rows in storage shared by every process that opens
// it. *db.DB implements it.
type LeaseStore interface {
	ClaimLease(ctx context.Context, name, holder string, now time.Time, duration time.Duration) (bool, error)
	ExtendLease(ctx context.Context, name, holder string, now time.Time, duration time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, holder string) error
}

// StoreLocker holds leases as rows of the manager database, so the manager
// and arraysyncctl working on the same database file exclude each other.
type StoreLocker struct {
	store    LeaseStore
	holder   string
	duration time.Duration
	clock    clock.PassiveClock
}

// NewStoreLocker creates a locker on store. An empty holder gets a random
// one; a nil clock uses the real clock.
func NewStoreLocker(store LeaseStore, holder string, duration time.Duration, clk clock.PassiveClock) *StoreLocker {
	if holder == "" {
		holder = uuid.NewString()
	}
	if duration <= 0 {
		duration = DefaultLeaseDuration
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &StoreLocker{store: store, holder: holder, duration: duration, clock: clk}
}

// Claim implements Locker
func (l *StoreLocker) Claim(ctx context.Context, name string) error {
	ok, err := l.store.ClaimLease(ctx, name, l.holder, l.clock.Now(), l.duration)
	if err != nil {
		return err
	}
	if !ok {
		klog.V(5).Infof("Lease %s is held", name)
		return ErrClaimDenied
	}
	return nil
}

// Extend implements Locker
func (l *StoreLocker) Extend(ctx context.Context, name string) error {
	ok, err := l.store.ExtendLease(ctx, name, l.holder, l.clock.Now(), l.duration)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockLost
	}
	return nil
}

// Release implements Locker
func (l *StoreLocker) Release(ctx context.Context, name string) error {
	return l.store.ReleaseLease(ctx, name, l.holder)
}

// LeaseDuration implements Locker
func (l *StoreLocker) LeaseDuration() time.Duration {
	return l.duration
}

// Holder implements Locker
func (l *StoreLocker) Holder() string {
	return l.holder
}

// Package lock provides named, time-bounded locks that serialize work across
// cooperating manager processes, plus an in-process keyed mutex.
//
// A Locker hands out leases: a claim on a name that is valid for a fixed
// duration unless extended. WithLock claims a name, keeps extending it while
// the protected function runs and releases it afterwards.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"k8s.io/klog/v2"
)

var (
	// ErrClaimDenied indicates the name is currently held by someone else
	ErrClaimDenied = errors.New("lease is held")

	// ErrLockLost indicates an extension failed because the lease changed hands
	ErrLockLost = errors.New("lease lost")

	// ErrLockTimeout indicates the lease could not be claimed within the wait bound
	ErrLockTimeout = errors.New("timed out waiting for lease")
)

// Locker claims, extends and releases named leases for one holder
type Locker interface {
	// Claim takes name for the locker's holder. It fails with ErrClaimDenied
	// while an unexpired lease on name exists, whoever holds it.
	Claim(ctx context.Context, name string) error

	// Extend renews a lease the holder owns. It fails with ErrLockLost when
	// the lease is no longer held by this holder.
	Extend(ctx context.Context, name string) error

	// Release gives up a lease. Releasing a lease held by someone else is a no-op.
	Release(ctx context.Context, name string) error

	// LeaseDuration is how long a claim or extension stays valid
	LeaseDuration() time.Duration

	// Holder identifies this locker
	Holder() string
}

// Options tune WithLock
type Options struct {
	// InitialInterval is the first polling interval while the lease is held elsewhere
	InitialInterval time.Duration

	// MaxInterval caps the polling interval
	MaxInterval time.Duration
}

// DefaultOptions polls from 100ms up to 2s
var DefaultOptions = Options{
	InitialInterval: 100 * time.Millisecond,
	MaxInterval:     2 * time.Second,
}

// WithLock runs fn while holding the lease on name. Claiming polls with
// exponential backoff for at most wait and then gives up with ErrLockTimeout.
// While fn runs the lease is extended every third of its duration; if an
// extension fails the context passed to fn is cancelled. The lease is
// released when fn returns, also when fn fails or panics.
func WithLock(ctx context.Context, locker Locker, name string, wait time.Duration, fn func(ctx context.Context) error) error {
	return WithLockOptions(ctx, locker, name, wait, DefaultOptions, fn)
}

// WithLockOptions is WithLock with explicit polling options
func WithLockOptions(ctx context.Context, locker Locker, name string, wait time.Duration, opts Options, fn func(ctx context.Context) error) error {
	if err := claim(ctx, locker, name, wait, opts); err != nil {
		return err
	}
	klog.V(4).Infof("Acquired lease %s as %s", name, locker.Holder())

	workCtx, cancel := context.WithCancel(ctx)
	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		renew(workCtx, cancel, locker, name)
	}()

	defer func() {
		cancel()
		<-renewDone

		// Release even when ctx is already cancelled
		releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer releaseCancel()
		if err := locker.Release(releaseCtx, name); err != nil {
			klog.Warningf("Failed to release lease %s: %v", name, err)
			return
		}
		klog.V(4).Infof("Released lease %s", name)
	}()

	return fn(workCtx)
}

func claim(ctx context.Context, locker Locker, name string, wait time.Duration, opts Options) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.InitialInterval
	bo.MaxInterval = opts.MaxInterval
	bo.MaxElapsedTime = wait
	bo.RandomizationFactor = 0.1
	bo.Reset()

	attempts := 0
	op := func() error {
		attempts++
		err := locker.Claim(ctx, name)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrClaimDenied) {
			klog.V(5).Infof("Lease %s is held, attempt %d", name, attempts)
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(op, backoff.WithContext(bo, ctx))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrClaimDenied):
		return fmt.Errorf("%w: %s after %d attempts", ErrLockTimeout, name, attempts)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return fmt.Errorf("failed to claim lease %s: %w", name, err)
	}
}

// renew extends the lease every third of its duration until ctx ends
func renew(ctx context.Context, cancel context.CancelFunc, locker Locker, name string) {
	interval := locker.LeaseDuration() / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := locker.Extend(ctx, name); err != nil {
				if ctx.Err() != nil {
					return
				}
				klog.Errorf("Failed to extend lease %s, cancelling work: %v", name, err)
				cancel()
				return
			}
			klog.V(5).Infof("Extended lease %s", name)
		}
	}
}

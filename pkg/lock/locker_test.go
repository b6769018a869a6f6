package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastOptions = Options{InitialInterval: 5 * time.Millisecond, MaxInterval: 20 * time.Millisecond}

func TestWithLock_RunsAndReleases(t *testing.T) {
	l := NewLocalLocker(time.Minute, nil)
	ran := false

	err := WithLock(context.Background(), l, "s1/storage", time.Second, func(ctx context.Context) error {
		ran = true
		assert.True(t, l.Held("s1/storage"))
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, l.Held("s1/storage"), "lease released after fn")
}

func TestWithLock_ReleasesOnError(t *testing.T) {
	l := NewLocalLocker(time.Minute, nil)
	boom := errors.New("boom")

	err := WithLock(context.Background(), l, "s1/pools", time.Second, func(ctx context.Context) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.False(t, l.Held("s1/pools"))
}

func TestWithLock_ReleasesOnPanic(t *testing.T) {
	l := NewLocalLocker(time.Minute, nil)

	assert.Panics(t, func() {
		_ = WithLock(context.Background(), l, "s1/pools", time.Second, func(ctx context.Context) error {
			panic("sync blew up")
		})
	})
	assert.False(t, l.Held("s1/pools"))
}

func TestWithLock_TimesOutWhileHeld(t *testing.T) {
	l := NewLocalLocker(time.Minute, nil)
	require.NoError(t, l.Claim(context.Background(), "s1/disks"))

	called := false
	start := time.Now()
	err := WithLockOptions(context.Background(), l, "s1/disks", 100*time.Millisecond, fastOptions, func(ctx context.Context) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.False(t, called)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWithLock_AcquiresAfterRelease(t *testing.T) {
	l := NewLocalLocker(time.Minute, nil)
	require.NoError(t, l.Claim(context.Background(), "s1/volumes"))

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = l.Release(context.Background(), "s1/volumes")
	}()

	err := WithLockOptions(context.Background(), l, "s1/volumes", 2*time.Second, fastOptions, func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestWithLock_NoOverlap(t *testing.T) {
	l := NewLocalLocker(time.Minute, nil)
	var inside, maxInside, runs int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLockOptions(context.Background(), l, "s1/filesystems", 5*time.Second, fastOptions, func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				defer atomic.AddInt32(&inside, -1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				atomic.AddInt32(&runs, 1)
				time.Sleep(5 * time.Millisecond)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside, "sync invocations for one name must not overlap")
	assert.Equal(t, int32(8), runs)
}

func TestWithLock_RenewsWhileRunning(t *testing.T) {
	l := NewLocalLocker(90*time.Millisecond, nil)

	err := WithLock(context.Background(), l, "s1/alerts", time.Second, func(ctx context.Context) error {
		time.Sleep(250 * time.Millisecond)
		assert.True(t, l.Held("s1/alerts"), "lease should be renewed past its duration")
		return ctx.Err()
	})
	assert.NoError(t, err)
}

// lostLocker grants every claim and loses every extension
type lostLocker struct {
	*LocalLocker
}

func (l lostLocker) Extend(context.Context, string) error {
	return ErrLockLost
}

func TestWithLock_CancelsWorkWhenLeaseLost(t *testing.T) {
	l := lostLocker{NewLocalLocker(30*time.Millisecond, nil)}

	err := WithLock(context.Background(), l, "s1/storage", time.Second, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
			return nil
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

// brokenLocker fails every claim with a backend error
type brokenLocker struct {
	*LocalLocker
	claims int32
}

func (l *brokenLocker) Claim(context.Context, string) error {
	atomic.AddInt32(&l.claims, 1)
	return errors.New("apiserver unavailable")
}

func TestWithLock_BackendErrorIsNotRetried(t *testing.T) {
	l := &brokenLocker{LocalLocker: NewLocalLocker(time.Minute, nil)}

	err := WithLock(context.Background(), l, "s1/storage", time.Second, func(ctx context.Context) error {
		return nil
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLockTimeout)
	assert.Contains(t, err.Error(), "apiserver unavailable")
	assert.Equal(t, int32(1), atomic.LoadInt32(&l.claims))
}

package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"
)

const (
	// leasePrefix is prepended to every Lease object this locker manages
	leasePrefix = "arraysync-"

	// maxLeaseName keeps generated names inside the DNS subdomain limit
	maxLeaseName = 253
)

var invalidLeaseChars = regexp.MustCompile(`[^a-z0-9.-]+`)

// LeaseLocker stores leases as coordination.k8s.io/v1 Lease objects so that
// manager replicas in one namespace exclude each other.
type LeaseLocker struct {
	client    kubernetes.Interface
	namespace string
	holder    string
	duration  time.Duration
	clock     clock.PassiveClock
}

// NewLeaseLocker creates a locker writing Leases into namespace. holder must
// be unique per manager process; a nil clock uses the real clock.
func NewLeaseLocker(client kubernetes.Interface, namespace, holder string, duration time.Duration, clk clock.PassiveClock) *LeaseLocker {
	if duration <= 0 {
		duration = DefaultLeaseDuration
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &LeaseLocker{
		client:    client,
		namespace: namespace,
		holder:    holder,
		duration:  duration,
		clock:     clk,
	}
}

// LeaseName maps a lock name onto a valid Lease object name
func LeaseName(name string) string {
	n := leasePrefix + invalidLeaseChars.ReplaceAllString(strings.ToLower(name), "-")
	n = strings.Trim(n, "-.")
	if len(n) <= maxLeaseName {
		return n
	}
	sum := sha256.Sum256([]byte(name))
	suffix := hex.EncodeToString(sum[:8])
	return strings.Trim(n[:maxLeaseName-len(suffix)-1], "-.") + "-" + suffix
}

func (l *LeaseLocker) durationSeconds() int32 {
	secs := int32((l.duration + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// heldAt reports whether lease has a holder whose last renewal is still valid at now
func heldAt(lease *coordinationv1.Lease, now time.Time) bool {
	spec := lease.Spec
	if spec.HolderIdentity == nil || *spec.HolderIdentity == "" {
		return false
	}
	if spec.RenewTime == nil || spec.LeaseDurationSeconds == nil {
		return false
	}
	expires := spec.RenewTime.Add(time.Duration(*spec.LeaseDurationSeconds) * time.Second)
	return now.Before(expires)
}

func holderOf(lease *coordinationv1.Lease) string {
	if lease.Spec.HolderIdentity == nil {
		return ""
	}
	return *lease.Spec.HolderIdentity
}

// Claim implements Locker
func (l *LeaseLocker) Claim(ctx context.Context, name string) error {
	leases := l.client.CoordinationV1().Leases(l.namespace)
	leaseName := LeaseName(name)
	now := l.clock.Now()
	stamp := metav1.NewMicroTime(now)
	secs := l.durationSeconds()
	holder := l.holder

	lease, err := leases.Get(ctx, leaseName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		_, err = leases.Create(ctx, &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{
				Name:      leaseName,
				Namespace: l.namespace,
				Labels:    map[string]string{"app.kubernetes.io/managed-by": "arraysync"},
			},
			Spec: coordinationv1.LeaseSpec{
				HolderIdentity:       &holder,
				LeaseDurationSeconds: &secs,
				AcquireTime:          &stamp,
				RenewTime:            &stamp,
			},
		}, metav1.CreateOptions{})
		if apierrors.IsAlreadyExists(err) {
			return ErrClaimDenied
		}
		if err != nil {
			return fmt.Errorf("failed to create lease %s: %w", leaseName, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get lease %s: %w", leaseName, err)
	}

	if heldAt(lease, now) {
		klog.V(5).Infof("Lease %s held by %s", leaseName, holderOf(lease))
		return ErrClaimDenied
	}

	var transitions int32
	if lease.Spec.LeaseTransitions != nil {
		transitions = *lease.Spec.LeaseTransitions
	}
	if holderOf(lease) != holder {
		transitions++
	}
	lease.Spec.HolderIdentity = &holder
	lease.Spec.LeaseDurationSeconds = &secs
	lease.Spec.AcquireTime = &stamp
	lease.Spec.RenewTime = &stamp
	lease.Spec.LeaseTransitions = &transitions

	if _, err := leases.Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		if apierrors.IsConflict(err) {
			return ErrClaimDenied
		}
		return fmt.Errorf("failed to take over lease %s: %w", leaseName, err)
	}
	return nil
}

// Extend implements Locker
func (l *LeaseLocker) Extend(ctx context.Context, name string) error {
	leases := l.client.CoordinationV1().Leases(l.namespace)
	leaseName := LeaseName(name)

	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		lease, err := leases.Get(ctx, leaseName, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return ErrLockLost
		}
		if err != nil {
			return fmt.Errorf("failed to get lease %s: %w", leaseName, err)
		}

		now := l.clock.Now()
		if holderOf(lease) != l.holder || !heldAt(lease, now) {
			return ErrLockLost
		}

		stamp := metav1.NewMicroTime(now)
		secs := l.durationSeconds()
		lease.Spec.RenewTime = &stamp
		lease.Spec.LeaseDurationSeconds = &secs
		_, err = leases.Update(ctx, lease, metav1.UpdateOptions{})
		return err
	})
}

// Release implements Locker. The Lease object is kept with its holder
// cleared so the transition count survives.
func (l *LeaseLocker) Release(ctx context.Context, name string) error {
	leases := l.client.CoordinationV1().Leases(l.namespace)
	leaseName := LeaseName(name)

	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		lease, err := leases.Get(ctx, leaseName, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get lease %s: %w", leaseName, err)
		}
		if holderOf(lease) != l.holder {
			return nil
		}

		lease.Spec.HolderIdentity = nil
		lease.Spec.AcquireTime = nil
		lease.Spec.RenewTime = nil
		_, err = leases.Update(ctx, lease, metav1.UpdateOptions{})
		return err
	})
}

// LeaseDuration implements Locker
func (l *LeaseLocker) LeaseDuration() time.Duration {
	return l.duration
}

// Holder implements Locker
func (l *LeaseLocker) Holder() string {
	return l.holder
}

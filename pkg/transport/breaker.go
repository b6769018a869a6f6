package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/arraysync/pkg/security"
	"git.srvlab.io/whiskey/arraysync/pkg/utils"
)

const (
	// DefaultConsecutiveFailures is the number of transport failures before the circuit opens
	DefaultConsecutiveFailures = 3

	// DefaultBreakerTimeout is how long the circuit stays open before a probe is allowed
	DefaultBreakerTimeout = 2 * time.Minute

	// DefaultBreakerInterval is the cyclic period of closed state to clear failure counts
	DefaultBreakerInterval = 1 * time.Minute
)

// HostBreakers keeps one circuit breaker per array address. It is shared by
// all pools of a process, so a rebuilt driver inherits the state of the
// address it talks to.
type HostBreakers struct {
	breakers map[string]*gobreaker.CircuitBreaker
	mu       sync.RWMutex

	threshold uint32
	timeout   time.Duration
	onChange  func(host string, from, to gobreaker.State)
}

// BreakerOption customizes HostBreakers
type BreakerOption func(*HostBreakers)

// WithThreshold sets the consecutive failures that open a circuit
func WithThreshold(n uint32) BreakerOption {
	return func(hb *HostBreakers) { hb.threshold = n }
}

// WithOpenTimeout sets how long a circuit stays open
func WithOpenTimeout(d time.Duration) BreakerOption {
	return func(hb *HostBreakers) { hb.timeout = d }
}

// WithStateChange registers a callback for circuit state transitions
func WithStateChange(fn func(host string, from, to gobreaker.State)) BreakerOption {
	return func(hb *HostBreakers) { hb.onChange = fn }
}

// NewHostBreakers creates an empty breaker set
func NewHostBreakers(opts ...BreakerOption) *HostBreakers {
	hb := &HostBreakers{
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		threshold: DefaultConsecutiveFailures,
		timeout:   DefaultBreakerTimeout,
	}
	for _, opt := range opts {
		opt(hb)
	}
	return hb
}

// getBreaker returns or creates the breaker for host
func (hb *HostBreakers) getBreaker(host string) *gobreaker.CircuitBreaker {
	hb.mu.RLock()
	cb, exists := hb.breakers[host]
	hb.mu.RUnlock()

	if exists {
		return cb
	}

	hb.mu.Lock()
	defer hb.mu.Unlock()

	if cb, exists := hb.breakers[host]; exists {
		return cb
	}

	threshold := hb.threshold
	settings := gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Interval:    DefaultBreakerInterval,
		Timeout:     hb.timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Only an unreachable array counts against the circuit. An array that
		// answered, even with an error, is up.
		IsSuccessful: func(err error) bool {
			return err == nil || !utils.IsTransportError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			klog.Infof("Circuit breaker for array %s: %s -> %s", utils.SanitizeErrorMessage(name), from, to)
			if to == gobreaker.StateOpen {
				security.GetLogger().LogCircuitBreakerOpen(name)
			}
			if hb.onChange != nil {
				hb.onChange(name, from, to)
			}
		},
	}

	cb = gobreaker.NewCircuitBreaker(settings)
	hb.breakers[host] = cb
	klog.V(4).Infof("Created circuit breaker for array %s", utils.SanitizeErrorMessage(host))
	return cb
}

// Execute runs fn under the breaker of host. While the circuit is open fn is
// not called and a transport error wrapping ErrCircuitOpen is returned.
func (hb *HostBreakers) Execute(host, op string, fn func() error) error {
	cb := hb.getBreaker(host)

	_, err := cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return utils.NewTransportError(op, ErrCircuitOpen)
	}
	return err
}

// State returns the breaker state for host, "closed" when none exists
func (hb *HostBreakers) State(host string) string {
	hb.mu.RLock()
	cb, exists := hb.breakers[host]
	hb.mu.RUnlock()

	if !exists {
		return gobreaker.StateClosed.String()
	}
	return cb.State().String()
}

// Reset forgets the breaker for host so the next call starts closed
func (hb *HostBreakers) Reset(host string) bool {
	hb.mu.Lock()
	defer hb.mu.Unlock()

	if _, exists := hb.breakers[host]; exists {
		delete(hb.breakers, host)
		klog.Infof("Circuit breaker reset for array %s", utils.SanitizeErrorMessage(host))
		return true
	}
	return false
}

package mock

import (
	"math/rand"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

// TimingSimulator adds realistic timing delays to mock server sessions
type TimingSimulator struct {
	enabled          bool
	sshLatency       time.Duration
	sshLatencyJitter time.Duration
	commandDelay     time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewTimingSimulator creates a new timing simulator from configuration
func NewTimingSimulator(config MockONTAPConfig) *TimingSimulator {
	return &TimingSimulator{
		enabled:          config.RealisticTiming,
		sshLatency:       time.Duration(config.SSHLatencyMs) * time.Millisecond,
		sshLatencyJitter: time.Duration(config.SSHLatencyJitterMs) * time.Millisecond,
		commandDelay:     time.Duration(config.CommandDelayMs) * time.Millisecond,
		rng:              rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SimulateSSHLatency simulates session start latency with jitter
func (t *TimingSimulator) SimulateSSHLatency() {
	if !t.enabled || t.sshLatency == 0 {
		return
	}

	jitter := time.Duration(0)
	if t.sshLatencyJitter > 0 {
		t.mu.Lock()
		jitter = time.Duration(t.rng.Int63n(int64(t.sshLatencyJitter*2))) - t.sshLatencyJitter
		t.mu.Unlock()
	}

	delay := t.sshLatency + jitter
	if delay < 0 {
		delay = 0
	}

	klog.V(4).Infof("Mock ONTAP timing: SSH latency simulation %dms", delay.Milliseconds())
	time.Sleep(delay)
}

// SimulateCommand delays a command reply. The delay applies even without
// realistic timing so tests can provoke command timeouts.
func (t *TimingSimulator) SimulateCommand() {
	if t.commandDelay == 0 {
		return
	}
	time.Sleep(t.commandDelay)
}

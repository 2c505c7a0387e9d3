package mock

import (
	"math/rand"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

// TimingSimulator adds delays to mock host operations
type TimingSimulator struct {
	enabled          bool
	sshLatency       time.Duration
	sshLatencyJitter time.Duration
	createDelay      time.Duration
	destroyDelay     time.Duration

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewTimingSimulator creates a timing simulator from configuration
func NewTimingSimulator(config HostConfig) *TimingSimulator {
	return &TimingSimulator{
		enabled:          config.RealisticTiming,
		sshLatency:       time.Duration(config.SSHLatencyMs) * time.Millisecond,
		sshLatencyJitter: time.Duration(config.SSHLatencyJitterMs) * time.Millisecond,
		createDelay:      time.Duration(config.CreateDelayMs) * time.Millisecond,
		destroyDelay:     time.Duration(config.DestroyDelayMs) * time.Millisecond,
		rng:              rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SimulateSSHLatency sleeps for the base latency plus or minus jitter
func (t *TimingSimulator) SimulateSSHLatency() {
	if !t.enabled || t.sshLatency == 0 {
		return
	}

	jitter := time.Duration(0)
	if t.sshLatencyJitter > 0 {
		t.rngMu.Lock()
		jitter = time.Duration(t.rng.Int63n(int64(t.sshLatencyJitter*2))) - t.sshLatencyJitter
		t.rngMu.Unlock()
	}

	delay := t.sshLatency + jitter
	if delay < 0 {
		delay = 0
	}
	klog.V(4).Infof("Mock host timing: SSH latency %dms", delay.Milliseconds())
	time.Sleep(delay)
}

// SimulatePoolOperation sleeps before a create or destroy takes effect
func (t *TimingSimulator) SimulatePoolOperation(op string) {
	if !t.enabled {
		return
	}

	var delay time.Duration
	switch op {
	case "create":
		delay = t.createDelay
	case "destroy":
		delay = t.destroyDelay
	}
	if delay == 0 {
		return
	}
	klog.V(4).Infof("Mock host timing: %s %dms", op, delay.Milliseconds())
	time.Sleep(delay)
}

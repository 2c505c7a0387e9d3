package e2e

import (
	"fmt"
	"time"

	. "github.com/onsi/gomega"
	"k8s.io/apimachinery/pkg/util/wait"

	"git.srvlab.io/whiskey/draid-bench/pkg/audit"
	"git.srvlab.io/whiskey/draid-bench/pkg/catalog"
	"git.srvlab.io/whiskey/draid-bench/pkg/layout"
	"git.srvlab.io/whiskey/draid-bench/pkg/lifecycle"
	"git.srvlab.io/whiskey/draid-bench/pkg/observability"
	"git.srvlab.io/whiskey/draid-bench/pkg/utils"
	"git.srvlab.io/whiskey/draid-bench/pkg/zpool"
	"git.srvlab.io/whiskey/draid-bench/test/mock"
)

// Constants for test configuration
const (
	deviceCount     = 16
	defaultTimeout  = 30 * time.Second
	pollInterval    = 100 * time.Millisecond
	statusPollEvery = 10 * time.Millisecond
	deviceDir       = "/dev/disk/by-id"
)

// testPoolName creates a unique pool name for the current test
func testPoolName(name string) string {
	pool, err := utils.GeneratePoolName(name, testRunID)
	Expect(err).NotTo(HaveOccurred())
	return pool
}

// harness bundles the pieces a trial needs against the mock host
type harness struct {
	pool    string
	audit   *audit.Logger
	metrics *observability.Metrics
	client  *zpool.Client
	ctrl    *lifecycle.Controller
}

type harnessOption func(*lifecycle.Config)

func withPoll(p utils.PollConfig) harnessOption {
	return func(c *lifecycle.Config) { c.Poll = p }
}

func newHarness(name string, opts ...harnessOption) *harness {
	h := &harness{
		pool:    testPoolName(name),
		audit:   audit.NewLogger(testRunID),
		metrics: observability.NewMetrics(),
	}

	var err error
	h.client, err = zpool.NewClient(zpool.Config{
		Runner:         runner,
		Audit:          h.audit,
		Metrics:        h.metrics,
		DestroyBackoff: wait.Backoff{Steps: 3, Duration: 10 * time.Millisecond, Factor: 1},
	})
	Expect(err).NotTo(HaveOccurred())

	cfg := lifecycle.Config{
		Client:         h.client,
		Pool:           h.pool,
		Path:           catalog.ByIDPath(deviceDir, ""),
		Poll:           utils.PollConfig{Interval: statusPollEvery, Timeout: defaultTimeout, MaxAttempts: 50},
		DestroyTimeout: defaultTimeout,
		Audit:          h.audit,
		Metrics:        h.metrics,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	h.ctrl, err = lifecycle.New(cfg)
	Expect(err).NotTo(HaveOccurred())
	return h
}

// discoverDevices runs the catalog against the mock host
func discoverDevices(glob string) []catalog.DeviceID {
	cat, err := catalog.New(catalog.Config{
		Runner:          runner,
		Lister:          &catalog.RemoteLister{Runner: runner, Glob: glob},
		ProbesPerSecond: -1,
	})
	Expect(err).NotTo(HaveOccurred())
	devices, err := cat.Discover(ctx)
	Expect(err).NotTo(HaveOccurred())
	return devices
}

// enumerate returns the plans for devices, failing the test when there are none
func enumerate(devices []catalog.DeviceID, opts layout.Options) []layout.Plan {
	plans := layout.Enumerate(devices, opts)
	Expect(layout.RequireAny(plans, len(devices))).To(Succeed())
	return plans
}

// waitForPoolGone waits until the mock host no longer has pool
func waitForPoolGone(pool string) {
	Eventually(func() bool {
		_, exists := mockHost.Pool(pool)
		return exists
	}, defaultTimeout, pollInterval).Should(BeFalse(), "Pool %s should be destroyed on the mock host", pool)
}

// resetHost clears injected errors and history between specs
func resetHost() {
	mockHost.Errors().SetMode(mock.ErrorModeNone, 0)
	mockHost.ClearCommandHistory()
	mockHost.SetRecoveryPolls(2)
}

func byIDPath(id catalog.DeviceID) string {
	return fmt.Sprintf("%s/%s", deviceDir, id)
}

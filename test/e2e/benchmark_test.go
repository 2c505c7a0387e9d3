package e2e

import (
	"os"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/draid-bench/pkg/layout"
	"git.srvlab.io/whiskey/draid-bench/pkg/lifecycle"
	"git.srvlab.io/whiskey/draid-bench/pkg/orchestrator"
	"git.srvlab.io/whiskey/draid-bench/pkg/report"
)

var _ = Describe("Benchmark Run [E2E-01]", func() {
	BeforeEach(resetHost)

	It("should discover devices, run every layout and leave no pool behind", func() {
		By("Step 1: Discovering devices on the mock host")
		devices := discoverDevices("/dev/sd*")
		Expect(devices).To(HaveLen(deviceCount))

		By("Step 2: Enumerating layouts")
		plans := enumerate(devices, layout.Options{MinGroupSize: 4})
		Expect(plans).To(HaveLen(3))

		By("Step 3: Running every trial")
		h := newHarness("bench")
		dir := GinkgoT().TempDir()
		writer, err := report.Create(dir, report.Header{RunID: testRunID, Target: runner.Target(), Pool: h.pool, Mode: lifecycle.ModeResilver, Devices: len(devices), Layouts: len(plans)})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = writer.Close() })

		var seen []string
		orch, err := orchestrator.New(orchestrator.Config{
			Trials: h.ctrl,
			Report: writer,
			OnTrial: func(r lifecycle.TrialResult) {
				_, exists := mockHost.Pool(h.pool)
				Expect(exists).To(BeFalse(), "Pool must be gone before the next trial starts")
				seen = append(seen, r.Plan.Descriptor())
			},
		})
		Expect(err).NotTo(HaveOccurred())

		summary, err := orch.Run(ctx, plans)
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Succeeded).To(Equal(3))
		Expect(summary.AllSucceeded()).To(BeTrue())
		Expect(seen).To(Equal([]string{"draid2:16c:1s:13d", "draid2:8c:1s:5d", "draid2:4c:1s:1d"}))

		for _, r := range summary.Results {
			Expect(r.FinalState).To(Equal(lifecycle.StateRecovered))
			Expect(r.CleanupErr).NotTo(HaveOccurred())
			Expect(r.Polls).To(BeNumerically(">=", 3))
			Expect(r.Final.Scan).To(HavePrefix("resilvered"))
		}

		By("Step 4: Verifying the report holds one block per trial")
		Expect(writer.Close()).To(Succeed())
		data, err := os.ReadFile(writer.Path())
		Expect(err).NotTo(HaveOccurred())
		text := string(data)
		Expect(strings.Count(text, "outcome:")).To(Equal(3))
		Expect(text).To(ContainSubstring(testRunID))
		Expect(text).To(ContainSubstring("draid2:4c:1s:1d"))
		klog.Infof("Report written to %s", writer.Path())

		By("Step 5: Verifying the command sequence and cleanup")
		Expect(mockHost.CommandsMatching("zpool create")).To(HaveLen(3))
		Expect(mockHost.CommandsMatching("zpool offline")).To(HaveLen(3))
		Expect(mockHost.CommandsMatching("zpool replace")).To(HaveLen(3))
		Expect(mockHost.CommandsMatching("zpool destroy")).To(HaveLen(3))
		Expect(mockHost.PoolNames()).To(BeEmpty())

		snap := h.audit.Snapshot()
		Expect(snap.Failures).To(BeZero())
		Expect(snap.String()).To(ContainSubstring("creates=3 destroys=3"))
	})

	It("should honor the layout limit", func() {
		devices := discoverDevices("/dev/sd*")
		plans := enumerate(devices, layout.Options{MinGroupSize: 4})
		h := newHarness("limit")

		writer, err := report.Create(GinkgoT().TempDir(), report.Header{RunID: testRunID, Pool: h.pool})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = writer.Close() })

		orch, err := orchestrator.New(orchestrator.Config{Trials: h.ctrl, Report: writer, Limit: 1})
		Expect(err).NotTo(HaveOccurred())
		summary, err := orch.Run(ctx, plans)
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Planned).To(Equal(1))
		Expect(summary.Recorded()).To(Equal(1))
		Expect(mockHost.CommandsMatching("zpool create")).To(HaveLen(1))
	})
})

var _ = Describe("Replacement Targets [E2E-02]", func() {
	BeforeEach(resetHost)

	It("should rebuild onto the distributed spare and finish degraded", func() {
		devices := discoverDevices("/dev/sd*")
		plan := enumerate(devices[:8], layout.Options{MinGroupSize: 4})[0]
		h := newHarness("dspare")

		result := h.ctrl.RunTrial(ctx, 1, plan, lifecycle.ResilverDrill{})
		Expect(result.Err).NotTo(HaveOccurred())
		Expect(result.Outcome).To(Equal(lifecycle.OutcomeSuccess))
		Expect(string(result.Final.State)).To(Equal("DEGRADED"))
		Expect(mockHost.CommandsMatching("zpool replace")[0]).To(HaveSuffix("draid2-0-0"))
		waitForPoolGone(h.pool)
	})

	It("should resilver onto the reserved global spare and finish online", func() {
		devices := discoverDevices("/dev/sd*")
		plans := enumerate(devices[:9], layout.Options{MinGroupSize: 4, ReserveGlobalSpare: true})
		Expect(plans).To(HaveLen(2))
		plan := plans[1]
		Expect(plan.Reserve).To(Equal(devices[8]))
		h := newHarness("reserve")

		result := h.ctrl.RunTrial(ctx, 1, plan, lifecycle.ResilverDrill{})
		Expect(result.Err).NotTo(HaveOccurred())
		Expect(result.Outcome).To(Equal(lifecycle.OutcomeSuccess))
		Expect(string(result.Final.State)).To(Equal("ONLINE"))
		Expect(mockHost.CommandsMatching("zpool replace")[0]).To(HaveSuffix(byIDPath(devices[8])))

		created := mockHost.CommandsMatching("zpool create")[0]
		Expect(created).NotTo(ContainSubstring(string(devices[8])), "The reserve is never a pool member")
		waitForPoolGone(h.pool)
	})
})

var _ = Describe("Scrub Drill [E2E-03]", func() {
	BeforeEach(resetHost)

	It("should time a scrub of a healthy pool", func() {
		devices := discoverDevices("/dev/sd*")
		plan := enumerate(devices[:4], layout.Options{MinGroupSize: 4})[0]
		h := newHarness("scrub")

		result := h.ctrl.RunTrial(ctx, 1, plan, lifecycle.ScrubDrill{})
		Expect(result.Err).NotTo(HaveOccurred())
		Expect(result.Mode).To(Equal(lifecycle.ModeScrub))
		Expect(result.Final.Scan).To(HavePrefix("scrub repaired"))
		Expect(mockHost.CommandsMatching("zpool offline")).To(BeEmpty())
		Expect(mockHost.CommandsMatching("zpool scrub")).To(HaveLen(1))
		waitForPoolGone(h.pool)
	})
})

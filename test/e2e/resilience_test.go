package e2e

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"git.srvlab.io/whiskey/draid-bench/pkg/audit"
	"git.srvlab.io/whiskey/draid-bench/pkg/layout"
	"git.srvlab.io/whiskey/draid-bench/pkg/lifecycle"
	"git.srvlab.io/whiskey/draid-bench/pkg/orchestrator"
	"git.srvlab.io/whiskey/draid-bench/pkg/report"
	"git.srvlab.io/whiskey/draid-bench/pkg/utils"
	"git.srvlab.io/whiskey/draid-bench/test/mock"
)

var _ = Describe("Failure Isolation [E2E-04]", func() {
	BeforeEach(resetHost)

	It("should record a failed create and carry on with the next layout", func() {
		devices := discoverDevices("/dev/sd*")
		plans := enumerate(devices, layout.Options{MinGroupSize: 4})
		h := newHarness("isolate")

		writer, err := report.Create(GinkgoT().TempDir(), report.Header{RunID: testRunID, Pool: h.pool})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = writer.Close() })

		By("Failing only the second create")
		mockHost.Errors().SetMode(mock.ErrorModeCreateFail, 1)
		DeferCleanup(func() { mockHost.Errors().SetMode(mock.ErrorModeNone, 0) })

		orch, err := orchestrator.New(orchestrator.Config{Trials: h.ctrl, Report: writer})
		Expect(err).NotTo(HaveOccurred())
		summary, err := orch.Run(ctx, plans)
		Expect(err).NotTo(HaveOccurred())

		Expect(summary.Recorded()).To(Equal(3))
		Expect(summary.Results[1].Outcome).To(Equal(lifecycle.OutcomeFailed))
		Expect(summary.Results[1].ErrorDetail()).To(ContainSubstring("invalid vdev specification"))
		Expect(summary.Results[1].FinalState).To(Equal(lifecycle.StateAbsent), "the failed create never produced a pool")
		Expect(summary.Results[2].Outcome).To(Equal(lifecycle.OutcomeFailed), "create_fail keeps failing after the threshold")
		Expect(summary.Succeeded).To(Equal(1))
		Expect(mockHost.PoolNames()).To(BeEmpty())
	})

	It("should retry a busy destroy until it succeeds", func() {
		devices := discoverDevices("/dev/sd*")
		plan := enumerate(devices[:4], layout.Options{})[0]
		h := newHarness("busy")

		mockHost.Errors().FailTimes(mock.ErrorModeDestroyBusy, 2)
		result := h.ctrl.RunTrial(ctx, 1, plan, lifecycle.ResilverDrill{})

		Expect(result.Outcome).To(Equal(lifecycle.OutcomeSuccess))
		Expect(result.CleanupErr).NotTo(HaveOccurred())
		Expect(mockHost.CommandsMatching("zpool destroy")).To(HaveLen(3))
		waitForPoolGone(h.pool)
	})

	It("should surface a leaked pool without masking the trial outcome", func() {
		devices := discoverDevices("/dev/sd*")
		plan := enumerate(devices[:4], layout.Options{})[0]
		h := newHarness("leak")

		mockHost.Errors().SetMode(mock.ErrorModeDestroyBusy, 0)
		result := h.ctrl.RunTrial(ctx, 1, plan, lifecycle.ResilverDrill{})
		mockHost.Errors().SetMode(mock.ErrorModeNone, 0)

		Expect(result.Outcome).To(Equal(lifecycle.OutcomeSuccess))
		Expect(result.CleanupErr).To(HaveOccurred())
		Expect(result.FinalState).To(Equal(lifecycle.StateRecovered), "the drill completed before teardown failed")
		Expect(h.audit.Snapshot().ByType[audit.EventPoolLeaked]).To(Equal(int64(1)))

		By("The next trial removes the leftover pool before creating")
		_, exists := mockHost.Pool(h.pool)
		Expect(exists).To(BeTrue())
		next := h.ctrl.RunTrial(ctx, 2, plan, lifecycle.ResilverDrill{})
		Expect(next.Outcome).To(Equal(lifecycle.OutcomeSuccess))
		waitForPoolGone(h.pool)
	})

	It("should poll through transient status failures", func() {
		devices := discoverDevices("/dev/sd*")
		plan := enumerate(devices[:4], layout.Options{})[0]
		h := newHarness("flaky")

		mockHost.Errors().FailTimes(mock.ErrorModeStatusFail, 1)
		result := h.ctrl.RunTrial(ctx, 1, plan, lifecycle.ResilverDrill{})
		Expect(result.Err).NotTo(HaveOccurred())
		Expect(result.Outcome).To(Equal(lifecycle.OutcomeSuccess))
		Expect(result.Polls).To(BeNumerically(">=", 4), "the failed poll counts as an attempt")
		waitForPoolGone(h.pool)
	})
})

var _ = Describe("Recovery Bounds [E2E-05]", func() {
	BeforeEach(resetHost)

	It("should time out a recovery that never finishes and still destroy the pool", func() {
		mockHost.SetRecoveryPolls(1000)
		devices := discoverDevices("/dev/sd*")
		plan := enumerate(devices[:4], layout.Options{})[0]
		h := newHarness("timeout", withPoll(utils.PollConfig{Interval: statusPollEvery, Timeout: defaultTimeout, MaxAttempts: 3}))

		result := h.ctrl.RunTrial(ctx, 1, plan, lifecycle.ResilverDrill{})
		Expect(result.Outcome).To(Equal(lifecycle.OutcomeTimedOut))
		Expect(utils.IsTimeout(result.Err)).To(BeTrue())
		Expect(result.Polls).To(Equal(3))
		Expect(result.FinalState).To(Equal(lifecycle.StateAborted))
		Expect(result.CleanupErr).NotTo(HaveOccurred())
		waitForPoolGone(h.pool)
	})

	It("should stop the run on interrupt after destroying the active pool", func() {
		mockHost.SetRecoveryPolls(1000)
		devices := discoverDevices("/dev/sd*")
		plans := enumerate(devices, layout.Options{MinGroupSize: 4})
		h := newHarness("interrupt")

		writer, err := report.Create(GinkgoT().TempDir(), report.Header{RunID: testRunID, Pool: h.pool})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = writer.Close() })

		runCtx, stop := context.WithCancel(ctx)
		defer stop()
		go func() {
			defer GinkgoRecover()
			Eventually(func() int {
				return len(mockHost.CommandsMatching("zpool status"))
			}, defaultTimeout, statusPollEvery).Should(BeNumerically(">=", 2))
			stop()
		}()

		orch, err := orchestrator.New(orchestrator.Config{Trials: h.ctrl, Report: writer})
		Expect(err).NotTo(HaveOccurred())
		summary, err := orch.Run(runCtx, plans)

		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		Expect(summary.Recorded()).To(Equal(1))
		Expect(summary.Interrupted).To(Equal(1))
		Expect(summary.Results[0].FinalState).To(Equal(lifecycle.StateAborted))
		Expect(summary.Results[0].CleanupErr).NotTo(HaveOccurred())
		Expect(mockHost.CommandsMatching("zpool create")).To(HaveLen(1))
		waitForPoolGone(h.pool)
	})
})

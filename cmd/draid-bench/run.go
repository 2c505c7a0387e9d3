package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/draid-bench/pkg/audit"
	"git.srvlab.io/whiskey/draid-bench/pkg/lifecycle"
	"git.srvlab.io/whiskey/draid-bench/pkg/observability"
	"git.srvlab.io/whiskey/draid-bench/pkg/orchestrator"
	"git.srvlab.io/whiskey/draid-bench/pkg/report"
	"git.srvlab.io/whiskey/draid-bench/pkg/zpool"
)

var dryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Create, degrade and recover a pool for every feasible layout",
	Long: `Run one trial per layout, in order. Each trial creates the pool, triggers
the configured drill (resilver or scrub), polls status until the work
finishes, then destroys the pool. Every trial is appended to the report as
soon as it ends, so an interrupted run keeps what it measured.`,
	RunE: runBenchmark,
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the plans that would run and exit")
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	ctx, a, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	devices, plans, err := a.plans(ctx)
	if err != nil {
		return err
	}
	total := runCount(len(plans), a.cfg.Limit)

	out := cmd.OutOrStdout()
	if dryRun {
		printPlans(out, a.cfg.Zpool, a.cfg.PoolName, a.cfg.PathFunc(), plans[:total])
		return nil
	}

	drill, err := lifecycle.DrillFor(a.cfg.Mode)
	if err != nil {
		return err
	}

	if a.cfg.MetricsAddr != "" {
		stopMetrics := serveMetrics(a.cfg.MetricsAddr, a.metrics)
		defer stopMetrics()
	}

	auditLog := audit.NewLogger(a.runID)
	client, err := zpool.NewClient(zpool.Config{
		Runner:      a.runner,
		Tool:        a.cfg.Zpool,
		ForceCreate: a.cfg.ForceCreate,
		Audit:       auditLog,
		Metrics:     a.metrics,
	})
	if err != nil {
		return err
	}

	ctrl, err := lifecycle.New(lifecycle.Config{
		Client:         client,
		Pool:           a.cfg.PoolName,
		Path:           a.cfg.PathFunc(),
		Poll:           a.cfg.Poll(),
		SettleDelay:    a.cfg.SettleDelay,
		DestroyTimeout: a.cfg.DestroyTimeout,
		Audit:          auditLog,
		Metrics:        a.metrics,
	})
	if err != nil {
		return err
	}

	writer, err := report.Create(a.cfg.ReportDir, report.Header{
		RunID:   a.runID,
		Target:  a.runner.Target(),
		Pool:    a.cfg.PoolName,
		Mode:    drill.Name(),
		Devices: len(devices),
		Layouts: total,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := writer.Close(); err != nil {
			klog.Errorf("Failed to close report %s: %v", writer.Path(), err)
		}
	}()

	orch, err := orchestrator.New(orchestrator.Config{
		Trials: ctrl,
		Report: writer,
		Drill:  drill,
		Limit:  a.cfg.Limit,
		OnTrial: func(r lifecycle.TrialResult) {
			printTrial(out, total, r)
		},
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Running %d %s trials on %s, pool %s; report %s\n",
		total, drill.Name(), a.runner.Target(), a.cfg.PoolName, writer.Path())

	summary, runErr := orch.Run(ctx, plans)
	printSummary(out, summary)
	fmt.Fprintf(out, "Audit: %s\n", auditLog.Snapshot())

	switch {
	case runErr != nil && (errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)):
		return &exitError{code: 130, err: fmt.Errorf("run interrupted after %d of %d trials", summary.Recorded(), summary.Planned)}
	case runErr != nil:
		return runErr
	case summary.CleanupFailures > 0:
		return fmt.Errorf("%d pools could not be confirmed destroyed; check the storage host", summary.CleanupFailures)
	case a.cfg.FailOnTrialError && !summary.AllSucceeded():
		return fmt.Errorf("%d of %d trials did not succeed", summary.Recorded()-summary.Succeeded, summary.Recorded())
	}
	return nil
}

func printTrial(w io.Writer, total int, r lifecycle.TrialResult) {
	line := fmt.Sprintf("[%d/%d] %-22s %-11s", r.Index, total, r.Plan.Descriptor(), r.Outcome)
	if r.Succeeded() {
		line += " " + r.Recovery.Round(time.Second).String()
	} else if detail := r.ErrorDetail(); detail != "" {
		line += " " + detail
	}
	if r.CleanupErr != nil {
		line += " (cleanup: " + r.CleanupDetail() + ")"
	}
	fmt.Fprintln(w, line)
}

func printSummary(w io.Writer, s orchestrator.Summary) {
	fmt.Fprintf(w, "%d/%d trials recorded in %s: %d succeeded, %d failed, %d timed out, %d interrupted\n",
		s.Recorded(), s.Planned, s.Elapsed.Round(time.Second), s.Succeeded, s.Failed, s.TimedOut, s.Interrupted)
	if best, ok := s.Fastest(); ok {
		fmt.Fprintf(w, "Fastest recovery: %s in %s\n", best.Plan.Descriptor(), best.Recovery.Round(time.Second))
	}
}

// serveMetrics exposes the registry until the returned func is called
func serveMetrics(addr string, metrics *observability.Metrics) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		klog.Infof("Serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.Errorf("Metrics server failed: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// runCount is how many of n plans a run with limit executes; the
// orchestrator applies the same cap to the plans it is given
func runCount(n, limit int) int {
	if limit > 0 && n > limit {
		return limit
	}
	return n
}

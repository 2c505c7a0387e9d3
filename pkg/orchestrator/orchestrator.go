// Package orchestrator runs every layout plan through the lifecycle
// controller, one at a time, and records each result as soon as it exists.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/draid-bench/pkg/layout"
	"git.srvlab.io/whiskey/draid-bench/pkg/lifecycle"
)

// TrialRunner executes one plan. *lifecycle.Controller implements it.
type TrialRunner interface {
	RunTrial(ctx context.Context, index int, plan layout.Plan, drill lifecycle.Drill) lifecycle.TrialResult
}

// Recorder persists a trial result. *report.Writer implements it.
type Recorder interface {
	Append(result lifecycle.TrialResult) error
}

var _ TrialRunner = (*lifecycle.Controller)(nil)

// Config configures an Orchestrator
type Config struct {
	Trials TrialRunner
	Report Recorder
	Drill  lifecycle.Drill

	// Limit caps how many plans are run (0 = all)
	Limit int

	// OnTrial is called after each result has been recorded
	OnTrial func(result lifecycle.TrialResult)
}

// Orchestrator runs plans sequentially with per-plan failure isolation
type Orchestrator struct {
	config Config
}

// Summary counts trial outcomes for a run
type Summary struct {
	Planned     int
	Succeeded   int
	Failed      int
	TimedOut    int
	Interrupted int
	// CleanupFailures counts trials whose pool could not be confirmed destroyed
	CleanupFailures int

	Results []lifecycle.TrialResult
	Elapsed time.Duration
}

// Recorded is the number of trials written to the report
func (s Summary) Recorded() int { return len(s.Results) }

// AllSucceeded reports whether every planned trial ran and succeeded
func (s Summary) AllSucceeded() bool {
	return s.Planned > 0 && s.Succeeded == s.Planned
}

// Fastest returns the successful trial with the shortest recovery
func (s Summary) Fastest() (lifecycle.TrialResult, bool) {
	var best lifecycle.TrialResult
	found := false
	for _, r := range s.Results {
		if !r.Succeeded() {
			continue
		}
		if !found || r.Recovery < best.Recovery {
			best, found = r, true
		}
	}
	return best, found
}

func (s *Summary) add(r lifecycle.TrialResult) {
	s.Results = append(s.Results, r)
	switch r.Outcome {
	case lifecycle.OutcomeSuccess:
		s.Succeeded++
	case lifecycle.OutcomeTimedOut:
		s.TimedOut++
	case lifecycle.OutcomeInterrupted:
		s.Interrupted++
	default:
		s.Failed++
	}
	if r.CleanupErr != nil {
		s.CleanupFailures++
	}
}

// New validates config and returns an Orchestrator
func New(config Config) (*Orchestrator, error) {
	if config.Trials == nil {
		return nil, fmt.Errorf("trial runner is required")
	}
	if config.Report == nil {
		return nil, fmt.Errorf("report recorder is required")
	}
	if config.Drill == nil {
		config.Drill = lifecycle.ResilverDrill{}
	}
	if config.Limit < 0 {
		config.Limit = 0
	}
	return &Orchestrator{config: config}, nil
}

// Run executes plans in order. A failed trial never stops the loop; every
// started trial yields exactly one recorded result. Cancellation stops the
// run after the active trial has destroyed its pool and been recorded, and
// Run then returns the context error. A report write failure stops the run.
func (o *Orchestrator) Run(ctx context.Context, plans []layout.Plan) (Summary, error) {
	if o.config.Limit > 0 && len(plans) > o.config.Limit {
		klog.V(2).Infof("Limiting run to %d of %d layouts", o.config.Limit, len(plans))
		plans = plans[:o.config.Limit]
	}

	start := time.Now()
	summary := Summary{Planned: len(plans)}

	for i, plan := range plans {
		if err := ctx.Err(); err != nil {
			klog.Warningf("Run interrupted before trial %d/%d", i+1, len(plans))
			summary.Elapsed = time.Since(start)
			return summary, err
		}

		klog.V(2).Infof("Trial %d/%d: %s", i+1, len(plans), plan.Summary())
		result := o.config.Trials.RunTrial(ctx, i+1, plan, o.config.Drill)
		summary.add(result)

		if err := o.config.Report.Append(result); err != nil {
			summary.Elapsed = time.Since(start)
			return summary, fmt.Errorf("failed to record trial %d: %w", i+1, err)
		}
		if o.config.OnTrial != nil {
			o.config.OnTrial(result)
		}

		if result.Outcome == lifecycle.OutcomeInterrupted {
			summary.Elapsed = time.Since(start)
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			return summary, context.Canceled
		}
	}

	summary.Elapsed = time.Since(start)
	klog.V(2).Infof("Run finished: %d succeeded, %d failed, %d timed out of %d",
		summary.Succeeded, summary.Failed, summary.TimedOut, summary.Planned)
	return summary, nil
}

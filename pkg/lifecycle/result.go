package lifecycle

import (
	"time"

	"git.srvlab.io/whiskey/draid-bench/pkg/layout"
	"git.srvlab.io/whiskey/draid-bench/pkg/utils"
	"git.srvlab.io/whiskey/draid-bench/pkg/zpool"
)

// Outcome classifies a finished trial
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeFailed      Outcome = "failed"
	OutcomeTimedOut    Outcome = "timed-out"
	OutcomeInterrupted Outcome = "interrupted"
)

// TrialResult is one executed plan. It is not modified after RunTrial returns.
type TrialResult struct {
	Index  int
	Plan   layout.Plan
	Mode   string
	Pool   string
	Target string

	Started  time.Time
	Finished time.Time

	// Recovery is the time from the first status poll until the drill's activity cleared
	Recovery time.Duration
	Polls    int
	Final    zpool.Status

	// FinalState is the session state before teardown; teardown failures land in CleanupErr
	FinalState State
	Outcome    Outcome
	Err        error
	CleanupErr error
}

// Succeeded reports whether the drill completed
func (r TrialResult) Succeeded() bool { return r.Outcome == OutcomeSuccess }

// ErrorDetail is the trial error on one line
func (r TrialResult) ErrorDetail() string { return utils.ErrorDetail(r.Err) }

// CleanupDetail is the destroy error on one line
func (r TrialResult) CleanupDetail() string { return utils.ErrorDetail(r.CleanupErr) }

// Package lifecycle drives one layout plan through a live pool: create,
// a recovery drill (degrade and replace, or scrub), the bounded wait for the
// recovery to clear, and a destroy that runs on every exit path.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/draid-bench/pkg/audit"
	"git.srvlab.io/whiskey/draid-bench/pkg/catalog"
	"git.srvlab.io/whiskey/draid-bench/pkg/layout"
	"git.srvlab.io/whiskey/draid-bench/pkg/observability"
	"git.srvlab.io/whiskey/draid-bench/pkg/utils"
	"git.srvlab.io/whiskey/draid-bench/pkg/zpool"
)

// DefaultDestroyTimeout bounds cleanup once the run context is gone
const DefaultDestroyTimeout = 5 * time.Minute

// ArrayClient is the subset of the array tool the controller drives.
// *zpool.Client implements it.
type ArrayClient interface {
	Create(ctx context.Context, pool string, vdevArgs []string) error
	Offline(ctx context.Context, pool, device string) error
	Replace(ctx context.Context, pool, oldDevice, newDevice string) error
	Scrub(ctx context.Context, pool string) error
	Status(ctx context.Context, pool string) (zpool.Status, error)
	Destroy(ctx context.Context, pool string) error
	EnsureAbsent(ctx context.Context, pool string) error
	Target() string
}

var _ ArrayClient = (*zpool.Client)(nil)

// Config configures a Controller
type Config struct {
	Client ArrayClient

	// Pool is the pool name reused by every trial
	Pool string

	// Path maps device identifiers to the paths handed to the array tool
	Path catalog.PathFunc

	// Poll bounds AwaitRecovery
	Poll utils.PollConfig

	// SettleDelay is slept after create and offline so the pool reflects the change
	SettleDelay time.Duration

	// DestroyTimeout bounds destroy, which ignores run cancellation
	DestroyTimeout time.Duration

	// Audit and Metrics are optional
	Audit   *audit.Logger
	Metrics *observability.Metrics
}

// Controller runs trials against one pool name, one at a time
type Controller struct {
	config Config
}

// New validates config and returns a Controller
func New(config Config) (*Controller, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("array client is required")
	}
	if err := utils.ValidatePoolName(config.Pool); err != nil {
		return nil, err
	}
	if config.Path == nil {
		config.Path = catalog.ByIDPath(catalog.DefaultDeviceDir, "")
	}
	if config.DestroyTimeout <= 0 {
		config.DestroyTimeout = DefaultDestroyTimeout
	}
	if config.SettleDelay < 0 {
		config.SettleDelay = 0
	}
	config.Poll = config.Poll.WithDefaults()
	return &Controller{config: config}, nil
}

// Pool returns the pool name
func (c *Controller) Pool() string { return c.config.Pool }

// NewSession starts tracking plan in state Absent
func (c *Controller) NewSession(plan layout.Plan) *Session {
	return &Session{ctrl: c, plan: plan, state: StateAbsent}
}

// WithPool creates the pool for plan, runs fn and always destroys the pool
// afterwards, also when create or fn fail or ctx is cancelled. err is the
// create or fn error; cleanupErr is the destroy error and never replaces err.
// The state before teardown is kept in s.Settled.
func (c *Controller) WithPool(ctx context.Context, plan layout.Plan, fn func(ctx context.Context, s *Session) error) (s *Session, cleanupErr, err error) {
	s = c.NewSession(plan)

	if c.config.Metrics != nil {
		c.config.Metrics.SetTrialInProgress(true)
		defer c.config.Metrics.SetTrialInProgress(false)
	}

	defer func() {
		if err != nil {
			s.abort()
		}
		s.settled = s.state
		cleanupErr = s.Destroy(ctx)
		if cleanupErr != nil {
			klog.Errorf("Cleanup of pool %s failed: %v", c.config.Pool, cleanupErr)
		}
	}()

	if err = s.Create(ctx); err != nil {
		return s, nil, err
	}
	err = fn(ctx, s)
	return s, nil, err
}

// RunTrial runs drill against plan inside WithPool and returns its result
func (c *Controller) RunTrial(ctx context.Context, index int, plan layout.Plan, drill Drill) TrialResult {
	result := TrialResult{
		Index:   index,
		Plan:    plan,
		Mode:    drill.Name(),
		Pool:    c.config.Pool,
		Target:  c.config.Client.Target(),
		Started: time.Now(),
	}
	klog.V(2).Infof("Trial %d: %s drill on %s", index, drill.Name(), plan.Summary())

	s, cleanupErr, err := c.WithPool(ctx, plan, func(ctx context.Context, s *Session) error {
		if err := drill.Trigger(ctx, s); err != nil {
			return err
		}
		rec, err := s.AwaitRecovery(ctx, drill.Activity())
		result.Recovery = rec.Elapsed
		result.Polls = rec.Polls
		result.Final = rec.Status
		return err
	})

	result.FinalState = s.Settled()
	result.Err = err
	result.CleanupErr = cleanupErr
	result.Outcome = outcomeOf(ctx, err)
	result.Finished = time.Now()

	if c.config.Metrics != nil {
		c.config.Metrics.RecordTrial(result.Mode, string(result.Outcome), result.Recovery)
	}

	switch result.Outcome {
	case OutcomeSuccess:
		klog.V(2).Infof("Trial %d succeeded: %s recovered in %s (%d polls)",
			index, plan.Descriptor(), result.Recovery.Round(time.Millisecond), result.Polls)
	default:
		klog.Errorf("Trial %d %s: %s: %v", index, result.Outcome, plan.Descriptor(), err)
	}
	return result
}

func outcomeOf(ctx context.Context, err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case ctx.Err() != nil, errors.Is(err, context.Canceled):
		return OutcomeInterrupted
	case utils.IsTimeout(err):
		return OutcomeTimedOut
	}
	return OutcomeFailed
}

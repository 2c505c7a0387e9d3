package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/draid-bench/pkg/layout"
	"git.srvlab.io/whiskey/draid-bench/pkg/utils"
	"git.srvlab.io/whiskey/draid-bench/pkg/zpool"
)

// Session owns the pool for a single trial. It is not safe for concurrent use.
type Session struct {
	ctrl  *Controller
	plan  layout.Plan
	state State
	// settled is the state the trial ended in, recorded before teardown
	settled State

	triggeredAt time.Time
}

// Recovery is what AwaitRecovery observed
type Recovery struct {
	Elapsed time.Duration
	Polls   int
	Status  zpool.Status
}

// State returns the current lifecycle state
func (s *Session) State() State { return s.state }

// Settled returns the state the session was in when WithPool began tearing
// the pool down. It is Recovered after a completed drill and Aborted, or
// Absent if create never succeeded, after a failed one.
func (s *Session) Settled() State { return s.settled }

// Plan returns the plan this session materializes
func (s *Session) Plan() layout.Plan { return s.plan }

// TriggeredAt is when the drill's recovery-like operation was started
func (s *Session) TriggeredAt() time.Time { return s.triggeredAt }

func (s *Session) pool() string { return s.ctrl.config.Pool }

func (s *Session) client() ArrayClient { return s.ctrl.config.Client }

// Create makes sure the pool name is free, then creates the pool
func (s *Session) Create(ctx context.Context) error {
	if err := checkTransition("create", s.state); err != nil {
		return err
	}

	if err := s.client().EnsureAbsent(ctx, s.pool()); err != nil {
		return fmt.Errorf("pool name %s is not free: %w", s.pool(), err)
	}
	if err := s.client().Create(ctx, s.pool(), s.plan.VdevArgs(s.ctrl.config.Path)); err != nil {
		return err
	}
	s.state = StateCreated
	klog.V(4).Infof("Pool %s created as %s", s.pool(), s.plan.Summary())

	return s.settle(ctx)
}

// Degrade takes the plan's degrade target offline
func (s *Session) Degrade(ctx context.Context) error {
	if err := checkTransition("degrade", s.state); err != nil {
		return err
	}

	device := s.ctrl.config.Path(s.plan.DegradeTarget())
	if err := s.client().Offline(ctx, s.pool(), device); err != nil {
		return err
	}
	s.state = StateDegraded
	klog.V(4).Infof("Pool %s degraded: %s offline", s.pool(), device)

	return s.settle(ctx)
}

// Replace substitutes the replacement target for the degraded device
func (s *Session) Replace(ctx context.Context) error {
	if err := checkTransition("replace", s.state); err != nil {
		return err
	}

	path := s.ctrl.config.Path
	oldDevice := path(s.plan.DegradeTarget())
	newDevice := s.plan.ReplaceTarget(path)
	if err := s.client().Replace(ctx, s.pool(), oldDevice, newDevice); err != nil {
		return err
	}
	s.state = StateReplacing
	s.triggeredAt = time.Now()
	return nil
}

// Scrub starts an integrity pass on a freshly created pool
func (s *Session) Scrub(ctx context.Context) error {
	if err := checkTransition("scrub", s.state); err != nil {
		return err
	}

	if err := s.client().Scrub(ctx, s.pool()); err != nil {
		return err
	}
	s.state = StateRecovering
	s.triggeredAt = time.Now()
	return nil
}

// AwaitRecovery polls status until activity is no longer reported. The first
// poll is immediate. Exceeding the poll bounds returns a RecoveryTimeoutError
// together with the last status seen.
func (s *Session) AwaitRecovery(ctx context.Context, activity zpool.Activity) (Recovery, error) {
	if err := checkTransition("await", s.state); err != nil {
		return Recovery{}, err
	}
	s.state = StateRecovering

	var last zpool.Status
	res, err := utils.PollUntil(ctx, s.ctrl.config.Poll, func(ctx context.Context, attempt int) (bool, error) {
		st, err := s.client().Status(ctx, s.pool())
		if err != nil {
			if utils.IsRetryableError(err) {
				klog.V(4).Infof("Poll %d of pool %s failed, will retry: %v", attempt, s.pool(), err)
				return false, nil
			}
			return false, err
		}
		last = st
		klog.V(4).Infof("Poll %d of pool %s: state %s, activity %s", attempt, s.pool(), st.State, st.Activity)
		return st.Activity != activity, nil
	})

	rec := Recovery{Elapsed: res.Elapsed, Polls: res.Attempts, Status: last}
	if err != nil {
		if errors.Is(err, utils.ErrPollExhausted) {
			return rec, &utils.RecoveryTimeoutError{
				Activity: activity.String(),
				Elapsed:  res.Elapsed,
				Polls:    res.Attempts,
			}
		}
		return rec, fmt.Errorf("waiting for %s on pool %s: %w", activity, s.pool(), err)
	}

	s.state = StateRecovered
	return rec, nil
}

// Destroy tears the pool down from any state. It ignores cancellation of ctx
// and is bounded by the controller's destroy timeout instead. An absent pool
// is success; a failure leaves the session Aborted and is audited as a leak.
func (s *Session) Destroy(ctx context.Context) error {
	if s.state == StateDestroyed {
		return nil
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.ctrl.config.DestroyTimeout)
	defer cancel()

	if err := s.client().Destroy(dctx, s.pool()); err != nil {
		s.state = StateAborted
		if s.ctrl.config.Metrics != nil {
			s.ctrl.config.Metrics.RecordCleanupFailure()
		}
		if s.ctrl.config.Audit != nil {
			s.ctrl.config.Audit.LogPoolLeaked(s.pool(), s.client().Target(), err)
		}
		return err
	}

	s.state = StateDestroyed
	return nil
}

// abort marks the session failed; Absent stays Absent
func (s *Session) abort() {
	if s.state.Live() {
		s.state = StateAborted
	}
}

func (s *Session) settle(ctx context.Context) error {
	d := s.ctrl.config.SettleDelay
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/wait"

	"git.srvlab.io/whiskey/draid-bench/pkg/catalog"
	"git.srvlab.io/whiskey/draid-bench/pkg/layout"
	"git.srvlab.io/whiskey/draid-bench/pkg/lifecycle"
	"git.srvlab.io/whiskey/draid-bench/pkg/shell"
	"git.srvlab.io/whiskey/draid-bench/pkg/utils"
	"git.srvlab.io/whiskey/draid-bench/pkg/zpool"
)

type memRecorder struct {
	results []lifecycle.TrialResult
	failAt  int
}

func (m *memRecorder) Append(r lifecycle.TrialResult) error {
	if m.failAt > 0 && r.Index == m.failAt {
		return errors.New("disk full")
	}
	m.results = append(m.results, r)
	return nil
}

type scriptedTrials struct {
	outcomes map[int]lifecycle.Outcome
	onRun    func(index int)
	ran      []int
}

func (s *scriptedTrials) RunTrial(ctx context.Context, index int, plan layout.Plan, drill lifecycle.Drill) lifecycle.TrialResult {
	s.ran = append(s.ran, index)
	if s.onRun != nil {
		s.onRun(index)
	}
	outcome, ok := s.outcomes[index]
	if !ok {
		outcome = lifecycle.OutcomeSuccess
	}
	r := lifecycle.TrialResult{Index: index, Plan: plan, Mode: drill.Name(), Outcome: outcome, Recovery: time.Duration(index) * time.Second}
	if outcome != lifecycle.OutcomeSuccess {
		r.Err = fmt.Errorf("trial %d %s", index, outcome)
	}
	return r
}

func plansFor(t *testing.T, n int) []layout.Plan {
	t.Helper()
	devices := make([]catalog.DeviceID, n)
	for i := range devices {
		devices[i] = catalog.DeviceID(fmt.Sprintf("5000c500a1b2%04x", i))
	}
	return layout.Enumerate(devices, layout.Options{})
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Report: &memRecorder{}})
	assert.Error(t, err)
	_, err = New(Config{Trials: &scriptedTrials{}})
	assert.Error(t, err)

	o, err := New(Config{Trials: &scriptedTrials{}, Report: &memRecorder{}, Limit: -1})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ModeResilver, o.config.Drill.Name())
	assert.Equal(t, 0, o.config.Limit)
}

func TestRunIsolatesFailures(t *testing.T) {
	plans := plansFor(t, 24) // group counts 1, 2, 3, 4, 6
	require.Len(t, plans, 5)

	trials := &scriptedTrials{outcomes: map[int]lifecycle.Outcome{
		2: lifecycle.OutcomeFailed,
		4: lifecycle.OutcomeTimedOut,
	}}
	rec := &memRecorder{}
	var seen []int
	o, err := New(Config{Trials: trials, Report: rec, OnTrial: func(r lifecycle.TrialResult) { seen = append(seen, r.Index) }})
	require.NoError(t, err)

	summary, err := o.Run(context.Background(), plans)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4, 5}, trials.ran)
	assert.Len(t, rec.results, 5)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, seen)
	assert.Equal(t, 5, summary.Planned)
	assert.Equal(t, 5, summary.Recorded())
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.TimedOut)
	assert.False(t, summary.AllSucceeded())

	fastest, ok := summary.Fastest()
	require.True(t, ok)
	assert.Equal(t, 1, fastest.Index)
}

func TestRunLimit(t *testing.T) {
	trials := &scriptedTrials{}
	o, err := New(Config{Trials: trials, Report: &memRecorder{}, Limit: 2})
	require.NoError(t, err)

	summary, err := o.Run(context.Background(), plansFor(t, 24))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, trials.ran)
	assert.True(t, summary.AllSucceeded())
}

func TestRunStopsAfterInterruptedTrial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trials := &scriptedTrials{
		outcomes: map[int]lifecycle.Outcome{2: lifecycle.OutcomeInterrupted},
		onRun: func(index int) {
			if index == 2 {
				cancel()
			}
		},
	}
	rec := &memRecorder{}
	o, err := New(Config{Trials: trials, Report: rec})
	require.NoError(t, err)

	summary, err := o.Run(ctx, plansFor(t, 24))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{1, 2}, trials.ran)
	assert.Len(t, rec.results, 2, "the interrupted trial is still recorded")
	assert.Equal(t, 1, summary.Interrupted)
}

func TestRunCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	trials := &scriptedTrials{}
	o, err := New(Config{Trials: trials, Report: &memRecorder{}})
	require.NoError(t, err)

	_, err = o.Run(ctx, plansFor(t, 16))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, trials.ran)
}

func TestRunStopsOnReportFailure(t *testing.T) {
	trials := &scriptedTrials{}
	o, err := New(Config{Trials: trials, Report: &memRecorder{failAt: 2}})
	require.NoError(t, err)

	_, err = o.Run(context.Background(), plansFor(t, 24))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, []int{1, 2}, trials.ran)
}

func TestRunEmptyPlans(t *testing.T) {
	o, err := New(Config{Trials: &scriptedTrials{}, Report: &memRecorder{}})
	require.NoError(t, err)

	summary, err := o.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, summary.Recorded())
	assert.False(t, summary.AllSucceeded())
	_, ok := summary.Fastest()
	assert.False(t, ok)
}

// A create failure in the middle of a real lifecycle run fails only that trial.
func TestRunWithLifecycleController(t *testing.T) {
	const resilvered = "  pool: benchpool\n state: DEGRADED\n  scan: resilvered (draid2-0) 1G in 00:00:01 with 0 errors\n"

	creates := 0
	runner := shell.NewMockRunner().
		Respond("zpool list", shell.MockResponse{ExitCode: 1, Stderr: "cannot open 'benchpool': no such pool"}).
		On("zpool create", func(shell.MockCall) shell.MockResponse {
			creates++
			if creates == 2 {
				return shell.MockResponse{ExitCode: 1, Stderr: "one or more devices is currently unavailable"}
			}
			return shell.MockResponse{}
		}).
		Respond("zpool offline", shell.MockResponse{}).
		Respond("zpool replace", shell.MockResponse{}).
		Respond("zpool status", shell.MockResponse{Stdout: resilvered}).
		Respond("zpool destroy", shell.MockResponse{})

	client, err := zpool.NewClient(zpool.Config{Runner: runner, DestroyBackoff: wait.Backoff{Steps: 1, Duration: time.Millisecond}})
	require.NoError(t, err)
	ctrl, err := lifecycle.New(lifecycle.Config{Client: client, Pool: "benchpool", Poll: utils.PollConfig{Interval: time.Millisecond}})
	require.NoError(t, err)

	rec := &memRecorder{}
	o, err := New(Config{Trials: ctrl, Report: rec})
	require.NoError(t, err)

	plans := plansFor(t, 16)
	summary, err := o.Run(context.Background(), plans)
	require.NoError(t, err)

	require.Len(t, rec.results, len(plans))
	assert.Equal(t, lifecycle.OutcomeSuccess, rec.results[0].Outcome)
	assert.Equal(t, lifecycle.OutcomeFailed, rec.results[1].Outcome)
	assert.Equal(t, lifecycle.OutcomeSuccess, rec.results[2].Outcome)
	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, runner.CallsMatching("zpool destroy"), len(plans))
}

package lifecycle

import (
	"context"
	"fmt"

	"git.srvlab.io/whiskey/draid-bench/pkg/zpool"
)

// Drill triggers a recovery-like operation on a created pool. The controller
// then waits for Activity to clear.
type Drill interface {
	Name() string
	Activity() zpool.Activity
	Trigger(ctx context.Context, s *Session) error
}

// Drill modes
const (
	ModeResilver = "resilver"
	ModeScrub    = "scrub"
)

// ResilverDrill offlines the first device and replaces it
type ResilverDrill struct{}

func (ResilverDrill) Name() string { return ModeResilver }

func (ResilverDrill) Activity() zpool.Activity { return zpool.ActivityRecovering }

func (ResilverDrill) Trigger(ctx context.Context, s *Session) error {
	if err := s.Degrade(ctx); err != nil {
		return err
	}
	return s.Replace(ctx)
}

// ScrubDrill runs a pool-wide integrity pass
type ScrubDrill struct{}

func (ScrubDrill) Name() string { return ModeScrub }

func (ScrubDrill) Activity() zpool.Activity { return zpool.ActivityScrubbing }

func (ScrubDrill) Trigger(ctx context.Context, s *Session) error {
	return s.Scrub(ctx)
}

// DrillFor returns the drill for a mode name
func DrillFor(mode string) (Drill, error) {
	switch mode {
	case ModeResilver, "":
		return ResilverDrill{}, nil
	case ModeScrub:
		return ScrubDrill{}, nil
	}
	return nil, fmt.Errorf("unknown drill mode %q (want %s or %s)", mode, ModeResilver, ModeScrub)
}

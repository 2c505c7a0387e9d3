// Package layout enumerates double-parity distributed-spare (dRAID2) layouts
// for a set of discovered devices.
//
// Enumeration is a pure function of the device sequence and Options: for every
// group count dividing the usable device count, one Plan is produced when the
// resulting group size leaves at least one data device after parity and spare.
package layout

import (
	"errors"
	"fmt"
	"strings"

	"git.srvlab.io/whiskey/draid-bench/pkg/catalog"
	"git.srvlab.io/whiskey/draid-bench/pkg/utils"
)

const (
	// Parity is the fixed redundancy level (dRAID2)
	Parity = 2

	// SparesPerGroup is the number of distributed spares per group
	SparesPerGroup = 1

	// DefaultMinGroupSize is the smallest group considered
	DefaultMinGroupSize = 4

	// Scheme is the vdev type keyword
	Scheme = "draid2"
)

// ErrNoFeasibleLayout is returned by RequireAny when enumeration produced nothing
var ErrNoFeasibleLayout = utils.ErrNoFeasibleLayout

// Options controls enumeration
type Options struct {
	// MinGroupSize is the smallest allowed group (default 4, values below 1 act as 1)
	MinGroupSize int

	// ReserveGlobalSpare holds the device after the partitioned range back as
	// the replacement target for every plan
	ReserveGlobalSpare bool
}

func (o Options) minGroupSize() int {
	switch {
	case o.MinGroupSize == 0:
		return DefaultMinGroupSize
	case o.MinGroupSize < 1:
		return 1
	}
	return o.MinGroupSize
}

// Plan is one candidate layout. Plans are immutable once enumerated.
type Plan struct {
	GroupCount int
	GroupSize  int
	SpareCount int
	Parity     int
	DataCount  int

	// Groups are contiguous, non-overlapping slices of the catalog in order
	Groups [][]catalog.DeviceID

	// Reserve is the held-back replacement device, empty when none
	Reserve catalog.DeviceID

	// RedundancyGroups lists the divisors of DataCount; informational only
	RedundancyGroups []int
}

// Enumerate returns every feasible plan for devices in ascending group count.
// Fewer usable devices than the minimum group size yields an empty result.
func Enumerate(devices []catalog.DeviceID, opts Options) []Plan {
	n := len(devices)
	if opts.ReserveGlobalSpare {
		n--
	}
	minSize := opts.minGroupSize()

	var plans []Plan
	for _, groupCount := range Feasible(n, minSize) {
		groupSize := n / groupCount
		p := Plan{
			GroupCount: groupCount,
			GroupSize:  groupSize,
			SpareCount: SparesPerGroup,
			Parity:     Parity,
			DataCount:  groupSize - Parity - SparesPerGroup,
			Groups:     make([][]catalog.DeviceID, groupCount),
		}
		for g := 0; g < groupCount; g++ {
			start := g * groupSize
			group := make([]catalog.DeviceID, groupSize)
			copy(group, devices[start:start+groupSize])
			p.Groups[g] = group
		}
		if opts.ReserveGlobalSpare {
			p.Reserve = devices[n]
		}
		p.RedundancyGroups = divisors(p.DataCount)
		plans = append(plans, p)
	}
	return plans
}

// Feasible returns the group counts that divide n into groups of at least
// minGroupSize devices with at least one data device each.
func Feasible(n, minGroupSize int) []int {
	if minGroupSize < 1 {
		minGroupSize = 1
	}
	if n <= 0 || n < minGroupSize {
		return nil
	}
	var counts []int
	for groupCount := 1; groupCount <= n; groupCount++ {
		if n%groupCount != 0 {
			continue
		}
		groupSize := n / groupCount
		if groupSize < minGroupSize {
			continue
		}
		if groupSize-Parity-SparesPerGroup < 1 {
			continue
		}
		counts = append(counts, groupCount)
	}
	return counts
}

// RequireAny returns ErrNoFeasibleLayout when plans is empty
func RequireAny(plans []Plan, deviceCount int) error {
	if len(plans) == 0 {
		return fmt.Errorf("%w for %d devices", ErrNoFeasibleLayout, deviceCount)
	}
	return nil
}

// IsEmpty reports whether err means enumeration produced nothing
func IsEmpty(err error) bool {
	return errors.Is(err, ErrNoFeasibleLayout)
}

func divisors(n int) []int {
	var out []int
	for i := 1; i <= n; i++ {
		if n%i == 0 {
			out = append(out, i)
		}
	}
	return out
}

// Devices returns every group member in order
func (p Plan) Devices() []catalog.DeviceID {
	out := make([]catalog.DeviceID, 0, p.GroupCount*p.GroupSize)
	for _, g := range p.Groups {
		out = append(out, g...)
	}
	return out
}

// Descriptor renders the vdev type with parity, children, spares and data
func (p Plan) Descriptor() string {
	return fmt.Sprintf("%s:%dc:%ds:%dd", Scheme, p.GroupSize, p.SpareCount, p.DataCount)
}

// VdevArgs returns the create arguments: descriptor then member paths, once per group
func (p Plan) VdevArgs(path catalog.PathFunc) []string {
	args := make([]string, 0, p.GroupCount*(p.GroupSize+1))
	for _, g := range p.Groups {
		args = append(args, p.Descriptor())
		for _, id := range g {
			args = append(args, path(id))
		}
	}
	return args
}

// CommandLine renders the create command with one group per continuation line
func (p Plan) CommandLine(tool, pool string, path catalog.PathFunc) string {
	parts := make([]string, 0, len(p.Groups))
	for _, g := range p.Groups {
		paths := make([]string, len(g))
		for i, id := range g {
			paths[i] = path(id)
		}
		parts = append(parts, p.Descriptor()+" "+strings.Join(paths, " "))
	}
	return fmt.Sprintf("%s create %s \\\n  %s", tool, pool, strings.Join(parts, " \\\n  "))
}

// DegradeTarget is the device taken offline to simulate a failure
func (p Plan) DegradeTarget() catalog.DeviceID {
	return p.Groups[0][0]
}

// DistributedSpare names the first distributed spare of the first group
func (p Plan) DistributedSpare() string {
	return fmt.Sprintf("%s-0-0", Scheme)
}

// ReplaceTarget is what the degraded device is replaced with: the global
// reserve's path when one is held back, otherwise the distributed spare.
func (p Plan) ReplaceTarget(path catalog.PathFunc) string {
	if p.Reserve != "" {
		return path(p.Reserve)
	}
	return p.DistributedSpare()
}

// Summary is a one-line description for logs
func (p Plan) Summary() string {
	s := fmt.Sprintf("%d x %s (rg %v)", p.GroupCount, p.Descriptor(), p.RedundancyGroups)
	if p.Reserve != "" {
		s += fmt.Sprintf(" reserve %s", p.Reserve)
	}
	return s
}

package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/draid-bench/pkg/shell"
	"git.srvlab.io/whiskey/draid-bench/pkg/utils"
)

// DefaultDeviceGlob matches whole SCSI/SATA disks
const DefaultDeviceGlob = "/dev/sd*"

// Lister enumerates raw device paths in a stable (lexical) order
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// GlobLister lists devices on this host
type GlobLister struct {
	Glob string
	// RequireBlockDevice keeps only block special files
	RequireBlockDevice bool
}

// NewGlobLister returns a GlobLister that keeps block devices only
func NewGlobLister(glob string) *GlobLister {
	if glob == "" {
		glob = DefaultDeviceGlob
	}
	return &GlobLister{Glob: glob, RequireBlockDevice: true}
}

// List implements Lister
func (l *GlobLister) List(ctx context.Context) ([]string, error) {
	if err := utils.ValidateGlob(l.Glob); err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(l.Glob)
	if err != nil {
		return nil, fmt.Errorf("bad device glob %q: %w", l.Glob, err)
	}

	var out []string
	for _, m := range matches {
		if isPartition(m) {
			continue
		}
		if l.RequireBlockDevice {
			var st unix.Stat_t
			if err := unix.Stat(m, &st); err != nil {
				klog.V(4).Infof("Skipping %s: stat failed: %v", m, err)
				continue
			}
			if st.Mode&unix.S_IFMT != unix.S_IFBLK {
				klog.V(4).Infof("Skipping %s: not a block device", m)
				continue
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// RemoteLister lists devices on the host behind a Runner
type RemoteLister struct {
	Runner shell.Runner
	Glob   string
}

// List implements Lister
func (l *RemoteLister) List(ctx context.Context) ([]string, error) {
	glob := l.Glob
	if glob == "" {
		glob = DefaultDeviceGlob
	}
	if err := utils.ValidateGlob(glob); err != nil {
		return nil, err
	}

	res, err := l.Runner.Run(ctx, "sh", "-c", "ls -1d "+glob)
	if err != nil {
		// An unmatched glob reaches ls literally
		if ce, ok := utils.IsCommandError(err); ok && strings.Contains(ce.Stderr, "No such file") {
			return nil, nil
		}
		return nil, err
	}

	var out []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isPartition(line) {
			continue
		}
		out = append(out, line)
	}
	return out, nil
}

// StaticLister returns a fixed list; used for --devices overrides and tests
type StaticLister []string

// List implements Lister
func (l StaticLister) List(ctx context.Context) ([]string, error) {
	var out []string
	for _, p := range l {
		if !isPartition(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// isPartition reports whether the device name carries a partition number
func isPartition(devPath string) bool {
	return utils.PartitionNamePattern.MatchString(filepath.Base(devPath))
}

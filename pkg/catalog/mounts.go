package catalog

import (
	"fmt"
	"strings"

	"github.com/moby/sys/mountinfo"
)

// MountSourceFunc returns the source of every current mount
type MountSourceFunc func() ([]string, error)

// HostMountSources reads this host's mount table
func HostMountSources() ([]string, error) {
	mounts, err := mountinfo.GetMounts(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read mount table: %w", err)
	}
	sources := make([]string, 0, len(mounts))
	for _, m := range mounts {
		if strings.HasPrefix(m.Source, "/dev/") {
			sources = append(sources, m.Source)
		}
	}
	return sources, nil
}

// mountedBy reports whether the device or one of its partitions is a mount source
func mountedBy(devPath string, sources []string) (string, bool) {
	for _, src := range sources {
		if src == devPath {
			return src, true
		}
		// /dev/sda1, /dev/nvme0n1p1
		if strings.HasPrefix(src, devPath) {
			rest := strings.TrimPrefix(src[len(devPath):], "p")
			if rest != "" && strings.Trim(rest, "0123456789") == "" {
				return src, true
			}
		}
	}
	return "", false
}

package catalog

import (
	"context"
	"fmt"
	"path"
	"strings"

	"golang.org/x/time/rate"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/draid-bench/pkg/observability"
	"git.srvlab.io/whiskey/draid-bench/pkg/shell"
	"git.srvlab.io/whiskey/draid-bench/pkg/utils"
)

const (
	// DefaultDeviceDir is where stable device links live
	DefaultDeviceDir = "/dev/disk/by-id"

	// DefaultSmartctl is the inventory tool
	DefaultSmartctl = "smartctl"

	// DefaultProbesPerSecond bounds how fast devices are probed
	DefaultProbesPerSecond = 10

	// logicalUnitIDLength is the length of a reported identifier including its 0x prefix
	logicalUnitIDLength = 18

	// smartctl exit status bits 0 and 1: bad command line, device open failed
	smartctlFatalBits = 0x3
)

// DeviceID is a logical-unit identifier with its 0x prefix stripped
type DeviceID string

// PathFunc maps a device identifier to the path handed to the array tool
type PathFunc func(DeviceID) string

// ByIDPath returns a PathFunc joining dir, prefix and the identifier
func ByIDPath(dir, prefix string) PathFunc {
	if dir == "" {
		dir = DefaultDeviceDir
	}
	return func(id DeviceID) string {
		return path.Join(dir, prefix+string(id))
	}
}

// Config configures a Catalog
type Config struct {
	// Runner executes the inventory tool (required)
	Runner shell.Runner

	// Lister enumerates raw device paths (required)
	Lister Lister

	// Smartctl is the inventory tool binary (default: smartctl)
	Smartctl string

	// SkipMounted drops devices that back a mounted filesystem
	SkipMounted bool

	// Mounts returns mount sources; used when SkipMounted is set (default: this host's mount table)
	Mounts MountSourceFunc

	// ProbesPerSecond rate limits inventory calls (default 10, negative = unlimited)
	ProbesPerSecond float64

	// Metrics is optional
	Metrics *observability.Metrics
}

// Catalog discovers usable devices through an external inventory tool
type Catalog struct {
	config  Config
	limiter *rate.Limiter
}

// New validates config and returns a Catalog
func New(config Config) (*Catalog, error) {
	if config.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if config.Lister == nil {
		return nil, fmt.Errorf("lister is required")
	}
	if config.Smartctl == "" {
		config.Smartctl = DefaultSmartctl
	}
	if config.Mounts == nil {
		config.Mounts = HostMountSources
	}

	limit := rate.Limit(DefaultProbesPerSecond)
	switch {
	case config.ProbesPerSecond < 0:
		limit = rate.Inf
	case config.ProbesPerSecond > 0:
		limit = rate.Limit(config.ProbesPerSecond)
	}

	return &Catalog{
		config:  config,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// Discover lists candidate devices, probes each one and returns the
// identifiers in enumeration order. An empty result is not an error.
func (c *Catalog) Discover(ctx context.Context) ([]DeviceID, error) {
	paths, err := c.config.Lister.List(ctx)
	if err != nil {
		return nil, &utils.DiscoveryError{Step: "list devices", Err: err}
	}
	klog.V(4).Infof("Found %d candidate devices", len(paths))

	if c.config.SkipMounted && len(paths) > 0 {
		paths, err = c.dropMounted(paths)
		if err != nil {
			return nil, &utils.DiscoveryError{Step: "read mount table", Err: err}
		}
	}

	seen := make(map[DeviceID]string, len(paths))
	devices := make([]DeviceID, 0, len(paths))
	for _, p := range paths {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		id, ok, err := c.probe(ctx, p)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if first, dup := seen[id]; dup {
			klog.V(4).Infof("Skipping %s: identifier %s already seen at %s", p, id, first)
			continue
		}
		seen[id] = p
		devices = append(devices, id)
		klog.V(4).Infof("Device %s -> %s", p, id)
	}

	klog.V(2).Infof("Discovered %d devices", len(devices))
	if c.config.Metrics != nil {
		c.config.Metrics.RecordDevicesDiscovered(len(devices))
	}
	return devices, nil
}

// probe runs the inventory tool on one device. ok is false when the device
// should be skipped; err is set only when discovery as a whole must abort.
func (c *Catalog) probe(ctx context.Context, devPath string) (DeviceID, bool, error) {
	res, err := c.config.Runner.Run(ctx, c.config.Smartctl, "-i", devPath)
	if err != nil {
		ce, isCmd := utils.IsCommandError(err)
		switch {
		case !isCmd:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", false, ctxErr
			}
			return "", false, &utils.DiscoveryError{Step: "probe " + devPath, Err: err}
		case ce.ExitCode&smartctlFatalBits != 0:
			klog.V(4).Infof("Skipping %s: %s exited %d", devPath, c.config.Smartctl, ce.ExitCode)
			return "", false, nil
		default:
			// Remaining bits report disk health, the identity section is still valid
			klog.V(4).Infof("%s reported status %d for %s, parsing output anyway", c.config.Smartctl, ce.ExitCode, devPath)
		}
	}

	raw, found := ParseLogicalUnitID(res.Stdout)
	if !found {
		klog.V(4).Infof("Skipping %s: no logical unit id", devPath)
		return "", false, nil
	}
	id, ok := NormalizeID(raw)
	if !ok {
		klog.V(4).Infof("Skipping %s: logical unit id %q has unexpected form", devPath, raw)
		return "", false, nil
	}
	return id, true, nil
}

func (c *Catalog) dropMounted(paths []string) ([]string, error) {
	sources, err := c.config.Mounts()
	if err != nil {
		return nil, err
	}
	kept := paths[:0:0]
	for _, p := range paths {
		if src, mounted := mountedBy(p, sources); mounted {
			klog.V(4).Infof("Skipping %s: mounted (%s)", p, src)
			continue
		}
		kept = append(kept, p)
	}
	return kept, nil
}

// ParseLogicalUnitID extracts the fourth field of the "Logical Unit id" line
func ParseLogicalUnitID(output string) (string, bool) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "Logical Unit id") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return "", false
		}
		return fields[3], true
	}
	return "", false
}

// NormalizeID keeps only full-length identifiers and strips the 0x prefix
func NormalizeID(raw string) (DeviceID, bool) {
	if len(raw) != logicalUnitIDLength {
		return "", false
	}
	id := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X"))
	if utils.ValidateDeviceID(id) != nil {
		return "", false
	}
	return DeviceID(id), true
}

// Require returns an InsufficientDevicesError when fewer than min devices are available
func Require(devices []DeviceID, min int) error {
	if len(devices) < min {
		return &utils.InsufficientDevicesError{Found: len(devices), Required: min}
	}
	return nil
}

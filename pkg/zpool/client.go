package zpool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/draid-bench/pkg/audit"
	"git.srvlab.io/whiskey/draid-bench/pkg/observability"
	"git.srvlab.io/whiskey/draid-bench/pkg/shell"
	"git.srvlab.io/whiskey/draid-bench/pkg/utils"
)

// DefaultTool is the array tool binary
const DefaultTool = "zpool"

// Config configures a Client
type Config struct {
	Runner shell.Runner

	// Tool is the array tool path (default "zpool")
	Tool string

	// ForceCreate passes -f to create, overriding in-use checks on the devices
	ForceCreate bool

	// Audit and Metrics are optional
	Audit   *audit.Logger
	Metrics *observability.Metrics

	// DestroyBackoff retries destroy while the pool reports busy (default utils.DefaultBackoffConfig)
	DestroyBackoff wait.Backoff
}

// Client issues array tool commands for one host
type Client struct {
	config Config
}

// NewClient validates config and returns a Client
func NewClient(config Config) (*Client, error) {
	if config.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if config.Tool == "" {
		config.Tool = DefaultTool
	}
	if config.DestroyBackoff.Steps == 0 {
		config.DestroyBackoff = utils.DefaultBackoffConfig()
	}
	return &Client{config: config}, nil
}

// Tool returns the array tool path
func (c *Client) Tool() string { return c.config.Tool }

// Target names the host commands run on
func (c *Client) Target() string { return c.config.Runner.Target() }

// run executes one subcommand and records metrics
func (c *Client) run(ctx context.Context, sub string, args ...string) (shell.Result, error) {
	full := append([]string{sub}, args...)
	klog.V(5).Infof("Executing: %s", shell.Join(c.config.Tool, full...))

	start := time.Now()
	res, err := c.config.Runner.Run(ctx, c.config.Tool, full...)
	if c.config.Metrics != nil {
		c.config.Metrics.RecordCommand(sub, err, time.Since(start))
	}

	if res.Stdout != "" {
		klog.V(5).Infof("%s output: %s", c.config.Tool, res.Stdout)
	}
	if res.Stderr != "" {
		klog.V(5).Infof("%s stderr: %s", c.config.Tool, res.Stderr)
	}
	return res, err
}

func (c *Client) audit(op, pool string, err error, fields ...audit.EventField) {
	if c.config.Audit != nil {
		c.config.Audit.LogCommand(op, pool, c.Target(), err, fields...)
	}
}

// Create creates pool from vdev arguments (descriptor then member paths, per group)
func (c *Client) Create(ctx context.Context, pool string, vdevArgs []string) error {
	if err := utils.ValidatePoolName(pool); err != nil {
		return err
	}
	if len(vdevArgs) == 0 {
		return fmt.Errorf("no vdevs for pool %s", pool)
	}

	args := make([]string, 0, len(vdevArgs)+2)
	if c.config.ForceCreate {
		args = append(args, "-f")
	}
	args = append(args, pool)
	args = append(args, vdevArgs...)

	klog.V(2).Infof("Creating pool %s (%s)", pool, vdevArgs[0])
	start := time.Now()
	_, err := c.run(ctx, "create", args...)
	c.audit(audit.OpCreate, pool, err,
		audit.WithLayout(vdevArgs[0]),
		audit.WithDevices(devicePaths(vdevArgs)...),
		audit.WithDuration(time.Since(start)))
	if err != nil {
		return fmt.Errorf("failed to create pool %s: %w", pool, err)
	}

	klog.V(2).Infof("Created pool %s", pool)
	return nil
}

// devicePaths drops the descriptors from vdev arguments
func devicePaths(vdevArgs []string) []string {
	var out []string
	for _, a := range vdevArgs {
		if strings.HasPrefix(a, "/") {
			out = append(out, a)
		}
	}
	return out
}

// Offline takes device offline in pool
func (c *Client) Offline(ctx context.Context, pool, device string) error {
	if err := utils.ValidatePoolName(pool); err != nil {
		return err
	}
	klog.V(2).Infof("Taking %s offline in pool %s", device, pool)

	_, err := c.run(ctx, "offline", pool, device)
	c.audit(audit.OpOffline, pool, err, audit.WithDevices(device))
	if err != nil {
		return fmt.Errorf("failed to offline %s: %w", device, err)
	}
	return nil
}

// Replace substitutes newDevice for oldDevice. newDevice may be a path or a
// distributed spare name.
func (c *Client) Replace(ctx context.Context, pool, oldDevice, newDevice string) error {
	if err := utils.ValidatePoolName(pool); err != nil {
		return err
	}
	klog.V(2).Infof("Replacing %s with %s in pool %s", oldDevice, newDevice, pool)

	_, err := c.run(ctx, "replace", pool, oldDevice, newDevice)
	c.audit(audit.OpReplace, pool, err, audit.WithDevices(oldDevice, newDevice))
	if err != nil {
		return fmt.Errorf("failed to replace %s with %s: %w", oldDevice, newDevice, err)
	}
	return nil
}

// Scrub starts an integrity pass
func (c *Client) Scrub(ctx context.Context, pool string) error {
	if err := utils.ValidatePoolName(pool); err != nil {
		return err
	}
	klog.V(2).Infof("Starting scrub of pool %s", pool)

	_, err := c.run(ctx, "scrub", pool)
	c.audit(audit.OpScrub, pool, err)
	if err != nil {
		return fmt.Errorf("failed to scrub %s: %w", pool, err)
	}
	return nil
}

// Status returns the parsed status of pool. A missing pool wraps ErrPoolNotFound.
func (c *Client) Status(ctx context.Context, pool string) (Status, error) {
	if err := utils.ValidatePoolName(pool); err != nil {
		return Status{}, err
	}

	res, err := c.run(ctx, "status", pool)
	if err != nil {
		if isNoSuchPool(err) {
			return Status{}, fmt.Errorf("%w: %s", utils.ErrPoolNotFound, pool)
		}
		return Status{}, fmt.Errorf("failed to get status of %s: %w", pool, err)
	}

	st := ParseStatus(res.Stdout)
	if c.config.Metrics != nil {
		c.config.Metrics.RecordStatusPoll(st.Activity.String())
	}
	return st, nil
}

// Exists reports whether pool is imported on the host
func (c *Client) Exists(ctx context.Context, pool string) (bool, error) {
	if err := utils.ValidatePoolName(pool); err != nil {
		return false, err
	}

	res, err := c.run(ctx, "list", "-H", "-o", "name", pool)
	if err != nil {
		if isNoSuchPool(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check pool %s: %w", pool, err)
	}
	return strings.TrimSpace(res.Stdout) == pool, nil
}

// Destroy destroys pool. An absent pool is success. Busy responses are retried.
func (c *Client) Destroy(ctx context.Context, pool string) error {
	if err := utils.ValidatePoolName(pool); err != nil {
		return err
	}
	klog.V(2).Infof("Destroying pool %s", pool)

	start := time.Now()
	absent := false
	err := utils.RetryWithBackoff(ctx, c.config.DestroyBackoff, func() error {
		_, err := c.run(ctx, "destroy", pool)
		if err != nil && isNoSuchPool(err) {
			absent = true
			return nil
		}
		return err
	})

	if absent {
		klog.V(4).Infof("Pool %s already absent, nothing to destroy", pool)
		return nil
	}

	c.audit(audit.OpDestroy, pool, err, audit.WithDuration(time.Since(start)))
	if err != nil {
		return fmt.Errorf("failed to destroy pool %s: %w", pool, err)
	}

	klog.V(2).Infof("Destroyed pool %s", pool)
	return nil
}

// EnsureAbsent destroys pool if it exists and confirms it is gone
func (c *Client) EnsureAbsent(ctx context.Context, pool string) error {
	exists, err := c.Exists(ctx, pool)
	if err != nil {
		return err
	}
	if !exists {
		klog.V(4).Infof("Pool %s is absent", pool)
		return nil
	}

	klog.Warningf("Pool %s exists before create, destroying it", pool)
	if err := c.Destroy(ctx, pool); err != nil {
		return err
	}

	exists, err = c.Exists(ctx, pool)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("pool %s still exists after destroy", pool)
	}
	return nil
}

// isNoSuchPool reports whether the tool said the pool does not exist
func isNoSuchPool(err error) bool {
	if errors.Is(err, utils.ErrPoolNotFound) {
		return true
	}
	ce, ok := utils.IsCommandError(err)
	if !ok {
		return false
	}
	out := strings.ToLower(ce.Stderr + " " + ce.Stdout)
	return strings.Contains(out, "no such pool")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/draid-bench/pkg/catalog"
	"git.srvlab.io/whiskey/draid-bench/pkg/config"
	"git.srvlab.io/whiskey/draid-bench/pkg/layout"
	"git.srvlab.io/whiskey/draid-bench/pkg/observability"
	"git.srvlab.io/whiskey/draid-bench/pkg/shell"
	"git.srvlab.io/whiskey/draid-bench/pkg/utils"
)

// app holds what every subcommand needs once configuration is resolved
type app struct {
	cfg     config.Config
	runID   string
	runner  shell.Runner
	metrics *observability.Metrics
}

// setup resolves configuration and opens the command runner. The returned
// context is cancelled on SIGINT or SIGTERM.
func setup(cmd *cobra.Command) (context.Context, *app, func(), error) {
	cfg, err := config.Resolve(configFile, envFile, flags)
	if err != nil {
		return nil, nil, nil, err
	}

	runID := utils.NewRunID()
	if cfg.GeneratePoolName {
		name, err := utils.GeneratePoolName(cfg.PoolName, runID)
		if err != nil {
			return nil, nil, nil, err
		}
		cfg.PoolName = name
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)

	runner, err := newRunner(ctx, cfg)
	if err != nil {
		stop()
		return nil, nil, nil, err
	}

	a := &app{
		cfg:     cfg,
		runID:   runID,
		runner:  runner,
		metrics: observability.NewMetrics(),
	}
	klog.V(2).Infof("draid-bench %s run %s against %s (pool %s)", Version, runID, runner.Target(), cfg.PoolName)

	cleanup := func() {
		if err := runner.Close(); err != nil {
			klog.Warningf("Failed to close runner: %v", err)
		}
		stop()
	}
	return ctx, a, cleanup, nil
}

// newRunner returns a local runner, or an SSH runner behind a circuit
// breaker when a storage host is configured
func newRunner(ctx context.Context, cfg config.Config) (shell.Runner, error) {
	if !cfg.Remote() {
		return shell.NewLocalRunner(), nil
	}

	key, err := shell.LoadPrivateKey(cfg.SSH.KeyFile)
	if err != nil {
		return nil, err
	}
	sshRunner, err := shell.NewSSHRunner(shell.SSHConfig{
		Host:               cfg.SSH.Host,
		Port:               cfg.SSH.Port,
		User:               cfg.SSH.User,
		PrivateKey:         key,
		KnownHostsFile:     cfg.SSH.KnownHostsFile,
		InsecureSkipVerify: cfg.SSH.Insecure,
	})
	if err != nil {
		return nil, err
	}
	if err := sshRunner.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", sshRunner.Target(), err)
	}
	return shell.NewBreakerRunner(sshRunner), nil
}

// lister picks the device source: explicit devices, the remote host, or this host
func (a *app) lister() catalog.Lister {
	switch {
	case len(a.cfg.Devices) > 0:
		return catalog.StaticLister(a.cfg.Devices)
	case a.cfg.Remote():
		return &catalog.RemoteLister{Runner: a.runner, Glob: a.cfg.DeviceGlob}
	default:
		return catalog.NewGlobLister(a.cfg.DeviceGlob)
	}
}

// discover returns the device catalog, failing with exit code 1 when it is empty
func (a *app) discover(ctx context.Context) ([]catalog.DeviceID, error) {
	skipMounted := a.cfg.SkipMounted
	if skipMounted && a.cfg.Remote() {
		// The mount table read is this host's, not the storage host's
		klog.V(2).Info("Mounted-device filter disabled for remote host")
		skipMounted = false
	}

	cat, err := catalog.New(catalog.Config{
		Runner:          a.runner,
		Lister:          a.lister(),
		Smartctl:        a.cfg.Smartctl,
		SkipMounted:     skipMounted,
		ProbesPerSecond: a.cfg.ProbesPerSecond,
		Metrics:         a.metrics,
	})
	if err != nil {
		return nil, err
	}

	devices, err := cat.Discover(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, &exitError{code: 1, err: errors.New("no usable devices discovered")}
	}
	return devices, nil
}

// plans discovers devices and enumerates layouts over them
func (a *app) plans(ctx context.Context) ([]catalog.DeviceID, []layout.Plan, error) {
	devices, err := a.discover(ctx)
	if err != nil {
		return nil, nil, err
	}

	opts := layout.Options{MinGroupSize: a.cfg.MinGroupSize, ReserveGlobalSpare: a.cfg.ReserveGlobalSpare}
	required := opts.MinGroupSize
	if required < 1 {
		required = layout.DefaultMinGroupSize
	}
	if opts.ReserveGlobalSpare {
		required++
	}
	if err := catalog.Require(devices, required); err != nil {
		return devices, nil, &exitError{code: 1, err: err}
	}

	plans := layout.Enumerate(devices, opts)
	a.metrics.RecordLayoutsEnumerated(len(plans))
	if err := layout.RequireAny(plans, len(devices)); err != nil {
		return devices, nil, &exitError{code: 1, err: err}
	}
	klog.V(2).Infof("Enumerated %d layouts over %d devices", len(plans), len(devices))
	return devices, plans, nil
}

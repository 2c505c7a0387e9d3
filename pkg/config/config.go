// Package config loads draid-bench settings. Precedence, lowest first:
// built-in defaults, the YAML file, DRAID_BENCH_* environment variables
// (optionally seeded from a .env file), then flags set on the command line.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"git.srvlab.io/whiskey/draid-bench/pkg/catalog"
	"git.srvlab.io/whiskey/draid-bench/pkg/layout"
	"git.srvlab.io/whiskey/draid-bench/pkg/lifecycle"
	"git.srvlab.io/whiskey/draid-bench/pkg/utils"
	"git.srvlab.io/whiskey/draid-bench/pkg/zpool"
)

// EnvPrefix prefixes every environment variable
const EnvPrefix = "DRAID_BENCH_"

// SSH selects a remote storage host. An empty Host runs commands locally.
type SSH struct {
	Host           string `yaml:"host" flag:"ssh-host" env:"SSH_HOST" usage:"storage host to run commands on over SSH (empty = local)"`
	Port           int    `yaml:"port" flag:"ssh-port" env:"SSH_PORT" usage:"SSH port"`
	User           string `yaml:"user" flag:"ssh-user" env:"SSH_USER" usage:"SSH user"`
	KeyFile        string `yaml:"keyFile" flag:"ssh-key-file" env:"SSH_KEY_FILE" usage:"SSH private key file"`
	KnownHostsFile string `yaml:"knownHostsFile" flag:"ssh-known-hosts" env:"SSH_KNOWN_HOSTS" usage:"known_hosts file used to verify the host key"`
	Insecure       bool   `yaml:"insecure" flag:"ssh-insecure" env:"SSH_INSECURE" usage:"skip host key verification (testing only)"`
}

// Config is the complete run configuration
type Config struct {
	PoolName         string `yaml:"poolName" flag:"pool-name" env:"POOL_NAME" usage:"pool name reused by every trial"`
	GeneratePoolName bool   `yaml:"generatePoolName" flag:"generate-pool-name" env:"GENERATE_POOL_NAME" usage:"append a short run id to the pool name"`

	Zpool    string `yaml:"zpool" flag:"zpool" env:"ZPOOL" usage:"array tool binary"`
	Smartctl string `yaml:"smartctl" flag:"smartctl" env:"SMARTCTL" usage:"inventory tool binary"`

	DeviceGlob      string   `yaml:"deviceGlob" flag:"device-glob" env:"DEVICE_GLOB" usage:"raw devices to probe"`
	Devices         []string `yaml:"devices" flag:"device" env:"DEVICES" usage:"explicit raw devices to probe instead of the glob (repeatable)"`
	DeviceDir       string   `yaml:"deviceDir" flag:"device-dir" env:"DEVICE_DIR" usage:"directory of stable device links handed to the array tool"`
	IDPrefix        string   `yaml:"idPrefix" flag:"id-prefix" env:"ID_PREFIX" usage:"prefix joined to each identifier inside device-dir (e.g. wwn-0x)"`
	SkipMounted     bool     `yaml:"skipMounted" flag:"skip-mounted" env:"SKIP_MOUNTED" usage:"skip devices backing a mounted filesystem (local only)"`
	ProbesPerSecond float64  `yaml:"probesPerSecond" flag:"probes-per-second" env:"PROBES_PER_SECOND" usage:"inventory probe rate limit (negative = unlimited)"`

	MinGroupSize       int  `yaml:"minGroupSize" flag:"min-group-size" env:"MIN_GROUP_SIZE" usage:"smallest dRAID group considered"`
	ReserveGlobalSpare bool `yaml:"reserveGlobalSpare" flag:"reserve-global-spare" env:"RESERVE_GLOBAL_SPARE" usage:"hold the last device back as the replacement target"`
	ForceCreate        bool `yaml:"forceCreate" flag:"force-create" env:"FORCE_CREATE" usage:"pass -f to zpool create"`

	Mode  string `yaml:"mode" flag:"mode" env:"MODE" usage:"drill: resilver or scrub"`
	Limit int    `yaml:"limit" flag:"limit" env:"LIMIT" usage:"run at most this many layouts (0 = all)"`

	PollInterval   time.Duration `yaml:"pollInterval" flag:"poll-interval" env:"POLL_INTERVAL" usage:"status poll interval"`
	PollTimeout    time.Duration `yaml:"pollTimeout" flag:"poll-timeout" env:"POLL_TIMEOUT" usage:"give up waiting for recovery after this long"`
	MaxPolls       int           `yaml:"maxPolls" flag:"max-polls" env:"MAX_POLLS" usage:"give up waiting for recovery after this many polls"`
	SettleDelay    time.Duration `yaml:"settleDelay" flag:"settle-delay" env:"SETTLE_DELAY" usage:"pause after create and offline"`
	DestroyTimeout time.Duration `yaml:"destroyTimeout" flag:"destroy-timeout" env:"DESTROY_TIMEOUT" usage:"bound on pool destroy during cleanup"`

	ReportDir        string `yaml:"reportDir" flag:"report-dir" env:"REPORT_DIR" usage:"directory for the run report"`
	MetricsAddr      string `yaml:"metricsAddr" flag:"metrics-addr" env:"METRICS_ADDR" usage:"serve Prometheus metrics on this address (empty = off)"`
	FailOnTrialError bool   `yaml:"failOnTrialError" flag:"fail-on-trial-error" env:"FAIL_ON_TRIAL_ERROR" usage:"exit non-zero when any trial fails"`

	SSH SSH `yaml:"ssh"`
}

// Default returns the built-in defaults
func Default() Config {
	return Config{
		PoolName:        "mypool",
		Zpool:           zpool.DefaultTool,
		Smartctl:        catalog.DefaultSmartctl,
		DeviceGlob:      catalog.DefaultDeviceGlob,
		DeviceDir:       catalog.DefaultDeviceDir,
		SkipMounted:     true,
		ProbesPerSecond: catalog.DefaultProbesPerSecond,
		MinGroupSize:    layout.DefaultMinGroupSize,
		Mode:            lifecycle.ModeResilver,
		PollInterval:    utils.DefaultPollInterval,
		PollTimeout:     utils.DefaultPollTimeout,
		MaxPolls:        utils.DefaultPollMaxAttempts,
		SettleDelay:     5 * time.Second,
		DestroyTimeout:  lifecycle.DefaultDestroyTimeout,
		ReportDir:       ".",
		SSH: SSH{
			Port: 22,
			User: "root",
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty path
// returns the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// PathFunc maps identifiers to device paths per DeviceDir and IDPrefix
func (c Config) PathFunc() catalog.PathFunc {
	return catalog.ByIDPath(c.DeviceDir, c.IDPrefix)
}

// Remote reports whether commands run over SSH
func (c Config) Remote() bool { return c.SSH.Host != "" }

// Poll returns the recovery poll bounds
func (c Config) Poll() utils.PollConfig {
	return utils.PollConfig{Interval: c.PollInterval, Timeout: c.PollTimeout, MaxAttempts: c.MaxPolls}
}

// Validate checks the configuration before anything touches a device
func (c Config) Validate() error {
	var errs []error

	if err := utils.ValidatePoolName(c.PoolName); err != nil {
		errs = append(errs, err)
	}
	if err := utils.ValidateToolName(c.Zpool); err != nil {
		errs = append(errs, fmt.Errorf("invalid zpool binary: %w", err))
	}
	if err := utils.ValidateToolName(c.Smartctl); err != nil {
		errs = append(errs, fmt.Errorf("invalid smartctl binary: %w", err))
	}

	if len(c.Devices) == 0 {
		if err := utils.ValidateGlob(c.DeviceGlob); err != nil {
			errs = append(errs, err)
		}
	}
	for _, d := range c.Devices {
		if err := utils.ValidateDevicePath(d); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := utils.SanitizeBasePath(c.DeviceDir); err != nil {
		errs = append(errs, fmt.Errorf("invalid device dir: %w", err))
	}
	if strings.ContainsAny(c.IDPrefix, "/ \t") {
		errs = append(errs, fmt.Errorf("invalid id prefix %q", c.IDPrefix))
	}

	if c.MinGroupSize < 0 {
		errs = append(errs, fmt.Errorf("min group size must not be negative, got %d", c.MinGroupSize))
	}
	if _, err := lifecycle.DrillFor(c.Mode); err != nil {
		errs = append(errs, err)
	}
	if c.Limit < 0 {
		errs = append(errs, fmt.Errorf("limit must not be negative, got %d", c.Limit))
	}

	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.PollInterval))
	}
	if c.PollTimeout < c.PollInterval {
		errs = append(errs, fmt.Errorf("poll timeout %s is shorter than the poll interval %s", c.PollTimeout, c.PollInterval))
	}
	if c.MaxPolls <= 0 {
		errs = append(errs, fmt.Errorf("max polls must be positive, got %d", c.MaxPolls))
	}
	if c.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("settle delay must not be negative, got %s", c.SettleDelay))
	}
	if c.DestroyTimeout <= 0 {
		errs = append(errs, fmt.Errorf("destroy timeout must be positive, got %s", c.DestroyTimeout))
	}

	if c.ReportDir == "" {
		errs = append(errs, fmt.Errorf("report dir is required"))
	}

	if c.Remote() {
		errs = append(errs, c.SSH.validate()...)
	}

	return errors.Join(errs...)
}

func (s SSH) validate() []error {
	var errs []error
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid ssh port %d", s.Port))
	}
	if !utils.SSHUserPattern.MatchString(s.User) {
		errs = append(errs, fmt.Errorf("invalid ssh user %q", s.User))
	}
	if s.KeyFile == "" {
		errs = append(errs, fmt.Errorf("ssh key file is required for host %s", s.Host))
	}
	if s.KnownHostsFile == "" && !s.Insecure {
		errs = append(errs, fmt.Errorf("ssh host %s needs --ssh-known-hosts or --ssh-insecure", s.Host))
	}
	return errs
}

package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/draid-bench/pkg/utils"
)

// exitCommandNotFound is what a POSIX shell returns when the binary is missing
const exitCommandNotFound = 127

// SSHConfig describes the storage host commands are sent to
type SSHConfig struct {
	Host string
	Port int
	User string

	// PrivateKey is optional so tests can talk to an unauthenticated mock host
	PrivateKey []byte

	// KnownHostsFile enables host key verification when set
	KnownHostsFile     string
	InsecureSkipVerify bool

	// HostKeyCallback overrides both KnownHostsFile and InsecureSkipVerify
	HostKeyCallback ssh.HostKeyCallback

	DialTimeout time.Duration

	// Reconnect backoff (defaults: 1s initial, 16s max, 2m total)
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// SSHRunner executes commands on a remote storage host over SSH. A single
// connection is reused; it is re-established with exponential backoff when lost.
type SSHRunner struct {
	config   SSHConfig
	clientMu sync.Mutex
	client   *ssh.Client
}

// NewSSHRunner validates config and returns an unconnected runner.
// The connection is made lazily on the first Run, or eagerly via Connect.
func NewSSHRunner(config SSHConfig) (*SSHRunner, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("ssh host is required")
	}
	if config.User == "" {
		return nil, fmt.Errorf("ssh user is required")
	}
	if config.Port == 0 {
		config.Port = 22
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}
	if config.InitialInterval == 0 {
		config.InitialInterval = 1 * time.Second
	}
	if config.MaxInterval == 0 {
		config.MaxInterval = 16 * time.Second
	}
	if config.MaxElapsedTime == 0 {
		config.MaxElapsedTime = 2 * time.Minute
	}
	return &SSHRunner{config: config}, nil
}

// Target implements Runner
func (r *SSHRunner) Target() string {
	return fmt.Sprintf("%s@%s", r.config.User, r.address())
}

func (r *SSHRunner) address() string {
	return net.JoinHostPort(r.config.Host, strconv.Itoa(r.config.Port))
}

func (r *SSHRunner) clientConfig() (*ssh.ClientConfig, error) {
	var hostKeyCallback ssh.HostKeyCallback
	switch {
	case r.config.HostKeyCallback != nil:
		hostKeyCallback = r.config.HostKeyCallback
		klog.V(4).Info("Using custom host key verification")
	case r.config.KnownHostsFile != "":
		cb, err := knownhosts.New(r.config.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts %s: %w", r.config.KnownHostsFile, err)
		}
		hostKeyCallback = cb
	case r.config.InsecureSkipVerify:
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
		klog.Warning("INSECURE: Skipping SSH host key verification")
	default:
		return nil, fmt.Errorf("no host key verification configured: set a known hosts file or allow insecure mode")
	}

	cfg := &ssh.ClientConfig{
		User:            r.config.User,
		HostKeyCallback: hostKeyCallback,
		Timeout:         r.config.DialTimeout,
	}

	if len(r.config.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(r.config.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		cfg.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	} else {
		klog.V(4).Info("No private key provided, attempting connection without authentication")
	}
	return cfg, nil
}

// Connect dials the storage host, retrying with exponential backoff until
// MaxElapsedTime passes or ctx ends.
func (r *SSHRunner) Connect(ctx context.Context) error {
	r.clientMu.Lock()
	defer r.clientMu.Unlock()
	return r.connectLocked(ctx)
}

func (r *SSHRunner) connectLocked(ctx context.Context) error {
	if r.client != nil {
		return nil
	}

	cfg, err := r.clientConfig()
	if err != nil {
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.config.InitialInterval
	bo.MaxInterval = r.config.MaxInterval
	bo.MaxElapsedTime = r.config.MaxElapsedTime
	bo.Reset()

	addr := r.address()
	attempt := 0
	start := time.Now()
	for {
		attempt++
		klog.V(4).Infof("Connecting to %s as %s (attempt %d)", addr, r.config.User, attempt)
		client, dialErr := ssh.Dial("tcp", addr, cfg)
		if dialErr == nil {
			r.client = client
			if attempt > 1 {
				klog.Infof("Connected to %s after %d attempts (%.2fs)", addr, attempt, time.Since(start).Seconds())
			} else {
				klog.V(4).Infof("Connected to %s", addr)
			}
			return nil
		}

		next := bo.NextBackOff()
		if next == backoff.Stop {
			return fmt.Errorf("failed to connect to %s after %d attempts: %w", addr, attempt, dialErr)
		}
		klog.V(4).Infof("Connection attempt %d to %s failed: %v, retrying in %s", attempt, addr, dialErr, next)

		select {
		case <-ctx.Done():
			return fmt.Errorf("connect to %s: %w", addr, ctx.Err())
		case <-time.After(next):
		}
	}
}

// Close implements Runner
func (r *SSHRunner) Close() error {
	r.clientMu.Lock()
	defer r.clientMu.Unlock()
	if r.client == nil {
		return nil
	}
	klog.V(4).Infof("Closing SSH connection to %s", r.address())
	err := r.client.Close()
	r.client = nil
	return err
}

func (r *SSHRunner) session(ctx context.Context) (*ssh.Session, error) {
	r.clientMu.Lock()
	defer r.clientMu.Unlock()

	if err := r.connectLocked(ctx); err != nil {
		return nil, err
	}
	s, err := r.client.NewSession()
	if err == nil {
		return s, nil
	}

	// Stale connection: drop it and dial once more
	klog.V(4).Infof("SSH session failed (%v), reconnecting to %s", err, r.address())
	_ = r.client.Close()
	r.client = nil
	if err := r.connectLocked(ctx); err != nil {
		return nil, err
	}
	return r.client.NewSession()
}

// Run implements Runner
func (r *SSHRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	res := Result{Command: Join(name, args...)}

	session, err := r.session(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()

	klog.V(5).Infof("Executing on %s: %s", r.config.Host, res.Command)

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	if err := session.Start(res.Command); err != nil {
		return res, fmt.Errorf("failed to start %q: %w", res.Command, err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		<-done
		res.Duration = time.Since(start)
		return res, fmt.Errorf("command %q interrupted: %w", res.Command, ctx.Err())
	case err = <-done:
	}

	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			if res.ExitCode == exitCommandNotFound {
				return res, fmt.Errorf("%w: %s on %s", utils.ErrToolNotFound, name, r.config.Host)
			}
			klog.V(5).Infof("Command exited %d, stderr: %s", res.ExitCode, res.Stderr)
			return res, &utils.CommandError{
				Command:  res.Command,
				ExitCode: res.ExitCode,
				Stderr:   res.Stderr,
				Stdout:   res.Stdout,
			}
		}
		return res, fmt.Errorf("failed to run %q: %w", res.Command, err)
	}

	klog.V(5).Infof("Command output: %s", res.Stdout)
	return res, nil
}

// LoadPrivateKey reads a PEM private key file; an empty path returns nil
func LoadPrivateKey(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key %s: %w", path, err)
	}
	return data, nil
}

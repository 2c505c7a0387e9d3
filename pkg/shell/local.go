package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/draid-bench/pkg/utils"
)

// LocalRunner executes commands on this host
type LocalRunner struct{}

// NewLocalRunner returns a Runner backed by os/exec
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{}
}

// Target implements Runner
func (r *LocalRunner) Target() string { return "local" }

// Close implements Runner
func (r *LocalRunner) Close() error { return nil }

// Run implements Runner
func (r *LocalRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	res := Result{Command: Join(name, args...)}

	path, err := exec.LookPath(name)
	if err != nil {
		return res, fmt.Errorf("%w: %s: %v", utils.ErrToolNotFound, name, err)
	}

	klog.V(5).Infof("Executing: %s", res.Command)

	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("command %q interrupted: %w", res.Command, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
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

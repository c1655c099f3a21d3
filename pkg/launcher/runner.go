package launcher

import (
	"context"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/pkg/errors"
)

// ExecRunner runs the executable as a child process attached to the given
// standard streams. A nil stream means the launcher's own.
type ExecRunner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Run starts executable and blocks until it exits. SIGTERM received in the
// meantime is relayed to the child. SIGINT is absorbed: the terminal already
// delivers it to the child, which shares the launcher's process group.
//
// The exit status of the child is returned as is; a child killed by a signal
// reports 128+signal. ExitNotInstalled is returned when the child cannot be
// started.
func (r ExecRunner) Run(ctx context.Context, executable string, args, env []string) (int, error) {
	cmd := exec.Command(executable, args...)
	cmd.Env = env
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if r.Stdin != nil {
		cmd.Stdin = r.Stdin
	}
	if r.Stdout != nil {
		cmd.Stdout = r.Stdout
	}
	if r.Stderr != nil {
		cmd.Stderr = r.Stderr
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	if err := cmd.Start(); err != nil {
		return ExitNotInstalled, errors.Wrapf(err, "failed to start %s", executable)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case sig := <-signals:
				if sig == os.Interrupt {
					continue
				}
				if err := cmd.Process.Signal(sig); err != nil {
					log.WithError(err).Debugf("Failed to forward %v", sig)
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal()), nil
		}
		return exitErr.ExitCode(), nil
	}
	return ExitInternal, errors.Wrapf(err, "failed waiting for %s", executable)
}

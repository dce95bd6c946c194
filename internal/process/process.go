// Package process wraps the external binaries the service supervises behind
// a small start/terminate/wait/kill contract so the supervisors can be
// exercised without launching real encoders.
package process

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrSpawn is returned when the operating system refuses to launch a process.
	ErrSpawn = errors.New("process failed to start")
	// ErrStopTimeout is returned by Stop when a process ignored the graceful
	// termination request and had to be killed.
	ErrStopTimeout = errors.New("process did not exit before the stop timeout")
)

// killWait bounds how long Stop waits for the OS to reap a killed process.
const killWait = 2 * time.Second

// Spec describes one invocation.
type Spec struct {
	Path string
	Args []string
	Dir  string
	// Output receives both stdout and stderr. Nil discards them.
	Output io.Writer
}

// Handle controls a started process.
type Handle interface {
	PID() int
	// Terminate asks the process to exit. It returns os.ErrProcessDone when
	// the process has already exited.
	Terminate() error
	Kill() error
	// Wait blocks until the process exits or timeout elapses. exited is false
	// on timeout; err carries the exit status otherwise.
	Wait(timeout time.Duration) (exited bool, err error)
	Done() <-chan struct{}
}

type Runner interface {
	Start(spec Spec) (Handle, error)
}

// Stop terminates h, waits up to grace and kills it on timeout. The exit
// status of a gracefully stopped process is not an error: encoders commonly
// exit non-zero on SIGTERM.
func Stop(h Handle, grace time.Duration) error {
	if err := h.Terminate(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		if kerr := Kill(h); kerr != nil {
			return errors.Wrapf(kerr, "terminate pid %d: %v", h.PID(), err)
		}
		return nil
	}

	if exited, _ := h.Wait(grace); exited {
		return nil
	}

	if err := Kill(h); err != nil {
		return errors.Wrapf(err, "kill pid %d", h.PID())
	}
	return errors.Wrapf(ErrStopTimeout, "pid %d after %s", h.PID(), grace)
}

// Kill force-stops h and waits briefly for it to be reaped. Killing an
// exited process is not an error.
func Kill(h Handle) error {
	if err := h.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	h.Wait(killWait)
	return nil
}

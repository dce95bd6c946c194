package process

import (
	"os"
	"os/exec"
	"time"

	"github.com/pkg/errors"
)

// ExecRunner starts real operating-system processes.
type ExecRunner struct{}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

func (r *ExecRunner) Start(spec Spec) (Handle, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if spec.Output != nil {
		cmd.Stdout = spec.Output
		cmd.Stderr = spec.Output
	}
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(ErrSpawn, "%s: %v", spec.Path, err)
	}

	h := &execHandle{cmd: cmd, done: make(chan struct{})}
	go func() {
		h.err = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

type execHandle struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (h *execHandle) PID() int {
	return h.cmd.Process.Pid
}

func (h *execHandle) Terminate() error {
	select {
	case <-h.done:
		return os.ErrProcessDone
	default:
	}
	return terminate(h.cmd.Process)
}

func (h *execHandle) Kill() error {
	return h.cmd.Process.Kill()
}

func (h *execHandle) Wait(timeout time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
		return true, h.err
	case <-timer.C:
		return false, nil
	}
}

func (h *execHandle) Done() <-chan struct{} {
	return h.done
}

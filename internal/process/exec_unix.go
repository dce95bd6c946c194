//go:build unix

package process

import (
	"os"
	"os/exec"
	"syscall"
)

// detach puts the child in its own process group so a Ctrl+C delivered to
// the service's terminal does not reach the encoders directly.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

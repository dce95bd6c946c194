//go:build !unix

package process

import (
	"os"
	"os/exec"
)

func detach(cmd *exec.Cmd) {}

// Without SIGTERM termination is a kill.
func terminate(p *os.Process) error {
	return p.Kill()
}
